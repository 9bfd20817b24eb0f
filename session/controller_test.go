package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jupark12/deck-viewer/convert"
	"github.com/jupark12/deck-viewer/models"
)

const waitTimeout = 2 * time.Second

type outcome struct {
	res convert.Result
	err error
}

// fakeConverter blocks every call until the test replies to it.
type fakeConverter struct {
	mu      sync.Mutex
	files   []models.InputFile
	replies []chan outcome
}

func (f *fakeConverter) Convert(ctx context.Context, file models.InputFile) (convert.Result, error) {
	reply := make(chan outcome, 1)
	f.mu.Lock()
	f.files = append(f.files, file)
	f.replies = append(f.replies, reply)
	f.mu.Unlock()

	select {
	case o := <-reply:
		return o.res, o.err
	case <-ctx.Done():
		return convert.Result{}, ctx.Err()
	}
}

func (f *fakeConverter) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.files)
}

func (f *fakeConverter) reply(t *testing.T, call int, o outcome) {
	t.Helper()
	require.Eventually(t, func() bool { return f.calls() > call }, waitTimeout, time.Millisecond)
	f.mu.Lock()
	ch := f.replies[call]
	f.mu.Unlock()
	ch <- o
}

type fakeLoader struct {
	pages int
	err   error
}

func (l *fakeLoader) PageCount(context.Context, string) (int, error) {
	return l.pages, l.err
}

func newTestController(t *testing.T, conv Converter, opts ...Option) *Controller {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	c := New(conv, opts...)
	c.Start(ctx)
	t.Cleanup(func() {
		cancel()
		<-c.Done()
	})
	return c
}

func deck(name string) models.InputFile {
	return models.InputFile{Name: name, Data: []byte("PK\x03\x04")}
}

func success(ref string) outcome {
	return outcome{res: convert.Result{Locator: "/files/out.pdf", DocumentURL: ref}}
}

func waitFor(t *testing.T, updates <-chan Snapshot, cond func(Snapshot) bool) Snapshot {
	t.Helper()
	timeout := time.After(waitTimeout)
	for {
		select {
		case s, ok := <-updates:
			require.True(t, ok, "updates closed")
			if cond(s) {
				return s
			}
		case <-timeout:
			t.Fatal("timed out waiting for snapshot")
		}
	}
}

func collect(t *testing.T, updates <-chan Snapshot, until func(Snapshot) bool) []Snapshot {
	t.Helper()
	var seen []Snapshot
	waitFor(t, updates, func(s Snapshot) bool {
		seen = append(seen, s)
		return until(s)
	})
	return seen
}

func TestSelectFileValidation(t *testing.T) {
	tests := []struct {
		name  string
		file  string
		valid bool
	}{
		{name: "pptx", file: "deck.pptx", valid: true},
		{name: "pptx with spaces", file: "quarterly review.pptx", valid: true},
		{name: "text file", file: "deck.txt", valid: false},
		{name: "legacy ppt", file: "deck.ppt", valid: false},
		{name: "extension in the middle", file: "deck.pptx.zip", valid: false},
		{name: "no name", file: "", valid: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conv := &fakeConverter{}
			c := newTestController(t, conv)

			s := c.SelectFile(deck(tt.file))
			if tt.valid {
				assert.Equal(t, StatusFileSelected, s.Status)
				assert.Equal(t, tt.file, s.File)
				assert.Empty(t, s.Error)
				assert.True(t, s.CanSubmit())
				return
			}
			assert.Equal(t, StatusIdle, s.Status)
			assert.Empty(t, s.File)
			assert.Equal(t, ValidationMessage, s.Error)
			assert.Equal(t, ErrorValidation, s.ErrorKind)
			assert.False(t, s.CanSubmit())

			assert.False(t, c.Submit())
			assert.Zero(t, conv.calls())
		})
	}
}

func TestValidSelectionClearsValidationError(t *testing.T) {
	c := newTestController(t, &fakeConverter{})

	s := c.SelectFile(deck("deck.txt"))
	require.Equal(t, ValidationMessage, s.Error)

	s = c.SelectFile(deck("deck.pptx"))
	assert.Empty(t, s.Error)
	assert.Equal(t, ErrorNone, s.ErrorKind)
	assert.Equal(t, "deck.pptx", s.File)
}

func TestSelectFileWithoutCandidatesIsNoop(t *testing.T) {
	c := newTestController(t, &fakeConverter{})

	before := c.SelectFile(deck("deck.pptx"))
	after := c.SelectFile()
	assert.Equal(t, before, after)
}

func TestSubmitIssuesOneCall(t *testing.T) {
	conv := &fakeConverter{}
	c := newTestController(t, conv, WithTickInterval(time.Hour))

	assert.False(t, c.Submit(), "nothing selected")

	c.SelectFile(deck("deck.pptx"))
	assert.True(t, c.Submit())
	assert.False(t, c.Submit())

	s := c.Snapshot()
	assert.Equal(t, StatusUploading, s.Status)
	assert.True(t, s.Submitting)
	assert.False(t, s.CanSubmit())
	assert.True(t, s.ShowProgress())
	assert.Equal(t, initialProgress, s.Progress)

	require.Eventually(t, func() bool { return conv.calls() == 1 }, waitTimeout, time.Millisecond)
	conv.mu.Lock()
	assert.Equal(t, "deck.pptx", conv.files[0].Name)
	conv.mu.Unlock()

	updates := c.Subscribe()
	conv.reply(t, 0, success("http://svc/files/out.pdf"))
	waitFor(t, updates, func(s Snapshot) bool { return s.Status == StatusSucceeded })

	assert.False(t, c.Submit(), "settled attempt needs a new selection")
	assert.Equal(t, 1, conv.calls())
}

func TestProgressCappedBeforeSettlement(t *testing.T) {
	conv := &fakeConverter{}
	c := newTestController(t, conv, WithTickInterval(2*time.Millisecond))

	c.SelectFile(deck("deck.pptx"))
	require.True(t, c.Submit())

	require.Eventually(t, func() bool {
		return c.Snapshot().Progress == progressCeiling
	}, waitTimeout, time.Millisecond)

	time.Sleep(30 * time.Millisecond)
	s := c.Snapshot()
	assert.Equal(t, StatusUploading, s.Status)
	assert.Equal(t, progressCeiling, s.Progress)

	updates := c.Subscribe()
	conv.reply(t, 0, success("http://svc/files/out.pdf"))
	s = waitFor(t, updates, func(s Snapshot) bool { return s.Status.Terminal() })
	assert.Equal(t, progressDone, s.Progress)
}

func TestProgressNeverDecreasesWhileUploading(t *testing.T) {
	conv := &fakeConverter{}
	c := newTestController(t, conv, WithTickInterval(time.Millisecond))
	updates := c.Subscribe()

	c.SelectFile(deck("deck.pptx"))
	require.True(t, c.Submit())
	conv.reply(t, 0, success("http://svc/files/out.pdf"))

	last := 0
	seen := collect(t, updates, func(s Snapshot) bool { return s.Status.Terminal() })
	for _, s := range seen {
		require.GreaterOrEqual(t, s.Progress, 0)
		require.LessOrEqual(t, s.Progress, progressDone)
		if s.Status != StatusUploading {
			continue
		}
		require.GreaterOrEqual(t, s.Progress, last)
		last = s.Progress
	}
}

func TestConversionSuccess(t *testing.T) {
	conv := &fakeConverter{}
	c := newTestController(t, conv,
		WithTickInterval(time.Hour),
		WithDocumentLoader(&fakeLoader{pages: 5}),
	)
	updates := c.Subscribe()

	c.SelectFile(deck("deck.pptx"))
	require.True(t, c.Submit())
	conv.reply(t, 0, success("http://svc/files/out.pdf"))

	s := waitFor(t, updates, func(s Snapshot) bool { return s.Status == StatusSucceeded })
	assert.Equal(t, "http://svc/files/out.pdf", s.DocumentRef)
	assert.Equal(t, progressDone, s.Progress)
	assert.Equal(t, 1, s.Page.Current)
	assert.Empty(t, s.Error)
	assert.False(t, s.Submitting)
	assert.False(t, s.ShowProgress())
	assert.True(t, s.ShowViewer())

	s = waitFor(t, updates, func(s Snapshot) bool { return s.Page.Known() })
	assert.Equal(t, "Page 1 of 5", s.PageLabel)
	assert.True(t, s.CanGoForward)
	assert.False(t, s.CanGoBack)

	s = c.GoTo(1)
	assert.Equal(t, "Page 2 of 5", s.PageLabel)
	assert.True(t, s.CanGoBack)
}

func TestServiceFailureReportsDetail(t *testing.T) {
	conv := &fakeConverter{}
	c := newTestController(t, conv, WithTickInterval(time.Hour))
	updates := c.Subscribe()

	c.SelectFile(deck("deck.pptx"))
	require.True(t, c.Submit())
	conv.reply(t, 0, outcome{err: &convert.Error{
		Kind:   convert.KindService,
		Status: 500,
		Detail: "conversion failed",
	}})

	seen := collect(t, updates, func(s Snapshot) bool { return s.Status.Terminal() })
	require.GreaterOrEqual(t, len(seen), 2)

	final := seen[len(seen)-1]
	assert.Equal(t, StatusFailed, final.Status)
	assert.Equal(t, "conversion failed", final.Error)
	assert.Equal(t, ErrorService, final.ErrorKind)
	assert.Equal(t, progressDone, final.Progress)
	assert.False(t, final.ShowProgress())
	assert.Empty(t, final.DocumentRef)
	assert.False(t, final.Page.Known())

	// the bar is shown full before it disappears
	beforeFinal := seen[len(seen)-2]
	assert.Equal(t, StatusUploading, beforeFinal.Status)
	assert.Equal(t, progressDone, beforeFinal.Progress)
	assert.True(t, beforeFinal.ShowProgress())
}

func TestFailureMessages(t *testing.T) {
	tests := []struct {
		name     string
		outcome  outcome
		wantKind ErrorKind
		wantMsg  string
	}{
		{
			name:     "status only",
			outcome:  outcome{err: &convert.Error{Kind: convert.KindService, Status: 502}},
			wantKind: ErrorService,
			wantMsg:  "Server responded with 502",
		},
		{
			name:     "transport",
			outcome:  outcome{err: &convert.Error{Kind: convert.KindTransport, Err: errors.New("connection refused")}},
			wantKind: ErrorTransport,
			wantMsg:  GenericFailureMessage,
		},
		{
			name:     "missing document url",
			outcome:  outcome{res: convert.Result{}},
			wantKind: ErrorService,
			wantMsg:  GenericFailureMessage,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conv := &fakeConverter{}
			c := newTestController(t, conv, WithTickInterval(time.Hour))
			updates := c.Subscribe()

			c.SelectFile(deck("deck.pptx"))
			require.True(t, c.Submit())
			conv.reply(t, 0, tt.outcome)

			s := waitFor(t, updates, func(s Snapshot) bool { return s.Status.Terminal() })
			assert.Equal(t, StatusFailed, s.Status)
			assert.Equal(t, tt.wantKind, s.ErrorKind)
			assert.Equal(t, tt.wantMsg, s.Error)
		})
	}
}

func TestResubmitAfterFailure(t *testing.T) {
	conv := &fakeConverter{}
	c := newTestController(t, conv, WithTickInterval(time.Hour))
	updates := c.Subscribe()

	c.SelectFile(deck("deck.pptx"))
	require.True(t, c.Submit())
	conv.reply(t, 0, outcome{err: &convert.Error{Kind: convert.KindService, Status: 500}})
	waitFor(t, updates, func(s Snapshot) bool { return s.Status == StatusFailed })

	s := c.SelectFile(deck("deck.pptx"))
	assert.Equal(t, StatusFileSelected, s.Status)
	assert.Empty(t, s.Error)
	assert.Zero(t, s.Progress)
	assert.True(t, c.Submit())
}

func TestSelectionIgnoredWhileUploading(t *testing.T) {
	conv := &fakeConverter{}
	c := newTestController(t, conv, WithTickInterval(2*time.Millisecond))

	c.SelectFile(deck("first.pptx"))
	require.True(t, c.Submit())
	attempt := c.Snapshot().Attempt

	for _, name := range []string{"second.pptx", "notes.txt"} {
		s := c.SelectFile(deck(name))
		assert.Equal(t, StatusUploading, s.Status, name)
		assert.Equal(t, "first.pptx", s.File, name)
		assert.True(t, s.Submitting, name)
		assert.Empty(t, s.Error, name)
		assert.Equal(t, attempt, s.Attempt, name)
	}

	// the in-flight attempt keeps ticking
	require.Eventually(t, func() bool {
		return c.Snapshot().Progress > initialProgress
	}, waitTimeout, time.Millisecond)

	updates := c.Subscribe()
	conv.reply(t, 0, success("http://svc/files/first.pdf"))
	s := waitFor(t, updates, func(s Snapshot) bool { return s.Status.Terminal() })
	assert.Equal(t, StatusSucceeded, s.Status)
	assert.Equal(t, "http://svc/files/first.pdf", s.DocumentRef)
	assert.Equal(t, 1, conv.calls())
}

func TestStaleResultIsDiscarded(t *testing.T) {
	conv := &fakeConverter{}
	c := newTestController(t, conv, WithTickInterval(time.Hour))

	c.SelectFile(deck("deck.pptx"))
	require.True(t, c.Submit())
	attempt := c.Snapshot().Attempt

	require.NoError(t, c.do(func() {
		c.settle(attempt+1, convert.Result{DocumentURL: "http://svc/files/other.pdf"}, nil)
		c.settle(attempt-1, convert.Result{}, &convert.Error{Kind: convert.KindService, Detail: "stale"})
	}))

	s := c.Snapshot()
	assert.Equal(t, StatusUploading, s.Status)
	assert.True(t, s.Submitting)
	assert.Empty(t, s.Error)
	assert.Empty(t, s.DocumentRef)

	updates := c.Subscribe()
	conv.reply(t, 0, success("http://svc/files/out.pdf"))
	s = waitFor(t, updates, func(s Snapshot) bool { return s.Status.Terminal() })
	assert.Equal(t, "http://svc/files/out.pdf", s.DocumentRef)
}

func TestTickerStopsAfterSettlement(t *testing.T) {
	conv := &fakeConverter{}
	c := newTestController(t, conv, WithTickInterval(2*time.Millisecond))
	updates := c.Subscribe()

	c.SelectFile(deck("deck.pptx"))
	require.True(t, c.Submit())
	conv.reply(t, 0, outcome{err: &convert.Error{Kind: convert.KindService, Status: 500}})
	waitFor(t, updates, func(s Snapshot) bool { return s.Status == StatusFailed })

	time.Sleep(20 * time.Millisecond)
	s := c.Snapshot()
	assert.Equal(t, StatusFailed, s.Status)
	assert.Equal(t, progressDone, s.Progress)
}

func TestRenderFailureKeepsSuccess(t *testing.T) {
	conv := &fakeConverter{}
	c := newTestController(t, conv,
		WithTickInterval(time.Hour),
		WithDocumentLoader(&fakeLoader{err: errors.New("bad xref")}),
	)
	updates := c.Subscribe()

	c.SelectFile(deck("deck.pptx"))
	require.True(t, c.Submit())
	conv.reply(t, 0, success("http://svc/files/out.pdf"))

	s := waitFor(t, updates, func(s Snapshot) bool { return s.RenderError != "" })
	assert.Equal(t, RenderFailureMessage, s.RenderError)
	assert.Equal(t, StatusSucceeded, s.Status)
	assert.Equal(t, "http://svc/files/out.pdf", s.DocumentRef)
	assert.Empty(t, s.Error)
}

func TestRendererCallbacks(t *testing.T) {
	conv := &fakeConverter{}
	c := newTestController(t, conv, WithTickInterval(time.Hour))
	updates := c.Subscribe()

	require.ErrorIs(t, c.MetadataLoaded("http://svc/files/out.pdf", 3), ErrStaleDocument)

	c.SelectFile(deck("deck.pptx"))
	require.True(t, c.Submit())
	conv.reply(t, 0, success("http://svc/files/out.pdf"))
	waitFor(t, updates, func(s Snapshot) bool { return s.Status == StatusSucceeded })

	assert.ErrorIs(t, c.MetadataLoaded("http://svc/files/old.pdf", 3), ErrStaleDocument)
	assert.ErrorIs(t, c.RenderFailed("http://svc/files/old.pdf", errors.New("boom")), ErrStaleDocument)
	assert.Empty(t, c.Snapshot().RenderError)

	s := c.GoTo(1)
	assert.Equal(t, "Page 1 of ?", s.PageLabel)

	require.NoError(t, c.MetadataLoaded("http://svc/files/out.pdf", 3))
	assert.ErrorIs(t, c.MetadataLoaded("http://svc/files/out.pdf", 7), ErrMetadataAlreadyLoaded)

	s = c.GoTo(5)
	assert.Equal(t, "Page 3 of 3", s.PageLabel)
	assert.False(t, s.CanGoForward)
}

func TestInvalidSelectionClearsDocument(t *testing.T) {
	conv := &fakeConverter{}
	c := newTestController(t, conv, WithTickInterval(time.Hour))
	updates := c.Subscribe()

	c.SelectFile(deck("deck.pptx"))
	require.True(t, c.Submit())
	conv.reply(t, 0, success("http://svc/files/out.pdf"))
	waitFor(t, updates, func(s Snapshot) bool { return s.Status == StatusSucceeded })

	s := c.SelectFile(deck("notes.txt"))
	assert.Equal(t, ValidationMessage, s.Error)
	assert.Empty(t, s.DocumentRef)
	assert.False(t, s.ShowViewer())
	assert.Equal(t, StatusIdle, s.Status)
}

func TestStoppedController(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	c := New(&fakeConverter{})
	c.Start(ctx)
	updates := c.Subscribe()
	<-updates

	cancel()
	<-c.Done()

	_, ok := <-updates
	assert.False(t, ok)
	assert.False(t, c.Submit())
	assert.ErrorIs(t, c.MetadataLoaded("x", 1), ErrStopped)

	late, ok := <-c.Subscribe()
	assert.False(t, ok)
	assert.Equal(t, Snapshot{}, late)
}

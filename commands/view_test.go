package commands

import (
	"bytes"
	"context"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jupark12/deck-viewer/convert"
	"github.com/jupark12/deck-viewer/models"
	"github.com/jupark12/deck-viewer/pdftest"
	"github.com/jupark12/deck-viewer/render"
	"github.com/jupark12/deck-viewer/session"
	"github.com/jupark12/deck-viewer/ui"
)

const testDocRef = "http://localhost:8000/pdf/abc.pdf"

type instantConverter struct{}

func (instantConverter) Convert(context.Context, models.InputFile) (convert.Result, error) {
	return convert.Result{Locator: "/pdf/abc.pdf", DocumentURL: testDocRef}, nil
}

// convertedSession returns a controller holding a converted document with a known page count.
func convertedSession(t *testing.T, pages int) *session.Controller {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	ctrl := session.New(instantConverter{}, session.WithTickInterval(time.Hour))
	ctrl.Start(ctx)
	t.Cleanup(func() {
		cancel()
		<-ctrl.Done()
	})

	ctrl.SelectFile(models.InputFile{Name: "deck.pptx", Data: []byte("PK")})
	require.True(t, ctrl.Submit())
	require.Eventually(t, func() bool {
		return ctrl.Snapshot().Status == session.StatusSucceeded
	}, 2*time.Second, time.Millisecond)
	require.NoError(t, ctrl.MetadataLoaded(testDocRef, pages))
	return ctrl
}

func TestReadCandidate(t *testing.T) {
	dir := t.TempDir()
	deck := filepath.Join(dir, "deck.pptx")
	require.NoError(t, os.WriteFile(deck, []byte("PK"), 0644))

	file, err := readCandidate(deck)
	require.NoError(t, err)
	assert.Equal(t, "deck.pptx", file.Name)
	assert.Equal(t, []byte("PK"), file.Data)

	// non-deck files are not read, so a missing one is not an error here
	file, err = readCandidate(filepath.Join(dir, "notes.txt"))
	require.NoError(t, err)
	assert.Equal(t, "notes.txt", file.Name)
	assert.Nil(t, file.Data)

	_, err = readCandidate(filepath.Join(dir, "missing.pptx"))
	require.Error(t, err)
}

func TestAwaitSettled(t *testing.T) {
	updates := make(chan session.Snapshot, 4)
	updates <- session.Snapshot{Status: session.StatusUploading, Progress: 10}
	updates <- session.Snapshot{Status: session.StatusUploading, Progress: 100}
	updates <- session.Snapshot{Status: session.StatusFailed, Progress: 100, Error: "conversion failed"}

	snap, err := awaitSettled(context.Background(), updates, ui.NewProgressBar(io.Discard, "Converting"))
	require.NoError(t, err)
	assert.Equal(t, session.StatusFailed, snap.Status)
	assert.Equal(t, "conversion failed", snap.Error)
}

func TestAwaitStopsOnClosedUpdates(t *testing.T) {
	updates := make(chan session.Snapshot)
	close(updates)

	_, err := awaitDocument(context.Background(), updates)
	assert.ErrorIs(t, err, session.ErrStopped)
}

func TestPagerRun(t *testing.T) {
	ui.DisableColor()
	ctrl := convertedSession(t, 3)
	doc, err := render.Parse(testDocRef, pdftest.Build(3))
	require.NoError(t, err)

	var out bytes.Buffer
	outDir := filepath.Join(t.TempDir(), "pages")
	p := &pager{ctrl: ctrl, doc: doc, display: ui.NewDisplay(&out), outDir: outDir, scale: render.DefaultScale}

	require.True(t, p.show(ctrl.Snapshot()))
	require.NoError(t, p.run(context.Background(), strings.NewReader("n\nn\nn\np\nq\nn\n")))

	for _, name := range []string{"page-001.png", "page-002.png", "page-003.png"} {
		f, err := os.Open(filepath.Join(outDir, name))
		require.NoError(t, err, name)
		img, err := png.Decode(f)
		f.Close()
		require.NoError(t, err, name)
		assert.Equal(t, 240, img.Bounds().Dx(), name)
	}

	// next at the last page stays there, and input after q is not read
	s := ctrl.Snapshot()
	assert.Equal(t, "Page 2 of 3", s.PageLabel)
	assert.True(t, s.CanGoBack)
	assert.True(t, s.CanGoForward)
	assert.Equal(t, 2, strings.Count(out.String(), "Page 3 of 3"))
	assert.Equal(t, 2, strings.Count(out.String(), "Page 2 of 3"))
}

func TestPagerRunHelpAndDownloadLink(t *testing.T) {
	ui.DisableColor()
	ctrl := convertedSession(t, 2)
	doc, err := render.Parse(testDocRef, pdftest.Build(2))
	require.NoError(t, err)

	var out bytes.Buffer
	p := &pager{ctrl: ctrl, doc: doc, display: ui.NewDisplay(&out), outDir: t.TempDir(), scale: 1}

	require.NoError(t, p.run(context.Background(), strings.NewReader("d\n\nzoom\n")))
	assert.Contains(t, out.String(), "Download PDF: "+testDocRef)
	assert.Contains(t, out.String(), "Commands: n (next), p (previous), d (download link), q (quit)")
	assert.Equal(t, 1, ctrl.Snapshot().Page.Current)
}

func TestSaveDocument(t *testing.T) {
	data := pdftest.Build(2)
	doc, err := render.Parse(testDocRef, data)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "downloads", "deck.pdf")
	require.NoError(t, saveDocument(doc, path))

	saved, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, data, saved)
}

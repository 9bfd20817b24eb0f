// Package session drives a single conversion attempt from file selection to a paged
// document. All session state is owned by one event-loop goroutine; every mutation, whether
// it comes from the user, the progress ticker, the submission call or the renderer, is
// posted to that loop.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/jupark12/deck-viewer/convert"
	"github.com/jupark12/deck-viewer/models"
)

// DefaultTickInterval is how often the synthetic progress advances while uploading.
const DefaultTickInterval = 500 * time.Millisecond

// Converter submits a slide deck to the conversion service.
type Converter interface {
	Convert(ctx context.Context, file models.InputFile) (convert.Result, error)
}

// DocumentLoader reports the page count of a produced document.
type DocumentLoader interface {
	PageCount(ctx context.Context, ref string) (int, error)
}

// Option configures a Controller.
type Option func(*Controller)

// WithTickInterval overrides the progress ticker interval.
func WithTickInterval(d time.Duration) Option {
	return func(c *Controller) {
		if d > 0 {
			c.tickInterval = d
		}
	}
}

// WithDocumentLoader makes the controller request page-count metadata after a successful
// conversion.
func WithDocumentLoader(l DocumentLoader) Option {
	return func(c *Controller) { c.loader = l }
}

// WithLogger sets the controller logger.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Controller) { c.logger = l }
}

// attempt is one in-flight submission. stopTicker is released on every exit path of the
// submission and again when the attempt settles or is superseded.
type attempt struct {
	id         uint64
	stopTicker context.CancelFunc
}

// Controller owns the lifecycle of one conversion attempt and the viewer over its result.
type Controller struct {
	converter    Converter
	loader       DocumentLoader
	tickInterval time.Duration
	logger       zerolog.Logger

	ops       chan func()
	stopped   chan struct{}
	startOnce sync.Once
	runCtx    context.Context

	// owned by the loop goroutine
	st          state
	nav         Navigator
	active      *attempt
	subscribers []chan Snapshot
}

// New creates a controller. Start must be called before use.
func New(converter Converter, opts ...Option) *Controller {
	c := &Controller{
		converter:    converter,
		tickInterval: DefaultTickInterval,
		logger:       zerolog.Nop(),
		ops:          make(chan func()),
		stopped:      make(chan struct{}),
		st:           state{status: StatusIdle},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start launches the event loop. It runs until ctx is cancelled.
func (c *Controller) Start(ctx context.Context) {
	c.startOnce.Do(func() {
		c.runCtx = ctx
		go c.run(ctx)
	})
}

// Done is closed once the event loop has exited.
func (c *Controller) Done() <-chan struct{} {
	return c.stopped
}

func (c *Controller) run(ctx context.Context) {
	defer close(c.stopped)
	for {
		select {
		case <-ctx.Done():
			c.supersede()
			for _, ch := range c.subscribers {
				close(ch)
			}
			c.subscribers = nil
			return
		case op := <-c.ops:
			op()
		}
	}
}

// do runs op on the loop and waits for it to finish.
func (c *Controller) do(op func()) error {
	done := make(chan struct{})
	select {
	case c.ops <- func() { op(); close(done) }:
	case <-c.stopped:
		return ErrStopped
	}
	select {
	case <-done:
		return nil
	case <-c.stopped:
		return ErrStopped
	}
}

// post queues op on the loop without waiting. Used by background activities.
func (c *Controller) post(op func()) {
	select {
	case c.ops <- op:
	case <-c.stopped:
	}
}

// Subscribe returns a channel receiving a snapshot after every state change. Slow readers
// only miss intermediate snapshots; the latest one is always delivered. The channel is
// closed when the controller stops.
func (c *Controller) Subscribe() <-chan Snapshot {
	ch := make(chan Snapshot, 16)
	if err := c.do(func() {
		c.subscribers = append(c.subscribers, ch)
		ch <- c.snapshot()
	}); err != nil {
		close(ch)
	}
	return ch
}

// Snapshot returns the current state.
func (c *Controller) Snapshot() Snapshot {
	var s Snapshot
	_ = c.do(func() { s = c.snapshot() })
	return s
}

// SelectFile validates the first candidate and makes it the active selection. An empty
// candidate list, as produced by a cancelled file dialog, changes nothing. Selections made
// while a conversion is in flight are ignored.
func (c *Controller) SelectFile(files ...models.InputFile) Snapshot {
	var s Snapshot
	_ = c.do(func() {
		if len(files) > 0 {
			c.selectFile(files[0])
		}
		s = c.snapshot()
	})
	return s
}

// Submit starts a conversion of the selected file. It reports whether a submission was
// issued; it does nothing unless a valid file is selected and no submission is in flight.
func (c *Controller) Submit() bool {
	var issued bool
	_ = c.do(func() { issued = c.submit() })
	return issued
}

// GoTo moves the viewer by offset pages, clamped to the document bounds.
func (c *Controller) GoTo(offset int) Snapshot {
	var s Snapshot
	_ = c.do(func() {
		if c.nav.GoTo(offset) {
			c.publish()
		}
		s = c.snapshot()
	})
	return s
}

// MetadataLoaded delivers the renderer's page count for ref.
func (c *Controller) MetadataLoaded(ref string, total int) error {
	var err error
	if derr := c.do(func() { err = c.metadataLoaded(ref, total) }); derr != nil {
		return derr
	}
	return err
}

// RenderFailed records that the renderer could not display ref. The job itself keeps its
// succeeded state.
func (c *Controller) RenderFailed(ref string, cause error) error {
	var err error
	if derr := c.do(func() { err = c.renderFailed(ref, cause) }); derr != nil {
		return derr
	}
	return err
}

func (c *Controller) selectFile(candidate models.InputFile) {
	if c.active != nil {
		c.logger.Debug().Str("file", candidate.Name).Uint64("attempt", c.active.id).
			Msg("ignoring selection while a conversion is in flight")
		return
	}
	c.st.progress = 0
	c.st.renderErr = ""
	c.nav.Clear()

	if !models.HasDeckExtension(candidate.Name) {
		c.st.file = nil
		c.st.status = StatusIdle
		c.st.err = ValidationMessage
		c.st.errKind = ErrorValidation
		c.logger.Debug().Str("file", candidate.Name).Msg("rejected selection")
		c.publish()
		return
	}

	file := candidate
	c.st.file = &file
	c.st.status = StatusFileSelected
	c.st.err = ""
	c.st.errKind = ErrorNone
	c.logger.Debug().Str("file", candidate.Name).Msg("file selected")
	c.publish()
}

func (c *Controller) submit() bool {
	if c.st.status != StatusFileSelected || c.st.file == nil || c.active != nil {
		return false
	}

	c.st.lastAttempt++
	tickCtx, stopTicker := context.WithCancel(c.runCtx)
	a := &attempt{id: c.st.lastAttempt, stopTicker: stopTicker}
	c.active = a

	c.st.status = StatusUploading
	c.st.progress = initialProgress
	c.st.err = ""
	c.st.errKind = ErrorNone

	file := *c.st.file
	logger := c.logger.With().Uint64("attempt", a.id).Str("file", file.Name).Logger()
	logger.Info().Msg("submitting file for conversion")

	go c.tick(tickCtx, a.id)
	go func() {
		defer stopTicker()
		res, err := c.converter.Convert(c.runCtx, file)
		c.post(func() { c.settle(a.id, res, err) })
	}()

	c.publish()
	return true
}

func (c *Controller) tick(ctx context.Context, id uint64) {
	ticker := time.NewTicker(c.tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.post(func() { c.advance(id) })
		}
	}
}

func (c *Controller) advance(id uint64) {
	if c.active == nil || c.active.id != id || c.st.status != StatusUploading {
		return
	}
	if c.st.progress >= progressCeiling {
		return
	}
	c.st.progress = min(c.st.progress+progressStep, progressCeiling)
	c.publish()
}

func (c *Controller) settle(id uint64, res convert.Result, err error) {
	if c.active == nil || c.active.id != id {
		c.logger.Debug().Uint64("attempt", id).Msg("discarding result of superseded attempt")
		return
	}
	c.active.stopTicker()
	c.active = nil

	// progress reaches 100 before the outcome is reported
	c.st.progress = progressDone
	c.publish()

	logger := c.logger.With().Uint64("attempt", id).Logger()
	if err == nil && res.DocumentURL == "" {
		err = &convert.Error{Kind: convert.KindService, Err: convert.ErrMissingLocator}
	}
	if err != nil {
		kind, msg := FailureReason(err)
		c.st.status = StatusFailed
		c.st.err = msg
		c.st.errKind = kind
		c.nav.Clear()
		logger.Warn().Err(err).Str("reason", msg).Msg("conversion failed")
		c.publish()
		return
	}

	c.st.status = StatusSucceeded
	c.st.err = ""
	c.st.errKind = ErrorNone
	c.st.renderErr = ""
	c.nav.Install(res.DocumentURL)
	logger.Info().Str("document", res.DocumentURL).Msg("conversion succeeded")
	c.publish()

	if c.loader != nil {
		go c.loadMetadata(res.DocumentURL)
	}
}

func (c *Controller) loadMetadata(ref string) {
	total, err := c.loader.PageCount(c.runCtx, ref)
	c.post(func() {
		var cbErr error
		if err != nil {
			cbErr = c.renderFailed(ref, err)
		} else {
			cbErr = c.metadataLoaded(ref, total)
		}
		if cbErr != nil {
			c.logger.Debug().Err(cbErr).Str("document", ref).Msg("ignored renderer callback")
		}
	})
}

func (c *Controller) metadataLoaded(ref string, total int) error {
	if !c.nav.Active() || c.nav.Ref() != ref {
		return ErrStaleDocument
	}
	if err := c.nav.OnMetadataLoaded(total); err != nil {
		return err
	}
	c.publish()
	return nil
}

func (c *Controller) renderFailed(ref string, cause error) error {
	if !c.nav.Active() || c.nav.Ref() != ref {
		return ErrStaleDocument
	}
	c.st.renderErr = RenderFailureMessage
	c.logger.Warn().Err(cause).Str("document", ref).Msg("document could not be rendered")
	c.publish()
	return nil
}

// supersede abandons the in-flight attempt when the controller stops. Its request keeps
// running; its result will be discarded on arrival.
func (c *Controller) supersede() {
	if c.active == nil {
		return
	}
	c.active.stopTicker()
	c.logger.Debug().Uint64("attempt", c.active.id).Msg("attempt superseded")
	c.active = nil
}

func (c *Controller) snapshot() Snapshot {
	s := Snapshot{
		Status:       c.st.status,
		Progress:     c.st.progress,
		Submitting:   c.active != nil,
		Error:        c.st.err,
		ErrorKind:    c.st.errKind,
		DocumentRef:  c.nav.Ref(),
		Page:         c.nav.Cursor(),
		PageLabel:    c.nav.Label(),
		CanGoBack:    c.nav.CanGoBack(),
		CanGoForward: c.nav.CanGoForward(),
		RenderError:  c.st.renderErr,
		Attempt:      c.st.lastAttempt,
	}
	if c.st.file != nil {
		s.File = c.st.file.Name
	}
	return s
}

func (c *Controller) publish() {
	s := c.snapshot()
	for _, ch := range c.subscribers {
		deliver(ch, s)
	}
}

// deliver sends s, replacing the oldest queued snapshot when the reader is behind.
func deliver(ch chan Snapshot, s Snapshot) {
	select {
	case ch <- s:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- s:
	default:
	}
}

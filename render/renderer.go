// Package render fetches a produced PDF, reports its page count and rasterises pages.
package render

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"io"
	"net/http"
	"sync"

	"github.com/gen2brain/go-fitz"
	"github.com/ledongthuc/pdf"
	"github.com/rs/zerolog"
)

// DefaultScale matches the on-screen zoom used by the viewer.
const DefaultScale = 1.2

const baseDPI = 72.0

// ErrNoPages is returned for documents that parse but contain no pages.
var ErrNoPages = errors.New("document has no pages")

// Error is a document that could not be fetched, parsed or drawn.
type Error struct {
	Ref string
	Op  string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("render %s %s: %v", e.Op, e.Ref, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Document is a loaded PDF.
type Document struct {
	ref   string
	data  []byte
	pages int
}

// Ref returns the locator the document was loaded from.
func (d *Document) Ref() string { return d.ref }

// NumPages returns the page count.
func (d *Document) NumPages() int { return d.pages }

// Bytes returns the raw PDF.
func (d *Document) Bytes() []byte { return d.data }

// RenderPage draws page (1-based) at the given scale.
func (d *Document) RenderPage(page int, scale float64) (image.Image, error) {
	if page < 1 || page > d.pages {
		return nil, &Error{Ref: d.ref, Op: "page", Err: fmt.Errorf("page %d out of range [1, %d]", page, d.pages)}
	}
	if scale <= 0 {
		scale = DefaultScale
	}

	doc, err := fitz.NewFromMemory(d.data)
	if err != nil {
		return nil, &Error{Ref: d.ref, Op: "open", Err: err}
	}
	defer doc.Close()

	img, err := doc.ImageDPI(page-1, baseDPI*scale)
	if err != nil {
		return nil, &Error{Ref: d.ref, Op: "page", Err: fmt.Errorf("page %d: %w", page, err)}
	}
	return img, nil
}

// WritePNG renders page and encodes it as PNG.
func (d *Document) WritePNG(w io.Writer, page int, scale float64) error {
	img, err := d.RenderPage(page, scale)
	if err != nil {
		return err
	}
	if err := png.Encode(w, img); err != nil {
		return &Error{Ref: d.ref, Op: "encode", Err: err}
	}
	return nil
}

// Renderer loads documents over HTTP and keeps the most recent one.
type Renderer struct {
	httpClient *http.Client
	logger     zerolog.Logger

	mu   sync.Mutex
	last *Document
}

// Option configures a Renderer.
type Option func(*Renderer)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(r *Renderer) { r.httpClient = hc }
}

// WithLogger sets the renderer logger.
func WithLogger(l zerolog.Logger) Option {
	return func(r *Renderer) { r.logger = l }
}

// NewRenderer creates a Renderer.
func NewRenderer(opts ...Option) *Renderer {
	r := &Renderer{
		httpClient: http.DefaultClient,
		logger:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Load fetches and parses the document at ref.
func (r *Renderer) Load(ctx context.Context, ref string) (*Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ref, nil)
	if err != nil {
		return nil, &Error{Ref: ref, Op: "fetch", Err: err}
	}
	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, &Error{Ref: ref, Op: "fetch", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &Error{Ref: ref, Op: "fetch", Err: fmt.Errorf("unexpected status %d", resp.StatusCode)}
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &Error{Ref: ref, Op: "fetch", Err: err}
	}

	doc, err := Parse(ref, data)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.last = doc
	r.mu.Unlock()

	r.logger.Debug().Str("document", ref).Int("pages", doc.pages).Int("bytes", len(data)).Msg("document loaded")
	return doc, nil
}

// PageCount loads ref and reports its number of pages.
func (r *Renderer) PageCount(ctx context.Context, ref string) (int, error) {
	doc, err := r.Load(ctx, ref)
	if err != nil {
		return 0, err
	}
	return doc.NumPages(), nil
}

// Document returns the most recently loaded document if it was loaded from ref.
func (r *Renderer) Document(ref string) (*Document, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.last == nil || r.last.ref != ref {
		return nil, false
	}
	return r.last, true
}

// Parse validates data as a PDF and counts its pages.
func Parse(ref string, data []byte) (*Document, error) {
	pages, err := countPages(data)
	if err != nil {
		return nil, &Error{Ref: ref, Op: "parse", Err: err}
	}
	return &Document{ref: ref, data: data, pages: pages}, nil
}

func countPages(data []byte) (pages int, err error) {
	// the pdf reader panics on some malformed inputs
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("malformed pdf: %v", rec)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return 0, err
	}
	pages = reader.NumPage()
	if pages < 1 {
		return 0, ErrNoPages
	}
	return pages, nil
}

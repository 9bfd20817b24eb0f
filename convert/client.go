// Package convert is the client side of the conversion service: it submits a slide deck as
// a multipart upload and resolves the returned document locator.
package convert

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/jupark12/deck-viewer/models"
)

// FileField is the multipart field carrying the deck.
const FileField = "file"

// ConvertPath is the service endpoint accepting uploads.
const ConvertPath = "/convert"

const maxResponseBytes = 1 << 20

// Result is a successful conversion.
type Result struct {
	// Locator is the document path as returned by the service, e.g. /pdf/<id>.pdf.
	Locator string
	// DocumentURL is Locator resolved against the service base URL.
	DocumentURL string
	JobID       string
	PageCount   int
}

type successResponse struct {
	Success   bool   `json:"success"`
	PDFURL    string `json:"pdf_url"`
	JobID     string `json:"job_id,omitempty"`
	PageCount int    `json:"page_count,omitempty"`
}

type errorResponse struct {
	Detail json.RawMessage `json:"detail"`
}

// Client talks to the conversion service.
type Client struct {
	baseURL    string
	httpClient *http.Client
	timeout    time.Duration
	logger     zerolog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithTimeout sets the overall request timeout. A client passed with WithHTTPClient is
// copied, never modified.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithLogger sets the client logger.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// NewClient creates a client for the service at baseURL.
func NewClient(baseURL string, opts ...Option) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if !strings.HasPrefix(baseURL, "http://") && !strings.HasPrefix(baseURL, "https://") {
		return nil, fmt.Errorf("invalid service URL %q: must start with http:// or https://", baseURL)
	}
	c := &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{},
		logger:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.timeout > 0 {
		hc := *c.httpClient
		hc.Timeout = c.timeout
		c.httpClient = &hc
	}
	return c, nil
}

// BaseURL returns the service base URL without a trailing slash.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Convert uploads file and waits for the service to answer. The call is made once; failures
// come back as *Error.
func (c *Client) Convert(ctx context.Context, file models.InputFile) (Result, error) {
	body, contentType, err := encodeUpload(file)
	if err != nil {
		return Result{}, &Error{Kind: KindTransport, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+ConvertPath, body)
	if err != nil {
		return Result{}, &Error{Kind: KindTransport, Err: err}
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn().Err(err).Str("file", file.Name).Msg("conversion request failed")
		return Result{}, &Error{Kind: KindTransport, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return Result{}, &Error{Kind: KindTransport, Err: fmt.Errorf("read response: %w", err)}
	}

	c.logger.Debug().
		Str("file", file.Name).
		Int("status", resp.StatusCode).
		Dur("elapsed", time.Since(start)).
		Msg("conversion response received")

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Result{}, &Error{
			Kind:   KindService,
			Status: resp.StatusCode,
			Detail: parseDetail(raw),
		}
	}

	var payload successResponse
	if err := json.Unmarshal(raw, &payload); err != nil {
		return Result{}, &Error{Kind: KindService, Err: fmt.Errorf("decode response: %w", err)}
	}
	if payload.PDFURL == "" {
		return Result{}, &Error{Kind: KindService, Err: ErrMissingLocator}
	}

	return Result{
		Locator:     payload.PDFURL,
		DocumentURL: c.Resolve(payload.PDFURL),
		JobID:       payload.JobID,
		PageCount:   payload.PageCount,
	}, nil
}

// Resolve turns a service-relative locator into an absolute URL.
func (c *Client) Resolve(locator string) string {
	if strings.HasPrefix(locator, "http://") || strings.HasPrefix(locator, "https://") {
		return locator
	}
	if !strings.HasPrefix(locator, "/") {
		locator = "/" + locator
	}
	return c.baseURL + locator
}

func encodeUpload(file models.InputFile) (io.Reader, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile(FileField, file.Name)
	if err != nil {
		return nil, "", fmt.Errorf("create form file: %w", err)
	}
	if _, err := part.Write(file.Data); err != nil {
		return nil, "", fmt.Errorf("write form file: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("close multipart writer: %w", err)
	}
	return &buf, w.FormDataContentType(), nil
}

// parseDetail extracts a string detail from an error body. Structured details (lists of
// validation errors) and non-JSON bodies yield "".
func parseDetail(raw []byte) string {
	var payload errorResponse
	if err := json.Unmarshal(raw, &payload); err != nil || len(payload.Detail) == 0 {
		return ""
	}
	var detail string
	if err := json.Unmarshal(payload.Detail, &detail); err != nil {
		return ""
	}
	return strings.TrimSpace(detail)
}

package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ledongthuc/pdf"
	"github.com/rs/zerolog"

	"github.com/jupark12/deck-viewer/logging"
	"github.com/jupark12/deck-viewer/metrics"
	"github.com/jupark12/deck-viewer/models"
	"github.com/jupark12/deck-viewer/queue"
)

// Config holds per-worker settings.
type Config struct {
	TempDir        string
	PollInterval   time.Duration
	ConvertTimeout time.Duration
}

// Worker represents a processing node that consumes jobs
type Worker struct {
	ID         string
	Queue      *queue.ConversionQueue
	Processing bool
	mu         sync.Mutex
	converter  Converter
	cfg        Config
	logger     zerolog.Logger
	done       chan struct{}
}

// NewWorker creates a new worker instance
func NewWorker(id string, q *queue.ConversionQueue, converter Converter, cfg Config, logger zerolog.Logger) *Worker {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	return &Worker{
		ID:        id,
		Queue:     q,
		converter: converter,
		cfg:       cfg,
		logger:    logger.With().Str("worker", id).Logger(),
		done:      make(chan struct{}),
	}
}

// Start begins processing jobs until ctx is cancelled
func (w *Worker) Start(ctx context.Context) {
	w.logger.Info().Msg("worker starting")

	go func() {
		defer close(w.done)
		for {
			w.setProcessing(false)

			job, err := w.Queue.DequeueJob(ctx, w.ID)
			if err != nil {
				// No jobs available, wait for an enqueue or the next poll
				select {
				case <-ctx.Done():
					w.logger.Info().Msg("worker stopped")
					return
				case <-w.Queue.Ready():
				case <-time.After(w.cfg.PollInterval):
				}
				continue
			}

			w.setProcessing(true)
			w.logger.Info().Str("job_id", job.ID).Msg("processing job")

			start := time.Now()
			pages, err := w.processJob(ctx, job)
			if err != nil {
				w.logger.Error().Err(err).Str("job_id", job.ID).Msg("failed to process job")
				metrics.ObserveConversion(metrics.OutcomeFailed, time.Since(start))
				if ferr := w.Queue.FailJob(context.WithoutCancel(ctx), job.ID, err.Error()); ferr != nil {
					w.logger.Error().Err(ferr).Str("job_id", job.ID).Msg("failed to record job failure")
				}
				continue
			}

			w.logger.Info().Str("job_id", job.ID).Int("pages", pages).Msg("completed job")
			metrics.ObserveConversion(metrics.OutcomeCompleted, time.Since(start))
			if cerr := w.Queue.CompleteJob(context.WithoutCancel(ctx), job.ID, pages); cerr != nil {
				w.logger.Error().Err(cerr).Str("job_id", job.ID).Msg("failed to record job completion")
			}
		}
	}()
}

// Done is closed when the worker loop has exited.
func (w *Worker) Done() <-chan struct{} {
	return w.done
}

// IsProcessing reports whether the worker is busy with a job.
func (w *Worker) IsProcessing() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.Processing
}

func (w *Worker) setProcessing(v bool) {
	w.mu.Lock()
	w.Processing = v
	w.mu.Unlock()
}

// processJob converts the uploaded deck and moves the PDF to the job's output path
func (w *Worker) processJob(ctx context.Context, job *models.ConversionJob) (int, error) {
	defer logging.TraceDuration(w.logger.With().Str("job_id", job.ID).Logger(), "worker.processJob")()

	if _, err := os.Stat(job.SourceFile); os.IsNotExist(err) {
		return 0, fmt.Errorf("source file does not exist: %s", job.SourceFile)
	}

	if err := os.MkdirAll(filepath.Dir(job.OutputFile), 0755); err != nil {
		return 0, fmt.Errorf("failed to create output directory: %w", err)
	}

	workDir, err := os.MkdirTemp(w.cfg.TempDir, "job-"+job.ID+"-")
	if err != nil {
		return 0, fmt.Errorf("failed to create temp directory: %w", err)
	}
	defer os.RemoveAll(workDir)

	convertCtx := ctx
	if w.cfg.ConvertTimeout > 0 {
		var cancel context.CancelFunc
		convertCtx, cancel = context.WithTimeout(ctx, w.cfg.ConvertTimeout)
		defer cancel()
	}

	produced, err := w.converter.Convert(convertCtx, job.SourceFile, workDir)
	if err != nil {
		return 0, err
	}

	pages, err := countPages(produced)
	if err != nil {
		return 0, fmt.Errorf("converted document is not a valid PDF: %w", err)
	}

	if err := moveFile(produced, job.OutputFile); err != nil {
		return 0, fmt.Errorf("failed to store converted document: %w", err)
	}
	return pages, nil
}

func countPages(path string) (pages int, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("malformed pdf: %v", rec)
		}
	}()

	f, r, err := pdf.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	pages = r.NumPage()
	if pages < 1 {
		return 0, errors.New("document has no pages")
	}
	return pages, nil
}

// moveFile renames src to dst, copying when they sit on different filesystems.
func moveFile(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

package queue

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/jupark12/deck-viewer/models"
)

var (
	ErrNoPendingJobs = errors.New("no pending jobs available")
	ErrJobNotFound   = errors.New("job not found")
)

// Store persists job records
type Store interface {
	Save(ctx context.Context, job *models.ConversionJob) error
	LoadAll(ctx context.Context) ([]*models.ConversionJob, error)
}

// NewJob describes an upload to enqueue. An empty ID is filled with a fresh UUID.
type NewJob struct {
	ID         string
	SourceName string
	SourceFile string
	OutputFile string
}

// ConversionQueue manages the queue of slide deck conversion jobs
type ConversionQueue struct {
	mu             sync.RWMutex
	pendingJobs    []*models.ConversionJob
	processingJobs map[string]*models.ConversionJob
	completedJobs  map[string]*models.ConversionJob
	failedJobs     map[string]*models.ConversionJob
	jobsByID       map[string]*models.ConversionJob
	waiters        map[string][]chan *models.ConversionJob
	listeners      []func(*models.ConversionJob)
	store          Store
	ready          chan struct{}
	logger         zerolog.Logger
	now            func() time.Time
}

// NewConversionQueue creates a new instance of ConversionQueue
func NewConversionQueue(store Store, logger zerolog.Logger) *ConversionQueue {
	return &ConversionQueue{
		pendingJobs:    make([]*models.ConversionJob, 0),
		processingJobs: make(map[string]*models.ConversionJob),
		completedJobs:  make(map[string]*models.ConversionJob),
		failedJobs:     make(map[string]*models.ConversionJob),
		jobsByID:       make(map[string]*models.ConversionJob),
		waiters:        make(map[string][]chan *models.ConversionJob),
		store:          store,
		ready:          make(chan struct{}, 1),
		logger:         logger.With().Str("component", "queue").Logger(),
		now:            time.Now,
	}
}

// OnUpdate registers fn to be called with a copy of every job that changes state.
// Must be called before the queue is in use.
func (q *ConversionQueue) OnUpdate(fn func(*models.ConversionJob)) {
	q.listeners = append(q.listeners, fn)
}

// Ready is signalled whenever a job is enqueued.
func (q *ConversionQueue) Ready() <-chan struct{} {
	return q.ready
}

// EnqueueJob adds a new job to the queue
func (q *ConversionQueue) EnqueueJob(ctx context.Context, req NewJob) (*models.ConversionJob, error) {
	if req.ID == "" {
		req.ID = uuid.New().String()
	}

	q.mu.Lock()
	if _, exists := q.jobsByID[req.ID]; exists {
		q.mu.Unlock()
		return nil, fmt.Errorf("job %s already exists", req.ID)
	}

	now := q.now()
	job := &models.ConversionJob{
		ID:         req.ID,
		SourceName: req.SourceName,
		SourceFile: req.SourceFile,
		OutputFile: req.OutputFile,
		Status:     models.StatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if err := q.store.Save(ctx, job); err != nil {
		q.mu.Unlock()
		return nil, fmt.Errorf("failed to persist job: %w", err)
	}

	q.pendingJobs = append(q.pendingJobs, job)
	q.jobsByID[job.ID] = job
	snapshot := job.Clone()
	q.mu.Unlock()

	q.signalReady()
	q.notify(snapshot)

	q.logger.Info().Str("job_id", job.ID).Str("file", req.SourceName).Msg("job enqueued")
	return snapshot, nil
}

// DequeueJob gets the next pending job and marks it as processing
func (q *ConversionQueue) DequeueJob(ctx context.Context, workerID string) (*models.ConversionJob, error) {
	q.mu.Lock()

	if len(q.pendingJobs) == 0 {
		q.mu.Unlock()
		return nil, ErrNoPendingJobs
	}

	// FIFO
	job := q.pendingJobs[0]
	q.pendingJobs = q.pendingJobs[1:]

	now := q.now()
	job.Status = models.StatusProcessing
	job.StartedAt = now
	job.UpdatedAt = now
	job.ProcessingNode = workerID
	q.processingJobs[job.ID] = job

	if err := q.store.Save(ctx, job); err != nil {
		q.logger.Warn().Err(err).Str("job_id", job.ID).Msg("failed to persist job status")
	}
	snapshot := job.Clone()
	remaining := len(q.pendingJobs)
	q.mu.Unlock()

	if remaining > 0 {
		q.signalReady()
	}
	q.notify(snapshot)
	return snapshot, nil
}

// CompleteJob marks a job as completed
func (q *ConversionQueue) CompleteJob(ctx context.Context, jobID string, pageCount int) error {
	return q.finish(ctx, jobID, func(job *models.ConversionJob) {
		job.Status = models.StatusCompleted
		job.PageCount = pageCount
		q.completedJobs[jobID] = job
	})
}

// FailJob marks a job as failed
func (q *ConversionQueue) FailJob(ctx context.Context, jobID string, errorMsg string) error {
	return q.finish(ctx, jobID, func(job *models.ConversionJob) {
		job.Status = models.StatusFailed
		job.ErrorMessage = errorMsg
		q.failedJobs[jobID] = job
	})
}

func (q *ConversionQueue) finish(ctx context.Context, jobID string, apply func(*models.ConversionJob)) error {
	q.mu.Lock()

	job, exists := q.processingJobs[jobID]
	if !exists {
		q.mu.Unlock()
		return fmt.Errorf("job %s not found in processing queue: %w", jobID, ErrJobNotFound)
	}

	delete(q.processingJobs, jobID)
	now := q.now()
	job.CompletedAt = now
	job.UpdatedAt = now
	apply(job)

	persistErr := q.store.Save(ctx, job)
	snapshot := job.Clone()
	waiters := q.waiters[jobID]
	delete(q.waiters, jobID)
	q.mu.Unlock()

	for _, w := range waiters {
		w <- snapshot.Clone()
		close(w)
	}
	q.notify(snapshot)

	if persistErr != nil {
		return fmt.Errorf("failed to persist job: %w", persistErr)
	}
	return nil
}

// Wait blocks until the job reaches a terminal state or ctx is done.
func (q *ConversionQueue) Wait(ctx context.Context, jobID string) (*models.ConversionJob, error) {
	q.mu.Lock()
	job, exists := q.jobsByID[jobID]
	if !exists {
		q.mu.Unlock()
		return nil, fmt.Errorf("job %s: %w", jobID, ErrJobNotFound)
	}
	if job.Status.Terminal() {
		snapshot := job.Clone()
		q.mu.Unlock()
		return snapshot, nil
	}
	ch := make(chan *models.ConversionJob, 1)
	q.waiters[jobID] = append(q.waiters[jobID], ch)
	q.mu.Unlock()

	select {
	case done := <-ch:
		return done, nil
	case <-ctx.Done():
		q.removeWaiter(jobID, ch)
		return nil, ctx.Err()
	}
}

func (q *ConversionQueue) removeWaiter(jobID string, ch chan *models.ConversionJob) {
	q.mu.Lock()
	defer q.mu.Unlock()
	list := q.waiters[jobID]
	for i, w := range list {
		if w == ch {
			q.waiters[jobID] = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(q.waiters[jobID]) == 0 {
		delete(q.waiters, jobID)
	}
}

// GetJob retrieves a job by ID
func (q *ConversionQueue) GetJob(jobID string) (*models.ConversionJob, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	job, exists := q.jobsByID[jobID]
	if !exists {
		return nil, fmt.Errorf("job %s: %w", jobID, ErrJobNotFound)
	}
	return job.Clone(), nil
}

// LoadJobs restores persisted jobs. Jobs interrupted while processing go back to pending.
func (q *ConversionQueue) LoadJobs(ctx context.Context) error {
	jobs, err := q.store.LoadAll(ctx)
	if err != nil {
		return fmt.Errorf("failed to load jobs: %w", err)
	}

	sort.Slice(jobs, func(i, j int) bool { return jobs[i].CreatedAt.Before(jobs[j].CreatedAt) })

	q.mu.Lock()
	requeued := 0
	for _, job := range jobs {
		q.jobsByID[job.ID] = job

		switch job.Status {
		case models.StatusPending:
			q.pendingJobs = append(q.pendingJobs, job)
		case models.StatusProcessing:
			job.Status = models.StatusPending
			job.ProcessingNode = ""
			job.StartedAt = time.Time{}
			q.pendingJobs = append(q.pendingJobs, job)
			requeued++
		case models.StatusCompleted:
			q.completedJobs[job.ID] = job
		case models.StatusFailed:
			q.failedJobs[job.ID] = job
		}
	}
	pending := len(q.pendingJobs)
	total := len(q.jobsByID)
	q.mu.Unlock()

	if pending > 0 {
		q.signalReady()
	}
	q.logger.Info().Int("jobs", total).Int("requeued", requeued).Msg("loaded jobs from store")
	return nil
}

// GetPendingJobs returns a copy of the pending jobs slice
func (q *ConversionQueue) GetPendingJobs() []*models.ConversionJob {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return cloneAll(q.pendingJobs)
}

// GetProcessingJobs returns a copy of the processing jobs map
func (q *ConversionQueue) GetProcessingJobs() []*models.ConversionJob {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return cloneMap(q.processingJobs)
}

// GetCompletedJobs returns a copy of the completed jobs map
func (q *ConversionQueue) GetCompletedJobs() []*models.ConversionJob {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return cloneMap(q.completedJobs)
}

// GetFailedJobs returns a copy of the failed jobs map
func (q *ConversionQueue) GetFailedJobs() []*models.ConversionJob {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return cloneMap(q.failedJobs)
}

// GetAllJobs returns a copy of all jobs
func (q *ConversionQueue) GetAllJobs() []*models.ConversionJob {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return cloneMap(q.jobsByID)
}

func (q *ConversionQueue) signalReady() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}

func (q *ConversionQueue) notify(job *models.ConversionJob) {
	for _, fn := range q.listeners {
		fn(job.Clone())
	}
}

func cloneAll(jobs []*models.ConversionJob) []*models.ConversionJob {
	out := make([]*models.ConversionJob, len(jobs))
	for i, job := range jobs {
		out[i] = job.Clone()
	}
	return out
}

func cloneMap(jobs map[string]*models.ConversionJob) []*models.ConversionJob {
	out := make([]*models.ConversionJob, 0, len(jobs))
	for _, job := range jobs {
		out = append(out, job.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

package models

import (
	"time"
)

// JobStatus represents the current state of a conversion job on the service side
type JobStatus string

const (
	StatusPending    JobStatus = "pending"
	StatusProcessing JobStatus = "processing"
	StatusCompleted  JobStatus = "completed"
	StatusFailed     JobStatus = "failed"
)

// Terminal reports whether the job has finished, successfully or not.
func (s JobStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// ConversionJob represents a job for converting an uploaded slide deck to PDF
type ConversionJob struct {
	ID             string    `json:"id"`
	SourceName     string    `json:"source_name"`
	SourceFile     string    `json:"source_file"`
	OutputFile     string    `json:"output_file"`
	PageCount      int       `json:"page_count,omitempty"`
	Status         JobStatus `json:"status"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
	StartedAt      time.Time `json:"started_at,omitempty"`
	CompletedAt    time.Time `json:"completed_at,omitempty"`
	ErrorMessage   string    `json:"error_message,omitempty"`
	ProcessingNode string    `json:"processing_node,omitempty"`
}

// Clone returns a copy that can be handed out without exposing queue-owned state.
func (j *ConversionJob) Clone() *ConversionJob {
	if j == nil {
		return nil
	}
	c := *j
	return &c
}

// Package store persists conversion job records.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/jupark12/deck-viewer/models"
)

// FileStore keeps one JSON document per job in a directory
type FileStore struct {
	dataDir string
	logger  zerolog.Logger
}

// NewFileStore creates the data directory if needed.
func NewFileStore(dataDir string, logger zerolog.Logger) (*FileStore, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	return &FileStore{dataDir: dataDir, logger: logger}, nil
}

// Save writes job data to disk
func (s *FileStore) Save(_ context.Context, job *models.ConversionJob) error {
	jobPath := filepath.Join(s.dataDir, job.ID+".json")

	data, err := json.MarshalIndent(job, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal job data: %w", err)
	}

	tmp := jobPath + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write job file: %w", err)
	}
	if err := os.Rename(tmp, jobPath); err != nil {
		return fmt.Errorf("failed to write job file: %w", err)
	}
	return nil
}

// LoadAll reads every persisted job. Unreadable files are skipped.
func (s *FileStore) LoadAll(_ context.Context) ([]*models.ConversionJob, error) {
	files, err := os.ReadDir(s.dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read data directory: %w", err)
	}

	jobs := make([]*models.ConversionJob, 0, len(files))
	for _, file := range files {
		if file.IsDir() || filepath.Ext(file.Name()) != ".json" {
			continue
		}

		jobPath := filepath.Join(s.dataDir, file.Name())
		data, err := os.ReadFile(jobPath)
		if err != nil {
			s.logger.Warn().Err(err).Str("path", jobPath).Msg("failed to read job file")
			continue
		}

		var job models.ConversionJob
		if err := json.Unmarshal(data, &job); err != nil {
			s.logger.Warn().Err(err).Str("path", jobPath).Msg("failed to unmarshal job data")
			continue
		}
		jobs = append(jobs, &job)
	}
	return jobs, nil
}

// Close is a no-op for the file store.
func (s *FileStore) Close() {}

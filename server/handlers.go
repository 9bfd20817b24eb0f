package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/jupark12/deck-viewer/metrics"
	"github.com/jupark12/deck-viewer/models"
	"github.com/jupark12/deck-viewer/queue"
)

// uploadField is the multipart field carrying the deck.
const uploadField = "file"

// ConvertResponse is returned by POST /convert on success.
type ConvertResponse struct {
	Success   bool   `json:"success"`
	PDFURL    string `json:"pdf_url"`
	JobID     string `json:"job_id"`
	PageCount int    `json:"page_count,omitempty"`
}

// ErrorResponse is the body of every error answer.
type ErrorResponse struct {
	Detail string `json:"detail"`
}

// handleHealth reports liveness along with worker and websocket activity
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	busy := 0
	for _, wk := range s.workers {
		if wk.IsProcessing() {
			busy++
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":       "healthy",
		"service":      "deck-viewer",
		"workers":      len(s.workers),
		"busy_workers": busy,
		"ws_clients":   s.wsManager.ClientCount(),
	})
}

// handleConvert stores the upload, queues a conversion and answers once it settles
func (s *Server) handleConvert(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.Server.MaxUploadBytes)
	if err := r.ParseMultipartForm(10 << 20); err != nil {
		metrics.IncUpload("rejected")
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "File is too large")
			return
		}
		writeError(w, http.StatusBadRequest, "Missing file")
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile(uploadField)
	if err != nil {
		metrics.IncUpload("rejected")
		writeError(w, http.StatusBadRequest, "Missing file")
		return
	}
	defer file.Close()

	if !models.HasDeckExtension(header.Filename) {
		metrics.IncUpload("rejected")
		writeError(w, http.StatusBadRequest, "Invalid file format. Please upload a .pptx file")
		return
	}

	jobID := uuid.New().String()
	sourceName := filepath.Base(header.Filename)
	safeName := strings.ReplaceAll(sourceName, " ", "_")
	sourcePath := filepath.Join(s.cfg.Storage.UploadDir, jobID+"_"+safeName)
	outputPath := filepath.Join(s.cfg.Storage.OutputDir, jobID+".pdf")

	size, err := saveUpload(file, sourcePath)
	if err != nil {
		metrics.IncUpload("error")
		s.logger.Error().Err(err).Str("file", sourceName).Msg("failed to save upload")
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to save file: %v", err))
		return
	}
	metrics.IncUpload("accepted")
	metrics.ObserveUploadSize(size)

	if _, err := s.queue.EnqueueJob(r.Context(), queue.NewJob{
		ID:         jobID,
		SourceName: sourceName,
		SourceFile: sourcePath,
		OutputFile: outputPath,
	}); err != nil {
		s.logger.Error().Err(err).Str("job_id", jobID).Msg("failed to enqueue job")
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("Conversion failed: %v", err))
		return
	}

	job, err := s.queue.Wait(r.Context(), jobID)
	if err != nil {
		s.logger.Warn().Err(err).Str("job_id", jobID).Msg("client stopped waiting for conversion")
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("Conversion failed: %v", err))
		return
	}
	if job.Status != models.StatusCompleted {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("Conversion failed: %s", job.ErrorMessage))
		return
	}

	writeJSON(w, http.StatusOK, ConvertResponse{
		Success:   true,
		PDFURL:    "/pdf/" + filepath.Base(job.OutputFile),
		JobID:     job.ID,
		PageCount: job.PageCount,
	})
}

// handlePDF serves a converted document
func (s *Server) handlePDF(w http.ResponseWriter, r *http.Request) {
	filename := chi.URLParam(r, "filename")
	if filename == "" || filename != filepath.Base(filename) || strings.HasPrefix(filename, ".") {
		metrics.IncDocumentServed("not_found")
		writeError(w, http.StatusNotFound, "PDF not found")
		return
	}

	path := filepath.Join(s.cfg.Storage.OutputDir, filename)
	f, err := os.Open(path)
	if err != nil {
		metrics.IncDocumentServed("not_found")
		writeError(w, http.StatusNotFound, "PDF not found")
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil || info.IsDir() {
		metrics.IncDocumentServed("not_found")
		writeError(w, http.StatusNotFound, "PDF not found")
		return
	}

	metrics.IncDocumentServed("ok")
	w.Header().Set("Content-Type", "application/pdf")
	http.ServeContent(w, r, filename, info.ModTime(), f)
}

// handleCleanup removes uploads and outputs older than the retention window
func (s *Server) handleCleanup(w http.ResponseWriter, r *http.Request) {
	removed, err := cleanupOlderThan(s.cfg.Cleanup.Retention,
		s.cfg.Storage.UploadDir, s.cfg.Storage.OutputDir, s.cfg.Storage.TempDir)
	metrics.AddCleanupRemoved(removed)
	if err != nil {
		s.logger.Error().Err(err).Int("removed", removed).Msg("cleanup incomplete")
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("Cleanup failed: %v", err))
		return
	}
	s.logger.Info().Int("removed", removed).Dur("retention", s.cfg.Cleanup.Retention).Msg("cleanup completed")
	writeJSON(w, http.StatusOK, map[string]any{"message": "Cleanup completed", "removed": removed})
}

// handleJobs lists jobs, optionally filtered by status
func (s *Server) handleJobs(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")
	if status == "" {
		writeJSON(w, http.StatusOK, s.queue.GetAllJobs())
		return
	}

	var jobs []*models.ConversionJob
	switch models.JobStatus(status) {
	case models.StatusPending:
		jobs = s.queue.GetPendingJobs()
	case models.StatusProcessing:
		jobs = s.queue.GetProcessingJobs()
	case models.StatusCompleted:
		jobs = s.queue.GetCompletedJobs()
	case models.StatusFailed:
		jobs = s.queue.GetFailedJobs()
	default:
		writeError(w, http.StatusBadRequest, "Invalid status parameter")
		return
	}
	writeJSON(w, http.StatusOK, jobs)
}

// handleJobDetails returns a single job
func (s *Server) handleJobDetails(w http.ResponseWriter, r *http.Request) {
	job, err := s.queue.GetJob(chi.URLParam(r, "jobID"))
	if err != nil {
		writeError(w, http.StatusNotFound, "Job not found")
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// handleWebSocket streams job updates
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn().Err(err).Msg("failed to upgrade to websocket")
		return
	}

	// the initial list goes out before registration so it cannot interleave with broadcasts
	initialData, err := json.Marshal(map[string]any{
		"type": "initial_jobs",
		"jobs": s.queue.GetAllJobs(),
	})
	if err == nil {
		if err := conn.WriteMessage(websocket.TextMessage, initialData); err != nil {
			conn.Close()
			return
		}
	}

	s.wsManager.RegisterClient(conn)

	go func() {
		for {
			// client messages are ignored; a read error means the client left
			if _, _, err := conn.ReadMessage(); err != nil {
				s.wsManager.UnregisterClient(conn)
				return
			}
		}
	}()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, ErrorResponse{Detail: detail})
}

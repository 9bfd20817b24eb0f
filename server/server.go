package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/rs/cors"
	"github.com/rs/zerolog"

	"github.com/jupark12/deck-viewer/config"
	"github.com/jupark12/deck-viewer/metrics"
	"github.com/jupark12/deck-viewer/models"
	"github.com/jupark12/deck-viewer/queue"
	"github.com/jupark12/deck-viewer/worker"
)

// Server is the conversion service: HTTP API, websocket updates and the worker pool
type Server struct {
	queue      *queue.ConversionQueue
	workers    []*worker.Worker
	cfg        *config.Config
	wsManager  *models.WebSocketManager
	upgrader   websocket.Upgrader
	logger     zerolog.Logger
	httpServer *http.Server
	cancel     context.CancelFunc
}

// NewServer creates a new server instance
func NewServer(cfg *config.Config, q *queue.ConversionQueue, converter worker.Converter, logger zerolog.Logger) (*Server, error) {
	for _, dir := range []string{cfg.Storage.UploadDir, cfg.Storage.OutputDir, cfg.Storage.TempDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	wsManager := models.NewWebSocketManager(logger)

	s := &Server{
		queue:     q,
		cfg:       cfg,
		workers:   make([]*worker.Worker, cfg.Worker.Count),
		wsManager: wsManager,
		logger:    logger.With().Str("component", "server").Logger(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}

	workerCfg := worker.Config{
		TempDir:        cfg.Storage.TempDir,
		PollInterval:   cfg.Worker.PollInterval,
		ConvertTimeout: cfg.Worker.ConvertTimeout,
	}
	for i := range s.workers {
		workerID := fmt.Sprintf("worker-%d", i+1)
		s.workers[i] = worker.NewWorker(workerID, q, converter, workerCfg, logger)
	}

	q.OnUpdate(s.notifyJobUpdate)
	return s, nil
}

// notifyJobUpdate forwards job changes to websocket clients
func (s *Server) notifyJobUpdate(job *models.ConversionJob) {
	s.logger.Debug().Str("job_id", job.ID).Str("status", string(job.Status)).Msg("job updated")
	s.wsManager.BroadcastJobUpdate(job)
}

// Handler builds the HTTP router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.New(cors.Options{
		AllowedOrigins:   s.cfg.Server.CORSOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	}).Handler)

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", metrics.Handler())

	r.Post("/convert", s.handleConvert)
	r.Get("/pdf/{filename}", s.handlePDF)
	r.Delete("/cleanup", s.handleCleanup)

	r.Get("/jobs", s.handleJobs)
	r.Get("/jobs/{jobID}", s.handleJobDetails)
	r.Get("/ws", s.handleWebSocket)

	return r
}

// Start begins the server
func (s *Server) Start(ctx context.Context) error {
	s.startBackground(ctx)

	s.httpServer = &http.Server{
		Addr:         s.cfg.Server.Addr(),
		Handler:      s.Handler(),
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", s.httpServer.Addr).Int("workers", len(s.workers)).Msg("HTTP server listening")
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("HTTP server failed: %w", err)
		}
	case <-time.After(100 * time.Millisecond):
	}
	return nil
}

// startBackground runs the websocket broadcaster and the worker pool.
func (s *Server) startBackground(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)

	s.wsManager.Start()
	for _, w := range s.workers {
		w.Start(ctx)
	}
}

// Shutdown stops accepting requests, then stops the workers and websocket clients.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	if s.httpServer != nil {
		err = s.httpServer.Shutdown(ctx)
	}
	if s.cancel != nil {
		s.cancel()
	}
	for _, w := range s.workers {
		select {
		case <-w.Done():
		case <-ctx.Done():
		}
	}
	s.wsManager.Stop()
	return err
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("elapsed", time.Since(start)).
			Str("request_id", chimiddleware.GetReqID(r.Context())).
			Msg("request")
	})
}

package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jupark12/deck-viewer/queue"
	"github.com/jupark12/deck-viewer/server"
	"github.com/jupark12/deck-viewer/store"
	"github.com/jupark12/deck-viewer/worker"
)

var (
	servePort    int
	serveWorkers int
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the conversion service",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "listen port (overrides config)")
	serveCmd.Flags().IntVarP(&serveWorkers, "workers", "w", 0, "number of conversion workers (overrides config)")
}

type jobStore interface {
	queue.Store
	Close()
}

func openStore(ctx context.Context) (jobStore, error) {
	if cfg.Storage.Driver == "postgres" {
		return store.NewPostgresStore(ctx, cfg.Storage.PostgresDSN)
	}
	return store.NewFileStore(cfg.Storage.DataDir, logger)
}

func runServe(cmd *cobra.Command, args []string) error {
	if servePort > 0 {
		cfg.Server.Port = servePort
	}
	if serveWorkers > 0 {
		cfg.Worker.Count = serveWorkers
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("validate config: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	jobQueue := queue.NewConversionQueue(st, logger)
	if err := jobQueue.LoadJobs(ctx); err != nil {
		logger.Warn().Err(err).Msg("failed to load existing jobs")
	}

	srv, err := server.NewServer(cfg, jobQueue, worker.NewOfficeConverter(cfg.Worker.Command), logger)
	if err != nil {
		return err
	}
	if err := srv.Start(ctx); err != nil {
		return err
	}

	logger.Info().
		Str("storage", cfg.Storage.Driver).
		Int("workers", cfg.Worker.Count).
		Msg("conversion service started")

	<-ctx.Done()
	logger.Info().Msg("shutting down gracefully")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/jupark12/deck-viewer/config"
)

// New creates a zerolog logger from config. Output defaults to stderr so the viewer can use
// stdout for its own display.
func New(cfg config.LogConfig, out io.Writer) zerolog.Logger {
	if out == nil {
		out = os.Stderr
	}

	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}

	var base zerolog.Logger
	if strings.ToLower(cfg.Format) == "json" {
		base = zerolog.New(out)
	} else {
		base = zerolog.New(zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339})
	}
	return base.Level(level).With().Timestamp().Logger()
}

// TraceDuration logs start and end of name with the elapsed time at debug level.
// Usage: defer logging.TraceDuration(logger, "worker.convert")()
func TraceDuration(logger zerolog.Logger, name string) func() {
	start := time.Now()
	logger.Debug().Str("method", name).Msg("start")
	return func() {
		logger.Debug().Str("method", name).Dur("duration", time.Since(start)).Msg("finish")
	}
}

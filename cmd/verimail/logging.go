package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	charmlog "github.com/charmbracelet/log"

	"github.com/portalmagang/verimail/internal/config"
)

// setupLogger installs the default slog logger described by cfg.
func setupLogger(cfg config.LoggingConfig) error {
	handler, err := newLogHandler(os.Stdout, cfg)
	if err != nil {
		return err
	}
	slog.SetDefault(slog.New(handler))
	return nil
}

// newLogHandler returns a JSON handler, or a charmbracelet/log handler for
// the human-readable "text" format.
func newLogHandler(w io.Writer, cfg config.LoggingConfig) (slog.Handler, error) {
	level := parseLevel(cfg.Level)

	switch strings.ToLower(cfg.Format) {
	case "", "json":
		return slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}), nil
	case "text":
		return charmlog.NewWithOptions(w, charmlog.Options{
			Level:           charmlog.Level(level),
			ReportTimestamp: true,
		}), nil
	default:
		return nil, fmt.Errorf("unknown log format %q", cfg.Format)
	}
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

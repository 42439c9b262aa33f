// Package logging sets up demux's structured logger: log/slog
// rendered through github.com/lmittmann/tint. The teacher wraps tint
// in a small internal convenience package
// (github.com/vietddude/stylelog); demux configures the tint handler
// directly instead of carrying that dependency (see DESIGN.md).
package logging

import (
	"log/slog"
	"os"
	"time"

	"github.com/lmittmann/tint"
)

// Options configures the logger.
type Options struct {
	Level  string // debug, info, warn, error
	Format string // text, json
}

func (o Options) level() slog.Level {
	switch o.Level {
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

// New builds the root *slog.Logger and installs it via slog.SetDefault.
func New(opts Options) *slog.Logger {
	var handler slog.Handler
	if opts.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: opts.level()})
	} else {
		handler = tint.NewHandler(os.Stdout, &tint.Options{
			Level:      opts.level(),
			TimeFormat: time.RFC3339,
		})
	}

	log := slog.New(handler)
	slog.SetDefault(log)
	return log
}

package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Service is the value of the service attribute on every log line.
const Service = "stream-orchestrator"

// Config selects level, format and destination.
// Level: "debug", "info", "warn", "error" (default "info").
// Format: "json" or "text" (default "json").
// Output: "stdout" or "stderr" (default "stdout").
type Config struct {
	Level  string
	Format string
	Output string
}

// New returns a structured logger with the given level and format, writing
// JSON to stdout unless told otherwise.
func New(level, format string) *slog.Logger {
	return NewWithConfig(Config{Level: level, Format: format})
}

// NewWithConfig is New with an explicit output.
func NewWithConfig(cfg Config) *slog.Logger {
	var out io.Writer = os.Stdout
	if strings.ToLower(cfg.Output) == "stderr" {
		out = os.Stderr
	}
	return NewWriter(out, cfg)
}

// NewWriter builds the logger on top of w; cfg.Output is ignored.
func NewWriter(w io.Writer, cfg Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(cfg.Level)}

	var h slog.Handler
	if strings.ToLower(cfg.Format) == "text" {
		h = slog.NewTextHandler(w, opts)
	} else {
		h = slog.NewJSONHandler(w, opts)
	}
	h = h.WithAttrs([]slog.Attr{slog.String("service", Service)})

	return slog.New(h)
}

// ParseLevel maps a level name to slog.Level, defaulting to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

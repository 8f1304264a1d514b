// Package logging installs the process-wide slog logger.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// ParseLevel maps a level name to a slog.Level. Unknown names are info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

// New builds a text or JSON logger writing to w.
func New(level, format string, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(level)}
	var h slog.Handler
	if strings.ToLower(format) == "json" {
		h = slog.NewJSONHandler(w, opts)
	} else {
		h = slog.NewTextHandler(w, opts)
	}
	return slog.New(h)
}

// Setup builds a logger, installs it as the default and returns it. A nil
// writer means stderr.
func Setup(level, format string, w io.Writer) *slog.Logger {
	if w == nil {
		w = os.Stderr
	}
	l := New(level, format, w)
	slog.SetDefault(l)
	return l
}

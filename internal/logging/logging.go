// Package logging builds the slog logger shared by the binaries.
package logging

import (
	"io"
	"log"
	"log/slog"
	"os"
	"strings"
)

// Init returns a text logger writing to stdout and, when path is not empty,
// appending to path. The returned closer releases the log file.
func Init(path, level string) (*slog.Logger, io.Closer) {
	opts := &slog.HandlerOptions{Level: parseLevel(level)}
	if path == "" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts)), io.NopCloser(nil)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		l := slog.New(slog.NewTextHandler(os.Stdout, opts))
		l.Error("failed to open log file; falling back to stdout only", "path", path, "err", err)
		return l, io.NopCloser(nil)
	}
	mw := io.MultiWriter(os.Stdout, f)
	l := slog.New(slog.NewTextHandler(mw, opts))
	// libraries still using the stdlib logger end up in the same place
	log.SetOutput(mw)
	return l, f
}

// Discard returns a logger that drops everything, for tests.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func parseLevel(s string) slog.Level {
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

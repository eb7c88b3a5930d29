// Package slogger provides the shared LOG_LEVEL-aware slog initialization.
//
// Call Init() at the start of every pipeline binary. LOG_LEVEL accepts
// "debug", "info", "warn", "error" (default "info"); LOG_FORMAT accepts
// "text" or "json" (default "text").
package slogger

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

var level *slog.LevelVar

// Init configures the default slog logger on stdout from the environment.
func Init() {
	slog.SetDefault(New(os.Stdout, os.Getenv("LOG_LEVEL"), os.Getenv("LOG_FORMAT")))
}

// New builds a logger writing to w and remembers its level for IsDebug.
func New(w io.Writer, lvl, format string) *slog.Logger {
	level = &slog.LevelVar{}
	level.Set(parseLevel(lvl))

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if strings.EqualFold(strings.TrimSpace(format), "json") {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}

// Level returns the configured level, info when Init was never called.
func Level() slog.Level {
	if level == nil {
		return slog.LevelInfo
	}
	return level.Level()
}

// IsDebug reports whether debug output is enabled.
func IsDebug() bool {
	return Level() <= slog.LevelDebug
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
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

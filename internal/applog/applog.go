// Package applog wraps log/slog behind a single process-wide logger, the way
// the reference stack's own logger package does: one Init, a lazily
// initialized default, and thin Info/Warn/Error/Debug helpers so call sites
// don't thread a *slog.Logger through every function signature.
package applog

import (
	"log/slog"
	"os"
	"sync"
)

var (
	once   sync.Once
	logger *slog.Logger
)

// Config controls the process-wide logger.
type Config struct {
	Level     string // DEBUG, INFO, WARN, ERROR
	Format    string // json, text
	AddSource bool
}

// Init initializes the global logger. Safe to call multiple times; only the
// first call takes effect.
func Init(cfg Config) {
	once.Do(func() {
		logger = build(cfg)
		slog.SetDefault(logger)
	})
}

func build(cfg Config) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "DEBUG":
		level = slog.LevelDebug
	case "WARN":
		level = slog.LevelWarn
	case "ERROR":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level, AddSource: cfg.AddSource}

	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}

// Get returns the global logger, initializing it with defaults if needed.
func Get() *slog.Logger {
	if logger == nil {
		Init(Config{Level: "INFO", Format: "json"})
	}
	return logger
}

// With returns the global logger with the given node ID attached, the way
// every log line in a multi-replica cluster should identify its origin.
func With(serverID string) *slog.Logger {
	return Get().With("server_id", serverID)
}

func Info(msg string, args ...any)  { Get().Info(msg, args...) }
func Warn(msg string, args ...any)  { Get().Warn(msg, args...) }
func Error(msg string, args ...any) { Get().Error(msg, args...) }
func Debug(msg string, args ...any) { Get().Debug(msg, args...) }

package ops

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/sandwichfarm/nobo/internal/config"
)

// Logger is a structured logger wrapper
type Logger struct {
	*slog.Logger
	level  slog.Level
	format string
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger creates a new structured logger based on config
func NewLogger(cfg *config.Logging) *Logger {
	return NewLoggerWithWriter(cfg, os.Stdout)
}

// NewLoggerWithWriter creates a logger with a custom writer
func NewLoggerWithWriter(cfg *config.Logging, w io.Writer) *Logger {
	level := parseLevel(cfg.Level)

	opts := &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				if t, ok := a.Value.Any().(time.Time); ok {
					a.Value = slog.StringValue(t.Format(time.RFC3339))
				}
			}
			return a
		},
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	return &Logger{
		Logger: slog.New(handler),
		level:  level,
		format: cfg.Format,
	}
}

// WithComponent adds a component field to all log messages
func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{
		Logger: l.Logger.With("component", component),
		level:  l.level,
		format: l.format,
	}
}

// WithFields adds custom fields to the logger
func (l *Logger) WithFields(fields ...any) *Logger {
	return &Logger{
		Logger: l.Logger.With(fields...),
		level:  l.level,
		format: l.format,
	}
}

// IsDebugEnabled returns true if debug logging is enabled
func (l *Logger) IsDebugEnabled() bool {
	return l.level <= slog.LevelDebug
}

// Component-specific logger helpers

// LogRelayConnection logs a relay connection event
func (l *Logger) LogRelayConnection(relays int, connected bool, err error) {
	if err != nil {
		l.Warn("relay connection failed",
			"relays", relays,
			"error", err)
	} else if connected {
		l.Info("relay subscription established",
			"relays", relays)
	} else {
		l.Info("relay subscription closed",
			"relays", relays)
	}
}

// LogQueueExecution logs a posting queue job execution
func (l *Logger) LogQueueExecution(kind string, priority string, waited time.Duration, err error) {
	if err != nil {
		l.Error("queue job failed",
			"kind", kind,
			"priority", priority,
			"waited_ms", waited.Milliseconds(),
			"error", err)
	} else {
		l.Info("queue job executed",
			"kind", kind,
			"priority", priority,
			"waited_ms", waited.Milliseconds())
	}
}

// LogDiscoveryRound logs a discovery round outcome alongside the
// engine's lifetime counters.
func (l *Logger) LogDiscoveryRound(round, candidates, quality int, threshold, avgQuality float64, totalRounds, successfulRounds int) {
	l.Info("discovery round complete",
		"round", round,
		"candidates", candidates,
		"quality_interactions", quality,
		"threshold", threshold,
		"lifetime_avg_quality", avgQuality,
		"lifetime_rounds", totalRounds,
		"lifetime_successful_rounds", successfulRounds)
}

// LogStoreOperation logs a store operation
func (l *Logger) LogStoreOperation(op string, duration time.Duration, err error) {
	if err != nil {
		l.Error("store operation failed",
			"operation", op,
			"duration_ms", duration.Milliseconds(),
			"error", err)
	} else {
		l.Debug("store operation completed",
			"operation", op,
			"duration_ms", duration.Milliseconds())
	}
}

// LogBackupOperation logs a database backup or restore
func (l *Logger) LogBackupOperation(op string, path string, size int64, err error) {
	if err != nil {
		l.Error("backup operation failed",
			"operation", op,
			"path", path,
			"error", err)
	} else {
		l.Debug("backup operation completed",
			"operation", op,
			"path", path,
			"size_bytes", size)
	}
}

// LogStartup logs application startup information
func (l *Logger) LogStartup(version, commit string) {
	l.Info("nobo starting",
		"version", version,
		"commit", commit)
}

// LogShutdown logs application shutdown
func (l *Logger) LogShutdown(reason string) {
	l.Info("nobo shutting down",
		"reason", reason)
}

// LogPanic logs a panic with stack trace
func (l *Logger) LogPanic(recovered interface{}, stack string) {
	l.Error("panic recovered",
		"panic", fmt.Sprintf("%v", recovered),
		"stack", stack)
}

// Default logger configuration
var defaultLogger *Logger

func init() {
	// Create a default logger for early startup
	defaultLogger = NewLogger(&config.Logging{
		Level:  "info",
		Format: "text",
	})
}

// Default returns the default logger
func Default() *Logger {
	return defaultLogger
}

// SetDefault sets the default logger
func SetDefault(l *Logger) {
	defaultLogger = l
}

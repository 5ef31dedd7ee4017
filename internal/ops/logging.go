package ops

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/sandwichfarm/weft/internal/config"
)

// Logger is a structured logger wrapper
type Logger struct {
	*slog.Logger
	level  slog.Level
	format string
}

// NewLogger creates a new structured logger based on config
func NewLogger(cfg *config.Logging) *Logger {
	return NewLoggerWithWriter(cfg, os.Stdout)
}

// NewLoggerWithWriter creates a logger with a custom writer
func NewLoggerWithWriter(cfg *config.Logging, w io.Writer) *Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

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

// IsDebugEnabled returns true if debug logging is enabled
func (l *Logger) IsDebugEnabled() bool {
	return l.level <= slog.LevelDebug
}

// Component-specific logger helpers

// LogFeedStatus logs a feed status transition
func (l *Logger) LogFeedStatus(source string, state string, attempt, maxRetries int, err error) {
	if err != nil {
		l.Warn("feed status",
			"source", source,
			"state", state,
			"attempt", attempt,
			"max_retries", maxRetries,
			"error", err)
	} else {
		l.Info("feed status",
			"source", source,
			"state", state)
	}
}

// LogSubscription logs a subscription lifecycle event
func (l *Logger) LogSubscription(source string, opened bool, events int) {
	if opened {
		l.Debug("subscription opened", "source", source)
	} else {
		l.Debug("subscription closed",
			"source", source,
			"events", events)
	}
}

// LogThreadResolution logs ancestor/tree resolution progress
func (l *Logger) LogThreadResolution(target string, ancestors, nodes int, partial bool) {
	l.Debug("thread resolved",
		"target", target,
		"ancestors", ancestors,
		"nodes", nodes,
		"partial", partial)
}

// LogHydrationBatch logs a dispatched engagement count batch
func (l *Logger) LogHydrationBatch(ids int, immediate bool, duration time.Duration, err error) {
	if err != nil {
		l.Error("hydration batch failed",
			"ids", ids,
			"immediate", immediate,
			"duration_ms", duration.Milliseconds(),
			"error", err)
	} else {
		l.Debug("hydration batch completed",
			"ids", ids,
			"immediate", immediate,
			"duration_ms", duration.Milliseconds())
	}
}

// LogPagination logs a load-older page result
func (l *Logger) LogPagination(source string, requested, received int, canLoadMore bool) {
	l.Debug("page loaded",
		"source", source,
		"requested", requested,
		"received", received,
		"can_load_more", canLoadMore)
}

// LogStartup logs application startup information
func (l *Logger) LogStartup(version, commit string) {
	l.Info("weft starting",
		"version", version,
		"commit", commit)
}

// LogShutdown logs application shutdown
func (l *Logger) LogShutdown(reason string) {
	l.Info("weft shutting down",
		"reason", reason)
}

// Default logger configuration
var defaultLogger *Logger

func init() {
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

// Package ops holds the logging and error-classification primitives
// shared across the relay coordination core.
package ops

import (
	"log/slog"
	"os"
	"strings"
	"time"
)

// Logger is a structured logger wrapper around log/slog.
type Logger struct {
	*slog.Logger
	level  slog.Level
	format string
}

// LogConfig configures level and output format for NewLogger.
type LogConfig struct {
	Level  string // debug, info, warn, error
	Format string // json or text
}

// NewLogger builds a Logger writing to stdout per cfg.
func NewLogger(cfg LogConfig) *Logger {
	return newLogger(cfg, os.Stdout)
}

// NewLoggerWithWriter builds a Logger writing to w, for tests.
func NewLoggerWithWriter(cfg LogConfig, w interface {
	Write([]byte) (int, error)
}) *Logger {
	return newLogger(cfg, w)
}

func newLogger(cfg LogConfig, w interface {
	Write([]byte) (int, error)
}) *Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
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

	return &Logger{Logger: slog.New(handler), level: level, format: cfg.Format}
}

// WithComponent returns a logger annotated with a component field.
func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{Logger: l.Logger.With("component", component), level: l.level, format: l.format}
}

// LogRelayConnection records the outcome of a Minion handshake attempt.
func (l *Logger) LogRelayConnection(url string, connected bool, err error) {
	if err != nil {
		l.Warn("relay connection failed", "relay", url, "error", err)
		return
	}
	l.Info("relay connected", "relay", url, "connected", connected)
}

// LogMinionExit records why a Minion task ended and the exclusion applied.
func (l *Logger) LogMinionExit(url string, exclusion time.Duration, err error) {
	if err != nil {
		l.Warn("minion exited", "relay", url, "exclusion", exclusion.String(), "error", err)
		return
	}
	l.Info("minion exited cleanly", "relay", url)
}

// LogPick records the outcome of one picker pass.
func (l *Logger) LogPick(winner string, covered int, err error) {
	if err != nil {
		l.Debug("pick produced no assignment", "error", err)
		return
	}
	l.Info("pick assigned relay", "relay", winner, "covered_identities", covered)
}

// LogJobLifecycle records a job being engaged or finished.
func (l *Logger) LogJobLifecycle(event, url string, reason string, jobID uint64) {
	l.Debug("job lifecycle", "event", event, "relay", url, "reason", reason, "job_id", jobID)
}

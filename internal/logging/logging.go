// Package logging provides structured logging for the detection pipeline
// using the standard library slog package.
//
// Production runs emit JSON for log aggregation; development runs emit
// human-readable text. Cycle and request IDs travel through context so every
// log line of one analysis cycle correlates.
//
// Usage:
//
//	logger := logging.New(logging.Config{
//	    Level:  slog.LevelInfo,
//	    Format: logging.FormatJSON,
//	})
//
//	ctx = logging.WithCycleID(ctx, cycleID)
//	logging.FromContext(ctx).Info("cycle complete", slog.Int("reports", n))
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
)

// Format specifies the log output format.
type Format string

const (
	// FormatJSON outputs structured JSON logs for production.
	FormatJSON Format = "json"

	// FormatText outputs human-readable text logs for development.
	FormatText Format = "text"
)

type contextKey string

const (
	loggerKey    contextKey = "streamlens_logger"
	cycleIDKey   contextKey = "streamlens_cycle_id"
	requestIDKey contextKey = "streamlens_request_id"
)

// Config holds logger configuration.
type Config struct {
	// Level is the minimum level to emit; zero value means Info.
	Level slog.Level

	// Format selects JSON or text output; empty means text.
	Format Format

	// Output is the destination writer; nil means stderr.
	Output io.Writer

	// AddSource includes file:line in records.
	AddSource bool
}

// New builds a logger from the config and installs it as slog's default.
func New(config Config) *slog.Logger {
	if config.Output == nil {
		config.Output = os.Stderr
	}

	opts := &slog.HandlerOptions{
		Level:     config.Level,
		AddSource: config.AddSource,
	}

	var handler slog.Handler
	if config.Format == FormatJSON {
		handler = slog.NewJSONHandler(config.Output, opts)
	} else {
		handler = slog.NewTextHandler(config.Output, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// ParseLevel maps a level name to its slog value; unknown names mean Info.
func ParseLevel(name string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(name)) {
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

// ParseFormat maps a format name to its Format; unknown names mean text.
func ParseFormat(name string) Format {
	if strings.EqualFold(strings.TrimSpace(name), string(FormatJSON)) {
		return FormatJSON
	}
	return FormatText
}

// WithLogger stores a logger in the context.
func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// WithCycleID tags the context with an analysis cycle ID.
func WithCycleID(ctx context.Context, cycleID string) context.Context {
	return context.WithValue(ctx, cycleIDKey, cycleID)
}

// WithRequestID tags the context with an HTTP request ID.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// FromContext returns the context's logger enriched with any cycle and
// request IDs present, falling back to the process default.
func FromContext(ctx context.Context) *slog.Logger {
	logger, ok := ctx.Value(loggerKey).(*slog.Logger)
	if !ok {
		logger = slog.Default()
	}
	if cycleID, ok := ctx.Value(cycleIDKey).(string); ok {
		logger = logger.With("cycle_id", cycleID)
	}
	if requestID, ok := ctx.Value(requestIDKey).(string); ok {
		logger = logger.With("request_id", requestID)
	}
	return logger
}

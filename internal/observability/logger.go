package observability

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	charmlog "github.com/charmbracelet/log"
)

type ctxKey string

const (
	ctxKeyRequestID ctxKey = "request_id"
)

// basic global logger, text to stderr until Configure is called.
var logger = slog.New(newHandler(os.Stderr, "info", "text"))

// Configure replaces the global logger. format is "text" or "json".
func Configure(w io.Writer, level, format string) *slog.Logger {
	logger = slog.New(newHandler(w, level, format))
	return logger
}

func newHandler(w io.Writer, level, format string) *charmlog.Logger {
	lvl, err := charmlog.ParseLevel(strings.ToLower(level))
	if err != nil {
		lvl = charmlog.InfoLevel
	}

	opts := charmlog.Options{
		Level:           lvl,
		ReportTimestamp: true,
		Prefix:          "riseup",
	}
	if format == "json" {
		opts.Formatter = charmlog.JSONFormatter
	}

	return charmlog.NewWithOptions(w, opts)
}

func Logger() *slog.Logger {
	return logger
}

// Discard returns a logger that drops everything, handy in tests.
func Discard() *slog.Logger {
	return slog.New(newHandler(io.Discard, "error", "text"))
}

// WithFields returns a logger with additional fields.
func WithFields(kv ...any) *slog.Logger {
	return logger.With(kv...)
}

// WithRequestID stores a request_id in the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, ctxKeyRequestID, requestID)
}

// RequestIDFromContext returns the request_id stored by WithRequestID.
func RequestIDFromContext(ctx context.Context) string {
	reqID, _ := ctx.Value(ctxKeyRequestID).(string)
	return reqID
}

// LoggerFromContext adds request_id if present.
func LoggerFromContext(ctx context.Context) *slog.Logger {
	reqID := RequestIDFromContext(ctx)
	if reqID == "" {
		return logger
	}
	return logger.With("request_id", reqID)
}

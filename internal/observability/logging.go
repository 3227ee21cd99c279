package observability

import (
	"context"
	"net/http"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/pitabwire/restkit/internal/config"
)

type loggerKey struct{}

// NewLogger creates a zap.Logger configured for JSON output to stderr, so
// that CLI output on stdout stays machine-readable.
//
// Log level usage conventions:
//   - error: transport failures that exhausted every policy
//   - warn:  retries, open circuit breaker, mapped error statuses
//   - info:  client construction, mock server lifecycle
//   - debug: request/response exchange details, cache hits, page fetches
func NewLogger(cfg config.ObservabilityConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zapcore.InfoLevel
	}

	zapCfg := zap.Config{
		Level:       zap.NewAtomicLevelAt(level),
		Development: false,
		Encoding:    "json",
		EncoderConfig: zapcore.EncoderConfig{
			TimeKey:        "timestamp",
			LevelKey:       "level",
			NameKey:        "logger",
			CallerKey:      "caller",
			MessageKey:     "msg",
			StacktraceKey:  "stacktrace",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.LowercaseLevelEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.MillisDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		},
		OutputPaths:      []string{"stderr"},
		ErrorOutputPaths: []string{"stderr"},
	}

	return zapCfg.Build()
}

// WithLogger stores a logger in the context.
func WithLogger(ctx context.Context, logger *zap.Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, logger)
}

// LoggerFrom returns the logger stored in the context, or the provided
// fallback if none is found. A nil fallback yields a no-op logger.
func LoggerFrom(ctx context.Context, fallback *zap.Logger) *zap.Logger {
	if l, ok := ctx.Value(loggerKey{}).(*zap.Logger); ok && l != nil {
		return l
	}
	if fallback == nil {
		return zap.NewNop()
	}
	return fallback
}

// OperationLogger returns a logger enriched with the operation ID and the
// active trace ID, if any.
func OperationLogger(ctx context.Context, fallback *zap.Logger, operationID string) *zap.Logger {
	logger := LoggerFrom(ctx, fallback).With(zap.String("operation_id", operationID))
	if traceID := TraceIDFromContext(ctx); traceID != "" {
		logger = logger.With(zap.String("trace_id", traceID))
	}
	return logger
}

// defaultSensitiveHeaders are redacted from debug logging output.
var defaultSensitiveHeaders = map[string]bool{
	"authorization":             true,
	"proxy-authorization":       true,
	"cookie":                    true,
	"set-cookie":                true,
	"x-api-key":                 true,
	"ocp-apim-subscription-key": true,
}

// RedactHeaders returns a flattened copy of h with sensitive values replaced
// by "[REDACTED]". Extra names are matched case-insensitively.
func RedactHeaders(h http.Header, extra ...string) map[string]string {
	if h == nil {
		return nil
	}
	redact := make(map[string]bool, len(defaultSensitiveHeaders)+len(extra))
	for k := range defaultSensitiveHeaders {
		redact[k] = true
	}
	for _, k := range extra {
		redact[strings.ToLower(k)] = true
	}

	out := make(map[string]string, len(h))
	for k, vs := range h {
		if redact[strings.ToLower(k)] {
			out[k] = "[REDACTED]"
			continue
		}
		out[k] = strings.Join(vs, ", ")
	}
	return out
}

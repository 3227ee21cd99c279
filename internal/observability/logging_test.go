package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/pitabwire/restkit/internal/config"
)

// newTestLogger creates a logger that writes JSON to a buffer for assertion.
func newTestLogger(buf *bytes.Buffer) *zap.Logger {
	enc := zapcore.NewJSONEncoder(zapcore.EncoderConfig{
		TimeKey:        "timestamp",
		LevelKey:       "level",
		MessageKey:     "msg",
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.MillisDurationEncoder,
	})
	core := zapcore.NewCore(enc, zapcore.AddSync(buf), zapcore.DebugLevel)
	return zap.New(core)
}

func TestNewLogger_defaultLevel(t *testing.T) {
	logger, err := NewLogger(config.ObservabilityConfig{LogLevel: "info"})
	if err != nil {
		t.Fatalf("NewLogger() error = %v", err)
	}
	defer logger.Sync()

	if !logger.Core().Enabled(zapcore.InfoLevel) {
		t.Error("info level should be enabled")
	}
	if logger.Core().Enabled(zapcore.DebugLevel) {
		t.Error("debug level should NOT be enabled at info level")
	}
}

func TestNewLogger_invalidLevel_defaultsToInfo(t *testing.T) {
	logger, err := NewLogger(config.ObservabilityConfig{LogLevel: "bogus"})
	if err != nil {
		t.Fatalf("NewLogger() error = %v", err)
	}
	defer logger.Sync()

	if !logger.Core().Enabled(zapcore.InfoLevel) {
		t.Error("should default to info level")
	}
	if logger.Core().Enabled(zapcore.DebugLevel) {
		t.Error("debug should NOT be enabled with invalid level")
	}
}

func TestNewLogger_allLevels(t *testing.T) {
	for _, level := range []string{"debug", "info", "warn", "error"} {
		logger, err := NewLogger(config.ObservabilityConfig{LogLevel: level})
		if err != nil {
			t.Fatalf("NewLogger(%q) error = %v", level, err)
		}
		_ = logger.Sync()
	}
}

func TestWithLogger_and_LoggerFrom(t *testing.T) {
	logger := zap.NewNop()
	ctx := WithLogger(context.Background(), logger)

	if got := LoggerFrom(ctx, nil); got != logger {
		t.Error("LoggerFrom should return the stored logger")
	}
}

func TestLoggerFrom_fallback(t *testing.T) {
	fallback := zap.NewNop()
	if got := LoggerFrom(context.Background(), fallback); got != fallback {
		t.Error("LoggerFrom should return fallback when no logger in context")
	}
	if got := LoggerFrom(context.Background(), nil); got == nil {
		t.Error("LoggerFrom with nil fallback should return a no-op logger")
	}
}

func TestOperationLogger_addsFields(t *testing.T) {
	setupTestTracer(t)

	var buf bytes.Buffer
	logger := newTestLogger(&buf)

	ctx, span := StartSpan(context.Background(), "op")
	defer span.End()

	OperationLogger(ctx, logger, "getWidget").Info("sent")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to parse log entry: %v", err)
	}
	if entry["operation_id"] != "getWidget" {
		t.Errorf("operation_id = %v, want getWidget", entry["operation_id"])
	}
	if entry["trace_id"] != TraceIDFromContext(ctx) {
		t.Errorf("trace_id = %v, want %s", entry["trace_id"], TraceIDFromContext(ctx))
	}
}

func TestOperationLogger_noSpan(t *testing.T) {
	var buf bytes.Buffer
	OperationLogger(context.Background(), newTestLogger(&buf), "listWidgets").Info("sent")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to parse log entry: %v", err)
	}
	if _, ok := entry["trace_id"]; ok {
		t.Error("trace_id should be absent without an active span")
	}
}

func TestRedactHeaders(t *testing.T) {
	h := http.Header{}
	h.Set("Authorization", "Bearer secret")
	h.Set("Cookie", "session=1")
	h.Set("X-Tenant", "acme")
	h.Add("Accept", "application/json")
	h.Add("Accept", "text/plain")

	got := RedactHeaders(h, "x-tenant")

	if got["Authorization"] != "[REDACTED]" {
		t.Errorf("Authorization = %q, want redacted", got["Authorization"])
	}
	if got["Cookie"] != "[REDACTED]" {
		t.Errorf("Cookie = %q, want redacted", got["Cookie"])
	}
	if got["X-Tenant"] != "[REDACTED]" {
		t.Errorf("X-Tenant = %q, want redacted by extra name", got["X-Tenant"])
	}
	if got["Accept"] != "application/json, text/plain" {
		t.Errorf("Accept = %q", got["Accept"])
	}
	if h.Get("Authorization") != "Bearer secret" {
		t.Error("RedactHeaders should not mutate the original header")
	}
}

func TestRedactHeaders_nil(t *testing.T) {
	if got := RedactHeaders(nil); got != nil {
		t.Errorf("RedactHeaders(nil) = %v, want nil", got)
	}
}

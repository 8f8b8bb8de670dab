package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/lidarcap/internal/config"
)

func TestNewLogger_JSONFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter(config.LoggingConfig{Level: "info", Format: "json"}, &buf)
	logger.Info("test message", slog.String("key", "value"))

	assert.Contains(t, buf.String(), `"key":"value"`)

	var parsed map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &parsed))
	assert.Equal(t, "test message", parsed["msg"])
}

func TestNewLogger_TextFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter(config.LoggingConfig{Level: "info", Format: "text"}, &buf)
	logger.Info("test message", slog.String("key", "value"))

	assert.Contains(t, buf.String(), "key=value")
}

func TestNewLogger_Levels(t *testing.T) {
	tests := []struct {
		name        string
		configLevel string
		logLevel    slog.Level
		shouldLog   bool
	}{
		{"debug logs at debug level", "debug", slog.LevelDebug, true},
		{"info does not log debug", "info", slog.LevelDebug, false},
		{"warn does not log info", "warn", slog.LevelInfo, false},
		{"error logs at error level", "error", slog.LevelError, true},
		{"trace logs at trace level", "trace", LevelTrace, true},
		{"debug does not log trace", "debug", LevelTrace, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := NewLoggerWithWriter(config.LoggingConfig{Level: tt.configLevel, Format: "json"}, &buf)
			logger.Log(context.Background(), tt.logLevel, "test")

			if tt.shouldLog {
				assert.NotEmpty(t, buf.String())
			} else {
				assert.Empty(t, buf.String())
			}
		})
	}
}

func TestTraceLevelDisplay(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter(config.LoggingConfig{Level: "trace", Format: "json"}, &buf)
	logger.Log(context.Background(), LevelTrace, "frame stored")

	assert.Contains(t, buf.String(), `"level":"TRACE"`)
}

func TestNewLogger_AddSource(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter(config.LoggingConfig{Level: "info", Format: "json", AddSource: true}, &buf)
	logger.Info("test message")

	assert.Contains(t, buf.String(), "logpos")
	assert.Contains(t, buf.String(), "internal/observability/logger_test.go:")
}

func TestNewLogger_CustomTimeFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter(config.LoggingConfig{Level: "info", Format: "json", TimeFormat: "2006-01-02"}, &buf)
	logger.Info("test message")

	assert.Contains(t, buf.String(), time.Now().Format("2006-01-02"))
}

func TestNewLogger_RedactsConfiguredFields(t *testing.T) {
	var buf bytes.Buffer
	cfg := config.LoggingConfig{Level: "info", Format: "json", RedactFields: []string{"device_id"}}
	logger := NewLoggerWithWriter(cfg, &buf)
	logger.Info("manifest written", slog.String("device_id", "A1B2-C3D4"), slog.String("stream", "rgb_video"))

	assert.NotContains(t, buf.String(), "A1B2-C3D4")
	assert.Contains(t, buf.String(), "[REDACTED]")
	assert.Contains(t, buf.String(), `"stream":"rgb_video"`)
}

func TestNewLogger_RedactsTaggedStructFields(t *testing.T) {
	type credentials struct {
		User     string
		Password string `masq:"secret"`
	}

	var buf bytes.Buffer
	logger := NewLoggerWithWriter(config.LoggingConfig{Level: "info", Format: "json"}, &buf)
	logger.Info("connecting", slog.Any("creds", credentials{User: "capture", Password: "hunter2"}))

	assert.NotContains(t, buf.String(), "hunter2")
	assert.Contains(t, buf.String(), "capture")
}

func TestLoggerHelpers(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter(config.LoggingConfig{Level: "info", Format: "json"}, &buf)

	enriched := WithComponent(WithRecordingID(WithApp(logger, "lidarcap"), "01HZX"), "session")
	enriched = WithError(WithOperation(enriched, "stop"), errors.New("boom"))
	enriched.Info("test")

	out := buf.String()
	assert.Contains(t, out, `"app":"lidarcap"`)
	assert.Contains(t, out, `"recording_id":"01HZX"`)
	assert.Contains(t, out, `"component":"session"`)
	assert.Contains(t, out, `"operation":"stop"`)
	assert.Contains(t, out, `"error":"boom"`)
}

func TestWithError_Nil(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter(config.LoggingConfig{Level: "info", Format: "json"}, &buf)
	WithError(logger, nil).Info("test")

	assert.NotContains(t, buf.String(), `"error"`)
}

func TestContextHelpers(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter(config.LoggingConfig{Level: "info", Format: "json"}, &buf)

	ctx := ContextWithLogger(context.Background(), logger)
	LoggerFromContext(ctx).Info("from context")
	assert.Contains(t, buf.String(), "from context")
	assert.NotNil(t, LoggerFromContext(context.Background()))

	ctx = ContextWithRequestID(ctx, "req-789")
	ctx = ContextWithRecordingID(ctx, "rec-1")
	assert.Equal(t, "req-789", RequestIDFromContext(ctx))
	assert.Equal(t, "rec-1", RecordingIDFromContext(ctx))
	assert.Empty(t, RequestIDFromContext(context.Background()))
}

func TestTimedOperationWithError(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter(config.LoggingConfig{Level: "info", Format: "json"}, &buf)

	var err error
	done := TimedOperationWithError(context.Background(), logger, "merge_audio", &err)
	err = errors.New("no audio track")
	done()

	assert.Contains(t, buf.String(), "operation failed")
	assert.Contains(t, buf.String(), "no audio track")

	buf.Reset()
	TimedOperation(context.Background(), logger, "finalize")()
	assert.Contains(t, buf.String(), "operation completed")
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, LevelTrace, parseLevel("trace"))
	assert.Equal(t, slog.LevelWarn, parseLevel("warn"))
	assert.Equal(t, slog.LevelInfo, parseLevel("unknown"))
}

package logging

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogLevel_String(t *testing.T) {
	tests := []struct {
		level    LogLevel
		expected string
	}{
		{DebugLevel, "DEBUG"},
		{InfoLevel, "INFO"},
		{WarnLevel, "WARN"},
		{ErrorLevel, "ERROR"},
		{LogLevel(99), "UNKNOWN"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.level.String())
		})
	}
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, DebugLevel, ParseLevel("debug"))
	assert.Equal(t, WarnLevel, ParseLevel("WARNING"))
	assert.Equal(t, ErrorLevel, ParseLevel("Error"))
	assert.Equal(t, InfoLevel, ParseLevel("nonsense"))
}

func newBufferLogger(t *testing.T, format string) (Logger, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	logger, err := NewZapLogger(LogConfig{Level: DebugLevel, Output: &buf, Format: format})
	require.NoError(t, err)
	return logger, &buf
}

func TestZapAdapter_Levels(t *testing.T) {
	logger, buf := newBufferLogger(t, "console")

	logger.Debug("debug message", String("server", "dicom-a"))
	logger.Info("info message")
	logger.Warn("warn message")
	logger.Error("error message", errors.New("boom"))

	out := buf.String()
	assert.Contains(t, out, "DEBUG")
	assert.Contains(t, out, "debug message")
	assert.Contains(t, out, "dicom-a")
	assert.Contains(t, out, "WARN")
	assert.Contains(t, out, "boom")
}

func TestZapAdapter_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewZapLogger(LogConfig{Level: WarnLevel, Output: &buf})
	require.NoError(t, err)

	logger.Info("hidden")
	logger.Warn("shown")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")
}

func TestZapAdapter_JSONRedactsSecretFields(t *testing.T) {
	logger, buf := newBufferLogger(t, "json")

	logger.Info("token acquired",
		String("access_token", "eyJhbGciOi.payload.sig"),
		String("client_secret", "s3cr3t"),
		String("endpoint", "https://login.example.com/token"),
	)

	out := buf.String()
	assert.NotContains(t, out, "eyJhbGciOi.payload.sig")
	assert.NotContains(t, out, "s3cr3t")
	assert.Contains(t, out, Redacted)
	assert.Contains(t, out, "https://login.example.com/token")
}

func TestZapAdapter_RedactsErrorsAndMessages(t *testing.T) {
	logger, buf := newBufferLogger(t, "console")

	logger.Error("request failed with Authorization: Bearer abc.def.ghi",
		errors.New("client_secret=hunter2 rejected"))

	out := buf.String()
	assert.NotContains(t, out, "abc.def.ghi")
	assert.NotContains(t, out, "hunter2")
}

func TestZapAdapter_WithContext(t *testing.T) {
	logger, buf := newBufferLogger(t, "json")

	ctx := ContextWithServer(context.Background(), "dicom-a")
	ctx = ContextWithAttemptID(ctx, "attempt-1")
	logger.WithContext(ctx).Info("acquiring")

	out := buf.String()
	assert.Contains(t, out, `"server":"dicom-a"`)
	assert.Contains(t, out, `"attempt_id":"attempt-1"`)

	id, ok := AttemptIDFromContext(ctx)
	assert.True(t, ok)
	assert.Equal(t, "attempt-1", id)

	// Context without values returns the same logger
	assert.Same(t, logger, logger.WithContext(context.Background()))
}

func TestZapAdapter_WithFields(t *testing.T) {
	logger, buf := newBufferLogger(t, "json")

	child := logger.WithFields(String("component", "cache"))
	child.Info("hit")

	assert.Contains(t, buf.String(), `"component":"cache"`)
	assert.Same(t, logger, logger.WithFields())
}

func TestRedactValue(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value interface{}
		want  interface{}
	}{
		{"secret key", "Authorization", "Bearer xyz", Redacted},
		{"plain string", "endpoint", "https://x", "https://x"},
		{"bearer in string", "header", "Bearer tok.en", "Bearer " + Redacted},
		{"non string", "attempt", 3, 3},
		{"error", "error", errors.New("password=abc"), "password=" + Redacted},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, RedactValue(tt.key, tt.value))
		})
	}
}

func TestRedactValue_Maps(t *testing.T) {
	got := RedactValue("form", map[string]string{
		"client_id":     "app",
		"client_secret": "shh",
	}).(map[string]string)
	assert.Equal(t, "app", got["client_id"])
	assert.Equal(t, Redacted, got["client_secret"])

	nested := RedactValue("body", map[string]interface{}{
		"token": "abc",
		"inner": map[string]interface{}{"password": "p"},
	}).(map[string]interface{})
	assert.Equal(t, Redacted, nested["token"])
	assert.Equal(t, Redacted, nested["inner"].(map[string]interface{})["password"])
}

func TestParseFormat(t *testing.T) {
	assert.Equal(t, FormatJSON, ParseFormat(""))
	assert.Equal(t, FormatJSON, ParseFormat("json"))
	assert.Equal(t, FormatJSON, ParseFormat("xml"))
	assert.Equal(t, FormatConsole, ParseFormat(" Console "))
}

func TestDefaultLogConfig_JSONWhenUnset(t *testing.T) {
	t.Setenv("LOG_FORMAT", "")
	t.Setenv("LOG_LEVEL", "warn")

	config := DefaultLogConfig()
	assert.Equal(t, FormatJSON, config.Format)
	assert.Equal(t, WarnLevel, config.Level)
	assert.Nil(t, config.Output)

	var buf bytes.Buffer
	config.Output = &buf
	logger, err := NewZapLogger(config)
	require.NoError(t, err)
	logger.Warn("json by default")
	assert.True(t, strings.HasPrefix(buf.String(), "{"), "got %q", buf.String())
}

func TestGlobalLogger(t *testing.T) {
	original := GetGlobalLogger()
	defer SetGlobalLogger(original)

	var buf bytes.Buffer
	logger, err := NewZapLogger(LogConfig{Level: DebugLevel, Output: &buf})
	require.NoError(t, err)
	SetGlobalLogger(logger)

	Error("global error", errors.New("boom"), Int("count", 2))
	WithFields(Bool("cached", true)).Debug("global debug")

	out := buf.String()
	assert.True(t, strings.Contains(out, "global error"))
	assert.Contains(t, out, "boom")
	assert.Contains(t, out, "cached")
}

func TestNopLogger(t *testing.T) {
	logger := NewNopLogger()
	assert.NotPanics(t, func() {
		logger.Info("nothing")
		logger.Error("nothing", errors.New("x"))
		logger.WithFields(String("a", "b")).Debug("nothing")
	})
}

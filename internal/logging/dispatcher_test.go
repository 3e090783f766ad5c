package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry), buf.String())
	return entry
}

func TestDispatcherLogger_Debug(t *testing.T) {
	var buf bytes.Buffer
	dl := NewDispatcherLogger(zerolog.New(&buf).Level(zerolog.DebugLevel))

	dl.Debug("test message", "key1", "value1", "key2", 42)

	entry := decodeLine(t, &buf)
	assert.Equal(t, "debug", entry["level"])
	assert.Equal(t, "test message", entry["message"])
	assert.Equal(t, "value1", entry["key1"])
	assert.Equal(t, float64(42), entry["key2"])
	assert.Equal(t, "dispatcher", entry["component"])
}

func TestDispatcherLogger_Info(t *testing.T) {
	var buf bytes.Buffer
	dl := NewDispatcherLogger(zerolog.New(&buf))

	dl.Info("info message", "status", "ok")

	entry := decodeLine(t, &buf)
	assert.Equal(t, "info", entry["level"])
	assert.Equal(t, "ok", entry["status"])
}

func TestDispatcherLogger_Error(t *testing.T) {
	var buf bytes.Buffer
	dl := NewDispatcherLogger(zerolog.New(&buf).Level(zerolog.ErrorLevel))

	dl.Info("filtered")
	dl.Error("error occurred", "code", 500, "reason", "internal")

	entry := decodeLine(t, &buf)
	assert.Equal(t, "error", entry["level"])
	assert.Equal(t, "error occurred", entry["message"])
	assert.Equal(t, float64(500), entry["code"])
}

func TestToFields_DropsBadPairs(t *testing.T) {
	got := toFields([]any{"a", 1, 2, "b", "dangling"})
	assert.Equal(t, map[string]any{"a": 1}, got)
}

func TestDispatcherLogger_ImplementsInterface(t *testing.T) {
	var _ interface {
		Debug(msg string, keysAndValues ...any)
		Info(msg string, keysAndValues ...any)
		Error(msg string, keysAndValues ...any)
	} = NewDispatcherLogger(zerolog.Nop())
}

func TestParseZerologLevel(t *testing.T) {
	assert.Equal(t, zerolog.DebugLevel, ParseZerologLevel("debug"))
	assert.Equal(t, zerolog.InfoLevel, ParseZerologLevel("INFO"))
	assert.Equal(t, zerolog.WarnLevel, ParseZerologLevel("warn"))
	assert.Equal(t, zerolog.ErrorLevel, ParseZerologLevel("error"))
	assert.Equal(t, zerolog.InfoLevel, ParseZerologLevel("bogus"))
}

func TestNewZerolog(t *testing.T) {
	var buf bytes.Buffer
	log := NewZerolog(&buf, "warn")

	log.Info().Msg("quiet")
	log.Warn().Str("db", "sqlite").Msg("fallback")

	out := buf.String()
	assert.NotContains(t, out, "quiet")
	assert.Contains(t, out, "fallback")
	assert.Contains(t, out, "db=sqlite")
}

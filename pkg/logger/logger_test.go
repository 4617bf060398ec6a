package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func captureLogs(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	old := Get()
	Set(slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))
	t.Cleanup(func() { Set(old) })
	return &buf
}

func TestInfof(t *testing.T) {
	buf := captureLogs(t)

	Infof("hello %s", "world")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "hello world", entry["msg"])
	assert.Equal(t, "INFO", entry["level"])
}

func TestInfow(t *testing.T) {
	buf := captureLogs(t)

	Infow("session registered", "id", "abc", "prefix", "/t/a")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "session registered", entry["msg"])
	assert.Equal(t, "abc", entry["id"])
	assert.Equal(t, "/t/a", entry["prefix"])
}

func TestDefaultLoggerNeverNil(t *testing.T) {
	assert.NotNil(t, Get())
}

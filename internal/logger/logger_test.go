package logger_test

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tommypj/ai-content-saas-backend/internal/logger"
)

func TestNew_JSON(t *testing.T) {
	var buf bytes.Buffer
	log := logger.New(&buf, "info", "json")

	log.Info("job claimed", "job_id", "abc")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "job claimed", entry["msg"])
	assert.Equal(t, "abc", entry["job_id"])
}

func TestNew_LevelFilters(t *testing.T) {
	var buf bytes.Buffer
	log := logger.New(&buf, "warn", "json")

	log.Info("hidden")
	assert.Empty(t, buf.String())

	log.Warn("shown")
	assert.Contains(t, buf.String(), "shown")
}

func TestNew_Console(t *testing.T) {
	var buf bytes.Buffer
	log := logger.New(&buf, "debug", "console")

	log.Debug("tick", "instance_id", "w1")
	out := buf.String()
	assert.Contains(t, out, "tick")
	assert.Contains(t, out, "w1")
	assert.False(t, json.Valid(buf.Bytes()))
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, logger.ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, logger.ParseLevel("warning"))
	assert.Equal(t, slog.LevelError, logger.ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, logger.ParseLevel("nonsense"))
}

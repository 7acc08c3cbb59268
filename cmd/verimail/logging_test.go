package main

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/portalmagang/verimail/internal/config"
)

func TestNewLogHandler_JSON(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	h, err := newLogHandler(&buf, config.LoggingConfig{Level: "warn", Format: "json"})
	require.NoError(t, err)

	logger := slog.New(h)
	logger.Info("hidden")
	logger.Warn("shown", "to", "budi@student.unsika.ac.id")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "shown", entry["msg"])
	assert.Equal(t, "budi@student.unsika.ac.id", entry["to"])
}

func TestNewLogHandler_Text(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	h, err := newLogHandler(&buf, config.LoggingConfig{Level: "debug", Format: "text"})
	require.NoError(t, err)
	assert.True(t, h.Enabled(context.Background(), slog.LevelDebug))

	slog.New(h).Info("virtual mail", "to", "budi@student.unsika.ac.id")
	assert.Contains(t, buf.String(), "virtual mail")
	assert.Contains(t, buf.String(), "budi@student.unsika.ac.id")
}

func TestNewLogHandler_UnknownFormat(t *testing.T) {
	t.Parallel()

	_, err := newLogHandler(&bytes.Buffer{}, config.LoggingConfig{Format: "xml"})
	assert.Error(t, err)
}

func TestParseLevel(t *testing.T) {
	t.Parallel()

	tests := map[string]slog.Level{
		"debug": slog.LevelDebug,
		"DEBUG": slog.LevelDebug,
		"info":  slog.LevelInfo,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
		"":      slog.LevelInfo,
		"bogus": slog.LevelInfo,
	}
	for in, want := range tests {
		assert.Equal(t, want, parseLevel(in), "level %q", in)
	}
}

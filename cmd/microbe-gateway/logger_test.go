package main

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NightFury20/microbe-messaging/internal/config"
)

func TestColorHandler(t *testing.T) {
	color.NoColor = true

	var buf bytes.Buffer
	logger := newLogger(config.LoggingConfig{Level: "info", Format: "text"}, &buf)

	logger.Debug("hidden")
	logger.With("component", "hub").WithGroup("req").Info("joined", "user_id", 7)

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "INF joined")
	assert.Contains(t, out, "component=hub")
	assert.Contains(t, out, "req.user_id=7")
}

func TestJSONLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(config.LoggingConfig{Level: "warn", Format: "json"}, &buf)

	logger.Info("skipped")
	logger.Warn("kept", "n", 1)

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "kept", rec["msg"])
	assert.Equal(t, "WARN", rec["level"])
}

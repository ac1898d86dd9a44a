// ABOUTME: Tests for the gateway binary's config path resolution, starter config and logger
// ABOUTME: The starter config must load cleanly through the real config parser

package main

import (
	"bytes"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/converse-gateway/internal/config"
)

func TestGetConfigPath(t *testing.T) {
	t.Setenv("CONVERSE_CONFIG", "/etc/converse.yaml")
	assert.Equal(t, "/etc/converse.yaml", getConfigPath())

	t.Setenv("CONVERSE_CONFIG", "")
	t.Setenv("XDG_CONFIG_HOME", "/xdg")
	assert.Equal(t, filepath.Join("/xdg", "converse", "gateway.yaml"), getConfigPath())
}

func TestDefaultConfigParses(t *testing.T) {
	cfg, err := config.Parse([]byte(defaultConfig("s3cret")))
	require.NoError(t, err)

	assert.Equal(t, "s3cret", cfg.Auth.JWTSecret)
	assert.Equal(t, config.ReplayBackendMemory, cfg.Replay.Backend)
	assert.Equal(t, config.DefaultReplayTTL, cfg.Replay.TTL)
	assert.Equal(t, config.DefaultFlushMaxChars, cfg.Flush.MaxChars)
	assert.Equal(t, config.CancelPolicyDiscard, cfg.Conversation.CancelPolicy)
	assert.True(t, cfg.Metrics.Enabled)
}

func TestRunInitAndToken(t *testing.T) {
	path := filepath.Join(t.TempDir(), "converse", "gateway.yaml")
	t.Setenv("CONVERSE_CONFIG", path)

	require.NoError(t, runInit(nil))
	assert.Error(t, runInit(nil), "existing config is not overwritten")
	require.NoError(t, runInit([]string{"--force"}))

	require.NoError(t, runToken([]string{"--sub", "alice", "--ttl=1h"}))
	assert.Error(t, runToken(nil))
	assert.Error(t, runToken([]string{"--sub"}))
	assert.Error(t, runToken([]string{"--sub", "alice", "--ttl", "soon"}))
	assert.Error(t, runToken([]string{"--bogus"}))
}

func TestColorHandler(t *testing.T) {
	color.NoColor = true
	var buf bytes.Buffer
	logger := slog.New(newColorHandler(&buf, slog.LevelInfo))

	logger.Debug("hidden")
	logger.With("component", "gateway").WithGroup("req").Info("stream connected", "remote", "1.2.3.4")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "INF stream connected")
	assert.Contains(t, out, "component=gateway")
	assert.Contains(t, out, "req.remote=1.2.3.4")
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, parseLevel("debug"))
	assert.Equal(t, slog.LevelWarn, parseLevel("warn"))
	assert.Equal(t, slog.LevelError, parseLevel("error"))
	assert.Equal(t, slog.LevelInfo, parseLevel("bogus"))
}

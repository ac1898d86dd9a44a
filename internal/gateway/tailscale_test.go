// ABOUTME: Tests for tailnet listener planning and node settings resolution
// ABOUTME: These never join a tailnet

package gateway

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/converse-gateway/internal/config"
)

func TestExposureFor(t *testing.T) {
	tests := []struct {
		name   string
		cfg    config.TailscaleConfig
		want   streamExposure
		port   string
		scheme string
	}{
		{name: "plain", cfg: config.TailscaleConfig{}, want: exposePlain, port: ":80", scheme: "ws"},
		{name: "https", cfg: config.TailscaleConfig{HTTPS: true}, want: exposeTLS, port: ":443", scheme: "wss"},
		{name: "funnel", cfg: config.TailscaleConfig{Funnel: true}, want: exposeFunnel, port: ":443", scheme: "wss"},
		{name: "funnel wins over https", cfg: config.TailscaleConfig{Funnel: true, HTTPS: true}, want: exposeFunnel, port: ":443", scheme: "wss"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := exposureFor(tt.cfg)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.port, got.port())
			assert.Equal(t, tt.scheme, got.scheme())
		})
	}
}

func TestTailnetStateDir(t *testing.T) {
	dir, err := tailnetStateDir("/var/lib/converse")
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/converse", dir)

	t.Setenv("HOME", "/home/tester")
	dir, err = tailnetStateDir("")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("/home/tester", ".local", "share", "converse-gateway", "tailscale"), dir)
}

func TestTailnetAuthKey(t *testing.T) {
	t.Setenv("TS_AUTHKEY", "tskey-env")

	key, err := tailnetAuthKey("tskey-config")
	require.NoError(t, err)
	assert.Equal(t, "tskey-config", key)

	key, err = tailnetAuthKey("")
	require.NoError(t, err)
	assert.Equal(t, "tskey-env", key)

	t.Setenv("TS_AUTHKEY", "")
	_, err = tailnetAuthKey("")
	assert.Error(t, err)
}

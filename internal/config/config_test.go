// ABOUTME: Tests for configuration loading
// ABOUTME: Covers defaults, YAML overlay, environment overrides and validation
package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/morningf/liblsl/pkg/timesync"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "timesync.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
	assert.Equal(t, timesync.DefaultConfig(), cfg.Receiver)
}

func TestLoadYAMLOverlay(t *testing.T) {
	path := writeFile(t, `
receiver:
  wave_packet_count: 4
  packet_pacing: 10ms
  aggregation_window: 200ms
control:
  server: 192.168.1.20:8927
monitor:
  log_level: debug
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 4, cfg.Receiver.WavePacketCount)
	assert.Equal(t, 10*time.Millisecond, cfg.Receiver.PacketPacing)
	assert.Equal(t, 200*time.Millisecond, cfg.Receiver.AggregationWindow)
	assert.Equal(t, "192.168.1.20:8927", cfg.Control.Server)
	assert.Equal(t, "debug", cfg.Monitor.LogLevel)

	// untouched keys keep their defaults
	assert.Equal(t, 2*time.Second, cfg.Receiver.ReestimationInterval)
	assert.Equal(t, ":8928", cfg.Responder.TimeAddr)
}

func TestLoadEnvironmentWins(t *testing.T) {
	path := writeFile(t, "receiver:\n  reestimation_interval: 5s\n")
	t.Setenv("TIMESYNC_RECEIVER_REESTIMATION_INTERVAL", "750ms")
	t.Setenv("TIMESYNC_CONTROL_NAME", "lab-bench")
	t.Setenv("TIMESYNC_RESPONDER_ADVERTISE", "false")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 750*time.Millisecond, cfg.Receiver.ReestimationInterval)
	assert.Equal(t, "lab-bench", cfg.Control.Name)
	assert.False(t, cfg.Responder.Advertise)
}

func TestLoadEmptyFile(t *testing.T) {
	cfg, err := Load(writeFile(t, ""))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"unknown key", "receiver:\n  wave_count: 4\n"},
		{"bad duration", "receiver:\n  packet_pacing: soon\n"},
		{"invalid receiver", "receiver:\n  wave_packet_count: 0\n"},
		{"bad log level", "monitor:\n  log_level: loud\n"},
		{"negative retries", "control:\n  max_reconnects: -1\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeFile(t, tt.body))
			assert.Error(t, err)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestLoadBadEnvironment(t *testing.T) {
	t.Setenv("TIMESYNC_RECEIVER_WAVE_PACKET_COUNT", "many")
	_, err := Load("")
	assert.Error(t, err)
}

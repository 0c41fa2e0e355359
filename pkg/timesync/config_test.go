// ABOUTME: Tests for receiver configuration
// ABOUTME: Checks defaults and the validation rules
package timesync

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, 8, cfg.WavePacketCount)
	assert.Equal(t, 64*time.Millisecond, cfg.PacketPacing)
	assert.Equal(t, 640*time.Millisecond, cfg.AggregationWindow)
	assert.Equal(t, 2*time.Second, cfg.ReestimationInterval)
	assert.Equal(t, 16384, cfg.ReceiveBufferSize)
	require.NoError(t, cfg.Validate())
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"no probes", func(c *Config) { c.WavePacketCount = 0 }},
		{"negative pacing", func(c *Config) { c.PacketPacing = -time.Millisecond }},
		{"zero window", func(c *Config) { c.AggregationWindow = 0 }},
		{"window before last probe", func(c *Config) { c.AggregationWindow = 7 * 64 * time.Millisecond }},
		{"negative interval", func(c *Config) { c.ReestimationInterval = -time.Second }},
		{"tiny buffer", func(c *Config) { c.ReceiveBufferSize = 23 }},
		{"min samples above count", func(c *Config) { c.MinSamples = 9 }},
		{"negative history", func(c *Config) { c.HistorySize = -1 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestConfigAllowsBackToBackWaves(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ReestimationInterval = 0
	cfg.MinSamples = 0
	cfg.HistorySize = 0
	assert.NoError(t, cfg.Validate())
}

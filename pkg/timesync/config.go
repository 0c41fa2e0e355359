// ABOUTME: Tunable parameters of the time receiver
// ABOUTME: Defaults send eight probes per wave every two seconds
package timesync

import (
	"fmt"
	"time"

	"github.com/morningf/liblsl/internal/wave"
)

// Config holds the receiver's tunable parameters
type Config struct {
	// WavePacketCount is the number of probes sent per wave
	WavePacketCount int `yaml:"wave_packet_count" env:"WAVE_PACKET_COUNT"`

	// PacketPacing is the delay between two probes of a wave
	PacketPacing time.Duration `yaml:"packet_pacing" env:"PACKET_PACING"`

	// AggregationWindow is how long after a wave starts its samples are aggregated
	AggregationWindow time.Duration `yaml:"aggregation_window" env:"AGGREGATION_WINDOW"`

	// ReestimationInterval is the pause between the end of one wave and the next
	ReestimationInterval time.Duration `yaml:"reestimation_interval" env:"REESTIMATION_INTERVAL"`

	// ReceiveBufferSize is the largest datagram read, also used for SO_RCVBUF
	ReceiveBufferSize int `yaml:"receive_buffer_size" env:"RECEIVE_BUFFER_SIZE"`

	// MinSamples is the fewest samples a wave needs to publish an estimate
	MinSamples int `yaml:"min_samples" env:"MIN_SAMPLES"`

	// HistorySize is how many published estimates are kept for Stats and History
	HistorySize int `yaml:"history_size" env:"HISTORY_SIZE"`
}

// DefaultConfig returns 8 probes 64ms apart, aggregated 128ms after the last
// one, repeated every 2s
func DefaultConfig() Config {
	return Config{
		WavePacketCount:      8,
		PacketPacing:         64 * time.Millisecond,
		AggregationWindow:    8*64*time.Millisecond + 128*time.Millisecond,
		ReestimationInterval: 2 * time.Second,
		ReceiveBufferSize:    16384,
		MinSamples:           1,
		HistorySize:          32,
	}
}

// Validate checks the configuration for values the receiver cannot run with
func (c Config) Validate() error {
	switch {
	case c.WavePacketCount < 1:
		return fmt.Errorf("wave_packet_count must be at least 1, got %d", c.WavePacketCount)
	case c.PacketPacing < 0:
		return fmt.Errorf("packet_pacing must not be negative")
	case c.AggregationWindow <= 0:
		return fmt.Errorf("aggregation_window must be positive")
	case c.AggregationWindow <= time.Duration(c.WavePacketCount-1)*c.PacketPacing:
		return fmt.Errorf("aggregation_window %v ends before the last probe is sent (%d probes every %v)",
			c.AggregationWindow, c.WavePacketCount, c.PacketPacing)
	case c.ReestimationInterval < 0:
		return fmt.Errorf("reestimation_interval must not be negative")
	case c.ReceiveBufferSize < wave.ResponseSize:
		return fmt.Errorf("receive_buffer_size must hold a response (%d bytes), got %d", wave.ResponseSize, c.ReceiveBufferSize)
	case c.MinSamples < 0 || c.MinSamples > c.WavePacketCount:
		return fmt.Errorf("min_samples must be between 0 and wave_packet_count, got %d", c.MinSamples)
	case c.HistorySize < 0:
		return fmt.Errorf("history_size must not be negative")
	}
	return nil
}

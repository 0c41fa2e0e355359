// ABOUTME: File and environment configuration for the timesync binaries
// ABOUTME: Defaults, then a YAML file, then TIMESYNC_* variables, then validation
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/morningf/liblsl/pkg/timesync"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is prepended to every environment variable name
const EnvPrefix = "TIMESYNC_"

// File is the full configuration of the monitor and responder binaries
type File struct {
	Receiver  timesync.Config `yaml:"receiver" envPrefix:"RECEIVER_"`
	Control   Control         `yaml:"control" envPrefix:"CONTROL_"`
	Responder Responder       `yaml:"responder" envPrefix:"RESPONDER_"`
	Monitor   Monitor         `yaml:"monitor" envPrefix:"MONITOR_"`
}

// Control configures the receiver's control connection
type Control struct {
	Server         string        `yaml:"server" env:"SERVER"` // host:port, empty means mDNS
	Name           string        `yaml:"name" env:"NAME"`
	HandshakeWait  time.Duration `yaml:"handshake_wait" env:"HANDSHAKE_WAIT"`
	ReconnectDelay time.Duration `yaml:"reconnect_delay" env:"RECONNECT_DELAY"`
	MaxReconnects  int           `yaml:"max_reconnects" env:"MAX_RECONNECTS"`
	DiscoveryWait  time.Duration `yaml:"discovery_wait" env:"DISCOVERY_WAIT"`
}

// Responder configures the publisher side
type Responder struct {
	Name        string        `yaml:"name" env:"NAME"`
	ControlAddr string        `yaml:"control_addr" env:"CONTROL_ADDR"`
	TimeAddr    string        `yaml:"time_addr" env:"TIME_ADDR"`
	ClientTTL   time.Duration `yaml:"client_ttl" env:"CLIENT_TTL"`
	Advertise   bool          `yaml:"advertise" env:"ADVERTISE"`
}

// Monitor configures the monitor binary
type Monitor struct {
	MetricsAddr string `yaml:"metrics_addr" env:"METRICS_ADDR"` // empty disables /metrics
	LogFile     string `yaml:"log_file" env:"LOG_FILE"`
	LogLevel    string `yaml:"log_level" env:"LOG_LEVEL"`
	NTPServer   string `yaml:"ntp_server" env:"NTP_SERVER"` // empty disables the wall-clock check
}

// Default returns the built-in configuration
func Default() File {
	return File{
		Receiver: timesync.DefaultConfig(),
		Control: Control{
			HandshakeWait:  5 * time.Second,
			ReconnectDelay: time.Second,
			MaxReconnects:  10,
			DiscoveryWait:  10 * time.Second,
		},
		Responder: Responder{
			ControlAddr: ":8927",
			TimeAddr:    ":8928",
			ClientTTL:   time.Minute,
			Advertise:   true,
		},
		Monitor: Monitor{
			MetricsAddr: ":9108",
			LogFile:     "timesync-monitor.log",
			LogLevel:    "info",
		},
	}
}

// Load builds the configuration. An empty path skips the file.
func Load(path string) (File, error) {
	cfg := Default()

	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return cfg, fmt.Errorf("open config: %w", err)
		}
		defer f.Close()

		if err := decode(f, &cfg); err != nil {
			return cfg, fmt.Errorf("parse %s: %w", path, err)
		}
	}

	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return cfg, fmt.Errorf("parse environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// decode overlays YAML onto cfg, rejecting unknown keys
func decode(r io.Reader, cfg *File) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// Validate checks every section
func (f File) Validate() error {
	if err := f.Receiver.Validate(); err != nil {
		return fmt.Errorf("receiver: %w", err)
	}
	if f.Control.MaxReconnects < 0 {
		return fmt.Errorf("control: max_reconnects must not be negative")
	}
	if f.Control.HandshakeWait < 0 || f.Control.ReconnectDelay < 0 || f.Control.DiscoveryWait < 0 {
		return fmt.Errorf("control: durations must not be negative")
	}
	if f.Responder.TimeAddr == "" || f.Responder.ControlAddr == "" {
		return fmt.Errorf("responder: control_addr and time_addr are required")
	}
	switch f.Monitor.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("monitor: unknown log_level %q", f.Monitor.LogLevel)
	}
	return nil
}

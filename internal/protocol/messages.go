// ABOUTME: Control channel message type definitions
// ABOUTME: Handshake and teardown messages exchanged with a time publisher
package protocol

import (
	"encoding/json"
	"fmt"
)

// Message types
const (
	TypeClientHello   = "client/hello"
	TypeServerHello   = "server/hello"
	TypeServerGoodbye = "server/goodbye"
)

// Message is the top-level wrapper for all control messages
type Message struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// Envelope is a received message whose payload is decoded on demand
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// ClientHello is sent by receivers to open a session
type ClientHello struct {
	ClientID   string      `json:"client_id"`
	Name       string      `json:"name"`
	Version    int         `json:"version"`
	DeviceInfo *DeviceInfo `json:"device_info,omitempty"`
}

// DeviceInfo contains device identification
type DeviceInfo struct {
	ProductName     string `json:"product_name"`
	Manufacturer    string `json:"manufacturer"`
	SoftwareVersion string `json:"software_version"`
}

// ServerHello answers ClientHello and names the UDP time service port.
// SessionID changes whenever the publisher restarts.
type ServerHello struct {
	ServerID  string `json:"server_id"`
	Name      string `json:"name"`
	SessionID string `json:"session_id"`
	TimePort  int    `json:"time_port"`
}

// ServerGoodbye tells receivers the publisher is going away for good
type ServerGoodbye struct {
	Reason string `json:"reason"`
}

// Parse decodes the envelope of a control message
func Parse(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return env, fmt.Errorf("failed to parse message: %w", err)
	}
	if env.Type == "" {
		return env, fmt.Errorf("message has no type")
	}
	return env, nil
}

// Decode unmarshals the payload into v
func (e Envelope) Decode(v interface{}) error {
	if len(e.Payload) == 0 {
		return fmt.Errorf("%s: empty payload", e.Type)
	}
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("failed to parse %s: %w", e.Type, err)
	}
	return nil
}

// ABOUTME: Tests for control channel message types
// ABOUTME: Verifies envelope parsing and payload decoding
package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServerHelloEnvelope(t *testing.T) {
	msg := Message{
		Type: TypeServerHello,
		Payload: ServerHello{
			ServerID:  "srv",
			Name:      "publisher",
			SessionID: "abc",
			TimePort:  16574,
		},
	}

	data, err := json.Marshal(msg)
	require.NoError(t, err)

	env, err := Parse(data)
	require.NoError(t, err)
	assert.Equal(t, TypeServerHello, env.Type)

	var hello ServerHello
	require.NoError(t, env.Decode(&hello))
	assert.Equal(t, 16574, hello.TimePort)
	assert.Equal(t, "abc", hello.SessionID)
}

func TestClientHelloOmitsDeviceInfo(t *testing.T) {
	data, err := json.Marshal(ClientHello{ClientID: "id", Name: "n", Version: 1})
	require.NoError(t, err)
	assert.NotContains(t, string(data), "device_info")
}

func TestParseRejectsGarbage(t *testing.T) {
	_, err := Parse([]byte("not json"))
	assert.Error(t, err)

	_, err = Parse([]byte(`{"payload":{}}`))
	assert.Error(t, err)
}

func TestDecodeEmptyPayload(t *testing.T) {
	env, err := Parse([]byte(`{"type":"server/goodbye"}`))
	require.NoError(t, err)

	var bye ServerGoodbye
	assert.Error(t, env.Decode(&bye))
}

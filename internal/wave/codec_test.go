// ABOUTME: Tests for the time packet codec
// ABOUTME: Verifies layout, malformed input rejection and stale wave detection
package wave

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestLayout(t *testing.T) {
	buf := EncodeRequest(7, 3, 1.5)
	require.Len(t, buf, RequestSize)

	assert.Equal(t, uint32(7), binary.BigEndian.Uint32(buf[0:4]))
	assert.Equal(t, uint32(3), binary.BigEndian.Uint32(buf[4:8]))
	assert.Equal(t, 1.5, math.Float64frombits(binary.BigEndian.Uint64(buf[8:16])))
}

func TestResponseEchoesRequest(t *testing.T) {
	req, err := DecodeRequest(EncodeRequest(5, 2, 0.25))
	require.NoError(t, err)

	buf := EncodeResponse(req, 100.75)
	require.Len(t, buf, ResponseSize)

	resp, err := Decode(buf, 5)
	require.NoError(t, err)
	assert.Equal(t, Response{WaveID: 5, PacketSeq: 2, SendTimestamp: 0.25, RemoteTimestamp: 100.75}, resp)
}

func TestDecodeMalformed(t *testing.T) {
	good := EncodeResponse(Request{WaveID: 1, PacketSeq: 0, SendTimestamp: 1}, 2)

	nan := append([]byte(nil), good...)
	binary.BigEndian.PutUint64(nan[16:24], math.Float64bits(math.NaN()))

	negSeq := append([]byte(nil), good...)
	binary.BigEndian.PutUint32(negSeq[4:8], 0xffffffff)

	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"truncated", good[:ResponseSize-1]},
		{"request sized", good[:RequestSize]},
		{"trailing bytes", append(append([]byte(nil), good...), 0)},
		{"nan timestamp", nan},
		{"negative seq", negSeq},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.data, 1)
			assert.ErrorIs(t, err, ErrMalformed)
			assert.NotErrorIs(t, err, ErrStaleWave)
		})
	}
}

func TestDecodeStaleWave(t *testing.T) {
	buf := EncodeResponse(Request{WaveID: 4, PacketSeq: 0, SendTimestamp: 1}, 2)

	_, err := Decode(buf, 5)
	assert.ErrorIs(t, err, ErrStaleWave)
	assert.NotErrorIs(t, err, ErrMalformed)
}

func TestDecodeRequestMalformed(t *testing.T) {
	_, err := DecodeRequest([]byte{1, 2, 3})
	assert.ErrorIs(t, err, ErrMalformed)

	buf := EncodeRequest(1, 1, math.Inf(1))
	_, err = DecodeRequest(buf)
	assert.ErrorIs(t, err, ErrMalformed)
}

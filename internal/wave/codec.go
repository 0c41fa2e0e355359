// ABOUTME: Binary codec for time-exchange datagrams
// ABOUTME: Encodes probe requests and decodes echoed responses for the active wave
package wave

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

const (
	// RequestSize is the size of a probe: wave id, packet seq, send timestamp
	RequestSize = 4 + 4 + 8

	// ResponseSize is a probe echoed back with the remote timestamp appended
	ResponseSize = RequestSize + 8
)

var (
	// ErrMalformed marks a datagram that is truncated or does not parse
	ErrMalformed = errors.New("malformed time packet")

	// ErrStaleWave marks a response that belongs to a wave other than the active one
	ErrStaleWave = errors.New("stale wave")
)

// Request is a probe sent by the receiver
type Request struct {
	WaveID        int32
	PacketSeq     int32
	SendTimestamp float64
}

// Response is a probe echoed by the responder
type Response struct {
	WaveID          int32
	PacketSeq       int32
	SendTimestamp   float64 // echoed local send time (t0)
	RemoteTimestamp float64 // responder clock at receipt (t_r)
}

// EncodeRequest builds the payload of a probe
func EncodeRequest(waveID, packetSeq int32, sendTimestamp float64) []byte {
	req := Request{WaveID: waveID, PacketSeq: packetSeq, SendTimestamp: sendTimestamp}
	buf, _ := binary.Append(make([]byte, 0, RequestSize), binary.BigEndian, &req)
	return buf
}

// EncodeResponse echoes a probe and appends the responder's timestamp
func EncodeResponse(req Request, remoteTimestamp float64) []byte {
	resp := Response{
		WaveID:          req.WaveID,
		PacketSeq:       req.PacketSeq,
		SendTimestamp:   req.SendTimestamp,
		RemoteTimestamp: remoteTimestamp,
	}
	buf, _ := binary.Append(make([]byte, 0, ResponseSize), binary.BigEndian, &resp)
	return buf
}

// DecodeRequest parses a probe on the responder side
func DecodeRequest(b []byte) (Request, error) {
	var req Request
	if len(b) != RequestSize {
		return req, fmt.Errorf("%w: %d bytes, want %d", ErrMalformed, len(b), RequestSize)
	}
	if _, err := binary.Decode(b, binary.BigEndian, &req); err != nil {
		return req, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if !finite(req.SendTimestamp) {
		return req, fmt.Errorf("%w: non-finite send timestamp", ErrMalformed)
	}
	return req, nil
}

// Decode parses a response and checks it against the active wave id.
// Both errors mean the datagram should be dropped.
func Decode(b []byte, activeWave int32) (Response, error) {
	var resp Response
	if len(b) != ResponseSize {
		return resp, fmt.Errorf("%w: %d bytes, want %d", ErrMalformed, len(b), ResponseSize)
	}
	if _, err := binary.Decode(b, binary.BigEndian, &resp); err != nil {
		return resp, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if !finite(resp.SendTimestamp) || !finite(resp.RemoteTimestamp) || resp.PacketSeq < 0 {
		return resp, fmt.Errorf("%w: bad field values", ErrMalformed)
	}
	if resp.WaveID != activeWave {
		return resp, fmt.Errorf("%w: got %d, active %d", ErrStaleWave, resp.WaveID, activeWave)
	}
	return resp, nil
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

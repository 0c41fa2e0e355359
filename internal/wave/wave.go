// ABOUTME: State of a single multi-packet time exchange
// ABOUTME: Tracks sent probes and collects one sample per valid response
package wave

import (
	"errors"
	"fmt"

	"github.com/morningf/liblsl/internal/estimate"
)

// ErrDuplicate marks a second response for the same probe, or a response for a
// probe that was never sent in this wave
var ErrDuplicate = errors.New("duplicate or unsolicited response")

// Wave is one round of probes. It is owned by a single goroutine.
type Wave struct {
	ID      int32
	total   int
	next    int
	seen    []bool
	samples []estimate.Sample
}

// New starts a wave that will send total probes
func New(id int32, total int) *Wave {
	return &Wave{
		ID:    id,
		total: total,
		seen:  make([]bool, total),
	}
}

// NextRequest builds the next probe stamped with sendTime. It reports false
// once every probe of the wave has been handed out.
func (w *Wave) NextRequest(sendTime float64) ([]byte, bool) {
	if w.next >= w.total {
		return nil, false
	}
	buf := EncodeRequest(w.ID, int32(w.next), sendTime)
	w.next++
	return buf, true
}

// Sent returns the number of probes handed out so far
func (w *Wave) Sent() int {
	return w.next
}

// Done reports whether all probes have been handed out
func (w *Wave) Done() bool {
	return w.next >= w.total
}

// Accept decodes a response received at local time recvTime and records a sample.
// Any error means the datagram was dropped and the sample set is unchanged.
func (w *Wave) Accept(payload []byte, recvTime float64) (estimate.Sample, error) {
	resp, err := Decode(payload, w.ID)
	if err != nil {
		return estimate.Sample{}, err
	}

	seq := int(resp.PacketSeq)
	if seq >= w.next || w.seen[seq] {
		return estimate.Sample{}, fmt.Errorf("%w: seq %d", ErrDuplicate, seq)
	}
	if recvTime < resp.SendTimestamp {
		return estimate.Sample{}, fmt.Errorf("%w: received before sent", ErrMalformed)
	}

	w.seen[seq] = true
	s := estimate.NewSample(resp.SendTimestamp, resp.RemoteTimestamp, recvTime)
	w.samples = append(w.samples, s)
	return s, nil
}

// Samples returns the samples collected so far in arrival order
func (w *Wave) Samples() []estimate.Sample {
	return w.samples
}

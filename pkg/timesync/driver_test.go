// ABOUTME: Tests for the driver loop's wave bookkeeping
// ABOUTME: Runs loop steps directly without sockets or goroutines
package timesync

import (
	"testing"

	"github.com/morningf/liblsl/internal/conn"
	"github.com/morningf/liblsl/internal/metrics"
	"github.com/morningf/liblsl/internal/state"
	"github.com/morningf/liblsl/internal/wave"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestLoop(t *testing.T) *loop {
	t.Helper()
	cfg := DefaultConfig()
	cfg.WavePacketCount = 4
	r := &Receiver{
		cfg:     cfg,
		conn:    conn.NewStatic(nil),
		log:     zap.NewNop(),
		clock:   LocalClock,
		metrics: metrics.New(nil),
		state:   state.New(cfg.HistorySize),
		quit:    make(chan struct{}),
	}
	l := newLoop(r)
	t.Cleanup(l.stopTimers)
	return l
}

// respond answers the next probe of the current wave as a publisher whose
// clock reads remote, arriving back at local time recv
func respond(t *testing.T, l *loop, remote, recv float64) []byte {
	t.Helper()
	payload, ok := l.current.NextRequest(recv - 0.001)
	require.True(t, ok)
	req, err := wave.DecodeRequest(payload)
	require.NoError(t, err)
	return wave.EncodeResponse(req, remote)
}

func TestFinishWavePublishesMinimumRoundTrip(t *testing.T) {
	l := newTestLoop(t)
	l.current = wave.New(1, 4)

	l.accept(datagram{data: respond(t, l, 110, 10), at: 10})
	l.accept(datagram{data: respond(t, l, 120, 20), at: 20})
	l.finishWave()

	e, ok := l.r.state.Snapshot()
	require.True(t, ok)
	assert.InDelta(t, 0.001, e.Uncertainty, 1e-9)
	assert.InDelta(t, 100.0005, e.Offset, 1e-9)
	assert.Nil(t, l.current)

	st := l.r.Stats()
	assert.Equal(t, uint64(1), st.Waves)
	assert.Equal(t, uint64(2), st.Samples)
	assert.Equal(t, 2, st.LastWaveSamples)
	assert.Len(t, st.History, 1)
	assert.InDelta(t, 100.0005, testutil.ToFloat64(l.r.metrics.Offset), 1e-9)
}

func TestEmptyWaveKeepsEstimate(t *testing.T) {
	l := newTestLoop(t)
	l.current = wave.New(1, 4)
	l.accept(datagram{data: respond(t, l, 110, 10), at: 10})
	l.finishWave()
	before, ok := l.r.state.Snapshot()
	require.True(t, ok)

	l.current = wave.New(2, 4)
	_, _ = l.current.NextRequest(11)
	l.finishWave()

	after, ok := l.r.state.Snapshot()
	require.True(t, ok)
	assert.Equal(t, before, after)

	st := l.r.Stats()
	assert.Equal(t, uint64(2), st.Waves)
	assert.Equal(t, uint64(1), st.EmptyWaves)
	assert.Equal(t, 0, st.LastWaveSamples)
	assert.Equal(t, 1.0, testutil.ToFloat64(l.r.metrics.EmptyWaves))
}

func TestAcceptDropsJunk(t *testing.T) {
	l := newTestLoop(t)

	// nothing in flight
	l.accept(datagram{data: wave.EncodeResponse(wave.Request{WaveID: 1}, 5), at: 1})

	l.current = wave.New(3, 4)
	good := respond(t, l, 110, 10)
	l.accept(datagram{data: good, at: 10})
	l.accept(datagram{data: good, at: 10.5})
	l.accept(datagram{data: []byte{1, 2, 3, 4, 5}, at: 11})
	l.accept(datagram{data: wave.EncodeResponse(wave.Request{WaveID: 2, PacketSeq: 1, SendTimestamp: 9}, 110), at: 11})
	l.accept(datagram{data: respond(t, l, 111, 12), at: 12})

	assert.Len(t, l.current.Samples(), 2)

	st := l.r.Stats()
	assert.Equal(t, uint64(2), st.Samples)
	assert.Equal(t, uint64(4), st.Dropped)
	assert.Equal(t, 2.0, testutil.ToFloat64(l.r.metrics.Dropped.WithLabelValues(metrics.DropStale)))
	assert.Equal(t, 1.0, testutil.ToFloat64(l.r.metrics.Dropped.WithLabelValues(metrics.DropDuplicate)))
	assert.Equal(t, 1.0, testutil.ToFloat64(l.r.metrics.Dropped.WithLabelValues(metrics.DropMalformed)))
}

func TestRecoverInvalidatesAndRestartsWave(t *testing.T) {
	l := newTestLoop(t)
	l.current = wave.New(1, 4)
	l.accept(datagram{data: respond(t, l, 110, 10), at: 10})
	l.finishWave()
	_, ok := l.r.state.Snapshot()
	require.True(t, ok)

	l.recovered()

	_, ok = l.r.state.Snapshot()
	assert.False(t, ok)
	assert.True(t, l.r.WasReset())
	assert.False(t, l.r.WasReset())

	// the probe is built even though no endpoint is known
	require.NotNil(t, l.current)
	assert.Equal(t, int32(2), l.current.ID)
	assert.Equal(t, 1, l.current.Sent())
	assert.Equal(t, uint64(1), l.r.Stats().Resets)
	assert.Equal(t, 0, l.jitter.Len())
}

func TestStartWaveSupersedesWaveInFlight(t *testing.T) {
	l := newTestLoop(t)
	l.startWave()
	old := l.current
	payload, ok := old.NextRequest(1)
	require.True(t, ok)
	req, err := wave.DecodeRequest(payload)
	require.NoError(t, err)

	l.startWave()
	l.accept(datagram{data: wave.EncodeResponse(req, 100), at: 2})

	assert.Empty(t, l.current.Samples())
	assert.Equal(t, 1.0, testutil.ToFloat64(l.r.metrics.Dropped.WithLabelValues(metrics.DropStale)))
}

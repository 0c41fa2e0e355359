// ABOUTME: End-to-end tests for the time receiver
// ABOUTME: Runs a receiver against loopback responders with shifted clocks
package timesync

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/morningf/liblsl/internal/conn"
	"github.com/morningf/liblsl/internal/responder"
	"github.com/morningf/liblsl/internal/state"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func fastConfig() Config {
	cfg := DefaultConfig()
	cfg.PacketPacing = 5 * time.Millisecond
	cfg.AggregationWindow = 100 * time.Millisecond
	cfg.ReestimationInterval = 50 * time.Millisecond
	return cfg
}

// startPublisher runs a responder whose clock is ahead of ours by offset
func startPublisher(t *testing.T, offset float64) *net.UDPAddr {
	t.Helper()
	r, err := responder.Listen(responder.Config{
		Addr:  "127.0.0.1:0",
		Clock: func() float64 { return LocalClock() + offset },
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = r.Serve(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return r.Addr()
}

// blackhole returns an address that accepts probes and never answers
func blackhole(t *testing.T) *net.UDPAddr {
	t.Helper()
	c, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c.LocalAddr().(*net.UDPAddr)
}

func startReceiver(t *testing.T, c conn.Connection, cfg Config, opts ...Option) *Receiver {
	t.Helper()
	opts = append([]Option{WithLogger(zaptest.NewLogger(t))}, opts...)
	r, err := New(c, cfg, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })
	return r
}

func TestNewRejectsBadInput(t *testing.T) {
	_, err := New(nil, DefaultConfig())
	assert.Error(t, err)

	cfg := DefaultConfig()
	cfg.WavePacketCount = 0
	_, err = New(conn.NewStatic(nil), cfg)
	assert.Error(t, err)
}

func TestReceiverMeasuresOffset(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := startReceiver(t, conn.NewStatic(startPublisher(t, 100)), fastConfig(), WithRegisterer(reg))

	offset, remote, uncertainty, err := r.TimeCorrectionDetailed(2 * time.Second)
	require.NoError(t, err)
	assert.InDelta(t, 100, offset, 0.05)
	assert.Greater(t, remote, 100.0)
	assert.GreaterOrEqual(t, uncertainty, 0.0)
	assert.Less(t, uncertainty, 0.05)

	// a valid estimate is returned without waiting
	start := time.Now()
	again, err := r.TimeCorrection(time.Second)
	require.NoError(t, err)
	assert.InDelta(t, 100, again, 0.05)
	assert.Less(t, time.Since(start), 50*time.Millisecond)

	st := r.Stats()
	assert.GreaterOrEqual(t, st.Waves, uint64(1))
	assert.GreaterOrEqual(t, st.Samples, uint64(1))
	assert.False(t, r.WasReset())

	n, err := testutil.GatherAndCount(reg, "timesync_receiver_waves_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestReceiverNegativeOffset(t *testing.T) {
	r := startReceiver(t, conn.NewStatic(startPublisher(t, -42)), fastConfig())

	offset, err := r.TimeCorrection(2 * time.Second)
	require.NoError(t, err)
	assert.InDelta(t, -42, offset, 0.05)
}

func TestReceiverTimesOutWithoutEstimate(t *testing.T) {
	r := startReceiver(t, conn.NewStatic(blackhole(t)), fastConfig())

	start := time.Now()
	_, err := r.TimeCorrection(100 * time.Millisecond)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.ErrorIs(t, err, state.ErrTimedOut)
	assert.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond)
	assert.False(t, r.WasReset())
}

func TestReceiverWithoutEndpoint(t *testing.T) {
	r := startReceiver(t, conn.NewStatic(nil), fastConfig())

	_, _, _, err := r.TimeCorrectionDetailed(150 * time.Millisecond)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.Nil(t, r.Err())
}

func TestReceiverRecovery(t *testing.T) {
	cfg := fastConfig()
	cfg.ReestimationInterval = time.Hour

	c := conn.NewStatic(startPublisher(t, 100))
	r := startReceiver(t, c, cfg)

	offset, err := r.TimeCorrection(2 * time.Second)
	require.NoError(t, err)
	assert.InDelta(t, 100, offset, 0.05)

	// recover onto a publisher that never answers
	c.Recover(blackhole(t))
	require.Eventually(t, func() bool {
		_, err := r.TimeCorrection(0)
		return err != nil
	}, time.Second, 5*time.Millisecond)
	assert.True(t, r.WasReset())
	assert.False(t, r.WasReset())

	// the next wave starts immediately, not after the re-estimation interval
	c.Recover(startPublisher(t, 200))
	offset, err = r.TimeCorrection(2 * time.Second)
	require.NoError(t, err)
	assert.InDelta(t, 200, offset, 0.05)
	assert.True(t, r.WasReset())
	assert.Equal(t, uint64(2), r.Stats().Resets)
}

func TestReceiverTransportGone(t *testing.T) {
	c := conn.NewStatic(blackhole(t))
	r := startReceiver(t, c, fastConfig())

	require.NoError(t, c.Close())
	require.Eventually(t, func() bool { return r.Err() != nil }, time.Second, 5*time.Millisecond)
	assert.ErrorIs(t, r.Err(), ErrTransportGone)

	start := time.Now()
	_, err := r.TimeCorrection(5 * time.Second)
	assert.ErrorIs(t, err, ErrTransportGone)
	assert.Less(t, time.Since(start), time.Second)
}

func TestReceiverKeepsEstimateAfterTransportGone(t *testing.T) {
	c := conn.NewStatic(startPublisher(t, 100))
	r := startReceiver(t, c, fastConfig())

	_, err := r.TimeCorrection(2 * time.Second)
	require.NoError(t, err)

	require.NoError(t, c.Close())
	require.Eventually(t, func() bool { return r.Err() != nil }, time.Second, 5*time.Millisecond)

	offset, err := r.TimeCorrection(0)
	require.NoError(t, err)
	assert.InDelta(t, 100, offset, 0.05)
}

func TestReceiverClose(t *testing.T) {
	cfg := fastConfig()
	cfg.PacketPacing = time.Second
	cfg.AggregationWindow = 10 * time.Second

	r, err := New(conn.NewStatic(blackhole(t)), cfg)
	require.NoError(t, err)

	start := time.Now()
	require.NoError(t, r.Close())
	require.NoError(t, r.Close())
	assert.Less(t, time.Since(start), time.Second)
	assert.ErrorIs(t, r.Err(), ErrClosed)

	_, err = r.TimeCorrection(time.Second)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestReceiverConcurrentReaders(t *testing.T) {
	r := startReceiver(t, conn.NewStatic(startPublisher(t, 7)), fastConfig())

	var wg sync.WaitGroup
	errs := make(chan error, 16)
	offsets := make(chan float64, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			offset, err := r.TimeCorrection(2 * time.Second)
			if err != nil {
				errs <- err
				return
			}
			offsets <- offset
		}()
	}
	wg.Wait()
	close(errs)
	close(offsets)

	for err := range errs {
		assert.NoError(t, err)
	}
	for offset := range offsets {
		assert.InDelta(t, 7, offset, 0.05)
	}
}

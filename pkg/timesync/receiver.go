// ABOUTME: Receiver owns the probe socket and answers time correction queries
// ABOUTME: Foreground reads wait on shared state filled by the background driver
package timesync

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/morningf/liblsl/internal/conn"
	"github.com/morningf/liblsl/internal/estimate"
	"github.com/morningf/liblsl/internal/metrics"
	"github.com/morningf/liblsl/internal/socket"
	"github.com/morningf/liblsl/internal/state"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// DefaultTimeout is how long a correction query waits by default
const DefaultTimeout = 2 * time.Second

var (
	// ErrTimeout is returned when no estimate becomes valid in time
	ErrTimeout = fmt.Errorf("timesync: %w", state.ErrTimedOut)

	// ErrTransportGone is returned once the connection shut down for good
	// and no estimate is available
	ErrTransportGone = errors.New("timesync: transport gone")

	// ErrClosed is returned after Close when no estimate is available
	ErrClosed = errors.New("timesync: receiver closed")
)

// Option configures a Receiver
type Option func(*Receiver)

// WithLogger sets the logger, default no-op
func WithLogger(l *zap.Logger) Option {
	return func(r *Receiver) { r.log = l }
}

// WithRegisterer registers the receiver's metrics on reg
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(r *Receiver) { r.reg = reg }
}

// WithClock replaces LocalClock as the source of probe timestamps
func WithClock(clock func() float64) Option {
	return func(r *Receiver) { r.clock = clock }
}

// Stats is a snapshot of the receiver's counters
type Stats struct {
	Waves           uint64
	EmptyWaves      uint64
	Samples         uint64
	Dropped         uint64
	Resets          uint64
	LastWaveSamples int
	Jitter          time.Duration
	History         []estimate.Estimate
}

// Receiver estimates the clock offset to the publisher behind a Connection
type Receiver struct {
	cfg     Config
	conn    conn.Connection
	sock    *net.UDPConn
	state   *state.Shared
	metrics *metrics.Metrics
	reg     prometheus.Registerer
	log     *zap.Logger
	clock   func() float64

	waves           atomic.Uint64
	emptyWaves      atomic.Uint64
	samples         atomic.Uint64
	dropped         atomic.Uint64
	resets          atomic.Uint64
	lastWaveSamples atomic.Int64
	jitter          atomic.Int64

	mu  sync.Mutex
	err error

	stopped   context.Context
	stop      context.CancelFunc
	quit      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// New opens the probe socket and starts the background driver. The first
// wave is sent immediately.
func New(c conn.Connection, cfg Config, opts ...Option) (*Receiver, error) {
	if c == nil {
		return nil, fmt.Errorf("timesync: nil connection")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("timesync: %w", err)
	}

	r := &Receiver{
		cfg:   cfg,
		conn:  c,
		log:   zap.NewNop(),
		clock: LocalClock,
		quit:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.log = r.log.Named("timesync")
	r.metrics = metrics.New(r.reg)
	r.state = state.New(cfg.HistorySize)

	sock, err := net.ListenUDP("udp", &net.UDPAddr{})
	if err != nil {
		return nil, fmt.Errorf("timesync: open probe socket: %w", err)
	}
	r.sock = sock

	if got, err := socket.SetReceiveBuffer(sock, cfg.ReceiveBufferSize); err != nil {
		r.log.Warn("could not size receive buffer", zap.Int("requested", cfg.ReceiveBufferSize), zap.Error(err))
	} else {
		r.log.Debug("receive buffer sized", zap.Int("requested", cfg.ReceiveBufferSize), zap.Int("actual", got))
	}

	r.stopped, r.stop = context.WithCancel(context.Background())

	recv := make(chan datagram, cfg.WavePacketCount)
	l := newLoop(r)

	r.wg.Add(2)
	go r.receive(recv)
	go l.run(recv)

	r.log.Info("receiver started", zap.Stringer("local", sock.LocalAddr()))
	return r, nil
}

// TimeCorrection returns the current offset in seconds, remote clock minus
// local clock. It waits up to timeout for an estimate to become valid.
func (r *Receiver) TimeCorrection(timeout time.Duration) (float64, error) {
	offset, _, _, err := r.TimeCorrectionDetailed(timeout)
	return offset, err
}

// TimeCorrectionDetailed is TimeCorrection that also returns the remote clock
// reading and the round-trip time of the published sample.
func (r *Receiver) TimeCorrectionDetailed(timeout time.Duration) (offset, remoteTime, uncertainty float64, err error) {
	ctx, cancel := context.WithTimeout(r.stopped, timeout)
	defer cancel()

	e, err := r.state.ReadContext(ctx)
	if err != nil {
		if r.stopped.Err() != nil {
			if stopErr := r.Err(); stopErr != nil {
				return 0, 0, 0, stopErr
			}
		}
		return 0, 0, 0, fmt.Errorf("%w after %v", ErrTimeout, timeout)
	}
	return e.Offset, e.RemoteTime, e.Uncertainty, nil
}

// WasReset reports whether the connection recovered since the last call.
// Only the first call after a recovery returns true.
func (r *Receiver) WasReset() bool {
	return r.state.TakeReset()
}

// Err reports why the driver stopped, nil while it is running
func (r *Receiver) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// Stats returns a snapshot of the receiver's counters
func (r *Receiver) Stats() Stats {
	return Stats{
		Waves:           r.waves.Load(),
		EmptyWaves:      r.emptyWaves.Load(),
		Samples:         r.samples.Load(),
		Dropped:         r.dropped.Load(),
		Resets:          r.resets.Load(),
		LastWaveSamples: int(r.lastWaveSamples.Load()),
		Jitter:          time.Duration(r.jitter.Load()),
		History:         r.state.History(),
	}
}

// LocalAddr returns the address of the probe socket
func (r *Receiver) LocalAddr() net.Addr {
	return r.sock.LocalAddr()
}

// Close stops the driver, releases the socket and waits for both goroutines.
// It is safe to call more than once.
func (r *Receiver) Close() error {
	var err error
	r.closeOnce.Do(func() {
		r.fail(ErrClosed)
		close(r.quit)
		err = r.sock.Close()
	})
	r.wg.Wait()
	return err
}

// fail records the first reason the driver stopped
func (r *Receiver) fail(err error) {
	r.mu.Lock()
	if r.err == nil {
		r.err = err
	}
	r.mu.Unlock()
}

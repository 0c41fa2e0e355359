// ABOUTME: Background driver that schedules probe waves and publishes estimates
// ABOUTME: A single goroutine owns the wave, a reader goroutine feeds it datagrams
package timesync

import (
	"errors"
	"net"
	"time"

	"github.com/morningf/liblsl/internal/estimate"
	"github.com/morningf/liblsl/internal/metrics"
	"github.com/morningf/liblsl/internal/stats"
	"github.com/morningf/liblsl/internal/wave"
	"go.uber.org/zap"
)

// datagram is an inbound payload stamped with its local receive time
type datagram struct {
	data []byte
	at   float64
}

// loop holds the state only the driver goroutine touches
type loop struct {
	r       *Receiver
	waveID  int32
	current *wave.Wave
	jitter  *stats.Window[time.Duration]

	nextEstimate *time.Timer
	nextPacket   *time.Timer
	aggregate    *time.Timer
}

func newLoop(r *Receiver) *loop {
	size := r.cfg.HistorySize
	if size < 2 {
		size = 2
	}
	return &loop{
		r:            r,
		jitter:       stats.NewWindow[time.Duration](size),
		nextEstimate: stoppedTimer(),
		nextPacket:   stoppedTimer(),
		aggregate:    stoppedTimer(),
	}
}

func stoppedTimer() *time.Timer {
	t := time.NewTimer(time.Hour)
	t.Stop()
	return t
}

func (l *loop) run(recv <-chan datagram) {
	r := l.r
	defer r.wg.Done()
	defer r.stop()
	defer l.stopTimers()

	l.nextEstimate.Reset(0)

	for {
		select {
		case <-r.quit:
			return

		case <-r.conn.Closed():
			r.log.Warn("connection gone, stopping time estimation")
			r.fail(ErrTransportGone)
			return

		case <-r.conn.Recoveries():
			l.recovered()

		case <-l.nextEstimate.C:
			l.startWave()

		case <-l.nextPacket.C:
			l.sendNext()

		case <-l.aggregate.C:
			l.finishWave()

		case d, ok := <-recv:
			if !ok {
				return
			}
			l.accept(d)
		}
	}
}

func (l *loop) stopTimers() {
	l.nextEstimate.Stop()
	l.nextPacket.Stop()
	l.aggregate.Stop()
}

// startWave abandons any wave in flight and sends the first probe of a new one
func (l *loop) startWave() {
	l.waveID++
	l.current = wave.New(l.waveID, l.r.cfg.WavePacketCount)
	l.nextEstimate.Stop()
	l.nextPacket.Stop()
	l.aggregate.Reset(l.r.cfg.AggregationWindow)

	l.r.log.Debug("wave started", zap.Int32("wave", l.waveID))
	l.sendNext()
}

// sendNext stamps and sends the next probe, then arms the pacing timer
func (l *loop) sendNext() {
	r := l.r
	w := l.current
	if w == nil || w.Done() {
		return
	}

	endpoint := r.conn.Endpoint()
	payload, _ := w.NextRequest(r.clock())

	if endpoint == nil {
		r.log.Debug("no time endpoint yet, probe skipped", zap.Int32("wave", w.ID))
	} else if _, err := r.sock.WriteToUDP(payload, endpoint); err != nil {
		r.metrics.SendErrors.Inc()
		r.log.Debug("probe send failed", zap.Stringer("endpoint", endpoint), zap.Error(err))
	}

	if !w.Done() {
		l.nextPacket.Reset(r.cfg.PacketPacing)
	}
}

// finishWave aggregates the current wave and schedules the next one
func (l *loop) finishWave() {
	r := l.r
	w := l.current
	l.current = nil
	l.nextPacket.Stop()
	l.nextEstimate.Reset(r.cfg.ReestimationInterval)
	if w == nil {
		return
	}

	samples := w.Samples()
	r.waves.Add(1)
	r.metrics.Waves.Inc()
	r.lastWaveSamples.Store(int64(len(samples)))

	est, ok := estimate.Aggregate(samples, r.cfg.MinSamples)
	if !ok {
		r.emptyWaves.Add(1)
		r.metrics.EmptyWaves.Inc()
		r.log.Debug("wave ended without an estimate",
			zap.Int32("wave", w.ID), zap.Int("samples", len(samples)), zap.Int("sent", w.Sent()))
		return
	}

	r.state.Publish(est)
	l.observe(est)

	r.log.Debug("estimate published",
		zap.Int32("wave", w.ID),
		zap.Int("samples", len(samples)),
		zap.Float64("offset", est.Offset),
		zap.Float64("uncertainty", est.Uncertainty))
}

func (l *loop) observe(est estimate.Estimate) {
	r := l.r
	l.jitter.Add(seconds(est.Offset))
	jitter := l.jitter.StdDev()
	r.jitter.Store(int64(jitter))

	r.metrics.Offset.Set(est.Offset)
	r.metrics.Uncertainty.Set(est.Uncertainty)
	r.metrics.Jitter.Set(jitter.Seconds())
}

// recovered invalidates the estimate after the publisher came back and starts
// a wave right away so readers wait as little as possible
func (l *loop) recovered() {
	r := l.r
	r.state.Reset()
	r.resets.Add(1)
	r.metrics.Resets.Inc()
	l.jitter.Reset()

	r.log.Info("connection recovered, estimate invalidated", zap.Stringer("endpoint", r.conn.Endpoint()))
	l.startWave()
}

// accept records a datagram against the current wave, dropping anything else
func (l *loop) accept(d datagram) {
	r := l.r
	if l.current == nil {
		l.drop(metrics.DropStale, wave.ErrStaleWave)
		return
	}

	if _, err := l.current.Accept(d.data, d.at); err != nil {
		switch {
		case errors.Is(err, wave.ErrStaleWave):
			l.drop(metrics.DropStale, err)
		case errors.Is(err, wave.ErrDuplicate):
			l.drop(metrics.DropDuplicate, err)
		default:
			l.drop(metrics.DropMalformed, err)
		}
		return
	}

	r.samples.Add(1)
	r.metrics.Samples.Inc()
}

func (l *loop) drop(reason string, err error) {
	l.r.dropped.Add(1)
	l.r.metrics.Dropped.WithLabelValues(reason).Inc()
	l.r.log.Debug("datagram dropped", zap.String("reason", reason), zap.Error(err))
}

// receive reads the probe socket until it is closed
func (r *Receiver) receive(out chan<- datagram) {
	defer r.wg.Done()
	defer close(out)

	buf := make([]byte, r.cfg.ReceiveBufferSize)
	for {
		n, _, err := r.sock.ReadFromUDP(buf)
		at := r.clock()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			r.log.Debug("probe socket read failed", zap.Error(err))
			continue
		}

		d := datagram{data: append([]byte(nil), buf[:n]...), at: at}
		select {
		case out <- d:
		case <-r.quit:
			return
		}
	}
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// ABOUTME: Cooperative time responder for the UDP probe protocol
// ABOUTME: Echoes each probe with its own clock reading appended
package responder

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/ddirect/container/ttlmap"
	"github.com/morningf/liblsl/internal/wave"
	"go.uber.org/zap"
)

// Config holds responder configuration
type Config struct {
	Addr      string         // UDP listen address, e.g. ":16574"
	Clock     func() float64 // responder clock in seconds
	ClientTTL time.Duration  // how long an idle client is remembered
	Logger    *zap.Logger
}

// Responder answers time probes
type Responder struct {
	config Config
	conn   *net.UDPConn
	log    *zap.Logger
}

type clientInfo struct {
	probes   int
	lastWave int32
}

type datagram struct {
	data []byte
	from *net.UDPAddr
	at   float64
}

// Listen binds the UDP socket
func Listen(config Config) (*Responder, error) {
	if config.Clock == nil {
		return nil, fmt.Errorf("responder: no clock")
	}
	if config.ClientTTL == 0 {
		config.ClientTTL = time.Minute
	}
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}

	addr, err := net.ResolveUDPAddr("udp", config.Addr)
	if err != nil {
		return nil, fmt.Errorf("resolve addr: %w", err)
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen: %w", err)
	}

	return &Responder{
		config: config,
		conn:   conn,
		log:    config.Logger.Named("responder"),
	}, nil
}

// Addr returns the bound UDP address
func (r *Responder) Addr() *net.UDPAddr {
	return r.conn.LocalAddr().(*net.UDPAddr)
}

// Port returns the bound UDP port
func (r *Responder) Port() int {
	return r.Addr().Port
}

// Serve answers probes until ctx is done or the socket is closed
func (r *Responder) Serve(ctx context.Context) error {
	recvCh := r.receive(ctx)
	clients, expired := ttlmap.New[string, clientInfo](r.config.ClientTTL, r.config.ClientTTL/10)

	r.log.Info("listening", zap.Stringer("addr", r.Addr()))

	for {
		select {
		case <-ctx.Done():
			r.conn.Close()
			return nil

		case seq := <-expired:
			for client := range seq {
				r.log.Debug("client expired",
					zap.String("client", client.Key()),
					zap.Int("probes", client.Value.probes),
					zap.Int32("last_wave", client.Value.lastWave))
			}

		case pkt, ok := <-recvCh:
			if !ok {
				return nil
			}

			req, err := wave.DecodeRequest(pkt.data)
			if err != nil {
				r.log.Debug("dropping probe", zap.Stringer("from", pkt.from), zap.Error(err))
				continue
			}

			if _, err := r.conn.WriteToUDP(wave.EncodeResponse(req, pkt.at), pkt.from); err != nil {
				r.log.Warn("reply failed", zap.Stringer("to", pkt.from), zap.Error(err))
				continue
			}

			client, found := clients.GetOrCreate(pkt.from.String())
			if !found {
				r.log.Info("new client", zap.String("client", client.Key()))
			}
			client.Value = clientInfo{probes: client.Value.probes + 1, lastWave: req.WaveID}
		}
	}
}

// receive reads datagrams on a separate goroutine, stamping them on arrival
func (r *Responder) receive(ctx context.Context) <-chan datagram {
	ch := make(chan datagram, 16)
	go func() {
		defer close(ch)
		buf := make([]byte, 2048)
		for {
			n, from, err := r.conn.ReadFromUDP(buf)
			at := r.config.Clock()
			if err != nil {
				if errors.Is(err, net.ErrClosed) {
					return
				}
				r.log.Debug("read failed", zap.Error(err))
				continue
			}
			select {
			case ch <- datagram{data: append([]byte(nil), buf[:n]...), from: from, at: at}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch
}

// Close releases the socket
func (r *Responder) Close() error {
	return r.conn.Close()
}

// ABOUTME: WebSocket control session with a time publisher
// ABOUTME: Learns the UDP time endpoint, reconnects on loss and reports recoveries
package conn

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/morningf/liblsl/internal/protocol"
	"go.uber.org/zap"
)

// ErrGoodbye is recorded when the publisher ends the session for good
var ErrGoodbye = errors.New("publisher said goodbye")

// Resolver returns the host:port of the publisher's control service.
// It is called again before every reconnect so a moved publisher is found.
type Resolver func(ctx context.Context) (string, error)

// StaticResolver always returns addr
func StaticResolver(addr string) Resolver {
	return func(context.Context) (string, error) { return addr, nil }
}

// ControlConfig holds control connection configuration
type ControlConfig struct {
	Resolve        Resolver
	Name           string
	Path           string // websocket path, default /timesync
	DeviceInfo     protocol.DeviceInfo
	HandshakeWait  time.Duration
	ReconnectDelay time.Duration
	MaxReconnects  int // consecutive failed attempts before giving up; 0 means 10
	Dialer         *websocket.Dialer
	Logger         *zap.Logger
}

// Control is a Connection backed by a websocket session
type Control struct {
	config   ControlConfig
	log      *zap.Logger
	clientID string

	mu         sync.RWMutex
	ws         *websocket.Conn
	endpoint   *net.UDPAddr
	sessionID  string
	serverName string
	err        error

	recoveries chan struct{}
	closed     chan struct{}
	closeOnce  sync.Once
	ctx        context.Context
	cancel     context.CancelFunc
	done       chan struct{}
}

// Dial opens the control session and starts watching it
func Dial(ctx context.Context, config ControlConfig) (*Control, error) {
	if config.Resolve == nil {
		return nil, fmt.Errorf("control: no resolver")
	}
	if config.Path == "" {
		config.Path = "/timesync"
	}
	if config.HandshakeWait == 0 {
		config.HandshakeWait = 5 * time.Second
	}
	if config.ReconnectDelay == 0 {
		config.ReconnectDelay = time.Second
	}
	if config.MaxReconnects == 0 {
		config.MaxReconnects = 10
	}
	if config.Dialer == nil {
		config.Dialer = websocket.DefaultDialer
	}
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}

	cctx, cancel := context.WithCancel(context.Background())
	c := &Control{
		config:     config,
		log:        config.Logger.Named("control"),
		clientID:   uuid.New().String(),
		recoveries: make(chan struct{}, 1),
		closed:     make(chan struct{}),
		ctx:        cctx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}

	if err := c.connect(ctx); err != nil {
		cancel()
		return nil, err
	}

	go c.watch()
	return c, nil
}

// connect resolves, dials and performs the handshake
func (c *Control) connect(ctx context.Context) error {
	addr, err := c.config.Resolve(ctx)
	if err != nil {
		return fmt.Errorf("resolve failed: %w", err)
	}

	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("bad control address %q: %w", addr, err)
	}

	u := url.URL{Scheme: "ws", Host: addr, Path: c.config.Path}
	c.log.Debug("dialing", zap.String("url", u.String()))

	ws, _, err := c.config.Dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("dial failed: %w", err)
	}

	hello, err := c.handshake(ws)
	if err != nil {
		ws.Close()
		return fmt.Errorf("handshake failed: %w", err)
	}

	endpoint, err := net.ResolveUDPAddr("udp", net.JoinHostPort(host, strconv.Itoa(hello.TimePort)))
	if err != nil {
		ws.Close()
		return fmt.Errorf("resolve time endpoint: %w", err)
	}

	c.mu.Lock()
	if c.ctx.Err() != nil {
		// Close ran while we were dialing
		c.mu.Unlock()
		ws.Close()
		return c.ctx.Err()
	}
	c.ws = ws
	c.endpoint = endpoint
	c.sessionID = hello.SessionID
	c.serverName = hello.Name
	c.mu.Unlock()

	c.log.Info("control session established",
		zap.String("server", hello.Name),
		zap.String("session", hello.SessionID),
		zap.Stringer("endpoint", endpoint))
	return nil
}

// handshake sends client/hello and waits for server/hello
func (c *Control) handshake(ws *websocket.Conn) (protocol.ServerHello, error) {
	var hello protocol.ServerHello

	msg := protocol.Message{
		Type: protocol.TypeClientHello,
		Payload: protocol.ClientHello{
			ClientID:   c.clientID,
			Name:       c.config.Name,
			Version:    1,
			DeviceInfo: &c.config.DeviceInfo,
		},
	}
	if err := ws.WriteJSON(msg); err != nil {
		return hello, fmt.Errorf("failed to send client/hello: %w", err)
	}

	ws.SetReadDeadline(time.Now().Add(c.config.HandshakeWait))
	_, data, err := ws.ReadMessage()
	if err != nil {
		return hello, fmt.Errorf("failed to read server/hello: %w", err)
	}
	ws.SetReadDeadline(time.Time{})

	env, err := protocol.Parse(data)
	if err != nil {
		return hello, err
	}
	if env.Type != protocol.TypeServerHello {
		return hello, fmt.Errorf("expected %s, got %s", protocol.TypeServerHello, env.Type)
	}
	if err := env.Decode(&hello); err != nil {
		return hello, err
	}
	if hello.TimePort <= 0 || hello.TimePort > 65535 {
		return hello, fmt.Errorf("invalid time port %d", hello.TimePort)
	}
	return hello, nil
}

// watch reads the session until it drops, then reconnects
func (c *Control) watch() {
	defer close(c.done)
	defer c.shutdown(nil)

	for {
		err := c.readUntilDrop()
		if c.ctx.Err() != nil {
			return
		}
		if errors.Is(err, ErrGoodbye) {
			c.log.Info("publisher ended session", zap.Error(err))
			c.shutdown(err)
			return
		}

		c.log.Warn("control session lost", zap.Error(err))
		if err := c.reconnect(); err != nil {
			c.log.Error("giving up on publisher", zap.Error(err))
			c.shutdown(err)
			return
		}
		notify(c.recoveries)
	}
}

func (c *Control) readUntilDrop() error {
	c.mu.RLock()
	ws := c.ws
	c.mu.RUnlock()
	defer ws.Close()

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return err
		}

		env, err := protocol.Parse(data)
		if err != nil {
			c.log.Debug("ignoring control message", zap.Error(err))
			continue
		}

		switch env.Type {
		case protocol.TypeServerGoodbye:
			var bye protocol.ServerGoodbye
			_ = env.Decode(&bye)
			return fmt.Errorf("%w: %s", ErrGoodbye, bye.Reason)
		default:
			c.log.Debug("unhandled control message", zap.String("type", env.Type))
		}
	}
}

func (c *Control) reconnect() error {
	var lastErr error
	for attempt := 1; attempt <= c.config.MaxReconnects; attempt++ {
		select {
		case <-c.ctx.Done():
			return c.ctx.Err()
		case <-time.After(c.config.ReconnectDelay):
		}

		ctx, cancel := context.WithTimeout(c.ctx, c.config.HandshakeWait)
		lastErr = c.connect(ctx)
		cancel()
		if lastErr == nil {
			return nil
		}
		c.log.Debug("reconnect failed", zap.Int("attempt", attempt), zap.Error(lastErr))
	}
	return fmt.Errorf("%d reconnect attempts failed: %w", c.config.MaxReconnects, lastErr)
}

// shutdown closes the Closed channel once, keeping the first error
func (c *Control) shutdown(err error) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.err = err
		c.mu.Unlock()
		close(c.closed)
	})
}

// Endpoint returns the UDP time endpoint of the current session
func (c *Control) Endpoint() *net.UDPAddr {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.endpoint
}

// SessionID returns the publisher session of the current connection
func (c *Control) SessionID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sessionID
}

// ServerName returns the publisher's name from the last handshake
func (c *Control) ServerName() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.serverName
}

// Recoveries returns the recovery notification channel
func (c *Control) Recoveries() <-chan struct{} {
	return c.recoveries
}

// Closed returns the shutdown channel
func (c *Control) Closed() <-chan struct{} {
	return c.closed
}

// Err returns why the connection shut down, nil if closed by the caller
func (c *Control) Err() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.err
}

// Close ends the session and waits for the watcher to exit
func (c *Control) Close() error {
	c.cancel()

	c.mu.Lock()
	ws := c.ws
	c.mu.Unlock()

	var err error
	if ws != nil {
		_ = ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		err = ws.Close()
	}

	<-c.done
	return err
}

// ABOUTME: Connection collaborator consumed by the time receiver
// ABOUTME: Supplies the live UDP endpoint plus recovery and shutdown signals
package conn

import (
	"net"
	"sync"
)

// Connection is the view of a publisher connection that the time receiver needs.
// Implementations must be safe for concurrent use.
type Connection interface {
	// Endpoint returns the current UDP time endpoint, or nil while unknown
	Endpoint() *net.UDPAddr

	// Recoveries delivers a value each time the connection was re-established,
	// possibly to a different host. Bursts may be coalesced.
	Recoveries() <-chan struct{}

	// Closed is closed when the connection is shut down for good
	Closed() <-chan struct{}
}

// Static is a Connection with a manually managed endpoint
type Static struct {
	mu         sync.RWMutex
	endpoint   *net.UDPAddr
	recoveries chan struct{}
	closed     chan struct{}
	closeOnce  sync.Once
}

// NewStatic creates a connection to a fixed endpoint
func NewStatic(endpoint *net.UDPAddr) *Static {
	return &Static{
		endpoint:   endpoint,
		recoveries: make(chan struct{}, 1),
		closed:     make(chan struct{}),
	}
}

// Endpoint returns the current endpoint
func (s *Static) Endpoint() *net.UDPAddr {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.endpoint
}

// Recoveries returns the recovery notification channel
func (s *Static) Recoveries() <-chan struct{} {
	return s.recoveries
}

// Closed returns the shutdown channel
func (s *Static) Closed() <-chan struct{} {
	return s.closed
}

// Recover switches to endpoint and signals a recovery
func (s *Static) Recover(endpoint *net.UDPAddr) {
	s.mu.Lock()
	s.endpoint = endpoint
	s.mu.Unlock()
	notify(s.recoveries)
}

// Close signals permanent shutdown
func (s *Static) Close() error {
	s.closeOnce.Do(func() { close(s.closed) })
	return nil
}

// notify does a non-blocking send; a pending notification already covers this one
func notify(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

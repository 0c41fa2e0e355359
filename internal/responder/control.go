// ABOUTME: WebSocket control endpoint served alongside the UDP responder
// ABOUTME: Hands receivers the time port and announces shutdown
package responder

import (
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/morningf/liblsl/internal/protocol"
	"go.uber.org/zap"
)

// ControlHandler upgrades control connections and runs the handshake
type ControlHandler struct {
	name      string
	serverID  string
	sessionID string
	timePort  int
	log       *zap.Logger
	upgrader  websocket.Upgrader

	mu       sync.Mutex
	sessions map[*websocket.Conn]string
}

// NewControlHandler creates a handler that advertises timePort.
// A fresh session id is generated per handler, i.e. per publisher run.
func NewControlHandler(name string, timePort int, logger *zap.Logger) *ControlHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ControlHandler{
		name:      name,
		serverID:  uuid.New().String(),
		sessionID: uuid.New().String(),
		timePort:  timePort,
		log:       logger.Named("control"),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		sessions: make(map[*websocket.Conn]string),
	}
}

// SessionID returns the session id handed to receivers
func (h *ControlHandler) SessionID() string {
	return h.sessionID
}

// ServeHTTP handles one receiver session
func (h *ControlHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("upgrade failed", zap.Error(err))
		return
	}
	defer ws.Close()

	ws.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, data, err := ws.ReadMessage()
	if err != nil {
		h.log.Debug("no client/hello", zap.Error(err))
		return
	}
	ws.SetReadDeadline(time.Time{})

	env, err := protocol.Parse(data)
	if err != nil || env.Type != protocol.TypeClientHello {
		h.log.Debug("expected client/hello", zap.String("type", env.Type), zap.Error(err))
		return
	}
	var hello protocol.ClientHello
	if err := env.Decode(&hello); err != nil {
		h.log.Debug("bad client/hello", zap.Error(err))
		return
	}

	h.mu.Lock()
	err = ws.WriteJSON(protocol.Message{
		Type: protocol.TypeServerHello,
		Payload: protocol.ServerHello{
			ServerID:  h.serverID,
			Name:      h.name,
			SessionID: h.sessionID,
			TimePort:  h.timePort,
		},
	})
	if err == nil {
		h.sessions[ws] = hello.ClientID
	}
	h.mu.Unlock()
	if err != nil {
		h.log.Debug("failed to send server/hello", zap.Error(err))
		return
	}

	h.log.Info("receiver connected", zap.String("client", hello.ClientID), zap.String("name", hello.Name))

	defer func() {
		h.mu.Lock()
		delete(h.sessions, ws)
		h.mu.Unlock()
		h.log.Info("receiver disconnected", zap.String("client", hello.ClientID))
	}()

	// drain until the receiver goes away
	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			return
		}
	}
}

// Sessions returns the number of connected receivers
func (h *ControlHandler) Sessions() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.sessions)
}

// Goodbye tells every connected receiver that the publisher is going away
func (h *ControlHandler) Goodbye(reason string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	msg := protocol.Message{
		Type:    protocol.TypeServerGoodbye,
		Payload: protocol.ServerGoodbye{Reason: reason},
	}
	for ws, client := range h.sessions {
		if err := ws.WriteJSON(msg); err != nil {
			h.log.Debug("goodbye failed", zap.String("client", client), zap.Error(err))
		}
	}
}

// Disconnect drops every session without a goodbye, as a crash would
func (h *ControlHandler) Disconnect() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for ws := range h.sessions {
		ws.Close()
	}
}

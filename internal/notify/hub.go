package notify

import (
	"context"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/example/ridehail/internal/booking/domain"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsEnvelope is the frame written to clients.
type wsEnvelope struct {
	Event   domain.EventType `json:"event"`
	Payload any              `json:"payload"`
}

// safeConn wraps a websocket.Conn with a write mutex. gorilla/websocket
// allows one concurrent writer; this enforces that.
type safeConn struct {
	mu sync.Mutex
	ws *websocket.Conn
}

func (c *safeConn) writeJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws.WriteJSON(v)
}

func (c *safeConn) close() { _ = c.ws.Close() }

// Hub implements Port over live WebSocket connections. A party may hold
// several connections (phone plus web); all of them receive each event.
// Registration and teardown are driven by the transport, independent of the
// dispatch core.
type Hub struct {
	logger *zap.Logger

	mu    sync.RWMutex
	conns map[uuid.UUID][]*safeConn
}

// NewHub creates an empty hub.
func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{logger: logger, conns: make(map[uuid.UUID][]*safeConn)}
}

// Router returns the chi mount point for WebSocket registration.
func (h *Hub) Router() chi.Router {
	r := chi.NewRouter()
	r.Get("/{party_id}", h.handleWS)
	return r
}

func (h *Hub) handleWS(w http.ResponseWriter, r *http.Request) {
	partyID, err := uuid.Parse(chi.URLParam(r, "party_id"))
	if err != nil {
		http.Error(w, "invalid party_id", http.StatusBadRequest)
		return
	}
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("ws upgrade failed", zap.Error(err))
		return
	}

	conn := &safeConn{ws: ws}
	h.mu.Lock()
	h.conns[partyID] = append(h.conns[partyID], conn)
	h.mu.Unlock()
	h.logger.Info("party connected", zap.String("party_id", partyID.String()))

	// block until the client goes away
	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			break
		}
	}

	h.remove(partyID, conn)
	conn.close()
	h.logger.Info("party disconnected", zap.String("party_id", partyID.String()))
}

// EmitToParty writes the event to every live connection of one party. A
// party with no connections is a no-op, not an error.
func (h *Hub) EmitToParty(_ context.Context, partyID uuid.UUID, event domain.EventType, payload any) error {
	h.mu.RLock()
	conns := append([]*safeConn(nil), h.conns[partyID]...)
	h.mu.RUnlock()

	for _, c := range conns {
		if err := c.writeJSON(wsEnvelope{Event: event, Payload: payload}); err != nil {
			h.logger.Warn("ws write failed", zap.String("party_id", partyID.String()), zap.Error(err))
		}
	}
	return nil
}

// Broadcast writes the event to every connected party.
func (h *Hub) Broadcast(_ context.Context, event domain.EventType, payload any) error {
	h.mu.RLock()
	var conns []*safeConn
	for _, cs := range h.conns {
		conns = append(conns, cs...)
	}
	h.mu.RUnlock()

	for _, c := range conns {
		if err := c.writeJSON(wsEnvelope{Event: event, Payload: payload}); err != nil {
			h.logger.Warn("ws broadcast write failed", zap.Error(err))
		}
	}
	return nil
}

// Connected reports whether a party currently holds a connection (for tests).
func (h *Hub) Connected(partyID uuid.UUID) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns[partyID]) > 0
}

func (h *Hub) remove(partyID uuid.UUID, conn *safeConn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	conns := h.conns[partyID]
	for i, c := range conns {
		if c == conn {
			h.conns[partyID] = append(conns[:i], conns[i+1:]...)
			break
		}
	}
	if len(h.conns[partyID]) == 0 {
		delete(h.conns, partyID)
	}
}

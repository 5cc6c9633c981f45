// Package trade — WebSocket hub for streaming executions and market events.
package trade

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/predix/exchange-engine/internal/metrics"
	"github.com/predix/exchange-engine/internal/model"
)

// WSMessage is a JSON message sent to WebSocket clients.
type WSMessage struct {
	Type             string              `json:"type"` // "execution", "market_created", "market_resolved"
	MarketID         string              `json:"market_id"`
	ExecutionID      string              `json:"execution_id,omitempty"`
	Participants     []model.Participant `json:"participants,omitempty"`
	WinningOutcomeID string              `json:"winning_outcome_id,omitempty"`
}

type wsEnvelope struct {
	marketID string
	data     []byte
}

// WSHub manages WebSocket connections and broadcasts market events.
// Clients may subscribe to a single market via ?market=<id>; others receive
// everything.
type WSHub struct {
	// AllowedOrigins restricts the Origin header accepted at upgrade.
	// Empty allows any origin. Set before serving.
	AllowedOrigins []string

	// ReadTimeout is how long a connection may stay silent (no frames, no
	// pongs) before it is dropped. PingInterval must be shorter.
	ReadTimeout  time.Duration
	PingInterval time.Duration

	clients    map[*websocket.Conn]string // conn → market filter ("" = all)
	broadcast  chan wsEnvelope
	register   chan wsClient
	unregister chan *websocket.Conn
	mu         sync.RWMutex
}

type wsClient struct {
	conn     *websocket.Conn
	marketID string
}

// NewWSHub creates a new WebSocket hub with default keepalive timing.
func NewWSHub() *WSHub {
	return &WSHub{
		ReadTimeout:  60 * time.Second,
		PingInterval: 30 * time.Second,
		clients:      make(map[*websocket.Conn]string),
		broadcast:    make(chan wsEnvelope, 256),
		register:     make(chan wsClient),
		unregister:   make(chan *websocket.Conn),
	}
}

// Run starts the hub's main event loop. Must be called in a goroutine.
func (h *WSHub) Run() {
	for {
		select {
		case c := <-h.register:
			h.mu.Lock()
			h.clients[c.conn] = c.marketID
			h.mu.Unlock()
			metrics.WebSocketClients.Inc()
			slog.Info("ws client connected", "market_filter", c.marketID)

		case conn := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[conn]; ok {
				delete(h.clients, conn)
				conn.Close()
				metrics.WebSocketClients.Dec()
			}
			h.mu.Unlock()

		case env := <-h.broadcast:
			h.mu.RLock()
			for conn, filter := range h.clients {
				if filter != "" && filter != env.marketID {
					continue
				}
				if err := conn.WriteMessage(websocket.TextMessage, env.data); err != nil {
					conn.Close()
					delete(h.clients, conn)
					metrics.WebSocketClients.Dec()
				}
			}
			h.mu.RUnlock()
		}
	}
}

// Broadcast sends a message to subscribed clients.
func (h *WSHub) Broadcast(msg WSMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	select {
	case h.broadcast <- wsEnvelope{marketID: msg.MarketID, data: data}:
	default:
		// Drop if buffer full to avoid blocking settlement.
	}
}

// ClientCount returns the number of connected clients.
func (h *WSHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *WSHub) connected(conn *websocket.Conn) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.clients[conn]
	return ok
}

func (h *WSHub) checkOrigin(r *http.Request) bool {
	if len(h.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	for _, allowed := range h.AllowedOrigins {
		if strings.EqualFold(origin, allowed) {
			return true
		}
	}
	return false
}

// HandleWS handles WebSocket upgrade requests at GET /api/v1/ws.
func (h *WSHub) HandleWS(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{CheckOrigin: h.checkOrigin}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("ws upgrade failed", "err", err)
		return
	}

	h.register <- wsClient{conn: conn, marketID: r.URL.Query().Get("market")}
	go h.readLoop(conn)
	go h.pingLoop(conn)
}

// readLoop drains inbound frames so pongs are processed and disconnects are
// noticed. The hub never acts on client payloads.
func (h *WSHub) readLoop(conn *websocket.Conn) {
	defer func() { h.unregister <- conn }()

	extend := func() { conn.SetReadDeadline(time.Now().Add(h.ReadTimeout)) }
	extend()
	conn.SetPongHandler(func(string) error {
		extend()
		return nil
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// pingLoop keeps the connection alive through proxies until the client is
// unregistered.
func (h *WSHub) pingLoop(conn *websocket.Conn) {
	ticker := time.NewTicker(h.PingInterval)
	defer ticker.Stop()
	for range ticker.C {
		if !h.connected(conn) {
			return
		}
		if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
			return
		}
	}
}

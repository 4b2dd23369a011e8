package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/riotcore/riot/internal/auth"
	"github.com/riotcore/riot/internal/infrastructure/logging"
	"github.com/riotcore/riot/internal/ingest"
)

// Stream constants.
const (
	// streamSendBufferSize is the per-client outbound buffer. A client
	// that can't keep up is dropped rather than allowed to stall the
	// ingestion notifier.
	streamSendBufferSize = 64

	streamWriteWait = 10 * time.Second
	streamPongWait  = 60 * time.Second
)

// Hub fans ingestion events out to connected stream clients.
//
// Events are owner-filtered: a client sees its own devices' records;
// Admin and above see everything.
type Hub struct {
	logger  *logging.Logger
	clients map[*streamClient]struct{}
	mu      sync.RWMutex
}

type streamClient struct {
	conn      *websocket.Conn
	send      chan []byte
	userID    uint64
	privilege auth.Privilege
}

// upgrader configures the WebSocket upgrader.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		// Origin checking is handled by CORS middleware
		return true
	},
}

// NewHub creates a stream hub.
func NewHub(logger *logging.Logger) *Hub {
	return &Hub{
		logger:  logger.With("component", "stream"),
		clients: make(map[*streamClient]struct{}),
	}
}

// Run blocks until ctx is cancelled, then closes every client.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()
	h.mu.Lock()
	for c := range h.clients {
		close(c.send)
		delete(h.clients, c)
	}
	h.mu.Unlock()
}

// NotifyRecord implements ingest.Notifier: it fans one accepted-record
// event out to every entitled client. Slow clients are skipped, never
// waited on.
func (h *Hub) NotifyRecord(ev ingest.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if c.userID != ev.OwnerID && !c.privilege.AtLeast(auth.PrivilegeAdmin) {
			continue
		}
		select {
		case c.send <- data:
		default:
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) register(c *streamClient) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	h.logger.Debug("stream client connected", "clients", h.ClientCount())
}

// unregister removes a client. Only the goroutine that actually
// removes it from the map closes the send channel, preventing
// double-close panics during shutdown.
func (h *Hub) unregister(c *streamClient) {
	h.mu.Lock()
	_, existed := h.clients[c]
	delete(h.clients, c)
	h.mu.Unlock()

	if existed {
		close(c.send)
	}
	h.logger.Debug("stream client disconnected", "clients", h.ClientCount())
}

// handleStream upgrades the connection and attaches it to the hub.
// The route is gated at Normal, so identity is already on the context.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	user, ok := mustUser(r.Context())
	if !ok {
		s.logger.Error("stream handler reached without gate")
		writeInternalError(w, "internal server error")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	c := &streamClient{
		conn:      conn,
		send:      make(chan []byte, streamSendBufferSize),
		userID:    user.ID,
		privilege: user.Privilege,
	}
	s.hub.register(c)

	go c.writeLoop()
	go c.readLoop(s.hub)
}

// writeLoop pushes hub events to the socket until the send channel
// closes.
func (c *streamClient) writeLoop() {
	for data := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(streamWriteWait)) //nolint:errcheck // deadline set is best-effort
		if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			break
		}
	}
	c.conn.Close()
}

// readLoop drains (and discards) client frames so pings are answered
// and closure is detected.
func (c *streamClient) readLoop(hub *Hub) {
	defer hub.unregister(c)

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(streamPongWait)) //nolint:errcheck // deadline set is best-effort
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(streamPongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

package status

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// statusWriteTimeout bounds every outbound write so a stalled subscriber
// (alive but not reading) cannot head-of-line block a broadcast.
const statusWriteTimeout = 10 * time.Second

// Handler upgrades status requests to WebSocket and keeps them subscribed
// until the client goes away. The feed is server-to-client only.
type Handler struct {
	manager  *Manager
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// NewHandler creates the WebSocket endpoint for status subscriptions.
// allowedOrigin of "*" accepts any origin.
func NewHandler(manager *Manager, allowedOrigin string, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}

	return &Handler{
		manager: manager,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				if allowedOrigin == "*" {
					return true
				}
				return r.Header.Get("Origin") == allowedOrigin
			},
		},
		logger: logger,
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("status upgrade failed", "error", err)
		return
	}
	// The upgraded connection is hijacked from net/http; closing it is on us.
	defer conn.Close()

	sink := &wsSink{conn: conn, writeTimeout: statusWriteTimeout}
	id, err := h.manager.Subscribe(sink)
	if err != nil {
		h.logger.Error("status subscription failed", "error", err)
		return
	}
	defer h.manager.Unsubscribe(id)

	// Drain inbound frames. The feed is one-way, but reads are required to
	// notice the close frame and transport errors.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger.Debug("status subscriber read error", "subscriptionID", id, "error", err)
			}
			return
		}
	}
}

// wsSink adapts a WebSocket connection to the Sink interface. Gorilla allows
// one concurrent writer per connection, so writes are serialized.
type wsSink struct {
	mu           sync.Mutex
	conn         *websocket.Conn
	writeTimeout time.Duration
}

func (s *wsSink) Send(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.writeTimeout > 0 {
		s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
	}
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

func (s *wsSink) Close() error {
	return s.conn.Close()
}

package api

import (
	"context"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// maxStreamConnections caps concurrent public dashboard viewers.
const maxStreamConnections = 200

var streamUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// PublicHub broadcasts the sanitized stats snapshot to every connected
// dashboard viewer on a fixed tick, grounded on FluxForge's MetricsHub
// single-broadcaster pattern (control_plane/ws_hub.go): one ticker feeds
// all clients instead of one goroutine per connection polling the store.
type PublicHub struct {
	api        *API
	clients    map[*websocket.Conn]struct{}
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	mu         sync.RWMutex
}

// NewPublicHub wires a hub to api for building broadcast payloads.
func NewPublicHub(api *API) *PublicHub {
	return &PublicHub{
		api:        api,
		clients:    make(map[*websocket.Conn]struct{}),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
	}
}

// Run is the hub's event loop; it owns h.clients exclusively and must
// be started exactly once, typically from cmd/governor/main.go.
func (h *PublicHub) Run(ctx context.Context) {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return

		case conn := <-h.register:
			h.mu.Lock()
			if len(h.clients) >= maxStreamConnections {
				h.mu.Unlock()
				conn.Close()
				log.Printf("api: public stream rejected, max connections (%d) reached", maxStreamConnections)
				continue
			}
			h.clients[conn] = struct{}{}
			h.mu.Unlock()

		case conn := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[conn]; ok {
				delete(h.clients, conn)
				conn.Close()
			}
			h.mu.Unlock()

		case <-ticker.C:
			h.broadcastAll(ctx)
		}
	}
}

func (h *PublicHub) broadcastAll(ctx context.Context) {
	stats, err := h.api.buildPublicStats(ctx)
	if err != nil {
		log.Printf("api: failed to build public stats for stream: %v", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for conn := range h.clients {
		conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := conn.WriteJSON(stats); err != nil {
			go h.Unregister(conn)
		}
	}
}

func (h *PublicHub) shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.clients {
		conn.Close()
	}
	h.clients = make(map[*websocket.Conn]struct{})
}

// Register adds a new client connection; blocks until the hub loop
// accepts or rejects it.
func (h *PublicHub) Register(conn *websocket.Conn) {
	h.register <- conn
}

// Unregister removes a client connection.
func (h *PublicHub) Unregister(conn *websocket.Conn) {
	h.unregister <- conn
}

// handleStream is GET /public/stream, upgrading to a websocket that
// pushes periodic stats snapshots (spec §6.2). Grounded on
// control_plane/api_stream.go's handleDashboardStream: upgrade, hub
// register/defer-unregister, ping ticker with pong-reset read
// deadline, blocking read pump to detect client disconnects.
func (a *API) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := streamUpgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("api: public stream upgrade failed: %v", err)
		return
	}

	a.hub.Register(conn)
	defer a.hub.Unregister(conn)

	conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	pingTicker := time.NewTicker(30 * time.Second)
	defer pingTicker.Stop()
	done := make(chan struct{})
	defer close(done)

	go func() {
		for {
			select {
			case <-done:
				return
			case <-pingTicker.C:
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("api: public stream error: %v", err)
			}
			break
		}
	}
}

package server

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/pingmesh/pingmesh/pkg/config"
	"github.com/pingmesh/pingmesh/pkg/congestion"
)

const (
	wsReadBufferSize  = 1024
	wsWriteBufferSize = 1024
	wsChannelBuffer   = 16
	wsBroadcastBuffer = 64
	wsWriteDeadline   = 10 * time.Second
	wsReadDeadline    = 60 * time.Second
	wsPingInterval    = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		// No Origin header = direct connection (curl, monitoring tools).
		return origin == "" || origin == "http://"+r.Host || origin == "https://"+r.Host
	},
	ReadBufferSize:  wsReadBufferSize,
	WriteBufferSize: wsWriteBufferSize,
}

// PingHub manages websocket connections for the live congestion feed.
type PingHub struct {
	clients    map[*websocket.Conn]bool
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	broadcast  chan []byte

	mu sync.RWMutex
}

// NewPingHub creates a websocket hub.
func NewPingHub() *PingHub {
	return &PingHub{
		clients:    make(map[*websocket.Conn]bool),
		register:   make(chan *websocket.Conn, wsChannelBuffer),
		unregister: make(chan *websocket.Conn, wsChannelBuffer),
		broadcast:  make(chan []byte, wsBroadcastBuffer),
	}
}

// Run starts the hub's main loop.
func (h *PingHub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for conn := range h.clients {
				conn.Close()
			}
			h.mu.Unlock()
			return
		case conn := <-h.register:
			h.mu.Lock()
			h.clients[conn] = true
			count := len(h.clients)
			h.mu.Unlock()
			log.Printf("Live feed client connected (total: %d)", count)
		case conn := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[conn]; ok {
				delete(h.clients, conn)
				conn.Close()
			}
			count := len(h.clients)
			h.mu.Unlock()
			log.Printf("Live feed client disconnected (total: %d)", count)
		case message := <-h.broadcast:
			h.mu.RLock()
			var failed []*websocket.Conn
			for conn := range h.clients {
				conn.SetWriteDeadline(time.Now().Add(wsWriteDeadline))
				if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
					log.Printf("Live feed write error: %v", err)
					failed = append(failed, conn)
				}
			}
			h.mu.RUnlock()

			for _, conn := range failed {
				h.unregister <- conn
			}
		}
	}
}

// Broadcast sends a message to all connected clients. A full channel
// drops the message rather than blocking the caller.
func (h *PingHub) Broadcast(data interface{}) error {
	message, err := json.Marshal(data)
	if err != nil {
		return err
	}

	select {
	case h.broadcast <- message:
		return nil
	default:
		log.Printf("Live feed broadcast channel full, dropping message")
		return nil
	}
}

// HasClients reports whether any clients are connected.
func (h *PingHub) HasClients() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients) > 0
}

// LiveUpdate is the payload broadcast to live feed clients.
type LiveUpdate struct {
	Type        string           `json:"type"`
	GeneratedAt time.Time        `json:"generated_at"`
	RecordCount int              `json:"record_count"`
	Congestion  []CellCongestion `json:"congestion"`
}

// BroadcastLoop polls storage and pushes recent congestion to the hub
// until ctx is cancelled. The feed never touches the worker; it reads
// the same table the query endpoint does.
func (h *Handler) BroadcastLoop(ctx context.Context, hub *PingHub) {
	ticker := time.NewTicker(config.LiveBroadcastEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !hub.HasClients() {
				continue
			}

			now := h.clock()
			records, err := h.store.ScanSince(ctx, now.Add(-config.LiveBroadcastWindow))
			if err != nil {
				log.Printf("Live feed storage scan failed: %v", err)
				continue
			}

			counts := congestion.DeviceCongestion(records)
			items := make([]CellCongestion, 0, len(counts))
			for cell, count := range counts {
				items = append(items, CellCongestion{H3Hex: cell, DeviceCount: count})
			}

			if err := hub.Broadcast(LiveUpdate{
				Type:        "congestion",
				GeneratedAt: now,
				RecordCount: len(records),
				Congestion:  items,
			}); err != nil {
				log.Printf("Live feed broadcast failed: %v", err)
			}
		}
	}
}

// HandleLive upgrades the connection and subscribes it to the hub.
func (h *Handler) HandleLive(hub *PingHub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("Websocket upgrade failed: %v", err)
			return
		}

		hub.register <- conn

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		// Keepalive pings so idle feeds survive intermediaries.
		go func() {
			ticker := time.NewTicker(wsPingInterval)
			defer ticker.Stop()

			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					conn.SetWriteDeadline(time.Now().Add(wsWriteDeadline))
					if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
						return
					}
				}
			}
		}()

		defer func() {
			cancel()
			hub.unregister <- conn
		}()

		conn.SetReadDeadline(time.Now().Add(wsReadDeadline))
		conn.SetPongHandler(func(string) error {
			conn.SetReadDeadline(time.Now().Add(wsReadDeadline))
			return nil
		})

		// Read loop only services control frames and detects close.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
					log.Printf("Websocket error: %v", err)
				}
				break
			}
		}
	}
}

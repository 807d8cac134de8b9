package broadcast

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/pitchside/auction-engine/internal/metrics"
)

type subscription struct {
	conn         *websocket.Conn
	tournamentID string
}

type outbound struct {
	tournamentID string
	data         []byte
}

// Hub manages WebSocket subscriptions grouped by tournament and broadcasts
// events to every subscriber of that tournament.
type Hub struct {
	rooms      map[string]map[*websocket.Conn]bool
	broadcast  chan outbound
	register   chan subscription
	unregister chan subscription
	mu         sync.RWMutex
}

// NewHub creates an empty hub. Run must be started in a goroutine before
// the first Publish.
func NewHub() *Hub {
	return &Hub{
		rooms:      make(map[string]map[*websocket.Conn]bool),
		broadcast:  make(chan outbound, 256),
		register:   make(chan subscription),
		unregister: make(chan subscription),
	}
}

// Run is the hub's main event loop.
func (h *Hub) Run() {
	for {
		select {
		case sub := <-h.register:
			h.mu.Lock()
			room := h.rooms[sub.tournamentID]
			if room == nil {
				room = make(map[*websocket.Conn]bool)
				h.rooms[sub.tournamentID] = room
			}
			room[sub.conn] = true
			h.mu.Unlock()
			metrics.WebSocketClients.Inc()
			slog.Info("ws client subscribed", "tournament", sub.tournamentID)

		case sub := <-h.unregister:
			h.mu.Lock()
			if room, ok := h.rooms[sub.tournamentID]; ok {
				if _, ok := room[sub.conn]; ok {
					delete(room, sub.conn)
					sub.conn.Close()
					metrics.WebSocketClients.Dec()
				}
				if len(room) == 0 {
					delete(h.rooms, sub.tournamentID)
				}
			}
			h.mu.Unlock()

		case msg := <-h.broadcast:
			h.mu.RLock()
			room := h.rooms[msg.tournamentID]
			for conn := range room {
				if err := conn.WriteMessage(websocket.TextMessage, msg.data); err != nil {
					conn.Close()
					delete(room, conn)
					metrics.WebSocketClients.Dec()
				}
			}
			h.mu.RUnlock()
		}
	}
}

// Publish sends an event to every subscriber of its tournament.
func (h *Hub) Publish(e Event) {
	data, err := json.Marshal(e)
	if err != nil {
		return
	}
	metrics.EventsPublished.WithLabelValues(string(e.Type)).Inc()
	select {
	case h.broadcast <- outbound{tournamentID: e.TournamentID, data: data}:
	default:
		// Drop if buffer full to avoid blocking the session loop; clients
		// reconcile via snapshot refetch.
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		return true // origin policy is enforced by the fronting proxy
	},
}

// HandleWS upgrades the request and subscribes the connection to the given
// tournament's events.
func (h *Hub) HandleWS(tournamentID string, w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("ws upgrade failed", "err", err)
		return
	}

	sub := subscription{conn: conn, tournamentID: tournamentID}
	h.register <- sub

	// Read pump: keep connection alive and detect disconnects.
	go func() {
		defer func() { h.unregister <- sub }()
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		conn.SetPongHandler(func(string) error {
			conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			return nil
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
	}()

	// Ping ticker to keep connections alive through proxies.
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for range ticker.C {
			h.mu.RLock()
			_, ok := h.rooms[tournamentID][conn]
			h.mu.RUnlock()
			if !ok {
				return
			}
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}()
}

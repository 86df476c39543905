// Package ws owns the websocket endpoint: connection upgrade, the per-role
// read loops, and disconnect cleanup.
package ws

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	server "blockwell/server"
)

const (
	pongWait   = 60 * time.Second
	pingPeriod = 25 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Browser clients connect cross-origin during development.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Handler upgrades connections and runs the read loop for each role.
type Handler struct {
	registry *server.Registry
	hub      *server.Hub
	logger   *log.Logger
}

func NewHandler(registry *server.Registry, hub *server.Hub, logger *log.Logger) *Handler {
	if logger == nil {
		logger = log.Default()
	}
	return &Handler{registry: registry, hub: hub, logger: logger}
}

// Serve upgrades the request. Role comes from the "type" query parameter;
// player connections additionally require a known playerId.
func (h *Handler) Serve(w http.ResponseWriter, r *http.Request) {
	role := r.URL.Query().Get("type")
	playerID := r.URL.Query().Get("playerId")

	if role == "player" {
		if _, ok := h.registry.SessionInfo(playerID); !ok {
			http.Error(w, "unknown player", http.StatusNotFound)
			return
		}
	} else if role != "admin" {
		http.Error(w, "type must be player or admin", http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Printf("websocket upgrade failed: %v", err)
		return
	}

	if role == "player" {
		h.playerLoop(playerID, conn)
	} else {
		h.adminLoop(conn)
	}
}

// inbound is the superset of client frames; unused fields stay zero.
type inbound struct {
	Type      string            `json:"type"`
	PlayerID  string            `json:"playerId,omitempty"`
	GameState *server.GameState `json:"gameState,omitempty"`
}

func (h *Handler) playerLoop(playerID string, conn *websocket.Conn) {
	sub := h.hub.SubscribePlayer(playerID, conn)
	defer h.hub.DisconnectPlayer(playerID, sub)

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	stop := make(chan struct{})
	defer close(stop)
	go h.pingLoop(conn, stop)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var msg inbound
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		switch msg.Type {
		case "ping":
			// Application-level keepalive used by clients that cannot
			// observe protocol pings.
			h.hub.PushToSession(playerID, map[string]string{"type": "pong"})
		case "gameUpdate":
			if msg.GameState == nil {
				continue
			}
			if _, err := h.registry.UpdateState(playerID, *msg.GameState); err != nil {
				h.logger.Printf("rejected ws update from %s: %v", playerID, err)
			}
		}
	}
}

func (h *Handler) adminLoop(conn *websocket.Conn) {
	sub := h.hub.SubscribeAdmin(conn)
	defer h.hub.DisconnectAdmin(sub)

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	stop := make(chan struct{})
	defer close(stop)
	go h.pingLoop(conn, stop)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var msg inbound
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		switch msg.Type {
		case "subscribePlayer", "requestGameState":
			if msg.PlayerID != "" {
				h.hub.AdminWatch(sub, msg.PlayerID)
			}
		case "unsubscribePlayer":
			if msg.PlayerID != "" {
				h.hub.AdminUnwatch(sub, msg.PlayerID)
			}
		}
	}
}

// pingLoop sends protocol pings until the connection goes away. A failed
// write means the reader is about to see the error and clean up.
func (h *Handler) pingLoop(conn *websocket.Conn, stop <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(10*time.Second)); err != nil {
				return
			}
		}
	}
}

package server

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"blockwell/server/logging"
	"blockwell/server/logging/lifecycle"
)

// wsConn is the slice of *websocket.Conn the hub needs. Tests substitute
// a recording implementation.
type wsConn interface {
	SetWriteDeadline(t time.Time) error
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Subscriber wraps one websocket connection. Writes are serialized by mu
// and bounded by writeWait so one stalled client never blocks a broadcast.
type Subscriber struct {
	conn wsConn
	mu   sync.Mutex
}

func (s *Subscriber) send(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

// Hub fans registry mutations out to connected clients. Player connections
// are keyed by session; admin connections additionally carry a set of
// session ids they watch for full game-state frames.
type Hub struct {
	registry *Registry

	mu      sync.Mutex
	players map[string]*Subscriber
	admins  map[*Subscriber]map[string]struct{}
}

// NewHub wires a hub to the registry so mutations notify connected clients.
func NewHub(registry *Registry) *Hub {
	h := &Hub{
		registry: registry,
		players:  make(map[string]*Subscriber),
		admins:   make(map[*Subscriber]map[string]struct{}),
	}
	registry.attachNotifier(h)
	return h
}

// SubscribePlayer registers a player connection and sends the initial rank
// and leaderboard frame. A second connection for the same session replaces
// the first.
func (h *Hub) SubscribePlayer(id string, conn wsConn) *Subscriber {
	sub := &Subscriber{conn: conn}

	h.mu.Lock()
	old := h.players[id]
	h.players[id] = sub
	h.mu.Unlock()
	if old != nil {
		old.conn.Close()
	}

	snap, ok := h.registry.SessionInfo(id)
	if !ok {
		return sub
	}
	h.sendTo(sub, playerInitMessage{
		Type:        "init",
		Session:     snap,
		Rank:        h.registry.Rank(id),
		Leaderboard: h.registry.TopEntries(leaderboardTopN),
	})
	return sub
}

// SubscribeAdmin registers an admin connection and sends the initial
// playing-sessions and leaderboard frame.
func (h *Hub) SubscribeAdmin(conn wsConn) *Subscriber {
	sub := &Subscriber{conn: conn}

	h.mu.Lock()
	h.admins[sub] = make(map[string]struct{})
	h.mu.Unlock()

	h.sendTo(sub, adminInitMessage{
		Type:        "init",
		Playing:     h.registry.PlayingSessions(),
		Leaderboard: h.registry.Leaderboard(),
	})
	return sub
}

// AdminWatch subscribes an admin connection to full game-state frames for
// one session, and immediately sends the current state.
func (h *Hub) AdminWatch(sub *Subscriber, sessionID string) {
	h.mu.Lock()
	if watched, ok := h.admins[sub]; ok {
		watched[sessionID] = struct{}{}
	}
	h.mu.Unlock()

	if snap, state, ok := h.registry.SessionGameState(sessionID); ok {
		h.sendTo(sub, gameStateUpdateMessage{
			Type:      "gameStateUpdate",
			SessionID: sessionID,
			Session:   snap,
			State:     state,
		})
	}
}

// AdminUnwatch removes one session from an admin's watch set.
func (h *Hub) AdminUnwatch(sub *Subscriber, sessionID string) {
	h.mu.Lock()
	if watched, ok := h.admins[sub]; ok {
		delete(watched, sessionID)
	}
	h.mu.Unlock()
}

// DisconnectPlayer drops a player connection and force-ends its run.
func (h *Hub) DisconnectPlayer(id string, sub *Subscriber) {
	h.mu.Lock()
	// A replaced connection must not tear down its successor's session.
	current := h.players[id] == sub
	if current {
		delete(h.players, id)
	}
	h.mu.Unlock()
	if !current {
		return
	}
	lifecycle.ConnectionClosed(context.Background(), h.registry.publisher, logging.SessionRef(id), lifecycle.ConnectionClosedPayload{Role: "player"})
	h.registry.HandleDisconnect(id)
}

// DisconnectAdmin drops an admin connection.
func (h *Hub) DisconnectAdmin(sub *Subscriber) {
	h.mu.Lock()
	delete(h.admins, sub)
	h.mu.Unlock()
	lifecycle.ConnectionClosed(context.Background(), h.registry.publisher, logging.SystemRef(), lifecycle.ConnectionClosedPayload{Role: "admin"})
}

// SessionChanged pushes the session's new status to admins, full state to
// admins watching it, and a game-over frame to the player when the run
// finished.
func (h *Hub) SessionChanged(session Session, state *GameState) {
	h.mu.Lock()
	admins := make([]*Subscriber, 0, len(h.admins))
	watching := make([]*Subscriber, 0, len(h.admins))
	for sub, watched := range h.admins {
		admins = append(admins, sub)
		if _, ok := watched[session.ID]; ok {
			watching = append(watching, sub)
		}
	}
	player := h.players[session.ID]
	h.mu.Unlock()

	h.broadcast(admins, playerStatusUpdateMessage{Type: "playerStatusUpdate", Session: session})
	if state != nil {
		h.broadcast(watching, gameStateUpdateMessage{
			Type:      "gameStateUpdate",
			SessionID: session.ID,
			Session:   session,
			State:     state,
		})
	}
	if session.Status == StatusFinished && player != nil {
		h.broadcast([]*Subscriber{player}, gameEndedMessage{Type: "gameEnded", Score: session.CurrentScore})
	}
}

// RankingsChanged recomputes the leaderboard once and fans it out: the full
// board to admins, rank plus top rows to each player.
func (h *Hub) RankingsChanged() {
	board := h.registry.Leaderboard()
	top := board.All
	if len(top) > leaderboardTopN {
		top = top[:leaderboardTopN]
	}

	h.mu.Lock()
	admins := make([]*Subscriber, 0, len(h.admins))
	for sub := range h.admins {
		admins = append(admins, sub)
	}
	players := make(map[string]*Subscriber, len(h.players))
	for id, sub := range h.players {
		players[id] = sub
	}
	h.mu.Unlock()

	h.broadcast(admins, leaderboardUpdateMessage{Type: "leaderboardUpdate", Leaderboard: board})
	for id, sub := range players {
		rank := 0
		for i, entry := range board.All {
			if entry.PlayerID == id {
				rank = i + 1
				break
			}
		}
		h.sendTo(sub, rankUpdateMessage{Type: "rankUpdate", Rank: rank, Leaderboard: top})
	}
}

// PushToSession delivers one frame to a single player connection, if any.
func (h *Hub) PushToSession(id string, payload any) {
	h.mu.Lock()
	sub := h.players[id]
	h.mu.Unlock()
	if sub == nil {
		return
	}
	h.sendTo(sub, payload)
}

// RunDurationTicker pushes elapsed run time for every playing session once
// per second until stop closes.
func (h *Hub) RunDurationTicker(stop <-chan struct{}) {
	ticker := time.NewTicker(durationTickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			h.broadcastDurations()
		}
	}
}

// broadcastDurations pushes one durationUpdate per playing session to all
// admins and to the session's own connection.
func (h *Hub) broadcastDurations() {
	playing := h.registry.PlayingSessions()
	if len(playing) == 0 {
		return
	}
	h.mu.Lock()
	admins := make([]*Subscriber, 0, len(h.admins))
	for sub := range h.admins {
		admins = append(admins, sub)
	}
	players := make(map[string]*Subscriber, len(h.players))
	for id, sub := range h.players {
		players[id] = sub
	}
	h.mu.Unlock()

	for _, snap := range playing {
		msg := durationUpdateMessage{Type: "durationUpdate", SessionID: snap.ID, Duration: snap.Duration}
		h.broadcast(admins, msg)
		if sub := players[snap.ID]; sub != nil {
			h.sendTo(sub, msg)
		}
	}
}

// broadcast marshals once and writes the frame to every subscriber. Write
// failures close the connection; cleanup happens in the reader loop.
func (h *Hub) broadcast(subs []*Subscriber, payload any) {
	if len(subs) == 0 {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		h.registry.logger.Printf("failed to marshal broadcast: %v", err)
		return
	}
	for _, sub := range subs {
		if err := sub.send(data); err != nil {
			sub.conn.Close()
		}
	}
	h.registry.telemetry.RecordBroadcast(len(data) * len(subs))
}

func (h *Hub) sendTo(sub *Subscriber, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		h.registry.logger.Printf("failed to marshal push: %v", err)
		return
	}
	if err := sub.send(data); err != nil {
		sub.conn.Close()
		return
	}
	h.registry.telemetry.RecordBroadcast(len(data))
}

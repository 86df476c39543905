package server

import (
	"encoding/json"
	"sync"
	"testing"
	"time"
)

// fakeConn records every frame written to it.
type fakeConn struct {
	mu     sync.Mutex
	frames [][]byte
	closed bool
}

func (c *fakeConn) SetWriteDeadline(time.Time) error { return nil }

func (c *fakeConn) WriteMessage(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = append(c.frames, append([]byte(nil), data...))
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return nil
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// typesSeen decodes each recorded frame's discriminator.
func (c *fakeConn) typesSeen(t *testing.T) []string {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	types := make([]string, 0, len(c.frames))
	for _, frame := range c.frames {
		var envelope struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(frame, &envelope); err != nil {
			t.Fatalf("frame is not JSON: %q", frame)
		}
		types = append(types, envelope.Type)
	}
	return types
}

func (c *fakeConn) lastOfType(t *testing.T, typ string) []byte {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := len(c.frames) - 1; i >= 0; i-- {
		var envelope struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(c.frames[i], &envelope); err != nil {
			t.Fatalf("frame is not JSON: %q", c.frames[i])
		}
		if envelope.Type == typ {
			return c.frames[i]
		}
	}
	t.Fatalf("no %q frame among %v", typ, c.typesSeenLocked())
	return nil
}

func (c *fakeConn) typesSeenLocked() []string {
	types := make([]string, 0, len(c.frames))
	for _, frame := range c.frames {
		var envelope struct {
			Type string `json:"type"`
		}
		_ = json.Unmarshal(frame, &envelope)
		types = append(types, envelope.Type)
	}
	return types
}

func containsType(types []string, want string) bool {
	for _, typ := range types {
		if typ == want {
			return true
		}
	}
	return false
}

func newHubFixture(t *testing.T) (*Registry, *Hub, *fakeClock) {
	t.Helper()
	clock := newFakeClock()
	registry := NewRegistry(RegistryConfig{Store: &fakeStore{}, Now: clock.Now})
	hub := NewHub(registry)
	return registry, hub, clock
}

func TestSubscribePlayerSendsInit(t *testing.T) {
	r, hub, _ := newHubFixture(t)
	id := startPlaying(t, r, "alice")

	conn := &fakeConn{}
	hub.SubscribePlayer(id, conn)

	data := conn.lastOfType(t, "init")
	var init playerInitMessage
	if err := json.Unmarshal(data, &init); err != nil {
		t.Fatalf("decode init: %v", err)
	}
	if init.Session.ID != id {
		t.Fatalf("init session = %q, want %q", init.Session.ID, id)
	}
	if init.Rank != 1 {
		t.Fatalf("init rank = %d, want 1", init.Rank)
	}
}

func TestSubscribeAdminSendsInit(t *testing.T) {
	r, hub, _ := newHubFixture(t)
	startPlaying(t, r, "bob")

	conn := &fakeConn{}
	hub.SubscribeAdmin(conn)

	data := conn.lastOfType(t, "init")
	var init adminInitMessage
	if err := json.Unmarshal(data, &init); err != nil {
		t.Fatalf("decode init: %v", err)
	}
	if len(init.Playing) != 1 {
		t.Fatalf("init playing = %d, want 1", len(init.Playing))
	}
	if len(init.Leaderboard.Playing) != 1 {
		t.Fatalf("init leaderboard playing = %d, want 1", len(init.Leaderboard.Playing))
	}
}

func TestAdminWatchScopesGameStateFrames(t *testing.T) {
	r, hub, _ := newHubFixture(t)
	id := startPlaying(t, r, "carol")

	watching := &fakeConn{}
	idle := &fakeConn{}
	watchingSub := hub.SubscribeAdmin(watching)
	hub.SubscribeAdmin(idle)
	hub.AdminWatch(watchingSub, id)

	// The watch itself delivers the current state.
	watching.lastOfType(t, "gameStateUpdate")

	if _, err := r.UpdateState(id, GameState{Board: emptyBoard(), Level: 1}); err != nil {
		t.Fatalf("UpdateState: %v", err)
	}

	if !containsType(watching.typesSeen(t), "gameStateUpdate") {
		t.Fatalf("watching admin missed the state frame")
	}
	if containsType(idle.typesSeen(t), "gameStateUpdate") {
		t.Fatalf("idle admin received an unwatched session's state")
	}
	// Status fan-out reaches every admin regardless of watches.
	if !containsType(idle.typesSeen(t), "playerStatusUpdate") {
		t.Fatalf("idle admin missed the status frame")
	}

	hub.AdminUnwatch(watchingSub, id)
	before := len(watching.typesSeen(t))
	if _, err := r.UpdateState(id, GameState{Board: emptyBoard(), Level: 1}); err != nil {
		t.Fatalf("UpdateState after unwatch: %v", err)
	}
	after := watching.typesSeen(t)[before:]
	if containsType(after, "gameStateUpdate") {
		t.Fatalf("unwatched admin still receives state frames")
	}
}

func TestRankingsChangedFanout(t *testing.T) {
	r, hub, _ := newHubFixture(t)
	id := startPlaying(t, r, "dave")

	playerConn := &fakeConn{}
	adminConn := &fakeConn{}
	hub.SubscribePlayer(id, playerConn)
	hub.SubscribeAdmin(adminConn)

	hub.RankingsChanged()

	data := playerConn.lastOfType(t, "rankUpdate")
	var rank rankUpdateMessage
	if err := json.Unmarshal(data, &rank); err != nil {
		t.Fatalf("decode rankUpdate: %v", err)
	}
	if rank.Rank != 1 {
		t.Fatalf("rank = %d, want 1", rank.Rank)
	}
	adminConn.lastOfType(t, "leaderboardUpdate")
}

func TestSessionChangedSendsGameEndedToPlayer(t *testing.T) {
	r, hub, _ := newHubFixture(t)
	id := startPlaying(t, r, "erin")

	conn := &fakeConn{}
	hub.SubscribePlayer(id, conn)

	if _, err := r.EndSession(id, "player"); err != nil {
		t.Fatalf("EndSession: %v", err)
	}
	conn.lastOfType(t, "gameEnded")
}

func TestReplacedConnectionDoesNotEndSession(t *testing.T) {
	r, hub, _ := newHubFixture(t)
	id := startPlaying(t, r, "frank")

	first := &fakeConn{}
	firstSub := hub.SubscribePlayer(id, first)
	second := &fakeConn{}
	secondSub := hub.SubscribePlayer(id, second)

	if !first.isClosed() {
		t.Fatalf("replaced connection left open")
	}

	// The stale connection's teardown must not touch the live session.
	hub.DisconnectPlayer(id, firstSub)
	if snap, _ := r.SessionInfo(id); snap.Status != StatusPlaying {
		t.Fatalf("stale disconnect ended the session: %q", snap.Status)
	}

	hub.DisconnectPlayer(id, secondSub)
	if snap, _ := r.SessionInfo(id); snap.Status != StatusFinished {
		t.Fatalf("live disconnect did not end the session: %q", snap.Status)
	}
}

func TestPushToSessionTargetsOneConnection(t *testing.T) {
	r, hub, _ := newHubFixture(t)
	first := startPlaying(t, r, "grace")
	second := startPlaying(t, r, "heidi")

	firstConn := &fakeConn{}
	secondConn := &fakeConn{}
	hub.SubscribePlayer(first, firstConn)
	hub.SubscribePlayer(second, secondConn)

	hub.PushToSession(first, statusMessage{Type: "gamePaused"})

	if !containsType(firstConn.typesSeen(t), "gamePaused") {
		t.Fatalf("target connection missed the push")
	}
	if containsType(secondConn.typesSeen(t), "gamePaused") {
		t.Fatalf("push leaked to another session")
	}
	// No connection for the id is a quiet no-op.
	hub.PushToSession("player_missing", statusMessage{Type: "gamePaused"})
}

func TestBroadcastDurations(t *testing.T) {
	r, hub, clock := newHubFixture(t)
	id := startPlaying(t, r, "ivan")
	clock.Advance(42 * time.Second)

	playerConn := &fakeConn{}
	adminConn := &fakeConn{}
	hub.SubscribePlayer(id, playerConn)
	hub.SubscribeAdmin(adminConn)

	hub.broadcastDurations()

	for _, conn := range []*fakeConn{playerConn, adminConn} {
		data := conn.lastOfType(t, "durationUpdate")
		var msg durationUpdateMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			t.Fatalf("decode durationUpdate: %v", err)
		}
		if msg.SessionID != id {
			t.Fatalf("duration for %q, want %q", msg.SessionID, id)
		}
		if msg.Duration != 42_000 {
			t.Fatalf("duration = %d, want 42000", msg.Duration)
		}
	}
}

func TestDisconnectAdminStopsFanout(t *testing.T) {
	r, hub, _ := newHubFixture(t)
	id := startPlaying(t, r, "judy")

	conn := &fakeConn{}
	sub := hub.SubscribeAdmin(conn)
	hub.DisconnectAdmin(sub)

	before := len(conn.typesSeen(t))
	if _, err := r.UpdateState(id, GameState{Board: emptyBoard(), Level: 1}); err != nil {
		t.Fatalf("UpdateState: %v", err)
	}
	if len(conn.typesSeen(t)) != before {
		t.Fatalf("disconnected admin still receives frames")
	}
}

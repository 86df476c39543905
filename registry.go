package server

import (
	"context"
	"log"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"blockwell/server/logging"
	"blockwell/server/logging/lifecycle"
)

// PersistedSession is the durable subset of a session. In-flight run state
// (sequence, counters, board) is never persisted; a restart always resumes
// sessions as registered.
type PersistedSession struct {
	ID           string      `json:"id"`
	Nickname     string      `json:"nickname"`
	Email        string      `json:"email,omitempty"`
	HighestScore int         `json:"highestScore"`
	History      []RunRecord `json:"history,omitempty"`
}

// PersistedState is the unit of load/save exchanged with the store.
type PersistedState struct {
	Sessions []PersistedSession `json:"players"`
	Bindings map[string]string  `json:"bindings,omitempty"`
}

// StoreStats describes the backing file for the storage admin surface.
type StoreStats struct {
	Exists       bool   `json:"exists"`
	SizeBytes    int64  `json:"size"`
	ModifiedAt   int64  `json:"modified,omitempty"`
	SessionCount int    `json:"playerCount"`
	LastUpdated  string `json:"lastUpdated,omitempty"`
}

// Store is the persistence collaborator. Implementations must make Save
// atomic; the registry treats every error as retryable and never lets one
// reach a gameplay caller.
type Store interface {
	Load() (PersistedState, error)
	Save(PersistedState) error
	Backup() (string, error)
	Stats() StoreStats
}

// Challenge is a pending human-verification challenge.
type Challenge struct {
	ID        string    `json:"challengeId"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Challenger is the human-verification collaborator. Challenges are
// single-use; Verify returns nil exactly once for a correct answer.
type Challenger interface {
	Create(sessionID string) (Challenge, error)
	Verify(challengeID, answer string) error
	Sweep(now time.Time) int
}

// notifier receives post-mutation fan-out work. Implemented by the Hub;
// the registry never holds a session lock while calling it.
type notifier interface {
	SessionChanged(session Session, state *GameState)
	RankingsChanged()
	PushToSession(sessionID string, payload any)
}

type nopNotifier struct{}

func (nopNotifier) SessionChanged(Session, *GameState) {}
func (nopNotifier) RankingsChanged()                   {}
func (nopNotifier) PushToSession(string, any)          {}

// RegistryConfig wires the registry's collaborators. Store and Challenger
// are required in production; tests may leave either nil.
type RegistryConfig struct {
	Store      Store
	Challenger Challenger
	Tiers      []Tier
	Publisher  logging.Publisher
	Logger     *log.Logger
	Rand       *rand.Rand
	Now        func() time.Time
}

// Registry owns every player session. Map membership is guarded by mu;
// per-session mutations are serialized by the session's own mutex, so
// distinct sessions proceed independently.
type Registry struct {
	mu         sync.RWMutex
	sessions   map[string]*sessionState
	byNickname map[string]string
	bindings   map[string]string

	store      Store
	challenger Challenger
	difficulty *difficultyTable
	publisher  logging.Publisher
	logger     *log.Logger
	telemetry  *telemetryCounters
	notify     notifier

	randMu sync.Mutex
	rand   *rand.Rand
	now    func() time.Time
}

// NewRegistry constructs a registry and restores persisted sessions.
// Load failures are logged and start the registry empty; a broken data
// file must not prevent the server from coming up.
func NewRegistry(cfg RegistryConfig) *Registry {
	publisher := cfg.Publisher
	if publisher == nil {
		publisher = logging.NopPublisher()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}
	rng := cfg.Rand
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	r := &Registry{
		sessions:   make(map[string]*sessionState),
		byNickname: make(map[string]string),
		bindings:   make(map[string]string),
		store:      cfg.Store,
		challenger: cfg.Challenger,
		difficulty: newDifficultyTable(cfg.Tiers),
		publisher:  publisher,
		logger:     logger,
		telemetry:  newTelemetryCounters(),
		notify:     nopNotifier{},
		rand:       rng,
		now:        now,
	}
	r.restore()
	return r
}

func (r *Registry) restore() {
	if r.store == nil {
		return
	}
	state, err := r.store.Load()
	if err != nil {
		r.logger.Printf("failed to load persisted sessions: %v", err)
		return
	}
	for _, persisted := range state.Sessions {
		if persisted.ID == "" || persisted.Nickname == "" {
			continue
		}
		session := &sessionState{
			id:           persisted.ID,
			nickname:     persisted.Nickname,
			email:        persisted.Email,
			highestScore: persisted.HighestScore,
			status:       StatusRegistered,
			history:      append([]RunRecord(nil), persisted.History...),
		}
		r.sessions[persisted.ID] = session
		r.byNickname[persisted.Nickname] = persisted.ID
		if persisted.Email != "" {
			r.bindings[persisted.Nickname] = persisted.Email
		}
	}
	for nickname, email := range state.Bindings {
		if email != "" {
			r.bindings[nickname] = email
		}
	}
	r.logger.Printf("restored %d persisted sessions", len(r.sessions))
}

func (r *Registry) attachNotifier(n notifier) {
	if n != nil {
		r.notify = n
	}
}

// Telemetry exposes the counters for the diagnostics endpoint.
func (r *Registry) Telemetry() telemetrySnapshot {
	return r.telemetry.Snapshot()
}

// StorageStats reports on the backing file, or zero stats without a store.
func (r *Registry) StorageStats() StoreStats {
	if r.store == nil {
		return StoreStats{}
	}
	return r.store.Stats()
}

// Backup asks the store for an on-demand backup copy.
func (r *Registry) Backup() (string, error) {
	if r.store == nil {
		return "", errNotFound("no store configured")
	}
	return r.store.Backup()
}

func (r *Registry) randFloat() float64 {
	r.randMu.Lock()
	defer r.randMu.Unlock()
	return r.rand.Float64()
}

func (r *Registry) newGenerator() *pieceGenerator {
	r.randMu.Lock()
	defer r.randMu.Unlock()
	return newPieceGenerator(rand.New(rand.NewSource(r.rand.Int63())))
}

func (r *Registry) session(id string) (*sessionState, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	session, ok := r.sessions[id]
	return session, ok
}

// Register creates a session for an unseen nickname, or logs a returning
// player back in when the email matches the binding. The mismatch message
// is deliberately generic so callers cannot tell which field was wrong.
func (r *Registry) Register(nickname, email string) (Session, bool, error) {
	now := r.now()

	r.mu.Lock()
	id, seen := r.byNickname[nickname]
	if !seen {
		id = "player_" + uuid.NewString()
		session := &sessionState{
			id:       id,
			nickname: nickname,
			email:    email,
			status:   StatusRegistered,
		}
		r.sessions[id] = session
		r.byNickname[nickname] = id
		r.bindings[nickname] = email
		snap := session.Snapshot(now)
		r.mu.Unlock()

		lifecycle.Registered(context.Background(), r.publisher, logging.SessionRef(id), lifecycle.RegisteredPayload{Nickname: nickname, New: true})
		r.saveAsync()
		return snap, true, nil
	}

	bound, hasBinding := r.bindings[nickname]
	if hasBinding && bound != email {
		r.mu.Unlock()
		return Session{}, false, ErrIdentityMismatch
	}
	if !hasBinding {
		// Pre-binding data: bind the supplied email retroactively, once.
		r.bindings[nickname] = email
	}
	session := r.sessions[id]
	r.mu.Unlock()

	session.mu.Lock()
	if session.email == "" {
		session.email = email
	}
	session.currentScore = 0
	session.status = StatusRegistered
	session.gameState = nil
	session.startedAt = time.Time{}
	session.endedAt = time.Time{}
	snap := session.snapshotLocked(now)
	session.mu.Unlock()

	lifecycle.Registered(context.Background(), r.publisher, logging.SessionRef(id), lifecycle.RegisteredPayload{Nickname: nickname, New: false})
	r.saveAsync()
	return snap, false, nil
}

// NicknameAvailable reports whether a nickname is unclaimed.
func (r *Registry) NicknameAvailable(nickname string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, seen := r.byNickname[nickname]
	return !seen
}

// StartResult is handed to the client at game start. Pieces holds only the
// visible window, never the full sequence.
type StartResult struct {
	State        GameState `json:"gameState"`
	Pieces       []Piece   `json:"pieceSequence"`
	DropInterval int       `json:"dropInterval"`
	Difficulty   Tier      `json:"difficulty"`
}

// StartSession transitions a session to playing: fresh sequence, zeroed
// counters, empty board snapshot, first piece timestamped now.
func (r *Registry) StartSession(id string) (StartResult, error) {
	session, ok := r.session(id)
	if !ok {
		return StartResult{}, errNotFound("unknown session " + id)
	}
	now := r.now()
	gen := r.newGenerator()

	session.mu.Lock()
	session.status = StatusPlaying
	session.startedAt = now
	session.endedAt = time.Time{}
	session.currentScore = 0
	session.pieceSequence = gen.batch(nil, initialBatchSize)
	session.pieceIndex = 0
	session.pieceIssuedAt = now
	session.speedViolations = 0
	session.pauseCount = 0
	session.cheatFlag = false
	session.isPaused = false
	session.pauseStartedAt = time.Time{}
	session.awaitingChallenge = false
	session.activeChallengeID = ""
	session.lastBoard = emptyBoard()

	tier := r.difficulty.TierFor(0)
	state := GameState{
		Board: emptyBoard(),
		Score: 0,
		Lines: 0,
		Level: tier.Level,
	}
	session.gameState = &GameState{Board: copyBoard(state.Board), Level: tier.Level}
	pieces := session.visiblePiecesLocked()
	snap := session.snapshotLocked(now)
	session.mu.Unlock()

	lifecycle.SessionStarted(context.Background(), r.publisher, logging.SessionRef(id))
	r.notify.SessionChanged(snap, nil)

	return StartResult{
		State:        state,
		Pieces:       pieces,
		DropInterval: tier.DropInterval,
		Difficulty:   tier,
	}, nil
}

// EndSession finishes a run, appends it to history, and persists. reason
// is recorded in the lifecycle event only.
func (r *Registry) EndSession(id, reason string) (RunRecord, error) {
	session, ok := r.session(id)
	if !ok {
		return RunRecord{}, errNotFound("unknown session " + id)
	}
	now := r.now()

	session.mu.Lock()
	if session.status != StatusPlaying {
		session.mu.Unlock()
		return RunRecord{}, errInvalidTransition("session is not playing")
	}
	session.status = StatusFinished
	session.endedAt = now
	record := RunRecord{
		Score:     session.currentScore,
		StartedAt: session.startedAt.UnixMilli(),
		EndedAt:   now.UnixMilli(),
		Duration:  now.Sub(session.startedAt).Milliseconds(),
	}
	session.history = append(session.history, record)
	snap := session.snapshotLocked(now)
	session.mu.Unlock()

	lifecycle.SessionEnded(context.Background(), r.publisher, logging.SessionRef(id), lifecycle.SessionEndedPayload{
		Score:    record.Score,
		Duration: record.Duration,
		Reason:   reason,
	})
	r.notify.SessionChanged(snap, nil)
	r.notify.RankingsChanged()
	r.saveAsync()
	return record, nil
}

// DeleteSession removes a finished session and frees its nickname binding.
func (r *Registry) DeleteSession(id string) error {
	r.mu.Lock()
	session, ok := r.sessions[id]
	if !ok {
		r.mu.Unlock()
		return errNotFound("unknown session " + id)
	}
	session.mu.Lock()
	if session.status != StatusFinished {
		session.mu.Unlock()
		r.mu.Unlock()
		return errInvalidTransition("only finished sessions can be deleted")
	}
	nickname := session.nickname
	session.mu.Unlock()

	delete(r.sessions, id)
	delete(r.byNickname, nickname)
	delete(r.bindings, nickname)
	r.mu.Unlock()

	lifecycle.SessionDeleted(context.Background(), r.publisher, logging.SessionRef(id))
	r.notify.RankingsChanged()
	r.saveAsync()
	return nil
}

// HandleDisconnect force-ends a playing session whose connection dropped.
// No orphaned playing sessions survive a dropped connection.
func (r *Registry) HandleDisconnect(id string) {
	session, ok := r.session(id)
	if !ok {
		return
	}
	session.mu.Lock()
	playing := session.status == StatusPlaying
	session.mu.Unlock()
	if !playing {
		return
	}
	if _, err := r.EndSession(id, "disconnect"); err != nil {
		r.logger.Printf("failed to end session %s after disconnect: %v", id, err)
	}
}

// SessionInfo returns the public snapshot for one session.
func (r *Registry) SessionInfo(id string) (Session, bool) {
	session, ok := r.session(id)
	if !ok {
		return Session{}, false
	}
	return session.Snapshot(r.now()), true
}

// SessionGameState returns the snapshot plus the last accepted game state.
func (r *Registry) SessionGameState(id string) (Session, *GameState, bool) {
	session, ok := r.session(id)
	if !ok {
		return Session{}, nil, false
	}
	now := r.now()
	session.mu.Lock()
	snap := session.snapshotLocked(now)
	state := session.gameStateLocked()
	session.mu.Unlock()
	return snap, state, true
}

// PlayingSessions snapshots every session currently in the playing state.
func (r *Registry) PlayingSessions() []Session {
	now := r.now()
	r.mu.RLock()
	states := make([]*sessionState, 0, len(r.sessions))
	for _, session := range r.sessions {
		states = append(states, session)
	}
	r.mu.RUnlock()

	playing := make([]Session, 0, len(states))
	for _, session := range states {
		snap := session.Snapshot(now)
		if snap.Status == StatusPlaying {
			playing = append(playing, snap)
		}
	}
	return playing
}

func (r *Registry) persistedState() PersistedState {
	r.mu.RLock()
	states := make([]*sessionState, 0, len(r.sessions))
	for _, session := range r.sessions {
		states = append(states, session)
	}
	bindings := make(map[string]string, len(r.bindings))
	for nickname, email := range r.bindings {
		bindings[nickname] = email
	}
	r.mu.RUnlock()

	persisted := make([]PersistedSession, 0, len(states))
	for _, session := range states {
		session.mu.Lock()
		persisted = append(persisted, PersistedSession{
			ID:           session.id,
			Nickname:     session.nickname,
			Email:        session.email,
			HighestScore: session.highestScore,
			History:      append([]RunRecord(nil), session.history...),
		})
		session.mu.Unlock()
	}
	return PersistedState{Sessions: persisted, Bindings: bindings}
}

// Flush writes the durable state synchronously. Used at shutdown and by
// the storage admin endpoint.
func (r *Registry) Flush() error {
	if r.store == nil {
		return nil
	}
	return r.store.Save(r.persistedState())
}

// saveAsync persists on a best-effort basis. I/O errors are logged and
// retried by the next autosave cycle, never surfaced to gameplay.
func (r *Registry) saveAsync() {
	if r.store == nil {
		return
	}
	state := r.persistedState()
	go func() {
		if err := r.store.Save(state); err != nil {
			r.logger.Printf("failed to persist sessions: %v", err)
		}
	}()
}

// Run drives the registry's periodic work until stop closes: best-effort
// autosave and expired-challenge sweeping. Neither ever blocks request
// handling.
func (r *Registry) Run(stop <-chan struct{}) {
	save := time.NewTicker(autosaveInterval)
	defer save.Stop()
	sweep := time.NewTicker(challengeSweepInterval)
	defer sweep.Stop()

	for {
		select {
		case <-stop:
			return
		case <-save.C:
			if r.store != nil {
				if err := r.store.Save(r.persistedState()); err != nil {
					r.logger.Printf("autosave failed: %v", err)
				}
			}
		case <-sweep.C:
			if r.challenger != nil {
				if removed := r.challenger.Sweep(r.now()); removed > 0 {
					r.logger.Printf("swept %d expired challenges", removed)
				}
			}
		}
	}
}

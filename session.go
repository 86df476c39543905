package server

import (
	"sync"
	"time"
)

// Status is the session lifecycle state.
type Status string

const (
	StatusRegistered Status = "registered"
	StatusPlaying    Status = "playing"
	StatusFinished   Status = "finished"
)

// Session is the wire-safe projection of a player session. Never includes
// the piece sequence or anti-cheat counters.
type Session struct {
	ID           string `json:"id"`
	Nickname     string `json:"nickname"`
	CurrentScore int    `json:"currentScore"`
	HighestScore int    `json:"highestScore"`
	Status       Status `json:"status"`
	StartedAt    int64  `json:"startTime,omitempty"`
	EndedAt      int64  `json:"endTime,omitempty"`
	Duration     int64  `json:"duration,omitempty"`
}

// RunRecord is one completed run in a session's history.
type RunRecord struct {
	Score     int   `json:"score"`
	StartedAt int64 `json:"startTime"`
	EndedAt   int64 `json:"endTime"`
	Duration  int64 `json:"duration"`
}

// GameState is the client-reported full state. Everything in it is
// advisory until it survives the validation pipeline.
type GameState struct {
	Board [][]int `json:"board"`
	Score int     `json:"score"`
	Lines int     `json:"lines"`
	Level int     `json:"level"`
}

// sessionState holds all server-owned state for one player. Mutations are
// serialized by mu; the registry never mutates two sessions under one lock.
type sessionState struct {
	mu sync.Mutex

	id       string
	nickname string
	email    string

	currentScore int
	highestScore int
	status       Status

	startedAt time.Time
	endedAt   time.Time

	// Authoritative sequence state, valid only while playing.
	pieceSequence []Piece
	pieceIndex    int
	pieceIssuedAt time.Time

	isPaused       bool
	pauseStartedAt time.Time

	speedViolations   float64
	pauseCount        int
	cheatFlag         bool
	awaitingChallenge bool
	activeChallengeID string

	lastBoard [][]int
	gameState *GameState

	history []RunRecord
}

// snapshotLocked copies the public projection. Caller holds s.mu.
func (s *sessionState) snapshotLocked(now time.Time) Session {
	snap := Session{
		ID:           s.id,
		Nickname:     s.nickname,
		CurrentScore: s.currentScore,
		HighestScore: s.highestScore,
		Status:       s.status,
	}
	if !s.startedAt.IsZero() {
		snap.StartedAt = s.startedAt.UnixMilli()
	}
	if !s.endedAt.IsZero() {
		snap.EndedAt = s.endedAt.UnixMilli()
	}
	switch {
	case s.status == StatusPlaying && !s.startedAt.IsZero():
		snap.Duration = now.Sub(s.startedAt).Milliseconds()
	case !s.startedAt.IsZero() && !s.endedAt.IsZero():
		snap.Duration = s.endedAt.Sub(s.startedAt).Milliseconds()
	}
	return snap
}

// Snapshot copies the public projection under the session lock.
func (s *sessionState) Snapshot(now time.Time) Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked(now)
}

// gameStateLocked deep-copies the stored client state. Caller holds s.mu.
func (s *sessionState) gameStateLocked() *GameState {
	if s.gameState == nil {
		return nil
	}
	copied := *s.gameState
	copied.Board = copyBoard(s.gameState.Board)
	return &copied
}

// visiblePiecesLocked returns the lookahead window starting at the cursor.
// Caller holds s.mu.
func (s *sessionState) visiblePiecesLocked() []Piece {
	end := s.pieceIndex + visibleWindow
	if end > len(s.pieceSequence) {
		end = len(s.pieceSequence)
	}
	return append([]Piece(nil), s.pieceSequence[s.pieceIndex:end]...)
}

func emptyBoard() [][]int {
	board := make([][]int, boardRows)
	for i := range board {
		board[i] = make([]int, boardCols)
	}
	return board
}

func copyBoard(board [][]int) [][]int {
	if board == nil {
		return nil
	}
	copied := make([][]int, len(board))
	for i, row := range board {
		copied[i] = append([]int(nil), row...)
	}
	return copied
}

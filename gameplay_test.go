package server

import (
	"errors"
	"testing"
	"time"
)

func startPlaying(t *testing.T, r *Registry, nickname string) string {
	t.Helper()
	session, _, err := r.Register(nickname, nickname+"@example.com")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if _, err := r.StartSession(session.ID); err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	return session.ID
}

func TestAdvancePieceWithinWindow(t *testing.T) {
	clock := newFakeClock()
	r, _, _ := newTestRegistry(t, clock)
	id := startPlaying(t, r, "alice")

	clock.Advance(800 * time.Millisecond)
	result, err := r.AdvancePiece(id)
	if err != nil {
		t.Fatalf("AdvancePiece: %v", err)
	}
	if result.PieceIndex != 1 {
		t.Fatalf("piece index = %d, want 1", result.PieceIndex)
	}
	if result.CurrentPiece.ID == result.NextPiece.ID {
		t.Fatalf("current and next piece must differ")
	}
	if result.DropInterval != 1000 {
		t.Fatalf("drop interval = %d, want 1000", result.DropInterval)
	}
}

func TestAdvancePieceDecaysViolations(t *testing.T) {
	clock := newFakeClock()
	r, _, _ := newTestRegistry(t, clock)
	id := startPlaying(t, r, "bob")
	session, _ := r.session(id)

	// One slow advance earns a violation. Tier 1 allows up to
	// 1000*1.5+2000 = 3500ms.
	clock.Advance(4 * time.Second)
	if _, err := r.AdvancePiece(id); err != nil {
		t.Fatalf("slow advance rejected: %v", err)
	}
	session.mu.Lock()
	violations := session.speedViolations
	session.mu.Unlock()
	if violations != 1 {
		t.Fatalf("violations = %v, want 1", violations)
	}

	// A clean advance forgives half a violation.
	clock.Advance(time.Second)
	if _, err := r.AdvancePiece(id); err != nil {
		t.Fatalf("clean advance rejected: %v", err)
	}
	session.mu.Lock()
	violations = session.speedViolations
	session.mu.Unlock()
	if violations != 0.5 {
		t.Fatalf("violations = %v, want 0.5", violations)
	}
}

func TestAdvancePieceFlagsCheatAfterRepeatedViolations(t *testing.T) {
	clock := newFakeClock()
	r, _, _ := newTestRegistry(t, clock)
	id := startPlaying(t, r, "carol")

	var last error
	for i := 0; i < suspiciousCount; i++ {
		clock.Advance(5 * time.Second)
		_, last = r.AdvancePiece(id)
	}
	if !errors.Is(last, ErrCheatDetected) {
		t.Fatalf("expected cheat detection on violation %d, got %v", suspiciousCount, last)
	}

	// The flag is permanent for the run.
	clock.Advance(time.Second)
	if _, err := r.AdvancePiece(id); !errors.Is(err, ErrCheatDetected) {
		t.Fatalf("expected persistent cheat flag, got %v", err)
	}
	if _, err := r.UpdateState(id, GameState{Board: emptyBoard(), Level: 1}); !errors.Is(err, ErrCheatDetected) {
		t.Fatalf("expected updates blocked, got %v", err)
	}
}

func TestAdvancePiecePauseBoundary(t *testing.T) {
	clock := newFakeClock()
	r, _, _ := newTestRegistry(t, clock)
	id := startPlaying(t, r, "dave")
	session, _ := r.session(id)

	// Exactly at the pause boundary counts as a suspected pause.
	clock.Advance(time.Duration(maxPauseTimeMs) * time.Millisecond)
	if _, err := r.AdvancePiece(id); err != nil {
		t.Fatalf("boundary advance rejected: %v", err)
	}
	session.mu.Lock()
	pauses := session.pauseCount
	violations := session.speedViolations
	session.mu.Unlock()
	if pauses != 1 {
		t.Fatalf("pause count = %d, want 1", pauses)
	}
	if violations != 1 {
		t.Fatalf("violations = %v, want 1", violations)
	}
}

func TestAdvancePieceRefillsSequence(t *testing.T) {
	clock := newFakeClock()
	r, _, _ := newTestRegistry(t, clock)
	id := startPlaying(t, r, "erin")
	session, _ := r.session(id)

	for i := 0; i < initialBatchSize; i++ {
		clock.Advance(500 * time.Millisecond)
		result, err := r.AdvancePiece(id)
		if err != nil {
			t.Fatalf("advance %d: %v", i, err)
		}
		session.mu.Lock()
		remaining := len(session.pieceSequence) - session.pieceIndex
		session.mu.Unlock()
		if remaining <= visibleWindow {
			t.Fatalf("advance %d left only %d pieces ahead", i, remaining)
		}
		if result.NextPiece.ID == "" {
			t.Fatalf("advance %d returned empty next piece", i)
		}
	}
}

func TestAdvancePieceWhilePausedSkipsTiming(t *testing.T) {
	clock := newFakeClock()
	r, _, _ := newTestRegistry(t, clock)
	id := startPlaying(t, r, "frank")
	session, _ := r.session(id)

	if err := r.Pause(id); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	clock.Advance(10 * time.Minute)
	if _, err := r.AdvancePiece(id); err != nil {
		t.Fatalf("paused advance rejected: %v", err)
	}
	session.mu.Lock()
	violations := session.speedViolations
	session.mu.Unlock()
	if violations != 0 {
		t.Fatalf("paused advance must not accrue violations, got %v", violations)
	}
}

func TestPauseResumeShiftsTiming(t *testing.T) {
	clock := newFakeClock()
	r, _, _ := newTestRegistry(t, clock)
	id := startPlaying(t, r, "grace")

	clock.Advance(time.Second)
	if err := r.Pause(id); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	if err := r.Pause(id); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("double pause should fail, got %v", err)
	}

	// A long pause followed by a prompt advance stays within tolerance:
	// the paused interval is credited back.
	clock.Advance(2 * time.Minute)
	if err := r.Resume(id); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if err := r.Resume(id); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("double resume should fail, got %v", err)
	}

	clock.Advance(time.Second)
	if _, err := r.AdvancePiece(id); err != nil {
		t.Fatalf("advance after resume rejected: %v", err)
	}
}

func TestUpdateStateAcceptsLegitimateClear(t *testing.T) {
	clock := newFakeClock()
	r, _, _ := newTestRegistry(t, clock)
	id := startPlaying(t, r, "heidi")
	session, _ := r.session(id)

	// Seed the stored board with two full bottom rows.
	board := emptyBoard()
	for x := 0; x < boardCols; x++ {
		board[boardRows-1][x] = 1
		board[boardRows-2][x] = 2
	}
	session.mu.Lock()
	session.lastBoard = copyBoard(board)
	session.mu.Unlock()

	// Two simultaneous rows at level 1 are worth 300 points.
	next := emptyBoard()
	result, err := r.UpdateState(id, GameState{Board: next, Score: 300, Lines: 2, Level: 1})
	if err != nil {
		t.Fatalf("UpdateState: %v", err)
	}
	if result.CurrentScore != 300 {
		t.Fatalf("current score = %d, want 300", result.CurrentScore)
	}
	if result.HighestScore != 300 {
		t.Fatalf("highest score = %d, want 300", result.HighestScore)
	}
}

func TestUpdateStateRejectsImpossibleScore(t *testing.T) {
	clock := newFakeClock()
	r, _, _ := newTestRegistry(t, clock)
	id := startPlaying(t, r, "ivan")

	// The stored board is empty, so any score jump is impossible.
	_, err := r.UpdateState(id, GameState{Board: emptyBoard(), Score: 500, Level: 1})
	if !errors.Is(err, ErrCheatDetected) {
		t.Fatalf("expected cheat detection, got %v", err)
	}
}

func TestUpdateStateRejectsMalformedBoard(t *testing.T) {
	clock := newFakeClock()
	r, _, _ := newTestRegistry(t, clock)
	id := startPlaying(t, r, "judy")

	board := emptyBoard()
	board[0][0] = maxCellCode + 1
	if _, err := r.UpdateState(id, GameState{Board: board, Level: 1}); !errors.Is(err, ErrCheatDetected) {
		t.Fatalf("expected cheat detection for bad cell, got %v", err)
	}
}

func TestUpdateStateKeepsHighestScoreAcrossRuns(t *testing.T) {
	clock := newFakeClock()
	r, _, _ := newTestRegistry(t, clock)
	id := startPlaying(t, r, "mallory")
	session, _ := r.session(id)

	board := emptyBoard()
	for x := 0; x < boardCols; x++ {
		board[boardRows-1][x] = 1
	}
	session.mu.Lock()
	session.lastBoard = copyBoard(board)
	session.mu.Unlock()

	if _, err := r.UpdateState(id, GameState{Board: emptyBoard(), Score: 100, Lines: 1, Level: 1}); err != nil {
		t.Fatalf("UpdateState: %v", err)
	}
	if _, err := r.EndSession(id, "player"); err != nil {
		t.Fatalf("EndSession: %v", err)
	}

	// A new run starts from zero but the best score survives.
	if _, err := r.StartSession(id); err != nil {
		t.Fatalf("restart: %v", err)
	}
	snap, _ := r.SessionInfo(id)
	if snap.CurrentScore != 0 {
		t.Fatalf("current score after restart = %d, want 0", snap.CurrentScore)
	}
	if snap.HighestScore != 100 {
		t.Fatalf("highest score after restart = %d, want 100", snap.HighestScore)
	}
}

func TestChallengeBlocksAdvanceUntilVerified(t *testing.T) {
	clock := newFakeClock()
	store := &fakeStore{}
	challenger := &fakeChallenger{}
	r := NewRegistry(RegistryConfig{Store: store, Challenger: challenger, Now: clock.Now})
	notify := &fakeNotifier{}
	r.attachNotifier(notify)
	id := startPlaying(t, r, "nina")
	session, _ := r.session(id)

	// Put the session into the awaiting state directly; the gate itself
	// is probabilistic and covered separately.
	session.mu.Lock()
	session.awaitingChallenge = true
	session.activeChallengeID = "challenge-1"
	session.speedViolations = 3
	session.pauseCount = 2
	session.mu.Unlock()

	if _, err := r.AdvancePiece(id); !errors.Is(err, ErrChallengeRequired) {
		t.Fatalf("expected challenge gate, got %v", err)
	}

	if err := r.VerifyChallenge(id, "challenge-1", "wrong"); err == nil {
		t.Fatalf("wrong answer must fail")
	}
	if err := r.VerifyChallenge(id, "challenge-1", "ok"); err != nil {
		t.Fatalf("VerifyChallenge: %v", err)
	}

	session.mu.Lock()
	awaiting := session.awaitingChallenge
	violations := session.speedViolations
	pauses := session.pauseCount
	session.mu.Unlock()
	if awaiting {
		t.Fatalf("challenge should be cleared")
	}
	if violations != 0 || pauses != 0 {
		t.Fatalf("counters not reset: violations=%v pauses=%d", violations, pauses)
	}

	clock.Advance(time.Second)
	if _, err := r.AdvancePiece(id); err != nil {
		t.Fatalf("advance after verification rejected: %v", err)
	}
}

func TestVerifyChallengeWithoutPending(t *testing.T) {
	clock := newFakeClock()
	challenger := &fakeChallenger{}
	r := NewRegistry(RegistryConfig{Challenger: challenger, Now: clock.Now})
	id := startPlaying(t, r, "oscar")

	if err := r.VerifyChallenge(id, "challenge-1", "ok"); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected invalid transition, got %v", err)
	}
}

func TestAdvancePieceRequiresPlaying(t *testing.T) {
	clock := newFakeClock()
	r, _, _ := newTestRegistry(t, clock)
	session, _, _ := r.Register("peggy", "peggy@example.com")

	if _, err := r.AdvancePiece(session.ID); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected invalid transition, got %v", err)
	}
	if _, err := r.AdvancePiece("player_missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

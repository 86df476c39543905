package server

import (
	"context"
	"fmt"
	"time"

	"blockwell/server/logging"
	"blockwell/server/logging/anticheat"
	"blockwell/server/logging/gameplay"
)

// AdvanceResult is returned for an accepted piece-advance request.
type AdvanceResult struct {
	CurrentPiece Piece `json:"currentPiece"`
	NextPiece    Piece `json:"nextPiece"`
	PieceIndex   int   `json:"pieceIndex"`
	DropInterval int   `json:"dropInterval"`
	Difficulty   Tier  `json:"difficulty"`
}

// AdvancePiece validates the lifetime of the expiring piece, advances the
// authoritative cursor by exactly one, and refills the sequence when fewer
// than the visible window remains ahead.
func (r *Registry) AdvancePiece(id string) (AdvanceResult, error) {
	session, ok := r.session(id)
	if !ok {
		return AdvanceResult{}, errNotFound("unknown session " + id)
	}
	now := r.now()
	actor := logging.SessionRef(id)

	session.mu.Lock()
	if session.cheatFlag {
		session.mu.Unlock()
		return AdvanceResult{}, ErrCheatDetected
	}
	if session.status != StatusPlaying {
		session.mu.Unlock()
		return AdvanceResult{}, errInvalidTransition("session is not playing")
	}
	if session.awaitingChallenge {
		session.mu.Unlock()
		return AdvanceResult{}, ErrChallengeRequired
	}

	if session.isPaused {
		// Paused time is excluded from timing validation entirely.
		session.pieceIssuedAt = now
	} else {
		if err := r.validateTimingLocked(session, now, actor); err != nil {
			session.mu.Unlock()
			r.telemetry.validationFailures.Add(1)
			return AdvanceResult{}, err
		}
	}

	session.pieceIndex++
	if session.pieceIndex+visibleWindow >= len(session.pieceSequence) {
		gen := r.newGenerator()
		session.pieceSequence = gen.batch(session.pieceSequence, refillBatchSize)
	}
	current := session.pieceSequence[session.pieceIndex]
	next := session.pieceSequence[session.pieceIndex+1]
	session.pieceIssuedAt = now

	tier := r.difficulty.TierFor(session.currentScore)
	result := AdvanceResult{
		CurrentPiece: current,
		NextPiece:    next,
		PieceIndex:   session.pieceIndex,
		DropInterval: tier.DropInterval,
		Difficulty:   tier,
	}
	challenge, escalated := r.maybeEscalateLocked(session, id)
	session.mu.Unlock()

	r.telemetry.piecesIssued.Add(1)
	gameplay.PieceAdvanced(context.Background(), r.publisher, actor, gameplay.PieceAdvancedPayload{
		PieceIndex: result.PieceIndex,
		Level:      tier.Level,
	})
	if escalated {
		r.announceChallenge(id, challenge)
	}
	return result, nil
}

// validateTimingLocked applies the three-outcome timing rule. Caller holds
// the session lock.
func (r *Registry) validateTimingLocked(session *sessionState, now time.Time, actor logging.EntityRef) error {
	elapsed := float64(now.Sub(session.pieceIssuedAt).Milliseconds())

	switch r.difficulty.classifyFallTime(elapsed, session.currentScore) {
	case fallNormal:
		// Leaky bucket: a valid advance forgives half a violation, never
		// the whole balance.
		if session.speedViolations > 0 {
			session.speedViolations -= violationDecay
			if session.speedViolations < 0 {
				session.speedViolations = 0
			}
		}
		return nil

	case fallSlow:
		session.speedViolations++
		anticheat.SpeedViolation(context.Background(), r.publisher, actor, anticheat.SpeedViolationPayload{
			ElapsedMs:  elapsed,
			ExpectedMs: r.difficulty.expectedMaxFallTime(session.currentScore),
			Violations: session.speedViolations,
		})
		if session.speedViolations >= suspiciousCount {
			return r.flagCheatLocked(session, actor, fmt.Sprintf("%v consecutive speed violations", session.speedViolations))
		}
		return nil

	default: // fallPauseSuspect
		session.speedViolations++
		session.pauseCount++
		anticheat.PauseFlagged(context.Background(), r.publisher, actor, anticheat.PauseFlaggedPayload{
			ElapsedMs:  elapsed,
			PauseCount: session.pauseCount,
		})
		if session.speedViolations >= suspiciousCount {
			return r.flagCheatLocked(session, actor, fmt.Sprintf("%v consecutive speed violations", session.speedViolations))
		}
		if session.pauseCount > pauseTolerance {
			return r.flagCheatLocked(session, actor, fmt.Sprintf("%d suspected pause exploits", session.pauseCount))
		}
		return nil
	}
}

// flagCheatLocked marks the session permanently untrusted. The session is
// not ended; every further gameplay mutation is rejected until it is.
func (r *Registry) flagCheatLocked(session *sessionState, actor logging.EntityRef, reason string) error {
	session.cheatFlag = true
	r.telemetry.cheatsFlagged.Add(1)
	anticheat.CheatDetected(context.Background(), r.publisher, actor, anticheat.CheatDetectedPayload{Reason: reason})
	return errCheat(reason)
}

// UpdateResult acknowledges an accepted full-state update.
type UpdateResult struct {
	CurrentScore int `json:"currentScore"`
	HighestScore int `json:"highestScore"`
}

// UpdateState runs the board and score consistency checks against the
// stored snapshot, then replaces it. Structural and arithmetic violations
// are fatal; the block-delta cross-check is advisory only.
func (r *Registry) UpdateState(id string, state GameState) (UpdateResult, error) {
	session, ok := r.session(id)
	if !ok {
		return UpdateResult{}, errNotFound("unknown session " + id)
	}
	now := r.now()
	actor := logging.SessionRef(id)

	session.mu.Lock()
	if session.cheatFlag {
		session.mu.Unlock()
		return UpdateResult{}, ErrCheatDetected
	}
	if session.status != StatusPlaying {
		session.mu.Unlock()
		return UpdateResult{}, errInvalidTransition("session is not playing")
	}

	if err := validateBoardStructure(state.Board); err != nil {
		flagErr := r.flagCheatLocked(session, actor, err.Error())
		session.mu.Unlock()
		r.telemetry.validationFailures.Add(1)
		return UpdateResult{}, flagErr
	}

	prevScore := session.currentScore
	level := state.Level
	if session.gameState != nil && session.gameState.Level > 0 {
		level = session.gameState.Level
	}
	if err := validateScoreDelta(session.lastBoard, prevScore, state.Score, level); err != nil {
		flagErr := r.flagCheatLocked(session, actor, err.Error())
		session.mu.Unlock()
		r.telemetry.validationFailures.Add(1)
		return UpdateResult{}, flagErr
	}

	if state.Score > prevScore {
		estimated, decrease, suspicious := blockDeltaSuspicious(session.lastBoard, state.Board, state.Score-prevScore, level)
		if suspicious {
			anticheat.BlockDeltaMismatch(context.Background(), r.publisher, actor, anticheat.BlockDeltaPayload{
				EstimatedLines: estimated,
				CellDecrease:   decrease,
			})
		}
	}

	session.lastBoard = copyBoard(state.Board)
	stored := state
	stored.Board = copyBoard(state.Board)
	session.gameState = &stored
	session.currentScore = state.Score
	if session.currentScore > session.highestScore {
		session.highestScore = session.currentScore
	}
	result := UpdateResult{CurrentScore: session.currentScore, HighestScore: session.highestScore}
	snap := session.snapshotLocked(now)
	pushState := session.gameStateLocked()

	var challenge Challenge
	escalated := false
	if state.Lines > 0 {
		challenge, escalated = r.maybeEscalateLocked(session, id)
	}
	session.mu.Unlock()

	r.telemetry.stateUpdates.Add(1)
	gameplay.StateUpdated(context.Background(), r.publisher, actor, gameplay.StateUpdatedPayload{
		Score:        result.CurrentScore,
		HighestScore: result.HighestScore,
		Lines:        state.Lines,
	})
	r.notify.SessionChanged(snap, pushState)
	r.notify.RankingsChanged()
	if escalated {
		r.announceChallenge(id, challenge)
	}
	return result, nil
}

// maybeEscalateLocked rolls the escalation gate and, when it fires,
// requests a challenge and suspends piece delivery. Caller holds the
// session lock; the returned challenge is announced after unlock.
func (r *Registry) maybeEscalateLocked(session *sessionState, id string) (Challenge, bool) {
	if r.challenger == nil {
		return Challenge{}, false
	}
	if !r.shouldEscalateLocked(session) {
		return Challenge{}, false
	}
	challenge, err := r.challenger.Create(id)
	if err != nil {
		r.logger.Printf("failed to create challenge for %s: %v", id, err)
		return Challenge{}, false
	}
	session.awaitingChallenge = true
	session.activeChallengeID = challenge.ID
	return challenge, true
}

func (r *Registry) announceChallenge(id string, challenge Challenge) {
	r.telemetry.challengesIssued.Add(1)
	anticheat.ChallengeIssued(context.Background(), r.publisher, logging.SessionRef(id), anticheat.ChallengePayload{ChallengeID: challenge.ID})
	r.notify.PushToSession(id, challengeRequiredMessage{
		Type:        "challengeRequired",
		ChallengeID: challenge.ID,
		ExpiresAt:   challenge.ExpiresAt.UnixMilli(),
	})
}

// VerifyChallenge resolves a pending challenge. Success is a trust reset:
// both anti-cheat counters drop to zero and timing restarts from now.
// Failure leaves the session blocked without extra penalty.
func (r *Registry) VerifyChallenge(id, challengeID, answer string) error {
	session, ok := r.session(id)
	if !ok {
		return errNotFound("unknown session " + id)
	}
	if r.challenger == nil {
		return errNotFound("no challenge pending")
	}
	actor := logging.SessionRef(id)

	session.mu.Lock()
	if !session.awaitingChallenge {
		session.mu.Unlock()
		return errInvalidTransition("no challenge pending")
	}
	session.mu.Unlock()

	if err := r.challenger.Verify(challengeID, answer); err != nil {
		anticheat.ChallengeFailed(context.Background(), r.publisher, actor, anticheat.ChallengePayload{ChallengeID: challengeID})
		return err
	}

	now := r.now()
	session.mu.Lock()
	session.awaitingChallenge = false
	session.activeChallengeID = ""
	session.speedViolations = 0
	session.pauseCount = 0
	session.pieceIssuedAt = now
	snap := session.snapshotLocked(now)
	session.mu.Unlock()

	r.telemetry.challengesVerified.Add(1)
	anticheat.ChallengeVerified(context.Background(), r.publisher, actor, anticheat.ChallengePayload{ChallengeID: challengeID})
	r.notify.PushToSession(id, challengeVerifiedMessage{Type: "challengeVerified", Success: true})
	r.notify.SessionChanged(snap, nil)
	return nil
}

// Pause suspends timing for a playing session.
func (r *Registry) Pause(id string) error {
	session, ok := r.session(id)
	if !ok {
		return errNotFound("unknown session " + id)
	}
	now := r.now()

	session.mu.Lock()
	if session.cheatFlag {
		session.mu.Unlock()
		return ErrCheatDetected
	}
	if session.status != StatusPlaying {
		session.mu.Unlock()
		return errInvalidTransition("session is not playing")
	}
	if session.isPaused {
		session.mu.Unlock()
		return errInvalidTransition("session is already paused")
	}
	session.isPaused = true
	session.pauseStartedAt = now
	session.mu.Unlock()

	r.notify.PushToSession(id, statusMessage{Type: "gamePaused"})
	return nil
}

// Resume shifts the piece timestamp forward by the paused interval so the
// pause never counts against the drop window.
func (r *Registry) Resume(id string) error {
	session, ok := r.session(id)
	if !ok {
		return errNotFound("unknown session " + id)
	}
	now := r.now()

	session.mu.Lock()
	if !session.isPaused {
		session.mu.Unlock()
		return errInvalidTransition("session is not paused")
	}
	paused := now.Sub(session.pauseStartedAt)
	session.pieceIssuedAt = session.pieceIssuedAt.Add(paused)
	session.isPaused = false
	session.pauseStartedAt = time.Time{}
	session.mu.Unlock()

	r.notify.PushToSession(id, statusMessage{Type: "gameResumed"})
	return nil
}

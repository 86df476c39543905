package anticheat

import (
	"context"

	"blockwell/server/logging"
)

const (
	// EventSpeedViolation is emitted on every flagged piece lifetime.
	EventSpeedViolation logging.EventType = "anticheat.speed_violation"
	// EventPauseFlagged is emitted when a lifetime crosses the pause boundary.
	EventPauseFlagged logging.EventType = "anticheat.pause_flagged"
	// EventCheatDetected is emitted when a session is marked untrusted.
	EventCheatDetected logging.EventType = "anticheat.cheat_detected"
	// EventBlockDeltaMismatch is the advisory cell-count cross-check.
	EventBlockDeltaMismatch logging.EventType = "anticheat.block_delta_mismatch"
	// EventChallengeIssued is emitted when the escalation gate fires.
	EventChallengeIssued logging.EventType = "anticheat.challenge_issued"
	// EventChallengeVerified is emitted on a successful trust reset.
	EventChallengeVerified logging.EventType = "anticheat.challenge_verified"
	// EventChallengeFailed is emitted on a failed verification attempt.
	EventChallengeFailed logging.EventType = "anticheat.challenge_failed"
)

type SpeedViolationPayload struct {
	ElapsedMs  float64 `json:"elapsedMs"`
	ExpectedMs float64 `json:"expectedMaxMs"`
	Violations float64 `json:"violations"`
}

type PauseFlaggedPayload struct {
	ElapsedMs  float64 `json:"elapsedMs"`
	PauseCount int     `json:"pauseCount"`
}

type CheatDetectedPayload struct {
	Reason string `json:"reason"`
}

type BlockDeltaPayload struct {
	EstimatedLines int `json:"estimatedLines"`
	CellDecrease   int `json:"cellDecrease"`
}

type ChallengePayload struct {
	ChallengeID string `json:"challengeId"`
}

func SpeedViolation(ctx context.Context, pub logging.Publisher, actor logging.EntityRef, payload SpeedViolationPayload) {
	publish(ctx, pub, EventSpeedViolation, logging.SeverityWarn, actor, payload)
}

func PauseFlagged(ctx context.Context, pub logging.Publisher, actor logging.EntityRef, payload PauseFlaggedPayload) {
	publish(ctx, pub, EventPauseFlagged, logging.SeverityWarn, actor, payload)
}

func CheatDetected(ctx context.Context, pub logging.Publisher, actor logging.EntityRef, payload CheatDetectedPayload) {
	publish(ctx, pub, EventCheatDetected, logging.SeverityError, actor, payload)
}

func BlockDeltaMismatch(ctx context.Context, pub logging.Publisher, actor logging.EntityRef, payload BlockDeltaPayload) {
	publish(ctx, pub, EventBlockDeltaMismatch, logging.SeverityWarn, actor, payload)
}

func ChallengeIssued(ctx context.Context, pub logging.Publisher, actor logging.EntityRef, payload ChallengePayload) {
	publish(ctx, pub, EventChallengeIssued, logging.SeverityInfo, actor, payload)
}

func ChallengeVerified(ctx context.Context, pub logging.Publisher, actor logging.EntityRef, payload ChallengePayload) {
	publish(ctx, pub, EventChallengeVerified, logging.SeverityInfo, actor, payload)
}

func ChallengeFailed(ctx context.Context, pub logging.Publisher, actor logging.EntityRef, payload ChallengePayload) {
	publish(ctx, pub, EventChallengeFailed, logging.SeverityWarn, actor, payload)
}

func publish(ctx context.Context, pub logging.Publisher, typ logging.EventType, sev logging.Severity, actor logging.EntityRef, payload any) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     typ,
		Actor:    actor,
		Severity: sev,
		Category: logging.CategoryAntiCheat,
		Payload:  payload,
	})
}

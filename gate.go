package server

import "math"

// challengeProbability computes the chance that a successful score-affecting
// request escalates into a human-verification challenge. Grows with score
// in 500-point steps (capped) and sharply with outstanding violations.
func challengeProbability(score int, speedViolations float64) float64 {
	scoreBonus := math.Min(challengeScoreBonusCap, math.Floor(float64(score)/challengeScoreStep)*challengeScoreBonus)
	return challengeBaseProbability + scoreBonus + speedViolations*challengeViolationBonus
}

// shouldEscalateLocked draws one uniform sample against the computed
// probability. Caller holds the session lock; only playing sessions that
// are not already blocked can escalate.
func (r *Registry) shouldEscalateLocked(s *sessionState) bool {
	if s.status != StatusPlaying || s.awaitingChallenge || s.cheatFlag {
		return false
	}
	return r.randFloat() < challengeProbability(s.currentScore, s.speedViolations)
}

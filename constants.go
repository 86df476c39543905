package server

import "time"

const (
	ProtocolVersion = 1
	writeWait       = 10 * time.Second

	boardRows   = 20
	boardCols   = 10
	maxCellCode = 7

	// Sequence management. The client only ever sees the next
	// visibleWindow pieces; the cursor advances one per accepted request.
	initialBatchSize = 50
	refillBatchSize  = 20
	visibleWindow    = 10

	// Timing validation. Durations are milliseconds on the wire.
	toleranceRatio   = 0.5
	extraToleranceMs = 2000
	maxPauseTimeMs   = 30000
	suspiciousCount  = 8
	pauseTolerance   = 10
	violationDecay   = 0.5

	// Escalation gate.
	challengeBaseProbability = 0.005
	challengeScoreStep       = 500
	challengeScoreBonus      = 0.02
	challengeScoreBonusCap   = 0.1
	challengeViolationBonus  = 0.05

	durationTickInterval   = 1 * time.Second
	autosaveInterval       = 30 * time.Second
	challengeSweepInterval = 60 * time.Second

	leaderboardTopN = 10
)

// pointsTable maps rows cleared simultaneously (1-4) to base points. The
// award is pointsTable[rows] * level at the time of the clear.
var pointsTable = [5]int{0, 100, 300, 500, 800}

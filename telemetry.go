package server

import (
	"sync/atomic"
)

// telemetryCounters feed the /diagnostics endpoint. All counters are
// monotonic except the last-broadcast gauges.
type telemetryCounters struct {
	broadcasts         atomic.Uint64
	bytesSent          atomic.Uint64
	lastBroadcastBytes atomic.Uint64

	piecesIssued       atomic.Uint64
	stateUpdates       atomic.Uint64
	validationFailures atomic.Uint64
	cheatsFlagged      atomic.Uint64
	challengesIssued   atomic.Uint64
	challengesVerified atomic.Uint64
}

type telemetrySnapshot struct {
	Broadcasts         uint64 `json:"broadcasts"`
	BytesSent          uint64 `json:"bytesSent"`
	LastBroadcastBytes uint64 `json:"lastBroadcastBytes"`
	PiecesIssued       uint64 `json:"piecesIssued"`
	StateUpdates       uint64 `json:"stateUpdates"`
	ValidationFailures uint64 `json:"validationFailures"`
	CheatsFlagged      uint64 `json:"cheatsFlagged"`
	ChallengesIssued   uint64 `json:"challengesIssued"`
	ChallengesVerified uint64 `json:"challengesVerified"`
}

func newTelemetryCounters() *telemetryCounters {
	return &telemetryCounters{}
}

func (t *telemetryCounters) RecordBroadcast(bytes int) {
	if bytes < 0 {
		bytes = 0
	}
	t.broadcasts.Add(1)
	t.bytesSent.Add(uint64(bytes))
	t.lastBroadcastBytes.Store(uint64(bytes))
}

func (t *telemetryCounters) Snapshot() telemetrySnapshot {
	return telemetrySnapshot{
		Broadcasts:         t.broadcasts.Load(),
		BytesSent:          t.bytesSent.Load(),
		LastBroadcastBytes: t.lastBroadcastBytes.Load(),
		PiecesIssued:       t.piecesIssued.Load(),
		StateUpdates:       t.stateUpdates.Load(),
		ValidationFailures: t.validationFailures.Load(),
		CheatsFlagged:      t.cheatsFlagged.Load(),
		ChallengesIssued:   t.challengesIssued.Load(),
		ChallengesVerified: t.challengesVerified.Load(),
	}
}

package server

import "sort"

// LeaderboardEntry is one row of the aggregated board. A playing session
// contributes a live row for its current run and, once it has any scored
// history, a second row for its best run.
type LeaderboardEntry struct {
	ID           string `json:"id"`
	PlayerID     string `json:"playerId"`
	Nickname     string `json:"nickname"`
	Score        int    `json:"score"`
	CurrentScore int    `json:"currentScore"`
	HighestScore int    `json:"highestScore"`
	Status       Status `json:"status"`
	StartedAt    int64  `json:"startTime,omitempty"`
	EndedAt      int64  `json:"endTime,omitempty"`
	Duration     int64  `json:"duration,omitempty"`
	IsCurrent    bool   `json:"isCurrentGame"`
}

// Leaderboard is the full aggregation handed to admin consumers. Player
// consumers receive the top slice of All plus their own rank.
type Leaderboard struct {
	Playing  []LeaderboardEntry `json:"playing"`
	Finished []LeaderboardEntry `json:"finished"`
	All      []LeaderboardEntry `json:"all"`
}

// Leaderboard aggregates every session into ranked rows. Ordering is by
// score descending; ties keep insertion order so repeated snapshots stay
// stable for equal scores.
func (r *Registry) Leaderboard() Leaderboard {
	now := r.now()

	r.mu.RLock()
	states := make([]*sessionState, 0, len(r.sessions))
	for _, session := range r.sessions {
		states = append(states, session)
	}
	r.mu.RUnlock()

	var board Leaderboard
	for _, session := range states {
		session.mu.Lock()
		snap := session.snapshotLocked(now)
		session.mu.Unlock()

		if snap.Status == StatusPlaying {
			entry := LeaderboardEntry{
				ID:           snap.ID + "_current",
				PlayerID:     snap.ID,
				Nickname:     snap.Nickname,
				Score:        snap.CurrentScore,
				CurrentScore: snap.CurrentScore,
				HighestScore: snap.HighestScore,
				Status:       snap.Status,
				StartedAt:    snap.StartedAt,
				Duration:     snap.Duration,
				IsCurrent:    true,
			}
			board.Playing = append(board.Playing, entry)
			board.All = append(board.All, entry)
		}
		if snap.HighestScore > 0 {
			entry := LeaderboardEntry{
				ID:           snap.ID + "_highest",
				PlayerID:     snap.ID,
				Nickname:     snap.Nickname,
				Score:        snap.HighestScore,
				CurrentScore: snap.CurrentScore,
				HighestScore: snap.HighestScore,
				Status:       snap.Status,
				StartedAt:    snap.StartedAt,
				EndedAt:      snap.EndedAt,
				IsCurrent:    false,
			}
			board.Finished = append(board.Finished, entry)
			board.All = append(board.All, entry)
		}
	}

	byScore := func(entries []LeaderboardEntry) {
		sort.SliceStable(entries, func(i, j int) bool {
			return entries[i].Score > entries[j].Score
		})
	}
	byScore(board.Playing)
	byScore(board.Finished)
	byScore(board.All)
	return board
}

// TopEntries returns the best n rows of the combined board.
func (r *Registry) TopEntries(n int) []LeaderboardEntry {
	all := r.Leaderboard().All
	if len(all) > n {
		all = all[:n]
	}
	return all
}

// Rank returns the 1-based position of the session's best row on the
// combined board, or 0 when the session has no row.
func (r *Registry) Rank(id string) int {
	for i, entry := range r.Leaderboard().All {
		if entry.PlayerID == id {
			return i + 1
		}
	}
	return 0
}

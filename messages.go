package server

// Push message envelopes. Every server-initiated frame carries a "type"
// discriminator so clients can dispatch without sniffing fields.

type playerInitMessage struct {
	Type        string             `json:"type"`
	Session     Session            `json:"player"`
	Rank        int                `json:"rank"`
	Leaderboard []LeaderboardEntry `json:"leaderboard"`
}

type adminInitMessage struct {
	Type        string      `json:"type"`
	Playing     []Session   `json:"playingPlayers"`
	Leaderboard Leaderboard `json:"leaderboard"`
}

type rankUpdateMessage struct {
	Type        string             `json:"type"`
	Rank        int                `json:"rank"`
	Leaderboard []LeaderboardEntry `json:"leaderboard"`
}

type leaderboardUpdateMessage struct {
	Type        string      `json:"type"`
	Leaderboard Leaderboard `json:"leaderboard"`
}

type playerStatusUpdateMessage struct {
	Type    string  `json:"type"`
	Session Session `json:"player"`
}

type gameStateUpdateMessage struct {
	Type      string     `json:"type"`
	SessionID string     `json:"playerId"`
	Session   Session    `json:"player"`
	State     *GameState `json:"gameState,omitempty"`
}

type durationUpdateMessage struct {
	Type      string `json:"type"`
	SessionID string `json:"playerId"`
	Duration  int64  `json:"duration"`
}

type challengeRequiredMessage struct {
	Type        string `json:"type"`
	ChallengeID string `json:"challengeId"`
	ExpiresAt   int64  `json:"expiresAt"`
}

type challengeVerifiedMessage struct {
	Type    string `json:"type"`
	Success bool   `json:"success"`
}

// statusMessage covers the bare notifications that carry no payload,
// gamePaused and gameResumed.
type statusMessage struct {
	Type string `json:"type"`
}

type gameEndedMessage struct {
	Type  string `json:"type"`
	Score int    `json:"score"`
}

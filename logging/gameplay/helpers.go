package gameplay

import (
	"context"

	"blockwell/server/logging"
)

const (
	EventPieceAdvanced logging.EventType = "gameplay.piece_advanced"
	EventStateUpdated  logging.EventType = "gameplay.state_updated"
)

type PieceAdvancedPayload struct {
	PieceIndex int `json:"pieceIndex"`
	Level      int `json:"level"`
}

type StateUpdatedPayload struct {
	Score        int `json:"score"`
	HighestScore int `json:"highestScore"`
	Lines        int `json:"lines"`
}

func PieceAdvanced(ctx context.Context, pub logging.Publisher, actor logging.EntityRef, payload PieceAdvancedPayload) {
	publish(ctx, pub, EventPieceAdvanced, actor, payload)
}

func StateUpdated(ctx context.Context, pub logging.Publisher, actor logging.EntityRef, payload StateUpdatedPayload) {
	publish(ctx, pub, EventStateUpdated, actor, payload)
}

func publish(ctx context.Context, pub logging.Publisher, typ logging.EventType, actor logging.EntityRef, payload any) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     typ,
		Actor:    actor,
		Severity: logging.SeverityDebug,
		Category: logging.CategoryGameplay,
		Payload:  payload,
	})
}

package lifecycle

import (
	"context"

	"blockwell/server/logging"
)

const (
	// EventRegistered is emitted when a nickname registers or logs back in.
	EventRegistered logging.EventType = "lifecycle.registered"
	// EventSessionStarted is emitted when a session enters playing.
	EventSessionStarted logging.EventType = "lifecycle.session_started"
	// EventSessionEnded is emitted when a session finishes, voluntarily or not.
	EventSessionEnded logging.EventType = "lifecycle.session_ended"
	// EventSessionDeleted is emitted when a finished session is removed.
	EventSessionDeleted logging.EventType = "lifecycle.session_deleted"
	// EventConnectionClosed is emitted when a push channel goes away.
	EventConnectionClosed logging.EventType = "lifecycle.connection_closed"
)

type RegisteredPayload struct {
	Nickname string `json:"nickname"`
	New      bool   `json:"new"`
}

type SessionEndedPayload struct {
	Score    int    `json:"score"`
	Duration int64  `json:"durationMillis"`
	Reason   string `json:"reason"`
}

type ConnectionClosedPayload struct {
	Role string `json:"role"`
}

func Registered(ctx context.Context, pub logging.Publisher, actor logging.EntityRef, payload RegisteredPayload) {
	publish(ctx, pub, EventRegistered, actor, payload)
}

func SessionStarted(ctx context.Context, pub logging.Publisher, actor logging.EntityRef) {
	publish(ctx, pub, EventSessionStarted, actor, nil)
}

func SessionEnded(ctx context.Context, pub logging.Publisher, actor logging.EntityRef, payload SessionEndedPayload) {
	publish(ctx, pub, EventSessionEnded, actor, payload)
}

func SessionDeleted(ctx context.Context, pub logging.Publisher, actor logging.EntityRef) {
	publish(ctx, pub, EventSessionDeleted, actor, nil)
}

func ConnectionClosed(ctx context.Context, pub logging.Publisher, actor logging.EntityRef, payload ConnectionClosedPayload) {
	publish(ctx, pub, EventConnectionClosed, actor, payload)
}

func publish(ctx context.Context, pub logging.Publisher, typ logging.EventType, actor logging.EntityRef, payload any) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     typ,
		Actor:    actor,
		Severity: logging.SeverityInfo,
		Category: logging.CategoryLifecycle,
		Payload:  payload,
	})
}

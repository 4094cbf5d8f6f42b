package lifecycle

import (
	"context"

	"gridlock/server/logging"
)

const (
	// EventSessionJoined is emitted when a client session enters the shard.
	EventSessionJoined logging.EventType = "lifecycle.session_joined"
	// EventSessionClosed is emitted when a client session leaves the shard.
	EventSessionClosed logging.EventType = "lifecycle.session_closed"
)

// SessionJoinedPayload captures spawn metadata for a new session.
type SessionJoinedPayload struct {
	ActorID string `json:"actorId"`
	Tick    uint64 `json:"tick"`
}

// SessionClosedPayload captures the reason a session ended.
type SessionClosedPayload struct {
	Reason string `json:"reason"`
}

// SessionJoined publishes a session join event.
func SessionJoined(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef, payload SessionJoinedPayload, extra map[string]any) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventSessionJoined,
		Tick:     tick,
		Actor:    actor,
		Severity: logging.SeverityInfo,
		Category: "lifecycle",
		Payload:  payload,
		Extra:    extra,
	})
}

// SessionClosed publishes a session close event.
func SessionClosed(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef, payload SessionClosedPayload, extra map[string]any) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventSessionClosed,
		Tick:     tick,
		Actor:    actor,
		Severity: logging.SeverityInfo,
		Category: "lifecycle",
		Payload:  payload,
		Extra:    extra,
	})
}

package network

import (
	"context"

	"gridlock/server/logging"
)

const (
	// EventAckAdvanced is emitted when a client's input acknowledgement advances.
	EventAckAdvanced logging.EventType = "network.ack_advanced"
	// EventAckRegression is emitted when a client reports an older acknowledgement than previously recorded.
	EventAckRegression logging.EventType = "network.ack_regression"
	// EventInputEvicted is emitted when a full input window drops its oldest entry.
	EventInputEvicted logging.EventType = "network.input_evicted"
)

// AckPayload captures acknowledgement progression details.
type AckPayload struct {
	Previous uint32 `json:"previous"`
	Ack      uint32 `json:"ack"`
}

// AckAdvanced publishes a debug event when a client acknowledgement advances.
func AckAdvanced(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef, payload AckPayload, extra map[string]any) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventAckAdvanced,
		Tick:     tick,
		Actor:    actor,
		Severity: logging.SeverityDebug,
		Category: logging.CategoryNetwork,
		Payload:  payload,
		Extra:    extra,
	})
}

// AckRegression publishes a warning event when a client acknowledgement regresses.
func AckRegression(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef, payload AckPayload, extra map[string]any) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventAckRegression,
		Tick:     tick,
		Actor:    actor,
		Severity: logging.SeverityWarn,
		Category: logging.CategoryNetwork,
		Payload:  payload,
		Extra:    extra,
	})
}

// InputEvictedPayload names the dropped input.
type InputEvictedPayload struct {
	Seq uint32 `json:"seq"`
}

// InputEvicted publishes a warning when an input window evicts its oldest entry.
func InputEvicted(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef, payload InputEvictedPayload, extra map[string]any) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventInputEvicted,
		Tick:     tick,
		Actor:    actor,
		Severity: logging.SeverityWarn,
		Category: logging.CategoryNetwork,
		Payload:  payload,
		Extra:    extra,
	})
}

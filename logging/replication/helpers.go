package replication

import (
	"context"

	"gridlock/server/logging"
)

const (
	// EventDesync is emitted when a client's checksum diverges from the server's.
	EventDesync logging.EventType = "replication.desync"
	// EventResyncScheduled is emitted when the server schedules a keyframe resend for a client.
	EventResyncScheduled logging.EventType = "replication.resync_scheduled"
	// EventTickBudgetOverrun is emitted when the tick loop exceeds its time budget.
	EventTickBudgetOverrun logging.EventType = "replication.tick_budget_overrun"
)

// DesyncPayload captures both sides of a checksum mismatch.
type DesyncPayload struct {
	Tick     uint64 `json:"tick"`
	Expected uint64 `json:"expected"`
	Reported uint64 `json:"reported"`
}

// Desync publishes an error event for a checksum divergence.
func Desync(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef, payload DesyncPayload, extra map[string]any) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventDesync,
		Tick:     tick,
		Actor:    actor,
		Severity: logging.SeverityError,
		Category: logging.CategoryReplication,
		Payload:  payload,
		Extra:    extra,
	})
}

// ResyncPayload captures why a resync was scheduled.
type ResyncPayload struct {
	Reason   string `json:"reason"`
	Attempts int    `json:"attempts"`
}

// ResyncScheduled publishes a warning when a client is scheduled for a keyframe resend.
func ResyncScheduled(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef, payload ResyncPayload, extra map[string]any) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventResyncScheduled,
		Tick:     tick,
		Actor:    actor,
		Severity: logging.SeverityWarn,
		Category: logging.CategoryReplication,
		Payload:  payload,
		Extra:    extra,
	})
}

// TickBudgetOverrunPayload captures timing details for a tick budget breach.
type TickBudgetOverrunPayload struct {
	DurationMillis int64   `json:"durationMillis"`
	BudgetMillis   int64   `json:"budgetMillis"`
	Ratio          float64 `json:"ratio"`
}

// TickBudgetOverrun publishes a warning when the tick loop runs long.
func TickBudgetOverrun(ctx context.Context, pub logging.Publisher, tick uint64, payload TickBudgetOverrunPayload, extra map[string]any) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventTickBudgetOverrun,
		Tick:     tick,
		Severity: logging.SeverityWarn,
		Category: logging.CategoryReplication,
		Payload:  payload,
		Extra:    extra,
	})
}

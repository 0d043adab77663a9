package simulation

import (
	"context"

	"stutterguard/server/logging"
)

const (
	// EventTickBudgetOverrun is emitted when a server tick takes longer than its interval.
	EventTickBudgetOverrun logging.EventType = "simulation.tick_budget_overrun"
	// EventStateExpired is emitted when the server ends a timed player state.
	EventStateExpired logging.EventType = "simulation.state_expired"
)

// TickBudgetOverrunPayload captures timing details for a tick budget breach.
type TickBudgetOverrunPayload struct {
	DurationMillis int64   `json:"durationMillis"`
	BudgetMillis   int64   `json:"budgetMillis"`
	Ratio          float64 `json:"ratio"`
	Streak         uint64  `json:"streak"`
}

// TickBudgetOverrun publishes a warning when a tick exceeds its budget.
func TickBudgetOverrun(ctx context.Context, pub logging.Publisher, tick uint64, payload TickBudgetOverrunPayload, extra map[string]any) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventTickBudgetOverrun,
		Tick:     tick,
		Actor:    logging.ServerRef(),
		Severity: logging.SeverityWarn,
		Category: "simulation",
		Payload:  payload,
		Extra:    extra,
	})
}

// StateExpiredPayload names the state the server ended.
type StateExpiredPayload struct {
	State string `json:"state"`
}

// StateExpired publishes a debug event when a timed state ends on the server's decision.
func StateExpired(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef, payload StateExpiredPayload, extra map[string]any) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventStateExpired,
		Tick:     tick,
		Actor:    actor,
		Severity: logging.SeverityDebug,
		Category: "simulation",
		Payload:  payload,
		Extra:    extra,
	})
}

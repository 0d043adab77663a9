package network

import (
	"context"

	"stutterguard/server/logging"
)

const (
	// EventRateLimited is emitted when a connection sends frames faster than allowed.
	EventRateLimited logging.EventType = "network.rate_limited"
	// EventFrameRejected is emitted when a client frame cannot be decoded or dispatched.
	EventFrameRejected logging.EventType = "network.frame_rejected"
)

// RateLimitedPayload captures the limiter settings that were exceeded.
type RateLimitedPayload struct {
	Limit float64 `json:"limit"`
	Burst int     `json:"burst"`
}

// FrameRejectedPayload captures why a frame was refused.
type FrameRejectedPayload struct {
	Type   string `json:"type,omitempty"`
	Reason string `json:"reason"`
}

// RateLimited publishes a warning when a connection exceeds its frame budget.
func RateLimited(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef, payload RateLimitedPayload, extra map[string]any) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventRateLimited,
		Tick:     tick,
		Actor:    actor,
		Severity: logging.SeverityWarn,
		Category: logging.CategoryNetwork,
		Payload:  payload,
		Extra:    extra,
	})
}

// FrameRejected publishes a debug event for an unusable client frame.
func FrameRejected(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef, payload FrameRejectedPayload, extra map[string]any) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventFrameRejected,
		Tick:     tick,
		Actor:    actor,
		Severity: logging.SeverityDebug,
		Category: logging.CategoryNetwork,
		Payload:  payload,
		Extra:    extra,
	})
}

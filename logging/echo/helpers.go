package echo

import (
	"context"

	"stutterguard/server/logging"
)

const (
	// EventSelfRedacted is emitted when a player received a filtered copy of its own metadata.
	EventSelfRedacted logging.EventType = "echo.self_redacted"
	// EventSelfSuppressed is emitted when nothing was left to send back to the player.
	EventSelfSuppressed logging.EventType = "echo.self_suppressed"
	// EventAttributesSuppressed is emitted when an attribute echo was withheld from the player.
	EventAttributesSuppressed logging.EventType = "echo.attributes_suppressed"
	// EventScopeError is emitted when a scoped input handler failed or panicked.
	EventScopeError logging.EventType = "echo.scope_error"
	// EventPolicyChanged is emitted when a redaction profile is attached or detached.
	EventPolicyChanged logging.EventType = "echo.policy_changed"
	// EventInstallRejected is emitted when echo scope installation is attempted twice.
	EventInstallRejected logging.EventType = "echo.install_rejected"
)

// SplitPayload describes one filtered self-path send.
type SplitPayload struct {
	EntityID   int32  `json:"entityId"`
	Fields     int    `json:"fields"`
	KeptFields int    `json:"keptFields"`
	BytesSaved int    `json:"bytesSaved"`
	Packet     string `json:"packet"`
}

// ScopeErrorPayload captures a failing scoped handler.
type ScopeErrorPayload struct {
	Kind     string `json:"kind"`
	Error    string `json:"error"`
	Panicked bool   `json:"panicked"`
}

// PolicyChangedPayload captures a profile swap.
type PolicyChangedPayload struct {
	Previous string `json:"previous"`
	Current  string `json:"current"`
}

// InstallRejectedPayload captures a rejected double installation.
type InstallRejectedPayload struct {
	Reason string `json:"reason"`
}

func publish(ctx context.Context, pub logging.Publisher, eventType logging.EventType, severity logging.Severity, tick uint64, actor logging.EntityRef, payload any, extra map[string]any) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     eventType,
		Tick:     tick,
		Actor:    actor,
		Severity: severity,
		Category: logging.CategoryEcho,
		Payload:  payload,
		Extra:    extra,
	})
}

// SelfRedacted publishes a debug event for a filtered self copy.
func SelfRedacted(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef, payload SplitPayload, extra map[string]any) {
	publish(ctx, pub, EventSelfRedacted, logging.SeverityDebug, tick, actor, payload, extra)
}

// SelfSuppressed publishes a debug event for an omitted self copy.
func SelfSuppressed(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef, payload SplitPayload, extra map[string]any) {
	publish(ctx, pub, EventSelfSuppressed, logging.SeverityDebug, tick, actor, payload, extra)
}

// AttributesSuppressed publishes a debug event for a withheld attribute echo.
func AttributesSuppressed(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef, payload SplitPayload, extra map[string]any) {
	publish(ctx, pub, EventAttributesSuppressed, logging.SeverityDebug, tick, actor, payload, extra)
}

// ScopeError publishes a warning when a scoped handler failed.
func ScopeError(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef, payload ScopeErrorPayload, extra map[string]any) {
	publish(ctx, pub, EventScopeError, logging.SeverityWarn, tick, actor, payload, extra)
}

// PolicyChanged publishes an info event when a player's profile changes.
func PolicyChanged(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef, payload PolicyChangedPayload, extra map[string]any) {
	publish(ctx, pub, EventPolicyChanged, logging.SeverityInfo, tick, actor, payload, extra)
}

// InstallRejected publishes an error event for a second installation attempt.
func InstallRejected(ctx context.Context, pub logging.Publisher, payload InstallRejectedPayload) {
	publish(ctx, pub, EventInstallRejected, logging.SeverityError, 0, logging.ServerRef(), payload, nil)
}

// Package redact decides which metadata a client already predicted and must
// not receive back about itself.
//
// A Policy is configured through chained builder calls and then shared by
// reference between every connection using the same profile. Evaluation only
// reads the policy, so concurrent evaluation is safe as long as nobody keeps
// configuring a policy that is already attached.
package redact

import (
	"sort"

	"stutterguard/server/internal/metadata"
)

// Policy is the redaction rule set for self-bound metadata echoes.
type Policy struct {
	dropped        map[metadata.FieldID]struct{}
	masks          map[metadata.FieldID]byte
	dropAttributes bool
	allowTerminal  bool
}

// New returns an empty policy. The terminal-state exemption starts enabled
// so a server-decided stop is never hidden from the client.
func New() *Policy {
	return &Policy{
		dropped:       make(map[metadata.FieldID]struct{}),
		masks:         make(map[metadata.FieldID]byte),
		allowTerminal: true,
	}
}

// Default returns the player profile: crouching and sprinting bits, the pose
// field, the living entity flags field, and movement attribute echoes.
func Default() *Policy {
	return New().
		DropBits(metadata.IndexEntityFlags, metadata.FlagCrouching).
		DropBits(metadata.IndexEntityFlags, metadata.FlagSprinting).
		DropField(metadata.IndexPose).
		DropField(metadata.IndexLivingFlags).
		SetDropComputedAttributes(true).
		SetAllowTerminalStateBroadcast(true)
}

// DropField removes the field entirely from self-bound echoes.
func (p *Policy) DropField(id metadata.FieldID) *Policy {
	p.dropped[id] = struct{}{}
	return p
}

// DropBits strips mask from a packed flag byte. Repeated calls for the same
// field accumulate.
func (p *Policy) DropBits(id metadata.FieldID, mask byte) *Policy {
	p.masks[id] |= mask
	return p
}

// SetDropComputedAttributes controls whether attribute echoes for the
// player's own entity are withheld from the player.
func (p *Policy) SetDropComputedAttributes(drop bool) *Policy {
	p.dropAttributes = drop
	return p
}

// SetAllowTerminalStateBroadcast controls whether the server-decided stop of
// a predicted binary state (elytra flight) bypasses echo scope. Turning it off
// hides the stop from the client, which then stays in the predicted pose until
// it reconnects.
func (p *Policy) SetAllowTerminalStateBroadcast(allow bool) *Policy {
	p.allowTerminal = allow
	return p
}

// DropsAttributes reports whether attribute echoes are suppressed.
func (p *Policy) DropsAttributes() bool {
	return p != nil && p.dropAttributes
}

// AllowsTerminalStateBroadcast reports whether the terminal direction of a
// direction-dependent state is exempt from echo scope.
func (p *Policy) AllowsTerminalStateBroadcast() bool {
	return p == nil || p.allowTerminal
}

// Evaluate strips the configured fields and bits from fields. Every byte
// field under a bit mask counts as matched. The boolean is false when nothing
// matched; callers then send the original untouched. A
// true result with an empty map means the self copy carries nothing and must
// be omitted.
func (p *Policy) Evaluate(fields metadata.Map) (metadata.Map, bool) {
	if p == nil || len(fields) == 0 {
		return nil, false
	}

	var out metadata.Map
	for id, entry := range fields {
		if _, drop := p.dropped[id]; drop {
			if out == nil {
				out = fields.Clone()
			}
			delete(out, id)
			continue
		}

		mask, ok := p.masks[id]
		if !ok {
			continue
		}
		flags, ok := entry.AsByte()
		if !ok {
			continue
		}
		if out == nil {
			out = fields.Clone()
		}
		// A zero flag byte is real state, so a byte without server bits is
		// removed rather than sent as zero. This includes a byte that was
		// already zero, such as the release of a predicted flag.
		kept := flags &^ mask
		if kept == 0 {
			delete(out, id)
		} else {
			out[id] = metadata.Byte(kept)
		}
	}

	if out == nil {
		return nil, false
	}
	return out, true
}

// DroppedFields returns the fully dropped field indices in ascending order.
func (p *Policy) DroppedFields() []metadata.FieldID {
	if p == nil {
		return nil
	}
	ids := make([]metadata.FieldID, 0, len(p.dropped))
	for id := range p.dropped {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// BitMasks returns a copy of the accumulated per-field bit masks.
func (p *Policy) BitMasks() map[metadata.FieldID]byte {
	if p == nil {
		return nil
	}
	masks := make(map[metadata.FieldID]byte, len(p.masks))
	for id, mask := range p.masks {
		masks[id] = mask
	}
	return masks
}

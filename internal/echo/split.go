package echo

import (
	"stutterguard/server/internal/net/proto"
)

// Broadcaster is the unmodified "observers and self" broadcast primitive of a
// connection, split into its two halves.
type Broadcaster interface {
	SendToSelf(proto.Packet)
	SendToObservers(proto.Packet)
}

// Outcome names the path Split took for one packet.
type Outcome uint8

const (
	// Passthrough sent the same packet to the player and its observers.
	Passthrough Outcome = iota
	// Redacted sent a filtered copy to the player.
	Redacted
	// SelfSuppressed sent nothing to the player because nothing was left.
	SelfSuppressed
	// AttributesSuppressed withheld an attribute echo from the player.
	AttributesSuppressed
)

func (o Outcome) String() string {
	switch o {
	case Passthrough:
		return "passthrough"
	case Redacted:
		return "redacted"
	case SelfSuppressed:
		return "self_suppressed"
	case AttributesSuppressed:
		return "attributes_suppressed"
	default:
		return "unknown"
	}
}

// Result reports what Split did. Self is the packet sent to the player, nil
// when the self copy was omitted.
type Result struct {
	Outcome Outcome
	Self    proto.Packet
}

// Split replaces a connection's "send to observers and self" broadcast.
// Observers always receive packet exactly once and untouched; only the copy
// addressed to the player itself may be filtered or dropped, and only while
// a client-echo scope is open with a policy attached and no server-forced
// scope.
func Split(p Participant, packet proto.Packet, out Broadcaster) Result {
	if res, ok := splitSelf(p, packet); ok {
		if res.Self != nil {
			out.SendToSelf(res.Self)
		}
		out.SendToObservers(packet)
		return res
	}
	out.SendToSelf(packet)
	out.SendToObservers(packet)
	return Result{Outcome: Passthrough, Self: packet}
}

func splitSelf(p Participant, packet proto.Packet) (Result, bool) {
	state := stateOf(p)
	if !state.InClientEcho() || state.ServerForced() {
		return Result{}, false
	}
	policy := state.Policy()
	if policy == nil {
		return Result{}, false
	}

	switch pkt := packet.(type) {
	case *proto.EntityMetadata:
		if pkt == nil || pkt.EntityID != p.EntityID() {
			return Result{}, false
		}
		filtered, changed := policy.Evaluate(pkt.Fields)
		if !changed {
			return Result{}, false
		}
		if len(filtered) == 0 {
			return Result{Outcome: SelfSuppressed}, true
		}
		return Result{
			Outcome: Redacted,
			Self:    &proto.EntityMetadata{EntityID: pkt.EntityID, Fields: filtered},
		}, true
	case *proto.EntityAttributes:
		if pkt == nil || pkt.EntityID != p.EntityID() || !policy.DropsAttributes() {
			return Result{}, false
		}
		return Result{Outcome: AttributesSuppressed}, true
	default:
		return Result{}, false
	}
}

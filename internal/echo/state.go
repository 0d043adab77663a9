// Package echo tracks when a player's own input is being applied and splits
// the resulting broadcasts so the player does not receive back what its
// client already predicted.
//
// A State belongs to one connection. Its scope counters are only touched by
// code holding that connection's execution lock, so they need no
// synchronization of their own. The attached policy may be swapped from any
// goroutine.
package echo

import (
	"sync/atomic"

	"stutterguard/server/internal/redact"
)

// State is the per-connection echo bookkeeping.
type State struct {
	clientDepth int
	forcedDepth int
	policy      atomic.Pointer[redact.Policy]
}

// NewState returns a state with policy attached. A nil policy disables
// filtering.
func NewState(policy *redact.Policy) *State {
	s := &State{}
	s.policy.Store(policy)
	return s
}

// InClientEcho reports whether a client-echo scope is open.
func (s *State) InClientEcho() bool {
	return s != nil && s.clientDepth > 0
}

// ServerForced reports whether a server-forced scope is open.
func (s *State) ServerForced() bool {
	return s != nil && s.forcedDepth > 0
}

// Policy returns the attached policy, or nil when filtering is off.
func (s *State) Policy() *redact.Policy {
	if s == nil {
		return nil
	}
	return s.policy.Load()
}

// SetPolicy attaches policy and returns the previous one. Passing nil
// detaches.
func (s *State) SetPolicy(policy *redact.Policy) *redact.Policy {
	return s.policy.Swap(policy)
}

// Participant is a connection that can take part in echo filtering. The
// dispatch layer and the splitter only depend on this capability; anything
// else is treated as a plain connection and passes through unfiltered.
type Participant interface {
	EchoState() *State
	EntityID() int32
}

func stateOf(p Participant) *State {
	if p == nil {
		return nil
	}
	return p.EchoState()
}

// As reports the participant behind conn, if it is one.
func As(conn any) (Participant, bool) {
	p, ok := conn.(Participant)
	if !ok || p == nil || p.EchoState() == nil {
		return nil, false
	}
	return p, true
}

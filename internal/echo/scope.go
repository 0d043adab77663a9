package echo

// RunAsClientEcho runs action with p's client-echo scope open. The scope is
// closed on every exit path; errors and panics from action propagate
// unchanged. Scopes nest.
func RunAsClientEcho(p Participant, action func() error) error {
	state := stateOf(p)
	if state == nil {
		return action()
	}
	state.clientDepth++
	defer func() { state.clientDepth-- }()
	return action()
}

// RunAsServerForced runs action with p's server-forced scope open. Anything
// broadcast inside it reaches the player unfiltered, even when an outer
// client-echo scope is open.
func RunAsServerForced(p Participant, action func() error) error {
	state := stateOf(p)
	if state == nil {
		return action()
	}
	state.forcedDepth++
	defer func() { state.forcedDepth-- }()
	return action()
}

// Force is RunAsServerForced for actions that cannot fail.
func Force(p Participant, action func()) {
	_ = RunAsServerForced(p, func() error {
		action()
		return nil
	})
}

// Predicted wraps a mutation the client always predicts on its own (crouch,
// sprint, active hand). It runs scoped unless a server-forced scope is open.
func Predicted(p Participant, mutate func()) {
	state := stateOf(p)
	if state == nil || state.ServerForced() {
		mutate()
		return
	}
	_ = RunAsClientEcho(p, func() error {
		mutate()
		return nil
	})
}

// FlightTransition wraps an elytra flight change. Starting is predicted by
// the client. Stopping is decided by the server and is delivered unfiltered,
// unless the attached policy turned the terminal exemption off.
func FlightTransition(p Participant, starting bool, mutate func()) {
	state := stateOf(p)
	switch {
	case state == nil || state.ServerForced():
		mutate()
	case starting:
		Predicted(p, mutate)
	case state.Policy() != nil && !state.Policy().AllowsTerminalStateBroadcast():
		Predicted(p, mutate)
	default:
		Force(p, mutate)
	}
}

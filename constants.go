package server

import "time"

const (
	ProtocolVersion = 1
	writeWait       = 10 * time.Second

	// disconnectAfter is measured in heartbeat intervals.
	disconnectAfter = 3

	baseMovementSpeed = 0.1
	sprintMultiplier  = 1.3

	// handReleaseTicks is how long a console-raised hand stays up.
	handReleaseTicks = 40
)

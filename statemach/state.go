// Package statemach implements the top-level operating state machine
// for the LACT unit: the legal transition table, scan-paced entry
// sequences, and the safety-request overrides.
package statemach

// State is the unit's top-level operating mode. Exactly one is active.
type State int

const (
	Idle State = iota
	Startup
	Running
	Divert
	Proving
	Shutdown
	EStop
)

func (s State) String() string {
	switch s {
	case Idle:
		return "IDLE"
	case Startup:
		return "STARTUP"
	case Running:
		return "RUNNING"
	case Divert:
		return "DIVERT"
	case Proving:
		return "PROVING"
	case Shutdown:
		return "SHUTDOWN"
	case EStop:
		return "ESTOP"
	default:
		return "UNKNOWN"
	}
}

// transitions is the legal transition table. EStop is reachable from
// every state and is handled separately. Startup->Divert covers the
// startup path where BS&W has not cleared by the end of stabilization.
var transitions = map[State][]State{
	Idle:     {Startup},
	Startup:  {Running, Divert, Idle},
	Running:  {Divert, Proving, Shutdown},
	Divert:   {Running, Shutdown},
	Proving:  {Running},
	Shutdown: {Idle},
	EStop:    {Idle},
}

func legal(from, to State) bool {
	if to == EStop {
		return true
	}
	for _, t := range transitions[from] {
		if t == to {
			return true
		}
	}
	return false
}

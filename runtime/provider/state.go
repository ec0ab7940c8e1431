package provider

// State is the lifecycle state of a provider session.
type State int

const (
	StateUninitialized State = iota
	StateConnecting
	StateReady
	StateFailed
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateConnecting:
		return "connecting"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transition other than teardown is possible.
func (s State) Terminal() bool {
	return s == StateFailed || s == StateTerminated
}

// canTransition encodes the monotonic state machine.
func canTransition(from, to State) bool {
	if from == StateTerminated {
		return false
	}
	if to == StateTerminated {
		return true
	}
	switch from {
	case StateUninitialized:
		return to == StateConnecting
	case StateConnecting:
		return to == StateReady || to == StateFailed
	case StateReady:
		return to == StateFailed
	default:
		return false
	}
}

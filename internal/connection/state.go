package connection

// State is the connection/session lifecycle state. Transitions are owned by
// the Manager; everything else observes through a StatusListener.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateLoggingOn
	StateActive
	StateRefreshing // Active with a session refresh in flight
	StateLoggingOff
	StateFaulted
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateLoggingOn:
		return "logging_on"
	case StateActive:
		return "active"
	case StateRefreshing:
		return "refreshing_session"
	case StateLoggingOff:
		return "logging_off"
	case StateFaulted:
		return "faulted"
	default:
		return "invalid"
	}
}

// sendable reports whether requests may be written in this state.
func (s State) sendable() bool {
	return s == StateActive || s == StateRefreshing
}

// StatusListener observes state transitions, letting the application pause
// submission during outages. Invoked synchronously from manager goroutines,
// so implementations must be quick.
type StatusListener func(old, next State)

package session

// State is the session controller's lifecycle state. Transitions go through
// an explicit table so illegal moves are unrepresentable rather than guarded
// by scattered flags.
type State int

const (
	Disconnected State = iota
	Connecting
	Handshaking
	Active
	Degraded
	Closing
	Closed
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Handshaking:
		return "handshaking"
	case Active:
		return "active"
	case Degraded:
		return "degraded"
	case Closing:
		return "closing"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// transitions enumerates every legal state change. Closing is reachable from
// every live state because an explicit close always wins; Closed is reachable
// from Degraded directly when the reconnect budget runs out.
var transitions = map[State][]State{
	Disconnected: {Connecting, Closing},
	Connecting:   {Handshaking, Disconnected, Closing},
	Handshaking:  {Active, Disconnected, Closing},
	Active:       {Degraded, Closing},
	Degraded:     {Active, Closed, Closing},
	Closing:      {Closed},
	Closed:       {},
}

func canTransition(from, to State) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Change is one entry on the state-change notification stream.
type Change struct {
	State      State
	Diagnostic string
}

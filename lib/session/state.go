package session

import "github.com/samber/oops"

// State is a session lifecycle state.
type State int

const (
	Creating State = iota
	AwaitingQr
	AwaitingPairing
	Connecting
	Linked
	Disconnected
	Terminated
)

var stateNames = map[State]string{
	Creating:        "Creating",
	AwaitingQr:      "AwaitingQr",
	AwaitingPairing: "AwaitingPairing",
	Connecting:      "Connecting",
	Linked:          "Linked",
	Disconnected:    "Disconnected",
	Terminated:      "Terminated",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "Unknown"
}

// MarshalText encodes the state by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a state name.
func (s *State) UnmarshalText(text []byte) error {
	for st, name := range stateNames {
		if name == string(text) {
			*s = st
			return nil
		}
	}
	return oops.Errorf("unknown session state %q", text)
}

// Pending reports whether the session is still authenticating.
func (s State) Pending() bool {
	return s == Creating || s == AwaitingQr || s == AwaitingPairing || s == Connecting
}

// transitions lists the allowed edges. Terminated is reachable from every
// other state and is handled separately.
var transitions = map[State][]State{
	Creating:        {AwaitingQr, AwaitingPairing, Connecting},
	AwaitingQr:      {Connecting},
	AwaitingPairing: {Connecting},
	Connecting:      {Linked, Disconnected},
	Linked:          {Disconnected},
	Disconnected:    {Connecting},
}

// CanTransition reports whether from → to is a legal edge.
func CanTransition(from, to State) bool {
	if from == Terminated {
		return false
	}
	if to == Terminated {
		return true
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

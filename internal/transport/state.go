package transport

import "fmt"

// State is the transport selector's position in its connection lifecycle.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
	Backoff
	PermanentlyFallenBack
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Backoff:
		return "backoff"
	case PermanentlyFallenBack:
		return "permanently_fallen_back"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// validTransitions enumerates the allowed edges. There is no direct
// Disconnected→Connected edge, and PermanentlyFallenBack leaves only via an
// external reset to Disconnected.
var validTransitions = map[State][]State{
	Disconnected:          {Connecting},
	Connecting:            {Connected, Backoff, PermanentlyFallenBack},
	Connected:             {Backoff, Disconnected},
	Backoff:               {Connecting, PermanentlyFallenBack},
	PermanentlyFallenBack: {Disconnected},
}

func canTransition(from, to State) bool {
	for _, next := range validTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

package session

// State is the lifecycle state of a capture session.
type State int

const (
	Unbound State = iota
	Binding
	Bound
	Rebinding
	Capturing
	Closed // terminal, after teardown
)

func (s State) String() string {
	switch s {
	case Unbound:
		return "UNBOUND"
	case Binding:
		return "BINDING"
	case Bound:
		return "BOUND"
	case Rebinding:
		return "REBINDING"
	case Capturing:
		return "CAPTURING"
	case Closed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

var transitions = map[State][]State{
	Unbound:   {Binding, Closed},
	Binding:   {Bound, Unbound},
	Bound:     {Rebinding, Capturing, Unbound},
	Rebinding: {Bound, Unbound},
	Capturing: {Bound, Unbound},
}

// CanTransition reports whether from -> to is a legal state change.
func CanTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

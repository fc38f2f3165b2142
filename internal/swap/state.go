package swap

// State is a step of one swap attempt.
type State uint8

const (
	StateIdle State = iota
	StateResolving
	StateCalculating
	StateBuilding
	StateApproving
	StateEstimating
	StateSubmitted
	StateConfirmed
	StateFailed
)

var stateNames = [...]string{
	StateIdle:        "idle",
	StateResolving:   "resolving",
	StateCalculating: "calculating",
	StateBuilding:    "building",
	StateApproving:   "approving",
	StateEstimating:  "estimating",
	StateSubmitted:   "submitted",
	StateConfirmed:   "confirmed",
	StateFailed:      "failed",
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "unknown"
}

// Terminal states end an attempt.
func (s State) Terminal() bool {
	return s == StateConfirmed || s == StateFailed
}

// Approving is the only optional step. Any non-terminal state may fail.
var next = map[State][]State{
	StateIdle:        {StateResolving},
	StateResolving:   {StateCalculating},
	StateCalculating: {StateBuilding},
	StateBuilding:    {StateApproving, StateEstimating},
	StateApproving:   {StateEstimating},
	StateEstimating:  {StateSubmitted},
	StateSubmitted:   {StateConfirmed},
}

func (s State) CanTransition(to State) bool {
	if s.Terminal() {
		return false
	}
	if to == StateFailed {
		return true
	}
	for _, n := range next[s] {
		if n == to {
			return true
		}
	}
	return false
}

// Status is the tag of an Outcome.
type Status uint8

const (
	StatusSubmitted Status = iota + 1
	StatusConfirmed
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusSubmitted:
		return "submitted"
	case StatusConfirmed:
		return "confirmed"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

package delivery

// State is the phase of the delivery engine.
type State int

const (
	Idle State = iota
	Dispatched
	Streaming
	FallingBack
	Committing
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Dispatched:
		return "dispatched"
	case Streaming:
		return "streaming"
	case FallingBack:
		return "falling_back"
	case Committing:
		return "committing"
	default:
		return "unknown"
	}
}

// Busy reports whether a turn is in flight in this state.
func (s State) Busy() bool {
	return s != Idle
}

// StateHook observes every transition. It runs while the engine holds its
// lock, so it must not call back into the engine.
type StateHook func(from, to State)

package actor

// State is the dispatch loop state.
type State int32

const (
	// StateIdle waits for the next inbound request.
	StateIdle State = iota
	// StateReceiving has taken a request and looks up its handler.
	StateReceiving
	// StateDispatching hands the request to a handler slot.
	StateDispatching
	// StateShutdown is terminal.
	StateShutdown
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateReceiving:
		return "receiving"
	case StateDispatching:
		return "dispatching"
	case StateShutdown:
		return "shutdown"
	}
	return "unknown"
}

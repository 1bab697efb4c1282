package supervisor

// State is the lifecycle state of a supervisor.
type State int

const (
	StateNotStarted State = iota
	StateStarting
	StateReady
	StateShuttingDown
	StateTerminated
	StateFailed
)

var stateNames = [...]string{
	StateNotStarted:   "not_started",
	StateStarting:     "starting",
	StateReady:        "ready",
	StateShuttingDown: "shutting_down",
	StateTerminated:   "terminated",
	StateFailed:       "failed",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}

	return stateNames[s]
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Startable reports whether Start is accepted in this state.
func (s State) Startable() bool {
	return s == StateNotStarted || s == StateTerminated || s == StateFailed
}

// Live reports whether a worker process is associated with this state.
func (s State) Live() bool {
	return s == StateStarting || s == StateReady || s == StateShuttingDown
}

// StateChange describes one transition.
type StateChange struct {
	From State
	To   State

	// Err is the reason for transitions into StateFailed, and
	// ErrSupervisorStopped for transitions into StateTerminated
	Err error
}

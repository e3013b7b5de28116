package sync

// State is a step of the run state machine.
type State int

const (
	StateIdle State = iota
	StateEstimating
	StateAwaitingConfirmation
	StateDryRunning
	StateTransferring
	StatePaused
	StateCompleted
	StateFailed
	StateCancelled
)

var stateNames = [...]string{
	StateIdle:                 "idle",
	StateEstimating:           "estimating",
	StateAwaitingConfirmation: "awaiting_confirmation",
	StateDryRunning:           "dry_running",
	StateTransferring:         "transferring",
	StatePaused:               "paused",
	StateCompleted:            "completed",
	StateFailed:               "failed",
	StateCancelled:            "cancelled",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "unknown"
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// IsTerminal reports whether no further transitions are possible.
func (s State) IsTerminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCancelled
}

// HasProcess reports whether an rclone child may be alive in this state.
func (s State) HasProcess() bool {
	return s == StateDryRunning || s == StateTransferring || s == StatePaused
}

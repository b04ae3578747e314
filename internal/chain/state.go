package chain

import "errors"

// State is the lifecycle state of an Executor.
type State int

const (
	StateIdle State = iota
	StateRunning
	StateCompleted
	StateFailed
	StateAborted
)

var stateNames = map[State]string{
	StateIdle:      "idle",
	StateRunning:   "running",
	StateCompleted: "completed",
	StateFailed:    "failed",
	StateAborted:   "aborted",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "unknown"
}

// Terminal reports whether no further transition can leave s.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateAborted
}

// OutcomeOf maps the result of Run to the terminal state it produced.
func OutcomeOf(err error) State {
	switch {
	case err == nil:
		return StateCompleted
	case errors.Is(err, ErrAborted):
		return StateAborted
	default:
		return StateFailed
	}
}

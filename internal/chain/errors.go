package chain

import (
	"errors"
	"fmt"
	"time"
)

// Domain errors for the chain package.
//
// Outcomes are told apart with errors.Is():
//
//	switch {
//	case errors.Is(err, chain.ErrAborted):
//	    // cancelled by the caller, not a fault
//	case errors.Is(err, chain.ErrTimeout), errors.Is(err, chain.ErrWriteFailed):
//	    // actionable failure on the physical device
//	}
var (
	// ErrAborted is returned when a run was cancelled with Abort or its context.
	ErrAborted = errors.New("chain: aborted")

	// ErrTimeout is returned when a state wait did not see its expected value in time.
	ErrTimeout = errors.New("chain: wait timed out")

	// ErrWriteFailed is returned when the bus rejected a step's write.
	ErrWriteFailed = errors.New("chain: write failed")

	// ErrReadFailed is returned when the initial read of a state wait failed.
	ErrReadFailed = errors.New("chain: read failed")

	// ErrMalformedCondition is reported by Validate for a wait condition of
	// unknown type. At run time such conditions are logged and skipped.
	ErrMalformedCondition = errors.New("chain: malformed wait condition")

	// ErrInvalidChain is returned by Validate for structural problems.
	ErrInvalidChain = errors.New("chain: invalid chain")

	// ErrExecutorUsed is returned when Run is called on an executor that
	// has already run (or is running) a chain.
	ErrExecutorUsed = errors.New("chain: executor already used")
)

// WriteError reports a failed step write. It matches ErrWriteFailed and
// the underlying bus error.
type WriteError struct {
	Index  int
	Target string
	Err    error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("chain: step %d: writing %q: %v", e.Index, e.Target, e.Err)
}

func (e *WriteError) Unwrap() []error {
	return []error{ErrWriteFailed, e.Err}
}

// ReadError reports a failed initial read of a state wait.
type ReadError struct {
	Index  int
	Target string
	Err    error
}

func (e *ReadError) Error() string {
	return fmt.Sprintf("chain: step %d: reading %q: %v", e.Index, e.Target, e.Err)
}

func (e *ReadError) Unwrap() []error {
	return []error{ErrReadFailed, e.Err}
}

// TimeoutError reports a state wait that expired. It matches ErrTimeout.
type TimeoutError struct {
	Index    int
	Target   string
	Expected any
	Timeout  time.Duration
	Elapsed  time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("chain: step %d: %q did not reach %v within %s (waited %s)",
		e.Index, e.Target, e.Expected, e.Timeout, e.Elapsed.Round(time.Millisecond))
}

func (e *TimeoutError) Unwrap() error {
	return ErrTimeout
}

// abortedAt wraps ErrAborted with the step the run stopped at.
func abortedAt(index int, cause error) error {
	if cause != nil && !errors.Is(cause, ErrAborted) {
		return fmt.Errorf("%w at step %d: %w", ErrAborted, index, cause)
	}
	return fmt.Errorf("%w at step %d", ErrAborted, index)
}

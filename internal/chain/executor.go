package chain

import (
	"context"
	"sync"
	"time"
)

// Bus is the external datapoint layer the executor writes to and reads from.
type Bus interface {
	// Write sends value to target. It returns once the bus has accepted the
	// write; per-target ordering of writes must be preserved.
	Write(ctx context.Context, target string, value any) error

	// ReadCurrent returns the last known value of target. ok is false when
	// the datapoint has never reported a value.
	ReadCurrent(ctx context.Context, target string) (value any, ok bool, err error)
}

// Watcher is implemented by buses that can push value changes. When the
// bus passed to NewExecutor implements it, state waits subscribe for their
// duration in addition to accepting Notify calls.
type Watcher interface {
	// Watch calls fn for every later change of target until cancel is called.
	// Calls may continue briefly after cancel; they must be tolerated.
	Watch(target string, fn func(value any)) (cancel func())
}

// Logger defines the logging interface used by the Executor.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Option configures an Executor.
type Option func(*Executor)

// WithLogger sets the executor's logger.
func WithLogger(l Logger) Option {
	return func(e *Executor) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithName labels log lines with a run name, e.g. "pump-1/on".
func WithName(name string) Option {
	return func(e *Executor) { e.name = name }
}

// WithDefaultStateTimeout overrides DefaultStateTimeoutMS for state waits
// that leave TimeoutMS unset.
func WithDefaultStateTimeout(d time.Duration) Option {
	return func(e *Executor) {
		if d > 0 {
			e.defaultTimeout = d
		}
	}
}

// Executor runs a single chain.
//
// Lifecycle: Idle → Running → Completed | Failed | Aborted. An executor is
// not reusable; create one per run.
//
// Thread Safety: Abort, Notify, State and Position may be called from any
// goroutine while Run is in progress.
type Executor struct {
	bus            Bus
	logger         Logger
	name           string
	defaultTimeout time.Duration

	mu       sync.Mutex
	state    State
	aborted  bool
	position int
	pending  *wait // at most one wait is armed at a time
}

// NewExecutor creates an idle executor bound to bus.
func NewExecutor(bus Bus, opts ...Option) *Executor {
	e := &Executor{
		bus:            bus,
		logger:         noopLogger{},
		defaultTimeout: DefaultStateTimeoutMS * time.Millisecond,
		position:       -1,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run executes c step by step and blocks until the run settles.
//
// Returns:
//   - nil when every step was written
//   - an error matching ErrAborted when Abort was called or ctx was cancelled
//   - *TimeoutError, *WriteError or *ReadError when the chain failed
//   - ErrExecutorUsed when the executor already ran a chain
//
// Writes already performed are never rolled back.
func (e *Executor) Run(ctx context.Context, c Chain) error {
	e.mu.Lock()
	if e.state != StateIdle {
		e.mu.Unlock()
		return ErrExecutorUsed
	}
	if e.aborted {
		e.state = StateAborted
		e.mu.Unlock()
		e.logger.Debug("chain aborted before start", "chain", e.name)
		return abortedAt(0, nil)
	}
	e.state = StateRunning
	e.mu.Unlock()

	started := time.Now()
	err := e.runSteps(ctx, c.Clone())
	outcome := e.settle(err)

	e.logger.Debug("chain settled",
		"chain", e.name,
		"outcome", outcome.String(),
		"steps", len(c),
		"duration_ms", time.Since(started).Milliseconds(),
	)
	return err
}

// Start runs c in a new goroutine and returns a channel that receives the
// result of Run exactly once.
func (e *Executor) Start(ctx context.Context, c Chain) <-chan error {
	done := make(chan error, 1)
	go func() {
		done <- e.Run(ctx, c)
	}()
	return done
}

// Abort cancels the run. It is idempotent and may be called at any time:
// before Run (the run then fails fast), while a wait is pending (the wait
// rejects immediately with ErrAborted, releasing its timer and handler),
// or after settlement (no-op).
func (e *Executor) Abort() {
	e.mu.Lock()
	if e.aborted || e.state.Terminal() {
		e.mu.Unlock()
		return
	}
	e.aborted = true
	w := e.pending
	e.mu.Unlock()

	if w != nil {
		w.settle(ErrAborted)
	}
	e.logger.Debug("chain abort requested", "chain", e.name)
}

// Notify delivers a datapoint change to the pending state wait, if any.
// It is a no-op when no wait is pending on target or value does not match.
func (e *Executor) Notify(target string, value any) {
	e.mu.Lock()
	w := e.pending
	e.mu.Unlock()

	if w == nil {
		return
	}
	w.offer(target, value)
}

// State returns the executor's current lifecycle state.
func (e *Executor) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Position returns the index of the step being processed, or -1 before the
// first step. After settlement it is the last step reached.
func (e *Executor) Position() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.position
}

// runSteps walks the chain. Steps are strictly sequential: step N's write
// happens after step N-1's write and after N's own wait resolves.
func (e *Executor) runSteps(ctx context.Context, steps Chain) error {
	for i, step := range steps {
		if err := e.enterStep(ctx, i); err != nil {
			return err
		}

		if step.WaitBefore != nil {
			if err := e.waitFor(ctx, i, *step.WaitBefore); err != nil {
				return err
			}
			// An abort that lands after the wait resolved still stops the write.
			if err := e.checkAbort(ctx, i); err != nil {
				return err
			}
		}

		if err := e.bus.Write(ctx, step.Target, step.Value); err != nil {
			return e.failure(ctx, i, &WriteError{Index: i, Target: step.Target, Err: err})
		}

		e.logger.Debug("chain step written",
			"chain", e.name,
			"step", i,
			"target", step.Target,
			"value", step.Value,
		)
	}
	return nil
}

func (e *Executor) enterStep(ctx context.Context, index int) error {
	e.mu.Lock()
	e.position = index
	e.mu.Unlock()
	return e.checkAbort(ctx, index)
}

func (e *Executor) checkAbort(ctx context.Context, index int) error {
	e.mu.Lock()
	aborted := e.aborted
	e.mu.Unlock()

	if aborted {
		return abortedAt(index, nil)
	}
	if err := ctx.Err(); err != nil {
		return abortedAt(index, err)
	}
	return nil
}

// failure returns err unless the run was aborted or ctx was cancelled
// while the bus call was in flight, in which case the run is aborted.
func (e *Executor) failure(ctx context.Context, index int, err error) error {
	if abortErr := e.checkAbort(ctx, index); abortErr != nil {
		return abortErr
	}
	return err
}

// settle records the terminal state. Only the first call has any effect.
func (e *Executor) settle(err error) State {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.state.Terminal() {
		e.state = OutcomeOf(err)
	}
	e.pending = nil
	return e.state
}


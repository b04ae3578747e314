package chain

import (
	"context"
	"sync"
	"time"
)

// wait is a one-shot rendezvous between the run loop and whoever resolves
// it first: the timer, a matching notification, an abort or the context.
type wait struct {
	target   string // empty for delay waits
	expected any

	once sync.Once
	done chan error // buffered 1; receives exactly one result
}

func newWait(target string, expected any) *wait {
	return &wait{
		target:   target,
		expected: expected,
		done:     make(chan error, 1),
	}
}

// settle resolves the wait with err. It returns false if the wait had
// already been resolved, in which case err is discarded.
func (w *wait) settle(err error) bool {
	settled := false
	w.once.Do(func() {
		w.done <- err
		settled = true
	})
	return settled
}

// offer resolves a state wait when value for target satisfies it.
func (w *wait) offer(target string, value any) {
	if w.target == "" || w.target != target {
		return
	}
	if Matches(value, w.expected) {
		w.settle(nil)
	}
}

// waitFor suspends the run until cond is satisfied.
// A condition of unknown type is logged and treated as no wait.
func (e *Executor) waitFor(ctx context.Context, index int, cond WaitCondition) error {
	switch cond.Type {
	case WaitDelay:
		return e.waitDelay(ctx, index, cond)
	case WaitState:
		if cond.Target == "" {
			e.logger.Warn("state wait without target, skipping",
				"chain", e.name,
				"step", index,
			)
			return nil
		}
		return e.waitState(ctx, index, cond)
	default:
		e.logger.Warn("malformed wait condition, skipping",
			"chain", e.name,
			"step", index,
			"type", string(cond.Type),
		)
		return nil
	}
}

// waitDelay arms a single timer for cond.DurationMS. Zero resolves as soon
// as the runtime schedules the timer callback.
func (e *Executor) waitDelay(ctx context.Context, index int, cond WaitCondition) error {
	d := time.Duration(max(cond.DurationMS, 0)) * time.Millisecond

	w := newWait("", nil)
	if err := e.arm(index, w); err != nil {
		return err
	}
	defer e.disarm(w)

	timer := time.AfterFunc(d, func() { w.settle(nil) })
	defer timer.Stop()

	e.logger.Debug("chain waiting",
		"chain", e.name,
		"step", index,
		"type", string(WaitDelay),
		"duration_ms", cond.DurationMS,
	)
	return e.block(ctx, index, w)
}

// waitState resolves immediately, without arming anything, when the target
// already holds the expected value. Otherwise it arms the wait slot and the
// bus watch, reads once more to catch a change that landed in between, and
// waits for a matching change up to the condition's timeout.
func (e *Executor) waitState(ctx context.Context, index int, cond WaitCondition) error {
	timeout := e.defaultTimeout
	if cond.TimeoutMS > 0 {
		timeout = time.Duration(cond.TimeoutMS) * time.Millisecond
	}

	current, ok, err := e.bus.ReadCurrent(ctx, cond.Target)
	if err != nil {
		return e.failure(ctx, index, &ReadError{Index: index, Target: cond.Target, Err: err})
	}
	if ok && Matches(current, cond.Expected) {
		e.logger.Debug("chain wait already satisfied",
			"chain", e.name,
			"step", index,
			"target", cond.Target,
			"value", current,
		)
		return nil
	}

	w := newWait(cond.Target, cond.Expected)
	if err := e.arm(index, w); err != nil {
		return err
	}
	defer e.disarm(w)

	if watcher, isWatcher := e.bus.(Watcher); isWatcher {
		cancel := watcher.Watch(cond.Target, func(value any) {
			w.offer(cond.Target, value)
		})
		defer cancel()
	}

	current, ok, err = e.bus.ReadCurrent(ctx, cond.Target)
	if err != nil {
		if w.settle(e.failure(ctx, index, &ReadError{Index: index, Target: cond.Target, Err: err})) {
			return e.result(index, <-w.done)
		}
		// Abort won the race with the failed read.
		return e.block(ctx, index, w)
	}
	if ok && Matches(current, cond.Expected) {
		w.settle(nil)
		return e.result(index, <-w.done)
	}

	started := time.Now()
	timer := time.AfterFunc(timeout, func() {
		w.settle(&TimeoutError{
			Index:    index,
			Target:   cond.Target,
			Expected: cond.Expected,
			Timeout:  timeout,
			Elapsed:  time.Since(started),
		})
	})
	defer timer.Stop()

	e.logger.Debug("chain waiting",
		"chain", e.name,
		"step", index,
		"type", string(WaitState),
		"target", cond.Target,
		"expected", cond.Expected,
		"timeout_ms", timeout.Milliseconds(),
	)
	return e.block(ctx, index, w)
}

// arm installs w as the pending wait. It fails if an abort has already
// been requested, so an abort can never slip in between the step's abort
// check and the wait becoming visible to Abort.
func (e *Executor) arm(index int, w *wait) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.aborted {
		return abortedAt(index, nil)
	}
	e.pending = w
	return nil
}

// disarm clears the pending slot if it still holds w.
func (e *Executor) disarm(w *wait) {
	e.mu.Lock()
	if e.pending == w {
		e.pending = nil
	}
	e.mu.Unlock()
}

// block waits for w to settle. Context cancellation competes with the other
// resolvers through the same settle guard.
func (e *Executor) block(ctx context.Context, index int, w *wait) error {
	select {
	case err := <-w.done:
		return e.result(index, err)
	case <-ctx.Done():
		w.settle(abortedAt(index, ctx.Err()))
		return e.result(index, <-w.done)
	}
}

// result attaches the step index to the bare ErrAborted settled by Abort.
func (e *Executor) result(index int, err error) error {
	if err == ErrAborted { //nolint:errorlint // exact sentinel settled by Abort
		return abortedAt(index, nil)
	}
	return err
}

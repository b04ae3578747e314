package chain

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// ─── Mock Dependencies ──────────────────────────────────────────────────────

type busWrite struct {
	Target string
	Value  any
	At     time.Time
}

// mockBus records writes and serves reads from a value map.
type mockBus struct {
	mu      sync.Mutex
	values  map[string]any
	writes  []busWrite
	reads   int
	failOn  map[int]error // write index → error
	readErr error
}

func newMockBus() *mockBus {
	return &mockBus{
		values: make(map[string]any),
		failOn: make(map[int]error),
	}
}

func (m *mockBus) Write(_ context.Context, target string, value any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err, ok := m.failOn[len(m.writes)]; ok {
		delete(m.failOn, len(m.writes))
		return err
	}
	m.writes = append(m.writes, busWrite{Target: target, Value: value, At: time.Now()})
	m.values[target] = value
	return nil
}

func (m *mockBus) ReadCurrent(_ context.Context, target string) (any, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reads++
	if m.readErr != nil {
		return nil, false, m.readErr
	}
	v, ok := m.values[target]
	return v, ok, nil
}

func (m *mockBus) set(target string, value any) {
	m.mu.Lock()
	m.values[target] = value
	m.mu.Unlock()
}

func (m *mockBus) getWrites() []busWrite {
	m.mu.Lock()
	defer m.mu.Unlock()
	cpy := make([]busWrite, len(m.writes))
	copy(cpy, m.writes)
	return cpy
}

func (m *mockBus) readCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reads
}

// watchingBus adds push notifications to mockBus.
type watchingBus struct {
	*mockBus
	wmu      sync.Mutex
	watchers map[int]watchEntry
	nextID   int
	watches  int // total Watch calls
}

type watchEntry struct {
	target string
	fn     func(any)
}

func newWatchingBus() *watchingBus {
	return &watchingBus{mockBus: newMockBus(), watchers: make(map[int]watchEntry)}
}

func (w *watchingBus) Watch(target string, fn func(value any)) func() {
	w.wmu.Lock()
	defer w.wmu.Unlock()
	id := w.nextID
	w.nextID++
	w.watches++
	w.watchers[id] = watchEntry{target: target, fn: fn}
	return func() {
		w.wmu.Lock()
		delete(w.watchers, id)
		w.wmu.Unlock()
	}
}

// change simulates an external datapoint change.
func (w *watchingBus) change(target string, value any) {
	w.set(target, value)
	w.wmu.Lock()
	var fns []func(any)
	for _, e := range w.watchers {
		if e.target == target {
			fns = append(fns, e.fn)
		}
	}
	w.wmu.Unlock()
	for _, fn := range fns {
		fn(value)
	}
}

func (w *watchingBus) watchCalls() int {
	w.wmu.Lock()
	defer w.wmu.Unlock()
	return w.watches
}

func (w *watchingBus) activeWatchers() int {
	w.wmu.Lock()
	defer w.wmu.Unlock()
	return len(w.watchers)
}

// ─── Helpers ────────────────────────────────────────────────────────────────

func isWaiting(e *Executor) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pending != nil
}

// waitUntilPending blocks until the executor has armed a wait.
func waitUntilPending(t *testing.T, e *Executor) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !isWaiting(e) {
		if time.Now().After(deadline) {
			t.Fatal("executor never armed a wait")
		}
		time.Sleep(time.Millisecond)
	}
}

func receive(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("run did not settle")
		return nil
	}
}

func relaySpeedChain(timeoutMS int) Chain {
	return Chain{
		{Target: "relay", Value: true},
		{Target: "speed", Value: 2, WaitBefore: StateMatch("relay", true, timeoutMS)},
	}
}

// ─── Tests ──────────────────────────────────────────────────────────────────

func TestExecutor_EmptyChain(t *testing.T) {
	for name, c := range map[string]Chain{"nil": nil, "empty": {}} {
		t.Run(name, func(t *testing.T) {
			bus := newMockBus()
			exec := NewExecutor(bus)

			if err := exec.Run(context.Background(), c); err != nil {
				t.Fatalf("Run: %v", err)
			}
			if exec.State() != StateCompleted {
				t.Errorf("State = %v, want completed", exec.State())
			}
			if len(bus.getWrites()) != 0 || bus.readCount() != 0 {
				t.Error("empty chain touched the bus")
			}
		})
	}
}

func TestExecutor_WritesInOrder(t *testing.T) {
	bus := newMockBus()
	exec := NewExecutor(bus)

	c := Chain{
		{Target: "valve", Value: "open"},
		{Target: "pump", Value: true},
		{Target: "speed", Value: 3},
		{Target: "pump", Value: false},
	}
	if err := exec.Run(context.Background(), c); err != nil {
		t.Fatalf("Run: %v", err)
	}

	writes := bus.getWrites()
	if len(writes) != len(c) {
		t.Fatalf("writes = %d, want %d", len(writes), len(c))
	}
	for i, w := range writes {
		if w.Target != c[i].Target || w.Value != c[i].Value {
			t.Errorf("write[%d] = %s=%v, want %s=%v", i, w.Target, w.Value, c[i].Target, c[i].Value)
		}
	}
	if exec.Position() != len(c)-1 {
		t.Errorf("Position = %d, want %d", exec.Position(), len(c)-1)
	}
}

func TestExecutor_DelayWait(t *testing.T) {
	bus := newMockBus()
	exec := NewExecutor(bus)

	const delay = 80 * time.Millisecond
	c := Chain{
		{Target: "a", Value: 1},
		{Target: "b", Value: 2, WaitBefore: Delay(int(delay.Milliseconds()))},
	}
	if err := exec.Run(context.Background(), c); err != nil {
		t.Fatalf("Run: %v", err)
	}

	writes := bus.getWrites()
	if len(writes) != 2 {
		t.Fatalf("writes = %d, want 2", len(writes))
	}
	if gap := writes[1].At.Sub(writes[0].At); gap < delay {
		t.Errorf("gap between writes = %v, want >= %v", gap, delay)
	}
}

func TestExecutor_ZeroDelay(t *testing.T) {
	bus := newMockBus()
	exec := NewExecutor(bus)

	c := Chain{{Target: "a", Value: 1, WaitBefore: Delay(0)}}
	if err := exec.Run(context.Background(), c); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(bus.getWrites()) != 1 {
		t.Error("zero delay step not written")
	}
}

func TestExecutor_WaitOnFirstStep(t *testing.T) {
	bus := newMockBus()
	bus.set("door", "closed")
	exec := NewExecutor(bus)

	c := Chain{{Target: "lock", Value: true, WaitBefore: StateMatch("door", "CLOSED", 500)}}
	if err := exec.Run(context.Background(), c); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(bus.getWrites()) != 1 {
		t.Error("first-step wait was not honoured")
	}
}

func TestExecutor_StateWait_AlreadySatisfied(t *testing.T) {
	bus := newWatchingBus()
	bus.set("relay", true)
	exec := NewExecutor(bus)

	start := time.Now()
	if err := exec.Run(context.Background(), relaySpeedChain(1000)); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 200*time.Millisecond {
		t.Errorf("elapsed = %v, want ≈ 0", elapsed)
	}

	writes := bus.getWrites()
	if len(writes) != 2 {
		t.Fatalf("writes = %d, want 2", len(writes))
	}
	if writes[1].Target != "speed" || writes[1].Value != 2 {
		t.Errorf("write[1] = %s=%v, want speed=2", writes[1].Target, writes[1].Value)
	}
	if bus.watchCalls() != 0 {
		t.Errorf("watch calls = %d for an already satisfied wait, want 0", bus.watchCalls())
	}
}

func TestExecutor_StateWait_ChangeBeforeSubscribe(t *testing.T) {
	// The relay flips to true after the first read but before the watch is
	// taken; the second read must pick it up instead of waiting for a push.
	wb := newWatchingBus()
	wb.set("relay", false)
	bus := &flipOnReadBus{nonEchoWatchingBus: &nonEchoWatchingBus{watchingBus: wb}}
	exec := NewExecutor(bus)

	start := time.Now()
	if err := exec.Run(context.Background(), relaySpeedChain(5000)); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("elapsed = %v, want the second read to resolve the wait", elapsed)
	}
	if wb.activeWatchers() != 0 {
		t.Errorf("active watchers = %d after settlement, want 0", wb.activeWatchers())
	}
}

// flipOnReadBus sets relay=true right after the first read of relay.
type flipOnReadBus struct {
	*nonEchoWatchingBus
	flipped bool
}

func (f *flipOnReadBus) ReadCurrent(ctx context.Context, target string) (any, bool, error) {
	v, ok, err := f.nonEchoWatchingBus.ReadCurrent(ctx, target)
	if target == "relay" && !f.flipped {
		f.flipped = true
		f.set("relay", true)
	}
	return v, ok, err
}

func TestExecutor_StateWait_SatisfiedByPriorStep(t *testing.T) {
	// relay reads false before the run; step 0 writes true, so step 1's wait
	// sees the bus echo and resolves without any notification.
	bus := newMockBus()
	bus.set("relay", false)
	exec := NewExecutor(bus)

	if err := exec.Run(context.Background(), relaySpeedChain(1000)); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(bus.getWrites()) != 2 {
		t.Errorf("writes = %d, want 2", len(bus.getWrites()))
	}
}

func TestExecutor_StateWait_Timeout(t *testing.T) {
	bus := newMockBus()
	bus.set("relay", false)

	// A bus that does not echo writes: the relay never reports true.
	exec := NewExecutor(&nonEchoBus{mockBus: bus})

	start := time.Now()
	err := exec.Run(context.Background(), relaySpeedChain(1000))
	elapsed := time.Since(start)

	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("Run error = %v, want ErrTimeout", err)
	}
	var te *TimeoutError
	if !errors.As(err, &te) {
		t.Fatalf("error %T is not *TimeoutError", err)
	}
	if te.Target != "relay" || te.Expected != true || te.Index != 1 {
		t.Errorf("TimeoutError = %+v", te)
	}
	if te.Elapsed < 900*time.Millisecond {
		t.Errorf("Elapsed = %v, want ≈ 1s", te.Elapsed)
	}
	if elapsed < 900*time.Millisecond || elapsed > 3*time.Second {
		t.Errorf("run took %v, want ≈ 1s", elapsed)
	}

	writes := bus.getWrites()
	if len(writes) != 1 || writes[0].Target != "relay" {
		t.Errorf("writes = %+v, want only relay=true", writes)
	}
	if exec.State() != StateFailed {
		t.Errorf("State = %v, want failed", exec.State())
	}
}

// nonEchoBus records writes without updating the readable value.
type nonEchoBus struct {
	*mockBus
}

func (n *nonEchoBus) Write(_ context.Context, target string, value any) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.writes = append(n.writes, busWrite{Target: target, Value: value, At: time.Now()})
	return nil
}

func TestExecutor_StateWait_ResolvedByNotify(t *testing.T) {
	bus := &nonEchoBus{mockBus: newMockBus()}
	bus.set("relay", false)
	exec := NewExecutor(bus)

	done := exec.Start(context.Background(), relaySpeedChain(5000))
	waitUntilPending(t, exec)

	exec.Notify("other", true)   // wrong target
	exec.Notify("relay", "off")  // wrong value
	exec.Notify("relay", "TRUE") // string form of the expected bool

	if err := receive(t, done); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(bus.getWrites()) != 2 {
		t.Errorf("writes = %d, want 2", len(bus.getWrites()))
	}
}

func TestExecutor_StateWait_ResolvedByWatcher(t *testing.T) {
	wb := newWatchingBus()
	bus := &nonEchoWatchingBus{watchingBus: wb}
	wb.set("relay", false)
	exec := NewExecutor(bus)

	done := exec.Start(context.Background(), relaySpeedChain(5000))
	waitUntilPending(t, exec)

	deadline := time.Now().Add(2 * time.Second)
	for wb.activeWatchers() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("executor never subscribed")
		}
		time.Sleep(time.Millisecond)
	}
	wb.change("relay", 1)
	wb.change("relay", true)

	if err := receive(t, done); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if wb.activeWatchers() != 0 {
		t.Errorf("active watchers = %d after settlement, want 0", wb.activeWatchers())
	}
}

type nonEchoWatchingBus struct {
	*watchingBus
}

func (n *nonEchoWatchingBus) Write(_ context.Context, target string, value any) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.writes = append(n.writes, busWrite{Target: target, Value: value, At: time.Now()})
	return nil
}

func TestExecutor_AbortDuringDelay(t *testing.T) {
	bus := newMockBus()
	exec := NewExecutor(bus)

	c := Chain{
		{Target: "a", Value: 1},
		{Target: "b", Value: 2, WaitBefore: Delay(10000)},
		{Target: "c", Value: 3},
	}
	done := exec.Start(context.Background(), c)
	waitUntilPending(t, exec)

	start := time.Now()
	exec.Abort()
	err := receive(t, done)

	if !errors.Is(err, ErrAborted) {
		t.Fatalf("Run error = %v, want ErrAborted", err)
	}
	if time.Since(start) > time.Second {
		t.Error("abort did not interrupt the delay promptly")
	}
	if exec.State() != StateAborted {
		t.Errorf("State = %v, want aborted", exec.State())
	}
	if writes := bus.getWrites(); len(writes) != 1 {
		t.Errorf("writes = %d, want 1", len(writes))
	}
	if isWaiting(exec) {
		t.Error("wait still armed after abort")
	}
}

func TestExecutor_AbortDuringStateWait(t *testing.T) {
	wb := newWatchingBus()
	bus := &nonEchoWatchingBus{watchingBus: wb}
	wb.set("relay", false)
	exec := NewExecutor(bus)

	done := exec.Start(context.Background(), relaySpeedChain(10000))
	waitUntilPending(t, exec)

	exec.Abort()
	err := receive(t, done)
	if !errors.Is(err, ErrAborted) {
		t.Fatalf("Run error = %v, want ErrAborted", err)
	}

	// A late notification must not resurrect the settled wait.
	exec.Notify("relay", true)
	wb.change("relay", true)

	if exec.State() != StateAborted {
		t.Errorf("State = %v, want aborted", exec.State())
	}
	if writes := bus.getWrites(); len(writes) != 1 {
		t.Errorf("writes = %d, want 1", len(writes))
	}
	if wb.activeWatchers() != 0 {
		t.Errorf("active watchers = %d after abort, want 0", wb.activeWatchers())
	}
}

func TestExecutor_AbortBeforeRun(t *testing.T) {
	bus := newMockBus()
	exec := NewExecutor(bus)
	exec.Abort()

	err := exec.Run(context.Background(), relaySpeedChain(1000))
	if !errors.Is(err, ErrAborted) {
		t.Fatalf("Run error = %v, want ErrAborted", err)
	}
	if len(bus.getWrites()) != 0 || bus.readCount() != 0 {
		t.Error("aborted executor touched the bus")
	}
	if exec.State() != StateAborted {
		t.Errorf("State = %v, want aborted", exec.State())
	}
}

func TestExecutor_AbortAfterSettlement(t *testing.T) {
	bus := newMockBus()
	exec := NewExecutor(bus)

	if err := exec.Run(context.Background(), Chain{{Target: "a", Value: 1}}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	exec.Abort()
	exec.Abort()

	if exec.State() != StateCompleted {
		t.Errorf("State = %v after late abort, want completed", exec.State())
	}
}

func TestExecutor_AbortIsIdempotent(t *testing.T) {
	bus := newMockBus()
	exec := NewExecutor(bus)

	done := exec.Start(context.Background(), Chain{{Target: "a", Value: 1, WaitBefore: Delay(10000)}})
	waitUntilPending(t, exec)

	var wg sync.WaitGroup
	for j := 0; j < 10; j++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			exec.Abort()
		}()
	}
	wg.Wait()

	if err := receive(t, done); !errors.Is(err, ErrAborted) {
		t.Errorf("Run error = %v, want ErrAborted", err)
	}
}

func TestExecutor_ContextCancelled(t *testing.T) {
	bus := newMockBus()
	exec := NewExecutor(bus)
	ctx, cancel := context.WithCancel(context.Background())

	done := exec.Start(ctx, Chain{
		{Target: "a", Value: 1},
		{Target: "b", Value: 2, WaitBefore: Delay(10000)},
	})
	waitUntilPending(t, exec)
	cancel()

	err := receive(t, done)
	if !errors.Is(err, ErrAborted) {
		t.Fatalf("Run error = %v, want ErrAborted", err)
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Run error = %v, want to wrap context.Canceled", err)
	}
	if OutcomeOf(err) != StateAborted {
		t.Errorf("OutcomeOf = %v, want aborted", OutcomeOf(err))
	}
}

// cancellingBus cancels the run's context from inside Write, the way a
// shutdown lands while a publish is in flight.
type cancellingBus struct {
	*mockBus
	cancel func()
	abort  func()
}

func (c *cancellingBus) Write(ctx context.Context, _ string, _ any) error {
	if c.cancel != nil {
		c.cancel()
		return ctx.Err()
	}
	c.abort()
	return errors.New("publish interrupted")
}

func TestExecutor_InterruptedWriteIsAbort(t *testing.T) {
	t.Run("context cancelled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		exec := NewExecutor(&cancellingBus{mockBus: newMockBus(), cancel: cancel})

		err := exec.Run(ctx, Chain{{Target: "a", Value: 1}, {Target: "b", Value: 2}})
		if !errors.Is(err, ErrAborted) {
			t.Fatalf("Run error = %v, want ErrAborted", err)
		}
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run error = %v, want to wrap context.Canceled", err)
		}
		if errors.Is(err, ErrWriteFailed) {
			t.Errorf("Run error = %v, should not be a write failure", err)
		}
		if exec.State() != StateAborted {
			t.Errorf("State = %v, want aborted", exec.State())
		}
	})

	t.Run("abort during write", func(t *testing.T) {
		bus := &cancellingBus{mockBus: newMockBus()}
		exec := NewExecutor(bus)
		bus.abort = exec.Abort

		err := exec.Run(context.Background(), Chain{{Target: "a", Value: 1}})
		if !errors.Is(err, ErrAborted) {
			t.Fatalf("Run error = %v, want ErrAborted", err)
		}
		if exec.State() != StateAborted {
			t.Errorf("State = %v, want aborted", exec.State())
		}
	})
}

func TestExecutor_InterruptedReadIsAbort(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	bus := &cancellingReadBus{mockBus: newMockBus(), cancel: cancel}
	exec := NewExecutor(bus)

	err := exec.Run(ctx, relaySpeedChain(1000))
	if !errors.Is(err, ErrAborted) {
		t.Fatalf("Run error = %v, want ErrAborted", err)
	}
	if errors.Is(err, ErrReadFailed) {
		t.Errorf("Run error = %v, should not be a read failure", err)
	}
}

type cancellingReadBus struct {
	*mockBus
	cancel func()
}

func (c *cancellingReadBus) ReadCurrent(ctx context.Context, _ string) (any, bool, error) {
	c.cancel()
	return nil, false, ctx.Err()
}

func TestExecutor_WriteFailure(t *testing.T) {
	bus := newMockBus()
	busErr := errors.New("bus rejected write")
	bus.failOn[1] = busErr
	exec := NewExecutor(bus)

	c := Chain{
		{Target: "relay", Value: true},
		{Target: "speed", Value: 2},
		{Target: "led", Value: "green"},
	}
	err := exec.Run(context.Background(), c)

	if !errors.Is(err, ErrWriteFailed) {
		t.Fatalf("Run error = %v, want ErrWriteFailed", err)
	}
	if !errors.Is(err, busErr) {
		t.Errorf("Run error = %v, want to wrap bus error", err)
	}
	var we *WriteError
	if !errors.As(err, &we) {
		t.Fatalf("error %T is not *WriteError", err)
	}
	if we.Index != 1 || we.Target != "speed" {
		t.Errorf("WriteError = %+v, want index 1 target speed", we)
	}

	// No rollback of step 0, nothing after step 1.
	writes := bus.getWrites()
	if len(writes) != 1 || writes[0].Target != "relay" {
		t.Errorf("writes = %+v, want only relay", writes)
	}
	if exec.State() != StateFailed {
		t.Errorf("State = %v, want failed", exec.State())
	}
}

func TestExecutor_ReadFailure(t *testing.T) {
	bus := newMockBus()
	bus.readErr = errors.New("bus offline")
	exec := NewExecutor(bus)

	err := exec.Run(context.Background(), relaySpeedChain(1000))
	if !errors.Is(err, ErrReadFailed) {
		t.Fatalf("Run error = %v, want ErrReadFailed", err)
	}
	var re *ReadError
	if !errors.As(err, &re) || re.Index != 1 || re.Target != "relay" {
		t.Errorf("ReadError = %+v", re)
	}
	if OutcomeOf(err) != StateFailed {
		t.Errorf("OutcomeOf = %v, want failed", OutcomeOf(err))
	}
	if isWaiting(exec) {
		t.Error("wait still armed after read failure")
	}
}

func TestExecutor_MalformedConditionSkipped(t *testing.T) {
	bus := newMockBus()
	exec := NewExecutor(bus)

	c := Chain{
		{Target: "a", Value: 1, WaitBefore: &WaitCondition{Type: "sunset"}},
		{Target: "b", Value: 2, WaitBefore: &WaitCondition{}},
		{Target: "c", Value: 3, WaitBefore: &WaitCondition{Type: WaitState}},
	}
	if err := exec.Run(context.Background(), c); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(bus.getWrites()) != 3 {
		t.Errorf("writes = %d, want 3", len(bus.getWrites()))
	}
}

func TestExecutor_RunTwice(t *testing.T) {
	exec := NewExecutor(newMockBus())
	if err := exec.Run(context.Background(), nil); err != nil {
		t.Fatalf("first Run: %v", err)
	}
	if err := exec.Run(context.Background(), nil); !errors.Is(err, ErrExecutorUsed) {
		t.Errorf("second Run error = %v, want ErrExecutorUsed", err)
	}
}

func TestExecutor_DefaultStateTimeout(t *testing.T) {
	bus := &nonEchoBus{mockBus: newMockBus()}
	exec := NewExecutor(bus, WithDefaultStateTimeout(50*time.Millisecond))

	err := exec.Run(context.Background(), Chain{
		{Target: "b", Value: 1, WaitBefore: &WaitCondition{Type: WaitState, Target: "a", Expected: "on"}},
	})
	var te *TimeoutError
	if !errors.As(err, &te) {
		t.Fatalf("Run error = %v, want *TimeoutError", err)
	}
	if te.Timeout != 50*time.Millisecond {
		t.Errorf("Timeout = %v, want 50ms", te.Timeout)
	}
}

func TestExecutor_CallerMutationDoesNotAffectRun(t *testing.T) {
	bus := newMockBus()
	exec := NewExecutor(bus)

	c := Chain{
		{Target: "a", Value: 1, WaitBefore: Delay(30)},
	}
	done := exec.Start(context.Background(), c)
	waitUntilPending(t, exec)
	c[0].Target = "mutated"

	if err := receive(t, done); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if writes := bus.getWrites(); writes[0].Target != "a" {
		t.Errorf("write target = %q, want %q", writes[0].Target, "a")
	}
}

// TestExecutor_AbortRacesNotify runs abort and a matching notification
// concurrently. Whichever wins, the run settles exactly once and its
// outcome agrees with the writes performed.
func TestExecutor_AbortRacesNotify(t *testing.T) {
	for i := 0; i < 50; i++ {
		bus := &nonEchoBus{mockBus: newMockBus()}
		bus.set("relay", false)
		exec := NewExecutor(bus)

		done := exec.Start(context.Background(), relaySpeedChain(5000))
		waitUntilPending(t, exec)

		var wg sync.WaitGroup
		wg.Add(2)
		go func() { defer wg.Done(); exec.Abort() }()
		go func() { defer wg.Done(); exec.Notify("relay", true) }()
		wg.Wait()

		err := receive(t, done)
		writes := len(bus.getWrites())
		switch {
		case err == nil:
			if writes != 2 {
				t.Fatalf("iteration %d: completed with %d writes", i, writes)
			}
		case errors.Is(err, ErrAborted):
			if writes != 1 {
				t.Fatalf("iteration %d: aborted with %d writes", i, writes)
			}
		default:
			t.Fatalf("iteration %d: unexpected error %v", i, err)
		}
	}
}

func TestOutcomeOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want State
	}{
		{"nil", nil, StateCompleted},
		{"aborted", abortedAt(2, nil), StateAborted},
		{"timeout", &TimeoutError{Target: "x"}, StateFailed},
		{"write", &WriteError{Err: errors.New("x")}, StateFailed},
		{"other", errors.New("boom"), StateFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := OutcomeOf(tt.err); got != tt.want {
				t.Errorf("OutcomeOf() = %v, want %v", got, tt.want)
			}
		})
	}
}

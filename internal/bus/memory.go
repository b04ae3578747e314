package bus

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// WriteRecord is one entry in Memory's write log.
type WriteRecord struct {
	Target string
	Value  any
	At     time.Time
}

// Memory is an in-process bus. Writes update the stored value and, with
// echo enabled (the default), are reported back as state changes the way a
// well-behaved actuator would.
type Memory struct {
	*fanout

	mu     sync.Mutex
	values map[string]any
	writes []WriteRecord
	failOn map[string]error
	holds  map[string]chan struct{}
	held   map[string]int // writes blocked by Hold, per target
	echo   bool
}

// NewMemory returns an empty echoing bus.
func NewMemory() *Memory {
	return &Memory{
		fanout: newFanout(),
		values: make(map[string]any),
		failOn: make(map[string]error),
		holds:  make(map[string]chan struct{}),
		held:   make(map[string]int),
		echo:   true,
	}
}

// Write records value for target. It fails with the error registered by
// FailOn, if any.
func (m *Memory) Write(ctx context.Context, target string, value any) error {
	if target == "" {
		return fmt.Errorf("%w: empty target", ErrInvalidTarget)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	hold := m.holds[target]
	if hold != nil {
		m.held[target]++
	}
	m.mu.Unlock()
	if hold != nil {
		var err error
		select {
		case <-hold:
		case <-ctx.Done():
			err = ctx.Err()
		}
		m.mu.Lock()
		m.held[target]--
		m.mu.Unlock()
		if err != nil {
			return err
		}
	}

	m.mu.Lock()
	if err, ok := m.failOn[target]; ok {
		m.mu.Unlock()
		return err
	}
	m.writes = append(m.writes, WriteRecord{Target: target, Value: value, At: time.Now()})
	echo := m.echo
	if echo {
		m.values[target] = value
	}
	m.mu.Unlock()

	if echo {
		m.publish(target, value)
	}
	return nil
}

// ReadCurrent returns the stored value of target.
func (m *Memory) ReadCurrent(ctx context.Context, target string) (any, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.values[target]
	return v, ok, nil
}

// Watch calls fn for every later change of target until cancel is called.
func (m *Memory) Watch(target string, fn func(value any)) (cancel func()) {
	return m.watch(target, fn)
}

// OnChange registers a handler for every change on the bus.
func (m *Memory) OnChange(h ChangeHandler) {
	m.onChange(h)
}

// Watchers returns the number of active watches on target.
func (m *Memory) Watchers(target string) int {
	return m.watchersOf(target)
}

// Set simulates an external change of target.
func (m *Memory) Set(target string, value any) {
	m.mu.Lock()
	m.values[target] = value
	m.mu.Unlock()

	m.publish(target, value)
}

// Inject is Set; it lets Memory stand in wherever an MQTT bus is injected into.
func (m *Memory) Inject(target string, value any) {
	m.Set(target, value)
}

// FailOn makes every later write to target fail with err. A nil err clears it.
func (m *Memory) FailOn(target string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.failOn, target)
		return
	}
	m.failOn[target] = err
}

// Hold makes later writes to target block until release is called or the
// write's context is done, like an actuator that never acknowledges.
func (m *Memory) Hold(target string) (release func()) {
	ch := make(chan struct{})
	m.mu.Lock()
	m.holds[target] = ch
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			if m.holds[target] == ch {
				delete(m.holds, target)
			}
			m.mu.Unlock()
			close(ch)
		})
	}
}

// Held returns the number of writes to target currently blocked by Hold.
func (m *Memory) Held(target string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.held[target]
}

// SetEcho controls whether writes are reported back as state changes.
func (m *Memory) SetEcho(echo bool) {
	m.mu.Lock()
	m.echo = echo
	m.mu.Unlock()
}

// Writes returns a copy of the write log.
func (m *Memory) Writes() []WriteRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]WriteRecord, len(m.writes))
	copy(out, m.writes)
	return out
}

// Snapshot returns a copy of the stored values.
func (m *Memory) Snapshot() map[string]any {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]any, len(m.values))
	for k, v := range m.values {
		out[k] = v
	}
	return out
}

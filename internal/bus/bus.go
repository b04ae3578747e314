package bus

import (
	"errors"
	"sync"
)

var (
	// ErrInvalidTarget is returned for a datapoint address that cannot be
	// written (empty, or containing MQTT wildcards).
	ErrInvalidTarget = errors.New("bus: invalid target")

	// ErrInvalidPayload is returned when a state message cannot be decoded
	// to a bool, number or string.
	ErrInvalidPayload = errors.New("bus: invalid state payload")

	// ErrNotStarted is returned by MQTT.Write before Start has subscribed to
	// state topics.
	ErrNotStarted = errors.New("bus: not started")
)

// Logger defines the logging interface used by the buses.
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

// ChangeHandler receives every datapoint value the bus observes.
type ChangeHandler func(target string, value any)

// fanout holds per-target watchers and global change handlers.
type fanout struct {
	mu       sync.RWMutex
	nextID   uint64
	watchers map[string]map[uint64]func(any)
	handlers []ChangeHandler
}

func newFanout() *fanout {
	return &fanout{watchers: make(map[string]map[uint64]func(any))}
}

func (f *fanout) watch(target string, fn func(any)) func() {
	f.mu.Lock()
	id := f.nextID
	f.nextID++
	set, ok := f.watchers[target]
	if !ok {
		set = make(map[uint64]func(any))
		f.watchers[target] = set
	}
	set[id] = fn
	f.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			f.mu.Lock()
			defer f.mu.Unlock()
			delete(f.watchers[target], id)
			if len(f.watchers[target]) == 0 {
				delete(f.watchers, target)
			}
		})
	}
}

func (f *fanout) onChange(h ChangeHandler) {
	if h == nil {
		return
	}
	f.mu.Lock()
	f.handlers = append(f.handlers, h)
	f.mu.Unlock()
}

// publish delivers value to watchers of target, then to change handlers.
// The callbacks are copied out so none runs under the lock.
func (f *fanout) publish(target string, value any) {
	f.mu.RLock()
	fns := make([]func(any), 0, len(f.watchers[target]))
	for _, fn := range f.watchers[target] {
		fns = append(fns, fn)
	}
	handlers := make([]ChangeHandler, len(f.handlers))
	copy(handlers, f.handlers)
	f.mu.RUnlock()

	for _, fn := range fns {
		fn(value)
	}
	for _, h := range handlers {
		h(target, value)
	}
}

func (f *fanout) watcherCount() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	n := 0
	for _, set := range f.watchers {
		n += len(set)
	}
	return n
}

func (f *fanout) watchersOf(target string) int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.watchers[target])
}

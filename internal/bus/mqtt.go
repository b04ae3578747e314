package bus

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/gray-logic-vdev/internal/infrastructure/mqtt"
)

// Transport is the MQTT surface the bus needs. *mqtt.Client satisfies it.
type Transport interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
}

// DefaultSource labels commands published by this service.
const DefaultSource = "graylogic-vdev"

// commandQoS is used for datapoint writes: at-least-once, never retained,
// so a reconnecting bridge does not replay a stale command.
const commandQoS byte = 1

// MQTTOption configures an MQTT bus.
type MQTTOption func(*MQTT)

// WithLogger sets the bus logger.
func WithLogger(l Logger) MQTTOption {
	return func(b *MQTT) {
		if l != nil {
			b.logger = l
		}
	}
}

// WithSource sets the "source" field of published commands.
func WithSource(source string) MQTTOption {
	return func(b *MQTT) { b.source = source }
}

// WithStateQoS sets the QoS of the state subscription.
func WithStateQoS(qos byte) MQTTOption {
	return func(b *MQTT) { b.stateQoS = qos }
}

// MQTT is a chain.Bus and chain.Watcher backed by an MQTT broker.
type MQTT struct {
	transport Transport
	logger    Logger
	source    string
	stateQoS  byte
	now       func() time.Time
	newID     func() string

	*fanout

	lifecycle sync.Mutex // serialises Start and Stop
	started   atomic.Bool

	mu    sync.RWMutex
	cache map[string]any
}

// NewMQTT creates a bus over transport. Call Start before writing.
func NewMQTT(transport Transport, opts ...MQTTOption) *MQTT {
	b := &MQTT{
		transport: transport,
		logger:    noopLogger{},
		source:    DefaultSource,
		stateQoS:  1,
		now:       time.Now,
		newID:     uuid.NewString,
		fanout:    newFanout(),
		cache:     make(map[string]any),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Start subscribes to every datapoint state topic. Retained state messages
// delivered on subscribe seed the cache.
func (b *MQTT) Start() error {
	b.lifecycle.Lock()
	defer b.lifecycle.Unlock()
	if b.started.Load() {
		return nil
	}
	if err := b.transport.Subscribe(mqtt.Topics{}.AllStates(), b.stateQoS, b.handleState); err != nil {
		return fmt.Errorf("subscribing to state topics: %w", err)
	}
	b.started.Store(true)
	b.logger.Info("state bus started", "topic", mqtt.Topics{}.AllStates())
	return nil
}

// Stop unsubscribes from state topics. The cache is kept.
func (b *MQTT) Stop() error {
	b.lifecycle.Lock()
	defer b.lifecycle.Unlock()
	if !b.started.Load() {
		return nil
	}
	b.started.Store(false)
	if err := b.transport.Unsubscribe(mqtt.Topics{}.AllStates()); err != nil {
		return fmt.Errorf("unsubscribing from state topics: %w", err)
	}
	return nil
}

// Write publishes a command for target. It returns once the broker has
// accepted the message; the datapoint's own state report arrives later.
func (b *MQTT) Write(ctx context.Context, target string, value any) error {
	if err := mqtt.ValidateTarget(target); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidTarget, err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if !b.started.Load() {
		return ErrNotStarted
	}

	payload, err := encodeCommand(b.newID(), target, value, b.source, b.now())
	if err != nil {
		return err
	}
	if err := b.transport.Publish(mqtt.Topics{}.Command(target), payload, commandQoS, false); err != nil {
		return fmt.Errorf("publishing command for %s: %w", target, err)
	}

	b.logger.Debug("command published", "target", target, "value", value)
	return nil
}

// ReadCurrent returns the last value reported on target's state topic.
func (b *MQTT) ReadCurrent(ctx context.Context, target string) (any, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	v, ok := b.cache[target]
	return v, ok, nil
}

// Watch calls fn for every later state report of target until cancel is called.
func (b *MQTT) Watch(target string, fn func(value any)) (cancel func()) {
	return b.watch(target, fn)
}

// OnChange registers a handler for every state report on the bus.
func (b *MQTT) OnChange(h ChangeHandler) {
	b.onChange(h)
}

// Inject feeds a value into the bus as though it had arrived on target's
// state topic. Used by the HTTP datapoint bridge.
func (b *MQTT) Inject(target string, value any) {
	b.observe(target, value)
}

// Snapshot returns a copy of the state cache.
func (b *MQTT) Snapshot() map[string]any {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make(map[string]any, len(b.cache))
	for k, v := range b.cache {
		out[k] = v
	}
	return out
}

func (b *MQTT) handleState(topic string, payload []byte) error {
	target, ok := mqtt.Topics{}.StateTarget(topic)
	if !ok {
		return nil
	}
	value, err := decodeState(payload)
	if err != nil {
		return fmt.Errorf("state for %s: %w", target, err)
	}
	b.observe(target, value)
	return nil
}

func (b *MQTT) observe(target string, value any) {
	b.mu.Lock()
	b.cache[target] = value
	b.mu.Unlock()

	b.publish(target, value)
}

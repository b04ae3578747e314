package automation

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-vdev/internal/chain"
	"github.com/nerrad567/gray-logic-vdev/internal/infrastructure/mqtt"
)

// WSHub is the interface for broadcasting WebSocket events.
type WSHub interface {
	// Broadcast sends an event to all clients subscribed to the given channel.
	Broadcast(channel string, payload any)
}

// EventPublisher mirrors run lifecycle events onto MQTT.
type EventPublisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

// Telemetry records settled runs in the time-series store.
type Telemetry interface {
	WriteChainRun(deviceID, transition, outcome string, steps int, durationMS int64)
}

// WebSocket channels and MQTT event names.
const (
	EventChainStarted = "chain.started"
	EventChainSettled = "chain.settled"
)

// recordTimeout bounds run-log writes made after the triggering request has gone.
const recordTimeout = 5 * time.Second

// ControllerOption configures a Controller.
type ControllerOption func(*Controller)

// WithHub broadcasts run events to WebSocket clients.
func WithHub(hub WSHub) ControllerOption {
	return func(c *Controller) { c.hub = hub }
}

// WithEventPublisher publishes run events under graylogic/core/vdev/{id}/{event}.
func WithEventPublisher(p EventPublisher) ControllerOption {
	return func(c *Controller) { c.events = p }
}

// WithTelemetry records every settled run.
func WithTelemetry(t Telemetry) ControllerOption {
	return func(c *Controller) { c.telemetry = t }
}

// WithMetrics exports run counters and durations.
func WithMetrics(m *Metrics) ControllerOption {
	return func(c *Controller) { c.metrics = m }
}

// WithControllerLogger sets the controller's logger.
func WithControllerLogger(l Logger) ControllerOption {
	return func(c *Controller) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithStateTimeout sets the timeout for state waits that leave timeout_ms unset.
func WithStateTimeout(d time.Duration) ControllerOption {
	return func(c *Controller) { c.stateTimeout = d }
}

// Controller triggers device transitions and tracks the resulting runs.
//
// At most one run is in flight per device: triggering a transition aborts
// the device's previous run, and the new chain's first write happens only
// after the previous run has settled.
//
// Thread Safety: all methods are safe for concurrent use.
type Controller struct {
	registry     *Registry
	bus          chain.Bus
	repo         Repository
	hub          WSHub
	events       EventPublisher
	telemetry    Telemetry
	metrics      *Metrics
	logger       Logger
	stateTimeout time.Duration

	// baseCtx outlives the request that triggered a run; Shutdown cancels it.
	baseCtx context.Context
	cancel  context.CancelFunc

	mu      sync.Mutex
	runs    map[string]*Run // in-flight runs by device ID
	closing bool
	wg      sync.WaitGroup
}

// NewController creates a controller that runs chains against bus and logs
// runs to repo.
func NewController(registry *Registry, bus chain.Bus, repo Repository, opts ...ControllerOption) *Controller {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		registry: registry,
		bus:      bus,
		repo:     repo,
		logger:   noopLogger{},
		baseCtx:  ctx,
		cancel:   cancel,
		runs:     make(map[string]*Run),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run is a handle on one triggered transition.
type Run struct {
	ID         string
	DeviceID   string
	DeviceName string
	Transition string
	StartedAt  time.Time

	steps    int
	exec     *chain.Executor
	previous *Run

	done   chan struct{}
	err    error
	record RunRecord
}

// RunInfo is a point-in-time view of an in-flight run.
type RunInfo struct {
	RunID      string    `json:"run_id"`
	DeviceID   string    `json:"device_id"`
	DeviceName string    `json:"device_name"`
	Transition string    `json:"transition"`
	State      string    `json:"state"`
	Position   int       `json:"position"`
	StepsTotal int       `json:"steps_total"`
	StartedAt  time.Time `json:"started_at"`
}

// Wait blocks until the run settles or ctx is done. It returns the chain's
// result: nil on completion, an error matching chain.ErrAborted when the run
// was aborted or preempted, or the failure.
func (r *Run) Wait(ctx context.Context) error {
	select {
	case <-r.done:
		return r.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done is closed when the run settles.
func (r *Run) Done() <-chan struct{} {
	return r.done
}

// Record returns the settled run record. It is only complete once Done is closed.
func (r *Run) Record() RunRecord {
	<-r.done
	return r.record
}

// Info returns the run's current state.
func (r *Run) Info() RunInfo {
	return RunInfo{
		RunID:      r.ID,
		DeviceID:   r.DeviceID,
		DeviceName: r.DeviceName,
		Transition: r.Transition,
		State:      r.exec.State().String(),
		Position:   r.exec.Position(),
		StepsTotal: r.steps,
		StartedAt:  r.StartedAt,
	}
}

// Trigger starts the chain for a device transition and returns immediately.
//
// Parameters:
//   - deviceID: device ID or slug
//   - transition: name of a transition defined on the device
//   - triggerType: how the run was triggered (manual, api, event, schedule)
//   - triggerSource: where the trigger originated (may be empty)
//
// Returns:
//   - *Run: handle for waiting on or inspecting the run
//   - error: ErrDeviceNotFound, ErrDeviceDisabled, ErrTransitionNotFound
//     or ErrShuttingDown
func (c *Controller) Trigger(ctx context.Context, deviceID, transition, triggerType, triggerSource string) (*Run, error) {
	dev, err := c.registry.Resolve(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	if !dev.Enabled {
		return nil, ErrDeviceDisabled
	}
	steps, ok := dev.Transitions[transition]
	if !ok {
		return nil, ErrTransitionNotFound
	}

	run := &Run{
		ID:         GenerateID(),
		DeviceID:   dev.ID,
		DeviceName: dev.Name,
		Transition: transition,
		StartedAt:  time.Now().UTC(),
		steps:      len(steps),
		done:       make(chan struct{}),
	}
	execOpts := []chain.Option{
		chain.WithLogger(c.logger),
		chain.WithName(dev.Slug + "/" + transition),
	}
	if c.stateTimeout > 0 {
		execOpts = append(execOpts, chain.WithDefaultStateTimeout(c.stateTimeout))
	}
	run.exec = chain.NewExecutor(c.bus, execOpts...)

	c.mu.Lock()
	if c.closing {
		c.mu.Unlock()
		return nil, ErrShuttingDown
	}
	run.previous = c.runs[dev.ID]
	c.runs[dev.ID] = run
	c.wg.Add(1)
	c.mu.Unlock()

	if prev := run.previous; prev != nil {
		prev.exec.Abort()
		c.metrics.preemptedRun()
		c.logger.Info("chain preempted",
			"device_id", dev.ID,
			"run_id", prev.ID,
			"transition", prev.Transition,
			"by", transition,
		)
	}

	run.record = RunRecord{
		ID:          run.ID,
		DeviceID:    dev.ID,
		Transition:  transition,
		TriggerType: triggerType,
		Status:      RunRunning,
		StepsTotal:  len(steps),
		StartedAt:   run.StartedAt,
	}
	if triggerSource != "" {
		run.record.TriggerSource = &triggerSource
	}

	recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	if createErr := c.repo.CreateRun(recordCtx, &run.record); createErr != nil {
		// Run anyway; the device matters more than its log.
		c.logger.Error("failed to create run record", "run_id", run.ID, "error", createErr)
	}
	cancel()

	c.metrics.started()
	c.logger.Info("chain started",
		"device_id", dev.ID,
		"device", dev.Name,
		"transition", transition,
		"run_id", run.ID,
		"steps", len(steps),
	)
	c.announce(EventChainStarted, run, map[string]any{
		"run_id":      run.ID,
		"device_id":   dev.ID,
		"device_name": dev.Name,
		"transition":  transition,
		"steps":       len(steps),
	})

	go c.execute(run, steps)
	return run, nil
}

func (c *Controller) execute(run *Run, steps chain.Chain) {
	defer c.wg.Done()

	if prev := run.previous; prev != nil {
		<-prev.done
		run.previous = nil
	}

	err := run.exec.Run(c.baseCtx, steps)
	c.settle(run, err)
}

func (c *Controller) settle(run *Run, err error) {
	completed := time.Now().UTC()
	duration := completed.Sub(run.StartedAt)
	durationMS := duration.Milliseconds()

	rec := &run.record
	rec.Status = statusOf(chain.OutcomeOf(err))
	rec.CompletedAt = &completed
	rec.DurationMS = &durationMS
	if err != nil {
		pos := max(run.exec.Position(), 0)
		rec.FailedStep = &pos
		rec.ErrorCode = errorCode(err)
		rec.ErrorMessage = err.Error()
	}

	ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
	if updateErr := c.repo.UpdateRun(ctx, rec); updateErr != nil {
		c.logger.Error("failed to update run record", "run_id", run.ID, "error", updateErr)
	}
	cancel()

	if c.telemetry != nil {
		c.telemetry.WriteChainRun(run.DeviceID, run.Transition, string(rec.Status), run.steps, durationMS)
	}
	c.metrics.settled(rec.Status, duration)

	logArgs := []any{
		"device_id", run.DeviceID,
		"transition", run.Transition,
		"run_id", run.ID,
		"status", rec.Status,
		"duration_ms", durationMS,
	}
	switch rec.Status {
	case RunFailed:
		logArgs = append(logArgs, "step", *rec.FailedStep, "error", err)
		if target := failedTarget(err); target != "" {
			logArgs = append(logArgs, "target", target)
		}
		c.logger.Error("chain failed", logArgs...)
	default:
		c.logger.Info("chain settled", logArgs...)
	}

	payload := map[string]any{
		"run_id":      run.ID,
		"device_id":   run.DeviceID,
		"device_name": run.DeviceName,
		"transition":  run.Transition,
		"status":      string(rec.Status),
		"duration_ms": durationMS,
	}
	if err != nil {
		payload["failed_step"] = *rec.FailedStep
		payload["error_code"] = rec.ErrorCode
		payload["error"] = rec.ErrorMessage
	}
	c.announce(EventChainSettled, run, payload)

	c.mu.Lock()
	if c.runs[run.DeviceID] == run {
		delete(c.runs, run.DeviceID)
	}
	c.mu.Unlock()

	run.err = err
	close(run.done)
}

// announce sends a lifecycle event to the WebSocket hub and, when configured, MQTT.
func (c *Controller) announce(event string, run *Run, payload map[string]any) {
	if c.hub != nil {
		c.hub.Broadcast(event, payload)
	}
	if c.events == nil {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		c.logger.Warn("failed to encode run event", "event", event, "error", err)
		return
	}
	suffix := "started"
	if event == EventChainSettled {
		suffix = "settled"
	}
	if err := c.events.Publish(mqtt.Topics{}.ChainEvent(run.DeviceID, suffix), data, 1, false); err != nil {
		c.logger.Debug("run event not published", "event", event, "error", err)
	}
}

// Abort cancels the device's in-flight run. It reports whether there was one.
func (c *Controller) Abort(deviceID string) bool {
	c.mu.Lock()
	run, ok := c.runs[deviceID]
	c.mu.Unlock()

	if !ok {
		return false
	}
	run.exec.Abort()
	c.logger.Info("chain abort requested", "device_id", deviceID, "run_id", run.ID)
	return true
}

// Notify delivers a datapoint change to every in-flight run.
func (c *Controller) Notify(target string, value any) {
	c.mu.Lock()
	execs := make([]*chain.Executor, 0, len(c.runs))
	for _, run := range c.runs {
		execs = append(execs, run.exec)
	}
	c.mu.Unlock()

	for _, exec := range execs {
		exec.Notify(target, value)
	}
}

// ActiveRun returns the device's in-flight run, if any.
func (c *Controller) ActiveRun(deviceID string) (*Run, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	run, ok := c.runs[deviceID]
	return run, ok
}

// Active lists in-flight runs, oldest first.
func (c *Controller) Active() []RunInfo {
	c.mu.Lock()
	runs := make([]*Run, 0, len(c.runs))
	for _, run := range c.runs {
		runs = append(runs, run)
	}
	c.mu.Unlock()

	infos := make([]RunInfo, 0, len(runs))
	for _, run := range runs {
		infos = append(infos, run.Info())
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].StartedAt.Before(infos[j].StartedAt)
	})
	return infos
}

// Shutdown refuses new triggers, aborts every in-flight run and waits for
// them to settle or for ctx to expire.
func (c *Controller) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	c.closing = true
	runs := make([]*Run, 0, len(c.runs))
	for _, run := range c.runs {
		runs = append(runs, run)
	}
	c.mu.Unlock()

	for _, run := range runs {
		run.exec.Abort()
	}
	c.cancel()

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		c.logger.Info("controller stopped", "aborted", len(runs))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// errorCode classifies a run error for the run log.
// failedTarget returns the datapoint a failed run was waiting on or writing.
func failedTarget(err error) string {
	var (
		timeoutErr *chain.TimeoutError
		writeErr   *chain.WriteError
		readErr    *chain.ReadError
	)
	switch {
	case errors.As(err, &timeoutErr):
		return timeoutErr.Target
	case errors.As(err, &writeErr):
		return writeErr.Target
	case errors.As(err, &readErr):
		return readErr.Target
	default:
		return ""
	}
}

func errorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, chain.ErrAborted):
		return CodeAborted
	case errors.Is(err, chain.ErrTimeout):
		return CodeStateTimeout
	case errors.Is(err, chain.ErrWriteFailed):
		return CodeWriteFailed
	case errors.Is(err, chain.ErrReadFailed):
		return CodeReadFailed
	default:
		return CodeInternal
	}
}

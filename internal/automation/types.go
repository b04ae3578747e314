package automation

import (
	"sort"
	"time"

	"github.com/nerrad567/gray-logic-vdev/internal/chain"
)

// Device is a virtual device: a named set of action chains, one per
// logical transition ("on", "off", "purge", ...). Triggering a transition
// runs its chain against the state bus.
type Device struct {
	// Identity
	ID   string `json:"id" yaml:"id,omitempty"`
	Name string `json:"name" yaml:"name"`
	Slug string `json:"slug" yaml:"slug,omitempty"`

	// Description (optional)
	Description *string `json:"description,omitempty" yaml:"description,omitempty"`

	Enabled bool `json:"enabled" yaml:"enabled"`

	// Transitions maps a transition name to the chain that performs it.
	Transitions map[string]chain.Chain `json:"transitions" yaml:"transitions"`

	// Timestamps
	CreatedAt time.Time `json:"created_at" yaml:"-"`
	UpdatedAt time.Time `json:"updated_at" yaml:"-"`
}

// TransitionNames returns the device's transition names in sorted order.
func (d *Device) TransitionNames() []string {
	names := make([]string, 0, len(d.Transitions))
	for name := range d.Transitions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Targets returns every datapoint the device's transitions write, sorted.
func (d *Device) Targets() []string {
	seen := make(map[string]struct{})
	var targets []string
	for _, c := range d.Transitions {
		for _, target := range c.Targets() {
			if _, ok := seen[target]; ok {
				continue
			}
			seen[target] = struct{}{}
			targets = append(targets, target)
		}
	}
	sort.Strings(targets)
	return targets
}

// DeepCopy creates a complete independent copy of the Device.
// Chains are cloned so modifications to the copy do not reach the cache.
func (d *Device) DeepCopy() *Device {
	if d == nil {
		return nil
	}

	cpy := *d
	cpy.Description = cloneStringPtr(d.Description)

	if d.Transitions != nil {
		cpy.Transitions = make(map[string]chain.Chain, len(d.Transitions))
		for name, c := range d.Transitions {
			cpy.Transitions[name] = c.Clone()
		}
	}
	return &cpy
}

// RunRecord is the persisted log entry of one chain run.
type RunRecord struct {
	ID            string     `json:"id"`
	DeviceID      string     `json:"device_id"`
	Transition    string     `json:"transition"`
	TriggerType   string     `json:"trigger_type"`             // manual, api, event, schedule
	TriggerSource *string    `json:"trigger_source,omitempty"` // api, wall_panel, mqtt, ...
	Status        RunStatus  `json:"status"`
	StepsTotal    int        `json:"steps_total"`
	FailedStep    *int       `json:"failed_step,omitempty"`
	ErrorCode     string     `json:"error_code,omitempty"`
	ErrorMessage  string     `json:"error_message,omitempty"`
	StartedAt     time.Time  `json:"started_at"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
	DurationMS    *int64     `json:"duration_ms,omitempty"`
}

// RunStatus is the lifecycle status of a RunRecord.
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
	RunAborted   RunStatus = "aborted"
)

// statusOf maps a settled executor state to the persisted run status.
func statusOf(s chain.State) RunStatus {
	switch s {
	case chain.StateCompleted:
		return RunCompleted
	case chain.StateAborted:
		return RunAborted
	case chain.StateFailed:
		return RunFailed
	default:
		return RunRunning
	}
}

// Error codes recorded on failed and aborted runs.
const (
	CodeAborted      = "ABORTED"
	CodeStateTimeout = "STATE_TIMEOUT"
	CodeWriteFailed  = "WRITE_FAILED"
	CodeReadFailed   = "READ_FAILED"
	CodeInternal     = "INTERNAL_ERROR"
)

func cloneStringPtr(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

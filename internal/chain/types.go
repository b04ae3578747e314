package chain

// WaitType tags the variant of a WaitCondition.
type WaitType string

const (
	// WaitDelay pauses for a fixed duration.
	WaitDelay WaitType = "delay"

	// WaitState pauses until a datapoint reports the expected value.
	WaitState WaitType = "state"
)

// DefaultStateTimeoutMS is used when a state wait does not set TimeoutMS.
const DefaultStateTimeoutMS = 30000

// WaitCondition is a tagged union: Type selects which of the remaining
// fields are meaningful.
//
//	delay: DurationMS
//	state: Target, Expected, TimeoutMS
type WaitCondition struct {
	Type WaitType `json:"type" yaml:"type"`

	// Delay
	DurationMS int `json:"duration_ms,omitempty" yaml:"duration_ms,omitempty"`

	// State match
	Target    string `json:"target,omitempty" yaml:"target,omitempty"`
	Expected  any    `json:"expected,omitempty" yaml:"expected,omitempty"`
	TimeoutMS int    `json:"timeout_ms,omitempty" yaml:"timeout_ms,omitempty"`
}

// Delay returns a wait condition that pauses for ms milliseconds.
func Delay(ms int) *WaitCondition {
	return &WaitCondition{Type: WaitDelay, DurationMS: ms}
}

// StateMatch returns a wait condition that pauses until target reports
// expected, failing after timeoutMS (DefaultStateTimeoutMS when <= 0).
func StateMatch(target string, expected any, timeoutMS int) *WaitCondition {
	return &WaitCondition{Type: WaitState, Target: target, Expected: expected, TimeoutMS: timeoutMS}
}

// Step is one write in a chain, optionally preceded by a wait.
type Step struct {
	// Target is the opaque address of the datapoint to write.
	Target string `json:"target" yaml:"target"`

	// Value is written as-is: bool, number or string.
	Value any `json:"value" yaml:"value"`

	WaitBefore *WaitCondition `json:"wait_before,omitempty" yaml:"wait_before,omitempty"`
}

// Chain is an ordered list of steps. Insertion order is execution order.
type Chain []Step

// Clone returns an independent copy of the chain. Executors run a clone so
// that callers mutating their slice after Start cannot affect the run.
func (c Chain) Clone() Chain {
	if c == nil {
		return nil
	}
	cpy := make(Chain, len(c))
	for i, step := range c {
		cpy[i] = step
		if step.WaitBefore != nil {
			w := *step.WaitBefore
			cpy[i].WaitBefore = &w
		}
	}
	return cpy
}

// Targets returns the distinct datapoints written by the chain, in first-use order.
func (c Chain) Targets() []string {
	seen := make(map[string]struct{}, len(c))
	var targets []string
	for _, step := range c {
		if _, ok := seen[step.Target]; ok {
			continue
		}
		seen[step.Target] = struct{}{}
		targets = append(targets, step.Target)
	}
	return targets
}

package chain

import (
	"fmt"
	"strings"
)

// Validate checks a chain for structural problems before it is stored.
//
// Unlike Run, which logs and skips a wait condition of unknown type,
// Validate rejects it with ErrMalformedCondition so that bad definitions
// are caught when they are saved rather than when they execute.
func Validate(c Chain) error {
	if len(c) == 0 {
		return fmt.Errorf("%w: no steps", ErrInvalidChain)
	}
	for i, step := range c {
		if err := ValidateStep(step); err != nil {
			return fmt.Errorf("step[%d]: %w", i, err)
		}
	}
	return nil
}

// ValidateStep checks a single step and its wait condition.
func ValidateStep(step Step) error {
	if err := validateTarget(step.Target); err != nil {
		return err
	}
	if !isScalar(step.Value) {
		return fmt.Errorf("%w: value must be a bool, number or string", ErrInvalidChain)
	}
	if step.WaitBefore != nil {
		return ValidateWait(*step.WaitBefore)
	}
	return nil
}

// ValidateWait checks that exactly one known variant is populated.
func ValidateWait(w WaitCondition) error {
	switch w.Type {
	case WaitDelay:
		if w.DurationMS < 0 {
			return fmt.Errorf("%w: duration_ms must not be negative", ErrInvalidChain)
		}
		if w.Target != "" || w.Expected != nil {
			return fmt.Errorf("%w: delay wait must not set target or expected", ErrMalformedCondition)
		}
	case WaitState:
		if err := validateTarget(w.Target); err != nil {
			return err
		}
		if !isScalar(w.Expected) {
			return fmt.Errorf("%w: expected must be a bool, number or string", ErrMalformedCondition)
		}
		if w.TimeoutMS < 0 {
			return fmt.Errorf("%w: timeout_ms must not be negative", ErrInvalidChain)
		}
		if w.DurationMS != 0 {
			return fmt.Errorf("%w: state wait must not set duration_ms", ErrMalformedCondition)
		}
	default:
		return fmt.Errorf("%w: unknown type %q", ErrMalformedCondition, w.Type)
	}
	return nil
}

func validateTarget(target string) error {
	if strings.TrimSpace(target) == "" {
		return fmt.Errorf("%w: target is required", ErrInvalidChain)
	}
	return nil
}

package automation

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/nerrad567/gray-logic-vdev/internal/chain"
)

// Validation constants.
const (
	maxNameLength     = 100
	maxSlugLength     = 50
	maxDescriptionLen = 500
	maxTransitions    = 32
	slugPattern       = `^[a-z0-9]+(?:-[a-z0-9]+)*$`
)

var slugRegex = regexp.MustCompile(slugPattern)

// Limits bounds the chains a registry accepts. Zero disables a limit.
type Limits struct {
	MaxSteps   int
	MaxDelayMS int
}

// ValidateDevice performs comprehensive validation on a device.
// Returns an error describing the first validation failure found.
//
// Every chain is checked with chain.Validate, so a wait condition of
// unknown type is rejected here even though the executor would only skip it.
func ValidateDevice(d *Device, limits Limits) error {
	if d == nil {
		return ErrInvalidDevice
	}

	if err := ValidateName(d.Name); err != nil {
		return err
	}

	// Empty slug will be generated
	if d.Slug != "" {
		if err := ValidateSlug(d.Slug); err != nil {
			return err
		}
	}

	if d.Description != nil && len(*d.Description) > maxDescriptionLen {
		return fmt.Errorf("%w: description exceeds %d characters", ErrInvalidDevice, maxDescriptionLen)
	}

	if len(d.Transitions) == 0 {
		return ErrNoTransitions
	}
	if len(d.Transitions) > maxTransitions {
		return fmt.Errorf("%w: exceeds maximum of %d transitions", ErrInvalidTransition, maxTransitions)
	}

	// Sorted so the reported failure is deterministic.
	for _, name := range d.TransitionNames() {
		if err := ValidateTransition(name, d.Transitions[name], limits); err != nil {
			return fmt.Errorf("transition %q: %w", name, err)
		}
	}
	return nil
}

// ValidateName checks if a device name is valid.
func ValidateName(name string) error {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return fmt.Errorf("%w: name cannot be empty", ErrInvalidName)
	}
	if len(name) > maxNameLength {
		return fmt.Errorf("%w: name exceeds %d characters", ErrInvalidName, maxNameLength)
	}
	return nil
}

// ValidateSlug checks if a slug format is valid.
func ValidateSlug(slug string) error {
	if slug == "" {
		return fmt.Errorf("%w: slug cannot be empty", ErrInvalidSlug)
	}
	if len(slug) > maxSlugLength {
		return fmt.Errorf("%w: slug exceeds %d characters", ErrInvalidSlug, maxSlugLength)
	}
	if !slugRegex.MatchString(slug) {
		return fmt.Errorf("%w: must be lowercase alphanumeric with hyphens", ErrInvalidSlug)
	}
	return nil
}

// ValidateTransition checks a transition name and its chain against limits.
func ValidateTransition(name string, c chain.Chain, limits Limits) error {
	if !slugRegex.MatchString(name) || len(name) > maxSlugLength {
		return fmt.Errorf("%w: name must be lowercase alphanumeric with hyphens", ErrInvalidTransition)
	}
	if err := chain.Validate(c); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidTransition, err)
	}
	if limits.MaxSteps > 0 && len(c) > limits.MaxSteps {
		return fmt.Errorf("%w: exceeds maximum of %d steps", ErrInvalidTransition, limits.MaxSteps)
	}
	if limits.MaxDelayMS > 0 {
		for i, step := range c {
			if w := step.WaitBefore; w != nil && w.Type == chain.WaitDelay && w.DurationMS > limits.MaxDelayMS {
				return fmt.Errorf("%w: step[%d]: duration_ms exceeds %d", ErrInvalidTransition, i, limits.MaxDelayMS)
			}
		}
	}
	return nil
}

// GenerateSlug creates a URL-safe slug from a name.
// It lowercases, replaces spaces/underscores with hyphens, removes
// non-alphanumeric characters, and trims to maxSlugLength.
func GenerateSlug(name string) string {
	slug := strings.ToLower(name)
	slug = strings.NewReplacer(" ", "-", "_", "-").Replace(slug)

	var result strings.Builder
	for _, r := range slug {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-' {
			result.WriteRune(r)
		}
	}
	slug = result.String()

	for strings.Contains(slug, "--") {
		slug = strings.ReplaceAll(slug, "--", "-")
	}
	slug = strings.Trim(slug, "-")

	if len(slug) > maxSlugLength {
		slug = strings.TrimRight(slug[:maxSlugLength], "-")
	}
	return slug
}

// GenerateID creates a new UUID for a device or run.
func GenerateID() string {
	return uuid.New().String()
}

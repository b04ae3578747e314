package automation

import "errors"

// Domain errors for the automation package.
//
// These errors can be checked using errors.Is() for error handling:
//
//	if errors.Is(err, automation.ErrDeviceNotFound) {
//	    // handle not found case
//	}
var (
	// ErrDeviceNotFound is returned when a device ID or slug does not exist.
	ErrDeviceNotFound = errors.New("vdev: not found")

	// ErrDeviceExists is returned when creating a device whose ID or slug is taken.
	ErrDeviceExists = errors.New("vdev: already exists")

	// ErrDeviceDisabled is returned when triggering a disabled device.
	ErrDeviceDisabled = errors.New("vdev: disabled")

	// ErrInvalidDevice is returned when device validation fails.
	ErrInvalidDevice = errors.New("vdev: invalid")

	// ErrInvalidName is returned when a device name is empty or too long.
	ErrInvalidName = errors.New("vdev: invalid name")

	// ErrInvalidSlug is returned when a slug format is invalid.
	ErrInvalidSlug = errors.New("vdev: invalid slug")

	// ErrNoTransitions is returned when a device defines no transitions.
	ErrNoTransitions = errors.New("vdev: no transitions")

	// ErrInvalidTransition is returned when a transition name or its chain is invalid.
	ErrInvalidTransition = errors.New("vdev: invalid transition")

	// ErrTransitionNotFound is returned when triggering an undefined transition.
	ErrTransitionNotFound = errors.New("vdev: transition not found")

	// ErrRunNotFound is returned when a run ID does not exist.
	ErrRunNotFound = errors.New("vdev: run not found")

	// ErrShuttingDown is returned by Trigger once Shutdown has started.
	ErrShuttingDown = errors.New("vdev: controller shutting down")
)

package snapcast

import "errors"

// Domain-specific errors for Snapcast operations.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrInvalidID is returned when a client, group or stream id is empty.
	ErrInvalidID = errors.New("snapcast: id cannot be empty")

	// ErrInvalidVolume is returned for a volume outside 0-100.
	ErrInvalidVolume = errors.New("snapcast: volume must be between 0 and 100")

	// ErrInvalidLatency is returned for a negative latency.
	ErrInvalidLatency = errors.New("snapcast: latency cannot be negative")

	// ErrUnknownNotification is returned by DecodeNotification for methods
	// this package does not model.
	ErrUnknownNotification = errors.New("snapcast: unknown notification")

	// ErrInvalidNotification is returned when notification params do not
	// match the method's schema.
	ErrInvalidNotification = errors.New("snapcast: invalid notification params")
)

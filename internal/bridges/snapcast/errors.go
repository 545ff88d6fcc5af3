package snapcast

import "errors"

// Domain errors for the Snapcast bridge.
var (
	// ErrInvalidCommand is returned for a command topic the bridge does not handle.
	ErrInvalidCommand = errors.New("snapcast bridge: invalid command")

	// ErrInvalidPayload is returned when a command payload cannot be parsed.
	ErrInvalidPayload = errors.New("snapcast bridge: invalid payload")

	// ErrThrottled is returned when a command could not get a rate-limit
	// token within its timeout.
	ErrThrottled = errors.New("snapcast bridge: command throttled")

	// ErrUnknownEntity is returned by toggle commands for an entity the
	// bridge has no state for yet.
	ErrUnknownEntity = errors.New("snapcast bridge: unknown entity")
)

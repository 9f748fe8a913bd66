package relay

import "errors"

var (
	// ErrDeliveryFailed wraps a send that errored or timed out.
	ErrDeliveryFailed = errors.New("delivery failed")
	// ErrTargetUnset is returned by CheckOnce when no chat is registered;
	// the Report still carries the rendered messages.
	ErrTargetUnset = errors.New("delivery target not registered")
)

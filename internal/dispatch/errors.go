package dispatch

import "errors"

// Dispatcher errors.
var (
	// ErrUnknownTower is returned when a request names a tower that never registered.
	ErrUnknownTower = errors.New("unknown tower")

	// ErrInvalidParams is returned for out-of-range request parameters.
	ErrInvalidParams = errors.New("invalid parameters")

	// ErrWellShortage is returned when a pump start is requested while the well is dry.
	ErrWellShortage = errors.New("well water shortage, pump start refused")
)

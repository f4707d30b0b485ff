package retry

import "errors"

// Retry manager errors.
var (
	// ErrMaxRetriesExceeded is returned when the maximum number of attempts has been used up.
	ErrMaxRetriesExceeded = errors.New("maximum retry attempts exceeded")

	// ErrNonRetryableError is returned when an attempt fails with an error that is not retryable.
	ErrNonRetryableError = errors.New("error is not retryable")
)

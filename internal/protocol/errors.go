package protocol

import (
	"errors"
	"fmt"
)

// Codec errors.
var (
	// ErrMalformedFrame is returned when a byte slice cannot be decoded into a frame.
	ErrMalformedFrame = errors.New("malformed frame")

	// ErrPayloadTooLarge is returned when a frame would not fit the radio payload.
	ErrPayloadTooLarge = errors.New("payload too large")

	// ErrUnknownCommand is returned for command codes outside the command set.
	// It wraps ErrMalformedFrame.
	ErrUnknownCommand = fmt.Errorf("%w: unknown command", ErrMalformedFrame)

	// ErrInvalidAddress is returned when neither or both endpoints are the controller.
	ErrInvalidAddress = errors.New("invalid frame address")

	// ErrInvalidPayload is returned when a payload does not match its command.
	ErrInvalidPayload = errors.New("invalid payload")
)

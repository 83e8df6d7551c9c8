package stomp

import "errors"

var (
	// ErrFrame is returned for bytes that cannot be decoded into a frame.
	ErrFrame = errors.New("stomp: invalid frame")

	// ErrFrameTooLarge is returned when a frame grows past the parser limit
	// before its terminator arrives.
	ErrFrameTooLarge = errors.New("stomp: frame too large")
)

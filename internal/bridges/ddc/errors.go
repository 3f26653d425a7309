package ddc

import "errors"

// Domain errors for the DDC bridge package.
var (
	// ErrInvalidTopic is returned when a topic does not follow the bridge scheme.
	ErrInvalidTopic = errors.New("ddc: invalid topic")

	// ErrInvalidCommand is returned for unknown command names.
	ErrInvalidCommand = errors.New("ddc: invalid command")

	// ErrInvalidParameters is returned when command parameters are missing or malformed.
	ErrInvalidParameters = errors.New("ddc: invalid parameters")
)

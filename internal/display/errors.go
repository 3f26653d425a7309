package display

import "errors"

// Domain errors for the display package.
//
// These errors can be checked using errors.Is():
//
//	if errors.Is(err, display.ErrInvalidValue) {
//	    // reject the caller's request
//	}
var (
	// ErrTransport is returned when the control surface cannot be reached
	// or a transaction fails in flight.
	ErrTransport = errors.New("display: transport failure")

	// ErrMalformedResponse is returned when the control surface replies with
	// a body that cannot be decoded.
	ErrMalformedResponse = errors.New("display: malformed response")

	// ErrUnsupportedControl is returned when a device does not expose a control.
	ErrUnsupportedControl = errors.New("display: unsupported control")

	// ErrInvalidValue is returned when a value is outside a control's range.
	ErrInvalidValue = errors.New("display: invalid value")

	// ErrDiscovery is returned when the device listing itself fails.
	ErrDiscovery = errors.New("display: discovery failure")

	// ErrUnknownDevice is returned for a device ID that was never discovered.
	ErrUnknownDevice = errors.New("display: unknown device")

	// ErrStopped is returned when the coordinator is no longer accepting work.
	ErrStopped = errors.New("display: coordinator stopped")
)

// IsTransportClass reports whether err is a failure of the transaction
// itself rather than of the caller's input.
func IsTransportClass(err error) bool {
	return errors.Is(err, ErrTransport) || errors.Is(err, ErrMalformedResponse)
}

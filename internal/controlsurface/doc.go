// Package controlsurface is the REST client for a DDC/CI control-surface node.
//
// The node owns the physical I2C buses and exposes them as:
//
//	GET  /monitors                              [{"id":0,"model":"...","bus":"/dev/i2c-4"}]
//	GET  /monitors/{id}/{control}               {"brightness": 60}     (null if unreadable)
//	POST /monitors/{id}/{control}               {"brightness": 80}
//	GET  /monitors/{id}/input_source_options    {"input_source_options": {"0f": "DisplayPort1"}}
//
// Client implements display.Surface. Status codes are mapped to the
// display package's sentinels: 404 to ErrUnknownDevice, 400/422 to
// ErrUnsupportedControl, everything else to ErrTransport. A body that
// cannot be decoded is ErrMalformedResponse.
package controlsurface

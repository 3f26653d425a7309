package influxdb

import "errors"

// Telemetry is optional: the coordinator keeps syncing displays whatever
// InfluxDB does, so these only surface in startup checks and logs.
var (
	// ErrDisabled is returned by Connect when influxdb.enabled is false.
	ErrDisabled = errors.New("influxdb: disabled in configuration")

	// ErrConnectionFailed wraps a failed ping or unhealthy server at Connect.
	ErrConnectionFailed = errors.New("influxdb: connection failed")

	// ErrNotConnected is returned by HealthCheck after Close.
	ErrNotConnected = errors.New("influxdb: not connected")

	// ErrWriteFailed wraps batch errors passed to the SetOnError callback.
	// Points are written asynchronously, so no write method returns it.
	ErrWriteFailed = errors.New("influxdb: write failed")
)

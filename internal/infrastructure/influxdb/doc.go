// Package influxdb provides InfluxDB connectivity for BrightDock.
//
// It wraps the official influxdb-client-go v2 library for connection
// management, batched metric writing, and health monitoring.
//
// # Purpose
//
// Telemetry is optional (influxdb.enabled). When enabled it stores:
//   - confirmed control values per display (device_metrics)
//   - poll cycle outcomes (sync_cycles)
//   - drained write results (display_writes)
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	client.WriteControlValue(0, "brightness", 60, "poll", time.Now())
//
// # Error Handling
//
// Write operations are non-blocking and batch errors are delivered via the
// SetOnError callback. Connection and health check errors are returned directly.
package influxdb

package influxdb

import (
	"strconv"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names written by BrightDock.
const (
	measurementDeviceMetrics = "device_metrics"
	measurementSyncCycles    = "sync_cycles"
	measurementWrites        = "display_writes"
)

// WriteControlValue records a confirmed control value for a display.
// The point is a device_metrics point with an extra source tag ("poll" or
// "write") so dashboards can tell reconciled values from commanded ones.
func (c *Client) WriteControlValue(deviceID int, control string, value int, source string, at time.Time) {
	if !c.IsConnected() {
		return
	}
	if at.IsZero() {
		at = time.Now()
	}

	tags := map[string]string{
		"device_id":   strconv.Itoa(deviceID),
		"measurement": control,
	}
	if source != "" {
		tags["source"] = source
	}

	point := write.NewPoint(measurementDeviceMetrics, tags, map[string]interface{}{
		"value": float64(value),
	}, at)
	c.writeAPI.WritePoint(point)
}

// WriteSyncCycle records the outcome of one poll cycle.
func (c *Client) WriteSyncCycle(ok bool, readFailures int, consecutiveFailures int, at time.Time) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		measurementSyncCycles,
		map[string]string{
			"ok": strconv.FormatBool(ok),
		},
		map[string]interface{}{
			"read_failures":        readFailures,
			"consecutive_failures": consecutiveFailures,
		},
		at,
	)
	c.writeAPI.WritePoint(point)
}

// WriteWriteResult records a drained write and whether the node accepted it.
func (c *Client) WriteWriteResult(deviceID int, control string, value int, applied bool) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		measurementWrites,
		map[string]string{
			"device_id": strconv.Itoa(deviceID),
			"control":   control,
			"applied":   strconv.FormatBool(applied),
		},
		map[string]interface{}{
			"value": value,
		},
		time.Now(),
	)
	c.writeAPI.WritePoint(point)
}

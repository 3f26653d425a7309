package main

import (
	"time"

	"github.com/Chuffnugget/BrightDock/internal/display"
)

// Sources recorded on control-value points.
const (
	telemetrySourcePoll  = "poll"
	telemetrySourceWrite = "write"
)

// telemetryWriter is the subset of *influxdb.Client used for telemetry.
type telemetryWriter interface {
	WriteControlValue(deviceID int, control string, value int, source string, at time.Time)
	WriteSyncCycle(ok bool, readFailures int, consecutiveFailures int, at time.Time)
	WriteWriteResult(deviceID int, control string, value int, applied bool)
}

// newTelemetryRecorder returns a coordinator event handler that records
// confirmed values, poll cycles and write outcomes.
//
// Optimistic values are skipped: only what the hardware reported, or what
// it accepted, ends up in the time series.
func newTelemetryRecorder(w telemetryWriter) display.EventHandler {
	return func(ev display.Event) {
		switch ev.Type {
		case display.EventValueChanged:
			if ev.Change == nil || ev.Change.Current.State != display.StateConfirmed {
				return
			}
			at := ev.Change.Current.UpdatedAt
			if at.IsZero() {
				at = ev.Timestamp
			}
			w.WriteControlValue(ev.Change.Key.DeviceID, string(ev.Change.Key.Control),
				ev.Change.Current.Value, telemetrySourcePoll, at)

		case display.EventSyncCompleted, display.EventSyncFailed:
			if ev.Status == nil {
				return
			}
			w.WriteSyncCycle(ev.Type == display.EventSyncCompleted,
				ev.Status.ReadFailures, ev.Status.ConsecutiveFailures, ev.Timestamp)

		case display.EventWriteApplied, display.EventWriteFailed:
			if ev.Write == nil {
				return
			}
			applied := ev.Type == display.EventWriteApplied
			w.WriteWriteResult(ev.Write.DeviceID, string(ev.Write.Control), ev.Write.Value, applied)
			if applied {
				w.WriteControlValue(ev.Write.DeviceID, string(ev.Write.Control),
					ev.Write.Value, telemetrySourceWrite, ev.Timestamp)
			}
		}
	}
}

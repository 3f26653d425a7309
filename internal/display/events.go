package display

import "time"

// EventType names a coordinator notification.
type EventType string

const (
	// EventValueChanged fires when a cached value or its state changes.
	EventValueChanged EventType = "value_changed"

	// EventDeviceDiscovered fires the first time a device is listed.
	EventDeviceDiscovered EventType = "device_discovered"

	// EventWriteApplied fires after the transport accepted a write.
	EventWriteApplied EventType = "write_applied"

	// EventWriteFailed fires when a write was dropped after a transport failure.
	EventWriteFailed EventType = "write_failed"

	// EventSyncCompleted fires at the end of every successful poll cycle.
	EventSyncCompleted EventType = "sync_completed"

	// EventSyncFailed fires when a poll cycle was aborted by a discovery failure.
	EventSyncFailed EventType = "sync_failed"
)

// Event is delivered to observers registered with Coordinator.Subscribe.
// Only the fields relevant to Type are set.
type Event struct {
	Type      EventType
	Timestamp time.Time

	// Device is set for value, discovery and write events.
	Device Device

	// Change is set for EventValueChanged.
	Change *Change

	// Write is set for EventWriteApplied and EventWriteFailed.
	Write *WriteRequest

	// Status is set for sync events.
	Status *SyncStatus

	// Err is set for EventWriteFailed and EventSyncFailed.
	Err error
}

// EventHandler receives coordinator events. Handlers run on the
// coordinator's goroutines and should return quickly.
type EventHandler func(Event)

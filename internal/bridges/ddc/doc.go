// Package ddc implements the MQTT bridge for DDC/CI displays.
//
// It exposes the display coordinator to home-automation platforms over
// MQTT, using the flat topic scheme brightdock/{category}/ddc/{address}
// where the address is the display ID reported by the control-surface node.
//
// # Architecture
//
//	┌────────────────┐  MQTT  ┌──────────────┐        ┌─────────────┐  REST  ┌──────┐
//	│ Home automation│◄──────►│  DDC bridge  │◄──────►│ Coordinator │◄──────►│ Node │
//	└────────────────┘        └──────────────┘ events └─────────────┘        └──────┘
//
// # Topics
//
//   - command/ddc/{id}: {"id","command":"set","parameters":{"control","value"}} or "refresh"
//   - ack/ddc/{id}: accepted, or failed with an error code. A write that later
//     fails on the transport produces a second failed ack with DEVICE_UNREACHABLE.
//   - state/ddc/{id}: retained, published only when the display's state changes
//   - event/ddc/control_changed: a user write was applied
//   - request/ddc/{rid} and response/ddc/{rid}: read_state, read_all, list_devices
//   - discovery/ddc: retained device list with capabilities and input options
//   - health/ddc: retained, periodic
//
// # Thread Safety
//
// All exported types are safe for concurrent use from multiple goroutines.
package ddc

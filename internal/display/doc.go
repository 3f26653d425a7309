// Package display provides the display-state synchronization coordinator
// for BrightDock.
//
// The coordinator mirrors the tunable state of DDC/CI displays (brightness,
// contrast, input source) from a remote control surface into an in-memory
// cache, and accepts write requests from any number of callers. All traffic
// to the control surface shares one physical bus that cannot tolerate
// overlapping transactions, so every read, write, listing and option fetch
// is serialized behind a single bus token.
//
// # Architecture
//
//	┌───────────────────────────────────────────────────────────────────────┐
//	│                         Coordinator (facade)                          │
//	│  RequestWrite ─▶ validate ─▶ optimistic Cache update ─▶ enqueue       │
//	│  CurrentValue / CurrentOptions / LastSyncStatus / Snapshot            │
//	└───────────┬───────────────────────────────────┬───────────────────────┘
//	            │                                   │
//	            ▼                                   ▼
//	┌──────────────────────┐             ┌──────────────────────┐
//	│       Poller         │             │   WriteSerializer    │
//	│  (poller.go)         │             │   (serializer.go)    │
//	│ • list devices       │             │ • unbounded FIFO     │
//	│ • read every control │             │ • single consumer    │
//	│ • Merge into Cache   │             │ • settle delay       │
//	└──────────┬───────────┘             └──────────┬───────────┘
//	           │          ┌──────────────┐          │
//	           └─────────▶│  Bus token   │◀─────────┘
//	                      │  (bus.go)    │
//	                      └──────┬───────┘
//	                             ▼
//	                   Surface (control surface client)
//
// # Value States
//
// Each (device, control) value moves through:
//
//	Unknown ──poll ok──▶ Confirmed(v) ──write──▶ Optimistic(v')
//	Optimistic(v') ──poll ok──▶ Confirmed(observed)
//	Optimistic(v') ──poll fail──▶ Optimistic(v')
//
// A poll is always authoritative. A failed read never blanks a value.
//
// # Usage
//
//	coord, err := display.New(display.Options{
//	    Surface:      surfaceClient,
//	    PollInterval: 30 * time.Second,
//	    Logger:       log,
//	})
//	coord.Subscribe(func(ev display.Event) { ... })
//	coord.Start(ctx)
//	defer coord.Stop()
//
//	req, err := coord.RequestWrite(0, display.Brightness, 60, "api")
//	v, ok := coord.CurrentValue(0, display.Brightness)
//
// # Thread Safety
//
// All exported methods are safe for concurrent use. Read paths only touch
// the cache and never wait on the bus.
package display

// Package api implements the HTTP REST API and WebSocket server for BrightDock.
//
// This package provides:
//   - REST endpoints to read cached display state and queue control writes
//   - A WebSocket hub that relays coordinator events in real time
//   - Optional HS256 bearer auth with ticket-based WebSocket auth
//   - Middleware stack (request ID, logging, recovery, CORS, body limit)
//   - TLS support for production deployments
//
// # Routes
//
// All routes live under /api/v1:
//
//	GET  /health                        status, version, node connection label
//	GET  /metrics                       runtime, node, MQTT, bridge and coordinator counters
//	GET  /monitors                      every display with its cached values
//	GET  /monitors/{id}                 one display
//	GET  /monitors/{id}/{control}       {"<control>": value, "state": ..., "label": ...}
//	PUT  /monitors/{id}/{control}       {"value": n} -> 202 {"request_id": ...}
//	GET  /monitors/{id}/{control}/options
//	GET  /sync                          latest SyncStatus
//	POST /sync/refresh                  schedule an immediate poll -> 202
//	POST /auth/ws-ticket                single-use WebSocket ticket
//	GET  /ws                            WebSocket
//
// Reads are served from the coordinator's cache and never wait on the
// display bus. A PUT returns once the write is queued; its outcome is
// broadcast on monitor.write_result.
//
// # WebSocket channels
//
//   - monitor.state_changed: a cached value or its state changed
//   - monitor.write_result: a queued write was applied or dropped
//   - sync.status: a poll cycle completed or failed
//   - monitor.discovered: a display appeared on the control surface
//
// # Security
//
// With security.jwt.secret set, PUT, POST and the WebSocket upgrade require
// authentication. Tokens must be HS256 with an exp claim. WebSocket
// connections use single-use tickets to keep tokens out of URLs. With no
// secret every route is open.
package api

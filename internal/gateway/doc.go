// ABOUTME: Package documentation for the gateway orchestrator
// ABOUTME: Describes component wiring, the HTTP surface, and shutdown order

// Package gateway wires the persistent store, the reasoning engine bridge,
// the job synchronizer, and the HTTP/WebSocket surface into one process.
//
// The HTTP surface:
//
//	GET    /health                      readiness of engine and knowledge base
//	GET    /ws/chat                     WebSocket chat (streaming frames)
//	POST   /api/chat                    synchronous chat (final answer only)
//	POST   /v1/chat/completions         OpenAI-compatible shim over /api/chat
//	GET    /api/sessions                list sessions, optional ?channel= filter
//	GET    /api/sessions/{name}         full turn history
//	DELETE /api/sessions/{name}         remove a session
//	GET    /api/jobs                    list scheduled jobs
//	POST   /api/jobs                    create or update a job
//	DELETE /api/jobs/{id}               remove a job
//	POST   /api/jobs/{id}/trigger       run a job immediately
//	GET    /api/knowledge/status        knowledge base availability
//	GET    /api/knowledge/search        direct knowledge base query
//	GET    /api/knowledge/find          locate resources by query
//	POST   /api/knowledge/add           ingest a resource by path
//	GET    /api/knowledge/ls            list resources under a URI
//
// Each WebSocket connection runs at most one request at a time. A message
// arriving while a run is active is rejected with an error frame rather than
// queued; closing the connection cancels the active run. There is no resume:
// a reconnecting client opens a fresh connection and re-issues its request.
// Clients are expected to retry with exponential backoff (1s doubling to a
// 30s cap, reset after a successful connect).
//
// Shutdown reverses startup: the HTTP server drains first, then WebSocket
// clients are closed, the reconcile loop and cron scheduler stop, and the
// store closes last.
package gateway

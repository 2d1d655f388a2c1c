// Package api documents the nodeflow HTTP API.
//
// # API Overview
//
// nodeflow exposes a small RESTful API for compiling and executing
// workflow graphs:
//
//	POST /api/v1/workflows/compile   compile a graph, returning the definition and its errors
//	POST /api/v1/workflows/run       compile and start a run (?wait=true blocks until done)
//	GET  /api/v1/runs                list recorded runs (?workflow_id= or ?status=)
//	GET  /api/v1/runs/{id}           run snapshot
//	POST /api/v1/runs/{id}/cancel    cancel a run
//	GET  /api/v1/runs/{id}/history   per-node execution history
//	GET  /api/v1/runs/{id}/events    event stream (websocket, or SSE without an Upgrade header)
//
// Health and version endpoints (/health, /healthz, /ready, /readyz,
// /version) are unauthenticated. Prometheus metrics are served on a
// separate port at /metrics.
//
// # Authentication
//
// When API keys are configured, requests carry the X-API-Key header:
//
//	X-API-Key: your-api-key
//
// When a JWT secret or public key is configured, a bearer token is
// accepted instead:
//
//	Authorization: Bearer <token>
//
// # Base URL
//
// The default base URL for the API is:
//
//	http://localhost:8080
package api

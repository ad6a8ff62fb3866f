// Package api implements the operator HTTP API and WebSocket feed.
//
// This package provides:
//   - Health and broker connection status endpoints
//   - Recent board events and cached live readings per board
//   - Time-sync and actuation commands, guarded by HS256 JWT bearer tokens
//   - A WebSocket hub that pushes every recorded event to subscribers
//   - Prometheus exposition at /metrics
//   - Middleware stack (request ID, logging, recovery, metrics, body limit)
//
// # Security
//
// Command routes require a bearer token signed with security.jwt.secret.
// With no secret configured they answer 403, so a fresh install cannot
// move hardware. Read-only routes and the feed are unauthenticated.
//
// # Graceful Degradation
//
// The server keeps answering while the broker is down: reads work, and
// commands fail with 503 until the bridge reconnects.
package api

// Package gateway is the HTTP transport adapter for the conversation layer.
//
// # Endpoints
//
//   - POST   /api/conversations                      start (idempotent via correlation_id)
//   - POST   /api/conversations/{id}/interactions    send one message or command
//   - GET    /api/conversations/{id}/events          SSE live-update stream
//   - DELETE /api/conversations/{id}                 close
//   - GET    /api/conversations/{id}/history         transcript from the ledger
//   - GET    /healthz                                liveness
//
// # SSE framing
//
// Each event is written as an id line, an event line, and a JSON data line,
// terminated by a blank line. Comment lines carry the connection-opened
// acknowledgement and periodic heartbeats. The close sentinel
// (event: close) is written immediately before the stream ends.
//
// # Errors
//
// BadRequest, NotFound and Expired map to 400, 404 and 410 with stable
// machine-readable code strings; anything unexpected is a generic 500.
package gateway

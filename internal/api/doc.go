// Package api implements the HTTP REST API and WebSocket server for the
// virtual device service.
//
// This package provides:
//   - REST endpoints for virtual device CRUD, transition triggers and aborts
//   - Run history and in-flight run inspection
//   - A datapoint bridge (PUT /datapoints/{target}) for state events from
//     systems that cannot publish to MQTT
//   - WebSocket hub broadcasting chain.started, chain.settled and
//     datapoint.changed events
//   - Bearer token authorisation with ticket-based WebSocket auth
//   - An audit trail (GET /audit) of configuration changes, manual
//     triggers, aborts and injected datapoints
//
// # Security
//
// With security.auth_enabled set, every route except /health and the
// metrics endpoints requires a JWT carrying a role with the route's
// permission. WebSocket connections use single-use tickets so the token
// never appears in a URL.
//
// # Graceful Degradation
//
// The server runs without MQTT; the datapoint bridge and the memory bus
// keep chains testable end to end.
package api

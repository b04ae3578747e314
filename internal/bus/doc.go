// Package bus connects the chain executor to physical datapoints.
//
// Two implementations of chain.Bus and chain.Watcher are provided:
//
//   - MQTT publishes writes as commands on graylogic/command/{target} and
//     keeps a point-in-time cache of values reported on graylogic/state/#.
//   - Memory is an in-process bus for dev mode and tests. Writes are stored
//     and, by default, echoed back as state changes.
//
// Both fan every observed change out to per-target watchers (used by state
// waits) and to change handlers registered with OnChange (the controller's
// Notify, telemetry, WebSocket broadcast).
//
// Thread Safety: all methods are safe for concurrent use. Watchers and
// change handlers are invoked without internal locks held.
package bus

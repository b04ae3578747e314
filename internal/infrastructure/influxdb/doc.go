// Package influxdb records chain execution telemetry in InfluxDB.
//
// Two measurements are written:
//   - chain_runs: one point per settled chain (tags device_id, transition,
//     outcome; fields steps, duration_ms)
//   - datapoints: numeric and boolean datapoint changes seen on the bus
//     (tag target; field value)
//
// Writes go through the batched, non-blocking write API of
// influxdb-client-go; failures surface through SetOnError.
//
// Usage:
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if errors.Is(err, influxdb.ErrDisabled) {
//	    // telemetry off
//	}
//	defer client.Close()
package influxdb

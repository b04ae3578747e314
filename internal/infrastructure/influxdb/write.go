package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names.
const (
	MeasurementChainRuns  = "chain_runs"
	MeasurementDatapoints = "datapoints"
)

// WriteChainRun records the outcome of one chain execution.
//
//	client.WriteChainRun("pump-1", "on", "completed", 3, 1250)
func (c *Client) WriteChainRun(deviceID, transition, outcome string, steps int, durationMS int64) {
	c.writePoint(chainRunPoint(deviceID, transition, outcome, steps, durationMS, time.Now()))
}

// WriteDatapoint records a numeric or boolean datapoint change. Strings and
// other types are not stored.
func (c *Client) WriteDatapoint(target string, value any) {
	c.writePoint(datapointPoint(target, value, time.Now()))
}

// WritePoint writes a custom point.
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]any) {
	c.writePoint(write.NewPoint(measurement, tags, fields, time.Now()))
}

func chainRunPoint(deviceID, transition, outcome string, steps int, durationMS int64, ts time.Time) *write.Point {
	return write.NewPoint(MeasurementChainRuns,
		map[string]string{
			"device_id":  deviceID,
			"transition": transition,
			"outcome":    outcome,
		},
		map[string]any{
			"steps":       steps,
			"duration_ms": durationMS,
		},
		ts,
	)
}

func datapointPoint(target string, value any, ts time.Time) *write.Point {
	v, ok := numericValue(value)
	if !ok {
		return nil
	}
	return write.NewPoint(MeasurementDatapoints,
		map[string]string{"target": target},
		map[string]any{"value": v},
		ts,
	)
}

// numericValue converts bools to 0/1 and numbers to float64.
func numericValue(value any) (float64, bool) {
	switch v := value.(type) {
	case bool:
		if v {
			return 1, true
		}
		return 0, true
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint8:
		return float64(v), true
	case uint16:
		return float64(v), true
	case uint32:
		return float64(v), true
	case uint64:
		return float64(v), true
	case float32:
		return float64(v), true
	case float64:
		return v, true
	default:
		return 0, false
	}
}

package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// WriteRouteChange records a routing change for one output.
//
// The write is non-blocking; data is batched and sent asynchronously.
// Input 0 records a closed output.
func (c *Client) WriteRouteChange(deviceID string, output, input int, source string) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"route_changes",
		map[string]string{
			"device_id": deviceID,
			"source":    source,
		},
		map[string]interface{}{
			"output": output,
			"input":  input,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WriteCommandMetric records one dispatched device command: its
// family, latency and outcome. Used to watch for the serial link
// degrading before polls start failing outright.
func (c *Client) WriteCommandMetric(deviceID, op string, latency time.Duration, success bool) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"device_commands",
		map[string]string{
			"device_id": deviceID,
			"op":        op,
		},
		map[string]interface{}{
			"latency_ms": float64(latency.Milliseconds()),
			"success":    success,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WriteSessionState records a session connectivity transition.
func (c *Client) WriteSessionState(deviceID, state string) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"session_state",
		map[string]string{
			"device_id": deviceID,
		},
		map[string]interface{}{
			"state": state,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WritePoint writes a custom point with full control over tags and fields.
//
// Use this for measurements that don't fit the helper methods.
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, time.Now())
	c.writeAPI.WritePoint(point)
}

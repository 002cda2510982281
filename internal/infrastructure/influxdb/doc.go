// Package influxdb provides optional time-series metrics for the
// matrix bridge.
//
// When enabled, the bridge records route changes, per-command latency
// and session state transitions. Writes are batched and non-blocking;
// a dead InfluxDB never slows down device control.
//
// The integration is optional: when influxdb.enabled is false, Connect
// returns ErrDisabled and the caller runs without metrics.
package influxdb

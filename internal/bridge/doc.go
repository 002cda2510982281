// Package bridge exposes a matrix controller over MQTT.
//
// Commands arrive as JSON on avmatrix/command/{device_id} and each one
// is acknowledged on avmatrix/ack/{device_id}, accepted or failed with
// a machine-readable error code. The full device snapshot is published
// retained on avmatrix/state/{device_id} whenever it changes, so new
// subscribers receive current state immediately. Retained health goes
// to avmatrix/health/{device_id} on a fixed interval and on session
// state changes.
//
// The bridge never talks to the device directly. All commands funnel
// through the controller's serialized command queue, so MQTT traffic
// and API traffic interleave safely.
package bridge

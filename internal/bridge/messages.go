package bridge

import (
	"time"

	"github.com/nerrad567/avgear-matrix/internal/matrix"
)

// Command actions accepted on the command topic. Each action maps to a
// single controller operation; unknown actions are rejected with an
// INVALID_COMMAND ack.
const (
	ActionRoute        = "route"          // input -> output (or outputs)
	ActionRouteAll     = "route_all"      // input -> every output
	ActionRouteThrough = "route_through"  // identity mapping, input N -> output N
	ActionOutputThru   = "output_through" // output N shows its own input N
	ActionOutput       = "output"         // enable or disable one output
	ActionAllOutputs   = "all_outputs"    // enable or disable every output
	ActionPower        = "power"          // on, standby, off
	ActionLock         = "lock"           // lock or unlock one output
	ActionLockAll      = "lock_all"       // lock or unlock the whole panel
	ActionPresetSave   = "preset_save"
	ActionPresetRecall = "preset_recall"
	ActionPresetClear  = "preset_clear"
	ActionPresetName   = "preset_name"
	ActionRefresh      = "refresh" // force a full status poll
)

// CommandMessage is received on avmatrix/command/{device_id}.
// QoS: 1, Retained: No
//
// Fields beyond ID, DeviceID and Action are action-specific; pointer
// fields distinguish "absent" from a zero value.
type CommandMessage struct {
	// ID correlates the command with its acknowledgement. Optional;
	// the bridge generates one when absent.
	ID string `json:"id,omitempty"`

	// Timestamp is when the command was issued (UTC, ISO8601).
	Timestamp time.Time `json:"timestamp,omitempty"`

	// DeviceID names the target matrix. Optional on the per-device
	// topic; when present it must match the topic's device.
	DeviceID string `json:"device_id,omitempty"`

	// Action selects the operation (see Action* constants).
	Action string `json:"action"`

	// Input is the 1-based source channel for routing actions.
	Input int `json:"input,omitempty"`

	// Output is the 1-based destination channel.
	Output int `json:"output,omitempty"`

	// Outputs lists destination channels for a multi-output route.
	Outputs []int `json:"outputs,omitempty"`

	// Enabled drives the output and all_outputs actions.
	Enabled *bool `json:"enabled,omitempty"`

	// Locked drives the lock and lock_all actions.
	Locked *bool `json:"locked,omitempty"`

	// Slot is the preset slot (0 to 9) for preset actions.
	Slot *int `json:"slot,omitempty"`

	// Name is the friendly preset name for preset_name.
	Name string `json:"name,omitempty"`

	// Power is the target power state: "on", "standby" or "off".
	Power string `json:"power,omitempty"`

	// Source identifies the originator for audit purposes.
	Source string `json:"source,omitempty"`
}

// AckStatus is the outcome reported for a command.
type AckStatus string

const (
	// AckAccepted means the command was executed by the device.
	AckAccepted AckStatus = "accepted"

	// AckFailed means the command was rejected or the device refused it.
	AckFailed AckStatus = "failed"
)

// Ack error codes.
const (
	ErrCodeInvalidCommand    = "INVALID_COMMAND"
	ErrCodeInvalidParameters = "INVALID_PARAMETERS"
	ErrCodeDeviceUnreachable = "DEVICE_UNREACHABLE"
	ErrCodeTimeout           = "TIMEOUT"
	ErrCodeBridgeError       = "BRIDGE_ERROR"
)

// AckMessage is published on avmatrix/ack/{device_id} for every
// command received, successful or not.
// QoS: 1, Retained: No
type AckMessage struct {
	// CommandID echoes the command's ID.
	CommandID string `json:"command_id"`

	// Timestamp is when the ack was generated (UTC, ISO8601).
	Timestamp time.Time `json:"timestamp"`

	// DeviceID names the matrix the command targeted.
	DeviceID string `json:"device_id"`

	// Status is the command outcome.
	Status AckStatus `json:"status"`

	// Error carries failure details when Status is failed.
	Error *AckError `json:"error,omitempty"`
}

// AckError describes why a command failed.
type AckError struct {
	// Code is a machine-readable error code (see ErrCode* constants).
	Code string `json:"code"`

	// Message is a human-readable description.
	Message string `json:"message"`
}

// StateMessage is published retained on avmatrix/state/{device_id}
// whenever the device snapshot changes.
// QoS: 1, Retained: Yes
type StateMessage struct {
	// DeviceID names the matrix.
	DeviceID string `json:"device_id"`

	// Timestamp is when this state was published (UTC, ISO8601).
	Timestamp time.Time `json:"timestamp"`

	// State is the full device snapshot.
	State matrix.Snapshot `json:"state"`
}

// HealthStatus represents the operational status of the bridge.
type HealthStatus string

const (
	// HealthHealthy indicates the device link is up and polling.
	HealthHealthy HealthStatus = "healthy"

	// HealthDegraded indicates the device link is down and the bridge
	// is attempting to recover.
	HealthDegraded HealthStatus = "degraded"

	// HealthStopping indicates the bridge is shutting down.
	HealthStopping HealthStatus = "stopping"
)

// HealthMessage is published retained on avmatrix/health/{device_id}.
// QoS: 1, Retained: Yes
// Interval: every 30 seconds, plus on session state changes.
type HealthMessage struct {
	// DeviceID names the matrix.
	DeviceID string `json:"device_id"`

	// Timestamp is when the health status was generated (UTC, ISO8601).
	Timestamp time.Time `json:"timestamp"`

	// Status is the bridge's view of its own health.
	Status HealthStatus `json:"status"`

	// Session is the device connection state.
	Session matrix.SessionState `json:"session"`

	// UptimeSeconds is how long the bridge has been running.
	UptimeSeconds int64 `json:"uptime_seconds"`

	// CommandsHandled counts commands received over MQTT.
	CommandsHandled uint64 `json:"commands_handled"`

	// CommandsFailed counts commands that produced a failed ack.
	CommandsFailed uint64 `json:"commands_failed"`
}

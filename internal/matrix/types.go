package matrix

import "time"

// Route values for outputs that are not mapped to an input.
// Inputs are 1..Inputs; 0 means explicitly off; -1 means unknown.
// Unknown is a distinct state, never a default: consumers must not
// treat it as off or as any channel.
const (
	RouteUnknown = -1
	RouteOff     = 0
)

// NoPreset marks the current-preset field when no recall is tracked.
const NoPreset = -1

// PowerState is the device power mode.
// Off additionally cuts power to HDBaseT receivers; standby does not.
type PowerState string

const (
	PowerUnknown PowerState = "unknown"
	PowerOn      PowerState = "on"
	PowerStandby PowerState = "standby"
	PowerOff     PowerState = "off"
)

// LockState is the tri-state lock status of an output channel.
type LockState string

const (
	LockUnknown  LockState = "unknown"
	LockLocked   LockState = "locked"
	LockUnlocked LockState = "unlocked"
)

// SessionState is the connectivity state of the device session.
// Degraded means connected but the last N poll attempts received no
// parseable response.
type SessionState string

const (
	SessionDisconnected SessionState = "disconnected"
	SessionConnecting   SessionState = "connecting"
	SessionConnected    SessionState = "connected"
	SessionDegraded     SessionState = "degraded"
)

// Snapshot is an immutable copy of the device state at a point in time.
//
// Maps are copied on read; callers can safely retain or modify a
// Snapshot without affecting the store.
type Snapshot struct {
	DeviceID string `json:"device_id"`

	// Session is the connectivity state. When it is not connected or
	// degraded, all other fields are reset to their unknown values.
	Session SessionState `json:"session"`

	// Routes maps output channel to input channel, RouteOff, or
	// RouteUnknown. Every output 1..Outputs is always present.
	Routes map[int]int `json:"routes"`

	// Locks maps output channel to its lock state. AllLocked is the
	// device's global lock flag, reconciled with per-channel events.
	Locks     map[int]LockState `json:"locks"`
	AllLocked LockState         `json:"all_locked"`

	Power PowerState `json:"power"`

	// Model and Firmware are fetched once after connect.
	Model    string `json:"model,omitempty"`
	Firmware string `json:"firmware,omitempty"`

	// CurrentPreset is the last recalled preset slot, or NoPreset. It is
	// a local assumption (another controller may recall a different
	// preset) and is reset on reconnect.
	CurrentPreset int `json:"current_preset"`

	// PresetNames holds host-assigned display names keyed by slot 0..9.
	// The device itself stores only the routing snapshots.
	PresetNames map[int]string `json:"preset_names"`

	// Version increments on every store mutation.
	Version   uint64    `json:"version"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Logger is the minimal logging interface the matrix package needs.
// Satisfied by *logging.Logger and *slog.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is used when no logger is configured.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

package mqtt

import "fmt"

// TopicPrefix is the base for every topic the bridge touches.
// Scheme: avmatrix/{category}/{device_id}[/...]
const TopicPrefix = "avmatrix"

// Topics provides builders for the bridge's MQTT topics. Using these
// helpers keeps topic naming consistent between the publisher, the
// command handler and external subscribers.
//
//	topics := mqtt.Topics{}
//	stateTopic := topics.DeviceState("matrix-01")
//	// Returns: "avmatrix/state/matrix-01"
type Topics struct{}

// SystemStatus returns the online/offline status topic. The LWT message
// is published here by the broker on unexpected disconnect.
//
// Example: avmatrix/system/status
func (Topics) SystemStatus() string {
	return TopicPrefix + "/system/status"
}

// DeviceState returns the retained full-snapshot topic for a matrix.
//
// Example: avmatrix/state/matrix-01
func (Topics) DeviceState(deviceID string) string {
	return fmt.Sprintf("%s/state/%s", TopicPrefix, deviceID)
}

// DeviceCommand returns the command intake topic for a matrix.
//
// Example: avmatrix/command/matrix-01
func (Topics) DeviceCommand(deviceID string) string {
	return fmt.Sprintf("%s/command/%s", TopicPrefix, deviceID)
}

// DeviceAck returns the command acknowledgement topic for a matrix.
//
// Example: avmatrix/ack/matrix-01
func (Topics) DeviceAck(deviceID string) string {
	return fmt.Sprintf("%s/ack/%s", TopicPrefix, deviceID)
}

// DeviceHealth returns the retained health topic for a matrix.
//
// Example: avmatrix/health/matrix-01
func (Topics) DeviceHealth(deviceID string) string {
	return fmt.Sprintf("%s/health/%s", TopicPrefix, deviceID)
}

// AllCommands returns a wildcard pattern matching every device's
// command topic.
//
// Example: avmatrix/command/+
func (Topics) AllCommands() string {
	return TopicPrefix + "/command/+"
}

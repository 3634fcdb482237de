// Package topics builds every MQTT topic the bridge uses.
// It has no dependencies so both the publisher and the command subscriber can share it.
package topics

import (
	"fmt"
	"strings"
)

// Command fields accepted on <base>/<instrument>/set/<field>
const (
	FieldLoad       = "load"
	FieldShort      = "short"
	FieldVoltage    = "voltage"
	FieldCurrent    = "current"
	FieldResistance = "resistance"
	FieldMode       = "mode"
	FieldRange      = "range"
	FieldVoltCurr   = "voltage_current"
	FieldReset      = "reset"
	FieldLocal      = "local"
)

// BuildStateTopic constructs the JSON state topic of an instrument
// Pattern: {base}/{instrument}/state
func BuildStateTopic(base, instrumentID string) string {
	return fmt.Sprintf("%s/%s/state", base, instrumentID)
}

// BuildCommandTopic constructs the topic a setter listens on
// Pattern: {base}/{instrument}/set/{field}
func BuildCommandTopic(base, instrumentID, field string) string {
	return fmt.Sprintf("%s/%s/set/%s", base, instrumentID, field)
}

// BuildCommandFilter constructs the subscription filter for every command topic
// Pattern: {base}/+/set/+
func BuildCommandFilter(base string) string {
	return fmt.Sprintf("%s/+/set/+", base)
}

// ParseCommandTopic splits a command topic into instrument and field
func ParseCommandTopic(base, topic string) (instrumentID, field string, ok bool) {
	rest, found := strings.CutPrefix(topic, base+"/")
	if !found {
		return "", "", false
	}
	parts := strings.Split(rest, "/")
	if len(parts) != 3 || parts[1] != "set" || parts[0] == "" || parts[2] == "" {
		return "", "", false
	}
	return parts[0], parts[2], true
}

// BuildAckTopic constructs the topic command acknowledgements go to
// Pattern: {base}/{instrument}/ack
func BuildAckTopic(base, instrumentID string) string {
	return fmt.Sprintf("%s/%s/ack", base, instrumentID)
}

// BuildDeviceID constructs the Home Assistant device identifier of an instrument
// Pattern: {client_id}_{instrument}
func BuildDeviceID(clientID, instrumentID string) string {
	return fmt.Sprintf("%s_%s", clientID, instrumentID)
}

// BuildDiscoveryTopic constructs the discovery config topic for one entity
// Pattern: {prefix}/{component}/{device_id}/{device_id}_{key}/config
func BuildDiscoveryTopic(prefix, component, deviceID, key string) string {
	return fmt.Sprintf("%s/%s/%s/%s_%s/config", prefix, component, deviceID, deviceID, key)
}

// BuildUniqueID constructs the unique ID for one entity
// Pattern: {device_id}_{key}
func BuildUniqueID(deviceID, key string) string {
	return fmt.Sprintf("%s_%s", deviceID, key)
}

// BuildDiagnosticDiscoveryTopic constructs discovery topic for the bridge diagnostic sensor
// Pattern: {prefix}/sensor/{device_id}_diagnostic/config
func BuildDiagnosticDiscoveryTopic(prefix, deviceID string) string {
	return fmt.Sprintf("%s/sensor/%s_diagnostic/config", prefix, deviceID)
}

// BuildDiagnosticUniqueID constructs unique ID for the bridge diagnostic sensor
func BuildDiagnosticUniqueID(deviceID string) string {
	return fmt.Sprintf("%s_diagnostic", deviceID)
}

package mqtt

import (
	"gpib-load-bridge/pkg/topics"
)

// TopicFactory provides centralized topic construction for one bridge
type TopicFactory struct {
	baseTopic       string
	discoveryPrefix string
	clientID        string
}

// NewTopicFactory creates a new topic factory
func NewTopicFactory(baseTopic, discoveryPrefix, clientID string) *TopicFactory {
	return &TopicFactory{
		baseTopic:       baseTopic,
		discoveryPrefix: discoveryPrefix,
		clientID:        clientID,
	}
}

// DeviceID returns the Home Assistant device identifier of an instrument
func (tf *TopicFactory) DeviceID(instrumentID string) string {
	return topics.BuildDeviceID(tf.clientID, instrumentID)
}

// BridgeDeviceID returns the Home Assistant device identifier of the bridge itself
func (tf *TopicFactory) BridgeDeviceID() string {
	return tf.clientID
}

// BuildStateTopic constructs the JSON state topic of an instrument
func (tf *TopicFactory) BuildStateTopic(instrumentID string) string {
	return topics.BuildStateTopic(tf.baseTopic, instrumentID)
}

// BuildCommandTopic constructs the command topic of one instrument field
func (tf *TopicFactory) BuildCommandTopic(instrumentID, field string) string {
	return topics.BuildCommandTopic(tf.baseTopic, instrumentID, field)
}

// BuildCommandFilter constructs the subscription filter for every command topic
func (tf *TopicFactory) BuildCommandFilter() string {
	return topics.BuildCommandFilter(tf.baseTopic)
}

// ParseCommandTopic splits a command topic into instrument and field
func (tf *TopicFactory) ParseCommandTopic(topic string) (instrumentID, field string, ok bool) {
	return topics.ParseCommandTopic(tf.baseTopic, topic)
}

// BuildAckTopic constructs the acknowledgement topic of an instrument
func (tf *TopicFactory) BuildAckTopic(instrumentID string) string {
	return topics.BuildAckTopic(tf.baseTopic, instrumentID)
}

// BuildDiscoveryTopic constructs the discovery config topic for one entity
func (tf *TopicFactory) BuildDiscoveryTopic(component, deviceID, key string) string {
	return topics.BuildDiscoveryTopic(tf.discoveryPrefix, component, deviceID, key)
}

// BuildUniqueID constructs the unique ID for one entity
func (tf *TopicFactory) BuildUniqueID(deviceID, key string) string {
	return topics.BuildUniqueID(deviceID, key)
}

// BuildDiagnosticDiscoveryTopic constructs discovery topic for the bridge diagnostic sensor
func (tf *TopicFactory) BuildDiagnosticDiscoveryTopic() string {
	return topics.BuildDiagnosticDiscoveryTopic(tf.discoveryPrefix, tf.clientID)
}

// BuildDiagnosticUniqueID constructs unique ID for the bridge diagnostic sensor
func (tf *TopicFactory) BuildDiagnosticUniqueID() string {
	return topics.BuildDiagnosticUniqueID(tf.clientID)
}

// BuildInstrumentDiagnosticStateTopic constructs the diagnostic state topic of an instrument
// Pattern: {base}/{instrument}/diagnostic
func (tf *TopicFactory) BuildInstrumentDiagnosticStateTopic(instrumentID string) string {
	return tf.baseTopic + "/" + instrumentID + "/diagnostic"
}

// DiscoveryEnabled reports whether Home Assistant discovery is configured
func (tf *TopicFactory) DiscoveryEnabled() bool {
	return tf.discoveryPrefix != ""
}

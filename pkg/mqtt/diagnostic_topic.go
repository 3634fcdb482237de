package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"gpib-load-bridge/pkg/logger"
)

// Diagnostic is the payload published on the bridge diagnostic topic
type Diagnostic struct {
	Code      int    `json:"code"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

// PublishDiagnosticDiscovery publishes discovery configuration for the bridge diagnostic sensor
func (p *Publisher) PublishDiagnosticDiscovery(ctx context.Context) error {
	if !p.factory.DiscoveryEnabled() {
		return nil
	}
	if !p.client.IsConnected() {
		return fmt.Errorf("client is not connected")
	}

	device := DeviceInfo{
		Name:         BridgeDeviceName,
		Identifiers:  []string{p.factory.BridgeDeviceID()},
		Manufacturer: BridgeDeviceManufacturer,
		Model:        BridgeDeviceModel,
	}

	discoveryTopic := p.factory.BuildDiagnosticDiscoveryTopic()
	sensorConfig := SensorConfig{
		Name:                   "Diagnostic",
		UniqueID:               p.factory.BuildDiagnosticUniqueID(),
		StateTopic:             p.settings.DiagnosticTopic,
		DeviceClass:            "enum",
		Device:                 device,
		ValueTemplate:          "{{ value_json.message }}",
		AvailabilityTopic:      p.settings.StatusTopic,
		PayloadAvailable:       StatusOnline,
		PayloadNotAvailable:    StatusOffline,
		JSONAttributesTemplate: "{{ value_json | tojson }}",
		EntityCategory:         "diagnostic",
	}

	configJSON, err := json.Marshal(sensorConfig)
	if err != nil {
		return fmt.Errorf("error serializing diagnostic configuration: %w", err)
	}

	logger.LogDebug("📡 Publishing diagnostic discovery: %s", discoveryTopic)

	token := p.client.Publish(discoveryTopic, 0, true, configJSON)
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("error publishing diagnostic discovery: %w", token.Error())
	}
	return nil
}

// PublishDiagnostic publishes a diagnostic code and message
func (p *Publisher) PublishDiagnostic(ctx context.Context, code int, message string) error {
	if !p.client.IsConnected() {
		return fmt.Errorf("client not connected")
	}
	if message == "" {
		return fmt.Errorf("diagnostic message is empty")
	}

	payload, err := json.Marshal(Diagnostic{
		Code:      code,
		Message:   message,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return fmt.Errorf("error marshaling diagnostic: %w", err)
	}

	logger.LogDebug("🔧 📤 Publishing diagnostic to '%s': %s", p.settings.DiagnosticTopic, message)

	if err := wait(ctx, p.client.Publish(p.settings.DiagnosticTopic, 0, false, payload), "diagnostic"); err != nil {
		return err
	}

	logger.LogDebug("🔧 Published diagnostic: [%d] %s", code, message)
	return nil
}

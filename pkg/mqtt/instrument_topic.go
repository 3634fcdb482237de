package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"gpib-load-bridge/pkg/hp6060b"
	"gpib-load-bridge/pkg/logger"
	"gpib-load-bridge/pkg/topics"
)

// entity is one Home Assistant entity derived from the instrument state
type entity struct {
	component   string
	key         string
	name        string
	unit        string
	deviceClass string
	stateClass  string
	template    string
	options     []string
	command     string // command field, enables the entity's command topic
}

var instrumentEntities = []entity{
	{component: "sensor", key: "voltage", name: "Voltage", unit: "V", deviceClass: "voltage", stateClass: "measurement",
		template: "{{ value_json.voltage }}"},
	{component: "sensor", key: "current", name: "Current", unit: "A", deviceClass: "current", stateClass: "measurement",
		template: "{{ value_json.current }}"},
	{component: "sensor", key: "power", name: "Power", unit: "W", deviceClass: "power", stateClass: "measurement",
		template: "{{ value_json.power }}"},
	{component: "sensor", key: "mode", name: "Mode", deviceClass: "enum",
		options: []string{
			hp6060b.ModeCurrent.String(),
			hp6060b.ModeVoltage.String(),
			hp6060b.ModeResistance.String(),
		},
		template: "{{ value_json.mode }}"},
	{component: "binary_sensor", key: "input", name: "Input", deviceClass: "power",
		template: "{{ 'ON' if value_json.load_on else 'OFF' }}"},
}

// Entities added when commands are accepted
var commandEntities = []entity{
	{component: "switch", key: "input_switch", name: "Input enable",
		template: "{{ 'ON' if value_json.load_on else 'OFF' }}", command: topics.FieldLoad},
}

// InstrumentState is the JSON document published on <base>/<instrument>/state
type InstrumentState struct {
	Instrument string    `json:"instrument"`
	Address    int       `json:"address"`
	Voltage    float64   `json:"voltage"`
	Current    float64   `json:"current"`
	Power      float64   `json:"power"`
	Mode       string    `json:"mode"`
	LoadOn     bool      `json:"load_on"`
	Timestamp  time.Time `json:"timestamp"`
}

// deviceInfo builds the Home Assistant device of an instrument
func (p *Publisher) deviceInfo(inst InstrumentInfo) DeviceInfo {
	device := DeviceInfo{
		Name:         inst.Name,
		Identifiers:  []string{p.factory.DeviceID(inst.ID)},
		Manufacturer: "Hewlett-Packard",
		Model:        inst.Model,
	}
	// *IDN? is "<manufacturer>,<model>,<serial>,<firmware>"
	if parts := strings.Split(inst.Identification, ","); len(parts) == 4 {
		device.Manufacturer = strings.TrimSpace(parts[0])
		device.Model = strings.TrimSpace(parts[1])
		device.SWVersion = strings.TrimSpace(parts[3])
	}
	return device
}

// PublishInstrumentDiscovery publishes the retained discovery configs of one instrument
func (p *Publisher) PublishInstrumentDiscovery(ctx context.Context, inst InstrumentInfo) error {
	if !p.factory.DiscoveryEnabled() {
		return nil
	}
	if !p.client.IsConnected() {
		return fmt.Errorf("client is not connected")
	}

	device := p.deviceInfo(inst)
	deviceID := p.factory.DeviceID(inst.ID)
	stateTopic := p.factory.BuildStateTopic(inst.ID)

	entities := instrumentEntities
	if p.settings.AcceptCommands {
		entities = append(append([]entity(nil), instrumentEntities...), commandEntities...)
	}

	for _, e := range entities {
		sensorConfig := SensorConfig{
			Name:                inst.Name + " " + e.name,
			UniqueID:            p.factory.BuildUniqueID(deviceID, e.key),
			StateTopic:          stateTopic,
			UnitOfMeasurement:   e.unit,
			DeviceClass:         e.deviceClass,
			StateClass:          e.stateClass,
			Options:             e.options,
			Device:              device,
			ValueTemplate:       e.template,
			AvailabilityTopic:   p.settings.StatusTopic,
			PayloadAvailable:    StatusOnline,
			PayloadNotAvailable: StatusOffline,
		}
		if e.component != "sensor" {
			sensorConfig.PayloadOn = "ON"
			sensorConfig.PayloadOff = "OFF"
		}
		if e.command != "" {
			sensorConfig.CommandTopic = p.factory.BuildCommandTopic(inst.ID, e.command)
		}

		configJSON, err := json.Marshal(sensorConfig)
		if err != nil {
			return fmt.Errorf("error serializing %s configuration: %w", e.key, err)
		}

		discoveryTopic := p.factory.BuildDiscoveryTopic(e.component, deviceID, e.key)
		logger.LogDebug("📡 Publishing %s discovery: %s", e.key, discoveryTopic)

		token := p.client.Publish(discoveryTopic, 0, true, configJSON)
		if token.Wait() && token.Error() != nil {
			return fmt.Errorf("error publishing %s discovery: %w", e.key, token.Error())
		}
	}

	return nil
}

// PublishReading publishes one poll of an instrument as JSON
func (p *Publisher) PublishReading(ctx context.Context, inst InstrumentInfo, reading hp6060b.Reading) error {
	if !p.client.IsConnected() {
		return fmt.Errorf("client is not connected")
	}
	if err := validateReading(reading); err != nil {
		return fmt.Errorf("invalid reading for %s: %w", inst.ID, err)
	}

	state := InstrumentState{
		Instrument: inst.ID,
		Address:    inst.Address,
		Voltage:    reading.Voltage,
		Current:    reading.Current,
		Power:      reading.Power,
		Mode:       reading.Mode.String(),
		LoadOn:     reading.LoadState,
		Timestamp:  time.Now().UTC(),
	}

	payload, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("error serializing state: %w", err)
	}

	stateTopic := p.factory.BuildStateTopic(inst.ID)
	logger.LogDebug("📤 Publishing '%s' %.3f V %.3f A %.3f W → %s",
		inst.Name, reading.Voltage, reading.Current, reading.Power, stateTopic)

	return wait(ctx, p.client.Publish(stateTopic, 0, false, payload), "state")
}

// validateReading rejects values JSON cannot carry
func validateReading(r hp6060b.Reading) error {
	for name, v := range map[string]float64{"voltage": r.Voltage, "current": r.Current, "power": r.Power} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%s is %v", name, v)
		}
	}
	return nil
}

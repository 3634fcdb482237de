package mqtt

import (
	"context"
	"fmt"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"gpib-load-bridge/pkg/config"
	"gpib-load-bridge/pkg/logger"
)

// Availability payloads
const (
	StatusOnline  = "online"
	StatusOffline = "offline"
)

// Bridge device constants used for the bridge-level diagnostic sensor
const (
	BridgeDeviceName         = "GPIB Load Bridge"
	BridgeDeviceManufacturer = "gpib-load-bridge"
	BridgeDeviceModel        = "Prologix GPIB bridge"
)

// Publisher publishes instrument readings, availability and diagnostics.
// It owns the broker connection; the command subscriber shares it through Client.
type Publisher struct {
	client     paho.Client
	settings   config.TelemetrySettings
	mqttConfig *config.MQTTConfig
	factory    *TopicFactory
}

// NewPublisher creates a new publisher
func NewPublisher(cfg *config.MQTTConfig, settings config.TelemetrySettings) *Publisher {
	opts := paho.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s:%d", cfg.Broker, cfg.Port))
	opts.SetClientID(cfg.ClientID + "_publisher")
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.Password)
	opts.SetAutoReconnect(true)

	keepAlive := cfg.KeepAlive
	if keepAlive == 0 {
		keepAlive = 60
	}
	opts.SetKeepAlive(time.Duration(keepAlive) * time.Second)
	opts.SetPingTimeout(10 * time.Second)

	// Last Will marks the bridge offline if the connection drops
	opts.SetWill(settings.StatusTopic, StatusOffline, 1, true)

	opts.SetOnConnectHandler(func(client paho.Client) {
		logger.LogInfo("Publisher connected to MQTT broker")
		if token := client.Publish(settings.StatusTopic, 1, true, StatusOnline); token.Wait() && token.Error() != nil {
			logger.LogWarn("Error publishing online status on connect: %v", token.Error())
		}
	})

	opts.SetConnectionLostHandler(func(client paho.Client, err error) {
		logger.LogError("Publisher disconnected: %v", err)
	})

	return newPublisher(paho.NewClient(opts), cfg, settings)
}

func newPublisher(client paho.Client, cfg *config.MQTTConfig, settings config.TelemetrySettings) *Publisher {
	return &Publisher{
		client:     client,
		settings:   settings,
		mqttConfig: cfg,
		factory:    NewTopicFactory(settings.BaseTopic, settings.DiscoveryPrefix, cfg.ClientID),
	}
}

// Client returns the underlying paho client
func (p *Publisher) Client() paho.Client {
	return p.client
}

// Topics returns the topic factory
func (p *Publisher) Topics() *TopicFactory {
	return p.factory
}

// Connect connects the publisher to the broker, retrying until ctx is done
func (p *Publisher) Connect(ctx context.Context) error {
	retryDelay := time.Duration(p.mqttConfig.RetryDelay) * time.Millisecond
	if retryDelay == 0 {
		retryDelay = 5 * time.Second
	}

	for attempt := 1; ; attempt++ {
		logger.LogDebug("🔄 Attempting to connect publisher to MQTT broker (attempt %d)...", attempt)

		token := p.client.Connect()
		if token.Wait() && token.Error() == nil {
			if p.waitConnected(ctx) {
				logger.LogInfo("✅ Publisher connected to MQTT broker after %d attempts", attempt)
				return nil
			}
			logger.LogWarn("⏰ Publisher connection establishment timeout (attempt %d)", attempt)
		} else {
			logger.LogError("❌ Publisher connection failed (attempt %d): %v", attempt, token.Error())
		}

		logger.LogInfo("⏳ Retrying in %.0f seconds...", retryDelay.Seconds())
		select {
		case <-ctx.Done():
			return fmt.Errorf("publisher connection cancelled: %w", ctx.Err())
		case <-time.After(retryDelay):
		}
	}
}

func (p *Publisher) waitConnected(ctx context.Context) bool {
	for i := 0; i < 50; i++ {
		if p.client.IsConnected() {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(100 * time.Millisecond):
		}
	}
	return false
}

// Disconnect disconnects the publisher
func (p *Publisher) Disconnect() {
	if p.client.IsConnected() {
		p.client.Disconnect(250)
	}
}

// PublishStatusOnline publishes "online" on the retained status topic
func (p *Publisher) PublishStatusOnline(ctx context.Context) error {
	return p.publishStatus(ctx, StatusOnline)
}

// PublishStatusOffline publishes "offline" on the retained status topic
func (p *Publisher) PublishStatusOffline(ctx context.Context) error {
	return p.publishStatus(ctx, StatusOffline)
}

func (p *Publisher) publishStatus(ctx context.Context, status string) error {
	if !p.client.IsConnected() {
		return fmt.Errorf("client not connected")
	}
	return wait(ctx, p.client.Publish(p.settings.StatusTopic, 1, true, status), "status")
}

// wait blocks until token completes or ctx is done
func wait(ctx context.Context, token paho.Token, what string) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-token.Done():
		if token.Error() != nil {
			return fmt.Errorf("error publishing %s: %w", what, token.Error())
		}
	}
	return nil
}

// SensorConfig is a Home Assistant discovery payload
type SensorConfig struct {
	Name                   string     `json:"name"`
	UniqueID               string     `json:"unique_id"`
	StateTopic             string     `json:"state_topic"`
	CommandTopic           string     `json:"command_topic,omitempty"`
	UnitOfMeasurement      string     `json:"unit_of_measurement,omitempty"`
	DeviceClass            string     `json:"device_class,omitempty"`
	StateClass             string     `json:"state_class,omitempty"`
	Options                []string   `json:"options,omitempty"`
	Device                 DeviceInfo `json:"device"`
	ValueTemplate          string     `json:"value_template"`
	PayloadOn              string     `json:"payload_on,omitempty"`
	PayloadOff             string     `json:"payload_off,omitempty"`
	AvailabilityTopic      string     `json:"availability_topic"`
	AvailabilityMode       string     `json:"availability_mode,omitempty"`
	PayloadAvailable       string     `json:"payload_available"`
	PayloadNotAvailable    string     `json:"payload_not_available"`
	JSONAttributesTemplate string     `json:"json_attributes_template,omitempty"`
	EntityCategory         string     `json:"entity_category,omitempty"`
}

// DeviceInfo information about the device
type DeviceInfo struct {
	Name         string   `json:"name"`
	Identifiers  []string `json:"identifiers"`
	Manufacturer string   `json:"manufacturer"`
	Model        string   `json:"model"`
	SWVersion    string   `json:"sw_version,omitempty"`
}

// InstrumentInfo describes one instrument to the publisher
type InstrumentInfo struct {
	ID             string // Config key, used in topics
	Name           string
	Address        int
	Model          string
	Identification string // *IDN? answer, may be empty
}

// NewInstrumentInfo builds the publisher's view of a configured instrument
func NewInstrumentInfo(inst config.InstrumentConfig) InstrumentInfo {
	return InstrumentInfo{
		ID:      inst.ID,
		Name:    inst.Name,
		Address: inst.Address,
		Model:   inst.GetModel(),
	}
}

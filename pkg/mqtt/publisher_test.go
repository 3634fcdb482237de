package mqtt

import (
	"context"
	"encoding/json"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gpib-load-bridge/pkg/config"
	"gpib-load-bridge/pkg/hp6060b"
	"gpib-load-bridge/pkg/mqtt/mqtttest"
)

func testSettings() config.TelemetrySettings {
	return config.TelemetrySettings{
		BaseTopic:       "lab/loads",
		DiscoveryPrefix: "homeassistant",
		StatusTopic:     "lab/loads/status",
		DiagnosticTopic: "lab/loads/diagnostic",
		AcceptCommands:  true,
	}
}

func newTestPublisher(t *testing.T, settings config.TelemetrySettings) (*Publisher, *mqtttest.Client) {
	t.Helper()
	client := mqtttest.NewClient()
	p := newPublisher(client, &config.MQTTConfig{Broker: "b", Port: 1883, ClientID: "bridge", RetryDelay: 5}, settings)
	require.NoError(t, p.Connect(context.Background()))
	return p, client
}

var testInstrument = InstrumentInfo{
	ID:             "load1",
	Name:           "Load 1",
	Address:        5,
	Model:          "6060B",
	Identification: "HEWLETT-PACKARD,6060B,0,A.00.00",
}

func TestPublishStatus(t *testing.T) {
	p, client := newTestPublisher(t, testSettings())
	ctx := context.Background()

	require.NoError(t, p.PublishStatusOnline(ctx))
	msg := client.Find("lab/loads/status")
	require.NotNil(t, msg)
	assert.Equal(t, "online", string(msg.Body))
	assert.True(t, msg.Retain)

	require.NoError(t, p.PublishStatusOffline(ctx))
	assert.Equal(t, "offline", string(client.Find("lab/loads/status").Body))
}

func TestPublishReading(t *testing.T) {
	p, client := newTestPublisher(t, testSettings())

	reading := hp6060b.Reading{Voltage: 12, Current: 2, Power: 24, Mode: hp6060b.ModeCurrent, LoadState: true}
	require.NoError(t, p.PublishReading(context.Background(), testInstrument, reading))

	msg := client.Find("lab/loads/load1/state")
	require.NotNil(t, msg)

	var state InstrumentState
	require.NoError(t, json.Unmarshal(msg.Body, &state))
	assert.Equal(t, "load1", state.Instrument)
	assert.Equal(t, 5, state.Address)
	assert.Equal(t, 12.0, state.Voltage)
	assert.Equal(t, 24.0, state.Power)
	assert.Equal(t, "current", state.Mode)
	assert.True(t, state.LoadOn)
	assert.WithinDuration(t, time.Now(), state.Timestamp, time.Minute)
}

func TestPublishReadingRejectsNaN(t *testing.T) {
	p, client := newTestPublisher(t, testSettings())

	err := p.PublishReading(context.Background(), testInstrument, hp6060b.Reading{Voltage: math.NaN()})
	assert.Error(t, err)
	assert.Nil(t, client.Find("lab/loads/load1/state"))
}

func TestPublishInstrumentDiscovery(t *testing.T) {
	p, client := newTestPublisher(t, testSettings())

	require.NoError(t, p.PublishInstrumentDiscovery(context.Background(), testInstrument))

	voltage := client.Find("homeassistant/sensor/bridge_load1/bridge_load1_voltage/config")
	require.NotNil(t, voltage)
	assert.True(t, voltage.Retain)

	var cfg SensorConfig
	require.NoError(t, json.Unmarshal(voltage.Body, &cfg))
	assert.Equal(t, "Load 1 Voltage", cfg.Name)
	assert.Equal(t, "bridge_load1_voltage", cfg.UniqueID)
	assert.Equal(t, "lab/loads/load1/state", cfg.StateTopic)
	assert.Equal(t, "V", cfg.UnitOfMeasurement)
	assert.Equal(t, "lab/loads/status", cfg.AvailabilityTopic)
	assert.Equal(t, "HEWLETT-PACKARD", cfg.Device.Manufacturer)
	assert.Equal(t, "A.00.00", cfg.Device.SWVersion)

	sw := client.Find("homeassistant/switch/bridge_load1/bridge_load1_input_switch/config")
	require.NotNil(t, sw)
	require.NoError(t, json.Unmarshal(sw.Body, &cfg))
	assert.Equal(t, "lab/loads/load1/set/load", cfg.CommandTopic)

	assert.Len(t, client.Messages(), len(instrumentEntities)+len(commandEntities))
}

func TestDiscoveryDisabled(t *testing.T) {
	settings := testSettings()
	settings.DiscoveryPrefix = ""
	p, client := newTestPublisher(t, settings)
	ctx := context.Background()

	require.NoError(t, p.PublishInstrumentDiscovery(ctx, testInstrument))
	require.NoError(t, p.PublishDiagnosticDiscovery(ctx))
	require.NoError(t, p.PublishInstrumentDiagnosticDiscovery(ctx, testInstrument))
	assert.Empty(t, client.Messages())
}

func TestDiscoveryWithoutCommands(t *testing.T) {
	settings := testSettings()
	settings.AcceptCommands = false
	p, client := newTestPublisher(t, settings)

	require.NoError(t, p.PublishInstrumentDiscovery(context.Background(), testInstrument))
	for _, m := range client.Messages() {
		assert.False(t, strings.Contains(m.TopicName, "/switch/"), m.TopicName)
	}
}

func TestPublishDiagnostic(t *testing.T) {
	p, client := newTestPublisher(t, testSettings())

	require.NoError(t, p.PublishDiagnostic(context.Background(), 3, "GPIB 5 (MEAS:VOLT?): timeout"))

	msg := client.Find("lab/loads/diagnostic")
	require.NotNil(t, msg)
	var d Diagnostic
	require.NoError(t, json.Unmarshal(msg.Body, &d))
	assert.Equal(t, 3, d.Code)
	assert.Equal(t, "GPIB 5 (MEAS:VOLT?): timeout", d.Message)

	assert.Error(t, p.PublishDiagnostic(context.Background(), 3, ""))
}

func TestPublishWhenDisconnected(t *testing.T) {
	client := mqtttest.NewClient()
	p := newPublisher(client, &config.MQTTConfig{ClientID: "bridge"}, testSettings())

	assert.Error(t, p.PublishStatusOnline(context.Background()))
	assert.Error(t, p.PublishReading(context.Background(), testInstrument, hp6060b.Reading{}))
}

func TestPublishInstrumentDiagnosticState(t *testing.T) {
	p, client := newTestPublisher(t, testSettings())

	metrics := &InstrumentMetrics{
		TotalReads:        4,
		SuccessfulReads:   3,
		FailedReads:       1,
		TotalResponseTime: 300 * time.Millisecond,
		LastError:         "read timeout",
		LastErrorTime:     time.Now(),
		CurrentState:      StateWarning,
	}
	require.NoError(t, p.PublishInstrumentDiagnosticState(context.Background(), "load1", metrics))

	msg := client.Find("lab/loads/load1/diagnostic")
	require.NotNil(t, msg)
	var state InstrumentDiagnosticState
	require.NoError(t, json.Unmarshal(msg.Body, &state))
	assert.Equal(t, StateWarning, state.State)
	assert.Equal(t, 75.0, state.SuccessRate)
	assert.Equal(t, int64(100), state.AvgResponseMs)
	assert.Equal(t, "read timeout", state.LastError)
}

func TestCalculateInstrumentState(t *testing.T) {
	thresholds := &config.DiagnosticThresholdsConfig{
		WarningSuccessRate:       95,
		ErrorSuccessRate:         50,
		WarningConsecutiveErrors: 3,
		ErrorConsecutiveErrors:   10,
		OfflineTimeout:           60,
	}
	now := time.Now()

	tests := []struct {
		name    string
		metrics InstrumentMetrics
		want    string
	}{
		{"no reads", InstrumentMetrics{}, StateOperational},
		{"all good", InstrumentMetrics{TotalReads: 100, SuccessfulReads: 100, LastSuccessTime: now}, StateOperational},
		{"warning rate", InstrumentMetrics{TotalReads: 100, SuccessfulReads: 90, LastSuccessTime: now}, StateWarning},
		{"warning streak", InstrumentMetrics{TotalReads: 100, SuccessfulReads: 97, ConsecutiveErrors: 3, LastSuccessTime: now}, StateWarning},
		{"error rate", InstrumentMetrics{TotalReads: 100, SuccessfulReads: 40, LastSuccessTime: now}, StateError},
		{"error streak", InstrumentMetrics{TotalReads: 100, SuccessfulReads: 96, ConsecutiveErrors: 10, LastSuccessTime: now}, StateError},
		{"stale success", InstrumentMetrics{TotalReads: 10, SuccessfulReads: 10, LastSuccessTime: now.Add(-2 * time.Minute)}, StateOffline},
		{"never answered", InstrumentMetrics{TotalReads: 5, FailedReads: 5, LastReadTime: now.Add(-2 * time.Minute)}, StateOffline},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CalculateInstrumentState(&tt.metrics, thresholds, now)
			if got != tt.want {
				t.Errorf("Expected %s, got %s", tt.want, got)
			}
		})
	}
}

package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"gpib-load-bridge/pkg/config"
	"gpib-load-bridge/pkg/logger"
)

// Instrument diagnostic states
const (
	StateOperational = "operational"
	StateWarning     = "warning"
	StateError       = "error"
	StateOffline     = "offline"
)

// InstrumentMetrics represents metrics tracked per instrument
type InstrumentMetrics struct {
	LastReadTime      time.Time
	LastSuccessTime   time.Time
	ConsecutiveErrors int
	TotalReads        int64
	SuccessfulReads   int64
	FailedReads       int64
	TotalResponseTime time.Duration
	LastError         string
	LastErrorTime     time.Time
	CurrentState      string
}

// InstrumentDiagnosticState represents the state payload for the instrument diagnostic sensor
type InstrumentDiagnosticState struct {
	State             string  `json:"state"`
	LastRead          string  `json:"last_read,omitempty"`
	LastSuccess       string  `json:"last_success,omitempty"`
	ConsecutiveErrors int     `json:"consecutive_errors"`
	TotalReads        int64   `json:"total_reads"`
	SuccessfulReads   int64   `json:"successful_reads"`
	FailedReads       int64   `json:"failed_reads"`
	SuccessRate       float64 `json:"success_rate"`
	AvgResponseMs     int64   `json:"avg_response_ms,omitempty"`
	LastError         string  `json:"last_error,omitempty"`
	LastErrorTime     string  `json:"last_error_time,omitempty"`
}

// PublishInstrumentDiagnosticDiscovery publishes discovery configuration for an instrument diagnostic sensor
func (p *Publisher) PublishInstrumentDiagnosticDiscovery(ctx context.Context, inst InstrumentInfo) error {
	if !p.factory.DiscoveryEnabled() {
		return nil
	}
	if !p.client.IsConnected() {
		return fmt.Errorf("client is not connected")
	}

	deviceID := p.factory.DeviceID(inst.ID)
	discoveryTopic := p.factory.BuildDiscoveryTopic("sensor", deviceID, "diagnostic")

	sensorConfig := SensorConfig{
		Name:                   inst.Name + " Diagnostic",
		UniqueID:               p.factory.BuildUniqueID(deviceID, "diagnostic"),
		StateTopic:             p.factory.BuildInstrumentDiagnosticStateTopic(inst.ID),
		DeviceClass:            "enum",
		Options:                []string{StateOperational, StateWarning, StateError, StateOffline},
		Device:                 p.deviceInfo(inst),
		ValueTemplate:          "{{ value_json.state }}",
		AvailabilityTopic:      p.settings.StatusTopic,
		AvailabilityMode:       "latest",
		PayloadAvailable:       StatusOnline,
		PayloadNotAvailable:    StatusOffline,
		JSONAttributesTemplate: "{{ value_json | tojson }}",
		EntityCategory:         "diagnostic",
	}

	configJSON, err := json.Marshal(sensorConfig)
	if err != nil {
		return fmt.Errorf("error serializing instrument diagnostic configuration: %w", err)
	}

	logger.LogDebug("📡 Publishing instrument diagnostic discovery for %s: %s", inst.ID, discoveryTopic)

	token := p.client.Publish(discoveryTopic, 0, true, configJSON)
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("error publishing instrument diagnostic discovery: %w", token.Error())
	}
	return nil
}

// PublishInstrumentDiagnosticState publishes instrument diagnostic state
func (p *Publisher) PublishInstrumentDiagnosticState(ctx context.Context, instrumentID string, metrics *InstrumentMetrics) error {
	if !p.client.IsConnected() {
		return fmt.Errorf("client not connected")
	}

	state := NewInstrumentDiagnosticState(metrics)
	payload, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("error marshaling instrument diagnostic state: %w", err)
	}

	stateTopic := p.factory.BuildInstrumentDiagnosticStateTopic(instrumentID)
	if err := wait(ctx, p.client.Publish(stateTopic, 0, false, payload), "instrument diagnostic state"); err != nil {
		return err
	}

	logger.LogDebug("📊 Published instrument diagnostic for %s: state=%s, success_rate=%.1f%%",
		instrumentID, state.State, state.SuccessRate)
	return nil
}

// NewInstrumentDiagnosticState builds the published payload from metrics
func NewInstrumentDiagnosticState(metrics *InstrumentMetrics) InstrumentDiagnosticState {
	state := InstrumentDiagnosticState{
		State:             metrics.CurrentState,
		ConsecutiveErrors: metrics.ConsecutiveErrors,
		TotalReads:        metrics.TotalReads,
		SuccessfulReads:   metrics.SuccessfulReads,
		FailedReads:       metrics.FailedReads,
		SuccessRate:       successRate(metrics),
	}

	if metrics.SuccessfulReads > 0 {
		state.AvgResponseMs = metrics.TotalResponseTime.Milliseconds() / metrics.SuccessfulReads
	}
	if !metrics.LastReadTime.IsZero() {
		state.LastRead = metrics.LastReadTime.Format(time.RFC3339)
	}
	if !metrics.LastSuccessTime.IsZero() {
		state.LastSuccess = metrics.LastSuccessTime.Format(time.RFC3339)
	}
	if metrics.LastError != "" {
		state.LastError = metrics.LastError
		if !metrics.LastErrorTime.IsZero() {
			state.LastErrorTime = metrics.LastErrorTime.Format(time.RFC3339)
		}
	}
	return state
}

func successRate(metrics *InstrumentMetrics) float64 {
	if metrics.TotalReads == 0 {
		return 0
	}
	return float64(metrics.SuccessfulReads) / float64(metrics.TotalReads) * 100.0
}

// CalculateInstrumentState determines instrument state based on metrics and thresholds
func CalculateInstrumentState(metrics *InstrumentMetrics, thresholds *config.DiagnosticThresholdsConfig, now time.Time) string {
	offlineAfter := time.Duration(thresholds.OfflineTimeout) * time.Second

	if !metrics.LastSuccessTime.IsZero() {
		if now.Sub(metrics.LastSuccessTime) > offlineAfter {
			return StateOffline
		}
	} else if metrics.TotalReads > 0 && !metrics.LastReadTime.IsZero() {
		// Never answered
		if now.Sub(metrics.LastReadTime) > offlineAfter {
			return StateOffline
		}
	}

	if metrics.TotalReads == 0 {
		return StateOperational
	}

	rate := successRate(metrics)
	if rate < thresholds.ErrorSuccessRate || metrics.ConsecutiveErrors >= thresholds.ErrorConsecutiveErrors {
		return StateError
	}
	if rate < thresholds.WarningSuccessRate || metrics.ConsecutiveErrors >= thresholds.WarningConsecutiveErrors {
		return StateWarning
	}
	return StateOperational
}

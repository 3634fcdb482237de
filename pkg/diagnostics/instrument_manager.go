package diagnostics

import (
	"context"
	"fmt"
	"sync"
	"time"

	"gpib-load-bridge/pkg/config"
	"gpib-load-bridge/pkg/logger"
	"gpib-load-bridge/pkg/mqtt"
)

// InstrumentManager tracks per-instrument read statistics and publishes
// the instrument diagnostic sensor when its state changes or its interval elapses.
type InstrumentManager struct {
	publisher   mqtt.InstrumentDiagnosticPublisher
	settings    config.DiagnosticSettings
	instruments []mqtt.InstrumentInfo
	metrics     map[string]*mqtt.InstrumentMetrics
	lastState   map[string]string
	lastPublish map[string]time.Time
	now         func() time.Time
	mu          sync.Mutex
}

// NewInstrumentManager creates a new instrument diagnostic manager
func NewInstrumentManager(publisher mqtt.InstrumentDiagnosticPublisher, settings config.DiagnosticSettings, instruments []mqtt.InstrumentInfo) *InstrumentManager {
	manager := &InstrumentManager{
		publisher:   publisher,
		settings:    settings,
		instruments: instruments,
		metrics:     make(map[string]*mqtt.InstrumentMetrics),
		lastState:   make(map[string]string),
		lastPublish: make(map[string]time.Time),
		now:         time.Now,
	}

	for _, inst := range instruments {
		manager.metrics[inst.ID] = &mqtt.InstrumentMetrics{CurrentState: mqtt.StateOperational}
	}
	return manager
}

// RecordSuccess records a successful poll with its response time
func (m *InstrumentManager) RecordSuccess(instrumentID string, responseTime time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	metrics := m.metricsFor(instrumentID)
	now := m.now()
	metrics.LastReadTime = now
	metrics.LastSuccessTime = now
	metrics.ConsecutiveErrors = 0
	metrics.TotalReads++
	metrics.SuccessfulReads++
	metrics.TotalResponseTime += responseTime
}

// RecordError records a failed poll
func (m *InstrumentManager) RecordError(instrumentID string, errorMsg string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	metrics := m.metricsFor(instrumentID)
	now := m.now()
	metrics.LastReadTime = now
	metrics.ConsecutiveErrors++
	metrics.TotalReads++
	metrics.FailedReads++
	metrics.LastError = errorMsg
	metrics.LastErrorTime = now
}

// metricsFor must be called with mu held
func (m *InstrumentManager) metricsFor(instrumentID string) *mqtt.InstrumentMetrics {
	metrics, exists := m.metrics[instrumentID]
	if !exists {
		metrics = &mqtt.InstrumentMetrics{CurrentState: mqtt.StateOperational}
		m.metrics[instrumentID] = metrics
	}
	return metrics
}

// PublishDiscoveryForAllInstruments publishes discovery for every instrument diagnostic sensor
func (m *InstrumentManager) PublishDiscoveryForAllInstruments(ctx context.Context) {
	for _, inst := range m.instruments {
		if err := m.publisher.PublishInstrumentDiagnosticDiscovery(ctx, inst); err != nil {
			logger.LogWarn("⚠️ Error publishing instrument diagnostic discovery for %s: %v", inst.ID, err)
			continue
		}
		logger.LogDebug("📊 Published instrument diagnostic discovery for %s", inst.ID)
	}
}

// StartDiagnosticsLoop publishes diagnostics every tick until ctx is done
func (m *InstrumentManager) StartDiagnosticsLoop(ctx context.Context, tick time.Duration) {
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	logger.LogInfo("📊 Instrument diagnostics loop started")

	for {
		select {
		case <-ctx.Done():
			logger.LogDebug("📊 Instrument diagnostics loop stopped")
			return
		case <-ticker.C:
			m.PublishDiagnostics(ctx)
		}
	}
}

// PublishDiagnostics publishes the state of every instrument whose state changed
// or whose per-state interval elapsed. The broker is not waited on under mu.
func (m *InstrumentManager) PublishDiagnostics(ctx context.Context) {
	type pending struct {
		id       string
		snapshot mqtt.InstrumentMetrics
	}

	m.mu.Lock()
	now := m.now()
	var due []pending
	for instrumentID, metrics := range m.metrics {
		newState := mqtt.CalculateInstrumentState(metrics, &m.settings.Thresholds, now)
		lastState := m.lastState[instrumentID]

		shouldPublish := newState != lastState
		if shouldPublish {
			if m.settings.PublishOnStateChange && lastState != "" {
				logger.LogInfo("📊 Instrument %s state changed: %s → %s", instrumentID, lastState, newState)
			}
		} else if now.Sub(m.lastPublish[instrumentID]) >= m.intervalForState(newState) {
			shouldPublish = true
		}

		if !shouldPublish {
			continue
		}

		metrics.CurrentState = newState
		due = append(due, pending{id: instrumentID, snapshot: *metrics})
	}
	m.mu.Unlock()

	for _, p := range due {
		if err := m.publisher.PublishInstrumentDiagnosticState(ctx, p.id, &p.snapshot); err != nil {
			logger.LogWarn("⚠️ Error publishing instrument diagnostic for %s: %v", p.id, err)
			continue
		}

		m.mu.Lock()
		m.lastState[p.id] = p.snapshot.CurrentState
		m.lastPublish[p.id] = now
		m.mu.Unlock()
	}
}

// intervalForState returns the republish interval for a state
func (m *InstrumentManager) intervalForState(state string) time.Duration {
	intervals := &m.settings.Intervals

	switch state {
	case mqtt.StateOperational:
		return time.Duration(intervals.Operational) * time.Second
	case mqtt.StateWarning:
		return time.Duration(intervals.Warning) * time.Second
	case mqtt.StateError:
		return time.Duration(intervals.Error) * time.Second
	case mqtt.StateOffline:
		return time.Duration(intervals.Offline) * time.Second
	default:
		return 60 * time.Second
	}
}

// Report returns a copy of every instrument's metrics with CurrentState evaluated now
func (m *InstrumentManager) Report() map[string]mqtt.InstrumentMetrics {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	report := make(map[string]mqtt.InstrumentMetrics, len(m.metrics))
	for id, metrics := range m.metrics {
		snapshot := *metrics
		snapshot.CurrentState = mqtt.CalculateInstrumentState(metrics, &m.settings.Thresholds, now)
		report[id] = snapshot
	}
	return report
}

// GetMetrics returns a copy of the metrics of one instrument
func (m *InstrumentManager) GetMetrics(instrumentID string) (*mqtt.InstrumentMetrics, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	metrics, exists := m.metrics[instrumentID]
	if !exists {
		return nil, fmt.Errorf("instrument %s not found", instrumentID)
	}

	metricsCopy := *metrics
	return &metricsCopy, nil
}

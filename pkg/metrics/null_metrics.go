package metrics

import "time"

// NullMetrics is a no-op implementation of MetricsCollector.
// Use this when metrics are disabled (metrics_port = 0).
type NullMetrics struct{}

// NewNullMetrics creates a new NullMetrics instance
func NewNullMetrics() *NullMetrics {
	return &NullMetrics{}
}

func (nm *NullMetrics) IncrementInstrumentReads(instrumentID string)   {}
func (nm *NullMetrics) IncrementInstrumentErrors(instrumentID string)  {}
func (nm *NullMetrics) IncrementCommands(instrumentID string, ok bool) {}
func (nm *NullMetrics) IncrementMQTTPublishes()                        {}
func (nm *NullMetrics) IncrementMQTTErrors()                           {}
func (nm *NullMetrics) SetBusStatus(online bool)                       {}
func (nm *NullMetrics) ObserveReadDuration(duration time.Duration)     {}

// StartMetricsServer is a no-op (always returns nil)
func (nm *NullMetrics) StartMetricsServer(port int) error {
	return nil
}

var _ MetricsCollector = (*NullMetrics)(nil)

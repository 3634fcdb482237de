package metrics

import "time"

// MetricsCollector defines the interface for collecting application metrics.
//
// Implementations:
//   - PrometheusMetrics: Prometheus text exposition with an HTTP server
//   - NullMetrics: no-op implementation when metrics are disabled
type MetricsCollector interface {
	// IncrementInstrumentReads counts a successful poll of one instrument
	IncrementInstrumentReads(instrumentID string)

	// IncrementInstrumentErrors counts a failed poll of one instrument
	IncrementInstrumentErrors(instrumentID string)

	// IncrementCommands counts an executed MQTT command by outcome
	IncrementCommands(instrumentID string, ok bool)

	// IncrementMQTTPublishes increments the counter for successful MQTT publish operations
	IncrementMQTTPublishes()

	// IncrementMQTTErrors increments the counter for failed MQTT publish operations
	IncrementMQTTErrors()

	// SetBusStatus sets whether the GPIB controller is answering
	SetBusStatus(online bool)

	// ObserveReadDuration records how long one instrument poll took
	ObserveReadDuration(duration time.Duration)

	// StartMetricsServer starts an HTTP server exposing /metrics; port 0 disables it
	StartMetricsServer(port int) error
}

var _ MetricsCollector = (*PrometheusMetrics)(nil)

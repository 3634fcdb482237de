package mqtt

import (
	"context"

	"gpib-load-bridge/pkg/hp6060b"
)

// ReadingPublisher publishes instrument discovery and readings.
// The polling service depends on this interface only.
type ReadingPublisher interface {
	PublishInstrumentDiscovery(ctx context.Context, inst InstrumentInfo) error
	PublishReading(ctx context.Context, inst InstrumentInfo, reading hp6060b.Reading) error
}

// StatusPublisher publishes bridge availability
type StatusPublisher interface {
	PublishStatusOnline(ctx context.Context) error
	PublishStatusOffline(ctx context.Context) error
}

// DiagnosticPublisher publishes bridge diagnostics; it satisfies errors.DiagnosticPublisher
type DiagnosticPublisher interface {
	PublishDiagnostic(ctx context.Context, code int, message string) error
	PublishDiagnosticDiscovery(ctx context.Context) error
}

// InstrumentDiagnosticPublisher publishes the per-instrument diagnostic sensor
type InstrumentDiagnosticPublisher interface {
	PublishInstrumentDiagnosticDiscovery(ctx context.Context, inst InstrumentInfo) error
	PublishInstrumentDiagnosticState(ctx context.Context, instrumentID string, metrics *InstrumentMetrics) error
}

// ConnectionManager manages the broker connection
type ConnectionManager interface {
	Connect(ctx context.Context) error
	Disconnect()
}

// BridgePublisher is everything the bridge publishes
type BridgePublisher interface {
	ReadingPublisher
	StatusPublisher
	DiagnosticPublisher
	InstrumentDiagnosticPublisher
	ConnectionManager
}

var (
	_ ReadingPublisher              = (*Publisher)(nil)
	_ StatusPublisher               = (*Publisher)(nil)
	_ DiagnosticPublisher           = (*Publisher)(nil)
	_ InstrumentDiagnosticPublisher = (*Publisher)(nil)
	_ ConnectionManager             = (*Publisher)(nil)
	_ BridgePublisher               = (*Publisher)(nil)
)

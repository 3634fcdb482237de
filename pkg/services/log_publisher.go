package services

import (
	"context"

	"gpib-load-bridge/pkg/hp6060b"
	"gpib-load-bridge/pkg/logger"
	"gpib-load-bridge/pkg/mqtt"
)

// LogPublisher writes readings to the log; used when no broker is configured
type LogPublisher struct{}

func (LogPublisher) PublishInstrumentDiscovery(ctx context.Context, inst mqtt.InstrumentInfo) error {
	return nil
}

func (LogPublisher) PublishReading(ctx context.Context, inst mqtt.InstrumentInfo, r hp6060b.Reading) error {
	input := "off"
	if r.LoadState {
		input = "on"
	}
	logger.LogInfo("📈 %s (GPIB %d): %.3f V, %.3f A, %.3f W, %s mode, input %s",
		inst.Name, inst.Address, r.Voltage, r.Current, r.Power, r.Mode, input)
	return nil
}

func (LogPublisher) PublishStatusOnline(ctx context.Context) error {
	logger.LogDebug("🟢 Status: online")
	return nil
}

func (LogPublisher) PublishStatusOffline(ctx context.Context) error {
	logger.LogDebug("🔴 Status: offline")
	return nil
}

func (LogPublisher) PublishDiagnostic(ctx context.Context, code int, message string) error {
	logger.LogDebug("🩺 Diagnostic %d: %s", code, message)
	return nil
}

var _ Publisher = LogPublisher{}
var _ Publisher = (*mqtt.Publisher)(nil)

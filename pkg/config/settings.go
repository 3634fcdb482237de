package config

import "time"

// BusSettings contains only bus-specific configuration
// Used for dependency injection to avoid coupling to full Config
type BusSettings struct {
	Kind        string
	Host        string
	Port        int
	SerialPort  string
	CmdTopic    string
	DataTopic   string
	ReadTimeout time.Duration
}

// NewBusSettings extracts bus settings from full config
func NewBusSettings(cfg *Config) BusSettings {
	return BusSettings{
		Kind:        cfg.Bus.Kind,
		Host:        cfg.Bus.Host,
		Port:        cfg.Bus.Port,
		SerialPort:  cfg.Bus.SerialPort,
		CmdTopic:    cfg.Bus.CmdTopic,
		DataTopic:   cfg.Bus.DataTopic,
		ReadTimeout: time.Duration(cfg.Bus.ReadTimeout) * time.Millisecond,
	}
}

// PollingSettings contains polling loop configuration
type PollingSettings struct {
	Instruments      []InstrumentConfig // Enabled instruments with a poll interval, stable order
	ErrorGracePeriod time.Duration
}

// NewPollingSettings extracts polling settings from full config
func NewPollingSettings(cfg *Config) PollingSettings {
	settings := PollingSettings{
		ErrorGracePeriod: time.Duration(cfg.Health.ErrorGracePeriod) * time.Second,
	}
	if settings.ErrorGracePeriod == 0 {
		settings.ErrorGracePeriod = 15 * time.Second
	}
	for _, key := range SortedInstrumentKeys(cfg.Instruments) {
		inst := cfg.Instruments[key]
		if inst.IsEnabled() && inst.PollInterval > 0 {
			settings.Instruments = append(settings.Instruments, inst)
		}
	}
	return settings
}

// TelemetrySettings contains MQTT publishing configuration
type TelemetrySettings struct {
	BaseTopic         string
	DiscoveryPrefix   string
	StatusTopic       string
	DiagnosticTopic   string
	HeartbeatInterval time.Duration
	AcceptCommands    bool
}

// NewTelemetrySettings extracts telemetry settings from full config
func NewTelemetrySettings(cfg *Config) TelemetrySettings {
	return TelemetrySettings{
		BaseTopic:         cfg.Telemetry.BaseTopic,
		DiscoveryPrefix:   cfg.Telemetry.DiscoveryPrefix,
		StatusTopic:       cfg.Telemetry.StatusTopic,
		DiagnosticTopic:   cfg.Telemetry.DiagnosticTopic,
		HeartbeatInterval: time.Duration(cfg.Telemetry.HeartbeatInterval) * time.Second,
		AcceptCommands:    cfg.Telemetry.AcceptCommands,
	}
}

// DiagnosticSettings contains per-instrument diagnostic configuration
type DiagnosticSettings struct {
	Enabled              bool
	PublishOnStateChange bool
	Intervals            DiagnosticIntervalsConfig
	Thresholds           DiagnosticThresholdsConfig
}

// NewDiagnosticSettings extracts diagnostic settings from full config
func NewDiagnosticSettings(cfg *Config) DiagnosticSettings {
	return DiagnosticSettings{
		Enabled:              cfg.Diagnostics.Enabled,
		PublishOnStateChange: cfg.Diagnostics.PublishOnStateChange,
		Intervals:            cfg.Diagnostics.Intervals,
		Thresholds:           cfg.Diagnostics.Thresholds,
	}
}

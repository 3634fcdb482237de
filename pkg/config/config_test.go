package config

import (
	"os"
	"strings"
	"testing"
	"time"
)

const validConfig = `
version: "1.0"
bus:
  kind: "tcp"
  host: "10.0.0.5"
  read_timeout: 2500
  circuit_breaker:
    enabled: true
    max_failures: 4
    timeout: 20

mqtt:
  broker: "localhost"
  port: 1883
  client_id: "lab-loads"

telemetry:
  base_topic: "lab/loads"
  discovery_prefix: "homeassistant"
  accept_commands: true

instruments:
  load1:
    address: 5
    poll_interval: 1000
    reset_on_start: true
  load2:
    name: "Battery Load"
    address: 6
    poll_interval: 5000
    enabled: false

health:
  port: 8080
  error_grace_period: 30

logging:
  level: "debug"
`

// TestConfigLoading tests configuration file loading
func TestConfigLoading(t *testing.T) {
	tmpFile, err := os.CreateTemp(t.TempDir(), "config-*.yaml")
	if err != nil {
		t.Fatalf("Failed to create temp file: %v", err)
	}
	if _, err := tmpFile.WriteString(validConfig); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
	tmpFile.Close()

	cfg, err := LoadConfig(tmpFile.Name())
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Bus.Port != DefaultPrologixPort {
		t.Errorf("Expected default Prologix port %d, got %d", DefaultPrologixPort, cfg.Bus.Port)
	}
	if cfg.Telemetry.StatusTopic != "lab/loads/status" {
		t.Errorf("Expected derived status topic, got '%s'", cfg.Telemetry.StatusTopic)
	}
	if cfg.Instruments["load1"].Name != "load1" {
		t.Errorf("Expected name to default to key, got '%s'", cfg.Instruments["load1"].Name)
	}
	load2 := cfg.Instruments["load2"]
	if load2.IsEnabled() {
		t.Error("Expected load2 to be disabled")
	}
	if !cfg.TelemetryEnabled() {
		t.Error("Expected telemetry to be enabled with a broker configured")
	}
}

// TestSettingsExtraction tests the per-concern settings
func TestSettingsExtraction(t *testing.T) {
	cfg, err := LoadConfigFromString(validConfig)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	bus := NewBusSettings(cfg)
	if bus.ReadTimeout != 2500*time.Millisecond {
		t.Errorf("Expected 2.5s read timeout, got %v", bus.ReadTimeout)
	}

	polling := NewPollingSettings(cfg)
	if len(polling.Instruments) != 1 || polling.Instruments[0].Address != 5 {
		t.Errorf("Expected only load1 to be polled, got %+v", polling.Instruments)
	}
	if polling.ErrorGracePeriod != 30*time.Second {
		t.Errorf("Expected 30s grace period, got %v", polling.ErrorGracePeriod)
	}

	telemetry := NewTelemetrySettings(cfg)
	if !telemetry.AcceptCommands || telemetry.HeartbeatInterval != time.Minute {
		t.Errorf("Unexpected telemetry settings: %+v", telemetry)
	}
}

// TestConfigValidation tests rejected configurations
func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name: "unknown bus kind",
			yaml: `
version: "1.0"
bus: {kind: "usbtmc"}
instruments: {a: {address: 1}}
`,
			wantErr: "bus.kind",
		},
		{
			name: "tcp without host",
			yaml: `
version: "1.0"
bus: {kind: "tcp"}
instruments: {a: {address: 1}}
`,
			wantErr: "bus.host",
		},
		{
			name: "mqtt bus without broker",
			yaml: `
version: "1.0"
bus: {kind: "mqtt", cmd_topic: "c", data_topic: "d"}
instruments: {a: {address: 1}}
`,
			wantErr: "mqtt.broker",
		},
		{
			name: "serial without port",
			yaml: `
version: "1.0"
bus: {kind: "serial"}
instruments: {a: {address: 1}}
`,
			wantErr: "bus.serial_port",
		},
		{
			name: "address out of range",
			yaml: `
version: "1.0"
bus: {kind: "tcp", host: "x"}
instruments: {a: {address: 31}}
`,
			wantErr: "GPIB address 31",
		},
		{
			name: "duplicate address",
			yaml: `
version: "1.0"
bus: {kind: "tcp", host: "x"}
instruments: {a: {address: 4}, b: {address: 4}}
`,
			wantErr: "share GPIB address 4",
		},
		{
			name: "no instruments",
			yaml: `
version: "1.0"
bus: {kind: "tcp", host: "x"}
`,
			wantErr: "no instruments",
		},
		{
			name: "wrong version",
			yaml: `
version: "2.1"
bus: {kind: "tcp", host: "x"}
instruments: {a: {address: 1}}
`,
			wantErr: "incompatible configuration version",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfigFromString(tt.yaml)
			if err == nil {
				t.Fatalf("Expected error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

// TestMissingVersionDefaults tests that an unversioned file is accepted
func TestMissingVersionDefaults(t *testing.T) {
	cfg, err := LoadConfigFromString(`
bus: {kind: "serial", serial_port: "/dev/ttyUSB0"}
instruments: {load: {address: 5}}
`)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	if cfg.Version != CurrentVersion {
		t.Errorf("Expected version %s, got %s", CurrentVersion, cfg.Version)
	}
	if cfg.TelemetryEnabled() {
		t.Error("Expected telemetry disabled without broker")
	}
}

// TestExampleConfig keeps the shipped example loadable
func TestExampleConfig(t *testing.T) {
	cfg, err := LoadConfig("../../config.example.yaml")
	if err != nil {
		t.Fatalf("Failed to load example config: %v", err)
	}
	if len(cfg.Instruments) != 3 {
		t.Errorf("Expected 3 instruments, got %d", len(cfg.Instruments))
	}
	if polled := NewPollingSettings(cfg).Instruments; len(polled) != 2 {
		t.Errorf("Expected 2 polled instruments, got %d", len(polled))
	}
	if !cfg.Bus.CircuitBreaker.Enabled {
		t.Error("Expected circuit breaker enabled in example")
	}
}

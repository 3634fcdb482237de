package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"gpib-load-bridge/pkg/logger"
)

// Bus kinds
const (
	BusKindTCP    = "tcp"    // Prologix GPIB-ETHERNET
	BusKindSerial = "serial" // Prologix GPIB-USB (virtual COM port)
	BusKindMQTT   = "mqtt"   // Controller RS232 tunnelled through a serial/MQTT device server
)

// DefaultPrologixPort is the TCP port of the Prologix GPIB-ETHERNET controller
const DefaultPrologixPort = 1234

// Config represents the complete application configuration
type Config struct {
	Version     string                      `yaml:"version,omitempty"`
	Bus         BusConfig                   `yaml:"bus"`
	MQTT        MQTTConfig                  `yaml:"mqtt"`
	Telemetry   TelemetryConfig             `yaml:"telemetry"`
	Instruments map[string]InstrumentConfig `yaml:"instruments"`
	Diagnostics DiagnosticsConfig           `yaml:"diagnostics"`
	Health      HealthConfig                `yaml:"health"`
	Logging     logger.LoggingConfig        `yaml:"logging"`
}

// BusConfig describes the GPIB controller and the link it is reached through
type BusConfig struct {
	Kind           string               `yaml:"kind"`
	Host           string               `yaml:"host,omitempty"`
	Port           int                  `yaml:"port,omitempty"`
	SerialPort     string               `yaml:"serial_port,omitempty"`
	CmdTopic       string               `yaml:"cmd_topic,omitempty"`  // mqtt kind: bytes towards the controller
	DataTopic      string               `yaml:"data_topic,omitempty"` // mqtt kind: bytes from the controller
	ReadTimeout    int                  `yaml:"read_timeout"`         // Milliseconds
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
}

// CircuitBreakerConfig configures fast-failing when the controller stops answering
type CircuitBreakerConfig struct {
	Enabled          bool `yaml:"enabled"`
	MaxFailures      int  `yaml:"max_failures"`
	Timeout          int  `yaml:"timeout"` // Seconds before a half-open probe
	HalfOpenMaxTries int  `yaml:"half_open_max_tries"`
}

// MQTTConfig contains MQTT broker settings
type MQTTConfig struct {
	Broker     string `yaml:"broker"`
	Port       int    `yaml:"port"`
	Username   string `yaml:"username"`
	Password   string `yaml:"password"`
	ClientID   string `yaml:"client_id"`
	RetryDelay int    `yaml:"retry_delay"` // Delay between connection retries in milliseconds
	KeepAlive  int    `yaml:"keep_alive"`  // Seconds
}

// TelemetryConfig contains the MQTT topics readings and commands are exchanged on
type TelemetryConfig struct {
	BaseTopic         string `yaml:"base_topic"`         // e.g. "lab/loads"
	DiscoveryPrefix   string `yaml:"discovery_prefix"`   // Home Assistant discovery prefix, empty disables discovery
	StatusTopic       string `yaml:"status_topic"`       // Bridge availability topic
	DiagnosticTopic   string `yaml:"diagnostic_topic"`   // Bridge diagnostics topic
	HeartbeatInterval int    `yaml:"heartbeat_interval"` // Seconds
	AcceptCommands    bool   `yaml:"accept_commands"`    // Subscribe to <base>/<instrument>/set/#
}

// DiagnosticsConfig controls the per-instrument diagnostic sensor
type DiagnosticsConfig struct {
	Enabled              bool                       `yaml:"enabled"`
	PublishOnStateChange bool                       `yaml:"publish_on_state_change"`
	Thresholds           DiagnosticThresholdsConfig `yaml:"thresholds"`
	Intervals            DiagnosticIntervalsConfig  `yaml:"intervals"`
}

// DiagnosticThresholdsConfig decides when an instrument counts as warning, error or offline
type DiagnosticThresholdsConfig struct {
	WarningSuccessRate       float64 `yaml:"warning_success_rate"`       // Percent
	ErrorSuccessRate         float64 `yaml:"error_success_rate"`         // Percent
	WarningConsecutiveErrors int     `yaml:"warning_consecutive_errors"`
	ErrorConsecutiveErrors   int     `yaml:"error_consecutive_errors"`
	OfflineTimeout           int     `yaml:"offline_timeout"` // Seconds without a successful read
}

// DiagnosticIntervalsConfig holds the republish interval per state, in seconds
type DiagnosticIntervalsConfig struct {
	Operational int `yaml:"operational"`
	Warning     int `yaml:"warning"`
	Error       int `yaml:"error"`
	Offline     int `yaml:"offline"`
}

// HealthConfig contains the HTTP endpoints and the offline grace period
type HealthConfig struct {
	Port             int `yaml:"port"`               // 0 disables /health
	MetricsPort      int `yaml:"metrics_port"`       // 0 disables /metrics
	ErrorGracePeriod int `yaml:"error_grace_period"` // Seconds
}

// LoadConfig loads configuration from specified file with version detection
func LoadConfig(configPath string) (*Config, error) {
	paths := []string{
		configPath,
		"/etc/gpib-load-bridge/config.yaml",
		"/etc/gpib-load-bridge.yaml",
		"./config.yaml",
	}

	var data []byte
	var err error
	var usedPath string

	for _, path := range paths {
		if path == "" {
			continue
		}
		// #nosec G304 - Paths are from a hardcoded list of safe configuration file locations
		data, err = os.ReadFile(path)
		if err == nil {
			usedPath = path
			break
		}
	}

	if err != nil {
		return nil, fmt.Errorf("cannot read configuration file from any of the locations: %v. Last error: %w", paths, err)
	}

	cfg, err := parse(data)
	if err != nil {
		return nil, fmt.Errorf("invalid configuration in %s: %w", usedPath, err)
	}

	logger.LogInfo("✅ Configuration loaded successfully from %s (version: %s, %d instruments)",
		usedPath, cfg.Version, len(cfg.Instruments))
	return cfg, nil
}

// LoadConfigFromString loads configuration from a YAML string (for testing)
func LoadConfigFromString(yamlContent string) (*Config, error) {
	return parse([]byte(yamlContent))
}

func parse(data []byte) (*Config, error) {
	var versionCheck VersionInfo
	if err := yaml.Unmarshal(data, &versionCheck); err != nil {
		return nil, fmt.Errorf("error parsing configuration version: %w", err)
	}

	if versionCheck.Version == "" {
		logger.LogWarn("No 'version' field in configuration, assuming %s", CurrentVersion)
		versionCheck.Version = CurrentVersion
	}
	if err := ValidateVersion(versionCheck.Version); err != nil {
		return nil, err
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("error parsing configuration: %w", err)
	}
	config.Version = versionCheck.Version
	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// applyDefaults fills in values the YAML may omit
func (c *Config) applyDefaults() {
	if c.Bus.Kind == "" {
		c.Bus.Kind = BusKindTCP
	}
	if c.Bus.Kind == BusKindTCP && c.Bus.Port == 0 {
		c.Bus.Port = DefaultPrologixPort
	}
	if c.Bus.ReadTimeout == 0 {
		c.Bus.ReadTimeout = 3000
	}
	if c.MQTT.Port == 0 {
		c.MQTT.Port = 1883
	}
	if c.MQTT.ClientID == "" {
		c.MQTT.ClientID = "gpib-load-bridge"
	}
	if c.Telemetry.BaseTopic == "" {
		c.Telemetry.BaseTopic = "gpib-load-bridge"
	}
	if c.Telemetry.StatusTopic == "" {
		c.Telemetry.StatusTopic = c.Telemetry.BaseTopic + "/status"
	}
	if c.Telemetry.DiagnosticTopic == "" {
		c.Telemetry.DiagnosticTopic = c.Telemetry.BaseTopic + "/diagnostic"
	}
	if c.Telemetry.HeartbeatInterval == 0 {
		c.Telemetry.HeartbeatInterval = 60
	}
	c.Diagnostics.applyDefaults()
	for key, inst := range c.Instruments {
		inst.ID = key
		if inst.Name == "" {
			inst.Name = key
		}
		c.Instruments[key] = inst
	}
}

func (d *DiagnosticsConfig) applyDefaults() {
	t := &d.Thresholds
	if t.WarningSuccessRate == 0 {
		t.WarningSuccessRate = 95
	}
	if t.ErrorSuccessRate == 0 {
		t.ErrorSuccessRate = 50
	}
	if t.WarningConsecutiveErrors == 0 {
		t.WarningConsecutiveErrors = 3
	}
	if t.ErrorConsecutiveErrors == 0 {
		t.ErrorConsecutiveErrors = 10
	}
	if t.OfflineTimeout == 0 {
		t.OfflineTimeout = 300
	}

	i := &d.Intervals
	if i.Operational == 0 {
		i.Operational = 300
	}
	if i.Warning == 0 {
		i.Warning = 60
	}
	if i.Error == 0 {
		i.Error = 30
	}
	if i.Offline == 0 {
		i.Offline = 600
	}
}

// TelemetryEnabled reports whether an MQTT broker is configured for readings
func (c *Config) TelemetryEnabled() bool {
	return c.MQTT.Broker != ""
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	switch c.Bus.Kind {
	case BusKindTCP:
		if c.Bus.Host == "" {
			return fmt.Errorf("bus.host is not specified")
		}
		if c.Bus.Port <= 0 || c.Bus.Port > 65535 {
			return fmt.Errorf("bus.port %d is out of range", c.Bus.Port)
		}
	case BusKindSerial:
		if c.Bus.SerialPort == "" {
			return fmt.Errorf("bus.serial_port is not specified")
		}
	case BusKindMQTT:
		if c.MQTT.Broker == "" {
			return fmt.Errorf("mqtt.broker is required for bus kind %q", BusKindMQTT)
		}
		if c.Bus.CmdTopic == "" || c.Bus.DataTopic == "" {
			return fmt.Errorf("bus.cmd_topic and bus.data_topic are required for bus kind %q", BusKindMQTT)
		}
	default:
		return fmt.Errorf("bus.kind %q is not one of %s, %s, %s", c.Bus.Kind, BusKindTCP, BusKindSerial, BusKindMQTT)
	}

	if c.Bus.ReadTimeout < 0 {
		return fmt.Errorf("bus.read_timeout must be non-negative")
	}
	if c.MQTT.Broker != "" && c.MQTT.Port <= 0 {
		return fmt.Errorf("mqtt.port must be positive")
	}
	if c.Health.ErrorGracePeriod < 0 {
		return fmt.Errorf("health.error_grace_period must be non-negative")
	}

	return ValidateInstruments(c.Instruments)
}

package main

import (
	"fmt"
	"os"

	"gpib-load-bridge/pkg/config"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: validate_config <config-file>")
		os.Exit(1)
	}

	configPath := os.Args[1]
	fmt.Printf("📄 Loading config from: %s\n", configPath)

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		fmt.Printf("❌ Error loading config: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("✅ Config loaded successfully!\n")
	fmt.Printf("   Version: %s\n", cfg.Version)

	bus := config.NewBusSettings(cfg)
	switch bus.Kind {
	case config.BusKindTCP:
		fmt.Printf("   Bus: Prologix GPIB-ETHERNET at %s:%d\n", bus.Host, bus.Port)
	case config.BusKindSerial:
		fmt.Printf("   Bus: Prologix GPIB-USB on %s\n", bus.SerialPort)
	case config.BusKindMQTT:
		fmt.Printf("   Bus: MQTT serial tunnel %s -> %s\n", bus.CmdTopic, bus.DataTopic)
	}
	fmt.Printf("   Read timeout: %v\n", bus.ReadTimeout)
	if cb := cfg.Bus.CircuitBreaker; cb.Enabled {
		fmt.Printf("   Circuit breaker: %d failures, %ds timeout\n", cb.MaxFailures, cb.Timeout)
	}

	if cfg.TelemetryEnabled() {
		telemetry := config.NewTelemetrySettings(cfg)
		fmt.Printf("   MQTT Broker: %s:%d\n", cfg.MQTT.Broker, cfg.MQTT.Port)
		fmt.Printf("   Base topic: %s\n", telemetry.BaseTopic)
		if telemetry.DiscoveryPrefix != "" {
			fmt.Printf("   Discovery prefix: %s\n", telemetry.DiscoveryPrefix)
		}
		fmt.Printf("   Commands: %v\n", telemetry.AcceptCommands)
	} else {
		fmt.Printf("   MQTT: disabled (readings are logged)\n")
	}

	fmt.Printf("   Instruments: %d\n", len(cfg.Instruments))
	for _, key := range config.SortedInstrumentKeys(cfg.Instruments) {
		inst := cfg.Instruments[key]
		fmt.Printf("     - %s:\n", key)
		fmt.Printf("         Name: %s\n", inst.Name)
		fmt.Printf("         GPIB address: %d\n", inst.Address)
		fmt.Printf("         Model: %s\n", inst.GetModel())
		fmt.Printf("         Enabled: %v\n", inst.IsEnabled())
		if inst.PollInterval > 0 {
			fmt.Printf("         Poll Interval: %d ms\n", inst.PollInterval)
		} else {
			fmt.Printf("         Poll Interval: not polled\n")
		}
		if inst.ResetOnStart {
			fmt.Printf("         Reset on start: yes\n")
		}
	}

	fmt.Println("\n✅ Configuration is valid!")
}

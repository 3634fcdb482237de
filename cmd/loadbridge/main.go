// Command loadbridge polls HP 6060B electronic loads on a GPIB bus and bridges them to MQTT.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gpib-load-bridge/pkg/builder"
	"gpib-load-bridge/pkg/config"
	"gpib-load-bridge/pkg/logger"
)

// Version is set at build time with -ldflags "-X main.Version=..."
var Version = "dev"

func main() {
	configPath := ""
	diagnosticMode := false

	for i, arg := range os.Args[1:] {
		switch {
		case arg == "--help" || arg == "-h":
			fmt.Printf("Usage: %s [config_path] [--diagnostic]\n", os.Args[0])
			fmt.Printf("  config_path: Path to configuration file (optional)\n")
			fmt.Printf("  --diagnostic: Identify every load and read it once, then exit\n")
			return
		case arg == "--version":
			fmt.Println(Version)
			return
		case arg == "--diagnostic":
			diagnosticMode = true
		case i == 0:
			configPath = arg
		}
	}

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		logger.LogError("Error loading configuration: %v", err)
		os.Exit(1)
	}

	logger.Setup(&cfg.Logging)
	logger.LogStartup("🔧 Logging initialized with level: %s", cfg.Logging.Level)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	app, err := builder.NewApplicationBuilder(cfg).WithVersion(Version).Build(ctx)
	if err != nil {
		logger.LogError("Application creation error: %v", err)
		os.Exit(1)
	}

	if diagnosticMode {
		if err := runDiagnostic(ctx, app); err != nil {
			logger.LogError("Diagnostic failed: %v", err)
			app.Close()
			os.Exit(1)
		}
		app.Close()
		return
	}

	if err := app.Start(ctx); err != nil {
		logger.LogError("Application start error: %v", err)
		os.Exit(1)
	}

	<-sigChan
	logger.LogInfo("📢 Stop signal received...")
	cancel()

	app.Stop()
}

// runDiagnostic checks every configured load answers on the bus
func runDiagnostic(ctx context.Context, app *builder.Application) error {
	logger.LogInfo("🔍 Starting diagnostic mode...")

	failed := 0
	for _, info := range app.Instruments() {
		load, _ := app.Load(info.ID)

		opCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		idn, err := load.Identification(opCtx)
		if err != nil {
			cancel()
			failed++
			logger.LogError("❌ %s (%s) does not answer: %v", info.Name, load, err)
			logger.LogInfo("💡 Possible issues:")
			logger.LogInfo("   - Wrong GPIB address (%d) or the load is powered off", info.Address)
			logger.LogInfo("   - The Prologix controller is not in controller mode")
			logger.LogInfo("   - Cabling or a second controller on the bus")
			continue
		}
		logger.LogInfo("✅ %s: %s", info.Name, idn)

		reading, err := load.Snapshot(opCtx)
		if err != nil {
			cancel()
			failed++
			logger.LogError("❌ %s read failed: %v", info.Name, err)
			continue
		}
		logger.LogInfo("📈 %s: %.3f V, %.3f A, %.3f W, %s mode", info.Name,
			reading.Voltage, reading.Current, reading.Power, reading.Mode)

		if queued, err := load.Error(opCtx); err == nil {
			logger.LogInfo("   Error queue: %s", queued)
		}
		cancel()
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d instruments failed", failed, len(app.Instruments()))
	}
	logger.LogInfo("🎉 All diagnostic tests passed!")
	return nil
}

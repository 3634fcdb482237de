// Command loadctl is an interactive console for HP 6060B loads on the bridge's GPIB bus.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/chzyer/readline"

	"gpib-load-bridge/pkg/config"
	"gpib-load-bridge/pkg/gpib"
	"gpib-load-bridge/pkg/logger"
)

func main() {
	configPath := flag.String("config", "", "Path to configuration file")
	instrument := flag.String("instrument", "", "Instrument key from the configuration")
	address := flag.Int("addr", -1, "GPIB address (overrides -instrument)")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "❌ Error loading config: %v\n", err)
		os.Exit(1)
	}

	addr := *address
	if addr < 0 {
		addr, err = pickAddress(cfg, *instrument)
		if err != nil {
			fmt.Fprintf(os.Stderr, "❌ %v\n", err)
			os.Exit(1)
		}
	}

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          fmt.Sprintf("6060b@%d> ", addr),
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "❌ Failed to create readline: %v\n", err)
		os.Exit(1)
	}
	defer rl.Close()

	logger.Setup(&cfg.Logging)
	if cfg.Logging.File == "" {
		log.SetOutput(rl.Stderr())
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	bus, closer, err := gpib.Open(ctx, config.NewBusSettings(cfg), &cfg.MQTT)
	if err != nil {
		fmt.Fprintf(os.Stderr, "❌ Error opening GPIB bus: %v\n", err)
		os.Exit(1)
	}
	defer closer.Close()

	NewConsole(bus, addr, rl.Stdout()).Run(ctx, rl)
	fmt.Fprintln(rl.Stdout(), "Exiting...")
}

// pickAddress returns the address of the named instrument, or of the only one configured
func pickAddress(cfg *config.Config, key string) (int, error) {
	if key != "" {
		inst, ok := cfg.Instruments[key]
		if !ok {
			return 0, fmt.Errorf("instrument %q is not configured", key)
		}
		return inst.Address, nil
	}

	keys := config.SortedInstrumentKeys(cfg.Instruments)
	if len(keys) != 1 {
		return 0, fmt.Errorf("%d instruments configured, choose one with -instrument or -addr", len(keys))
	}
	return cfg.Instruments[keys[0]].Address, nil
}

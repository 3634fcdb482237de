package main

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/chzyer/readline"

	"gpib-load-bridge/pkg/config"
	"gpib-load-bridge/pkg/gpib"
	"gpib-load-bridge/pkg/hp6060b"
	"gpib-load-bridge/pkg/mqtt"
	"gpib-load-bridge/pkg/topics"
)

var errQuit = stderrors.New("quit")

// Console drives one load at a time on a shared bus
type Console struct {
	bus  gpib.Bus
	load *hp6060b.Load
	out  io.Writer
}

// NewConsole creates a console talking to the load at address
func NewConsole(bus gpib.Bus, address int, out io.Writer) *Console {
	return &Console{bus: bus, load: hp6060b.New(bus, address), out: out}
}

// Run reads lines until quit, EOF or ctx is done
func (c *Console) Run(ctx context.Context, rl *readline.Instance) {
	c.printHelp()

	for ctx.Err() == nil {
		line, err := rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt {
				continue
			}
			return
		}

		if err := c.Execute(ctx, line); err != nil {
			if err == errQuit {
				return
			}
			fmt.Fprintf(c.out, "error: %v\n", err)
		}
		rl.SetPrompt(c.prompt())
	}
}

func (c *Console) prompt() string {
	return fmt.Sprintf("6060b@%d> ", c.load.Address())
}

// Execute runs one console line
func (c *Console) Execute(ctx context.Context, line string) error {
	parts := strings.Fields(line)
	if len(parts) == 0 {
		return nil
	}
	cmd, args := strings.ToLower(parts[0]), parts[1:]

	switch cmd {
	case "help", "?":
		c.printHelp()
		return nil
	case "quit", "exit", "q":
		return errQuit

	case "addr":
		if len(args) != 1 {
			return fmt.Errorf("usage: addr <0-%d>", config.MaxGPIBAddress)
		}
		addr, err := strconv.Atoi(args[0])
		if err != nil || addr < 0 || addr > config.MaxGPIBAddress {
			return fmt.Errorf("invalid GPIB address %q", args[0])
		}
		c.load = hp6060b.New(c.bus, addr)
		fmt.Fprintf(c.out, "%s\n", c.load)
		return nil

	case "idn":
		idn, err := c.load.Identification(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintln(c.out, idn)
		return nil

	case "read":
		r, err := c.load.Snapshot(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(c.out, "%.3f V  %.3f A  %.3f W  mode %s  input %s\n",
			r.Voltage, r.Current, r.Power, r.Mode, onOff(r.LoadState))
		return nil

	case "volt", "curr", "pow":
		return c.measure(ctx, cmd)

	case "load", "short", "mode", "range", "err":
		return c.show(ctx, cmd)

	case "on", "off":
		return c.set(ctx, topics.FieldLoad, cmd)

	case "reset", "local":
		return c.set(ctx, cmd, "")

	case "set":
		if len(args) < 2 {
			return fmt.Errorf("usage: set <field> <value>")
		}
		return c.set(ctx, args[0], strings.Join(args[1:], " "))
	}

	return fmt.Errorf("unknown command %q (type 'help' for commands)", cmd)
}

func (c *Console) measure(ctx context.Context, what string) error {
	var (
		v    float64
		unit string
		err  error
	)
	switch what {
	case "volt":
		v, err = c.load.Voltage(ctx)
		unit = "V"
	case "curr":
		v, err = c.load.Current(ctx)
		unit = "A"
	default:
		v, err = c.load.Power(ctx)
		unit = "W"
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "%.3f %s\n", v, unit)
	return nil
}

func (c *Console) show(ctx context.Context, what string) error {
	var (
		out string
		err error
	)
	switch what {
	case "load":
		var on bool
		on, err = c.load.LoadState(ctx)
		out = onOff(on)
	case "short":
		var on bool
		on, err = c.load.ShortMode(ctx)
		out = onOff(on)
	case "mode":
		var m hp6060b.Mode
		m, err = c.load.Mode(ctx)
		out = m.String()
	case "range":
		var r hp6060b.CurrentRange
		r, err = c.load.CurrentRange(ctx)
		out = r.String()
	default:
		out, err = c.load.Error(ctx)
	}
	if err != nil {
		return err
	}
	fmt.Fprintln(c.out, out)
	return nil
}

func (c *Console) set(ctx context.Context, field, value string) error {
	if err := mqtt.Apply(ctx, c.load, field, value); err != nil {
		return err
	}
	fmt.Fprintln(c.out, "ok")
	return nil
}

func onOff(on bool) string {
	if on {
		return "on"
	}
	return "off"
}

func (c *Console) printHelp() {
	fmt.Fprintf(c.out, `
HP 6060B console (%s)
  Measure:
    read                  - voltage, current, power, mode and input state
    volt | curr | pow     - one measurement
  State:
    load | short | mode | range | err
    on | off              - switch the input
    set <field> <value>   - fields: %s
    reset                 - clear status (*CLS)
    local                 - return to front panel
  Session:
    idn                   - identification
    addr <n>              - talk to another load on the bus
    quit
`, c.load, strings.Join([]string{
		topics.FieldLoad, topics.FieldShort, topics.FieldVoltage, topics.FieldCurrent,
		topics.FieldResistance, topics.FieldVoltCurr, topics.FieldMode, topics.FieldRange,
	}, ", "))
}

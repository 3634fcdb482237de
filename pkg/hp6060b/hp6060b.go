// Package hp6060b drives an HP 6060B electronic load with SCPI over a shared GPIB bus.
//
// The bus carries one "current address" for every instrument on it, so each
// operation first re-selects this load's address when another adapter moved it.
// A Load does no locking; callers sharing a bus serialize access themselves.
package hp6060b

import (
	"context"
	stderrors "errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	bridgeerrors "gpib-load-bridge/pkg/errors"
	"gpib-load-bridge/pkg/gpib"
)

// Model is the instrument name used in errors and discovery
const Model = "HP 6060B"

// Programmable limits
const (
	MinVoltage    = 0.0
	MaxVoltage    = 60.0
	MinCurrent    = 0.0
	MaxCurrent    = 60.0
	MinResistance = 0.033
	MaxResistance = 10000.0
)

// eor 2 terminates responses with LF only
const cmdEOR = "++eor 2"

var (
	// ErrOutOfRange is returned by a setter whose argument is outside the load's limits.
	// Nothing is sent to the instrument in that case.
	ErrOutOfRange = stderrors.New("value out of range")

	// ErrParse is returned when a numeric response cannot be parsed
	ErrParse = stderrors.New("unparseable response")

	// ErrUnknownResponse is returned when an enumerated response is not a known token
	ErrUnknownResponse = stderrors.New("unknown response")
)

// Mode is the load's regulation mode
type Mode int

const (
	ModeCurrent Mode = iota
	ModeVoltage
	ModeResistance
)

var modeTokens = map[Mode]string{
	ModeCurrent:    "CURR",
	ModeVoltage:    "VOLT",
	ModeResistance: "RES",
}

var tokenModes = invert(modeTokens)

func (m Mode) String() string {
	switch m {
	case ModeCurrent:
		return "current"
	case ModeVoltage:
		return "voltage"
	case ModeResistance:
		return "resistance"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// ParseMode accepts the names printed by String as well as SCPI tokens
func ParseMode(s string) (Mode, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for m, token := range modeTokens {
		if s == m.String() || s == strings.ToLower(token) {
			return m, nil
		}
	}
	return 0, fmt.Errorf("%w: mode %q", ErrUnknownResponse, s)
}

// CurrentRange is the load's input current range
type CurrentRange int

const (
	RangeLow  CurrentRange = iota // 6 A
	RangeHigh                     // 60 A
)

var rangeCommands = map[CurrentRange]string{
	RangeLow:  "6",
	RangeHigh: "60",
}

// The instrument answers CURR:RANG? in its own notation
var rangeResponses = map[string]CurrentRange{
	"6.0000E+0": RangeLow,
	"6.0000E+1": RangeHigh,
}

func (r CurrentRange) String() string {
	switch r {
	case RangeLow:
		return "6A"
	case RangeHigh:
		return "60A"
	default:
		return fmt.Sprintf("CurrentRange(%d)", int(r))
	}
}

// ParseCurrentRange accepts "6", "6A", "60", "60A", "low" and "high"
func ParseCurrentRange(s string) (CurrentRange, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "6", "6a", "low":
		return RangeLow, nil
	case "60", "60a", "high":
		return RangeHigh, nil
	}
	return 0, fmt.Errorf("%w: current range %q", ErrUnknownResponse, s)
}

// Reading is one poll of the load's measurements and state
type Reading struct {
	Voltage   float64
	Current   float64
	Power     float64
	Mode      Mode
	LoadState bool
}

// Load is an HP 6060B at one GPIB address
type Load struct {
	bus       gpib.Bus
	address   int
	addressed bool
}

// New creates an adapter. No I/O happens until the first operation.
func New(bus gpib.Bus, address int) *Load {
	return &Load{bus: bus, address: address}
}

// Address returns the load's GPIB address
func (l *Load) Address() int {
	return l.address
}

func (l *Load) String() string {
	return fmt.Sprintf("HP 6060B address: %d", l.address)
}

// guard points the shared bus at this load. It runs on first use and whenever
// another adapter has selected a different address since.
func (l *Load) guard(ctx context.Context) error {
	if l.addressed && l.bus.Address() == l.address {
		return nil
	}
	if err := l.bus.SetAddress(ctx, l.address); err != nil {
		return l.fail("address", err, fmt.Sprintf("++addr %d", l.address), "")
	}
	if err := l.bus.Write(ctx, cmdEOR); err != nil {
		return l.fail("address", err, cmdEOR, "")
	}
	l.addressed = true
	return nil
}

func (l *Load) fail(op string, err error, command, response string) error {
	ierr := bridgeerrors.NewInstrumentError(op, err, l.address, command)
	ierr.Model = Model
	ierr.Response = response
	return ierr
}

func (l *Load) write(ctx context.Context, cmd string) error {
	if err := l.guard(ctx); err != nil {
		return err
	}
	if err := l.bus.Write(ctx, cmd); err != nil {
		return l.fail("write", err, cmd, "")
	}
	return nil
}

func (l *Load) query(ctx context.Context, cmd string) (string, error) {
	if err := l.guard(ctx); err != nil {
		return "", err
	}
	resp, err := l.bus.Query(ctx, cmd)
	if err != nil {
		return "", l.fail("query", err, cmd, "")
	}
	return resp, nil
}

func (l *Load) queryFloat(ctx context.Context, cmd string) (float64, error) {
	resp, err := l.query(ctx, cmd)
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(resp), 64)
	if err != nil {
		return 0, l.fail("parse", fmt.Errorf("%w: %v", ErrParse, err), cmd, resp)
	}
	return v, nil
}

func (l *Load) queryFlag(ctx context.Context, cmd string) (bool, error) {
	resp, err := l.query(ctx, cmd)
	if err != nil {
		return false, err
	}
	return resp == "1", nil
}

func (l *Load) setBounded(ctx context.Context, field, root string, value, min, max float64) error {
	if math.IsNaN(value) || value < min || value > max {
		return bridgeerrors.NewValidationError(field, fmt.Sprintf("%.3f-%.3f", min, max), value).Wrap(ErrOutOfRange)
	}
	return l.write(ctx, fmt.Sprintf("%s %.3f", root, value))
}

func onOff(on bool) string {
	if on {
		return "ON"
	}
	return "OFF"
}

// Identification returns the *IDN? answer verbatim
func (l *Load) Identification(ctx context.Context) (string, error) {
	if err := l.guard(ctx); err != nil {
		return "", err
	}
	idn, err := l.bus.Identification(ctx)
	if err != nil {
		return "", l.fail("identification", err, "*IDN?", "")
	}
	return idn, nil
}

// Reset clears the status registers
func (l *Load) Reset(ctx context.Context) error {
	return l.write(ctx, "*CLS")
}

// Local returns the load to front panel control
func (l *Load) Local(ctx context.Context) error {
	if err := l.guard(ctx); err != nil {
		return err
	}
	if err := l.bus.Local(ctx); err != nil {
		return l.fail("local", err, "++loc", "")
	}
	return nil
}

// SetLoadState enables or disables the input
func (l *Load) SetLoadState(ctx context.Context, on bool) error {
	return l.write(ctx, "INP "+onOff(on))
}

// LoadState reports whether the input is enabled
func (l *Load) LoadState(ctx context.Context) (bool, error) {
	return l.queryFlag(ctx, "INP?")
}

// SetVoltage programs the constant voltage setpoint, 0 to 60 V
func (l *Load) SetVoltage(ctx context.Context, volts float64) error {
	return l.setBounded(ctx, "voltage", "VOLT", volts, MinVoltage, MaxVoltage)
}

// Voltage measures the input voltage
func (l *Load) Voltage(ctx context.Context) (float64, error) {
	return l.queryFloat(ctx, "MEAS:VOLT?")
}

// SetCurrent programs the constant current setpoint, 0 to 60 A
func (l *Load) SetCurrent(ctx context.Context, amps float64) error {
	return l.setBounded(ctx, "current", "CURR", amps, MinCurrent, MaxCurrent)
}

// Current measures the input current
func (l *Load) Current(ctx context.Context) (float64, error) {
	return l.queryFloat(ctx, "MEAS:CURR?")
}

// SetResistance programs the constant resistance setpoint, 0.033 to 10000 Ω.
// The instrument has no matching query.
func (l *Load) SetResistance(ctx context.Context, ohms float64) error {
	return l.setBounded(ctx, "resistance", "RES", ohms, MinResistance, MaxResistance)
}

// Power measures the input power
func (l *Load) Power(ctx context.Context) (float64, error) {
	return l.queryFloat(ctx, "MEAS:POW?")
}

// SetVoltageAndCurrent programs both setpoints in one command without range checks
func (l *Load) SetVoltageAndCurrent(ctx context.Context, volts, amps float64) error {
	return l.write(ctx, fmt.Sprintf("VOLT %.3f;CURR %.3f", volts, amps))
}

// SetMode selects the regulation mode
func (l *Load) SetMode(ctx context.Context, mode Mode) error {
	token, ok := modeTokens[mode]
	if !ok {
		return bridgeerrors.NewValidationError("mode", "current|voltage|resistance", mode).Wrap(ErrOutOfRange)
	}
	return l.write(ctx, "MODE:"+token)
}

// Mode reads the regulation mode
func (l *Load) Mode(ctx context.Context) (Mode, error) {
	const cmd = "MODE?"
	resp, err := l.query(ctx, cmd)
	if err != nil {
		return 0, err
	}
	mode, ok := tokenModes[resp]
	if !ok {
		return 0, l.fail("decode", ErrUnknownResponse, cmd, resp)
	}
	return mode, nil
}

// SetShortMode turns the input short on or off
func (l *Load) SetShortMode(ctx context.Context, on bool) error {
	return l.write(ctx, "INP:SHORT "+onOff(on))
}

// ShortMode reports whether the input short is on
func (l *Load) ShortMode(ctx context.Context) (bool, error) {
	return l.queryFlag(ctx, "INP:SHORT?")
}

// SetCurrentRange selects the 6 A or 60 A range
func (l *Load) SetCurrentRange(ctx context.Context, r CurrentRange) error {
	arg, ok := rangeCommands[r]
	if !ok {
		return bridgeerrors.NewValidationError("current_range", "6A|60A", r).Wrap(ErrOutOfRange)
	}
	return l.write(ctx, "CURR:RANG "+arg)
}

// CurrentRange reads the current range
func (l *Load) CurrentRange(ctx context.Context) (CurrentRange, error) {
	const cmd = "CURR:RANG?"
	resp, err := l.query(ctx, cmd)
	if err != nil {
		return 0, err
	}
	r, ok := rangeResponses[resp]
	if !ok {
		return 0, l.fail("decode", ErrUnknownResponse, cmd, resp)
	}
	return r, nil
}

// Error pops the oldest entry of the instrument's error queue, e.g. `0,"No error"`
func (l *Load) Error(ctx context.Context) (string, error) {
	return l.query(ctx, "SYST:ERR?")
}

// Snapshot measures voltage, current and power and reads mode and load state.
// It stops at the first failing exchange.
func (l *Load) Snapshot(ctx context.Context) (Reading, error) {
	var (
		r   Reading
		err error
	)
	if r.Voltage, err = l.Voltage(ctx); err != nil {
		return Reading{}, err
	}
	if r.Current, err = l.Current(ctx); err != nil {
		return Reading{}, err
	}
	if r.Power, err = l.Power(ctx); err != nil {
		return Reading{}, err
	}
	if r.Mode, err = l.Mode(ctx); err != nil {
		return Reading{}, err
	}
	if r.LoadState, err = l.LoadState(ctx); err != nil {
		return Reading{}, err
	}
	return r, nil
}

func invert[K comparable, V comparable](m map[K]V) map[V]K {
	out := make(map[V]K, len(m))
	for k, v := range m {
		out[v] = k
	}
	return out
}

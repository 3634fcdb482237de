package mqtt

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"gpib-load-bridge/pkg/hp6060b"
	"gpib-load-bridge/pkg/logger"
	"gpib-load-bridge/pkg/topics"
)

// ErrUnknownField is returned for a command topic whose field is not settable
var ErrUnknownField = stderrors.New("unknown command field")

// ErrQueueFull is acknowledged when commands arrive faster than the bus executes them
var ErrQueueFull = stderrors.New("command queue full")

// ErrUnknownInstrument is returned for a command addressed to an unconfigured instrument
var ErrUnknownInstrument = stderrors.New("unknown instrument")

// Instrument is what a command can drive; *hp6060b.Load implements it
type Instrument interface {
	SetLoadState(ctx context.Context, on bool) error
	SetShortMode(ctx context.Context, on bool) error
	SetVoltage(ctx context.Context, volts float64) error
	SetCurrent(ctx context.Context, amps float64) error
	SetResistance(ctx context.Context, ohms float64) error
	SetVoltageAndCurrent(ctx context.Context, volts, amps float64) error
	SetMode(ctx context.Context, mode hp6060b.Mode) error
	SetCurrentRange(ctx context.Context, r hp6060b.CurrentRange) error
	Reset(ctx context.Context) error
	Local(ctx context.Context) error
}

var _ Instrument = (*hp6060b.Load)(nil)

// Command is one request received on a command topic
type Command struct {
	RequestID  string
	Instrument string
	Field      string
	Value      string
}

// Ack is published on <base>/<instrument>/ack once a command ran
type Ack struct {
	RequestID  string    `json:"request_id"`
	Instrument string    `json:"instrument"`
	Field      string    `json:"field"`
	Value      string    `json:"value,omitempty"`
	OK         bool      `json:"ok"`
	Error      string    `json:"error,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// commandPayload is the optional JSON form of a command payload
type commandPayload struct {
	Value     json.RawMessage `json:"value"`
	RequestID string          `json:"request_id"`
}

// CommandSubscriber turns messages on <base>/+/set/+ into instrument operations.
// Messages are queued by the paho callback and executed by Run, one at a time,
// under the bus lock shared with the poller.
type CommandSubscriber struct {
	client      paho.Client
	factory     *TopicFactory
	instruments map[string]Instrument
	busLock     sync.Locker
	queue       chan Command
	timeout     time.Duration
	log         logger.ILogger

	// OnResult is called after every executed command, if set
	OnResult func(cmd Command, err error)
}

// NewCommandSubscriber creates a subscriber; Subscribe and Run must be called to start it
func NewCommandSubscriber(client paho.Client, factory *TopicFactory, instruments map[string]Instrument, busLock sync.Locker) *CommandSubscriber {
	return &CommandSubscriber{
		client:      client,
		factory:     factory,
		instruments: instruments,
		busLock:     busLock,
		queue:       make(chan Command, 16),
		timeout:     10 * time.Second,
		log:         logger.NewStandardLogger(),
	}
}

// WithLogger replaces the logger; call before Subscribe
func (s *CommandSubscriber) WithLogger(l logger.ILogger) *CommandSubscriber {
	s.log = l
	return s
}

// Subscribe registers the command filter on the broker
func (s *CommandSubscriber) Subscribe() error {
	filter := s.factory.BuildCommandFilter()
	token := s.client.Subscribe(filter, 1, s.onMessage)
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("error subscribing to %s: %w", filter, token.Error())
	}
	s.log.LogInfo("📥 Accepting commands on: %s", filter)
	return nil
}

// Run executes queued commands until ctx is done
func (s *CommandSubscriber) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-s.queue:
			s.execute(ctx, cmd)
		}
	}
}

func (s *CommandSubscriber) onMessage(client paho.Client, msg paho.Message) {
	instrumentID, field, ok := s.factory.ParseCommandTopic(msg.Topic())
	if !ok {
		s.log.LogDebug("Ignoring message on %s", msg.Topic())
		return
	}

	value, requestID := parsePayload(msg.Payload())
	cmd := Command{
		RequestID:  requestID,
		Instrument: instrumentID,
		Field:      field,
		Value:      value,
	}
	if cmd.RequestID == "" {
		cmd.RequestID = uuid.New().String()
	}

	select {
	case s.queue <- cmd:
		s.log.LogDebug("📥 Queued command %s: %s/%s = %q", cmd.RequestID, instrumentID, field, value)
	default:
		s.log.LogWarn("⚠️ Command queue full, dropping %s/%s", instrumentID, field)
		// the handler must not wait for a PUBACK
		go s.publishAck(context.Background(), cmd, ErrQueueFull)
	}
}

// parsePayload accepts a bare value or {"value": ..., "request_id": "..."}
func parsePayload(payload []byte) (value, requestID string) {
	raw := strings.TrimSpace(string(payload))
	if !strings.HasPrefix(raw, "{") {
		return raw, ""
	}

	var p commandPayload
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return raw, ""
	}

	var s string
	if err := json.Unmarshal(p.Value, &s); err == nil {
		return s, p.RequestID
	}
	return strings.TrimSpace(string(p.Value)), p.RequestID
}

func (s *CommandSubscriber) execute(ctx context.Context, cmd Command) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	err := s.apply(ctx, cmd)
	if err != nil {
		s.log.LogWarn("⚠️ Command %s %s/%s = %q failed: %v", cmd.RequestID, cmd.Instrument, cmd.Field, cmd.Value, err)
	} else {
		s.log.LogInfo("✅ Command %s %s/%s = %q", cmd.RequestID, cmd.Instrument, cmd.Field, cmd.Value)
	}

	if s.OnResult != nil {
		s.OnResult(cmd, err)
	}
	s.publishAck(ctx, cmd, err)
}

func (s *CommandSubscriber) apply(ctx context.Context, cmd Command) error {
	inst, ok := s.instruments[cmd.Instrument]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownInstrument, cmd.Instrument)
	}

	s.busLock.Lock()
	defer s.busLock.Unlock()

	return Apply(ctx, inst, cmd.Field, cmd.Value)
}

// Apply runs one field assignment against an instrument
func Apply(ctx context.Context, inst Instrument, field, value string) error {
	switch field {
	case topics.FieldLoad:
		on, err := parseSwitch(value)
		if err != nil {
			return err
		}
		return inst.SetLoadState(ctx, on)

	case topics.FieldShort:
		on, err := parseSwitch(value)
		if err != nil {
			return err
		}
		return inst.SetShortMode(ctx, on)

	case topics.FieldVoltage, topics.FieldCurrent, topics.FieldResistance:
		v, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", field, value, err)
		}
		switch field {
		case topics.FieldVoltage:
			return inst.SetVoltage(ctx, v)
		case topics.FieldCurrent:
			return inst.SetCurrent(ctx, v)
		default:
			return inst.SetResistance(ctx, v)
		}

	case topics.FieldVoltCurr:
		volts, amps, err := parsePair(value)
		if err != nil {
			return err
		}
		return inst.SetVoltageAndCurrent(ctx, volts, amps)

	case topics.FieldMode:
		mode, err := hp6060b.ParseMode(value)
		if err != nil {
			return err
		}
		return inst.SetMode(ctx, mode)

	case topics.FieldRange:
		r, err := hp6060b.ParseCurrentRange(value)
		if err != nil {
			return err
		}
		return inst.SetCurrentRange(ctx, r)

	case topics.FieldReset:
		return inst.Reset(ctx)

	case topics.FieldLocal:
		return inst.Local(ctx)
	}

	return fmt.Errorf("%w: %s", ErrUnknownField, field)
}

func parseSwitch(value string) (bool, error) {
	switch strings.ToUpper(strings.TrimSpace(value)) {
	case "ON", "1", "TRUE":
		return true, nil
	case "OFF", "0", "FALSE":
		return false, nil
	}
	return false, fmt.Errorf("invalid switch value %q", value)
}

// parsePair reads "<volts>,<amps>" or "<volts> <amps>"
func parsePair(value string) (float64, float64, error) {
	fields := strings.FieldsFunc(value, func(r rune) bool { return r == ',' || r == ' ' || r == ';' })
	if len(fields) != 2 {
		return 0, 0, fmt.Errorf("expected \"<volts>,<amps>\", got %q", value)
	}
	volts, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid voltage %q: %w", fields[0], err)
	}
	amps, err := strconv.ParseFloat(fields[1], 64)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid current %q: %w", fields[1], err)
	}
	return volts, amps, nil
}

func (s *CommandSubscriber) publishAck(ctx context.Context, cmd Command, cmdErr error) {
	ack := Ack{
		RequestID:  cmd.RequestID,
		Instrument: cmd.Instrument,
		Field:      cmd.Field,
		Value:      cmd.Value,
		OK:         cmdErr == nil,
		Timestamp:  time.Now().UTC(),
	}
	if cmdErr != nil {
		ack.Error = cmdErr.Error()
	}

	payload, err := json.Marshal(ack)
	if err != nil {
		s.log.LogError("Error marshaling ack: %v", err)
		return
	}

	if err := wait(ctx, s.client.Publish(s.factory.BuildAckTopic(cmd.Instrument), 1, false, payload), "ack"); err != nil {
		s.log.LogWarn("⚠️ %v", err)
	}
}

package mqtt

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gpib-load-bridge/pkg/gpib/gpibtest"
	"gpib-load-bridge/pkg/hp6060b"
	"gpib-load-bridge/pkg/logger"
	"gpib-load-bridge/pkg/mqtt/mqtttest"
)

type commandHarness struct {
	client *mqtttest.Client
	bus    *gpibtest.FakeBus
	sub    *CommandSubscriber
	log    *logger.MockLogger
	cancel context.CancelFunc

	mu      sync.Mutex
	results []error
}

func newCommandHarness(t *testing.T) *commandHarness {
	t.Helper()
	client := mqtttest.NewClient()
	require.True(t, client.Connect().Wait())

	bus := gpibtest.NewFakeBus()
	factory := NewTopicFactory("lab/loads", "homeassistant", "bridge")
	instruments := map[string]Instrument{"load1": hp6060b.New(bus, 5)}

	h := &commandHarness{client: client, bus: bus, log: logger.NewMockLogger()}
	h.sub = NewCommandSubscriber(client, factory, instruments, &sync.Mutex{}).WithLogger(h.log)
	h.sub.OnResult = func(cmd Command, err error) {
		h.mu.Lock()
		h.results = append(h.results, err)
		h.mu.Unlock()
	}
	require.NoError(t, h.sub.Subscribe())
	require.True(t, client.Subscribed("lab/loads/+/set/+"))

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	go h.sub.Run(ctx)
	t.Cleanup(cancel)
	return h
}

// send delivers a command and waits for its acknowledgement
func (h *commandHarness) send(t *testing.T, topic, payload string) Ack {
	t.Helper()
	before := h.acks()

	h.client.Deliver(topic, []byte(payload))

	require.Eventually(t, func() bool {
		return h.acks() > before
	}, time.Second, 5*time.Millisecond)

	h.mu.Lock()
	assert.Len(t, h.results, before+1, "OnResult runs once per command")
	h.mu.Unlock()

	var ack Ack
	require.NoError(t, json.Unmarshal(h.client.Find("lab/loads/load1/ack").Body, &ack))
	return ack
}

func (h *commandHarness) acks() int {
	n := 0
	for _, m := range h.client.Messages() {
		if m.TopicName == "lab/loads/load1/ack" {
			n++
		}
	}
	return n
}

func TestCommandSetsVoltage(t *testing.T) {
	h := newCommandHarness(t)

	ack := h.send(t, "lab/loads/load1/set/voltage", "12.5")

	assert.True(t, ack.OK, ack.Error)
	assert.Equal(t, "load1", ack.Instrument)
	assert.Equal(t, "voltage", ack.Field)
	assert.NotEmpty(t, ack.RequestID)
	assert.Contains(t, h.bus.Writes(), "VOLT 12.500")
	assert.False(t, h.log.HasWarnMessage())
	assert.Contains(t, h.log.InfoMessages[0], "Accepting commands on: lab/loads/+/set/+")
}

func TestCommandJSONPayloadKeepsRequestID(t *testing.T) {
	h := newCommandHarness(t)

	ack := h.send(t, "lab/loads/load1/set/load", `{"value": "ON", "request_id": "abc-123"}`)

	assert.True(t, ack.OK, ack.Error)
	assert.Equal(t, "abc-123", ack.RequestID)
	assert.Contains(t, h.bus.Writes(), "INP ON")
}

func TestCommandOutOfRangeIsNacked(t *testing.T) {
	h := newCommandHarness(t)

	ack := h.send(t, "lab/loads/load1/set/current", "75")

	assert.False(t, ack.OK)
	assert.NotEmpty(t, ack.Error)
	assert.Empty(t, h.bus.Ops)
	assert.True(t, h.log.HasWarnMessage())
	assert.False(t, h.log.HasErrorMessage())
}

func TestCommandUnknownField(t *testing.T) {
	h := newCommandHarness(t)

	ack := h.send(t, "lab/loads/load1/set/frequency", "50")

	assert.False(t, ack.OK)
	assert.Contains(t, ack.Error, "unknown command field")
}

func TestApplyFields(t *testing.T) {
	tests := []struct {
		field string
		value string
		want  string
	}{
		{"load", "off", "INP OFF"},
		{"short", "1", "INP:SHORT ON"},
		{"current", "2", "CURR 2.000"},
		{"resistance", "100", "RES 100.000"},
		{"voltage_current", "12,1.5", "VOLT 12.000;CURR 1.500"},
		{"mode", "resistance", "MODE:RES"},
		{"range", "60A", "CURR:RANG 60"},
		{"reset", "", "*CLS"},
		{"local", "", "++loc"},
	}

	for _, tt := range tests {
		t.Run(tt.field, func(t *testing.T) {
			bus := gpibtest.NewFakeBus()
			load := hp6060b.New(bus, 5)

			require.NoError(t, Apply(context.Background(), load, tt.field, tt.value))
			writes := bus.Writes()
			require.NotEmpty(t, writes)
			assert.Equal(t, tt.want, writes[len(writes)-1])
		})
	}
}

func TestApplyRejectsBadValues(t *testing.T) {
	bus := gpibtest.NewFakeBus()
	load := hp6060b.New(bus, 5)
	ctx := context.Background()

	assert.Error(t, Apply(ctx, load, "load", "maybe"))
	assert.Error(t, Apply(ctx, load, "voltage", "twelve"))
	assert.Error(t, Apply(ctx, load, "voltage_current", "12"))
	assert.Error(t, Apply(ctx, load, "mode", "power"))
	assert.Empty(t, bus.Ops)
}

func TestParsePayload(t *testing.T) {
	tests := []struct {
		payload   string
		value     string
		requestID string
	}{
		{"12.5", "12.5", ""},
		{" ON \n", "ON", ""},
		{`{"value": 12.5}`, "12.5", ""},
		{`{"value": "CURR", "request_id": "r1"}`, "CURR", "r1"},
		{`{broken`, "{broken", ""},
	}

	for _, tt := range tests {
		value, requestID := parsePayload([]byte(tt.payload))
		if value != tt.value || requestID != tt.requestID {
			t.Errorf("%q: Expected (%q, %q), got (%q, %q)", tt.payload, tt.value, tt.requestID, value, requestID)
		}
	}
}

func TestCommandQueueFullDoesNotBlockHandler(t *testing.T) {
	client := mqtttest.NewClient()
	require.True(t, client.Connect().Wait())

	factory := NewTopicFactory("lab/loads", "homeassistant", "bridge")
	instruments := map[string]Instrument{"load1": hp6060b.New(gpibtest.NewFakeBus(), 5)}
	sub := NewCommandSubscriber(client, factory, instruments, &sync.Mutex{}).WithLogger(logger.NewMockLogger())
	require.NoError(t, sub.Subscribe())

	// the broker holds every publish until released
	release := make(chan struct{})
	client.OnPublish = func(m *mqtttest.Message) { <-release }

	delivered := make(chan struct{})
	go func() {
		// Run is not started, so the 17th command overflows the queue
		for i := 0; i < cap(sub.queue)+1; i++ {
			client.Deliver("lab/loads/load1/set/load", []byte("ON"))
		}
		close(delivered)
	}()

	select {
	case <-delivered:
	case <-time.After(time.Second):
		close(release)
		t.Fatal("message handler blocked on the queue-full acknowledgement")
	}
	close(release)

	require.Eventually(t, func() bool {
		return client.Find("lab/loads/load1/ack") != nil
	}, time.Second, 5*time.Millisecond)

	var ack Ack
	require.NoError(t, json.Unmarshal(client.Find("lab/loads/load1/ack").Body, &ack))
	assert.False(t, ack.OK)
	assert.Equal(t, ErrQueueFull.Error(), ack.Error)
}

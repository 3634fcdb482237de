package services

import (
	"context"
	stderrors "errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gpib-load-bridge/pkg/config"
	"gpib-load-bridge/pkg/diagnostics"
	"gpib-load-bridge/pkg/gpib/gpibtest"
	"gpib-load-bridge/pkg/health"
	"gpib-load-bridge/pkg/hp6060b"
	"gpib-load-bridge/pkg/metrics"
	"gpib-load-bridge/pkg/mqtt"
)

type recordingPublisher struct {
	mu          sync.Mutex
	readings    map[string][]hp6060b.Reading
	statuses    []string
	diagnostics []int
	readingErr  error
}

func (p *recordingPublisher) PublishInstrumentDiscovery(ctx context.Context, inst mqtt.InstrumentInfo) error {
	return nil
}

func (p *recordingPublisher) PublishReading(ctx context.Context, inst mqtt.InstrumentInfo, r hp6060b.Reading) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.readingErr != nil {
		return p.readingErr
	}
	if p.readings == nil {
		p.readings = make(map[string][]hp6060b.Reading)
	}
	p.readings[inst.ID] = append(p.readings[inst.ID], r)
	return nil
}

func (p *recordingPublisher) PublishStatusOnline(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.statuses = append(p.statuses, mqtt.StatusOnline)
	return nil
}

func (p *recordingPublisher) PublishStatusOffline(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.statuses = append(p.statuses, mqtt.StatusOffline)
	return nil
}

func (p *recordingPublisher) PublishDiagnostic(ctx context.Context, code int, message string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.diagnostics = append(p.diagnostics, code)
	return nil
}

type stubLoad struct {
	mu    sync.Mutex
	err   error
	calls int
}

func (s *stubLoad) Snapshot(ctx context.Context) (hp6060b.Reading, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return hp6060b.Reading{}, s.err
	}
	return hp6060b.Reading{Voltage: 1, Current: 2, Power: 2, Mode: hp6060b.ModeVoltage}, nil
}

func scriptedBus() *gpibtest.FakeBus {
	return gpibtest.NewFakeBus().
		Respond("MEAS:VOLT?", "12.500").
		Respond("MEAS:CURR?", "2.000").
		Respond("MEAS:POW?", "25.000").
		Respond("MODE?", "CURR").
		Respond("INP?", "1")
}

type pollHarness struct {
	service   *PollingService
	publisher *recordingPublisher
	monitor   *health.BusHealthMonitor
	metrics   *metrics.PrometheusMetrics
	clock     *time.Time
}

func newPollHarness(instruments ...*PolledInstrument) *pollHarness {
	pub := &recordingPublisher{}
	monitor := health.NewBusHealthMonitor(time.Nanosecond)
	collector := metrics.NewPrometheusMetrics()

	s := NewPollingService(instruments, pub, monitor, nil, collector, nil, &sync.Mutex{})
	clock := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return clock }

	return &pollHarness{service: s, publisher: pub, monitor: monitor, metrics: collector, clock: &clock}
}

func TestPollDuePublishesSnapshot(t *testing.T) {
	bus := scriptedBus()
	inst := &PolledInstrument{
		Info:     mqtt.InstrumentInfo{ID: "load1", Name: "Load 1", Address: 5},
		Load:     hp6060b.New(bus, 5),
		Interval: time.Second,
	}
	h := newPollHarness(inst)

	require.Equal(t, 1, h.service.PollDue(context.Background()))

	readings := h.publisher.readings["load1"]
	require.Len(t, readings, 1)
	assert.Equal(t, hp6060b.Reading{Voltage: 12.5, Current: 2, Power: 25, Mode: hp6060b.ModeCurrent, LoadState: true}, readings[0])

	// The adapter addressed the load before measuring
	assert.Equal(t, 1, bus.AddressChanges())
	assert.Equal(t, 5, bus.Address())

	stats := h.metrics.GetStats()
	assert.Equal(t, int64(1), stats.InstrumentReadsTotal)
	assert.Equal(t, int64(1), stats.MQTTPublishesTotal)
	assert.Equal(t, 1, h.service.GetPerformanceStats().Snapshots)
}

func TestPollDueHonoursIntervals(t *testing.T) {
	fast := &stubLoad{}
	slow := &stubLoad{}
	h := newPollHarness(
		&PolledInstrument{Info: mqtt.InstrumentInfo{ID: "fast"}, Load: fast, Interval: time.Second},
		&PolledInstrument{Info: mqtt.InstrumentInfo{ID: "slow"}, Load: slow, Interval: 5 * time.Second},
	)
	assert.Equal(t, time.Second, h.service.Tick())

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		h.service.PollDue(ctx)
		*h.clock = h.clock.Add(time.Second)
	}

	assert.Equal(t, 5, fast.calls)
	assert.Equal(t, 1, slow.calls)
}

func TestPollDueOneInstrumentFailingKeepsBusOnline(t *testing.T) {
	good := &stubLoad{}
	bad := &stubLoad{err: stderrors.New("read timeout")}
	h := newPollHarness(
		&PolledInstrument{Info: mqtt.InstrumentInfo{ID: "good"}, Load: good, Interval: time.Second},
		&PolledInstrument{Info: mqtt.InstrumentInfo{ID: "bad"}, Load: bad, Interval: time.Second},
	)

	h.service.PollDue(context.Background())

	assert.True(t, h.monitor.IsOnline())
	assert.Equal(t, 0, h.monitor.GetConsecutiveErrors())
	assert.Len(t, h.publisher.readings["good"], 1)
	assert.Empty(t, h.publisher.readings["bad"])
	// Error handler published one diagnostic for the failure
	assert.Len(t, h.publisher.diagnostics, 1)

	text := h.metrics.GetMetricsText()
	assert.Contains(t, text, `instrument_errors_total{instrument="bad"} 1`)
}

func TestPollDueAllFailingMarksOfflineThenRecovers(t *testing.T) {
	load := &stubLoad{err: stderrors.New("no listener")}
	h := newPollHarness(&PolledInstrument{Info: mqtt.InstrumentInfo{ID: "load1"}, Load: load, Interval: time.Second})
	ctx := context.Background()

	h.service.PollDue(ctx)
	time.Sleep(2 * time.Millisecond) // past the 1ns grace period on the real clock
	*h.clock = h.clock.Add(time.Second)
	h.service.PollDue(ctx)

	assert.False(t, h.monitor.IsOnline())
	assert.Equal(t, []string{mqtt.StatusOffline}, h.publisher.statuses)
	assert.False(t, h.metrics.GetStats().BusOnline)

	// Offline is published once per outage
	*h.clock = h.clock.Add(time.Second)
	h.service.PollDue(ctx)
	assert.Equal(t, []string{mqtt.StatusOffline}, h.publisher.statuses)

	load.mu.Lock()
	load.err = nil
	load.mu.Unlock()
	*h.clock = h.clock.Add(time.Second)
	h.service.PollDue(ctx)

	assert.True(t, h.monitor.IsOnline())
	assert.Equal(t, []string{mqtt.StatusOffline, mqtt.StatusOnline}, h.publisher.statuses)
	assert.True(t, h.metrics.GetStats().BusOnline)
	assert.Contains(t, h.publisher.diagnostics, 0)
}

func TestPollDuePublishFailureCountsMQTTError(t *testing.T) {
	h := newPollHarness(&PolledInstrument{Info: mqtt.InstrumentInfo{ID: "load1"}, Load: &stubLoad{}, Interval: time.Second})
	h.publisher.readingErr = stderrors.New("broker gone")

	h.service.PollDue(context.Background())

	stats := h.metrics.GetStats()
	assert.Equal(t, int64(1), stats.InstrumentReadsTotal)
	assert.Equal(t, int64(1), stats.MQTTErrorsTotal)
	assert.True(t, h.monitor.IsOnline(), "publish failures are not bus failures")
}

func TestPollDueFeedsDiagnosticManager(t *testing.T) {
	pub := &recordingPublisher{}
	infos := []mqtt.InstrumentInfo{{ID: "load1"}}
	manager := diagnostics.NewInstrumentManager(nopDiagnosticPublisher{}, config.DiagnosticSettings{Enabled: true}, infos)

	s := NewPollingService(
		[]*PolledInstrument{{Info: infos[0], Load: &stubLoad{err: stderrors.New("timeout")}, Interval: time.Second}},
		pub, health.NewBusHealthMonitor(time.Minute), manager, nil, nil, &sync.Mutex{},
	)
	s.PollDue(context.Background())

	m, err := manager.GetMetrics("load1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), m.FailedReads)
	assert.Equal(t, "timeout", m.LastError)
}

func TestStartReturnsWithoutInstruments(t *testing.T) {
	h := newPollHarness()
	done := make(chan struct{})
	go func() {
		h.service.Start(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Start should return when nothing is scheduled")
	}
}

func TestStartStopsOnCancel(t *testing.T) {
	load := &stubLoad{}
	s := NewPollingService(
		[]*PolledInstrument{{Info: mqtt.InstrumentInfo{ID: "load1"}, Load: load, Interval: 5 * time.Millisecond}},
		&recordingPublisher{}, health.NewBusHealthMonitor(time.Minute), nil, nil, nil, &sync.Mutex{},
	)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Start(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool {
		load.mu.Lock()
		defer load.mu.Unlock()
		return load.calls >= 2
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Start did not stop after cancel")
	}
}

type nopDiagnosticPublisher struct{}

func (nopDiagnosticPublisher) PublishInstrumentDiagnosticDiscovery(ctx context.Context, inst mqtt.InstrumentInfo) error {
	return nil
}

func (nopDiagnosticPublisher) PublishInstrumentDiagnosticState(ctx context.Context, id string, m *mqtt.InstrumentMetrics) error {
	return nil
}

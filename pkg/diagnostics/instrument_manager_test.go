package diagnostics

import (
	"context"
	"testing"
	"time"

	"gpib-load-bridge/pkg/config"
	"gpib-load-bridge/pkg/mqtt"
)

type recordingPublisher struct {
	discoveries []string
	states      map[string][]string
}

func (r *recordingPublisher) PublishInstrumentDiagnosticDiscovery(ctx context.Context, inst mqtt.InstrumentInfo) error {
	r.discoveries = append(r.discoveries, inst.ID)
	return nil
}

func (r *recordingPublisher) PublishInstrumentDiagnosticState(ctx context.Context, instrumentID string, metrics *mqtt.InstrumentMetrics) error {
	if r.states == nil {
		r.states = make(map[string][]string)
	}
	r.states[instrumentID] = append(r.states[instrumentID], metrics.CurrentState)
	return nil
}

func newTestManager() (*InstrumentManager, *recordingPublisher, *time.Time) {
	pub := &recordingPublisher{}
	settings := config.DiagnosticSettings{
		Enabled: true,
		Thresholds: config.DiagnosticThresholdsConfig{
			WarningSuccessRate:       95,
			ErrorSuccessRate:         50,
			WarningConsecutiveErrors: 3,
			ErrorConsecutiveErrors:   10,
			OfflineTimeout:           300,
		},
		Intervals: config.DiagnosticIntervalsConfig{Operational: 300, Warning: 60, Error: 30, Offline: 600},
	}
	m := NewInstrumentManager(pub, settings, []mqtt.InstrumentInfo{{ID: "load1"}, {ID: "load2"}})

	clock := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return clock }
	return m, pub, &clock
}

func TestRecordSuccessAndError(t *testing.T) {
	m, _, _ := newTestManager()

	m.RecordSuccess("load1", 40*time.Millisecond)
	m.RecordError("load1", "read timeout")
	m.RecordError("load1", "read timeout")

	metrics, err := m.GetMetrics("load1")
	if err != nil {
		t.Fatalf("Expected metrics, got error: %v", err)
	}
	if metrics.TotalReads != 3 || metrics.SuccessfulReads != 1 || metrics.FailedReads != 2 {
		t.Errorf("Expected 3/1/2 reads, got %d/%d/%d", metrics.TotalReads, metrics.SuccessfulReads, metrics.FailedReads)
	}
	if metrics.ConsecutiveErrors != 2 {
		t.Errorf("Expected 2 consecutive errors, got %d", metrics.ConsecutiveErrors)
	}
	if metrics.LastError != "read timeout" {
		t.Errorf("Expected last error 'read timeout', got '%s'", metrics.LastError)
	}

	if _, err := m.GetMetrics("unknown"); err == nil {
		t.Error("Expected error for unknown instrument")
	}
}

func TestPublishDiagnosticsOnStateChange(t *testing.T) {
	m, pub, clock := newTestManager()
	ctx := context.Background()

	m.RecordSuccess("load1", time.Millisecond)
	m.PublishDiagnostics(ctx)
	if got := pub.states["load1"]; len(got) != 1 || got[0] != mqtt.StateOperational {
		t.Fatalf("Expected first publish operational, got %v", got)
	}

	// Same state inside the interval: nothing new
	m.PublishDiagnostics(ctx)
	if len(pub.states["load1"]) != 1 {
		t.Errorf("Expected no republish, got %v", pub.states["load1"])
	}

	// Three errors in a row is a warning
	for i := 0; i < 3; i++ {
		m.RecordError("load1", "timeout")
	}
	m.PublishDiagnostics(ctx)
	if got := pub.states["load1"]; got[len(got)-1] != mqtt.StateWarning {
		t.Errorf("Expected warning, got %v", got)
	}

	// Warning interval elapsed: republish
	*clock = clock.Add(61 * time.Second)
	before := len(pub.states["load1"])
	m.PublishDiagnostics(ctx)
	if len(pub.states["load1"]) != before+1 {
		t.Errorf("Expected periodic republish, got %v", pub.states["load1"])
	}
}

func TestPublishDiscoveryForAllInstruments(t *testing.T) {
	m, pub, _ := newTestManager()

	m.PublishDiscoveryForAllInstruments(context.Background())

	if len(pub.discoveries) != 2 || pub.discoveries[0] != "load1" || pub.discoveries[1] != "load2" {
		t.Errorf("Expected discovery for load1 and load2, got %v", pub.discoveries)
	}
}

func TestReportEvaluatesState(t *testing.T) {
	m, _, clock := newTestManager()

	m.RecordSuccess("load1", time.Millisecond)
	for i := 0; i < 10; i++ {
		m.RecordError("load2", "no listener")
	}

	report := m.Report()
	if report["load1"].CurrentState != mqtt.StateOperational {
		t.Errorf("Expected load1 operational, got %s", report["load1"].CurrentState)
	}
	if report["load2"].CurrentState != mqtt.StateError {
		t.Errorf("Expected load2 error, got %s", report["load2"].CurrentState)
	}

	// Past the offline timeout without a success
	*clock = clock.Add(301 * time.Second)
	if got := m.Report()["load1"].CurrentState; got != mqtt.StateOffline {
		t.Errorf("Expected load1 offline, got %s", got)
	}
}

// slowPublisher records reads on the manager while its publish is in flight
type slowPublisher struct {
	recordingPublisher
	manager  *InstrumentManager
	recorded []bool
}

func (s *slowPublisher) PublishInstrumentDiagnosticState(ctx context.Context, instrumentID string, metrics *mqtt.InstrumentMetrics) error {
	done := make(chan struct{})
	go func() {
		s.manager.RecordSuccess(instrumentID, time.Millisecond)
		_ = s.manager.Report()
		close(done)
	}()

	select {
	case <-done:
		s.recorded = append(s.recorded, true)
	case <-time.After(time.Second):
		s.recorded = append(s.recorded, false)
	}
	return s.recordingPublisher.PublishInstrumentDiagnosticState(ctx, instrumentID, metrics)
}

func TestPublishDiagnosticsDoesNotBlockRecording(t *testing.T) {
	m, _, _ := newTestManager()
	pub := &slowPublisher{manager: m}
	m.publisher = pub

	m.RecordSuccess("load1", time.Millisecond)
	m.PublishDiagnostics(context.Background())

	if len(pub.recorded) == 0 {
		t.Fatal("Expected at least one diagnostic to be published")
	}
	for i, ok := range pub.recorded {
		if !ok {
			t.Errorf("Publish %d: recording a read blocked while publishing", i)
		}
	}

	metrics, _ := m.GetMetrics("load1")
	if metrics.SuccessfulReads < 2 {
		t.Errorf("Expected reads recorded during publish, got %d", metrics.SuccessfulReads)
	}
	if states := pub.states["load1"]; len(states) != 1 || states[0] != mqtt.StateOperational {
		t.Errorf("Expected one operational state for load1, got %v", states)
	}
}

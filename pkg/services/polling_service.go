package services

import (
	"context"
	"sync"
	"time"

	"gpib-load-bridge/pkg/diagnostics"
	"gpib-load-bridge/pkg/errors"
	"gpib-load-bridge/pkg/health"
	"gpib-load-bridge/pkg/hp6060b"
	"gpib-load-bridge/pkg/logger"
	"gpib-load-bridge/pkg/metrics"
	"gpib-load-bridge/pkg/mqtt"
)

// Snapshotter reads the full state of one instrument; *hp6060b.Load implements it
type Snapshotter interface {
	Snapshot(ctx context.Context) (hp6060b.Reading, error)
}

var _ Snapshotter = (*hp6060b.Load)(nil)

// Publisher is everything the polling and heartbeat services publish
type Publisher interface {
	mqtt.ReadingPublisher
	mqtt.StatusPublisher
	PublishDiagnostic(ctx context.Context, code int, message string) error
}

// PolledInstrument is one instrument on the poll schedule
type PolledInstrument struct {
	Info     mqtt.InstrumentInfo
	Load     Snapshotter
	Interval time.Duration
	next     time.Time
}

// PollingService polls every instrument on the shared bus in turn and publishes readings.
// Each Snapshot runs under busLock so MQTT commands never interleave with a poll.
type PollingService struct {
	instruments       []*PolledInstrument
	publisher         Publisher
	healthMonitor     *health.BusHealthMonitor
	diagnosticManager *diagnostics.InstrumentManager
	metrics           metrics.MetricsCollector
	tracker           *metrics.PerformanceTracker
	errorHandler      *errors.ErrorHandler
	busLock           sync.Locker
	now               func() time.Time
}

// NewPollingService creates a new polling service; diagnosticManager may be nil
func NewPollingService(
	instruments []*PolledInstrument,
	publisher Publisher,
	healthMonitor *health.BusHealthMonitor,
	diagnosticManager *diagnostics.InstrumentManager,
	collector metrics.MetricsCollector,
	tracker *metrics.PerformanceTracker,
	busLock sync.Locker,
) *PollingService {
	if collector == nil {
		collector = metrics.NewNullMetrics()
	}
	if tracker == nil {
		tracker = metrics.NewPerformanceTracker(30 * time.Second)
	}
	return &PollingService{
		instruments:       instruments,
		publisher:         publisher,
		healthMonitor:     healthMonitor,
		diagnosticManager: diagnosticManager,
		metrics:           collector,
		tracker:           tracker,
		errorHandler:      errors.NewErrorHandler(publisher),
		busLock:           busLock,
		now:               time.Now,
	}
}

// Tick returns the scheduler resolution: the shortest poll interval
func (s *PollingService) Tick() time.Duration {
	var tick time.Duration
	for _, inst := range s.instruments {
		if tick == 0 || inst.Interval < tick {
			tick = inst.Interval
		}
	}
	return tick
}

// Start runs the polling loop until ctx is done
func (s *PollingService) Start(ctx context.Context) {
	tick := s.Tick()
	if tick <= 0 {
		logger.LogInfo("🔄 No instrument has a poll interval, polling disabled")
		return
	}

	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	logger.LogInfo("🔄 Polling service started for %d instruments (tick %v)", len(s.instruments), tick)

	for {
		select {
		case <-ctx.Done():
			logger.LogDebug("🔄 Polling service stopped")
			return
		case <-ticker.C:
			s.PollDue(ctx)
		}
	}
}

// PollDue polls every instrument whose interval has elapsed and returns how many were polled
func (s *PollingService) PollDue(ctx context.Context) int {
	now := s.now()
	ok, failed := 0, 0

	for _, inst := range s.instruments {
		if now.Before(inst.next) {
			continue
		}
		inst.next = now.Add(inst.Interval)

		if ctx.Err() != nil {
			break
		}
		if s.pollInstrument(ctx, inst) {
			ok++
		} else {
			failed++
		}
	}

	if ok+failed == 0 {
		return 0
	}

	// The bus answered if any instrument did
	if ok > 0 {
		s.recordSuccess(ctx)
	} else {
		s.recordError(ctx)
	}

	s.tracker.RecordCycle(ok, failed)
	s.tracker.PrintSummaryIfNeeded()
	return ok + failed
}

func (s *PollingService) pollInstrument(ctx context.Context, inst *PolledInstrument) bool {
	id := inst.Info.ID
	start := s.now()

	s.busLock.Lock()
	reading, err := inst.Load.Snapshot(ctx)
	s.busLock.Unlock()

	elapsed := s.now().Sub(start)
	s.metrics.ObserveReadDuration(elapsed)

	if err != nil {
		s.metrics.IncrementInstrumentErrors(id)
		if s.diagnosticManager != nil {
			s.diagnosticManager.RecordError(id, err.Error())
		}
		s.errorHandler.Handle(ctx, err)
		return false
	}

	s.metrics.IncrementInstrumentReads(id)
	if s.diagnosticManager != nil {
		s.diagnosticManager.RecordSuccess(id, elapsed)
	}

	logger.LogTrace("📊 %s: %.3f V %.3f A %.3f W mode=%s input=%v",
		id, reading.Voltage, reading.Current, reading.Power, reading.Mode, reading.LoadState)

	if err := s.publisher.PublishReading(ctx, inst.Info, reading); err != nil {
		s.metrics.IncrementMQTTErrors()
		logger.LogError("⚠️ Error publishing reading for %s: %v", id, err)
	} else {
		s.metrics.IncrementMQTTPublishes()
	}
	return true
}

// recordError applies the grace period before reporting the bridge offline
func (s *PollingService) recordError(ctx context.Context) {
	shouldMarkOffline := s.healthMonitor.RecordError()

	if s.healthMonitor.GetConsecutiveErrors() == 1 {
		logger.LogWarn("⚠️ No instrument answered, starting grace period")
	}

	if s.healthMonitor.IsInGracePeriod() {
		logger.LogDebug("🕐 Bus error %d in grace period - keeping status online",
			s.healthMonitor.GetConsecutiveErrors())
		return
	}

	if shouldMarkOffline && s.healthMonitor.IsOnline() {
		s.healthMonitor.MarkOffline()
		s.metrics.SetBusStatus(false)
		logger.LogError("🔴 Grace period expired - GPIB bus marked as OFFLINE after %d failed cycles",
			s.healthMonitor.GetConsecutiveErrors())

		if err := s.publisher.PublishStatusOffline(ctx); err != nil {
			logger.LogError("⚠️ Error publishing offline status: %v", err)
		}
	}
}

func (s *PollingService) recordSuccess(ctx context.Context) {
	if !s.healthMonitor.RecordSuccess() {
		return
	}

	s.metrics.SetBusStatus(true)
	logger.LogInfo("🟢 GPIB bus marked as ONLINE - instruments answering again")

	if err := s.publisher.PublishStatusOnline(ctx); err != nil {
		logger.LogError("⚠️ Error publishing online status: %v", err)
	}
	if err := s.publisher.PublishDiagnostic(ctx, 0, "Functionality restored - bus back online"); err != nil {
		logger.LogError("⚠️ Error publishing recovery diagnostic: %v", err)
	}
}

// GetPerformanceStats returns the counters accumulated since the last summary
func (s *PollingService) GetPerformanceStats() metrics.PerformanceStats {
	return s.tracker.GetStats()
}

package metrics

import (
	"sync"
	"time"

	"gpib-load-bridge/pkg/logger"
)

// PerformanceTracker aggregates poll and command outcomes between periodic log summaries
type PerformanceTracker struct {
	snapshots       int
	snapshotErrors  int
	commands        int
	commandErrors   int
	lastSummaryTime time.Time
	summaryInterval time.Duration
	now             func() time.Time
	mu              sync.Mutex
}

// PerformanceStats is a point-in-time view of the tracker counters
type PerformanceStats struct {
	Snapshots      int
	SnapshotErrors int
	Commands       int
	CommandErrors  int
	LastSummary    time.Time
	SuccessRate    float64
}

// NewPerformanceTracker creates a tracker that logs a summary every summaryInterval
func NewPerformanceTracker(summaryInterval time.Duration) *PerformanceTracker {
	return &PerformanceTracker{
		lastSummaryTime: time.Now(),
		summaryInterval: summaryInterval,
		now:             time.Now,
	}
}

// RecordCycle records the outcome of one polling cycle over all instruments
func (pt *PerformanceTracker) RecordCycle(ok, failed int) {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	pt.snapshots += ok
	pt.snapshotErrors += failed
}

// RecordCommand records one executed command
func (pt *PerformanceTracker) RecordCommand(ok bool) {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	pt.commands++
	if !ok {
		pt.commandErrors++
	}
}

// GetStats returns the counters accumulated since the last summary
func (pt *PerformanceTracker) GetStats() PerformanceStats {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	return pt.statsLocked()
}

func (pt *PerformanceTracker) statsLocked() PerformanceStats {
	stats := PerformanceStats{
		Snapshots:      pt.snapshots,
		SnapshotErrors: pt.snapshotErrors,
		Commands:       pt.commands,
		CommandErrors:  pt.commandErrors,
		LastSummary:    pt.lastSummaryTime,
	}
	if total := pt.snapshots + pt.snapshotErrors; total > 0 {
		stats.SuccessRate = float64(pt.snapshots) / float64(total) * 100.0
	}
	return stats
}

// PrintSummaryIfNeeded logs and resets the counters once the summary interval has passed.
// Returns true when a summary was logged.
func (pt *PerformanceTracker) PrintSummaryIfNeeded() bool {
	pt.mu.Lock()
	defer pt.mu.Unlock()

	now := pt.now()
	if now.Sub(pt.lastSummaryTime) < pt.summaryInterval {
		return false
	}

	stats := pt.statsLocked()
	logger.LogInfo("📊 Summary - Snapshots: %d ok / %d failed (%.1f%%), Commands: %d (%d failed), Last %v",
		stats.Snapshots, stats.SnapshotErrors, stats.SuccessRate,
		stats.Commands, stats.CommandErrors, pt.summaryInterval)

	pt.lastSummaryTime = now
	pt.snapshots = 0
	pt.snapshotErrors = 0
	pt.commands = 0
	pt.commandErrors = 0
	return true
}

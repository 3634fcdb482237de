package health

import (
	"sync"
	"time"

	"gpib-load-bridge/pkg/recovery"
)

// BusHealthMonitor tracks whether the GPIB bus answers and decides when the
// bridge is reported offline. It also keeps the counters served on /health.
type BusHealthMonitor struct {
	isOnline        bool
	lastErrorTime   time.Time
	lastSuccessTime time.Time
	successCount    int
	errorCount      int
	errorManager    *recovery.ErrorRecoveryManager
	mu              sync.RWMutex
}

// NewBusHealthMonitor creates a new bus health monitor
func NewBusHealthMonitor(gracePeriod time.Duration) *BusHealthMonitor {
	return &BusHealthMonitor{
		isOnline:     true,
		errorManager: recovery.NewErrorRecoveryManager(gracePeriod),
	}
}

// IsOnline returns whether the bus is currently marked as online
func (m *BusHealthMonitor) IsOnline() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.isOnline
}

// RecordSuccess records a successful exchange; returns true if the bus came back online
func (m *BusHealthMonitor) RecordSuccess() (cameOnline bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.errorManager.RecordSuccess()
	m.lastSuccessTime = time.Now()
	m.successCount++
	cameOnline = !m.isOnline
	m.isOnline = true
	return cameOnline
}

// RecordError records a failed exchange and returns whether it should be marked offline
func (m *BusHealthMonitor) RecordError() (shouldMarkOffline bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.lastErrorTime = time.Now()
	m.errorCount++
	m.errorManager.RecordError()

	return m.errorManager.ShouldMarkOffline()
}

// MarkOffline explicitly marks the bus as offline
func (m *BusHealthMonitor) MarkOffline() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.isOnline = false
	m.errorManager.MarkAsOffline()
}

// GetConsecutiveErrors returns the current count of consecutive errors
func (m *BusHealthMonitor) GetConsecutiveErrors() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.errorManager.GetConsecutiveErrors()
}

// GetLastSuccessTime returns the time of the last successful exchange
func (m *BusHealthMonitor) GetLastSuccessTime() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastSuccessTime
}

// GetErrorCount returns the number of failed exchanges since start
func (m *BusHealthMonitor) GetErrorCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.errorCount
}

// GetSuccessCount returns the number of successful exchanges since start
func (m *BusHealthMonitor) GetSuccessCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.successCount
}

// IsInGracePeriod returns true if currently in error grace period
func (m *BusHealthMonitor) IsInGracePeriod() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.errorManager.IsInGracePeriod()
}

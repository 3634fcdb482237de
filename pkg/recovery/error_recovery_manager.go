package recovery

import (
	"time"
)

// ErrorRecoveryManager tracks consecutive bus errors and decides when the
// bridge should be reported offline. Not safe for concurrent use; callers lock.
type ErrorRecoveryManager struct {
	consecutiveErrors  int
	firstErrorTime     time.Time
	errorGracePeriod   time.Duration
	statusSetToOffline bool
	now                func() time.Time
}

// NewErrorRecoveryManager creates a new error recovery manager
func NewErrorRecoveryManager(gracePeriod time.Duration) *ErrorRecoveryManager {
	if gracePeriod == 0 {
		gracePeriod = 15 * time.Second
	}

	return &ErrorRecoveryManager{
		errorGracePeriod: gracePeriod,
		now:              time.Now,
	}
}

// RecordError records an error occurrence and returns whether grace period has expired
func (m *ErrorRecoveryManager) RecordError() bool {
	m.consecutiveErrors++

	if m.firstErrorTime.IsZero() {
		m.firstErrorTime = m.now()
	}

	return m.now().Sub(m.firstErrorTime) >= m.errorGracePeriod
}

// RecordSuccess resets error tracking after a successful operation
func (m *ErrorRecoveryManager) RecordSuccess() {
	m.Reset()
}

// GetConsecutiveErrors returns the current count of consecutive errors
func (m *ErrorRecoveryManager) GetConsecutiveErrors() int {
	return m.consecutiveErrors
}

// ShouldMarkOffline returns true once per error sequence, after the grace period
func (m *ErrorRecoveryManager) ShouldMarkOffline() bool {
	if m.statusSetToOffline {
		return false
	}
	return !m.firstErrorTime.IsZero() && m.now().Sub(m.firstErrorTime) >= m.errorGracePeriod
}

// MarkAsOffline prevents repeated offline status publications
func (m *ErrorRecoveryManager) MarkAsOffline() {
	m.statusSetToOffline = true
}

// IsInGracePeriod returns true if we're currently in the grace period after first error
func (m *ErrorRecoveryManager) IsInGracePeriod() bool {
	if m.firstErrorTime.IsZero() {
		return false
	}
	return m.now().Sub(m.firstErrorTime) < m.errorGracePeriod
}

// Reset resets all error tracking state
func (m *ErrorRecoveryManager) Reset() {
	m.consecutiveErrors = 0
	m.firstErrorTime = time.Time{}
	m.statusSetToOffline = false
}

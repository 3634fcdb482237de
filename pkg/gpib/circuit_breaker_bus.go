package gpib

import (
	"context"
	"fmt"

	"gpib-load-bridge/pkg/logger"
	"gpib-load-bridge/pkg/recovery"
)

// CircuitBreakerBus wraps a Bus with the circuit breaker pattern.
// Once the controller keeps failing, every exchange fails fast with
// recovery.ErrCircuitOpen instead of waiting for a read timeout.
type CircuitBreakerBus struct {
	bus            Bus
	circuitBreaker *recovery.CircuitBreaker
}

// NewCircuitBreakerBus creates a new bus with circuit breaker
func NewCircuitBreakerBus(bus Bus, cfg recovery.CircuitBreakerConfig) *CircuitBreakerBus {
	if cfg.OnStateChange == nil {
		cfg.OnStateChange = logStateChange
	}
	cb := recovery.NewCircuitBreaker(cfg)

	logger.LogInfo("🔌 Circuit breaker initialized for GPIB bus (MaxFailures: %d, Timeout: %s)",
		cfg.MaxFailures, cfg.Timeout)

	return &CircuitBreakerBus{
		bus:            bus,
		circuitBreaker: cb,
	}
}

func logStateChange(from, to recovery.CircuitState) {
	switch to {
	case recovery.StateOpen:
		logger.LogWarn("🔴 GPIB circuit breaker: %s -> OPEN (fast-failing exchanges)", from)
	case recovery.StateHalfOpen:
		logger.LogInfo("🟡 GPIB circuit breaker: HALF-OPEN (testing recovery)")
	case recovery.StateClosed:
		logger.LogInfo("🟢 GPIB circuit breaker: CLOSED (normal operation)")
	}
}

// Address delegates to the underlying bus
func (b *CircuitBreakerBus) Address() int {
	return b.bus.Address()
}

// SetAddress runs through the circuit breaker
func (b *CircuitBreakerBus) SetAddress(ctx context.Context, addr int) error {
	return b.circuitBreaker.Call(func() error {
		return b.bus.SetAddress(ctx, addr)
	})
}

// Write runs through the circuit breaker
func (b *CircuitBreakerBus) Write(ctx context.Context, cmd string) error {
	return b.circuitBreaker.Call(func() error {
		return b.bus.Write(ctx, cmd)
	})
}

// Query runs through the circuit breaker
func (b *CircuitBreakerBus) Query(ctx context.Context, cmd string) (string, error) {
	var resp string
	err := b.circuitBreaker.Call(func() error {
		var callErr error
		resp, callErr = b.bus.Query(ctx, cmd)
		return callErr
	})
	if err != nil {
		return "", err
	}
	return resp, nil
}

// Local runs through the circuit breaker
func (b *CircuitBreakerBus) Local(ctx context.Context) error {
	return b.circuitBreaker.Call(func() error {
		return b.bus.Local(ctx)
	})
}

// Identification runs through the circuit breaker
func (b *CircuitBreakerBus) Identification(ctx context.Context) (string, error) {
	var idn string
	err := b.circuitBreaker.Call(func() error {
		var callErr error
		idn, callErr = b.bus.Identification(ctx)
		return callErr
	})
	if err != nil {
		return "", err
	}
	return idn, nil
}

// GetState returns the current circuit breaker state (for monitoring)
func (b *CircuitBreakerBus) GetState() recovery.CircuitState {
	return b.circuitBreaker.GetState()
}

// ResetCircuitBreaker manually resets the circuit breaker
func (b *CircuitBreakerBus) ResetCircuitBreaker() {
	logger.LogInfo("🔄 Manually resetting GPIB circuit breaker")
	b.circuitBreaker.Reset()
}

// String provides a string representation for debugging
func (b *CircuitBreakerBus) String() string {
	return fmt.Sprintf("CircuitBreakerBus{%s}", b.circuitBreaker.GetStats())
}

var _ Bus = (*CircuitBreakerBus)(nil)

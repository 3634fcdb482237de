package errors

import (
	"context"
	stderrors "errors"
	"fmt"

	"gpib-load-bridge/pkg/logger"
)

// ErrorHandler provides centralized error handling
type ErrorHandler struct {
	diagnosticPublisher DiagnosticPublisher
}

// DiagnosticPublisher interface for publishing diagnostics
type DiagnosticPublisher interface {
	PublishDiagnostic(ctx context.Context, code int, message string) error
}

// NewErrorHandler creates a new error handler; publisher may be nil
func NewErrorHandler(publisher DiagnosticPublisher) *ErrorHandler {
	return &ErrorHandler{
		diagnosticPublisher: publisher,
	}
}

// Handle processes an error with appropriate logging and diagnostics
func (h *ErrorHandler) Handle(ctx context.Context, err error) {
	if err == nil {
		return
	}

	var (
		busErr        *BusError
		instrumentErr *InstrumentError
		mqttErr       *MQTTError
		configErr     *ConfigError
		validationErr *ValidationError
		bridgeErr     *BridgeError
	)

	switch {
	case stderrors.As(err, &instrumentErr):
		h.logBySeverity("Instrument", instrumentErr.Severity, instrumentErr.Error())
		h.publish(ctx, instrumentErr.Code,
			fmt.Sprintf("GPIB %d (%s): %s", instrumentErr.Address, instrumentErr.Command, instrumentErr.Op))
	case stderrors.As(err, &busErr):
		h.logBySeverity("Bus", busErr.Severity, busErr.Error())
		h.publish(ctx, busErr.Code, fmt.Sprintf("Bus %s: %s", busErr.Link, busErr.Op))
	case stderrors.As(err, &mqttErr):
		h.logBySeverity("MQTT", mqttErr.Severity, mqttErr.Error())
		h.publish(ctx, mqttErr.Code, fmt.Sprintf("Broker '%s': %s", mqttErr.Broker, mqttErr.Op))
	case stderrors.As(err, &configErr):
		logger.LogError("🔴 CRITICAL Configuration Error: %s", configErr.Error())
		h.publish(ctx, configErr.Code, fmt.Sprintf("Config field '%s': %s", configErr.Field, configErr.Op))
	case stderrors.As(err, &validationErr):
		logger.LogWarn("Validation Error: %s", validationErr.Error())
		h.publish(ctx, validationErr.Code, fmt.Sprintf("Validation failed for '%s'", validationErr.Field))
	case stderrors.As(err, &bridgeErr):
		h.logBySeverity("Bridge", bridgeErr.Severity, bridgeErr.Error())
		h.publish(ctx, bridgeErr.Code, bridgeErr.Op)
	default:
		logger.LogError("Untyped Error: %v", err)
		h.publish(ctx, CodeGeneric, err.Error())
	}
}

func (h *ErrorHandler) logBySeverity(kind string, severity ErrorSeverity, msg string) {
	switch severity {
	case SeverityCritical:
		logger.LogError("🔴 CRITICAL %s Error: %s", kind, msg)
	case SeverityError:
		logger.LogError("%s Error: %s", kind, msg)
	case SeverityWarning:
		logger.LogWarn("%s Warning: %s", kind, msg)
	default:
		logger.LogInfo("%s Info: %s", kind, msg)
	}
}

func (h *ErrorHandler) publish(ctx context.Context, code int, message string) {
	if h.diagnosticPublisher == nil {
		return
	}
	if publishErr := h.diagnosticPublisher.PublishDiagnostic(ctx, code, message); publishErr != nil {
		logger.LogDebug("Failed to publish diagnostic %d: %v", code, publishErr)
	}
}

// IsRecoverable returns true if the error is recoverable
func IsRecoverable(err error) bool {
	if err == nil {
		return true
	}

	var configErr *ConfigError
	if stderrors.As(err, &configErr) {
		return false
	}

	switch e := err.(type) {
	case *BridgeError:
		return e.Severity != SeverityCritical
	case *BusError:
		return e.Severity != SeverityCritical
	case *InstrumentError:
		return e.Severity != SeverityCritical
	case *MQTTError:
		return e.Severity != SeverityCritical
	default:
		return true // Unknown errors are assumed recoverable
	}
}

// GetDiagnosticCode extracts the diagnostic code from an error
func GetDiagnosticCode(err error) int {
	if err == nil {
		return 0
	}

	var (
		busErr        *BusError
		instrumentErr *InstrumentError
		mqttErr       *MQTTError
		configErr     *ConfigError
		validationErr *ValidationError
		bridgeErr     *BridgeError
	)

	switch {
	case stderrors.As(err, &instrumentErr):
		return instrumentErr.Code
	case stderrors.As(err, &busErr):
		return busErr.Code
	case stderrors.As(err, &mqttErr):
		return mqttErr.Code
	case stderrors.As(err, &configErr):
		return configErr.Code
	case stderrors.As(err, &validationErr):
		return validationErr.Code
	case stderrors.As(err, &bridgeErr):
		return bridgeErr.Code
	default:
		return CodeGeneric
	}
}

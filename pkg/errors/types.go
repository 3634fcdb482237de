package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrValidation is the cause of every ValidationError unless another one is attached
var ErrValidation = stderrors.New("validation failed")

// ErrorSeverity defines the severity level of an error
type ErrorSeverity int

const (
	SeverityInfo ErrorSeverity = iota
	SeverityWarning
	SeverityError
	SeverityCritical
)

// String returns the string representation of the severity
func (s ErrorSeverity) String() string {
	switch s {
	case SeverityInfo:
		return "INFO"
	case SeverityWarning:
		return "WARNING"
	case SeverityError:
		return "ERROR"
	case SeverityCritical:
		return "CRITICAL"
	default:
		return "UNKNOWN"
	}
}

// Diagnostic codes published on the diagnostic topic
const (
	CodeConfig     = 1
	CodeBus        = 2
	CodeInstrument = 3
	CodeMQTT       = 4
	CodeValidation = 5
	CodeGeneric    = 99
)

// BridgeError is the base error type for all bridge errors
type BridgeError struct {
	Op       string        // Operation that failed
	Err      error         // Underlying error
	Severity ErrorSeverity // Error severity
	Code     int           // Diagnostic code for MQTT
}

// Error implements the error interface
func (e *BridgeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Severity, e.Op, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Severity, e.Op)
}

// Unwrap returns the underlying error
func (e *BridgeError) Unwrap() error {
	return e.Err
}

// BusError represents errors from the GPIB controller or the link that carries it
type BusError struct {
	BridgeError
	Controller string // e.g. "prologix"
	Link       string // e.g. "tcp://10.0.0.5:1234"
}

// NewBusError creates a new bus error
func NewBusError(op string, err error, link string) *BusError {
	return &BusError{
		BridgeError: BridgeError{
			Op:       op,
			Err:      err,
			Severity: SeverityError,
			Code:     CodeBus,
		},
		Controller: "prologix",
		Link:       link,
	}
}

// Error implements the error interface
func (e *BusError) Error() string {
	return fmt.Sprintf("[%s] Bus %s (%s): %s: %v",
		e.Severity, e.Controller, e.Link, e.Op, e.Err)
}

// InstrumentError represents a failed exchange with one addressed instrument
type InstrumentError struct {
	BridgeError
	Address  int
	Command  string
	Response string
	Model    string
}

// NewInstrumentError creates a new instrument error
func NewInstrumentError(op string, err error, address int, command string) *InstrumentError {
	return &InstrumentError{
		BridgeError: BridgeError{
			Op:       op,
			Err:      err,
			Severity: SeverityError,
			Code:     CodeInstrument,
		},
		Address: address,
		Command: command,
	}
}

// Error implements the error interface
func (e *InstrumentError) Error() string {
	model := e.Model
	if model == "" {
		model = "instrument"
	}
	if e.Response != "" {
		return fmt.Sprintf("[%s] %s at GPIB %d (%s -> %q): %s: %v",
			e.Severity, model, e.Address, e.Command, e.Response, e.Op, e.Err)
	}
	return fmt.Sprintf("[%s] %s at GPIB %d (%s): %s: %v",
		e.Severity, model, e.Address, e.Command, e.Op, e.Err)
}

// MQTTError represents errors from MQTT operations
type MQTTError struct {
	BridgeError
	Broker string
	Topic  string
	QoS    byte
}

// NewMQTTError creates a new MQTT error
func NewMQTTError(op string, err error, broker string) *MQTTError {
	return &MQTTError{
		BridgeError: BridgeError{
			Op:       op,
			Err:      err,
			Severity: SeverityError,
			Code:     CodeMQTT,
		},
		Broker: broker,
	}
}

// Error implements the error interface
func (e *MQTTError) Error() string {
	if e.Topic != "" {
		return fmt.Sprintf("[%s] MQTT broker '%s' (topic: %s): %s: %v",
			e.Severity, e.Broker, e.Topic, e.Op, e.Err)
	}
	return fmt.Sprintf("[%s] MQTT broker '%s': %s: %v",
		e.Severity, e.Broker, e.Op, e.Err)
}

// ConfigError represents configuration errors
type ConfigError struct {
	BridgeError
	Field string
	Value interface{}
}

// NewConfigError creates a new configuration error
func NewConfigError(op string, err error, field string) *ConfigError {
	return &ConfigError{
		BridgeError: BridgeError{
			Op:       op,
			Err:      err,
			Severity: SeverityCritical, // Config errors are critical
			Code:     CodeConfig,
		},
		Field: field,
	}
}

// Error implements the error interface
func (e *ConfigError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("[%s] Configuration field '%s': %s: %v",
			e.Severity, e.Field, e.Op, e.Err)
	}
	return fmt.Sprintf("[%s] Configuration: %s: %v",
		e.Severity, e.Op, e.Err)
}

// ValidationError represents a rejected argument; nothing reached the bus
type ValidationError struct {
	BridgeError
	Field    string
	Expected interface{}
	Actual   interface{}
}

// NewValidationError creates a new validation error
func NewValidationError(field string, expected, actual interface{}) *ValidationError {
	return &ValidationError{
		BridgeError: BridgeError{
			Op:       "validation",
			Err:      ErrValidation,
			Severity: SeverityWarning,
			Code:     CodeValidation,
		},
		Field:    field,
		Expected: expected,
		Actual:   actual,
	}
}

// Wrap replaces the cause so callers can match a domain sentinel with errors.Is
func (e *ValidationError) Wrap(cause error) *ValidationError {
	e.Err = cause
	return e
}

// Error implements the error interface
func (e *ValidationError) Error() string {
	return fmt.Sprintf("[%s] Field '%s': expected %v, got %v",
		e.Severity, e.Field, e.Expected, e.Actual)
}

package concentrator

import (
	"errors"
	"fmt"
	"time"
)

// Core errors
var (
	// ErrInvalidConfig indicates a configuration that failed validation
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrFieldOutOfRange indicates a field value outside its encodable range
	ErrFieldOutOfRange = errors.New("field value out of range")

	// ErrInvalidStateTransition indicates an operation attempted from the wrong controller state
	ErrInvalidStateTransition = errors.New("invalid state transition")

	// ErrCalibrationTimeout indicates calibration did not complete within the polling budget
	ErrCalibrationTimeout = errors.New("calibration timed out")

	// ErrCalibrationFailed indicates the chip reported a calibration failure
	ErrCalibrationFailed = errors.New("calibration failed")

	// ErrWaitTimeout indicates a wait-bit-set operation expired before the bits were set
	ErrWaitTimeout = errors.New("timeout waiting for register bits")

	// ErrVersionMismatch indicates the chip version register did not match the expected variant
	ErrVersionMismatch = errors.New("chip version mismatch")
)

// ConfigError reports the first validation violation found, tagged with the
// path of the offending field (e.g. "if_chains[3].radio").
type ConfigError struct {
	Field  string
	Reason string
	Err    error
}

func (e *ConfigError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("config: %s: %v", e.Field, e.Err)
	}
	return fmt.Sprintf("config: %s: %s", e.Field, e.Reason)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

func (e *ConfigError) Is(target error) bool {
	return target == ErrInvalidConfig
}

func configErr(field, format string, args ...interface{}) *ConfigError {
	return &ConfigError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// FieldOutOfRangeError reports a logical field value the codec cannot encode.
type FieldOutOfRangeError struct {
	Field string
	Value int64
	Min   int64
	Max   int64
}

func (e *FieldOutOfRangeError) Error() string {
	return fmt.Sprintf("field %s: value %d out of range [%d, %d]", e.Field, e.Value, e.Min, e.Max)
}

func (e *FieldOutOfRangeError) Unwrap() error {
	return ErrFieldOutOfRange
}

// FieldAlignmentError reports a logical field value that is not a multiple of
// the field's register resolution.
type FieldAlignmentError struct {
	Field string
	Value int64
	Step  int64
}

func (e *FieldAlignmentError) Error() string {
	return fmt.Sprintf("field %s: value %d is not a multiple of %d", e.Field, e.Value, e.Step)
}

func (e *FieldAlignmentError) Unwrap() error {
	return ErrFieldOutOfRange
}

// BusError reports a register transport failure after retries were exhausted.
type BusError struct {
	Op   string
	Addr uint16
	Err  error
}

func (e *BusError) Error() string {
	return fmt.Sprintf("bus %s at 0x%04X: %v", e.Op, e.Addr, e.Err)
}

func (e *BusError) Unwrap() error {
	return e.Err
}

// CalibrationError reports a timeout or a chip-reported failure during the
// self-calibration routine. Radio is -1 for failures not tied to one front end.
type CalibrationError struct {
	Radio   int
	Elapsed time.Duration
	Err     error
}

func (e *CalibrationError) Error() string {
	if e.Radio >= 0 {
		return fmt.Sprintf("calibration of radio %d: %v", e.Radio, e.Err)
	}
	return fmt.Sprintf("calibration: %v (after %s)", e.Err, e.Elapsed)
}

func (e *CalibrationError) Unwrap() error {
	return e.Err
}

// InvalidStateTransitionError reports an operation invoked from a controller
// state it is not valid in. The controller state is left unchanged.
type InvalidStateTransitionError struct {
	Op       string
	State    State
	Required State
}

func (e *InvalidStateTransitionError) Error() string {
	return fmt.Sprintf("%s requires state %s, controller is %s", e.Op, e.Required, e.State)
}

func (e *InvalidStateTransitionError) Unwrap() error {
	return ErrInvalidStateTransition
}

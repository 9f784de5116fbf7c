// Package tilegrid structured error types for better error handling
package tilegrid

import (
	"errors"
	"fmt"
)

// ErrorType represents categories of errors
type ErrorType int

const (
	// Allocation errors: bulk or device memory request failed
	ErrTypeAllocation ErrorType = iota
	// Dimension errors: operand shapes disagree or do not tile evenly
	ErrTypeDimension
	// Resource errors: launch geometry exceeds runtime capacity limits
	ErrTypeResource
	// Transfer errors: host/device copy failed at the runtime boundary
	ErrTypeTransfer
	// Launch errors: kernel invocation failed at the runtime boundary
	ErrTypeLaunch
	// Invalid argument errors
	ErrTypeInvalidArg
	// Device errors: device selection or capability failures
	ErrTypeDevice
)

// Error represents a structured runtime error with context
type Error struct {
	Type    ErrorType
	Op      string      // Operation that failed
	Message string      // Human-readable message
	Err     error       // Underlying error if any
	Context interface{} // Additional context
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("tilegrid %s error in %s: %s (caused by: %v)",
			e.Type.String(), e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("tilegrid %s error in %s: %s",
		e.Type.String(), e.Op, e.Message)
}

// Unwrap allows error chain inspection
func (e *Error) Unwrap() error {
	return e.Err
}

// String returns the error type as a string
func (t ErrorType) String() string {
	switch t {
	case ErrTypeAllocation:
		return "Allocation"
	case ErrTypeDimension:
		return "Dimension"
	case ErrTypeResource:
		return "ResourceExhaustion"
	case ErrTypeTransfer:
		return "Transfer"
	case ErrTypeLaunch:
		return "Launch"
	case ErrTypeInvalidArg:
		return "InvalidArgument"
	case ErrTypeDevice:
		return "Device"
	default:
		return "Unknown"
	}
}

// Common error constructors

// NewAllocationError creates an allocation error
func NewAllocationError(op string, message string, err error) error {
	return &Error{Type: ErrTypeAllocation, Op: op, Message: message, Err: err}
}

// NewDimensionError creates a dimension mismatch error
func NewDimensionError(op string, message string) error {
	return &Error{Type: ErrTypeDimension, Op: op, Message: message}
}

// NewResourceError creates a resource exhaustion error
func NewResourceError(op string, message string) error {
	return &Error{Type: ErrTypeResource, Op: op, Message: message}
}

// NewTransferError creates a transfer error
func NewTransferError(op string, message string, err error) error {
	return &Error{Type: ErrTypeTransfer, Op: op, Message: message, Err: err}
}

// NewLaunchError creates a launch error
func NewLaunchError(op string, message string, context interface{}) error {
	return &Error{Type: ErrTypeLaunch, Op: op, Message: message, Context: context}
}

// NewInvalidArgError creates an invalid argument error
func NewInvalidArgError(op string, message string) error {
	return &Error{Type: ErrTypeInvalidArg, Op: op, Message: message}
}

// NewDeviceError creates a device error
func NewDeviceError(op string, message string) error {
	return &Error{Type: ErrTypeDevice, Op: op, Message: message}
}

// Common pre-defined errors

var (
	// ErrOutOfMemory indicates memory allocation failure
	ErrOutOfMemory = NewAllocationError("Malloc", "out of memory", nil)

	// ErrInvalidSize indicates invalid size parameter
	ErrInvalidSize = NewInvalidArgError("Malloc", "size must be positive")

	// ErrDoubleFree indicates double free attempt
	ErrDoubleFree = NewAllocationError("Free", "double free detected", nil)
)

// isType reports whether err (or anything it wraps) is a runtime error of
// the given category.
func isType(err error, t ErrorType) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Type == t
	}
	return false
}

// IsAllocationError checks if an error is an allocation error
func IsAllocationError(err error) bool { return isType(err, ErrTypeAllocation) }

// IsDimensionError checks if an error is a dimension mismatch error
func IsDimensionError(err error) bool { return isType(err, ErrTypeDimension) }

// IsResourceError checks if an error is a resource exhaustion error
func IsResourceError(err error) bool { return isType(err, ErrTypeResource) }

// IsTransferError checks if an error is a transfer error
func IsTransferError(err error) bool { return isType(err, ErrTypeTransfer) }

// IsLaunchError checks if an error is a launch error
func IsLaunchError(err error) bool { return isType(err, ErrTypeLaunch) }

// IsInvalidArgError checks if an error is an invalid argument error
func IsInvalidArgError(err error) bool { return isType(err, ErrTypeInvalidArg) }

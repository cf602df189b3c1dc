package errors

import (
	"errors"
	"fmt"
)

// ErrorCode represents a unique error code
type ErrorCode int

// AppError represents an application error
type AppError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Err     error     `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// Common error codes
const (
	ErrNotFound ErrorCode = iota + 1000
	ErrValidation
	ErrInvalidTransition
	ErrTransientStore
	ErrDelivery
	ErrLockContention
	ErrInternal
)

// CodeOf returns the error code carried by err, or ErrInternal when
// err is not an AppError.
func CodeOf(err error) ErrorCode {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrInternal
}

// Retryable reports whether the job dispatcher may retry after err.
// Validation and transition errors cannot succeed on a later attempt;
// everything else, unknown errors included, is presumed transient.
func Retryable(err error) bool {
	switch CodeOf(err) {
	case ErrValidation, ErrInvalidTransition:
		return false
	}
	return true
}

// Error constructors
func NewNotFound(resource string, err error) *AppError {
	return &AppError{
		Code:    ErrNotFound,
		Message: fmt.Sprintf("%s not found", resource),
		Err:     err,
	}
}

func NewValidation(message string, err error) *AppError {
	return &AppError{
		Code:    ErrValidation,
		Message: message,
		Err:     err,
	}
}

func NewInvalidTransition(from, to string) *AppError {
	return &AppError{
		Code:    ErrInvalidTransition,
		Message: fmt.Sprintf("invalid transition from %s to %s", from, to),
	}
}

func NewTransientStore(operation string, err error) *AppError {
	return &AppError{
		Code:    ErrTransientStore,
		Message: fmt.Sprintf("store operation %s failed", operation),
		Err:     err,
	}
}

func NewDelivery(channel string, err error) *AppError {
	return &AppError{
		Code:    ErrDelivery,
		Message: fmt.Sprintf("delivery via %s failed", channel),
		Err:     err,
	}
}

func NewLockContention(key string, err error) *AppError {
	return &AppError{
		Code:    ErrLockContention,
		Message: fmt.Sprintf("could not acquire lock for %s", key),
		Err:     err,
	}
}

func NewInternal(err error) *AppError {
	return &AppError{
		Code:    ErrInternal,
		Message: "internal server error",
		Err:     err,
	}
}

package common

import (
	"errors"
	"fmt"
)

// AppError represents application-specific errors
type AppError struct {
	Code    string
	Message string
	Cause   error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// Common application errors. The pipeline wraps failures with the matching
// sentinel so callers can branch with errors.Is without string matching.
var (
	ErrNotFound     = errors.New("invoice not found")
	ErrInvalidInput = errors.New("invalid input")
	ErrInvalidState = errors.New("invoice is not in a postable state")
	ErrIntake       = errors.New("source file is not readable")
	ErrRecognition  = errors.New("text recognition failed")
	ErrPosting      = errors.New("posting failed")
	ErrDatabase     = errors.New("database error")
)

// Error constructors
func NewAppError(code, message string, cause error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

func WrapError(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

package tenantflow_errors

import (
	"errors"
	"fmt"
)

// Common errors
var (
	ErrNotFound           = errors.New("not found")
	ErrConflict           = errors.New("conflict")
	ErrInvalidInput       = errors.New("invalid input")
	ErrForbidden          = errors.New("forbidden")
	ErrServiceUnavailable = errors.New("service unavailable")
	ErrAlreadyExists      = errors.New("already exists")
	ErrLeaseLost          = errors.New("lease lost")
)

// ConflictError is returned when an idempotency key is reused with a
// materially different payload.
type ConflictError struct {
	Key    string
	Reason string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("idempotency key %q reused: %s", e.Key, e.Reason)
}

func (e *ConflictError) Unwrap() error {
	return ErrConflict
}

// PolicyError is a synchronous access-policy denial. Never retried.
type PolicyError struct {
	Code string
}

func (e *PolicyError) Error() string {
	return "access policy denied: " + e.Code
}

func (e *PolicyError) Unwrap() error {
	return ErrForbidden
}

// ValidationError is a synchronous currency/amount/request validation failure.
type ValidationError struct {
	Code   string
	Detail string
}

func (e *ValidationError) Error() string {
	if e.Detail == "" {
		return "validation failed: " + e.Code
	}
	return fmt.Sprintf("validation failed: %s: %s", e.Code, e.Detail)
}

func (e *ValidationError) Unwrap() error {
	return ErrInvalidInput
}

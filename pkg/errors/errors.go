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
	ErrBadRequest
	ErrUnauthorized
	ErrForbidden
	ErrInternal
	ErrValidation
	ErrInsufficientStock
	ErrInventoryTampered
	ErrChainUnreachable
	ErrRollbackFailure
)

// Error constructors
func NewNotFound(resource string, err error) *AppError {
	return &AppError{
		Code:    ErrNotFound,
		Message: fmt.Sprintf("%s not found", resource),
		Err:     err,
	}
}

func NewBadRequest(message string, err error) *AppError {
	return &AppError{
		Code:    ErrBadRequest,
		Message: message,
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

func Unauthorized(err error) *AppError {
	return &AppError{
		Code:    ErrUnauthorized,
		Message: "unauthorized",
		Err:     err,
	}
}

// ValidationError reports malformed caller input. Not retryable.
type ValidationError struct {
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation failed: %s", e.Message)
}

func NewValidation(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// InsufficientStockError is a check-phase rejection: the named medicine cannot
// be fulfilled from current active batches. No stock was touched.
type InsufficientStockError struct {
	Medicine  string `json:"medicine"`
	Required  int64  `json:"required"`
	Available int64  `json:"available"`
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for %s: required %d, available %d",
		e.Medicine, e.Required, e.Available)
}

func NewInsufficientStock(medicine string, required, available int64) *InsufficientStockError {
	return &InsufficientStockError{Medicine: medicine, Required: required, Available: available}
}

// InventoryTamperedError means the locally computed inventory root does not
// match the anchored root. Carries both roots for forensic logging. Blocks all
// stock mutation until an operator intervenes; never auto-resolved.
type InventoryTamperedError struct {
	LocalRoot    string `json:"local_root"`
	ExternalRoot string `json:"external_root"`
	BatchCount   int    `json:"batch_count"`
}

func (e *InventoryTamperedError) Error() string {
	return fmt.Sprintf("inventory integrity violation: local root %s does not match anchored root %s (%d batches)",
		e.LocalRoot, e.ExternalRoot, e.BatchCount)
}

func NewInventoryTampered(localRoot, externalRoot string, batchCount int) *InventoryTamperedError {
	return &InventoryTamperedError{
		LocalRoot:    localRoot,
		ExternalRoot: externalRoot,
		BatchCount:   batchCount,
	}
}

// ChainUnreachableError is a connectivity failure against the external ledger.
// Distinguished from tamper so operators can tell an outage from an attack;
// mutation still fails closed, but callers may retry.
type ChainUnreachableError struct {
	Op  string
	Err error
}

func (e *ChainUnreachableError) Error() string {
	return fmt.Sprintf("external ledger unreachable during %s: %v", e.Op, e.Err)
}

func (e *ChainUnreachableError) Unwrap() error { return e.Err }

func NewChainUnreachable(op string, err error) *ChainUnreachableError {
	return &ChainUnreachableError{Op: op, Err: err}
}

// RollbackFailureError means a journal reversal itself failed mid-rollback and
// the stock ledger may be inconsistent. There is no automatic recovery past
// this point; it must be logged at the highest severity and handled manually.
type RollbackFailureError struct {
	BatchID string
	Err     error
}

func (e *RollbackFailureError) Error() string {
	return fmt.Sprintf("rollback failed on batch %s, manual reconciliation required: %v", e.BatchID, e.Err)
}

func (e *RollbackFailureError) Unwrap() error { return e.Err }

func NewRollbackFailure(batchID string, err error) *RollbackFailureError {
	return &RollbackFailureError{BatchID: batchID, Err: err}
}

// IsRetryable reports whether the error is transient from the caller's point
// of view. Tamper and rollback failures are not; connectivity failures are.
func IsRetryable(err error) bool {
	var unreachable *ChainUnreachableError
	return errors.As(err, &unreachable)
}

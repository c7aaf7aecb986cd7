package domain

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	ErrValidation          = errors.New("validation failed")
	ErrNotFound            = errors.New("not found")
	ErrUnauthorized        = errors.New("unauthorized")
	ErrForbidden           = errors.New("forbidden")
	ErrGateway             = errors.New("payment gateway error")
	ErrLimitExceeded       = errors.New("amount exceeds limit")
	ErrConflict            = errors.New("conflict")
	ErrPaymentNotCompleted = errors.New("payment not completed")
)

type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// NotFoundError reports how many of the requested resources did not resolve
// or are no longer available.
type NotFoundError struct {
	Resource string
	Count    int
}

func (e *NotFoundError) Error() string {
	if e.Count > 1 {
		return fmt.Sprintf("%d %ss not found or unavailable", e.Count, e.Resource)
	}
	if e.Count == 1 {
		return fmt.Sprintf("1 %s not found or unavailable", e.Resource)
	}
	return fmt.Sprintf("%s not found", e.Resource)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

type LimitExceededError struct {
	Amount decimal.Decimal
	Limit  decimal.Decimal
}

func (e *LimitExceededError) Error() string {
	return fmt.Sprintf("amount %s exceeds limit %s", e.Amount.StringFixed(2), e.Limit.StringFixed(2))
}

func (e *LimitExceededError) Is(target error) bool { return target == ErrLimitExceeded }

// GatewayError wraps a failed payment processor call. The wrapped error is
// kept for logging and must not be shown to clients.
type GatewayError struct {
	Op  string
	Err error
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("payment gateway %s: %v", e.Op, e.Err)
}

func (e *GatewayError) Unwrap() error { return e.Err }

func (e *GatewayError) Is(target error) bool { return target == ErrGateway }

type PaymentNotCompletedError struct {
	IntentID string
	Status   string
}

func (e *PaymentNotCompletedError) Error() string {
	return fmt.Sprintf("payment %s has status %q", e.IntentID, e.Status)
}

func (e *PaymentNotCompletedError) Is(target error) bool { return target == ErrPaymentNotCompleted }

type ConflictError struct {
	Reason string
}

func (e *ConflictError) Error() string { return e.Reason }

func (e *ConflictError) Is(target error) bool { return target == ErrConflict }

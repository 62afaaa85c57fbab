package core

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidDay    = errors.New("invalid day")
	ErrInvalidMonth  = errors.New("invalid month")
	ErrInvalidAmount = errors.New("invalid amount")
	ErrInvalidPeriod = errors.New("invalid period")

	// Installment plans and allocation
	ErrInvalidPlan  = errors.New("invalid plan")
	ErrOverpayment  = errors.New("amount exceeds outstanding balance")
	ErrInvalidInput = errors.New("invalid input")

	// Payment ledger
	ErrPaymentNotFound        = errors.New("payment not found")
	ErrAlreadyFullyPaid       = errors.New("payment already fully paid")
	ErrPaymentCancelled       = errors.New("payment cancelled")
	ErrCancelWithAbonos       = errors.New("payment has recorded abonos")
	ErrConcurrentModification = errors.New("concurrent modification")

	// Invoicing
	ErrInvoiceNotFound    = errors.New("invoice not found")
	ErrDuplicateInvoice   = errors.New("payment already has an active invoice")
	ErrInvalidTransition  = errors.New("invalid invoice transition")
	ErrInvalidTaxID       = errors.New("invalid tax id")
	ErrNothingToInvoice   = errors.New("payment has no recorded abonos")
	ErrGatewayTimeout     = errors.New("tax gateway timeout")
	ErrGatewayUnavailable = errors.New("tax gateway unavailable")
	ErrGatewayRejected    = errors.New("rejected by tax gateway")

	ErrPersistence = errors.New("persistence failure")
)

// ValidationError reports which input field violated which rule.
type ValidationError struct {
	Field   string
	Message string
	Err     error
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("%v: %s", e.Err, e.Message)
	}
	return fmt.Sprintf("%v: %s: %s", e.Err, e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// Invalid builds a ValidationError wrapping sentinel.
func Invalid(sentinel error, field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...), Err: sentinel}
}

// Persistence wraps a storage failure so callers can match ErrPersistence.
func Persistence(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrPersistence) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", ErrPersistence, op, err)
}

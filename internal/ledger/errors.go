package ledger

import (
	"errors"
	"fmt"

	"github.com/autonest/backend/internal/repository"
)

var (
	// ErrInsufficientCredits is returned when a debit exceeds the balance. No partial debit is applied.
	ErrInsufficientCredits = repository.ErrInsufficientCredits
	// ErrAccountNotFound is returned when the account has never been provisioned.
	ErrAccountNotFound = repository.ErrNotFound
	// ErrInvalidAmount is returned for non-positive amounts or credit counts.
	ErrInvalidAmount = errors.New("amount must be positive")
	// ErrMissingArgument is returned when a required identifier is empty.
	ErrMissingArgument = errors.New("missing required argument")
)

// PaymentNotCompletedError means the capture call succeeded but the payment did not.
// The ledger is untouched; the buyer may restart approval.
type PaymentNotCompletedError struct {
	Status             string
	InstrumentDeclined bool
}

func (e *PaymentNotCompletedError) Error() string {
	return fmt.Sprintf("payment not completed: status %s", e.Status)
}

// CreditReconciliationError means the gateway captured the payment but the
// balance increment did not commit. It needs manual follow-up with CaptureID.
type CreditReconciliationError struct {
	OrderID   string
	CaptureID string
	AccountID string
	Credits   int64
	Err       error
}

func (e *CreditReconciliationError) Error() string {
	return fmt.Sprintf("credit reconciliation failure: capture %s for order %s completed but %d credits were not applied to %s: %v",
		e.CaptureID, e.OrderID, e.Credits, e.AccountID, e.Err)
}

func (e *CreditReconciliationError) Unwrap() error { return e.Err }

package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/autonest/backend/internal/metrics"
	"github.com/autonest/backend/internal/models"
	"github.com/autonest/backend/internal/payment"
)

// settleTimeout bounds the ledger write that follows a completed capture.
const settleTimeout = 10 * time.Second

// TxBeginner is satisfied by *pgxpool.Pool.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// AccountStore is the minimal account repository the ledger needs.
// Both mutations must be single conditional statements, never read-then-write.
type AccountStore interface {
	Balance(ctx context.Context, id string) (int64, error)
	AddCredits(ctx context.Context, tx pgx.Tx, id string, amount int64) (newBalance int64, err error)
	DeductCredits(ctx context.Context, tx pgx.Tx, id string, amount int64) (newBalance int64, err error)
}

// EntryStore appends credit ledger entries.
type EntryStore interface {
	CreateTx(ctx context.Context, tx pgx.Tx, c *models.CreditEntry) error
}

// Gateway is the payment processor.
type Gateway interface {
	CreateOrder(ctx context.Context, amount decimal.Decimal, description string) (*payment.Order, error)
	CaptureOrder(ctx context.Context, orderID string) (*payment.Capture, error)
}

// RunRecorder stores purchase outcomes. It must not fail the caller.
type RunRecorder interface {
	Record(ctx context.Context, e *models.RunLogEntry)
}

// CaptureResult is returned for a completed purchase.
type CaptureResult struct {
	CaptureID  string
	Status     string
	NewBalance int64
}

// Service is the only code path that changes an account's credits.
type Service struct {
	pool     TxBeginner
	accounts AccountStore
	entries  EntryStore
	gateway  Gateway
	runs     RunRecorder
	metrics  *metrics.Metrics
	log      *slog.Logger
}

func NewService(pool TxBeginner, accounts AccountStore, entries EntryStore, gateway Gateway, runs RunRecorder, m *metrics.Metrics, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		pool:     pool,
		accounts: accounts,
		entries:  entries,
		gateway:  gateway,
		runs:     runs,
		metrics:  m,
		log:      log.With("component", "ledger"),
	}
}

// CreateOrder opens a gateway order for amount. It has no ledger effect, and
// two calls with the same input yield two orders.
func (s *Service) CreateOrder(ctx context.Context, amount decimal.Decimal, creditsToPurchase int64) (string, error) {
	if !amount.IsPositive() || creditsToPurchase <= 0 {
		return "", ErrInvalidAmount
	}
	order, err := s.gateway.CreateOrder(ctx, amount, fmt.Sprintf("AutoNest credits: %d", creditsToPurchase))
	if err != nil {
		return "", fmt.Errorf("create order: %w", err)
	}
	return order.ID, nil
}

// CaptureAndCredit captures an approved order and, only on COMPLETED, adds
// creditsToPurchase to the account. It is not idempotent: each successful
// call credits once. Every outcome after the gateway is called is recorded
// as a credit-purchase run.
func (s *Service) CaptureAndCredit(ctx context.Context, orderID string, creditsToPurchase int64, accountID string) (*CaptureResult, error) {
	if orderID == "" || accountID == "" {
		return nil, ErrMissingArgument
	}
	if creditsToPurchase <= 0 {
		return nil, ErrInvalidAmount
	}
	run := &models.RunLogEntry{
		WorkflowID:   models.WorkflowCreditPurchase,
		UserID:       accountID,
		InputDetails: map[string]any{"orderId": orderID, "creditsToPurchase": creditsToPurchase},
	}

	capture, err := s.gateway.CaptureOrder(ctx, orderID)
	if err != nil {
		var gwErr *payment.GatewayError
		if errors.As(err, &gwErr) && gwErr.InstrumentDeclined() {
			perr := &PaymentNotCompletedError{Status: payment.StatusDeclined, InstrumentDeclined: true}
			s.recordFailure(ctx, run, perr)
			return nil, perr
		}
		s.recordFailure(ctx, run, err)
		return nil, fmt.Errorf("capture order %s: %w", orderID, err)
	}
	if capture.Status != payment.StatusCompleted {
		perr := &PaymentNotCompletedError{Status: capture.Status}
		s.recordFailure(ctx, run, perr)
		return nil, perr
	}

	// The payment has been taken. Settle on a context the caller cannot cancel
	// so only a store failure can leave it unreconciled.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), settleTimeout)
	defer cancel()

	newBalance, err := s.apply(ctx, models.CreditEntryPurchase, accountID, creditsToPurchase, capture.CaptureID)
	if err != nil {
		rerr := &CreditReconciliationError{
			OrderID:   orderID,
			CaptureID: capture.CaptureID,
			AccountID: accountID,
			Credits:   creditsToPurchase,
			Err:       err,
		}
		s.metrics.IncReconciliationFailure()
		s.log.Error("CRITICAL: payment captured but credits not applied",
			"order_id", orderID, "capture_id", capture.CaptureID, "account_id", accountID, "credits", creditsToPurchase, "error", err)
		s.recordFailure(ctx, run, rerr)
		return nil, rerr
	}

	run.Status = models.RunStatusCompleted
	run.OutputSummary = fmt.Sprintf("Purchased %d credits (capture %s)", creditsToPurchase, capture.CaptureID)
	run.FullOutput, _ = json.Marshal(map[string]any{
		"paypalCaptureId": capture.CaptureID,
		"status":          capture.Status,
		"newBalance":      newBalance,
	})
	s.runs.Record(ctx, run)

	return &CaptureResult{CaptureID: capture.CaptureID, Status: capture.Status, NewBalance: newBalance}, nil
}

// Debit removes amount from the balance, or fails with ErrInsufficientCredits
// and leaves the balance unchanged.
func (s *Service) Debit(ctx context.Context, accountID string, amount int64, reference string) (int64, error) {
	if amount <= 0 {
		return 0, ErrInvalidAmount
	}
	return s.apply(ctx, models.CreditEntryToolDebit, accountID, -amount, reference)
}

// Credit adds amount to the balance without any gateway verification.
func (s *Service) Credit(ctx context.Context, accountID string, amount int64, reference string) (int64, error) {
	if amount <= 0 {
		return 0, ErrInvalidAmount
	}
	return s.apply(ctx, models.CreditEntryManualCredit, accountID, amount, reference)
}

// Grant is an operator top-up: Credit plus a manual-credit run record for
// both outcomes.
func (s *Service) Grant(ctx context.Context, accountID string, amount int64, reference string) (int64, error) {
	run := &models.RunLogEntry{
		WorkflowID:   models.WorkflowManualCredit,
		UserID:       accountID,
		InputDetails: map[string]any{"amount": amount, "reference": reference},
	}
	newBalance, err := s.Credit(ctx, accountID, amount, reference)
	if err != nil {
		s.recordFailure(ctx, run, err)
		return 0, err
	}
	run.Status = models.RunStatusCompleted
	run.OutputSummary = fmt.Sprintf("Granted %d credits", amount)
	run.FullOutput, _ = json.Marshal(map[string]any{"newBalance": newBalance})
	s.runs.Record(ctx, run)
	return newBalance, nil
}

// Balance is the authoritative current balance.
func (s *Service) Balance(ctx context.Context, accountID string) (int64, error) {
	return s.accounts.Balance(ctx, accountID)
}

// apply changes the balance by delta and appends the matching ledger entry in
// one transaction.
func (s *Service) apply(ctx context.Context, entryType, accountID string, delta int64, reference string) (int64, error) {
	if accountID == "" {
		return 0, ErrMissingArgument
	}
	newBalance, err := s.applyTx(ctx, entryType, accountID, delta, reference)
	if err != nil {
		s.metrics.ObserveLedger(entryType, "error")
		return 0, err
	}
	s.metrics.ObserveLedger(entryType, "ok")
	s.log.Info("credits updated", "account_id", accountID, "entry_type", entryType, "delta", delta, "balance", newBalance)
	return newBalance, nil
}

func (s *Service) applyTx(ctx context.Context, entryType, accountID string, delta int64, reference string) (int64, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var newBalance int64
	if delta < 0 {
		newBalance, err = s.accounts.DeductCredits(ctx, tx, accountID, -delta)
	} else {
		newBalance, err = s.accounts.AddCredits(ctx, tx, accountID, delta)
	}
	if err != nil {
		if errors.Is(err, ErrInsufficientCredits) || errors.Is(err, ErrAccountNotFound) {
			return 0, err
		}
		return 0, fmt.Errorf("update balance: %w", err)
	}

	entry := &models.CreditEntry{
		ID:           uuid.New(),
		AccountID:    accountID,
		EntryType:    entryType,
		Amount:       delta,
		BalanceAfter: newBalance,
		Reference:    reference,
	}
	if err := s.entries.CreateTx(ctx, tx, entry); err != nil {
		return 0, fmt.Errorf("append ledger entry: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return newBalance, nil
}

func (s *Service) recordFailure(ctx context.Context, run *models.RunLogEntry, err error) {
	run.Status = models.RunStatusFailed
	run.ErrorDetails = err.Error()
	s.runs.Record(ctx, run)
}

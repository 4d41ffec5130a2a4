package models

import (
	"time"

	"github.com/google/uuid"
)

// Credit ledger entry types.
const (
	CreditEntrySignupGrant  = "signup_grant"
	CreditEntryPurchase     = "purchase"
	CreditEntryToolDebit    = "tool_debit"
	CreditEntryManualCredit = "manual_credit"
)

// CreditEntry is one append-only row per balance mutation. Amount is signed:
// negative for debits.
type CreditEntry struct {
	ID           uuid.UUID `json:"id"`
	AccountID    string    `json:"accountId"`
	EntryType    string    `json:"entryType"`
	Amount       int64     `json:"amount"`
	BalanceAfter int64     `json:"balanceAfter"`
	Reference    string    `json:"reference,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
}

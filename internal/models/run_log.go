package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

const (
	RunStatusCompleted = "Completed"
	RunStatusFailed    = "Failed"
)

const (
	// WorkflowCreditPurchase is the workflow id used for payment capture records.
	WorkflowCreditPurchase = "credit-purchase"
	// WorkflowManualCredit marks admin top-ups that bypass the gateway.
	WorkflowManualCredit = "manual-credit"
)

// RunLogEntry is written once per tool invocation, payment capture attempt
// or manual credit.
type RunLogEntry struct {
	ID              uuid.UUID       `json:"id"`
	WorkflowID      string          `json:"workflowId"`
	UserID          string          `json:"userId"`
	Timestamp       time.Time       `json:"timestamp"`
	Status          string          `json:"status"`
	CreditCostAtRun int64           `json:"creditCostAtRun"`
	InputDetails    map[string]any  `json:"inputDetails,omitempty"`
	FullOutput      json.RawMessage `json:"fullOutput,omitempty"`
	OutputSummary   string          `json:"outputSummary,omitempty"`
	ErrorDetails    string          `json:"errorDetails,omitempty"`
}

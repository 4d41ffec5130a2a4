package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/autonest/backend/internal/execution"
	"github.com/autonest/backend/internal/ledger"
	"github.com/autonest/backend/internal/models"
)

// Ledger is the part of ledger.Service a tool run needs.
type Ledger interface {
	Balance(ctx context.Context, accountID string) (int64, error)
	Debit(ctx context.Context, accountID string, amount int64, reference string) (int64, error)
}

// RunRecorder is satisfied by *runlog.Logger.
type RunRecorder interface {
	Record(ctx context.Context, e *models.RunLogEntry)
}

// RunSpec describes one billable tool invocation.
type RunSpec struct {
	Tool   string
	Cost   int64
	Input  map[string]any
	Invoke func(ctx context.Context) (*execution.Result, error)
}

// RunResult is returned for a completed, charged run.
type RunResult struct {
	RunID          uuid.UUID       `json:"runId"`
	Tool           string          `json:"tool"`
	Shape          execution.Shape `json:"shape,omitempty"`
	Output         any             `json:"output"`
	Degraded       bool            `json:"degraded,omitempty"`
	CreditsCharged int64           `json:"creditsCharged"`
	NewBalance     int64           `json:"newBalance"`
	RawResponse    string          `json:"-"`
}

// Runner sequences a tool run: balance precheck, invocation, debit, run log.
// Credits are only taken after the tool returned a usable result.
type Runner struct {
	ledger Ledger
	runs   RunRecorder
	log    *slog.Logger
}

func NewRunner(l Ledger, runs RunRecorder, log *slog.Logger) *Runner {
	if log == nil {
		log = slog.Default()
	}
	return &Runner{ledger: l, runs: runs, log: log.With("component", "runner")}
}

func (r *Runner) Run(ctx context.Context, accountID string, spec RunSpec) (*RunResult, error) {
	if accountID == "" || spec.Invoke == nil {
		return nil, ledger.ErrMissingArgument
	}
	if spec.Cost <= 0 {
		return nil, ledger.ErrInvalidAmount
	}

	// 1. Precheck so no webhook call is spent on a run that cannot be billed.
	balance, err := r.ledger.Balance(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("read balance: %w", err)
	}
	if balance < spec.Cost {
		return nil, ledger.ErrInsufficientCredits
	}

	run := &models.RunLogEntry{
		ID:              uuid.New(),
		WorkflowID:      spec.Tool,
		UserID:          accountID,
		CreditCostAtRun: spec.Cost,
		InputDetails:    spec.Input,
	}

	// 2. Invoke.
	res, err := spec.Invoke(ctx)
	if err != nil {
		// 3. Nothing is charged for a failed run.
		r.log.Warn("tool run failed", "run_id", run.ID, "tool", spec.Tool, "account_id", accountID, "error", err)
		r.fail(ctx, run, err)
		return nil, err
	}

	// 4. Debit. The conditional update can still lose to a concurrent run.
	newBalance, err := r.ledger.Debit(ctx, accountID, spec.Cost, run.ID.String())
	if err != nil {
		r.log.Warn("tool run succeeded but debit failed", "run_id", run.ID, "tool", spec.Tool, "account_id", accountID, "error", err)
		r.fail(ctx, run, err)
		if errors.Is(err, ledger.ErrInsufficientCredits) {
			return nil, ledger.ErrInsufficientCredits
		}
		return nil, fmt.Errorf("debit run %s: %w", run.ID, err)
	}

	// 5. Record.
	run.Status = models.RunStatusCompleted
	run.OutputSummary = res.Summary()
	if out, err := json.Marshal(res.Output); err == nil {
		run.FullOutput = out
	}
	r.runs.Record(ctx, run)

	return &RunResult{
		RunID:          run.ID,
		Tool:           spec.Tool,
		Shape:          res.Shape,
		Output:         res.Output,
		Degraded:       res.Degraded,
		CreditsCharged: spec.Cost,
		NewBalance:     newBalance,
		RawResponse:    res.RawResponse,
	}, nil
}

func (r *Runner) fail(ctx context.Context, run *models.RunLogEntry, err error) {
	run.Status = models.RunStatusFailed
	run.ErrorDetails = err.Error()
	r.runs.Record(ctx, run)
}

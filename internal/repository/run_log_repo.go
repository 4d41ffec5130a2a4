package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/autonest/backend/internal/models"
)

// RunLogFilter narrows a run log listing. Empty fields match everything.
type RunLogFilter struct {
	WorkflowID string
	UserID     string
	Limit      int
}

type RunLogRepo struct {
	pool *pgxpool.Pool
}

func NewRunLogRepo(pool *pgxpool.Pool) *RunLogRepo {
	return &RunLogRepo{pool: pool}
}

func (r *RunLogRepo) Create(ctx context.Context, e *models.RunLogEntry) error {
	var output []byte
	if len(e.FullOutput) > 0 {
		output = e.FullOutput
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO workflow_run_logs
			(id, workflow_id, user_id, run_at, status, credit_cost_at_run, input_details, full_output, output_summary, error_details)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, e.ID, e.WorkflowID, e.UserID, e.Timestamp, e.Status, e.CreditCostAtRun, e.InputDetails, output, e.OutputSummary, e.ErrorDetails)
	return err
}

// List returns entries newest first.
func (r *RunLogRepo) List(ctx context.Context, f RunLogFilter) ([]*models.RunLogEntry, error) {
	var (
		where []string
		args  []any
	)
	if f.WorkflowID != "" {
		args = append(args, f.WorkflowID)
		where = append(where, fmt.Sprintf("workflow_id = $%d", len(args)))
	}
	if f.UserID != "" {
		args = append(args, f.UserID)
		where = append(where, fmt.Sprintf("user_id = $%d", len(args)))
	}
	q := `SELECT id, workflow_id, user_id, run_at, status, credit_cost_at_run, input_details, full_output, output_summary, error_details
		FROM workflow_run_logs`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY run_at DESC"
	if f.Limit > 0 {
		args = append(args, f.Limit)
		q += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := r.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.RunLogEntry
	for rows.Next() {
		var (
			e      models.RunLogEntry
			output []byte
		)
		if err := rows.Scan(&e.ID, &e.WorkflowID, &e.UserID, &e.Timestamp, &e.Status, &e.CreditCostAtRun,
			&e.InputDetails, &output, &e.OutputSummary, &e.ErrorDetails); err != nil {
			return nil, err
		}
		e.FullOutput = output
		list = append(list, &e)
	}
	return list, rows.Err()
}

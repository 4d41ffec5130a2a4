package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/autonest/backend/internal/models"
)

type SuggestionRepo struct {
	pool *pgxpool.Pool
}

func NewSuggestionRepo(pool *pgxpool.Pool) *SuggestionRepo {
	return &SuggestionRepo{pool: pool}
}

func (r *SuggestionRepo) Create(ctx context.Context, s *models.ToolSuggestion) error {
	return r.pool.QueryRow(ctx, `
		INSERT INTO tool_suggestions (id, tool_name, description, category, user_email, user_id, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING submitted_at
	`, s.ID, s.ToolName, s.Description, s.Category, s.UserEmail, s.UserID, s.Status).Scan(&s.SubmittedAt)
}

func (r *SuggestionRepo) List(ctx context.Context) ([]*models.ToolSuggestion, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, tool_name, description, category, user_email, user_id, submitted_at, status
		FROM tool_suggestions ORDER BY submitted_at DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.ToolSuggestion
	for rows.Next() {
		var s models.ToolSuggestion
		if err := rows.Scan(&s.ID, &s.ToolName, &s.Description, &s.Category, &s.UserEmail, &s.UserID, &s.SubmittedAt, &s.Status); err != nil {
			return nil, err
		}
		list = append(list, &s)
	}
	return list, rows.Err()
}

// UpdateStatus is the only mutation a suggestion receives after creation.
func (r *SuggestionRepo) UpdateStatus(ctx context.Context, id uuid.UUID, status string) error {
	tag, err := r.pool.Exec(ctx, `UPDATE tool_suggestions SET status = $2 WHERE id = $1`, id, status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/autonest/backend/internal/models"
)

const accountColumns = `id, email, display_name, photo_url, credits, is_admin, created_at, updated_at`

type AccountRepo struct {
	pool *pgxpool.Pool
}

func NewAccountRepo(pool *pgxpool.Pool) *AccountRepo {
	return &AccountRepo{pool: pool}
}

func scanAccount(row pgx.Row) (*models.Account, error) {
	var a models.Account
	if err := row.Scan(&a.ID, &a.Email, &a.DisplayName, &a.PhotoURL, &a.Credits, &a.IsAdmin, &a.CreatedAt, &a.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &a, nil
}

// Ensure inserts the account with a.Credits as its starting balance if it does
// not exist yet, otherwise refreshes the profile fields. The balance of an
// existing account is never touched, and admin status is only ever granted.
// A new account's starting balance is written to the ledger as a signup grant
// in the same statement.
func (r *AccountRepo) Ensure(ctx context.Context, a *models.Account) (*models.Account, error) {
	return scanAccount(r.pool.QueryRow(ctx, `
		WITH upsert AS (
			INSERT INTO accounts (id, email, display_name, photo_url, credits, is_admin)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (id) DO UPDATE SET
				email        = EXCLUDED.email,
				display_name = EXCLUDED.display_name,
				photo_url    = EXCLUDED.photo_url,
				is_admin     = accounts.is_admin OR EXCLUDED.is_admin,
				updated_at   = now()
			RETURNING `+accountColumns+`, (xmax = 0) AS inserted
		), grant_entry AS (
			INSERT INTO credit_ledger (id, account_id, entry_type, amount, balance_after, reference)
			SELECT $7, id, $8, credits, credits, 'signup'
			FROM upsert WHERE inserted AND credits > 0
		)
		SELECT `+accountColumns+` FROM upsert`,
		a.ID, a.Email, a.DisplayName, a.PhotoURL, a.Credits, a.IsAdmin, uuid.New(), models.CreditEntrySignupGrant))
}

func (r *AccountRepo) GetByID(ctx context.Context, id string) (*models.Account, error) {
	return scanAccount(r.pool.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id))
}

func (r *AccountRepo) List(ctx context.Context) ([]*models.Account, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+accountColumns+` FROM accounts ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, a)
	}
	return list, rows.Err()
}

// Balance reads the current credit balance.
func (r *AccountRepo) Balance(ctx context.Context, id string) (int64, error) {
	var credits int64
	err := r.pool.QueryRow(ctx, `SELECT credits FROM accounts WHERE id = $1`, id).Scan(&credits)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrNotFound
	}
	return credits, err
}

// DeductCredits atomically deducts amount if balance >= amount and returns the
// new balance. Call within a transaction.
func (r *AccountRepo) DeductCredits(ctx context.Context, tx pgx.Tx, id string, amount int64) (newBalance int64, err error) {
	err = tx.QueryRow(ctx, `
		UPDATE accounts SET credits = credits - $1, updated_at = now()
		WHERE id = $2 AND credits >= $1
		RETURNING credits
	`, amount, id).Scan(&newBalance)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, r.missOrShort(ctx, tx, id)
	}
	return newBalance, err
}

// AddCredits atomically adds amount and returns the new balance. Call within a transaction.
func (r *AccountRepo) AddCredits(ctx context.Context, tx pgx.Tx, id string, amount int64) (newBalance int64, err error) {
	err = tx.QueryRow(ctx, `
		UPDATE accounts SET credits = credits + $1, updated_at = now()
		WHERE id = $2
		RETURNING credits
	`, amount, id).Scan(&newBalance)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrNotFound
	}
	return newBalance, err
}

// missOrShort tells a missing account apart from a balance too low for a
// conditional deduction that matched no row.
func (r *AccountRepo) missOrShort(ctx context.Context, tx pgx.Tx, id string) error {
	var exists bool
	if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM accounts WHERE id = $1)`, id).Scan(&exists); err != nil {
		return fmt.Errorf("check account: %w", err)
	}
	if !exists {
		return ErrNotFound
	}
	return ErrInsufficientCredits
}

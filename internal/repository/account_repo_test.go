package repository

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/autonest/backend/internal/models"
)

// testPool connects to TEST_DATABASE_URL and applies the migrations. Tests
// that need it are skipped when the variable is unset.
func testPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	if err := Migrate(url, slog.New(slog.NewTextHandler(io.Discard, nil))); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	pool, err := pgxpool.New(context.Background(), url)
	if err != nil {
		t.Fatalf("pool: %v", err)
	}
	t.Cleanup(pool.Close)
	return pool
}

// newAccountID returns an id that is removed with its ledger rows after the test.
func newAccountID(t *testing.T, pool *pgxpool.Pool) string {
	t.Helper()
	id := "test-" + uuid.NewString()
	t.Cleanup(func() {
		ctx := context.Background()
		_, _ = pool.Exec(ctx, `DELETE FROM credit_ledger WHERE account_id = $1`, id)
		_, _ = pool.Exec(ctx, `DELETE FROM accounts WHERE id = $1`, id)
	})
	return id
}

// ---------------------------------------------------------------------------
// 1. Ensure provisions once and writes the signup grant
// ---------------------------------------------------------------------------

func TestEnsure_ProvisionsWithSignupGrant(t *testing.T) {
	pool := testPool(t)
	repo := NewAccountRepo(pool)
	credits := NewCreditRepo(pool)
	ctx := context.Background()
	id := newAccountID(t, pool)

	acc, err := repo.Ensure(ctx, &models.Account{ID: id, Email: "new@example.com", Credits: 500})
	if err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	if acc.Credits != 500 || acc.IsAdmin {
		t.Errorf("unexpected account %+v", acc)
	}

	entries, err := credits.ListByAccountID(ctx, id, 0)
	if err != nil {
		t.Fatalf("ListByAccountID: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(entries))
	}
	if e := entries[0]; e.EntryType != models.CreditEntrySignupGrant || e.Amount != 500 || e.BalanceAfter != 500 {
		t.Errorf("unexpected signup entry %+v", e)
	}
}

func TestEnsure_ExistingAccountKeepsBalance(t *testing.T) {
	pool := testPool(t)
	repo := NewAccountRepo(pool)
	credits := NewCreditRepo(pool)
	ctx := context.Background()
	id := newAccountID(t, pool)

	if _, err := repo.Ensure(ctx, &models.Account{ID: id, Email: "a@example.com", Credits: 500, IsAdmin: true}); err != nil {
		t.Fatalf("first Ensure: %v", err)
	}
	acc, err := repo.Ensure(ctx, &models.Account{ID: id, Email: "b@example.com", Credits: 9999})
	if err != nil {
		t.Fatalf("second Ensure: %v", err)
	}
	if acc.Credits != 500 {
		t.Errorf("credits = %d, want 500", acc.Credits)
	}
	if acc.Email != "b@example.com" {
		t.Errorf("email = %q, want refreshed profile", acc.Email)
	}
	if !acc.IsAdmin {
		t.Error("admin status must not be revoked by a later sign-in")
	}

	entries, _ := credits.ListByAccountID(ctx, id, 0)
	if len(entries) != 1 {
		t.Errorf("entries = %d, want only the first signup grant", len(entries))
	}
}

func TestEnsure_ZeroCreditsNoGrant(t *testing.T) {
	pool := testPool(t)
	repo := NewAccountRepo(pool)
	ctx := context.Background()
	id := newAccountID(t, pool)

	if _, err := repo.Ensure(ctx, &models.Account{ID: id, Credits: 0}); err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	entries, _ := NewCreditRepo(pool).ListByAccountID(ctx, id, 0)
	if len(entries) != 0 {
		t.Errorf("entries = %d, want 0", len(entries))
	}
}

// ---------------------------------------------------------------------------
// 2. Conditional deduction
// ---------------------------------------------------------------------------

func TestDeductCredits_MissOrShort(t *testing.T) {
	pool := testPool(t)
	repo := NewAccountRepo(pool)
	ctx := context.Background()
	id := newAccountID(t, pool)
	if _, err := repo.Ensure(ctx, &models.Account{ID: id, Credits: 500}); err != nil {
		t.Fatalf("Ensure: %v", err)
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	defer tx.Rollback(ctx)

	if bal, err := repo.DeductCredits(ctx, tx, id, 200); err != nil || bal != 300 {
		t.Fatalf("deduct 200: balance=%d err=%v", bal, err)
	}
	if _, err := repo.DeductCredits(ctx, tx, id, 1000); !errors.Is(err, ErrInsufficientCredits) {
		t.Errorf("overdraw: expected ErrInsufficientCredits, got %v", err)
	}
	if _, err := repo.DeductCredits(ctx, tx, "missing-"+uuid.NewString(), 1); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing account: expected ErrNotFound, got %v", err)
	}
	if _, err := repo.AddCredits(ctx, tx, "missing-"+uuid.NewString(), 1); !errors.Is(err, ErrNotFound) {
		t.Errorf("add to missing account: expected ErrNotFound, got %v", err)
	}
	if bal, err := repo.AddCredits(ctx, tx, id, 50); err != nil || bal != 350 {
		t.Errorf("add 50: balance=%d err=%v", bal, err)
	}
}

func TestDeductCredits_ConcurrentNeverOverdraws(t *testing.T) {
	pool := testPool(t)
	repo := NewAccountRepo(pool)
	ctx := context.Background()
	id := newAccountID(t, pool)
	if _, err := repo.Ensure(ctx, &models.Account{ID: id, Credits: 500}); err != nil {
		t.Fatalf("Ensure: %v", err)
	}

	const workers = 10
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		ok, rejected int
	)
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tx, err := pool.Begin(ctx)
			if err != nil {
				t.Errorf("begin: %v", err)
				return
			}
			defer tx.Rollback(ctx)
			_, err = repo.DeductCredits(ctx, tx, id, 100)
			if err == nil {
				err = tx.Commit(ctx)
			}
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case errors.Is(err, ErrInsufficientCredits):
				rejected++
			default:
				t.Errorf("deduct: %v", err)
			}
		}()
	}
	wg.Wait()

	if ok != 5 || rejected != 5 {
		t.Errorf("succeeded=%d rejected=%d, want 5 and 5", ok, rejected)
	}
	if bal, err := repo.Balance(ctx, id); err != nil || bal != 0 {
		t.Errorf("final balance=%d err=%v, want 0", bal, err)
	}
}

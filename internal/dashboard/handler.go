package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/autonest/backend/internal/middleware"
	"github.com/autonest/backend/internal/models"
	"github.com/autonest/backend/internal/repository"
)

const (
	defaultLimit = 50
	maxLimit     = 200
)

type AccountReader interface {
	GetByID(ctx context.Context, id string) (*models.Account, error)
	List(ctx context.Context) ([]*models.Account, error)
}

type CreditReader interface {
	ListByAccountID(ctx context.Context, accountID string, limit int) ([]*models.CreditEntry, error)
}

type RunLogReader interface {
	List(ctx context.Context, f repository.RunLogFilter) ([]*models.RunLogEntry, error)
}

type SuggestionStore interface {
	Create(ctx context.Context, s *models.ToolSuggestion) error
	List(ctx context.Context) ([]*models.ToolSuggestion, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status string) error
}

// CreditGranter is satisfied by *ledger.Service.
type CreditGranter interface {
	Grant(ctx context.Context, accountID string, amount int64, reference string) (int64, error)
}

// Handler serves the signed-in user's account pages and the admin console.
type Handler struct {
	accounts    AccountReader
	credits     CreditReader
	runs        RunLogReader
	suggestions SuggestionStore
	ledger      CreditGranter
	log         *slog.Logger
}

func NewHandler(
	accounts AccountReader,
	credits CreditReader,
	runs RunLogReader,
	suggestions SuggestionStore,
	ledger CreditGranter,
	log *slog.Logger,
) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{
		accounts:    accounts,
		credits:     credits,
		runs:        runs,
		suggestions: suggestions,
		ledger:      ledger,
		log:         log.With("component", "dashboard"),
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func parseLimit(r *http.Request) int {
	n, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || n <= 0 {
		return defaultLimit
	}
	return min(n, maxLimit)
}

// GET /api/account/me
func (h *Handler) GetMe(w http.ResponseWriter, r *http.Request) {
	caller := middleware.AccountFromCtx(r.Context())
	if caller == nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	acc, err := h.accounts.GetByID(r.Context(), caller.ID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			http.Error(w, `{"error":"account not found"}`, http.StatusNotFound)
			return
		}
		h.log.Error("get account failed", "account_id", caller.ID, "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	acc.EmailVerified = caller.EmailVerified
	writeJSON(w, http.StatusOK, acc)
}

// GET /api/credit-ledger
func (h *Handler) ListCreditLedger(w http.ResponseWriter, r *http.Request) {
	caller := middleware.AccountFromCtx(r.Context())
	if caller == nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	entries, err := h.credits.ListByAccountID(r.Context(), caller.ID, parseLimit(r))
	if err != nil {
		h.log.Error("list credit ledger failed", "account_id", caller.ID, "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	if entries == nil {
		entries = []*models.CreditEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// GET /api/history/runs?workflowId=
func (h *Handler) ListMyRuns(w http.ResponseWriter, r *http.Request) {
	caller := middleware.AccountFromCtx(r.Context())
	if caller == nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	h.listRuns(w, r, repository.RunLogFilter{
		WorkflowID: r.URL.Query().Get("workflowId"),
		UserID:     caller.ID,
		Limit:      parseLimit(r),
	})
}

func (h *Handler) listRuns(w http.ResponseWriter, r *http.Request, f repository.RunLogFilter) {
	runs, err := h.runs.List(r.Context(), f)
	if err != nil {
		h.log.Error("list run logs failed", "workflow_id", f.WorkflowID, "user_id", f.UserID, "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	if runs == nil {
		runs = []*models.RunLogEntry{}
	}
	writeJSON(w, http.StatusOK, runs)
}

// POST /api/suggestions
func (h *Handler) CreateSuggestion(w http.ResponseWriter, r *http.Request) {
	caller := middleware.AccountFromCtx(r.Context())
	if caller == nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	var body struct {
		ToolName    string `json:"toolName"`
		Description string `json:"description"`
		Category    string `json:"category"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
		return
	}
	body.ToolName = strings.TrimSpace(body.ToolName)
	body.Description = strings.TrimSpace(body.Description)
	if body.ToolName == "" || body.Description == "" {
		http.Error(w, `{"error":"toolName and description are required"}`, http.StatusBadRequest)
		return
	}
	s := &models.ToolSuggestion{
		ID:          uuid.New(),
		ToolName:    body.ToolName,
		Description: body.Description,
		Category:    strings.TrimSpace(body.Category),
		UserEmail:   caller.Email,
		UserID:      caller.ID,
		Status:      models.SuggestionNew,
	}
	if err := h.suggestions.Create(r.Context(), s); err != nil {
		h.log.Error("create suggestion failed", "error", err)
		http.Error(w, `{"error":"create failed"}`, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, s)
}

package dashboard

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/autonest/backend/internal/ledger"
	"github.com/autonest/backend/internal/middleware"
	"github.com/autonest/backend/internal/models"
	"github.com/autonest/backend/internal/repository"
)

// Admin routes are mounted behind middleware.RequireAdmin.

// GET /api/admin/users
func (h *Handler) ListUsers(w http.ResponseWriter, r *http.Request) {
	list, err := h.accounts.List(r.Context())
	if err != nil {
		h.log.Error("list accounts failed", "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	if list == nil {
		list = []*models.Account{}
	}
	writeJSON(w, http.StatusOK, list)
}

// GET /api/admin/suggestions
func (h *Handler) ListSuggestions(w http.ResponseWriter, r *http.Request) {
	list, err := h.suggestions.List(r.Context())
	if err != nil {
		h.log.Error("list suggestions failed", "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	if list == nil {
		list = []*models.ToolSuggestion{}
	}
	writeJSON(w, http.StatusOK, list)
}

// PATCH /api/admin/suggestions/{id}
func (h *Handler) UpdateSuggestionStatus(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		http.Error(w, `{"error":"invalid suggestion ID"}`, http.StatusBadRequest)
		return
	}
	var body struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
		return
	}
	if !models.ValidSuggestionStatus(body.Status) {
		http.Error(w, fmt.Sprintf(`{"error":"unknown status %q"}`, body.Status), http.StatusBadRequest)
		return
	}
	if err := h.suggestions.UpdateStatus(r.Context(), id, body.Status); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			http.Error(w, `{"error":"suggestion not found"}`, http.StatusNotFound)
			return
		}
		h.log.Error("update suggestion failed", "suggestion_id", id, "error", err)
		http.Error(w, `{"error":"update failed"}`, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": id.String(), "status": body.Status})
}

// GET /api/admin/run-logs?workflowId=&userId=
func (h *Handler) ListRunLogs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	h.listRuns(w, r, repository.RunLogFilter{
		WorkflowID: q.Get("workflowId"),
		UserID:     q.Get("userId"),
		Limit:      parseLimit(r),
	})
}

// POST /api/admin/accounts/{id}/credits
func (h *Handler) GrantCredits(w http.ResponseWriter, r *http.Request) {
	admin := middleware.AccountFromCtx(r.Context())
	if admin == nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	accountID := r.PathValue("id")
	var body struct {
		Amount int64  `json:"amount"`
		Reason string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
		return
	}
	reference := "admin:" + admin.ID
	if reason := strings.TrimSpace(body.Reason); reason != "" {
		reference += ": " + reason
	}

	balance, err := h.ledger.Grant(r.Context(), accountID, body.Amount, reference)
	if err != nil {
		switch {
		case errors.Is(err, ledger.ErrInvalidAmount), errors.Is(err, ledger.ErrMissingArgument):
			http.Error(w, `{"error":"amount must be positive"}`, http.StatusBadRequest)
		case errors.Is(err, ledger.ErrAccountNotFound):
			http.Error(w, `{"error":"account not found"}`, http.StatusNotFound)
		default:
			h.log.Error("grant credits failed", "account_id", accountID, "error", err)
			http.Error(w, `{"error":"grant failed"}`, http.StatusInternalServerError)
		}
		return
	}
	h.log.Info("credits granted", "admin_id", admin.ID, "account_id", accountID, "amount", body.Amount)
	writeJSON(w, http.StatusOK, map[string]any{"accountId": accountID, "newBalance": balance})
}

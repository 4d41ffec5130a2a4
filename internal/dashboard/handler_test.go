package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/autonest/backend/internal/ledger"
	"github.com/autonest/backend/internal/middleware"
	"github.com/autonest/backend/internal/models"
	"github.com/autonest/backend/internal/repository"
)

// ---------------------------------------------------------------------------
// Mocks
// ---------------------------------------------------------------------------

type mockAccounts struct {
	accounts map[string]*models.Account
}

func (m *mockAccounts) GetByID(_ context.Context, id string) (*models.Account, error) {
	a, ok := m.accounts[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (m *mockAccounts) List(_ context.Context) ([]*models.Account, error) {
	var out []*models.Account
	for _, a := range m.accounts {
		out = append(out, a)
	}
	return out, nil
}

type mockCredits struct {
	entries  []*models.CreditEntry
	gotLimit int
}

func (m *mockCredits) ListByAccountID(_ context.Context, _ string, limit int) ([]*models.CreditEntry, error) {
	m.gotLimit = limit
	return m.entries, nil
}

type mockRuns struct {
	got repository.RunLogFilter
}

func (m *mockRuns) List(_ context.Context, f repository.RunLogFilter) ([]*models.RunLogEntry, error) {
	m.got = f
	return nil, nil
}

type mockSuggestions struct {
	created []*models.ToolSuggestion
	updates map[uuid.UUID]string
}

func (m *mockSuggestions) Create(_ context.Context, s *models.ToolSuggestion) error {
	m.created = append(m.created, s)
	return nil
}

func (m *mockSuggestions) List(_ context.Context) ([]*models.ToolSuggestion, error) {
	return m.created, nil
}

func (m *mockSuggestions) UpdateStatus(_ context.Context, id uuid.UUID, status string) error {
	if _, ok := m.updates[id]; !ok {
		return repository.ErrNotFound
	}
	m.updates[id] = status
	return nil
}

type mockGranter struct {
	balance int64
	err     error
	gotRef  string
}

func (m *mockGranter) Grant(_ context.Context, _ string, amount int64, reference string) (int64, error) {
	if m.err != nil {
		return 0, m.err
	}
	if amount <= 0 {
		return 0, ledger.ErrInvalidAmount
	}
	m.gotRef = reference
	m.balance += amount
	return m.balance, nil
}

type fixture struct {
	h           *Handler
	accounts    *mockAccounts
	credits     *mockCredits
	runs        *mockRuns
	suggestions *mockSuggestions
	granter     *mockGranter
}

func newFixture() *fixture {
	f := &fixture{
		accounts: &mockAccounts{accounts: map[string]*models.Account{
			"uid-1": {ID: "uid-1", Email: "user@example.com", Credits: 420},
		}},
		credits:     &mockCredits{},
		runs:        &mockRuns{},
		suggestions: &mockSuggestions{updates: map[uuid.UUID]string{}},
		granter:     &mockGranter{balance: 420},
	}
	f.h = NewHandler(f.accounts, f.credits, f.runs, f.suggestions, f.granter, nil)
	return f
}

var caller = &models.Account{ID: "uid-1", Email: "user@example.com", EmailVerified: true}

func withCaller(req *http.Request, acc *models.Account) *http.Request {
	return req.WithContext(middleware.WithAccount(req.Context(), acc))
}

// ---------------------------------------------------------------------------
// 1. User pages
// ---------------------------------------------------------------------------

func TestGetMe(t *testing.T) {
	f := newFixture()
	rec := httptest.NewRecorder()
	f.h.GetMe(rec, withCaller(httptest.NewRequest(http.MethodGet, "/api/account/me", nil), caller))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var acc models.Account
	if err := json.Unmarshal(rec.Body.Bytes(), &acc); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if acc.Credits != 420 || !acc.EmailVerified {
		t.Errorf("unexpected account %+v", acc)
	}
}

func TestGetMe_Unauthenticated(t *testing.T) {
	f := newFixture()
	rec := httptest.NewRecorder()
	f.h.GetMe(rec, httptest.NewRequest(http.MethodGet, "/api/account/me", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestListCreditLedger_EmptyIsArray(t *testing.T) {
	f := newFixture()
	rec := httptest.NewRecorder()
	f.h.ListCreditLedger(rec, withCaller(httptest.NewRequest(http.MethodGet, "/api/credit-ledger?limit=5000", nil), caller))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if strings.TrimSpace(rec.Body.String()) != "[]" {
		t.Errorf("expected empty array, got %s", rec.Body.String())
	}
	if f.credits.gotLimit != maxLimit {
		t.Errorf("limit = %d, want %d", f.credits.gotLimit, maxLimit)
	}
}

func TestListMyRuns_ScopedToCaller(t *testing.T) {
	f := newFixture()
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/history/runs?workflowId=blog-generation&userId=someone-else", nil)
	f.h.ListMyRuns(rec, withCaller(req, caller))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if f.runs.got.UserID != "uid-1" || f.runs.got.WorkflowID != "blog-generation" || f.runs.got.Limit != defaultLimit {
		t.Errorf("unexpected filter %+v", f.runs.got)
	}
}

func TestCreateSuggestion(t *testing.T) {
	f := newFixture()
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/suggestions", strings.NewReader(`{"toolName":" Image resizer ","description":"Resize images"}`))
	f.h.CreateSuggestion(rec, withCaller(req, caller))

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	if len(f.suggestions.created) != 1 {
		t.Fatalf("expected 1 suggestion, got %d", len(f.suggestions.created))
	}
	s := f.suggestions.created[0]
	if s.ToolName != "Image resizer" || s.Status != models.SuggestionNew || s.UserEmail != "user@example.com" {
		t.Errorf("unexpected suggestion %+v", s)
	}
}

func TestCreateSuggestion_MissingFields(t *testing.T) {
	f := newFixture()
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/suggestions", strings.NewReader(`{"toolName":"x"}`))
	f.h.CreateSuggestion(rec, withCaller(req, caller))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

// ---------------------------------------------------------------------------
// 2. Admin console
// ---------------------------------------------------------------------------

func TestUpdateSuggestionStatus(t *testing.T) {
	f := newFixture()
	id := uuid.New()
	f.suggestions.updates[id] = models.SuggestionNew

	cases := []struct {
		name string
		id   string
		body string
		want int
	}{
		{"ok", id.String(), `{"status":"Planned"}`, http.StatusOK},
		{"bad status", id.String(), `{"status":"Maybe"}`, http.StatusBadRequest},
		{"bad id", "nope", `{"status":"Planned"}`, http.StatusBadRequest},
		{"missing", uuid.NewString(), `{"status":"Planned"}`, http.StatusNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPatch, "/api/admin/suggestions/"+tc.id, strings.NewReader(tc.body))
			req.SetPathValue("id", tc.id)
			rec := httptest.NewRecorder()
			f.h.UpdateSuggestionStatus(rec, req)
			if rec.Code != tc.want {
				t.Errorf("expected %d, got %d", tc.want, rec.Code)
			}
		})
	}
	if f.suggestions.updates[id] != models.SuggestionPlanned {
		t.Errorf("status = %s", f.suggestions.updates[id])
	}
}

func TestListRunLogs_AdminFilters(t *testing.T) {
	f := newFixture()
	rec := httptest.NewRecorder()
	f.h.ListRunLogs(rec, httptest.NewRequest(http.MethodGet, "/api/admin/run-logs?workflowId=credit-purchase&userId=uid-9&limit=10", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	want := repository.RunLogFilter{WorkflowID: "credit-purchase", UserID: "uid-9", Limit: 10}
	if f.runs.got != want {
		t.Errorf("filter = %+v, want %+v", f.runs.got, want)
	}
}

func TestGrantCredits(t *testing.T) {
	f := newFixture()
	admin := &models.Account{ID: "admin-1", IsAdmin: true}

	req := httptest.NewRequest(http.MethodPost, "/api/admin/accounts/uid-1/credits", strings.NewReader(`{"amount":80,"reason":"goodwill"}`))
	req.SetPathValue("id", "uid-1")
	rec := httptest.NewRecorder()
	f.h.GrantCredits(rec, withCaller(req, admin))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var body map[string]any
	_ = json.Unmarshal(rec.Body.Bytes(), &body)
	if body["newBalance"] != float64(500) {
		t.Errorf("newBalance = %v", body["newBalance"])
	}
	if f.granter.gotRef != "admin:admin-1: goodwill" {
		t.Errorf("reference = %q", f.granter.gotRef)
	}
}

func TestGrantCredits_Errors(t *testing.T) {
	admin := &models.Account{ID: "admin-1", IsAdmin: true}
	cases := []struct {
		name string
		err  error
		body string
		want int
	}{
		{"non-positive", nil, `{"amount":0}`, http.StatusBadRequest},
		{"unknown account", ledger.ErrAccountNotFound, `{"amount":10}`, http.StatusNotFound},
		{"store failure", errors.New("db down"), `{"amount":10}`, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture()
			f.granter.err = tc.err
			req := httptest.NewRequest(http.MethodPost, "/api/admin/accounts/uid-x/credits", strings.NewReader(tc.body))
			req.SetPathValue("id", "uid-x")
			rec := httptest.NewRecorder()
			f.h.GrantCredits(rec, withCaller(req, admin))
			if rec.Code != tc.want {
				t.Errorf("expected %d, got %d", tc.want, rec.Code)
			}
		})
	}
}

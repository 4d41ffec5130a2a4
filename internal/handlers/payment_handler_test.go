package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/autonest/backend/internal/ledger"
	"github.com/autonest/backend/internal/middleware"
	"github.com/autonest/backend/internal/models"
	"github.com/autonest/backend/internal/payment"
)

// ---------------------------------------------------------------------------
// Mocks
// ---------------------------------------------------------------------------

type mockPaymentLedger struct {
	orderID    string
	createErr  error
	capture    *ledger.CaptureResult
	captureErr error

	gotAmount  decimal.Decimal
	gotCredits int64
	gotAccount string
}

func (m *mockPaymentLedger) CreateOrder(_ context.Context, amount decimal.Decimal, credits int64) (string, error) {
	m.gotAmount, m.gotCredits = amount, credits
	return m.orderID, m.createErr
}

func (m *mockPaymentLedger) CaptureAndCredit(_ context.Context, _ string, credits int64, accountID string) (*ledger.CaptureResult, error) {
	m.gotCredits, m.gotAccount = credits, accountID
	return m.capture, m.captureErr
}

func authed(req *http.Request, acc *models.Account) *http.Request {
	return req.WithContext(middleware.WithAccount(req.Context(), acc))
}

var testUser = &models.Account{ID: "uid-1", Email: "user@example.com", Credits: 500}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return body
}

// ---------------------------------------------------------------------------
// 1. Create order
// ---------------------------------------------------------------------------

func TestCreateOrder_Success(t *testing.T) {
	l := &mockPaymentLedger{orderID: "ORDER-1"}
	h := NewPaymentHandler(l, nil)

	req := authed(httptest.NewRequest(http.MethodPost, "/api/payment/create-order",
		strings.NewReader(`{"amount":10.5,"creditsToPurchase":1000}`)), testUser)
	rec := httptest.NewRecorder()
	h.CreateOrder(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if got := decodeBody(t, rec)["orderId"]; got != "ORDER-1" {
		t.Errorf("orderId = %v", got)
	}
	if l.gotAmount.StringFixed(2) != "10.50" || l.gotCredits != 1000 {
		t.Errorf("ledger got amount %s credits %d", l.gotAmount, l.gotCredits)
	}
}

func TestCreateOrder_BadInput(t *testing.T) {
	h := NewPaymentHandler(&mockPaymentLedger{}, nil)

	for _, body := range []string{`not json`, `{"amount":0,"creditsToPurchase":10}`, `{"amount":5,"creditsToPurchase":0}`} {
		req := authed(httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body)), testUser)
		rec := httptest.NewRecorder()
		h.CreateOrder(rec, req)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("body %s: expected 400, got %d", body, rec.Code)
		}
	}
}

func TestCreateOrder_GatewayErrors(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"not configured", fmt.Errorf("create order: %w", &payment.ConfigurationError{Missing: []string{"PAYPAL_CLIENT_ID"}}), http.StatusInternalServerError},
		{"gateway error", fmt.Errorf("create order: %w", &payment.GatewayError{Op: "create_order", Status: 500}), http.StatusBadGateway},
		{"timeout", fmt.Errorf("create order: %w", payment.ErrTimeout), http.StatusGatewayTimeout},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := NewPaymentHandler(&mockPaymentLedger{createErr: tc.err}, nil)
			req := authed(httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"amount":"5.00","creditsToPurchase":500}`)), testUser)
			rec := httptest.NewRecorder()
			h.CreateOrder(rec, req)
			if rec.Code != tc.want {
				t.Errorf("expected %d, got %d", tc.want, rec.Code)
			}
		})
	}
}

// ---------------------------------------------------------------------------
// 2. Capture
// ---------------------------------------------------------------------------

func captureReq(acc *models.Account, body string) *http.Request {
	return authed(httptest.NewRequest(http.MethodPost, "/api/payment/capture-payment", strings.NewReader(body)), acc)
}

func TestCapturePayment_Success(t *testing.T) {
	l := &mockPaymentLedger{capture: &ledger.CaptureResult{CaptureID: "CAP-1", Status: "COMPLETED", NewBalance: 1500}}
	h := NewPaymentHandler(l, nil)

	rec := httptest.NewRecorder()
	h.CapturePayment(rec, captureReq(testUser, `{"orderId":"ORDER-1","creditsToPurchase":1000,"userUID":"uid-1"}`))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	if body["paypalCaptureId"] != "CAP-1" || body["status"] != "COMPLETED" || body["newBalance"] != float64(1500) {
		t.Errorf("unexpected body %v", body)
	}
	if l.gotAccount != "uid-1" || l.gotCredits != 1000 {
		t.Errorf("ledger got account %q credits %d", l.gotAccount, l.gotCredits)
	}
}

func TestCapturePayment_OtherUserForbidden(t *testing.T) {
	h := NewPaymentHandler(&mockPaymentLedger{}, nil)

	rec := httptest.NewRecorder()
	h.CapturePayment(rec, captureReq(testUser, `{"orderId":"ORDER-1","creditsToPurchase":10,"userUID":"uid-2"}`))
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
}

func TestCapturePayment_AdminForOtherUser(t *testing.T) {
	l := &mockPaymentLedger{capture: &ledger.CaptureResult{CaptureID: "CAP-2", Status: "COMPLETED", NewBalance: 20}}
	h := NewPaymentHandler(l, nil)

	admin := &models.Account{ID: "admin-1", IsAdmin: true}
	rec := httptest.NewRecorder()
	h.CapturePayment(rec, captureReq(admin, `{"orderId":"ORDER-1","creditsToPurchase":10,"userUID":"uid-2"}`))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if l.gotAccount != "uid-2" {
		t.Errorf("credited %q, want uid-2", l.gotAccount)
	}
}

func TestCapturePayment_MissingFields(t *testing.T) {
	h := NewPaymentHandler(&mockPaymentLedger{}, nil)

	rec := httptest.NewRecorder()
	h.CapturePayment(rec, captureReq(testUser, `{"creditsToPurchase":10,"userUID":"uid-1"}`))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestCapturePayment_InstrumentDeclined(t *testing.T) {
	l := &mockPaymentLedger{captureErr: &ledger.PaymentNotCompletedError{Status: "DECLINED", InstrumentDeclined: true}}
	h := NewPaymentHandler(l, nil)

	rec := httptest.NewRecorder()
	h.CapturePayment(rec, captureReq(testUser, `{"orderId":"ORDER-1","creditsToPurchase":10,"userUID":"uid-1"}`))

	if rec.Code != http.StatusPaymentRequired {
		t.Fatalf("expected 402, got %d", rec.Code)
	}
	if body := decodeBody(t, rec); body["isInstrumentDeclined"] != true {
		t.Errorf("expected isInstrumentDeclined=true, got %v", body)
	}
}

func TestCapturePayment_NotCompleted(t *testing.T) {
	l := &mockPaymentLedger{captureErr: &ledger.PaymentNotCompletedError{Status: "PENDING"}}
	h := NewPaymentHandler(l, nil)

	rec := httptest.NewRecorder()
	h.CapturePayment(rec, captureReq(testUser, `{"orderId":"ORDER-1","creditsToPurchase":10,"userUID":"uid-1"}`))

	if rec.Code != http.StatusPaymentRequired {
		t.Fatalf("expected 402, got %d", rec.Code)
	}
	body := decodeBody(t, rec)
	if _, ok := body["isInstrumentDeclined"]; ok {
		t.Errorf("isInstrumentDeclined should be omitted, got %v", body)
	}
	if body["status"] != "PENDING" {
		t.Errorf("status = %v", body["status"])
	}
}

func TestCapturePayment_ReconciliationFailure(t *testing.T) {
	l := &mockPaymentLedger{captureErr: &ledger.CreditReconciliationError{
		OrderID: "ORDER-1", CaptureID: "CAP-9", AccountID: "uid-1", Credits: 10, Err: errors.New("db down"),
	}}
	h := NewPaymentHandler(l, nil)

	rec := httptest.NewRecorder()
	h.CapturePayment(rec, captureReq(testUser, `{"orderId":"ORDER-1","creditsToPurchase":10,"userUID":"uid-1"}`))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	if body := decodeBody(t, rec); body["paypalCaptureId"] != "CAP-9" {
		t.Errorf("expected capture id in body, got %v", body)
	}
}

func TestCapturePayment_Unauthenticated(t *testing.T) {
	h := NewPaymentHandler(&mockPaymentLedger{}, nil)
	rec := httptest.NewRecorder()
	h.CapturePayment(rec, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{}`)))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

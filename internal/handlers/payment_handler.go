package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/autonest/backend/internal/ledger"
	"github.com/autonest/backend/internal/middleware"
	"github.com/autonest/backend/internal/payment"
)

// PaymentLedger is the purchase half of ledger.Service.
type PaymentLedger interface {
	CreateOrder(ctx context.Context, amount decimal.Decimal, creditsToPurchase int64) (string, error)
	CaptureAndCredit(ctx context.Context, orderID string, creditsToPurchase int64, accountID string) (*ledger.CaptureResult, error)
}

// PaymentHandler serves /api/payment endpoints.
type PaymentHandler struct {
	Ledger PaymentLedger
	Logger *slog.Logger
}

func NewPaymentHandler(l PaymentLedger, log *slog.Logger) *PaymentHandler {
	if log == nil {
		log = slog.Default()
	}
	return &PaymentHandler{Ledger: l, Logger: log.With("component", "payment-handler")}
}

// --- POST /api/payment/create-order ---

type createOrderRequest struct {
	Amount            decimal.Decimal `json:"amount"`
	CreditsToPurchase int64           `json:"creditsToPurchase"`
}

type createOrderResponse struct {
	OrderID string `json:"orderId"`
}

func (h *PaymentHandler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	acc := middleware.AccountFromCtx(r.Context())
	if acc == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized", "")
		return
	}
	var req createOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body", err.Error())
		return
	}
	if !req.Amount.IsPositive() || req.CreditsToPurchase <= 0 {
		writeError(w, http.StatusBadRequest, "amount and creditsToPurchase must be positive", "")
		return
	}

	orderID, err := h.Ledger.CreateOrder(r.Context(), req.Amount, req.CreditsToPurchase)
	if err != nil {
		h.writePaymentError(w, "failed to create order", err)
		return
	}
	h.Logger.Info("order created", "order_id", orderID, "account_id", acc.ID, "amount", req.Amount.StringFixed(2), "credits", req.CreditsToPurchase)
	writeJSON(w, http.StatusOK, createOrderResponse{OrderID: orderID})
}

// --- POST /api/payment/capture-payment ---

type captureRequest struct {
	OrderID           string `json:"orderId"`
	CreditsToPurchase int64  `json:"creditsToPurchase"`
	UserUID           string `json:"userUID"`
}

type captureResponse struct {
	Message         string `json:"message"`
	PaypalCaptureID string `json:"paypalCaptureId"`
	Status          string `json:"status"`
	NewBalance      int64  `json:"newBalance"`
}

type paymentNotCompletedResponse struct {
	Error                string `json:"error"`
	Details              string `json:"details"`
	Status               string `json:"status"`
	IsInstrumentDeclined bool   `json:"isInstrumentDeclined,omitempty"`
}

type reconciliationResponse struct {
	Error           string `json:"error"`
	Details         string `json:"details"`
	PaypalCaptureID string `json:"paypalCaptureId"`
	OrderID         string `json:"orderId"`
}

func (h *PaymentHandler) CapturePayment(w http.ResponseWriter, r *http.Request) {
	acc := middleware.AccountFromCtx(r.Context())
	if acc == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized", "")
		return
	}
	var req captureRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body", err.Error())
		return
	}
	if req.OrderID == "" || req.UserUID == "" || req.CreditsToPurchase <= 0 {
		writeError(w, http.StatusBadRequest, "orderId, creditsToPurchase and userUID are required", "")
		return
	}
	if req.UserUID != acc.ID && !acc.IsAdmin {
		writeError(w, http.StatusForbidden, "cannot capture payment for another user", "")
		return
	}

	res, err := h.Ledger.CaptureAndCredit(r.Context(), req.OrderID, req.CreditsToPurchase, req.UserUID)
	if err != nil {
		var notDone *ledger.PaymentNotCompletedError
		var recon *ledger.CreditReconciliationError
		switch {
		case errors.As(err, &notDone):
			writeJSON(w, http.StatusPaymentRequired, paymentNotCompletedResponse{
				Error:                "payment not completed",
				Details:              err.Error(),
				Status:               notDone.Status,
				IsInstrumentDeclined: notDone.InstrumentDeclined,
			})
		case errors.As(err, &recon):
			writeJSON(w, http.StatusInternalServerError, reconciliationResponse{
				Error:           "payment captured but credits could not be applied; contact support",
				Details:         err.Error(),
				PaypalCaptureID: recon.CaptureID,
				OrderID:         recon.OrderID,
			})
		default:
			h.writePaymentError(w, "failed to capture payment", err)
		}
		return
	}

	writeJSON(w, http.StatusOK, captureResponse{
		Message:         "Payment successful and credits added",
		PaypalCaptureID: res.CaptureID,
		Status:          res.Status,
		NewBalance:      res.NewBalance,
	})
}

func (h *PaymentHandler) writePaymentError(w http.ResponseWriter, msg string, err error) {
	var cfgErr *payment.ConfigurationError
	var gwErr *payment.GatewayError
	switch {
	case errors.Is(err, ledger.ErrInvalidAmount), errors.Is(err, ledger.ErrMissingArgument):
		writeError(w, http.StatusBadRequest, msg, err.Error())
	case errors.Is(err, ledger.ErrAccountNotFound):
		writeError(w, http.StatusNotFound, "account not found", "")
	case errors.As(err, &cfgErr):
		h.Logger.Error("payment gateway not configured", "missing", cfgErr.Missing)
		writeError(w, http.StatusInternalServerError, "payment gateway is not configured", "")
	case errors.Is(err, payment.ErrTimeout):
		writeError(w, http.StatusGatewayTimeout, msg, "payment gateway timed out")
	case errors.As(err, &gwErr):
		h.Logger.Warn("payment gateway error", "op", gwErr.Op, "status", gwErr.Status, "issue", gwErr.Issue)
		writeError(w, http.StatusBadGateway, msg, err.Error())
	default:
		h.Logger.Error(msg, "error", err)
		writeError(w, http.StatusInternalServerError, msg, "")
	}
}

package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"

	"github.com/autonest/backend/internal/metrics"
)

const (
	LiveBaseURL    = "https://api-m.paypal.com"
	SandboxBaseURL = "https://api-m.sandbox.paypal.com"

	StatusCompleted = "COMPLETED"
	StatusDeclined  = "DECLINED"

	defaultTimeout = 15 * time.Second
	maxBodyBytes   = 1 << 20
)

type Config struct {
	ClientID     string
	ClientSecret string
	Environment  string
	// BaseURL overrides the environment-derived endpoint.
	BaseURL  string
	Currency string
	Timeout  time.Duration
}

// Order is a freshly created checkout order.
type Order struct {
	ID     string
	Status string
}

// Capture is the outcome of capturing an approved order.
type Capture struct {
	OrderID   string
	Status    string
	CaptureID string
}

// Client talks to the PayPal Orders v2 REST API.
type Client struct {
	cfg        Config
	httpClient *http.Client
	metrics    *metrics.Metrics
	logger     *slog.Logger

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
}

func NewClient(cfg Config, m *metrics.Metrics, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.Currency == "" {
		cfg.Currency = "USD"
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		metrics:    m,
		logger:     logger.With("component", "paypal"),
	}
}

func (c *Client) baseURL() string {
	if c.cfg.BaseURL != "" {
		return strings.TrimRight(c.cfg.BaseURL, "/")
	}
	if strings.EqualFold(c.cfg.Environment, "live") {
		return LiveBaseURL
	}
	return SandboxBaseURL
}

func (c *Client) checkConfig() error {
	var missing []string
	if c.cfg.ClientID == "" {
		missing = append(missing, "client id")
	}
	if c.cfg.ClientSecret == "" {
		missing = append(missing, "client secret")
	}
	if len(missing) > 0 {
		return &ConfigurationError{Missing: missing}
	}
	return nil
}

type orderRequest struct {
	Intent        string         `json:"intent"`
	PurchaseUnits []purchaseUnit `json:"purchase_units"`
}

type purchaseUnit struct {
	Description string `json:"description,omitempty"`
	Amount      amount `json:"amount"`
}

type amount struct {
	CurrencyCode string `json:"currency_code"`
	Value        string `json:"value"`
}

// CreateOrder creates a CAPTURE-intent order for the given amount.
func (c *Client) CreateOrder(ctx context.Context, value decimal.Decimal, description string) (*Order, error) {
	if err := c.checkConfig(); err != nil {
		return nil, err
	}
	body, err := json.Marshal(orderRequest{
		Intent: "CAPTURE",
		PurchaseUnits: []purchaseUnit{{
			Description: description,
			Amount:      amount{CurrencyCode: c.cfg.Currency, Value: value.StringFixed(2)},
		}},
	})
	if err != nil {
		return nil, err
	}
	resp, err := c.call(ctx, "create_order", http.MethodPost, "/v2/checkout/orders", body)
	if err != nil {
		return nil, err
	}
	id := gjson.Get(resp, "id").String()
	if id == "" {
		return nil, &GatewayError{Op: "create_order", Status: http.StatusOK, Body: resp, Issue: "missing order id"}
	}
	c.logger.Info("paypal order created", "order_id", id, "amount", value.StringFixed(2))
	return &Order{ID: id, Status: gjson.Get(resp, "status").String()}, nil
}

// CaptureOrder captures an approved order. A declined instrument comes back
// as a *GatewayError with InstrumentDeclined() true.
func (c *Client) CaptureOrder(ctx context.Context, orderID string) (*Capture, error) {
	if err := c.checkConfig(); err != nil {
		return nil, err
	}
	resp, err := c.call(ctx, "capture_order", http.MethodPost, "/v2/checkout/orders/"+url.PathEscape(orderID)+"/capture", nil)
	if err != nil {
		return nil, err
	}
	out := &Capture{
		OrderID:   gjson.Get(resp, "id").String(),
		Status:    gjson.Get(resp, "status").String(),
		CaptureID: gjson.Get(resp, "purchase_units.0.payments.captures.0.id").String(),
	}
	// The order can read COMPLETED while the capture itself was refused.
	if cs := gjson.Get(resp, "purchase_units.0.payments.captures.0.status"); cs.Exists() && cs.String() != StatusCompleted {
		out.Status = cs.String()
	}
	c.logger.Info("paypal order captured", "order_id", orderID, "status", out.Status, "capture_id", out.CaptureID)
	return out, nil
}

// call performs an authenticated JSON request and returns the body of a 2xx response.
func (c *Client) call(ctx context.Context, op, method, path string, body []byte) (string, error) {
	token, err := c.accessToken(ctx)
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL()+path, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Prefer", "return=representation")
	return c.do(op, req)
}

func (c *Client) accessToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token != "" && time.Now().Before(c.tokenExpiry) {
		return c.token, nil
	}

	form := url.Values{"grant_type": {"client_credentials"}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL()+"/v1/oauth2/token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.SetBasicAuth(c.cfg.ClientID, c.cfg.ClientSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := c.do("token", req)
	if err != nil {
		return "", err
	}
	token := gjson.Get(resp, "access_token").String()
	if token == "" {
		return "", &GatewayError{Op: "token", Status: http.StatusOK, Body: resp, Issue: "missing access token"}
	}
	ttl := time.Duration(gjson.Get(resp, "expires_in").Int()) * time.Second
	// Refresh a minute early.
	if ttl > 2*time.Minute {
		ttl -= time.Minute
	}
	c.token = token
	c.tokenExpiry = time.Now().Add(ttl)
	return token, nil
}

func (c *Client) do(op string, req *http.Request) (string, error) {
	started := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.metrics.ObserveGateway(op, "error", started)
		if isTimeout(err) {
			return "", fmt.Errorf("%s: %w", op, ErrTimeout)
		}
		return "", fmt.Errorf("payment gateway %s: %w", op, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	c.metrics.ObserveGateway(op, strconv.Itoa(resp.StatusCode), started)
	if err != nil {
		if isTimeout(err) {
			return "", fmt.Errorf("%s: %w", op, ErrTimeout)
		}
		return "", fmt.Errorf("payment gateway %s: read body: %w", op, err)
	}
	body := string(raw)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		gwErr := &GatewayError{
			Op:     op,
			Status: resp.StatusCode,
			Body:   body,
			Issue:  gjson.Get(body, "details.0.issue").String(),
		}
		c.logger.Warn("paypal request failed", "op", op, "status", resp.StatusCode, "issue", gwErr.Issue, "debug_id", gjson.Get(body, "debug_id").String())
		return "", gwErr
	}
	return body, nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

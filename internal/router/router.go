package router

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/autonest/backend/internal/dashboard"
	"github.com/autonest/backend/internal/handlers"
	"github.com/autonest/backend/internal/metrics"
	"github.com/autonest/backend/internal/middleware"
	"github.com/autonest/backend/internal/registry"
)

// Deps are the handlers and middleware the router mounts.
type Deps struct {
	Auth      middleware.Authenticator
	RateLimit func(http.Handler) http.Handler
	Payments  *handlers.PaymentHandler
	Tools     *handlers.ToolHandler
	Registry  *registry.Handler
	Dashboard *dashboard.Handler
	Metrics   *metrics.Metrics
	// Health reports whether the ledger store is reachable. Nil means always healthy.
	Health func(ctx context.Context) error
	Logger *slog.Logger
}

// New returns an http.Handler that serves the API under /api.
func New(d Deps) http.Handler {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	limit := d.RateLimit
	if limit == nil {
		limit = func(next http.Handler) http.Handler { return next }
	}
	authed := middleware.Authenticate(d.Auth, d.Logger)
	admin := func(h http.HandlerFunc) http.Handler { return authed(middleware.RequireAdmin(h)) }
	user := func(h http.HandlerFunc) http.Handler { return authed(h) }
	// Limits are keyed per account, so they run after authentication.
	metered := func(h http.HandlerFunc) http.Handler { return authed(limit(h)) }

	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", healthz(d.Health, d.Logger))
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.Handle("POST /api/payment/create-order", metered(d.Payments.CreateOrder))
	mux.Handle("POST /api/payment/capture-payment", metered(d.Payments.CapturePayment))

	mux.HandleFunc("GET /api/tools", d.Registry.ListTools)
	mux.Handle("POST /api/tools/{tool}", metered(d.Tools.Run))

	mux.Handle("GET /api/account/me", user(d.Dashboard.GetMe))
	mux.Handle("GET /api/credit-ledger", user(d.Dashboard.ListCreditLedger))
	mux.Handle("GET /api/history/runs", user(d.Dashboard.ListMyRuns))
	mux.Handle("POST /api/suggestions", user(d.Dashboard.CreateSuggestion))

	mux.Handle("GET /api/admin/users", admin(d.Dashboard.ListUsers))
	mux.Handle("GET /api/admin/suggestions", admin(d.Dashboard.ListSuggestions))
	mux.Handle("PATCH /api/admin/suggestions/{id}", admin(d.Dashboard.UpdateSuggestionStatus))
	mux.Handle("GET /api/admin/run-logs", admin(d.Dashboard.ListRunLogs))
	mux.Handle("POST /api/admin/accounts/{id}/credits", admin(d.Dashboard.GrantCredits))

	return instrument(mux, d.Metrics)
}

func healthz(check func(ctx context.Context) error, log *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if check != nil {
			if err := check(r.Context()); err != nil {
				log.Warn("health check failed", "error", err)
				w.WriteHeader(http.StatusServiceUnavailable)
				_, _ = w.Write([]byte(`{"status":"unavailable"}`))
				return
			}
		}
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Unwrap() http.ResponseWriter { return s.ResponseWriter }

// instrument counts requests by matched route pattern. The mux sets
// r.Pattern on the shared request, so it is readable once next returns.
func instrument(next http.Handler, m *metrics.Metrics) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		m.ObserveHTTP(route, strconv.Itoa(rec.status))
	})
}

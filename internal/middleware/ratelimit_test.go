package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/autonest/backend/internal/config"
	"github.com/autonest/backend/internal/models"
)

// fakeScripter answers the token bucket script with a fixed reply.
type fakeScripter struct {
	redis.Scripter
	reply []interface{}
	err   error
	keys  []string
}

func (f *fakeScripter) EvalSha(_ context.Context, _ string, keys []string, _ ...interface{}) *redis.Cmd {
	f.keys = append(f.keys, keys...)
	return redis.NewCmdResult(f.reply, f.err)
}

func (f *fakeScripter) Eval(ctx context.Context, _ string, keys []string, args ...interface{}) *redis.Cmd {
	return f.EvalSha(ctx, "", keys, args...)
}

var testLimit = config.RateLimitConfig{
	Enabled:        true,
	Capacity:       5,
	RefillTokens:   1,
	RefillInterval: 3 * time.Second,
	TTL:            time.Minute,
	Prefix:         "rl",
}

func TestRateLimit_PassThrough(t *testing.T) {
	disabled := testLimit
	disabled.Enabled = false

	for name, mw := range map[string]func(http.Handler) http.Handler{
		"nil client": RateLimit(testLimit, nil, nil),
		"disabled":   RateLimit(disabled, &fakeScripter{err: errors.New("must not be called")}, nil),
	} {
		t.Run(name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			mw(okHandler).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/tools/blog-generation", nil))
			if rec.Code != http.StatusOK {
				t.Errorf("expected 200, got %d", rec.Code)
			}
		})
	}
}

func TestRateLimit_Allowed(t *testing.T) {
	f := &fakeScripter{reply: []interface{}{int64(1), int64(4), int64(0)}}
	handler := RateLimit(testLimit, f, nil)(okHandler)

	req := httptest.NewRequest(http.MethodPost, "/api/tools/blog-generation", nil)
	req = req.WithContext(WithAccount(req.Context(), &models.Account{ID: "uid-1"}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if got := rec.Header().Get("X-RateLimit-Remaining"); got != "4" {
		t.Errorf("remaining header = %q", got)
	}
	if len(f.keys) != 1 || f.keys[0] != "rl:user:uid-1:POST /api/tools/blog-generation" {
		t.Errorf("unexpected key %v", f.keys)
	}
}

func TestRateLimit_Blocked(t *testing.T) {
	f := &fakeScripter{reply: []interface{}{int64(0), int64(0), int64(2500)}}
	handler := RateLimit(testLimit, f, nil)(okHandler)

	req := httptest.NewRequest(http.MethodPost, "/api/payment/create-order", nil)
	req.RemoteAddr = "203.0.113.7:5555"
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	if got := rec.Header().Get("Retry-After"); got != "3" {
		t.Errorf("Retry-After = %q, want 3", got)
	}
	if len(f.keys) != 1 || f.keys[0] != "rl:ip:203.0.113.7:POST /api/payment/create-order" {
		t.Errorf("unexpected key %v", f.keys)
	}
}

func TestRateLimit_FailsOpen(t *testing.T) {
	f := &fakeScripter{err: errors.New("connection refused")}
	rec := httptest.NewRecorder()
	RateLimit(testLimit, f, nil)(okHandler).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

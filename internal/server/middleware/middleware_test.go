package middleware

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quforge/qubet/internal/domain"
)

type staticAuth struct {
	accounts map[string]domain.Account
}

func (a staticAuth) Authenticate(_ context.Context, token string) (domain.Account, error) {
	acct, ok := a.accounts[token]
	if !ok {
		return domain.Account{}, fmt.Errorf("auth: %w", domain.ErrUnauthorized)
	}
	return acct, nil
}

type countingLimiter struct {
	counts map[string]int
	limit  int
	err    error
}

func (l *countingLimiter) Allow(_ context.Context, key string, limit int, _ time.Duration) (bool, error) {
	if l.err != nil {
		return false, l.err
	}
	l.counts[key]++
	return l.counts[key] <= l.limit, nil
}

func echoAccount() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if acct, ok := AccountFromContext(r.Context()); ok {
			w.Write([]byte(acct.Address))
			return
		}
		w.Write([]byte("anonymous"))
	})
}

func TestAccountAuthResolvesBearerToken(t *testing.T) {
	auth := staticAuth{accounts: map[string]domain.Account{
		"tok-1": {Address: "ADDR"},
	}}
	h := AccountAuth(auth)(echoAccount())

	req := httptest.NewRequest(http.MethodGet, "/account", nil)
	req.Header.Set("Authorization", "Bearer tok-1")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ADDR", rec.Body.String())
}

func TestAccountAuthAcceptsAPIKeyHeader(t *testing.T) {
	auth := staticAuth{accounts: map[string]domain.Account{
		"tok-1": {Address: "ADDR"},
	}}
	h := AccountAuth(auth)(echoAccount())

	req := httptest.NewRequest(http.MethodGet, "/account", nil)
	req.Header.Set("X-API-Key", "tok-1")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAccountAuthRejectsMissingAndUnknownTokens(t *testing.T) {
	auth := staticAuth{accounts: map[string]domain.Account{}}
	h := AccountAuth(auth)(echoAccount())

	req := httptest.NewRequest(http.MethodGet, "/account", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/account", nil)
	req.Header.Set("Authorization", "Bearer nope")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestOperatorAuthDistinguishesMissingFromWrong(t *testing.T) {
	h := OperatorAuth("s3cret")(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/admin/status", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/admin/status", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/admin/status", nil)
	req.Header.Set("Authorization", "Bearer s3cret")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestRateLimitRejectsOverBudget(t *testing.T) {
	limiter := &countingLimiter{counts: map[string]int{}, limit: 2}
	h := RateLimit(limiter, 2, time.Minute)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodGet, "/rounds", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/rounds", nil)
	req.RemoteAddr = "10.0.0.1:1234"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
}

func TestRateLimitKeysByRouteAndCaller(t *testing.T) {
	limiter := &countingLimiter{counts: map[string]int{}, limit: 1}
	h := RateLimit(limiter, 1, time.Minute)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	// Same caller, two routes: separate budgets.
	for _, path := range []string{"/rounds", "/markets"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		req.RemoteAddr = "10.0.0.1:1234"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code, path)
	}

	// Second caller on an exhausted route still gets through.
	req := httptest.NewRequest(http.MethodGet, "/rounds", nil)
	req.RemoteAddr = "10.0.0.2:1234"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	assert.Contains(t, limiter.counts, "ratelimit:GET:rounds:10.0.0.1")
	assert.Contains(t, limiter.counts, "ratelimit:GET:markets:10.0.0.1")
}

func TestRateLimitFailsOpenOnLimiterError(t *testing.T) {
	limiter := &countingLimiter{counts: map[string]int{}, limit: 0, err: fmt.Errorf("redis down")}
	h := RateLimit(limiter, 1, time.Minute)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/rounds", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCORSPreflightForAllowedOrigin(t *testing.T) {
	h := CORS([]string{"https://app.qubet.example"})(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodOptions, "/rounds", nil)
	req.Header.Set("Origin", "https://app.qubet.example")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://app.qubet.example", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "GET, POST, OPTIONS", rec.Header().Get("Access-Control-Allow-Methods"))
	assert.Equal(t, "Retry-After", rec.Header().Get("Access-Control-Expose-Headers"))
}

func TestCORSSkipsDisallowedOrigin(t *testing.T) {
	h := CORS([]string{"https://app.qubet.example"})(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/rounds", nil)
	req.Header.Set("Origin", "https://evil.example")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

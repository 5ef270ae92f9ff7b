package middleware

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/quforge/qubet/internal/domain"
)

// Authenticator resolves per-account API tokens. Implemented by the ledger
// service.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (domain.Account, error)
}

type contextKey string

const accountKey contextKey = "account"

// AccountFromContext returns the authenticated account placed by
// AccountAuth. The bool is false on routes that did not pass through it.
func AccountFromContext(ctx context.Context) (domain.Account, bool) {
	acct, ok := ctx.Value(accountKey).(domain.Account)
	return acct, ok
}

// AccountAuth validates the caller's Bearer token against the account store
// and injects the resolved account into the request context. Requests
// without a valid token get a 401.
func AccountAuth(auth Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := BearerToken(r)
			if token == "" {
				writeUnauthorized(w, "missing api token")
				return
			}
			acct, err := auth.Authenticate(r.Context(), token)
			if err != nil {
				writeUnauthorized(w, "invalid api token")
				return
			}
			ctx := context.WithValue(r.Context(), accountKey, acct)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// OperatorAuth protects the cron and admin surfaces with the shared operator
// secret. The secret is distinct from per-account tokens.
func OperatorAuth(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := BearerToken(r)
			if token == "" {
				writeUnauthorized(w, "missing operator secret")
				return
			}
			if subtle.ConstantTimeCompare([]byte(token), []byte(secret)) != 1 {
				writeForbidden(w, "invalid operator secret")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// BearerToken extracts the token from an Authorization: Bearer header, with
// X-API-Key as a fallback. Handlers that authenticate conditionally, like
// the deposit path, use it directly.
func BearerToken(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		parts := strings.SplitN(auth, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return strings.TrimSpace(parts[1])
		}
	}
	if key := r.Header.Get("X-API-Key"); key != "" {
		return strings.TrimSpace(key)
	}
	return ""
}

func writeUnauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusUnauthorized)
	w.Write([]byte(`{"error":"` + msg + `"}`))
}

func writeForbidden(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusForbidden)
	w.Write([]byte(`{"error":"` + msg + `"}`))
}

package middleware

import (
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/quforge/qubet/internal/domain"
)

// RateLimit applies per-route admission control keyed by caller identity:
// the authenticated account address when present, the client IP otherwise.
// Rejected requests get a structured 429, never queued.
func RateLimit(limiter domain.RateLimiter, limit int, window time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			caller := callerIdentity(r)
			key := "ratelimit:" + r.Method + ":" + routeKey(r) + ":" + caller

			allowed, err := limiter.Allow(r.Context(), key, limit, window)
			if err != nil {
				// Limiter outages fail open; blocking all traffic on a Redis
				// hiccup is worse than briefly not limiting.
				next.ServeHTTP(w, r)
				return
			}
			if !allowed {
				w.Header().Set("Content-Type", "application/json; charset=utf-8")
				w.Header().Set("Retry-After", "1")
				w.WriteHeader(http.StatusTooManyRequests)
				w.Write([]byte(`{"error":"rate limit exceeded"}`))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// callerIdentity prefers the authenticated account; unauthenticated routes
// fall back to the client IP.
func callerIdentity(r *http.Request) string {
	if acct, ok := AccountFromContext(r.Context()); ok {
		return acct.Address
	}
	return clientIP(r)
}

// routeKey buckets requests by first path segment so /rounds/{id} and
// /rounds share one budget without unbounded per-URL keys.
func routeKey(r *http.Request) string {
	path := strings.TrimPrefix(r.URL.Path, "/")
	if i := strings.IndexByte(path, '/'); i > 0 {
		return path[:i]
	}
	return path
}

// clientIP resolves the real client IP through standard proxy headers,
// falling back to the direct remote address.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.SplitN(xff, ",", 2)
		if ip := strings.TrimSpace(parts[0]); ip != "" {
			return ip
		}
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

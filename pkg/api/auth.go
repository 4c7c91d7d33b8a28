package api

import (
	"net/http"
	"strings"

	"golang.org/x/time/rate"

	"contract-mesh/pkg/auth"
)

// authFunc accepts the static token (X-Auth-Token or Bearer) or a bearer JWT
// signed by signer. With neither configured every request is allowed.
func authFunc(token string, signer *auth.Signer) func(r *http.Request) bool {
	if token == "" && signer == nil {
		return func(_ *http.Request) bool { return true }
	}
	return func(r *http.Request) bool {
		bearer := ""
		if authz := r.Header.Get("Authorization"); strings.HasPrefix(authz, "Bearer ") {
			bearer = strings.TrimPrefix(authz, "Bearer ")
		}
		if token != "" {
			if h := r.Header.Get("X-Auth-Token"); h == token || bearer == token {
				return true
			}
		}
		if signer != nil && bearer != "" {
			if _, err := signer.Parse(bearer); err == nil {
				return true
			}
		}
		return false
	}
}

// AuthMiddleware rejects requests that allow refuses.
func AuthMiddleware(next http.Handler, allow func(*http.Request) bool) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !allow(r) {
			writeJSON(w, http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RateLimit answers 429 once the token bucket is empty. A nil limiter disables it.
func RateLimit(next http.Handler, limiter *rate.Limiter) http.Handler {
	if limiter == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !limiter.Allow() {
			writeJSON(w, http.StatusTooManyRequests, ErrorResponse{Error: "rate limit exceeded"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

package middleware

import (
	"errors"
	"net/http"

	"golang.org/x/crypto/bcrypt"
)

// GatewayKeyHeader carries the shared admin key on protected routes.
const GatewayKeyHeader = "X-Gateway-Key"

// GatewayKey rejects requests whose X-Gateway-Key does not match the bcrypt
// hash. An empty hash means the route cannot be served at all.
func GatewayKey(hash string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if hash == "" {
				writeError(w, http.StatusInternalServerError, "Gateway key not configured")
				return
			}

			key := r.Header.Get(GatewayKeyHeader)
			if key == "" {
				writeError(w, http.StatusUnauthorized, "Missing "+GatewayKeyHeader+" header")
				return
			}

			err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(key))
			switch {
			case err == nil:
				next.ServeHTTP(w, r)
			case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
				writeError(w, http.StatusForbidden, "Invalid credentials")
			default:
				// Malformed hash in configuration
				writeError(w, http.StatusInternalServerError, "Internal auth error")
			}
		})
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	http.Error(w, `{"error":"`+message+`"}`, status)
}

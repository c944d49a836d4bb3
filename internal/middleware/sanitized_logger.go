// Package middleware contains HTTP middleware for the gateway.
package middleware

import (
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/obot-platform/fleetgate/internal/logger"
)

// SensitiveQueryParams are query parameters that should be redacted in logs
var SensitiveQueryParams = []string{"token", "password", "api_key", "apiKey", "secret", "key"}

// SanitizedLogger logs every request through log with sensitive query
// parameters redacted.
func SanitizedLogger(log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()

			defer func() {
				log.LogRequest(r,
					middleware.GetReqID(r.Context()),
					redactSensitiveParams(r.URL),
					ww.Status(),
					ww.BytesWritten(),
					time.Since(start),
				)
			}()

			next.ServeHTTP(ww, r)
		})
	}
}

// redactSensitiveParams returns the request URI with sensitive query values
// replaced.
func redactSensitiveParams(u *url.URL) string {
	if u.RawQuery == "" {
		return u.Path
	}

	query := u.Query()
	redacted := false
	for _, param := range SensitiveQueryParams {
		if query.Has(param) {
			query.Set(param, "[REDACTED]")
			redacted = true
		}
	}
	if !redacted {
		return u.RequestURI()
	}
	return u.Path + "?" + query.Encode()
}

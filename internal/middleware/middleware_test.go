package middleware

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"golang.org/x/crypto/bcrypt"

	"github.com/obot-platform/fleetgate/internal/logger"
)

func TestGatewayKey(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name       string
		hash       string
		key        string
		wantStatus int
	}{
		{name: "valid key", hash: string(hash), key: "s3cret", wantStatus: http.StatusOK},
		{name: "missing key", hash: string(hash), wantStatus: http.StatusUnauthorized},
		{name: "wrong key", hash: string(hash), key: "guess", wantStatus: http.StatusForbidden},
		{name: "no hash configured", hash: "", key: "s3cret", wantStatus: http.StatusInternalServerError},
		{name: "malformed hash", hash: "not-a-hash", key: "s3cret", wantStatus: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			called := false
			h := GatewayKey(tt.hash)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				called = true
				w.WriteHeader(http.StatusOK)
			}))

			req := httptest.NewRequest(http.MethodGet, "/api/about-me", nil)
			if tt.key != "" {
				req.Header.Set(GatewayKeyHeader, tt.key)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if called != (tt.wantStatus == http.StatusOK) {
				t.Errorf("next handler called = %v", called)
			}
		})
	}
}

func TestRedactSensitiveParams(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{name: "no query", input: "/portfolio-api/items", expected: "/portfolio-api/items"},
		{name: "empty query", input: "/api/health?", expected: "/api/health"},
		{name: "nothing sensitive", input: "/svc/a?page=2&sort=asc", expected: "/svc/a?page=2&sort=asc"},
		{name: "token", input: "/svc/a?token=abc", expected: "/svc/a?token=%5BREDACTED%5D"},
		{name: "key among others", input: "/svc/a?z=1&key=k&a=2", expected: "/svc/a?a=2&key=%5BREDACTED%5D&z=1"},
		{name: "case sensitive", input: "/svc/a?Password=x", expected: "/svc/a?Password=x"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u, err := url.Parse(tt.input)
			if err != nil {
				t.Fatalf("Failed to parse URL: %v", err)
			}
			if got := redactSensitiveParams(u); got != tt.expected {
				t.Errorf("redactSensitiveParams() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestSanitizedLogger(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	log := logger.FromZap(zap.New(core))

	h := SanitizedLogger(log)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write([]byte("short and stout"))
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/svc/x?password=hunter2", nil))

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("got %d log entries, want 1", len(entries))
	}
	fields := entries[0].ContextMap()
	if target, _ := fields["target"].(string); strings.Contains(target, "hunter2") {
		t.Errorf("password leaked into log: %q", target)
	}
	if status, _ := fields["status"].(int64); status != http.StatusTeapot {
		t.Errorf("status field = %v, want %d", fields["status"], http.StatusTeapot)
	}
	if bytes, _ := fields["bytes"].(int64); bytes != int64(len("short and stout")) {
		t.Errorf("bytes field = %v", fields["bytes"])
	}
}

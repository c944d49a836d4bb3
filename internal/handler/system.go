package handler

import (
	"net/http"
	"os"
	"runtime"

	"golang.org/x/crypto/bcrypt"

	"github.com/obot-platform/fleetgate/internal/version"
)

// PasswordHashCost is the bcrypt cost used by HashPassword.
const PasswordHashCost = 10

// Root answers the bare "/" liveness probe.
func (h *Handler) Root(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("/"))
}

// Health aggregates downstream service health. Any service down yields 503.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	report := h.health.Check(r.Context())
	status := http.StatusOK
	if !report.Healthy() {
		status = http.StatusServiceUnavailable
	}
	h.JSON(w, status, report)
}

// GatewayInfoResponse describes the host running the gateway.
type GatewayInfoResponse struct {
	Hostname string  `json:"hostname"`
	Platform string  `json:"platform"`
	Uptime   float64 `json:"uptime"` // seconds since the gateway started
	Version  string  `json:"version"`
}

// GatewayInfo reports host details.
func (h *Handler) GatewayInfo(w http.ResponseWriter, _ *http.Request) {
	hostname, _ := os.Hostname()
	h.JSON(w, http.StatusOK, GatewayInfoResponse{
		Hostname: hostname,
		Platform: runtime.GOOS,
		Uptime:   h.clock.Now().Sub(h.startedAt).Seconds(),
		Version:  version.String(),
	})
}

// HashPasswordRequest is the body of POST /api/utils/hash-password.
type HashPasswordRequest struct {
	Password string `json:"password"`
}

// HashPassword returns a bcrypt hash suitable for GATEWAY_KEY_HASH.
func (h *Handler) HashPassword(w http.ResponseWriter, r *http.Request) {
	var req HashPasswordRequest
	if err := h.DecodeJSON(r, &req); err != nil {
		h.Error(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Password == "" {
		h.Error(w, http.StatusBadRequest, "Missing password")
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), PasswordHashCost)
	if err != nil {
		// Passwords over 72 bytes are rejected by bcrypt
		h.Error(w, http.StatusBadRequest, err.Error())
		return
	}
	h.JSON(w, http.StatusOK, map[string]string{"hash": string(hash)})
}

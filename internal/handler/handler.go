// Package handler contains the gateway's own HTTP endpoints.
package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/obot-platform/fleetgate/internal/clock"
	"github.com/obot-platform/fleetgate/internal/config"
	"github.com/obot-platform/fleetgate/internal/health"
	"github.com/obot-platform/fleetgate/internal/logger"
	"github.com/obot-platform/fleetgate/internal/model"
)

// LeaderStatus exposes the cached leadership belief.
type LeaderStatus interface {
	Snapshot() model.LeaderSnapshot
}

// MemberLister lists fleet members.
type MemberLister interface {
	ListMembers(ctx context.Context) ([]*model.FleetMember, error)
}

// HealthChecker aggregates downstream health.
type HealthChecker interface {
	Check(ctx context.Context) health.Report
}

// Handler contains all HTTP handlers
type Handler struct {
	cfg       *config.Config
	leader    LeaderStatus
	members   MemberLister
	health    HealthChecker
	clock     clock.Clock
	log       *logger.Logger
	startedAt time.Time
}

// New creates a new Handler.
func New(cfg *config.Config, leader LeaderStatus, members MemberLister, checker HealthChecker, c clock.Clock, log *logger.Logger) *Handler {
	if c == nil {
		c = clock.Real()
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Handler{
		cfg:       cfg,
		leader:    leader,
		members:   members,
		health:    checker,
		clock:     c,
		log:       log.With("component", "handler"),
		startedAt: c.Now(),
	}
}

// JSON helper to write JSON responses
func (h *Handler) JSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

// Error helper to write error responses
func (h *Handler) Error(w http.ResponseWriter, status int, message string) {
	h.JSON(w, status, map[string]string{"error": message})
}

// DecodeJSON helper to decode request body
func (h *Handler) DecodeJSON(r *http.Request, v any) error {
	return json.NewDecoder(r.Body).Decode(v)
}

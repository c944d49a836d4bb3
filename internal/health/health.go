// Package health aggregates the health of downstream services.
package health

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/obot-platform/fleetgate/internal/clock"
	"github.com/obot-platform/fleetgate/internal/services"
)

// Service states
const (
	StatusUp       = "up"
	StatusDown     = "down"
	StatusDegraded = "degraded"
)

// ServiceStatus is the result of probing one service.
type ServiceStatus struct {
	Status         string `json:"status"`
	HTTPStatus     int    `json:"httpStatus,omitempty"`
	ResponseTimeMs int64  `json:"responseTimeMs,omitempty"`
	Error          string `json:"error,omitempty"`
}

// Report is the aggregated health of the gateway and its services.
type Report struct {
	Gateway   string                   `json:"gateway"`
	Timestamp time.Time                `json:"timestamp"`
	Services  map[string]ServiceStatus `json:"services"`
}

// Healthy reports whether every probed service is up.
func (r Report) Healthy() bool {
	return r.Gateway == StatusUp
}

// Checker probes GET {url}/api/health on every health-checked service.
type Checker struct {
	registry *services.Registry
	client   *http.Client
	timeout  time.Duration
	clock    clock.Clock
}

// NewChecker creates a Checker with a per-service timeout.
func NewChecker(registry *services.Registry, timeout time.Duration, c clock.Clock) *Checker {
	if c == nil {
		c = clock.Real()
	}
	return &Checker{
		registry: registry,
		client:   &http.Client{},
		timeout:  timeout,
		clock:    c,
	}
}

// Check probes all services concurrently and waits for every result.
func (c *Checker) Check(ctx context.Context) Report {
	targets := c.registry.HealthChecked()

	var mu sync.Mutex
	results := make(map[string]ServiceStatus, len(targets))

	var g errgroup.Group
	for _, t := range targets {
		g.Go(func() error {
			status := c.probe(ctx, t)
			mu.Lock()
			results[t.Name] = status
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	gateway := StatusUp
	for _, s := range results {
		if s.Status != StatusUp {
			gateway = StatusDegraded
			break
		}
	}

	return Report{
		Gateway:   gateway,
		Timestamp: c.clock.Now(),
		Services:  results,
	}
}

func (c *Checker) probe(ctx context.Context, t services.Target) ServiceStatus {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	url := strings.TrimRight(t.URL.String(), "/") + "/api/health"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return ServiceStatus{Status: StatusDown, Error: err.Error()}
	}

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return ServiceStatus{Status: StatusDown, Error: "timeout"}
		}
		return ServiceStatus{Status: StatusDown, Error: err.Error()}
	}
	_ = resp.Body.Close()

	status := StatusDown
	if resp.StatusCode == http.StatusOK {
		status = StatusUp
	}
	return ServiceStatus{
		Status:         status,
		HTTPStatus:     resp.StatusCode,
		ResponseTimeMs: time.Since(start).Milliseconds(),
	}
}

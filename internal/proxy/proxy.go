// Package proxy forwards /{service}/... requests to downstream services.
package proxy

import (
	"encoding/json"
	"net"
	"net/http"
	"net/http/httputil"
	"strings"
	"time"

	"github.com/obot-platform/fleetgate/internal/logger"
	"github.com/obot-platform/fleetgate/internal/services"
)

// Proxy routes by the first path segment to the matching service with the
// segment stripped.
//
// This properly handles:
// - WebSocket upgrades
// - Server-Sent Events (SSE)
// - Chunked transfer encoding
// - Request/response streaming
type Proxy struct {
	registry  *services.Registry
	transport http.RoundTripper
	log       *logger.Logger
}

// New creates a Proxy. Upstream connections are pooled and kept alive;
// responseHeaderTimeout bounds how long an upstream may take to answer.
func New(registry *services.Registry, log *logger.Logger, responseHeaderTimeout time.Duration) *Proxy {
	if log == nil {
		log = logger.Nop()
	}
	return &Proxy{
		registry:  registry,
		transport: newTransport(responseHeaderTimeout),
		log:       log.With("component", "proxy"),
	}
}

func newTransport(responseHeaderTimeout time.Duration) *http.Transport {
	return &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   20,
		IdleConnTimeout:       90 * time.Second,
		ExpectContinueTimeout: time.Second,
		ResponseHeaderTimeout: responseHeaderTimeout,
	}
}

// splitService separates "/name/rest" into "name" and "/rest".
func splitService(path string) (name, rest string) {
	path = strings.TrimPrefix(path, "/")
	name, rest, _ = strings.Cut(path, "/")
	return name, "/" + rest
}

// ServeHTTP implements http.Handler.
func (p *Proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	name, rest := splitService(r.URL.Path)
	target, ok := p.registry.Lookup(name)
	if !ok {
		writeJSONError(w, http.StatusNotFound, "Unknown service", map[string]string{"service": name})
		return
	}

	rp := &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.Out.URL.Path = rest
			pr.Out.URL.RawPath = ""
			pr.SetURL(target.URL)
			pr.SetXForwarded()
			pr.Out.Header.Set("X-Forwarded-Prefix", "/"+name)
		},
		Transport: p.transport,
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			p.log.Warn("Error proxying request",
				"service", name,
				"target", target.URL.String(),
				"path", rest,
				"error", err,
			)
			writeJSONError(w, http.StatusBadGateway, "Service unavailable", map[string]string{
				"service": name,
				"message": err.Error(),
			})
		},
		// Flush immediately for streaming responses
		FlushInterval: -1,
	}

	rp.ServeHTTP(w, r)
}

// writeJSONError writes a JSON error response.
func writeJSONError(w http.ResponseWriter, status int, errorType string, fields map[string]string) {
	body := map[string]string{"error": errorType}
	for k, v := range fields {
		body[k] = v
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

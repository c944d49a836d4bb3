// Package instance works out how this gateway identifies itself to the fleet.
package instance

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/obot-platform/fleetgate/internal/config"
	"github.com/obot-platform/fleetgate/internal/logger"
	"github.com/obot-platform/fleetgate/internal/model"
)

// LoopbackIP is reported when no address can be discovered.
const LoopbackIP = "127.0.0.1"

const (
	tokenTTLHeader = "X-aws-ec2-metadata-token-ttl-seconds"
	tokenHeader    = "X-aws-ec2-metadata-token"
	requestTimeout = time.Second
)

var errNoMetadata = errors.New("metadata not available")

// MetadataClient reads identity from an EC2-style instance metadata service,
// preferring IMDSv2 session tokens and falling back to IMDSv1.
type MetadataClient struct {
	baseURL string
	client  *http.Client
}

// NewMetadataClient creates a client for the metadata service at baseURL,
// e.g. http://169.254.169.254/latest.
func NewMetadataClient(baseURL string) *MetadataClient {
	return &MetadataClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: requestTimeout},
	}
}

// Token requests an IMDSv2 session token. An empty token means IMDSv1.
func (m *MetadataClient) Token(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, m.baseURL+"/api/token", nil)
	if err != nil {
		return "", err
	}
	req.Header.Set(tokenTTLHeader, "60")

	resp, err := m.client.Do(req)
	if err != nil {
		return "", err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("token request returned status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(body)), nil
}

// Get reads one meta-data path such as "instance-id" or "local-ipv4".
func (m *MetadataClient) Get(ctx context.Context, token, path string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.baseURL+"/meta-data/"+path, nil)
	if err != nil {
		return "", err
	}
	if token != "" {
		req.Header.Set(tokenHeader, token)
	}

	resp, err := m.client.Do(req)
	if err != nil {
		return "", err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%s: status %d: %w", path, resp.StatusCode, errNoMetadata)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return "", err
	}
	value := strings.TrimSpace(string(body))
	if value == "" {
		return "", fmt.Errorf("%s: empty: %w", path, errNoMetadata)
	}
	return value, nil
}

// Fetch returns the instance id and addresses from the metadata service.
// A missing public address falls back to the private one.
func (m *MetadataClient) Fetch(ctx context.Context, log *logger.Logger) (model.Identity, error) {
	token, err := m.Token(ctx)
	if err != nil {
		log.Warn("IMDSv2 token unavailable, falling back to IMDSv1", "error", err)
		token = ""
	}

	id, err := m.Get(ctx, token, "instance-id")
	if err != nil {
		return model.Identity{}, err
	}
	private, err := m.Get(ctx, token, "local-ipv4")
	if err != nil {
		return model.Identity{}, err
	}
	public, err := m.Get(ctx, token, "public-ipv4")
	if err != nil {
		public = private
	}
	return model.Identity{ID: id, PublicIP: public, PrivateIP: private}, nil
}

// Resolve determines this instance's identity. Explicit configuration wins,
// then the metadata service (skipped when running locally), then a random
// hostname-based id on loopback. The environment name is appended to the id
// so fleets of different environments never share members. It never fails.
func Resolve(ctx context.Context, cfg *config.Config, log *logger.Logger) model.Identity {
	var id model.Identity

	if !cfg.IsLocal && cfg.InstanceID == "" {
		fetched, err := NewMetadataClient(cfg.InstanceMetadataURL).Fetch(ctx, log)
		if err != nil {
			log.Warn("Instance metadata unavailable, using fallback identity", "error", err)
		} else {
			id = fetched
		}
	}

	if cfg.InstanceID != "" {
		id.ID = cfg.InstanceID
	}
	if cfg.PublicIP != "" {
		id.PublicIP = cfg.PublicIP
	}
	if cfg.PrivateIP != "" {
		id.PrivateIP = cfg.PrivateIP
	}

	if id.ID == "" {
		id.ID = fallbackID()
	}
	if id.PrivateIP == "" {
		id.PrivateIP = LoopbackIP
	}
	if id.PublicIP == "" {
		id.PublicIP = id.PrivateIP
	}
	if cfg.Environment != "" {
		id.ID = id.ID + "-" + cfg.Environment
	}

	log.Info("Resolved instance identity",
		"instance_id", id.ID,
		"public_ip", id.PublicIP,
		"private_ip", id.PrivateIP,
	)
	return id
}

func fallbackID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "gateway"
	}
	return host + "-" + uuid.New().String()
}

// Package services loads the map of downstream services the gateway fronts.
package services

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// reserved path prefixes that cannot be used as service names
var reserved = map[string]bool{"api": true}

// File is the on-disk services document.
type File struct {
	Services map[string]ServiceConfig `yaml:"services"`
}

// ServiceConfig describes one downstream service.
type ServiceConfig struct {
	URL         string `yaml:"url"`
	LocalURL    string `yaml:"local_url,omitempty"`    // used instead of URL when running locally
	HealthCheck bool   `yaml:"health_check,omitempty"` // include in /api/health
}

// Target is a resolved, validated service.
type Target struct {
	Name        string
	URL         *url.URL
	HealthCheck bool
}

// Load reads and parses a services file. A missing file is reported with an
// error wrapping os.ErrNotExist.
func Load(path string, isLocal bool) (map[string]Target, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("read services: %w", err)
	}
	targets, err := Parse(data, isLocal)
	if err != nil {
		return nil, fmt.Errorf("parse services %s: %w", path, err)
	}
	return targets, nil
}

// Parse decodes a services document and resolves each entry's URL.
func Parse(data []byte, isLocal bool) (map[string]Target, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, err
	}

	targets := make(map[string]Target, len(f.Services))
	for name, svc := range f.Services {
		if err := validateName(name); err != nil {
			return nil, err
		}
		raw := svc.URL
		if isLocal && svc.LocalURL != "" {
			raw = svc.LocalURL
		}
		u, err := url.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("service %s: invalid url: %w", name, err)
		}
		if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return nil, fmt.Errorf("service %s: url must be absolute http(s), got %q", name, raw)
		}
		targets[name] = Target{Name: name, URL: u, HealthCheck: svc.HealthCheck}
	}
	return targets, nil
}

func validateName(name string) error {
	switch {
	case name == "":
		return errors.New("service name cannot be empty")
	case strings.ContainsAny(name, "/?#"):
		return fmt.Errorf("service name %q cannot contain path characters", name)
	case reserved[name]:
		return fmt.Errorf("service name %q is reserved", name)
	}
	return nil
}

// Registry holds the current service map. It is safe for concurrent use and
// replaced wholesale on reload.
type Registry struct {
	mu      sync.RWMutex
	targets map[string]Target
}

// NewRegistry creates a Registry with the given targets.
func NewRegistry(targets map[string]Target) *Registry {
	r := &Registry{}
	r.Replace(targets)
	return r
}

// Replace swaps in a new service map.
func (r *Registry) Replace(targets map[string]Target) {
	if targets == nil {
		targets = map[string]Target{}
	}
	r.mu.Lock()
	r.targets = targets
	r.mu.Unlock()
}

// Lookup returns the named service.
func (r *Registry) Lookup(name string) (Target, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.targets[name]
	return t, ok
}

// All returns every service ordered by name.
func (r *Registry) All() []Target {
	r.mu.RLock()
	out := make([]Target, 0, len(r.targets))
	for _, t := range r.targets {
		out = append(out, t)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// HealthChecked returns the services included in health aggregation.
func (r *Registry) HealthChecked() []Target {
	var out []Target
	for _, t := range r.All() {
		if t.HealthCheck {
			out = append(out, t)
		}
	}
	return out
}

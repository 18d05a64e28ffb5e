package ratelimit

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/pharoshq/pharos/pkg/observability"
)

// Policy maps route names to rules. Routes not listed use Default.
//
//	default: {limit: 10, window: 60s}
//	routes:
//	  skus.create: {limit: 60, window: 1m}
type Policy struct {
	Default Rule            `yaml:"default"`
	Routes  map[string]Rule `yaml:"routes"`
}

// RuleFor returns the rule for route
func (p *Policy) RuleFor(route string) Rule {
	if r, ok := p.Routes[route]; ok {
		return r
	}
	return p.Default
}

// Validate checks every rule
func (p *Policy) Validate() error {
	if err := p.Default.Validate(); err != nil {
		return fmt.Errorf("default rule: %w", err)
	}
	for route, r := range p.Routes {
		if err := r.Validate(); err != nil {
			return fmt.Errorf("route %s: %w", route, err)
		}
	}
	return nil
}

// ParsePolicy decodes and validates a YAML policy
func ParsePolicy(data []byte) (*Policy, error) {
	var p Policy
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to parse rate limit policy: %w", err)
	}
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("invalid rate limit policy: %w", err)
	}
	return &p, nil
}

// LoadPolicy reads a policy file
func LoadPolicy(path string) (*Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rate limit policy: %w", err)
	}
	return ParsePolicy(data)
}

// PolicySet holds the active policy and lets it be swapped while requests
// read it.
type PolicySet struct {
	current atomic.Pointer[Policy]
}

// NewPolicySet starts with p
func NewPolicySet(p *Policy) *PolicySet {
	ps := &PolicySet{}
	ps.current.Store(p)
	return ps
}

// RuleFor returns the active rule for route
func (ps *PolicySet) RuleFor(route string) Rule {
	return ps.current.Load().RuleFor(route)
}

// Replace swaps in p
func (ps *PolicySet) Replace(p *Policy) {
	ps.current.Store(p)
}

// Watch reloads path into ps whenever it changes. The directory is watched
// rather than the file so editors that replace the file by rename are seen.
// A policy that fails to parse is logged and the previous one stays active.
func (ps *PolicySet) Watch(ctx context.Context, path string, logger *observability.Logger) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create policy watcher: %w", err)
	}

	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(path), err)
	}

	target := filepath.Clean(path)
	go func() {
		defer watcher.Close()
		defer observability.RecoverPanic(logger, "rate limit policy watcher")

		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != target {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				p, err := LoadPolicy(path)
				if err != nil {
					logger.WithError(err).WithField("path", path).Warn("Keeping previous rate limit policy")
					continue
				}
				ps.Replace(p)
				logger.WithField("path", path).WithField("routes", len(p.Routes)).Info("Rate limit policy reloaded")
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.WithError(err).Warn("Rate limit policy watcher error")
			}
		}
	}()

	return nil
}

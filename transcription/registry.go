package transcription

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/skillsenselab/voxpipe/logger"
	"github.com/skillsenselab/voxpipe/secrets"
)

// Registry resolves provider ids to live instances. Instances are cached per
// configuration fingerprint, so a config change makes the next Resolve build
// a fresh instance while an unchanged config keeps reusing the old one.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
	instances map[string]cachedProvider
	configs   ConfigSource
	secrets   secrets.Store
	log       *logger.Logger
}

type cachedProvider struct {
	provider    Provider
	fingerprint string
}

// NewRegistry creates a registry reading configuration from src and
// credentials from sec.
func NewRegistry(src ConfigSource, sec secrets.Store) *Registry {
	return &Registry{
		factories: make(map[string]Factory),
		instances: make(map[string]cachedProvider),
		configs:   src,
		secrets:   sec,
		log:       logger.WithComponent("registry"),
	}
}

// RegisterFactory registers a factory for a provider kind.
func (r *Registry) RegisterFactory(kind string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[kind] = factory
}

// Resolve returns a live provider for the id, constructing one if none is
// cached or the configuration changed since the last resolution.
func (r *Registry) Resolve(id string) (Provider, error) {
	cfg, ok := r.configs.ProviderConfig(id)
	if !ok {
		return nil, NewError(KindUnconfigured, id, "provider not configured")
	}
	if !cfg.Enabled {
		return nil, NewError(KindUnconfigured, id, "provider is disabled")
	}

	fp := fingerprint(cfg)

	r.mu.RLock()
	cached, hit := r.instances[id]
	r.mu.RUnlock()
	if hit && cached.fingerprint == fp {
		return cached.provider, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	// Another caller may have rebuilt while we waited for the lock.
	if cached, hit := r.instances[id]; hit && cached.fingerprint == fp {
		return cached.provider, nil
	}

	factory, ok := r.factories[cfg.Kind]
	if !ok {
		return nil, NewError(KindUnconfigured, id, fmt.Sprintf("no factory for provider kind %q", cfg.Kind))
	}
	p, err := factory(cfg, r.secrets)
	if err != nil {
		return nil, WrapError(KindUnconfigured, id, "provider construction failed", err)
	}

	r.instances[id] = cachedProvider{provider: p, fingerprint: fp}
	r.log.Debug("provider resolved", logger.Fields(logger.FieldProvider, id, "kind", cfg.Kind))
	return p, nil
}

// Invalidate drops the cached instance for a provider id, forcing
// reconstruction on the next Resolve.
func (r *Registry) Invalidate(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.instances, id)
}

// InvalidateAll drops every cached instance.
func (r *Registry) InvalidateAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.instances = make(map[string]cachedProvider)
}

// ListConfigured returns the ids of enabled providers whose configuration
// passes local validation: a resolvable model file for local kinds, a
// non-empty credential for remote kinds. Network reachability is not checked.
func (r *Registry) ListConfigured(ctx context.Context) []string {
	var ids []string
	for _, id := range r.configs.ProviderIDs() {
		cfg, ok := r.configs.ProviderConfig(id)
		if !ok || !cfg.Enabled {
			continue
		}
		if r.locallyValid(ctx, cfg) {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool {
		ci, _ := r.configs.ProviderConfig(ids[i])
		cj, _ := r.configs.ProviderConfig(ids[j])
		if ci.Priority != cj.Priority {
			return ci.Priority < cj.Priority
		}
		return ids[i] < ids[j]
	})
	return ids
}

func (r *Registry) locallyValid(ctx context.Context, cfg ProviderConfig) bool {
	if cfg.ModelPath != "" {
		_, err := os.Stat(cfg.ModelPath)
		return err == nil
	}
	if cfg.CredentialRef != "" {
		cred, err := r.secrets.Credential(ctx, cfg.CredentialRef)
		return err == nil && strings.TrimSpace(cred) != ""
	}
	return false
}

// fingerprint captures every construction-relevant config field. %+v over the
// struct value keeps this honest as fields are added.
func fingerprint(cfg ProviderConfig) string {
	return fmt.Sprintf("%+v", cfg)
}

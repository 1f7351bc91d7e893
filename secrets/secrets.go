// Package secrets defines the credential store consumed by remote
// transcription providers. The pipeline never persists credentials itself;
// providers fetch them at call time and drop them when the call finishes.
package secrets

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
)

// Store resolves and updates credentials by reference.
type Store interface {
	// Credential returns the credential for the given reference, or an empty
	// string if none is configured.
	Credential(ctx context.Context, ref string) (string, error)
	// SetCredential stores or clears (empty value) a credential.
	SetCredential(ctx context.Context, ref, value string) error
}

// EnvStore reads credentials from environment variables. The reference is
// either the variable name itself or a provider id that is upper-cased into
// VOXPIPE_<ID>_API_KEY.
type EnvStore struct{}

// NewEnvStore creates an environment-backed credential store.
func NewEnvStore() *EnvStore { return &EnvStore{} }

// Credential looks up the referenced environment variable.
func (s *EnvStore) Credential(_ context.Context, ref string) (string, error) {
	if ref == "" {
		return "", nil
	}
	if v := os.Getenv(ref); v != "" {
		return strings.TrimSpace(v), nil
	}
	name := fmt.Sprintf("VOXPIPE_%s_API_KEY", strings.ToUpper(strings.ReplaceAll(ref, "-", "_")))
	return strings.TrimSpace(os.Getenv(name)), nil
}

// SetCredential is not supported for the environment store.
func (s *EnvStore) SetCredential(_ context.Context, ref, _ string) error {
	return fmt.Errorf("secrets: env store is read-only (ref %q)", ref)
}

// MemStore is an in-memory credential store, used by tests and by callers
// that manage credentials through the API.
type MemStore struct {
	mu    sync.RWMutex
	creds map[string]string
}

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{creds: make(map[string]string)}
}

// Credential returns the stored credential for ref.
func (s *MemStore) Credential(_ context.Context, ref string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.creds[ref], nil
}

// SetCredential stores a credential; an empty value removes it.
func (s *MemStore) SetCredential(_ context.Context, ref, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if value == "" {
		delete(s.creds, ref)
		return nil
	}
	s.creds[ref] = value
	return nil
}

var (
	_ Store = (*EnvStore)(nil)
	_ Store = (*MemStore)(nil)
)

package providers

import (
	"fmt"
	"sync"
)

// CredentialStore holds provider API secrets in memory. Secrets are write-only
// from the outside world: they can be rotated and snapshotted but are never
// echoed back through any read model or log line.
type CredentialStore struct {
	mu      sync.RWMutex
	secrets map[string]string
}

// NewCredentialStore seeds the store from boot configuration. Empty seed
// values are ignored.
func NewCredentialStore(seed map[string]string) *CredentialStore {
	s := &CredentialStore{
		secrets: make(map[string]string, len(seed)),
	}
	for id, secret := range seed {
		if secret != "" {
			s.secrets[id] = secret
		}
	}
	return s
}

// Set rotates the secret for a provider. Providers that do not require a
// credential reject the write. An empty secret clears the stored value,
// which removes the provider from credential-gated eligibility.
func (s *CredentialStore) Set(p Provider, secret string) error {
	if !p.RequiresCredential {
		return fmt.Errorf("%w: %s", ErrCredentialNotApplicable, p.ID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if secret == "" {
		delete(s.secrets, p.ID)
		return nil
	}

	s.secrets[p.ID] = secret
	return nil
}

// Get returns the stored secret for a provider.
func (s *CredentialStore) Get(providerID string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	secret, ok := s.secrets[providerID]
	return secret, ok
}

// Has reports whether a non-empty secret is stored for the provider.
func (s *CredentialStore) Has(providerID string) bool {
	_, ok := s.Get(providerID)
	return ok
}

// Snapshot returns a point-in-time copy of all secrets. A request that
// snapshots at selection time keeps using the same secrets for its whole
// provider cascade even if a rotation lands mid-flight.
func (s *CredentialStore) Snapshot() map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]string, len(s.secrets))
	for id, secret := range s.secrets {
		out[id] = secret
	}
	return out
}

// Satisfied reports whether the provider's credential requirement is met:
// either no credential is required or a secret is currently stored.
func (s *CredentialStore) Satisfied(p Provider) bool {
	if !p.RequiresCredential {
		return true
	}
	return s.Has(p.ID)
}

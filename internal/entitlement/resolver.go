package entitlement

import (
	"errors"
	"fmt"
	"sync"

	"github.com/epimap/geodispatch/internal/providers"
	"github.com/epimap/geodispatch/pkg/config"
)

// Domain errors for entitlement resolution
var (
	ErrUnknownTier        = errors.New("unknown subscription tier")
	ErrEntitlementDenied  = errors.New("provider not entitled for tier")
	ErrNoEligibleProvider = errors.New("no eligible provider for tier")
)

// Tier names shipped by default. Tiers are configuration driven; these
// constants exist for callers that hardcode the default ladder.
const (
	TierFree     = "free"
	TierEnhanced = "enhanced"
	TierPremium  = "premium"
)

// Resolver answers which providers a tier may use right now. Provider order
// inside a tier encodes failover preference. Eligibility combines the static
// tier mapping with the live credential state: a credentialed provider whose
// secret was cleared drops out of every tier until a new secret lands.
type Resolver struct {
	mu          sync.RWMutex
	tiers       map[string][]string
	order       []string
	registry    *providers.Registry
	credentials *providers.CredentialStore
}

// NewResolver builds a resolver from configured tiers.
func NewResolver(cfgTiers []config.TierConfig, registry *providers.Registry, credentials *providers.CredentialStore) (*Resolver, error) {
	r := &Resolver{
		tiers:       make(map[string][]string, len(cfgTiers)),
		registry:    registry,
		credentials: credentials,
	}

	for _, tier := range cfgTiers {
		if tier.Name == "" {
			return nil, fmt.Errorf("tier with empty name")
		}
		if _, exists := r.tiers[tier.Name]; exists {
			return nil, fmt.Errorf("duplicate tier %q", tier.Name)
		}
		for _, id := range tier.AllowedProviderIDs {
			if !registry.Exists(id) {
				return nil, fmt.Errorf("tier %q references %w: %s", tier.Name, providers.ErrUnknownProvider, id)
			}
		}
		r.tiers[tier.Name] = append([]string(nil), tier.AllowedProviderIDs...)
		r.order = append(r.order, tier.Name)
	}

	return r, nil
}

// Candidates returns the ordered, credential-eligible provider set for a
// tier. When explicitProviderID is non-empty the set collapses to that single
// provider, provided the tier is entitled to it.
func (r *Resolver) Candidates(tier, explicitProviderID string) ([]providers.Provider, error) {
	allowed, err := r.allowedIDs(tier)
	if err != nil {
		return nil, err
	}

	if explicitProviderID != "" {
		if !r.registry.Exists(explicitProviderID) {
			return nil, fmt.Errorf("%w: %s", providers.ErrUnknownProvider, explicitProviderID)
		}
		if !containsID(allowed, explicitProviderID) {
			return nil, fmt.Errorf("%w: tier %s has no access to %s", ErrEntitlementDenied, tier, explicitProviderID)
		}
		allowed = []string{explicitProviderID}
	}

	eligible := make([]providers.Provider, 0, len(allowed))
	for _, p := range r.registry.Resolve(allowed) {
		if r.credentials.Satisfied(p) {
			eligible = append(eligible, p)
		}
	}

	if len(eligible) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoEligibleProvider, tier)
	}

	return eligible, nil
}

// Attach adds a provider to the end of a tier's preference list. Used when
// providers are registered at runtime.
func (r *Resolver) Attach(tier, providerID string) error {
	if !r.registry.Exists(providerID) {
		return fmt.Errorf("%w: %s", providers.ErrUnknownProvider, providerID)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	allowed, ok := r.tiers[tier]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTier, tier)
	}
	if containsID(allowed, providerID) {
		return nil
	}
	r.tiers[tier] = append(allowed, providerID)
	return nil
}

// TierInfo is the read model for one tier.
type TierInfo struct {
	Name      string           `json:"name"`
	Providers []ProviderAccess `json:"providers"`
}

// ProviderAccess reports one provider's standing within a tier. Configured
// indicates the credential requirement is currently met; the secret itself is
// never part of any read model.
type ProviderAccess struct {
	ProviderID string `json:"provider_id"`
	Configured bool   `json:"configured"`
}

// Tiers returns all configured tiers with per-provider credential standing.
func (r *Resolver) Tiers() []TierInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]TierInfo, 0, len(r.order))
	for _, name := range r.order {
		info := TierInfo{Name: name}
		for _, p := range r.registry.Resolve(r.tiers[name]) {
			info.Providers = append(info.Providers, ProviderAccess{
				ProviderID: p.ID,
				Configured: r.credentials.Satisfied(p),
			})
		}
		out = append(out, info)
	}
	return out
}

// Exists reports whether a tier is configured.
func (r *Resolver) Exists(tier string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.tiers[tier]
	return ok
}

func (r *Resolver) allowedIDs(tier string) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	allowed, ok := r.tiers[tier]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTier, tier)
	}
	return append([]string(nil), allowed...), nil
}

func containsID(ids []string, id string) bool {
	for _, candidate := range ids {
		if candidate == id {
			return true
		}
	}
	return false
}

package geocode

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/epimap/geodispatch/internal/entitlement"
	"github.com/epimap/geodispatch/internal/providers"
	"github.com/epimap/geodispatch/internal/strategy"
	"github.com/epimap/geodispatch/pkg/config"
	"github.com/epimap/geodispatch/pkg/logger"
	"github.com/epimap/geodispatch/pkg/redis"
	"github.com/epimap/geodispatch/pkg/resilience"
)

// Facade runs the geocoding cascade: entitlement resolution, strategy-driven
// provider selection, per-provider circuit breaking, and response
// normalization. Candidates are tried sequentially so a failing provider is
// never hammered in parallel.
type Facade struct {
	resolver    *entitlement.Resolver
	engine      *strategy.Engine
	credentials *providers.CredentialStore

	mu        sync.RWMutex
	geocoders map[string]providers.Geocoder

	breakerMu  sync.Mutex
	breakers   map[string]*resilience.CircuitBreaker
	breakerCfg config.CircuitBreakerConfig

	cache redis.ClientInterface
	cfg   config.DispatchConfig
}

// NewFacade wires the cascade dependencies. cache may be nil; caching is
// skipped entirely in that case.
func NewFacade(
	resolver *entitlement.Resolver,
	engine *strategy.Engine,
	credentials *providers.CredentialStore,
	geocoders map[string]providers.Geocoder,
	cache redis.ClientInterface,
	cfg config.DispatchConfig,
	breakerCfg config.CircuitBreakerConfig,
) *Facade {
	if geocoders == nil {
		geocoders = make(map[string]providers.Geocoder)
	}
	return &Facade{
		resolver:    resolver,
		engine:      engine,
		credentials: credentials,
		geocoders:   geocoders,
		breakers:    make(map[string]*resilience.CircuitBreaker),
		breakerCfg:  breakerCfg,
		cache:       cache,
		cfg:         cfg,
	}
}

// RegisterGeocoder attaches an adapter for a provider added at runtime.
func (f *Facade) RegisterGeocoder(providerID string, g providers.Geocoder) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.geocoders[providerID] = g
}

// Geocode resolves a free-text address through the first succeeding eligible
// provider. Later candidates are not tried once one succeeds.
func (f *Facade) Geocode(ctx context.Context, query, tier, explicitProviderID string) (*providers.GeocodeResult, error) {
	cacheKey := f.geocodeCacheKey(query, tier, explicitProviderID)
	if cached := f.getFromCache(ctx, cacheKey); cached != nil {
		return cached, nil
	}

	result, err := f.cascade(ctx, tier, explicitProviderID, func(callCtx context.Context, g providers.Geocoder, secret string) (*providers.GeocodeResult, error) {
		return g.Geocode(callCtx, query, secret)
	})
	if err != nil {
		return nil, err
	}

	f.setCache(ctx, cacheKey, result)
	return result, nil
}

// ReverseGeocode resolves coordinates to an address through the same cascade.
func (f *Facade) ReverseGeocode(ctx context.Context, coord providers.Coordinate, tier, explicitProviderID string) (*providers.GeocodeResult, error) {
	cacheKey := f.reverseCacheKey(coord, tier, explicitProviderID)
	if cached := f.getFromCache(ctx, cacheKey); cached != nil {
		return cached, nil
	}

	result, err := f.cascade(ctx, tier, explicitProviderID, func(callCtx context.Context, g providers.Geocoder, secret string) (*providers.GeocodeResult, error) {
		return g.ReverseGeocode(callCtx, coord, secret)
	})
	if err != nil {
		return nil, err
	}

	f.setCache(ctx, cacheKey, result)
	return result, nil
}

// BreakerStates reports the current circuit state per provider for status
// snapshots. Providers that were never called are absent.
func (f *Facade) BreakerStates() map[string]string {
	f.breakerMu.Lock()
	defer f.breakerMu.Unlock()

	states := make(map[string]string, len(f.breakers))
	for id, breaker := range f.breakers {
		states[id] = breaker.State()
	}
	return states
}

type providerCall func(ctx context.Context, g providers.Geocoder, secret string) (*providers.GeocodeResult, error)

// cascade walks the eligible candidate set in strategy order until one
// provider succeeds. Credentials are snapshotted once before the first
// selection; a rotation landing mid-request does not change the secrets this
// request uses. No shared lock is held while a provider call is in flight.
func (f *Facade) cascade(ctx context.Context, tier, explicitProviderID string, call providerCall) (*providers.GeocodeResult, error) {
	candidates, err := f.resolver.Candidates(tier, explicitProviderID)
	if err != nil {
		return nil, err
	}

	remaining := make([]providers.Provider, 0, len(candidates))
	for _, p := range candidates {
		if p.GeocodeCapability {
			remaining = append(remaining, p)
		}
	}
	if len(remaining) == 0 {
		return nil, fmt.Errorf("%w: no geocode-capable provider in tier %s", entitlement.ErrNoEligibleProvider, tier)
	}

	snapshot := f.credentials.Snapshot()
	kind := f.engine.Kind()
	timeout := f.cfg.GeocodeTimeout()

	reasons := make([]string, 0, len(remaining))
	firstSelection := true

	for len(remaining) > 0 {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %v", ErrCancelled, ctx.Err())
		}

		selected, err := f.selectNext(kind, tier, &remaining, firstSelection)
		if err != nil {
			return nil, err
		}
		firstSelection = false

		result, callErr := f.execute(ctx, selected, snapshot[selected.ID], timeout, call)
		if callErr == nil {
			return result, nil
		}

		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %v", ErrCancelled, ctx.Err())
		}

		reasons = append(reasons, failureReason(selected.ID, callErr, timeout))
		logger.WarnContext(ctx, "geocode provider failed",
			zap.String("provider", selected.ID),
			zap.String("tier", tier),
			zap.String("reason", failureReason(selected.ID, callErr, timeout)),
		)
	}

	return nil, &UnavailableError{Reasons: reasons}
}

// selectNext pops the next candidate according to the active strategy. For
// round-robin the engine is consulted once to pick the starting point and the
// request then walks the ring; failover and weighted re-invoke the engine
// over the shrinking set.
func (f *Facade) selectNext(kind strategy.Kind, tier string, remaining *[]providers.Provider, first bool) (providers.Provider, error) {
	set := *remaining

	if kind == strategy.KindRoundRobin {
		if first {
			selected, err := f.engine.Select(tier, set)
			if err != nil {
				return providers.Provider{}, err
			}
			for i, p := range set {
				if p.ID == selected.ID {
					// Rotate the ring so the walk starts at the selection.
					*remaining = append(append([]providers.Provider{}, set[i+1:]...), set[:i]...)
					return selected, nil
				}
			}
		}
		selected := set[0]
		*remaining = set[1:]
		return selected, nil
	}

	selected, err := f.engine.Select(tier, set)
	if err != nil {
		return providers.Provider{}, err
	}

	next := make([]providers.Provider, 0, len(set)-1)
	for _, p := range set {
		if p.ID != selected.ID {
			next = append(next, p)
		}
	}
	*remaining = next
	return selected, nil
}

// execute runs one provider call under its circuit breaker with a bounded
// timeout.
func (f *Facade) execute(ctx context.Context, p providers.Provider, secret string, timeout time.Duration, call providerCall) (*providers.GeocodeResult, error) {
	geocoder := f.geocoderFor(p.ID)
	if geocoder == nil {
		return nil, fmt.Errorf("%w: %s", providers.ErrGeocodeNotSupported, p.ID)
	}

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	operation := func(opCtx context.Context) (interface{}, error) {
		return call(opCtx, geocoder, secret)
	}

	breaker := f.breakerFor(p.ID)
	if breaker == nil {
		result, err := operation(callCtx)
		if err != nil {
			return nil, err
		}
		return result.(*providers.GeocodeResult), nil
	}

	result, err := breaker.Execute(callCtx, operation)
	if err != nil {
		return nil, err
	}
	return result.(*providers.GeocodeResult), nil
}

func (f *Facade) geocoderFor(providerID string) providers.Geocoder {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.geocoders[providerID]
}

func (f *Facade) breakerFor(providerID string) *resilience.CircuitBreaker {
	if !f.breakerCfg.Enabled {
		return nil
	}

	f.breakerMu.Lock()
	defer f.breakerMu.Unlock()

	if breaker, ok := f.breakers[providerID]; ok {
		return breaker
	}

	settings := f.breakerCfg.SettingsFor(providerID)
	breaker := resilience.NewCircuitBreaker(resilience.BuildSettings(
		"geocode:"+providerID,
		settings.IntervalSeconds,
		settings.TimeoutSeconds,
		settings.FailureThreshold,
		settings.SuccessThreshold,
	), nil)
	f.breakers[providerID] = breaker
	return breaker
}

// ========================================
// CACHING
// ========================================

func (f *Facade) geocodeCacheKey(query, tier, explicitProviderID string) string {
	data := fmt.Sprintf("geo:%s:%s:%s", strings.ToLower(strings.TrimSpace(query)), tier, explicitProviderID)
	return f.cfg.CachePrefix + hashKey(data)
}

func (f *Facade) reverseCacheKey(coord providers.Coordinate, tier, explicitProviderID string) string {
	data := fmt.Sprintf("rev:%.6f:%.6f:%s:%s", coord.Latitude, coord.Longitude, tier, explicitProviderID)
	return f.cfg.CachePrefix + hashKey(data)
}

func hashKey(data string) string {
	sum := sha256.Sum256([]byte(data))
	return hex.EncodeToString(sum[:])
}

func (f *Facade) getFromCache(ctx context.Context, key string) *providers.GeocodeResult {
	if f.cache == nil || !f.cfg.CacheEnabled {
		return nil
	}

	val, err := f.cache.GetString(ctx, key)
	if err != nil {
		return nil
	}

	var result providers.GeocodeResult
	if err := json.Unmarshal([]byte(val), &result); err != nil {
		return nil
	}
	return &result
}

func (f *Facade) setCache(ctx context.Context, key string, result *providers.GeocodeResult) {
	if f.cache == nil || !f.cfg.CacheEnabled {
		return
	}

	data, err := json.Marshal(result)
	if err != nil {
		return
	}

	ttl := time.Duration(f.cfg.CacheTTLHours) * time.Hour
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	_ = f.cache.SetWithExpiration(ctx, key, string(data), ttl)
}

package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/epimap/geodispatch/internal/entitlement"
	"github.com/epimap/geodispatch/internal/geocode"
	"github.com/epimap/geodispatch/internal/overlay"
	"github.com/epimap/geodispatch/internal/providers"
	"github.com/epimap/geodispatch/internal/strategy"
	"github.com/epimap/geodispatch/pkg/config"
	"github.com/epimap/geodispatch/pkg/eventbus"
	"github.com/epimap/geodispatch/pkg/logger"
)

// Service is the dispatch facade. It owns no provider logic of its own; it
// coordinates the registry, credential store, entitlement resolver, strategy
// engine, geocoding cascade and overlay builder behind one surface.
type Service struct {
	registry    *providers.Registry
	credentials *providers.CredentialStore
	resolver    *entitlement.Resolver
	engine      *strategy.Engine
	geocoder    *geocode.Facade
	overlays    *overlay.Builder
	bus         *eventbus.Bus
	cfg         *config.Config
}

// NewService wires the dispatch facade. bus may be nil when the event bus is
// disabled.
func NewService(
	registry *providers.Registry,
	credentials *providers.CredentialStore,
	resolver *entitlement.Resolver,
	engine *strategy.Engine,
	geocoder *geocode.Facade,
	overlays *overlay.Builder,
	bus *eventbus.Bus,
	cfg *config.Config,
) *Service {
	return &Service{
		registry:    registry,
		credentials: credentials,
		resolver:    resolver,
		engine:      engine,
		geocoder:    geocoder,
		overlays:    overlays,
		bus:         bus,
		cfg:         cfg,
	}
}

// ========================================
// ADMINISTRATIVE OPERATIONS
// ========================================

// GetStatus returns the operational snapshot: active strategy, per-provider
// health and the tier ladder.
func (s *Service) GetStatus() *Status {
	breakerStates := s.geocoder.BreakerStates()

	catalog := s.registry.List()
	health := make([]ProviderHealth, 0, len(catalog))
	for _, p := range catalog {
		state, ok := breakerStates[p.ID]
		if !ok {
			state = "closed"
		}
		health = append(health, ProviderHealth{
			ID:                   p.ID,
			DisplayName:          p.DisplayName,
			RequiresCredential:   p.RequiresCredential,
			CredentialConfigured: s.credentials.Satisfied(p),
			GeocodeCapability:    p.GeocodeCapability,
			BreakerState:         state,
		})
	}

	return &Status{
		ActiveStrategy: string(s.engine.Kind()),
		Providers:      health,
		Tiers:          s.resolver.Tiers(),
	}
}

// SetCredential rotates a provider secret. An empty secret clears the stored
// value and removes the provider from credential-gated eligibility.
func (s *Service) SetCredential(ctx context.Context, providerID, secret string) error {
	p, err := s.registry.Get(providerID)
	if err != nil {
		return err
	}

	if err := s.credentials.Set(p, secret); err != nil {
		return err
	}

	action := "set"
	if secret == "" {
		action = "cleared"
	}
	recordCredentialRotation(providerID, action)

	logger.InfoContext(ctx, "provider credential rotated",
		zap.String("provider", providerID),
		zap.String("action", action),
	)

	s.publish(ctx, eventbus.SubjectCredentialRotated, map[string]string{
		"provider_id": providerID,
		"action":      action,
	})
	return nil
}

// SetStrategy switches the active selection strategy.
func (s *Service) SetStrategy(ctx context.Context, name string) error {
	if err := s.engine.SetKind(name); err != nil {
		return err
	}

	recordStrategySwitch(name)
	logger.InfoContext(ctx, "selection strategy switched", zap.String("strategy", name))

	s.publish(ctx, eventbus.SubjectStrategyChanged, map[string]string{
		"strategy": name,
	})
	return nil
}

// ListTiers returns tier definitions with the resolved per-provider
// configured flag.
func (s *Service) ListTiers() []entitlement.TierInfo {
	return s.resolver.Tiers()
}

// AddProvider registers a provider at runtime. The new provider joins
// selections that start after registration completes.
func (s *Service) AddProvider(ctx context.Context, spec AddProviderSpec) error {
	p := providers.Provider{
		ID:                 spec.ID,
		DisplayName:        spec.DisplayName,
		RequiresCredential: spec.RequiresCredential,
		TileURLTemplate:    spec.TileURLTemplate,
		GeocodeCapability:  spec.GeocodeCapability,
		GeocodeBaseURL:     spec.GeocodeBaseURL,
		Styles:             spec.Styles,
	}

	// Tier membership is checked up front so a bad tier list cannot leave a
	// half-attached provider behind in the registry.
	for _, tier := range spec.Tiers {
		if !s.resolver.Exists(tier) {
			return fmt.Errorf("%w: %s", entitlement.ErrUnknownTier, tier)
		}
	}

	if err := s.registry.Add(p); err != nil {
		return err
	}

	if p.GeocodeCapability {
		if g, err := providers.NewGeocoder(p, s.cfg.Dispatch.GeocodeTimeout()); err == nil {
			s.geocoder.RegisterGeocoder(p.ID, g)
		}
	}

	for _, tier := range spec.Tiers {
		if err := s.resolver.Attach(tier, p.ID); err != nil {
			return err
		}
	}

	logger.InfoContext(ctx, "provider registered",
		zap.String("provider", p.ID),
		zap.Strings("tiers", spec.Tiers),
	)

	s.publish(ctx, eventbus.SubjectProviderAdded, map[string]interface{}{
		"provider_id": p.ID,
		"tiers":       spec.Tiers,
	})
	return nil
}

// ========================================
// PUBLIC DATA OPERATIONS
// ========================================

// GetMapConfig resolves the map configuration for a tier: the chosen
// provider, its tile template and the effective style.
func (s *Service) GetMapConfig(tier, explicitProviderID, style string) (*MapConfig, error) {
	candidates, err := s.resolver.Candidates(tier, explicitProviderID)
	if err != nil {
		return nil, err
	}

	selected, err := s.engine.Select(tier, candidates)
	if err != nil {
		return nil, err
	}

	resolvedStyle := style
	if resolvedStyle == "" {
		resolvedStyle = selected.DefaultStyle()
	} else if !selected.SupportsStyle(resolvedStyle) {
		return nil, providers.ErrUnsupportedStyle
	}

	recordSelection(selected.ID, tier)

	return &MapConfig{
		ProviderID:      selected.ID,
		DisplayName:     selected.DisplayName,
		TileURLTemplate: selected.TileURLTemplate,
		Style:           resolvedStyle,
		Styles:          selected.Styles,
	}, nil
}

// ResolveTileURL expands a provider's tile template. Pure aside from the
// registry and credential lookups; no network access.
func (s *Service) ResolveTileURL(providerID string, req providers.TileRequest) (*TileURL, error) {
	p, err := s.registry.Get(providerID)
	if err != nil {
		return nil, err
	}

	secret, _ := s.credentials.Get(providerID)
	url, err := providers.ResolveTileURL(p, req, secret)
	if err != nil {
		return nil, err
	}

	return &TileURL{ProviderID: providerID, URL: url}, nil
}

// Geocode resolves an address through the provider cascade for a tier.
func (s *Service) Geocode(ctx context.Context, query, tier, explicitProviderID string) (*providers.GeocodeResult, error) {
	started := time.Now()

	result, err := s.geocoder.Geocode(ctx, query, tier, explicitProviderID)
	recordGeocode(tier, geocodeOutcome(err), started)
	if err != nil {
		return nil, err
	}

	recordSelection(result.ProviderID, tier)
	return result, nil
}

// ReverseGeocode resolves coordinates to an address through the same cascade.
func (s *Service) ReverseGeocode(ctx context.Context, coord providers.Coordinate, tier, explicitProviderID string) (*providers.GeocodeResult, error) {
	started := time.Now()

	result, err := s.geocoder.ReverseGeocode(ctx, coord, tier, explicitProviderID)
	recordGeocode(tier, geocodeOutcome(err), started)
	if err != nil {
		return nil, err
	}

	recordSelection(result.ProviderID, tier)
	return result, nil
}

// GetDiseaseOverlay builds the classified marker overlay for a disease.
func (s *Service) GetDiseaseOverlay(ctx context.Context, diseaseCode string, h3Resolution int) (*overlay.Overlay, error) {
	built, err := s.overlays.Build(ctx, diseaseCode, h3Resolution)
	if err != nil {
		return nil, err
	}

	recordOverlay(diseaseCode, len(built.Markers))
	return built, nil
}

// ========================================
// INTERNAL
// ========================================

func geocodeOutcome(err error) string {
	switch {
	case err == nil:
		return outcomeSuccess
	case errors.Is(err, geocode.ErrCancelled):
		return outcomeCancelled
	case errors.Is(err, geocode.ErrAllProvidersExhausted):
		return outcomeUnavailable
	case errors.Is(err, entitlement.ErrEntitlementDenied):
		return outcomeDenied
	case errors.Is(err, entitlement.ErrNoEligibleProvider):
		return outcomeNoProvider
	default:
		return outcomeError
	}
}

// publish sends a configuration event when the bus is enabled. Event payloads
// carry identifiers only, never secrets.
func (s *Service) publish(ctx context.Context, subject string, data interface{}) {
	if s.bus == nil {
		return
	}

	event, err := eventbus.NewEvent(subject, s.cfg.Server.ServiceName, data)
	if err != nil {
		logger.WarnContext(ctx, "failed to build config event", zap.String("subject", subject), zap.Error(err))
		return
	}

	if err := s.bus.Publish(ctx, subject, event); err != nil {
		logger.WarnContext(ctx, "failed to publish config event", zap.String("subject", subject), zap.Error(err))
	}
}

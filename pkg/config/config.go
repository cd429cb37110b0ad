package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	Server     ServerConfig
	Redis      RedisConfig
	Database   DatabaseConfig
	Dispatch   DispatchConfig
	Overlay    OverlayConfig
	RateLimit  RateLimitConfig
	Resilience ResilienceConfig
	NATS       NATSConfig
}

// ServerConfig holds server-specific configuration
type ServerConfig struct {
	Port         string
	Environment  string
	ServiceName  string
	ReadTimeout  int
	WriteTimeout int
	CORSOrigins  string // Comma-separated list of allowed origins
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
}

// DatabaseConfig holds the surveillance database configuration
type DatabaseConfig struct {
	Enabled  bool
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
	MaxConns int
	MinConns int
}

// ProviderConfig describes one map-data provider in the catalog.
type ProviderConfig struct {
	ID                 string   `json:"id"`
	DisplayName        string   `json:"display_name"`
	RequiresCredential bool     `json:"requires_credential"`
	TileURLTemplate    string   `json:"tile_url_template"`
	GeocodeCapability  bool     `json:"geocode_capability"`
	GeocodeBaseURL     string   `json:"geocode_base_url,omitempty"`
	Styles             []string `json:"styles,omitempty"`
}

// TierConfig describes one subscription tier. Provider order encodes
// failover preference.
type TierConfig struct {
	Name               string   `json:"name"`
	AllowedProviderIDs []string `json:"allowed_provider_ids"`
	RateLimit          int      `json:"rate_limit"`
	RateBurst          int      `json:"rate_burst"`
}

// DispatchConfig groups the provider catalog, tier entitlements, and the
// selection strategy seed state.
type DispatchConfig struct {
	Providers             []ProviderConfig
	Tiers                 []TierConfig
	Credentials           map[string]string // providerId -> secret, seeded at boot
	Strategy              string            // failover, round_robin, weighted
	Weights               map[string]int    // providerId -> positive weight
	GeocodeTimeoutSeconds int
	CacheEnabled          bool
	CacheTTLHours         int
	CachePrefix           string
}

// OverlayConfig tunes severity classification and marker aggregation.
type OverlayConfig struct {
	// Rate-per-100k boundaries. A rate below LowMax is low, a rate up to and
	// including ModerateMax is moderate, anything above is high.
	LowMax      float64
	ModerateMax float64
	// DiseaseOverrides allows per-disease threshold tuning.
	DiseaseOverrides map[string]SeverityThresholds
	// H3Resolution used when callers ask for cell aggregation. 0 disables.
	H3Resolution int
}

// SeverityThresholds overrides the default classification boundaries.
type SeverityThresholds struct {
	LowMax      float64 `json:"low_max"`
	ModerateMax float64 `json:"moderate_max"`
}

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	Enabled       bool
	WindowSeconds int
	DefaultLimit  int
	DefaultBurst  int
	RedisPrefix   string
}

// ResilienceConfig groups runtime resilience controls
type ResilienceConfig struct {
	CircuitBreaker CircuitBreakerConfig
}

// CircuitBreakerConfig captures default and per-provider breaker tuning
type CircuitBreakerConfig struct {
	Enabled           bool
	FailureThreshold  int
	SuccessThreshold  int
	TimeoutSeconds    int
	IntervalSeconds   int
	ProviderOverrides map[string]CircuitBreakerSettings
}

// CircuitBreakerSettings overrides defaults for a specific provider
type CircuitBreakerSettings struct {
	FailureThreshold int `json:"failure_threshold"`
	SuccessThreshold int `json:"success_threshold"`
	TimeoutSeconds   int `json:"timeout_seconds"`
	IntervalSeconds  int `json:"interval_seconds"`
}

// NATSConfig holds the optional configuration event bus settings
type NATSConfig struct {
	Enabled bool
	URL     string
	Name    string
}

// Load loads configuration from environment variables
func Load(serviceName string) (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	cfg := &Config{
		Server: ServerConfig{
			Port:         getEnv("PORT", "8080"),
			Environment:  getEnv("ENVIRONMENT", "development"),
			ServiceName:  serviceName,
			ReadTimeout:  getEnvAsInt("READ_TIMEOUT", 10),
			WriteTimeout: getEnvAsInt("WRITE_TIMEOUT", 10),
			CORSOrigins:  getEnv("CORS_ORIGINS", "http://localhost:3000"),
		},
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnv("REDIS_PORT", "6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		Database: DatabaseConfig{
			Enabled:  getEnvAsBool("SURVEILLANCE_DB_ENABLED", false),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			DBName:   getEnv("DB_NAME", "surveillance"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
			MaxConns: getEnvAsInt("DB_MAX_CONNS", 25),
			MinConns: getEnvAsInt("DB_MIN_CONNS", 5),
		},
		Dispatch: DispatchConfig{
			Strategy:              getEnv("DISPATCH_STRATEGY", "failover"),
			GeocodeTimeoutSeconds: getEnvAsInt("GEOCODE_TIMEOUT_SECONDS", 5),
			CacheEnabled:          getEnvAsBool("GEOCODE_CACHE_ENABLED", true),
			CacheTTLHours:         getEnvAsInt("GEOCODE_CACHE_TTL_HOURS", 24),
			CachePrefix:           getEnv("GEOCODE_CACHE_PREFIX", "geodispatch:"),
		},
		Overlay: OverlayConfig{
			LowMax:       getEnvAsFloat("SEVERITY_LOW_MAX", 50),
			ModerateMax:  getEnvAsFloat("SEVERITY_MODERATE_MAX", 200),
			H3Resolution: getEnvAsInt("OVERLAY_H3_RESOLUTION", 0),
		},
		RateLimit: RateLimitConfig{
			Enabled:       getEnvAsBool("RATE_LIMIT_ENABLED", false),
			WindowSeconds: getEnvAsInt("RATE_LIMIT_WINDOW_SECONDS", 60),
			DefaultLimit:  getEnvAsInt("RATE_LIMIT_DEFAULT_LIMIT", 120),
			DefaultBurst:  getEnvAsInt("RATE_LIMIT_DEFAULT_BURST", 40),
			RedisPrefix:   getEnv("RATE_LIMIT_REDIS_PREFIX", "rate-limit"),
		},
		Resilience: ResilienceConfig{
			CircuitBreaker: CircuitBreakerConfig{
				Enabled:          getEnvAsBool("CB_ENABLED", false),
				FailureThreshold: getEnvAsInt("CB_FAILURE_THRESHOLD", 5),
				SuccessThreshold: getEnvAsInt("CB_SUCCESS_THRESHOLD", 1),
				TimeoutSeconds:   getEnvAsInt("CB_TIMEOUT_SECONDS", 30),
				IntervalSeconds:  getEnvAsInt("CB_INTERVAL_SECONDS", 60),
			},
		},
		NATS: NATSConfig{
			Enabled: getEnvAsBool("NATS_ENABLED", false),
			URL:     getEnv("NATS_URL", "nats://localhost:4222"),
			Name:    getEnv("NATS_CLIENT_NAME", serviceName),
		},
	}

	if providers := getEnv("PROVIDERS", ""); providers != "" {
		if err := json.Unmarshal([]byte(providers), &cfg.Dispatch.Providers); err != nil {
			return nil, fmt.Errorf("invalid PROVIDERS value: %w", err)
		}
	} else {
		cfg.Dispatch.Providers = DefaultProviders()
	}

	if tiers := getEnv("TIERS", ""); tiers != "" {
		if err := json.Unmarshal([]byte(tiers), &cfg.Dispatch.Tiers); err != nil {
			return nil, fmt.Errorf("invalid TIERS value: %w", err)
		}
	} else {
		cfg.Dispatch.Tiers = DefaultTiers()
	}

	if creds := getEnv("PROVIDER_CREDENTIALS", ""); creds != "" {
		if err := json.Unmarshal([]byte(creds), &cfg.Dispatch.Credentials); err != nil {
			return nil, fmt.Errorf("invalid PROVIDER_CREDENTIALS value: %w", err)
		}
	}

	if weights := getEnv("STRATEGY_WEIGHTS", ""); weights != "" {
		if err := json.Unmarshal([]byte(weights), &cfg.Dispatch.Weights); err != nil {
			return nil, fmt.Errorf("invalid STRATEGY_WEIGHTS value: %w", err)
		}
	}

	if overrides := getEnv("SEVERITY_OVERRIDES", ""); overrides != "" {
		var diseaseOverrides map[string]SeverityThresholds
		if err := json.Unmarshal([]byte(overrides), &diseaseOverrides); err != nil {
			return nil, fmt.Errorf("invalid SEVERITY_OVERRIDES value: %w", err)
		}
		cfg.Overlay.DiseaseOverrides = diseaseOverrides
	}

	if breakerOverrides := getEnv("CB_PROVIDER_OVERRIDES", ""); breakerOverrides != "" {
		var providerConfig map[string]CircuitBreakerSettings
		if err := json.Unmarshal([]byte(breakerOverrides), &providerConfig); err != nil {
			return nil, fmt.Errorf("invalid CB_PROVIDER_OVERRIDES value: %w", err)
		}
		cfg.Resilience.CircuitBreaker.ProviderOverrides = providerConfig
	}

	if cfg.Dispatch.GeocodeTimeoutSeconds <= 0 {
		cfg.Dispatch.GeocodeTimeoutSeconds = 5
	}

	if cfg.Overlay.ModerateMax <= cfg.Overlay.LowMax {
		return nil, fmt.Errorf("severity thresholds out of order: low max %.1f >= moderate max %.1f",
			cfg.Overlay.LowMax, cfg.Overlay.ModerateMax)
	}

	return cfg, nil
}

// DefaultProviders returns the provider catalog shipped with the service so
// it can boot without environment configuration.
func DefaultProviders() []ProviderConfig {
	return []ProviderConfig{
		{
			ID:                 "osm",
			DisplayName:        "OpenStreetMap",
			RequiresCredential: false,
			TileURLTemplate:    "https://tile.openstreetmap.org/{z}/{x}/{y}.png",
			GeocodeCapability:  true,
			GeocodeBaseURL:     "https://nominatim.openstreetmap.org",
			Styles:             []string{"standard"},
		},
		{
			ID:                 "mapbox",
			DisplayName:        "Mapbox",
			RequiresCredential: true,
			TileURLTemplate:    "https://api.mapbox.com/styles/v1/mapbox/{style}/tiles/{z}/{x}/{y}?access_token={key}",
			GeocodeCapability:  true,
			GeocodeBaseURL:     "https://api.mapbox.com",
			Styles:             []string{"streets-v12", "dark-v11", "satellite-v9"},
		},
		{
			ID:                 "google",
			DisplayName:        "Google Maps",
			RequiresCredential: true,
			TileURLTemplate:    "https://mt1.google.com/vt/lyrs={style}&z={z}&x={x}&y={y}&key={key}",
			GeocodeCapability:  true,
			GeocodeBaseURL:     "https://maps.googleapis.com/maps/api",
			Styles:             []string{"m", "s", "y"},
		},
	}
}

// DefaultTiers returns the subscription tiers shipped with the service.
func DefaultTiers() []TierConfig {
	return []TierConfig{
		{Name: "free", AllowedProviderIDs: []string{"osm"}, RateLimit: 60, RateBurst: 20},
		{Name: "enhanced", AllowedProviderIDs: []string{"mapbox", "osm"}, RateLimit: 300, RateBurst: 60},
		{Name: "premium", AllowedProviderIDs: []string{"google", "mapbox", "osm"}, RateLimit: 1200, RateBurst: 120},
	}
}

// SettingsFor returns effective breaker settings for a specific provider
func (c CircuitBreakerConfig) SettingsFor(providerID string) CircuitBreakerSettings {
	settings := CircuitBreakerSettings{
		FailureThreshold: c.FailureThreshold,
		SuccessThreshold: c.SuccessThreshold,
		TimeoutSeconds:   c.TimeoutSeconds,
		IntervalSeconds:  c.IntervalSeconds,
	}

	if c.ProviderOverrides != nil {
		if override, ok := c.ProviderOverrides[providerID]; ok {
			if override.FailureThreshold > 0 {
				settings.FailureThreshold = override.FailureThreshold
			}
			if override.SuccessThreshold > 0 {
				settings.SuccessThreshold = override.SuccessThreshold
			}
			if override.TimeoutSeconds > 0 {
				settings.TimeoutSeconds = override.TimeoutSeconds
			}
			if override.IntervalSeconds > 0 {
				settings.IntervalSeconds = override.IntervalSeconds
			}
		}
	}

	if settings.SuccessThreshold <= 0 {
		settings.SuccessThreshold = 1
	}
	if settings.FailureThreshold <= 0 {
		settings.FailureThreshold = 5
	}
	if settings.TimeoutSeconds <= 0 {
		settings.TimeoutSeconds = 30
	}
	if settings.IntervalSeconds <= 0 {
		settings.IntervalSeconds = 60
	}

	return settings
}

// ThresholdsFor returns the effective severity thresholds for a disease code.
func (c OverlayConfig) ThresholdsFor(diseaseCode string) SeverityThresholds {
	if c.DiseaseOverrides != nil {
		if override, ok := c.DiseaseOverrides[diseaseCode]; ok {
			if override.LowMax > 0 && override.ModerateMax > override.LowMax {
				return override
			}
		}
	}
	return SeverityThresholds{LowMax: c.LowMax, ModerateMax: c.ModerateMax}
}

// DSN returns the database connection string
func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode,
	)
}

// RedisAddr returns the Redis address
func (c *RedisConfig) RedisAddr() string {
	return fmt.Sprintf("%s:%s", c.Host, c.Port)
}

// GeocodeTimeout returns the per-provider geocode call timeout.
func (c DispatchConfig) GeocodeTimeout() time.Duration {
	return time.Duration(c.GeocodeTimeoutSeconds) * time.Second
}

// Window returns the configured rate limit window duration
func (c RateLimitConfig) Window() time.Duration {
	if c.WindowSeconds <= 0 {
		return time.Minute
	}
	return time.Duration(c.WindowSeconds) * time.Second
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/epimap/geodispatch/internal/dispatch"
	"github.com/epimap/geodispatch/internal/entitlement"
	"github.com/epimap/geodispatch/internal/geocode"
	"github.com/epimap/geodispatch/internal/overlay"
	"github.com/epimap/geodispatch/internal/providers"
	"github.com/epimap/geodispatch/internal/strategy"
	"github.com/epimap/geodispatch/pkg/common"
	"github.com/epimap/geodispatch/pkg/config"
	"github.com/epimap/geodispatch/pkg/database"
	"github.com/epimap/geodispatch/pkg/eventbus"
	"github.com/epimap/geodispatch/pkg/logger"
	"github.com/epimap/geodispatch/pkg/middleware"
	"github.com/epimap/geodispatch/pkg/ratelimit"
	redisClient "github.com/epimap/geodispatch/pkg/redis"
	"github.com/epimap/geodispatch/pkg/tracing"
)

const (
	serviceName = "dispatch-service"
	version     = "1.0.0"
)

func main() {
	cfg, err := config.Load(serviceName)
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	if err := logger.Init(cfg.Server.Environment); err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	defer logger.Sync()

	logger.Info("Starting dispatch service",
		zap.String("service", serviceName),
		zap.String("version", version),
	)

	// Initialize OpenTelemetry tracer
	tracerEnabled := os.Getenv("OTEL_ENABLED") == "true"
	if tracerEnabled {
		sampleRate := 1.0
		if raw := os.Getenv("OTEL_SAMPLE_RATE"); raw != "" {
			if parsed, err := strconv.ParseFloat(raw, 64); err == nil {
				sampleRate = parsed
			}
		}
		tracerCfg := tracing.Config{
			ServiceName:    serviceName,
			ServiceVersion: version,
			Environment:    cfg.Server.Environment,
			OTLPEndpoint:   os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
			SampleRate:     sampleRate,
			Enabled:        true,
		}

		tp, err := tracing.InitTracer(tracerCfg, logger.Get())
		if err != nil {
			logger.Warn("Failed to initialize tracer, continuing without tracing", zap.Error(err))
			tracerEnabled = false
		} else {
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := tp.Shutdown(shutdownCtx); err != nil {
					logger.Warn("Failed to shutdown tracer", zap.Error(err))
				}
			}()
			logger.Info("OpenTelemetry tracing initialized")
		}
	}

	redis, err := redisClient.NewClient(&cfg.Redis)
	if err != nil {
		logger.Warn("Redis unavailable, geocode caching and rate limiting disabled", zap.Error(err))
		redis = nil
	} else {
		defer redis.Close()
		logger.Info("Connected to Redis")
	}

	// Provider catalog and tier entitlements
	registry, err := providers.NewRegistry(cfg.Dispatch.Providers)
	if err != nil {
		logger.Fatal("Invalid provider catalog", zap.Error(err))
	}

	credentials := providers.NewCredentialStore(cfg.Dispatch.Credentials)

	resolver, err := entitlement.NewResolver(cfg.Dispatch.Tiers, registry, credentials)
	if err != nil {
		logger.Fatal("Invalid tier configuration", zap.Error(err))
	}

	engine, err := strategy.NewEngine(cfg.Dispatch.Strategy, cfg.Dispatch.Weights)
	if err != nil {
		logger.Fatal("Invalid selection strategy", zap.Error(err))
	}
	logger.Info("Selection strategy active", zap.String("strategy", cfg.Dispatch.Strategy))

	geocoders := providers.BuildGeocoders(registry.List(), cfg.Dispatch.GeocodeTimeout())

	var cache redisClient.ClientInterface
	if redis != nil && cfg.Dispatch.CacheEnabled {
		cache = redis
	}
	facade := geocode.NewFacade(resolver, engine, credentials, geocoders, cache, cfg.Dispatch, cfg.Resilience.CircuitBreaker)
	if cfg.Resilience.CircuitBreaker.Enabled {
		logger.Info("Circuit breakers enabled for geocoding providers")
	}

	// Surveillance overlay source: Postgres when configured, otherwise an
	// in-memory source optionally seeded from a JSON file.
	var source overlay.Source
	if cfg.Database.Enabled {
		pool, err := database.NewPostgresPool(&cfg.Database)
		if err != nil {
			logger.Fatal("Failed to connect to surveillance database", zap.Error(err))
		}
		defer database.Close(pool)
		logger.Info("Connected to surveillance database")
		source = overlay.NewPostgresSource(pool)
	} else {
		var rows []overlay.SurveillanceRow
		if seedPath := os.Getenv("OVERLAY_SEED_FILE"); seedPath != "" {
			data, err := os.ReadFile(seedPath)
			if err != nil {
				logger.Fatal("Failed to read overlay seed file", zap.Error(err))
			}
			if err := json.Unmarshal(data, &rows); err != nil {
				logger.Fatal("Failed to parse overlay seed file", zap.Error(err))
			}
			logger.Info("Loaded surveillance seed data", zap.Int("rows", len(rows)))
		}
		source = overlay.NewMemorySource(rows)
	}
	builder := overlay.NewBuilder(source, cfg.Overlay)

	var bus *eventbus.Bus
	if cfg.NATS.Enabled {
		bus, err = eventbus.New(cfg.NATS)
		if err != nil {
			logger.Warn("NATS unavailable, configuration events disabled", zap.Error(err))
		} else {
			defer bus.Close()
			logger.Info("Connected to NATS", zap.String("url", cfg.NATS.URL))
		}
	}

	service := dispatch.NewService(registry, credentials, resolver, engine, facade, builder, bus, cfg)
	handler := dispatch.NewHandler(service)

	if cfg.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.HandleMethodNotAllowed = true
	router.NoRoute(common.NoRouteHandler())
	router.NoMethod(common.NoMethodHandler())
	router.Use(gin.Recovery())
	router.Use(middleware.CorrelationID())
	router.Use(middleware.RequestTimeout(time.Duration(cfg.Server.ReadTimeout) * time.Second))
	router.Use(middleware.RequestLogger(serviceName))
	router.Use(middleware.CORS())
	router.Use(middleware.Metrics(serviceName))

	if tracerEnabled {
		router.Use(middleware.Tracing(serviceName))
	}

	if cfg.RateLimit.Enabled && redis != nil {
		limiter := ratelimit.NewLimiter(redis.Client, cfg.RateLimit, cfg.Dispatch.Tiers)
		router.Use(middleware.RateLimit(limiter, cfg.RateLimit))
		logger.Info("Rate limiting enabled")
	}

	// Health check endpoints
	router.GET("/healthz", common.HealthCheck(serviceName, version))
	router.GET("/health/live", common.LivenessProbe(serviceName, version))

	healthChecks := make(map[string]func() error)
	if redis != nil {
		healthChecks["redis"] = func() error {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return redis.Ping(ctx).Err()
		}
	}
	router.GET("/health/ready", common.ReadinessProbe(serviceName, version, healthChecks))

	router.GET("/version", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"service": serviceName, "version": version})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/api/v1")
	handler.RegisterRoutes(api)

	admin := api.Group("/admin")
	admin.Use(middleware.InternalAPIKey())
	handler.RegisterAdminRoutes(admin)

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	go func() {
		logger.Info("Server starting", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Fatal("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Server stopped")
}

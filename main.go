package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/switchboard-ai/switchboard/internal/catalog"
	"github.com/switchboard-ai/switchboard/internal/circuitbreaker"
	"github.com/switchboard-ai/switchboard/internal/config"
	"github.com/switchboard-ai/switchboard/internal/coordinator"
	"github.com/switchboard-ai/switchboard/internal/guardrail"
	"github.com/switchboard-ai/switchboard/internal/handoff"
	"github.com/switchboard-ai/switchboard/internal/health"
	"github.com/switchboard-ai/switchboard/internal/httpapi"
	"github.com/switchboard-ai/switchboard/internal/intent"
	"github.com/switchboard-ai/switchboard/internal/registry"
	"github.com/switchboard-ai/switchboard/internal/session"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load configuration", zap.Error(err))
	}

	circuitbreaker.StartMetricsCollection()

	// Metrics server comes up first so scrapes succeed during startup.
	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsServer := startServer(fmt.Sprintf(":%d", cfg.Observability.MetricsPort), metricsMux, "metrics", logger)

	reg, err := registry.Load(cfg.Registry.AgentsFile)
	if err != nil {
		logger.Fatal("Failed to load agent registry", zap.Error(err))
	}
	logger.Info("Agent registry loaded", zap.Int("categories", len(reg.Categories())))

	sessions, err := session.NewStore(cfg.Session.RedisAddr, session.Options{
		TTL:          time.Duration(cfg.Session.TTLHours) * time.Hour,
		MaxCached:    cfg.Session.MaxCached,
		HistoryLimit: cfg.Session.HistoryLimit,
	}, logger)
	if err != nil {
		logger.Fatal("Failed to connect session store", zap.Error(err))
	}
	defer sessions.Close()

	listing := catalog.NewHTTPListingClient(cfg.Catalog.ListingURL,
		time.Duration(cfg.Catalog.TimeoutMs)*time.Millisecond, logger)
	cat := catalog.New(listing, reg, cfg.CatalogTTL(), cfg.Catalog.RefreshRatePerMin, logger)

	// Warm the catalog; a failure here is survivable, the first message or
	// an explicit refresh will retry.
	warmCtx, warmCancel := context.WithTimeout(ctx, 15*time.Second)
	if _, err := cat.Refresh(warmCtx, false); err != nil {
		logger.Warn("Initial catalog refresh failed", zap.Error(err))
	}
	warmCancel()

	gate, err := buildGate(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize guardrail gate", zap.Error(err))
	}

	modelClient := intent.NewHTTPModelClient(cfg.Classifier.BaseURL,
		time.Duration(cfg.Classifier.TimeoutMs)*time.Millisecond, logger)
	classifier := intent.NewClassifier(modelClient, reg, cfg.Classifier.MinConfidence, logger)

	manager := handoff.NewManager(
		handoff.NewStore(cfg.Engine.RecordHistoryLimit),
		handoff.NewResolver(cat, reg, cfg.Engine.MaxFallbackDepth, logger),
		handoff.NewExecutor(cfg.WebhookTimeout(), logger),
		sessions,
		logger,
	)

	coord := coordinator.New(gate, classifier, cat, reg, sessions, manager,
		cfg.Engine.HandoffConfidenceThreshold, logger)

	// Health manager with periodic checks on the Redis backend and the
	// catalog snapshot.
	hm := health.NewManager(15*time.Second, logger)
	_ = hm.Register(health.NewRedisChecker(sessions.Redis()))
	_ = hm.Register(health.NewCatalogChecker(cat))
	hm.Start(ctx)
	defer hm.Stop()

	healthMux := http.NewServeMux()
	health.NewHandler(hm).Mount(healthMux)
	healthServer := startServer(fmt.Sprintf(":%d", cfg.Observability.HealthPort), healthMux, "health", logger)

	apiMux := http.NewServeMux()
	httpapi.NewHandler(coord, logger).RegisterRoutes(apiMux)
	apiServer := startServer(fmt.Sprintf(":%d", cfg.API.Port), apiMux, "api", logger)

	logger.Info("Switchboard engine started",
		zap.Int("api_port", cfg.API.Port),
		zap.Int("health_port", cfg.Observability.HealthPort),
		zap.Int("metrics_port", cfg.Observability.MetricsPort),
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("Shutting down", zap.String("signal", sig.String()))
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	for _, srv := range []*http.Server{apiServer, healthServer, metricsServer} {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Server shutdown error", zap.Error(err))
		}
	}
	logger.Info("Shutdown complete")
}

// buildGate selects the guardrail implementation from configuration. The OPA
// provider also starts the policy file watcher for hot reload.
func buildGate(ctx context.Context, cfg *config.Config, logger *zap.Logger) (guardrail.Gate, error) {
	mode := guardrail.Mode(cfg.Guardrail.Mode)
	if mode == guardrail.ModeOff {
		logger.Info("Guardrail gate disabled")
		return guardrail.NoopGate{}, nil
	}

	switch cfg.Guardrail.Provider {
	case "http":
		if cfg.Guardrail.HTTPURL == "" {
			return nil, fmt.Errorf("guardrail provider %q requires http_url", cfg.Guardrail.Provider)
		}
		return guardrail.NewHTTPGate(cfg.Guardrail.HTTPURL, mode, cfg.Guardrail.FailClosed,
			time.Duration(cfg.Guardrail.TimeoutMs)*time.Millisecond, logger), nil
	case "opa":
		gate, err := guardrail.NewOPAGate(guardrail.Config{
			Mode:       mode,
			PolicyPath: cfg.Guardrail.PolicyPath,
			FailClosed: cfg.Guardrail.FailClosed,
		}, logger)
		if err != nil {
			return nil, err
		}
		if err := gate.WatchPolicies(ctx); err != nil {
			logger.Warn("Guardrail policy watcher unavailable", zap.Error(err))
		}
		return gate, nil
	default:
		return nil, fmt.Errorf("unknown guardrail provider %q", cfg.Guardrail.Provider)
	}
}

func startServer(addr string, handler http.Handler, name string, logger *zap.Logger) *http.Server {
	srv := &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		logger.Info("HTTP server listening", zap.String("server", name), zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server failed", zap.String("server", name), zap.Error(err))
		}
	}()
	return srv
}

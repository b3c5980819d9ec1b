package main

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/getkin/kin-openapi/openapi3"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	oapimiddleware "github.com/oapi-codegen/nethttp-middleware"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	subscriptionsservice "github.com/nekazari/odoo-bridge/domains/subscriptions/be/service"
	synchandler "github.com/nekazari/odoo-bridge/domains/sync/be/handler"
	syncrepo "github.com/nekazari/odoo-bridge/domains/sync/be/repo"
	syncservice "github.com/nekazari/odoo-bridge/domains/sync/be/service"
	tenantshandler "github.com/nekazari/odoo-bridge/domains/tenants/be/handler"
	tenantsrepo "github.com/nekazari/odoo-bridge/domains/tenants/be/repo"
	tenantsservice "github.com/nekazari/odoo-bridge/domains/tenants/be/service"
	"github.com/nekazari/odoo-bridge/platform/go/broker"
	platformlogging "github.com/nekazari/odoo-bridge/platform/go/logging"
	platformmiddleware "github.com/nekazari/odoo-bridge/platform/go/middleware"
	"github.com/nekazari/odoo-bridge/platform/go/odoo"
	"github.com/nekazari/odoo-bridge/platform/go/persistence"
	"github.com/nekazari/odoo-bridge/platform/go/syncjobs"
	"github.com/nekazari/odoo-bridge/platform/go/tenant"
)

type config struct {
	Port            string        `env:"PORT" envDefault:"3000"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
	RequestTimeout  time.Duration `env:"REQUEST_TIMEOUT" envDefault:"60s"`
	LogLevel        string        `env:"LOG_LEVEL" envDefault:"info"`

	DatabaseURL string `env:"DATABASE_URL,required"`

	RedisURL     string        `env:"REDIS_URL"`
	JobRetention time.Duration `env:"SYNC_JOB_RETENTION" envDefault:"24h"`

	OdooURL            string        `env:"ODOO_URL,required"`
	OdooMasterPassword string        `env:"ODOO_MASTER_PASSWORD,required"`
	OdooAdminLogin     string        `env:"ODOO_ADMIN_LOGIN" envDefault:"admin"`
	OdooAdminPassword  string        `env:"ODOO_ADMIN_PASSWORD,required"`
	OdooTemplateDB     string        `env:"ODOO_TEMPLATE_DB" envDefault:"nkz_template"`
	OdooTimeout        time.Duration `env:"ODOO_TIMEOUT" envDefault:"30s"`
	OdooRetryCount     int           `env:"ODOO_RETRY_COUNT" envDefault:"2"`

	OrionURL        string        `env:"ORION_URL,required"`
	OrionTimeout    time.Duration `env:"ORION_TIMEOUT" envDefault:"15s"`
	OrionRetryCount int           `env:"ORION_RETRY_COUNT" envDefault:"2"`

	TenantDomain   string `env:"TENANT_DOMAIN,required"`
	WebhookBaseURL string `env:"WEBHOOK_BASE_URL,required"`
	JWTSecret      string `env:"JWT_SECRET"`

	SubscriptionMaxAttempts int           `env:"SUBSCRIPTION_MAX_ATTEMPTS" envDefault:"3"`
	SubscriptionBackoff     time.Duration `env:"SUBSCRIPTION_BACKOFF" envDefault:"500ms"`

	// SyncInterval enables the scheduled reconciliation loop; 0 disables it.
	SyncInterval time.Duration `env:"SYNC_INTERVAL" envDefault:"0"`
}

func main() {
	ctx := context.Background()

	var cfg config
	if err := env.Parse(&cfg); err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger, err := platformlogging.NewLogger(platformlogging.Config{
		Component: "odoo-bridge-api",
		Level:     cfg.LogLevel,
	})
	if err != nil {
		log.Fatalf("init zap logger: %v", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	pool, err := persistence.NewPool(ctx, persistence.PoolConfig{ConnString: cfg.DatabaseURL})
	if err != nil {
		logger.Fatal("init postgres pool", zap.Error(err))
	}
	defer persistence.ClosePool(pool)

	if err := persistence.EnsureSchema(ctx, pool); err != nil {
		logger.Fatal("apply platform schema", zap.Error(err))
	}

	tenantStore, err := persistence.NewTenantStore(pool)
	if err != nil {
		logger.Fatal("init tenant store", zap.Error(err))
	}
	mappingStore, err := persistence.NewMappingStore(pool)
	if err != nil {
		logger.Fatal("init mapping store", zap.Error(err))
	}
	statusStore, err := persistence.NewSyncStatusStore(pool)
	if err != nil {
		logger.Fatal("init sync status store", zap.Error(err))
	}

	jobStore := buildJobStore(ctx, cfg, logger)

	odooClient := odoo.NewClient(odoo.Config{
		BaseURL:        cfg.OdooURL,
		MasterPassword: cfg.OdooMasterPassword,
		AdminLogin:     cfg.OdooAdminLogin,
		AdminPassword:  cfg.OdooAdminPassword,
		TemplateDB:     cfg.OdooTemplateDB,
		Timeout:        cfg.OdooTimeout,
		RetryCount:     cfg.OdooRetryCount,
	}, logger)

	brokerClient := broker.NewClient(broker.Config{
		BaseURL:    cfg.OrionURL,
		Timeout:    cfg.OrionTimeout,
		RetryCount: cfg.OrionRetryCount,
	}, logger)

	subscriptionSvc := subscriptionsservice.New(brokerClient, statusStore, subscriptionsservice.Config{
		WebhookBaseURL: cfg.WebhookBaseURL,
		MaxAttempts:    cfg.SubscriptionMaxAttempts,
		BaseBackoff:    cfg.SubscriptionBackoff,
	}, logger)

	tenantRepo, err := tenantsrepo.NewPostgres(tenantStore, statusStore)
	if err != nil {
		logger.Fatal("init tenants repo", zap.Error(err))
	}
	tenantSvc := tenantsservice.New(tenantRepo, odooClient, subscriptionSvc, tenantsservice.Config{
		TemplateDB:   cfg.OdooTemplateDB,
		TenantDomain: cfg.TenantDomain,
	}, logger)
	tenantHTTPHandler := tenantshandler.New(tenantSvc, logger)

	syncRepo, err := syncrepo.NewPostgres(tenantStore, mappingStore, statusStore)
	if err != nil {
		logger.Fatal("init sync repo", zap.Error(err))
	}
	syncSvc := syncservice.New(syncRepo, odooClient, brokerClient, jobStore, syncservice.Config{
		TenantDomain: cfg.TenantDomain,
	}, logger)
	syncHTTPHandler := synchandler.New(syncSvc, logger)

	rootRouter := chi.NewRouter()
	rootRouter.Use(
		chimw.RequestID,
		chimw.RealIP,
		chimw.Recoverer,
		chimw.Timeout(cfg.RequestTimeout),
		platformmiddleware.DefaultCORS(),
	)
	rootRouter.Use(platformlogging.RequestLogger(logger))

	rootRouter.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	rootRouter.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if err := pool.Ping(r.Context()); err != nil {
			http.Error(w, "database not ready", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	rootRouter.Get("/health", healthHandler(pool.Ping, odooClient.Health, brokerClient.Health))

	// The broker calls the webhook directly; tenant identity is recovered
	// from the subscription id, not from headers.
	rootRouter.Mount("/webhook", syncHTTPHandler.WebhookRoutes())

	specValidator := mustNewSpecValidator(logger, "contracts/odoo-bridge.yaml")

	apiRouter := chi.NewRouter()
	apiRouter.Use(tenant.RequireTenant(cfg.JWTSecret))
	apiRouter.Use(specValidator)
	apiRouter.Mount("/tenant", tenantHTTPHandler.Routes())
	syncHTTPHandler.Register(apiRouter)
	rootRouter.Mount("/api/v1", apiRouter)

	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()
	if cfg.SyncInterval > 0 {
		go scheduledSyncLoop(runCtx, cfg.SyncInterval, tenantStore, syncSvc, logger)
	}

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      rootRouter,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 2 * time.Minute,
		IdleTimeout:  2 * time.Minute,
	}

	go func() {
		logger.Info("starting odoo bridge api", zap.String("port", cfg.Port))
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server listen failed", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	cancelRun()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}

// buildJobStore picks redis-backed job retention when REDIS_URL is set and
// falls back to the in-process store otherwise.
func buildJobStore(ctx context.Context, cfg config, logger *zap.Logger) syncservice.Jobs {
	if cfg.RedisURL == "" {
		logger.Info("REDIS_URL not set; sync jobs held in process memory")
		return syncjobs.NewMemoryStore(cfg.JobRetention)
	}

	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Fatal("parse redis url", zap.Error(err))
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		logger.Fatal("ping redis", zap.Error(err))
	}

	store, err := syncjobs.NewRedisStore(rdb, cfg.JobRetention)
	if err != nil {
		logger.Fatal("init redis job store", zap.Error(err))
	}
	return store
}

// scheduledSyncLoop reconciles every active tenant on a fixed interval.
func scheduledSyncLoop(ctx context.Context, interval time.Duration, tenants *persistence.TenantStore, svc *syncservice.Service, logger *zap.Logger) {
	logger.Info("scheduled sync enabled", zap.Duration("interval", interval))
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		records, err := tenants.ListByStatus(ctx, persistence.TenantStatusActive)
		if err != nil {
			logger.Warn("could not list active tenants for scheduled sync", zap.Error(err))
			continue
		}
		ids := make([]string, 0, len(records))
		for _, rec := range records {
			ids = append(ids, rec.TenantID)
		}
		svc.SyncAllActive(ctx, ids)
	}
}

// healthHandler aggregates dependency probes into one readiness report.
func healthHandler(probes ...func(context.Context) error) http.HandlerFunc {
	names := []string{"database", "odoo", "context-broker"}
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		status := http.StatusOK
		overall := "ok"
		report := make(map[string]string, len(probes))
		for i, probe := range probes {
			name := names[i]
			if err := probe(ctx); err != nil {
				report[name] = err.Error()
				status = http.StatusServiceUnavailable
				overall = "degraded"
				continue
			}
			report[name] = "ok"
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status": overall,
			"checks": report,
		})
	}
}

// mustNewSpecValidator loads the OpenAPI document and builds request
// validation middleware for the API group.
func mustNewSpecValidator(logger *zap.Logger, path string) func(http.Handler) http.Handler {
	loader := openapi3.NewLoader()
	spec, err := loader.LoadFromFile(path)
	if err != nil {
		logger.Fatal("load openapi spec", zap.String("path", path), zap.Error(err))
	}
	if err := spec.Validate(loader.Context); err != nil {
		logger.Fatal("invalid openapi spec", zap.String("path", path), zap.Error(err))
	}
	return oapimiddleware.OapiRequestValidator(spec)
}

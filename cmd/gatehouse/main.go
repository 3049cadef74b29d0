package main

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/platinummonkey/gatehouse/pkg/audit"
	"github.com/platinummonkey/gatehouse/pkg/auth"
	"github.com/platinummonkey/gatehouse/pkg/config"
	"github.com/platinummonkey/gatehouse/pkg/httputil"
	"github.com/platinummonkey/gatehouse/pkg/middleware"
	"github.com/platinummonkey/gatehouse/pkg/observability"
	"github.com/platinummonkey/gatehouse/pkg/rbac"
	"github.com/platinummonkey/gatehouse/pkg/session"
	"github.com/platinummonkey/gatehouse/pkg/sso"
	"github.com/platinummonkey/gatehouse/pkg/storage"
	"github.com/platinummonkey/gatehouse/pkg/tenant"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

const auditBufferSize = 1024

func main() {
	if len(os.Args) > 1 {
		if cmd, ok := adminCommands[os.Args[1]]; ok {
			if err := runAdmin(cmd, os.Args[2:]); err != nil {
				fmt.Fprintf(os.Stderr, "gatehouse %s: %v\n", os.Args[1], err)
				os.Exit(1)
			}
			return
		}
	}

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "gatehouse: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)
	ctx := observability.WithLogger(context.Background(), logger)
	defer observability.RecoverPanic(logger, "main")

	shutdownTracing, err := observability.InitTracing(ctx, cfg.TracingConfig(), logger)
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewMetrics(registry)

	db, err := storage.OpenPostgres(ctx, cfg.Storage)
	if err != nil {
		return err
	}
	if err := storage.RunMigrations(ctx, db, logger); err != nil {
		db.Close()
		return err
	}

	var redisClient *redis.Client
	if cfg.Storage.RedisURL != "" {
		redisClient, err = storage.NewRedisClient(ctx, cfg.Storage)
		if err != nil {
			db.Close()
			return err
		}
	}

	app, err := buildApp(cfg, db, redisClient, metrics, logger)
	if err != nil {
		db.Close()
		return err
	}

	server := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:      app.handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	healthMux := http.NewServeMux()
	observability.RegisterHealthRoutes(healthMux, observability.NewHealthChecker(db, redisClient, version))
	if cfg.Observability.MetricsEnabled {
		observability.RegisterMetricsEndpoint(healthMux, registry)
	}
	healthServer := &http.Server{
		Addr:        net.JoinHostPort(cfg.Server.Host, cfg.Server.HealthPort),
		Handler:     healthMux,
		ReadTimeout: 5 * time.Second,
	}

	jobs, err := startJobs(ctx, app.revocations, logger)
	if err != nil {
		db.Close()
		return err
	}

	// Servers stop first, then dependencies in the order registered
	shutdown := observability.NewShutdownManager(logger, cfg.Server.ShutdownTimeout, server, healthServer)
	shutdown.RegisterShutdownFunc("jobs", func(ctx context.Context) error {
		<-jobs.Stop().Done()
		return nil
	})
	shutdown.RegisterShutdownFunc("audit", func(context.Context) error {
		return app.audit.Close()
	})
	shutdown.RegisterShutdownFunc("tracing", shutdownTracing)
	if redisClient != nil {
		shutdown.RegisterShutdownFunc("redis", func(context.Context) error {
			return redisClient.Close()
		})
	}
	shutdown.RegisterShutdownFunc("postgres", func(context.Context) error {
		return db.Close()
	})

	serve := func(name string, srv *http.Server) {
		defer observability.RecoverPanic(logger, name)
		logger.Infof("%s listening on %s", name, srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Errorf("%s stopped", name)
		}
	}
	go serve("api server", server)
	go serve("health server", healthServer)

	return shutdown.WaitForShutdown(ctx)
}

type application struct {
	handler     http.Handler
	audit       audit.Logger
	revocations session.RevocationStore
}

// buildApp wires the services and routes on top of open connections
func buildApp(cfg *config.Config, db *sql.DB, redisClient *redis.Client, metrics *observability.Metrics, logger *observability.Logger) (*application, error) {
	dbAudit, err := audit.NewDBLogger(db)
	if err != nil {
		return nil, fmt.Errorf("failed to create audit logger: %w", err)
	}
	auditLogger := audit.NewAsyncLogger(
		audit.NewMultiLogger(dbAudit, audit.NewStreamLogger(os.Stdout)),
		auditBufferSize,
		metrics.AuditEventsDroppedTotal,
		logger,
	)

	tenants := tenant.NewResolver(tenant.NewPostgresStore(db), auditLogger, metrics, cfg.Tenant.LoggingKeyFallback)

	var revocations session.RevocationStore
	if redisClient != nil {
		revocations = session.NewRedisRevocationStore(redisClient)
	} else {
		revocations = session.NewPostgresRevocationStore(db)
	}
	sessions, err := session.NewService(session.Config{
		Secret:     cfg.Session.SigningSecret,
		Issuer:     cfg.Session.Issuer,
		AccessTTL:  cfg.Session.AccessTokenTTL,
		RefreshTTL: cfg.Session.RefreshTokenTTL,
		Audit:      auditLogger,
		Metrics:    metrics,
	}, revocations)
	if err != nil {
		return nil, fmt.Errorf("failed to create session service: %w", err)
	}

	roles := rbac.NewSQLStore(db)
	roles.OnVersionBump(metrics.RoleSetVersionBumpTotal.Inc)
	permissions := rbac.NewResolver(roles, rbac.ResolverConfig{
		CacheSize: cfg.RBAC.CacheSize,
		CacheTTL:  cfg.RBAC.CacheTTL,
		Metrics:   metrics,
	})
	authz := rbac.NewMiddleware(permissions, auditLogger)

	users := auth.NewService(auth.NewPostgresUserStore(db), sessions, roles, auditLogger)
	users.OnProvision(func(ctx context.Context, u *auth.User) error {
		return roles.AssignDefaultRole(ctx, u.TenantID, u.ID)
	})

	var defaultProvider *sso.IdentityProviderConfig
	if cfg.SSO.DefaultProviderFile != "" {
		defaultProvider, err = sso.LoadDefaultProvider(cfg.SSO.DefaultProviderFile)
		if err != nil {
			return nil, err
		}
	}
	gateway := sso.NewGateway(tenant.NewPostgresStore(db), sso.NewPostgresConfigStore(db), users, sso.GatewayConfig{
		BaseURL:            cfg.SSO.BaseURL,
		AllowedReturnHosts: cfg.SSO.AllowedReturnHosts,
		ExchangeTimeout:    cfg.SSO.ExchangeTimeout,
		DefaultProvider:    defaultProvider,
		Deps: sso.Deps{
			HTTPClient: &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},
			BaseURL:    cfg.SSO.BaseURL,
			LoginCodes: sessions,
		},
		Audit:   auditLogger,
		Metrics: metrics,
	})

	limitConfig := middleware.LoginRateLimitConfig(cfg.RateLimit.LoginAttemptsPerMinute)
	var primary middleware.Limiter
	if redisClient != nil {
		primary = middleware.NewDistributedRateLimiter(redisClient, limitConfig, "ratelimit")
	}
	loginLimit := middleware.NewLoginRateLimit(primary, limitConfig, metrics)
	requireAuthKey := tenant.Middleware(tenants, tenant.ModuleAuth)

	router := mux.NewRouter()
	router.Use(mux.MiddlewareFunc(observability.HTTPMetricsMiddleware(metrics)))

	// The key resolves the tenant before the limiter keys on it
	auth.NewHandlers(users).WithRateLimit(func(next http.Handler) http.Handler {
		return requireAuthKey(loginLimit.Handler(next))
	}).RegisterRoutes(router)
	session.NewHandlers(sessions).RegisterRoutes(router)
	rbac.NewHandlers(roles, permissions, sessions, tenants, auditLogger).RegisterRoutes(router)
	sso.NewHandlers(gateway, sessions, authz, sso.HandlersConfig{
		ErrorURL:      cfg.SSO.ErrorURL,
		SecureCookies: strings.HasPrefix(cfg.SSO.BaseURL, "https://"),
	}).RegisterRoutes(router)

	stack := []func(http.Handler) http.Handler{
		httputil.RecoveryMiddleware(logger),
		httputil.RequestIDMiddleware,
		httputil.LoggingMiddleware(logger),
	}
	if cfg.Server.MaxBodyBytes > 0 {
		stack = append(stack, httputil.MaxBytesMiddleware(cfg.Server.MaxBodyBytes))
	}
	handler := otelhttp.NewHandler(httputil.Chain(stack...)(router), "gatehouse")

	return &application{handler: handler, audit: auditLogger, revocations: revocations}, nil
}

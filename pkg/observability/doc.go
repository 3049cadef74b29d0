// Package observability provides structured logging, Prometheus metrics,
// health checks, OpenTelemetry tracing and graceful shutdown.
//
// # Structured Logging
//
//	logger := observability.NewLogger(observability.InfoLevel, os.Stdout)
//	logger.WithField("tenant_id", tenantID).Info("API key resolved")
//
// Request-scoped logging picks up request, tenant and user IDs:
//
//	observability.FromContext(r.Context()).WithError(err).Warn("token rejected")
//
// # Prometheus Metrics
//
//	registry := prometheus.NewRegistry()
//	metrics := observability.NewMetrics(registry)
//	metrics.TokenVerifyTotal.WithLabelValues("expired").Inc()
//
// # Health Checks
//
//	checker := observability.NewHealthChecker(db, redisClient, version)
//	observability.RegisterHealthRoutes(healthMux, checker)
//
// # Tracing
//
//	shutdown, err := observability.InitTracing(ctx, cfg, logger)
//	ctx, span := observability.StartSpan(ctx, "sso.exchange")
//	defer span.End()
package observability

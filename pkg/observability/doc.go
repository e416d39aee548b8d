// Package observability provides structured logging, Prometheus metrics,
// health checks and OpenTelemetry tracing for rolekeeper.
//
// # Structured Logging
//
//	logger := observability.NewLogger(observability.InfoLevel, os.Stderr)
//	logger.WithField("role_id", id).WithField("actor", actor).Info("Role created")
//
// # Prometheus Metrics
//
//	registry := prometheus.NewRegistry()
//	metrics := observability.NewMetrics(registry)
//	metrics.RecordOperation("commit", observability.ResultSuccess, elapsed)
//
// The record helpers accept a nil *Metrics.
//
// # Health Checks
//
//	checker := observability.NewHealthChecker(db, redisClient, metrics, version)
//	observability.RegisterHealthRoutes(router, checker)
//
// # OpenTelemetry
//
//	providers, err := observability.InitOTel(ctx, observability.OTelConfig{
//		Enabled:     true,
//		Endpoint:    "otel-collector:4317",
//		ServiceName: "rolekeeper",
//	}, logger)
//	defer observability.ShutdownOTel(ctx, providers, logger)
//
// Engine operations start spans through Tracer(); they are no-ops until
// InitOTel installs a provider.
package observability

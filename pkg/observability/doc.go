// Package observability provides structured logging, Prometheus metrics,
// health probes and OpenTelemetry tracing.
//
// # Structured Logging
//
//	logger := observability.NewLogger(observability.ParseLevel(cfg.LogLevel), os.Stdout)
//	ctx = observability.WithLogger(ctx, logger)
//	observability.FromContext(ctx).WithField("tenant_id", id).Info("tenant switched")
//
// FromContext decorates the logger with the request and user IDs stored in
// the context by the request middleware.
//
// # Prometheus Metrics
//
//	metrics := observability.NewMetrics(prometheus.DefaultRegisterer)
//	router.Use(observability.HTTPMetricsMiddleware(metrics))
//	observability.RegisterMetricsEndpoint(router, prometheus.DefaultGatherer)
//
// # Health Checks
//
//	checker := observability.NewHealthChecker(version).
//		AddCheck("database", true, observability.DatabaseCheck(db)).
//		AddCheck("redis", true, observability.RedisCheck(rdb))
//	observability.RegisterHealthRoutes(router, checker)
//
// # OpenTelemetry
//
//	providers, err := observability.InitOTel(ctx, observability.OTelConfig{
//		Enabled:     true,
//		Endpoint:    "otel-collector:4317",
//		ServiceName: "tenantadmin",
//	}, logger)
//	defer observability.ShutdownOTel(ctx, providers, logger)
//
//	ctx, span := observability.StartSpan(ctx, "rbac.check")
//	defer observability.EndSpan(span, err)
package observability

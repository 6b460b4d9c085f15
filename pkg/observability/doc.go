// Package observability provides logging, metrics, tracing and health checks
// for the authorization service.
//
// # Logging
//
// Operational logs use logrus:
//
//	log, err := observability.NewLogger("info", "json", os.Stdout)
//
// # Prometheus Metrics
//
// All collectors are registered on the registry given to NewMetrics and are
// prefixed datawave_. Every recording method is safe on a nil *Metrics, so
// components take metrics as an optional dependency:
//
//	metrics := observability.NewMetrics(prometheus.DefaultRegisterer)
//	metrics.RecordDecision("allow", "allowed", false, elapsed)
//
// # Health Checks
//
// The database is required for readiness. Redis only carries cache
// invalidations, so losing it reports degraded rather than unhealthy:
//
//	checker := observability.NewHealthChecker(db, redisClient, version)
//	observability.RegisterHealthRoutes(mux, checker)
//
// # OpenTelemetry
//
// InitOTel installs OTLP gRPC tracer and meter providers when enabled and
// returns nil providers otherwise. ShutdownOTel accepts nil.
//
// # Shutdown
//
// ShutdownManager stops the HTTP server first and then runs registered
// functions in reverse order of registration.
package observability

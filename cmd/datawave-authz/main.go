package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"

	"github.com/platinummonkey/datawave/pkg/audit"
	"github.com/platinummonkey/datawave/pkg/config"
	"github.com/platinummonkey/datawave/pkg/httputil"
	"github.com/platinummonkey/datawave/pkg/observability"
	"github.com/platinummonkey/datawave/pkg/rbac"
)

var (
	port          = flag.String("port", "", "Port to listen on (overrides DATAWAVE_PORT)")
	metricsPort   = flag.String("metrics-port", "", "Port for /metrics and /health (overrides DATAWAVE_METRICS_PORT)")
	bootstrapPath = flag.String("bootstrap", "", "YAML policy to seed at start-up (overrides DATAWAVE_BOOTSTRAP_PATH)")
	migrateOnly   = flag.Bool("migrate-only", false, "Apply schema migrations and exit")
	runOnce       = flag.String("run-once", "", "Run one workflow job (expire_access_requests or access_review) and exit")
)

func main() {
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if *port != "" {
		cfg.Server.Port = *port
	}
	if *metricsPort != "" {
		cfg.Server.MetricsPort = *metricsPort
	}
	if *bootstrapPath != "" {
		cfg.Server.BootstrapPath = *bootstrapPath
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := observability.NewLogger(cfg.Observability.LogLevel, cfg.Observability.LogFormat, os.Stdout)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.WithError(err).Fatal("datawave-authz exited with error")
	}
}

func run(ctx context.Context, cfg *config.Config, log *logrus.Logger) error {
	// Shutdown funcs run in reverse order of registration, so things are
	// registered from the bottom of the dependency stack upwards.
	server := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
	shutdown := observability.NewShutdownManager(log, server, cfg.Server.ShutdownTimeout)
	started := false
	defer func() {
		// Start-up failures still release whatever was opened
		if !started {
			ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
			defer cancel()
			shutdown.Shutdown(ctx)
		}
	}()

	providers, err := observability.InitOTel(ctx, observability.OTelConfig{
		Enabled:        cfg.Observability.OTelEnabled,
		Endpoint:       cfg.Observability.OTelEndpoint,
		ServiceName:    cfg.Observability.OTelServiceName,
		ServiceVersion: cfg.Observability.OTelServiceVersion,
		Insecure:       cfg.Observability.OTelInsecure,
		SampleRatio:    cfg.Observability.OTelSampleRatio,
	}, log)
	if err != nil {
		return fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}
	shutdown.RegisterShutdownFunc("otel", func(ctx context.Context) error {
		return observability.ShutdownOTel(ctx, providers, log)
	})

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	var metrics *observability.Metrics
	if cfg.Observability.MetricsEnabled {
		metrics = observability.NewMetrics(registry)
		if providers != nil {
			otelMetrics, err := observability.NewOTelMetrics()
			if err != nil {
				return fmt.Errorf("failed to create OpenTelemetry instruments: %w", err)
			}
			metrics = metrics.WithOTel(otelMetrics)
		}
	}

	db, dialect, err := openDatabase(ctx, cfg.Database, log)
	if err != nil {
		return err
	}
	shutdown.RegisterShutdownFunc("database", func(context.Context) error { return db.Close() })

	var store rbac.Store = rbac.NewMemoryStore()
	if cfg.Database.Driver != "memory" {
		if err := rbac.RunMigrations(ctx, db, dialect, log); err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}
		store = rbac.NewSQLStore(db, dialect)
	}
	dbLogger, err := audit.NewDBLogger(db, dialect)
	if err != nil {
		return fmt.Errorf("failed to create audit log table: %w", err)
	}
	if *migrateOnly {
		log.Info("migrations applied")
		return nil
	}

	redisClient, err := newRedisClient(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	if redisClient != nil {
		shutdown.RegisterShutdownFunc("redis", func(context.Context) error { return redisClient.Close() })
	}

	var auditLogger audit.Logger = dbLogger
	if cfg.Audit.FileDir != "" {
		fileCfg := audit.DefaultFileLoggerConfig()
		fileCfg.BasePath = cfg.Audit.FileDir
		fileCfg.MaxSize = cfg.Audit.FileMaxSize
		fileCfg.MaxFiles = cfg.Audit.FileMaxFiles
		fileLogger, err := audit.NewFileLogger(fileCfg)
		if err != nil {
			return fmt.Errorf("failed to create audit file logger: %w", err)
		}
		auditLogger = audit.NewMultiLogger(dbLogger, fileLogger)
	}
	shutdown.RegisterShutdownFunc("audit-logger", func(context.Context) error { return auditLogger.Close() })

	sinkCfg := audit.SinkConfig{
		QueueSize:       cfg.Audit.QueueSize,
		Workers:         cfg.Audit.Workers,
		MaxRetries:      uint64(cfg.Audit.MaxRetries),
		RetryWindow:     cfg.Audit.RetryWindow,
		BreakerFailures: uint32(cfg.Audit.BreakerFailures),
		BreakerTimeout:  cfg.Audit.BreakerTimeout,
	}
	if metrics != nil {
		sinkCfg.Metrics = metrics
	}
	sink := audit.NewSink(auditLogger, sinkCfg, log)
	shutdown.RegisterShutdownFunc("audit-sink", sink.Close)

	var invalidator rbac.Invalidator = rbac.NoopInvalidator{}
	var redisInvalidator *rbac.RedisInvalidator
	if redisClient != nil {
		redisInvalidator = rbac.NewRedisInvalidator(redisClient, cfg.Redis.Channel, log, metrics)
		invalidator = redisInvalidator
	}

	manager, err := rbac.NewManager(ctx, rbac.ManagerConfig{
		Store:            store,
		Sink:             sink,
		Invalidator:      invalidator,
		Logger:           log,
		Metrics:          metrics,
		AccessRequestTTL: cfg.Workflow.AccessRequestTTL,
		StaleAfter:       cfg.Workflow.AccessReviewStaleAfter,
	})
	if err != nil {
		return fmt.Errorf("failed to load policy model: %w", err)
	}
	if err := manager.EnsureBuiltIns(ctx); err != nil {
		return fmt.Errorf("failed to create built-in roles: %w", err)
	}
	if err := seed(ctx, manager, cfg.Server.BootstrapPath, log); err != nil {
		return err
	}

	scheduler, err := rbac.NewScheduler(manager, rbac.SchedulerConfig{
		ExpirySpec: cfg.Workflow.AccessRequestExpirySpec,
		ReviewSpec: cfg.Workflow.AccessReviewSchedule,
		Logger:     log,
		Metrics:    metrics,
	})
	if err != nil {
		return err
	}
	if *runOnce != "" {
		return runJob(ctx, scheduler, *runOnce)
	}

	engine := rbac.NewEngine(manager, sink,
		rbac.WithLogger(log),
		rbac.WithMetrics(metrics),
		rbac.WithEvaluationTimeout(cfg.Engine.EvaluationTimeout),
		rbac.WithCache(cfg.Engine.CacheSize, cfg.Engine.CacheTTL),
	)

	handlers := rbac.NewHandlers(manager, engine, log)
	if cfg.Server.EnforceAdminAuthz {
		handlers = handlers.WithAdminGuard(rbac.NewPermissionMiddleware(engine).RequirePermission("rbac.admin", "rbac"))
	}
	router := mux.NewRouter()
	handlers.RegisterRoutes(router)
	audit.NewHandlers(audit.NewDBStore(dbLogger), log).RegisterRoutes(router)

	server.Handler = httputil.Chain(
		httputil.RecoveryMiddleware(log),
		httputil.LoggingMiddleware(log),
		rbac.RequestContextMiddleware,
		observability.HTTPMetricsMiddleware(metrics),
		httputil.MaxBytesMiddleware(cfg.Server.MaxBodyBytes),
	)(router)
	if providers != nil {
		server.Handler = otelhttp.NewHandler(server.Handler, "datawave-authz")
	}

	opsMux := http.NewServeMux()
	health := observability.NewHealthChecker(db, redisClient, cfg.Observability.OTelServiceVersion)
	health.AddProbe("policy_snapshot", true, func(context.Context) error {
		if manager.Snapshot() == nil {
			return errors.New("no policy snapshot published")
		}
		return nil
	})
	health.AddProbe("audit_queue", false, func(context.Context) error {
		if depth := sink.Len(); depth*10 >= cfg.Audit.QueueSize*9 {
			return fmt.Errorf("audit queue at %d of %d: %w", depth, cfg.Audit.QueueSize, observability.ErrDegraded)
		}
		return nil
	})
	observability.RegisterHealthRoutes(opsMux, health)
	if metrics != nil {
		observability.RegisterMetricsEndpoint(opsMux, registry)
	}
	opsServer := &http.Server{
		Addr:              net.JoinHostPort(cfg.Server.Host, cfg.Server.MetricsPort),
		Handler:           opsMux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	group, gctx := errgroup.WithContext(ctx)

	if redisInvalidator != nil {
		listenCtx, cancelListen := context.WithCancel(gctx)
		group.Go(func() error {
			return redisInvalidator.Listen(listenCtx, func(ctx context.Context, msg rbac.InvalidationMessage) {
				if err := manager.Reload(ctx); err != nil {
					log.WithError(err).WithField("version", msg.Version).Error("failed to reload policy model")
				}
			})
		})
		shutdown.RegisterShutdownFunc("invalidation-listener", func(context.Context) error {
			cancelListen()
			return nil
		})
	}

	if cfg.Workflow.SchedulerEnabled {
		scheduler.Start()
		shutdown.RegisterShutdownFunc("scheduler", scheduler.Stop)
	}

	if metrics != nil {
		group.Go(func() error {
			ticker := time.NewTicker(15 * time.Second)
			defer ticker.Stop()
			for {
				select {
				case <-gctx.Done():
					return nil
				case <-ticker.C:
					metrics.RecordDBStats(db.Stats())
				}
			}
		})
	}

	shutdown.RegisterShutdownFunc("ops-server", opsServer.Shutdown)

	group.Go(func() error {
		log.WithField("addr", opsServer.Addr).Info("serving health and metrics")
		if err := opsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("ops server: %w", err)
		}
		return nil
	})
	group.Go(func() error {
		log.WithFields(logrus.Fields{
			"addr":    server.Addr,
			"version": manager.Version(),
		}).Info("starting DataWave authorization service")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	group.Go(func() error {
		return shutdown.WaitForShutdown(gctx)
	})

	started = true
	return group.Wait()
}

func seed(ctx context.Context, manager *rbac.Manager, path string, log *logrus.Logger) error {
	if path == "" {
		return nil
	}
	b, err := rbac.LoadBootstrap(path)
	if err != nil {
		return err
	}
	res, err := manager.Seed(ctx, b)
	if err != nil {
		return fmt.Errorf("failed to seed %s: %w", path, err)
	}
	log.WithFields(logrus.Fields{
		"path":    path,
		"created": res.Created,
		"skipped": res.Skipped,
	}).Info("bootstrap policy applied")
	return nil
}

func runJob(ctx context.Context, scheduler *rbac.Scheduler, name string) error {
	switch name {
	case rbac.JobExpireRequests:
		return scheduler.RunExpiry(ctx)
	case rbac.JobAccessReview:
		return scheduler.RunReview(ctx)
	default:
		return fmt.Errorf("unknown job %q (want %s or %s)", name, rbac.JobExpireRequests, rbac.JobAccessReview)
	}
}

// openDatabase returns the shared handle for the policy store and audit log.
// The memory driver still keeps audit events in a private SQLite database.
func openDatabase(ctx context.Context, cfg config.DatabaseConfig, log *logrus.Logger) (*sql.DB, audit.Dialect, error) {
	driver, url, dialect := cfg.Driver, cfg.URL, audit.Dialect(cfg.Driver)
	if driver == "memory" {
		driver, url, dialect = "sqlite3", ":memory:", audit.DialectSQLite
	}

	db, err := sql.Open(driver, url)
	if err != nil {
		return nil, "", fmt.Errorf("failed to open %s database: %w", driver, err)
	}
	if dialect == audit.DialectSQLite {
		// SQLite serialises writers, and :memory: is per connection
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
		db.SetMaxIdleConns(cfg.MaxIdleConns)
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, "", fmt.Errorf("failed to ping %s database: %w", driver, err)
	}
	log.WithField("driver", cfg.Driver).Info("database connected")
	return db, dialect, nil
}

// newRedisClient returns nil when no URL is configured
func newRedisClient(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	if cfg.URL == "" {
		return nil, nil
	}
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}
	if cfg.DB > 0 {
		opts.DB = cfg.DB
	}
	if cfg.MaxRetries > 0 {
		opts.MaxRetries = cfg.MaxRetries
	}
	if cfg.PoolSize > 0 {
		opts.PoolSize = cfg.PoolSize
	}
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second

	client := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return client, nil
}

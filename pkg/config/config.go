package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig
	Database      DatabaseConfig
	Redis         RedisConfig
	Engine        EngineConfig
	Audit         AuditConfig
	Workflow      WorkflowConfig
	Observability ObservabilityConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	MaxBodyBytes    int64

	// Metrics and health listener (separate port for k8s probes)
	MetricsPort string

	// EnforceAdminAuthz guards mutating routes with an rbac.admin check
	EnforceAdminAuthz bool

	// BootstrapPath is an optional YAML policy applied at start-up
	BootstrapPath string
}

// DatabaseConfig selects the policy and audit store
type DatabaseConfig struct {
	Driver          string // postgres, sqlite3 or memory
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// RedisConfig configures cross-instance invalidation. An empty URL disables it.
type RedisConfig struct {
	URL        string
	Password   string
	DB         int
	MaxRetries int
	PoolSize   int
	Channel    string
}

// EngineConfig tunes the decision engine
type EngineConfig struct {
	EvaluationTimeout time.Duration
	CacheSize         int
	CacheTTL          time.Duration
}

// AuditConfig tunes the asynchronous audit sink
type AuditConfig struct {
	QueueSize       int
	Workers         int
	MaxRetries      int
	RetryWindow     time.Duration
	BreakerFailures int
	BreakerTimeout  time.Duration

	// FileDir, when set, mirrors audit events to rotated NDJSON files
	FileDir      string
	FileMaxSize  int64
	FileMaxFiles int
}

// WorkflowConfig holds access-request and access-review settings
type WorkflowConfig struct {
	AccessRequestTTL        time.Duration
	AccessRequestExpirySpec string
	AccessReviewSchedule    string
	AccessReviewStaleAfter  time.Duration
	SchedulerEnabled        bool
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel  string
	LogFormat string

	MetricsEnabled bool

	OTelEnabled        bool
	OTelEndpoint       string
	OTelServiceName    string
	OTelServiceVersion string
	OTelInsecure       bool
	OTelSampleRatio    float64
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server:        loadServerConfig(),
		Database:      loadDatabaseConfig(),
		Redis:         loadRedisConfig(),
		Engine:        loadEngineConfig(),
		Audit:         loadAuditConfig(),
		Workflow:      loadWorkflowConfig(),
		Observability: loadObservabilityConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:              getEnv("DATAWAVE_HOST", "0.0.0.0"),
		Port:              getEnv("DATAWAVE_PORT", "8080"),
		ReadTimeout:       getEnvDuration("DATAWAVE_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:      getEnvDuration("DATAWAVE_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:       getEnvDuration("DATAWAVE_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout:   getEnvDuration("DATAWAVE_SHUTDOWN_TIMEOUT", 30*time.Second),
		MaxBodyBytes:      getEnvInt64("DATAWAVE_MAX_BODY_BYTES", 1<<20),
		MetricsPort:       getEnv("DATAWAVE_METRICS_PORT", "9090"),
		EnforceAdminAuthz: getEnvBool("DATAWAVE_ENFORCE_ADMIN_AUTHZ", false),
		BootstrapPath:     getEnv("DATAWAVE_BOOTSTRAP_PATH", ""),
	}
}

func loadDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		Driver:          getEnv("DATAWAVE_DB_DRIVER", "sqlite3"),
		URL:             getEnv("DATAWAVE_DB_URL", "file:datawave.db?_foreign_keys=on"),
		MaxOpenConns:    getEnvInt("DATAWAVE_DB_MAX_OPEN_CONNS", 20),
		MaxIdleConns:    getEnvInt("DATAWAVE_DB_MAX_IDLE_CONNS", 5),
		ConnMaxLifetime: getEnvDuration("DATAWAVE_DB_CONN_MAX_LIFETIME", 30*time.Minute),
	}
}

func loadRedisConfig() RedisConfig {
	return RedisConfig{
		URL:        getEnv("DATAWAVE_REDIS_URL", ""),
		Password:   getEnv("DATAWAVE_REDIS_PASSWORD", ""),
		DB:         getEnvInt("DATAWAVE_REDIS_DB", 0),
		MaxRetries: getEnvInt("DATAWAVE_REDIS_MAX_RETRIES", 3),
		PoolSize:   getEnvInt("DATAWAVE_REDIS_POOL_SIZE", 10),
		Channel:    getEnv("DATAWAVE_REDIS_CHANNEL", "datawave:rbac:invalidate"),
	}
}

func loadEngineConfig() EngineConfig {
	return EngineConfig{
		EvaluationTimeout: getEnvDuration("DATAWAVE_EVALUATION_TIMEOUT", 50*time.Millisecond),
		CacheSize:         getEnvInt("DATAWAVE_CACHE_SIZE", 10000),
		CacheTTL:          getEnvDuration("DATAWAVE_CACHE_TTL", 5*time.Minute),
	}
}

func loadAuditConfig() AuditConfig {
	return AuditConfig{
		QueueSize:       getEnvInt("DATAWAVE_AUDIT_QUEUE_SIZE", 10000),
		Workers:         getEnvInt("DATAWAVE_AUDIT_WORKERS", 4),
		MaxRetries:      getEnvInt("DATAWAVE_AUDIT_MAX_RETRIES", 3),
		RetryWindow:     getEnvDuration("DATAWAVE_AUDIT_RETRY_WINDOW", 30*time.Second),
		BreakerFailures: getEnvInt("DATAWAVE_AUDIT_BREAKER_FAILURES", 5),
		BreakerTimeout:  getEnvDuration("DATAWAVE_AUDIT_BREAKER_TIMEOUT", 30*time.Second),
		FileDir:         getEnv("DATAWAVE_AUDIT_FILE_DIR", ""),
		FileMaxSize:     getEnvInt64("DATAWAVE_AUDIT_FILE_MAX_SIZE", 100<<20),
		FileMaxFiles:    getEnvInt("DATAWAVE_AUDIT_FILE_MAX_FILES", 10),
	}
}

func loadWorkflowConfig() WorkflowConfig {
	return WorkflowConfig{
		AccessRequestTTL:        getEnvDuration("DATAWAVE_ACCESS_REQUEST_TTL", 72*time.Hour),
		AccessRequestExpirySpec: getEnv("DATAWAVE_ACCESS_REQUEST_EXPIRY_SCHEDULE", "@every 1m"),
		AccessReviewSchedule:    getEnv("DATAWAVE_ACCESS_REVIEW_SCHEDULE", "@daily"),
		AccessReviewStaleAfter:  getEnvDuration("DATAWAVE_ACCESS_REVIEW_STALE_AFTER", 90*24*time.Hour),
		SchedulerEnabled:        getEnvBool("DATAWAVE_SCHEDULER_ENABLED", true),
	}
}

func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:           strings.ToLower(getEnv("DATAWAVE_LOG_LEVEL", "info")),
		LogFormat:          strings.ToLower(getEnv("DATAWAVE_LOG_FORMAT", "json")),
		MetricsEnabled:     getEnvBool("DATAWAVE_METRICS_ENABLED", true),
		OTelEnabled:        getEnvBool("DATAWAVE_OTEL_ENABLED", false),
		OTelEndpoint:       getEnv("DATAWAVE_OTEL_ENDPOINT", "localhost:4317"),
		OTelServiceName:    getEnv("DATAWAVE_OTEL_SERVICE_NAME", "datawave-authz"),
		OTelServiceVersion: getEnv("DATAWAVE_OTEL_SERVICE_VERSION", "dev"),
		OTelInsecure:       getEnvBool("DATAWAVE_OTEL_INSECURE", true),
		OTelSampleRatio:    getEnvFloat("DATAWAVE_OTEL_SAMPLE_RATIO", 1.0),
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.MetricsPort == "" {
		return fmt.Errorf("metrics port is required")
	}
	if c.Server.Port == c.Server.MetricsPort {
		return fmt.Errorf("server port and metrics port must be different")
	}

	switch c.Database.Driver {
	case "postgres", "sqlite3":
		if c.Database.URL == "" {
			return fmt.Errorf("database URL is required for %s driver", c.Database.Driver)
		}
	case "memory":
	default:
		return fmt.Errorf("invalid database driver: %s (must be postgres, sqlite3, or memory)", c.Database.Driver)
	}
	if c.Database.MaxOpenConns < 0 || c.Database.MaxIdleConns < 0 {
		return fmt.Errorf("database connection limits must not be negative")
	}

	if c.Engine.EvaluationTimeout <= 0 {
		return fmt.Errorf("evaluation timeout must be positive")
	}
	if c.Engine.CacheSize < 0 {
		return fmt.Errorf("cache size must not be negative")
	}

	if c.Audit.QueueSize <= 0 {
		return fmt.Errorf("audit queue size must be positive")
	}
	if c.Audit.Workers <= 0 {
		return fmt.Errorf("audit workers must be positive")
	}
	if c.Audit.MaxRetries < 0 || c.Audit.BreakerFailures <= 0 {
		return fmt.Errorf("audit retry and breaker limits must be positive")
	}

	if c.Workflow.AccessRequestTTL <= 0 {
		return fmt.Errorf("access request TTL must be positive")
	}
	if c.Workflow.AccessReviewStaleAfter <= 0 {
		return fmt.Errorf("access review stale-after must be positive")
	}
	if c.Workflow.SchedulerEnabled {
		if _, err := cron.ParseStandard(c.Workflow.AccessRequestExpirySpec); err != nil {
			return fmt.Errorf("invalid access request expiry schedule: %w", err)
		}
		if _, err := cron.ParseStandard(c.Workflow.AccessReviewSchedule); err != nil {
			return fmt.Errorf("invalid access review schedule: %w", err)
		}
	}

	switch c.Observability.LogFormat {
	case "json", "text":
	default:
		return fmt.Errorf("invalid log format: %s (must be json or text)", c.Observability.LogFormat)
	}

	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
		if c.Observability.OTelSampleRatio < 0 || c.Observability.OTelSampleRatio > 1 {
			return fmt.Errorf("OpenTelemetry sample ratio must be within [0, 1]")
		}
	}

	return nil
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvInt64 returns an int64 environment variable or a default
func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvFloat returns a float environment variable or a default
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

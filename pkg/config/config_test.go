package config

import (
	"strings"
	"testing"
	"time"
)

func TestGetEnv(t *testing.T) {
	t.Setenv("DATAWAVE_TEST_VAR", "custom")

	if got := getEnv("DATAWAVE_TEST_VAR", "default"); got != "custom" {
		t.Errorf("getEnv() = %v, want custom", got)
	}
	if got := getEnv("DATAWAVE_TEST_VAR_NOT_SET", "default"); got != "default" {
		t.Errorf("getEnv() = %v, want default", got)
	}
}

func TestGetEnvBool(t *testing.T) {
	tests := []struct {
		name         string
		envValue     string
		defaultValue bool
		want         bool
	}{
		{"true", "true", false, true},
		{"upper TRUE", "TRUE", false, true},
		{"one", "1", false, true},
		{"false", "false", true, false},
		{"garbage", "yes please", true, false},
		{"unset", "", true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("DATAWAVE_TEST_BOOL", tt.envValue)
			if got := getEnvBool("DATAWAVE_TEST_BOOL", tt.defaultValue); got != tt.want {
				t.Errorf("getEnvBool() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestGetEnvNumeric(t *testing.T) {
	t.Setenv("DATAWAVE_TEST_INT", "42")
	t.Setenv("DATAWAVE_TEST_BAD_INT", "forty-two")
	t.Setenv("DATAWAVE_TEST_INT64", "1099511627776")
	t.Setenv("DATAWAVE_TEST_FLOAT", "0.25")
	t.Setenv("DATAWAVE_TEST_DURATION", "90s")
	t.Setenv("DATAWAVE_TEST_BAD_DURATION", "ninety")

	if got := getEnvInt("DATAWAVE_TEST_INT", 0); got != 42 {
		t.Errorf("getEnvInt() = %v, want 42", got)
	}
	if got := getEnvInt("DATAWAVE_TEST_BAD_INT", 7); got != 7 {
		t.Errorf("getEnvInt() with invalid value = %v, want default 7", got)
	}
	if got := getEnvInt64("DATAWAVE_TEST_INT64", 0); got != 1<<40 {
		t.Errorf("getEnvInt64() = %v, want %v", got, int64(1<<40))
	}
	if got := getEnvFloat("DATAWAVE_TEST_FLOAT", 1); got != 0.25 {
		t.Errorf("getEnvFloat() = %v, want 0.25", got)
	}
	if got := getEnvDuration("DATAWAVE_TEST_DURATION", time.Second); got != 90*time.Second {
		t.Errorf("getEnvDuration() = %v, want 90s", got)
	}
	if got := getEnvDuration("DATAWAVE_TEST_BAD_DURATION", time.Second); got != time.Second {
		t.Errorf("getEnvDuration() with invalid value = %v, want default", got)
	}
}

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	if cfg.Server.Port != "8080" || cfg.Server.MetricsPort != "9090" {
		t.Errorf("unexpected ports %s/%s", cfg.Server.Port, cfg.Server.MetricsPort)
	}
	if cfg.Database.Driver != "sqlite3" {
		t.Errorf("Database.Driver = %s, want sqlite3", cfg.Database.Driver)
	}
	if cfg.Redis.Channel != "datawave:rbac:invalidate" {
		t.Errorf("Redis.Channel = %s", cfg.Redis.Channel)
	}
	if cfg.Audit.QueueSize != 10000 {
		t.Errorf("Audit.QueueSize = %d, want 10000", cfg.Audit.QueueSize)
	}
	if cfg.Workflow.AccessRequestExpirySpec != "@every 1m" || cfg.Workflow.AccessReviewSchedule != "@daily" {
		t.Errorf("unexpected schedules %q %q", cfg.Workflow.AccessRequestExpirySpec, cfg.Workflow.AccessReviewSchedule)
	}
	if cfg.Engine.EvaluationTimeout != 50*time.Millisecond {
		t.Errorf("Engine.EvaluationTimeout = %v", cfg.Engine.EvaluationTimeout)
	}
	if cfg.Server.EnforceAdminAuthz {
		t.Error("EnforceAdminAuthz should default to false")
	}
}

func TestLoadConfig_FromEnv(t *testing.T) {
	t.Setenv("DATAWAVE_PORT", "7000")
	t.Setenv("DATAWAVE_DB_DRIVER", "postgres")
	t.Setenv("DATAWAVE_DB_URL", "postgres://localhost/datawave?sslmode=disable")
	t.Setenv("DATAWAVE_REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("DATAWAVE_AUDIT_QUEUE_SIZE", "64")
	t.Setenv("DATAWAVE_ACCESS_REQUEST_TTL", "24h")
	t.Setenv("DATAWAVE_LOG_FORMAT", "TEXT")
	t.Setenv("DATAWAVE_ENFORCE_ADMIN_AUTHZ", "true")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	if cfg.Server.Port != "7000" {
		t.Errorf("Server.Port = %s", cfg.Server.Port)
	}
	if cfg.Database.Driver != "postgres" {
		t.Errorf("Database.Driver = %s", cfg.Database.Driver)
	}
	if cfg.Redis.URL != "redis://localhost:6379/0" {
		t.Errorf("Redis.URL = %s", cfg.Redis.URL)
	}
	if cfg.Audit.QueueSize != 64 {
		t.Errorf("Audit.QueueSize = %d", cfg.Audit.QueueSize)
	}
	if cfg.Workflow.AccessRequestTTL != 24*time.Hour {
		t.Errorf("Workflow.AccessRequestTTL = %v", cfg.Workflow.AccessRequestTTL)
	}
	if cfg.Observability.LogFormat != "text" {
		t.Errorf("Observability.LogFormat = %s", cfg.Observability.LogFormat)
	}
	if !cfg.Server.EnforceAdminAuthz {
		t.Error("EnforceAdminAuthz should be true")
	}
}

func validConfig() *Config {
	return &Config{
		Server:   ServerConfig{Port: "8080", MetricsPort: "9090"},
		Database: DatabaseConfig{Driver: "memory"},
		Engine:   EngineConfig{EvaluationTimeout: time.Millisecond},
		Audit:    AuditConfig{QueueSize: 1, Workers: 1, BreakerFailures: 1},
		Workflow: WorkflowConfig{
			AccessRequestTTL:        time.Hour,
			AccessReviewStaleAfter:  time.Hour,
			SchedulerEnabled:        true,
			AccessRequestExpirySpec: "@every 1m",
			AccessReviewSchedule:    "0 3 * * *",
		},
		Observability: ObservabilityConfig{LogFormat: "json"},
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"missing port", func(c *Config) { c.Server.Port = "" }, "server port is required"},
		{"same ports", func(c *Config) { c.Server.MetricsPort = "8080" }, "must be different"},
		{"bad driver", func(c *Config) { c.Database.Driver = "mysql" }, "invalid database driver"},
		{"postgres without url", func(c *Config) { c.Database.Driver = "postgres" }, "database URL is required"},
		{"zero timeout", func(c *Config) { c.Engine.EvaluationTimeout = 0 }, "evaluation timeout"},
		{"zero queue", func(c *Config) { c.Audit.QueueSize = 0 }, "audit queue size"},
		{"zero workers", func(c *Config) { c.Audit.Workers = 0 }, "audit workers"},
		{"zero ttl", func(c *Config) { c.Workflow.AccessRequestTTL = 0 }, "access request TTL"},
		{"bad cron", func(c *Config) { c.Workflow.AccessReviewSchedule = "whenever" }, "invalid access review schedule"},
		{"bad cron ignored when disabled", func(c *Config) {
			c.Workflow.SchedulerEnabled = false
			c.Workflow.AccessReviewSchedule = "whenever"
		}, ""},
		{"bad log format", func(c *Config) { c.Observability.LogFormat = "xml" }, "invalid log format"},
		{"otel without endpoint", func(c *Config) {
			c.Observability.OTelEnabled = true
			c.Observability.OTelServiceName = "x"
		}, "endpoint is required"},
		{"otel bad ratio", func(c *Config) {
			c.Observability.OTelEnabled = true
			c.Observability.OTelEndpoint = "localhost:4317"
			c.Observability.OTelServiceName = "x"
			c.Observability.OTelSampleRatio = 2
		}, "sample ratio"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() unexpected error = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

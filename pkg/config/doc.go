// Package config loads service configuration from DATAWAVE_* environment
// variables.
//
// Every setting has a default, so an empty environment yields a working
// single-node configuration backed by a local SQLite file.
//
// Server:
//
//	DATAWAVE_HOST="0.0.0.0"
//	DATAWAVE_PORT="8080"
//	DATAWAVE_METRICS_PORT="9090"
//	DATAWAVE_ENFORCE_ADMIN_AUTHZ="false"
//	DATAWAVE_BOOTSTRAP_PATH="/etc/datawave/policy.yaml"
//
// Storage and invalidation:
//
//	DATAWAVE_DB_DRIVER="postgres"        # postgres, sqlite3, memory
//	DATAWAVE_DB_URL="postgres://..."
//	DATAWAVE_REDIS_URL="redis://redis:6379/0"
//	DATAWAVE_REDIS_CHANNEL="datawave:rbac:invalidate"
//
// Engine and audit:
//
//	DATAWAVE_EVALUATION_TIMEOUT="50ms"
//	DATAWAVE_CACHE_SIZE="10000"
//	DATAWAVE_AUDIT_QUEUE_SIZE="10000"
//	DATAWAVE_AUDIT_WORKERS="4"
//	DATAWAVE_AUDIT_FILE_DIR=""
//
// Workflow:
//
//	DATAWAVE_ACCESS_REQUEST_TTL="72h"
//	DATAWAVE_ACCESS_REQUEST_EXPIRY_SCHEDULE="@every 1m"
//	DATAWAVE_ACCESS_REVIEW_SCHEDULE="@daily"
//	DATAWAVE_ACCESS_REVIEW_STALE_AFTER="2160h"
//
// Observability:
//
//	DATAWAVE_LOG_LEVEL="info"
//	DATAWAVE_LOG_FORMAT="json"
//	DATAWAVE_OTEL_ENABLED="false"
//	DATAWAVE_OTEL_ENDPOINT="localhost:4317"
//
// LoadConfig validates the result; invalid values are reported rather than
// silently replaced, except for unparsable numbers and durations, which fall
// back to their defaults.
package config

// Package config loads rolekeeper configuration from ROLEKEEPER_* environment
// variables.
//
// Storage:
//
//	ROLEKEEPER_STORAGE="sqlite"  # memory, sqlite, postgres
//	ROLEKEEPER_DATABASE_URL="/var/lib/rolekeeper/roles.db"
//	ROLEKEEPER_REDIS_URL="redis://localhost:6379/0"  # optional assignment index
//
// Catalog and activity log:
//
//	ROLEKEEPER_CATALOG_PATH="/etc/rolekeeper/catalog.yaml"
//	ROLEKEEPER_AUDIT_FILE_DIR="/var/log/rolekeeper"
//
// Permission checks:
//
//	ROLEKEEPER_CHECKER_CACHE_SIZE="1024"
//	ROLEKEEPER_CHECKER_CACHE_TTL="5m"  # 0 disables the cache
//
// Snapshots:
//
//	ROLEKEEPER_SNAPSHOT_SCHEDULE="@hourly"
//	ROLEKEEPER_SNAPSHOT_DIR="/var/backups/rolekeeper"
//	ROLEKEEPER_SNAPSHOT_S3_BUCKET="rolekeeper-snapshots"
//	ROLEKEEPER_S3_REGION="us-east-1"
//	ROLEKEEPER_S3_ENDPOINT="http://minio:9000"
//
// Observability:
//
//	ROLEKEEPER_LOG_LEVEL="info"  # debug, info, warn, error
//	ROLEKEEPER_METRICS_ADDR=":9090"
//	ROLEKEEPER_OTEL_ENABLED="true"
//	ROLEKEEPER_OTEL_ENDPOINT="otel-collector:4317"
//
// Unparseable numbers and durations fall back to their defaults.
package config

// Package config loads application configuration: defaults, then an optional
// YAML file, then CIVITAS_* environment variables, with later layers winning.
//
// Server settings:
//
//	CIVITAS_HOST="0.0.0.0"
//	CIVITAS_PORT="8080"
//	CIVITAS_HEALTH_PORT="9090"
//	CIVITAS_READ_TIMEOUT="15s"
//	CIVITAS_WRITE_TIMEOUT="15s"
//
// Database and cache settings:
//
//	CIVITAS_POSTGRES_URL="postgres://localhost/civitas"
//	CIVITAS_POSTGRES_MAX_CONNS="20"
//	CIVITAS_REDIS_URL="localhost:6379"
//
// Object storage settings:
//
//	CIVITAS_S3_ENDPOINT="http://minio:9000"
//	CIVITAS_S3_BUCKET="civitas-attachments"
//	CIVITAS_S3_REGION="us-east-1"
//
// Observability settings:
//
//	CIVITAS_LOG_LEVEL="info"  # debug, info, warn, error
//	CIVITAS_METRICS_ENABLED="true"
package config

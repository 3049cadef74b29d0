// Package config provides application configuration management from environment variables.
//
// # Configuration Structure
//
// Server settings:
//
//	GATEHOUSE_HOST="0.0.0.0"
//	GATEHOUSE_PORT="8080"
//	GATEHOUSE_HEALTH_PORT="9090"
//
// Storage settings:
//
//	GATEHOUSE_POSTGRES_URL="postgres://localhost/gatehouse?sslmode=disable"  # required
//	GATEHOUSE_POSTGRES_MAX_CONNS="20"
//	GATEHOUSE_REDIS_URL="redis://localhost:6379/0"  # optional
//
// Session settings:
//
//	GATEHOUSE_SIGNING_SECRET="..."  # required, at least 32 characters
//	GATEHOUSE_ACCESS_TOKEN_TTL="1h"
//	GATEHOUSE_REFRESH_TOKEN_TTL="168h"
//
// SSO settings:
//
//	GATEHOUSE_BASE_URL="https://auth.example.com"
//	GATEHOUSE_SSO_ERROR_URL="/auth/error"
//	GATEHOUSE_SSO_EXCHANGE_TIMEOUT="10s"
//	GATEHOUSE_SSO_ALLOWED_RETURN_HOSTS="app.example.com,admin.example.com"
//	GATEHOUSE_DEFAULT_PROVIDER_FILE="/etc/gatehouse/default-provider.yaml"
//
// RBAC, tenant and rate limit settings:
//
//	GATEHOUSE_RBAC_CACHE_SIZE="10000"
//	GATEHOUSE_RBAC_CACHE_TTL="5m"
//	GATEHOUSE_LOGGING_KEY_FALLBACK="true"
//	GATEHOUSE_LOGIN_ATTEMPTS_PER_MINUTE="10"
//
// Observability settings:
//
//	GATEHOUSE_LOG_LEVEL="info"  # debug, info, warn, error
//	GATEHOUSE_METRICS_ENABLED="true"
//	GATEHOUSE_OTEL_ENABLED="true"
//	GATEHOUSE_OTEL_ENDPOINT="otel-collector:4317"
//
// # Usage Example
//
//	cfg, err := config.LoadConfig()
//	if err != nil {
//		log.Fatal(err)
//	}
package config

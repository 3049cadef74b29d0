package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/platinummonkey/gatehouse/pkg/observability"
	"github.com/platinummonkey/gatehouse/pkg/storage"
)

// MinSigningSecretLength is the shortest accepted token signing secret
const MinSigningSecretLength = 32

// Config holds all application configuration
type Config struct {
	// Server configuration
	Server ServerConfig

	// Storage configuration (postgres and redis)
	Storage storage.Config

	// Session token configuration
	Session SessionConfig

	// SSO gateway configuration
	SSO SSOConfig

	// Permission cache configuration
	RBAC RBACConfig

	// API key resolution configuration
	Tenant TenantConfig

	// Login rate limiting
	RateLimit RateLimitConfig

	// Observability configuration
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

	// Health/metrics server (separate port for k8s probes)
	HealthPort string
}

// SessionConfig holds token signing settings
type SessionConfig struct {
	SigningSecret   string
	Issuer          string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
}

// SSOConfig holds identity provider gateway settings
type SSOConfig struct {
	// BaseURL is the public origin used to build callback URLs
	BaseURL string

	// ErrorURL receives failed flows as ?code=&details=
	ErrorURL string

	ExchangeTimeout    time.Duration
	AllowedReturnHosts []string

	// DefaultProviderFile points at the platform default provider (YAML)
	DefaultProviderFile string
}

// RBACConfig holds permission cache settings
type RBACConfig struct {
	CacheSize int
	CacheTTL  time.Duration
}

// TenantConfig holds API key resolution settings
type TenantConfig struct {
	// LoggingKeyFallback lets auth keys authenticate logging endpoints
	LoggingKeyFallback bool
}

// RateLimitConfig holds login rate limit settings
type RateLimitConfig struct {
	LoginAttemptsPerMinute int
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	// Logging
	LogLevel observability.LogLevel

	// Metrics
	MetricsEnabled bool

	// OpenTelemetry
	OTelEnabled        bool
	OTelEndpoint       string
	OTelServiceName    string
	OTelServiceVersion string
	OTelInsecure       bool // Use insecure gRPC connection
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server:        loadServerConfig(),
		Storage:       loadStorageConfig(),
		Session:       loadSessionConfig(),
		SSO:           loadSSOConfig(),
		RBAC:          loadRBACConfig(),
		Tenant:        TenantConfig{LoggingKeyFallback: getEnvBool("GATEHOUSE_LOGGING_KEY_FALLBACK", true)},
		RateLimit:     RateLimitConfig{LoginAttemptsPerMinute: getEnvInt("GATEHOUSE_LOGIN_ATTEMPTS_PER_MINUTE", 10)},
		Observability: loadObservabilityConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// loadServerConfig loads server configuration from environment
func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:            getEnv("GATEHOUSE_HOST", "0.0.0.0"),
		Port:            getEnv("GATEHOUSE_PORT", "8080"),
		ReadTimeout:     getEnvDuration("GATEHOUSE_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("GATEHOUSE_WRITE_TIMEOUT", 30*time.Second),
		IdleTimeout:     getEnvDuration("GATEHOUSE_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("GATEHOUSE_SHUTDOWN_TIMEOUT", 30*time.Second),
		MaxBodyBytes:    getEnvInt64("GATEHOUSE_MAX_BODY_BYTES", 1<<20),
		HealthPort:      getEnv("GATEHOUSE_HEALTH_PORT", "9090"),
	}
}

// loadStorageConfig loads storage configuration from environment
func loadStorageConfig() storage.Config {
	cfg := storage.DefaultConfig()

	// PostgreSQL config
	if pgURL := getEnv("GATEHOUSE_POSTGRES_URL", ""); pgURL != "" {
		cfg.PostgresURL = pgURL
	}
	if maxConns := getEnvInt("GATEHOUSE_POSTGRES_MAX_CONNS", 0); maxConns > 0 {
		cfg.PostgresMaxConns = maxConns
	}
	if minConns := getEnvInt("GATEHOUSE_POSTGRES_MIN_CONNS", 0); minConns > 0 {
		cfg.PostgresMinConns = minConns
	}
	if lifetime := getEnvDuration("GATEHOUSE_POSTGRES_CONN_LIFETIME", 0); lifetime > 0 {
		cfg.PostgresConnLifetime = lifetime
	}

	// Redis config
	if redisURL := getEnv("GATEHOUSE_REDIS_URL", ""); redisURL != "" {
		cfg.RedisURL = redisURL
	}
	if redisPoolSize := getEnvInt("GATEHOUSE_REDIS_POOL_SIZE", 0); redisPoolSize > 0 {
		cfg.RedisPoolSize = redisPoolSize
	}

	return cfg
}

// loadSessionConfig loads token settings from environment
func loadSessionConfig() SessionConfig {
	return SessionConfig{
		SigningSecret:   getEnv("GATEHOUSE_SIGNING_SECRET", ""),
		Issuer:          getEnv("GATEHOUSE_TOKEN_ISSUER", "gatehouse"),
		AccessTokenTTL:  getEnvDuration("GATEHOUSE_ACCESS_TOKEN_TTL", time.Hour),
		RefreshTokenTTL: getEnvDuration("GATEHOUSE_REFRESH_TOKEN_TTL", 168*time.Hour),
	}
}

// loadSSOConfig loads SSO gateway settings from environment
func loadSSOConfig() SSOConfig {
	return SSOConfig{
		BaseURL:             strings.TrimSuffix(getEnv("GATEHOUSE_BASE_URL", "http://localhost:8080"), "/"),
		ErrorURL:            getEnv("GATEHOUSE_SSO_ERROR_URL", "/auth/error"),
		ExchangeTimeout:     getEnvDuration("GATEHOUSE_SSO_EXCHANGE_TIMEOUT", 10*time.Second),
		AllowedReturnHosts:  getEnvList("GATEHOUSE_SSO_ALLOWED_RETURN_HOSTS"),
		DefaultProviderFile: getEnv("GATEHOUSE_DEFAULT_PROVIDER_FILE", ""),
	}
}

// loadRBACConfig loads permission cache settings from environment
func loadRBACConfig() RBACConfig {
	return RBACConfig{
		CacheSize: getEnvInt("GATEHOUSE_RBAC_CACHE_SIZE", 10000),
		CacheTTL:  getEnvDuration("GATEHOUSE_RBAC_CACHE_TTL", 5*time.Minute),
	}
}

// loadObservabilityConfig loads observability configuration from environment
func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:           observability.ParseLogLevel(getEnv("GATEHOUSE_LOG_LEVEL", "info")),
		MetricsEnabled:     getEnvBool("GATEHOUSE_METRICS_ENABLED", true),
		OTelEnabled:        getEnvBool("GATEHOUSE_OTEL_ENABLED", false),
		OTelEndpoint:       getEnv("GATEHOUSE_OTEL_ENDPOINT", "localhost:4317"),
		OTelServiceName:    getEnv("GATEHOUSE_OTEL_SERVICE_NAME", "gatehouse"),
		OTelServiceVersion: getEnv("GATEHOUSE_OTEL_SERVICE_VERSION", "1.0.0"),
		OTelInsecure:       getEnvBool("GATEHOUSE_OTEL_INSECURE", true),
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	// Validate server config
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}

	if c.Storage.PostgresURL == "" {
		return fmt.Errorf("postgres URL is required (GATEHOUSE_POSTGRES_URL)")
	}

	// A weak secret makes every token forgeable; refuse to start
	if len(c.Session.SigningSecret) < MinSigningSecretLength {
		return fmt.Errorf("signing secret must be at least %d characters (GATEHOUSE_SIGNING_SECRET)", MinSigningSecretLength)
	}
	if c.Session.AccessTokenTTL <= 0 || c.Session.RefreshTokenTTL <= 0 {
		return fmt.Errorf("token TTLs must be positive")
	}
	if c.Session.RefreshTokenTTL < c.Session.AccessTokenTTL {
		return fmt.Errorf("refresh token TTL must not be shorter than access token TTL")
	}

	if c.SSO.BaseURL == "" {
		return fmt.Errorf("base URL is required (GATEHOUSE_BASE_URL)")
	}
	if c.SSO.ExchangeTimeout <= 0 {
		return fmt.Errorf("SSO exchange timeout must be positive")
	}

	if c.RBAC.CacheSize <= 0 {
		return fmt.Errorf("RBAC cache size must be positive")
	}
	if c.RateLimit.LoginAttemptsPerMinute <= 0 {
		return fmt.Errorf("login attempts per minute must be positive")
	}

	// Validate OpenTelemetry config
	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
	}

	return nil
}

// TracingConfig converts the observability settings for InitTracing
func (c *Config) TracingConfig() observability.TracingConfig {
	return observability.TracingConfig{
		Enabled:        c.Observability.OTelEnabled,
		Endpoint:       c.Observability.OTelEndpoint,
		ServiceName:    c.Observability.OTelServiceName,
		ServiceVersion: c.Observability.OTelServiceVersion,
		Insecure:       c.Observability.OTelInsecure,
	}
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

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// getEnvList returns a comma separated environment variable as a trimmed list
func getEnvList(key string) []string {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

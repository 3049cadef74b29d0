package storage

import "time"

// Config holds connection settings for the relational store and the optional redis
type Config struct {
	// PostgreSQL config
	PostgresURL          string
	PostgresMaxConns     int
	PostgresMinConns     int
	PostgresTimeout      time.Duration
	PostgresConnLifetime time.Duration

	// Redis config. An empty URL disables redis.
	RedisURL        string
	RedisMaxRetries int
	RedisPoolSize   int
}

// DefaultConfig returns sensible default configuration
func DefaultConfig() Config {
	return Config{
		PostgresMaxConns:     20,
		PostgresMinConns:     2,
		PostgresTimeout:      10 * time.Second,
		PostgresConnLifetime: 30 * time.Minute,
		RedisMaxRetries:      3,
		RedisPoolSize:        10,
	}
}

// Package storage opens the gatehouse persistence backends and owns the schema.
//
// PostgreSQL holds tenants, API key hashes, users, roles and assignments,
// identity provider configurations, the session denylist and audit events.
// Redis is optional; when configured it backs the session denylist and the
// distributed login rate limiter.
//
//	db, err := storage.OpenPostgres(ctx, cfg.Storage)
//	if err := storage.RunMigrations(ctx, db, logger); err != nil {
//		...
//	}
//	redisClient, err := storage.NewRedisClient(ctx, cfg.Storage) // nil when disabled
//
// Migrations are append-only and recorded in schema_migrations; each one runs
// in its own transaction.
package storage

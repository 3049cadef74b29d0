package session

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/hashicorp/golang-lru/v2/expirable"
)

// RevocationStore is the session denylist
type RevocationStore interface {
	// Revoke denies refresh for sid until the given time
	Revoke(ctx context.Context, sid string, until time.Time) error
	IsRevoked(ctx context.Context, sid string) (bool, error)
}

// RedisRevocationStore keeps revoked session IDs as expiring redis keys
type RedisRevocationStore struct {
	client *redis.Client
	prefix string
}

// NewRedisRevocationStore creates a redis-backed denylist
func NewRedisRevocationStore(client *redis.Client) *RedisRevocationStore {
	return &RedisRevocationStore{client: client, prefix: "gatehouse:revoked:"}
}

// Revoke sets the key with a TTL equal to the remaining revocation window
func (s *RedisRevocationStore) Revoke(ctx context.Context, sid string, until time.Time) error {
	ttl := time.Until(until)
	if ttl <= 0 {
		// The refresh token has expired anyway
		return nil
	}
	if err := s.client.Set(ctx, s.prefix+sid, until.Unix(), ttl).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

// IsRevoked reports whether sid is on the denylist
func (s *RedisRevocationStore) IsRevoked(ctx context.Context, sid string) (bool, error) {
	n, err := s.client.Exists(ctx, s.prefix+sid).Result()
	if err != nil {
		return false, fmt.Errorf("redis exists failed: %w", err)
	}
	return n > 0, nil
}

// PostgresRevocationStore persists revoked session IDs in revoked_sessions
type PostgresRevocationStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewPostgresRevocationStore creates a database-backed denylist
func NewPostgresRevocationStore(db *sql.DB) *PostgresRevocationStore {
	return &PostgresRevocationStore{db: db, now: time.Now}
}

// Revoke records sid, extending an existing entry if the new window is longer
func (s *PostgresRevocationStore) Revoke(ctx context.Context, sid string, until time.Time) error {
	query := `
		INSERT INTO revoked_sessions (sid, revoked_until)
		VALUES ($1, $2)
		ON CONFLICT (sid) DO UPDATE
		SET revoked_until = GREATEST(revoked_sessions.revoked_until, EXCLUDED.revoked_until)
	`
	if _, err := s.db.ExecContext(ctx, query, sid, until.UTC()); err != nil {
		return fmt.Errorf("failed to revoke session: %w", err)
	}
	return nil
}

// IsRevoked reports whether sid has an unexpired denylist entry
func (s *PostgresRevocationStore) IsRevoked(ctx context.Context, sid string) (bool, error) {
	var revoked bool
	query := `SELECT EXISTS (SELECT 1 FROM revoked_sessions WHERE sid = $1 AND revoked_until > $2)`
	if err := s.db.QueryRowContext(ctx, query, sid, s.now().UTC()).Scan(&revoked); err != nil {
		return false, fmt.Errorf("failed to check session revocation: %w", err)
	}
	return revoked, nil
}

// PurgeExpired deletes entries whose window has passed
func (s *PostgresRevocationStore) PurgeExpired(ctx context.Context) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM revoked_sessions WHERE revoked_until <= $1`, s.now().UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to purge revoked sessions: %w", err)
	}
	return result.RowsAffected()
}

// MemoryRevocationStore is a single-node denylist on an expirable LRU.
// Entries older than maxTTL are evicted, so maxTTL must cover the refresh TTL.
type MemoryRevocationStore struct {
	entries *expirable.LRU[string, time.Time]
	now     func() time.Time
}

// NewMemoryRevocationStore creates an in-process denylist
func NewMemoryRevocationStore(size int, maxTTL time.Duration) *MemoryRevocationStore {
	return &MemoryRevocationStore{
		entries: expirable.NewLRU[string, time.Time](size, nil, maxTTL),
		now:     time.Now,
	}
}

// Revoke records sid until the given time
func (s *MemoryRevocationStore) Revoke(ctx context.Context, sid string, until time.Time) error {
	if existing, ok := s.entries.Get(sid); ok && existing.After(until) {
		return nil
	}
	s.entries.Add(sid, until)
	return nil
}

// IsRevoked reports whether sid is still denied
func (s *MemoryRevocationStore) IsRevoked(ctx context.Context, sid string) (bool, error) {
	until, ok := s.entries.Get(sid)
	return ok && until.After(s.now()), nil
}

package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/platinummonkey/gatehouse/pkg/storage"
)

// UserStore persists users
type UserStore interface {
	GetByID(ctx context.Context, tenantID, userID int64) (*User, error)
	// GetByEmail matches on the normalized email
	GetByEmail(ctx context.Context, tenantID int64, email string) (*User, error)
	Create(ctx context.Context, user *User) error
	TouchLastLogin(ctx context.Context, userID int64, at time.Time) error
}

// PostgresUserStore implements UserStore on the users table
type PostgresUserStore struct {
	db *sql.DB
}

// NewPostgresUserStore creates a user store
func NewPostgresUserStore(db *sql.DB) *PostgresUserStore {
	return &PostgresUserStore{db: db}
}

const userColumns = `id, tenant_id, email, name, password_hash, status, created_at, updated_at, last_login_at`

// GetByID returns a user of the tenant
func (s *PostgresUserStore) GetByID(ctx context.Context, tenantID, userID int64) (*User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE tenant_id = $1 AND id = $2`
	return scanUser(s.db.QueryRowContext(ctx, query, tenantID, userID))
}

// GetByEmail returns the tenant user with the normalized email
func (s *PostgresUserStore) GetByEmail(ctx context.Context, tenantID int64, email string) (*User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE tenant_id = $1 AND email = $2`
	return scanUser(s.db.QueryRowContext(ctx, query, tenantID, NormalizeEmail(email)))
}

// Create inserts user, normalizing its email
func (s *PostgresUserStore) Create(ctx context.Context, user *User) error {
	user.Email = NormalizeEmail(user.Email)
	if user.Status == "" {
		user.Status = UserStatusActive
	}

	query := `
		INSERT INTO users (tenant_id, email, name, password_hash, status)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at, updated_at
	`
	err := s.db.QueryRowContext(ctx, query,
		user.TenantID,
		user.Email,
		user.Name,
		nullString(user.PasswordHash),
		string(user.Status),
	).Scan(&user.ID, &user.CreatedAt, &user.UpdatedAt)
	if storage.IsUniqueViolation(err) {
		return ErrUserExists
	}
	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

// TouchLastLogin records a successful login
func (s *PostgresUserStore) TouchLastLogin(ctx context.Context, userID int64, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE users SET last_login_at = $1, updated_at = $1 WHERE id = $2`,
		at.UTC(), userID,
	)
	if err != nil {
		return fmt.Errorf("failed to update last login: %w", err)
	}
	return nil
}

func scanUser(row *sql.Row) (*User, error) {
	var user User
	var passwordHash sql.NullString
	var status string
	var lastLogin sql.NullTime

	err := row.Scan(
		&user.ID,
		&user.TenantID,
		&user.Email,
		&user.Name,
		&passwordHash,
		&status,
		&user.CreatedAt,
		&user.UpdatedAt,
		&lastLogin,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	user.PasswordHash = passwordHash.String
	user.Status = UserStatus(status)
	if lastLogin.Valid {
		t := lastLogin.Time
		user.LastLoginAt = &t
	}
	return &user, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

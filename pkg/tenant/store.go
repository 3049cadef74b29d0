package tenant

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/platinummonkey/gatehouse/pkg/storage"
)

// Store looks up tenants and their API key hashes
type Store interface {
	// GetByAPIKey returns the tenant owning the key hash for module, or ErrInvalidKey
	GetByAPIKey(ctx context.Context, module Module, keyHash string) (*Tenant, error)
	GetByID(ctx context.Context, id int64) (*Tenant, error)
	GetByOrgID(ctx context.Context, orgID string) (*Tenant, error)
	// CreateAPIKey stores a key hash; keys are immutable, so a second key for the same module fails with ErrKeyExists
	CreateAPIKey(ctx context.Context, tenantID int64, module Module, keyHash string) error
}

// PostgresStore implements Store against the tenants and tenant_api_keys tables
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new tenant store
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const tenantColumns = `t.id, t.org_id, t.name, t.status, t.created_at, t.updated_at`

// GetByAPIKey returns the tenant owning keyHash in module
func (s *PostgresStore) GetByAPIKey(ctx context.Context, module Module, keyHash string) (*Tenant, error) {
	query := `
		SELECT ` + tenantColumns + `
		FROM tenants t
		JOIN tenant_api_keys k ON k.tenant_id = t.id
		WHERE k.module = $1 AND k.key_hash = $2
	`
	t, err := scanTenant(s.db.QueryRowContext(ctx, query, string(module), keyHash))
	if errors.Is(err, ErrTenantNotFound) {
		return nil, ErrInvalidKey
	}
	return t, err
}

// GetByID returns a tenant by primary key
func (s *PostgresStore) GetByID(ctx context.Context, id int64) (*Tenant, error) {
	query := `SELECT ` + tenantColumns + ` FROM tenants t WHERE t.id = $1`
	return scanTenant(s.db.QueryRowContext(ctx, query, id))
}

// GetByOrgID returns a tenant by its public organization identifier
func (s *PostgresStore) GetByOrgID(ctx context.Context, orgID string) (*Tenant, error) {
	query := `SELECT ` + tenantColumns + ` FROM tenants t WHERE t.org_id = $1`
	return scanTenant(s.db.QueryRowContext(ctx, query, orgID))
}

// CreateAPIKey stores the hash of a freshly generated key
func (s *PostgresStore) CreateAPIKey(ctx context.Context, tenantID int64, module Module, keyHash string) error {
	query := `INSERT INTO tenant_api_keys (tenant_id, module, key_hash) VALUES ($1, $2, $3)`
	if _, err := s.db.ExecContext(ctx, query, tenantID, string(module), keyHash); err != nil {
		if storage.IsUniqueViolation(err) {
			return ErrKeyExists
		}
		return fmt.Errorf("failed to create API key: %w", err)
	}
	return nil
}

func scanTenant(row *sql.Row) (*Tenant, error) {
	var t Tenant
	var status string
	err := row.Scan(&t.ID, &t.OrgID, &t.Name, &status, &t.CreatedAt, &t.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrTenantNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get tenant: %w", err)
	}
	t.Status = Status(status)
	return &t, nil
}

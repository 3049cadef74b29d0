package rbac

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/platinummonkey/gatehouse/pkg/storage"
)

// Store persists roles and assignments. Every mutation bumps the tenant's
// role-set version in the same transaction.
type Store interface {
	ListRoles(ctx context.Context, tenantID int64) ([]*Role, error)
	GetRole(ctx context.Context, tenantID, roleID int64) (*Role, error)
	CreateRole(ctx context.Context, role *Role) error
	DeleteRole(ctx context.Context, tenantID, roleID int64) error
	AssignRole(ctx context.Context, assignment *RoleAssignment) error
	RevokeRole(ctx context.Context, tenantID, userID, roleID int64) error
	GetUserRoles(ctx context.Context, tenantID, userID int64) ([]*Role, error)
	RoleSetVersion(ctx context.Context, tenantID int64) (int64, error)
	ListUserIDsWithRole(ctx context.Context, tenantID, roleID int64) ([]int64, error)
	SeedSystemRoles(ctx context.Context, tenantID int64) error
}

// SQLStore implements Store on database/sql. Queries are portable between
// postgres and sqlite.
type SQLStore struct {
	db *sql.DB

	// onBump is called after a committed version bump
	onBump func()
	now    func() time.Time
}

// NewSQLStore creates a store
func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db, onBump: func() {}, now: time.Now}
}

// OnVersionBump registers a callback run after each committed mutation
func (s *SQLStore) OnVersionBump(fn func()) {
	if fn != nil {
		s.onBump = fn
	}
}

const roleColumns = `r.id, r.tenant_id, r.name, r.description, r.permissions, r.priority, r.is_system_role, r.created_at, r.updated_at`

// ListRoles returns the tenant's roles ordered by priority then id
func (s *SQLStore) ListRoles(ctx context.Context, tenantID int64) ([]*Role, error) {
	query := `SELECT ` + roleColumns + ` FROM roles r WHERE r.tenant_id = $1 ORDER BY r.priority, r.id`
	rows, err := s.db.QueryContext(ctx, query, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list roles: %w", err)
	}
	defer rows.Close()
	return scanRoles(rows)
}

// GetRole returns one role of the tenant
func (s *SQLStore) GetRole(ctx context.Context, tenantID, roleID int64) (*Role, error) {
	query := `SELECT ` + roleColumns + ` FROM roles r WHERE r.tenant_id = $1 AND r.id = $2`
	role, err := scanRole(s.db.QueryRowContext(ctx, query, tenantID, roleID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRoleNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get role: %w", err)
	}
	return role, nil
}

// CreateRole inserts role and fills its ID and timestamps
func (s *SQLStore) CreateRole(ctx context.Context, role *Role) error {
	for _, p := range role.Permissions {
		if err := ValidatePattern(p); err != nil {
			return err
		}
	}
	if role.Permissions == nil {
		role.Permissions = []string{}
	}
	permissions, err := json.Marshal(role.Permissions)
	if err != nil {
		return fmt.Errorf("failed to marshal permissions: %w", err)
	}

	return s.mutate(ctx, role.TenantID, func(tx *sql.Tx) error {
		var exists bool
		err := tx.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM roles WHERE tenant_id = $1 AND name = $2)`,
			role.TenantID, role.Name,
		).Scan(&exists)
		if err != nil {
			return fmt.Errorf("failed to check role name: %w", err)
		}
		if exists {
			return ErrRoleExists
		}

		now := s.now().UTC()
		query := `
			INSERT INTO roles (tenant_id, name, description, permissions, priority, is_system_role, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			RETURNING id
		`
		err = tx.QueryRowContext(ctx, query,
			role.TenantID,
			role.Name,
			role.Description,
			string(permissions),
			role.Priority,
			role.IsSystemRole,
			now,
			now,
		).Scan(&role.ID)
		if storage.IsUniqueViolation(err) {
			return ErrRoleExists
		}
		if err != nil {
			return fmt.Errorf("failed to create role: %w", err)
		}
		role.CreatedAt = now
		role.UpdatedAt = now
		return nil
	})
}

// DeleteRole removes a custom role and its assignments
func (s *SQLStore) DeleteRole(ctx context.Context, tenantID, roleID int64) error {
	return s.mutate(ctx, tenantID, func(tx *sql.Tx) error {
		var system bool
		err := tx.QueryRowContext(ctx,
			`SELECT is_system_role FROM roles WHERE tenant_id = $1 AND id = $2`,
			tenantID, roleID,
		).Scan(&system)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrRoleNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to get role: %w", err)
		}
		if system {
			return ErrSystemRole
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM user_roles WHERE role_id = $1`, roleID); err != nil {
			return fmt.Errorf("failed to delete role assignments: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM roles WHERE id = $1`, roleID); err != nil {
			return fmt.Errorf("failed to delete role: %w", err)
		}
		return nil
	})
}

// AssignRole binds a tenant role to a tenant user. Assigning twice is a no-op.
func (s *SQLStore) AssignRole(ctx context.Context, a *RoleAssignment) error {
	return s.mutate(ctx, a.TenantID, func(tx *sql.Tx) error {
		var found bool
		err := tx.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM roles WHERE tenant_id = $1 AND id = $2)`,
			a.TenantID, a.RoleID,
		).Scan(&found)
		if err != nil {
			return fmt.Errorf("failed to check role: %w", err)
		}
		if !found {
			return ErrRoleNotFound
		}

		err = tx.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM users WHERE tenant_id = $1 AND id = $2)`,
			a.TenantID, a.UserID,
		).Scan(&found)
		if err != nil {
			return fmt.Errorf("failed to check user: %w", err)
		}
		if !found {
			return ErrUserNotFound
		}

		a.AssignedAt = s.now().UTC()
		query := `
			INSERT INTO user_roles (user_id, role_id, tenant_id, assigned_by, assigned_at)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (user_id, role_id) DO NOTHING
		`
		if _, err := tx.ExecContext(ctx, query, a.UserID, a.RoleID, a.TenantID, a.AssignedBy, a.AssignedAt); err != nil {
			return fmt.Errorf("failed to assign role: %w", err)
		}
		return nil
	})
}

// RevokeRole removes an assignment
func (s *SQLStore) RevokeRole(ctx context.Context, tenantID, userID, roleID int64) error {
	return s.mutate(ctx, tenantID, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx,
			`DELETE FROM user_roles WHERE tenant_id = $1 AND user_id = $2 AND role_id = $3`,
			tenantID, userID, roleID,
		)
		if err != nil {
			return fmt.Errorf("failed to revoke role: %w", err)
		}
		n, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to revoke role: %w", err)
		}
		if n == 0 {
			return ErrAssignmentNotFound
		}
		return nil
	})
}

// GetUserRoles returns the roles assigned to a user ordered by priority then id
func (s *SQLStore) GetUserRoles(ctx context.Context, tenantID, userID int64) ([]*Role, error) {
	query := `
		SELECT ` + roleColumns + `
		FROM roles r
		JOIN user_roles ur ON ur.role_id = r.id
		WHERE ur.tenant_id = $1 AND ur.user_id = $2 AND r.tenant_id = ur.tenant_id
		ORDER BY r.priority, r.id
	`
	rows, err := s.db.QueryContext(ctx, query, tenantID, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get user roles: %w", err)
	}
	defer rows.Close()
	return scanRoles(rows)
}

// RoleNames returns the names of the user's roles, for embedding in session tokens
func (s *SQLStore) RoleNames(ctx context.Context, tenantID, userID int64) ([]string, error) {
	roles, err := s.GetUserRoles(ctx, tenantID, userID)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(roles))
	for _, role := range roles {
		names = append(names, role.Name)
	}
	return names, nil
}

// AssignDefaultRole gives a newly provisioned user the built-in User role.
// Tenants without seeded system roles are left untouched.
func (s *SQLStore) AssignDefaultRole(ctx context.Context, tenantID, userID int64) error {
	var roleID int64
	err := s.db.QueryRowContext(ctx,
		`SELECT id FROM roles WHERE tenant_id = $1 AND name = $2 AND is_system_role = $3`,
		tenantID, RoleUser, true,
	).Scan(&roleID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to find default role: %w", err)
	}
	return s.AssignRole(ctx, &RoleAssignment{TenantID: tenantID, UserID: userID, RoleID: roleID})
}

// RoleSetVersion returns the tenant's current role-set version, 0 before any mutation
func (s *SQLStore) RoleSetVersion(ctx context.Context, tenantID int64) (int64, error) {
	var version int64
	err := s.db.QueryRowContext(ctx,
		`SELECT version FROM tenant_role_versions WHERE tenant_id = $1`, tenantID,
	).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read role set version: %w", err)
	}
	return version, nil
}

// ListUserIDsWithRole returns the users holding a role
func (s *SQLStore) ListUserIDsWithRole(ctx context.Context, tenantID, roleID int64) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id FROM user_roles WHERE tenant_id = $1 AND role_id = $2 ORDER BY user_id`,
		tenantID, roleID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list role members: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// SeedSystemRoles creates the built-in roles for a tenant if missing
func (s *SQLStore) SeedSystemRoles(ctx context.Context, tenantID int64) error {
	return s.mutate(ctx, tenantID, func(tx *sql.Tx) error {
		now := s.now().UTC()
		query := `
			INSERT INTO roles (tenant_id, name, description, permissions, priority, is_system_role, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (tenant_id, name) DO NOTHING
		`
		for _, role := range SystemRoles() {
			permissions, err := json.Marshal(role.Permissions)
			if err != nil {
				return fmt.Errorf("failed to marshal permissions: %w", err)
			}
			if _, err := tx.ExecContext(ctx, query,
				tenantID, role.Name, role.Description, string(permissions), role.Priority, true, now, now,
			); err != nil {
				return fmt.Errorf("failed to seed role %s: %w", role.Name, err)
			}
		}
		return nil
	})
}

// mutate runs fn and the version bump in one transaction
func (s *SQLStore) mutate(ctx context.Context, tenantID int64, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}

	bump := `
		INSERT INTO tenant_role_versions (tenant_id, version)
		VALUES ($1, 1)
		ON CONFLICT (tenant_id) DO UPDATE SET version = tenant_role_versions.version + 1
	`
	if _, err := tx.ExecContext(ctx, bump, tenantID); err != nil {
		return fmt.Errorf("failed to bump role set version: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	s.onBump()
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRole(row rowScanner) (*Role, error) {
	var role Role
	var permissions string
	var description sql.NullString
	err := row.Scan(
		&role.ID,
		&role.TenantID,
		&role.Name,
		&description,
		&permissions,
		&role.Priority,
		&role.IsSystemRole,
		&role.CreatedAt,
		&role.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	role.Description = description.String
	role.Permissions = []string{}
	if permissions != "" {
		if err := json.Unmarshal([]byte(permissions), &role.Permissions); err != nil {
			return nil, fmt.Errorf("failed to unmarshal permissions of role %d: %w", role.ID, err)
		}
	}
	return &role, nil
}

func scanRoles(rows *sql.Rows) ([]*Role, error) {
	roles := []*Role{}
	for rows.Next() {
		role, err := scanRole(rows)
		if err != nil {
			return nil, err
		}
		roles = append(roles, role)
	}
	return roles, rows.Err()
}

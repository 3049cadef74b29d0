package rbac

import (
	"errors"
	"time"
)

var (
	ErrRoleNotFound       = errors.New("role not found")
	ErrRoleExists         = errors.New("role already exists")
	ErrSystemRole         = errors.New("system roles cannot be modified")
	ErrUserNotFound       = errors.New("user not found")
	ErrAssignmentNotFound = errors.New("role assignment not found")
	ErrInvalidPattern     = errors.New("invalid permission pattern")
)

// Wildcard grants every permission
const Wildcard = "*"

// Role is a tenant-scoped, named set of permission patterns
type Role struct {
	ID           int64     `json:"id"`
	TenantID     int64     `json:"tenantId"`
	Name         string    `json:"name"`
	Description  string    `json:"description"`
	Permissions  []string  `json:"permissions"`
	Priority     int       `json:"priority"` // lower is more privileged
	IsSystemRole bool      `json:"isSystemRole"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// RoleAssignment binds a role to a user
type RoleAssignment struct {
	UserID     int64     `json:"userId"`
	RoleID     int64     `json:"roleId"`
	TenantID   int64     `json:"tenantId"`
	AssignedBy *int64    `json:"assignedBy,omitempty"`
	AssignedAt time.Time `json:"assignedAt"`
}

// Built-in role names
const (
	RoleAdmin = "Admin"
	RoleUser  = "User"
)

// SystemRoles returns the roles every tenant starts with
func SystemRoles() []Role {
	return []Role{
		{
			Name:         RoleAdmin,
			Description:  "Unrestricted access to the tenant",
			Permissions:  []string{Wildcard},
			Priority:     0,
			IsSystemRole: true,
		},
		{
			Name:         RoleUser,
			Description:  "Default role for provisioned users",
			Permissions:  []string{"profile.read", "profile.update"},
			Priority:     100,
			IsSystemRole: true,
		},
	}
}

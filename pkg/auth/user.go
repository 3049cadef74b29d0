package auth

import (
	"errors"
	"strings"
	"time"
)

var (
	ErrUserNotFound       = errors.New("user not found")
	ErrUserExists         = errors.New("user already exists")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUserSuspended      = errors.New("user suspended")
)

// UserStatus is the lifecycle state of a user
type UserStatus string

const (
	UserStatusActive    UserStatus = "active"
	UserStatusSuspended UserStatus = "suspended"
)

// User is a tenant-scoped identity. SSO-only users have no password hash.
type User struct {
	ID           int64      `json:"id"`
	TenantID     int64      `json:"tenantId"`
	Email        string     `json:"email"`
	Name         string     `json:"name"`
	PasswordHash string     `json:"-"`
	Status       UserStatus `json:"status"`
	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`
	LastLoginAt  *time.Time `json:"lastLoginAt,omitempty"`
}

// IsActive reports whether the user may log in
func (u *User) IsActive() bool {
	return u.Status == UserStatusActive
}

// HasPassword reports whether local login is possible
func (u *User) HasPassword() bool {
	return u.PasswordHash != ""
}

// NormalizeEmail lowercases and trims an address; users are matched on the result
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

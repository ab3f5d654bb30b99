// Package model defines the core domain types shared by the control plane,
// the permission evaluator, and the persistence layer.
package model

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const MaxUsernameLength = 32

var ErrUsernameEmpty = errors.New("username must not be empty")
var ErrUsernameTooLong = fmt.Errorf("username must not exceed %d characters", MaxUsernameLength)
var ErrUsernameInvalidChars = errors.New("username must contain only alphanumeric characters, underscores, or hyphens")
var ErrInvalidSystemRole = errors.New("invalid role: must be user or admin")

// SystemRole is the coarse built-in role carried on every User. It is
// distinct from the named, permission-bearing Role entities the RBAC system
// composes on top of it (see role.go) — SystemRole never appears in a
// permission override, it only ever widens access (admins bypass the
// evaluator entirely, see pkg/rbac).
type SystemRole int

const (
	SystemRoleUser SystemRole = iota
	SystemRoleAdmin
)

func (r SystemRole) String() string {
	switch r {
	case SystemRoleAdmin:
		return "admin"
	default:
		return "user"
	}
}

// ParseSystemRole converts a wire string to a SystemRole, defaulting to user.
func ParseSystemRole(s string) SystemRole {
	if s == "admin" {
		return SystemRoleAdmin
	}
	return SystemRoleUser
}

func (r SystemRole) Valid() bool {
	return r == SystemRoleUser || r == SystemRoleAdmin
}

// User is a registered account. Identity is immutable after creation except
// for PasswordHash (not modeled here, the spec has no password-change
// endpoint) and Role (changed by an admin via set_user_role).
type User struct {
	ID           uuid.UUID
	Username     string // unique; lookups and the uniqueness check are case-sensitive
	PasswordHash []byte // argon2id digest, see pkg/crypto
	PasswordSalt []byte
	Role         SystemRole
	CreatedAt    time.Time
}

// ValidateUsername checks that a username is 1-32 ASCII alphanumeric,
// underscore, or hyphen characters. Usernames are stored as given and both
// datastores compare them case-sensitively, so "Alice" and "alice" are two
// distinct accounts.
func ValidateUsername(name string) error {
	if len(name) == 0 {
		return ErrUsernameEmpty
	}
	if len(name) > MaxUsernameLength {
		return ErrUsernameTooLong
	}
	for _, r := range name {
		if (r < 'a' || r > 'z') && (r < 'A' || r > 'Z') && (r < '0' || r > '9') && r != '_' && r != '-' {
			return ErrUsernameInvalidChars
		}
	}
	return nil
}

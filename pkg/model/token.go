package model

import (
	"time"

	"github.com/google/uuid"
)

// Token is an opaque bearer credential. The raw value is handed to the
// client once at issuance and never persisted; only Hash (SHA-256 of the raw
// value, see pkg/crypto.HashToken) is stored.
type Token struct {
	Hash      string
	UserID    uuid.UUID
	IssuedAt  time.Time
	ExpiresAt time.Time // zero = never expires
}

// Expired reports whether the token's lifetime has elapsed as of now.
func (t *Token) Expired(now time.Time) bool {
	if t.ExpiresAt.IsZero() {
		return false
	}
	return now.After(t.ExpiresAt)
}

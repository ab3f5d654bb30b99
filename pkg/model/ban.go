package model

import (
	"time"

	"github.com/google/uuid"
)

// Ban is a supplemental moderation record (not named by spec.md, carried
// over from the teacher's ban list as a natural extension of the in-scope
// moderation primitives — see SPEC_FULL §3). A banned user is rejected at
// login, before the connection's session is authenticated.
type Ban struct {
	ID        int64
	UserID    uuid.UUID
	Reason    string
	BannedBy  uuid.UUID
	ExpiresAt time.Time // zero = permanent
	CreatedAt time.Time
}

// Active reports whether the ban is currently in effect.
func (b *Ban) Active(now time.Time) bool {
	if b.ExpiresAt.IsZero() {
		return true
	}
	return now.Before(b.ExpiresAt)
}

package model

import "github.com/google/uuid"

// Session is the ephemeral per-connection record maintained for the
// lifetime of one control-plane TLS connection. ID is a server-generated
// random handle distinct from the client-chosen audio ClientID (see
// pkg/channel's endpoint registry) — the two are bound together only once
// register_udp arrives.
type Session struct {
	ID        uint64
	UserID    uuid.UUID // zero value until login succeeds
	Username  string
	Role      SystemRole
	ChannelID uuid.UUID // zero value when not in a channel
}

// Authenticated reports whether login has completed for this session.
func (s Session) Authenticated() bool {
	return s.UserID != uuid.Nil
}

package model

import "github.com/google/uuid"

// PermissionState is the resolved or overridden state of one permission for
// one subject (a role, a user, or a user within a channel). It serializes on
// the wire as a lowercase string and is stored internally as the numeric
// value the spec assigns it (0=Allow, 1=Deny, 2=Neutral) so persistence and
// the wire format agree without a translation table.
type PermissionState int

const (
	StateAllow PermissionState = iota
	StateDeny
	StateNeutral
)

func (s PermissionState) String() string {
	switch s {
	case StateAllow:
		return "allow"
	case StateDeny:
		return "deny"
	default:
		return "neutral"
	}
}

// ParsePermissionState parses a wire string, including the JSON null case
// callers translate to the empty string before calling in (set_user_permission
// payloads use `null` to mean "clear the override", handled by the caller).
func ParsePermissionState(s string) PermissionState {
	switch s {
	case "allow":
		return StateAllow
	case "deny":
		return StateDeny
	default:
		return StateNeutral
	}
}

// Permission is a member of the closed set of actions the server knows how
// to gate. The set is fixed at compile time; there is no dynamic permission
// registration.
type Permission struct {
	ID          string
	Name        string
	Description string
}

const (
	PermAdmin          = "admin"
	PermChannelAccess  = "channel_access"
	PermCreateChannel  = "create_channel"
	PermSendMessage    = "send_message"
	PermKickUser       = "kick_user"
	PermBanUser        = "ban_user"
	PermManageTokens   = "manage_tokens"
	PermManageRoles    = "manage_roles"
	PermDeleteChannel  = "delete_channel"
)

// BuiltinPermissions is the closed catalog of permissions the server
// evaluates. Order is stable for list_permissions responses.
var BuiltinPermissions = []Permission{
	{ID: PermAdmin, Name: "Administrator", Description: "bypasses all permission checks"},
	{ID: PermChannelAccess, Name: "Channel Access", Description: "join a restricted voice or text channel"},
	{ID: PermCreateChannel, Name: "Create Channel", Description: "create new channels"},
	{ID: PermSendMessage, Name: "Send Message", Description: "post chat messages in a channel"},
	{ID: PermKickUser, Name: "Kick User", Description: "force-disconnect a connected user"},
	{ID: PermBanUser, Name: "Ban User", Description: "persistently ban a user from authenticating"},
	{ID: PermManageTokens, Name: "Manage Tokens", Description: "issue and revoke bearer tokens"},
	{ID: PermManageRoles, Name: "Manage Roles", Description: "assign or revoke roles and direct overrides"},
	{ID: PermDeleteChannel, Name: "Delete Channel", Description: "delete an existing channel"},
}

// Role is a named, permission-bearing role users can hold in addition to
// their SystemRole. Roles compose: a user may hold several, and the
// evaluator merges every permission state they carry (see pkg/rbac).
type Role struct {
	ID          uuid.UUID
	Name        string
	Permissions map[string]PermissionState // permissionID -> state
}

// UserPermission is a direct per-user override of one permission, taking
// precedence alongside (not over) role-derived states in the merge.
type UserPermission struct {
	UserID       uuid.UUID
	PermissionID string
	State        PermissionState
}

// UserRole records that a user holds a named Role.
type UserRole struct {
	UserID uuid.UUID
	RoleID uuid.UUID
}

// ChannelRolePermission overrides one permission's state for one role,
// scoped to one channel. Only channel_access is meaningful today but the
// shape is general per the spec's data model.
type ChannelRolePermission struct {
	ChannelID    uuid.UUID
	RoleID       uuid.UUID
	PermissionID string
	State        PermissionState
}

// ChannelUserPermission overrides one permission's state for one user,
// scoped to one channel.
type ChannelUserPermission struct {
	ChannelID    uuid.UUID
	UserID       uuid.UUID
	PermissionID string
	State        PermissionState
}

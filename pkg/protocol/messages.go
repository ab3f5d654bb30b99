package protocol

import (
	"time"

	"github.com/google/uuid"
)

// Frame type strings. Each constant is the literal value carried in a
// Frame's Type field.
const (
	TypeLogin         = "login"
	TypeLoginResponse = "login_response"

	TypePing = "ping"
	TypePong = "pong"

	TypeRequestServerState = "request_server_state"
	TypeServerState        = "server_state"

	TypeCreateChannel = "create_channel"
	TypeDeleteChannel = "delete_channel"

	TypeJoinChannel = "join_channel"
	TypeJoinRoom    = "join_room" // alias of TypeJoinChannel
	TypeRoomJoined  = "room_joined"

	TypeLeaveChannel = "leave_channel"
	TypeLeaveRoom    = "leave_room" // alias of TypeLeaveChannel
	TypeRoomLeft     = "room_left"  // sent only to the leaving client
	TypeMemberLeft   = "member_left"
	TypeMemberJoined = "member_joined"

	TypeRegisterUDP         = "register_udp"
	TypeRegisterUDPResponse = "register_udp_response"
	TypeMemberUDPRegistered = "member_udp_registered"

	TypeListPermissions = "list_permissions"
	TypePermissionsList = "permissions_list"

	TypeListRoles = "list_roles"
	TypeRolesList = "roles_list"

	TypeGetUserPermissions = "get_user_permissions"
	TypeUserPermissions    = "user_permissions"
	TypeSetUserPermission  = "set_user_permission"
	TypeSetUserRole        = "set_user_role"

	TypeGetChannelPermissions    = "get_channel_permissions"
	TypeChannelPermissions       = "channel_permissions"
	TypeSetChannelRolePermission = "set_channel_role_permission"
	TypeSetChannelUserPermission = "set_channel_user_permission"

	TypeSendMessage         = "send_message"
	TypeMessageReceived     = "message_received"
	TypeGetMessageHistory   = "get_message_history"
	TypeListChannelMessages = "list_channel_messages" // alias of TypeGetMessageHistory
	TypeMessageHistory      = "message_history"

	TypeKickUser = "kick_user"
	TypeBanUser  = "ban_user"

	TypeError = "error"
)

// ----- Auth -----

// LoginPayload is the client's credential submission. Either Token alone,
// or Username+Password, must be set.
type LoginPayload struct {
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
	Token    string `json:"token,omitempty"`
}

type LoginResponsePayload struct {
	Success   bool      `json:"success"`
	Error     string    `json:"error,omitempty"`
	UserID    uuid.UUID `json:"userId,omitempty"`
	Username  string    `json:"username,omitempty"`
	Role      string    `json:"role,omitempty"`
	IsAdmin   bool      `json:"isAdmin"`
	Token     string    `json:"token,omitempty"` // issued once, when login created a new token
	SessionID uint64    `json:"sessionId,omitempty"`
}

// ----- Heartbeat -----

type PingPayload struct {
	Timestamp int64 `json:"timestamp"`
}

type PongPayload struct {
	Timestamp int64 `json:"timestamp"`
}

// ----- Server / channel state -----

// ChannelMember is the per-member detail attached to a channel snapshot:
// enough for a client to render a roster without a separate round trip per
// user.
type ChannelMember struct {
	UserID   uuid.UUID `json:"userId"`
	Username string    `json:"username"`
	ClientID uint32    `json:"clientId,omitempty"`
	IsAdmin  bool      `json:"isAdmin"`
}

type ChannelSummary struct {
	ID        uuid.UUID       `json:"id"`
	Name      string          `json:"name"`
	Type      string          `json:"type"`
	IsDefault bool            `json:"isDefault"`
	MemberIDs []uuid.UUID     `json:"memberIds"`
	Members   []ChannelMember `json:"members"`
}

type ServerStatePayload struct {
	Channels         []ChannelSummary `json:"channels"`
	CanCreateChannel bool             `json:"canCreateChannel"`
}

type CreateChannelPayload struct {
	Name string `json:"name"`
	Type string `json:"type,omitempty"`
}

type DeleteChannelPayload struct {
	ChannelID uuid.UUID `json:"channelId"`
}

// ----- Channel membership -----

type JoinChannelPayload struct {
	ChannelID uuid.UUID `json:"roomId"`
}

type RoomJoinedPayload struct {
	ChannelID   uuid.UUID       `json:"roomId"`
	ChannelName string          `json:"roomName"`
	KeyMaterial []byte          `json:"keyMaterial,omitempty"` // base64, voice channels only
	MemberIDs   []uuid.UUID     `json:"memberIds"`
	Members     []ChannelMember `json:"members"`
}

type LeaveChannelPayload struct {
	ChannelID uuid.UUID `json:"roomId,omitempty"`
}

type RoomLeftPayload struct {
	ChannelID uuid.UUID `json:"roomId"`
}

type MemberLeftPayload struct {
	ChannelID uuid.UUID `json:"channelId"`
	UserID    uuid.UUID `json:"userId"`
}

type MemberJoinedPayload struct {
	ChannelID uuid.UUID `json:"channelId"`
	UserID    uuid.UUID `json:"userId"`
	Username  string    `json:"username"`
}

// ----- UDP endpoint registration -----

type RegisterUDPPayload struct {
	ClientID uint32 `json:"clientId"`
}

type RegisterUDPResponsePayload struct {
	Success  bool   `json:"success"`
	ClientID uint32 `json:"clientId"`
}

type MemberUDPRegisteredPayload struct {
	ChannelID uuid.UUID `json:"channelId"`
	UserID    uuid.UUID `json:"userId"`
}

// ----- Permissions / roles -----

type PermissionInfo struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

type PermissionsListPayload struct {
	Permissions []PermissionInfo `json:"permissions"`
}

type RoleInfo struct {
	ID          uuid.UUID         `json:"id"`
	Name        string            `json:"name"`
	Permissions map[string]string `json:"permissions"`
}

type RolesListPayload struct {
	Roles []RoleInfo `json:"roles"`
}

type GetUserPermissionsPayload struct {
	UserID uuid.UUID `json:"userId"`
}

// PermissionState names the resolved state of one permission on the wire.
type PermissionState struct {
	PermissionID string `json:"permissionId"`
	State        string `json:"state"`
}

type UserPermissionsPayload struct {
	UserID      uuid.UUID         `json:"userId"`
	Permissions []PermissionState `json:"permissions"`
	RoleIDs     []uuid.UUID       `json:"roleIds"`
}

// SetUserPermissionPayload carries a permission override for a user.
// State "" (or absent) clears the override back to neutral.
type SetUserPermissionPayload struct {
	UserID       uuid.UUID `json:"userId"`
	PermissionID string    `json:"permissionId"`
	State        string    `json:"state,omitempty"`
}

type SetUserRolePayload struct {
	UserID uuid.UUID `json:"userId"`
	Role   string    `json:"role"`
}

type GetChannelPermissionsPayload struct {
	ChannelID uuid.UUID `json:"channelId"`
}

// RolePermissionState is one channel-scoped override held by a role.
type RolePermissionState struct {
	RoleID       uuid.UUID `json:"roleId"`
	PermissionID string    `json:"permissionId"`
	State        string    `json:"state"`
}

// UserPermissionState is one channel-scoped override held directly by a
// user.
type UserPermissionState struct {
	UserID       uuid.UUID `json:"userId"`
	PermissionID string    `json:"permissionId"`
	State        string    `json:"state"`
}

type ChannelPermissionsPayload struct {
	ChannelID  uuid.UUID             `json:"channelId"`
	RoleStates []RolePermissionState `json:"roleStates"`
	UserStates []UserPermissionState `json:"userStates"`
}

type SetChannelRolePermissionPayload struct {
	ChannelID    uuid.UUID `json:"channelId"`
	RoleID       uuid.UUID `json:"roleId"`
	PermissionID string    `json:"permissionId"`
	State        string    `json:"state,omitempty"`
}

type SetChannelUserPermissionPayload struct {
	ChannelID    uuid.UUID `json:"channelId"`
	UserID       uuid.UUID `json:"userId"`
	PermissionID string    `json:"permissionId"`
	State        string    `json:"state,omitempty"`
}

// ----- Chat -----

type SendMessagePayload struct {
	ChannelID uuid.UUID `json:"channelId"`
	Content   string    `json:"content"`
}

type MessageReceivedPayload struct {
	ChannelID uuid.UUID `json:"channelId"`
	SenderID  uuid.UUID `json:"senderId"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

type GetMessageHistoryPayload struct {
	ChannelID uuid.UUID `json:"channelId"`
	Since     time.Time `json:"since,omitempty"`
	Limit     int       `json:"limit,omitempty"`
}

type MessageHistoryPayload struct {
	ChannelID uuid.UUID                `json:"channelId"`
	Messages  []MessageReceivedPayload `json:"messages"`
}

// ----- Moderation -----

type KickUserPayload struct {
	UserID uuid.UUID `json:"userId"`
	Reason string    `json:"reason,omitempty"`
}

type BanUserPayload struct {
	UserID          uuid.UUID `json:"userId"`
	Reason          string    `json:"reason,omitempty"`
	DurationSeconds int64     `json:"durationSeconds,omitempty"` // 0 = permanent
}

// ----- Errors -----

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

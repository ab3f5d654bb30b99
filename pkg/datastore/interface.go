// Package datastore defines the persistence interfaces the rest of the
// server depends on, and provides an in-memory and a SQLite-backed
// implementation of them.
package datastore

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/bg9m9r/whispr-sub001/pkg/model"
)

// DataStore is the full persistence surface, composed from the per-entity
// provider interfaces below so a caller that only needs, say, user lookups
// can depend on UserReadProvider instead of the whole store.
type DataStore interface {
	ConfigProvider

	UserReadProvider
	UserWriteProvider

	RoleReadProvider
	RoleWriteProvider

	PermissionOverrideReadProvider
	PermissionOverrideWriteProvider

	ChannelReadProvider
	ChannelWriteProvider

	TokenReadProvider
	TokenWriteProvider

	BanReadProvider
	BanWriteProvider

	MessageReadProvider
	MessageWriteProvider
}

type ConfigProvider interface {
	Close() error
}

type UserReadProvider interface {
	GetUserByUsername(ctx context.Context, username string) (*model.User, error)
	GetUserByID(ctx context.Context, id uuid.UUID) (*model.User, error)
	ListUsers(ctx context.Context) ([]model.User, error)
	CountUsers(ctx context.Context) (int, error)
	SystemRole(ctx context.Context, userID uuid.UUID) (model.SystemRole, error)
}

type UserWriteProvider interface {
	CreateUser(ctx context.Context, user *model.User) error
	UpdateUserRole(ctx context.Context, userID uuid.UUID, role model.SystemRole) error
}

type RoleReadProvider interface {
	GetRole(ctx context.Context, id uuid.UUID) (*model.Role, error)
	ListRoles(ctx context.Context) ([]model.Role, error)
	UserRoles(ctx context.Context, userID uuid.UUID) ([]model.Role, error)
}

type RoleWriteProvider interface {
	CreateRole(ctx context.Context, role *model.Role) error
	SetRolePermission(ctx context.Context, roleID uuid.UUID, permissionID string, state model.PermissionState) error
	AssignUserRole(ctx context.Context, userID, roleID uuid.UUID) error
	RevokeUserRole(ctx context.Context, userID, roleID uuid.UUID) error
}

type PermissionOverrideReadProvider interface {
	UserPermissionOverride(ctx context.Context, userID uuid.UUID, permissionID string) (model.PermissionState, error)
	UserPermissionOverrides(ctx context.Context, userID uuid.UUID) ([]model.UserPermission, error)
	ChannelRolePermissions(ctx context.Context, channelID uuid.UUID) ([]model.ChannelRolePermission, error)
	ChannelUserPermission(ctx context.Context, channelID, userID uuid.UUID, permissionID string) (model.PermissionState, error)
	ChannelUserPermissions(ctx context.Context, channelID uuid.UUID) ([]model.ChannelUserPermission, error)
}

type PermissionOverrideWriteProvider interface {
	SetUserPermission(ctx context.Context, userID uuid.UUID, permissionID string, state model.PermissionState) error
	SetChannelRolePermission(ctx context.Context, channelID, roleID uuid.UUID, permissionID string, state model.PermissionState) error
	SetChannelUserPermission(ctx context.Context, channelID, userID uuid.UUID, permissionID string, state model.PermissionState) error
}

type ChannelReadProvider interface {
	GetChannel(ctx context.Context, id uuid.UUID) (*model.Channel, error)
	GetChannelByName(ctx context.Context, name string) (*model.Channel, error)
	ListChannels(ctx context.Context) ([]model.Channel, error)
	CountChannels(ctx context.Context) (int, error)
}

type ChannelWriteProvider interface {
	CreateChannel(ctx context.Context, channel *model.Channel) error
	DeleteChannel(ctx context.Context, id uuid.UUID) error
}

type TokenReadProvider interface {
	GetTokenByHash(ctx context.Context, hash string) (*model.Token, error)
	HasTokens(ctx context.Context) (bool, error)
}

type TokenWriteProvider interface {
	CreateToken(ctx context.Context, token *model.Token) error
	DeleteToken(ctx context.Context, hash string) error
	DeleteExpiredTokens(ctx context.Context, now time.Time) (int64, error)
}

type BanReadProvider interface {
	IsUserBanned(ctx context.Context, userID uuid.UUID, now time.Time) (bool, error)
	ListBans(ctx context.Context) ([]model.Ban, error)
}

type BanWriteProvider interface {
	CreateBan(ctx context.Context, ban *model.Ban) error
}

type MessageReadProvider interface {
	ListMessages(ctx context.Context, filters model.MessageFilters) ([]model.Message, error)
}

type MessageWriteProvider interface {
	CreateMessage(ctx context.Context, message *model.Message) error
}

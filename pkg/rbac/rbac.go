// Package rbac evaluates the permission model: role composition, direct
// per-user overrides, and channel-scoped overrides, merged under a single
// deny-overrides-allow rule.
package rbac

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/bg9m9r/whispr-sub001/pkg/model"
)

// Source is the read side of the permission model the evaluator needs. The
// datastore's repositories implement it directly; tests can supply a fake.
type Source interface {
	SystemRole(ctx context.Context, userID uuid.UUID) (model.SystemRole, error)
	UserRoles(ctx context.Context, userID uuid.UUID) ([]model.Role, error)
	UserPermissionOverride(ctx context.Context, userID uuid.UUID, permissionID string) (model.PermissionState, error)
	ChannelRolePermissions(ctx context.Context, channelID uuid.UUID) ([]model.ChannelRolePermission, error)
	ChannelUserPermission(ctx context.Context, channelID, userID uuid.UUID, permissionID string) (model.PermissionState, error)
}

// Evaluator resolves effective permission states from a Source.
type Evaluator struct {
	source Source
}

func NewEvaluator(source Source) *Evaluator {
	return &Evaluator{source: source}
}

// IsAdmin reports whether the user bypasses all permission checks: either
// their SystemRole is admin, or the global state of the admin permission
// (direct override merged with every held role, deny dominating) is Allow.
func (e *Evaluator) IsAdmin(ctx context.Context, userID uuid.UUID) (bool, error) {
	role, err := e.source.SystemRole(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("rbac: is admin: %w", err)
	}
	if role == model.SystemRoleAdmin {
		return true, nil
	}
	roles, err := e.source.UserRoles(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("rbac: is admin: user roles: %w", err)
	}
	direct, err := e.source.UserPermissionOverride(ctx, userID, model.PermAdmin)
	if err != nil {
		return false, fmt.Errorf("rbac: is admin: user permission override: %w", err)
	}
	return mergeStates(direct, roleDerivedState(roles, model.PermAdmin)) == model.StateAllow, nil
}

// mergeStates applies deny-overrides-allow: any Deny wins outright, else any
// Allow wins, else the result is Neutral. Order of states does not matter.
func mergeStates(states ...model.PermissionState) model.PermissionState {
	sawAllow := false
	for _, s := range states {
		if s == model.StateDeny {
			return model.StateDeny
		}
		if s == model.StateAllow {
			sawAllow = true
		}
	}
	if sawAllow {
		return model.StateAllow
	}
	return model.StateNeutral
}

// roleDerivedState merges the permission state every role a user holds
// assigns to permissionID. A role that never mentions the permission
// contributes Neutral.
func roleDerivedState(roles []model.Role, permissionID string) model.PermissionState {
	states := make([]model.PermissionState, 0, len(roles))
	for _, r := range roles {
		if state, ok := r.Permissions[permissionID]; ok {
			states = append(states, state)
		}
	}
	return mergeStates(states...)
}

// Effective resolves the global (non-channel-scoped) state of one
// permission for one user: the user's direct override merged with the
// states every role they hold assigns, deny dominating allow.
func (e *Evaluator) Effective(ctx context.Context, userID uuid.UUID, permissionID string) (model.PermissionState, error) {
	isAdmin, err := e.IsAdmin(ctx, userID)
	if err != nil {
		return model.StateNeutral, err
	}
	if isAdmin {
		return model.StateAllow, nil
	}

	roles, err := e.source.UserRoles(ctx, userID)
	if err != nil {
		return model.StateNeutral, fmt.Errorf("rbac: user roles: %w", err)
	}
	direct, err := e.source.UserPermissionOverride(ctx, userID, permissionID)
	if err != nil {
		return model.StateNeutral, fmt.Errorf("rbac: user permission override: %w", err)
	}
	return mergeStates(direct, roleDerivedState(roles, permissionID)), nil
}

// HasPermission resolves Effective and applies the permission's default
// when neutral. Every permission defaults closed (Neutral -> deny) except
// channel_access, which is public unless a restriction says otherwise.
func (e *Evaluator) HasPermission(ctx context.Context, userID uuid.UUID, permissionID string) (bool, error) {
	state, err := e.Effective(ctx, userID, permissionID)
	if err != nil {
		return false, err
	}
	switch state {
	case model.StateAllow:
		return true, nil
	case model.StateDeny:
		return false, nil
	default:
		return permissionID == model.PermChannelAccess, nil
	}
}

// CanAccessChannel resolves whether userID may join channelID. This
// decision is scoped entirely to channelID: a user's global channel_access
// override never enters it. If the channel carries no role- or user-level
// channel_access override at all, it is public. Once any override exists,
// deny dominates allow, and the default flips closed.
func (e *Evaluator) CanAccessChannel(ctx context.Context, userID, channelID uuid.UUID) (bool, error) {
	isAdmin, err := e.IsAdmin(ctx, userID)
	if err != nil {
		return false, err
	}
	if isAdmin {
		return true, nil
	}

	roles, err := e.source.UserRoles(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("rbac: user roles: %w", err)
	}
	channelRolePerms, err := e.source.ChannelRolePermissions(ctx, channelID)
	if err != nil {
		return false, fmt.Errorf("rbac: channel role permissions: %w", err)
	}
	channelRoleState := mergeStates(channelRoleStatesForUser(roles, channelRolePerms)...)

	channelUserState, err := e.source.ChannelUserPermission(ctx, channelID, userID, model.PermChannelAccess)
	if err != nil {
		return false, fmt.Errorf("rbac: channel user permission: %w", err)
	}

	if channelRoleState == model.StateNeutral && channelUserState == model.StateNeutral {
		return true, nil
	}
	return mergeStates(channelRoleState, channelUserState) == model.StateAllow, nil
}

func channelRoleStatesForUser(roles []model.Role, overrides []model.ChannelRolePermission) []model.PermissionState {
	held := make(map[uuid.UUID]bool, len(roles))
	for _, r := range roles {
		held[r.ID] = true
	}
	states := make([]model.PermissionState, 0, len(overrides))
	for _, o := range overrides {
		if o.PermissionID == model.PermChannelAccess && held[o.RoleID] {
			states = append(states, o.State)
		}
	}
	return states
}

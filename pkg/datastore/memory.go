package datastore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bg9m9r/whispr-sub001/pkg/model"
)

// MemoryStore is an in-process DataStore used by tests and by operators who
// don't need persistence across restarts. All state lives behind a single
// mutex; the server's request volume never makes that a bottleneck.
type MemoryStore struct {
	mu sync.RWMutex

	usersByID       map[uuid.UUID]*model.User
	usersByUsername map[string]uuid.UUID

	roles map[uuid.UUID]*model.Role

	userRoles              map[uuid.UUID]map[uuid.UUID]bool          // userID -> roleID set
	userPermissions        map[uuid.UUID]map[string]model.PermissionState
	channelRolePermissions map[uuid.UUID]map[uuid.UUID]map[string]model.PermissionState // channelID -> roleID -> permID -> state
	channelUserPermissions map[uuid.UUID]map[uuid.UUID]map[string]model.PermissionState // channelID -> userID -> permID -> state

	channels map[uuid.UUID]*model.Channel

	tokens map[string]*model.Token

	bans []model.Ban

	messages   []model.Message
	nextMsgID  int64
	nextBanID  int64
}

var _ DataStore = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		usersByID:              map[uuid.UUID]*model.User{},
		usersByUsername:        map[string]uuid.UUID{},
		roles:                  map[uuid.UUID]*model.Role{},
		userRoles:              map[uuid.UUID]map[uuid.UUID]bool{},
		userPermissions:        map[uuid.UUID]map[string]model.PermissionState{},
		channelRolePermissions: map[uuid.UUID]map[uuid.UUID]map[string]model.PermissionState{},
		channelUserPermissions: map[uuid.UUID]map[uuid.UUID]map[string]model.PermissionState{},
		channels:               map[uuid.UUID]*model.Channel{},
		tokens:                 map[string]*model.Token{},
	}
}

func (s *MemoryStore) Close() error { return nil }

// ---- Users ----

func (s *MemoryStore) CreateUser(_ context.Context, u *model.User) error {
	if err := model.ValidateUsername(u.Username); err != nil {
		return fmt.Errorf("datastore: create user: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.usersByUsername[u.Username]; exists {
		return fmt.Errorf("datastore: create user: username %q already exists", u.Username)
	}
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	cp := *u
	s.usersByID[u.ID] = &cp
	s.usersByUsername[u.Username] = u.ID
	return nil
}

func (s *MemoryStore) GetUserByUsername(_ context.Context, username string) (*model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.usersByUsername[username]
	if !ok {
		return nil, nil
	}
	cp := *s.usersByID[id]
	return &cp, nil
}

func (s *MemoryStore) GetUserByID(_ context.Context, id uuid.UUID) (*model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.usersByID[id]
	if !ok {
		return nil, nil
	}
	cp := *u
	return &cp, nil
}

func (s *MemoryStore) ListUsers(_ context.Context) ([]model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	users := make([]model.User, 0, len(s.usersByID))
	for _, u := range s.usersByID {
		users = append(users, *u)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].CreatedAt.Before(users[j].CreatedAt) })
	return users, nil
}

func (s *MemoryStore) CountUsers(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.usersByID), nil
}

func (s *MemoryStore) SystemRole(_ context.Context, userID uuid.UUID) (model.SystemRole, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.usersByID[userID]
	if !ok {
		return model.SystemRoleUser, nil
	}
	return u.Role, nil
}

func (s *MemoryStore) UpdateUserRole(_ context.Context, userID uuid.UUID, role model.SystemRole) error {
	if !role.Valid() {
		return fmt.Errorf("datastore: update user role: %w", model.ErrInvalidSystemRole)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.usersByID[userID]
	if !ok {
		return fmt.Errorf("datastore: update user role: user not found")
	}
	u.Role = role
	return nil
}

// ---- Roles ----

func (s *MemoryStore) CreateRole(_ context.Context, role *model.Role) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if role.ID == uuid.Nil {
		role.ID = uuid.New()
	}
	cp := *role
	cp.Permissions = make(map[string]model.PermissionState, len(role.Permissions))
	for k, v := range role.Permissions {
		cp.Permissions[k] = v
	}
	s.roles[role.ID] = &cp
	return nil
}

func (s *MemoryStore) SetRolePermission(_ context.Context, roleID uuid.UUID, permissionID string, state model.PermissionState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	role, ok := s.roles[roleID]
	if !ok {
		return fmt.Errorf("datastore: set role permission: role not found")
	}
	if role.Permissions == nil {
		role.Permissions = map[string]model.PermissionState{}
	}
	role.Permissions[permissionID] = state
	return nil
}

func (s *MemoryStore) GetRole(_ context.Context, id uuid.UUID) (*model.Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	role, ok := s.roles[id]
	if !ok {
		return nil, nil
	}
	cp := *role
	return &cp, nil
}

func (s *MemoryStore) ListRoles(_ context.Context) ([]model.Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	roles := make([]model.Role, 0, len(s.roles))
	for _, r := range s.roles {
		roles = append(roles, *r)
	}
	sort.Slice(roles, func(i, j int) bool { return roles[i].Name < roles[j].Name })
	return roles, nil
}

func (s *MemoryStore) AssignUserRole(_ context.Context, userID, roleID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.userRoles[userID] == nil {
		s.userRoles[userID] = map[uuid.UUID]bool{}
	}
	s.userRoles[userID][roleID] = true
	return nil
}

func (s *MemoryStore) RevokeUserRole(_ context.Context, userID, roleID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.userRoles[userID], roleID)
	return nil
}

func (s *MemoryStore) UserRoles(_ context.Context, userID uuid.UUID) ([]model.Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var roles []model.Role
	for roleID := range s.userRoles[userID] {
		if role, ok := s.roles[roleID]; ok {
			roles = append(roles, *role)
		}
	}
	return roles, nil
}

// ---- Permission overrides ----

func (s *MemoryStore) SetUserPermission(_ context.Context, userID uuid.UUID, permissionID string, state model.PermissionState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if state == model.StateNeutral {
		delete(s.userPermissions[userID], permissionID)
		return nil
	}
	if s.userPermissions[userID] == nil {
		s.userPermissions[userID] = map[string]model.PermissionState{}
	}
	s.userPermissions[userID][permissionID] = state
	return nil
}

func (s *MemoryStore) UserPermissionOverride(_ context.Context, userID uuid.UUID, permissionID string) (model.PermissionState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if state, ok := s.userPermissions[userID][permissionID]; ok {
		return state, nil
	}
	return model.StateNeutral, nil
}

func (s *MemoryStore) UserPermissionOverrides(_ context.Context, userID uuid.UUID) ([]model.UserPermission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var overrides []model.UserPermission
	for permID, state := range s.userPermissions[userID] {
		overrides = append(overrides, model.UserPermission{UserID: userID, PermissionID: permID, State: state})
	}
	return overrides, nil
}

func (s *MemoryStore) SetChannelRolePermission(_ context.Context, channelID, roleID uuid.UUID, permissionID string, state model.PermissionState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if state == model.StateNeutral {
		if byRole, ok := s.channelRolePermissions[channelID]; ok {
			delete(byRole[roleID], permissionID)
		}
		return nil
	}
	if s.channelRolePermissions[channelID] == nil {
		s.channelRolePermissions[channelID] = map[uuid.UUID]map[string]model.PermissionState{}
	}
	if s.channelRolePermissions[channelID][roleID] == nil {
		s.channelRolePermissions[channelID][roleID] = map[string]model.PermissionState{}
	}
	s.channelRolePermissions[channelID][roleID][permissionID] = state
	return nil
}

func (s *MemoryStore) SetChannelUserPermission(_ context.Context, channelID, userID uuid.UUID, permissionID string, state model.PermissionState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if state == model.StateNeutral {
		if byUser, ok := s.channelUserPermissions[channelID]; ok {
			delete(byUser[userID], permissionID)
		}
		return nil
	}
	if s.channelUserPermissions[channelID] == nil {
		s.channelUserPermissions[channelID] = map[uuid.UUID]map[string]model.PermissionState{}
	}
	if s.channelUserPermissions[channelID][userID] == nil {
		s.channelUserPermissions[channelID][userID] = map[string]model.PermissionState{}
	}
	s.channelUserPermissions[channelID][userID][permissionID] = state
	return nil
}

func (s *MemoryStore) ChannelRolePermissions(_ context.Context, channelID uuid.UUID) ([]model.ChannelRolePermission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var overrides []model.ChannelRolePermission
	for roleID, perms := range s.channelRolePermissions[channelID] {
		for permID, state := range perms {
			overrides = append(overrides, model.ChannelRolePermission{ChannelID: channelID, RoleID: roleID, PermissionID: permID, State: state})
		}
	}
	return overrides, nil
}

func (s *MemoryStore) ChannelUserPermission(_ context.Context, channelID, userID uuid.UUID, permissionID string) (model.PermissionState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if state, ok := s.channelUserPermissions[channelID][userID][permissionID]; ok {
		return state, nil
	}
	return model.StateNeutral, nil
}

func (s *MemoryStore) ChannelUserPermissions(_ context.Context, channelID uuid.UUID) ([]model.ChannelUserPermission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var overrides []model.ChannelUserPermission
	for userID, perms := range s.channelUserPermissions[channelID] {
		for permID, state := range perms {
			overrides = append(overrides, model.ChannelUserPermission{ChannelID: channelID, UserID: userID, PermissionID: permID, State: state})
		}
	}
	return overrides, nil
}

// ---- Channels ----

func (s *MemoryStore) CreateChannel(_ context.Context, ch *model.Channel) error {
	if err := model.ValidateChannelName(ch.Name); err != nil {
		return fmt.Errorf("datastore: create channel: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if ch.ID == uuid.Nil {
		ch.ID = uuid.New()
	}
	if ch.CreatedAt.IsZero() {
		ch.CreatedAt = time.Now().UTC()
	}
	cp := *ch
	s.channels[ch.ID] = &cp
	return nil
}

func (s *MemoryStore) GetChannel(_ context.Context, id uuid.UUID) (*model.Channel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ch, ok := s.channels[id]
	if !ok {
		return nil, nil
	}
	cp := *ch
	return &cp, nil
}

func (s *MemoryStore) GetChannelByName(_ context.Context, name string) (*model.Channel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, ch := range s.channels {
		if ch.Name == name {
			cp := *ch
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *MemoryStore) ListChannels(_ context.Context) ([]model.Channel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	channels := make([]model.Channel, 0, len(s.channels))
	for _, ch := range s.channels {
		channels = append(channels, *ch)
	}
	sort.Slice(channels, func(i, j int) bool { return channels[i].CreatedAt.Before(channels[j].CreatedAt) })
	return channels, nil
}

func (s *MemoryStore) CountChannels(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.channels), nil
}

func (s *MemoryStore) DeleteChannel(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.channels, id)
	return nil
}

// ---- Tokens ----

func (s *MemoryStore) CreateToken(_ context.Context, token *model.Token) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if token.IssuedAt.IsZero() {
		token.IssuedAt = time.Now().UTC()
	}
	cp := *token
	s.tokens[token.Hash] = &cp
	return nil
}

func (s *MemoryStore) GetTokenByHash(_ context.Context, hash string) (*model.Token, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tok, ok := s.tokens[hash]
	if !ok {
		return nil, nil
	}
	cp := *tok
	return &cp, nil
}

func (s *MemoryStore) DeleteToken(_ context.Context, hash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tokens, hash)
	return nil
}

func (s *MemoryStore) DeleteExpiredTokens(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var deleted int64
	for hash, tok := range s.tokens {
		if tok.Expired(now) {
			delete(s.tokens, hash)
			deleted++
		}
	}
	return deleted, nil
}

func (s *MemoryStore) HasTokens(_ context.Context) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tokens) > 0, nil
}

// ---- Bans ----

func (s *MemoryStore) CreateBan(_ context.Context, ban *model.Ban) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ban.CreatedAt.IsZero() {
		ban.CreatedAt = time.Now().UTC()
	}
	s.nextBanID++
	ban.ID = s.nextBanID
	s.bans = append(s.bans, *ban)
	return nil
}

func (s *MemoryStore) IsUserBanned(_ context.Context, userID uuid.UUID, now time.Time) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, b := range s.bans {
		if b.UserID == userID && b.Active(now) {
			return true, nil
		}
	}
	return false, nil
}

func (s *MemoryStore) ListBans(_ context.Context) ([]model.Ban, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Ban, len(s.bans))
	copy(out, s.bans)
	return out, nil
}

// ---- Messages ----

func (s *MemoryStore) CreateMessage(_ context.Context, msg *model.Message) error {
	if _, err := model.ValidateMessageContent(msg.Content); err != nil {
		return fmt.Errorf("datastore: create message: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	s.nextMsgID++
	msg.ID = s.nextMsgID
	s.messages = append(s.messages, *msg)
	return nil
}

func (s *MemoryStore) ListMessages(_ context.Context, filters model.MessageFilters) ([]model.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	limit := filters.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var matched []model.Message
	for i := len(s.messages) - 1; i >= 0; i-- {
		m := s.messages[i]
		if m.ChannelID != filters.ChannelID {
			continue
		}
		if !filters.Since.IsZero() && m.CreatedAt.Before(filters.Since) {
			continue
		}
		matched = append(matched, m)
		if len(matched) >= limit {
			break
		}
	}
	return matched, nil
}

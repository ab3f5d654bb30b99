package datastore_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/bg9m9r/whispr-sub001/pkg/datastore"
	"github.com/bg9m9r/whispr-sub001/pkg/model"
)

func newTestSQLStore(t *testing.T) *datastore.SQLStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	store, err := datastore.NewSQLStore(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestSQLStoreCreateAndGetUser(t *testing.T) {
	store := newTestSQLStore(t)
	ctx := context.Background()

	u := &model.User{ID: uuid.New(), Username: "alice", Role: model.SystemRoleUser}
	require.NoError(t, store.CreateUser(ctx, u))

	got, err := store.GetUserByUsername(ctx, "alice")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, u.ID, got.ID)

	byID, err := store.GetUserByID(ctx, u.ID)
	require.NoError(t, err)
	require.Equal(t, "alice", byID.Username)

	count, err := store.CountUsers(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, count)
}

func TestSQLStoreGetMissingUserReturnsNil(t *testing.T) {
	store := newTestSQLStore(t)
	got, err := store.GetUserByUsername(context.Background(), "nobody")
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestSQLStoreRolesAndPermissionOverrides(t *testing.T) {
	store := newTestSQLStore(t)
	ctx := context.Background()

	u := &model.User{ID: uuid.New(), Username: "bob"}
	require.NoError(t, store.CreateUser(ctx, u))

	role := &model.Role{ID: uuid.New(), Name: "moderator", Permissions: map[string]model.PermissionState{
		model.PermKickUser: model.StateAllow,
	}}
	require.NoError(t, store.CreateRole(ctx, role))
	require.NoError(t, store.AssignUserRole(ctx, u.ID, role.ID))

	roles, err := store.UserRoles(ctx, u.ID)
	require.NoError(t, err)
	require.Len(t, roles, 1)
	require.Equal(t, model.StateAllow, roles[0].Permissions[model.PermKickUser])

	require.NoError(t, store.SetUserPermission(ctx, u.ID, model.PermBanUser, model.StateDeny))
	state, err := store.UserPermissionOverride(ctx, u.ID, model.PermBanUser)
	require.NoError(t, err)
	require.Equal(t, model.StateDeny, state)

	require.NoError(t, store.SetUserPermission(ctx, u.ID, model.PermBanUser, model.StateNeutral))
	state, err = store.UserPermissionOverride(ctx, u.ID, model.PermBanUser)
	require.NoError(t, err)
	require.Equal(t, model.StateNeutral, state)
}

func TestSQLStoreChannelPermissionOverrides(t *testing.T) {
	store := newTestSQLStore(t)
	ctx := context.Background()

	ch := &model.Channel{ID: uuid.New(), Name: "ops"}
	require.NoError(t, store.CreateChannel(ctx, ch))

	role := &model.Role{ID: uuid.New(), Name: "ops-role"}
	require.NoError(t, store.CreateRole(ctx, role))
	require.NoError(t, store.SetChannelRolePermission(ctx, ch.ID, role.ID, model.PermChannelAccess, model.StateDeny))

	overrides, err := store.ChannelRolePermissions(ctx, ch.ID)
	require.NoError(t, err)
	require.Len(t, overrides, 1)
	require.Equal(t, model.StateDeny, overrides[0].State)

	u := &model.User{ID: uuid.New(), Username: "carol"}
	require.NoError(t, store.CreateUser(ctx, u))
	require.NoError(t, store.SetChannelUserPermission(ctx, ch.ID, u.ID, model.PermChannelAccess, model.StateAllow))
	state, err := store.ChannelUserPermission(ctx, ch.ID, u.ID, model.PermChannelAccess)
	require.NoError(t, err)
	require.Equal(t, model.StateAllow, state)
}

func TestSQLStoreChannelCRUD(t *testing.T) {
	store := newTestSQLStore(t)
	ctx := context.Background()

	ch := &model.Channel{ID: uuid.New(), Name: "Lobby", IsDefault: true, KeyMaterial: []byte("0123456789012345678901234567890")}
	require.NoError(t, store.CreateChannel(ctx, ch))

	got, err := store.GetChannelByName(ctx, "Lobby")
	require.NoError(t, err)
	require.True(t, got.IsDefault)

	count, err := store.CountChannels(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, count)

	require.NoError(t, store.DeleteChannel(ctx, ch.ID))
	got, err = store.GetChannel(ctx, ch.ID)
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestSQLStoreTokenLifecycle(t *testing.T) {
	store := newTestSQLStore(t)
	ctx := context.Background()

	u := &model.User{ID: uuid.New(), Username: "dave"}
	require.NoError(t, store.CreateUser(ctx, u))

	tok := &model.Token{Hash: "abc123", UserID: u.ID, ExpiresAt: time.Now().Add(time.Hour)}
	require.NoError(t, store.CreateToken(ctx, tok))

	got, err := store.GetTokenByHash(ctx, "abc123")
	require.NoError(t, err)
	require.Equal(t, u.ID, got.UserID)

	has, err := store.HasTokens(ctx)
	require.NoError(t, err)
	require.True(t, has)

	require.NoError(t, store.DeleteToken(ctx, "abc123"))
	got, err = store.GetTokenByHash(ctx, "abc123")
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestSQLStoreDeleteExpiredTokens(t *testing.T) {
	store := newTestSQLStore(t)
	ctx := context.Background()

	u := &model.User{ID: uuid.New(), Username: "erin"}
	require.NoError(t, store.CreateUser(ctx, u))

	expired := &model.Token{Hash: "expired", UserID: u.ID, ExpiresAt: time.Now().Add(-time.Hour)}
	live := &model.Token{Hash: "live", UserID: u.ID, ExpiresAt: time.Now().Add(time.Hour)}
	require.NoError(t, store.CreateToken(ctx, expired))
	require.NoError(t, store.CreateToken(ctx, live))

	deleted, err := store.DeleteExpiredTokens(ctx, time.Now())
	require.NoError(t, err)
	require.Equal(t, int64(1), deleted)

	got, err := store.GetTokenByHash(ctx, "live")
	require.NoError(t, err)
	require.NotNil(t, got)
}

func TestSQLStoreBans(t *testing.T) {
	store := newTestSQLStore(t)
	ctx := context.Background()

	u := &model.User{ID: uuid.New(), Username: "frank"}
	require.NoError(t, store.CreateUser(ctx, u))

	ban := &model.Ban{UserID: u.ID, Reason: "spam", BannedBy: uuid.New()}
	require.NoError(t, store.CreateBan(ctx, ban))

	banned, err := store.IsUserBanned(ctx, u.ID, time.Now())
	require.NoError(t, err)
	require.True(t, banned)
}

func TestSQLStoreExpiredBanNoLongerActive(t *testing.T) {
	store := newTestSQLStore(t)
	ctx := context.Background()

	u := &model.User{ID: uuid.New(), Username: "gina"}
	require.NoError(t, store.CreateUser(ctx, u))

	ban := &model.Ban{UserID: u.ID, Reason: "temp", BannedBy: uuid.New(), ExpiresAt: time.Now().Add(-time.Minute)}
	require.NoError(t, store.CreateBan(ctx, ban))

	banned, err := store.IsUserBanned(ctx, u.ID, time.Now())
	require.NoError(t, err)
	require.False(t, banned)
}

func TestSQLStoreMessages(t *testing.T) {
	store := newTestSQLStore(t)
	ctx := context.Background()

	ch := &model.Channel{ID: uuid.New(), Name: "general"}
	require.NoError(t, store.CreateChannel(ctx, ch))
	u := &model.User{ID: uuid.New(), Username: "harry"}
	require.NoError(t, store.CreateUser(ctx, u))

	for i := 0; i < 3; i++ {
		msg := &model.Message{ChannelID: ch.ID, SenderID: u.ID, Content: "hello"}
		require.NoError(t, store.CreateMessage(ctx, msg))
	}

	messages, err := store.ListMessages(ctx, model.MessageFilters{ChannelID: ch.ID, Limit: 10})
	require.NoError(t, err)
	require.Len(t, messages, 3)
}

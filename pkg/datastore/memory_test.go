package datastore_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/bg9m9r/whispr-sub001/pkg/datastore"
	"github.com/bg9m9r/whispr-sub001/pkg/model"
)

func TestMemoryStoreUserLifecycle(t *testing.T) {
	store := datastore.NewMemoryStore()
	ctx := context.Background()

	u := &model.User{Username: "alice"}
	require.NoError(t, store.CreateUser(ctx, u))
	require.NotEqual(t, uuid.Nil, u.ID)

	got, err := store.GetUserByUsername(ctx, "alice")
	require.NoError(t, err)
	require.Equal(t, u.ID, got.ID)

	require.Error(t, store.CreateUser(ctx, &model.User{Username: "alice"}))
}

func TestMemoryStoreRolesComposeWithOverrides(t *testing.T) {
	store := datastore.NewMemoryStore()
	ctx := context.Background()

	u := &model.User{Username: "bob"}
	require.NoError(t, store.CreateUser(ctx, u))

	role := &model.Role{Name: "mod", Permissions: map[string]model.PermissionState{
		model.PermKickUser: model.StateAllow,
	}}
	require.NoError(t, store.CreateRole(ctx, role))
	require.NoError(t, store.AssignUserRole(ctx, u.ID, role.ID))

	roles, err := store.UserRoles(ctx, u.ID)
	require.NoError(t, err)
	require.Len(t, roles, 1)

	require.NoError(t, store.RevokeUserRole(ctx, u.ID, role.ID))
	roles, err = store.UserRoles(ctx, u.ID)
	require.NoError(t, err)
	require.Empty(t, roles)
}

func TestMemoryStoreTokenExpiry(t *testing.T) {
	store := datastore.NewMemoryStore()
	ctx := context.Background()

	u := &model.User{Username: "carol"}
	require.NoError(t, store.CreateUser(ctx, u))

	require.NoError(t, store.CreateToken(ctx, &model.Token{Hash: "expired", UserID: u.ID, ExpiresAt: time.Now().Add(-time.Minute)}))
	require.NoError(t, store.CreateToken(ctx, &model.Token{Hash: "live", UserID: u.ID}))

	deleted, err := store.DeleteExpiredTokens(ctx, time.Now())
	require.NoError(t, err)
	require.Equal(t, int64(1), deleted)

	has, err := store.HasTokens(ctx)
	require.NoError(t, err)
	require.True(t, has)
}

func TestMemoryStoreMessageHistoryOrderedNewestFirst(t *testing.T) {
	store := datastore.NewMemoryStore()
	ctx := context.Background()
	channelID := uuid.New()
	senderID := uuid.New()

	for i := 0; i < 3; i++ {
		require.NoError(t, store.CreateMessage(ctx, &model.Message{ChannelID: channelID, SenderID: senderID, Content: "hi"}))
	}

	messages, err := store.ListMessages(ctx, model.MessageFilters{ChannelID: channelID, Limit: 2})
	require.NoError(t, err)
	require.Len(t, messages, 2)
	require.True(t, messages[0].ID > messages[1].ID)
}

func TestMemoryStoreBanActiveUntilExpiry(t *testing.T) {
	store := datastore.NewMemoryStore()
	ctx := context.Background()
	userID := uuid.New()

	require.NoError(t, store.CreateBan(ctx, &model.Ban{UserID: userID, ExpiresAt: time.Now().Add(time.Minute)}))
	banned, err := store.IsUserBanned(ctx, userID, time.Now())
	require.NoError(t, err)
	require.True(t, banned)

	banned, err = store.IsUserBanned(ctx, userID, time.Now().Add(2*time.Minute))
	require.NoError(t, err)
	require.False(t, banned)
}

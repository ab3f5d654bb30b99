package channel_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/bg9m9r/whispr-sub001/pkg/channel"
	"github.com/bg9m9r/whispr-sub001/pkg/datastore"
	"github.com/bg9m9r/whispr-sub001/pkg/model"
)

func newTestService(t *testing.T) *channel.Service {
	t.Helper()
	return channel.NewService(datastore.NewMemoryStore())
}

func TestEnsureDefaultChannelIsIdempotent(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	first, err := svc.EnsureDefaultChannel(ctx)
	require.NoError(t, err)
	require.True(t, first.IsDefault)
	require.Len(t, first.KeyMaterial, model.ChannelKeyMaterialSize)

	second, err := svc.EnsureDefaultChannel(ctx)
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID)
}

func TestCreateVoiceChannelGetsKeyMaterial(t *testing.T) {
	svc := newTestService(t)
	ch, err := svc.Create(context.Background(), "ops", model.ChannelVoice)
	require.NoError(t, err)
	require.Len(t, ch.KeyMaterial, model.ChannelKeyMaterialSize)
}

func TestCreateTextChannelHasNoKeyMaterial(t *testing.T) {
	svc := newTestService(t)
	ch, err := svc.Create(context.Background(), "general", model.ChannelText)
	require.NoError(t, err)
	require.Nil(t, ch.KeyMaterial)
}

func TestCreateRejectsDuplicateName(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	_, err := svc.Create(ctx, "ops", model.ChannelVoice)
	require.NoError(t, err)
	_, err = svc.Create(ctx, "ops", model.ChannelVoice)
	require.ErrorIs(t, err, channel.ErrNameTaken)
}

func TestCreateRejectsOverCap(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	for i := 0; i < model.MaxChannelsPerServer; i++ {
		_, err := svc.Create(ctx, uuid.NewString(), model.ChannelText)
		require.NoError(t, err)
	}
	_, err := svc.Create(ctx, "one-too-many", model.ChannelText)
	require.ErrorIs(t, err, channel.ErrChannelFull)
}

func TestJoinMovesUserBetweenChannels(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	userID := uuid.New()

	lobby, err := svc.EnsureDefaultChannel(ctx)
	require.NoError(t, err)
	ops, err := svc.Create(ctx, "ops", model.ChannelVoice)
	require.NoError(t, err)

	_, err = svc.Join(ctx, userID, lobby.ID)
	require.NoError(t, err)
	require.Contains(t, svc.Members(lobby.ID), userID)

	_, err = svc.Join(ctx, userID, ops.ID)
	require.NoError(t, err)
	require.NotContains(t, svc.Members(lobby.ID), userID)
	require.Contains(t, svc.Members(ops.ID), userID)

	current, ok := svc.GetUserChannel(userID)
	require.True(t, ok)
	require.Equal(t, ops.ID, current)
}

func TestJoinUnknownChannelFails(t *testing.T) {
	svc := newTestService(t)
	_, err := svc.Join(context.Background(), uuid.New(), uuid.New())
	require.ErrorIs(t, err, channel.ErrChannelNotFound)
}

func TestLeaveClearsMembership(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	userID := uuid.New()

	lobby, err := svc.EnsureDefaultChannel(ctx)
	require.NoError(t, err)
	_, err = svc.Join(ctx, userID, lobby.ID)
	require.NoError(t, err)

	left := svc.Leave(userID)
	require.Equal(t, lobby.ID, left)
	_, ok := svc.GetUserChannel(userID)
	require.False(t, ok)
}

func TestDeleteDefaultChannelFails(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	lobby, err := svc.EnsureDefaultChannel(ctx)
	require.NoError(t, err)
	err = svc.Delete(ctx, lobby.ID)
	require.ErrorIs(t, err, channel.ErrCannotDeleteDefault)
}

func TestDeleteEvictsMembers(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	userID := uuid.New()

	ops, err := svc.Create(ctx, "ops", model.ChannelVoice)
	require.NoError(t, err)
	_, err = svc.Join(ctx, userID, ops.ID)
	require.NoError(t, err)

	require.NoError(t, svc.Delete(ctx, ops.ID))
	_, ok := svc.GetUserChannel(userID)
	require.False(t, ok)
}

func TestOtherMembersExcludesSelf(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	alice, bob := uuid.New(), uuid.New()

	lobby, err := svc.EnsureDefaultChannel(ctx)
	require.NoError(t, err)
	_, err = svc.Join(ctx, alice, lobby.ID)
	require.NoError(t, err)
	_, err = svc.Join(ctx, bob, lobby.ID)
	require.NoError(t, err)

	others := svc.OtherMembers(lobby.ID, alice)
	require.Equal(t, []uuid.UUID{bob}, others)
}

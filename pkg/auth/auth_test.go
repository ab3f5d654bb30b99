package auth_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bg9m9r/whispr-sub001/pkg/auth"
	"github.com/bg9m9r/whispr-sub001/pkg/crypto"
	"github.com/bg9m9r/whispr-sub001/pkg/datastore"
	"github.com/bg9m9r/whispr-sub001/pkg/model"
)

func newTestService(t *testing.T) (*auth.Service, datastore.DataStore) {
	t.Helper()
	store := datastore.NewMemoryStore()
	return auth.NewService(store, time.Hour), store
}

func TestAddUserAndValidateCredentials(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	user, err := svc.AddUser(ctx, "alice", "hunter2", model.SystemRoleUser)
	require.NoError(t, err)
	require.NotEmpty(t, user.PasswordHash)

	got, err := svc.ValidateCredentials(ctx, "alice", "hunter2")
	require.NoError(t, err)
	require.Equal(t, user.ID, got.ID)
}

func TestAddUserRejectsDuplicateUsername(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.AddUser(ctx, "alice", "hunter2", model.SystemRoleUser)
	require.NoError(t, err)

	_, err = svc.AddUser(ctx, "alice", "different", model.SystemRoleUser)
	require.ErrorIs(t, err, auth.ErrUsernameTaken)
}

func TestValidateCredentialsRejectsWrongPassword(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.AddUser(ctx, "alice", "hunter2", model.SystemRoleUser)
	require.NoError(t, err)

	_, err = svc.ValidateCredentials(ctx, "alice", "wrong")
	require.ErrorIs(t, err, auth.ErrInvalidCredentials)
}

func TestValidateCredentialsRejectsUnknownUserWithSameError(t *testing.T) {
	svc, _ := newTestService(t)
	_, err := svc.ValidateCredentials(context.Background(), "ghost", "whatever")
	require.ErrorIs(t, err, auth.ErrInvalidCredentials)
}

func TestValidateCredentialsRejectsBannedUser(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	user, err := svc.AddUser(ctx, "alice", "hunter2", model.SystemRoleUser)
	require.NoError(t, err)
	require.NoError(t, store.CreateBan(ctx, &model.Ban{UserID: user.ID, Reason: "spam", BannedBy: user.ID}))

	_, err = svc.ValidateCredentials(ctx, "alice", "hunter2")
	require.ErrorIs(t, err, auth.ErrUserBanned)
}

func TestIssueAndValidateToken(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	user, err := svc.AddUser(ctx, "alice", "hunter2", model.SystemRoleUser)
	require.NoError(t, err)

	raw, err := svc.IssueToken(ctx, user.ID)
	require.NoError(t, err)
	require.NotEmpty(t, raw)

	got, err := svc.ValidateToken(ctx, raw)
	require.NoError(t, err)
	require.Equal(t, user.ID, got.ID)
}

func TestValidateTokenRejectsUnknownToken(t *testing.T) {
	svc, _ := newTestService(t)
	_, err := svc.ValidateToken(context.Background(), "not-a-real-token")
	require.ErrorIs(t, err, auth.ErrTokenInvalid)
}

func TestValidateTokenSweepsExpiredToken(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	user, err := svc.AddUser(ctx, "alice", "hunter2", model.SystemRoleUser)
	require.NoError(t, err)
	raw, err := svc.IssueToken(ctx, user.ID)
	require.NoError(t, err)

	tok, err := store.GetTokenByHash(ctx, crypto.HashToken(raw))
	require.NoError(t, err)
	require.NotNil(t, tok)
	tok.ExpiresAt = time.Now().Add(-time.Minute)
	require.NoError(t, store.CreateToken(ctx, tok))

	_, err = svc.ValidateToken(ctx, raw)
	require.ErrorIs(t, err, auth.ErrTokenInvalid)

	got, err := store.GetTokenByHash(ctx, crypto.HashToken(raw))
	require.NoError(t, err)
	require.Nil(t, got, "expired token should be swept on validation")
}

func TestRevokeTokenIsIdempotent(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	user, err := svc.AddUser(ctx, "alice", "hunter2", model.SystemRoleUser)
	require.NoError(t, err)
	raw, err := svc.IssueToken(ctx, user.ID)
	require.NoError(t, err)

	require.NoError(t, svc.RevokeToken(ctx, raw))
	require.NoError(t, svc.RevokeToken(ctx, raw))

	_, err = svc.ValidateToken(ctx, raw)
	require.ErrorIs(t, err, auth.ErrTokenInvalid)
}

func TestIsAdmin(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	admin, err := svc.AddUser(ctx, "root", "hunter2", model.SystemRoleAdmin)
	require.NoError(t, err)
	user, err := svc.AddUser(ctx, "alice", "hunter2", model.SystemRoleUser)
	require.NoError(t, err)

	isAdmin, err := svc.IsAdmin(ctx, admin.ID)
	require.NoError(t, err)
	require.True(t, isAdmin)

	isAdmin, err = svc.IsAdmin(ctx, user.ID)
	require.NoError(t, err)
	require.False(t, isAdmin)
}

func TestSeedDefaultUsersOnlySeedsEmptyStore(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	require.NoError(t, svc.SeedDefaultUsers(ctx))
	count, err := store.CountUsers(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, count)

	require.NoError(t, svc.SeedDefaultUsers(ctx))
	count, err = store.CountUsers(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, count)
}

func TestEnsureAdminTokenIssuesOnlyWhenNoneExist(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	require.NoError(t, svc.SeedDefaultUsers(ctx))

	require.NoError(t, svc.EnsureAdminToken(ctx))
	has, err := store.HasTokens(ctx)
	require.NoError(t, err)
	require.True(t, has)

	require.NoError(t, svc.EnsureAdminToken(ctx))
	count, err := store.CountUsers(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, count)
}

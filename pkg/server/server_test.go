package server

import (
	"context"
	"net"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bg9m9r/whispr-sub001/pkg/datastore"
	"github.com/bg9m9r/whispr-sub001/pkg/model"
	"github.com/bg9m9r/whispr-sub001/pkg/protocol"
)

func newTestServer(t *testing.T) (*Server, datastore.DataStore) {
	t.Helper()
	store := datastore.NewMemoryStore()
	srv, err := New(DefaultConfig(), store)
	require.NoError(t, err)
	return srv, store
}

// dial spins up handleControlConn against one end of a net.Pipe and hands
// the test the other end to drive.
func dial(t *testing.T, srv *Server) net.Conn {
	t.Helper()
	client, serverSide := net.Pipe()
	t.Cleanup(func() { _ = client.Close() })
	go srv.handleControlConn(serverSide)
	return client
}

func mustFrame(t *testing.T, frameType string, payload any) *protocol.Frame {
	t.Helper()
	frame, err := protocol.NewFrame(frameType, payload)
	require.NoError(t, err)
	return frame
}

func send(t *testing.T, conn net.Conn, frameType string, payload any) {
	t.Helper()
	require.NoError(t, protocol.WriteFrame(conn, mustFrame(t, frameType, payload)))
}

func recvFrame(t *testing.T, conn net.Conn) *protocol.Frame {
	t.Helper()
	frame, err := protocol.ReadFrame(conn)
	require.NoError(t, err)
	return frame
}

func login(t *testing.T, conn net.Conn, username, password, token string) protocol.LoginResponsePayload {
	t.Helper()
	send(t, conn, protocol.TypeLogin, protocol.LoginPayload{Username: username, Password: password, Token: token})
	frame := recvFrame(t, conn)
	require.Equal(t, protocol.TypeLoginResponse, frame.Type)
	var resp protocol.LoginResponsePayload
	require.NoError(t, frame.Decode(&resp))
	require.True(t, resp.Success)
	return resp
}

func TestLoginAutoRegistersUnknownUsername(t *testing.T) {
	srv, store := newTestServer(t)
	conn := dial(t, srv)

	resp := login(t, conn, "alice", "hunter2", "")
	require.Equal(t, "alice", resp.Username)
	require.NotEmpty(t, resp.Token)

	got, err := store.GetUserByUsername(context.Background(), "alice")
	require.NoError(t, err)
	require.Equal(t, resp.UserID, got.ID)
}

func TestLoginRejectsWrongPassword(t *testing.T) {
	srv, _ := newTestServer(t)

	first := dial(t, srv)
	login(t, first, "bob", "correct-horse", "")

	second := dial(t, srv)
	send(t, second, protocol.TypeLogin, protocol.LoginPayload{Username: "bob", Password: "wrong"})
	frame := recvFrame(t, second)
	require.Equal(t, protocol.TypeError, frame.Type)
}

func TestLoginWithTokenResumesSession(t *testing.T) {
	srv, _ := newTestServer(t)

	first := dial(t, srv)
	reg := login(t, first, "carol", "s3cret", "")

	second := dial(t, srv)
	resp := login(t, second, "", "", reg.Token)
	require.Equal(t, reg.UserID, resp.UserID)
	require.Empty(t, resp.Token, "a token login does not mint a new token")
}

func TestPingPong(t *testing.T) {
	srv, _ := newTestServer(t)
	conn := dial(t, srv)
	login(t, conn, "dave", "pw", "")

	send(t, conn, protocol.TypePing, protocol.PingPayload{Timestamp: 42})
	frame := recvFrame(t, conn)
	require.Equal(t, protocol.TypePong, frame.Type)
	var pong protocol.PongPayload
	require.NoError(t, frame.Decode(&pong))
	require.Equal(t, int64(42), pong.Timestamp)
}

func TestJoinChannelReceivesKeyMaterial(t *testing.T) {
	srv, _ := newTestServer(t)
	conn := dial(t, srv)
	login(t, conn, "erin", "pw", "")

	ch, err := srv.Channels().Create(context.Background(), "ops", model.ChannelVoice)
	require.NoError(t, err)

	send(t, conn, protocol.TypeJoinChannel, protocol.JoinChannelPayload{ChannelID: ch.ID})
	frame := recvFrame(t, conn)
	require.Equal(t, protocol.TypeRoomJoined, frame.Type)
	var joined protocol.RoomJoinedPayload
	require.NoError(t, frame.Decode(&joined))
	require.Equal(t, ch.ID, joined.ChannelID)
	require.Len(t, joined.KeyMaterial, model.ChannelKeyMaterialSize)
}

func TestCreateChannelRequiresPermissionThenSucceedsForAdmin(t *testing.T) {
	srv, store := newTestServer(t)
	ctx := context.Background()
	conn := dial(t, srv)
	resp := login(t, conn, "frank", "pw", "")

	send(t, conn, protocol.TypeCreateChannel, protocol.CreateChannelPayload{Name: "denied-room", Type: "voice"})
	frame := recvFrame(t, conn)
	require.Equal(t, protocol.TypeError, frame.Type)
	var errPayload protocol.ErrorPayload
	require.NoError(t, frame.Decode(&errPayload))
	require.Equal(t, "permission_denied", errPayload.Code)

	require.NoError(t, store.UpdateUserRole(ctx, resp.UserID, model.SystemRoleAdmin))

	send(t, conn, protocol.TypeCreateChannel, protocol.CreateChannelPayload{Name: "ops-room", Type: "voice"})
	frame = recvFrame(t, conn)
	require.Equal(t, protocol.TypeServerState, frame.Type)
}

func TestSendMessageAndHistoryRoundTrip(t *testing.T) {
	srv, store := newTestServer(t)
	ctx := context.Background()
	conn := dial(t, srv)
	resp := login(t, conn, "grace", "pw", "")

	role := &model.Role{Name: "chatter", Permissions: map[string]model.PermissionState{
		model.PermSendMessage: model.StateAllow,
	}}
	require.NoError(t, store.CreateRole(ctx, role))
	require.NoError(t, store.AssignUserRole(ctx, resp.UserID, role.ID))

	lobby, err := srv.Channels().EnsureDefaultChannel(ctx)
	require.NoError(t, err)

	send(t, conn, protocol.TypeJoinChannel, protocol.JoinChannelPayload{ChannelID: lobby.ID})
	recvFrame(t, conn) // room_joined

	send(t, conn, protocol.TypeSendMessage, protocol.SendMessagePayload{ChannelID: lobby.ID, Content: "hello room"})
	frame := recvFrame(t, conn)
	require.Equal(t, protocol.TypeMessageReceived, frame.Type)
	var received protocol.MessageReceivedPayload
	require.NoError(t, frame.Decode(&received))
	require.Equal(t, "hello room", received.Content)

	send(t, conn, protocol.TypeGetMessageHistory, protocol.GetMessageHistoryPayload{ChannelID: lobby.ID, Limit: 10})
	frame = recvFrame(t, conn)
	require.Equal(t, protocol.TypeMessageHistory, frame.Type)
	var history protocol.MessageHistoryPayload
	require.NoError(t, frame.Decode(&history))
	require.Len(t, history.Messages, 1)
	require.Equal(t, "hello room", history.Messages[0].Content)
}

func TestSetUserRoleRejectsSelfChangeAndNonAdminEscalation(t *testing.T) {
	srv, _ := newTestServer(t)
	ctx := context.Background()

	_, err := srv.Auth().AddUser(ctx, "root", "adminpw", model.SystemRoleAdmin)
	require.NoError(t, err)

	adminConn := dial(t, srv)
	admin := login(t, adminConn, "root", "adminpw", "")
	require.Equal(t, "admin", admin.Role)

	memberConn := dial(t, srv)
	member := login(t, memberConn, "member", "pw", "")

	// An admin cannot change their own role, even to the same value.
	send(t, adminConn, protocol.TypeSetUserRole, protocol.SetUserRolePayload{UserID: admin.UserID, Role: "user"})
	frame := recvFrame(t, adminConn)
	require.Equal(t, protocol.TypeError, frame.Type)
	var errPayload protocol.ErrorPayload
	require.NoError(t, frame.Decode(&errPayload))
	require.Equal(t, "forbidden", errPayload.Code)

	// The admin can promote another user to admin.
	send(t, adminConn, protocol.TypeSetUserRole, protocol.SetUserRolePayload{UserID: member.UserID, Role: "admin"})
	got, err := srv.Store().SystemRole(ctx, member.UserID)
	require.NoError(t, err)
	require.Equal(t, model.SystemRoleAdmin, got)
}

func TestDeleteChannelEvictsMembers(t *testing.T) {
	srv, store := newTestServer(t)
	ctx := context.Background()
	conn := dial(t, srv)
	resp := login(t, conn, "owner", "pw", "")
	require.NoError(t, store.UpdateUserRole(ctx, resp.UserID, model.SystemRoleAdmin))

	ch, err := srv.Channels().Create(ctx, "temp", model.ChannelVoice)
	require.NoError(t, err)

	send(t, conn, protocol.TypeJoinChannel, protocol.JoinChannelPayload{ChannelID: ch.ID})
	recvFrame(t, conn)

	send(t, conn, protocol.TypeDeleteChannel, protocol.DeleteChannelPayload{ChannelID: ch.ID})
	frame := recvFrame(t, conn)
	require.Equal(t, protocol.TypeServerState, frame.Type)

	_, ok := srv.Channels().GetUserChannel(resp.UserID)
	require.False(t, ok)
}

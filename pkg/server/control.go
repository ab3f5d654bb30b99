package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"

	"github.com/bg9m9r/whispr-sub001/pkg/crypto"
	"github.com/bg9m9r/whispr-sub001/pkg/model"
	"github.com/bg9m9r/whispr-sub001/pkg/protocol"
)

// StartControl starts the TLS control-plane listener and begins accepting
// connections in the background.
func (s *Server) StartControl() error {
	tlsCfg := &tls.Config{
		Certificates: []tls.Certificate{s.tlsCert},
		MinVersion:   tls.VersionTLS13,
	}
	ln, err := tls.Listen("tcp", s.cfg.ControlAddr, tlsCfg)
	if err != nil {
		return fmt.Errorf("server: listen control: %w", err)
	}
	s.controlConn = ln
	slog.Info("control plane listening", "addr", s.cfg.ControlAddr)

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				select {
				case <-s.ctx.Done():
					return
				default:
					slog.Error("accept error", "err", err)
					continue
				}
			}
			go s.handleControlConn(conn)
		}
	}()
	return nil
}

// handleControlConn owns one TLS connection's lifecycle: auth, the message
// loop, and cleanup on disconnect.
func (s *Server) handleControlConn(conn net.Conn) {
	defer func() { _ = conn.Close() }()

	remoteAddr := conn.RemoteAddr().String()
	s.metrics.ConnectionsTotal.Inc()
	s.metrics.ConnectionsActive.Inc()
	slog.Debug("new control connection", "remote", remoteAddr)

	session := s.sessions.Create(conn)
	sessionID := session.ID

	defer func() {
		sess, _ := s.sessions.Get(sessionID)
		if clientID, ok := s.endpoint.ResolveClientID(sess.UserID); ok && s.rateLimit != nil {
			s.rateLimit.remove(clientID)
		}
		s.endpoint.UnregisterUser(sess.UserID)
		chID := s.channels.Leave(sess.UserID)
		s.sessions.Remove(sessionID)
		s.metrics.ConnectionsActive.Dec()
		s.metrics.DisconnectsTotal.Inc()
		if chID != uuid.Nil {
			s.broadcastToChannel(chID, protocol.TypeMemberLeft, protocol.MemberLeftPayload{
				ChannelID: chID,
				UserID:    sess.UserID,
			}, sessionID)
		}
		slog.Info("client disconnected", "user", sess.Username, "remote", remoteAddr)
	}()

	ctx := context.Background()

	_ = conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	frame, err := protocol.ReadFrame(conn)
	if err != nil {
		slog.Debug("auth read failed", "remote", remoteAddr, "err", err)
		return
	}
	_ = conn.SetReadDeadline(time.Time{})

	if frame.Type != protocol.TypeLogin {
		s.sendError(sessionID, "protocol_error", "first message must be login")
		return
	}
	if !s.handleLogin(ctx, sessionID, frame) {
		s.metrics.AuthFailedTotal.Inc()
		return
	}
	s.metrics.AuthSuccessTotal.Inc()

	for {
		select {
		case <-s.ctx.Done():
			return
		default:
		}

		frame, err := protocol.ReadFrame(conn)
		if err != nil {
			if errors.Is(err, io.EOF) || isClosedErr(err) {
				return
			}
			slog.Debug("read error", "remote", remoteAddr, "err", err)
			return
		}
		s.dispatch(ctx, sessionID, frame)
	}
}

// handleLogin validates credentials or a bearer token and replies with
// login_response. It does not join any channel on the caller's behalf —
// the client discovers the default channel via request_server_state and
// joins it explicitly, the same path used for every other channel.
// Returns false on any failure (an error frame has already been sent).
func (s *Server) handleLogin(ctx context.Context, sessionID uint64, frame *protocol.Frame) bool {
	var payload protocol.LoginPayload
	if err := frame.Decode(&payload); err != nil {
		s.sendError(sessionID, "bad_request", "malformed login payload")
		return false
	}

	var user *model.User
	var issuedToken string

	switch {
	case payload.Token != "":
		u, err := s.auth.ValidateToken(ctx, payload.Token)
		if err != nil {
			s.sendError(sessionID, "auth_failed", err.Error())
			return false
		}
		user = u

	case payload.Username != "":
		if err := model.ValidateUsername(payload.Username); err != nil {
			s.sendError(sessionID, "auth_failed", err.Error())
			return false
		}
		existing, err := s.store.GetUserByUsername(ctx, payload.Username)
		if err != nil {
			s.sendError(sessionID, "internal_error", "lookup failed")
			return false
		}
		if existing == nil {
			u, err := s.auth.AddUser(ctx, payload.Username, payload.Password, model.SystemRoleUser)
			if err != nil {
				s.sendError(sessionID, "auth_failed", err.Error())
				return false
			}
			user = u
		} else {
			u, err := s.auth.ValidateCredentials(ctx, payload.Username, payload.Password)
			if err != nil {
				s.sendError(sessionID, "auth_failed", err.Error())
				return false
			}
			user = u
		}
		raw, err := s.auth.IssueToken(ctx, user.ID)
		if err != nil {
			s.sendError(sessionID, "internal_error", "token issuance failed")
			return false
		}
		issuedToken = raw
		s.metrics.TokensCreatedTotal.Inc()

	default:
		s.sendError(sessionID, "bad_request", "login requires a token or username and password")
		return false
	}

	s.sessions.Authenticate(sessionID, user.ID, user.Username, user.Role)

	isAdmin, err := s.perms.IsAdmin(ctx, user.ID)
	if err != nil {
		slog.Debug("admin check failed", "user", user.Username, "err", err)
	}

	if err := s.sessions.WriteFrame(sessionID, mustFrame(protocol.TypeLoginResponse, protocol.LoginResponsePayload{
		Success:   true,
		UserID:    user.ID,
		Username:  user.Username,
		Role:      user.Role.String(),
		IsAdmin:   isAdmin,
		Token:     issuedToken,
		SessionID: sessionID,
	})); err != nil {
		slog.Debug("login response write failed", "err", err)
		return false
	}

	slog.Info("client authenticated", "user", user.Username, "role", user.Role, "session", sessionID)
	return true
}

// dispatch routes one post-login frame to its handler.
func (s *Server) dispatch(ctx context.Context, sessionID uint64, frame *protocol.Frame) {
	sess, ok := s.sessions.Get(sessionID)
	if !ok || !sess.Authenticated() {
		return
	}

	switch frame.Type {
	case protocol.TypePing:
		var p protocol.PingPayload
		_ = frame.Decode(&p)
		_ = s.sessions.WriteFrame(sessionID, mustFrame(protocol.TypePong, protocol.PongPayload{Timestamp: p.Timestamp}))

	case protocol.TypeRequestServerState:
		s.sendServerState(ctx, sess)

	case protocol.TypeCreateChannel:
		s.handleCreateChannel(ctx, sess, frame)

	case protocol.TypeDeleteChannel:
		s.handleDeleteChannel(ctx, sess, frame)

	case protocol.TypeJoinChannel, protocol.TypeJoinRoom:
		s.handleJoinChannel(ctx, sess, frame)

	case protocol.TypeLeaveChannel, protocol.TypeLeaveRoom:
		s.handleLeaveChannel(sess)

	case protocol.TypeRegisterUDP:
		s.handleRegisterUDP(sess, frame)

	case protocol.TypeListPermissions:
		s.handleListPermissions(sess)

	case protocol.TypeListRoles:
		s.handleListRoles(ctx, sess)

	case protocol.TypeGetUserPermissions:
		s.handleGetUserPermissions(ctx, sess, frame)

	case protocol.TypeSetUserPermission:
		s.handleSetUserPermission(ctx, sess, frame)

	case protocol.TypeSetUserRole:
		s.handleSetUserRole(ctx, sess, frame)

	case protocol.TypeGetChannelPermissions:
		s.handleGetChannelPermissions(ctx, sess, frame)

	case protocol.TypeSetChannelRolePermission:
		s.handleSetChannelRolePermission(ctx, sess, frame)

	case protocol.TypeSetChannelUserPermission:
		s.handleSetChannelUserPermission(ctx, sess, frame)

	case protocol.TypeSendMessage:
		s.handleSendMessage(ctx, sess, frame)

	case protocol.TypeGetMessageHistory, protocol.TypeListChannelMessages:
		s.handleMessageHistory(ctx, sess, frame)

	case protocol.TypeKickUser:
		s.handleKickUser(ctx, sess, frame)

	case protocol.TypeBanUser:
		s.handleBanUser(ctx, sess, frame)

	default:
		s.sendError(sessionID, "unknown_type", "unrecognized frame type: "+frame.Type)
	}
}

func (s *Server) handleJoinChannel(ctx context.Context, sess model.Session, frame *protocol.Frame) {
	var payload protocol.JoinChannelPayload
	if err := frame.Decode(&payload); err != nil {
		s.sendError(sess.ID, "bad_request", "malformed join payload")
		return
	}

	allowed, err := s.perms.CanAccessChannel(ctx, sess.UserID, payload.ChannelID)
	if err != nil {
		s.sendError(sess.ID, "internal_error", "permission check failed")
		return
	}
	if !allowed {
		s.metrics.PermissionDeniedTotal.WithLabelValues(model.PermChannelAccess).Inc()
		s.sendError(sess.ID, "permission_denied", "not permitted to join this channel")
		return
	}

	prevChannel, _ := s.channels.GetUserChannel(sess.UserID)

	ch, err := s.channels.Join(ctx, sess.UserID, payload.ChannelID)
	if err != nil {
		s.sendError(sess.ID, "not_found", err.Error())
		return
	}
	s.sessions.SetChannel(sess.ID, ch.ID)

	if prevChannel != uuid.Nil && prevChannel != ch.ID {
		s.broadcastToChannel(prevChannel, protocol.TypeMemberLeft, protocol.MemberLeftPayload{
			ChannelID: prevChannel,
			UserID:    sess.UserID,
		}, sess.ID)
	}

	_ = s.sessions.WriteFrame(sess.ID, mustFrame(protocol.TypeRoomJoined, protocol.RoomJoinedPayload{
		ChannelID:   ch.ID,
		ChannelName: ch.Name,
		KeyMaterial: ch.KeyMaterial,
		MemberIDs:   ch.MemberIDs,
		Members:     s.channelMembers(ctx, ch.MemberIDs),
	}))

	s.broadcastToChannel(ch.ID, protocol.TypeMemberJoined, protocol.MemberJoinedPayload{
		ChannelID: ch.ID,
		UserID:    sess.UserID,
		Username:  sess.Username,
	}, sess.ID)
}

func (s *Server) handleLeaveChannel(sess model.Session) {
	chID := s.channels.Leave(sess.UserID)
	s.sessions.SetChannel(sess.ID, uuid.Nil)
	if chID == uuid.Nil {
		return
	}
	_ = s.sessions.WriteFrame(sess.ID, mustFrame(protocol.TypeRoomLeft, protocol.RoomLeftPayload{ChannelID: chID}))
	s.broadcastToChannel(chID, protocol.TypeMemberLeft, protocol.MemberLeftPayload{
		ChannelID: chID,
		UserID:    sess.UserID,
	}, sess.ID)
}

func (s *Server) handleRegisterUDP(sess model.Session, frame *protocol.Frame) {
	var payload protocol.RegisterUDPPayload
	if err := frame.Decode(&payload); err != nil {
		s.sendError(sess.ID, "bad_request", "malformed register_udp payload")
		return
	}
	if payload.ClientID == 0 {
		s.sendError(sess.ID, "bad_request", "clientId must be non-zero")
		return
	}
	s.endpoint.RegisterClientID(payload.ClientID, sess.UserID)
	_ = s.sessions.WriteFrame(sess.ID, mustFrame(protocol.TypeRegisterUDPResponse, protocol.RegisterUDPResponsePayload{
		Success:  true,
		ClientID: payload.ClientID,
	}))
	if chID, ok := s.channels.GetUserChannel(sess.UserID); ok {
		s.broadcastToChannel(chID, protocol.TypeMemberUDPRegistered, protocol.MemberUDPRegisteredPayload{
			ChannelID: chID,
			UserID:    sess.UserID,
		}, 0)
	}
}

func (s *Server) handleCreateChannel(ctx context.Context, sess model.Session, frame *protocol.Frame) {
	if !s.requirePermission(ctx, sess, model.PermCreateChannel) {
		return
	}
	var payload protocol.CreateChannelPayload
	if err := frame.Decode(&payload); err != nil {
		s.sendError(sess.ID, "bad_request", "malformed create_channel payload")
		return
	}
	name := sanitizeText(strings.TrimSpace(payload.Name))
	ch, err := s.channels.Create(ctx, name, model.ParseChannelType(payload.Type))
	if err != nil {
		s.sendError(sess.ID, "create_failed", err.Error())
		return
	}
	s.metrics.ChannelsCreatedTotal.Inc()
	slog.Info("channel created", "name", ch.Name, "by", sess.Username)
	s.broadcastServerState(ctx)
}

func (s *Server) handleDeleteChannel(ctx context.Context, sess model.Session, frame *protocol.Frame) {
	if !s.requirePermission(ctx, sess, model.PermDeleteChannel) {
		return
	}
	var payload protocol.DeleteChannelPayload
	if err := frame.Decode(&payload); err != nil {
		s.sendError(sess.ID, "bad_request", "malformed delete_channel payload")
		return
	}
	evicted := s.channels.Members(payload.ChannelID)
	if err := s.channels.Delete(ctx, payload.ChannelID); err != nil {
		s.sendError(sess.ID, "delete_failed", err.Error())
		return
	}
	for _, sid := range s.sessions.SessionIDsForUsers(evicted) {
		s.sessions.SetChannel(sid, uuid.Nil)
	}
	s.metrics.ChannelsDeletedTotal.Inc()
	slog.Info("channel deleted", "id", payload.ChannelID, "by", sess.Username)
	s.broadcastServerState(ctx)
}

func (s *Server) handleListPermissions(sess model.Session) {
	infos := make([]protocol.PermissionInfo, len(model.BuiltinPermissions))
	for i, p := range model.BuiltinPermissions {
		infos[i] = protocol.PermissionInfo{ID: p.ID, Name: p.Name, Description: p.Description}
	}
	_ = s.sessions.WriteFrame(sess.ID, mustFrame(protocol.TypePermissionsList, protocol.PermissionsListPayload{Permissions: infos}))
}

func (s *Server) handleListRoles(ctx context.Context, sess model.Session) {
	roles, err := s.store.ListRoles(ctx)
	if err != nil {
		s.sendError(sess.ID, "internal_error", "failed to list roles")
		return
	}
	infos := make([]protocol.RoleInfo, len(roles))
	for i, r := range roles {
		perms := make(map[string]string, len(r.Permissions))
		for id, state := range r.Permissions {
			perms[id] = state.String()
		}
		infos[i] = protocol.RoleInfo{ID: r.ID, Name: r.Name, Permissions: perms}
	}
	_ = s.sessions.WriteFrame(sess.ID, mustFrame(protocol.TypeRolesList, protocol.RolesListPayload{Roles: infos}))
}

func (s *Server) handleGetUserPermissions(ctx context.Context, sess model.Session, frame *protocol.Frame) {
	if !s.requirePermission(ctx, sess, model.PermManageRoles) {
		return
	}
	var payload protocol.GetUserPermissionsPayload
	if err := frame.Decode(&payload); err != nil {
		s.sendError(sess.ID, "bad_request", "malformed payload")
		return
	}
	roles, err := s.store.UserRoles(ctx, payload.UserID)
	if err != nil {
		s.sendError(sess.ID, "internal_error", "failed to load roles")
		return
	}
	roleIDs := make([]uuid.UUID, len(roles))
	for i, r := range roles {
		roleIDs[i] = r.ID
	}
	permissions := make([]protocol.PermissionState, 0, len(model.BuiltinPermissions))
	for _, p := range model.BuiltinPermissions {
		state, err := s.perms.Effective(ctx, payload.UserID, p.ID)
		if err != nil {
			continue
		}
		permissions = append(permissions, protocol.PermissionState{PermissionID: p.ID, State: state.String()})
	}
	_ = s.sessions.WriteFrame(sess.ID, mustFrame(protocol.TypeUserPermissions, protocol.UserPermissionsPayload{
		UserID:      payload.UserID,
		Permissions: permissions,
		RoleIDs:     roleIDs,
	}))
}

func (s *Server) handleSetUserPermission(ctx context.Context, sess model.Session, frame *protocol.Frame) {
	if !s.requirePermission(ctx, sess, model.PermManageRoles) {
		return
	}
	var payload protocol.SetUserPermissionPayload
	if err := frame.Decode(&payload); err != nil {
		s.sendError(sess.ID, "bad_request", "malformed payload")
		return
	}
	if err := s.store.SetUserPermission(ctx, payload.UserID, payload.PermissionID, model.ParsePermissionState(payload.State)); err != nil {
		s.sendError(sess.ID, "internal_error", "failed to set permission")
		return
	}
	slog.Info("user permission changed", "target", payload.UserID, "permission", payload.PermissionID, "state", payload.State, "by", sess.Username)
}

// handleSetUserRole changes a user's coarse SystemRole. An actor can never
// change their own role, and only an existing admin may grant admin —
// this is the same escalation guard the teacher enforces with its ordered
// Role comparison, restated for a SystemRole that only has two values.
func (s *Server) handleSetUserRole(ctx context.Context, sess model.Session, frame *protocol.Frame) {
	if !s.requirePermission(ctx, sess, model.PermManageRoles) {
		return
	}
	var payload protocol.SetUserRolePayload
	if err := frame.Decode(&payload); err != nil {
		s.sendError(sess.ID, "bad_request", "malformed payload")
		return
	}
	if payload.UserID == sess.UserID {
		s.sendError(sess.ID, "forbidden", "cannot change your own role")
		return
	}
	newRole := model.ParseSystemRole(payload.Role)
	if newRole == model.SystemRoleAdmin && sess.Role != model.SystemRoleAdmin {
		s.sendError(sess.ID, "forbidden", "only an admin may grant the admin role")
		return
	}
	if err := s.store.UpdateUserRole(ctx, payload.UserID, newRole); err != nil {
		s.sendError(sess.ID, "internal_error", "failed to update role")
		return
	}
	if sid, ok := s.sessions.GetByUserID(payload.UserID); ok {
		s.sessions.SetRole(sid.ID, newRole)
	}
	slog.Info("user role changed", "target", payload.UserID, "role", newRole, "by", sess.Username)
}

func (s *Server) handleGetChannelPermissions(ctx context.Context, sess model.Session, frame *protocol.Frame) {
	if !s.requirePermission(ctx, sess, model.PermManageRoles) {
		return
	}
	var payload protocol.GetChannelPermissionsPayload
	if err := frame.Decode(&payload); err != nil {
		s.sendError(sess.ID, "bad_request", "malformed payload")
		return
	}
	rolePerms, err := s.store.ChannelRolePermissions(ctx, payload.ChannelID)
	if err != nil {
		s.sendError(sess.ID, "internal_error", "failed to load channel role permissions")
		return
	}
	userPerms, err := s.store.ChannelUserPermissions(ctx, payload.ChannelID)
	if err != nil {
		s.sendError(sess.ID, "internal_error", "failed to load channel user permissions")
		return
	}
	roleStates := make([]protocol.RolePermissionState, len(rolePerms))
	for i, p := range rolePerms {
		roleStates[i] = protocol.RolePermissionState{RoleID: p.RoleID, PermissionID: p.PermissionID, State: p.State.String()}
	}
	userStates := make([]protocol.UserPermissionState, len(userPerms))
	for i, p := range userPerms {
		userStates[i] = protocol.UserPermissionState{UserID: p.UserID, PermissionID: p.PermissionID, State: p.State.String()}
	}
	_ = s.sessions.WriteFrame(sess.ID, mustFrame(protocol.TypeChannelPermissions, protocol.ChannelPermissionsPayload{
		ChannelID:  payload.ChannelID,
		RoleStates: roleStates,
		UserStates: userStates,
	}))
}

func (s *Server) handleSetChannelRolePermission(ctx context.Context, sess model.Session, frame *protocol.Frame) {
	if !s.requirePermission(ctx, sess, model.PermManageRoles) {
		return
	}
	var payload protocol.SetChannelRolePermissionPayload
	if err := frame.Decode(&payload); err != nil {
		s.sendError(sess.ID, "bad_request", "malformed payload")
		return
	}
	if err := s.store.SetChannelRolePermission(ctx, payload.ChannelID, payload.RoleID, payload.PermissionID, model.ParsePermissionState(payload.State)); err != nil {
		s.sendError(sess.ID, "internal_error", "failed to set channel role permission")
		return
	}
}

func (s *Server) handleSetChannelUserPermission(ctx context.Context, sess model.Session, frame *protocol.Frame) {
	if !s.requirePermission(ctx, sess, model.PermManageRoles) {
		return
	}
	var payload protocol.SetChannelUserPermissionPayload
	if err := frame.Decode(&payload); err != nil {
		s.sendError(sess.ID, "bad_request", "malformed payload")
		return
	}
	if err := s.store.SetChannelUserPermission(ctx, payload.ChannelID, payload.UserID, payload.PermissionID, model.ParsePermissionState(payload.State)); err != nil {
		s.sendError(sess.ID, "internal_error", "failed to set channel user permission")
		return
	}
}

func (s *Server) handleSendMessage(ctx context.Context, sess model.Session, frame *protocol.Frame) {
	var payload protocol.SendMessagePayload
	if err := frame.Decode(&payload); err != nil {
		s.sendError(sess.ID, "bad_request", "malformed send_message payload")
		return
	}
	chID, ok := s.channels.GetUserChannel(sess.UserID)
	if !ok || chID != payload.ChannelID {
		s.sendError(sess.ID, "forbidden", "not a member of that channel")
		return
	}
	allowed, err := s.perms.HasPermission(ctx, sess.UserID, model.PermSendMessage)
	if err != nil {
		s.sendError(sess.ID, "internal_error", "permission check failed")
		return
	}
	if !allowed {
		s.metrics.PermissionDeniedTotal.WithLabelValues(model.PermSendMessage).Inc()
		s.sendError(sess.ID, "permission_denied", "not permitted to send messages")
		return
	}
	content, err := model.ValidateMessageContent(sanitizeText(payload.Content))
	if err != nil {
		s.sendError(sess.ID, "bad_request", err.Error())
		return
	}

	now := time.Now().UTC()
	stored, err := crypto.EncryptMessage(s.messageKey, content)
	if err != nil {
		stored = content
	}
	if err := s.store.CreateMessage(ctx, &model.Message{
		ChannelID: chID,
		SenderID:  sess.UserID,
		Content:   stored,
		CreatedAt: now,
	}); err != nil {
		slog.Error("failed to persist message", "err", err)
	}

	s.metrics.ChatMessagesTotal.Inc()
	s.broadcastToChannel(chID, protocol.TypeMessageReceived, protocol.MessageReceivedPayload{
		ChannelID: chID,
		SenderID:  sess.UserID,
		Content:   content,
		Timestamp: now,
	}, 0)
}

func (s *Server) handleMessageHistory(ctx context.Context, sess model.Session, frame *protocol.Frame) {
	var payload protocol.GetMessageHistoryPayload
	if err := frame.Decode(&payload); err != nil {
		s.sendError(sess.ID, "bad_request", "malformed history payload")
		return
	}
	chID, ok := s.channels.GetUserChannel(sess.UserID)
	if !ok || chID != payload.ChannelID {
		s.sendError(sess.ID, "forbidden", "not a member of that channel")
		return
	}
	limit := payload.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	messages, err := s.store.ListMessages(ctx, model.MessageFilters{ChannelID: chID, Since: payload.Since, Limit: limit})
	if err != nil {
		s.sendError(sess.ID, "internal_error", "failed to load history")
		return
	}
	out := make([]protocol.MessageReceivedPayload, 0, len(messages))
	for _, m := range messages {
		content, err := crypto.DecryptMessage(s.messageKey, m.Content)
		if err != nil {
			continue
		}
		out = append(out, protocol.MessageReceivedPayload{
			ChannelID: m.ChannelID,
			SenderID:  m.SenderID,
			Content:   content,
			Timestamp: m.CreatedAt,
		})
	}
	_ = s.sessions.WriteFrame(sess.ID, mustFrame(protocol.TypeMessageHistory, protocol.MessageHistoryPayload{
		ChannelID: chID,
		Messages:  out,
	}))
}

func (s *Server) handleKickUser(ctx context.Context, sess model.Session, frame *protocol.Frame) {
	if !s.requirePermission(ctx, sess, model.PermKickUser) {
		return
	}
	var payload protocol.KickUserPayload
	if err := frame.Decode(&payload); err != nil {
		s.sendError(sess.ID, "bad_request", "malformed kick payload")
		return
	}
	target, ok := s.sessions.GetByUserID(payload.UserID)
	if !ok {
		s.sendError(sess.ID, "not_found", "user not online")
		return
	}
	s.sendError(target.ID, "kicked", "you have been kicked: "+sanitizeText(payload.Reason))
	if targetConn, ok := s.sessions.Conn(target.ID); ok {
		_ = targetConn.Close()
	}
	s.metrics.KicksTotal.Inc()
	slog.Info("user kicked", "target", target.Username, "by", sess.Username, "reason", payload.Reason)
}

func (s *Server) handleBanUser(ctx context.Context, sess model.Session, frame *protocol.Frame) {
	if !s.requirePermission(ctx, sess, model.PermBanUser) {
		return
	}
	var payload protocol.BanUserPayload
	if err := frame.Decode(&payload); err != nil {
		s.sendError(sess.ID, "bad_request", "malformed ban payload")
		return
	}
	var expiresAt time.Time
	if payload.DurationSeconds > 0 {
		expiresAt = time.Now().Add(time.Duration(payload.DurationSeconds) * time.Second)
	}
	if err := s.store.CreateBan(ctx, &model.Ban{
		UserID:    payload.UserID,
		Reason:    sanitizeText(payload.Reason),
		BannedBy:  sess.UserID,
		ExpiresAt: expiresAt,
		CreatedAt: time.Now().UTC(),
	}); err != nil {
		s.sendError(sess.ID, "internal_error", "failed to create ban")
		return
	}
	if target, ok := s.sessions.GetByUserID(payload.UserID); ok {
		s.sendError(target.ID, "banned", "you have been banned: "+sanitizeText(payload.Reason))
		if targetConn, ok := s.sessions.Conn(target.ID); ok {
			_ = targetConn.Close()
		}
	}
	s.metrics.BansTotal.Inc()
	slog.Info("user banned", "target", payload.UserID, "by", sess.Username)
}

// requirePermission checks permissionID for sess.UserID and writes a
// permission_denied error frame (and bumps the metric) when it fails,
// returning whether the caller should proceed.
func (s *Server) requirePermission(ctx context.Context, sess model.Session, permissionID string) bool {
	allowed, err := s.perms.HasPermission(ctx, sess.UserID, permissionID)
	if err != nil {
		s.sendError(sess.ID, "internal_error", "permission check failed")
		return false
	}
	if !allowed {
		s.metrics.PermissionDeniedTotal.WithLabelValues(permissionID).Inc()
		s.sendError(sess.ID, "permission_denied", "missing permission: "+permissionID)
		return false
	}
	return true
}

// broadcastToChannel sends a frame to every member of channelID currently
// online, except the session that triggered the event (0 excludes none).
func (s *Server) broadcastToChannel(channelID uuid.UUID, frameType string, payload any, excludeSession uint64) {
	members := s.channels.Members(channelID)
	for _, sid := range s.sessions.SessionIDsForUsers(members) {
		if sid == excludeSession {
			continue
		}
		if err := s.sessions.WriteFrame(sid, mustFrame(frameType, payload)); err != nil {
			slog.Debug("broadcast write failed", "session", sid, "err", err)
		}
	}
}

// channelMembers resolves the per-member roster detail a client needs to
// render a channel without a round trip per user.
func (s *Server) channelMembers(ctx context.Context, memberIDs []uuid.UUID) []protocol.ChannelMember {
	members := make([]protocol.ChannelMember, 0, len(memberIDs))
	for _, id := range memberIDs {
		user, err := s.store.GetUserByID(ctx, id)
		if err != nil || user == nil {
			continue
		}
		clientID, _ := s.endpoint.ResolveClientID(id)
		isAdmin, _ := s.perms.IsAdmin(ctx, id)
		members = append(members, protocol.ChannelMember{
			UserID:   id,
			Username: user.Username,
			ClientID: clientID,
			IsAdmin:  isAdmin,
		})
	}
	return members
}

// sendServerState writes a full channel snapshot to a single session.
func (s *Server) sendServerState(ctx context.Context, sess model.Session) {
	_ = s.sessions.WriteFrame(sess.ID, mustFrame(protocol.TypeServerState, s.serverStatePayload(ctx, sess.UserID)))
}

// broadcastServerState pushes a refreshed channel snapshot to every
// authenticated session, used after any channel CRUD operation. Each
// session gets its own payload: canCreateChannel depends on that user's
// permissions.
func (s *Server) broadcastServerState(ctx context.Context) {
	for _, sess := range s.sessions.AllAuthenticated() {
		payload := s.serverStatePayload(ctx, sess.UserID)
		_ = s.sessions.WriteFrame(sess.ID, mustFrame(protocol.TypeServerState, payload))
	}
}

func (s *Server) serverStatePayload(ctx context.Context, userID uuid.UUID) protocol.ServerStatePayload {
	channels, err := s.channels.List(ctx)
	if err != nil {
		return protocol.ServerStatePayload{}
	}
	summaries := make([]protocol.ChannelSummary, len(channels))
	for i, ch := range channels {
		summaries[i] = protocol.ChannelSummary{
			ID:        ch.ID,
			Name:      ch.Name,
			Type:      ch.Type.String(),
			IsDefault: ch.IsDefault,
			MemberIDs: ch.MemberIDs,
			Members:   s.channelMembers(ctx, ch.MemberIDs),
		}
	}

	canCreate, err := s.perms.HasPermission(ctx, userID, model.PermCreateChannel)
	if err != nil {
		canCreate = false
	}
	if canCreate {
		if count, err := s.store.CountChannels(ctx); err == nil && count >= model.MaxChannelsPerServer {
			canCreate = false
		}
	}

	return protocol.ServerStatePayload{Channels: summaries, CanCreateChannel: canCreate}
}

func (s *Server) sendError(sessionID uint64, code, message string) {
	_ = s.sessions.WriteFrame(sessionID, mustFrame(protocol.TypeError, protocol.ErrorPayload{Code: code, Message: message}))
}

// mustFrame builds a frame from an always-marshalable payload type; any
// error here means a protocol payload struct itself is broken.
func mustFrame(frameType string, payload any) *protocol.Frame {
	frame, err := protocol.NewFrame(frameType, payload)
	if err != nil {
		panic(err)
	}
	return frame
}

func isClosedErr(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "use of closed network connection") || strings.Contains(msg, "tls: use of closed connection")
}

// sanitizeText strips control characters (collapsing newlines to spaces) so
// channel names and chat content can't carry terminal escapes or null
// bytes into a client's UI.
func sanitizeText(s string) string {
	return strings.Map(func(r rune) rune {
		if r == '\n' || r == '\r' {
			return ' '
		}
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, s)
}

package datastore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/bg9m9r/whispr-sub001/pkg/model"
)

const dbTimeLayout = "2006-01-02 15:04:05.999999999"

// SQLStore is the SQLite-backed DataStore implementation.
type SQLStore struct {
	db *sql.DB
}

var _ DataStore = (*SQLStore)(nil)

// NewSQLStore opens (or creates) a SQLite database at path and runs the
// schema migration.
func NewSQLStore(path string) (*SQLStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("datastore: open db: %w", err)
	}

	ctx := context.Background()
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("datastore: set WAL: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("datastore: enable FK: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("datastore: set busy_timeout: %w", err)
	}

	s := &SQLStore{db: db}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("datastore: migrate: %w", err)
	}
	return s, nil
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

func (s *SQLStore) migrate(ctx context.Context) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS users (
		id            TEXT    PRIMARY KEY,
		username      TEXT    NOT NULL UNIQUE CHECK(length(username) > 0 AND length(username) <= 32),
		password_hash BLOB    NOT NULL DEFAULT x'',
		password_salt BLOB    NOT NULL DEFAULT x'',
		role          INTEGER NOT NULL DEFAULT 0 CHECK(role IN (0,1)),
		created_at    TEXT    NOT NULL
	);

	CREATE TABLE IF NOT EXISTS channels (
		id           TEXT    PRIMARY KEY,
		name         TEXT    NOT NULL,
		type         INTEGER NOT NULL DEFAULT 0 CHECK(type IN (0,1)),
		is_default   INTEGER NOT NULL DEFAULT 0,
		key_material BLOB,
		created_at   TEXT    NOT NULL
	);

	CREATE TABLE IF NOT EXISTS roles (
		id   TEXT PRIMARY KEY,
		name TEXT NOT NULL UNIQUE
	);

	CREATE TABLE IF NOT EXISTS role_permissions (
		role_id       TEXT    NOT NULL REFERENCES roles(id) ON DELETE CASCADE,
		permission_id TEXT    NOT NULL,
		state         INTEGER NOT NULL,
		PRIMARY KEY (role_id, permission_id)
	);

	CREATE TABLE IF NOT EXISTS user_roles (
		user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		role_id TEXT NOT NULL REFERENCES roles(id) ON DELETE CASCADE,
		PRIMARY KEY (user_id, role_id)
	);

	CREATE TABLE IF NOT EXISTS user_permissions (
		user_id       TEXT    NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		permission_id TEXT    NOT NULL,
		state         INTEGER NOT NULL,
		PRIMARY KEY (user_id, permission_id)
	);

	CREATE TABLE IF NOT EXISTS channel_role_permissions (
		channel_id    TEXT    NOT NULL REFERENCES channels(id) ON DELETE CASCADE,
		role_id       TEXT    NOT NULL REFERENCES roles(id) ON DELETE CASCADE,
		permission_id TEXT    NOT NULL,
		state         INTEGER NOT NULL,
		PRIMARY KEY (channel_id, role_id, permission_id)
	);

	CREATE TABLE IF NOT EXISTS channel_user_permissions (
		channel_id    TEXT    NOT NULL REFERENCES channels(id) ON DELETE CASCADE,
		user_id       TEXT    NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		permission_id TEXT    NOT NULL,
		state         INTEGER NOT NULL,
		PRIMARY KEY (channel_id, user_id, permission_id)
	);

	CREATE TABLE IF NOT EXISTS tokens (
		hash       TEXT PRIMARY KEY,
		user_id    TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		issued_at  TEXT NOT NULL,
		expires_at TEXT
	);

	CREATE TABLE IF NOT EXISTS bans (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id    TEXT    NOT NULL,
		reason     TEXT    NOT NULL DEFAULT '',
		banned_by  TEXT    NOT NULL DEFAULT '',
		expires_at TEXT,
		created_at TEXT    NOT NULL
	);

	CREATE TABLE IF NOT EXISTS messages (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		channel_id TEXT    NOT NULL,
		sender_id  TEXT    NOT NULL,
		content    TEXT    NOT NULL DEFAULT '',
		created_at TEXT    NOT NULL
	);
	`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("datastore: apply schema: %w", err)
	}
	return nil
}

func formatDBTime(t time.Time) string {
	return t.UTC().Format(dbTimeLayout)
}

func parseDBTime(value string) (time.Time, error) {
	return time.ParseInLocation(dbTimeLayout, value, time.UTC)
}

func nullableTime(t time.Time) *string {
	if t.IsZero() {
		return nil
	}
	s := formatDBTime(t)
	return &s
}

func parseNullableTime(value *string) (time.Time, error) {
	if value == nil {
		return time.Time{}, nil
	}
	return parseDBTime(*value)
}

// ---- Users ----

func (s *SQLStore) CreateUser(ctx context.Context, u *model.User) error {
	if err := model.ValidateUsername(u.Username); err != nil {
		return fmt.Errorf("datastore: create user: %w", err)
	}
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO users (id, username, password_hash, password_salt, role, created_at) VALUES (?, ?, ?, ?, ?, ?)",
		u.ID.String(), u.Username, u.PasswordHash, u.PasswordSalt, int(u.Role), formatDBTime(u.CreatedAt))
	if err != nil {
		return fmt.Errorf("datastore: create user: %w", err)
	}
	return nil
}

func scanUser(row interface{ Scan(...any) error }) (*model.User, error) {
	var u model.User
	var id string
	var roleInt int
	var createdAt string
	if err := row.Scan(&id, &u.Username, &u.PasswordHash, &u.PasswordSalt, &roleInt, &createdAt); err != nil {
		return nil, err
	}
	parsedID, err := uuid.Parse(id)
	if err != nil {
		return nil, err
	}
	parsedAt, err := parseDBTime(createdAt)
	if err != nil {
		return nil, err
	}
	u.ID = parsedID
	u.Role = model.SystemRole(roleInt)
	u.CreatedAt = parsedAt
	return &u, nil
}

func (s *SQLStore) GetUserByUsername(ctx context.Context, username string) (*model.User, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT id, username, password_hash, password_salt, role, created_at FROM users WHERE username = ?", username)
	u, err := scanUser(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("datastore: get user by username: %w", err)
	}
	return u, nil
}

func (s *SQLStore) GetUserByID(ctx context.Context, id uuid.UUID) (*model.User, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT id, username, password_hash, password_salt, role, created_at FROM users WHERE id = ?", id.String())
	u, err := scanUser(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("datastore: get user by id: %w", err)
	}
	return u, nil
}

func (s *SQLStore) ListUsers(ctx context.Context) ([]model.User, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id, username, password_hash, password_salt, role, created_at FROM users ORDER BY created_at")
	if err != nil {
		return nil, fmt.Errorf("datastore: list users: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var users []model.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("datastore: scan user: %w", err)
		}
		users = append(users, *u)
	}
	return users, rows.Err()
}

func (s *SQLStore) CountUsers(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM users").Scan(&count); err != nil {
		return 0, fmt.Errorf("datastore: count users: %w", err)
	}
	return count, nil
}

func (s *SQLStore) SystemRole(ctx context.Context, userID uuid.UUID) (model.SystemRole, error) {
	var roleInt int
	err := s.db.QueryRowContext(ctx, "SELECT role FROM users WHERE id = ?", userID.String()).Scan(&roleInt)
	if err == sql.ErrNoRows {
		return model.SystemRoleUser, nil
	}
	if err != nil {
		return model.SystemRoleUser, fmt.Errorf("datastore: system role: %w", err)
	}
	return model.SystemRole(roleInt), nil
}

func (s *SQLStore) UpdateUserRole(ctx context.Context, userID uuid.UUID, role model.SystemRole) error {
	if !role.Valid() {
		return fmt.Errorf("datastore: update user role: %w", model.ErrInvalidSystemRole)
	}
	_, err := s.db.ExecContext(ctx, "UPDATE users SET role = ? WHERE id = ?", int(role), userID.String())
	if err != nil {
		return fmt.Errorf("datastore: update user role: %w", err)
	}
	return nil
}

// ---- Roles ----

func (s *SQLStore) CreateRole(ctx context.Context, role *model.Role) error {
	if role.ID == uuid.Nil {
		role.ID = uuid.New()
	}
	if _, err := s.db.ExecContext(ctx, "INSERT INTO roles (id, name) VALUES (?, ?)", role.ID.String(), role.Name); err != nil {
		return fmt.Errorf("datastore: create role: %w", err)
	}
	for permID, state := range role.Permissions {
		if err := s.SetRolePermission(ctx, role.ID, permID, state); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLStore) SetRolePermission(ctx context.Context, roleID uuid.UUID, permissionID string, state model.PermissionState) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO role_permissions (role_id, permission_id, state) VALUES (?, ?, ?) ON CONFLICT(role_id, permission_id) DO UPDATE SET state = excluded.state",
		roleID.String(), permissionID, int(state))
	if err != nil {
		return fmt.Errorf("datastore: set role permission: %w", err)
	}
	return nil
}

func (s *SQLStore) loadRolePermissions(ctx context.Context, roleID uuid.UUID) (map[string]model.PermissionState, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT permission_id, state FROM role_permissions WHERE role_id = ?", roleID.String())
	if err != nil {
		return nil, fmt.Errorf("datastore: load role permissions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	perms := map[string]model.PermissionState{}
	for rows.Next() {
		var permID string
		var state int
		if err := rows.Scan(&permID, &state); err != nil {
			return nil, fmt.Errorf("datastore: scan role permission: %w", err)
		}
		perms[permID] = model.PermissionState(state)
	}
	return perms, rows.Err()
}

func (s *SQLStore) GetRole(ctx context.Context, id uuid.UUID) (*model.Role, error) {
	var name string
	err := s.db.QueryRowContext(ctx, "SELECT name FROM roles WHERE id = ?", id.String()).Scan(&name)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("datastore: get role: %w", err)
	}
	perms, err := s.loadRolePermissions(ctx, id)
	if err != nil {
		return nil, err
	}
	return &model.Role{ID: id, Name: name, Permissions: perms}, nil
}

func (s *SQLStore) ListRoles(ctx context.Context) ([]model.Role, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id, name FROM roles ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("datastore: list roles: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var ids []uuid.UUID
	var names []string
	for rows.Next() {
		var idStr, name string
		if err := rows.Scan(&idStr, &name); err != nil {
			return nil, fmt.Errorf("datastore: scan role: %w", err)
		}
		id, err := uuid.Parse(idStr)
		if err != nil {
			return nil, fmt.Errorf("datastore: parse role id: %w", err)
		}
		ids = append(ids, id)
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	roles := make([]model.Role, 0, len(ids))
	for i, id := range ids {
		perms, err := s.loadRolePermissions(ctx, id)
		if err != nil {
			return nil, err
		}
		roles = append(roles, model.Role{ID: id, Name: names[i], Permissions: perms})
	}
	return roles, nil
}

func (s *SQLStore) AssignUserRole(ctx context.Context, userID, roleID uuid.UUID) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO user_roles (user_id, role_id) VALUES (?, ?)", userID.String(), roleID.String())
	if err != nil {
		return fmt.Errorf("datastore: assign user role: %w", err)
	}
	return nil
}

func (s *SQLStore) RevokeUserRole(ctx context.Context, userID, roleID uuid.UUID) error {
	_, err := s.db.ExecContext(ctx,
		"DELETE FROM user_roles WHERE user_id = ? AND role_id = ?", userID.String(), roleID.String())
	if err != nil {
		return fmt.Errorf("datastore: revoke user role: %w", err)
	}
	return nil
}

func (s *SQLStore) UserRoles(ctx context.Context, userID uuid.UUID) ([]model.Role, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT role_id FROM user_roles WHERE user_id = ?", userID.String())
	if err != nil {
		return nil, fmt.Errorf("datastore: user roles: %w", err)
	}
	var ids []uuid.UUID
	for rows.Next() {
		var idStr string
		if err := rows.Scan(&idStr); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("datastore: scan user role: %w", err)
		}
		id, err := uuid.Parse(idStr)
		if err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("datastore: parse user role id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}

	roles := make([]model.Role, 0, len(ids))
	for _, id := range ids {
		role, err := s.GetRole(ctx, id)
		if err != nil {
			return nil, err
		}
		if role != nil {
			roles = append(roles, *role)
		}
	}
	return roles, nil
}

// ---- Permission overrides ----

func (s *SQLStore) SetUserPermission(ctx context.Context, userID uuid.UUID, permissionID string, state model.PermissionState) error {
	if state == model.StateNeutral {
		_, err := s.db.ExecContext(ctx, "DELETE FROM user_permissions WHERE user_id = ? AND permission_id = ?", userID.String(), permissionID)
		if err != nil {
			return fmt.Errorf("datastore: clear user permission: %w", err)
		}
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO user_permissions (user_id, permission_id, state) VALUES (?, ?, ?) ON CONFLICT(user_id, permission_id) DO UPDATE SET state = excluded.state",
		userID.String(), permissionID, int(state))
	if err != nil {
		return fmt.Errorf("datastore: set user permission: %w", err)
	}
	return nil
}

func (s *SQLStore) UserPermissionOverride(ctx context.Context, userID uuid.UUID, permissionID string) (model.PermissionState, error) {
	var state int
	err := s.db.QueryRowContext(ctx,
		"SELECT state FROM user_permissions WHERE user_id = ? AND permission_id = ?", userID.String(), permissionID).Scan(&state)
	if err == sql.ErrNoRows {
		return model.StateNeutral, nil
	}
	if err != nil {
		return model.StateNeutral, fmt.Errorf("datastore: user permission override: %w", err)
	}
	return model.PermissionState(state), nil
}

func (s *SQLStore) UserPermissionOverrides(ctx context.Context, userID uuid.UUID) ([]model.UserPermission, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT permission_id, state FROM user_permissions WHERE user_id = ?", userID.String())
	if err != nil {
		return nil, fmt.Errorf("datastore: user permission overrides: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var overrides []model.UserPermission
	for rows.Next() {
		var permID string
		var state int
		if err := rows.Scan(&permID, &state); err != nil {
			return nil, fmt.Errorf("datastore: scan user permission: %w", err)
		}
		overrides = append(overrides, model.UserPermission{UserID: userID, PermissionID: permID, State: model.PermissionState(state)})
	}
	return overrides, rows.Err()
}

func (s *SQLStore) SetChannelRolePermission(ctx context.Context, channelID, roleID uuid.UUID, permissionID string, state model.PermissionState) error {
	if state == model.StateNeutral {
		_, err := s.db.ExecContext(ctx,
			"DELETE FROM channel_role_permissions WHERE channel_id = ? AND role_id = ? AND permission_id = ?",
			channelID.String(), roleID.String(), permissionID)
		if err != nil {
			return fmt.Errorf("datastore: clear channel role permission: %w", err)
		}
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO channel_role_permissions (channel_id, role_id, permission_id, state) VALUES (?, ?, ?, ?) ON CONFLICT(channel_id, role_id, permission_id) DO UPDATE SET state = excluded.state",
		channelID.String(), roleID.String(), permissionID, int(state))
	if err != nil {
		return fmt.Errorf("datastore: set channel role permission: %w", err)
	}
	return nil
}

func (s *SQLStore) SetChannelUserPermission(ctx context.Context, channelID, userID uuid.UUID, permissionID string, state model.PermissionState) error {
	if state == model.StateNeutral {
		_, err := s.db.ExecContext(ctx,
			"DELETE FROM channel_user_permissions WHERE channel_id = ? AND user_id = ? AND permission_id = ?",
			channelID.String(), userID.String(), permissionID)
		if err != nil {
			return fmt.Errorf("datastore: clear channel user permission: %w", err)
		}
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO channel_user_permissions (channel_id, user_id, permission_id, state) VALUES (?, ?, ?, ?) ON CONFLICT(channel_id, user_id, permission_id) DO UPDATE SET state = excluded.state",
		channelID.String(), userID.String(), permissionID, int(state))
	if err != nil {
		return fmt.Errorf("datastore: set channel user permission: %w", err)
	}
	return nil
}

func (s *SQLStore) ChannelRolePermissions(ctx context.Context, channelID uuid.UUID) ([]model.ChannelRolePermission, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT role_id, permission_id, state FROM channel_role_permissions WHERE channel_id = ?", channelID.String())
	if err != nil {
		return nil, fmt.Errorf("datastore: channel role permissions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var overrides []model.ChannelRolePermission
	for rows.Next() {
		var roleIDStr, permID string
		var state int
		if err := rows.Scan(&roleIDStr, &permID, &state); err != nil {
			return nil, fmt.Errorf("datastore: scan channel role permission: %w", err)
		}
		roleID, err := uuid.Parse(roleIDStr)
		if err != nil {
			return nil, fmt.Errorf("datastore: parse role id: %w", err)
		}
		overrides = append(overrides, model.ChannelRolePermission{
			ChannelID: channelID, RoleID: roleID, PermissionID: permID, State: model.PermissionState(state),
		})
	}
	return overrides, rows.Err()
}

func (s *SQLStore) ChannelUserPermission(ctx context.Context, channelID, userID uuid.UUID, permissionID string) (model.PermissionState, error) {
	var state int
	err := s.db.QueryRowContext(ctx,
		"SELECT state FROM channel_user_permissions WHERE channel_id = ? AND user_id = ? AND permission_id = ?",
		channelID.String(), userID.String(), permissionID).Scan(&state)
	if err == sql.ErrNoRows {
		return model.StateNeutral, nil
	}
	if err != nil {
		return model.StateNeutral, fmt.Errorf("datastore: channel user permission: %w", err)
	}
	return model.PermissionState(state), nil
}

func (s *SQLStore) ChannelUserPermissions(ctx context.Context, channelID uuid.UUID) ([]model.ChannelUserPermission, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT user_id, permission_id, state FROM channel_user_permissions WHERE channel_id = ?", channelID.String())
	if err != nil {
		return nil, fmt.Errorf("datastore: channel user permissions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var overrides []model.ChannelUserPermission
	for rows.Next() {
		var userIDStr, permID string
		var state int
		if err := rows.Scan(&userIDStr, &permID, &state); err != nil {
			return nil, fmt.Errorf("datastore: scan channel user permission: %w", err)
		}
		userID, err := uuid.Parse(userIDStr)
		if err != nil {
			return nil, fmt.Errorf("datastore: parse user id: %w", err)
		}
		overrides = append(overrides, model.ChannelUserPermission{
			ChannelID: channelID, UserID: userID, PermissionID: permID, State: model.PermissionState(state),
		})
	}
	return overrides, rows.Err()
}

// ---- Channels ----

func (s *SQLStore) CreateChannel(ctx context.Context, ch *model.Channel) error {
	if err := model.ValidateChannelName(ch.Name); err != nil {
		return fmt.Errorf("datastore: create channel: %w", err)
	}
	if ch.ID == uuid.Nil {
		ch.ID = uuid.New()
	}
	if ch.CreatedAt.IsZero() {
		ch.CreatedAt = time.Now().UTC()
	}
	isDefault := 0
	if ch.IsDefault {
		isDefault = 1
	}
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO channels (id, name, type, is_default, key_material, created_at) VALUES (?, ?, ?, ?, ?, ?)",
		ch.ID.String(), ch.Name, int(ch.Type), isDefault, ch.KeyMaterial, formatDBTime(ch.CreatedAt))
	if err != nil {
		return fmt.Errorf("datastore: create channel: %w", err)
	}
	return nil
}

func scanChannel(row interface{ Scan(...any) error }) (*model.Channel, error) {
	var ch model.Channel
	var id string
	var typeInt, isDefaultInt int
	var createdAt string
	if err := row.Scan(&id, &ch.Name, &typeInt, &isDefaultInt, &ch.KeyMaterial, &createdAt); err != nil {
		return nil, err
	}
	parsedID, err := uuid.Parse(id)
	if err != nil {
		return nil, err
	}
	parsedAt, err := parseDBTime(createdAt)
	if err != nil {
		return nil, err
	}
	ch.ID = parsedID
	ch.Type = model.ChannelType(typeInt)
	ch.IsDefault = isDefaultInt != 0
	ch.CreatedAt = parsedAt
	return &ch, nil
}

func (s *SQLStore) GetChannel(ctx context.Context, id uuid.UUID) (*model.Channel, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT id, name, type, is_default, key_material, created_at FROM channels WHERE id = ?", id.String())
	ch, err := scanChannel(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("datastore: get channel: %w", err)
	}
	return ch, nil
}

func (s *SQLStore) GetChannelByName(ctx context.Context, name string) (*model.Channel, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT id, name, type, is_default, key_material, created_at FROM channels WHERE name = ?", name)
	ch, err := scanChannel(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("datastore: get channel by name: %w", err)
	}
	return ch, nil
}

func (s *SQLStore) ListChannels(ctx context.Context) ([]model.Channel, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, name, type, is_default, key_material, created_at FROM channels ORDER BY created_at")
	if err != nil {
		return nil, fmt.Errorf("datastore: list channels: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var channels []model.Channel
	for rows.Next() {
		ch, err := scanChannel(rows)
		if err != nil {
			return nil, fmt.Errorf("datastore: scan channel: %w", err)
		}
		channels = append(channels, *ch)
	}
	return channels, rows.Err()
}

func (s *SQLStore) CountChannels(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM channels").Scan(&count); err != nil {
		return 0, fmt.Errorf("datastore: count channels: %w", err)
	}
	return count, nil
}

func (s *SQLStore) DeleteChannel(ctx context.Context, id uuid.UUID) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM channels WHERE id = ?", id.String())
	if err != nil {
		return fmt.Errorf("datastore: delete channel: %w", err)
	}
	return nil
}

// ---- Tokens ----

func (s *SQLStore) CreateToken(ctx context.Context, token *model.Token) error {
	if token.IssuedAt.IsZero() {
		token.IssuedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO tokens (hash, user_id, issued_at, expires_at) VALUES (?, ?, ?, ?)",
		token.Hash, token.UserID.String(), formatDBTime(token.IssuedAt), nullableTime(token.ExpiresAt))
	if err != nil {
		return fmt.Errorf("datastore: create token: %w", err)
	}
	return nil
}

func (s *SQLStore) GetTokenByHash(ctx context.Context, hash string) (*model.Token, error) {
	var userIDStr, issuedAt string
	var expiresAt *string
	err := s.db.QueryRowContext(ctx,
		"SELECT user_id, issued_at, expires_at FROM tokens WHERE hash = ?", hash).Scan(&userIDStr, &issuedAt, &expiresAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("datastore: get token: %w", err)
	}
	userID, err := uuid.Parse(userIDStr)
	if err != nil {
		return nil, fmt.Errorf("datastore: parse token user id: %w", err)
	}
	issuedTime, err := parseDBTime(issuedAt)
	if err != nil {
		return nil, fmt.Errorf("datastore: parse token issued_at: %w", err)
	}
	expiresTime, err := parseNullableTime(expiresAt)
	if err != nil {
		return nil, fmt.Errorf("datastore: parse token expires_at: %w", err)
	}
	return &model.Token{Hash: hash, UserID: userID, IssuedAt: issuedTime, ExpiresAt: expiresTime}, nil
}

func (s *SQLStore) DeleteToken(ctx context.Context, hash string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM tokens WHERE hash = ?", hash)
	if err != nil {
		return fmt.Errorf("datastore: delete token: %w", err)
	}
	return nil
}

func (s *SQLStore) DeleteExpiredTokens(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM tokens WHERE expires_at IS NOT NULL AND expires_at <= ?", formatDBTime(now))
	if err != nil {
		return 0, fmt.Errorf("datastore: delete expired tokens: %w", err)
	}
	return res.RowsAffected()
}

func (s *SQLStore) HasTokens(ctx context.Context) (bool, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM tokens").Scan(&count); err != nil {
		return false, fmt.Errorf("datastore: has tokens: %w", err)
	}
	return count > 0, nil
}

// ---- Bans ----

func (s *SQLStore) CreateBan(ctx context.Context, ban *model.Ban) error {
	if ban.CreatedAt.IsZero() {
		ban.CreatedAt = time.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx,
		"INSERT INTO bans (user_id, reason, banned_by, expires_at, created_at) VALUES (?, ?, ?, ?, ?)",
		ban.UserID.String(), ban.Reason, ban.BannedBy.String(), nullableTime(ban.ExpiresAt), formatDBTime(ban.CreatedAt))
	if err != nil {
		return fmt.Errorf("datastore: create ban: %w", err)
	}
	ban.ID, _ = res.LastInsertId()
	return nil
}

func (s *SQLStore) IsUserBanned(ctx context.Context, userID uuid.UUID, now time.Time) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM bans WHERE user_id = ? AND (expires_at IS NULL OR expires_at > ?)",
		userID.String(), formatDBTime(now)).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("datastore: is user banned: %w", err)
	}
	return count > 0, nil
}

func (s *SQLStore) ListBans(ctx context.Context) ([]model.Ban, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, user_id, reason, banned_by, expires_at, created_at FROM bans ORDER BY created_at DESC")
	if err != nil {
		return nil, fmt.Errorf("datastore: list bans: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var bans []model.Ban
	for rows.Next() {
		var b model.Ban
		var userIDStr, bannedByStr, createdAt string
		var expiresAt *string
		if err := rows.Scan(&b.ID, &userIDStr, &b.Reason, &bannedByStr, &expiresAt, &createdAt); err != nil {
			return nil, fmt.Errorf("datastore: scan ban: %w", err)
		}
		if b.UserID, err = uuid.Parse(userIDStr); err != nil {
			return nil, fmt.Errorf("datastore: parse ban user id: %w", err)
		}
		if bannedByStr != "" {
			if b.BannedBy, err = uuid.Parse(bannedByStr); err != nil {
				return nil, fmt.Errorf("datastore: parse ban banned_by: %w", err)
			}
		}
		if b.ExpiresAt, err = parseNullableTime(expiresAt); err != nil {
			return nil, fmt.Errorf("datastore: parse ban expires_at: %w", err)
		}
		if b.CreatedAt, err = parseDBTime(createdAt); err != nil {
			return nil, fmt.Errorf("datastore: parse ban created_at: %w", err)
		}
		bans = append(bans, b)
	}
	return bans, rows.Err()
}

// ---- Messages ----

func (s *SQLStore) CreateMessage(ctx context.Context, msg *model.Message) error {
	if _, err := model.ValidateMessageContent(msg.Content); err != nil {
		return fmt.Errorf("datastore: create message: %w", err)
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx,
		"INSERT INTO messages (channel_id, sender_id, content, created_at) VALUES (?, ?, ?, ?)",
		msg.ChannelID.String(), msg.SenderID.String(), msg.Content, formatDBTime(msg.CreatedAt))
	if err != nil {
		return fmt.Errorf("datastore: create message: %w", err)
	}
	msg.ID, _ = res.LastInsertId()
	return nil
}

func (s *SQLStore) ListMessages(ctx context.Context, filters model.MessageFilters) ([]model.Message, error) {
	limit := filters.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	since := formatDBTime(filters.Since)
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, channel_id, sender_id, content, created_at FROM messages
		 WHERE channel_id = ? AND (? = '' OR created_at >= ?)
		 ORDER BY id DESC LIMIT ?`,
		filters.ChannelID.String(), sinceFilterFlag(filters.Since), since, limit)
	if err != nil {
		return nil, fmt.Errorf("datastore: list messages: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var messages []model.Message
	for rows.Next() {
		var m model.Message
		var channelIDStr, senderIDStr, createdAt string
		if err := rows.Scan(&m.ID, &channelIDStr, &senderIDStr, &m.Content, &createdAt); err != nil {
			return nil, fmt.Errorf("datastore: scan message: %w", err)
		}
		if m.ChannelID, err = uuid.Parse(channelIDStr); err != nil {
			return nil, fmt.Errorf("datastore: parse message channel id: %w", err)
		}
		if m.SenderID, err = uuid.Parse(senderIDStr); err != nil {
			return nil, fmt.Errorf("datastore: parse message sender id: %w", err)
		}
		if m.CreatedAt, err = parseDBTime(createdAt); err != nil {
			return nil, fmt.Errorf("datastore: parse message created_at: %w", err)
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

// sinceFilterFlag returns "" when Since is zero, signaling the query's
// OR-short-circuit to ignore the lower bound entirely.
func sinceFilterFlag(since time.Time) string {
	if since.IsZero() {
		return ""
	}
	return "set"
}

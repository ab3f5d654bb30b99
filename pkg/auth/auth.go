// Package auth implements credential validation, bearer token issuance, and
// account bootstrap for the control server.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/bg9m9r/whispr-sub001/pkg/crypto"
	"github.com/bg9m9r/whispr-sub001/pkg/datastore"
	"github.com/bg9m9r/whispr-sub001/pkg/model"
)

var (
	ErrInvalidCredentials = errors.New("auth: invalid username or password")
	ErrUsernameTaken      = errors.New("auth: username already taken")
	ErrUserBanned         = errors.New("auth: user is banned")
	ErrTokenInvalid       = errors.New("auth: invalid or expired token")
)

const (
	defaultTokenLifetime = 24 * time.Hour
	seedUsername1        = "admin"
	seedUsername2        = "bob"
)

// Service validates credentials, issues and revokes bearer tokens, and owns
// the first-run account bootstrap (seed users, admin bootstrap token).
type Service struct {
	store         datastore.DataStore
	tokenLifetime time.Duration
}

func NewService(store datastore.DataStore, tokenLifetime time.Duration) *Service {
	if tokenLifetime <= 0 {
		tokenLifetime = defaultTokenLifetime
	}
	return &Service{store: store, tokenLifetime: tokenLifetime}
}

// ValidateCredentials checks a username/password pair and rejects banned
// accounts. It returns the same ErrInvalidCredentials whether the username
// doesn't exist or the password is wrong, so a caller can't use response
// timing or error identity to enumerate accounts.
func (s *Service) ValidateCredentials(ctx context.Context, username, password string) (*model.User, error) {
	user, err := s.store.GetUserByUsername(ctx, username)
	if err != nil {
		return nil, fmt.Errorf("auth: validate credentials: %w", err)
	}
	if user == nil || len(user.PasswordHash) == 0 {
		// Do the same Argon2id work a real check does, so an unknown
		// username takes as long to reject as a wrong password.
		_ = crypto.HashPassword(password, make([]byte, 16))
		return nil, ErrInvalidCredentials
	}
	if !crypto.VerifyPassword(password, user.PasswordSalt, user.PasswordHash) {
		return nil, ErrInvalidCredentials
	}
	banned, err := s.store.IsUserBanned(ctx, user.ID, time.Now())
	if err != nil {
		return nil, fmt.Errorf("auth: check ban: %w", err)
	}
	if banned {
		return nil, ErrUserBanned
	}
	return user, nil
}

// AddUser creates a new account with a freshly salted password hash.
func (s *Service) AddUser(ctx context.Context, username, password string, role model.SystemRole) (*model.User, error) {
	if err := model.ValidateUsername(username); err != nil {
		return nil, err
	}
	existing, err := s.store.GetUserByUsername(ctx, username)
	if err != nil {
		return nil, fmt.Errorf("auth: add user: %w", err)
	}
	if existing != nil {
		return nil, ErrUsernameTaken
	}
	salt, err := crypto.GenerateSalt()
	if err != nil {
		return nil, fmt.Errorf("auth: add user: %w", err)
	}
	user := &model.User{
		ID:           uuid.New(),
		Username:     username,
		PasswordHash: crypto.HashPassword(password, salt),
		PasswordSalt: salt,
		Role:         role,
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.store.CreateUser(ctx, user); err != nil {
		return nil, fmt.Errorf("auth: add user: %w", err)
	}
	return user, nil
}

// IssueToken mints a new bearer token for userID and persists only its
// hash. The raw value is returned once and never stored.
func (s *Service) IssueToken(ctx context.Context, userID uuid.UUID) (string, error) {
	raw, err := crypto.GenerateToken()
	if err != nil {
		return "", fmt.Errorf("auth: issue token: %w", err)
	}
	now := time.Now().UTC()
	token := &model.Token{
		Hash:      crypto.HashToken(raw),
		UserID:    userID,
		IssuedAt:  now,
		ExpiresAt: now.Add(s.tokenLifetime),
	}
	if err := s.store.CreateToken(ctx, token); err != nil {
		return "", fmt.Errorf("auth: issue token: %w", err)
	}
	return raw, nil
}

// IssueLongLivedToken mints a token with no expiry, used only for the
// startup admin bootstrap token.
func (s *Service) IssueLongLivedToken(ctx context.Context, userID uuid.UUID) (string, error) {
	raw, err := crypto.GenerateToken()
	if err != nil {
		return "", fmt.Errorf("auth: issue long-lived token: %w", err)
	}
	token := &model.Token{
		Hash:     crypto.HashToken(raw),
		UserID:   userID,
		IssuedAt: time.Now().UTC(),
	}
	if err := s.store.CreateToken(ctx, token); err != nil {
		return "", fmt.Errorf("auth: issue long-lived token: %w", err)
	}
	return raw, nil
}

// ValidateToken resolves a raw bearer token to its owning user. An expired
// token is swept opportunistically and reported the same as an unknown one.
func (s *Service) ValidateToken(ctx context.Context, raw string) (*model.User, error) {
	hash := crypto.HashToken(raw)
	token, err := s.store.GetTokenByHash(ctx, hash)
	if err != nil {
		return nil, fmt.Errorf("auth: validate token: %w", err)
	}
	if token == nil {
		return nil, ErrTokenInvalid
	}
	if token.Expired(time.Now()) {
		_ = s.store.DeleteToken(ctx, hash)
		return nil, ErrTokenInvalid
	}
	user, err := s.store.GetUserByID(ctx, token.UserID)
	if err != nil {
		return nil, fmt.Errorf("auth: validate token: %w", err)
	}
	if user == nil {
		return nil, ErrTokenInvalid
	}
	banned, err := s.store.IsUserBanned(ctx, user.ID, time.Now())
	if err != nil {
		return nil, fmt.Errorf("auth: validate token: %w", err)
	}
	if banned {
		return nil, ErrUserBanned
	}
	return user, nil
}

// RevokeToken deletes a token by its raw value. Revoking an already-gone
// token is not an error.
func (s *Service) RevokeToken(ctx context.Context, raw string) error {
	if err := s.store.DeleteToken(ctx, crypto.HashToken(raw)); err != nil {
		return fmt.Errorf("auth: revoke token: %w", err)
	}
	return nil
}

// SweepExpiredTokens deletes every token whose lifetime has elapsed,
// bounding unbounded growth between opportunistic per-validation sweeps.
func (s *Service) SweepExpiredTokens(ctx context.Context) (int64, error) {
	deleted, err := s.store.DeleteExpiredTokens(ctx, time.Now())
	if err != nil {
		return 0, fmt.Errorf("auth: sweep expired tokens: %w", err)
	}
	return deleted, nil
}

// IsAdmin reports whether userID's SystemRole is admin.
func (s *Service) IsAdmin(ctx context.Context, userID uuid.UUID) (bool, error) {
	role, err := s.store.SystemRole(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("auth: is admin: %w", err)
	}
	return role == model.SystemRoleAdmin, nil
}

// GetUsername resolves a user ID to its current username.
func (s *Service) GetUsername(ctx context.Context, userID uuid.UUID) (string, error) {
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("auth: get username: %w", err)
	}
	if user == nil {
		return "", fmt.Errorf("auth: get username: user not found")
	}
	return user.Username, nil
}

// SeedDefaultUsers creates the admin/admin and bob/bob accounts when the
// user store is empty. Intended for local development only; operators
// deploying for real traffic should leave seeding off and use `add-user`.
func (s *Service) SeedDefaultUsers(ctx context.Context) error {
	count, err := s.store.CountUsers(ctx)
	if err != nil {
		return fmt.Errorf("auth: seed users: %w", err)
	}
	if count > 0 {
		return nil
	}
	if _, err := s.AddUser(ctx, seedUsername1, seedUsername1, model.SystemRoleAdmin); err != nil {
		return fmt.Errorf("auth: seed admin: %w", err)
	}
	if _, err := s.AddUser(ctx, seedUsername2, seedUsername2, model.SystemRoleUser); err != nil {
		return fmt.Errorf("auth: seed user: %w", err)
	}
	slog.Info("seeded default accounts", "users", []string{seedUsername1, seedUsername2})
	return nil
}

// EnsureAdminToken issues a long-lived bearer token for the first admin
// account when the store holds no tokens, so an operator can drive the
// control protocol without a GUI client. It is a no-op if any token already
// exists, and also when no account has the admin SystemRole.
func (s *Service) EnsureAdminToken(ctx context.Context) error {
	hasTokens, err := s.store.HasTokens(ctx)
	if err != nil {
		return fmt.Errorf("auth: ensure admin token: %w", err)
	}
	if hasTokens {
		return nil
	}

	admins, err := s.store.ListUsers(ctx)
	if err != nil {
		return fmt.Errorf("auth: ensure admin token: %w", err)
	}
	var adminID uuid.UUID
	found := false
	for _, u := range admins {
		if u.Role == model.SystemRoleAdmin {
			adminID = u.ID
			found = true
			break
		}
	}
	if !found {
		return nil
	}

	raw, err := s.IssueLongLivedToken(ctx, adminID)
	if err != nil {
		return fmt.Errorf("auth: ensure admin token: %w", err)
	}
	slog.Info("bootstrap admin token issued", "token", raw)
	return nil
}

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"formbridge/internal/metadata"
)

// UserRepo stores admin accounts and their refresh tokens.
type UserRepo struct {
	store *Store
	now   func() time.Time
}

func NewUserRepo(s *Store) *UserRepo {
	return &UserRepo{store: s, now: time.Now}
}

// FindByEmail returns ErrNotFound when no account has email.
func (r *UserRepo) FindByEmail(ctx context.Context, email string) (*metadata.User, error) {
	pb := r.store.Dialect.NewParamBuilder()
	var (
		u     metadata.User
		roles string
	)
	err := r.store.DB.QueryRowContext(ctx,
		fmt.Sprintf("SELECT id, email, password_hash, roles, active FROM _users WHERE email = %s", pb.Add(email)),
		pb.Params()...).Scan(&u.ID, &u.Email, &u.PasswordHash, &roles, &u.Active)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find user: %w", err)
	}
	u.Roles = decodeRoles(roles)
	return &u, nil
}

// SaveRefreshToken stores token for userID until expiresAt.
func (r *UserRepo) SaveRefreshToken(ctx context.Context, userID, token string, expiresAt time.Time) error {
	pb := r.store.Dialect.NewParamBuilder()
	query := fmt.Sprintf("INSERT INTO _refresh_tokens (id, user_id, token, expires_at) VALUES (%s, %s, %s, %s)",
		pb.Add(GenerateUUID()), pb.Add(userID), pb.Add(token), pb.Add(expiresAt.Unix()))
	if _, err := Exec(ctx, r.store.DB, query, pb.Params()...); err != nil {
		return fmt.Errorf("insert refresh token: %w", MapError(r.store.Dialect, err))
	}
	return nil
}

// ConsumeRefreshToken deletes token and returns the account it belonged to.
// Unknown and expired tokens yield ErrNotFound; expired tokens are removed.
func (r *UserRepo) ConsumeRefreshToken(ctx context.Context, token string) (*metadata.User, error) {
	pb := r.store.Dialect.NewParamBuilder()
	var (
		u         metadata.User
		roles     string
		expiresAt int64
	)
	err := r.store.DB.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT u.id, u.email, u.roles, u.active, rt.expires_at
FROM _refresh_tokens rt
JOIN _users u ON u.id = rt.user_id
WHERE rt.token = %s`, pb.Add(token)),
		pb.Params()...).Scan(&u.ID, &u.Email, &roles, &u.Active, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find refresh token: %w", err)
	}

	if err := r.DeleteRefreshToken(ctx, token); err != nil {
		return nil, err
	}
	if r.now().Unix() >= expiresAt {
		return nil, ErrNotFound
	}
	u.Roles = decodeRoles(roles)
	return &u, nil
}

// DeleteRefreshToken is a no-op for unknown tokens.
func (r *UserRepo) DeleteRefreshToken(ctx context.Context, token string) error {
	pb := r.store.Dialect.NewParamBuilder()
	if _, err := Exec(ctx, r.store.DB,
		fmt.Sprintf("DELETE FROM _refresh_tokens WHERE token = %s", pb.Add(token)),
		pb.Params()...); err != nil {
		return fmt.Errorf("delete refresh token: %w", err)
	}
	return nil
}

// PurgeExpiredTokens removes refresh tokens past their expiry.
func (r *UserRepo) PurgeExpiredTokens(ctx context.Context) (int64, error) {
	pb := r.store.Dialect.NewParamBuilder()
	n, err := Exec(ctx, r.store.DB,
		fmt.Sprintf("DELETE FROM _refresh_tokens WHERE expires_at <= %s", pb.Add(r.now().Unix())),
		pb.Params()...)
	if err != nil {
		return 0, fmt.Errorf("purge refresh tokens: %w", err)
	}
	return n, nil
}

func decodeRoles(raw string) []string {
	var roles []string
	if err := json.Unmarshal([]byte(raw), &roles); err != nil || roles == nil {
		return []string{}
	}
	return roles
}

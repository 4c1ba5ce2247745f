package store

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"
)

// Bootstrap creates the service tables and seeds the first admin user.
func (s *Store) Bootstrap(ctx context.Context, adminEmail, adminPassword string) error {
	if _, err := s.DB.ExecContext(ctx, s.Dialect.SystemTablesSQL()); err != nil {
		return fmt.Errorf("bootstrap system tables: %w", err)
	}
	if err := s.seedAdminUser(ctx, adminEmail, adminPassword); err != nil {
		return fmt.Errorf("seed admin user: %w", err)
	}
	return nil
}

func (s *Store) seedAdminUser(ctx context.Context, email, password string) error {
	var count int
	if err := s.DB.QueryRowContext(ctx, "SELECT COUNT(*) FROM _users").Scan(&count); err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	hashBytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}

	pb := s.Dialect.NewParamBuilder()
	query := fmt.Sprintf(`INSERT INTO _users (id, email, password_hash, roles) VALUES (%s, %s, %s, %s)`,
		pb.Add(GenerateUUID()), pb.Add(email), pb.Add(string(hashBytes)), pb.Add(`["admin"]`))
	if _, err := s.DB.ExecContext(ctx, query, pb.Params()...); err != nil {
		return err
	}

	log.Warn().Str("email", email).Msg("default admin user created, change the password immediately")
	return nil
}

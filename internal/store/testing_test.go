package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"formbridge/internal/config"
)

// newTestStore opens a bootstrapped SQLite store in a temporary directory.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()
	s, err := New(ctx, config.DatabaseConfig{Driver: "sqlite", Path: t.TempDir(), Name: "formbridge"})
	require.NoError(t, err)
	t.Cleanup(s.Close)
	require.NoError(t, s.Bootstrap(ctx, "admin@localhost", "changeme"))
	return s
}

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultsWithoutFile(t *testing.T) {
	cfg, err := Load(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, "local", cfg.Storage.Driver)
	assert.Equal(t, int64(10485760), cfg.Storage.MaxFileSize)
	assert.Equal(t, 30*time.Second, cfg.Importer.Timeout)
	assert.False(t, cfg.Importer.AllowPrivateNetworks)
	assert.Equal(t, 24*time.Hour, cfg.Redis.TTL)
	assert.Empty(t, cfg.Redis.Address)
	assert.True(t, cfg.Metrics.Enabled)
}

func TestLoad_FileAndEnvOverlay(t *testing.T) {
	dir := t.TempDir()
	yaml := `
server:
  port: 9090
  public_url: https://forms.example.com
database:
  driver: sqlite
  name: bridge
  path: /var/lib/bridge
importer:
  timeout: 5s
  allow_private_networks: true
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "app.yaml"), []byte(yaml), 0o644))
	t.Setenv("STORAGE_DRIVER", "s3")
	t.Setenv("STORAGE_S3_BUCKET", "media")

	cfg, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "https://forms.example.com", cfg.Server.PublicURL)
	assert.True(t, cfg.Database.IsSQLite())
	assert.Equal(t, "/var/lib/bridge/bridge.db", cfg.Database.DSN())
	assert.Equal(t, 5*time.Second, cfg.Importer.Timeout)
	assert.True(t, cfg.Importer.AllowPrivateNetworks)
	assert.Equal(t, "s3", cfg.Storage.Driver)
	assert.Equal(t, "media", cfg.Storage.S3.Bucket)
}

func TestDSN_Postgres(t *testing.T) {
	d := DatabaseConfig{Driver: "postgres", User: "u", Password: "p", Host: "db", Port: 5433, Name: "forms"}
	assert.Equal(t, "postgres://u:p@db:5433/forms?sslmode=disable", d.DSN())
}

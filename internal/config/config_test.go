package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func validConfig() Config {
	c := Default()
	c.Auth.JWTSecret = "access-secret-0123456789"
	c.Auth.RefreshSecret = "refresh-secret-0123456789"
	return c
}

func TestDefault_IsValidOnceSecretsAreSet(t *testing.T) {
	c := validConfig()
	require.NoError(t, c.Validate())

	assert.Equal(t, int64(10<<20), c.Upload.MaxBytes)
	assert.Equal(t, 15*time.Minute, c.Auth.AccessTTL)
	assert.Equal(t, 7*24*time.Hour, c.Auth.RefreshTTL)
	assert.Equal(t, time.Hour, c.Sweep.Interval)
	assert.Equal(t, 60, c.QR.DefaultMinutes)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantMsg string
	}{
		{"missing secrets", func(c *Config) { c.Auth.JWTSecret = ""; c.Auth.RefreshSecret = "" }, "auth.jwt_secret"},
		{"same secrets", func(c *Config) { c.Auth.RefreshSecret = c.Auth.JWTSecret }, "must differ"},
		{"weak bcrypt", func(c *Config) { c.Auth.BcryptCost = 4 }, "bcrypt_cost"},
		{"bad driver", func(c *Config) { c.Database.Driver = "mysql" }, "database.driver"},
		{"bad storage", func(c *Config) { c.Storage.Type = "ftp" }, "storage.type"},
		{"s3 without bucket", func(c *Config) { c.Storage.Type = "s3" }, "storage.s3.bucket"},
		{"relative base url", func(c *Config) { c.Server.BaseURL = "/qr" }, "server.base_url"},
		{"qr cap below default", func(c *Config) { c.QR.MaxMinutes = 5 }, "qr.max_minutes"},
		{"zero sweep", func(c *Config) { c.Sweep.Interval = 0 }, "sweep.interval"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := validConfig()
			tt.mutate(&c)
			err := c.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantMsg)
		})
	}
}

func TestValidate_ReportsEverything(t *testing.T) {
	c := validConfig()
	c.Server.Port = 0
	c.Upload.MaxBytes = 0

	err := c.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server.port")
	assert.Contains(t, err.Error(), "upload.max_bytes")
}

func TestLoad_FileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bioqr.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: 9090
  base_url: https://qr.example.com
auth:
  jwt_secret: file-access-secret-123
  refresh_secret: file-refresh-secret-123
  access_ttl: 5m
qr:
  max_minutes: 120
`), 0o600))

	t.Setenv("BIOQR_AUTH_REFRESH_SECRET", "env-refresh-secret-456")
	t.Setenv("BIOQR_STORAGE_LOCAL_ROOT", "/var/lib/bioqr")

	cfg, err := LoadWith(viper.New(), path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "https://qr.example.com", cfg.Server.BaseURL)
	assert.Equal(t, "file-access-secret-123", cfg.Auth.JWTSecret)
	assert.Equal(t, "env-refresh-secret-456", cfg.Auth.RefreshSecret, "env must win over file")
	assert.Equal(t, 5*time.Minute, cfg.Auth.AccessTTL)
	assert.Equal(t, 7*24*time.Hour, cfg.Auth.RefreshTTL, "unset keys keep defaults")
	assert.Equal(t, "/var/lib/bioqr", cfg.Storage.Local.Root)
	assert.Equal(t, 120, cfg.QR.MaxMinutes)
}

func TestLoad_ExplicitMissingFileFails(t *testing.T) {
	_, err := LoadWith(viper.New(), filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoad_InvalidConfigFails(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bioqr.yaml")
	require.NoError(t, os.WriteFile(path, []byte("auth:\n  jwt_secret: short\n"), 0o600))

	_, err := LoadWith(viper.New(), path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid configuration")
}

func TestDefault_YAMLRoundTrip(t *testing.T) {
	// What `bioqr config generate` writes must load back unchanged.
	want := validConfig()
	data, err := yaml.Marshal(want)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "generated.yaml")
	require.NoError(t, os.WriteFile(path, data, 0o600))

	got, err := LoadWith(viper.New(), path)
	require.NoError(t, err)
	assert.Equal(t, want, *got)
}

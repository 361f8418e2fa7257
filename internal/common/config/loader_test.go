package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

const minimalConfig = `
api:
  base_url: http://backend.local/api
database:
  postgres:
    host: localhost
    database: portal
    user: portal
  redis:
    address: localhost:6379
`

func TestLoadFromFile_AppliesDefaults(t *testing.T) {
	cfg, err := LoadFromFile(writeConfig(t, minimalConfig))
	require.NoError(t, err)

	assert.Equal(t, 100, cfg.Membership.MinimumFee)
	assert.Equal(t, "INR", cfg.Membership.Currency)
	assert.Equal(t, 6, cfg.Auth.CodeLength)
	assert.Equal(t, "portal_sid", cfg.Session.CookieName)
	assert.Equal(t, "portal:session:", cfg.Session.KeyPrefix)
	assert.Equal(t, 5432, cfg.Database.Postgres.Port)
	assert.Equal(t, "disable", cfg.Database.Postgres.SSLMode)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, ":8080", cfg.Server.Address)
}

func TestLoadFromFile_ExpandsEnvPlaceholders(t *testing.T) {
	t.Setenv("PORTAL_TEST_REDIS_PASSWORD", "s3cret")

	cfg, err := LoadFromFile(writeConfig(t, minimalConfig+`    password: ${PORTAL_TEST_REDIS_PASSWORD}
`))
	require.NoError(t, err)
	assert.Equal(t, "s3cret", cfg.Database.Redis.Password)
}

func TestValidateConfig(t *testing.T) {
	valid := func() *Config {
		cfg := &Config{}
		cfg.API.BaseURL = "http://backend.local"
		cfg.Database.Postgres.Host = "localhost"
		cfg.Database.Postgres.Database = "portal"
		cfg.Database.Postgres.User = "portal"
		cfg.Database.Redis.Address = "localhost:6379"
		applyDefaults(cfg)
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"missing base url", func(c *Config) { c.API.BaseURL = "" }, "api.base_url is required"},
		{"negative fee", func(c *Config) { c.Membership.MinimumFee = -1 }, "membership.minimum_fee must be positive"},
		{"code too long", func(c *Config) { c.Auth.CodeLength = 12 }, "auth.code_length must be between 4 and 10"},
		{"missing redis", func(c *Config) { c.Database.Redis.Address = "" }, "database.redis.address is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := validateConfig(cfg)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestGetDuration(t *testing.T) {
	assert.Equal(t, 1500*time.Millisecond, GetDuration(1500))
}

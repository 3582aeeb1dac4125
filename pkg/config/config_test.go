package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	return path
}

func TestLoad_FullConfig(t *testing.T) {
	path := writeConfig(t, `
global:
  log_level: debug
api:
  server:
    listen: ":9090"
    cors_origins:
      - https://reports.example.com
    rate_limit:
      enabled: true
      auth:
        requests_per_minute: 10
  auth:
    session_ttl: 12h
    basic:
      enabled: true
      users:
        - username: admin
          password: hunter2
          role: admin
        - username: viewer
          password: s3cret
          role: user
  database:
    driver: sqlite
    sqlite:
      path: /tmp/app.db
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "debug", cfg.Global.LogLevel)
	assert.Equal(t, ":9090", cfg.API.Server.Listen)
	assert.Equal(t, []string{"https://reports.example.com"}, cfg.API.Server.CORSOrigins)
	assert.True(t, cfg.API.Server.RateLimit.Enabled)
	assert.Equal(t, 10, cfg.API.Server.RateLimit.Auth.RequestsPerMinute)
	assert.Equal(t, 12*time.Hour, cfg.SessionTTL())
	require.Len(t, cfg.API.Auth.Basic.Users, 2)
	assert.Equal(t, "admin", cfg.API.Auth.Basic.Users[0].Role)
	assert.Equal(t, "/tmp/app.db", cfg.API.Database.SQLite.Path)
}

func TestLoad_DefaultsAppliedWhenEmpty(t *testing.T) {
	path := writeConfig(t, "{}\n")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, DefaultLogLevel, cfg.Global.LogLevel)
	assert.Equal(t, DefaultListen, cfg.API.Server.Listen)
	assert.Equal(t, DefaultSessionTTL, cfg.API.Auth.SessionTTL)
	assert.Equal(t, DefaultDatabaseDriver, cfg.API.Database.Driver)
	assert.Equal(t, DefaultSQLitePath, cfg.API.Database.SQLite.Path)

	require.NoError(t, cfg.Validate())
}

func TestLoad_FileNotFound(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reading config file")
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeConfig(t, "invalid: yaml: content:")

	_, err := Load(path)
	require.Error(t, err)
}

func TestConfig_Validate(t *testing.T) {
	base := func() *Config {
		cfg := &Config{}
		cfg.applyDefaults()

		return cfg
	}

	tests := []struct {
		name      string
		mutate    func(cfg *Config)
		errSubstr string
	}{
		{
			name:   "defaults are valid",
			mutate: func(cfg *Config) {},
		},
		{
			name: "bad session ttl",
			mutate: func(cfg *Config) {
				cfg.API.Auth.SessionTTL = "whenever"
			},
			errSubstr: "session_ttl",
		},
		{
			name: "unknown database driver",
			mutate: func(cfg *Config) {
				cfg.API.Database.Driver = "oracle"
			},
			errSubstr: "unsupported database driver",
		},
		{
			name: "postgres requires host",
			mutate: func(cfg *Config) {
				cfg.API.Database.Driver = "postgres"
				cfg.API.Database.Postgres.Database = "reportd"
			},
			errSubstr: "postgres.host",
		},
		{
			name: "user without password",
			mutate: func(cfg *Config) {
				cfg.API.Auth.Basic.Users = []BasicAuthUser{
					{Username: "admin", Role: "admin"},
				}
			},
			errSubstr: "password is required",
		},
		{
			name: "duplicate usernames",
			mutate: func(cfg *Config) {
				cfg.API.Auth.Basic.Users = []BasicAuthUser{
					{Username: "admin", Password: "a", Role: "admin"},
					{Username: "admin", Password: "b", Role: "user"},
				}
			},
			errSubstr: "duplicate username",
		},
		{
			name: "unknown role",
			mutate: func(cfg *Config) {
				cfg.API.Auth.Basic.Users = []BasicAuthUser{
					{Username: "admin", Password: "a", Role: "root"},
				}
			},
			errSubstr: "unknown role",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.errSubstr == "" {
				require.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errSubstr)
			}
		})
	}
}

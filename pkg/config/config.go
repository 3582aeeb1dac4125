package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// DefaultLogLevel is the default logging level.
	DefaultLogLevel = "info"

	// DefaultListen is the default API listen address.
	DefaultListen = ":8080"

	// DefaultSessionTTL is the default session lifetime.
	DefaultSessionTTL = "24h"

	// DefaultDatabaseDriver is the default application database driver.
	DefaultDatabaseDriver = "sqlite"

	// DefaultSQLitePath is the default application database location.
	DefaultSQLitePath = "./reportd.db"
)

// Config is the root configuration for reportd.
type Config struct {
	Global GlobalConfig `yaml:"global"`
	API    APIConfig    `yaml:"api"`
}

// GlobalConfig contains global application settings.
type GlobalConfig struct {
	LogLevel string `yaml:"log_level"`
}

// Load reads and parses a configuration file from the given path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.applyDefaults()

	return &cfg, nil
}

// applyDefaults sets default values for unspecified configuration options.
func (c *Config) applyDefaults() {
	if c.Global.LogLevel == "" {
		c.Global.LogLevel = DefaultLogLevel
	}

	if c.API.Server.Listen == "" {
		c.API.Server.Listen = DefaultListen
	}

	if c.API.Auth.SessionTTL == "" {
		c.API.Auth.SessionTTL = DefaultSessionTTL
	}

	if c.API.Database.Driver == "" {
		c.API.Database.Driver = DefaultDatabaseDriver
	}

	if c.API.Database.Driver == "sqlite" && c.API.Database.SQLite.Path == "" {
		c.API.Database.SQLite.Path = DefaultSQLitePath
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if _, err := time.ParseDuration(c.API.Auth.SessionTTL); err != nil {
		return fmt.Errorf("invalid session_ttl %q: %w", c.API.Auth.SessionTTL, err)
	}

	switch c.API.Database.Driver {
	case "sqlite":
		if c.API.Database.SQLite.Path == "" {
			return fmt.Errorf("database.sqlite.path is required")
		}
	case "postgres":
		if c.API.Database.Postgres.Host == "" {
			return fmt.Errorf("database.postgres.host is required")
		}

		if c.API.Database.Postgres.Database == "" {
			return fmt.Errorf("database.postgres.database is required")
		}
	default:
		return fmt.Errorf("unsupported database driver: %s", c.API.Database.Driver)
	}

	seen := make(map[string]struct{}, len(c.API.Auth.Basic.Users))

	for i, u := range c.API.Auth.Basic.Users {
		if u.Username == "" {
			return fmt.Errorf("auth user %d: username is required", i)
		}

		if _, exists := seen[u.Username]; exists {
			return fmt.Errorf("auth user %d: duplicate username %q", i, u.Username)
		}

		seen[u.Username] = struct{}{}

		if u.Password == "" {
			return fmt.Errorf("auth user %q: password is required", u.Username)
		}

		if !isValidRole(u.Role) {
			return fmt.Errorf("auth user %q: unknown role %q", u.Username, u.Role)
		}
	}

	return nil
}

// validRoles is the list of supported user roles.
var validRoles = map[string]struct{}{
	"admin": {},
	"user":  {},
}

// isValidRole checks if the given role is supported.
func isValidRole(role string) bool {
	_, ok := validRoles[role]

	return ok
}

// SessionTTL returns the parsed session lifetime.
func (c *Config) SessionTTL() time.Duration {
	return c.API.SessionTTL()
}

package dbconn

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/sirupsen/logrus"

	// SQL drivers for the supported report database engines.
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
)

// Supported driver names for the report database settings.
const (
	DriverPostgres = "postgres"
	DriverMySQL    = "mysql"
	DriverSQLite   = "sqlite"
)

// connectTimeout bounds the initial ping on every per-call connection.
// Execution-time timeouts for long-running procedures are deliberately
// not enforced at this layer.
const connectTimeout = 5 * time.Second

// Default ports when the settings omit one.
const (
	defaultPostgresPort = 5432
	defaultMySQLPort    = 3306
)

// ErrUnavailable indicates the required report database cannot be
// reached: no server host is configured, or the connect attempt failed.
var ErrUnavailable = errors.New("report database unavailable")

// Role selects which logical database a connection is scoped to.
type Role int

const (
	// RoleDefinitions is the database holding report definitions and,
	// when no separate runtime database exists, the execution log.
	RoleDefinitions Role = iota
	// RoleRuntime is the database the stored procedures execute
	// against and parameter value lookups run against.
	RoleRuntime
	// RoleAdmin is the server's built-in master database, used only
	// to enumerate available databases.
	RoleAdmin
)

// String returns the role name for logging.
func (r Role) String() string {
	switch r {
	case RoleDefinitions:
		return "definitions"
	case RoleRuntime:
		return "runtime"
	case RoleAdmin:
		return "admin"
	default:
		return "unknown"
	}
}

// Settings is the persisted connection configuration for the report
// database server. It is a plain value: callers obtain a fresh copy
// from a SettingsSource on every resolution rather than caching it.
type Settings struct {
	Driver              string
	Host                string
	Port                int
	Database            string
	DefinitionsDatabase string
	RuntimeDatabase     string
	Username            string
	Password            string
	SSLMode             string
	SQLitePath          string
}

// SettingsSource yields the current connection settings. Implementations
// must read fresh state on every call; the resolver never caches.
type SettingsSource interface {
	ConnectionSettings(ctx context.Context) (Settings, error)
}

type staticSource struct {
	settings Settings
}

func (s staticSource) ConnectionSettings(context.Context) (Settings, error) {
	return s.settings, nil
}

// StaticSource returns a SettingsSource that always yields s. Used for
// probing candidate settings before they are persisted, and in tests.
func StaticSource(s Settings) SettingsSource {
	return staticSource{settings: s}
}

// DatabaseName resolves the database a role maps to. Definitions prefer
// the explicit definitions database, then the runtime database, then
// the primary one; the runtime role prefers the reverse. The admin role
// always targets the server's master database.
func (s Settings) DatabaseName(role Role) string {
	switch role {
	case RoleDefinitions:
		return firstNonEmpty(s.DefinitionsDatabase, s.RuntimeDatabase, s.Database)
	case RoleRuntime:
		return firstNonEmpty(s.RuntimeDatabase, s.DefinitionsDatabase, s.Database)
	case RoleAdmin:
		if s.driver() == DriverPostgres {
			return "postgres"
		}
		// MySQL enumerates databases from a server-level connection.
		return ""
	default:
		return ""
	}
}

// DSN builds the driver-specific data source name for a role.
func (s Settings) DSN(role Role) (string, error) {
	switch s.driver() {
	case DriverSQLite:
		path := firstNonEmpty(s.SQLitePath, s.Database)
		if path == "" {
			return "", fmt.Errorf("%w: no sqlite path configured", ErrUnavailable)
		}

		if role == RoleAdmin {
			return "", fmt.Errorf("%w: sqlite has no master database", ErrUnavailable)
		}

		return path, nil

	case DriverPostgres:
		if s.Host == "" {
			return "", fmt.Errorf("%w: no server host configured", ErrUnavailable)
		}

		name := s.DatabaseName(role)
		if name == "" {
			return "", fmt.Errorf("%w: no database configured for role %s",
				ErrUnavailable, role)
		}

		sslMode := s.SSLMode
		if sslMode == "" {
			sslMode = "disable"
		}

		u := &url.URL{
			Scheme: "postgres",
			Host:   fmt.Sprintf("%s:%d", s.Host, s.port()),
			Path:   "/" + name,
		}

		if s.Username != "" {
			u.User = url.UserPassword(s.Username, s.Password)
		}

		q := url.Values{}
		q.Set("sslmode", sslMode)
		q.Set("connect_timeout", "5")
		u.RawQuery = q.Encode()

		return u.String(), nil

	case DriverMySQL:
		if s.Host == "" {
			return "", fmt.Errorf("%w: no server host configured", ErrUnavailable)
		}

		name := s.DatabaseName(role)
		if name == "" && role != RoleAdmin {
			return "", fmt.Errorf("%w: no database configured for role %s",
				ErrUnavailable, role)
		}

		return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?timeout=5s&parseTime=true",
			s.Username, s.Password, s.Host, s.port(), name), nil

	default:
		return "", fmt.Errorf("unsupported database driver: %s", s.Driver)
	}
}

func (s Settings) driver() string {
	if s.Driver == "" {
		return DriverPostgres
	}

	return s.Driver
}

func (s Settings) port() int {
	if s.Port != 0 {
		return s.Port
	}

	if s.driver() == DriverMySQL {
		return defaultMySQLPort
	}

	return defaultPostgresPort
}

// Conn is a live per-call connection to one database role. Callers must
// Close it on every exit path; connections are never pooled or reused
// across requests.
type Conn struct {
	*sql.DB

	// Driver is the settings driver name, used for dialect decisions.
	Driver string
}

// Resolver opens role-scoped connections using freshly loaded settings.
type Resolver struct {
	log    logrus.FieldLogger
	source SettingsSource
}

// NewResolver creates a Resolver reading settings from source.
func NewResolver(log logrus.FieldLogger, source SettingsSource) *Resolver {
	return &Resolver{
		log:    log.WithField("component", "dbconn"),
		source: source,
	}
}

// Open resolves the current settings and opens a connection for the
// given role. Any failure to reach the database yields ErrUnavailable.
func (r *Resolver) Open(ctx context.Context, role Role) (*Conn, error) {
	settings, err := r.source.ConnectionSettings(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading connection settings: %w", err)
	}

	conn, err := OpenWith(ctx, settings, role)
	if err != nil {
		r.log.WithError(err).
			WithField("role", role.String()).
			Debug("Connection open failed")

		return nil, err
	}

	return conn, nil
}

// OpenWith opens a connection for role using explicit settings. The
// connection is verified with a bounded ping before being returned.
func OpenWith(ctx context.Context, settings Settings, role Role) (*Conn, error) {
	dsn, err := settings.DSN(role)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(sqlDriverName(settings.driver()), dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	// One logical operation per connection.
	db.SetMaxOpenConns(1)

	pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	return &Conn{DB: db, Driver: settings.driver()}, nil
}

// sqlDriverName maps the settings driver to the registered database/sql
// driver name.
func sqlDriverName(driver string) string {
	switch driver {
	case DriverPostgres:
		return "pgx"
	case DriverSQLite:
		return "sqlite3"
	default:
		return driver
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}

	return ""
}

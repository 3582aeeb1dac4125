package definitions

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/reportdeck/reportd/pkg/dbconn"
)

// ErrNotFound indicates the referenced definition id does not exist.
var ErrNotFound = errors.New("report definition not found")

// Definition binds a report name to a stored procedure and its ordered
// parameter list. Parameter order is semantically meaningful: execution
// binds values positionally in exactly this order.
type Definition struct {
	ID              int64           `json:"id"`
	ReportName      string          `json:"report_name"`
	StoredProcedure string          `json:"stored_procedure"`
	Parameters      []ParameterSpec `json:"parameters"`
	Active          bool            `json:"active"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       *time.Time      `json:"updated_at,omitempty"`
}

// Update carries a partial definition update; nil fields are left
// untouched.
type Update struct {
	ReportName      *string
	StoredProcedure *string
	Parameters      *[]ParameterSpec
	Active          *bool
}

// Store provides CRUD over report definitions. Every operation opens
// its own definitions-role connection, ensures the backing table
// exists, and closes the connection before returning.
type Store struct {
	log      logrus.FieldLogger
	resolver *dbconn.Resolver
}

// NewStore creates a definitions Store resolving connections through
// the given resolver.
func NewStore(log logrus.FieldLogger, resolver *dbconn.Resolver) *Store {
	return &Store{
		log:      log.WithField("component", "definitions"),
		resolver: resolver,
	}
}

// schemaDDL returns the idempotent ensure statement for the
// report_definitions table in the driver's dialect.
func schemaDDL(driver string) string {
	switch driver {
	case dbconn.DriverPostgres:
		return `CREATE TABLE IF NOT EXISTS report_definitions (
			id BIGSERIAL PRIMARY KEY,
			report_name TEXT NOT NULL,
			stored_procedure TEXT NOT NULL,
			parameters TEXT,
			active BOOLEAN NOT NULL DEFAULT TRUE,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP
		)`
	case dbconn.DriverMySQL:
		return `CREATE TABLE IF NOT EXISTS report_definitions (
			id BIGINT PRIMARY KEY AUTO_INCREMENT,
			report_name VARCHAR(255) NOT NULL,
			stored_procedure VARCHAR(255) NOT NULL,
			parameters TEXT,
			active BOOLEAN NOT NULL DEFAULT TRUE,
			created_at DATETIME NOT NULL,
			updated_at DATETIME
		)`
	default:
		return `CREATE TABLE IF NOT EXISTS report_definitions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			report_name TEXT NOT NULL,
			stored_procedure TEXT NOT NULL,
			parameters TEXT,
			active BOOLEAN NOT NULL DEFAULT 1,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP
		)`
	}
}

// open returns a definitions-role connection with the schema ensured.
func (s *Store) open(ctx context.Context) (*dbconn.Conn, error) {
	conn, err := s.resolver.Open(ctx, dbconn.RoleDefinitions)
	if err != nil {
		return nil, err
	}

	if _, err := conn.ExecContext(ctx, schemaDDL(conn.Driver)); err != nil {
		_ = conn.Close()

		return nil, fmt.Errorf("ensuring report_definitions table: %w", err)
	}

	return conn, nil
}

// List returns all definitions ordered by report name. Rows with
// malformed parameter JSON are returned with an empty parameter list
// rather than failing the whole listing.
func (s *Store) List(ctx context.Context) ([]Definition, error) {
	conn, err := s.open(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	rows, err := conn.QueryContext(ctx,
		`SELECT id, report_name, stored_procedure, parameters, active,
			created_at, updated_at
		FROM report_definitions ORDER BY report_name`)
	if err != nil {
		return nil, fmt.Errorf("listing report definitions: %w", err)
	}
	defer rows.Close()

	defs := make([]Definition, 0, 16)

	for rows.Next() {
		def, err := scanDefinition(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning report definition: %w", err)
		}

		defs = append(defs, *def)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing report definitions: %w", err)
	}

	return defs, nil
}

// Get returns a single definition by id.
func (s *Store) Get(ctx context.Context, id int64) (*Definition, error) {
	conn, err := s.open(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	return getDefinition(ctx, conn, id)
}

func getDefinition(
	ctx context.Context, conn *dbconn.Conn, id int64,
) (*Definition, error) {
	row := conn.QueryRowContext(ctx,
		`SELECT id, report_name, stored_procedure, parameters, active,
			created_at, updated_at
		FROM report_definitions WHERE id = `+
			dbconn.Placeholder(conn.Driver, 1),
		id)

	def, err := scanDefinition(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("getting report definition: %w", err)
	}

	return def, nil
}

// Create stores a new definition and returns its assigned id. The
// stored procedure name and parameter list are accepted as-is; they are
// not validated against the target database.
func (s *Store) Create(
	ctx context.Context,
	reportName, storedProcedure string,
	parameters []ParameterSpec,
	active bool,
) (int64, error) {
	conn, err := s.open(ctx)
	if err != nil {
		return 0, err
	}
	defer conn.Close()

	paramsJSON, err := EncodeParameterList(parameters)
	if err != nil {
		return 0, fmt.Errorf("encoding parameters: %w", err)
	}

	now := time.Now().UTC()

	if conn.Driver == dbconn.DriverPostgres {
		var id int64
		if err := conn.QueryRowContext(ctx,
			`INSERT INTO report_definitions
				(report_name, stored_procedure, parameters, active, created_at)
			VALUES ($1, $2, $3, $4, $5) RETURNING id`,
			reportName, storedProcedure, paramsJSON, active, now,
		).Scan(&id); err != nil {
			return 0, fmt.Errorf("creating report definition: %w", err)
		}

		return id, nil
	}

	result, err := conn.ExecContext(ctx,
		`INSERT INTO report_definitions
			(report_name, stored_procedure, parameters, active, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		reportName, storedProcedure, paramsJSON, active, now)
	if err != nil {
		return 0, fmt.Errorf("creating report definition: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("reading new definition id: %w", err)
	}

	s.log.WithField("id", id).
		WithField("report", reportName).
		Debug("Report definition created")

	return id, nil
}

// Update merges the supplied fields onto the existing row and stamps
// updated_at.
func (s *Store) Update(ctx context.Context, id int64, upd Update) error {
	conn, err := s.open(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	existing, err := getDefinition(ctx, conn, id)
	if err != nil {
		return err
	}

	if upd.ReportName != nil {
		existing.ReportName = *upd.ReportName
	}

	if upd.StoredProcedure != nil {
		existing.StoredProcedure = *upd.StoredProcedure
	}

	if upd.Parameters != nil {
		existing.Parameters = *upd.Parameters
	}

	if upd.Active != nil {
		existing.Active = *upd.Active
	}

	paramsJSON, err := EncodeParameterList(existing.Parameters)
	if err != nil {
		return fmt.Errorf("encoding parameters: %w", err)
	}

	d := conn.Driver

	if _, err := conn.ExecContext(ctx, fmt.Sprintf(
		`UPDATE report_definitions
		SET report_name = %s, stored_procedure = %s, parameters = %s,
			active = %s, updated_at = %s
		WHERE id = %s`,
		dbconn.Placeholder(d, 1), dbconn.Placeholder(d, 2),
		dbconn.Placeholder(d, 3), dbconn.Placeholder(d, 4),
		dbconn.Placeholder(d, 5), dbconn.Placeholder(d, 6)),
		existing.ReportName, existing.StoredProcedure, paramsJSON,
		existing.Active, time.Now().UTC(), id,
	); err != nil {
		return fmt.Errorf("updating report definition: %w", err)
	}

	return nil
}

// Delete removes a definition row. Deleting a missing id is a no-op;
// historical execution log entries are never touched.
func (s *Store) Delete(ctx context.Context, id int64) error {
	conn, err := s.open(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	result, err := conn.ExecContext(ctx,
		"DELETE FROM report_definitions WHERE id = "+
			dbconn.Placeholder(conn.Driver, 1),
		id)
	if err != nil {
		return fmt.Errorf("deleting report definition: %w", err)
	}

	if affected, err := result.RowsAffected(); err == nil && affected == 0 {
		s.log.WithField("id", id).
			Debug("Delete of missing report definition")
	}

	return nil
}

// rowScanner covers *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanDefinition(row rowScanner) (*Definition, error) {
	var (
		def        Definition
		paramsJSON sql.NullString
		updatedAt  sql.NullTime
	)

	if err := row.Scan(
		&def.ID, &def.ReportName, &def.StoredProcedure,
		&paramsJSON, &def.Active, &def.CreatedAt, &updatedAt,
	); err != nil {
		return nil, err
	}

	if paramsJSON.Valid {
		def.Parameters = ParseParameterList(paramsJSON.String)
	}

	if def.Parameters == nil {
		def.Parameters = []ParameterSpec{}
	}

	if updatedAt.Valid {
		t := updatedAt.Time
		def.UpdatedAt = &t
	}

	return &def, nil
}

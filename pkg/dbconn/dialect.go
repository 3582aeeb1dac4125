package dbconn

import (
	"fmt"
	"strconv"
	"strings"
)

// Placeholder returns the positional bind marker for the i-th argument
// (1-based) in the given driver's dialect.
func Placeholder(driver string, i int) string {
	if driver == DriverPostgres {
		return "$" + strconv.Itoa(i)
	}

	return "?"
}

// Placeholders returns a comma-separated list of n bind markers.
func Placeholders(driver string, n int) string {
	if n == 0 {
		return ""
	}

	parts := make([]string, n)
	for i := range parts {
		parts[i] = Placeholder(driver, i+1)
	}

	return strings.Join(parts, ", ")
}

// QuoteIdent quotes a possibly schema-qualified identifier for the
// driver's dialect. Quote characters inside the name are stripped; the
// name is caller-controlled but never interpolated with user values.
func QuoteIdent(driver, name string) string {
	quote := `"`
	if driver == DriverMySQL {
		quote = "`"
	}

	parts := strings.Split(name, ".")
	for i, p := range parts {
		p = strings.NewReplacer(`"`, "", "`", "").Replace(p)
		parts[i] = quote + p + quote
	}

	return strings.Join(parts, ".")
}

// CallSQL renders the positional invocation of a stored procedure with
// argc bound arguments. Postgres routines are set-returning functions
// selected from; MySQL procedures are CALLed. SQLite has no stored
// procedures, so the name is treated as a relation (a view or table),
// which keeps local development setups usable.
func CallSQL(driver, procedure string, argc int) (string, error) {
	ident := QuoteIdent(driver, procedure)

	switch driver {
	case DriverPostgres:
		return fmt.Sprintf("SELECT * FROM %s(%s)",
			ident, Placeholders(driver, argc)), nil
	case DriverMySQL:
		return fmt.Sprintf("CALL %s(%s)",
			ident, Placeholders(driver, argc)), nil
	case DriverSQLite:
		if argc == 0 {
			return "SELECT * FROM " + ident, nil
		}

		return fmt.Sprintf("SELECT * FROM %s(%s)",
			ident, Placeholders(driver, argc)), nil
	default:
		return "", fmt.Errorf("unsupported database driver: %s", driver)
	}
}

// ListDatabasesQuery returns the query enumerating databases on the
// server, for use over an admin-role connection.
func ListDatabasesQuery(driver string) (string, error) {
	switch driver {
	case DriverPostgres:
		return "SELECT datname FROM pg_database " +
			"WHERE datistemplate = false ORDER BY datname", nil
	case DriverMySQL:
		return "SHOW DATABASES", nil
	default:
		return "", fmt.Errorf("listing databases is not supported for driver %s", driver)
	}
}

// ListRoutinesQuery returns the query enumerating the callable routines
// of the connected database, one name per row in name order. SQLite has
// no stored routines, so its views are listed instead, mirroring what
// CallSQL accepts for that driver.
func ListRoutinesQuery(driver string) (string, error) {
	switch driver {
	case DriverPostgres:
		return `SELECT routine_name FROM information_schema.routines
WHERE routine_schema NOT IN ('pg_catalog', 'information_schema')
ORDER BY routine_name`, nil
	case DriverMySQL:
		return `SELECT ROUTINE_NAME FROM information_schema.routines
WHERE ROUTINE_SCHEMA = DATABASE()
ORDER BY ROUTINE_NAME`, nil
	case DriverSQLite:
		return `SELECT name FROM sqlite_master
WHERE type = 'view' ORDER BY name`, nil
	default:
		return "", fmt.Errorf("listing routines is not supported for driver %s", driver)
	}
}

// ProcParametersQuery returns the information_schema query yielding
// (parameter_name, parameter_mode, data_type) rows in ordinal order for
// a routine name bound as the single query argument.
func ProcParametersQuery(driver string) (string, error) {
	switch driver {
	case DriverPostgres:
		return `SELECT p.parameter_name, p.parameter_mode, p.data_type
FROM information_schema.parameters p
JOIN information_schema.routines r ON r.specific_name = p.specific_name
WHERE r.routine_name = $1
ORDER BY p.ordinal_position`, nil
	case DriverMySQL:
		return `SELECT PARAMETER_NAME, PARAMETER_MODE, DATA_TYPE
FROM information_schema.parameters
WHERE SPECIFIC_NAME = ? AND ORDINAL_POSITION > 0
ORDER BY ORDINAL_POSITION`, nil
	default:
		return "", fmt.Errorf("parameter metadata is not supported for driver %s", driver)
	}
}

package engine

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/reportdeck/reportd/pkg/dbconn"
)

// ParameterValues resolves the selectable values for one parameter of
// a definition by running its configured values query against the
// runtime database. Parameters without a values query, and names not in
// the definition's parameter list, yield an empty list without touching
// the runtime database. Only the first column of the query's result is
// used, capped at maxParameterValues values.
func (e *Engine) ParameterValues(
	ctx context.Context, defID int64, paramName string,
) ([]any, error) {
	def, err := e.defs.Get(ctx, defID)
	if err != nil {
		return nil, err
	}

	var query string

	for _, p := range def.Parameters {
		if p.Name == paramName {
			query = p.ValuesQuery

			break
		}
	}

	if query == "" {
		return []any{}, nil
	}

	conn, err := e.resolver.Open(ctx, dbconn.RoleRuntime)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	rows, err := conn.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("running values query for %s: %w", paramName, err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("running values query for %s: %w", paramName, err)
	}

	values := make([]any, 0, 64)

	for rows.Next() {
		if len(values) >= maxParameterValues {
			break
		}

		scanned := make([]any, len(columns))
		ptrs := make([]any, len(columns))

		for i := range scanned {
			ptrs[i] = &scanned[i]
		}

		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scanning values for %s: %w", paramName, err)
		}

		values = append(values, coerceCell(scanned[0]))
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("running values query for %s: %w", paramName, err)
	}

	return values, nil
}

// ProcParameter is one parameter of a stored routine as reported by the
// runtime database's catalog.
type ProcParameter struct {
	Name     string `json:"name"`
	Mode     string `json:"mode,omitempty"`
	DataType string `json:"data_type,omitempty"`
}

// ProcParameters looks up a routine's declared parameters in the
// runtime database's information schema, in ordinal order.
func (e *Engine) ProcParameters(
	ctx context.Context, procedure string,
) ([]ProcParameter, error) {
	conn, err := e.resolver.Open(ctx, dbconn.RoleRuntime)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	return scanProcParameters(ctx, conn, procedure)
}

func scanProcParameters(
	ctx context.Context, conn *dbconn.Conn, procedure string,
) ([]ProcParameter, error) {
	query, err := dbconn.ProcParametersQuery(conn.Driver)
	if err != nil {
		return nil, err
	}

	rows, err := conn.QueryContext(ctx, query, procedure)
	if err != nil {
		return nil, fmt.Errorf("querying routine parameters: %w", err)
	}
	defer rows.Close()

	params := make([]ProcParameter, 0, 8)

	for rows.Next() {
		var (
			p    ProcParameter
			name sql.NullString
			mode sql.NullString
			typ  sql.NullString
		)

		if err := rows.Scan(&name, &mode, &typ); err != nil {
			return nil, fmt.Errorf("scanning routine parameter: %w", err)
		}

		p.Name = name.String
		p.Mode = mode.String
		p.DataType = typ.String

		params = append(params, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("querying routine parameters: %w", err)
	}

	return params, nil
}

// StoredProcedure is one callable routine in the runtime database,
// with its declared parameters when the catalog exposes them.
type StoredProcedure struct {
	Name       string          `json:"name"`
	Parameters []ProcParameter `json:"parameters"`
}

// StoredProcedures enumerates the callable routines of the runtime
// database with their parameters, supporting definition authoring.
// On sqlite the catalog has no routines, so views are listed instead,
// matching what procedure invocation accepts there.
func (e *Engine) StoredProcedures(ctx context.Context) ([]StoredProcedure, error) {
	conn, err := e.resolver.Open(ctx, dbconn.RoleRuntime)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	listQuery, err := dbconn.ListRoutinesQuery(conn.Driver)
	if err != nil {
		return nil, err
	}

	rows, err := conn.QueryContext(ctx, listQuery)
	if err != nil {
		return nil, fmt.Errorf("listing routines: %w", err)
	}

	names := make([]string, 0, 16)

	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			rows.Close()

			return nil, fmt.Errorf("scanning routine name: %w", err)
		}

		names = append(names, name)
	}

	if err := rows.Err(); err != nil {
		rows.Close()

		return nil, fmt.Errorf("listing routines: %w", err)
	}

	rows.Close()

	// A driver without parameter metadata (sqlite) still lists its
	// routines, each with an empty parameter set.
	_, paramsErr := dbconn.ProcParametersQuery(conn.Driver)
	paramsSupported := paramsErr == nil

	procs := make([]StoredProcedure, 0, len(names))

	for _, name := range names {
		proc := StoredProcedure{Name: name, Parameters: []ProcParameter{}}

		if paramsSupported {
			params, err := scanProcParameters(ctx, conn, name)
			if err != nil {
				return nil, err
			}

			proc.Parameters = params
		}

		procs = append(procs, proc)
	}

	return procs, nil
}

// Package engine executes report definitions against the runtime
// database. A definition's stored procedure is invoked with its
// parameter values bound positionally in stored order, and every
// attempt is recorded in the execution log.
package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/reportdeck/reportd/pkg/dbconn"
	"github.com/reportdeck/reportd/pkg/definitions"
	"github.com/reportdeck/reportd/pkg/runlog"
)

const (
	// maxResultRows caps the rows materialized from a procedure result
	// set. The procedure itself may produce more; the surplus is
	// discarded, not an error.
	maxResultRows = 100

	// maxParameterValues caps the values returned for a parameter's
	// values query.
	maxParameterValues = 1000
)

// ErrInactive indicates the referenced definition exists but is
// disabled for execution.
var ErrInactive = errors.New("report definition is inactive")

// Engine runs report definitions.
type Engine struct {
	log      logrus.FieldLogger
	defs     *definitions.Store
	resolver *dbconn.Resolver
	audit    *runlog.Log
}

// New creates an Engine.
func New(
	log logrus.FieldLogger,
	defs *definitions.Store,
	resolver *dbconn.Resolver,
	audit *runlog.Log,
) *Engine {
	return &Engine{
		log:      log.WithField("component", "engine"),
		defs:     defs,
		resolver: resolver,
		audit:    audit,
	}
}

// Result is the outcome of one execution attempt. A procedure failure
// is a valid Result with Status "error" and OK false, not a Go error:
// callers distinguish "the report ran and failed" from "the request
// could not be attempted".
type Result struct {
	OK              bool               `json:"ok"`
	LogID           *int64             `json:"report_log_id"`
	ReportName      string             `json:"report_name"`
	StoredProcedure string             `json:"stored_procedure"`
	Parameters      []string           `json:"parameters"`
	InputValues     map[string]*string `json:"input_values"`
	Columns         []string           `json:"columns"`
	Rows            []map[string]any   `json:"rows"`
	RowsReturned    int                `json:"rows_returned"`
	Status          string             `json:"status"`
	Error           *string            `json:"error,omitempty"`
}

// BindArguments maps submitted form values onto a definition's
// parameter list. It returns the parameter names in stored order, the
// echoed input map (missing submissions become nil, which binds NULL),
// and the positional argument slice.
func BindArguments(
	params []definitions.ParameterSpec, form map[string]string,
) ([]string, map[string]*string, []any) {
	names := definitions.ParameterNames(params)
	inputs := make(map[string]*string, len(names))
	args := make([]any, 0, len(names))

	for _, name := range names {
		if value, ok := form[name]; ok {
			v := value
			inputs[name] = &v
			args = append(args, v)
		} else {
			inputs[name] = nil
			args = append(args, nil)
		}
	}

	return names, inputs, args
}

// Execute runs the identified definition with the submitted form
// values. It returns definitions.ErrNotFound for an unknown id,
// ErrInactive for a disabled definition, and dbconn.ErrUnavailable
// when no runtime database is reachable. Once the procedure is
// attempted, failures are reported inside the Result.
func (e *Engine) Execute(
	ctx context.Context,
	defID int64,
	form map[string]string,
	userName string,
) (*Result, error) {
	def, err := e.defs.Get(ctx, defID)
	if err != nil {
		return nil, err
	}

	if !def.Active {
		return nil, fmt.Errorf("%w: %s", ErrInactive, def.ReportName)
	}

	names, inputs, args := BindArguments(def.Parameters, form)

	conn, err := e.resolver.Open(ctx, dbconn.RoleRuntime)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	details := runlog.Details{
		StoredProcedure: def.StoredProcedure,
		Parameters:      names,
		InputValues:     inputs,
	}

	logID := e.audit.Start(ctx, conn, def.ReportName, userName, details)

	result := &Result{
		LogID:           logID,
		ReportName:      def.ReportName,
		StoredProcedure: def.StoredProcedure,
		Parameters:      names,
		InputValues:     inputs,
		Columns:         []string{},
		Rows:            []map[string]any{},
	}

	columns, rows, err := e.invoke(ctx, conn, def.StoredProcedure, args)
	if err != nil {
		msg := err.Error()
		result.Status = runlog.StatusError
		result.Error = &msg
		details.Error = &msg

		e.audit.Finish(ctx, conn, logID, runlog.StatusError, details)

		e.log.WithError(err).
			WithField("report", def.ReportName).
			WithField("procedure", def.StoredProcedure).
			Warn("Report execution failed")

		return result, nil
	}

	result.OK = true
	result.Status = runlog.StatusSuccess
	result.Columns = columns
	result.Rows = rows
	result.RowsReturned = len(rows)

	details.Columns = columns
	details.RowsReturned = len(rows)

	e.audit.Finish(ctx, conn, logID, runlog.StatusSuccess, details)

	e.log.WithField("report", def.ReportName).
		WithField("rows", len(rows)).
		Debug("Report executed")

	return result, nil
}

// invoke renders and runs the procedure call, materializing at most
// maxResultRows rows.
func (e *Engine) invoke(
	ctx context.Context,
	conn *dbconn.Conn,
	procedure string,
	args []any,
) ([]string, []map[string]any, error) {
	query, err := dbconn.CallSQL(conn.Driver, procedure, len(args))
	if err != nil {
		return nil, nil, err
	}

	rows, err := conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, nil, err
	}

	out := make([]map[string]any, 0, maxResultRows)

	for rows.Next() {
		if len(out) >= maxResultRows {
			break
		}

		values := make([]any, len(columns))
		ptrs := make([]any, len(columns))

		for i := range values {
			ptrs[i] = &values[i]
		}

		if err := rows.Scan(ptrs...); err != nil {
			return nil, nil, err
		}

		row := make(map[string]any, len(columns))
		for i, col := range columns {
			row[col] = coerceCell(values[i])
		}

		out = append(out, row)
	}

	if err := rows.Err(); err != nil {
		return nil, nil, err
	}

	return columns, out, nil
}

package engine_test

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reportdeck/reportd/pkg/dbconn"
	"github.com/reportdeck/reportd/pkg/definitions"
	"github.com/reportdeck/reportd/pkg/engine"
	"github.com/reportdeck/reportd/pkg/runlog"
)

type testHarness struct {
	engine *engine.Engine
	defs   *definitions.Store
	audit  *runlog.Log
	conn   func(t *testing.T) *dbconn.Conn
}

// setupTestEngine backs all three database roles with one sqlite file.
// Views stand in for stored procedures, which exercises the real call
// path without a database server.
func setupTestEngine(t *testing.T) *testHarness {
	t.Helper()

	settings := dbconn.Settings{
		Driver:     dbconn.DriverSQLite,
		SQLitePath: filepath.Join(t.TempDir(), "engine.db"),
	}

	db, err := sql.Open("sqlite3", settings.SQLitePath)
	require.NoError(t, err)

	fixtures := []string{
		`CREATE VIEW v_regions AS
			SELECT 'north' AS region, 10 AS total
			UNION ALL
			SELECT 'south' AS region, 20 AS total`,
		`CREATE VIEW v_many AS
			WITH RECURSIVE seq(n) AS (
				SELECT 1 UNION ALL SELECT n + 1 FROM seq WHERE n < 500
			)
			SELECT n FROM seq`,
		`CREATE TABLE cities (name TEXT)`,
		`INSERT INTO cities (name) VALUES ('Aalborg'), ('Bergen'), ('Cork')`,
	}
	for _, stmt := range fixtures {
		_, err = db.Exec(stmt)
		require.NoError(t, err)
	}

	require.NoError(t, db.Close())

	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	resolver := dbconn.NewResolver(log, dbconn.StaticSource(settings))
	defs := definitions.NewStore(log, resolver)
	audit := runlog.New(log)

	return &testHarness{
		engine: engine.New(log, defs, resolver, audit),
		defs:   defs,
		audit:  audit,
		conn: func(t *testing.T) *dbconn.Conn {
			t.Helper()

			conn, err := dbconn.OpenWith(
				context.Background(), settings, dbconn.RoleRuntime)
			require.NoError(t, err)
			t.Cleanup(func() { _ = conn.Close() })

			return conn
		},
	}
}

func TestEngine_ExecuteSuccess(t *testing.T) {
	h := setupTestEngine(t)
	ctx := context.Background()

	id, err := h.defs.Create(ctx, "Regions", "v_regions", nil, true)
	require.NoError(t, err)

	result, err := h.engine.Execute(ctx, id, nil, "alice")
	require.NoError(t, err)

	assert.True(t, result.OK)
	assert.Equal(t, runlog.StatusSuccess, result.Status)
	assert.Equal(t, "Regions", result.ReportName)
	assert.Equal(t, "v_regions", result.StoredProcedure)
	assert.Equal(t, []string{"region", "total"}, result.Columns)
	assert.Equal(t, 2, result.RowsReturned)
	require.Len(t, result.Rows, 2)
	assert.Equal(t, "north", result.Rows[0]["region"])
	assert.EqualValues(t, 10, result.Rows[0]["total"])
	assert.Nil(t, result.Error)
	require.NotNil(t, result.LogID)

	entries, err := h.audit.List(ctx, h.conn(t), 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, *result.LogID, entries[0].ID)
	assert.Equal(t, runlog.StatusSuccess, entries[0].Status)
	assert.Equal(t, "alice", entries[0].UserName)
}

func TestEngine_ExecuteCapsRows(t *testing.T) {
	h := setupTestEngine(t)
	ctx := context.Background()

	id, err := h.defs.Create(ctx, "Many", "v_many", nil, true)
	require.NoError(t, err)

	result, err := h.engine.Execute(ctx, id, nil, "alice")
	require.NoError(t, err)

	assert.True(t, result.OK)
	assert.Equal(t, 100, result.RowsReturned)
	assert.Len(t, result.Rows, 100)
}

func TestEngine_ExecuteInactive(t *testing.T) {
	h := setupTestEngine(t)
	ctx := context.Background()

	id, err := h.defs.Create(ctx, "Off", "v_regions", nil, false)
	require.NoError(t, err)

	_, err = h.engine.Execute(ctx, id, nil, "alice")
	require.ErrorIs(t, err, engine.ErrInactive)
}

func TestEngine_ExecuteUnknownDefinition(t *testing.T) {
	h := setupTestEngine(t)

	_, err := h.engine.Execute(context.Background(), 31337, nil, "alice")
	require.ErrorIs(t, err, definitions.ErrNotFound)
}

func TestEngine_ExecuteProcedureFailureIsResult(t *testing.T) {
	h := setupTestEngine(t)
	ctx := context.Background()

	id, err := h.defs.Create(ctx, "Missing", "v_does_not_exist", nil, true)
	require.NoError(t, err)

	result, err := h.engine.Execute(ctx, id, nil, "alice")
	require.NoError(t, err, "a procedure failure is reported in the result")

	assert.False(t, result.OK)
	assert.Equal(t, runlog.StatusError, result.Status)
	require.NotNil(t, result.Error)
	assert.NotEmpty(t, *result.Error)
	assert.Empty(t, result.Rows)
	require.NotNil(t, result.LogID)

	entries, err := h.audit.List(ctx, h.conn(t), 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, runlog.StatusError, entries[0].Status)
	assert.Contains(t, entries[0].Details, "v_does_not_exist")
}

func TestEngine_ExecuteUnavailableRuntime(t *testing.T) {
	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	// Definitions live on sqlite; the runtime side is unconfigured
	// postgres, so execution cannot be attempted.
	defsSettings := dbconn.Settings{
		Driver:     dbconn.DriverSQLite,
		SQLitePath: filepath.Join(t.TempDir(), "defs.db"),
	}
	defsResolver := dbconn.NewResolver(log, dbconn.StaticSource(defsSettings))
	defs := definitions.NewStore(log, defsResolver)

	id, err := defs.Create(context.Background(), "R", "v_x", nil, true)
	require.NoError(t, err)

	runtimeResolver := dbconn.NewResolver(log,
		dbconn.StaticSource(dbconn.Settings{Driver: dbconn.DriverPostgres}))
	e := engine.New(log, defs, runtimeResolver, runlog.New(log))

	_, err = e.Execute(context.Background(), id, nil, "alice")
	require.ErrorIs(t, err, dbconn.ErrUnavailable)
}

func TestBindArguments_PositionalOrder(t *testing.T) {
	params := []definitions.ParameterSpec{
		{Name: "p_to"}, {Name: "p_from"},
	}

	names, inputs, args := engine.BindArguments(params, map[string]string{
		"p_from": "2026-01-01",
	})

	assert.Equal(t, []string{"p_to", "p_from"}, names)

	require.Len(t, args, 2)
	assert.Nil(t, args[0], "missing submission binds NULL")
	assert.Equal(t, "2026-01-01", args[1])

	require.Contains(t, inputs, "p_to")
	assert.Nil(t, inputs["p_to"])
	require.NotNil(t, inputs["p_from"])
	assert.Equal(t, "2026-01-01", *inputs["p_from"])
}

func TestEngine_ParameterValues(t *testing.T) {
	h := setupTestEngine(t)
	ctx := context.Background()

	id, err := h.defs.Create(ctx, "Cities", "v_regions",
		[]definitions.ParameterSpec{
			{Name: "p_city", ValuesQuery: "SELECT name, length(name) FROM cities ORDER BY name"},
			{Name: "p_plain"},
		}, true)
	require.NoError(t, err)

	values, err := h.engine.ParameterValues(ctx, id, "p_city")
	require.NoError(t, err)
	assert.Equal(t, []any{"Aalborg", "Bergen", "Cork"}, values,
		"only the first column is used")

	values, err = h.engine.ParameterValues(ctx, id, "p_plain")
	require.NoError(t, err)
	assert.Empty(t, values)

	// A name outside the parameter list behaves like one without a
	// values query.
	values, err = h.engine.ParameterValues(ctx, id, "p_nope")
	require.NoError(t, err)
	assert.Empty(t, values)
}

func TestEngine_StoredProcedures(t *testing.T) {
	h := setupTestEngine(t)

	procs, err := h.engine.StoredProcedures(context.Background())
	require.NoError(t, err)

	// sqlite lists views, in name order, and tables stay out.
	require.Len(t, procs, 2)
	assert.Equal(t, "v_many", procs[0].Name)
	assert.Equal(t, "v_regions", procs[1].Name)
	assert.Empty(t, procs[0].Parameters)
	assert.NotNil(t, procs[0].Parameters)
}

func TestEngine_ParameterValuesQueryFailure(t *testing.T) {
	h := setupTestEngine(t)
	ctx := context.Background()

	id, err := h.defs.Create(ctx, "Bad", "v_regions",
		[]definitions.ParameterSpec{
			{Name: "p_x", ValuesQuery: "SELECT broken FROM nowhere"},
		}, true)
	require.NoError(t, err)

	_, err = h.engine.ParameterValues(ctx, id, "p_x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "values query")
}

package definitions_test

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
)

func setupTestStore(t *testing.T) (*definitions.Store, dbconn.Settings) {
	t.Helper()

	settings := dbconn.Settings{
		Driver:     dbconn.DriverSQLite,
		SQLitePath: filepath.Join(t.TempDir(), "defs.db"),
	}

	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	resolver := dbconn.NewResolver(log, dbconn.StaticSource(settings))

	return definitions.NewStore(log, resolver), settings
}

func TestStore_CreateGetRoundTrip(t *testing.T) {
	s, _ := setupTestStore(t)
	ctx := context.Background()

	id, err := s.Create(ctx, "R1", "sp_x",
		[]definitions.ParameterSpec{{Name: "p1"}}, true)
	require.NoError(t, err)
	require.NotZero(t, id)

	def, err := s.Get(ctx, id)
	require.NoError(t, err)

	assert.Equal(t, "R1", def.ReportName)
	assert.Equal(t, "sp_x", def.StoredProcedure)
	assert.Equal(t, []definitions.ParameterSpec{{Name: "p1"}}, def.Parameters)
	assert.True(t, def.Active)
	assert.False(t, def.CreatedAt.IsZero())
	assert.Nil(t, def.UpdatedAt)
}

func TestStore_GetNotFound(t *testing.T) {
	s, _ := setupTestStore(t)

	_, err := s.Get(context.Background(), 424242)
	require.ErrorIs(t, err, definitions.ErrNotFound)
}

func TestStore_ListOrderedByReportName(t *testing.T) {
	s, _ := setupTestStore(t)
	ctx := context.Background()

	_, err := s.Create(ctx, "Zebra", "sp_z", nil, true)
	require.NoError(t, err)
	_, err = s.Create(ctx, "Alpha", "sp_a", nil, false)
	require.NoError(t, err)

	defs, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, defs, 2)

	assert.Equal(t, "Alpha", defs[0].ReportName)
	assert.False(t, defs[0].Active)
	assert.Equal(t, "Zebra", defs[1].ReportName)
}

func TestStore_ListDegradesMalformedParameters(t *testing.T) {
	s, settings := setupTestStore(t)
	ctx := context.Background()

	_, err := s.Create(ctx, "Good", "sp_g",
		[]definitions.ParameterSpec{{Name: "p"}}, true)
	require.NoError(t, err)

	// Corrupt a row's parameter JSON directly; the listing must not fail.
	db, err := sql.Open("sqlite3", settings.SQLitePath)
	require.NoError(t, err)

	_, err = db.Exec(`INSERT INTO report_definitions
		(report_name, stored_procedure, parameters, active, created_at)
		VALUES ('Broken', 'sp_b', '{oops', 1, CURRENT_TIMESTAMP)`)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	defs, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, defs, 2)

	assert.Equal(t, "Broken", defs[0].ReportName)
	assert.Empty(t, defs[0].Parameters)
	assert.Len(t, defs[1].Parameters, 1)
}

func TestStore_UpdateMergesOnlySuppliedFields(t *testing.T) {
	s, _ := setupTestStore(t)
	ctx := context.Background()

	id, err := s.Create(ctx, "R1", "sp_x",
		[]definitions.ParameterSpec{{Name: "p1"}}, true)
	require.NoError(t, err)

	inactive := false
	require.NoError(t, s.Update(ctx, id, definitions.Update{
		Active: &inactive,
	}))

	def, err := s.Get(ctx, id)
	require.NoError(t, err)

	assert.False(t, def.Active)
	assert.Equal(t, "R1", def.ReportName)
	assert.Equal(t, "sp_x", def.StoredProcedure)
	assert.Equal(t, []definitions.ParameterSpec{{Name: "p1"}}, def.Parameters)
	require.NotNil(t, def.UpdatedAt)

	newName := "R1 renamed"
	newParams := []definitions.ParameterSpec{{Name: "p2"}, {Name: "p1"}}
	require.NoError(t, s.Update(ctx, id, definitions.Update{
		ReportName: &newName,
		Parameters: &newParams,
	}))

	def, err = s.Get(ctx, id)
	require.NoError(t, err)

	assert.Equal(t, "R1 renamed", def.ReportName)
	assert.Equal(t, newParams, def.Parameters)
	assert.False(t, def.Active, "unsupplied fields stay merged")
}

func TestStore_UpdateNotFound(t *testing.T) {
	s, _ := setupTestStore(t)

	name := "x"
	err := s.Update(context.Background(), 999, definitions.Update{
		ReportName: &name,
	})
	require.ErrorIs(t, err, definitions.ErrNotFound)
}

func TestStore_DeleteIsIdempotent(t *testing.T) {
	s, _ := setupTestStore(t)
	ctx := context.Background()

	id, err := s.Create(ctx, "R1", "sp_x", nil, true)
	require.NoError(t, err)

	require.NoError(t, s.Delete(ctx, id))
	require.NoError(t, s.Delete(ctx, id), "second delete must not error")

	_, err = s.Get(ctx, id)
	require.ErrorIs(t, err, definitions.ErrNotFound)
}

func TestStore_UnavailableWhenUnconfigured(t *testing.T) {
	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	resolver := dbconn.NewResolver(log, dbconn.StaticSource(dbconn.Settings{
		Driver: dbconn.DriverPostgres,
	}))
	s := definitions.NewStore(log, resolver)

	_, err := s.List(context.Background())
	require.ErrorIs(t, err, dbconn.ErrUnavailable)
}

package store_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reportdeck/reportd/pkg/api/store"
	"github.com/reportdeck/reportd/pkg/config"
)

func setupTestStore(t *testing.T) store.Store {
	t.Helper()

	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	cfg := &config.APIDatabaseConfig{
		Driver: "sqlite",
		SQLite: config.SQLiteDatabaseConfig{
			Path: filepath.Join(t.TempDir(), "test.db"),
		},
	}

	s := store.NewStore(log, cfg)
	require.NoError(t, s.Start(context.Background()))

	t.Cleanup(func() {
		_ = s.Stop()
	})

	return s
}

func TestStore_UserCRUD(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	user := &store.User{
		Username:     "alice",
		PasswordHash: "hash",
		Role:         "admin",
		Source:       store.SourceAdmin,
	}
	require.NoError(t, s.CreateUser(ctx, user))
	require.NotZero(t, user.ID)

	byName, err := s.GetUserByUsername(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, user.ID, byName.ID)

	byID, err := s.GetUserByID(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, "alice", byID.Username)

	byID.Role = "user"
	require.NoError(t, s.UpdateUser(ctx, byID))

	users, err := s.ListUsers(ctx)
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, "user", users[0].Role)

	require.NoError(t, s.DeleteUser(ctx, user.ID))

	_, err = s.GetUserByUsername(ctx, "alice")
	require.Error(t, err)
}

func TestStore_SessionLifecycle(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	user := &store.User{
		Username: "alice", PasswordHash: "h", Role: "user",
		Source: store.SourceAdmin,
	}
	require.NoError(t, s.CreateUser(ctx, user))

	session := &store.Session{
		Token:     "tok-1",
		UserID:    user.ID,
		ExpiresAt: time.Now().UTC().Add(time.Hour),
	}
	require.NoError(t, s.CreateSession(ctx, session))

	got, err := s.GetSessionByToken(ctx, "tok-1")
	require.NoError(t, err)
	assert.Equal(t, user.ID, got.UserID)

	now := time.Now().UTC()
	require.NoError(t, s.UpdateSessionLastActive(ctx, got.ID, now))

	require.NoError(t, s.DeleteSession(ctx, "tok-1"))

	_, err = s.GetSessionByToken(ctx, "tok-1")
	require.Error(t, err)
}

func TestStore_DeleteExpiredSessions(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	user := &store.User{
		Username: "alice", PasswordHash: "h", Role: "user",
		Source: store.SourceAdmin,
	}
	require.NoError(t, s.CreateUser(ctx, user))

	expired := &store.Session{
		Token:     "old",
		UserID:    user.ID,
		ExpiresAt: time.Now().UTC().Add(-time.Hour),
	}
	live := &store.Session{
		Token:     "new",
		UserID:    user.ID,
		ExpiresAt: time.Now().UTC().Add(time.Hour),
	}
	require.NoError(t, s.CreateSession(ctx, expired))
	require.NoError(t, s.CreateSession(ctx, live))

	require.NoError(t, s.DeleteExpiredSessions(ctx))

	sessions, err := s.ListSessions(ctx)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, live.ID, sessions[0].ID)
}

func TestStore_SeedUsers(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	seed := []config.BasicAuthUser{
		{Username: "admin", Password: "hunter2", Role: "admin"},
	}
	require.NoError(t, s.SeedUsers(ctx, seed))

	user, err := s.GetUserByUsername(ctx, "admin")
	require.NoError(t, err)
	assert.Equal(t, store.SourceConfig, user.Source)
	assert.Equal(t, "admin", user.Role)
	assert.NotEqual(t, "hunter2", user.PasswordHash)

	// Reseeding with a changed role updates the config-sourced user.
	seed[0].Role = "user"
	require.NoError(t, s.SeedUsers(ctx, seed))

	user, err = s.GetUserByUsername(ctx, "admin")
	require.NoError(t, err)
	assert.Equal(t, "user", user.Role)
}

func TestStore_ConnectionSettings(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	// Unsaved settings read back zero-valued, not as an error.
	settings, err := s.GetConnectionSettings(ctx)
	require.NoError(t, err)
	assert.Empty(t, settings.Driver)

	settings.Driver = "postgres"
	settings.Host = "db.internal"
	settings.Port = 5432
	settings.Database = "reports"
	settings.Username = "svc"
	settings.Password = "secret"
	require.NoError(t, s.SaveConnectionSettings(ctx, settings))

	got, err := s.GetConnectionSettings(ctx)
	require.NoError(t, err)
	assert.Equal(t, "postgres", got.Driver)
	assert.Equal(t, "db.internal", got.Host)
	assert.Equal(t, "secret", got.Password)
	assert.False(t, got.UpdatedAt.IsZero())

	// Saving again replaces the single row.
	got.Host = "db2.internal"
	require.NoError(t, s.SaveConnectionSettings(ctx, got))

	again, err := s.GetConnectionSettings(ctx)
	require.NoError(t, err)
	assert.Equal(t, "db2.internal", again.Host)
}

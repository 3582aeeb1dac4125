package api

import (
	"context"

	"github.com/reportdeck/reportd/pkg/api/store"
	"github.com/reportdeck/reportd/pkg/dbconn"
)

// storeSettingsSource adapts the application store's persisted
// connection settings to the resolver's settings contract. It reads
// the store on every call rather than caching.
type storeSettingsSource struct {
	store store.Store
}

var _ dbconn.SettingsSource = (*storeSettingsSource)(nil)

func (s *storeSettingsSource) ConnectionSettings(
	ctx context.Context,
) (dbconn.Settings, error) {
	saved, err := s.store.GetConnectionSettings(ctx)
	if err != nil {
		return dbconn.Settings{}, err
	}

	return toResolverSettings(saved), nil
}

func toResolverSettings(cs *store.ConnectionSettings) dbconn.Settings {
	return dbconn.Settings{
		Driver:              cs.Driver,
		Host:                cs.Host,
		Port:                cs.Port,
		Database:            cs.Database,
		DefinitionsDatabase: cs.DefinitionsDatabase,
		RuntimeDatabase:     cs.RuntimeDatabase,
		Username:            cs.Username,
		Password:            cs.Password,
		SSLMode:             cs.SSLMode,
		SQLitePath:          cs.SQLitePath,
	}
}

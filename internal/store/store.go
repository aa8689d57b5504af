// Package store opens the ticket backend selected by configuration.
package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/JonMunkholm/issueimport/internal/config"
	"github.com/JonMunkholm/issueimport/internal/importer"
	"github.com/JonMunkholm/issueimport/internal/store/memory"
	"github.com/JonMunkholm/issueimport/internal/store/postgres"
	"github.com/JonMunkholm/issueimport/internal/store/sqlite"
)

var (
	_ importer.Store = (*memory.Store)(nil)
	_ importer.Store = (*postgres.Store)(nil)
	_ importer.Store = (*sqlite.Store)(nil)
)

// Backend is an importer store that owns its connection.
type Backend interface {
	importer.Store
	// Migrate creates missing tables. It is safe to run repeatedly.
	Migrate(ctx context.Context) error
	Close() error
}

// Open connects to the backend named by cfg.Driver. The memory driver
// starts from the default demo catalog.
func Open(ctx context.Context, cfg config.DatabaseConfig) (Backend, error) {
	switch strings.ToLower(cfg.Driver) {
	case config.DriverPostgres:
		s, err := postgres.Open(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return s, nil
	case config.DriverSQLite:
		s, err := sqlite.Open(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		return s, nil
	case config.DriverMemory:
		s := memory.New()
		memory.SeedDefaults(s)
		return s, nil
	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.Driver)
	}
}

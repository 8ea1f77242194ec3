package main

import (
	"context"
	"fmt"

	"github.com/tallyfin/tallyfin/internal/config"
	"github.com/tallyfin/tallyfin/internal/engine"
	"github.com/tallyfin/tallyfin/internal/storage"
)

// initStorage opens the SQLite database at the configured path and
// ensures the schema is current.
func initStorage(ctx context.Context) (*storage.SQLiteStorage, error) {
	dbPath, err := config.DatabasePath()
	if err != nil {
		return nil, err
	}

	store, err := storage.NewSQLiteStorage(dbPath)
	if err != nil {
		return nil, err
	}

	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return store, nil
}

// initEngine opens storage and builds a categorization engine from the
// configured settings. The returned cleanup closes the database.
func initEngine(ctx context.Context) (*engine.Engine, *storage.SQLiteStorage, func(), error) {
	store, err := initStorage(ctx)
	if err != nil {
		return nil, nil, nil, err
	}

	eng, err := engine.New(store, store, config.EngineConfig())
	if err != nil {
		_ = store.Close()
		return nil, nil, nil, fmt.Errorf("failed to create engine: %w", err)
	}

	cleanup := func() { _ = store.Close() }
	return eng, store, cleanup, nil
}

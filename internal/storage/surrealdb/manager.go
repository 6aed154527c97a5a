// Package surrealdb implements interfaces.VaultStore on SurrealDB.
package surrealdb

import (
	"context"
	"fmt"

	"github.com/bobmcallan/vaultsync/internal/common"
	"github.com/surrealdb/surrealdb.go"
)

var tables = []string{tableDeposit, tableWithdrawal, tableRebalanceEvent}

// Connect opens a SurrealDB connection, signs in and selects the namespace/database.
func Connect(ctx context.Context, config *common.StorageConfig) (*surrealdb.DB, error) {
	db, err := surrealdb.New(config.Address)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to SurrealDB: %w", err)
	}

	if _, err := db.SignIn(ctx, map[string]interface{}{
		"user": config.Username,
		"pass": config.Password,
	}); err != nil {
		db.Close(ctx)
		return nil, fmt.Errorf("failed to sign in to SurrealDB: %w", err)
	}

	if err := db.Use(ctx, config.Namespace, config.Database); err != nil {
		db.Close(ctx)
		return nil, fmt.Errorf("failed to select namespace/database: %w", err)
	}
	return db, nil
}

// defineTables ensures tables exist (SurrealDB v3 errors on querying non-existent tables)
func defineTables(ctx context.Context, db *surrealdb.DB) error {
	for _, table := range tables {
		sql := fmt.Sprintf("DEFINE TABLE IF NOT EXISTS %s SCHEMALESS", table)
		if _, err := surrealdb.Query[any](ctx, db, sql, nil); err != nil {
			return fmt.Errorf("failed to define table %s: %w", table, err)
		}
	}
	return nil
}

// NewStoreFromConfig connects and returns a ready VaultStore.
func NewStoreFromConfig(ctx context.Context, logger *common.Logger, config *common.StorageConfig) (*Store, error) {
	db, err := Connect(ctx, config)
	if err != nil {
		return nil, err
	}
	store, err := NewStore(ctx, db, logger)
	if err != nil {
		db.Close(ctx)
		return nil, err
	}

	logger.Info().
		Str("address", config.Address).
		Str("namespace", config.Namespace).
		Str("database", config.Database).
		Msg("SurrealDB vault store initialized")
	return store, nil
}

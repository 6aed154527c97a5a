// Package storage selects the persistence backend for vault records.
package storage

import (
	"context"
	"fmt"

	"github.com/bobmcallan/vaultsync/internal/common"
	"github.com/bobmcallan/vaultsync/internal/interfaces"
	"github.com/bobmcallan/vaultsync/internal/storage/sqlite"
	"github.com/bobmcallan/vaultsync/internal/storage/surrealdb"
)

// Backend type constants.
const (
	BackendSurrealDB = "surrealdb"
	BackendSQLite    = "sqlite"
)

// NewVaultStore creates a VaultStore based on the configuration.
// Supported backends: "sqlite" (default), "surrealdb".
func NewVaultStore(ctx context.Context, logger *common.Logger, config *common.StorageConfig) (interfaces.VaultStore, error) {
	backend := config.Backend
	if backend == "" {
		backend = BackendSQLite
	}

	switch backend {
	case BackendSQLite:
		store, err := sqlite.Open(ctx, config.Path, logger)
		if err != nil {
			return nil, err
		}
		return store, nil

	case BackendSurrealDB:
		store, err := surrealdb.NewStoreFromConfig(ctx, logger, config)
		if err != nil {
			return nil, err
		}
		return store, nil

	default:
		return nil, fmt.Errorf("unknown storage backend: %s (supported: sqlite, surrealdb)", backend)
	}
}

package storage

import (
	"context"
	"testing"

	"github.com/bobmcallan/vaultsync/internal/common"
	"github.com/bobmcallan/vaultsync/internal/storage/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewVaultStore_SQLiteDefault(t *testing.T) {
	store, err := NewVaultStore(context.Background(), common.NewSilentLogger(), &common.StorageConfig{
		Path: sqlite.MemoryPath,
	})
	require.NoError(t, err)
	defer store.Close()

	assert.NoError(t, store.Ping(context.Background()))
}

func TestNewVaultStore_UnknownBackend(t *testing.T) {
	_, err := NewVaultStore(context.Background(), common.NewSilentLogger(), &common.StorageConfig{
		Backend: "badger",
	})
	assert.ErrorContains(t, err, "unknown storage backend")
}

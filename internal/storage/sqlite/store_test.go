package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/bobmcallan/vaultsync/internal/common"
	"github.com/bobmcallan/vaultsync/internal/interfaces"
	"github.com/bobmcallan/vaultsync/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(context.Background(), MemoryPath, common.NewSilentLogger())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestStore_DepositLifecycle(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	_, err := store.GetDeposit(ctx, "0xabc")
	assert.ErrorIs(t, err, interfaces.ErrNotFound)

	rec := &models.DepositRecord{
		TransactionHash: "0xabc",
		UserAddress:     "0xuser",
		Assets:          "1000000000",
		SharesReceived:  "990000000",
		BlockNumber:     42,
		Timestamp:       time.Unix(1700000000, 0),
	}
	require.NoError(t, store.SaveDeposit(ctx, rec))
	require.NoError(t, store.SaveDeposit(ctx, rec))

	n, err := store.CountPendingDeposits(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n, "upsert must not duplicate")

	require.NoError(t, store.MarkDepositProcessed(ctx, "0xabc", true))

	got, err := store.GetDeposit(ctx, "0xabc")
	require.NoError(t, err)
	assert.True(t, got.Processed)
	assert.True(t, got.RebalanceTriggered)
	assert.Equal(t, uint64(42), got.BlockNumber)
	assert.Equal(t, "990000000", got.SharesReceived)
	assert.True(t, got.Timestamp.Equal(time.Unix(1700000000, 0)))

	n, err = store.CountPendingDeposits(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestStore_MarkMissingDeposit(t *testing.T) {
	store := testStore(t)
	err := store.MarkDepositProcessed(context.Background(), "0xnope", false)
	assert.ErrorIs(t, err, interfaces.ErrNotFound)
}

func TestStore_WithdrawalScheduledThenExecuted(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	scheduled := time.Unix(1700000000, 0).UTC()
	require.NoError(t, store.SaveWithdrawal(ctx, &models.WithdrawalRecord{
		TransactionHash:    "0xw1",
		UserAddress:        "0xuser",
		Assets:             "500000000",
		Shares:             "480000000",
		ScheduledTimestamp: &scheduled,
		Pending:            true,
	}))

	n, err := store.CountPendingWithdrawals(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	executed := scheduled.Add(24 * time.Hour)
	require.NoError(t, store.SaveWithdrawal(ctx, &models.WithdrawalRecord{
		TransactionHash:   "0xw1",
		UserAddress:       "0xuser",
		Assets:            "500000000",
		ExecutedTimestamp: &executed,
	}))
	require.NoError(t, store.MarkWithdrawalProcessed(ctx, "0xw1"))

	got, err := store.GetWithdrawal(ctx, "0xw1")
	require.NoError(t, err)
	require.NotNil(t, got.ScheduledTimestamp)
	require.NotNil(t, got.ExecutedTimestamp)
	assert.True(t, got.ScheduledTimestamp.Equal(scheduled))
	assert.True(t, got.ExecutedTimestamp.Equal(executed))
	assert.Equal(t, "480000000", got.Shares, "empty shares keeps the stored value")
	assert.False(t, got.Pending)
	assert.True(t, got.Processed)

	n, err = store.CountPendingWithdrawals(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestStore_RebalanceEvents(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	_, err := store.LastRebalanceEvent(ctx)
	assert.ErrorIs(t, err, interfaces.ErrNotFound)

	base := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	require.NoError(t, store.SaveRebalanceEvent(ctx, &models.RebalanceEvent{
		ID: "a", Trigger: "weekly", TotalTrades: 4, CreatedAt: base.Add(time.Second),
	}))
	require.NoError(t, store.SaveRebalanceEvent(ctx, &models.RebalanceEvent{
		ID: "b", Trigger: "deposit", TotalTrades: 2, BuyAmount: 1000, Executed: true,
		CreatedAt: base.Add(1500 * time.Millisecond),
	}))
	require.NoError(t, store.SaveRebalanceEvent(ctx, &models.RebalanceEvent{
		ID: "c", Trigger: "daily", CreatedAt: base,
	}))

	last, err := store.LastRebalanceEvent(ctx)
	require.NoError(t, err)
	assert.Equal(t, "b", last.ID)
	assert.Equal(t, 1000.0, last.BuyAmount)
	assert.Empty(t, last.Errors)
	assert.True(t, last.CreatedAt.Equal(base.Add(1500*time.Millisecond)))
}

func TestOpen_FileDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "vault.db")
	store, err := Open(context.Background(), path, common.NewSilentLogger())
	require.NoError(t, err)
	defer store.Close()

	assert.NoError(t, store.Ping(context.Background()))
}

package interfaces

import (
	"context"
	"errors"

	"github.com/bobmcallan/vaultsync/internal/models"
)

// VaultStore persists vault events and the rebalance audit trail.
// Every write is an upsert keyed by transaction hash.
type VaultStore interface {
	GetDeposit(ctx context.Context, txHash string) (*models.DepositRecord, error)
	SaveDeposit(ctx context.Context, rec *models.DepositRecord) error
	MarkDepositProcessed(ctx context.Context, txHash string, rebalanceTriggered bool) error

	GetWithdrawal(ctx context.Context, txHash string) (*models.WithdrawalRecord, error)
	SaveWithdrawal(ctx context.Context, rec *models.WithdrawalRecord) error
	MarkWithdrawalProcessed(ctx context.Context, txHash string) error

	CountPendingDeposits(ctx context.Context) (int, error)
	CountPendingWithdrawals(ctx context.Context) (int, error)

	SaveRebalanceEvent(ctx context.Context, ev *models.RebalanceEvent) error
	LastRebalanceEvent(ctx context.Context) (*models.RebalanceEvent, error)

	Ping(ctx context.Context) error
	Close() error
}

// ErrNotFound is returned by getters when no record exists for the key.
var ErrNotFound = errors.New("record not found")

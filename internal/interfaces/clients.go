// Package interfaces defines service contracts for vaultsync
package interfaces

import (
	"context"

	"github.com/bobmcallan/vaultsync/internal/models"
)

// Broker is the brokerage account the engine trades against
type Broker interface {
	// GetAccount retrieves account balances
	GetAccount(ctx context.Context) (*models.BrokerAccount, error)

	// GetPositions retrieves all open positions
	GetPositions(ctx context.Context) ([]*models.BrokerPosition, error)

	// PlaceOrder submits an order and returns the broker's view of it
	PlaceOrder(ctx context.Context, req *models.OrderRequest) (*models.Order, error)

	// CancelOrder cancels an open order by broker id
	CancelOrder(ctx context.Context, orderID string) error

	// ListOpenOrders returns orders that have not yet filled or been cancelled
	ListOpenOrders(ctx context.Context) ([]*models.Order, error)
}

// PriceSource provides latest quotes
type PriceSource interface {
	GetQuote(ctx context.Context, symbol string) (*models.Quote, error)
}

// CompositionSource provides the target index holdings
type CompositionSource interface {
	FetchComposition(ctx context.Context) (*models.Composition, error)
}

// VaultLog is a decoded vault contract log before block timestamps are resolved.
type VaultLog struct {
	TxHash        string
	Kind          models.ChainEventKind
	Account       string
	Assets        string
	Shares        string
	BlockNumber   uint64
	ScheduledUnix int64
}

// Subscription is a live log subscription. Err delivers at most one transport error.
type Subscription interface {
	Err() <-chan error
	Unsubscribe()
}

// VaultEventSource subscribes to vault contract events
type VaultEventSource interface {
	// SubscribeVaultLogs streams decoded logs into sink until the subscription fails or is closed
	SubscribeVaultLogs(ctx context.Context, sink chan<- VaultLog) (Subscription, error)

	// BlockTimestamp resolves the timestamp of a block
	BlockTimestamp(ctx context.Context, blockNumber uint64) (int64, error)
}

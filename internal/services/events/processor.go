// Package events turns vault events into persisted records and capital
// changes for the reconciliation engine.
package events

import (
	"context"
	"errors"
	"fmt"

	"github.com/bobmcallan/vaultsync/internal/common"
	"github.com/bobmcallan/vaultsync/internal/interfaces"
	"github.com/bobmcallan/vaultsync/internal/models"
)

// Engine receives capital changes. A nil result means the change was below
// the threshold for trading.
type Engine interface {
	HandleNewCapital(ctx context.Context, amount float64) (*models.RebalanceResult, error)
	HandleWithdrawal(ctx context.Context, amount float64) (*models.RebalanceResult, error)
}

// Publisher receives ingestion notifications for the live feed.
type Publisher interface {
	Publish(eventType string, data interface{})
}

type noopPublisher struct{}

func (noopPublisher) Publish(string, interface{}) {}

// Processor persists each event, hands capital deltas to the engine and only
// then marks the record processed. A record already marked processed is skipped.
type Processor struct {
	store     interfaces.VaultStore
	engine    Engine
	decimals  int32
	publisher Publisher
	logger    *common.Logger
}

// Option configures a Processor.
type Option func(*Processor)

// WithPublisher sends ingestion notifications to p.
func WithPublisher(p Publisher) Option {
	return func(pr *Processor) {
		if p != nil {
			pr.publisher = p
		}
	}
}

// NewProcessor creates a processor. decimals is the vault asset's token decimals.
func NewProcessor(store interfaces.VaultStore, engine Engine, decimals int32, logger *common.Logger, opts ...Option) *Processor {
	if decimals <= 0 {
		decimals = models.DefaultAssetDecimals
	}
	p := &Processor{
		store:     store,
		engine:    engine,
		decimals:  decimals,
		publisher: noopPublisher{},
		logger:    logger,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Process dispatches by event kind.
func (p *Processor) Process(ctx context.Context, ev *models.ChainEvent) error {
	switch ev.Kind {
	case models.EventCapitalDeposited:
		return p.OnDeposit(ctx, ev)
	case models.EventWithdrawalExecuted:
		return p.OnWithdrawalExecuted(ctx, ev)
	case models.EventWithdrawalScheduled:
		return p.OnWithdrawalScheduled(ctx, ev)
	default:
		return fmt.Errorf("unknown event kind %q", ev.Kind)
	}
}

// OnDeposit records a deposit and invests the new capital.
func (p *Processor) OnDeposit(ctx context.Context, ev *models.ChainEvent) error {
	existing, err := p.store.GetDeposit(ctx, ev.TransactionID)
	if err != nil && !errors.Is(err, interfaces.ErrNotFound) {
		return fmt.Errorf("failed to load deposit %s: %w", ev.TransactionID, err)
	}
	if existing != nil && existing.Processed {
		p.logger.Debug().Str("tx", ev.TransactionID).Msg("Deposit already processed")
		return nil
	}

	usd, err := ev.AssetUSD(p.decimals)
	if err != nil {
		return fmt.Errorf("deposit %s: %w", ev.TransactionID, err)
	}

	rec := &models.DepositRecord{
		TransactionHash: ev.TransactionID,
		UserAddress:     ev.Account,
		Assets:          ev.AssetAmount,
		SharesReceived:  ev.ShareAmount,
		BlockNumber:     ev.BlockNumber,
		Timestamp:       ev.BlockTimestamp,
	}
	if err := p.store.SaveDeposit(ctx, rec); err != nil {
		return fmt.Errorf("failed to save deposit %s: %w", ev.TransactionID, err)
	}

	amount := usd.InexactFloat64()
	p.logger.Info().
		Str("tx", ev.TransactionID).
		Str("user", ev.Account).
		Str("amount", common.FormatUSD(amount)).
		Str("source", ev.Source).
		Msg("Deposit received")
	p.publisher.Publish(models.FeedDeposit, rec)

	result, err := p.engine.HandleNewCapital(ctx, amount)
	if err != nil {
		return fmt.Errorf("rebalance for deposit %s: %w", ev.TransactionID, err)
	}

	triggered := result != nil && result.Executed
	if err := p.store.MarkDepositProcessed(ctx, ev.TransactionID, triggered); err != nil {
		return fmt.Errorf("deposit %s: %w", ev.TransactionID, err)
	}
	return nil
}

// OnWithdrawalExecuted records an executed withdrawal and frees cash for it.
func (p *Processor) OnWithdrawalExecuted(ctx context.Context, ev *models.ChainEvent) error {
	existing, err := p.store.GetWithdrawal(ctx, ev.TransactionID)
	if err != nil && !errors.Is(err, interfaces.ErrNotFound) {
		return fmt.Errorf("failed to load withdrawal %s: %w", ev.TransactionID, err)
	}
	if existing != nil && existing.Processed {
		p.logger.Debug().Str("tx", ev.TransactionID).Msg("Withdrawal already processed")
		return nil
	}

	usd, err := ev.AssetUSD(p.decimals)
	if err != nil {
		return fmt.Errorf("withdrawal %s: %w", ev.TransactionID, err)
	}

	executed := ev.BlockTimestamp
	rec := &models.WithdrawalRecord{
		TransactionHash:   ev.TransactionID,
		UserAddress:       ev.Account,
		Assets:            ev.AssetAmount,
		Shares:            ev.ShareAmount,
		ExecutedTimestamp: &executed,
		Pending:           false,
	}
	if err := p.store.SaveWithdrawal(ctx, rec); err != nil {
		return fmt.Errorf("failed to save withdrawal %s: %w", ev.TransactionID, err)
	}

	amount := usd.InexactFloat64()
	p.logger.Info().
		Str("tx", ev.TransactionID).
		Str("user", ev.Account).
		Str("amount", common.FormatUSD(amount)).
		Str("source", ev.Source).
		Msg("Withdrawal executed")
	p.publisher.Publish(models.FeedWithdrawalExecuted, rec)

	if _, err := p.engine.HandleWithdrawal(ctx, amount); err != nil {
		return fmt.Errorf("rebalance for withdrawal %s: %w", ev.TransactionID, err)
	}

	if err := p.store.MarkWithdrawalProcessed(ctx, ev.TransactionID); err != nil {
		return fmt.Errorf("withdrawal %s: %w", ev.TransactionID, err)
	}
	return nil
}

// OnWithdrawalScheduled records a pending withdrawal. No trades are placed.
func (p *Processor) OnWithdrawalScheduled(ctx context.Context, ev *models.ChainEvent) error {
	existing, err := p.store.GetWithdrawal(ctx, ev.TransactionID)
	if err != nil && !errors.Is(err, interfaces.ErrNotFound) {
		return fmt.Errorf("failed to load withdrawal %s: %w", ev.TransactionID, err)
	}
	if existing != nil && (existing.Processed || existing.ExecutedTimestamp != nil) {
		p.logger.Debug().Str("tx", ev.TransactionID).Msg("Withdrawal already executed, ignoring schedule")
		return nil
	}

	usd, err := ev.AssetUSD(p.decimals)
	if err != nil {
		return fmt.Errorf("scheduled withdrawal %s: %w", ev.TransactionID, err)
	}

	rec := &models.WithdrawalRecord{
		TransactionHash: ev.TransactionID,
		UserAddress:     ev.Account,
		Assets:          ev.AssetAmount,
		Shares:          ev.ShareAmount,
		Pending:         true,
	}
	if !ev.ScheduledTime.IsZero() {
		scheduled := ev.ScheduledTime
		rec.ScheduledTimestamp = &scheduled
	}
	if err := p.store.SaveWithdrawal(ctx, rec); err != nil {
		return fmt.Errorf("failed to save scheduled withdrawal %s: %w", ev.TransactionID, err)
	}

	p.logger.Info().
		Str("tx", ev.TransactionID).
		Str("user", ev.Account).
		Str("amount", common.FormatUSD(usd.InexactFloat64())).
		Time("scheduled", ev.ScheduledTime).
		Msg("Withdrawal scheduled")
	p.publisher.Publish(models.FeedWithdrawalScheduled, rec)
	return nil
}

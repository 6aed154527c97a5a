package surrealdb

import (
	"context"
	"fmt"
	"time"

	"github.com/bobmcallan/vaultsync/internal/common"
	"github.com/bobmcallan/vaultsync/internal/interfaces"
	"github.com/bobmcallan/vaultsync/internal/models"
	"github.com/surrealdb/surrealdb.go"
	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"
)

const (
	tableDeposit        = "deposit"
	tableWithdrawal     = "withdrawal"
	tableRebalanceEvent = "rebalance_event"

	writeAttempts = 3
)

const rebalanceSelectFields = "event_id as id, trigger, total_trades, buy_amount, sell_amount, executed, errors, created_at"

// Store implements interfaces.VaultStore using SurrealDB.
type Store struct {
	db     *surrealdb.DB
	logger *common.Logger
	now    func() time.Time
}

// NewStore wraps an open connection and defines the vault tables.
func NewStore(ctx context.Context, db *surrealdb.DB, logger *common.Logger) (*Store, error) {
	if err := defineTables(ctx, db); err != nil {
		return nil, err
	}
	return &Store{db: db, logger: logger, now: time.Now}, nil
}

// exec runs a write with the retry policy used for all upserts.
func (s *Store) exec(ctx context.Context, what, sql string, vars map[string]any) error {
	var err error
	for attempt := 1; attempt <= writeAttempts; attempt++ {
		if _, err = surrealdb.Query[any](ctx, s.db, sql, vars); err == nil {
			return nil
		}
		s.logger.Debug().Err(err).Int("attempt", attempt).Str("op", what).Msg("SurrealDB write failed")
	}
	return fmt.Errorf("failed to %s after retries: %w", what, err)
}

func (s *Store) GetDeposit(ctx context.Context, txHash string) (*models.DepositRecord, error) {
	rec, err := surrealdb.Select[models.DepositRecord](ctx, s.db, surrealmodels.NewRecordID(tableDeposit, txHash))
	if err != nil {
		return nil, fmt.Errorf("failed to select deposit: %w", err)
	}
	if rec == nil || rec.TransactionHash == "" {
		return nil, interfaces.ErrNotFound
	}
	return rec, nil
}

func (s *Store) SaveDeposit(ctx context.Context, rec *models.DepositRecord) error {
	now := s.now()
	sql := `UPSERT $rid SET
		transaction_hash = $tx, user_address = $user, assets = $assets,
		shares_received = $shares, block_number = $block, timestamp = $ts,
		processed = $processed, rebalance_triggered = $triggered,
		created_at = created_at ?? $now, updated_at = $now`
	vars := map[string]any{
		"rid":       surrealmodels.NewRecordID(tableDeposit, rec.TransactionHash),
		"tx":        rec.TransactionHash,
		"user":      rec.UserAddress,
		"assets":    rec.Assets,
		"shares":    rec.SharesReceived,
		"block":     rec.BlockNumber,
		"ts":        rec.Timestamp,
		"processed": rec.Processed,
		"triggered": rec.RebalanceTriggered,
		"now":       now,
	}
	return s.exec(ctx, "save deposit", sql, vars)
}

func (s *Store) MarkDepositProcessed(ctx context.Context, txHash string, rebalanceTriggered bool) error {
	sql := "UPDATE $rid SET processed = true, rebalance_triggered = $triggered, updated_at = $now"
	vars := map[string]any{
		"rid":       surrealmodels.NewRecordID(tableDeposit, txHash),
		"triggered": rebalanceTriggered,
		"now":       s.now(),
	}
	return s.exec(ctx, "mark deposit processed", sql, vars)
}

func (s *Store) GetWithdrawal(ctx context.Context, txHash string) (*models.WithdrawalRecord, error) {
	rec, err := surrealdb.Select[models.WithdrawalRecord](ctx, s.db, surrealmodels.NewRecordID(tableWithdrawal, txHash))
	if err != nil {
		return nil, fmt.Errorf("failed to select withdrawal: %w", err)
	}
	if rec == nil || rec.TransactionHash == "" {
		return nil, interfaces.ErrNotFound
	}
	return rec, nil
}

// SaveWithdrawal upserts a withdrawal. Nil timestamps keep whatever is already stored.
func (s *Store) SaveWithdrawal(ctx context.Context, rec *models.WithdrawalRecord) error {
	now := s.now()
	sql := `UPSERT $rid SET
		transaction_hash = $tx, user_address = $user, assets = $assets, shares = $shares,
		scheduled_timestamp = $scheduled ?? scheduled_timestamp,
		executed_timestamp = $executed ?? executed_timestamp,
		pending = $pending, processed = $processed,
		created_at = created_at ?? $now, updated_at = $now`
	vars := map[string]any{
		"rid":       surrealmodels.NewRecordID(tableWithdrawal, rec.TransactionHash),
		"tx":        rec.TransactionHash,
		"user":      rec.UserAddress,
		"assets":    rec.Assets,
		"shares":    rec.Shares,
		"scheduled": rec.ScheduledTimestamp,
		"executed":  rec.ExecutedTimestamp,
		"pending":   rec.Pending,
		"processed": rec.Processed,
		"now":       now,
	}
	return s.exec(ctx, "save withdrawal", sql, vars)
}

func (s *Store) MarkWithdrawalProcessed(ctx context.Context, txHash string) error {
	sql := "UPDATE $rid SET processed = true, updated_at = $now"
	vars := map[string]any{
		"rid": surrealmodels.NewRecordID(tableWithdrawal, txHash),
		"now": s.now(),
	}
	return s.exec(ctx, "mark withdrawal processed", sql, vars)
}

func (s *Store) count(ctx context.Context, sql string) (int, error) {
	type countResult struct {
		Cnt int `json:"cnt"`
	}

	results, err := surrealdb.Query[[]countResult](ctx, s.db, sql, nil)
	if err != nil {
		return 0, err
	}
	if results != nil && len(*results) > 0 && len((*results)[0].Result) > 0 {
		return (*results)[0].Result[0].Cnt, nil
	}
	return 0, nil
}

func (s *Store) CountPendingDeposits(ctx context.Context) (int, error) {
	n, err := s.count(ctx, "SELECT count() AS cnt FROM deposit WHERE processed = false GROUP ALL")
	if err != nil {
		return 0, fmt.Errorf("failed to count pending deposits: %w", err)
	}
	return n, nil
}

func (s *Store) CountPendingWithdrawals(ctx context.Context) (int, error) {
	n, err := s.count(ctx, "SELECT count() AS cnt FROM withdrawal WHERE pending = true GROUP ALL")
	if err != nil {
		return 0, fmt.Errorf("failed to count pending withdrawals: %w", err)
	}
	return n, nil
}

func (s *Store) SaveRebalanceEvent(ctx context.Context, ev *models.RebalanceEvent) error {
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = s.now()
	}
	sql := `UPSERT $rid SET
		event_id = $id, trigger = $trigger, total_trades = $trades, buy_amount = $buy,
		sell_amount = $sell, executed = $executed, errors = $errors, created_at = $created`
	vars := map[string]any{
		"rid":      surrealmodels.NewRecordID(tableRebalanceEvent, ev.ID),
		"id":       ev.ID,
		"trigger":  ev.Trigger,
		"trades":   ev.TotalTrades,
		"buy":      ev.BuyAmount,
		"sell":     ev.SellAmount,
		"executed": ev.Executed,
		"errors":   ev.Errors,
		"created":  ev.CreatedAt,
	}
	return s.exec(ctx, "save rebalance event", sql, vars)
}

func (s *Store) LastRebalanceEvent(ctx context.Context) (*models.RebalanceEvent, error) {
	sql := "SELECT " + rebalanceSelectFields + " FROM rebalance_event ORDER BY created_at DESC LIMIT 1"
	results, err := surrealdb.Query[[]models.RebalanceEvent](ctx, s.db, sql, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to query rebalance events: %w", err)
	}
	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return nil, interfaces.ErrNotFound
	}
	ev := (*results)[0].Result[0]
	return &ev, nil
}

func (s *Store) Ping(ctx context.Context) error {
	if _, err := surrealdb.Query[any](ctx, s.db, "RETURN true", nil); err != nil {
		return fmt.Errorf("surrealdb ping failed: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	s.db.Close(context.Background())
	return nil
}

// Compile-time check
var _ interfaces.VaultStore = (*Store)(nil)

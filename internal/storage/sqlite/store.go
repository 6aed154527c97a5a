// Package sqlite implements interfaces.VaultStore on an embedded SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/bobmcallan/vaultsync/internal/common"
	"github.com/bobmcallan/vaultsync/internal/interfaces"
	"github.com/bobmcallan/vaultsync/internal/models"
	_ "modernc.org/sqlite"
)

// MemoryPath opens a private in-memory database.
const MemoryPath = ":memory:"

// fixed-width UTC timestamps sort correctly as text
const timeLayout = "2006-01-02T15:04:05.000000000Z"

const schema = `
CREATE TABLE IF NOT EXISTS deposits (
	transaction_hash TEXT PRIMARY KEY,
	user_address TEXT NOT NULL,
	assets TEXT NOT NULL,
	shares_received TEXT NOT NULL,
	block_number INTEGER NOT NULL DEFAULT 0,
	timestamp TEXT NOT NULL,
	processed BOOLEAN NOT NULL DEFAULT FALSE,
	rebalance_triggered BOOLEAN NOT NULL DEFAULT FALSE,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS withdrawals (
	transaction_hash TEXT PRIMARY KEY,
	user_address TEXT NOT NULL,
	assets TEXT NOT NULL,
	shares TEXT NOT NULL DEFAULT '',
	scheduled_timestamp TEXT,
	executed_timestamp TEXT,
	pending BOOLEAN NOT NULL DEFAULT FALSE,
	processed BOOLEAN NOT NULL DEFAULT FALSE,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS rebalance_events (
	id TEXT PRIMARY KEY,
	trigger_name TEXT NOT NULL,
	total_trades INTEGER NOT NULL,
	buy_amount REAL NOT NULL,
	sell_amount REAL NOT NULL,
	executed BOOLEAN NOT NULL,
	errors TEXT NOT NULL DEFAULT '[]',
	created_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_rebalance_events_created ON rebalance_events(created_at);
`

// Store implements interfaces.VaultStore using database/sql and modernc.org/sqlite.
type Store struct {
	db     *sql.DB
	logger *common.Logger
	now    func() time.Time
}

// Open opens (creating if needed) the database at path and applies the schema.
func Open(ctx context.Context, path string, logger *common.Logger) (*Store, error) {
	if path != MemoryPath {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create sqlite directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite at %s: %w", path, err)
	}
	// a single connection keeps :memory: databases shared and serializes writers
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	logger.Info().Str("path", path).Msg("SQLite vault store initialized")
	return &Store{db: db, logger: logger, now: time.Now}, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func formatTimePtr(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func parseTimePtr(ns sql.NullString) *time.Time {
	if !ns.Valid {
		return nil
	}
	t := parseTime(ns.String)
	return &t
}

func (s *Store) GetDeposit(ctx context.Context, txHash string) (*models.DepositRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT transaction_hash, user_address, assets, shares_received, block_number,
			timestamp, processed, rebalance_triggered, created_at, updated_at
		FROM deposits WHERE transaction_hash = ?`, txHash)

	var rec models.DepositRecord
	var ts, created, updated string
	err := row.Scan(&rec.TransactionHash, &rec.UserAddress, &rec.Assets, &rec.SharesReceived,
		&rec.BlockNumber, &ts, &rec.Processed, &rec.RebalanceTriggered, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, interfaces.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to select deposit: %w", err)
	}
	rec.Timestamp = parseTime(ts)
	rec.CreatedAt = parseTime(created)
	rec.UpdatedAt = parseTime(updated)
	return &rec, nil
}

func (s *Store) SaveDeposit(ctx context.Context, rec *models.DepositRecord) error {
	now := formatTime(s.now())
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO deposits (transaction_hash, user_address, assets, shares_received, block_number,
			timestamp, processed, rebalance_triggered, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(transaction_hash) DO UPDATE SET
			user_address = excluded.user_address,
			assets = excluded.assets,
			shares_received = excluded.shares_received,
			block_number = excluded.block_number,
			timestamp = excluded.timestamp,
			processed = excluded.processed,
			rebalance_triggered = excluded.rebalance_triggered,
			updated_at = excluded.updated_at`,
		rec.TransactionHash, rec.UserAddress, rec.Assets, rec.SharesReceived, rec.BlockNumber,
		formatTime(rec.Timestamp), rec.Processed, rec.RebalanceTriggered, now, now)
	if err != nil {
		return fmt.Errorf("failed to save deposit: %w", err)
	}
	return nil
}

func (s *Store) MarkDepositProcessed(ctx context.Context, txHash string, rebalanceTriggered bool) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE deposits SET processed = TRUE, rebalance_triggered = ?, updated_at = ? WHERE transaction_hash = ?`,
		rebalanceTriggered, formatTime(s.now()), txHash)
	if err != nil {
		return fmt.Errorf("failed to mark deposit processed: %w", err)
	}
	return requireRow(res, "deposit", txHash)
}

func (s *Store) GetWithdrawal(ctx context.Context, txHash string) (*models.WithdrawalRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT transaction_hash, user_address, assets, shares, scheduled_timestamp,
			executed_timestamp, pending, processed, created_at, updated_at
		FROM withdrawals WHERE transaction_hash = ?`, txHash)

	var rec models.WithdrawalRecord
	var scheduled, executed sql.NullString
	var created, updated string
	err := row.Scan(&rec.TransactionHash, &rec.UserAddress, &rec.Assets, &rec.Shares,
		&scheduled, &executed, &rec.Pending, &rec.Processed, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, interfaces.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to select withdrawal: %w", err)
	}
	rec.ScheduledTimestamp = parseTimePtr(scheduled)
	rec.ExecutedTimestamp = parseTimePtr(executed)
	rec.CreatedAt = parseTime(created)
	rec.UpdatedAt = parseTime(updated)
	return &rec, nil
}

// SaveWithdrawal upserts a withdrawal. Nil timestamps keep whatever is already stored.
func (s *Store) SaveWithdrawal(ctx context.Context, rec *models.WithdrawalRecord) error {
	now := formatTime(s.now())
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO withdrawals (transaction_hash, user_address, assets, shares, scheduled_timestamp,
			executed_timestamp, pending, processed, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(transaction_hash) DO UPDATE SET
			user_address = excluded.user_address,
			assets = excluded.assets,
			shares = CASE WHEN excluded.shares = '' THEN withdrawals.shares ELSE excluded.shares END,
			scheduled_timestamp = COALESCE(excluded.scheduled_timestamp, withdrawals.scheduled_timestamp),
			executed_timestamp = COALESCE(excluded.executed_timestamp, withdrawals.executed_timestamp),
			pending = excluded.pending,
			processed = excluded.processed,
			updated_at = excluded.updated_at`,
		rec.TransactionHash, rec.UserAddress, rec.Assets, rec.Shares,
		formatTimePtr(rec.ScheduledTimestamp), formatTimePtr(rec.ExecutedTimestamp),
		rec.Pending, rec.Processed, now, now)
	if err != nil {
		return fmt.Errorf("failed to save withdrawal: %w", err)
	}
	return nil
}

func (s *Store) MarkWithdrawalProcessed(ctx context.Context, txHash string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE withdrawals SET processed = TRUE, updated_at = ? WHERE transaction_hash = ?`,
		formatTime(s.now()), txHash)
	if err != nil {
		return fmt.Errorf("failed to mark withdrawal processed: %w", err)
	}
	return requireRow(res, "withdrawal", txHash)
}

func requireRow(res sql.Result, kind, txHash string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return nil
	}
	if n == 0 {
		return fmt.Errorf("%s %s: %w", kind, txHash, interfaces.ErrNotFound)
	}
	return nil
}

func (s *Store) CountPendingDeposits(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM deposits WHERE processed = FALSE`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count pending deposits: %w", err)
	}
	return n, nil
}

func (s *Store) CountPendingWithdrawals(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM withdrawals WHERE pending = TRUE`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count pending withdrawals: %w", err)
	}
	return n, nil
}

func (s *Store) SaveRebalanceEvent(ctx context.Context, ev *models.RebalanceEvent) error {
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = s.now()
	}
	errs := ev.Errors
	if errs == nil {
		errs = []string{}
	}
	encoded, err := json.Marshal(errs)
	if err != nil {
		return fmt.Errorf("failed to encode rebalance errors: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO rebalance_events (id, trigger_name, total_trades, buy_amount, sell_amount, executed, errors, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			trigger_name = excluded.trigger_name,
			total_trades = excluded.total_trades,
			buy_amount = excluded.buy_amount,
			sell_amount = excluded.sell_amount,
			executed = excluded.executed,
			errors = excluded.errors`,
		ev.ID, ev.Trigger, ev.TotalTrades, ev.BuyAmount, ev.SellAmount, ev.Executed,
		string(encoded), formatTime(ev.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to save rebalance event: %w", err)
	}
	return nil
}

func (s *Store) LastRebalanceEvent(ctx context.Context) (*models.RebalanceEvent, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, trigger_name, total_trades, buy_amount, sell_amount, executed, errors, created_at
		FROM rebalance_events ORDER BY created_at DESC LIMIT 1`)

	var ev models.RebalanceEvent
	var errs, created string
	err := row.Scan(&ev.ID, &ev.Trigger, &ev.TotalTrades, &ev.BuyAmount, &ev.SellAmount,
		&ev.Executed, &errs, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, interfaces.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query rebalance events: %w", err)
	}
	if err := json.Unmarshal([]byte(errs), &ev.Errors); err != nil {
		s.logger.Warn().Err(err).Str("id", ev.ID).Msg("Corrupt rebalance event errors column")
	}
	ev.CreatedAt = parseTime(created)
	return &ev, nil
}

func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("sqlite ping failed: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Compile-time check
var _ interfaces.VaultStore = (*Store)(nil)

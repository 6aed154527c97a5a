// Package models defines data structures for vaultsync
package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// ChainEventKind identifies which vault event a ChainEvent represents
type ChainEventKind string

const (
	EventCapitalDeposited    ChainEventKind = "CapitalDeposited"
	EventWithdrawalExecuted  ChainEventKind = "WithdrawalExecuted"
	EventWithdrawalScheduled ChainEventKind = "WithdrawalScheduled"
)

// Event sources
const (
	SourceChain   = "chain"
	SourceWebhook = "webhook"
)

// DefaultAssetDecimals is the number of decimals of the vault's USD asset token.
const DefaultAssetDecimals = 6

// ChainEvent is a normalized vault event. TransactionID is its natural key.
// AssetAmount and ShareAmount are raw integer base units as decimal strings.
type ChainEvent struct {
	TransactionID  string         `json:"transaction_id"`
	Kind           ChainEventKind `json:"kind"`
	Account        string         `json:"account"`
	AssetAmount    string         `json:"asset_amount"`
	ShareAmount    string         `json:"share_amount,omitempty"`
	BlockNumber    uint64         `json:"block_number"`
	BlockTimestamp time.Time      `json:"block_timestamp"`
	ScheduledTime  time.Time      `json:"scheduled_time,omitempty"`
	Source         string         `json:"source"`
}

// AssetUSD converts the raw asset amount into dollars using the given token decimals.
func (e ChainEvent) AssetUSD(decimals int32) (decimal.Decimal, error) {
	return BaseUnitsToUSD(e.AssetAmount, decimals)
}

// BaseUnitsToUSD converts an integer base-unit string into a dollar amount.
func BaseUnitsToUSD(raw string, decimals int32) (decimal.Decimal, error) {
	units, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid base unit amount %q: %w", raw, err)
	}
	if !units.Equal(units.Truncate(0)) {
		return decimal.Zero, fmt.Errorf("base unit amount %q is not an integer", raw)
	}
	if units.IsNegative() {
		return decimal.Zero, fmt.Errorf("base unit amount %q is negative", raw)
	}
	return units.Shift(-decimals), nil
}

// DepositRecord is the persisted form of a vault deposit, keyed by TransactionHash.
type DepositRecord struct {
	TransactionHash    string    `json:"transaction_hash"`
	UserAddress        string    `json:"user_address"`
	Assets             string    `json:"assets"`
	SharesReceived     string    `json:"shares_received"`
	BlockNumber        uint64    `json:"block_number"`
	Timestamp          time.Time `json:"timestamp"`
	Processed          bool      `json:"processed"`
	RebalanceTriggered bool      `json:"rebalance_triggered"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// WithdrawalRecord is the persisted form of a scheduled or executed withdrawal.
// Pending is true until the withdrawal is executed on-chain.
type WithdrawalRecord struct {
	TransactionHash    string     `json:"transaction_hash"`
	UserAddress        string     `json:"user_address"`
	Assets             string     `json:"assets"`
	Shares             string     `json:"shares"`
	ScheduledTimestamp *time.Time `json:"scheduled_timestamp,omitempty"`
	ExecutedTimestamp  *time.Time `json:"executed_timestamp,omitempty"`
	Pending            bool       `json:"pending"`
	Processed          bool       `json:"processed"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// RebalanceEvent is the audit row written after every executed reconciliation.
type RebalanceEvent struct {
	ID          string    `json:"id"`
	Trigger     string    `json:"trigger"`
	TotalTrades int       `json:"total_trades"`
	BuyAmount   float64   `json:"buy_amount"`
	SellAmount  float64   `json:"sell_amount"`
	Executed    bool      `json:"executed"`
	Errors      []string  `json:"errors"`
	CreatedAt   time.Time `json:"created_at"`
}

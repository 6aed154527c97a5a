// Package reconcile decides when the brokerage portfolio is realigned with
// the target composition and runs one reconciliation at a time.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bobmcallan/vaultsync/internal/common"
	"github.com/bobmcallan/vaultsync/internal/interfaces"
	"github.com/bobmcallan/vaultsync/internal/models"
	"github.com/bobmcallan/vaultsync/internal/services/rebalance"
)

// DefaultThreshold is the aggregate deviation below which event and
// scheduled passes place no trades.
const DefaultThreshold = 0.05

// ErrHalted is returned while trading is halted by an emergency stop.
var ErrHalted = errors.New("trading halted by emergency stop")

// StateReader reads the live brokerage portfolio.
type StateReader interface {
	Read(ctx context.Context) (*models.PortfolioState, error)
}

// CompositionProvider supplies target weights and prices.
type CompositionProvider interface {
	GetComposition(ctx context.Context) (*models.Composition, error)
	GetPrices(ctx context.Context, symbols []string) map[string]*models.Quote
}

// TradeExecutor places planned trades.
type TradeExecutor interface {
	Execute(ctx context.Context, trigger models.Trigger, trades []*models.RebalanceTrade) *models.RebalanceResult
	CancelOpenOrders(ctx context.Context) ([]string, []string)
}

// Publisher receives results for the live feed.
type Publisher interface {
	Publish(eventType string, data interface{})
}

// EmergencyStopResult lists what an emergency stop cancelled.
type EmergencyStopResult struct {
	Cancelled []string `json:"cancelled"`
	Errors    []string `json:"errors"`
	Halted    bool     `json:"halted"`
}

// Engine ties the reader, planner and executor together behind a single-flight lock.
type Engine struct {
	reader      StateReader
	composition CompositionProvider
	planner     *rebalance.Planner
	executor    TradeExecutor
	store       interfaces.VaultStore
	publisher   Publisher
	threshold   float64
	logger      *common.Logger
	now         func() time.Time

	mu sync.Mutex // held for the whole of a reconciliation

	haltMu sync.RWMutex
	halted bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithPublisher sends every executed result to p.
func WithPublisher(p Publisher) Option {
	return func(e *Engine) { e.publisher = p }
}

// WithThreshold overrides the deviation gate for every trigger except manual.
func WithThreshold(threshold float64) Option {
	return func(e *Engine) {
		if threshold > 0 {
			e.threshold = threshold
		}
	}
}

// NewEngine creates an engine. store may be nil, in which case no audit trail is written.
func NewEngine(reader StateReader, composition CompositionProvider, planner *rebalance.Planner, executor TradeExecutor, store interfaces.VaultStore, logger *common.Logger, opts ...Option) *Engine {
	e := &Engine{
		reader:      reader,
		composition: composition,
		planner:     planner,
		executor:    executor,
		store:       store,
		threshold:   DefaultThreshold,
		logger:      logger,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Report reads the portfolio and plans trades without placing any.
func (e *Engine) Report(ctx context.Context) (*models.RebalanceReport, error) {
	return e.report(ctx, 0)
}

func (e *Engine) report(ctx context.Context, reserve float64) (*models.RebalanceReport, error) {
	state, err := e.reader.Read(ctx)
	if err != nil {
		return nil, err
	}

	comp, err := e.composition.GetComposition(ctx)
	if err != nil {
		return nil, fmt.Errorf("composition unavailable: %w", err)
	}

	quotes := e.composition.GetPrices(ctx, rebalance.Symbols(comp))
	report := e.planner.PlanWithReserve(state, comp, quotes, reserve)

	for _, s := range report.Skipped {
		e.logger.Warn().Str("symbol", s.Symbol).Str("reason", s.Reason).Msg("Symbol skipped by planner")
	}
	if report.CompositionStale {
		e.logger.Warn().Time("last_updated", comp.LastUpdated).Msg("Planning against stale composition")
	}
	return report, nil
}

// lock takes the single-flight lock unless trading is halted. The caller
// must unlock when it returns nil.
func (e *Engine) lock() error {
	if e.Halted() {
		return ErrHalted
	}
	e.mu.Lock()
	// an emergency stop may have landed while waiting for the lock
	if e.Halted() {
		e.mu.Unlock()
		return ErrHalted
	}
	return nil
}

// Reconcile runs one reconciliation for trigger. Every trigger except manual
// requires the aggregate deviation to reach the threshold. A result with
// Executed=false means nothing was placed.
func (e *Engine) Reconcile(ctx context.Context, trigger models.Trigger) (*models.RebalanceResult, error) {
	if err := e.lock(); err != nil {
		return nil, err
	}
	defer e.mu.Unlock()
	return e.reconcile(ctx, trigger, 0)
}

// reconcile runs with e.mu held. reserve dollars are kept out of the targets.
func (e *Engine) reconcile(ctx context.Context, trigger models.Trigger, reserve float64) (*models.RebalanceResult, error) {
	start := e.now()
	report, err := e.report(ctx, reserve)
	if err != nil {
		e.logger.Error().Err(err).Str("trigger", string(trigger)).Msg("Reconciliation aborted before planning")
		return nil, err
	}

	skipped := &models.RebalanceResult{
		Trigger:     trigger,
		Trades:      []*models.RebalanceTrade{},
		Errors:      []string{},
		Orders:      []string{},
		StartedAt:   start,
		CompletedAt: e.now(),
	}

	if report.IsBalanced {
		e.logger.Info().Str("trigger", string(trigger)).Msg("Portfolio is balanced, no trades needed")
		return skipped, nil
	}

	if len(report.SuggestedTrades) == 0 {
		e.logger.Warn().
			Str("trigger", string(trigger)).
			Int("skipped", len(report.Skipped)).
			Msg("No tradable symbols, prices unavailable; nothing placed")
		return skipped, nil
	}

	if !trigger.Forced() && report.Deviation < e.threshold {
		e.logger.Info().
			Str("trigger", string(trigger)).
			Float64("deviation", report.Deviation).
			Float64("threshold", e.threshold).
			Msg("Deviation below threshold, skipping rebalance")
		return skipped, nil
	}

	result := e.executor.Execute(ctx, trigger, report.SuggestedTrades)
	result.StartedAt = start

	e.logger.Info().
		Str("trigger", string(trigger)).
		Int("trades", len(result.Trades)).
		Bool("executed", result.Executed).
		Int("errors", len(result.Errors)).
		Str("total_buy", common.FormatUSD(result.TotalBuyAmount)).
		Str("total_sell", common.FormatUSD(result.TotalSellAmount)).
		Msg("Rebalance complete")

	e.record(ctx, result)
	if e.publisher != nil {
		e.publisher.Publish(models.FeedRebalance, result)
	}
	return result, nil
}

// record writes the audit row. A failure is logged and does not undo the trades.
func (e *Engine) record(ctx context.Context, result *models.RebalanceResult) {
	if e.store == nil || !result.Executed {
		return
	}
	ev := &models.RebalanceEvent{
		ID:          uuid.New().String(),
		Trigger:     string(result.Trigger),
		TotalTrades: len(result.Trades),
		BuyAmount:   result.TotalBuyAmount,
		SellAmount:  result.TotalSellAmount,
		Executed:    result.Executed,
		Errors:      result.Errors,
		CreatedAt:   result.CompletedAt,
	}
	if err := e.store.SaveRebalanceEvent(ctx, ev); err != nil {
		e.logger.Error().Err(err).Str("trigger", ev.Trigger).Msg("Failed to record rebalance event")
	}
}

// HandleNewCapital reconciles after a deposit unless the amount is below the
// minimum trade size. A nil result means the deposit did not trigger trading.
func (e *Engine) HandleNewCapital(ctx context.Context, amount float64) (*models.RebalanceResult, error) {
	if amount < e.planner.MinTradeAmount() {
		e.logger.Info().
			Str("amount", common.FormatUSD(amount)).
			Msg("Deposit below minimum trade amount, not rebalancing")
		return nil, nil
	}
	return e.Reconcile(ctx, models.TriggerDeposit)
}

// HandleWithdrawal reconciles when available cash cannot cover amount,
// planning against the portfolio less amount so it is left in cash. The cash
// check and the trades run under the same single-flight lock.
func (e *Engine) HandleWithdrawal(ctx context.Context, amount float64) (*models.RebalanceResult, error) {
	if err := e.lock(); err != nil {
		return nil, err
	}
	defer e.mu.Unlock()

	state, err := e.reader.Read(ctx)
	if err != nil {
		return nil, err
	}
	if state.Cash >= amount {
		e.logger.Info().
			Str("amount", common.FormatUSD(amount)).
			Str("cash", common.FormatUSD(state.Cash)).
			Msg("Cash covers withdrawal, not rebalancing")
		return nil, nil
	}
	return e.reconcile(ctx, models.TriggerWithdrawal, amount)
}

// EmergencyStop halts further reconciliation and cancels every open order.
func (e *Engine) EmergencyStop(ctx context.Context) *EmergencyStopResult {
	e.haltMu.Lock()
	e.halted = true
	e.haltMu.Unlock()

	e.logger.Warn().Msg("Emergency stop triggered")
	cancelled, errs := e.executor.CancelOpenOrders(ctx)
	result := &EmergencyStopResult{Cancelled: cancelled, Errors: errs, Halted: true}
	if result.Errors == nil {
		result.Errors = []string{}
	}
	if e.publisher != nil {
		e.publisher.Publish(models.FeedEmergencyStop, result)
	}
	return result
}

// Resume clears an emergency stop.
func (e *Engine) Resume() {
	e.haltMu.Lock()
	e.halted = false
	e.haltMu.Unlock()
	e.logger.Info().Msg("Trading resumed")
}

// Halted reports whether an emergency stop is in effect.
func (e *Engine) Halted() bool {
	e.haltMu.RLock()
	defer e.haltMu.RUnlock()
	return e.halted
}

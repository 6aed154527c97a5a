package rebalance

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/bobmcallan/vaultsync/internal/common"
	"github.com/bobmcallan/vaultsync/internal/interfaces"
	"github.com/bobmcallan/vaultsync/internal/models"
)

// DefaultOrderPacing is the delay between consecutive orders.
const DefaultOrderPacing = time.Second

// Executor places planned trades with the broker: all sells, then all buys.
// A failed order is recorded and the batch continues.
type Executor struct {
	broker  interfaces.Broker
	limiter *rate.Limiter
	timeout time.Duration
	logger  *common.Logger
	newID   func() string
	now     func() time.Time
}

// NewExecutor creates an executor. pacing is the minimum gap between orders;
// zero disables pacing. timeout bounds each broker call.
func NewExecutor(broker interfaces.Broker, pacing, timeout time.Duration, logger *common.Logger) *Executor {
	limit := rate.Inf
	if pacing > 0 {
		limit = rate.Every(pacing)
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Executor{
		broker:  broker,
		limiter: rate.NewLimiter(limit, 1),
		timeout: timeout,
		logger:  logger,
		newID:   func() string { return uuid.New().String() },
		now:     time.Now,
	}
}

// Execute attempts every trade and returns the batch result.
func (e *Executor) Execute(ctx context.Context, trigger models.Trigger, trades []*models.RebalanceTrade) *models.RebalanceResult {
	result := &models.RebalanceResult{
		Trigger:   trigger,
		Trades:    trades,
		Errors:    []string{},
		Orders:    []string{},
		StartedAt: e.now(),
	}

	var sells, buys []*models.RebalanceTrade
	for _, t := range trades {
		if t.Action == models.ActionSell {
			sells = append(sells, t)
			result.TotalSellAmount += math.Abs(t.Difference)
		} else {
			buys = append(buys, t)
			result.TotalBuyAmount += math.Abs(t.Difference)
		}
	}

	if len(trades) == 0 {
		result.CompletedAt = e.now()
		return result
	}

	e.logger.Info().
		Str("trigger", string(trigger)).
		Int("sells", len(sells)).
		Int("buys", len(buys)).
		Str("total_sell", common.FormatUSD(result.TotalSellAmount)).
		Str("total_buy", common.FormatUSD(result.TotalBuyAmount)).
		Msg("Executing rebalance trades")

	// sells first so their proceeds fund the buys
	e.executeBatch(ctx, sells, result)
	e.executeBatch(ctx, buys, result)

	result.Executed = true
	result.CompletedAt = e.now()

	e.logger.Info().
		Str("trigger", string(trigger)).
		Int("trades", len(trades)).
		Int("orders", len(result.Orders)).
		Int("errors", len(result.Errors)).
		Dur("duration", result.CompletedAt.Sub(result.StartedAt)).
		Msg("Rebalance batch complete")
	return result
}

func (e *Executor) executeBatch(ctx context.Context, trades []*models.RebalanceTrade, result *models.RebalanceResult) {
	for _, trade := range trades {
		orderID, err := e.place(ctx, trade)
		if err != nil {
			msg := fmt.Sprintf("Failed to execute %s for %s: %v", trade.Action, trade.Symbol, err)
			result.Errors = append(result.Errors, msg)
			e.logger.Error().Err(err).Str("symbol", trade.Symbol).Str("side", string(trade.Action)).Msg("Order failed")
			continue
		}
		result.Orders = append(result.Orders, orderID)
	}
}

func (e *Executor) place(ctx context.Context, trade *models.RebalanceTrade) (string, error) {
	if trade.Shares <= 0 {
		return "", fmt.Errorf("non-positive share count %v", trade.Shares)
	}
	if err := e.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("pacing wait: %w", err)
	}

	callCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	order, err := e.broker.PlaceOrder(callCtx, &models.OrderRequest{
		Symbol:        trade.Symbol,
		Qty:           trade.Shares,
		Side:          trade.Action,
		Type:          "market",
		TimeInForce:   "day",
		ClientOrderID: e.newID(),
	})
	if err != nil {
		return "", err
	}

	e.logger.Info().
		Str("symbol", trade.Symbol).
		Str("side", string(trade.Action)).
		Float64("shares", trade.Shares).
		Str("order_id", order.ID).
		Msg("Order placed")
	return order.ID, nil
}

// CancelOpenOrders cancels every open order. It returns the cancelled ids and
// one message per failure.
func (e *Executor) CancelOpenOrders(ctx context.Context) ([]string, []string) {
	listCtx, cancel := context.WithTimeout(ctx, e.timeout)
	orders, err := e.broker.ListOpenOrders(listCtx)
	cancel()
	if err != nil {
		return nil, []string{fmt.Sprintf("Failed to list open orders: %v", err)}
	}

	cancelled := []string{}
	var errs []string
	for _, o := range orders {
		callCtx, cancel := context.WithTimeout(ctx, e.timeout)
		err := e.broker.CancelOrder(callCtx, o.ID)
		cancel()
		if err != nil {
			errs = append(errs, fmt.Sprintf("Failed to cancel order %s (%s): %v", o.ID, o.Symbol, err))
			continue
		}
		cancelled = append(cancelled, o.ID)
	}
	e.logger.Warn().Int("cancelled", len(cancelled)).Int("failed", len(errs)).Msg("Open orders cancelled")
	return cancelled, errs
}

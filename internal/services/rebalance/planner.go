// Package rebalance plans and executes the trades that realign the brokerage
// portfolio with the target composition.
package rebalance

import (
	"math"
	"sort"
	"time"

	"github.com/bobmcallan/vaultsync/internal/models"
)

const (
	DefaultMinTradeAmount = 10.0
	DefaultMaxDeviation   = 0.01
)

// Planner computes deviation-filtered trade lists. It holds no state and
// performs no I/O, so Plan may be called any number of times.
type Planner struct {
	minTradeAmount float64
	maxDeviation   float64
	now            func() time.Time
}

// NewPlanner creates a planner. Non-positive values use the defaults.
func NewPlanner(minTradeAmount, maxDeviation float64) *Planner {
	if minTradeAmount <= 0 {
		minTradeAmount = DefaultMinTradeAmount
	}
	if maxDeviation <= 0 {
		maxDeviation = DefaultMaxDeviation
	}
	return &Planner{minTradeAmount: minTradeAmount, maxDeviation: maxDeviation, now: time.Now}
}

// MinTradeAmount returns the dollar floor below which no trade is emitted.
func (p *Planner) MinTradeAmount() float64 {
	return p.minTradeAmount
}

// TargetAllocation maps each symbol to weight/100 of totalValue.
func TargetAllocation(comp *models.Composition, totalValue float64) map[string]float64 {
	targets := make(map[string]float64, len(comp.Holdings))
	for symbol, weight := range comp.Weights() {
		targets[symbol] = weight / 100 * totalValue
	}
	return targets
}

// NeedsTrade applies the floor filter: the absolute difference must exceed the
// minimum trade amount and the relative deviation must exceed maxDeviation.
func (p *Planner) NeedsTrade(target, current float64) bool {
	diff := target - current
	deviation := math.Abs(diff) / math.Max(math.Max(target, current), 1)
	return math.Abs(diff) > p.minTradeAmount && deviation > p.maxDeviation
}

// Plan builds a RebalanceReport for state against comp using quotes for share counts.
func (p *Planner) Plan(state *models.PortfolioState, comp *models.Composition, quotes map[string]*models.Quote) *models.RebalanceReport {
	return p.PlanWithReserve(state, comp, quotes, 0)
}

// PlanWithReserve plans like Plan but keeps reserve dollars out of the target
// allocation, so they are left in cash once the trades fill.
func (p *Planner) PlanWithReserve(state *models.PortfolioState, comp *models.Composition, quotes map[string]*models.Quote, reserve float64) *models.RebalanceReport {
	investable := math.Max(state.TotalValue-math.Max(reserve, 0), 0)
	targets := TargetAllocation(comp, investable)
	report := &models.RebalanceReport{
		CurrentHoldings:  state,
		TargetAllocation: targets,
		SuggestedTrades:  []*models.RebalanceTrade{},
		CompositionStale: comp.Stale,
		GeneratedAt:      p.now(),
	}

	// walk holdings in composition order so equal differences keep a stable order
	seen := make(map[string]bool, len(comp.Holdings))
	for _, h := range comp.Holdings {
		if seen[h.Symbol] {
			continue
		}
		seen[h.Symbol] = true

		target := targets[h.Symbol]
		current := state.MarketValueOf(h.Symbol)
		if !p.NeedsTrade(target, current) {
			continue
		}

		quote := quotes[h.Symbol]
		if quote != nil && quote.Source == models.QuoteSourceStale {
			report.PricesDegraded = true
		}
		if !quote.Usable() {
			report.PricesDegraded = true
			report.Skipped = append(report.Skipped, models.SkippedSymbol{Symbol: h.Symbol, Reason: "price unavailable"})
			continue
		}

		diff := target - current
		trade := &models.RebalanceTrade{
			Symbol:        h.Symbol,
			TargetAmount:  target,
			CurrentAmount: current,
			Difference:    diff,
			Action:        models.ActionBuy,
			Shares:        math.Ceil(math.Abs(diff) / quote.Price),
			Price:         quote.Price,
		}
		if diff < 0 {
			trade.Action = models.ActionSell
			// never sell more than is held
			if pos, ok := state.Positions[h.Symbol]; ok && trade.Shares > pos.Shares {
				trade.Shares = pos.Shares
			}
		}
		report.SuggestedTrades = append(report.SuggestedTrades, trade)
	}

	// held symbols that left the index are liquidated in full
	var exits []string
	for symbol := range state.Positions {
		if _, inTarget := targets[symbol]; !inTarget {
			exits = append(exits, symbol)
		}
	}
	sort.Strings(exits)
	for _, symbol := range exits {
		pos := state.Positions[symbol]
		price := 0.0
		if pos.Shares != 0 {
			price = pos.MarketValue / pos.Shares
		}
		report.SuggestedTrades = append(report.SuggestedTrades, &models.RebalanceTrade{
			Symbol:        symbol,
			TargetAmount:  0,
			CurrentAmount: pos.MarketValue,
			Difference:    -pos.MarketValue,
			Action:        models.ActionSell,
			Shares:        pos.Shares,
			Price:         price,
		})
	}

	sort.SliceStable(report.SuggestedTrades, func(i, j int) bool {
		return math.Abs(report.SuggestedTrades[i].Difference) > math.Abs(report.SuggestedTrades[j].Difference)
	})

	// an unpriced symbol is unknown drift, not balance
	report.IsBalanced = len(report.SuggestedTrades) == 0 && len(report.Skipped) == 0
	report.Deviation = AggregateDeviation(report.SuggestedTrades, state.TotalValue)
	return report
}

// AggregateDeviation is Σ|difference| / totalValue, zero for an empty portfolio.
func AggregateDeviation(trades []*models.RebalanceTrade, totalValue float64) float64 {
	if totalValue <= 0 {
		return 0
	}
	sum := 0.0
	for _, t := range trades {
		sum += math.Abs(t.Difference)
	}
	return sum / totalValue
}

// Symbols returns the composition symbols, for price lookups.
func Symbols(comp *models.Composition) []string {
	out := make([]string, 0, len(comp.Holdings))
	for _, h := range comp.Holdings {
		out = append(out, h.Symbol)
	}
	return out
}

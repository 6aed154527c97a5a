package models

import "time"

// Position is one brokerage holding.
type Position struct {
	Symbol      string  `json:"symbol"`
	Shares      float64 `json:"shares"`
	MarketValue float64 `json:"market_value"`
	EntryPrice  float64 `json:"entry_price"`
}

// PortfolioState is a point-in-time read of the brokerage account.
type PortfolioState struct {
	Cash       float64              `json:"cash"`
	Positions  map[string]*Position `json:"positions"`
	TotalValue float64              `json:"total_value"`
	ReadAt     time.Time            `json:"read_at"`
}

// NewPortfolioState builds a state and derives TotalValue from cash and positions.
func NewPortfolioState(cash float64, positions []*Position) *PortfolioState {
	state := &PortfolioState{
		Cash:      cash,
		Positions: make(map[string]*Position, len(positions)),
	}
	for _, p := range positions {
		if p == nil {
			continue
		}
		state.Positions[p.Symbol] = p
	}
	state.TotalValue = state.computeTotal()
	return state
}

func (s *PortfolioState) computeTotal() float64 {
	total := s.Cash
	for _, p := range s.Positions {
		total += p.MarketValue
	}
	return total
}

// MarketValueOf returns the market value held in symbol, zero when not held.
func (s *PortfolioState) MarketValueOf(symbol string) float64 {
	if p, ok := s.Positions[symbol]; ok {
		return p.MarketValue
	}
	return 0
}

// TradeAction is buy or sell
type TradeAction string

const (
	ActionBuy  TradeAction = "buy"
	ActionSell TradeAction = "sell"
)

// RebalanceTrade is one planned order. Difference is target minus current dollars.
type RebalanceTrade struct {
	Symbol        string      `json:"symbol"`
	TargetAmount  float64     `json:"target_amount"`
	CurrentAmount float64     `json:"current_amount"`
	Difference    float64     `json:"difference"`
	Action        TradeAction `json:"action"`
	Shares        float64     `json:"shares"`
	Price         float64     `json:"price"`
}

// Trigger identifies what started a reconciliation
type Trigger string

const (
	TriggerDeposit    Trigger = "deposit"
	TriggerWithdrawal Trigger = "withdrawal"
	TriggerDaily      Trigger = "daily"
	TriggerWeekly     Trigger = "weekly"
	TriggerStartup    Trigger = "startup"
	TriggerManual     Trigger = "manual"
)

// Forced reports whether the trigger bypasses the aggregate deviation
// threshold. Only an operator's manual rebalance does.
func (t Trigger) Forced() bool {
	return t == TriggerManual
}

// RebalanceResult is the outcome of one executed batch of trades.
type RebalanceResult struct {
	Trigger         Trigger           `json:"trigger"`
	Trades          []*RebalanceTrade `json:"trades"`
	TotalBuyAmount  float64           `json:"total_buy_amount"`
	TotalSellAmount float64           `json:"total_sell_amount"`
	Executed        bool              `json:"executed"`
	Errors          []string          `json:"errors"`
	Orders          []string          `json:"orders"`
	StartedAt       time.Time         `json:"started_at"`
	CompletedAt     time.Time         `json:"completed_at"`
}

// SkippedSymbol records a target symbol the planner could not price.
type SkippedSymbol struct {
	Symbol string `json:"symbol"`
	Reason string `json:"reason"`
}

// RebalanceReport is a side-effect free view of what a rebalance would do.
type RebalanceReport struct {
	CurrentHoldings  *PortfolioState    `json:"current_holdings"`
	TargetAllocation map[string]float64 `json:"target_allocation"`
	SuggestedTrades  []*RebalanceTrade  `json:"suggested_trades"`
	IsBalanced       bool               `json:"is_balanced"`
	Deviation        float64            `json:"deviation"`
	PricesDegraded   bool               `json:"prices_degraded"`
	CompositionStale bool               `json:"composition_stale"`
	Skipped          []SkippedSymbol    `json:"skipped,omitempty"`
	GeneratedAt      time.Time          `json:"generated_at"`
}

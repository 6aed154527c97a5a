package rebalance

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bobmcallan/vaultsync/internal/models"
)

func comp(weights ...interface{}) *models.Composition {
	c := &models.Composition{}
	for i := 0; i < len(weights); i += 2 {
		c.Holdings = append(c.Holdings, &models.IndexHolding{
			Symbol: weights[i].(string),
			Weight: weights[i+1].(float64),
		})
	}
	return c
}

func liveQuotes(prices map[string]float64) map[string]*models.Quote {
	out := make(map[string]*models.Quote, len(prices))
	for s, p := range prices {
		out[s] = &models.Quote{Symbol: s, Price: p, Source: models.QuoteSourceLive}
	}
	return out
}

func TestNeedsTrade_DeviationFloor(t *testing.T) {
	p := NewPlanner(10, 0.01)

	tests := []struct {
		name    string
		target  float64
		current float64
		want    bool
	}{
		{"within both floors", 1000, 995, false},
		{"large buy", 1000, 800, true},
		{"above dollar floor, below deviation", 100000, 99500, false},
		{"above deviation, below dollar floor", 50, 45, false},
		{"exactly the dollar floor", 1010, 1000, false},
		{"sell side", 800, 1000, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, p.NeedsTrade(tt.target, tt.current))
		})
	}
}

func TestPlan_DeviationFloor(t *testing.T) {
	p := NewPlanner(10, 0.01)
	quotes := liveQuotes(map[string]float64{"AAPL": 100})

	// holding $995 of a $1000 target: no trade
	state := models.NewPortfolioState(5, []*models.Position{{Symbol: "AAPL", Shares: 9.95, MarketValue: 995}})
	report := p.Plan(state, comp("AAPL", 100.0), quotes)
	assert.True(t, report.IsBalanced)
	assert.Empty(t, report.SuggestedTrades)

	// holding $800 of a $1000 target: buy $200
	state = models.NewPortfolioState(200, []*models.Position{{Symbol: "AAPL", Shares: 8, MarketValue: 800}})
	report = p.Plan(state, comp("AAPL", 100.0), quotes)
	require.Len(t, report.SuggestedTrades, 1)
	trade := report.SuggestedTrades[0]
	assert.Equal(t, models.ActionBuy, trade.Action)
	assert.InDelta(t, 200, trade.Difference, 1e-9)
	assert.Equal(t, 2.0, trade.Shares)
	assert.False(t, report.IsBalanced)
}

func TestPlan_NewCapitalIntoEmptyPortfolio(t *testing.T) {
	p := NewPlanner(10, 0.01)
	state := models.NewPortfolioState(1000, nil)

	report := p.Plan(state, comp("AAPL", 60.0, "MSFT", 40.0), liveQuotes(map[string]float64{"AAPL": 200, "MSFT": 300}))

	require.Len(t, report.SuggestedTrades, 2)
	assert.Equal(t, "AAPL", report.SuggestedTrades[0].Symbol)
	assert.InDelta(t, 600, report.SuggestedTrades[0].Difference, 1e-9)
	assert.Equal(t, 3.0, report.SuggestedTrades[0].Shares)
	assert.Equal(t, "MSFT", report.SuggestedTrades[1].Symbol)
	assert.InDelta(t, 400, report.SuggestedTrades[1].Difference, 1e-9)
	assert.Equal(t, 2.0, report.SuggestedTrades[1].Shares, "ceil(400/300)")
	assert.InDelta(t, 1.0, report.Deviation, 1e-9)
	assert.InDelta(t, 600, report.TargetAllocation["AAPL"], 1e-9)
}

func TestPlan_ForcedLiquidation(t *testing.T) {
	p := NewPlanner(10, 0.01)
	state := models.NewPortfolioState(0, []*models.Position{
		{Symbol: "AAPL", Shares: 10, MarketValue: 1000},
		{Symbol: "GME", Shares: 4, MarketValue: 5},
	})

	report := p.Plan(state, comp("AAPL", 100.0), liveQuotes(map[string]float64{"AAPL": 100}))

	// AAPL target 1005 vs 1000 is inside the floor; GME is sold even though tiny
	require.Len(t, report.SuggestedTrades, 1)
	exit := report.SuggestedTrades[0]
	assert.Equal(t, "GME", exit.Symbol)
	assert.Equal(t, models.ActionSell, exit.Action)
	assert.Equal(t, 4.0, exit.Shares)
	assert.Equal(t, 1.25, exit.Price)
	assert.Equal(t, 0.0, exit.TargetAmount)
	assert.Equal(t, -5.0, exit.Difference)
}

func TestPlan_SortedByAbsoluteDifference(t *testing.T) {
	p := NewPlanner(10, 0.01)
	state := models.NewPortfolioState(0, []*models.Position{
		{Symbol: "AAPL", Shares: 10, MarketValue: 2000},
		{Symbol: "MSFT", Shares: 1, MarketValue: 500},
		{Symbol: "OLD", Shares: 1, MarketValue: 500},
	})
	report := p.Plan(state, comp("AAPL", 50.0, "MSFT", 50.0), liveQuotes(map[string]float64{"AAPL": 200, "MSFT": 500}))

	require.Len(t, report.SuggestedTrades, 3)
	// AAPL -500 and OLD -500 tie; composition symbols come before exits
	assert.Equal(t, "MSFT", report.SuggestedTrades[0].Symbol)
	assert.Equal(t, "AAPL", report.SuggestedTrades[1].Symbol)
	assert.Equal(t, "OLD", report.SuggestedTrades[2].Symbol)
	assert.InDelta(t, 2000.0/3000.0, report.Deviation, 1e-9)
}

func TestPlan_SellNeverExceedsHeldShares(t *testing.T) {
	p := NewPlanner(10, 0.01)
	state := models.NewPortfolioState(0, []*models.Position{
		{Symbol: "AAPL", Shares: 2.5, MarketValue: 500},
		{Symbol: "MSFT", Shares: 1, MarketValue: 0},
	})
	// stale low price would otherwise ask for 5 shares
	report := p.Plan(state, comp("AAPL", 1.0, "MSFT", 99.0), liveQuotes(map[string]float64{"AAPL": 99, "MSFT": 500}))

	for _, tr := range report.SuggestedTrades {
		if tr.Symbol == "AAPL" {
			assert.Equal(t, models.ActionSell, tr.Action)
			assert.Equal(t, 2.5, tr.Shares)
		}
	}
}

func TestPlan_UnavailablePriceIsSkipped(t *testing.T) {
	p := NewPlanner(10, 0.01)
	state := models.NewPortfolioState(1000, nil)
	quotes := map[string]*models.Quote{
		"AAPL": {Symbol: "AAPL", Price: 200, Source: models.QuoteSourceStale},
		"MSFT": {Symbol: "MSFT", Source: models.QuoteSourceUnavailable},
	}

	report := p.Plan(state, comp("AAPL", 60.0, "MSFT", 40.0), quotes)

	require.Len(t, report.SuggestedTrades, 1)
	assert.Equal(t, "AAPL", report.SuggestedTrades[0].Symbol)
	assert.True(t, report.PricesDegraded)
	require.Len(t, report.Skipped, 1)
	assert.Equal(t, "MSFT", report.Skipped[0].Symbol)
}

func TestPlan_AllUnpricedIsNotBalanced(t *testing.T) {
	p := NewPlanner(10, 0.01)
	state := models.NewPortfolioState(1000, nil)
	quotes := map[string]*models.Quote{
		"AAPL": {Symbol: "AAPL", Source: models.QuoteSourceUnavailable},
	}

	report := p.Plan(state, comp("AAPL", 100.0), quotes)

	assert.Empty(t, report.SuggestedTrades)
	assert.False(t, report.IsBalanced)
	assert.True(t, report.PricesDegraded)
	require.Len(t, report.Skipped, 1)
}

func TestPlanWithReserve_KeepsWithdrawalInCash(t *testing.T) {
	p := NewPlanner(10, 0.01)
	state := models.NewPortfolioState(100, []*models.Position{{Symbol: "AAPL", Shares: 5, MarketValue: 1000}})
	quotes := liveQuotes(map[string]float64{"AAPL": 200, "MSFT": 100})

	report := p.PlanWithReserve(state, comp("AAPL", 60.0, "MSFT", 40.0), quotes, 300)

	// $1100 total less $300 reserve leaves $800 to allocate
	assert.InDelta(t, 480, report.TargetAllocation["AAPL"], 1e-9)
	assert.InDelta(t, 320, report.TargetAllocation["MSFT"], 1e-9)

	cash := state.Cash
	for _, tr := range report.SuggestedTrades {
		if tr.Action == models.ActionSell {
			cash += tr.Shares * tr.Price
		} else {
			cash -= tr.Shares * tr.Price
		}
	}
	assert.GreaterOrEqual(t, cash, 300.0)
}

func TestPlanWithReserve_LargerThanPortfolio(t *testing.T) {
	p := NewPlanner(10, 0.01)
	state := models.NewPortfolioState(0, []*models.Position{{Symbol: "AAPL", Shares: 2, MarketValue: 400}})

	report := p.PlanWithReserve(state, comp("AAPL", 100.0), liveQuotes(map[string]float64{"AAPL": 200}), 1000)

	require.Len(t, report.SuggestedTrades, 1)
	assert.Equal(t, models.ActionSell, report.SuggestedTrades[0].Action)
	assert.Equal(t, 2.0, report.SuggestedTrades[0].Shares)
}

func TestPlan_IsPure(t *testing.T) {
	p := NewPlanner(10, 0.01)
	state := models.NewPortfolioState(1000, nil)
	c := comp("AAPL", 60.0, "MSFT", 40.0)
	q := liveQuotes(map[string]float64{"AAPL": 200, "MSFT": 300})

	first := p.Plan(state, c, q)
	second := p.Plan(state, c, q)
	assert.Equal(t, first.SuggestedTrades, second.SuggestedTrades)
	assert.Equal(t, 1000.0, state.Cash)
	assert.Empty(t, state.Positions)
}

func TestAggregateDeviation_EmptyPortfolio(t *testing.T) {
	assert.Zero(t, AggregateDeviation([]*models.RebalanceTrade{{Difference: 10}}, 0))
}

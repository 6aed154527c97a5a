package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBaseUnitsToUSD(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    string
		wantErr bool
	}{
		{"one thousand dollars", "1000000000", "1000", false},
		{"fractional cents", "1234567", "1.234567", false},
		{"zero", "0", "0", false},
		{"not a number", "abc", "", true},
		{"negative", "-5", "", true},
		{"fractional base units", "1.5", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := BaseUnitsToUSD(tt.raw, DefaultAssetDecimals)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.String())
		})
	}
}

func TestNewPortfolioState_TotalValue(t *testing.T) {
	state := NewPortfolioState(100, []*Position{
		{Symbol: "AAPL", Shares: 2, MarketValue: 400},
		nil,
		{Symbol: "MSFT", Shares: 1, MarketValue: 500},
	})

	assert.Equal(t, 1000.0, state.TotalValue)
	assert.Len(t, state.Positions, 2)
	assert.Equal(t, 400.0, state.MarketValueOf("AAPL"))
	assert.Zero(t, state.MarketValueOf("NVDA"))
}

func TestTrigger_Forced(t *testing.T) {
	assert.True(t, TriggerManual.Forced())
	for _, tr := range []Trigger{TriggerDeposit, TriggerWithdrawal, TriggerDaily, TriggerWeekly, TriggerStartup} {
		assert.False(t, tr.Forced(), tr)
	}
}

func TestComposition_Weights(t *testing.T) {
	c := &Composition{Holdings: []*IndexHolding{
		{Symbol: "GOOGL", Weight: 2.4},
		{Symbol: "AAPL", Weight: 7.2},
	}}
	w := c.Weights()
	assert.Equal(t, 7.2, w["AAPL"])
	assert.Equal(t, 2.4, w["GOOGL"])
}

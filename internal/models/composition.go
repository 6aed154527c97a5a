package models

import "time"

// IndexHolding is one constituent of the target index. Weight is a percentage.
type IndexHolding struct {
	Symbol string  `json:"symbol"`
	Name   string  `json:"name"`
	Weight float64 `json:"weight"`
	Sector string  `json:"sector"`
}

// Composition is the target index with its per-symbol weights.
type Composition struct {
	TotalMarketValue float64         `json:"total_market_value"`
	Holdings         []*IndexHolding `json:"holdings"`
	LastUpdated      time.Time       `json:"last_updated"`
	Stale            bool            `json:"stale"`
}

// Weights returns symbol to weight percentage.
func (c *Composition) Weights() map[string]float64 {
	weights := make(map[string]float64, len(c.Holdings))
	for _, h := range c.Holdings {
		weights[h.Symbol] += h.Weight
	}
	return weights
}

// Quote sources
const (
	QuoteSourceLive        = "live"
	QuoteSourceStale       = "stale"
	QuoteSourceUnavailable = "unavailable"
)

// Quote is the latest price known for a symbol.
type Quote struct {
	Symbol        string    `json:"symbol"`
	Price         float64   `json:"price"`
	ChangePercent float64   `json:"change_percent"`
	Volume        int64     `json:"volume"`
	Source        string    `json:"source"`
	Timestamp     time.Time `json:"timestamp"`
}

// Usable reports whether the quote carries a real price.
func (q *Quote) Usable() bool {
	return q != nil && q.Source != QuoteSourceUnavailable && q.Price > 0
}

package models

import "time"

// BrokerAccount is the subset of brokerage account fields the engine reads.
type BrokerAccount struct {
	ID             string  `json:"id"`
	Status         string  `json:"status"`
	Currency       string  `json:"currency"`
	Cash           float64 `json:"cash"`
	PortfolioValue float64 `json:"portfolio_value"`
	BuyingPower    float64 `json:"buying_power"`
	TradingBlocked bool    `json:"trading_blocked"`
}

// BrokerPosition is a brokerage position as reported by the broker.
type BrokerPosition struct {
	Symbol        string  `json:"symbol"`
	Qty           float64 `json:"qty"`
	MarketValue   float64 `json:"market_value"`
	AvgEntryPrice float64 `json:"avg_entry_price"`
	CurrentPrice  float64 `json:"current_price"`
	UnrealizedPL  float64 `json:"unrealized_pl"`
}

// OrderRequest is a market order to place with the broker.
type OrderRequest struct {
	Symbol        string      `json:"symbol"`
	Qty           float64     `json:"qty"`
	Side          TradeAction `json:"side"`
	Type          string      `json:"type"`
	TimeInForce   string      `json:"time_in_force"`
	ClientOrderID string      `json:"client_order_id"`
}

// Order is a broker order.
type Order struct {
	ID            string    `json:"id"`
	ClientOrderID string    `json:"client_order_id"`
	Symbol        string    `json:"symbol"`
	Qty           float64   `json:"qty"`
	Side          string    `json:"side"`
	Type          string    `json:"type"`
	Status        string    `json:"status"`
	SubmittedAt   time.Time `json:"submitted_at"`
}

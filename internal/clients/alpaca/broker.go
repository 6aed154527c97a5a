package alpaca

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/shopspring/decimal"

	"github.com/bobmcallan/vaultsync/internal/interfaces"
	"github.com/bobmcallan/vaultsync/internal/models"
)

// Alpaca encodes all monetary and quantity fields as JSON strings.

type accountResponse struct {
	ID             string          `json:"id"`
	Status         string          `json:"status"`
	Currency       string          `json:"currency"`
	Cash           decimal.Decimal `json:"cash"`
	PortfolioValue decimal.Decimal `json:"portfolio_value"`
	BuyingPower    decimal.Decimal `json:"buying_power"`
	TradingBlocked bool            `json:"trading_blocked"`
}

type positionResponse struct {
	Symbol        string          `json:"symbol"`
	Qty           decimal.Decimal `json:"qty"`
	MarketValue   decimal.Decimal `json:"market_value"`
	AvgEntryPrice decimal.Decimal `json:"avg_entry_price"`
	CurrentPrice  decimal.Decimal `json:"current_price"`
	UnrealizedPL  decimal.Decimal `json:"unrealized_pl"`
}

type orderRequest struct {
	Symbol        string `json:"symbol"`
	Qty           string `json:"qty"`
	Side          string `json:"side"`
	Type          string `json:"type"`
	TimeInForce   string `json:"time_in_force"`
	ClientOrderID string `json:"client_order_id,omitempty"`
}

type orderResponse struct {
	ID            string          `json:"id"`
	ClientOrderID string          `json:"client_order_id"`
	Symbol        string          `json:"symbol"`
	Qty           decimal.Decimal `json:"qty"`
	Side          string          `json:"side"`
	Type          string          `json:"type"`
	Status        string          `json:"status"`
	SubmittedAt   time.Time       `json:"submitted_at"`
}

func (o *orderResponse) toModel() *models.Order {
	return &models.Order{
		ID:            o.ID,
		ClientOrderID: o.ClientOrderID,
		Symbol:        o.Symbol,
		Qty:           o.Qty.InexactFloat64(),
		Side:          o.Side,
		Type:          o.Type,
		Status:        o.Status,
		SubmittedAt:   o.SubmittedAt,
	}
}

// GetAccount retrieves account balances
func (c *Client) GetAccount(ctx context.Context) (*models.BrokerAccount, error) {
	var resp accountResponse
	if err := c.do(ctx, http.MethodGet, c.baseURL, "/v2/account", nil, nil, &resp); err != nil {
		return nil, err
	}

	return &models.BrokerAccount{
		ID:             resp.ID,
		Status:         resp.Status,
		Currency:       resp.Currency,
		Cash:           resp.Cash.InexactFloat64(),
		PortfolioValue: resp.PortfolioValue.InexactFloat64(),
		BuyingPower:    resp.BuyingPower.InexactFloat64(),
		TradingBlocked: resp.TradingBlocked,
	}, nil
}

// GetPositions retrieves all open positions
func (c *Client) GetPositions(ctx context.Context) ([]*models.BrokerPosition, error) {
	var resp []positionResponse
	if err := c.do(ctx, http.MethodGet, c.baseURL, "/v2/positions", nil, nil, &resp); err != nil {
		return nil, err
	}

	positions := make([]*models.BrokerPosition, len(resp))
	for i, p := range resp {
		positions[i] = &models.BrokerPosition{
			Symbol:        p.Symbol,
			Qty:           p.Qty.InexactFloat64(),
			MarketValue:   p.MarketValue.InexactFloat64(),
			AvgEntryPrice: p.AvgEntryPrice.InexactFloat64(),
			CurrentPrice:  p.CurrentPrice.InexactFloat64(),
			UnrealizedPL:  p.UnrealizedPL.InexactFloat64(),
		}
	}
	return positions, nil
}

// PlaceOrder submits an order
func (c *Client) PlaceOrder(ctx context.Context, req *models.OrderRequest) (*models.Order, error) {
	if req.Qty <= 0 {
		return nil, fmt.Errorf("order for %s has non-positive qty %v", req.Symbol, req.Qty)
	}

	body := orderRequest{
		Symbol:        req.Symbol,
		Qty:           decimal.NewFromFloat(req.Qty).String(),
		Side:          string(req.Side),
		Type:          req.Type,
		TimeInForce:   req.TimeInForce,
		ClientOrderID: req.ClientOrderID,
	}
	if body.Type == "" {
		body.Type = "market"
	}
	if body.TimeInForce == "" {
		body.TimeInForce = "day"
	}

	var resp orderResponse
	if err := c.do(ctx, http.MethodPost, c.baseURL, "/v2/orders", nil, body, &resp); err != nil {
		return nil, err
	}
	return resp.toModel(), nil
}

// CancelOrder cancels an open order
func (c *Client) CancelOrder(ctx context.Context, orderID string) error {
	return c.do(ctx, http.MethodDelete, c.baseURL, "/v2/orders/"+url.PathEscape(orderID), nil, nil, nil)
}

// ListOpenOrders returns orders with status open
func (c *Client) ListOpenOrders(ctx context.Context) ([]*models.Order, error) {
	var resp []orderResponse
	query := url.Values{"status": {"open"}, "limit": {"500"}}
	if err := c.do(ctx, http.MethodGet, c.baseURL, "/v2/orders", query, nil, &resp); err != nil {
		return nil, err
	}

	orders := make([]*models.Order, len(resp))
	for i := range resp {
		orders[i] = resp[i].toModel()
	}
	return orders, nil
}

// Compile-time check
var _ interfaces.Broker = (*Client)(nil)

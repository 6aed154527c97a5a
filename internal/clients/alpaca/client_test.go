package alpaca

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bobmcallan/vaultsync/internal/models"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient("key-id", "secret", WithBaseURL(srv.URL), WithDataURL(srv.URL), WithRateLimit(100))
}

func TestGetAccount_ParsesStringNumbers(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v2/account", r.URL.Path)
		assert.Equal(t, "key-id", r.Header.Get("APCA-API-KEY-ID"))
		assert.Equal(t, "secret", r.Header.Get("APCA-API-SECRET-KEY"))
		w.Write([]byte(`{"id":"acc-1","status":"ACTIVE","currency":"USD","cash":"1000.50","portfolio_value":"25000.25","buying_power":"2001","trading_blocked":false}`))
	})

	acct, err := client.GetAccount(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "acc-1", acct.ID)
	assert.Equal(t, 1000.50, acct.Cash)
	assert.Equal(t, 25000.25, acct.PortfolioValue)
}

func TestGetPositions(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v2/positions", r.URL.Path)
		w.Write([]byte(`[
			{"symbol":"AAPL","qty":"3","market_value":"600.00","avg_entry_price":"180.00","current_price":"200.00","unrealized_pl":"60"},
			{"symbol":"MSFT","qty":"1.5","market_value":"600.00","avg_entry_price":"390.00","current_price":"400.00","unrealized_pl":"15"}
		]`))
	})

	positions, err := client.GetPositions(context.Background())
	require.NoError(t, err)
	require.Len(t, positions, 2)
	assert.Equal(t, "MSFT", positions[1].Symbol)
	assert.Equal(t, 1.5, positions[1].Qty)
	assert.Equal(t, 600.0, positions[0].MarketValue)
}

func TestPlaceOrder_SendsMarketDayOrder(t *testing.T) {
	var got orderRequest
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v2/orders", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Write([]byte(`{"id":"ord-1","client_order_id":"cid-1","symbol":"AAPL","qty":"3","side":"buy","type":"market","status":"accepted"}`))
	})

	order, err := client.PlaceOrder(context.Background(), &models.OrderRequest{
		Symbol:        "AAPL",
		Qty:           3,
		Side:          models.ActionBuy,
		ClientOrderID: "cid-1",
	})
	require.NoError(t, err)
	assert.Equal(t, "ord-1", order.ID)
	assert.Equal(t, 3.0, order.Qty)

	assert.Equal(t, "AAPL", got.Symbol)
	assert.Equal(t, "3", got.Qty)
	assert.Equal(t, "buy", got.Side)
	assert.Equal(t, "market", got.Type)
	assert.Equal(t, "day", got.TimeInForce)
	assert.Equal(t, "cid-1", got.ClientOrderID)
}

func TestPlaceOrder_RejectsZeroQty(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("no request expected")
	})
	_, err := client.PlaceOrder(context.Background(), &models.OrderRequest{Symbol: "AAPL", Side: models.ActionSell})
	assert.Error(t, err)
}

func TestAPIError_UsesMessageEnvelope(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`{"code":40310000,"message":"insufficient buying power"}`))
	})

	_, err := client.PlaceOrder(context.Background(), &models.OrderRequest{Symbol: "AAPL", Qty: 1, Side: models.ActionBuy})
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusForbidden, apiErr.StatusCode)
	assert.Equal(t, "insufficient buying power", apiErr.Message)
	assert.Equal(t, "/v2/orders", apiErr.Endpoint)
}

func TestCancelOrderAndListOpen(t *testing.T) {
	var cancelled string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodDelete:
			cancelled = r.URL.Path
			w.WriteHeader(http.StatusNoContent)
		case http.MethodGet:
			assert.Equal(t, "open", r.URL.Query().Get("status"))
			w.Write([]byte(`[{"id":"o1","symbol":"AAPL","qty":"2","side":"buy","status":"new"}]`))
		}
	})

	orders, err := client.ListOpenOrders(context.Background())
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, "o1", orders[0].ID)

	require.NoError(t, client.CancelOrder(context.Background(), "o1"))
	assert.Equal(t, "/v2/orders/o1", cancelled)
}

func TestGetQuote_Snapshot(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v2/stocks/AAPL/snapshot", r.URL.Path)
		w.Write([]byte(`{"latestTrade":{"p":110,"t":"2026-03-02T15:00:00Z"},"dailyBar":{"c":110,"v":12345},"prevDailyBar":{"c":100}}`))
	})

	q, err := client.GetQuote(context.Background(), "AAPL")
	require.NoError(t, err)
	assert.Equal(t, 110.0, q.Price)
	assert.InDelta(t, 10.0, q.ChangePercent, 1e-9)
	assert.Equal(t, int64(12345), q.Volume)
	assert.Equal(t, models.QuoteSourceLive, q.Source)
}

func TestGetQuote_NoTrade(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	})
	_, err := client.GetQuote(context.Background(), "ZZZ")
	assert.Error(t, err)
}

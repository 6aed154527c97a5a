package alpaca

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/bobmcallan/vaultsync/internal/interfaces"
	"github.com/bobmcallan/vaultsync/internal/models"
)

type snapshotResponse struct {
	LatestTrade *struct {
		Price     float64   `json:"p"`
		Timestamp time.Time `json:"t"`
	} `json:"latestTrade"`
	DailyBar *struct {
		Close  float64 `json:"c"`
		Volume int64   `json:"v"`
	} `json:"dailyBar"`
	PrevDailyBar *struct {
		Close float64 `json:"c"`
	} `json:"prevDailyBar"`
}

// GetQuote returns the latest trade price with day change and volume
func (c *Client) GetQuote(ctx context.Context, symbol string) (*models.Quote, error) {
	var resp snapshotResponse
	path := "/v2/stocks/" + url.PathEscape(symbol) + "/snapshot"
	if err := c.do(ctx, http.MethodGet, c.dataURL, path, nil, nil, &resp); err != nil {
		return nil, err
	}
	if resp.LatestTrade == nil || resp.LatestTrade.Price <= 0 {
		return nil, fmt.Errorf("no latest trade for %s", symbol)
	}

	quote := &models.Quote{
		Symbol:    symbol,
		Price:     resp.LatestTrade.Price,
		Source:    models.QuoteSourceLive,
		Timestamp: resp.LatestTrade.Timestamp,
	}
	if resp.DailyBar != nil {
		quote.Volume = resp.DailyBar.Volume
	}
	if resp.PrevDailyBar != nil && resp.PrevDailyBar.Close > 0 {
		quote.ChangePercent = (quote.Price - resp.PrevDailyBar.Close) / resp.PrevDailyBar.Close * 100
	}
	return quote, nil
}

// Compile-time check
var _ interfaces.PriceSource = (*Client)(nil)

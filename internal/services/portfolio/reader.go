// Package portfolio reads the live brokerage portfolio state.
package portfolio

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bobmcallan/vaultsync/internal/common"
	"github.com/bobmcallan/vaultsync/internal/interfaces"
	"github.com/bobmcallan/vaultsync/internal/models"
)

// ErrStateUnavailable wraps any broker failure while reading the portfolio.
var ErrStateUnavailable = errors.New("portfolio state unavailable")

// Reader builds PortfolioState from the broker. State is never cached.
type Reader struct {
	broker  interfaces.Broker
	timeout time.Duration
	logger  *common.Logger
	now     func() time.Time
}

// NewReader creates a reader. Each broker call runs under timeout.
func NewReader(broker interfaces.Broker, timeout time.Duration, logger *common.Logger) *Reader {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Reader{broker: broker, timeout: timeout, logger: logger, now: time.Now}
}

// Read fetches cash and positions and derives the total value.
func (r *Reader) Read(ctx context.Context) (*models.PortfolioState, error) {
	acctCtx, cancel := context.WithTimeout(ctx, r.timeout)
	account, err := r.broker.GetAccount(acctCtx)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("%w: get account: %v", ErrStateUnavailable, err)
	}

	posCtx, cancel := context.WithTimeout(ctx, r.timeout)
	brokerPositions, err := r.broker.GetPositions(posCtx)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("%w: get positions: %v", ErrStateUnavailable, err)
	}

	positions := make([]*models.Position, 0, len(brokerPositions))
	for _, p := range brokerPositions {
		if p == nil || p.Qty == 0 {
			continue
		}
		positions = append(positions, &models.Position{
			Symbol:      p.Symbol,
			Shares:      p.Qty,
			MarketValue: p.MarketValue,
			EntryPrice:  p.AvgEntryPrice,
		})
	}

	state := models.NewPortfolioState(account.Cash, positions)
	state.ReadAt = r.now()

	r.logger.Debug().
		Str("cash", common.FormatUSD(state.Cash)).
		Int("positions", len(state.Positions)).
		Str("total_value", common.FormatUSD(state.TotalValue)).
		Msg("Portfolio state read")
	return state, nil
}

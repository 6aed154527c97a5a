// Package indexsource provides target index compositions from configuration or an HTTP feed
package indexsource

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bobmcallan/vaultsync/internal/common"
	"github.com/bobmcallan/vaultsync/internal/interfaces"
	"github.com/bobmcallan/vaultsync/internal/models"
)

// Static serves a fixed composition loaded from configuration.
type Static struct {
	holdings []*models.IndexHolding
	loadedAt time.Time
}

// NewStatic validates the configured rows and returns a static source.
func NewStatic(rows []common.IndexHoldingRow) (*Static, error) {
	if len(rows) == 0 {
		return nil, errors.New("static index has no holdings")
	}
	seen := make(map[string]bool, len(rows))
	holdings := make([]*models.IndexHolding, 0, len(rows))
	for _, r := range rows {
		symbol := strings.ToUpper(strings.TrimSpace(r.Symbol))
		if symbol == "" {
			return nil, errors.New("static index holding with empty symbol")
		}
		if r.Weight <= 0 {
			return nil, fmt.Errorf("static index holding %s has non-positive weight %v", symbol, r.Weight)
		}
		if seen[symbol] {
			return nil, fmt.Errorf("static index holding %s listed twice", symbol)
		}
		seen[symbol] = true
		holdings = append(holdings, &models.IndexHolding{
			Symbol: symbol,
			Name:   r.Name,
			Weight: r.Weight,
			Sector: r.Sector,
		})
	}
	return &Static{holdings: holdings, loadedAt: time.Now()}, nil
}

// FetchComposition returns a copy of the configured holdings.
func (s *Static) FetchComposition(ctx context.Context) (*models.Composition, error) {
	out := make([]*models.IndexHolding, len(s.holdings))
	for i, h := range s.holdings {
		cp := *h
		out[i] = &cp
	}
	return &models.Composition{
		Holdings:    out,
		LastUpdated: s.loadedAt,
	}, nil
}

// New picks the HTTP feed when a URL is configured, the static list otherwise.
func New(cfg *common.IndexConfig, timeout time.Duration, logger *common.Logger) (interfaces.CompositionSource, error) {
	if cfg.URL != "" {
		return NewHTTPSource(cfg.URL, WithTimeout(timeout), WithLogger(logger)), nil
	}
	static, err := NewStatic(cfg.Holdings)
	if err != nil {
		return nil, err
	}
	return static, nil
}

var _ interfaces.CompositionSource = (*Static)(nil)

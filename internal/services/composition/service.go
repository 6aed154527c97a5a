// Package composition provides the target index composition and price lookups
// with TTL caching and last-good fallback.
package composition

import (
	"context"
	"fmt"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/bobmcallan/vaultsync/internal/common"
	"github.com/bobmcallan/vaultsync/internal/interfaces"
	"github.com/bobmcallan/vaultsync/internal/models"
)

const (
	DefaultCompositionTTL = 5 * time.Minute
	DefaultQuoteTTL       = time.Minute

	compositionKey = "composition"
	quoteKeyPrefix = "quote:"
)

// Service serves the target composition and quotes.
// Fresh values live in a TTL cache; the last successful value of each key is
// kept without expiry so refresh failures degrade instead of failing.
type Service struct {
	source   interfaces.CompositionSource
	prices   interfaces.PriceSource
	fresh    *gocache.Cache
	lastGood *gocache.Cache
	quoteTTL time.Duration
	logger   *common.Logger

	refreshMu sync.Mutex
}

// Option configures the service
type Option func(*Service)

// WithQuoteTTL sets how long a live quote is reused
func WithQuoteTTL(ttl time.Duration) Option {
	return func(s *Service) {
		s.quoteTTL = ttl
	}
}

// NewService creates a composition service. A zero ttl uses DefaultCompositionTTL.
func NewService(source interfaces.CompositionSource, prices interfaces.PriceSource, ttl time.Duration, logger *common.Logger, opts ...Option) *Service {
	if ttl <= 0 {
		ttl = DefaultCompositionTTL
	}
	s := &Service{
		source:   source,
		prices:   prices,
		fresh:    gocache.New(ttl, 2*ttl),
		lastGood: gocache.New(gocache.NoExpiration, 0),
		quoteTTL: DefaultQuoteTTL,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// GetComposition returns the target composition. When a refresh fails the last
// good composition is returned flagged Stale; an error is returned only when
// nothing was ever loaded.
func (s *Service) GetComposition(ctx context.Context) (*models.Composition, error) {
	if v, ok := s.fresh.Get(compositionKey); ok {
		return copyComposition(v.(*models.Composition), false), nil
	}

	// one refresh at a time; later callers pick up the refreshed entry
	s.refreshMu.Lock()
	defer s.refreshMu.Unlock()
	if v, ok := s.fresh.Get(compositionKey); ok {
		return copyComposition(v.(*models.Composition), false), nil
	}

	comp, err := s.source.FetchComposition(ctx)
	if err == nil && (comp == nil || len(comp.Holdings) == 0) {
		err = fmt.Errorf("composition source returned no holdings")
	}
	if err != nil {
		if v, ok := s.lastGood.Get(compositionKey); ok {
			last := v.(*models.Composition)
			s.logger.Warn().Err(err).Time("last_updated", last.LastUpdated).Msg("Composition refresh failed, serving last good composition")
			return copyComposition(last, true), nil
		}
		return nil, fmt.Errorf("failed to load composition: %w", err)
	}

	s.fresh.SetDefault(compositionKey, comp)
	s.lastGood.Set(compositionKey, comp, gocache.NoExpiration)
	s.logger.Debug().Int("holdings", len(comp.Holdings)).Msg("Composition refreshed")
	return copyComposition(comp, false), nil
}

func copyComposition(c *models.Composition, stale bool) *models.Composition {
	out := *c
	out.Stale = stale
	out.Holdings = make([]*models.IndexHolding, len(c.Holdings))
	for i, h := range c.Holdings {
		cp := *h
		out.Holdings[i] = &cp
	}
	return &out
}

// GetPrices returns a quote for every requested symbol. Symbols whose live
// lookup fails get the last good quote with Source=stale, or Source=unavailable
// and a zero price when no quote was ever seen.
func (s *Service) GetPrices(ctx context.Context, symbols []string) map[string]*models.Quote {
	result := make(map[string]*models.Quote, len(symbols))
	var missing []string
	for _, symbol := range symbols {
		if _, seen := result[symbol]; seen {
			continue
		}
		if v, ok := s.fresh.Get(quoteKeyPrefix + symbol); ok {
			q := *v.(*models.Quote)
			result[symbol] = &q
			continue
		}
		result[symbol] = nil
		missing = append(missing, symbol)
	}

	fetched := make([]*models.Quote, len(missing))
	var wg sync.WaitGroup
	for i, symbol := range missing {
		wg.Add(1)
		go func(i int, symbol string) {
			defer wg.Done()
			fetched[i] = s.fetchQuote(ctx, symbol)
		}(i, symbol)
	}
	wg.Wait()

	for i, symbol := range missing {
		result[symbol] = fetched[i]
	}
	return result
}

func (s *Service) fetchQuote(ctx context.Context, symbol string) *models.Quote {
	key := quoteKeyPrefix + symbol
	q, err := s.prices.GetQuote(ctx, symbol)
	if err == nil && q != nil && q.Price > 0 {
		q.Symbol = symbol
		q.Source = models.QuoteSourceLive
		s.fresh.Set(key, q, s.quoteTTL)
		s.lastGood.Set(key, q, gocache.NoExpiration)
		out := *q
		return &out
	}
	if err == nil {
		err = fmt.Errorf("no usable price")
	}

	if v, ok := s.lastGood.Get(key); ok {
		stale := *v.(*models.Quote)
		stale.Source = models.QuoteSourceStale
		s.logger.Warn().Err(err).Str("symbol", symbol).Time("as_of", stale.Timestamp).Msg("Price lookup failed, using last good quote")
		return &stale
	}

	s.logger.Warn().Err(err).Str("symbol", symbol).Msg("Price unavailable")
	return &models.Quote{Symbol: symbol, Source: models.QuoteSourceUnavailable}
}

// Invalidate drops all fresh entries, forcing the next call to refresh.
func (s *Service) Invalidate() {
	s.fresh.Flush()
}

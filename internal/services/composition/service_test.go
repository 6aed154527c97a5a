package composition

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bobmcallan/vaultsync/internal/common"
	"github.com/bobmcallan/vaultsync/internal/models"
)

type mockSource struct {
	mu    sync.Mutex
	comp  *models.Composition
	err   error
	calls int
}

func (m *mockSource) FetchComposition(ctx context.Context) (*models.Composition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	return m.comp, nil
}

type mockPrices struct {
	mu     sync.Mutex
	prices map[string]float64
	fail   map[string]bool
	calls  map[string]int
}

func newMockPrices(prices map[string]float64) *mockPrices {
	return &mockPrices{prices: prices, fail: map[string]bool{}, calls: map[string]int{}}
}

func (m *mockPrices) GetQuote(ctx context.Context, symbol string) (*models.Quote, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls[symbol]++
	if m.fail[symbol] {
		return nil, errors.New("feed down")
	}
	p, ok := m.prices[symbol]
	if !ok {
		return nil, errors.New("unknown symbol")
	}
	return &models.Quote{Symbol: symbol, Price: p, Timestamp: time.Now()}, nil
}

func (m *mockPrices) setFail(symbol string) {
	m.mu.Lock()
	m.fail[symbol] = true
	m.mu.Unlock()
}

func testComposition() *models.Composition {
	return &models.Composition{Holdings: []*models.IndexHolding{
		{Symbol: "AAPL", Weight: 60},
		{Symbol: "MSFT", Weight: 40},
	}}
}

func TestGetComposition_CachesWithinTTL(t *testing.T) {
	src := &mockSource{comp: testComposition()}
	svc := NewService(src, newMockPrices(nil), time.Minute, common.NewSilentLogger())

	first, err := svc.GetComposition(context.Background())
	require.NoError(t, err)
	second, err := svc.GetComposition(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, src.calls)
	assert.False(t, second.Stale)
	assert.Len(t, first.Holdings, 2)
}

func TestGetComposition_FallsBackToLastGood(t *testing.T) {
	src := &mockSource{comp: testComposition()}
	svc := NewService(src, newMockPrices(nil), time.Minute, common.NewSilentLogger())

	_, err := svc.GetComposition(context.Background())
	require.NoError(t, err)

	svc.Invalidate()
	src.err = errors.New("upstream 500")

	comp, err := svc.GetComposition(context.Background())
	require.NoError(t, err)
	assert.True(t, comp.Stale)
	assert.Len(t, comp.Holdings, 2)
}

func TestGetComposition_ErrorWhenNeverLoaded(t *testing.T) {
	src := &mockSource{err: errors.New("upstream 500")}
	svc := NewService(src, newMockPrices(nil), time.Minute, common.NewSilentLogger())

	_, err := svc.GetComposition(context.Background())
	assert.Error(t, err)
}

func TestGetComposition_EmptyIsAnError(t *testing.T) {
	src := &mockSource{comp: &models.Composition{}}
	svc := NewService(src, newMockPrices(nil), time.Minute, common.NewSilentLogger())

	_, err := svc.GetComposition(context.Background())
	assert.Error(t, err)
}

func TestGetPrices_LiveStaleUnavailable(t *testing.T) {
	prices := newMockPrices(map[string]float64{"AAPL": 200, "MSFT": 400})
	svc := NewService(&mockSource{}, prices, time.Minute, common.NewSilentLogger(), WithQuoteTTL(time.Millisecond))

	quotes := svc.GetPrices(context.Background(), []string{"AAPL", "MSFT", "NVDA"})
	require.Len(t, quotes, 3)
	assert.Equal(t, models.QuoteSourceLive, quotes["AAPL"].Source)
	assert.Equal(t, 200.0, quotes["AAPL"].Price)
	assert.Equal(t, models.QuoteSourceUnavailable, quotes["NVDA"].Source)
	assert.Zero(t, quotes["NVDA"].Price)
	assert.False(t, quotes["NVDA"].Usable())

	time.Sleep(5 * time.Millisecond)
	prices.setFail("AAPL")

	quotes = svc.GetPrices(context.Background(), []string{"AAPL"})
	assert.Equal(t, models.QuoteSourceStale, quotes["AAPL"].Source)
	assert.Equal(t, 200.0, quotes["AAPL"].Price, "stale quote keeps the last real price")
	assert.True(t, quotes["AAPL"].Usable())
}

func TestGetPrices_UsesFreshCacheAndDedups(t *testing.T) {
	prices := newMockPrices(map[string]float64{"AAPL": 200})
	svc := NewService(&mockSource{}, prices, time.Minute, common.NewSilentLogger())

	svc.GetPrices(context.Background(), []string{"AAPL", "AAPL"})
	svc.GetPrices(context.Background(), []string{"AAPL"})

	assert.Equal(t, 1, prices.calls["AAPL"])
}

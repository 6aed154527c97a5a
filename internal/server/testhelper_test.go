package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bobmcallan/vaultsync/internal/app"
	"github.com/bobmcallan/vaultsync/internal/clients/indexsource"
	"github.com/bobmcallan/vaultsync/internal/common"
	"github.com/bobmcallan/vaultsync/internal/interfaces"
	"github.com/bobmcallan/vaultsync/internal/models"
	"github.com/bobmcallan/vaultsync/internal/storage/sqlite"
)

type mockBroker struct {
	mu        sync.Mutex
	cash      float64
	positions []*models.BrokerPosition
	orders    []*models.OrderRequest
	open      []*models.Order
	accErr    error
}

func (b *mockBroker) GetAccount(ctx context.Context) (*models.BrokerAccount, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.accErr != nil {
		return nil, b.accErr
	}
	return &models.BrokerAccount{ID: "acct-1", Status: "ACTIVE", Currency: "USD", Cash: b.cash}, nil
}

func (b *mockBroker) GetPositions(ctx context.Context) ([]*models.BrokerPosition, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.positions, nil
}

func (b *mockBroker) PlaceOrder(ctx context.Context, req *models.OrderRequest) (*models.Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.orders = append(b.orders, req)
	return &models.Order{ID: "ord-" + req.Symbol, Symbol: req.Symbol}, nil
}

func (b *mockBroker) CancelOrder(ctx context.Context, orderID string) error { return nil }

func (b *mockBroker) ListOpenOrders(ctx context.Context) ([]*models.Order, error) {
	return b.open, nil
}

func (b *mockBroker) orderCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.orders)
}

type mockPrices map[string]float64

func (p mockPrices) GetQuote(ctx context.Context, symbol string) (*models.Quote, error) {
	price, ok := p[symbol]
	if !ok {
		return nil, errors.New("no quote")
	}
	return &models.Quote{Symbol: symbol, Price: price, Source: models.QuoteSourceLive}, nil
}

type failingVaultSource struct{}

func (failingVaultSource) SubscribeVaultLogs(ctx context.Context, sink chan<- interfaces.VaultLog) (interfaces.Subscription, error) {
	return nil, errors.New("dial tcp: connection refused")
}

func (failingVaultSource) BlockTimestamp(ctx context.Context, block uint64) (int64, error) {
	return 0, errors.New("unavailable")
}

func newTestApp(t *testing.T, broker *mockBroker, mutate func(*common.Config)) *app.App {
	t.Helper()
	return newTestAppWithSource(t, broker, nil, mutate)
}

func newTestAppWithSource(t *testing.T, broker *mockBroker, vault interfaces.VaultEventSource, mutate func(*common.Config)) *app.App {
	t.Helper()
	logger := common.NewSilentLogger()

	cfg := common.NewDefaultConfig()
	cfg.Rebalance.OrderPacing = "0s"
	cfg.Rebalance.Schedule = false
	if mutate != nil {
		mutate(cfg)
	}

	store, err := sqlite.Open(context.Background(), sqlite.MemoryPath, logger)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	source, err := indexsource.NewStatic([]common.IndexHoldingRow{
		{Symbol: "AAPL", Name: "Apple Inc.", Weight: 60},
		{Symbol: "MSFT", Name: "Microsoft Corp.", Weight: 40},
	})
	if err != nil {
		t.Fatalf("static source: %v", err)
	}

	a := app.Assemble(cfg, logger, app.Deps{
		Store:             store,
		Broker:            broker,
		Prices:            mockPrices{"AAPL": 200, "MSFT": 100},
		CompositionSource: source,
		VaultSource:       vault,
	})
	t.Cleanup(a.Close)
	return a
}

func newTestServer(t *testing.T, a *app.App) *Server {
	t.Helper()
	return NewServer(a)
}

func doRequest(s *Server, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)
	return rr
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode body %q: %v", rr.Body.String(), err)
	}
	return out
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

package server

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/bobmcallan/vaultsync/internal/common"
	"github.com/bobmcallan/vaultsync/internal/models"
)

func TestHandleHealth_OK(t *testing.T) {
	s := newTestServer(t, newTestApp(t, &mockBroker{cash: 100}, nil))

	rr := doRequest(s, http.MethodGet, "/health", "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	body := decodeBody(t, rr)
	if body["database"] != true || body["broker"] != true {
		t.Errorf("expected database and broker healthy, got %v", body)
	}
	chain, _ := body["chain"].(map[string]interface{})
	if chain["enabled"] != false {
		t.Errorf("expected chain disabled without RPC, got %v", chain)
	}
}

func TestHandleHealth_BrokerDownStillServes(t *testing.T) {
	s := newTestServer(t, newTestApp(t, &mockBroker{accErr: errors.New("503 from broker")}, nil))

	rr := doRequest(s, http.MethodGet, "/health", "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if body := decodeBody(t, rr); body["broker"] != false {
		t.Errorf("expected broker=false, got %v", body["broker"])
	}
}

func TestHandleHealth_ListenerFatal(t *testing.T) {
	a := newTestAppWithSource(t, &mockBroker{}, failingVaultSource{}, func(c *common.Config) {
		c.Chain.MaxReconnectAttempts = 1
	})
	if err := a.Listener.Start(context.Background()); err != nil {
		t.Fatalf("start listener: %v", err)
	}
	waitFor(t, func() bool { return a.Listener.Health().Fatal })

	s := newTestServer(t, a)
	rr := doRequest(s, http.MethodGet, "/health", "", nil)
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
	chain, _ := decodeBody(t, rr)["chain"].(map[string]interface{})
	if chain["fatal"] != true {
		t.Errorf("expected chain.fatal=true, got %v", chain)
	}
}

func TestHandleVersion(t *testing.T) {
	s := newTestServer(t, newTestApp(t, &mockBroker{}, nil))

	rr := doRequest(s, http.MethodGet, "/version", "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if _, ok := decodeBody(t, rr)["version"]; !ok {
		t.Error("expected version field")
	}

	rr = doRequest(s, http.MethodPost, "/version", "", nil)
	if rr.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected 405, got %d", rr.Code)
	}
}

func TestHandleRebalance_ReportOnly(t *testing.T) {
	broker := &mockBroker{cash: 1000}
	s := newTestServer(t, newTestApp(t, broker, nil))

	rr := doRequest(s, http.MethodPost, "/rebalance", "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	report, _ := decodeBody(t, rr)["report"].(map[string]interface{})
	trades, _ := report["suggested_trades"].([]interface{})
	if len(trades) != 2 {
		t.Errorf("expected 2 suggested trades, got %d", len(trades))
	}
	if n := broker.orderCount(); n != 0 {
		t.Errorf("report must not place orders, got %d", n)
	}
}

func TestHandleRebalance_Force(t *testing.T) {
	broker := &mockBroker{cash: 1000}
	s := newTestServer(t, newTestApp(t, broker, nil))

	rr := doRequest(s, http.MethodPost, "/rebalance", `{"force":true}`, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	result, _ := decodeBody(t, rr)["result"].(map[string]interface{})
	if result["executed"] != true || result["trigger"] != string(models.TriggerManual) {
		t.Errorf("unexpected result: %v", result)
	}
	if n := broker.orderCount(); n != 2 {
		t.Errorf("expected 2 orders, got %d", n)
	}
}

func TestHandleRebalance_ForceSurvivesClientDisconnect(t *testing.T) {
	broker := &mockBroker{cash: 1000}
	s := newTestServer(t, newTestApp(t, broker, nil))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodPost, "/rebalance", strings.NewReader(`{"force":true}`)).WithContext(ctx)
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if n := broker.orderCount(); n != 2 {
		t.Errorf("expected 2 orders despite the closed request, got %d", n)
	}
}

func TestEmergencyStopAndResume(t *testing.T) {
	broker := &mockBroker{cash: 1000, open: []*models.Order{{ID: "o1", Symbol: "AAPL"}}}
	s := newTestServer(t, newTestApp(t, broker, nil))

	rr := doRequest(s, http.MethodPost, "/emergency-stop", "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	result, _ := decodeBody(t, rr)["result"].(map[string]interface{})
	if result["halted"] != true {
		t.Errorf("expected halted result, got %v", result)
	}

	rr = doRequest(s, http.MethodPost, "/rebalance", `{"force":true}`, nil)
	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409 while halted, got %d", rr.Code)
	}
	if code := decodeBody(t, rr)["code"]; code != "halted" {
		t.Errorf("expected code=halted, got %v", code)
	}

	rr = doRequest(s, http.MethodGet, "/portfolio/status", "", nil)
	if data, _ := decodeBody(t, rr)["data"].(map[string]interface{}); data["halted"] != true {
		t.Errorf("expected status to report halted, got %v", data)
	}

	if rr = doRequest(s, http.MethodPost, "/resume", "", nil); rr.Code != http.StatusOK {
		t.Fatalf("resume: expected 200, got %d", rr.Code)
	}
	if rr = doRequest(s, http.MethodPost, "/rebalance", `{"force":true}`, nil); rr.Code != http.StatusOK {
		t.Fatalf("expected 200 after resume, got %d", rr.Code)
	}
}

func TestHandlePortfolioStatus(t *testing.T) {
	broker := &mockBroker{
		cash: 100,
		positions: []*models.BrokerPosition{
			{Symbol: "MSFT", Qty: 4, MarketValue: 400, CurrentPrice: 100},
			{Symbol: "AAPL", Qty: 3, MarketValue: 600, CurrentPrice: 200},
		},
	}
	s := newTestServer(t, newTestApp(t, broker, nil))

	rr := doRequest(s, http.MethodGet, "/portfolio/status", "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	data, _ := decodeBody(t, rr)["data"].(map[string]interface{})
	if data["total_value"] != 1100.0 {
		t.Errorf("expected total_value 1100, got %v", data["total_value"])
	}
	positions, _ := data["positions"].([]interface{})
	if len(positions) != 2 {
		t.Fatalf("expected 2 positions, got %d", len(positions))
	}
	first, _ := positions[0].(map[string]interface{})
	if first["symbol"] != "AAPL" {
		t.Errorf("expected positions sorted by symbol, got %v first", first["symbol"])
	}
}

func TestBrokerEndpoints(t *testing.T) {
	s := newTestServer(t, newTestApp(t, &mockBroker{cash: 42}, nil))

	rr := doRequest(s, http.MethodGet, "/broker/account", "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("account: expected 200, got %d", rr.Code)
	}
	if data, _ := decodeBody(t, rr)["data"].(map[string]interface{}); data["cash"] != 42.0 {
		t.Errorf("expected cash 42, got %v", data)
	}

	rr = doRequest(s, http.MethodGet, "/broker/positions", "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("positions: expected 200, got %d", rr.Code)
	}
	if data, ok := decodeBody(t, rr)["data"].([]interface{}); !ok || len(data) != 0 {
		t.Errorf("expected empty positions array, got %v", data)
	}
}

func TestBrokerAccount_Unavailable(t *testing.T) {
	s := newTestServer(t, newTestApp(t, &mockBroker{accErr: errors.New("down")}, nil))

	rr := doRequest(s, http.MethodGet, "/broker/account", "", nil)
	if rr.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", rr.Code)
	}
}

func TestHandleComposition(t *testing.T) {
	s := newTestServer(t, newTestApp(t, &mockBroker{}, nil))

	rr := doRequest(s, http.MethodGet, "/composition", "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	data, _ := decodeBody(t, rr)["data"].(map[string]interface{})
	holdings, _ := data["holdings"].([]interface{})
	if len(holdings) != 2 {
		t.Errorf("expected 2 holdings, got %d", len(holdings))
	}
}

func TestHandleShutdown_ProductionForbidden(t *testing.T) {
	a := newTestApp(t, &mockBroker{}, func(c *common.Config) { c.Environment = "production" })
	s := newTestServer(t, a)

	rr := doRequest(s, http.MethodPost, "/shutdown", "", nil)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rr.Code)
	}
}

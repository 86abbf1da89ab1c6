package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	appconfig "liqflow/config"
	"liqflow/internal/models"
	"liqflow/internal/store"
)

type fakeRollups struct {
	rollups []models.SymbolRollup
	ok      bool
}

func (f *fakeRollups) LatestRollup() ([]models.SymbolRollup, bool) {
	out := make([]models.SymbolRollup, len(f.rollups))
	copy(out, f.rollups)
	return out, f.ok
}

func newTestServer(t *testing.T, windowStore *store.WindowStore, rollups RollupProvider) http.Handler {
	t.Helper()
	cfg := &appconfig.Config{}
	cfg.API.TopN = 12
	srv := NewServer(cfg, windowStore, rollups)
	return srv.buildRouter()
}

func testEvent(symbol, side string, qty, price float64) models.LiquidationEvent {
	return models.LiquidationEvent{
		Symbol:    symbol,
		Side:      side,
		OrderType: "LIMIT",
		Quantity:  qty,
		Price:     price,
		UsdtValue: qty * price,
		Timestamp: time.Unix(1700000000, 0).UTC(),
	}
}

func TestLiquidationsEmptyWindowReturns404(t *testing.T) {
	router := newTestServer(t, store.NewWindowStore(), &fakeRollups{})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/liquidations", nil))

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["success"] != false || body["message"] != "No liquidation data available yet" {
		t.Fatalf("unexpected body: %v", body)
	}
}

func TestLiquidationsConsolidatesAndStripsPrice(t *testing.T) {
	windowStore := store.NewWindowStore()
	windowStore.Ingest(testEvent("BTCUSDT", models.SideSell, 1, 50000))
	windowStore.Ingest(testEvent("BTCUSDT", models.SideSell, 2, 51000))
	windowStore.Ingest(testEvent("ETHUSDT", models.SideBuy, 1, 3000))
	router := newTestServer(t, windowStore, &fakeRollups{})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/liquidations", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var entries []map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &entries); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 consolidated entries, got %d", len(entries))
	}
	if entries[0]["symbol"] != "BTCUSDT" {
		t.Fatalf("expected BTCUSDT first by usdt value, got %v", entries[0]["symbol"])
	}
	if entries[0]["quantity"].(float64) != 3 {
		t.Fatalf("expected consolidated quantity 3, got %v", entries[0]["quantity"])
	}
	if _, present := entries[0]["price"]; present {
		t.Fatal("price must not appear in consolidated output")
	}
}

func TestLiquidationsHonorsTopN(t *testing.T) {
	windowStore := store.NewWindowStore()
	symbols := []string{"AUSDT", "BUSDT", "CUSDT"}
	for i, sym := range symbols {
		windowStore.Ingest(testEvent(sym, models.SideSell, 1, float64(1000*(i+1))))
	}

	cfg := &appconfig.Config{}
	cfg.API.TopN = 2
	srv := NewServer(cfg, windowStore, &fakeRollups{})

	rec := httptest.NewRecorder()
	srv.buildRouter().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/liquidations", nil))

	var entries []map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &entries); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0]["symbol"] != "CUSDT" || entries[1]["symbol"] != "BUSDT" {
		t.Fatalf("unexpected ordering: %v", entries)
	}
}

func TestWindowReturnsReceiptOrder(t *testing.T) {
	windowStore := store.NewWindowStore()
	windowStore.Ingest(testEvent("ETHUSDT", models.SideBuy, 1, 3000))
	windowStore.Ingest(testEvent("BTCUSDT", models.SideSell, 1, 50000))
	router := newTestServer(t, windowStore, &fakeRollups{})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/liquidations/window", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var events []models.LiquidationEvent
	if err := json.Unmarshal(rec.Body.Bytes(), &events); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if len(events) != 2 || events[0].Symbol != "ETHUSDT" {
		t.Fatalf("expected receipt order, got %+v", events)
	}
}

func TestWindowEmptyReturnsArray(t *testing.T) {
	router := newTestServer(t, store.NewWindowStore(), &fakeRollups{})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/liquidations/window", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if got := rec.Body.String(); got != "[]" {
		t.Fatalf("expected empty array, got %s", got)
	}
}

func TestRollupBeforeFirstTickReturns404(t *testing.T) {
	router := newTestServer(t, store.NewWindowStore(), &fakeRollups{ok: false})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/liquidations/rollup", nil))

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestRollupSortOverride(t *testing.T) {
	rollups := &fakeRollups{
		ok: true,
		rollups: []models.SymbolRollup{
			{Symbol: "BTCUSDT", TotalUsdtValue: 50000, Count: 1},
			{Symbol: "ETHUSDT", TotalUsdtValue: 9000, Count: 3},
		},
	}
	router := newTestServer(t, store.NewWindowStore(), rollups)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/liquidations/rollup?sort_by=count&order=desc", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var decoded []models.SymbolRollup
	if err := json.Unmarshal(rec.Body.Bytes(), &decoded); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if decoded[0].Symbol != "ETHUSDT" {
		t.Fatalf("expected ETHUSDT first by count, got %s", decoded[0].Symbol)
	}

	// Default order from the provider must be untouched.
	if rollups.rollups[0].Symbol != "BTCUSDT" {
		t.Fatal("sort override leaked into cached rollup")
	}
}

func TestHealthz(t *testing.T) {
	windowStore := store.NewWindowStore()
	windowStore.Ingest(testEvent("BTCUSDT", models.SideSell, 1, 50000))
	router := newTestServer(t, windowStore, &fakeRollups{})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["status"] != "ok" || body["events"].(float64) != 1 {
		t.Fatalf("unexpected body: %v", body)
	}
}

func TestRateLimitMiddleware(t *testing.T) {
	cfg := &appconfig.Config{}
	cfg.API.TopN = 12
	cfg.API.RequestsPerSecond = 1
	cfg.API.Burst = 1
	srv := NewServer(cfg, store.NewWindowStore(), &fakeRollups{})
	router := srv.buildRouter()

	first := httptest.NewRecorder()
	router.ServeHTTP(first, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if first.Code != http.StatusOK {
		t.Fatalf("first request should pass, got %d", first.Code)
	}

	second := httptest.NewRecorder()
	router.ServeHTTP(second, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if second.Code != http.StatusTooManyRequests {
		t.Fatalf("second request should be limited, got %d", second.Code)
	}
}

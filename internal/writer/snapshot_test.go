package writer

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"liqflow/internal/models"
)

func newTestWriter(t *testing.T) *SnapshotWriter {
	t.Helper()
	dir := t.TempDir()
	w, err := NewSnapshotWriter(filepath.Join(dir, "liquidations.json"), filepath.Join(dir, "recent_liquidations.json"), nil)
	if err != nil {
		t.Fatalf("new snapshot writer: %v", err)
	}
	return w
}

func sampleEvent(symbol string, usdt float64) models.LiquidationEvent {
	return models.LiquidationEvent{
		Symbol:    symbol,
		Side:      models.SideSell,
		OrderType: "LIMIT",
		Quantity:  1,
		Price:     usdt,
		UsdtValue: usdt,
		Timestamp: time.Unix(1700000000, 0).UTC(),
	}
}

func TestWriteWindowRoundTrip(t *testing.T) {
	w := newTestWriter(t)
	events := []models.LiquidationEvent{
		sampleEvent("BTCUSDT", 50000),
		sampleEvent("ETHUSDT", 3000),
	}

	w.WriteWindow(events)

	loaded, err := w.LoadWindow()
	if err != nil {
		t.Fatalf("load window: %v", err)
	}
	if len(loaded) != 2 {
		t.Fatalf("expected 2 events, got %d", len(loaded))
	}
	if loaded[0].Symbol != "BTCUSDT" || loaded[1].Symbol != "ETHUSDT" {
		t.Fatalf("unexpected symbols: %+v", loaded)
	}
	if !loaded[0].Timestamp.Equal(events[0].Timestamp) {
		t.Fatalf("timestamp mismatch: %v vs %v", loaded[0].Timestamp, events[0].Timestamp)
	}
}

func TestWriteWindowNilBecomesEmptyArray(t *testing.T) {
	w := newTestWriter(t)
	w.WriteWindow(nil)

	data, err := os.ReadFile(w.windowPath)
	if err != nil {
		t.Fatalf("read window file: %v", err)
	}
	var decoded []models.LiquidationEvent
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("expected a JSON array, got %s", data)
	}
	if len(decoded) != 0 {
		t.Fatalf("expected empty array, got %d entries", len(decoded))
	}
}

func TestLoadWindowMissingFile(t *testing.T) {
	w := newTestWriter(t)
	events, err := w.LoadWindow()
	if err != nil {
		t.Fatalf("missing file should not error: %v", err)
	}
	if events != nil {
		t.Fatalf("expected nil events, got %v", events)
	}
}

func TestLoadWindowSkipsCorruptRecords(t *testing.T) {
	w := newTestWriter(t)
	content := `[
		{"symbol":"BTCUSDT","side":"SELL","type":"LIMIT","quantity":1,"price":50000,"usdtValue":50000,"timestamp":"2023-11-14T22:13:20Z"},
		{"symbol":"ETHUSDT","quantity":"not-a-number"},
		{"symbol":"SOLUSDT","side":"BUY","type":"LIMIT","quantity":2,"price":100,"usdtValue":200,"timestamp":"2023-11-14T22:13:21Z"}
	]`
	if err := os.WriteFile(w.windowPath, []byte(content), 0o644); err != nil {
		t.Fatalf("seed window file: %v", err)
	}

	events, err := w.LoadWindow()
	if err != nil {
		t.Fatalf("load window: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 valid events, got %d", len(events))
	}
	if events[0].Symbol != "BTCUSDT" || events[1].Symbol != "SOLUSDT" {
		t.Fatalf("unexpected events: %+v", events)
	}
}

func TestLoadWindowCorruptFile(t *testing.T) {
	w := newTestWriter(t)
	if err := os.WriteFile(w.windowPath, []byte(`{not json`), 0o644); err != nil {
		t.Fatalf("seed window file: %v", err)
	}
	if _, err := w.LoadWindow(); err == nil {
		t.Fatal("expected error for corrupt file")
	}
}

func TestWriteRollupReplacesFile(t *testing.T) {
	w := newTestWriter(t)

	first := []models.SymbolRollup{{Symbol: "BTCUSDT", TotalQuantity: 1, TotalUsdtValue: 50000, AvgPrice: 50000, Count: 1, Sides: map[string]float64{models.SideSell: 50000}}}
	w.WriteRollup(first)

	second := []models.SymbolRollup{{Symbol: "ETHUSDT", TotalQuantity: 2, TotalUsdtValue: 6000, AvgPrice: 3000, Count: 2, Sides: map[string]float64{models.SideBuy: 6000}}}
	w.WriteRollup(second)

	data, err := os.ReadFile(w.rollupPath)
	if err != nil {
		t.Fatalf("read rollup file: %v", err)
	}
	var decoded []models.SymbolRollup
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("decode rollup file: %v", err)
	}
	if len(decoded) != 1 || decoded[0].Symbol != "ETHUSDT" {
		t.Fatalf("expected full replace with ETHUSDT, got %+v", decoded)
	}
}

func TestWriteWindowLeavesNoTempFiles(t *testing.T) {
	w := newTestWriter(t)
	w.WriteWindow([]models.LiquidationEvent{sampleEvent("BTCUSDT", 50000)})

	entries, err := os.ReadDir(filepath.Dir(w.windowPath))
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	for _, entry := range entries {
		if entry.Name() != filepath.Base(w.windowPath) && entry.Name() != filepath.Base(w.rollupPath) {
			t.Fatalf("unexpected leftover file %s", entry.Name())
		}
	}
}

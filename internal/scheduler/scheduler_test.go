package scheduler

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	appconfig "liqflow/config"
	"liqflow/internal/models"
	"liqflow/internal/store"
	"liqflow/internal/writer"
)

func newTestScheduler(t *testing.T, cfg *appconfig.Config) (*Scheduler, *store.WindowStore, string, string) {
	t.Helper()
	dir := t.TempDir()
	windowPath := filepath.Join(dir, "liquidations.json")
	rollupPath := filepath.Join(dir, "recent_liquidations.json")

	w, err := writer.NewSnapshotWriter(windowPath, rollupPath, nil)
	if err != nil {
		t.Fatalf("new snapshot writer: %v", err)
	}
	windowStore := store.NewWindowStore()
	return NewScheduler(cfg, windowStore, w), windowStore, windowPath, rollupPath
}

func liqEvent(symbol, side string, usdt float64, ts time.Time) models.LiquidationEvent {
	return models.LiquidationEvent{
		Symbol:    symbol,
		Side:      side,
		OrderType: "LIMIT",
		Quantity:  1,
		Price:     usdt,
		UsdtValue: usdt,
		Timestamp: ts,
	}
}

func TestEvictTickPersistsOnlyWhenRemoved(t *testing.T) {
	cfg := &appconfig.Config{}
	cfg.Window.Retention = 5 * time.Minute
	sched, windowStore, windowPath, _ := newTestScheduler(t, cfg)

	now := time.Now().UTC()
	windowStore.Ingest(liqEvent("BTCUSDT", models.SideSell, 50000, now))

	// Nothing old enough to evict, no file should be written.
	sched.evictTick(now)
	time.Sleep(100 * time.Millisecond)
	if _, err := os.Stat(windowPath); !os.IsNotExist(err) {
		t.Fatal("window file should not exist when nothing was evicted")
	}

	windowStore.Ingest(liqEvent("ETHUSDT", models.SideBuy, 3000, now.Add(-10*time.Minute)))
	sched.evictTick(now)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := os.Stat(windowPath); err == nil {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if _, err := os.Stat(windowPath); err != nil {
		t.Fatalf("window file should exist after eviction: %v", err)
	}
	if got := windowStore.Len(); got != 1 {
		t.Fatalf("expected 1 event after eviction, got %d", got)
	}
}

func TestAggregateTickUpdatesLatestRollup(t *testing.T) {
	cfg := &appconfig.Config{}
	sched, windowStore, _, rollupPath := newTestScheduler(t, cfg)
	sched.ctx = context.Background()

	if _, ok := sched.LatestRollup(); ok {
		t.Fatal("rollup should be unavailable before first tick")
	}

	now := time.Now().UTC()
	windowStore.Ingest(liqEvent("BTCUSDT", models.SideSell, 50000, now))
	windowStore.Ingest(liqEvent("ETHUSDT", models.SideBuy, 80000, now))

	sched.aggregateTick()

	rollups, ok := sched.LatestRollup()
	if !ok {
		t.Fatal("rollup should be available after tick")
	}
	if len(rollups) != 2 {
		t.Fatalf("expected 2 rollups, got %d", len(rollups))
	}
	if rollups[0].Symbol != "ETHUSDT" {
		t.Fatalf("expected ETHUSDT first by usdt value, got %s", rollups[0].Symbol)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := os.Stat(rollupPath); err == nil {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if _, err := os.Stat(rollupPath); err != nil {
		t.Fatalf("rollup file should exist after tick: %v", err)
	}
}

func TestLatestRollupReturnsCopy(t *testing.T) {
	cfg := &appconfig.Config{}
	sched, windowStore, _, _ := newTestScheduler(t, cfg)
	sched.ctx = context.Background()

	windowStore.Ingest(liqEvent("BTCUSDT", models.SideSell, 50000, time.Now().UTC()))
	sched.aggregateTick()

	first, _ := sched.LatestRollup()
	first[0].Symbol = "MUTATED"

	second, _ := sched.LatestRollup()
	if second[0].Symbol != "BTCUSDT" {
		t.Fatalf("mutation leaked into scheduler state: %s", second[0].Symbol)
	}
}

func TestSchedulerLifecycle(t *testing.T) {
	cfg := &appconfig.Config{}
	cfg.Window.Retention = 5 * time.Minute
	cfg.Window.EvictInterval = 20 * time.Millisecond
	cfg.Window.AggregateInterval = 10 * time.Millisecond
	sched, windowStore, _, _ := newTestScheduler(t, cfg)

	windowStore.Ingest(liqEvent("BTCUSDT", models.SideSell, 50000, time.Now().UTC()))

	ctx, cancel := context.WithCancel(context.Background())
	if err := sched.Start(ctx); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if err := sched.Start(ctx); err == nil {
		t.Fatal("expected error on double start")
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, ok := sched.LatestRollup(); ok {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if _, ok := sched.LatestRollup(); !ok {
		t.Fatal("expected a rollup after the aggregation tick fired")
	}

	cancel()
	sched.Stop()
}

package reader

import (
	"context"
	"testing"
	"time"

	appconfig "liqflow/config"
	"liqflow/internal/channel"
)

func TestReconnectDelayBounds(t *testing.T) {
	base := time.Second
	max := 30 * time.Second

	for retry := 0; retry <= 10; retry++ {
		delay := ReconnectDelay(retry, base, max)
		if delay > max {
			t.Fatalf("retry %d: delay %s exceeds cap %s", retry, delay, max)
		}
		want := base << uint(retry)
		if want > max {
			want = max
		}
		if delay != want {
			t.Fatalf("retry %d: expected %s, got %s", retry, want, delay)
		}
	}
}

func TestReconnectDelaySchedule(t *testing.T) {
	base := time.Second
	max := 30 * time.Second

	cases := map[int]time.Duration{
		0: time.Second,
		1: 2 * time.Second,
		2: 4 * time.Second,
		3: 8 * time.Second,
		4: 16 * time.Second,
		5: 30 * time.Second,
		9: 30 * time.Second,
	}
	for retry, want := range cases {
		if got := ReconnectDelay(retry, base, max); got != want {
			t.Fatalf("retry %d: expected %s, got %s", retry, want, got)
		}
	}
}

func TestReconnectDelayDefaultsAndNegativeRetry(t *testing.T) {
	if got := ReconnectDelay(-1, time.Second, 30*time.Second); got != time.Second {
		t.Fatalf("negative retry should behave like zero, got %s", got)
	}
	if got := ReconnectDelay(0, 0, 0); got != time.Second {
		t.Fatalf("expected default base delay, got %s", got)
	}
	// Large retry counts must not overflow past the cap.
	if got := ReconnectDelay(63, time.Second, 30*time.Second); got != 30*time.Second {
		t.Fatalf("expected capped delay, got %s", got)
	}
}

func TestConnStateString(t *testing.T) {
	if StateDisconnected.String() != "disconnected" ||
		StateConnecting.String() != "connecting" ||
		StateConnected.String() != "connected" {
		t.Fatal("unexpected state names")
	}
}

func TestBinanceReaderRequiresEnabledSource(t *testing.T) {
	cfg := &appconfig.Config{}
	ch := channel.NewChannels(1)
	defer ch.Close()

	r := Binance_LIQ_NewReader(cfg, ch)
	if err := r.Binance_LIQ_Start(context.Background()); err == nil {
		t.Fatal("expected error when source is disabled")
	}
}

func TestBinanceReaderRejectsDoubleStart(t *testing.T) {
	cfg := &appconfig.Config{}
	cfg.Source.Binance.Liquidation.Enabled = true
	cfg.Source.Binance.Liquidation.URL = "ws://127.0.0.1:1/stream"
	cfg.Reader.Retry.BaseDelay = time.Millisecond
	cfg.Reader.Retry.MaxDelay = time.Millisecond

	ch := channel.NewChannels(1)
	defer ch.Close()

	ctx, cancel := context.WithCancel(context.Background())
	r := Binance_LIQ_NewReader(cfg, ch)
	if err := r.Binance_LIQ_Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := r.Binance_LIQ_Start(ctx); err == nil {
		t.Fatal("expected error on second start")
	}
	cancel()
	r.Binance_LIQ_Stop()

	if r.State() != StateDisconnected {
		t.Fatalf("expected disconnected after stop, got %s", r.State())
	}
}

func TestBybitReaderRequiresSymbols(t *testing.T) {
	cfg := &appconfig.Config{}
	cfg.Source.Bybit.Liquidation.Enabled = true
	ch := channel.NewChannels(1)
	defer ch.Close()

	r := Bybit_LIQ_NewReader(cfg, ch)
	if err := r.Bybit_LIQ_Start(context.Background()); err == nil {
		t.Fatal("expected error when no symbols are configured")
	}
}

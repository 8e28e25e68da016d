package app

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"trade-core/internal/regime"
)

func TestJSONLSource_SkipsBadLines(t *testing.T) {
	input := strings.Join([]string{
		`{"symbol":"AAPL","side":"BUY","price":187.5,"size":10}`,
		``,
		`{not json}`,
		`{"symbol":"MSFT","side":"SELL","price":410.2,"algo":"twap"}`,
	}, "\n")

	src := NewJSONLSource(strings.NewReader(input), nil)

	first, err := src.Next(context.Background())
	if err != nil {
		t.Fatalf("Next failed: %v", err)
	}
	if first.Symbol != "AAPL" || first.Side != "BUY" {
		t.Errorf("unexpected first signal %+v", first)
	}
	if first.Price == nil || *first.Price != 187.5 {
		t.Errorf("expected price 187.5, got %v", first.Price)
	}

	second, err := src.Next(context.Background())
	if err != nil {
		t.Fatalf("Next failed: %v", err)
	}
	if second.Symbol != "MSFT" || second.Algo != "twap" {
		t.Errorf("bad line should be skipped, got %+v", second)
	}

	if _, err := src.Next(context.Background()); !errors.Is(err, io.EOF) {
		t.Errorf("expected io.EOF at end of stream, got %v", err)
	}
}

func TestJSONLSource_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	src := NewJSONLSource(strings.NewReader(`{"symbol":"AAPL","side":"BUY"}`), nil)
	if _, err := src.Next(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestRegimeTracker_WindowAndFallback(t *testing.T) {
	tracker := newRegimeTracker()

	if got := tracker.Current(); got != regime.Transition {
		t.Errorf("empty tracker should report transition, got %v", got)
	}

	for i := 0; i < regimeWindow+100; i++ {
		tracker.Observe(100 + float64(i)*0.1)
	}

	tracker.mu.Lock()
	n := len(tracker.closes)
	tracker.mu.Unlock()
	if n != regimeWindow {
		t.Errorf("expected window capped at %d, got %d", regimeWindow, n)
	}

	if got := tracker.Current(); got != regime.Bull {
		t.Errorf("steady uptrend should read as bull, got %v", got)
	}
}

func TestRegimeTracker_IgnoresInvalidPrices(t *testing.T) {
	tracker := newRegimeTracker()
	tracker.Observe(0)
	tracker.Observe(-5)

	tracker.mu.Lock()
	n := len(tracker.closes)
	tracker.mu.Unlock()
	if n != 0 {
		t.Errorf("invalid prices must not enter the window, got %d samples", n)
	}
}

func TestTradingDay_ResetHourBoundary(t *testing.T) {
	base := time.Date(2025, 3, 10, 3, 30, 0, 0, time.UTC)

	if got := tradingDay(base, 0); got != "2025-03-10" {
		t.Errorf("expected 2025-03-10, got %s", got)
	}
	// 重置小时为 4 时，凌晨 3:30 仍属于前一交易日。
	if got := tradingDay(base, 4); got != "2025-03-09" {
		t.Errorf("expected 2025-03-09, got %s", got)
	}
	if got := tradingDay(base.Add(time.Hour), 4); got != "2025-03-10" {
		t.Errorf("expected 2025-03-10 after reset hour, got %s", got)
	}
}

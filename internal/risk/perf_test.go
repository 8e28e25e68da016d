package risk

import (
	"errors"
	"math"
	"testing"
)

func TestPerformanceTracker_InsufficientSamples(t *testing.T) {
	p := NewPerformanceTracker(50)
	p.Record(100)
	p.Record(-50)

	if _, _, err := p.Ratios(); !errors.Is(err, ErrInsufficientSamples) {
		t.Fatalf("expected ErrInsufficientSamples, got %v", err)
	}
}

func TestPerformanceTracker_Ratios(t *testing.T) {
	p := NewPerformanceTracker(50)
	for _, pnl := range []float64{100, -50, 80, -20, 60, 40} {
		p.Record(pnl)
	}

	sharpe, sortino, err := p.Ratios()
	if err != nil {
		t.Fatalf("Ratios failed: %v", err)
	}
	if sharpe <= 0 {
		t.Errorf("expected positive sharpe for net-profitable series, got %f", sharpe)
	}
	if sortino <= sharpe {
		t.Errorf("sortino should exceed sharpe when losses are small, got sharpe=%f sortino=%f", sharpe, sortino)
	}
}

func TestPerformanceTracker_AllWinsGivesInfiniteSortino(t *testing.T) {
	p := NewPerformanceTracker(50)
	for _, pnl := range []float64{10, 20, 30, 40, 50} {
		p.Record(pnl)
	}

	_, sortino, err := p.Ratios()
	if err != nil {
		t.Fatalf("Ratios failed: %v", err)
	}
	if !math.IsInf(sortino, 1) {
		t.Errorf("expected +Inf sortino with no losses, got %f", sortino)
	}
}

func TestPerformanceTracker_WindowRolls(t *testing.T) {
	p := NewPerformanceTracker(5)
	for i := 0; i < 10; i++ {
		p.Record(float64(i))
	}
	if got := p.Count(); got != 5 {
		t.Errorf("expected window of 5, got %d", got)
	}
}

func TestPerformanceTracker_IgnoresBadValues(t *testing.T) {
	p := NewPerformanceTracker(5)
	p.Record(math.NaN())
	p.Record(math.Inf(1))
	if got := p.Count(); got != 0 {
		t.Errorf("NaN/Inf outcomes should be dropped, got %d samples", got)
	}
}

func TestPerformanceTracker_ResetDay(t *testing.T) {
	p := NewPerformanceTracker(50)
	p.Record(10)
	p.ResetDay()
	if got := p.Count(); got != 0 {
		t.Errorf("expected empty window after reset, got %d", got)
	}
}

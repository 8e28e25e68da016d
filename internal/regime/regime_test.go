package regime

import (
	"math"
	"testing"
)

func trendingCloses(start, step float64, n int) []float64 {
	closes := make([]float64, n)
	for i := range closes {
		closes[i] = start + step*float64(i)
	}
	return closes
}

func TestDetect_InsufficientData(t *testing.T) {
	if got := Detect(trendingCloses(100, 1, 30)); got != Transition {
		t.Errorf("expected transition on short series, got %s", got)
	}
	if got := Detect(nil); got != Transition {
		t.Errorf("expected transition on nil series, got %s", got)
	}
}

func TestDetect_TrendLabels(t *testing.T) {
	if got := Detect(trendingCloses(100, 0.5, 120)); got != Bull {
		t.Errorf("expected bull on steady uptrend, got %s", got)
	}
	if got := Detect(trendingCloses(200, -0.5, 120)); got != Bear {
		t.Errorf("expected bear on steady downtrend, got %s", got)
	}
}

func TestDetect_FlatIsSideways(t *testing.T) {
	closes := make([]float64, 120)
	for i := range closes {
		// 极小的交替扰动，均线几乎重合。
		closes[i] = 100 + 0.01*math.Pow(-1, float64(i))
	}
	if got := Detect(closes); got != Sideways {
		t.Errorf("expected sideways on flat series, got %s", got)
	}
}

func TestDetect_HighVolatilityIsCrisis(t *testing.T) {
	closes := make([]float64, 120)
	price := 100.0
	for i := range closes {
		if i%2 == 0 {
			price *= 1.10
		} else {
			price *= 0.88
		}
		closes[i] = price
	}
	if got := Detect(closes); got != Crisis {
		t.Errorf("expected crisis on violent swings, got %s", got)
	}
}

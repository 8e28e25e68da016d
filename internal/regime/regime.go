package regime

import (
	"math"

	talib "github.com/markcheno/go-talib"
)

// Regime 为粗粒度市场状态标签。
type Regime string

const (
	Bull       Regime = "bull"
	Bear       Regime = "bear"
	Sideways   Regime = "sideways"
	Crisis     Regime = "crisis"
	Transition Regime = "transition"
)

// minBars 是可靠分类所需的最少收盘价数量，与最长均线周期对齐。
const minBars = 60

// Detect 根据近期收盘价序列给出市场状态。
// 数据不足时返回 Transition，调用方按保守阈值处理。
func Detect(closes []float64) Regime {
	if len(closes) < minBars {
		return Transition
	}

	ema12 := last(talib.Ema(closes, 12))
	ema26 := last(talib.Ema(closes, 26))
	ema50 := last(talib.Ema(closes, 50))
	price := closes[len(closes)-1]

	if price <= 0 || ema50 <= 0 {
		return Transition
	}

	vol := recentVolatility(closes, 20)

	// 波动率超过 5% 视为危机状态，优先于趋势判断。
	if vol > 0.05 {
		return Crisis
	}

	switch {
	case ema12 > ema26 && ema26 > ema50:
		return Bull
	case ema12 < ema26 && ema26 < ema50:
		return Bear
	default:
		spread := math.Abs(ema12-ema26) / ema26
		if spread < 0.002 {
			return Sideways
		}
		return Transition
	}
}

// recentVolatility 计算最近 window 根收盘价对数收益的标准差。
func recentVolatility(closes []float64, window int) float64 {
	if len(closes) < window+1 {
		return 0
	}
	tail := closes[len(closes)-window-1:]
	returns := make([]float64, 0, window)
	for i := 1; i < len(tail); i++ {
		if tail[i-1] <= 0 || tail[i] <= 0 {
			continue
		}
		returns = append(returns, math.Log(tail[i]/tail[i-1]))
	}
	if len(returns) < 2 {
		return 0
	}

	var mean float64
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))

	var variance float64
	for _, r := range returns {
		diff := r - mean
		variance += diff * diff
	}
	variance /= float64(len(returns) - 1)

	return math.Sqrt(variance)
}

func last(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	return values[len(values)-1]
}

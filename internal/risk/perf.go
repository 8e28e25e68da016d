package risk

import (
	"errors"
	"math"
	"sync"
)

// ErrInsufficientSamples 表示样本不足以计算绩效比率。
var ErrInsufficientSamples = errors.New("risk: 绩效样本不足")

const minPerformanceSamples = 5

// PerformanceTracker 维护滚动的已实现盈亏序列，
// 提供 Sharpe / Sortino 比率供绩效下限检查使用。
type PerformanceTracker struct {
	mu       sync.Mutex
	window   int
	outcomes []float64
}

// NewPerformanceTracker 创建绩效追踪器。
func NewPerformanceTracker(window int) *PerformanceTracker {
	if window <= 0 {
		window = 50
	}
	return &PerformanceTracker{window: window}
}

// Record 追加一笔已实现盈亏，窗口满后滚动淘汰最旧记录。
func (p *PerformanceTracker) Record(pnl float64) {
	if math.IsNaN(pnl) || math.IsInf(pnl, 0) {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	p.outcomes = append(p.outcomes, pnl)
	if len(p.outcomes) > p.window {
		p.outcomes = p.outcomes[len(p.outcomes)-p.window:]
	}
}

// Ratios 返回当前窗口的 Sharpe 与 Sortino 比率。
func (p *PerformanceTracker) Ratios() (sharpe, sortino float64, err error) {
	p.mu.Lock()
	outcomes := append([]float64(nil), p.outcomes...)
	p.mu.Unlock()

	if len(outcomes) < minPerformanceSamples {
		return 0, 0, ErrInsufficientSamples
	}

	var mean float64
	for _, v := range outcomes {
		mean += v
	}
	mean /= float64(len(outcomes))

	var variance, downside float64
	downsideCount := 0
	for _, v := range outcomes {
		diff := v - mean
		variance += diff * diff
		if v < 0 {
			downside += v * v
			downsideCount++
		}
	}
	variance /= float64(len(outcomes) - 1)

	std := math.Sqrt(variance)
	if std == 0 {
		return 0, 0, errors.New("risk: 盈亏序列无波动，比率无意义")
	}
	sharpe = mean / std

	if downsideCount == 0 {
		// 没有亏损样本，下行风险为零，Sortino 给一个足够大的正值。
		return sharpe, math.Inf(1), nil
	}
	downsideStd := math.Sqrt(downside / float64(downsideCount))
	if downsideStd == 0 {
		return sharpe, math.Inf(1), nil
	}
	sortino = mean / downsideStd

	return sharpe, sortino, nil
}

// ResetDay 清空窗口（日度重置）。
func (p *PerformanceTracker) ResetDay() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.outcomes = p.outcomes[:0]
}

// Count 返回当前样本数。
func (p *PerformanceTracker) Count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.outcomes)
}

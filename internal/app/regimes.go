package app

import (
	"sync"

	"trade-core/internal/regime"
)

const regimeWindow = 512

// regimeTracker 用信号价格序列在线维护市场状态判定。
// 序列作为全市场代理：所有信号的价格按到达顺序进入同一窗口。
type regimeTracker struct {
	mu     sync.Mutex
	closes []float64
}

func newRegimeTracker() *regimeTracker {
	return &regimeTracker{closes: make([]float64, 0, regimeWindow)}
}

// Observe 记录一个新的收盘价观测。
func (t *regimeTracker) Observe(price float64) {
	if price <= 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	t.closes = append(t.closes, price)
	if len(t.closes) > regimeWindow {
		t.closes = t.closes[len(t.closes)-regimeWindow:]
	}
}

// Current 返回基于当前窗口的市场状态。样本不足时为过渡期。
func (t *regimeTracker) Current() regime.Regime {
	t.mu.Lock()
	closes := make([]float64, len(t.closes))
	copy(closes, t.closes)
	t.mu.Unlock()

	return regime.Detect(closes)
}

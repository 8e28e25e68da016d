package ledger

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"trade-core/internal/config"
)

// ErrInvalidInput 表示成交参数非法，说明上游存在缺陷而非市场异常。
var ErrInvalidInput = errors.New("ledger: invalid input")

// sizeEpsilon 以下的仓位视为已平仓。
const sizeEpsilon = 1e-9

// Side 表示成交方向。
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// ParseSide 归一化方向字符串。
func ParseSide(raw string) (Side, bool) {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "BUY":
		return SideBuy, true
	case "SELL":
		return SideSell, true
	default:
		return "", false
	}
}

// Position 描述单个标的的持仓，仅由 Ledger 持有和修改。
type Position struct {
	Symbol        string  `json:"symbol"`
	Size          float64 `json:"size"` // 带符号数量，负数为空头
	AvgPrice      float64 `json:"avg_price"`
	RealizedPnL   float64 `json:"realized_pnl"`
	UnrealizedPnL float64 `json:"unrealized_pnl"`
}

// EquityPoint 为一条净值历史记录。
type EquityPoint struct {
	Timestamp time.Time `json:"timestamp"`
	Equity    float64   `json:"equity"`
}

// PortfolioState 为账本的只读快照。
type PortfolioState struct {
	Cash          float64             `json:"cash"`
	Equity        float64             `json:"equity"`
	Positions     map[string]Position `json:"positions"`
	EquityHistory []EquityPoint       `json:"equity_history"`
	TotalExposure float64             `json:"total_exposure"`
	DrawdownPct   float64             `json:"drawdown_pct"`
	RealizedPnL   float64             `json:"realized_pnl"`
}

// Ledger 维护现金、持仓与净值历史，是组合状态的唯一持有者。
// 所有修改与快照读取共用一把互斥锁，宿主并发驱动多个信号时依然安全。
type Ledger struct {
	mu sync.Mutex

	cash          float64
	equity        float64
	positions     map[string]*Position
	equityHistory []EquityPoint
	historyLimit  int
	realized      float64
	dailyRealized float64

	logger *zap.Logger
}

// New 根据配置创建账本。
func New(cfg config.LedgerConfig, logger *zap.Logger) *Ledger {
	if logger == nil {
		logger = zap.NewNop()
	}
	limit := cfg.EquityHistoryLimit
	if limit <= 0 {
		limit = 10000
	}
	l := &Ledger{
		cash:         cfg.InitialCash,
		equity:       cfg.InitialCash,
		positions:    make(map[string]*Position),
		historyLimit: limit,
		logger:       logger,
	}
	l.equityHistory = append(l.equityHistory, EquityPoint{Timestamp: time.Now().UTC(), Equity: l.equity})
	return l
}

// UpdatePosition 记录一笔成交并返回本笔实现盈亏。
// 同向加仓按数量加权摊平均价；反向成交先在重叠数量上实现盈亏，
// 剩余数量在同一次调用中按成交价开出反向仓位（多空翻转）。
func (l *Ledger) UpdatePosition(symbol string, side Side, size, price, commission float64) (float64, error) {
	if symbol == "" {
		return 0, fmt.Errorf("%w: symbol 不能为空", ErrInvalidInput)
	}
	if side != SideBuy && side != SideSell {
		return 0, fmt.Errorf("%w: 方向 %q 非法", ErrInvalidInput, side)
	}
	if size <= 0 || math.IsNaN(size) || math.IsInf(size, 0) {
		return 0, fmt.Errorf("%w: size=%v", ErrInvalidInput, size)
	}
	if price <= 0 || math.IsNaN(price) || math.IsInf(price, 0) {
		return 0, fmt.Errorf("%w: price=%v", ErrInvalidInput, price)
	}
	if commission < 0 || math.IsNaN(commission) {
		return 0, fmt.Errorf("%w: commission=%v", ErrInvalidInput, commission)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	delta := size
	if side == SideSell {
		delta = -size
		l.cash += size*price - commission
	} else {
		l.cash -= size*price + commission
	}

	pos, exists := l.positions[symbol]
	if !exists {
		l.positions[symbol] = &Position{Symbol: symbol, Size: delta, AvgPrice: price}
		return 0, nil
	}

	var realizedDelta float64

	switch {
	case sameSign(pos.Size, delta):
		// 同向加仓，按绝对数量加权摊平均价。
		total := math.Abs(pos.Size) + size
		pos.AvgPrice = (math.Abs(pos.Size)*pos.AvgPrice + size*price) / total
		pos.Size += delta
	default:
		overlap := math.Min(size, math.Abs(pos.Size))
		direction := 1.0
		if pos.Size < 0 {
			direction = -1.0
		}
		realizedDelta = overlap * (price - pos.AvgPrice) * direction
		pos.RealizedPnL += realizedDelta
		l.realized += realizedDelta
		l.dailyRealized += realizedDelta

		newSize := pos.Size + delta
		switch {
		case math.Abs(newSize) < sizeEpsilon:
			delete(l.positions, symbol)
			l.logger.Debug("仓位已平并移除",
				zap.String("symbol", symbol),
				zap.Float64("realized", realizedDelta),
			)
			return realizedDelta, nil
		case !sameSign(newSize, pos.Size):
			// 多空翻转：剩余数量视为以本次成交价新开的反向仓位。
			pos.Size = newSize
			pos.AvgPrice = price
		default:
			// 仅减仓，摊薄成本价保持不变。
			pos.Size = newSize
		}
	}

	if math.Abs(pos.Size) < sizeEpsilon {
		delete(l.positions, symbol)
	}

	return realizedDelta, nil
}

// TotalExposure 计算总敞口 Σ|size|×price。
// marks 为 nil 时回退到各持仓的摊薄成本价；显式传入空 map 表示
// 所有标价缺失，敞口记为 0；非空 map 按标的取价，缺失的回退成本价。
func (l *Ledger) TotalExposure(marks map[string]float64) float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.totalExposureLocked(marks)
}

func (l *Ledger) totalExposureLocked(marks map[string]float64) float64 {
	if marks != nil && len(marks) == 0 {
		return 0
	}

	var total float64
	for sym, pos := range l.positions {
		price := pos.AvgPrice
		if marks != nil {
			if mark, ok := marks[sym]; ok && mark > 0 {
				price = mark
			}
		}
		total += math.Abs(pos.Size) * price
	}
	return total
}

// UpdateEquity 按最新标价重算各持仓的未实现盈亏，并刷新净值。
// 空头方向自动取反：价格上行对空头是亏损。
func (l *Ledger) UpdateEquity(marks map[string]float64) float64 {
	l.mu.Lock()
	defer l.mu.Unlock()

	var unrealized float64
	for sym, pos := range l.positions {
		price := pos.AvgPrice
		if marks != nil {
			if mark, ok := marks[sym]; ok && mark > 0 {
				price = mark
			}
		}
		pos.UnrealizedPnL = pos.Size * (price - pos.AvgPrice)
		unrealized += pos.UnrealizedPnL
	}

	l.equity = l.cash + unrealized
	l.appendEquityLocked(time.Now().UTC())
	return l.equity
}

// Equity 返回最近一次计算的净值。
func (l *Ledger) Equity() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.equity
}

// Cash 返回当前现金。
func (l *Ledger) Cash() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cash
}

// Drawdown 返回净值相对历史峰值的回撤比例，始终非负。
func (l *Ledger) Drawdown() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.drawdownLocked()
}

func (l *Ledger) drawdownLocked() float64 {
	if len(l.equityHistory) == 0 {
		return 0
	}
	var peak float64
	for _, point := range l.equityHistory {
		if point.Equity > peak {
			peak = point.Equity
		}
	}
	if peak <= 0 {
		return 0
	}
	dd := (peak - l.equity) / peak
	if dd < 0 {
		return 0
	}
	return dd
}

// Report 返回账本的深拷贝快照，调用方持有的快照不随后续成交变化。
func (l *Ledger) Report() PortfolioState {
	l.mu.Lock()
	defer l.mu.Unlock()

	positions := make(map[string]Position, len(l.positions))
	for sym, pos := range l.positions {
		positions[sym] = *pos
	}
	history := make([]EquityPoint, len(l.equityHistory))
	copy(history, l.equityHistory)

	return PortfolioState{
		Cash:          l.cash,
		Equity:        l.equity,
		Positions:     positions,
		EquityHistory: history,
		TotalExposure: l.totalExposureLocked(nil),
		DrawdownPct:   l.drawdownLocked(),
		RealizedPnL:   l.realized,
	}
}

// ResetDay 重置日内基线：净值历史收敛为当前一点，日内实现盈亏清零。
func (l *Ledger) ResetDay() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.dailyRealized = 0
	l.equityHistory = []EquityPoint{{Timestamp: time.Now().UTC(), Equity: l.equity}}
	l.logger.Info("账本日内状态已重置", zap.Float64("equity", l.equity))
	return nil
}

// DailyRealized 返回当日累计实现盈亏。
func (l *Ledger) DailyRealized() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.dailyRealized
}

func (l *Ledger) appendEquityLocked(ts time.Time) {
	l.equityHistory = append(l.equityHistory, EquityPoint{Timestamp: ts, Equity: l.equity})
	if len(l.equityHistory) > l.historyLimit {
		l.equityHistory = l.equityHistory[len(l.equityHistory)-l.historyLimit:]
	}
}

func sameSign(a, b float64) bool {
	return (a > 0 && b > 0) || (a < 0 && b < 0)
}

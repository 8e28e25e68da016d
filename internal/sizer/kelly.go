package sizer

import (
	"math"

	"go.uber.org/zap"

	"trade-core/internal/config"
	"trade-core/internal/ledger"
)

// Sizer 依据 Kelly 公式计算下单数量。
// 计算出错或结果非法时回退到最小可交易数量，而不是拒绝交易；
// 安全兜底由风控链负责，仓位计算本身永不失败。
type Sizer struct {
	cfg    config.SizerConfig
	logger *zap.Logger
}

// New 创建仓位计算器。
func New(cfg config.SizerConfig, logger *zap.Logger) *Sizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MinSize <= 0 {
		cfg.MinSize = 1
	}
	return &Sizer{cfg: cfg, logger: logger}
}

// KellyFraction 计算 f* = winRate − (1−winRate)/payoff，并截断到 [0, fractionCap]。
func (s *Sizer) KellyFraction() float64 {
	if s.cfg.Payoff <= 0 {
		return 0
	}
	f := s.cfg.WinRate - (1-s.cfg.WinRate)/s.cfg.Payoff
	if math.IsNaN(f) || f < 0 {
		return 0
	}
	if cap := s.cfg.FractionCap; cap > 0 && f > cap {
		return cap
	}
	return f
}

// AdaptiveFraction 按最近净值与滚动峰值的距离等比例压缩基础比例。
// 处于新高或峰值无效时不做压缩，直接返回基础比例。
func (s *Sizer) AdaptiveFraction(history []ledger.EquityPoint) float64 {
	base := s.KellyFraction()
	if len(history) == 0 {
		return base
	}

	var peak float64
	for _, point := range history {
		if point.Equity > peak {
			peak = point.Equity
		}
	}
	if peak <= 0 {
		return base
	}

	last := history[len(history)-1].Equity
	if last >= peak {
		return base
	}

	shrink := 1 - (peak-last)/peak
	if shrink < 0 {
		shrink = 0
	}
	return base * shrink
}

// SizePosition 把仓位比例换算为股数/张数。
// 任何非法输出（NaN、Inf、非正数）都替换为最小可交易数量。
func (s *Sizer) SizePosition(equity, price float64, history []ledger.EquityPoint) float64 {
	fraction := s.AdaptiveFraction(history)

	size := fraction * equity / price
	if math.IsNaN(size) || math.IsInf(size, 0) || size <= 0 {
		s.logger.Warn("仓位计算结果非法，回退最小数量",
			zap.Float64("fraction", fraction),
			zap.Float64("equity", equity),
			zap.Float64("price", price),
		)
		return s.cfg.MinSize
	}

	size = math.Floor(size)
	if size < s.cfg.MinSize {
		return s.cfg.MinSize
	}
	return size
}

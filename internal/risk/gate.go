package risk

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"go.uber.org/zap"

	"trade-core/internal/config"
	"trade-core/internal/ledger"
	"trade-core/internal/sentiment"
)

// Gate 将各项独立否决检查串成短路链。
// 任何一环否决都立即返回对应原因码，不触碰其他状态；
// 账本只在整条链放行后才会被订单路径修改。
type Gate struct {
	cfg       config.RiskConfig
	gateScore *GateScore
	scorer    sentiment.Scorer
	sentCfg   config.SentimentConfig
	perf      *PerformanceTracker
	tracker   *DailyTracker
	snapshot  func() ledger.PortfolioState
	logger    *zap.Logger
}

// NewGate 创建风控链。scorer、tracker 允许为空，对应检查自动跳过。
func NewGate(
	cfg config.RiskConfig,
	gsCfg config.GateScoreConfig,
	sentCfg config.SentimentConfig,
	scorer sentiment.Scorer,
	perf *PerformanceTracker,
	tracker *DailyTracker,
	snapshot func() ledger.PortfolioState,
	logger *zap.Logger,
) *Gate {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gate{
		cfg:       cfg,
		gateScore: NewGateScore(gsCfg, logger),
		scorer:    scorer,
		sentCfg:   sentCfg,
		perf:      perf,
		tracker:   tracker,
		snapshot:  snapshot,
		logger:    logger,
	}
}

// Evaluate 按固定顺序执行全部检查，返回第一个否决或最终放行。
func (g *Gate) Evaluate(ctx context.Context, input TradeInput) Decision {
	if d := g.checkEquity(input); !d.Allow {
		return d
	}
	if d := g.checkDailyHalt(ctx, input); !d.Allow {
		return d
	}
	if d := g.checkSectorExposure(input); !d.Allow {
		return d
	}
	if d := g.checkTradeRisk(input); !d.Allow {
		return d
	}
	if d := g.checkExposure(input); !d.Allow {
		return d
	}
	if d := g.checkHedgeRule(input); !d.Allow {
		return d
	}
	if d := g.checkDrawdown(input); !d.Allow {
		return d
	}
	if d := g.checkSentiment(ctx, input); !d.Allow {
		return d
	}
	if d := g.gateScore.Check(input.ModelScores, input.Regime); !d.Allow {
		return d
	}
	if d := g.checkPerformance(); !d.Allow {
		return d
	}
	return allow()
}

// CheckTrade 为订单管理器提供的轻量状态检查，只覆盖基于账本状态的守卫。
// 舆情与模型信心度依赖外部输入，由引擎在下单前完成。
func (g *Gate) CheckTrade(symbol string, side ledger.Side, size, notional float64) bool {
	if g.snapshot == nil {
		return true
	}
	price := 0.0
	if size > 0 {
		price = notional / size
	}
	input := TradeInput{
		Symbol:    symbol,
		Side:      side,
		Size:      size,
		Price:     price,
		Portfolio: g.snapshot(),
	}

	if d := g.checkEquity(input); !d.Allow {
		return false
	}
	if d := g.checkSectorExposure(input); !d.Allow {
		return false
	}
	if d := g.checkTradeRisk(input); !d.Allow {
		return false
	}
	if d := g.checkExposure(input); !d.Allow {
		return false
	}
	if d := g.checkHedgeRule(input); !d.Allow {
		return false
	}
	if d := g.checkDrawdown(input); !d.Allow {
		return false
	}
	return true
}

// ResetDay 重置日度风控状态。
func (g *Gate) ResetDay(ctx context.Context) error {
	var err error
	if g.tracker != nil {
		err = g.tracker.Reset(ctx, time.Now().UTC())
	}
	if g.perf != nil {
		g.perf.ResetDay()
	}
	return err
}

// RecordOutcome 将已实现盈亏喂给绩效追踪。
func (g *Gate) RecordOutcome(pnl float64) {
	if g.perf != nil {
		g.perf.Record(pnl)
	}
}

func (g *Gate) checkEquity(input TradeInput) Decision {
	if input.Portfolio.Equity <= 0 {
		return deny(ReasonEquityDepleted,
			fmt.Sprintf("净值 %.2f 已耗尽", input.Portfolio.Equity))
	}
	return allow()
}

func (g *Gate) checkDailyHalt(ctx context.Context, input TradeInput) Decision {
	if g.tracker == nil || !g.cfg.EnableDailyStopLoss {
		return allow()
	}
	status, err := g.tracker.Update(ctx, time.Now().UTC(), input.Portfolio.Equity)
	if err != nil {
		// 日度追踪依赖数据库，故障时保守放行并告警日志，由后续守卫兜底。
		g.logger.Warn("日度风控状态更新失败", zap.Error(err))
		return allow()
	}
	if status.Halted {
		return deny(ReasonDailyHalt,
			fmt.Sprintf("当日亏损 %.2f%% 已触发停交易", status.LossPercent*100))
	}
	return allow()
}

func (g *Gate) checkSectorExposure(input TradeInput) Decision {
	if g.cfg.SectorExposureLimit <= 0 || input.Portfolio.Equity <= 0 {
		return allow()
	}

	sector := g.sectorOf(input.Symbol)
	exposure := input.Notional()
	for sym, pos := range input.Portfolio.Positions {
		if g.sectorOf(sym) != sector {
			continue
		}
		exposure += math.Abs(pos.Size) * pos.AvgPrice
	}

	limit := g.cfg.SectorExposureLimit * input.Portfolio.Equity
	if exposure > limit {
		return deny(ReasonSectorExposure,
			fmt.Sprintf("板块 %s 敞口 %.2f 超过上限 %.2f", sector, exposure, limit))
	}
	return allow()
}

// assumedStopFraction 是信号不携带止损价时假定的止损距离占比，
// 把单笔风险预算换算为名义敞口上限。
const assumedStopFraction = 0.05

func (g *Gate) checkTradeRisk(input TradeInput) Decision {
	if g.cfg.MaxTradeRisk <= 0 || input.Portfolio.Equity <= 0 {
		return allow()
	}

	budget := g.cfg.MaxTradeRisk * input.Portfolio.Equity
	maxNotional := budget / assumedStopFraction
	if input.Notional() > maxNotional {
		return deny(ReasonTradeRisk,
			fmt.Sprintf("名义 %.2f 超过单笔风险上限 %.2f（预算 %.2f）",
				input.Notional(), maxNotional, budget))
	}
	return allow()
}

func (g *Gate) checkExposure(input TradeInput) Decision {
	if input.Portfolio.Equity <= 0 {
		return allow()
	}

	projected := input.Portfolio.TotalExposure + input.Notional()
	if g.cfg.MaxExposure > 0 {
		limit := g.cfg.MaxExposure * input.Portfolio.Equity
		if projected > limit {
			return deny(ReasonExposureLimit,
				fmt.Sprintf("组合敞口将达 %.2f，超过上限 %.2f", projected, limit))
		}
	}
	if g.cfg.MaxLeverage > 0 {
		limit := g.cfg.MaxLeverage * input.Portfolio.Equity
		if projected > limit {
			return deny(ReasonLeverageLimit,
				fmt.Sprintf("组合敞口将达 %.2f，超过 %.1fx 净值杠杆上限", projected, g.cfg.MaxLeverage))
		}
	}
	return allow()
}

func (g *Gate) sectorOf(symbol string) string {
	if sector, ok := g.cfg.Sectors[symbol]; ok {
		return sector
	}
	return "other"
}

func (g *Gate) checkHedgeRule(input TradeInput) Decision {
	blocked, ok := g.cfg.HedgeRules[input.Symbol]
	if !ok {
		return allow()
	}
	if strings.EqualFold(blocked, string(input.Side)) {
		return deny(ReasonHedgeRule,
			fmt.Sprintf("%s 处于强制降风险名单，禁止 %s", input.Symbol, input.Side))
	}
	return allow()
}

func (g *Gate) checkDrawdown(input TradeInput) Decision {
	if g.cfg.DrawdownLimit <= 0 {
		return allow()
	}

	dd, err := drawdownFromHistory(input.Portfolio.EquityHistory, input.Portfolio.Equity)
	if err != nil {
		// 净值历史损坏按放行处理，只记录不中断。
		g.logger.Warn("净值历史异常，跳过回撤检查", zap.Error(err))
		return allow()
	}
	if dd > g.cfg.DrawdownLimit {
		return deny(ReasonDrawdownLimit,
			fmt.Sprintf("回撤 %.2f%% 超过上限 %.2f%%", dd*100, g.cfg.DrawdownLimit*100))
	}
	return allow()
}

func drawdownFromHistory(history []ledger.EquityPoint, current float64) (float64, error) {
	if len(history) == 0 {
		return 0, nil
	}
	var peak float64
	for _, point := range history {
		if math.IsNaN(point.Equity) || math.IsInf(point.Equity, 0) {
			return 0, fmt.Errorf("risk: 净值历史包含非法值 %v", point.Equity)
		}
		if point.Equity > peak {
			peak = point.Equity
		}
	}
	if peak <= 0 {
		return 0, nil
	}
	dd := (peak - current) / peak
	if dd < 0 {
		dd = 0
	}
	return dd, nil
}

func (g *Gate) checkSentiment(ctx context.Context, input TradeInput) Decision {
	if !g.sentCfg.Enabled || g.scorer == nil {
		return allow()
	}

	// 偏置覆盖：被配置方向无条件否决，与评分无关。
	if g.sentCfg.Bias != "" && strings.EqualFold(g.sentCfg.Bias, string(input.Side)) {
		return deny(ReasonSentimentVeto,
			fmt.Sprintf("舆情偏置强制否决 %s 方向", input.Side))
	}

	score, err := g.scorer.Score(ctx, input.Symbol)
	if err != nil {
		// 打分失败按否决处理（fail-closed）。
		g.logger.Warn("舆情打分失败，按否决处理",
			zap.String("symbol", input.Symbol),
			zap.Error(err),
		)
		return deny(ReasonSentimentVeto, fmt.Sprintf("舆情打分失败: %v", err))
	}

	if math.Abs(score) <= g.sentCfg.Tolerance {
		return allow()
	}

	switch input.Side {
	case ledger.SideBuy:
		if score <= -g.sentCfg.Threshold {
			return deny(ReasonSentimentVeto,
				fmt.Sprintf("舆情评分 %.2f 利空，否决买入", score))
		}
	case ledger.SideSell:
		if score >= g.sentCfg.Threshold {
			return deny(ReasonSentimentVeto,
				fmt.Sprintf("舆情评分 %.2f 利多，否决卖出", score))
		}
	}
	return allow()
}

func (g *Gate) checkPerformance() Decision {
	if g.perf == nil {
		return allow()
	}

	sharpe, sortino, err := g.perf.Ratios()
	if err != nil {
		// 绩效比率算不出来时放行，样本不足不应阻断交易。
		g.logger.Debug("绩效比率不可用，跳过检查", zap.Error(err))
		return allow()
	}

	if g.cfg.SharpeFloor != 0 && sharpe < g.cfg.SharpeFloor {
		return deny(ReasonPerformanceFloor,
			fmt.Sprintf("Sharpe %.2f 低于下限 %.2f", sharpe, g.cfg.SharpeFloor))
	}
	if g.cfg.SortinoFloor != 0 && sortino < g.cfg.SortinoFloor {
		return deny(ReasonPerformanceFloor,
			fmt.Sprintf("Sortino %.2f 低于下限 %.2f", sortino, g.cfg.SortinoFloor))
	}
	return allow()
}

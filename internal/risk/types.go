package risk

import (
	"trade-core/internal/ledger"
	"trade-core/internal/regime"
)

// Reason 标识风控决策的原因码。
type Reason string

const (
	ReasonOK               Reason = "ok"
	ReasonEquityDepleted   Reason = "equity_depleted"
	ReasonDailyHalt        Reason = "daily_halt"
	ReasonSectorExposure   Reason = "sector_exposure"
	ReasonTradeRisk        Reason = "trade_risk"
	ReasonExposureLimit    Reason = "exposure_limit"
	ReasonLeverageLimit    Reason = "leverage_limit"
	ReasonHedgeRule        Reason = "hedge_rule"
	ReasonDrawdownLimit    Reason = "drawdown_limit"
	ReasonSentimentVeto    Reason = "sentiment_veto"
	ReasonLowConfidence    Reason = "low_confidence"
	ReasonPerformanceFloor Reason = "performance_floor"
)

// Decision 为风控链的输出，要么整体放行要么整体否决，从不部分生效。
type Decision struct {
	Allow  bool
	Reason Reason
	Notes  []string
}

func allow() Decision {
	return Decision{Allow: true, Reason: ReasonOK}
}

func deny(reason Reason, note string) Decision {
	d := Decision{Allow: false, Reason: reason}
	if note != "" {
		d.Notes = append(d.Notes, note)
	}
	return d
}

// TradeInput 为一次风控评估的输入。
type TradeInput struct {
	Symbol      string
	Side        ledger.Side
	Size        float64
	Price       float64
	Portfolio   ledger.PortfolioState
	ModelScores map[string]float64
	Regime      regime.Regime
}

// Notional 返回本笔交易的名义金额。
func (in TradeInput) Notional() float64 {
	return in.Size * in.Price
}

// TradeChecker 是订单管理器调用的显式风控接口。
type TradeChecker interface {
	CheckTrade(symbol string, side ledger.Side, size, notional float64) bool
}

package risk

import (
	"context"
	"errors"
	"math"
	"reflect"
	"testing"
	"time"

	"trade-core/internal/config"
	"trade-core/internal/ledger"
	"trade-core/internal/regime"
)

type stubScorer struct {
	score float64
	err   error
}

func (s *stubScorer) Score(ctx context.Context, symbol string) (float64, error) {
	return s.score, s.err
}

func baseRiskConfig() config.RiskConfig {
	return config.RiskConfig{
		MaxDailyLoss:        0.03,
		MaxTradeRisk:        0.01,
		MaxExposure:         1.0,
		SectorExposureLimit: 0.30,
		DrawdownLimit:       0.15,
		Sectors:             map[string]string{"AAPL": "tech", "MSFT": "tech", "XOM": "energy"},
		HedgeRules:          map[string]string{},
	}
}

func baseSentimentConfig() config.SentimentConfig {
	return config.SentimentConfig{Enabled: true, Tolerance: 0.2, Threshold: 0.5}
}

func newTestGate(cfg config.RiskConfig, sentCfg config.SentimentConfig, scorer *stubScorer, perf *PerformanceTracker) *Gate {
	if scorer == nil {
		return NewGate(cfg, config.GateScoreConfig{}, sentCfg, nil, perf, nil, nil, nil)
	}
	return NewGate(cfg, config.GateScoreConfig{}, sentCfg, scorer, perf, nil, nil, nil)
}

func healthyPortfolio(equity float64) ledger.PortfolioState {
	return ledger.PortfolioState{
		Cash:   equity,
		Equity: equity,
		Positions: map[string]ledger.Position{},
		EquityHistory: []ledger.EquityPoint{
			{Timestamp: time.Now().UTC(), Equity: equity},
		},
	}
}

func buyInput(symbol string, size, price float64, portfolio ledger.PortfolioState) TradeInput {
	return TradeInput{
		Symbol:    symbol,
		Side:      ledger.SideBuy,
		Size:      size,
		Price:     price,
		Portfolio: portfolio,
		Regime:    regime.Sideways,
	}
}

func TestGate_AllowsHealthyTrade(t *testing.T) {
	g := newTestGate(baseRiskConfig(), config.SentimentConfig{}, nil, nil)

	d := g.Evaluate(context.Background(), buyInput("AAPL", 10, 100, healthyPortfolio(100000)))
	if !d.Allow {
		t.Fatalf("expected allow, got %s: %v", d.Reason, d.Notes)
	}
	if d.Reason != ReasonOK {
		t.Errorf("expected reason ok, got %s", d.Reason)
	}
}

func TestGate_EquityDepletionBlocks(t *testing.T) {
	g := newTestGate(baseRiskConfig(), config.SentimentConfig{}, nil, nil)

	for _, equity := range []float64{0, -1000} {
		d := g.Evaluate(context.Background(), buyInput("AAPL", 10, 100, healthyPortfolio(equity)))
		if d.Allow || d.Reason != ReasonEquityDepleted {
			t.Errorf("equity=%f: expected equity_depleted veto, got allow=%v reason=%s", equity, d.Allow, d.Reason)
		}
	}
}

func TestGate_SectorExposureBlocks(t *testing.T) {
	g := newTestGate(baseRiskConfig(), config.SentimentConfig{}, nil, nil)

	portfolio := healthyPortfolio(100000)
	portfolio.Positions["MSFT"] = ledger.Position{Symbol: "MSFT", Size: 100, AvgPrice: 250}

	// tech 已有 25000，再买 10000 超过 30% × 100000。
	d := g.Evaluate(context.Background(), buyInput("AAPL", 100, 100, portfolio))
	if d.Allow || d.Reason != ReasonSectorExposure {
		t.Fatalf("expected sector_exposure veto, got allow=%v reason=%s", d.Allow, d.Reason)
	}

	// 不同板块不受影响。
	d = g.Evaluate(context.Background(), buyInput("XOM", 100, 100, portfolio))
	if !d.Allow {
		t.Errorf("energy trade should pass, got %s", d.Reason)
	}
}

func TestGate_TradeRiskBlocksOversizedNotional(t *testing.T) {
	g := newTestGate(baseRiskConfig(), config.SentimentConfig{}, nil, nil)

	// 风险预算 0.01 × 100000，按 5% 假定止损距离折算名义上限 20000。
	d := g.Evaluate(context.Background(), buyInput("AAPL", 300, 100, healthyPortfolio(100000)))
	if d.Allow || d.Reason != ReasonTradeRisk {
		t.Fatalf("expected trade_risk veto at notional 30000, got allow=%v reason=%s", d.Allow, d.Reason)
	}

	if d := g.Evaluate(context.Background(), buyInput("AAPL", 150, 100, healthyPortfolio(100000))); !d.Allow {
		t.Errorf("notional 15000 within budget should pass, got %s", d.Reason)
	}
}

func TestGate_ExposureLimitBlocks(t *testing.T) {
	cfg := baseRiskConfig()
	cfg.SectorExposureLimit = 0 // 只验证组合级敞口
	g := newTestGate(cfg, config.SentimentConfig{}, nil, nil)

	portfolio := healthyPortfolio(100000)
	portfolio.TotalExposure = 95000

	d := g.Evaluate(context.Background(), buyInput("AAPL", 100, 100, portfolio))
	if d.Allow || d.Reason != ReasonExposureLimit {
		t.Fatalf("expected exposure_limit veto at projected 105000, got allow=%v reason=%s", d.Allow, d.Reason)
	}

	portfolio.TotalExposure = 80000
	if d := g.Evaluate(context.Background(), buyInput("AAPL", 100, 100, portfolio)); !d.Allow {
		t.Errorf("projected 90000 within equity should pass, got %s", d.Reason)
	}
}

func TestGate_LeverageLimitBlocks(t *testing.T) {
	cfg := baseRiskConfig()
	cfg.SectorExposureLimit = 0
	cfg.MaxTradeRisk = 0.5
	cfg.MaxExposure = 3.0
	cfg.MaxLeverage = 2.0
	g := newTestGate(cfg, config.SentimentConfig{}, nil, nil)

	portfolio := healthyPortfolio(100000)
	portfolio.TotalExposure = 195000

	d := g.Evaluate(context.Background(), buyInput("AAPL", 100, 100, portfolio))
	if d.Allow || d.Reason != ReasonLeverageLimit {
		t.Fatalf("expected leverage_limit veto at projected 205000, got allow=%v reason=%s", d.Allow, d.Reason)
	}

	portfolio.TotalExposure = 185000
	if d := g.Evaluate(context.Background(), buyInput("AAPL", 100, 100, portfolio)); !d.Allow {
		t.Errorf("projected 195000 under 2x equity should pass, got %s", d.Reason)
	}
}

func TestGate_HedgeRuleBlocksConfiguredSide(t *testing.T) {
	cfg := baseRiskConfig()
	cfg.HedgeRules = map[string]string{"AAPL": "BUY"}
	g := newTestGate(cfg, config.SentimentConfig{}, nil, nil)

	d := g.Evaluate(context.Background(), buyInput("AAPL", 10, 100, healthyPortfolio(100000)))
	if d.Allow || d.Reason != ReasonHedgeRule {
		t.Fatalf("expected hedge_rule veto on BUY, got allow=%v reason=%s", d.Allow, d.Reason)
	}

	sell := buyInput("AAPL", 10, 100, healthyPortfolio(100000))
	sell.Side = ledger.SideSell
	if d := g.Evaluate(context.Background(), sell); !d.Allow {
		t.Errorf("SELL should pass the hedge rule, got %s", d.Reason)
	}
}

func TestGate_DrawdownBlocksAndDegradesOnBadHistory(t *testing.T) {
	g := newTestGate(baseRiskConfig(), config.SentimentConfig{}, nil, nil)

	portfolio := healthyPortfolio(80000)
	portfolio.EquityHistory = []ledger.EquityPoint{
		{Equity: 100000},
		{Equity: 80000},
	}
	d := g.Evaluate(context.Background(), buyInput("AAPL", 10, 100, portfolio))
	if d.Allow || d.Reason != ReasonDrawdownLimit {
		t.Fatalf("expected drawdown_limit veto at 20%% drawdown, got allow=%v reason=%s", d.Allow, d.Reason)
	}

	// 历史损坏（NaN）不应崩溃，按放行降级。
	bad := healthyPortfolio(80000)
	bad.EquityHistory = []ledger.EquityPoint{{Equity: math.NaN()}}
	if d := g.Evaluate(context.Background(), buyInput("AAPL", 10, 100, bad)); !d.Allow {
		t.Errorf("malformed history should degrade to pass, got %s", d.Reason)
	}
}

func TestGate_SentimentVeto(t *testing.T) {
	cases := []struct {
		name   string
		side   ledger.Side
		scorer stubScorer
		bias   string
		block  bool
	}{
		{"bearish blocks buy", ledger.SideBuy, stubScorer{score: -0.8}, "", true},
		{"bullish blocks sell", ledger.SideSell, stubScorer{score: 0.8}, "", true},
		{"neutral passes", ledger.SideBuy, stubScorer{score: 0.1}, "", false},
		{"bearish within threshold passes", ledger.SideBuy, stubScorer{score: -0.3}, "", false},
		{"scorer error fails closed", ledger.SideBuy, stubScorer{err: errors.New("feed down")}, "", true},
		{"bias overrides score", ledger.SideBuy, stubScorer{score: 0.9}, "BUY", true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			sentCfg := baseSentimentConfig()
			sentCfg.Bias = tc.bias
			g := newTestGate(baseRiskConfig(), sentCfg, &tc.scorer, nil)

			input := buyInput("AAPL", 10, 100, healthyPortfolio(100000))
			input.Side = tc.side
			d := g.Evaluate(context.Background(), input)
			if tc.block && (d.Allow || d.Reason != ReasonSentimentVeto) {
				t.Errorf("expected sentiment veto, got allow=%v reason=%s", d.Allow, d.Reason)
			}
			if !tc.block && !d.Allow {
				t.Errorf("expected pass, got %s: %v", d.Reason, d.Notes)
			}
		})
	}
}

func TestGate_PerformanceFloor(t *testing.T) {
	cfg := baseRiskConfig()
	cfg.SharpeFloor = -0.5

	perf := NewPerformanceTracker(50)
	for _, pnl := range []float64{-100, -120, -90, -110, -105, -95} {
		perf.Record(pnl)
	}
	g := newTestGate(cfg, config.SentimentConfig{}, nil, perf)

	d := g.Evaluate(context.Background(), buyInput("AAPL", 10, 100, healthyPortfolio(100000)))
	if d.Allow || d.Reason != ReasonPerformanceFloor {
		t.Fatalf("expected performance_floor veto, got allow=%v reason=%s", d.Allow, d.Reason)
	}

	// 样本不足时比率不可用，降级放行。
	g2 := newTestGate(cfg, config.SentimentConfig{}, nil, NewPerformanceTracker(50))
	if d := g2.Evaluate(context.Background(), buyInput("AAPL", 10, 100, healthyPortfolio(100000))); !d.Allow {
		t.Errorf("insufficient samples should pass, got %s", d.Reason)
	}
}

func TestGate_VetoLeavesLedgerUntouched(t *testing.T) {
	l := ledger.New(config.LedgerConfig{InitialCash: 100000}, nil)
	if _, err := l.UpdatePosition("AAPL", ledger.SideBuy, 10, 100, 0); err != nil {
		t.Fatalf("seed position failed: %v", err)
	}
	before := l.Report()

	cfg := baseRiskConfig()
	cfg.HedgeRules = map[string]string{"AAPL": "BUY"}
	g := NewGate(cfg, config.GateScoreConfig{}, config.SentimentConfig{}, nil, nil, nil, l.Report, nil)

	d := g.Evaluate(context.Background(), buyInput("AAPL", 10, 100, before))
	if d.Allow {
		t.Fatalf("expected veto")
	}
	if !reflect.DeepEqual(before, l.Report()) {
		t.Errorf("ledger state changed by a gate veto")
	}
}

func TestGate_CheckTradeAdapter(t *testing.T) {
	l := ledger.New(config.LedgerConfig{InitialCash: 100000}, nil)
	cfg := baseRiskConfig()
	cfg.HedgeRules = map[string]string{"TSLA": "SELL"}
	g := NewGate(cfg, config.GateScoreConfig{}, config.SentimentConfig{}, nil, nil, nil, l.Report, nil)

	if !g.CheckTrade("AAPL", ledger.SideBuy, 10, 1000) {
		t.Errorf("healthy trade should pass CheckTrade")
	}
	if g.CheckTrade("TSLA", ledger.SideSell, 10, 1000) {
		t.Errorf("hedge-ruled SELL should fail CheckTrade")
	}
	if g.CheckTrade("AAPL", ledger.SideBuy, 10, 30000) {
		t.Errorf("notional above the per-trade risk budget should fail CheckTrade")
	}
}

package risk

import (
	"testing"

	"trade-core/internal/config"
	"trade-core/internal/regime"
)

func gsConfig() config.GateScoreConfig {
	return config.GateScoreConfig{
		Weights:    map[string]float64{"trend": 2, "momentum": 1, "ml": 1},
		Threshold:  0.60,
		BearAdjust: 0.10,
		BullAdjust: 0.05,
	}
}

func TestGateScore_WeightedAverage(t *testing.T) {
	gs := NewGateScore(gsConfig(), nil)

	// (2×0.8 + 1×0.6 + 1×0.6)/4 = 0.70 ≥ 0.60。
	scores := map[string]float64{"trend": 0.8, "momentum": 0.6, "ml": 0.6}
	if d := gs.Check(scores, regime.Sideways); !d.Allow {
		t.Fatalf("expected allow, got %s: %v", d.Reason, d.Notes)
	}

	// (2×0.5 + 1×0.5 + 1×0.5)/4 = 0.50 < 0.60。
	low := map[string]float64{"trend": 0.5, "momentum": 0.5, "ml": 0.5}
	if d := gs.Check(low, regime.Sideways); d.Allow || d.Reason != ReasonLowConfidence {
		t.Errorf("expected low_confidence veto, got allow=%v reason=%s", d.Allow, d.Reason)
	}
}

func TestGateScore_RegimeAdjustsThreshold(t *testing.T) {
	gs := NewGateScore(gsConfig(), nil)
	scores := map[string]float64{"trend": 0.65, "momentum": 0.65, "ml": 0.65}

	if d := gs.Check(scores, regime.Sideways); !d.Allow {
		t.Fatalf("0.65 should pass base threshold 0.60, got %s", d.Reason)
	}
	// 熊市阈值抬到 0.70。
	if d := gs.Check(scores, regime.Bear); d.Allow {
		t.Errorf("0.65 should fail bear threshold 0.70")
	}
	if d := gs.Check(scores, regime.Crisis); d.Allow {
		t.Errorf("0.65 should fail crisis threshold 0.70")
	}

	// 牛市阈值降到 0.55。
	lower := map[string]float64{"trend": 0.57, "momentum": 0.57, "ml": 0.57}
	if d := gs.Check(lower, regime.Bull); !d.Allow {
		t.Errorf("0.57 should pass bull threshold 0.55, got %s", d.Reason)
	}
}

func TestGateScore_MissingModels(t *testing.T) {
	cfg := gsConfig()
	gs := NewGateScore(cfg, nil)

	// 宽松模式：缺失模型连同权重剔除，(2×0.8+1×0.8)/3 = 0.8。
	partial := map[string]float64{"trend": 0.8, "momentum": 0.8}
	if d := gs.Check(partial, regime.Sideways); !d.Allow {
		t.Fatalf("lenient mode should drop missing model, got %s", d.Reason)
	}

	cfg.StrictMissing = true
	strict := NewGateScore(cfg, nil)
	if d := strict.Check(partial, regime.Sideways); d.Allow || d.Reason != ReasonLowConfidence {
		t.Errorf("strict mode should veto on missing model, got allow=%v", d.Allow)
	}
}

func TestGateScore_ZeroContributingWeightVetoes(t *testing.T) {
	gs := NewGateScore(gsConfig(), nil)

	// 所有输入都不在权重表内，贡献权重为零。
	d := gs.Check(map[string]float64{"unknown": 0.9}, regime.Sideways)
	if d.Allow || d.Reason != ReasonLowConfidence {
		t.Errorf("expected veto on zero contributing weight, got allow=%v reason=%s", d.Allow, d.Reason)
	}
}

func TestGateScore_InvalidWeightsFallBackToEqualSplit(t *testing.T) {
	cfg := gsConfig()
	cfg.Weights = map[string]float64{"trend": -1, "momentum": 2}
	gs := NewGateScore(cfg, nil)

	// 等权分摊：(0.9+0.5)/2 = 0.7 ≥ 0.6。
	scores := map[string]float64{"trend": 0.9, "momentum": 0.5}
	if d := gs.Check(scores, regime.Sideways); !d.Allow {
		t.Errorf("equal-split fallback should pass, got %s: %v", d.Reason, d.Notes)
	}
}

func TestGateScore_NotConfiguredIsNoop(t *testing.T) {
	gs := NewGateScore(config.GateScoreConfig{Threshold: 0.6}, nil)
	if d := gs.Check(nil, regime.Sideways); !d.Allow {
		t.Errorf("unconfigured ensemble should pass, got %s", d.Reason)
	}
}

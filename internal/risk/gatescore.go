package risk

import (
	"fmt"

	"go.uber.org/zap"

	"trade-core/internal/config"
	"trade-core/internal/regime"
)

// GateScore 把多个模型的信心度按权重合成一个分数，
// 与随市场状态调整的阈值比较后给出放行/否决。
type GateScore struct {
	cfg    config.GateScoreConfig
	logger *zap.Logger
}

// NewGateScore 创建组合信心度检查。
func NewGateScore(cfg config.GateScoreConfig, logger *zap.Logger) *GateScore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GateScore{cfg: cfg, logger: logger}
}

// Check 计算加权信心度并与阈值比较。
// 没有配置权重也没有模型输入时视为未启用，直接放行。
func (gs *GateScore) Check(scores map[string]float64, market regime.Regime) Decision {
	if len(gs.cfg.Weights) == 0 && len(scores) == 0 {
		return allow()
	}

	weights := gs.effectiveWeights(scores)

	var weighted, totalWeight float64
	for model, weight := range weights {
		score, ok := scores[model]
		if !ok {
			if gs.cfg.StrictMissing {
				return deny(ReasonLowConfidence,
					fmt.Sprintf("模型 %s 缺失输入（严格模式）", model))
			}
			// 宽松模式：缺失的模型连同其权重一并剔除。
			continue
		}
		weighted += weight * score
		totalWeight += weight
	}

	if totalWeight <= 0 {
		return deny(ReasonLowConfidence, "没有任何模型贡献有效权重")
	}

	combined := weighted / totalWeight
	threshold := gs.adjustedThreshold(market)

	if combined < threshold {
		return deny(ReasonLowConfidence,
			fmt.Sprintf("组合信心度 %.3f 低于阈值 %.3f（市场状态 %s）", combined, threshold, market))
	}
	return allow()
}

// effectiveWeights 归一化配置权重；权重非法时对模型输入做等权分摊。
func (gs *GateScore) effectiveWeights(scores map[string]float64) map[string]float64 {
	var sum float64
	valid := len(gs.cfg.Weights) > 0
	for _, w := range gs.cfg.Weights {
		if w < 0 {
			valid = false
			break
		}
		sum += w
	}
	if sum <= 0 {
		valid = false
	}

	if !valid {
		gs.logger.Warn("组合权重非法，退化为等权分摊", zap.Int("models", len(scores)))
		equal := make(map[string]float64, len(scores))
		for model := range scores {
			equal[model] = 1.0 / float64(len(scores))
		}
		return equal
	}

	normalized := make(map[string]float64, len(gs.cfg.Weights))
	for model, w := range gs.cfg.Weights {
		normalized[model] = w / sum
	}
	return normalized
}

// adjustedThreshold 按市场状态调整阈值：熊市/危机抬高，牛市降低。
func (gs *GateScore) adjustedThreshold(market regime.Regime) float64 {
	threshold := gs.cfg.Threshold
	switch market {
	case regime.Bear, regime.Crisis:
		threshold += gs.cfg.BearAdjust
	case regime.Bull:
		threshold -= gs.cfg.BullAdjust
	}
	if threshold < 0 {
		threshold = 0
	}
	if threshold > 1 {
		threshold = 1
	}
	return threshold
}

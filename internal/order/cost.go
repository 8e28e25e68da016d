package order

import (
	"trade-core/internal/config"
	"trade-core/internal/ledger"
)

// CostModel 计算佣金与滑点。独立成类型方便干跑与纸面路径复用。
type CostModel struct {
	cfg config.ExecutionConfig
}

// NewCostModel 构造成本模型。
func NewCostModel(cfg config.ExecutionConfig) *CostModel {
	return &CostModel{cfg: cfg}
}

// Commission 计算一笔成交的佣金：按比例 + 按股，低于下限按下限收取。
func (c *CostModel) Commission(qty, price float64) float64 {
	commission := c.cfg.CommissionPct*qty*price + c.cfg.CommissionPerShare*qty
	if commission < c.cfg.MinCommission {
		commission = c.cfg.MinCommission
	}
	return commission
}

// FillPrice 返回滑点调整后的成交价：买方吃价上移，卖方下移。
func (c *CostModel) FillPrice(side ledger.Side, price float64) float64 {
	if side == ledger.SideBuy {
		return price + c.cfg.SlippagePerShare
	}
	adjusted := price - c.cfg.SlippagePerShare
	if adjusted <= 0 {
		return price
	}
	return adjusted
}

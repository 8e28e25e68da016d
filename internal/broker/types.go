package broker

import (
	"context"
	"time"

	"trade-core/internal/ledger"
)

// OrderRequest 描述一笔提交给券商后端的订单。
// LimitPrice 为空表示市价单；StopLoss/TakeProfit 为空表示不挂保护单。
type OrderRequest struct {
	ClientID   string
	Symbol     string
	Side       ledger.Side
	Size       float64
	Price      float64 // 参考市场价，模拟成交与滑点基于此价
	LimitPrice *float64
	StopPrice  *float64
	StopLoss   *float64
	TakeProfit *float64
}

// Fill 描述后端返回的成交结果。Status 为后端原始状态，
// 由路由层统一归一化；Reason 在非成交状态时说明原因。
type Fill struct {
	Status     string
	Reason     string
	FilledQty  float64
	AvgPrice   float64
	Commission float64
}

// OpenOrder 表示后端的一笔未完成订单。
type OpenOrder struct {
	ID     string
	Symbol string
	Side   ledger.Side
	Size   float64
	Price  float64
}

// PositionInfo 表示后端侧的持仓快照。
type PositionInfo struct {
	Symbol     string
	Size       float64
	EntryPrice float64
	Unrealized float64
}

// Profile 提供路由评分所需的券商画像。
type Profile struct {
	Name           string
	CommissionRate float64
	AvgLatency     time.Duration
	LiquidityScore float64
}

// Backend 是券商后端的统一边界。实现方自行处理鉴权、
// 重试与错误分类，调用方只看到归一化后的结果。
type Backend interface {
	Connect(ctx context.Context) error
	Disconnect()
	PlaceOrder(ctx context.Context, req OrderRequest) (string, Fill, error)
	CancelOrder(ctx context.Context, orderID string) error
	OpenOrders(ctx context.Context) ([]OpenOrder, error)
	Positions(ctx context.Context) ([]PositionInfo, error)
	Profile() Profile
}

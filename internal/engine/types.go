package engine

// TradeSignal 是上游策略给出的原始交易意图。
// Price 为空表示缺少参考价，直接拒绝；Size 为空交由仓位
// 计算器决定数量；Algo 为空走直接执行。
type TradeSignal struct {
	Symbol string             `json:"symbol"`
	Side   string             `json:"side"`
	Price  *float64           `json:"price,omitempty"`
	Size   *float64           `json:"size,omitempty"`
	Algo   string             `json:"algo,omitempty"`
	Scores map[string]float64 `json:"scores,omitempty"`
}

// TradeResult 是一条信号的处理终态。
type TradeResult struct {
	Status    string
	Reason    string
	OrderID   string
	FilledQty float64
	AvgPrice  float64
}

const (
	StatusIgnored   = "ignored"
	StatusRejected  = "rejected"
	StatusBlocked   = "blocked"
	StatusPending   = "pending"
	StatusFilled    = "filled"
	StatusCancelled = "cancelled"
	StatusError     = "error"
)

// validStatuses 是引擎允许对外暴露的全部终态。
var validStatuses = map[string]struct{}{
	StatusIgnored:   {},
	StatusRejected:  {},
	StatusBlocked:   {},
	StatusPending:   {},
	StatusFilled:    {},
	StatusCancelled: {},
	StatusError:     {},
}

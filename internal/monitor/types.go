package monitor

import (
	"time"

	"trade-core/internal/ledger"
	"trade-core/internal/risk"
)

// EventType 表示监控事件类型。
type EventType string

const (
	EventSignal       EventType = "signal"
	EventRiskDecision EventType = "risk_decision"
	EventDispatch     EventType = "dispatch"
	EventLedger       EventType = "ledger"
	EventError        EventType = "error"
)

// Event 封装通用监控事件。
type Event struct {
	Type      EventType   `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

// SignalPayload 记录收到的交易信号。
type SignalPayload struct {
	Symbol string             `json:"symbol"`
	Side   string             `json:"side"`
	Algo   string             `json:"algo,omitempty"`
	Scores map[string]float64 `json:"scores,omitempty"`
}

// RiskDecisionPayload 记录风控评估过程。
type RiskDecisionPayload struct {
	Symbol   string   `json:"symbol"`
	Side     string   `json:"side"`
	Size     float64  `json:"size"`
	Notional float64  `json:"notional"`
	Allow    bool     `json:"allow"`
	Reason   string   `json:"reason"`
	Notes    []string `json:"notes,omitempty"`
}

// DispatchPayload 记录订单派发结果。
type DispatchPayload struct {
	Symbol    string  `json:"symbol"`
	Side      string  `json:"side"`
	Status    string  `json:"status"`
	Reason    string  `json:"reason,omitempty"`
	OrderID   string  `json:"order_id,omitempty"`
	FilledQty float64 `json:"filled_qty"`
	AvgPrice  float64 `json:"avg_price"`
}

// LedgerPayload 追踪组合状态快照。
type LedgerPayload struct {
	State ledger.PortfolioState `json:"state"`
}

// ErrorPayload 记录异常。
type ErrorPayload struct {
	Message string                 `json:"message"`
	Error   string                 `json:"error"`
	Context map[string]interface{} `json:"context,omitempty"`
}

func riskDecisionPayload(input risk.TradeInput, decision risk.Decision) RiskDecisionPayload {
	return RiskDecisionPayload{
		Symbol:   input.Symbol,
		Side:     string(input.Side),
		Size:     input.Size,
		Notional: input.Notional(),
		Allow:    decision.Allow,
		Reason:   string(decision.Reason),
		Notes:    decision.Notes,
	}
}

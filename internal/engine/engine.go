package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"trade-core/internal/ledger"
	"trade-core/internal/order"
	"trade-core/internal/regime"
	"trade-core/internal/risk"
	"trade-core/internal/sizer"
)

type tradeGate interface {
	Evaluate(ctx context.Context, input risk.TradeInput) risk.Decision
	ResetDay(ctx context.Context) error
	RecordOutcome(pnl float64)
}

type auditor interface {
	Append(ctx context.Context, entry AuditEntry) error
}

type notifier interface {
	Notify(ctx context.Context, event, message string)
}

// RegimeSource 提供当前市场状态，用于调节组合否决阈值。
type RegimeSource interface {
	Current() regime.Regime
}

// Engine 串起信号处理全链路：解析 → 定仓 → 风控 → 算法派发 →
// 状态归一化 → 审计与告警。定仓先于风控执行，敞口类检查需要
// 数量参与评估。每一步失败都收敛为确定的终态，绝不向调用方
// 抛出异常路径。
type Engine struct {
	book    *ledger.Ledger
	gate    tradeGate
	sizer   *sizer.Sizer
	submit  Submitter
	audit   auditor
	alerts  notifier
	regimes RegimeSource
	logger  *zap.Logger
}

// New 构造交易引擎。gate、audit、alerts、regimes 允许为空，
// 对应环节退化为跳过。
func New(book *ledger.Ledger, gate tradeGate, szr *sizer.Sizer, submit Submitter, audit auditor, alerts notifier, regimes RegimeSource, logger *zap.Logger) (*Engine, error) {
	if book == nil {
		return nil, errors.New("engine: 账本实例不能为空")
	}
	if submit == nil {
		return nil, errors.New("engine: 订单管理器不能为空")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		book:    book,
		gate:    gate,
		sizer:   szr,
		submit:  submit,
		audit:   audit,
		alerts:  alerts,
		regimes: regimes,
		logger:  logger,
	}, nil
}

// ProcessSignal 处理一条交易信号并返回终态。
func (e *Engine) ProcessSignal(ctx context.Context, sig TradeSignal) TradeResult {
	if strings.EqualFold(strings.TrimSpace(sig.Side), "HOLD") {
		return e.conclude(ctx, sig, "", 0, 0, TradeResult{Status: StatusIgnored})
	}

	side, ok := ledger.ParseSide(sig.Side)
	if !ok {
		return e.conclude(ctx, sig, "", 0, 0, TradeResult{Status: StatusRejected, Reason: "invalid_side"})
	}

	if sig.Price == nil || *sig.Price <= 0 ||
		math.IsNaN(*sig.Price) || math.IsInf(*sig.Price, 0) {
		return e.conclude(ctx, sig, side, 0, 0, TradeResult{Status: StatusRejected, Reason: "invalid_price"})
	}
	price := *sig.Price

	// 算法键在派发前解析，未知算法不会产生任何子单。
	algo, ok := lookupAlgo(sig.Algo)
	if !ok {
		return e.conclude(ctx, sig, side, 0, price, TradeResult{Status: StatusRejected, Reason: "invalid_algo"})
	}

	snapshot := e.book.Report()
	size := e.decideSize(sig, snapshot.Equity, price, snapshot.EquityHistory)

	if e.gate != nil {
		decision := e.gate.Evaluate(ctx, risk.TradeInput{
			Symbol:      sig.Symbol,
			Side:        side,
			Size:        size,
			Price:       price,
			Portfolio:   snapshot,
			ModelScores: sig.Scores,
			Regime:      e.currentRegime(),
		})
		if !decision.Allow {
			e.logger.Info("信号被风控否决",
				zap.String("symbol", sig.Symbol),
				zap.String("side", string(side)),
				zap.String("reason", string(decision.Reason)),
			)
			return e.conclude(ctx, sig, side, size, price,
				TradeResult{Status: StatusBlocked, Reason: string(decision.Reason)})
		}
	}

	res := algo.Execute(ctx, e.submit, order.Request{
		Symbol: sig.Symbol,
		Side:   side,
		Size:   size,
		Price:  price,
	})

	result := TradeResult{
		Status:    string(res.Status),
		Reason:    res.Reason,
		OrderID:   res.OrderID,
		FilledQty: res.FilledQty,
		AvgPrice:  res.AvgPrice,
	}
	if _, valid := validStatuses[result.Status]; !valid {
		e.logger.Error("下游返回未知状态",
			zap.String("symbol", sig.Symbol),
			zap.String("status", result.Status),
		)
		result = TradeResult{Status: StatusRejected, Reason: "invalid_status"}
	}

	return e.conclude(ctx, sig, side, size, price, result)
}

// RecordTradeOutcome 把已实现盈亏回灌给绩效追踪。
func (e *Engine) RecordTradeOutcome(pnl float64) {
	if e.gate == nil {
		return
	}
	e.gate.RecordOutcome(pnl)
}

// ResetDay 重置账本与风控的日度状态。任一子步骤失败不阻断
// 其余步骤，错误聚合返回。
func (e *Engine) ResetDay(ctx context.Context) error {
	var err error
	if resetErr := e.book.ResetDay(); resetErr != nil {
		err = multierr.Append(err, fmt.Errorf("engine: 账本日度重置失败: %w", resetErr))
	}
	if e.gate != nil {
		if resetErr := e.gate.ResetDay(ctx); resetErr != nil {
			err = multierr.Append(err, fmt.Errorf("engine: 风控日度重置失败: %w", resetErr))
		}
	}
	return err
}

// decideSize 采用信号显式数量，否则按 Kelly 定仓，兜底为 1。
func (e *Engine) decideSize(sig TradeSignal, equity, price float64, history []ledger.EquityPoint) float64 {
	if sig.Size != nil && *sig.Size > 0 &&
		!math.IsNaN(*sig.Size) && !math.IsInf(*sig.Size, 0) {
		return *sig.Size
	}
	if e.sizer == nil {
		return 1
	}
	return e.sizer.SizePosition(equity, price, history)
}

func (e *Engine) currentRegime() regime.Regime {
	if e.regimes == nil {
		return regime.Sideways
	}
	return e.regimes.Current()
}

// conclude 统一落审计与告警。审计失败只记日志，不改变交易状态。
func (e *Engine) conclude(ctx context.Context, sig TradeSignal, side ledger.Side, size, price float64, result TradeResult) TradeResult {
	if e.audit != nil {
		entry := AuditEntry{
			Symbol: sig.Symbol,
			Side:   side,
			Size:   size,
			Price:  price,
			Status: result.Status,
			Equity: e.book.Equity(),
			Reason: result.Reason,
		}
		if err := e.audit.Append(ctx, entry); err != nil {
			e.logger.Warn("审计写入失败",
				zap.String("symbol", sig.Symbol),
				zap.String("status", result.Status),
				zap.Error(err),
			)
		}
	}

	// HOLD 属正常终态，只落审计不告警。
	if e.alerts != nil && result.Status != StatusFilled && result.Status != StatusIgnored {
		e.alerts.Notify(ctx, "trade_not_filled",
			fmt.Sprintf("%s %s 终态 %s: %s", sig.Symbol, sig.Side, result.Status, result.Reason))
	}
	return result
}

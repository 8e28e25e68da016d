package order

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"trade-core/internal/broker"
	"trade-core/internal/config"
	"trade-core/internal/ledger"
	"trade-core/internal/risk"
)

// Status 是订单的终态口径。
type Status string

const (
	StatusRejected  Status = "rejected"
	StatusBlocked   Status = "blocked"
	StatusPending   Status = "pending"
	StatusFilled    Status = "filled"
	StatusCancelled Status = "cancelled"
	StatusError     Status = "error"
)

// ErrUnknownOrder 表示订单号不存在。
var ErrUnknownOrder = errors.New("order: unknown order")

// Request 描述一笔待执行订单。
type Request struct {
	Symbol     string
	Side       ledger.Side
	Size       float64
	Price      float64
	LimitPrice *float64
	StopLoss   *float64
	TakeProfit *float64
}

// Order 是管理器内部跟踪的订单记录。
type Order struct {
	ID         string
	Symbol     string
	Side       ledger.Side
	Size       float64
	Price      float64
	Status     Status
	Reason     string
	FilledQty  float64
	AvgPrice   float64
	Commission float64
	BackendID  string
	CreatedAt  time.Time
}

// Result 是单笔订单执行的产出。
type Result struct {
	OrderID    string
	Status     Status
	Reason     string
	FilledQty  float64
	AvgPrice   float64
	Commission float64
}

// Dispatcher 把订单交给下游路由执行。
type Dispatcher interface {
	Dispatch(ctx context.Context, req broker.OrderRequest) (string, broker.Fill, error)
	Cancel(ctx context.Context, backendID string) error
}

// Manager 驱动订单生命周期：接收 → 校验 → 风控 → 执行。
// 干跑模式在本地模拟成本后直接记账；纸面与实盘经由路由分发，
// 只有确认成交才会写入账本。
type Manager struct {
	cfg        config.ExecutionConfig
	ledger     *ledger.Ledger
	checker    risk.TradeChecker
	dispatcher Dispatcher
	cost       *CostModel
	logger     *zap.Logger

	mu     sync.Mutex
	seq    int
	orders map[string]*Order
}

// NewManager 构造订单管理器。checker 与 dispatcher 允许为空：
// 无 checker 跳过风控检查，干跑模式无需 dispatcher。
func NewManager(cfg config.ExecutionConfig, book *ledger.Ledger, checker risk.TradeChecker, dispatcher Dispatcher, logger *zap.Logger) (*Manager, error) {
	if book == nil {
		return nil, errors.New("order: 账本实例不能为空")
	}
	mode := strings.ToLower(cfg.Mode)
	if mode != "dryrun" && mode != "paper" && mode != "live" {
		return nil, fmt.Errorf("order: 执行模式 %q 无效", cfg.Mode)
	}
	if mode != "dryrun" && dispatcher == nil {
		return nil, fmt.Errorf("order: %s 模式需要路由实例", mode)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		cfg:        cfg,
		ledger:     book,
		checker:    checker,
		dispatcher: dispatcher,
		cost:       NewCostModel(cfg),
		logger:     logger,
		orders:     make(map[string]*Order),
	}, nil
}

// Submit 执行一笔订单并返回终态。风控否决与校验失败不会触碰账本。
func (m *Manager) Submit(ctx context.Context, req Request) Result {
	ord := m.track(req)

	if reason, ok := validate(req); !ok {
		return m.finish(ord, StatusRejected, reason)
	}

	if m.checker != nil && !m.checker.CheckTrade(req.Symbol, req.Side, req.Size, req.Size*req.Price) {
		return m.finish(ord, StatusBlocked, "risk_veto")
	}

	switch strings.ToLower(m.cfg.Mode) {
	case "dryrun":
		return m.executeDryRun(ord, req)
	case "paper":
		return m.executeDispatch(ctx, ord, req, false)
	default:
		return m.executeDispatch(ctx, ord, req, true)
	}
}

// executeDryRun 本地模拟成交：滑点调价、佣金计费，然后记账。
func (m *Manager) executeDryRun(ord *Order, req Request) Result {
	fillPrice := m.cost.FillPrice(req.Side, req.Price)
	commission := m.cost.Commission(req.Size, fillPrice)

	if _, err := m.ledger.UpdatePosition(req.Symbol, req.Side, req.Size, fillPrice, commission); err != nil {
		m.logger.Error("干跑记账失败", zap.String("order_id", ord.ID), zap.Error(err))
		return m.finish(ord, StatusError, err.Error())
	}

	m.recordFill(ord, req.Size, fillPrice, commission)
	return m.finish(ord, StatusFilled, "")
}

// executeDispatch 经路由执行。live 为真时吞掉下游错误，
// 只体现在订单状态上。
func (m *Manager) executeDispatch(ctx context.Context, ord *Order, req Request, live bool) Result {
	backendID, fill, err := m.dispatcher.Dispatch(ctx, broker.OrderRequest{
		ClientID:   ord.ID,
		Symbol:     req.Symbol,
		Side:       req.Side,
		Size:       req.Size,
		Price:      req.Price,
		LimitPrice: req.LimitPrice,
		StopLoss:   req.StopLoss,
		TakeProfit: req.TakeProfit,
	})
	if err != nil {
		m.logger.Error("订单分发失败",
			zap.String("order_id", ord.ID),
			zap.Bool("live", live),
			zap.Error(err),
		)
		return m.finish(ord, StatusError, err.Error())
	}

	m.setBackendID(ord, backendID)

	switch strings.ToLower(fill.Status) {
	case "filled":
		if _, err := m.ledger.UpdatePosition(req.Symbol, req.Side, fill.FilledQty, fill.AvgPrice, fill.Commission); err != nil {
			m.logger.Error("成交记账失败", zap.String("order_id", ord.ID), zap.Error(err))
			return m.finish(ord, StatusError, err.Error())
		}
		m.recordFill(ord, fill.FilledQty, fill.AvgPrice, fill.Commission)
		return m.finish(ord, StatusFilled, "")
	case "pending":
		return m.finish(ord, StatusPending, "")
	case "blocked":
		return m.finish(ord, StatusBlocked, fill.Reason)
	default:
		// 未成交一律按执行失败处理，账本保持不变。
		return m.finish(ord, StatusError, fmt.Sprintf("not_filled: %s", fill.Status))
	}
}

// CancelOrder 撤销一笔挂单。未知订单号返回错误且不做任何改动。
func (m *Manager) CancelOrder(ctx context.Context, orderID string) error {
	m.mu.Lock()
	ord, ok := m.orders[orderID]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownOrder, orderID)
	}
	if ord.Status != StatusPending {
		m.mu.Unlock()
		return fmt.Errorf("order: 订单 %s 状态 %s 不可撤销", orderID, ord.Status)
	}
	backendID := ord.BackendID
	m.mu.Unlock()

	if m.dispatcher != nil && backendID != "" {
		if err := m.dispatcher.Cancel(ctx, backendID); err != nil {
			return fmt.Errorf("order: 撤单失败: %w", err)
		}
	}

	m.mu.Lock()
	ord.Status = StatusCancelled
	m.mu.Unlock()
	return nil
}

// FlattenAll 撤销所有挂单。逐单失败聚合后返回，不中断其余撤单。
func (m *Manager) FlattenAll(ctx context.Context) error {
	m.mu.Lock()
	pending := make([]string, 0)
	for id, ord := range m.orders {
		if ord.Status == StatusPending {
			pending = append(pending, id)
		}
	}
	m.mu.Unlock()

	var err error
	for _, id := range pending {
		if cancelErr := m.CancelOrder(ctx, id); cancelErr != nil {
			err = multierr.Append(err, cancelErr)
		}
	}
	if err != nil {
		return fmt.Errorf("order: 清理挂单未完全成功: %w", err)
	}
	return nil
}

// Get 返回订单快照。
func (m *Manager) Get(orderID string) (Order, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ord, ok := m.orders[orderID]
	if !ok {
		return Order{}, false
	}
	return *ord, true
}

// ActiveCount 返回挂单数量。
func (m *Manager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, ord := range m.orders {
		if ord.Status == StatusPending {
			count++
		}
	}
	return count
}

func (m *Manager) track(req Request) *Order {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.seq++
	ord := &Order{
		ID:        fmt.Sprintf("ord-%d-%d", time.Now().UnixNano(), m.seq),
		Symbol:    req.Symbol,
		Side:      req.Side,
		Size:      req.Size,
		Price:     req.Price,
		Status:    StatusPending,
		CreatedAt: time.Now().UTC(),
	}
	m.orders[ord.ID] = ord
	return ord
}

func (m *Manager) recordFill(ord *Order, qty, price, commission float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ord.FilledQty = qty
	ord.AvgPrice = price
	ord.Commission = commission
}

func (m *Manager) setBackendID(ord *Order, backendID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ord.BackendID = backendID
}

func (m *Manager) finish(ord *Order, status Status, reason string) Result {
	m.mu.Lock()
	defer m.mu.Unlock()
	ord.Status = status
	ord.Reason = reason
	return Result{
		OrderID:    ord.ID,
		Status:     status,
		Reason:     reason,
		FilledQty:  ord.FilledQty,
		AvgPrice:   ord.AvgPrice,
		Commission: ord.Commission,
	}
}

func validate(req Request) (string, bool) {
	if req.Symbol == "" {
		return "invalid_symbol", false
	}
	if req.Side != ledger.SideBuy && req.Side != ledger.SideSell {
		return "invalid_side", false
	}
	if req.Size <= 0 || math.IsNaN(req.Size) || math.IsInf(req.Size, 0) {
		return "invalid_size", false
	}
	if req.Price <= 0 || math.IsNaN(req.Price) || math.IsInf(req.Price, 0) {
		return "invalid_price", false
	}
	return "", true
}

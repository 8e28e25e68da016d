package broker

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"trade-core/internal/config"
	"trade-core/internal/ledger"
)

// paperLiquidityBase 是 LiquidityScore=1 时单笔可吃掉的名义金额。
const paperLiquidityBase = 1_000_000.0

// PaperBroker 模拟撮合的纸面券商后端：市价单按参考价加滑点成交，
// 限价/止损单在提交时检查触发条件，未触发则挂起；超出流动性
// 上限的部分拆为挂单。
type PaperBroker struct {
	cfg    config.BrokerConfig
	exec   config.ExecutionConfig
	logger *zap.Logger
	rng    *rand.Rand

	mu        sync.Mutex
	connected bool
	seq       int
	open      map[string]OrderRequest
	positions map[string]*PositionInfo
}

// NewPaperBroker 构造纸面后端。
func NewPaperBroker(cfg config.BrokerConfig, exec config.ExecutionConfig, logger *zap.Logger) *PaperBroker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PaperBroker{
		cfg:       cfg,
		exec:      exec,
		logger:    logger.With(zap.String("broker", cfg.Name)),
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
		open:      make(map[string]OrderRequest),
		positions: make(map[string]*PositionInfo),
	}
}

// Connect 标记后端可用。
func (p *PaperBroker) Connect(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.connected = true
	return nil
}

// Disconnect 标记后端不可用，挂单保留。
func (p *PaperBroker) Disconnect() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.connected = false
}

// PlaceOrder 模拟撮合一笔订单。
func (p *PaperBroker) PlaceOrder(ctx context.Context, req OrderRequest) (string, Fill, error) {
	if err := ctx.Err(); err != nil {
		return "", Fill{}, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.connected {
		return "", Fill{}, ErrNotConnected
	}
	if req.Size <= 0 || math.IsNaN(req.Size) || math.IsInf(req.Size, 0) {
		return "", Fill{}, fmt.Errorf("broker: 无效下单数量 %f", req.Size)
	}
	if req.Price <= 0 || math.IsNaN(req.Price) || math.IsInf(req.Price, 0) {
		return "", Fill{}, fmt.Errorf("broker: 无效参考价 %f", req.Price)
	}

	p.simulateLatency()

	orderID := p.nextID()

	if !p.triggered(req) {
		p.open[orderID] = req
		p.logger.Debug("订单未触发，转为挂单",
			zap.String("order_id", orderID),
			zap.String("symbol", req.Symbol),
		)
		return orderID, Fill{Status: "pending"}, nil
	}

	fillPrice := p.fillPrice(req)
	filledQty := req.Size
	status := "filled"

	// 流动性上限内一次吃满，超出部分拆为挂单。
	maxQty := p.maxFillQty(fillPrice)
	if maxQty > 0 && filledQty > maxQty {
		remainder := req
		remainder.Size = filledQty - maxQty
		p.open[p.nextID()] = remainder
		filledQty = maxQty
		status = "partial"
	}

	commission := p.cfg.CommissionRate * filledQty * fillPrice
	p.applyFill(req.Symbol, req.Side, filledQty, fillPrice)
	p.attachBrackets(req, filledQty)

	p.logger.Info("纸面订单成交",
		zap.String("order_id", orderID),
		zap.String("symbol", req.Symbol),
		zap.String("side", string(req.Side)),
		zap.Float64("filled", filledQty),
		zap.Float64("price", fillPrice),
		zap.String("status", status),
	)

	return orderID, Fill{
		Status:     status,
		FilledQty:  filledQty,
		AvgPrice:   fillPrice,
		Commission: commission,
	}, nil
}

// CancelOrder 撤销挂单。未知订单返回错误且状态不变。
func (p *PaperBroker) CancelOrder(ctx context.Context, orderID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.open[orderID]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownOrder, orderID)
	}
	delete(p.open, orderID)
	return nil
}

// OpenOrders 返回当前挂单。
func (p *PaperBroker) OpenOrders(ctx context.Context) ([]OpenOrder, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	orders := make([]OpenOrder, 0, len(p.open))
	for id, req := range p.open {
		price := req.Price
		if req.LimitPrice != nil {
			price = *req.LimitPrice
		}
		orders = append(orders, OpenOrder{
			ID:     id,
			Symbol: req.Symbol,
			Side:   req.Side,
			Size:   req.Size,
			Price:  price,
		})
	}
	return orders, nil
}

// Positions 返回模拟持仓。
func (p *PaperBroker) Positions(ctx context.Context) ([]PositionInfo, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	result := make([]PositionInfo, 0, len(p.positions))
	for _, pos := range p.positions {
		result = append(result, *pos)
	}
	return result, nil
}

// Profile 返回路由评分画像。
func (p *PaperBroker) Profile() Profile {
	return Profile{
		Name:           p.cfg.Name,
		CommissionRate: p.cfg.CommissionRate,
		AvgLatency:     time.Duration(p.cfg.AvgLatencyMs) * time.Millisecond,
		LiquidityScore: p.cfg.LiquidityScore,
	}
}

// triggered 判断订单在当前参考价下能否立即成交。
func (p *PaperBroker) triggered(req OrderRequest) bool {
	if req.StopPrice != nil && *req.StopPrice > 0 {
		if req.Side == ledger.SideBuy && req.Price < *req.StopPrice {
			return false
		}
		if req.Side == ledger.SideSell && req.Price > *req.StopPrice {
			return false
		}
	}
	if req.LimitPrice != nil && *req.LimitPrice > 0 {
		if req.Side == ledger.SideBuy && req.Price > *req.LimitPrice {
			return false
		}
		if req.Side == ledger.SideSell && req.Price < *req.LimitPrice {
			return false
		}
	}
	return true
}

// fillPrice 计算成交价：限价单按限价成交，市价单按参考价加滑点。
func (p *PaperBroker) fillPrice(req OrderRequest) float64 {
	if req.LimitPrice != nil && *req.LimitPrice > 0 {
		return *req.LimitPrice
	}
	if req.Side == ledger.SideBuy {
		return req.Price + p.exec.SlippagePerShare
	}
	price := req.Price - p.exec.SlippagePerShare
	if price <= 0 {
		price = req.Price
	}
	return price
}

func (p *PaperBroker) maxFillQty(price float64) float64 {
	if p.cfg.LiquidityScore <= 0 || price <= 0 {
		return 0
	}
	return p.cfg.LiquidityScore * paperLiquidityBase / price
}

func (p *PaperBroker) applyFill(symbol string, side ledger.Side, qty, price float64) {
	signed := qty
	if side == ledger.SideSell {
		signed = -qty
	}

	pos, ok := p.positions[symbol]
	if !ok {
		p.positions[symbol] = &PositionInfo{Symbol: symbol, Size: signed, EntryPrice: price}
		return
	}

	newSize := pos.Size + signed
	switch {
	case math.Abs(newSize) < 1e-9:
		delete(p.positions, symbol)
	case pos.Size*signed > 0:
		pos.EntryPrice = (pos.EntryPrice*math.Abs(pos.Size) + price*qty) / math.Abs(newSize)
		pos.Size = newSize
	case pos.Size*newSize < 0:
		// 反向穿仓，剩余部分按本次成交价开新仓。
		pos.Size = newSize
		pos.EntryPrice = price
	default:
		pos.Size = newSize
	}
}

// attachBrackets 为成交部分挂上止损/止盈保护单。
func (p *PaperBroker) attachBrackets(req OrderRequest, filledQty float64) {
	if filledQty <= 0 {
		return
	}

	exitSide := ledger.SideSell
	if req.Side == ledger.SideSell {
		exitSide = ledger.SideBuy
	}

	if req.StopLoss != nil && *req.StopLoss > 0 {
		stop := *req.StopLoss
		p.open[p.nextID()] = OrderRequest{
			Symbol:    req.Symbol,
			Side:      exitSide,
			Size:      filledQty,
			Price:     req.Price,
			StopPrice: &stop,
		}
	}
	if req.TakeProfit != nil && *req.TakeProfit > 0 {
		limit := *req.TakeProfit
		p.open[p.nextID()] = OrderRequest{
			Symbol:     req.Symbol,
			Side:       exitSide,
			Size:       filledQty,
			Price:      req.Price,
			LimitPrice: &limit,
		}
	}
}

func (p *PaperBroker) simulateLatency() {
	if p.cfg.AvgLatencyMs <= 0 {
		return
	}
	jitter := 0.75 + p.rng.Float64()*0.5
	time.Sleep(time.Duration(p.cfg.AvgLatencyMs*jitter) * time.Millisecond)
}

func (p *PaperBroker) nextID() string {
	p.seq++
	return fmt.Sprintf("paper-%s-%d", p.cfg.Name, p.seq)
}

var _ Backend = (*PaperBroker)(nil)
var _ Backend = (*CCXTBroker)(nil)

package broker

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	ccxt "github.com/ccxt/ccxt/go/v4"
	"go.uber.org/zap"

	"trade-core/internal/config"
	"trade-core/internal/ledger"
)

// CCXTBroker 基于 ccxt 的实盘券商后端。
type CCXTBroker struct {
	cfg      config.BrokerConfig
	logger   *zap.Logger
	exchange *ccxt.Binanceusdm

	mu        sync.Mutex
	connected bool
}

// NewCCXTBroker 构造实盘后端。凭证缺失时照常构造，
// 公共接口可用，下单会被交易所拒绝。
func NewCCXTBroker(cfg config.BrokerConfig, logger *zap.Logger) (*CCXTBroker, error) {
	if cfg.Name == "" {
		return nil, errors.New("broker: 券商名称不能为空")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	userConfig := map[string]interface{}{
		"enableRateLimit": true,
		"options": map[string]interface{}{
			"adjustForTimeDifference": true,
			"defaultType":             "future",
		},
	}
	if cfg.APIKey != "" {
		userConfig["apiKey"] = cfg.APIKey
	}
	if cfg.APISecret != "" {
		userConfig["secret"] = cfg.APISecret
	}
	if cfg.APIPass != "" {
		userConfig["password"] = cfg.APIPass
	}

	ex := ccxt.NewBinanceusdm(userConfig)
	if cfg.UseSandbox {
		ex.SetSandboxMode(true)
	}

	return &CCXTBroker{
		cfg:      cfg,
		logger:   logger.With(zap.String("broker", cfg.Name)),
		exchange: ex,
	}, nil
}

// Connect 加载市场元数据并标记后端可用。
func (b *CCXTBroker) Connect(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.connected {
		return nil
	}

	err := b.callWithRetry(ctx, "load_markets", func() error {
		_, loadErr := b.exchange.LoadMarkets()
		return loadErr
	})
	if err != nil {
		return fmt.Errorf("broker: 加载市场元数据失败: %w", err)
	}

	b.connected = true
	b.logger.Info("券商后端已连接", zap.String("market", b.cfg.Market))
	return nil
}

// Disconnect 标记后端不可用。ccxt 客户端无持久连接需要关闭。
func (b *CCXTBroker) Disconnect() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.connected = false
}

// PlaceOrder 提交订单。限价单在 LimitPrice 非空时生效，
// 保护单通过交易所参数附带。
func (b *CCXTBroker) PlaceOrder(ctx context.Context, req OrderRequest) (string, Fill, error) {
	if !b.isConnected() {
		return "", Fill{}, ErrNotConnected
	}

	orderType := "market"
	params := map[string]interface{}{}
	if req.StopLoss != nil && *req.StopLoss > 0 {
		params["stopLossPrice"] = *req.StopLoss
	}
	if req.TakeProfit != nil && *req.TakeProfit > 0 {
		params["takeProfitPrice"] = *req.TakeProfit
	}

	opts := []ccxt.CreateOrderOptions{}
	if req.LimitPrice != nil && *req.LimitPrice > 0 {
		orderType = "limit"
		opts = append(opts, ccxt.WithCreateOrderPrice(*req.LimitPrice))
	}
	if len(params) > 0 {
		opts = append(opts, ccxt.WithCreateOrderParams(params))
	}

	var raw ccxt.Order
	err := b.callWithRetry(ctx, "create_order", func() error {
		order, callErr := b.exchange.CreateOrder(
			req.Symbol, orderType, sideString(req.Side), req.Size, opts...)
		if callErr != nil {
			return callErr
		}
		raw = order
		return nil
	})
	if err != nil {
		return "", Fill{}, fmt.Errorf("broker: 下单失败: %w", err)
	}

	orderID := derefString(raw.Id)
	fill := Fill{
		Status:     normalizeExchangeStatus(derefString(raw.Status)),
		FilledQty:  derefFloat(raw.Filled),
		AvgPrice:   derefFloat(raw.Average),
		Commission: b.cfg.CommissionRate * derefFloat(raw.Filled) * derefFloat(raw.Average),
	}
	if fill.AvgPrice == 0 {
		fill.AvgPrice = derefFloat(raw.Price)
	}

	b.logger.Info("订单已提交",
		zap.String("order_id", orderID),
		zap.String("symbol", req.Symbol),
		zap.String("side", string(req.Side)),
		zap.Float64("size", req.Size),
		zap.String("status", fill.Status),
	)
	return orderID, fill, nil
}

// CancelOrder 撤销指定订单。
func (b *CCXTBroker) CancelOrder(ctx context.Context, orderID string) error {
	if !b.isConnected() {
		return ErrNotConnected
	}

	err := b.callWithRetry(ctx, "cancel_order", func() error {
		_, callErr := b.exchange.CancelOrder(orderID,
			ccxt.WithCancelOrderSymbol(b.cfg.Market))
		return callErr
	})
	if err != nil {
		return fmt.Errorf("broker: 撤单失败: %w", err)
	}
	return nil
}

// OpenOrders 返回当前未完成订单。
func (b *CCXTBroker) OpenOrders(ctx context.Context) ([]OpenOrder, error) {
	if !b.isConnected() {
		return nil, ErrNotConnected
	}

	var raw []ccxt.Order
	err := b.callWithRetry(ctx, "fetch_open_orders", func() error {
		orders, callErr := b.exchange.FetchOpenOrders(
			ccxt.WithFetchOpenOrdersSymbol(b.cfg.Market))
		if callErr != nil {
			return callErr
		}
		raw = orders
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("broker: 查询挂单失败: %w", err)
	}

	open := make([]OpenOrder, 0, len(raw))
	for _, order := range raw {
		side, ok := ledger.ParseSide(derefString(order.Side))
		if !ok {
			continue
		}
		open = append(open, OpenOrder{
			ID:     derefString(order.Id),
			Symbol: derefString(order.Symbol),
			Side:   side,
			Size:   derefFloat(order.Remaining),
			Price:  derefFloat(order.Price),
		})
	}
	return open, nil
}

// Positions 返回后端侧持仓快照。
func (b *CCXTBroker) Positions(ctx context.Context) ([]PositionInfo, error) {
	if !b.isConnected() {
		return nil, ErrNotConnected
	}

	var raw []ccxt.Position
	err := b.callWithRetry(ctx, "fetch_positions", func() error {
		positions, callErr := b.exchange.FetchPositions()
		if callErr != nil {
			return callErr
		}
		raw = positions
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("broker: 获取持仓失败: %w", err)
	}

	result := make([]PositionInfo, 0, len(raw))
	for _, pos := range raw {
		size := derefFloat(pos.Contracts)
		if size == 0 {
			continue
		}
		if strings.EqualFold(derefString(pos.Side), "short") {
			size = -size
		}
		result = append(result, PositionInfo{
			Symbol:     derefString(pos.Symbol),
			Size:       size,
			EntryPrice: derefFloat(pos.EntryPrice),
			Unrealized: derefFloat(pos.UnrealizedPnl),
		})
	}
	return result, nil
}

// Profile 返回路由评分画像。
func (b *CCXTBroker) Profile() Profile {
	return Profile{
		Name:           b.cfg.Name,
		CommissionRate: b.cfg.CommissionRate,
		AvgLatency:     time.Duration(b.cfg.AvgLatencyMs) * time.Millisecond,
		LiquidityScore: b.cfg.LiquidityScore,
	}
}

func (b *CCXTBroker) isConnected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.connected
}

func (b *CCXTBroker) callWithRetry(ctx context.Context, operation string, fn func() error) error {
	attempt := 0
	delay := b.cfg.Retry.MinDelay
	if delay <= 0 {
		delay = 500 * time.Millisecond
	}
	maxDelay := b.cfg.Retry.MaxDelay
	if maxDelay <= 0 {
		maxDelay = 5 * time.Second
	}
	maxAttempts := b.cfg.Retry.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}

	for {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		attempt++
		start := time.Now()
		err := fn()
		duration := time.Since(start)
		if err == nil {
			if attempt > 1 {
				b.logger.Info("券商调用重试后成功",
					zap.String("operation", operation),
					zap.Int("attempts", attempt),
					zap.Duration("latency", duration),
				)
			}
			return nil
		}

		normalizedErr, retry := classifyError(err)

		if errors.Is(normalizedErr, ErrMaintenance) {
			b.logger.Warn("交易所维护中",
				zap.String("operation", operation),
				zap.Error(normalizedErr),
			)
			return normalizedErr
		}

		if !retry || attempt >= maxAttempts {
			b.logger.Error("券商调用失败",
				zap.String("operation", operation),
				zap.Int("attempts", attempt),
				zap.Duration("latency", duration),
				zap.Error(normalizedErr),
			)
			return normalizedErr
		}

		wait := delay
		if wait > maxDelay {
			wait = maxDelay
		}

		b.logger.Warn("券商调用失败，等待重试",
			zap.String("operation", operation),
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.Error(normalizedErr),
		)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		delay *= 2
		if delay > maxDelay {
			delay = maxDelay
		}
	}
}

func classifyError(err error) (error, bool) {
	if err == nil {
		return nil, false
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err, false
	}

	var ccxtErr *ccxt.Error
	if errors.As(err, &ccxtErr) {
		if ccxtErr.Type == ccxt.OnMaintenanceErrType {
			message := strings.TrimSpace(ccxtErr.Message)
			if message == "" {
				message = "exchange under maintenance"
			}
			return fmt.Errorf("%w: %s", ErrMaintenance, message), false
		}
		return err, IsRetryable(err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return err, true
	}

	return err, false
}

// normalizeExchangeStatus 把 ccxt 订单状态映射到内部口径。
func normalizeExchangeStatus(status string) string {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "closed", "filled":
		return "filled"
	case "open", "":
		return "pending"
	case "canceled", "cancelled":
		return "cancelled"
	default:
		return strings.ToLower(strings.TrimSpace(status))
	}
}

func sideString(side ledger.Side) string {
	if side == ledger.SideSell {
		return "sell"
	}
	return "buy"
}

func derefFloat(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}

func derefString(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}

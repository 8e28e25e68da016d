package router

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"trade-core/internal/broker"
	"trade-core/internal/config"
)

var (
	// ErrNoBackend 表示没有可用的券商后端。
	ErrNoBackend = errors.New("router: no backend available")

	// ErrLatencyBreach 表示后端因连续超时被熔断。
	ErrLatencyBreach = errors.New("router: latency breach")
)

// Notifier 下发路由告警。实现方负责去重。
type Notifier interface {
	Notify(ctx context.Context, event, message string)
}

// Router 在多个券商后端之间做加权评分路由：
// 佣金越低、延迟越低、流动性越高得分越高，按得分从高到低
// 串行尝试，单后端内做有限重试，全部失败返回最后一个具体错误。
type Router struct {
	cfg        config.RouterConfig
	backends   []broker.Backend
	production bool
	notifier   Notifier
	logger     *zap.Logger

	mu       sync.Mutex
	breaches map[string]int
	tripped  map[string]bool
	owners   map[string]broker.Backend
	simSeq   int
}

// New 构造路由器。notifier 允许为空。
func New(cfg config.RouterConfig, backends []broker.Backend, production bool, notifier Notifier, logger *zap.Logger) (*Router, error) {
	if len(backends) == 0 {
		return nil, ErrNoBackend
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{
		cfg:        cfg,
		backends:   backends,
		production: production,
		notifier:   notifier,
		logger:     logger,
		breaches:   make(map[string]int),
		tripped:    make(map[string]bool),
		owners:     make(map[string]broker.Backend),
	}, nil
}

// Score 计算后端画像的路由得分。
func (r *Router) Score(p broker.Profile) float64 {
	wc, wl, wq := r.cfg.CommissionWeight, r.cfg.LatencyWeight, r.cfg.LiquidityWeight
	if wc <= 0 && wl <= 0 && wq <= 0 {
		wc, wl, wq = 0.4, 0.4, 0.2
	}

	commission := p.CommissionRate
	if commission <= 0 {
		commission = 1e-6
	}
	latencyMs := float64(p.AvgLatency) / float64(time.Millisecond)
	if latencyMs <= 0 {
		latencyMs = 1
	}

	return wc/commission + wl/latencyMs + wq*p.LiquidityScore
}

// Dispatch 路由一笔订单。同一笔订单绝不并发发往多个后端。
func (r *Router) Dispatch(ctx context.Context, req broker.OrderRequest) (string, broker.Fill, error) {
	candidates := r.ranked()

	var (
		lastErr    error
		sawBreaker bool
		dispatched bool
	)

	for _, backend := range candidates {
		name := backend.Profile().Name
		if r.isTripped(name) {
			sawBreaker = true
			continue
		}

		id, fill, err := r.tryBackend(ctx, backend, req)
		if err == nil {
			r.rememberOwner(id, backend)
			fill.Status = normalizeStatus(fill.Status)
			return id, fill, nil
		}

		dispatched = true
		lastErr = err

		if errors.Is(err, context.Canceled) {
			return "", broker.Fill{}, err
		}
		if !errors.Is(err, context.DeadlineExceeded) {
			r.notify(ctx, "router_backend_error",
				fmt.Sprintf("后端 %s 执行失败: %v", name, err))
		}

		r.logger.Warn("后端执行失败，切换下一候选",
			zap.String("backend", name),
			zap.Error(err),
		)
	}

	if sawBreaker && !dispatched {
		return "", broker.Fill{Status: "blocked", Reason: "latency_breach"}, nil
	}

	// 沙盒模拟成交只在显式开启且非生产环境下兜底。
	if r.cfg.AllowSimFill && !r.production {
		r.mu.Lock()
		r.simSeq++
		id := fmt.Sprintf("sim-%d", r.simSeq)
		r.mu.Unlock()

		r.logger.Warn("全部后端失败，沙盒模拟成交",
			zap.String("order_id", id),
			zap.String("symbol", req.Symbol),
		)
		return id, broker.Fill{
			Status:    "filled",
			FilledQty: req.Size,
			AvgPrice:  req.Price,
		}, nil
	}

	if lastErr == nil {
		lastErr = ErrNoBackend
	}
	r.notify(ctx, "router_exhausted",
		fmt.Sprintf("订单 %s %s 全部后端失败: %v", req.Symbol, req.Side, lastErr))
	return "", broker.Fill{}, fmt.Errorf("router: 全部后端执行失败: %w", lastErr)
}

// Cancel 撤销后端订单。
func (r *Router) Cancel(ctx context.Context, backendID string) error {
	r.mu.Lock()
	owner, ok := r.owners[backendID]
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", broker.ErrUnknownOrder, backendID)
	}
	return owner.CancelOrder(ctx, backendID)
}

// tryBackend 在单个后端上带超时与有限重试地执行。
func (r *Router) tryBackend(ctx context.Context, backend broker.Backend, req broker.OrderRequest) (string, broker.Fill, error) {
	name := backend.Profile().Name
	maxRetries := r.cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 1
	}

	var lastErr error
	for attempt := 1; attempt <= maxRetries; attempt++ {
		attemptCtx := ctx
		cancel := func() {}
		if r.cfg.AttemptTimeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, r.cfg.AttemptTimeout)
		}

		start := time.Now()
		id, fill, err := backend.PlaceOrder(attemptCtx, req)
		latency := time.Since(start)
		cancel()

		if err == nil {
			r.observeLatency(name, latency)
			return id, fill, nil
		}

		lastErr = err
		if errors.Is(err, context.DeadlineExceeded) {
			r.observeLatency(name, latency)
		}
		if ctx.Err() != nil {
			return "", broker.Fill{}, ctx.Err()
		}
		if !broker.IsRetryable(err) && !errors.Is(err, context.DeadlineExceeded) {
			return "", broker.Fill{}, err
		}

		r.logger.Warn("后端下单失败，重试",
			zap.String("backend", name),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
	}

	return "", broker.Fill{}, lastErr
}

// observeLatency 维护连续超时计数，达到上限后熔断该后端。
func (r *Router) observeLatency(name string, latency time.Duration) {
	if r.cfg.LatencyCeiling <= 0 {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if latency <= r.cfg.LatencyCeiling {
		r.breaches[name] = 0
		return
	}

	r.breaches[name]++
	if r.breaches[name] >= r.cfg.MaxLatencyBreaches && !r.tripped[name] {
		r.tripped[name] = true
		r.logger.Warn("后端连续超时，已熔断",
			zap.String("backend", name),
			zap.Int("breaches", r.breaches[name]),
			zap.Duration("ceiling", r.cfg.LatencyCeiling),
		)
	}
}

// ResetBreaker 清除指定后端的熔断状态，运维恢复用。
func (r *Router) ResetBreaker(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.breaches[name] = 0
	delete(r.tripped, name)
}

func (r *Router) isTripped(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.tripped[name]
}

func (r *Router) rememberOwner(backendID string, backend broker.Backend) {
	if backendID == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.owners[backendID] = backend
}

// ranked 返回按得分降序排列的后端。
func (r *Router) ranked() []broker.Backend {
	ranked := make([]broker.Backend, len(r.backends))
	copy(ranked, r.backends)
	sort.SliceStable(ranked, func(i, j int) bool {
		return r.Score(ranked[i].Profile()) > r.Score(ranked[j].Profile())
	})
	return ranked
}

func (r *Router) notify(ctx context.Context, event, message string) {
	if r.notifier == nil {
		return
	}
	r.notifier.Notify(ctx, event, message)
}

// normalizeStatus 把后端状态归一化为统一口径。
func normalizeStatus(status string) string {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "ok", "filled", "closed", "done":
		return "filled"
	case "pending", "open", "partial", "accepted":
		return "pending"
	case "blocked":
		return "blocked"
	case "cancelled", "canceled":
		return "cancelled"
	case "error", "rejected", "failed":
		return "error"
	default:
		return strings.ToLower(strings.TrimSpace(status))
	}
}

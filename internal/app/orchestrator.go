package app

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"trade-core/internal/alert"
	"trade-core/internal/broker"
	"trade-core/internal/config"
	"trade-core/internal/engine"
	"trade-core/internal/ledger"
	"trade-core/internal/monitor"
	"trade-core/internal/order"
	"trade-core/internal/risk"
	"trade-core/internal/router"
	"trade-core/internal/sentiment"
	"trade-core/internal/sizer"
	"trade-core/internal/store"
)

// Orchestrator 把全部组件装配成可运行的交易核心。
// 装配顺序自底向上：账本与风控先就位，再挂执行链路，最后是引擎。
type Orchestrator struct {
	cfg      *config.Config
	logger   *zap.Logger
	book     *ledger.Ledger
	gate     *risk.Gate
	manager  *order.Manager
	engine   *engine.Engine
	monitor  *monitor.Service
	audit    *engine.Audit
	alerts   *alert.Dispatcher
	regimes  *regimeTracker
	backends []broker.Backend
}

func newOrchestrator(cfg *config.Config, st *store.Store, logger *zap.Logger) (*Orchestrator, error) {
	if cfg == nil {
		return nil, fmt.Errorf("app: 配置不能为空")
	}
	if st == nil {
		return nil, fmt.Errorf("app: 存储不能为空")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	book := ledger.New(cfg.Ledger, logger)
	perf := risk.NewPerformanceTracker(cfg.Risk.PerformanceWindow)

	var tracker *risk.DailyTracker
	if cfg.Risk.EnableDailyStopLoss {
		t, err := risk.NewDailyTracker(st.DB(), cfg.Risk, logger)
		if err != nil {
			return nil, fmt.Errorf("app: 初始化日内止损失败: %w", err)
		}
		tracker = t
	}

	scorer, err := buildScorer(cfg.Sentiment, logger)
	if err != nil {
		return nil, err
	}

	gate := risk.NewGate(cfg.Risk, cfg.GateScore, cfg.Sentiment, scorer, perf, tracker, book.Report, logger)
	szr := sizer.New(cfg.Sizer, logger)
	alerts := alert.New(cfg.Alerts, logger)

	backends, err := buildBackends(cfg, logger)
	if err != nil {
		return nil, err
	}

	rtr, err := router.New(cfg.Router, backends, cfg.IsProduction(), alerts, logger)
	if err != nil {
		return nil, fmt.Errorf("app: 初始化路由器失败: %w", err)
	}

	manager, err := order.NewManager(cfg.Execution, book, gate, rtr, logger)
	if err != nil {
		return nil, fmt.Errorf("app: 初始化订单管理器失败: %w", err)
	}

	audit, err := engine.NewAudit(st.DB())
	if err != nil {
		return nil, fmt.Errorf("app: 初始化审计失败: %w", err)
	}

	regimes := newRegimeTracker()

	eng, err := engine.New(book, gate, szr, manager, audit, alerts, regimes, logger)
	if err != nil {
		return nil, fmt.Errorf("app: 初始化交易引擎失败: %w", err)
	}

	mon, err := monitor.NewService(st, logger)
	if err != nil {
		return nil, fmt.Errorf("app: 初始化监控服务失败: %w", err)
	}

	return &Orchestrator{
		cfg:      cfg,
		logger:   logger,
		book:     book,
		gate:     gate,
		manager:  manager,
		engine:   eng,
		monitor:  mon,
		audit:    audit,
		alerts:   alerts,
		regimes:  regimes,
		backends: backends,
	}, nil
}

// buildScorer 在开启舆情否决时构造打分器：配置了 OpenAI 凭证走大模型，
// 否则退化为本地词典。
func buildScorer(cfg config.SentimentConfig, logger *zap.Logger) (sentiment.Scorer, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	provider, err := sentiment.NewHTTPProvider(cfg.FeedURL, cfg.FeedTimeout)
	if err != nil {
		return nil, fmt.Errorf("app: 初始化标题源失败: %w", err)
	}

	if cfg.OpenAI.APIKey != "" {
		scorer, err := sentiment.NewOpenAIScorer(cfg.OpenAI, provider, logger)
		if err != nil {
			return nil, fmt.Errorf("app: 初始化舆情打分器失败: %w", err)
		}
		return scorer, nil
	}
	return sentiment.NewLexiconScorer(provider), nil
}

func buildBackends(cfg *config.Config, logger *zap.Logger) ([]broker.Backend, error) {
	backends := make([]broker.Backend, 0, len(cfg.Brokers))
	for _, bc := range cfg.Brokers {
		switch strings.ToLower(bc.Kind) {
		case "ccxt":
			b, err := broker.NewCCXTBroker(bc, logger)
			if err != nil {
				return nil, fmt.Errorf("app: 初始化券商 %q 失败: %w", bc.Name, err)
			}
			backends = append(backends, b)
		case "paper":
			backends = append(backends, broker.NewPaperBroker(bc, cfg.Execution, logger))
		default:
			return nil, fmt.Errorf("app: 未知券商类型 %q", bc.Kind)
		}
	}
	return backends, nil
}

// Connect 连接所有券商后端。任一失败立即返回，由调用方决定退出。
func (o *Orchestrator) Connect(ctx context.Context) error {
	for _, backend := range o.backends {
		if err := backend.Connect(ctx); err != nil {
			return fmt.Errorf("app: 连接券商 %q 失败: %w", backend.Profile().Name, err)
		}
		o.logger.Info("券商后端已连接", zap.String("broker", backend.Profile().Name))
	}
	return nil
}

// Disconnect 断开所有券商后端。
func (o *Orchestrator) Disconnect() {
	for _, backend := range o.backends {
		backend.Disconnect()
	}
}

// Handle 处理一条信号：记录、标记估值、走引擎全链路、回灌盈亏。
func (o *Orchestrator) Handle(ctx context.Context, sig engine.TradeSignal) engine.TradeResult {
	o.monitor.RecordSignal(ctx, sig.Symbol, sig.Side, sig.Algo, sig.Scores)

	if sig.Price != nil && *sig.Price > 0 {
		o.regimes.Observe(*sig.Price)
		o.book.UpdateEquity(map[string]float64{sig.Symbol: *sig.Price})
	}

	realizedBefore := o.book.DailyRealized()
	res := o.engine.ProcessSignal(ctx, sig)

	o.monitor.RecordDispatch(ctx, monitor.DispatchPayload{
		Symbol:    sig.Symbol,
		Side:      sig.Side,
		Status:    res.Status,
		Reason:    res.Reason,
		OrderID:   res.OrderID,
		FilledQty: res.FilledQty,
		AvgPrice:  res.AvgPrice,
	})
	o.monitor.RecordLedger(ctx, o.book.Report())

	if res.Status == engine.StatusBlocked {
		o.recordVeto(ctx, sig, res)
	}

	if delta := o.book.DailyRealized() - realizedBefore; delta != 0 {
		o.engine.RecordTradeOutcome(delta)
	}

	return res
}

func (o *Orchestrator) recordVeto(ctx context.Context, sig engine.TradeSignal, res engine.TradeResult) {
	side, _ := ledger.ParseSide(sig.Side)
	input := risk.TradeInput{
		Symbol:      sig.Symbol,
		Side:        side,
		ModelScores: sig.Scores,
	}
	if sig.Price != nil {
		input.Price = *sig.Price
	}
	if sig.Size != nil {
		input.Size = *sig.Size
	}
	o.monitor.RecordRiskDecision(ctx, input, risk.Decision{Allow: false, Reason: risk.Reason(res.Reason)})
}

// ResetDay 执行日度重置。
func (o *Orchestrator) ResetDay(ctx context.Context) error {
	o.logger.Info("执行日度重置")
	return o.engine.ResetDay(ctx)
}

// Shutdown 撤销所有未完成订单并断开后端。
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	var err error
	if flattenErr := o.manager.FlattenAll(ctx); flattenErr != nil {
		err = multierr.Append(err, fmt.Errorf("app: 退出前撤单失败: %w", flattenErr))
	}
	o.Disconnect()
	return err
}

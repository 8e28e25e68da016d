package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"

	"trade-core/internal/config"
	"trade-core/internal/store"
)

// App 聚合核心依赖并驱动系统生命周期。
type App struct {
	cfg    *config.Config
	logger *zap.Logger
	store  *store.Store
}

// New 创建 App 实例。
func New(cfg *config.Config, logger *zap.Logger, store *store.Store) *App {
	return &App{
		cfg:    cfg,
		logger: logger,
		store:  store,
	}
}

// Run 驱动主循环：逐条消费信号直到信号源耗尽或收到退出信号。
// 跨交易日时先做日度重置再处理新信号。
func (a *App) Run(ctx context.Context, source SignalSource) error {
	a.logger.Info("交易核心已初始化",
		zap.String("environment", a.cfg.App.Environment),
		zap.String("execution_mode", a.cfg.Execution.Mode),
		zap.Int("brokers", len(a.cfg.Brokers)),
	)

	orch, err := newOrchestrator(a.cfg, a.store, a.logger)
	if err != nil {
		return err
	}

	if err := orch.Connect(ctx); err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := orch.Shutdown(shutdownCtx); err != nil {
			a.logger.Warn("退出清理未完全成功", zap.Error(err))
		}
	}()

	if err := startMonitorServer(ctx, orch, a.cfg.App.MonitorPort, a.logger); err != nil {
		return err
	}

	day := tradingDay(time.Now(), a.cfg.Risk.DailyLossResetHour)

	for {
		if err := ctx.Err(); err != nil {
			if !errors.Is(err, context.Canceled) {
				return fmt.Errorf("系统异常退出: %w", err)
			}
			a.logger.Info("系统收到退出信号，正在停止")
			return nil
		}

		sig, err := source.Next(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) {
				a.logger.Info("信号源已耗尽，系统退出")
				return nil
			}
			if errors.Is(err, context.Canceled) {
				a.logger.Info("系统收到退出信号，正在停止")
				return nil
			}
			return fmt.Errorf("读取信号失败: %w", err)
		}

		if now := tradingDay(time.Now(), a.cfg.Risk.DailyLossResetHour); now != day {
			if resetErr := orch.ResetDay(ctx); resetErr != nil {
				a.logger.Error("日度重置失败", zap.Error(resetErr))
			}
			day = now
		}

		res := orch.Handle(ctx, sig)
		a.logger.Info("信号处理完成",
			zap.String("symbol", sig.Symbol),
			zap.String("side", sig.Side),
			zap.String("status", res.Status),
			zap.String("reason", res.Reason),
			zap.Float64("filled_qty", res.FilledQty),
		)
	}
}

// tradingDay 以重置小时为界折算交易日，跨界即触发日度重置。
func tradingDay(now time.Time, resetHour int) string {
	if resetHour < 0 || resetHour > 23 {
		resetHour = 0
	}
	return now.UTC().Add(-time.Duration(resetHour) * time.Hour).Format("2006-01-02")
}

package alert

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"trade-core/internal/config"
)

const defaultDedupeWindow = 60 * time.Second

// Channel 是单个告警通道。
type Channel interface {
	Name() string
	Send(ctx context.Context, event, message string) error
}

// Dispatcher 把告警并行发往所有已配置通道。
// 单通道失败互相隔离，错误聚合返回；相同内容在去重窗口内只发一次。
type Dispatcher struct {
	cfg      config.AlertConfig
	channels []Channel
	logger   *zap.Logger

	mu       sync.Mutex
	lastSent map[string]time.Time
}

// New 根据配置构造告警分发器。没有任何通道配置时照常构造，
// Send 变为空操作。
func New(cfg config.AlertConfig, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	channels := make([]Channel, 0, 3)
	if cfg.WebhookURL != "" {
		channels = append(channels, newWebhookChannel(cfg.WebhookURL, timeout))
	}
	if cfg.BotToken != "" && cfg.BotChatID != "" {
		channels = append(channels, newBotChannel(cfg.BotToken, cfg.BotChatID, timeout))
	}
	if cfg.Email.Host != "" && len(cfg.Email.To) > 0 {
		channels = append(channels, newEmailChannel(cfg.Email))
	}

	return &Dispatcher{
		cfg:      cfg,
		channels: channels,
		logger:   logger,
		lastSent: make(map[string]time.Time),
	}
}

// NewWithChannels 用自定义通道构造，测试用。
func NewWithChannels(cfg config.AlertConfig, channels []Channel, logger *zap.Logger) *Dispatcher {
	d := New(cfg, logger)
	d.channels = channels
	return d
}

// Send 同步发送一条告警。重复内容在去重窗口内直接丢弃。
func (d *Dispatcher) Send(ctx context.Context, event, message string) error {
	if len(d.channels) == 0 {
		return nil
	}
	if d.isDuplicate(event, message) {
		d.logger.Debug("告警在去重窗口内，跳过",
			zap.String("event", event),
		)
		return nil
	}

	timeout := d.cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	sendCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	g, gctx := errgroup.WithContext(sendCtx)
	errs := make([]error, len(d.channels))
	for i, ch := range d.channels {
		i, ch := i, ch
		g.Go(func() error {
			if err := ch.Send(gctx, event, message); err != nil {
				errs[i] = fmt.Errorf("alert: 通道 %s 发送失败: %w", ch.Name(), err)
			}
			// 单通道失败不中断其余通道。
			return nil
		})
	}
	_ = g.Wait()

	if combined := multierr.Combine(errs...); combined != nil {
		return combined
	}
	return nil
}

// Notify 异步发送，失败只记日志。路由与引擎的非关键告警走这里。
func (d *Dispatcher) Notify(ctx context.Context, event, message string) {
	if len(d.channels) == 0 {
		return
	}
	go func() {
		if err := d.Send(context.WithoutCancel(ctx), event, message); err != nil {
			d.logger.Warn("告警发送失败",
				zap.String("event", event),
				zap.Error(err),
			)
		}
	}()
}

func (d *Dispatcher) isDuplicate(event, message string) bool {
	window := d.cfg.DedupeWindow
	if window <= 0 {
		window = defaultDedupeWindow
	}

	sum := sha256.Sum256([]byte(event + "\x00" + message))
	key := hex.EncodeToString(sum[:])
	now := time.Now()

	d.mu.Lock()
	defer d.mu.Unlock()

	if last, ok := d.lastSent[key]; ok && now.Sub(last) < window {
		return true
	}
	d.lastSent[key] = now

	// 顺带清理过期条目，避免长时间运行后无限增长。
	for k, ts := range d.lastSent {
		if now.Sub(ts) >= window {
			delete(d.lastSent, k)
		}
	}
	return false
}

package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/multierr"
)

// Config 聚合了交易核心运行所需的全部配置项。
// 启动时构造一次，之后只读，各组件通过构造函数显式接收。
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Ledger    LedgerConfig    `mapstructure:"ledger"`
	Risk      RiskConfig      `mapstructure:"risk"`
	Sizer     SizerConfig     `mapstructure:"sizer"`
	GateScore GateScoreConfig `mapstructure:"gate_score"`
	Sentiment SentimentConfig `mapstructure:"sentiment"`
	Execution ExecutionConfig `mapstructure:"execution"`
	Router    RouterConfig    `mapstructure:"router"`
	Brokers   []BrokerConfig  `mapstructure:"brokers"`
	Alerts    AlertConfig     `mapstructure:"alerts"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// AppConfig 控制应用级参数。
type AppConfig struct {
	Environment string `mapstructure:"environment"`
	MonitorPort int    `mapstructure:"monitor_port"`
}

// LedgerConfig 控制账本初始状态。
type LedgerConfig struct {
	InitialCash        float64 `mapstructure:"initial_cash"`
	EquityHistoryLimit int     `mapstructure:"equity_history_limit"`
}

// RiskConfig 管理风控参数。
type RiskConfig struct {
	MaxDailyLoss        float64           `mapstructure:"max_daily_loss"`
	MaxTradeRisk        float64           `mapstructure:"max_trade_risk"`
	MaxLeverage         float64           `mapstructure:"max_leverage"`
	MaxExposure         float64           `mapstructure:"max_exposure"`
	SectorExposureLimit float64           `mapstructure:"sector_exposure_limit"`
	DrawdownLimit       float64           `mapstructure:"drawdown_limit"`
	SharpeFloor         float64           `mapstructure:"sharpe_floor"`
	SortinoFloor        float64           `mapstructure:"sortino_floor"`
	PerformanceWindow   int               `mapstructure:"performance_window"`
	DailyLossResetHour  int               `mapstructure:"daily_loss_reset_hour"`
	EnableDailyStopLoss bool              `mapstructure:"enable_daily_stop_loss"`
	Sectors             map[string]string `mapstructure:"sectors"`
	HedgeRules          map[string]string `mapstructure:"hedge_rules"`
}

// SizerConfig 控制 Kelly 仓位计算。
type SizerConfig struct {
	WinRate     float64 `mapstructure:"win_rate"`
	Payoff      float64 `mapstructure:"payoff"`
	FractionCap float64 `mapstructure:"fraction_cap"`
	MinSize     float64 `mapstructure:"min_size"`
}

// GateScoreConfig 控制多模型信心度组合否决。
type GateScoreConfig struct {
	Weights       map[string]float64 `mapstructure:"weights"`
	Threshold     float64            `mapstructure:"threshold"`
	StrictMissing bool               `mapstructure:"strict_missing"`
	BearAdjust    float64            `mapstructure:"bear_adjust"`
	BullAdjust    float64            `mapstructure:"bull_adjust"`
}

// SentimentConfig 控制舆情否决。
type SentimentConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	Tolerance   float64       `mapstructure:"tolerance"`
	Threshold   float64       `mapstructure:"threshold"`
	Bias        string        `mapstructure:"bias"`
	FeedURL     string        `mapstructure:"feed_url"`
	FeedTimeout time.Duration `mapstructure:"feed_timeout"`
	OpenAI      OpenAIConfig  `mapstructure:"openai"`
}

// OpenAIConfig 描述大模型调用参数。
type OpenAIConfig struct {
	APIKey  string        `mapstructure:"api_key"`
	BaseURL string        `mapstructure:"base_url"`
	Model   string        `mapstructure:"model"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// ExecutionConfig 控制订单执行路径与成本模型。
type ExecutionConfig struct {
	Mode               string  `mapstructure:"mode"` // dryrun | paper | live
	SlippagePerShare   float64 `mapstructure:"slippage_per_share"`
	CommissionPct      float64 `mapstructure:"commission_pct"`
	CommissionPerShare float64 `mapstructure:"commission_per_share"`
	MinCommission      float64 `mapstructure:"min_commission"`
}

// RouterConfig 控制多券商路由行为。
type RouterConfig struct {
	CommissionWeight   float64       `mapstructure:"commission_weight"`
	LatencyWeight      float64       `mapstructure:"latency_weight"`
	LiquidityWeight    float64       `mapstructure:"liquidity_weight"`
	MaxRetries         int           `mapstructure:"max_retries"`
	AttemptTimeout     time.Duration `mapstructure:"attempt_timeout"`
	LatencyCeiling     time.Duration `mapstructure:"latency_ceiling"`
	MaxLatencyBreaches int           `mapstructure:"max_latency_breaches"`
	AllowSimFill       bool          `mapstructure:"allow_sim_fill"`
}

// BrokerConfig 描述单个券商后端。
type BrokerConfig struct {
	Name           string      `mapstructure:"name"`
	Kind           string      `mapstructure:"kind"` // ccxt | paper
	Market         string      `mapstructure:"market"`
	APIKey         string      `mapstructure:"api_key"`
	APISecret      string      `mapstructure:"api_secret"`
	APIPass        string      `mapstructure:"api_password"`
	UseSandbox     bool        `mapstructure:"use_sandbox"`
	CommissionRate float64     `mapstructure:"commission_rate"`
	AvgLatencyMs   float64     `mapstructure:"avg_latency_ms"`
	LiquidityScore float64     `mapstructure:"liquidity_score"`
	Retry          RetryConfig `mapstructure:"retry"`
}

// RetryConfig 统一控制重试机制。
type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	MinDelay    time.Duration `mapstructure:"min_delay"`
	MaxDelay    time.Duration `mapstructure:"max_delay"`
}

// AlertConfig 控制告警通道。
type AlertConfig struct {
	WebhookURL   string        `mapstructure:"webhook_url"`
	BotToken     string        `mapstructure:"bot_token"`
	BotChatID    string        `mapstructure:"bot_chat_id"`
	Email        EmailConfig   `mapstructure:"email"`
	DedupeWindow time.Duration `mapstructure:"dedupe_window"`
	Timeout      time.Duration `mapstructure:"timeout"`
}

// EmailConfig 描述邮件通道。
type EmailConfig struct {
	Host     string   `mapstructure:"host"`
	Port     int      `mapstructure:"port"`
	From     string   `mapstructure:"from"`
	To       []string `mapstructure:"to"`
	Username string   `mapstructure:"username"`
	Password string   `mapstructure:"password"`
}

// DatabaseConfig 管理数据库连接。
type DatabaseConfig struct {
	Path            string        `mapstructure:"path"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	InMemory        bool          `mapstructure:"in_memory"`
}

// LoggingConfig 控制日志输出。
type LoggingConfig struct {
	Level            string   `mapstructure:"level"`
	Encoding         string   `mapstructure:"encoding"`
	Development      bool     `mapstructure:"development"`
	OutputPaths      []string `mapstructure:"output_paths"`
	ErrorOutputPaths []string `mapstructure:"error_output_paths"`
}

// IsProduction 判断是否运行于生产环境。
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.App.Environment, "production")
}

// Validate 对配置进行基本校验。
func (c *Config) Validate() error {
	var err error

	if c.App.Environment == "" {
		err = multierr.Append(err, errors.New("app.environment 不能为空"))
	}
	if c.Ledger.InitialCash <= 0 {
		err = multierr.Append(err, errors.New("ledger.initial_cash 必须大于0"))
	}
	if c.Risk.MaxDailyLoss <= 0 || c.Risk.MaxDailyLoss > 1 {
		err = multierr.Append(err, errors.New("risk.max_daily_loss 必须位于(0,1]"))
	}
	if c.Risk.MaxTradeRisk <= 0 || c.Risk.MaxTradeRisk > 1 {
		err = multierr.Append(err, errors.New("risk.max_trade_risk 必须位于(0,1]"))
	}
	if c.Risk.MaxExposure <= 0 {
		err = multierr.Append(err, errors.New("risk.max_exposure 必须大于0"))
	}
	if c.Risk.SectorExposureLimit <= 0 || c.Risk.SectorExposureLimit > 1 {
		err = multierr.Append(err, errors.New("risk.sector_exposure_limit 必须位于(0,1]"))
	}
	if c.Risk.DrawdownLimit <= 0 || c.Risk.DrawdownLimit > 1 {
		err = multierr.Append(err, errors.New("risk.drawdown_limit 必须位于(0,1]"))
	}
	if c.Risk.PerformanceWindow < 0 {
		err = multierr.Append(err, errors.New("risk.performance_window 不能为负"))
	}
	if c.Risk.EnableDailyStopLoss && (c.Risk.DailyLossResetHour < 0 || c.Risk.DailyLossResetHour > 23) {
		err = multierr.Append(err, errors.New("risk.daily_loss_reset_hour 必须位于[0,23]"))
	}
	if c.Sizer.WinRate <= 0 || c.Sizer.WinRate >= 1 {
		err = multierr.Append(err, errors.New("sizer.win_rate 必须位于(0,1)"))
	}
	if c.Sizer.Payoff <= 0 {
		err = multierr.Append(err, errors.New("sizer.payoff 必须大于0"))
	}
	if c.Sizer.FractionCap <= 0 || c.Sizer.FractionCap > 1 {
		err = multierr.Append(err, errors.New("sizer.fraction_cap 必须位于(0,1]"))
	}
	if c.GateScore.Threshold <= 0 || c.GateScore.Threshold > 1 {
		err = multierr.Append(err, errors.New("gate_score.threshold 必须位于(0,1]"))
	}
	if c.Sentiment.Enabled {
		if c.Sentiment.Tolerance < 0 || c.Sentiment.Tolerance >= 1 {
			err = multierr.Append(err, errors.New("sentiment.tolerance 必须位于[0,1)"))
		}
		if c.Sentiment.Threshold <= 0 || c.Sentiment.Threshold > 1 {
			err = multierr.Append(err, errors.New("sentiment.threshold 必须位于(0,1]"))
		}
		switch strings.ToUpper(c.Sentiment.Bias) {
		case "", "BUY", "SELL":
		default:
			err = multierr.Append(err, errors.New("sentiment.bias 只能为空、BUY 或 SELL"))
		}
		if c.Sentiment.OpenAI.APIKey != "" && c.Sentiment.OpenAI.Timeout <= 0 {
			err = multierr.Append(err, errors.New("sentiment.openai.timeout 必须大于0"))
		}
		if c.Sentiment.FeedURL == "" {
			err = multierr.Append(err, errors.New("sentiment.feed_url 在开启舆情否决时不能为空"))
		}
	}
	switch strings.ToLower(c.Execution.Mode) {
	case "dryrun", "paper", "live":
	default:
		err = multierr.Append(err, fmt.Errorf("execution.mode %q 无效，应为 dryrun/paper/live", c.Execution.Mode))
	}
	if c.Execution.SlippagePerShare < 0 {
		err = multierr.Append(err, errors.New("execution.slippage_per_share 不能为负"))
	}
	if c.Execution.CommissionPct < 0 || c.Execution.CommissionPct > 0.1 {
		err = multierr.Append(err, errors.New("execution.commission_pct 应位于[0,0.1]"))
	}
	if c.Execution.MinCommission < 0 {
		err = multierr.Append(err, errors.New("execution.min_commission 不能为负"))
	}
	if c.Router.MaxRetries <= 0 {
		err = multierr.Append(err, errors.New("router.max_retries 必须大于0"))
	}
	if c.Router.AttemptTimeout <= 0 {
		err = multierr.Append(err, errors.New("router.attempt_timeout 必须大于0"))
	}
	if c.Router.LatencyCeiling <= 0 {
		err = multierr.Append(err, errors.New("router.latency_ceiling 必须大于0"))
	}
	if c.Router.MaxLatencyBreaches <= 0 {
		err = multierr.Append(err, errors.New("router.max_latency_breaches 必须大于0"))
	}
	if c.Router.AllowSimFill && c.IsProduction() {
		err = multierr.Append(err, errors.New("router.allow_sim_fill 禁止在生产环境开启"))
	}
	if len(c.Brokers) == 0 {
		err = multierr.Append(err, errors.New("brokers 至少配置一个券商后端"))
	}
	seen := make(map[string]struct{}, len(c.Brokers))
	for i, b := range c.Brokers {
		if b.Name == "" {
			err = multierr.Append(err, fmt.Errorf("brokers[%d].name 不能为空", i))
			continue
		}
		if _, dup := seen[b.Name]; dup {
			err = multierr.Append(err, fmt.Errorf("brokers 名称 %q 重复", b.Name))
		}
		seen[b.Name] = struct{}{}
		switch strings.ToLower(b.Kind) {
		case "ccxt", "paper":
		default:
			err = multierr.Append(err, fmt.Errorf("brokers[%d].kind %q 无效，应为 ccxt/paper", i, b.Kind))
		}
		if b.CommissionRate < 0 {
			err = multierr.Append(err, fmt.Errorf("brokers[%d].commission_rate 不能为负", i))
		}
		if strings.EqualFold(b.Kind, "ccxt") {
			if b.Retry.MaxAttempts <= 0 {
				err = multierr.Append(err, fmt.Errorf("brokers[%d].retry.max_attempts 必须大于0", i))
			}
			if b.Retry.MinDelay <= 0 || b.Retry.MaxDelay <= 0 {
				err = multierr.Append(err, fmt.Errorf("brokers[%d].retry.delay 必须为正", i))
			}
			if b.Retry.MinDelay > b.Retry.MaxDelay {
				err = multierr.Append(err, fmt.Errorf("brokers[%d].retry.min_delay 不能大于 max_delay", i))
			}
		}
	}
	if c.Alerts.DedupeWindow < 0 {
		err = multierr.Append(err, errors.New("alerts.dedupe_window 不能为负"))
	}
	if c.Database.Path == "" && !c.Database.InMemory {
		err = multierr.Append(err, errors.New("database.path 不能为空"))
	}
	if c.Database.MaxOpenConns <= 0 {
		err = multierr.Append(err, errors.New("database.max_open_conns 必须大于0"))
	}
	if c.Database.MaxIdleConns < 0 {
		err = multierr.Append(err, errors.New("database.max_idle_conns 不能为负"))
	}
	if c.Logging.Level == "" {
		err = multierr.Append(err, errors.New("logging.level 不能为空"))
	}
	if c.Logging.Encoding == "" {
		err = multierr.Append(err, errors.New("logging.encoding 不能为空"))
	}
	if len(c.Logging.OutputPaths) == 0 {
		err = multierr.Append(err, errors.New("logging.output_paths 至少包含一个输出目标"))
	}
	if len(c.Logging.ErrorOutputPaths) == 0 {
		err = multierr.Append(err, errors.New("logging.error_output_paths 至少包含一个输出目标"))
	}

	if err != nil {
		return fmt.Errorf("配置校验失败: %w", err)
	}

	return nil
}

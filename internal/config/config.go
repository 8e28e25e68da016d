package config

import (
	"errors"
	"fmt"
	"strings"

	mapstructure "github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

const (
	defaultConfigPath = "configs/config.yaml"
	envPrefix         = "tradecore"
)

// Load 读取配置文件并结合环境变量返回 Config。
func Load(path string) (*Config, error) {
	v := viper.New()

	if path == "" {
		path = defaultConfigPath
	}

	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.SetEnvPrefix(envPrefix)
	replacer := strings.NewReplacer(".", "_")
	v.SetEnvKeyReplacer(replacer)
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil, fmt.Errorf("未找到配置文件 %q: %w", path, err)
		}
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.environment", "development")
	v.SetDefault("app.monitor_port", 8686)

	v.SetDefault("ledger.initial_cash", 100000.0)
	v.SetDefault("ledger.equity_history_limit", 10000)

	v.SetDefault("risk.max_daily_loss", 0.03)
	v.SetDefault("risk.max_trade_risk", 0.01)
	v.SetDefault("risk.max_leverage", 2.0)
	v.SetDefault("risk.max_exposure", 1.0)
	v.SetDefault("risk.sector_exposure_limit", 0.30)
	v.SetDefault("risk.drawdown_limit", 0.15)
	v.SetDefault("risk.sharpe_floor", -1.0)
	v.SetDefault("risk.sortino_floor", -1.0)
	v.SetDefault("risk.performance_window", 50)
	v.SetDefault("risk.daily_loss_reset_hour", 0)
	v.SetDefault("risk.enable_daily_stop_loss", true)

	v.SetDefault("sizer.win_rate", 0.55)
	v.SetDefault("sizer.payoff", 1.5)
	v.SetDefault("sizer.fraction_cap", 0.20)
	v.SetDefault("sizer.min_size", 1.0)

	v.SetDefault("gate_score.threshold", 0.60)
	v.SetDefault("gate_score.strict_missing", false)
	v.SetDefault("gate_score.bear_adjust", 0.10)
	v.SetDefault("gate_score.bull_adjust", 0.05)

	v.SetDefault("sentiment.enabled", false)
	v.SetDefault("sentiment.tolerance", 0.20)
	v.SetDefault("sentiment.threshold", 0.50)
	v.SetDefault("sentiment.feed_timeout", "10s")
	v.SetDefault("sentiment.openai.base_url", "https://api.openai.com/v1")
	v.SetDefault("sentiment.openai.model", "gpt-4.1-mini")
	v.SetDefault("sentiment.openai.timeout", "10s")

	v.SetDefault("execution.mode", "dryrun")
	v.SetDefault("execution.slippage_per_share", 0.01)
	v.SetDefault("execution.commission_pct", 0.0005)
	v.SetDefault("execution.commission_per_share", 0.005)
	v.SetDefault("execution.min_commission", 1.0)

	v.SetDefault("router.commission_weight", 0.4)
	v.SetDefault("router.latency_weight", 0.4)
	v.SetDefault("router.liquidity_weight", 0.2)
	v.SetDefault("router.max_retries", 3)
	v.SetDefault("router.attempt_timeout", "5s")
	v.SetDefault("router.latency_ceiling", "2s")
	v.SetDefault("router.max_latency_breaches", 3)
	v.SetDefault("router.allow_sim_fill", false)

	v.SetDefault("alerts.dedupe_window", "5m")
	v.SetDefault("alerts.timeout", "5s")

	v.SetDefault("database.path", "data/trade_core.db")
	v.SetDefault("database.max_open_conns", 4)
	v.SetDefault("database.max_idle_conns", 4)
	v.SetDefault("database.conn_max_lifetime", "1h")
	v.SetDefault("database.in_memory", false)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.encoding", "console")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.output_paths", []string{"stdout"})
	v.SetDefault("logging.error_output_paths", []string{"stderr"})
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

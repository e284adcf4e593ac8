package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	mapstructure "github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	defaultConfigPath = "configs/config.yaml"
	envPrefix         = "convergence"
)

// Load 读取配置文件并结合环境变量返回 Config。
// 当前目录下的 .env 会先被加载到进程环境，已存在的环境变量不会被覆盖。
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("读取 .env 失败: %w", err)
	}

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
	v.SetDefault("app.name", "convergence-engine")
	v.SetDefault("app.environment", "development")

	v.SetDefault("exchange.name", "binanceusdm")
	v.SetDefault("exchange.spot_name", "binance")
	v.SetDefault("exchange.use_sandbox", false)
	v.SetDefault("exchange.request_timeout", "10s")
	v.SetDefault("exchange.retry.max_attempts", 5)
	v.SetDefault("exchange.retry.min_delay", "500ms")
	v.SetDefault("exchange.retry.max_delay", "5s")

	v.SetDefault("instruments", []map[string]any{
		{"symbol": "BTCUSDT", "market": "BTC/USDT:USDT", "spot_market": "BTC/USDT"},
	})

	v.SetDefault("market_data.intervals", []string{"1m", "1h", "4h", "1d"})
	v.SetDefault("market_data.candle_limit", 120)
	v.SetDefault("market_data.order_book_depth", 20)

	v.SetDefault("cache.order_book", "2s")
	v.SetDefault("cache.trade_flow", "2s")
	v.SetDefault("cache.basis", "5s")
	v.SetDefault("cache.funding", "300s")
	v.SetDefault("cache.open_interest", "300s")
	v.SetDefault("cache.candles", "30s")
	v.SetDefault("cache.structure", "60s")

	v.SetDefault("history.open_interest_retention", "168h")
	v.SetDefault("history.funding_retention", "168h")
	v.SetDefault("history.imbalance_retention", "2h")
	v.SetDefault("history.sample_interval", "15m")
	v.SetDefault("history.tolerance", "30m")

	v.SetDefault("metrics.interval", "1m")
	v.SetDefault("metrics.order_book_depth", 10)
	v.SetDefault("metrics.vwap_lookback", 60)
	v.SetDefault("metrics.flow_lookback", 10)
	v.SetDefault("metrics.flow_volume_window", 20)
	v.SetDefault("metrics.oi_threshold", 1.5)
	v.SetDefault("metrics.oi_lookback", "4h")
	v.SetDefault("metrics.funding_extreme", 10.0)
	v.SetDefault("metrics.basis_arb_threshold", 0.3)
	v.SetDefault("metrics.imbalance_velocity_samples", 5)

	v.SetDefault("structure.enabled", true)
	v.SetDefault("structure.required", []string{"1d", "4h", "1h"})
	v.SetDefault("structure.optional", []string{})
	v.SetDefault("structure.entry", "1h")
	v.SetDefault("structure.bias_lookback", 5)
	v.SetDefault("structure.min_bias_confidence", 0.6)
	v.SetDefault("structure.liquidity_grab_pct", 0.1)
	v.SetDefault("structure.discount_below", 0.45)
	v.SetDefault("structure.premium_above", 0.55)
	v.SetDefault("structure.equal_tolerance_pct", 0.1)
	v.SetDefault("structure.round_number_range_pct", 5.0)
	v.SetDefault("structure.min_candles", 5)
	v.SetDefault("structure.optional_bonus", 0.1)

	v.SetDefault("scoring.order_book.moderate", 0.4)
	v.SetDefault("scoring.order_book.strong", 0.6)
	v.SetDefault("scoring.order_book.moderate_points", 15)
	v.SetDefault("scoring.order_book.strong_points", 25)
	v.SetDefault("scoring.trade_flow.moderate", 0.3)
	v.SetDefault("scoring.trade_flow.strong", 0.5)
	v.SetDefault("scoring.trade_flow.moderate_points", 15)
	v.SetDefault("scoring.trade_flow.strong_points", 25)
	v.SetDefault("scoring.vwap.moderate", 1.5)
	v.SetDefault("scoring.vwap.strong", 2.0)
	v.SetDefault("scoring.vwap.moderate_points", 20)
	v.SetDefault("scoring.vwap.strong_points", 30)
	v.SetDefault("scoring.funding.moderate", 7.0)
	v.SetDefault("scoring.funding.strong", 10.0)
	v.SetDefault("scoring.funding.moderate_points", 10)
	v.SetDefault("scoring.funding.strong_points", 20)
	v.SetDefault("scoring.oi_weak_points", 10)
	v.SetDefault("scoring.oi_strong_points", 20)
	v.SetDefault("scoring.structure_aligned_points", 10)
	v.SetDefault("scoring.structure_zone_points", 20)
	v.SetDefault("scoring.basis_extreme", 0.3)
	v.SetDefault("scoring.funding_basis_agree", 15)
	v.SetDefault("scoring.funding_basis_conflict", -20)
	v.SetDefault("scoring.funding_vote_mode", "contrarian")
	v.SetDefault("scoring.high_score", 85)
	v.SetDefault("scoring.high_aligned", 4)
	v.SetDefault("scoring.medium_score", 70)
	v.SetDefault("scoring.medium_aligned", 3)

	v.SetDefault("signal.min_score", 70)
	v.SetDefault("signal.min_aligned", 3)
	v.SetDefault("signal.stop_pct", 0.02)
	v.SetDefault("signal.target_pct", 0.01)
	v.SetDefault("signal.min_target_pct", 0.015)
	v.SetDefault("signal.anchor_levels", false)
	v.SetDefault("signal.stop_buffer_pct", 0.001)
	v.SetDefault("signal.account_balance", 0.0)
	v.SetDefault("signal.risk_pct", 1.0)
	v.SetDefault("signal.leverage", 1.0)
	v.SetDefault("signal.expiry", "24h")

	v.SetDefault("openai.api_key", "")
	v.SetDefault("openai.base_url", "https://api.openai.com/v1")
	v.SetDefault("openai.model", "gpt-4.1")
	v.SetDefault("openai.timeout", "15s")

	v.SetDefault("database.path", "data/convergence.db")
	v.SetDefault("database.max_open_conns", 4)
	v.SetDefault("database.max_idle_conns", 4)
	v.SetDefault("database.conn_max_lifetime", "1h")
	v.SetDefault("database.in_memory", false)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.encoding", "console")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.output_paths", []string{"stdout"})
	v.SetDefault("logging.error_output_paths", []string{"stderr"})
	v.SetDefault("logging.file.path", "")
	v.SetDefault("logging.file.max_size_mb", 100)
	v.SetDefault("logging.file.max_backups", 5)
	v.SetDefault("logging.file.max_age_days", 14)
	v.SetDefault("logging.file.compress", true)

	v.SetDefault("scheduler.evaluate_spec", "0 */5 * * * *")
	v.SetDefault("scheduler.sample_spec", "0 */15 * * * *")
	v.SetDefault("scheduler.resolve_spec", "30 * * * * *")
	v.SetDefault("scheduler.cleanup_spec", "0 * * * * *")
	v.SetDefault("scheduler.concurrency", 4)
	v.SetDefault("scheduler.job_timeout", "2m")

	v.SetDefault("monitor.enabled", true)
	v.SetDefault("monitor.addr", ":8080")
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

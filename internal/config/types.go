package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/multierr"

	"convergence-engine/internal/market"
)

// Config 聚合了系统运行所需的全部配置项。
type Config struct {
	App         AppConfig          `mapstructure:"app"`
	Exchange    ExchangeConfig     `mapstructure:"exchange"`
	Instruments []InstrumentConfig `mapstructure:"instruments"`
	MarketData  MarketDataConfig   `mapstructure:"market_data"`
	Cache       CacheConfig        `mapstructure:"cache"`
	History     HistoryConfig      `mapstructure:"history"`
	Metrics     MetricsConfig      `mapstructure:"metrics"`
	Structure   StructureConfig    `mapstructure:"structure"`
	Scoring     ScoringConfig      `mapstructure:"scoring"`
	Signal      SignalConfig       `mapstructure:"signal"`
	OpenAI      OpenAIConfig       `mapstructure:"openai"`
	Database    DatabaseConfig     `mapstructure:"database"`
	Logging     LoggingConfig      `mapstructure:"logging"`
	Scheduler   SchedulerConfig    `mapstructure:"scheduler"`
	Monitor     MonitorConfig      `mapstructure:"monitor"`
}

// AppConfig 控制应用级参数。
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// ExchangeConfig 描述行情交易所连接信息。
type ExchangeConfig struct {
	Name           string        `mapstructure:"name"`
	SpotName       string        `mapstructure:"spot_name"`
	APIKey         string        `mapstructure:"api_key"`
	APISecret      string        `mapstructure:"api_secret"`
	UseSandbox     bool          `mapstructure:"use_sandbox"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	Retry          RetryConfig   `mapstructure:"retry"`
}

// RetryConfig 统一控制重试机制。
type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	MinDelay    time.Duration `mapstructure:"min_delay"`
	MaxDelay    time.Duration `mapstructure:"max_delay"`
}

// InstrumentConfig 描述一个监控的永续合约及其现货参考。
type InstrumentConfig struct {
	Symbol     string `mapstructure:"symbol"`
	Market     string `mapstructure:"market"`
	SpotMarket string `mapstructure:"spot_market"`
}

// MarketDataConfig 控制快照采集范围。
type MarketDataConfig struct {
	Intervals      []string `mapstructure:"intervals"`
	CandleLimit    int      `mapstructure:"candle_limit"`
	OrderBookDepth int      `mapstructure:"order_book_depth"`
}

// CacheConfig 为各数据类别的 TTL。
type CacheConfig struct {
	OrderBook    time.Duration `mapstructure:"order_book"`
	TradeFlow    time.Duration `mapstructure:"trade_flow"`
	Basis        time.Duration `mapstructure:"basis"`
	Funding      time.Duration `mapstructure:"funding"`
	OpenInterest time.Duration `mapstructure:"open_interest"`
	Candles      time.Duration `mapstructure:"candles"`
	Structure    time.Duration `mapstructure:"structure"`
}

// HistoryConfig 控制历史序列保留与查询容差。
type HistoryConfig struct {
	OpenInterestRetention time.Duration `mapstructure:"open_interest_retention"`
	FundingRetention      time.Duration `mapstructure:"funding_retention"`
	ImbalanceRetention    time.Duration `mapstructure:"imbalance_retention"`
	SampleInterval        time.Duration `mapstructure:"sample_interval"`
	Tolerance             time.Duration `mapstructure:"tolerance"`
}

// MetricsConfig 控制指标窗口与阈值。
type MetricsConfig struct {
	Interval                 string        `mapstructure:"interval"`
	OrderBookDepth           int           `mapstructure:"order_book_depth"`
	VWAPLookback             int           `mapstructure:"vwap_lookback"`
	FlowLookback             int           `mapstructure:"flow_lookback"`
	FlowVolumeWindow         int           `mapstructure:"flow_volume_window"`
	OIThreshold              float64       `mapstructure:"oi_threshold"`
	OILookback               time.Duration `mapstructure:"oi_lookback"`
	FundingExtreme           float64       `mapstructure:"funding_extreme"`
	BasisArbThreshold        float64       `mapstructure:"basis_arb_threshold"`
	ImbalanceVelocitySamples int           `mapstructure:"imbalance_velocity_samples"`
}

// StructureConfig 控制结构分析。
type StructureConfig struct {
	Enabled             bool     `mapstructure:"enabled"`
	Required            []string `mapstructure:"required"`
	Optional            []string `mapstructure:"optional"`
	Entry               string   `mapstructure:"entry"`
	BiasLookback        int      `mapstructure:"bias_lookback"`
	MinBiasConfidence   float64  `mapstructure:"min_bias_confidence"`
	LiquidityGrabPct    float64  `mapstructure:"liquidity_grab_pct"`
	DiscountBelow       float64  `mapstructure:"discount_below"`
	PremiumAbove        float64  `mapstructure:"premium_above"`
	EqualTolerancePct   float64  `mapstructure:"equal_tolerance_pct"`
	RoundNumberRangePct float64  `mapstructure:"round_number_range_pct"`
	MinCandles          int      `mapstructure:"min_candles"`
	OptionalBonus       float64  `mapstructure:"optional_bonus"`
}

// TierConfig 为两档评分阈值与分值。
type TierConfig struct {
	Moderate       float64 `mapstructure:"moderate"`
	Strong         float64 `mapstructure:"strong"`
	ModeratePoints int     `mapstructure:"moderate_points"`
	StrongPoints   int     `mapstructure:"strong_points"`
}

// ScoringConfig 控制汇聚评分。
type ScoringConfig struct {
	OrderBook              TierConfig `mapstructure:"order_book"`
	TradeFlow              TierConfig `mapstructure:"trade_flow"`
	VWAP                   TierConfig `mapstructure:"vwap"`
	Funding                TierConfig `mapstructure:"funding"`
	OIWeakPoints           int        `mapstructure:"oi_weak_points"`
	OIStrongPoints         int        `mapstructure:"oi_strong_points"`
	StructureAlignedPoints int        `mapstructure:"structure_aligned_points"`
	StructureZonePoints    int        `mapstructure:"structure_zone_points"`
	BasisExtreme           float64    `mapstructure:"basis_extreme"`
	FundingBasisAgree      int        `mapstructure:"funding_basis_agree"`
	FundingBasisConflict   int        `mapstructure:"funding_basis_conflict"`
	FundingVoteMode        string     `mapstructure:"funding_vote_mode"`
	HighScore              int        `mapstructure:"high_score"`
	HighAligned            int        `mapstructure:"high_aligned"`
	MediumScore            int        `mapstructure:"medium_score"`
	MediumAligned          int        `mapstructure:"medium_aligned"`
}

// SignalConfig 控制方向判定、价位与信号跟踪。
type SignalConfig struct {
	MinScore       int           `mapstructure:"min_score"`
	MinAligned     int           `mapstructure:"min_aligned"`
	StopPct        float64       `mapstructure:"stop_pct"`
	TargetPct      float64       `mapstructure:"target_pct"`
	MinTargetPct   float64       `mapstructure:"min_target_pct"`
	AnchorLevels   bool          `mapstructure:"anchor_levels"`
	StopBufferPct  float64       `mapstructure:"stop_buffer_pct"`
	AccountBalance float64       `mapstructure:"account_balance"`
	RiskPct        float64       `mapstructure:"risk_pct"`
	Leverage       float64       `mapstructure:"leverage"`
	Expiry         time.Duration `mapstructure:"expiry"`
}

// OpenAIConfig 描述信号解读所用的大模型参数，APIKey 为空时不启用。
type OpenAIConfig struct {
	APIKey  string        `mapstructure:"api_key"`
	BaseURL string        `mapstructure:"base_url"`
	Model   string        `mapstructure:"model"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// Enabled 判断是否配置了大模型。
func (c OpenAIConfig) Enabled() bool {
	return strings.TrimSpace(c.APIKey) != ""
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
	Level            string        `mapstructure:"level"`
	Encoding         string        `mapstructure:"encoding"`
	Development      bool          `mapstructure:"development"`
	OutputPaths      []string      `mapstructure:"output_paths"`
	ErrorOutputPaths []string      `mapstructure:"error_output_paths"`
	File             LogFileConfig `mapstructure:"file"`
}

// LogFileConfig 控制滚动日志文件，Path 为空时不写文件。
type LogFileConfig struct {
	Path       string `mapstructure:"path"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// SchedulerConfig 为各定时任务的 cron 表达式（含秒）。
type SchedulerConfig struct {
	EvaluateSpec string        `mapstructure:"evaluate_spec"`
	SampleSpec   string        `mapstructure:"sample_spec"`
	ResolveSpec  string        `mapstructure:"resolve_spec"`
	CleanupSpec  string        `mapstructure:"cleanup_spec"`
	Concurrency  int           `mapstructure:"concurrency"`
	JobTimeout   time.Duration `mapstructure:"job_timeout"`
}

// MonitorConfig 控制监控 HTTP 服务。
type MonitorConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// Validate 对配置进行基本校验，汇总全部问题后返回。
func (c *Config) Validate() error {
	var err error

	if c.App.Environment == "" {
		err = multierr.Append(err, errors.New("app.environment 不能为空"))
	}
	if c.Exchange.Name == "" {
		err = multierr.Append(err, errors.New("exchange.name 不能为空"))
	}
	if c.Exchange.Retry.MaxAttempts <= 0 {
		err = multierr.Append(err, errors.New("exchange.retry.max_attempts 必须大于0"))
	}
	if c.Exchange.Retry.MinDelay <= 0 || c.Exchange.Retry.MaxDelay <= 0 {
		err = multierr.Append(err, errors.New("exchange.retry.delay 必须为正"))
	}
	if c.Exchange.Retry.MinDelay > c.Exchange.Retry.MaxDelay {
		err = multierr.Append(err, errors.New("exchange.retry.min_delay 不能大于 max_delay"))
	}

	if len(c.Instruments) == 0 {
		err = multierr.Append(err, errors.New("instruments 至少包含一个合约"))
	}
	seen := make(map[string]bool, len(c.Instruments))
	for i, inst := range c.Instruments {
		if inst.Symbol == "" || inst.Market == "" {
			err = multierr.Append(err, fmt.Errorf("instruments[%d] 需要 symbol 与 market", i))
			continue
		}
		key := strings.ToUpper(inst.Symbol)
		if seen[key] {
			err = multierr.Append(err, fmt.Errorf("instruments[%d] 重复的合约 %s", i, inst.Symbol))
		}
		seen[key] = true
	}

	for _, s := range c.MarketData.Intervals {
		err = multierr.Append(err, validInterval("market_data.intervals", s))
	}
	if c.MarketData.CandleLimit < 3 {
		err = multierr.Append(err, errors.New("market_data.candle_limit 至少为3"))
	}

	for name, ttl := range map[string]time.Duration{
		"cache.order_book":    c.Cache.OrderBook,
		"cache.trade_flow":    c.Cache.TradeFlow,
		"cache.basis":         c.Cache.Basis,
		"cache.funding":       c.Cache.Funding,
		"cache.open_interest": c.Cache.OpenInterest,
		"cache.candles":       c.Cache.Candles,
		"cache.structure":     c.Cache.Structure,
	} {
		if ttl <= 0 {
			err = multierr.Append(err, fmt.Errorf("%s 必须大于0", name))
		}
	}

	if c.History.Tolerance <= 0 {
		err = multierr.Append(err, errors.New("history.tolerance 必须大于0"))
	}
	if c.History.SampleInterval <= 0 {
		err = multierr.Append(err, errors.New("history.sample_interval 必须大于0"))
	}
	if c.History.OpenInterestRetention < c.Metrics.OILookback {
		err = multierr.Append(err, errors.New("history.open_interest_retention 不应小于 metrics.oi_lookback"))
	}

	err = multierr.Append(err, validInterval("metrics.interval", c.Metrics.Interval))
	if c.Metrics.OrderBookDepth <= 0 {
		err = multierr.Append(err, errors.New("metrics.order_book_depth 必须大于0"))
	}
	if c.Metrics.VWAPLookback < 2 {
		err = multierr.Append(err, errors.New("metrics.vwap_lookback 至少为2"))
	}
	if c.Metrics.FlowLookback <= 0 || c.Metrics.FlowVolumeWindow <= 0 {
		err = multierr.Append(err, errors.New("metrics.flow_lookback 与 flow_volume_window 必须大于0"))
	}
	if c.Metrics.OIThreshold <= 0 {
		err = multierr.Append(err, errors.New("metrics.oi_threshold 必须大于0"))
	}

	if len(c.Structure.Required) == 0 {
		err = multierr.Append(err, errors.New("structure.required 至少包含一个周期"))
	}
	for _, s := range c.Structure.Required {
		err = multierr.Append(err, validInterval("structure.required", s))
	}
	for _, s := range c.Structure.Optional {
		err = multierr.Append(err, validInterval("structure.optional", s))
	}
	if c.Structure.Entry != "" {
		err = multierr.Append(err, validInterval("structure.entry", c.Structure.Entry))
	}
	if c.Structure.MinBiasConfidence < 0 || c.Structure.MinBiasConfidence > 1 {
		err = multierr.Append(err, errors.New("structure.min_bias_confidence 必须位于[0,1]"))
	}
	if c.Structure.DiscountBelow <= 0 || c.Structure.PremiumAbove >= 1 || c.Structure.DiscountBelow > c.Structure.PremiumAbove {
		err = multierr.Append(err, errors.New("structure.discount_below/premium_above 必须满足 0<discount<=premium<1"))
	}

	for name, tier := range map[string]TierConfig{
		"scoring.order_book": c.Scoring.OrderBook,
		"scoring.trade_flow": c.Scoring.TradeFlow,
		"scoring.vwap":       c.Scoring.VWAP,
		"scoring.funding":    c.Scoring.Funding,
	} {
		if tier.Moderate <= 0 || tier.Strong < tier.Moderate {
			err = multierr.Append(err, fmt.Errorf("%s 阈值必须满足 0<moderate<=strong", name))
		}
	}
	switch strings.ToLower(c.Scoring.FundingVoteMode) {
	case "", "contrarian", "aligned":
	default:
		err = multierr.Append(err, fmt.Errorf("scoring.funding_vote_mode 未知取值 %q", c.Scoring.FundingVoteMode))
	}
	if c.Scoring.HighScore < c.Scoring.MediumScore {
		err = multierr.Append(err, errors.New("scoring.high_score 不应小于 medium_score"))
	}

	if c.Signal.MinScore < 0 || c.Signal.MinScore > 100 {
		err = multierr.Append(err, errors.New("signal.min_score 必须位于[0,100]"))
	}
	if c.Signal.MinAligned <= 0 {
		err = multierr.Append(err, errors.New("signal.min_aligned 必须大于0"))
	}
	if c.Signal.StopPct <= 0 || c.Signal.StopPct >= 1 {
		err = multierr.Append(err, errors.New("signal.stop_pct 必须位于(0,1)"))
	}
	if c.Signal.MinTargetPct <= 0 || c.Signal.MinTargetPct >= 1 {
		err = multierr.Append(err, errors.New("signal.min_target_pct 必须位于(0,1)"))
	}
	if c.Signal.AccountBalance < 0 || c.Signal.RiskPct < 0 || c.Signal.Leverage < 0 {
		err = multierr.Append(err, errors.New("signal.account_balance/risk_pct/leverage 不能为负"))
	}
	if c.Signal.Expiry <= 0 {
		err = multierr.Append(err, errors.New("signal.expiry 必须大于0"))
	}

	if c.OpenAI.Enabled() {
		if c.OpenAI.Model == "" {
			err = multierr.Append(err, errors.New("openai.model 不能为空"))
		}
		if c.OpenAI.Timeout <= 0 {
			err = multierr.Append(err, errors.New("openai.timeout 必须大于0"))
		}
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
	if c.Database.ConnMaxLifetime < 0 {
		err = multierr.Append(err, errors.New("database.conn_max_lifetime 不能为负"))
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

	if c.Scheduler.EvaluateSpec == "" {
		err = multierr.Append(err, errors.New("scheduler.evaluate_spec 不能为空"))
	}
	if c.Scheduler.Concurrency <= 0 {
		err = multierr.Append(err, errors.New("scheduler.concurrency 必须大于0"))
	}
	if c.Scheduler.JobTimeout <= 0 {
		err = multierr.Append(err, errors.New("scheduler.job_timeout 必须大于0"))
	}
	if c.Monitor.Enabled && c.Monitor.Addr == "" {
		err = multierr.Append(err, errors.New("monitor.addr 不能为空"))
	}

	if err != nil {
		return fmt.Errorf("配置校验失败: %w", err)
	}

	return nil
}

func validInterval(field, s string) error {
	if _, err := market.ParseInterval(s); err != nil {
		return fmt.Errorf("%s 包含未知周期 %q", field, s)
	}
	return nil
}

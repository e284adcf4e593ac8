package app

import (
	"fmt"
	"time"

	"go.uber.org/multierr"

	"convergence-engine/internal/cache"
	"convergence-engine/internal/config"
	"convergence-engine/internal/convergence"
	"convergence-engine/internal/engine"
	"convergence-engine/internal/exchange"
	"convergence-engine/internal/history"
	"convergence-engine/internal/market"
	"convergence-engine/internal/metrics"
	"convergence-engine/internal/signal"
	"convergence-engine/internal/structure"
)

// engineParams 将配置映射为引擎参数。
func engineParams(cfg *config.Config) (engine.Params, error) {
	var errs error

	interval, err := market.ParseInterval(cfg.Metrics.Interval)
	errs = multierr.Append(errs, err)

	mode, err := convergence.ParseFundingVoteMode(cfg.Scoring.FundingVoteMode)
	errs = multierr.Append(errs, err)

	if errs != nil {
		return engine.Params{}, fmt.Errorf("构建引擎参数失败: %w", errs)
	}

	return engine.Params{
		Metrics: metrics.Params{
			Interval:                 interval,
			OrderBookDepth:           cfg.Metrics.OrderBookDepth,
			VWAPLookback:             cfg.Metrics.VWAPLookback,
			FlowLookback:             cfg.Metrics.FlowLookback,
			FlowVolumeWindow:         cfg.Metrics.FlowVolumeWindow,
			OIThreshold:              cfg.Metrics.OIThreshold,
			OILookback:               cfg.Metrics.OILookback,
			FundingExtreme:           cfg.Metrics.FundingExtreme,
			BasisArbThreshold:        cfg.Metrics.BasisArbThreshold,
			ImbalanceVelocitySamples: cfg.Metrics.ImbalanceVelocitySamples,
		},
		Structure: structure.Params{
			BiasLookback:        cfg.Structure.BiasLookback,
			MinBiasConfidence:   cfg.Structure.MinBiasConfidence,
			LiquidityGrabPct:    cfg.Structure.LiquidityGrabPct,
			DiscountBelow:       cfg.Structure.DiscountBelow,
			PremiumAbove:        cfg.Structure.PremiumAbove,
			EqualTolerancePct:   cfg.Structure.EqualTolerancePct,
			RoundNumberRangePct: cfg.Structure.RoundNumberRangePct,
			MinCandles:          cfg.Structure.MinCandles,
			OptionalBonus:       cfg.Structure.OptionalBonus,
		},
		Scoring: convergence.Params{
			OrderBook:              tier(cfg.Scoring.OrderBook),
			TradeFlow:              tier(cfg.Scoring.TradeFlow),
			VWAP:                   tier(cfg.Scoring.VWAP),
			Funding:                tier(cfg.Scoring.Funding),
			OIWeakPoints:           cfg.Scoring.OIWeakPoints,
			OIStrongPoints:         cfg.Scoring.OIStrongPoints,
			StructureAlignedPoints: cfg.Scoring.StructureAlignedPoints,
			StructureZonePoints:    cfg.Scoring.StructureZonePoints,
			BasisExtreme:           cfg.Scoring.BasisExtreme,
			FundingBasisAgree:      cfg.Scoring.FundingBasisAgree,
			FundingBasisConflict:   cfg.Scoring.FundingBasisConflict,
			FundingVote:            mode,
			HighScore:              cfg.Scoring.HighScore,
			HighAligned:            cfg.Scoring.HighAligned,
			MediumScore:            cfg.Scoring.MediumScore,
			MediumAligned:          cfg.Scoring.MediumAligned,
		},
		Signal: signal.Params{
			MinScore:       cfg.Signal.MinScore,
			MinAligned:     cfg.Signal.MinAligned,
			StopPct:        cfg.Signal.StopPct,
			TargetPct:      cfg.Signal.TargetPct,
			MinTargetPct:   cfg.Signal.MinTargetPct,
			AnchorLevels:   cfg.Signal.AnchorLevels,
			StopBufferPct:  cfg.Signal.StopBufferPct,
			AccountBalance: cfg.Signal.AccountBalance,
			RiskPct:        cfg.Signal.RiskPct,
			Leverage:       cfg.Signal.Leverage,
		},
		StructureTTL: cfg.Cache.Structure,
	}, nil
}

func tier(c config.TierConfig) convergence.Tier {
	return convergence.Tier{
		Moderate:       c.Moderate,
		Strong:         c.Strong,
		ModeratePoints: c.ModeratePoints,
		StrongPoints:   c.StrongPoints,
	}
}

// evaluateOptions 由结构配置构建单次评估选项。
func evaluateOptions(cfg *config.Config) (engine.Options, error) {
	required, err := parseIntervals(cfg.Structure.Required)
	if err != nil {
		return engine.Options{}, err
	}
	optional, err := parseIntervals(cfg.Structure.Optional)
	if err != nil {
		return engine.Options{}, err
	}
	opts := engine.Options{
		Required:      required,
		Optional:      optional,
		SkipStructure: !cfg.Structure.Enabled,
	}
	if opts.Optional == nil {
		opts.Optional = []market.Interval{}
	}
	if cfg.Structure.Entry != "" {
		if opts.Entry, err = market.ParseInterval(cfg.Structure.Entry); err != nil {
			return engine.Options{}, err
		}
	}
	return opts, nil
}

// snapshotRequest 覆盖指标周期与全部结构周期。
func snapshotRequest(cfg *config.Config, opts engine.Options, metricsInterval market.Interval) (exchange.SnapshotRequest, error) {
	configured, err := parseIntervals(cfg.MarketData.Intervals)
	if err != nil {
		return exchange.SnapshotRequest{}, err
	}

	seen := make(map[market.Interval]bool)
	intervals := make([]market.Interval, 0, len(configured)+4)
	add := func(ivs ...market.Interval) {
		for _, iv := range ivs {
			if iv == "" || seen[iv] {
				continue
			}
			seen[iv] = true
			intervals = append(intervals, iv)
		}
	}
	add(metricsInterval)
	add(configured...)
	if !opts.SkipStructure {
		add(opts.Required...)
		add(opts.Optional...)
		add(opts.Entry)
	}

	return exchange.SnapshotRequest{
		Intervals:      intervals,
		CandleLimit:    cfg.MarketData.CandleLimit,
		OrderBookDepth: cfg.MarketData.OrderBookDepth,
	}, nil
}

func parseIntervals(values []string) ([]market.Interval, error) {
	if len(values) == 0 {
		return nil, nil
	}
	out := make([]market.Interval, 0, len(values))
	for _, v := range values {
		iv, err := market.ParseInterval(v)
		if err != nil {
			return nil, err
		}
		out = append(out, iv)
	}
	return out, nil
}

func cacheTTLs(cfg config.CacheConfig) map[cache.Class]time.Duration {
	return map[cache.Class]time.Duration{
		cache.ClassOrderBook:    cfg.OrderBook,
		cache.ClassTradeFlow:    cfg.TradeFlow,
		cache.ClassBasis:        cfg.Basis,
		cache.ClassFunding:      cfg.Funding,
		cache.ClassOpenInterest: cfg.OpenInterest,
		cache.ClassCandles:      cfg.Candles,
		cache.ClassStructure:    cfg.Structure,
	}
}

func historyOptions(cfg config.HistoryConfig) history.Options {
	return history.Options{
		OpenInterestRetention: cfg.OpenInterestRetention,
		FundingRetention:      cfg.FundingRetention,
		ImbalanceRetention:    cfg.ImbalanceRetention,
		SampleInterval:        cfg.SampleInterval,
		Tolerance:             cfg.Tolerance,
	}
}

func instruments(cfg []config.InstrumentConfig) []exchange.Instrument {
	out := make([]exchange.Instrument, 0, len(cfg))
	for _, inst := range cfg {
		out = append(out, exchange.Instrument{
			Symbol:     inst.Symbol,
			Market:     inst.Market,
			SpotMarket: inst.SpotMarket,
		})
	}
	return out
}

package metrics

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"convergence-engine/internal/history"
	"convergence-engine/internal/market"
)

// Kind 是固定的指标种类集合。
type Kind string

const (
	KindOrderBookImbalance Kind = "order_book_imbalance"
	KindFundingRate        Kind = "funding_rate"
	KindVWAPDeviation      Kind = "vwap_deviation"
	KindTradeFlow          Kind = "trade_flow"
	KindOIDivergence       Kind = "oi_divergence"
	KindBasisSpread        Kind = "basis_spread"
)

var canonicalOrder = []Kind{
	KindOrderBookImbalance,
	KindFundingRate,
	KindVWAPDeviation,
	KindTradeFlow,
	KindOIDivergence,
	KindBasisSpread,
}

// Kinds 按固定顺序返回全部指标种类。
func Kinds() []Kind {
	out := make([]Kind, len(canonicalOrder))
	copy(out, canonicalOrder)
	return out
}

// ParseKind 解析指标名称，未知名称返回 ErrInvalidParameter。
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range canonicalOrder {
		if k == known {
			return k, nil
		}
	}
	return "", fmt.Errorf("metrics: 未知指标 %q: %w", s, market.ErrInvalidParameter)
}

// 定性标签。
const (
	LabelUnknown = "unknown"
	LabelNeutral = "neutral"

	LabelStrongBidPressure   = "strong_bid_pressure"
	LabelModerateBidPressure = "moderate_bid_pressure"
	LabelStrongAskPressure   = "strong_ask_pressure"
	LabelModerateAskPressure = "moderate_ask_pressure"

	LabelExtremeBullish = "extreme_bullish"
	LabelBullish        = "bullish"
	LabelExtremeBearish = "extreme_bearish"
	LabelBearish        = "bearish"

	LabelZExtreme  = "extreme"
	LabelZHigh     = "high"
	LabelZModerate = "moderate"
	LabelZLow      = "low"

	LabelNetBuying  = "net_buying"
	LabelNetSelling = "net_selling"

	LabelStrongBullish = "strong_bullish"
	LabelWeakBullish   = "weak_bullish"
	LabelStrongBearish = "strong_bearish"
	LabelWeakBearish   = "weak_bearish"

	LabelExtremePremium   = "extreme_premium"
	LabelModeratePremium  = "moderate_premium"
	LabelExtremeDiscount  = "extreme_discount"
	LabelModerateDiscount = "moderate_discount"
)

// Result 为单个指标的计算结果。Known=false 时指标不参与评分。
type Result struct {
	Name      Kind           `json:"name"`
	Value     float64        `json:"value"`
	Label     string         `json:"label"`
	Known     bool           `json:"known"`
	Reason    string         `json:"reason,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Timestamp time.Time      `json:"timestamp"`

	Err error `json:"-"`
}

// Float 读取数值型元数据。
func (r Result) Float(key string) (float64, bool) {
	v, ok := r.Metadata[key]
	if !ok {
		return 0, false
	}
	f, ok := v.(float64)
	return f, ok
}

// IsInsufficient 判断结果是否因数据不足而未知。
func (r Result) IsInsufficient() bool {
	return !r.Known && (errors.Is(r.Err, market.ErrDataInsufficient) || errors.Is(r.Err, market.ErrUpstreamData))
}

func unknown(kind Kind, err error) Result {
	return Result{
		Name:   kind,
		Label:  LabelUnknown,
		Known:  false,
		Reason: err.Error(),
		Err:    err,
	}
}

func insufficient(kind Kind, format string, args ...any) Result {
	return unknown(kind, fmt.Errorf("metrics: %s: %s: %w", kind, fmt.Sprintf(format, args...), market.ErrDataInsufficient))
}

// History 为指标读取历史状态的只读接口。
type History interface {
	ValueAt(kind history.Kind, at time.Time, ago time.Duration) (history.Sample, bool)
	FundingDynamics(at time.Time) history.FundingDynamics
	OIChanges(at time.Time) history.OIChanges
	MeanStep(kind history.Kind, at time.Time, n int) history.Reading
}

// Params 控制指标计算窗口与阈值。
type Params struct {
	Interval                 market.Interval
	OrderBookDepth           int
	VWAPLookback             int
	FlowLookback             int
	FlowVolumeWindow         int
	OIThreshold              float64
	OILookback               time.Duration
	FundingExtreme           float64
	BasisArbThreshold        float64
	ImbalanceVelocitySamples int
}

// DefaultParams 返回默认参数。
func DefaultParams() Params {
	return Params{
		Interval:                 market.Interval1m,
		OrderBookDepth:           10,
		VWAPLookback:             60,
		FlowLookback:             10,
		FlowVolumeWindow:         20,
		OIThreshold:              1.5,
		OILookback:               4 * time.Hour,
		FundingExtreme:           10,
		BasisArbThreshold:        0.3,
		ImbalanceVelocitySamples: 5,
	}
}

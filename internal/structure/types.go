package structure

import (
	"time"

	"convergence-engine/internal/market"
)

// SwingKind 区分摆动高点与低点。
type SwingKind string

const (
	SwingHigh SwingKind = "high"
	SwingLow  SwingKind = "low"
)

// SwingPoint 为一个局部极值。
type SwingPoint struct {
	Index     int       `json:"index"`
	Timestamp time.Time `json:"timestamp"`
	Price     float64   `json:"price"`
	Kind      SwingKind `json:"kind"`
}

// Bias 为方向性偏向。
type Bias string

const (
	BiasBullish Bias = "BULLISH"
	BiasBearish Bias = "BEARISH"
	BiasNeutral Bias = "NEUTRAL"
)

// State 为结构形态。
type State string

const (
	StateBullish State = "bullish"
	StateBearish State = "bearish"
	StateRanging State = "ranging"
)

// BiasResult 为单周期结构判断。
type BiasResult struct {
	Bias         Bias    `json:"bias"`
	State        State   `json:"state"`
	Pattern      string  `json:"pattern"`
	Confidence   float64 `json:"confidence"`
	HigherHighs  int     `json:"higher_highs"`
	LowerHighs   int     `json:"lower_highs"`
	HigherLows   int     `json:"higher_lows"`
	LowerLows    int     `json:"lower_lows"`
	Insufficient bool    `json:"insufficient"`
}

// Zone 为价格在交易区间中的位置。
type Zone string

const (
	ZoneDiscount Zone = "discount"
	ZonePremium  Zone = "premium"
	ZoneMid      Zone = "mid"
)

// DealingRange 为最近一次扫流动性的摆动低点与高点构成的区间。
type DealingRange struct {
	Low            float64 `json:"low"`
	High           float64 `json:"high"`
	Midpoint       float64 `json:"midpoint"`
	CurrentPercent float64 `json:"current_percent"`
	Zone           Zone    `json:"zone"`
	Valid          bool    `json:"valid"`
	LowGrabbed     bool    `json:"low_grabbed"`
	HighGrabbed    bool    `json:"high_grabbed"`
}

// Level 为带来源的流动性价位。
type Level struct {
	Price  float64 `json:"price"`
	Source string  `json:"source"`
}

// 流动性来源。
const (
	SourcePriorDayHigh = "prior_day_high"
	SourcePriorDayLow  = "prior_day_low"
	SourceEqualHighs   = "equal_highs"
	SourceEqualLows    = "equal_lows"
	SourceRoundNumber  = "round_number"
)

// LiquidityPools 汇总价格上下方的流动性位置。
type LiquidityPools struct {
	PriorHigh    float64   `json:"prior_high"`
	PriorLow     float64   `json:"prior_low"`
	EqualHighs   []float64 `json:"equal_highs"`
	EqualLows    []float64 `json:"equal_lows"`
	RoundNumbers []float64 `json:"round_numbers"`
	NearestAbove *Level    `json:"nearest_above,omitempty"`
	NearestBelow *Level    `json:"nearest_below,omitempty"`
	AllAbove     []Level   `json:"all_above"`
	AllBelow     []Level   `json:"all_below"`
}

// BreakKind 区分结构突破（顺势）与性质转变（逆势）。
type BreakKind string

const (
	BreakOfStructure  BreakKind = "BOS"
	ChangeOfCharacter BreakKind = "CHOCH"
)

// StructureBreak 为最新收盘价越过最近摆动点的事件。
type StructureBreak struct {
	Kind      BreakKind `json:"kind"`
	Direction Bias      `json:"direction"`
	Level     float64   `json:"level"`
	Price     float64   `json:"price"`
	Timestamp time.Time `json:"timestamp"`
}

// TimeframeBias 为对齐检查中单个周期的结果。
type TimeframeBias struct {
	Interval market.Interval `json:"interval"`
	Required bool            `json:"required"`
	BiasResult
}

// Alignment 为多周期对齐结果。
type Alignment struct {
	Aligned          bool              `json:"aligned"`
	Bias             Bias              `json:"bias"`
	Confidence       float64           `json:"confidence"`
	Timeframes       []TimeframeBias   `json:"timeframes"`
	Conflicts        []market.Interval `json:"conflicts"`
	OptionalAgreeing []market.Interval `json:"optional_agreeing"`
}

// Params 控制结构分析的阈值。
type Params struct {
	BiasLookback        int
	MinBiasConfidence   float64
	LiquidityGrabPct    float64
	DiscountBelow       float64
	PremiumAbove        float64
	EqualTolerancePct   float64
	RoundNumberRangePct float64
	MinCandles          int
	OptionalBonus       float64
}

// DefaultParams 返回默认阈值。
func DefaultParams() Params {
	return Params{
		BiasLookback:        5,
		MinBiasConfidence:   0.6,
		LiquidityGrabPct:    0.1,
		DiscountBelow:       0.45,
		PremiumAbove:        0.55,
		EqualTolerancePct:   0.1,
		RoundNumberRangePct: 5,
		MinCandles:          5,
		OptionalBonus:       0.1,
	}
}

func (p Params) withDefaults() Params {
	def := DefaultParams()
	if p.BiasLookback < 2 {
		p.BiasLookback = def.BiasLookback
	}
	if p.MinBiasConfidence < 0 || p.MinBiasConfidence > 1 {
		p.MinBiasConfidence = def.MinBiasConfidence
	}
	if p.LiquidityGrabPct < 0 {
		p.LiquidityGrabPct = def.LiquidityGrabPct
	}
	if p.DiscountBelow <= 0 || p.PremiumAbove >= 1 || p.DiscountBelow > p.PremiumAbove {
		p.DiscountBelow, p.PremiumAbove = def.DiscountBelow, def.PremiumAbove
	}
	if p.EqualTolerancePct <= 0 {
		p.EqualTolerancePct = def.EqualTolerancePct
	}
	if p.RoundNumberRangePct <= 0 {
		p.RoundNumberRangePct = def.RoundNumberRangePct
	}
	if p.MinCandles < 3 {
		p.MinCandles = def.MinCandles
	}
	if p.OptionalBonus < 0 {
		p.OptionalBonus = def.OptionalBonus
	}
	return p
}

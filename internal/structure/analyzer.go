package structure

import (
	"fmt"

	"go.uber.org/zap"

	"convergence-engine/internal/market"
)

// Options 控制一次结构分析使用的周期。
type Options struct {
	Required []market.Interval
	Optional []market.Interval
	// Entry 为计算交易区间与流动性池的周期，默认取必选周期中最细的一个。
	Entry market.Interval
}

// Analysis 为结构分析的完整结果。
type Analysis struct {
	Alignment    Alignment        `json:"alignment"`
	Entry        market.Interval  `json:"entry"`
	Swings       []SwingPoint     `json:"swings"`
	Bias         BiasResult       `json:"bias"`
	Range        DealingRange     `json:"range"`
	Pools        LiquidityPools   `json:"pools"`
	Breaks       []StructureBreak `json:"breaks"`
	Insufficient bool             `json:"insufficient"`
}

// Analyzer 组合摆动点、偏向、区间、流动性与多周期对齐。
type Analyzer struct {
	params Params
	logger *zap.Logger
}

// NewAnalyzer 创建结构分析器。
func NewAnalyzer(params Params, logger *zap.Logger) *Analyzer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Analyzer{params: params.withDefaults(), logger: logger}
}

// Params 返回生效的阈值。
func (a *Analyzer) Params() Params {
	return a.params
}

// Analyze 对多周期K线执行结构分析。price 为当前价格，<=0 时取入场周期最新收盘价。
func (a *Analyzer) Analyze(candlesByTF map[market.Interval][]market.Candle, price float64, opts Options) (Analysis, error) {
	required := opts.Required
	if len(required) == 0 {
		required = DefaultRequired
	}
	optional := opts.Optional
	if optional == nil {
		optional = DefaultOptional
	}

	alignment, err := CheckAlignment(candlesByTF, required, optional, a.params)
	if err != nil {
		return Analysis{}, err
	}

	entry := opts.Entry
	if entry == "" {
		entry = finest(required)
	}
	if !entry.Valid() {
		return Analysis{}, fmt.Errorf("structure: 未知入场周期 %q: %w", entry, market.ErrInvalidParameter)
	}

	out := Analysis{
		Alignment: alignment,
		Entry:     entry,
		Swings:    []SwingPoint{},
		Breaks:    []StructureBreak{},
		Pools:     LiquidityPools{EqualHighs: []float64{}, EqualLows: []float64{}, RoundNumbers: []float64{}, AllAbove: []Level{}, AllBelow: []Level{}},
	}

	candles := candlesByTF[entry]
	if len(candles) < a.params.MinCandles || market.ValidateCandles(candles) != nil {
		out.Insufficient = true
		out.Bias = BiasResult{Bias: BiasNeutral, State: StateRanging, Pattern: patternRanging, Insufficient: true}
		a.logger.Debug("入场周期K线不足，跳过区间与流动性分析",
			zap.String("interval", entry.String()),
			zap.Int("candles", len(candles)),
		)
		return out, nil
	}

	if price <= 0 {
		price = candles[len(candles)-1].Close
	}

	out.Swings = DetectSwings(candles)
	highs, lows := Split(out.Swings)
	out.Bias = ClassifyBias(highs, lows, a.params.BiasLookback, a.params.MinBiasConfidence)
	out.Range = ComputeDealingRange(out.Swings, price, a.params)
	out.Pools = AggregateLiquidityPools(candles, out.Swings, price, a.params)
	out.Breaks = DetectBreaks(candles, out.Swings, out.Bias.Bias)
	out.Insufficient = out.Bias.Insufficient
	return out, nil
}

func finest(intervals []market.Interval) market.Interval {
	best := intervals[0]
	for _, iv := range intervals[1:] {
		if iv.Duration() < best.Duration() {
			best = iv
		}
	}
	return best
}

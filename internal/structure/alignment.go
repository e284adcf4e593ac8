package structure

import (
	"fmt"
	"math"

	"convergence-engine/internal/market"
)

// DefaultRequired 为默认必须对齐的高周期。
var DefaultRequired = []market.Interval{market.Interval1d, market.Interval4h, market.Interval1h}

// DefaultOptional 为默认可选加分周期。
var DefaultOptional = []market.Interval{market.Interval1w}

// TimeframeBiasOf 计算单个周期的结构偏向；K线不足或格式异常时返回中性并标记不足。
func TimeframeBiasOf(candles []market.Candle, params Params) BiasResult {
	params = params.withDefaults()
	if len(candles) < params.MinCandles || market.ValidateCandles(candles) != nil {
		return BiasResult{Bias: BiasNeutral, State: StateRanging, Pattern: patternRanging, Insufficient: true}
	}
	highs, lows := Split(DetectSwings(candles))
	return ClassifyBias(highs, lows, params.BiasLookback, params.MinBiasConfidence)
}

// CheckAlignment 检查必选周期是否共享同一非中性偏向。
// 未知周期（无论出现在数据还是必选/可选列表中）返回 ErrInvalidParameter。
func CheckAlignment(candlesByTF map[market.Interval][]market.Candle, required, optional []market.Interval, params Params) (Alignment, error) {
	params = params.withDefaults()
	for tf := range candlesByTF {
		if !tf.Valid() {
			return Alignment{}, fmt.Errorf("structure: 未知周期 %q: %w", tf, market.ErrInvalidParameter)
		}
	}
	if len(required) == 0 {
		return Alignment{}, fmt.Errorf("structure: 必选周期为空: %w", market.ErrInvalidParameter)
	}
	for _, tf := range append(append([]market.Interval(nil), required...), optional...) {
		if !tf.Valid() {
			return Alignment{}, fmt.Errorf("structure: 未知周期 %q: %w", tf, market.ErrInvalidParameter)
		}
	}

	result := Alignment{
		Bias:             BiasNeutral,
		Timeframes:       make([]TimeframeBias, 0, len(required)+len(optional)),
		Conflicts:        []market.Interval{},
		OptionalAgreeing: []market.Interval{},
	}

	bull, bear := 0, 0
	sumConf := 0.0
	for _, tf := range required {
		br := TimeframeBiasOf(candlesByTF[tf], params)
		result.Timeframes = append(result.Timeframes, TimeframeBias{Interval: tf, Required: true, BiasResult: br})
		switch br.Bias {
		case BiasBullish:
			bull++
		case BiasBearish:
			bear++
		}
		sumConf += br.Confidence
	}

	dominant := BiasNeutral
	switch {
	case bull > bear:
		dominant = BiasBullish
	case bear > bull:
		dominant = BiasBearish
	}
	for _, tb := range result.Timeframes {
		if tb.Bias != dominant || dominant == BiasNeutral {
			result.Conflicts = append(result.Conflicts, tb.Interval)
		}
	}

	result.Aligned = dominant != BiasNeutral && len(result.Conflicts) == 0
	for _, tf := range optional {
		candles, ok := candlesByTF[tf]
		if !ok {
			continue
		}
		br := TimeframeBiasOf(candles, params)
		result.Timeframes = append(result.Timeframes, TimeframeBias{Interval: tf, BiasResult: br})
		if result.Aligned && br.Bias == dominant {
			result.OptionalAgreeing = append(result.OptionalAgreeing, tf)
		}
	}

	if result.Aligned {
		result.Bias = dominant
		conf := sumConf/float64(len(required)) + params.OptionalBonus*float64(len(result.OptionalAgreeing))
		result.Confidence = math.Min(conf, 1)
	}
	return result, nil
}

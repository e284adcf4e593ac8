package metrics

import (
	"math"

	"convergence-engine/internal/indicator"
	"convergence-engine/internal/market"
)

// VWAPDeviation 计算当前价相对 VWAP 的 z 分数，σ 取收盘价总体标准差。
// 总成交量为0时 VWAP 退化为典型价均值；σ 为0时 z 记为0。
func VWAPDeviation(candles []market.Candle, lookback int, price float64) Result {
	if len(candles) < 2 {
		return insufficient(KindVWAPDeviation, "K线数量 %d 少于2", len(candles))
	}
	if lookback <= 0 || lookback > len(candles) {
		lookback = len(candles)
	}

	series := indicator.NewSeries(candles).Tail(lookback)
	typical := indicator.TypicalPrice(series)
	totalVolume := indicator.Sum(series.Volume)

	var vwap float64
	if totalVolume > 0 {
		vwap = indicator.Sum(indicator.Multiply(typical, series.Volume)) / totalVolume
	} else {
		vwap = indicator.Mean(typical)
	}

	if price <= 0 {
		price = indicator.Last(series.Close)
	}

	std := indicator.StdDev(series.Close)
	z := indicator.Clean(indicator.SafeDivide(price-vwap, std))
	deviationPct := indicator.Clean(indicator.SafeDivide(price-vwap, vwap) * 100)

	volumeRatio := indicator.Clean(indicator.SafeDivide(indicator.Last(series.Volume), indicator.Mean(series.Volume)))

	return Result{
		Name:  KindVWAPDeviation,
		Value: z,
		Label: zLevel(z),
		Known: true,
		Metadata: map[string]any{
			"vwap":          vwap,
			"std_dev":       std,
			"deviation_pct": deviationPct,
			"upper_band_1":  vwap + std,
			"lower_band_1":  vwap - std,
			"upper_band_2":  vwap + 2*std,
			"lower_band_2":  vwap - 2*std,
			"volume_ratio":  volumeRatio,
			"candles":       float64(series.Len()),
		},
	}
}

func zLevel(z float64) string {
	a := math.Abs(z)
	switch {
	case a >= 2:
		return LabelZExtreme
	case a >= 1.5:
		return LabelZHigh
	case a >= 1:
		return LabelZModerate
	default:
		return LabelZLow
	}
}

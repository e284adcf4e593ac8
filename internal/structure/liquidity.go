package structure

import (
	"math"
	"sort"
	"time"

	"convergence-engine/internal/market"
)

// AggregateLiquidityPools 汇总前日高低点、等高/等低点与整数关口，并找出价格上下最近的位置。
func AggregateLiquidityPools(candles []market.Candle, swings []SwingPoint, price float64, params Params) LiquidityPools {
	params = params.withDefaults()
	pools := LiquidityPools{
		EqualHighs:   []float64{},
		EqualLows:    []float64{},
		RoundNumbers: []float64{},
		AllAbove:     []Level{},
		AllBelow:     []Level{},
	}

	pools.PriorHigh, pools.PriorLow = PriorDayRange(candles)

	highs, lows := Split(swings)
	pools.EqualHighs = EqualLevels(prices(highs), params.EqualTolerancePct)
	pools.EqualLows = EqualLevels(prices(lows), params.EqualTolerancePct)
	pools.RoundNumbers = RoundNumbers(price, params.RoundNumberRangePct)

	if price <= 0 {
		return pools
	}

	var levels []Level
	if pools.PriorHigh > 0 {
		levels = append(levels, Level{Price: pools.PriorHigh, Source: SourcePriorDayHigh})
	}
	if pools.PriorLow > 0 {
		levels = append(levels, Level{Price: pools.PriorLow, Source: SourcePriorDayLow})
	}
	for _, p := range pools.EqualHighs {
		levels = append(levels, Level{Price: p, Source: SourceEqualHighs})
	}
	for _, p := range pools.EqualLows {
		levels = append(levels, Level{Price: p, Source: SourceEqualLows})
	}
	for _, p := range pools.RoundNumbers {
		levels = append(levels, Level{Price: p, Source: SourceRoundNumber})
	}

	for _, lv := range levels {
		switch {
		case lv.Price > price:
			pools.AllAbove = append(pools.AllAbove, lv)
		case lv.Price < price:
			pools.AllBelow = append(pools.AllBelow, lv)
		}
	}
	sort.SliceStable(pools.AllAbove, func(i, j int) bool { return pools.AllAbove[i].Price < pools.AllAbove[j].Price })
	sort.SliceStable(pools.AllBelow, func(i, j int) bool { return pools.AllBelow[i].Price > pools.AllBelow[j].Price })

	if len(pools.AllAbove) > 0 {
		lv := pools.AllAbove[0]
		pools.NearestAbove = &lv
	}
	if len(pools.AllBelow) > 0 {
		lv := pools.AllBelow[0]
		pools.NearestBelow = &lv
	}
	return pools
}

// PriorDayRange 返回最新K线所在UTC日期前一天的最高价与最低价。
// 前一天没有K线时，优先使用倒数第48至第24根，其次使用最近24根。
func PriorDayRange(candles []market.Candle) (high, low float64) {
	if len(candles) == 0 {
		return 0, 0
	}

	last := candles[len(candles)-1].Timestamp.UTC()
	dayStart := time.Date(last.Year(), last.Month(), last.Day(), 0, 0, 0, 0, time.UTC)
	prevStart := dayStart.Add(-24 * time.Hour)

	var window []market.Candle
	for _, c := range candles {
		ts := c.Timestamp.UTC()
		if !ts.Before(prevStart) && ts.Before(dayStart) {
			window = append(window, c)
		}
	}
	if len(window) == 0 {
		switch {
		case len(candles) >= 48:
			window = candles[len(candles)-48 : len(candles)-24]
		case len(candles) >= 24:
			window = candles[len(candles)-24:]
		default:
			window = candles
		}
	}

	high, low = window[0].High, window[0].Low
	for _, c := range window[1:] {
		high = math.Max(high, c.High)
		low = math.Min(low, c.Low)
	}
	return high, low
}

// EqualLevels 将相差不超过 tolerancePct% 的价格归为一组，返回成员不少于2个的组均价（升序）。
func EqualLevels(values []float64, tolerancePct float64) []float64 {
	out := []float64{}
	if len(values) < 2 {
		return out
	}

	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)

	anchor := sorted[0]
	group := []float64{anchor}
	flush := func() {
		if len(group) >= 2 {
			sum := 0.0
			for _, v := range group {
				sum += v
			}
			out = append(out, sum/float64(len(group)))
		}
	}
	for _, v := range sorted[1:] {
		if anchor > 0 && (v-anchor)/anchor*100 <= tolerancePct {
			group = append(group, v)
			continue
		}
		flush()
		anchor = v
		group = []float64{v}
	}
	flush()
	return out
}

// RoundNumbers 返回价格上下 rangePct% 内的整数关口，步长随价格量级变化。
func RoundNumbers(price, rangePct float64) []float64 {
	out := []float64{}
	if price <= 0 || rangePct <= 0 {
		return out
	}

	step := roundStep(price)
	lower := price * (1 - rangePct/100)
	upper := price * (1 + rangePct/100)
	for lv := math.Ceil(lower/step) * step; lv <= upper; lv += step {
		out = append(out, lv)
	}
	return out
}

func roundStep(price float64) float64 {
	switch {
	case price >= 10000:
		return 1000
	case price >= 1000:
		return 100
	case price >= 100:
		return 10
	default:
		return 1
	}
}

func prices(points []SwingPoint) []float64 {
	out := make([]float64, len(points))
	for i, p := range points {
		out[i] = p.Price
	}
	return out
}

package structure

import "convergence-engine/internal/market"

// DetectSwings 使用三点规则识别摆动点：high[i] 严格大于两侧为高点，low[i] 严格小于两侧为低点。
// 结果按索引升序，同一根K线可同时是高点与低点（高点在前）。
func DetectSwings(candles []market.Candle) []SwingPoint {
	if len(candles) < 3 {
		return nil
	}

	swings := make([]SwingPoint, 0, len(candles)/2)
	for i := 1; i < len(candles)-1; i++ {
		prev, curr, next := candles[i-1], candles[i], candles[i+1]
		if curr.High > prev.High && curr.High > next.High {
			swings = append(swings, SwingPoint{Index: i, Timestamp: curr.Timestamp, Price: curr.High, Kind: SwingHigh})
		}
		if curr.Low < prev.Low && curr.Low < next.Low {
			swings = append(swings, SwingPoint{Index: i, Timestamp: curr.Timestamp, Price: curr.Low, Kind: SwingLow})
		}
	}
	return swings
}

// Split 将摆动点按类型拆分，保持时间顺序。
func Split(swings []SwingPoint) (highs, lows []SwingPoint) {
	for _, s := range swings {
		switch s.Kind {
		case SwingHigh:
			highs = append(highs, s)
		case SwingLow:
			lows = append(lows, s)
		}
	}
	return highs, lows
}

package structure

const (
	patternBullish = "HH/HL"
	patternBearish = "LL/LH"
	patternRanging = "RANGING"
)

// ClassifyBias 统计最近 lookback 个高点与低点的抬高/降低次数并判断方向。
// 任一类摆动点少于2个时返回 NEUTRAL 且标记数据不足；
// 置信度为与多数方向一致的比例，低于 minConfidence 时强制为 NEUTRAL/RANGING。
func ClassifyBias(highs, lows []SwingPoint, lookback int, minConfidence float64) BiasResult {
	if len(highs) < 2 || len(lows) < 2 {
		return BiasResult{Bias: BiasNeutral, State: StateRanging, Pattern: patternRanging, Insufficient: true}
	}
	if lookback < 2 {
		lookback = 5
	}

	hh, lh := countTransitions(tail(highs, lookback))
	hl, ll := countTransitions(tail(lows, lookback))

	res := BiasResult{HigherHighs: hh, LowerHighs: lh, HigherLows: hl, LowerLows: ll}
	total := float64(hh + lh + hl + ll)

	switch {
	case hh > 0 && hl > 0 && lh == 0 && ll == 0:
		res.Bias, res.State, res.Pattern, res.Confidence = BiasBullish, StateBullish, patternBullish, 1
	case hh >= lh && hl >= ll && hh+hl > 0:
		res.Bias, res.State, res.Pattern = BiasBullish, StateBullish, patternBullish
		res.Confidence = float64(hh+hl) / total
	case ll > 0 && lh > 0 && hh == 0 && hl == 0:
		res.Bias, res.State, res.Pattern, res.Confidence = BiasBearish, StateBearish, patternBearish, 1
	case ll >= hl && lh >= hh && ll+lh > 0:
		res.Bias, res.State, res.Pattern = BiasBearish, StateBearish, patternBearish
		res.Confidence = float64(ll+lh) / total
	default:
		res.Bias, res.State, res.Pattern = BiasNeutral, StateRanging, patternRanging
	}

	if res.Confidence < minConfidence {
		res.Bias, res.State, res.Pattern = BiasNeutral, StateRanging, patternRanging
	}
	return res
}

func countTransitions(points []SwingPoint) (up, down int) {
	for i := 1; i < len(points); i++ {
		switch {
		case points[i].Price > points[i-1].Price:
			up++
		case points[i].Price < points[i-1].Price:
			down++
		}
	}
	return up, down
}

func tail(points []SwingPoint, n int) []SwingPoint {
	if len(points) <= n {
		return points
	}
	return points[len(points)-n:]
}

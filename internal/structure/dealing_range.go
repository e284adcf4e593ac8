package structure

// ComputeDealingRange 以最近一次扫过前一同类摆动点的低点与高点构建交易区间，
// 没有扫流动性时回退到最近的摆动点。
func ComputeDealingRange(swings []SwingPoint, price float64, params Params) DealingRange {
	params = params.withDefaults()
	highs, lows := Split(swings)
	if len(highs) == 0 || len(lows) == 0 {
		return DealingRange{}
	}

	low, lowGrabbed := grabbedSwing(lows, params.LiquidityGrabPct, false)
	high, highGrabbed := grabbedSwing(highs, params.LiquidityGrabPct, true)
	if high.Price <= low.Price {
		return DealingRange{Low: low.Price, High: high.Price}
	}

	span := high.Price - low.Price
	pct := (price - low.Price) / span
	dr := DealingRange{
		Low:            low.Price,
		High:           high.Price,
		Midpoint:       low.Price + span/2,
		CurrentPercent: pct,
		Valid:          true,
		LowGrabbed:     lowGrabbed,
		HighGrabbed:    highGrabbed,
	}
	switch {
	case pct < params.DiscountBelow:
		dr.Zone = ZoneDiscount
	case pct > params.PremiumAbove:
		dr.Zone = ZonePremium
	default:
		dr.Zone = ZoneMid
	}
	return dr
}

// grabbedSwing 从最新往前查找越过前一同类摆动点 thresholdPct% 的点。
func grabbedSwing(points []SwingPoint, thresholdPct float64, above bool) (SwingPoint, bool) {
	factor := thresholdPct / 100
	for i := len(points) - 1; i >= 1; i-- {
		prev := points[i-1].Price
		curr := points[i].Price
		if above && curr > prev*(1+factor) {
			return points[i], true
		}
		if !above && curr < prev*(1-factor) {
			return points[i], true
		}
	}
	return points[len(points)-1], false
}

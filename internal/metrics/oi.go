package metrics

import (
	"convergence-engine/internal/indicator"
)

// OIDivergence 比较持仓量与价格的变化方向：
// 增仓上涨为强多，增仓下跌为强空，减仓上涨为弱多（空头回补），减仓下跌为弱空（多头离场）。
func OIDivergence(currentOI, historicalOI, currentPrice, historicalPrice, threshold float64) Result {
	if historicalOI == 0 || historicalPrice == 0 {
		return insufficient(KindOIDivergence, "历史持仓量或价格为0")
	}
	if threshold <= 0 {
		threshold = 1.5
	}

	oiChange := indicator.Clean((currentOI - historicalOI) / historicalOI * 100)
	priceChange := indicator.Clean((currentPrice - historicalPrice) / historicalPrice * 100)

	label := LabelNeutral
	switch {
	case oiChange > threshold && priceChange > threshold:
		label = LabelStrongBullish
	case oiChange > threshold && priceChange < -threshold:
		label = LabelStrongBearish
	case oiChange < -threshold && priceChange > threshold:
		label = LabelWeakBullish
	case oiChange < -threshold && priceChange < -threshold:
		label = LabelWeakBearish
	}

	return Result{
		Name:  KindOIDivergence,
		Value: oiChange,
		Label: label,
		Known: true,
		Metadata: map[string]any{
			"oi_change_pct":    oiChange,
			"price_change_pct": priceChange,
			"current_oi":       currentOI,
			"historical_oi":    historicalOI,
		},
	}
}

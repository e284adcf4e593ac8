package metrics

import (
	"convergence-engine/internal/indicator"
	"convergence-engine/internal/market"
)

// OrderBookImbalance 计算前 depth 档的美元流动性失衡 (bid-ask)/(bid+ask)。
// 至少需要一档买盘与一档卖盘。
func OrderBookImbalance(book market.OrderBookSnapshot, depth int) Result {
	if depth <= 0 {
		depth = 10
	}
	bids := topLevels(book.Bids, depth)
	asks := topLevels(book.Asks, depth)
	if len(bids) == 0 || len(asks) == 0 {
		return insufficient(KindOrderBookImbalance, "盘口档位不足 bids=%d asks=%d", len(bids), len(asks))
	}

	bidLiquidity := liquidity(bids)
	askLiquidity := liquidity(asks)
	imbalance := indicator.Clean(indicator.SafeDivide(bidLiquidity-askLiquidity, bidLiquidity+askLiquidity))

	bestBid, bestAsk := bids[0].Price, asks[0].Price
	mid := (bestBid + bestAsk) / 2
	spreadBps := indicator.Clean(indicator.SafeDivide(bestAsk-bestBid, mid) * 10000)

	return Result{
		Name:  KindOrderBookImbalance,
		Value: imbalance,
		Label: imbalanceStrength(imbalance),
		Known: true,
		Metadata: map[string]any{
			"bid_liquidity": bidLiquidity,
			"ask_liquidity": askLiquidity,
			"spread_bps":    spreadBps,
			"levels":        float64(min(len(bids), len(asks))),
		},
	}
}

func imbalanceStrength(v float64) string {
	switch {
	case v > 0.4:
		return LabelStrongBidPressure
	case v > 0.2:
		return LabelModerateBidPressure
	case v < -0.4:
		return LabelStrongAskPressure
	case v < -0.2:
		return LabelModerateAskPressure
	default:
		return LabelNeutral
	}
}

func topLevels(levels []market.OrderBookLevel, depth int) []market.OrderBookLevel {
	if len(levels) > depth {
		return levels[:depth]
	}
	return levels
}

func liquidity(levels []market.OrderBookLevel) float64 {
	var total float64
	for _, level := range levels {
		total += level.Price * level.Size
	}
	return total
}

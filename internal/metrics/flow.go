package metrics

import (
	"convergence-engine/internal/indicator"
	"convergence-engine/internal/market"
)

// TradeFlowImbalance 以成交量加权的K线涨跌幅之和近似主动成交方向。
// 涨跌幅为百分比，权重为成交量除以最近 volumeWindow 根的均量。
func TradeFlowImbalance(candles []market.Candle, lookback, volumeWindow int) Result {
	if lookback <= 0 {
		lookback = 10
	}
	if volumeWindow <= 0 {
		volumeWindow = 20
	}
	if len(candles) < lookback {
		return insufficient(KindTradeFlow, "K线数量 %d 少于回看窗口 %d", len(candles), lookback)
	}

	series := indicator.NewSeries(candles)
	avgVolume := indicator.Mean(indicator.SliceTail(series.Volume, volumeWindow))
	recent := series.Tail(lookback)

	var (
		flow       float64
		buyVolume  float64
		sellVolume float64
		counted    int
	)
	for i := 0; i < recent.Len(); i++ {
		open := recent.Open[i]
		if open == 0 {
			continue
		}
		change := (recent.Close[i] - open) / open * 100
		weight := 1.0
		if avgVolume > 0 {
			weight = recent.Volume[i] / avgVolume
		}
		flow += change * weight
		counted++

		switch {
		case recent.Close[i] > open:
			buyVolume += recent.Volume[i]
		case recent.Close[i] < open:
			sellVolume += recent.Volume[i]
		}
	}
	flow = indicator.Clean(flow)

	label := LabelNeutral
	switch {
	case flow > 0:
		label = LabelNetBuying
	case flow < 0:
		label = LabelNetSelling
	}

	return Result{
		Name:  KindTradeFlow,
		Value: flow,
		Label: label,
		Known: true,
		Metadata: map[string]any{
			"avg_volume":  avgVolume,
			"buy_volume":  buyVolume,
			"sell_volume": sellVolume,
			"candles":     float64(counted),
		},
	}
}

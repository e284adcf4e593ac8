package signal

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"

	"convergence-engine/internal/market"
	"convergence-engine/internal/structure"
)

// ComputeLevels 计算价位。LONG 止损为入场价下方 StopPct，止盈取 VWAP 上方 TargetPct 与最小止盈中的较大者，SHORT 对称。
// AnchorLevels 开启且区间有效时，止损锚定区间边界，止盈优先取越过最小止盈的最近流动性。
// 价格不低于1时价位保留两位小数，低于1时保留6位有效数字；SKIP 只保留入场价。
func ComputeLevels(action Action, entry, vwap float64, analysis *structure.Analysis, params Params) Levels {
	if entry <= 0 {
		return Levels{}
	}
	if action != ActionLong && action != ActionShort {
		return Levels{Entry: roundPrice(entry, priceDecimals(entry))}
	}
	if vwap <= 0 {
		vwap = entry
	}

	var stop, target float64
	if action == ActionLong {
		stop = entry * (1 - params.StopPct)
		target = math.Max(vwap*(1+params.TargetPct), entry*(1+params.MinTargetPct))
	} else {
		stop = entry * (1 + params.StopPct)
		target = math.Min(vwap*(1-params.TargetPct), entry*(1-params.MinTargetPct))
	}

	anchored := false
	if params.AnchorLevels && analysis != nil && analysis.Range.Valid {
		stop, target, anchored = anchor(action, entry, stop, target, analysis, params)
	}

	places := priceDecimals(entry)
	e := decimal.NewFromFloat(entry).Round(places)
	s := decimal.NewFromFloat(stop).Round(places)
	tg := decimal.NewFromFloat(target).Round(places)
	risk := e.Sub(s).Abs()
	reward := tg.Sub(e).Abs()

	lv := Levels{
		Entry:    e.InexactFloat64(),
		Stop:     s.InexactFloat64(),
		Target:   tg.InexactFloat64(),
		Risk:     risk.InexactFloat64(),
		Reward:   reward.InexactFloat64(),
		Anchored: anchored,
	}
	if risk.IsPositive() {
		lv.RiskReward = reward.Div(risk).Round(2).InexactFloat64()
	}
	return lv
}

func anchor(action Action, entry, stop, target float64, analysis *structure.Analysis, params Params) (float64, float64, bool) {
	dr := analysis.Range
	pools := analysis.Pools
	anchored := false

	if action == ActionLong {
		if dr.Low < entry {
			stop = dr.Low * (1 - params.StopBufferPct)
			anchored = true
		}
		minTarget := entry * (1 + params.MinTargetPct)
		switch {
		case firstAbove(pools.AllAbove, minTarget) > 0:
			target = firstAbove(pools.AllAbove, minTarget)
			anchored = true
		case dr.High >= minTarget:
			target = dr.High
			anchored = true
		}
		return stop, target, anchored
	}

	if dr.High > entry {
		stop = dr.High * (1 + params.StopBufferPct)
		anchored = true
	}
	maxTarget := entry * (1 - params.MinTargetPct)
	switch {
	case firstBelow(pools.AllBelow, maxTarget) > 0:
		target = firstBelow(pools.AllBelow, maxTarget)
		anchored = true
	case dr.Low > 0 && dr.Low <= maxTarget:
		target = dr.Low
		anchored = true
	}
	return stop, target, anchored
}

func firstAbove(levels []structure.Level, floor float64) float64 {
	for _, lv := range levels {
		if lv.Price >= floor {
			return lv.Price
		}
	}
	return 0
}

func firstBelow(levels []structure.Level, ceiling float64) float64 {
	for _, lv := range levels {
		if lv.Price <= ceiling {
			return lv.Price
		}
	}
	return 0
}

// PositionSize 按账户风险计算仓位：(余额×风险%)/止损距离×杠杆。
func PositionSize(balance, riskPct, entry, stop, leverage float64) (Sizing, error) {
	if balance <= 0 || riskPct <= 0 || entry <= 0 || stop <= 0 {
		return Sizing{}, fmt.Errorf("signal: 仓位参数非法 balance=%.2f risk=%.2f entry=%.2f stop=%.2f: %w",
			balance, riskPct, entry, stop, market.ErrInvalidParameter)
	}
	perUnit := math.Abs(entry - stop)
	if perUnit == 0 {
		return Sizing{}, fmt.Errorf("signal: 止损距离为0: %w", market.ErrInvalidParameter)
	}
	if leverage <= 0 {
		leverage = 1
	}

	riskAmount := balance * riskPct / 100
	size := riskAmount / perUnit * leverage
	return Sizing{
		Size:        size,
		RiskAmount:  riskAmount,
		RiskPerUnit: perUnit,
		Notional:    size * entry,
	}, nil
}

// priceDecimals 返回价位保留的小数位数。
func priceDecimals(price float64) int32 {
	if price >= 1 {
		return 2
	}
	return int32(5 - math.Floor(math.Log10(price)))
}

func roundPrice(v float64, places int32) float64 {
	return decimal.NewFromFloat(v).Round(places).InexactFloat64()
}

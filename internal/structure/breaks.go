package structure

import "convergence-engine/internal/market"

// DetectBreaks 比较最新收盘价与最近的摆动高低点：顺着当前偏向的突破为 BOS，逆向为 CHOCH。
// 偏向为中性时任何突破都记为 BOS。
func DetectBreaks(candles []market.Candle, swings []SwingPoint, bias Bias) []StructureBreak {
	breaks := []StructureBreak{}
	if len(candles) == 0 || len(swings) == 0 {
		return breaks
	}

	last := candles[len(candles)-1]
	highs, lows := Split(swings)

	if len(highs) > 0 {
		level := highs[len(highs)-1].Price
		if last.Close > level {
			kind := BreakOfStructure
			if bias == BiasBearish {
				kind = ChangeOfCharacter
			}
			breaks = append(breaks, StructureBreak{
				Kind:      kind,
				Direction: BiasBullish,
				Level:     level,
				Price:     last.Close,
				Timestamp: last.Timestamp,
			})
		}
	}
	if len(lows) > 0 {
		level := lows[len(lows)-1].Price
		if last.Close < level {
			kind := BreakOfStructure
			if bias == BiasBullish {
				kind = ChangeOfCharacter
			}
			breaks = append(breaks, StructureBreak{
				Kind:      kind,
				Direction: BiasBearish,
				Level:     level,
				Price:     last.Close,
				Timestamp: last.Timestamp,
			})
		}
	}
	return breaks
}

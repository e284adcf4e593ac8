package structure

import (
	"errors"
	"math"
	"testing"
	"time"

	"convergence-engine/internal/market"
)

var baseTime = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

// zigzag 在相邻拐点之间做线性插值，每段 steps 根K线，O=H=L=C。
func zigzag(pivots []float64, steps int, interval time.Duration) []market.Candle {
	var prices []float64
	prices = append(prices, pivots[0])
	for i := 1; i < len(pivots); i++ {
		from, to := pivots[i-1], pivots[i]
		for s := 1; s <= steps; s++ {
			prices = append(prices, from+(to-from)*float64(s)/float64(steps))
		}
	}
	candles := make([]market.Candle, len(prices))
	for i, p := range prices {
		candles[i] = market.Candle{
			Timestamp: baseTime.Add(time.Duration(i) * interval),
			Open:      p, High: p, Low: p, Close: p,
			Volume: 10,
		}
	}
	return candles
}

var bullishPivots = []float64{65500, 64000, 66500, 65000, 67000, 66000, 68000, 66200}

func TestDetectSwingsThreePointRule(t *testing.T) {
	highs := []float64{10, 12, 9, 11, 8}
	candles := make([]market.Candle, len(highs))
	for i, h := range highs {
		candles[i] = market.Candle{Timestamp: baseTime.Add(time.Duration(i) * time.Hour), High: h, Low: h - 1, Open: h - 0.5, Close: h - 0.5}
	}

	swingHighs, _ := Split(DetectSwings(candles))
	if len(swingHighs) != 2 {
		t.Fatalf("expected 2 swing highs, got %d", len(swingHighs))
	}
	if swingHighs[0].Index != 1 || swingHighs[0].Price != 12 {
		t.Fatalf("first swing high should be index 1 at 12, got %+v", swingHighs[0])
	}
	if swingHighs[1].Index != 3 || swingHighs[1].Price != 11 {
		t.Fatalf("second swing high should be index 3 at 11, got %+v", swingHighs[1])
	}

	if got := DetectSwings(candles[:2]); len(got) != 0 {
		t.Fatalf("fewer than 3 candles must not yield swings")
	}
}

func TestClassifyBias(t *testing.T) {
	candles := zigzag(bullishPivots, 4, time.Hour)
	highs, lows := Split(DetectSwings(candles))
	res := ClassifyBias(highs, lows, 5, 0.6)
	if res.Bias != BiasBullish || res.Confidence != 1 || res.Pattern != "HH/HL" {
		t.Fatalf("expected strong bullish structure, got %+v", res)
	}
	if res.HigherHighs != 2 || res.HigherLows != 2 {
		t.Fatalf("unexpected HH/HL counts: %+v", res)
	}

	bearCandles := zigzag([]float64{100, 110, 95, 105, 90, 100, 85, 88}, 3, time.Hour)
	bh, bl := Split(DetectSwings(bearCandles))
	if got := ClassifyBias(bh, bl, 5, 0.6); got.Bias != BiasBearish || got.State != StateBearish {
		t.Fatalf("expected bearish structure, got %+v", got)
	}

	insufficient := ClassifyBias(highs[:1], lows, 5, 0.6)
	if insufficient.Bias != BiasNeutral || !insufficient.Insufficient {
		t.Fatalf("expected neutral with too few swings: %+v", insufficient)
	}
}

func TestClassifyBiasMinConfidence(t *testing.T) {
	mk := func(kind SwingKind, values ...float64) []SwingPoint {
		out := make([]SwingPoint, len(values))
		for i, v := range values {
			out[i] = SwingPoint{Index: i, Price: v, Kind: kind}
		}
		return out
	}
	highs := mk(SwingHigh, 10, 12, 11, 13)
	lows := mk(SwingLow, 5, 6, 5.5, 7)

	res := ClassifyBias(highs, lows, 5, 0.6)
	if res.Bias != BiasBullish {
		t.Fatalf("expected moderate bullish, got %+v", res)
	}
	if math.Abs(res.Confidence-4.0/6.0) > 1e-9 {
		t.Fatalf("expected confidence 4/6, got %.4f", res.Confidence)
	}

	strict := ClassifyBias(highs, lows, 5, 0.7)
	if strict.Bias != BiasNeutral || strict.State != StateRanging {
		t.Fatalf("below minimum confidence should be neutral, got %+v", strict)
	}
}

func TestComputeDealingRange(t *testing.T) {
	candles := zigzag(bullishPivots, 4, time.Hour)
	swings := DetectSwings(candles)

	dr := ComputeDealingRange(swings, 66200, DefaultParams())
	if !dr.Valid {
		t.Fatalf("expected valid range")
	}
	if dr.Low != 66000 || dr.High != 68000 {
		t.Fatalf("expected range 66000-68000, got %.2f-%.2f", dr.Low, dr.High)
	}
	if !dr.HighGrabbed || dr.LowGrabbed {
		t.Fatalf("expected high grab and low fallback, got %+v", dr)
	}
	if dr.Zone != ZoneDiscount || math.Abs(dr.CurrentPercent-0.1) > 1e-9 {
		t.Fatalf("expected discount zone, got %+v", dr)
	}
	if dr.Midpoint != 67000 {
		t.Fatalf("expected midpoint 67000, got %.2f", dr.Midpoint)
	}

	if premium := ComputeDealingRange(swings, 67900, DefaultParams()); premium.Zone != ZonePremium {
		t.Fatalf("expected premium zone, got %s", premium.Zone)
	}
	if mid := ComputeDealingRange(swings, 67000, DefaultParams()); mid.Zone != ZoneMid {
		t.Fatalf("expected equilibrium zone, got %s", mid.Zone)
	}

	highsOnly, _ := Split(swings)
	if ComputeDealingRange(highsOnly, 66200, DefaultParams()).Valid {
		t.Fatalf("range should be invalid without swing lows")
	}
}

func TestPriorDayRange(t *testing.T) {
	var candles []market.Candle
	for i := 0; i < 30; i++ {
		p := 100.0 + float64(i)
		candles = append(candles, market.Candle{
			Timestamp: baseTime.Add(time.Duration(i) * time.Hour),
			Open:      p, High: p + 1, Low: p - 1, Close: p,
		})
	}
	high, low := PriorDayRange(candles)
	if high != 124 || low != 99 {
		t.Fatalf("expected prior day range 99-124, got %.2f-%.2f", low, high)
	}

	sameDay := candles[:10]
	high, low = PriorDayRange(sameDay)
	if high != 110 || low != 99 {
		t.Fatalf("expected fallback to all candles, got %.2f-%.2f", low, high)
	}
}

func TestEqualLevelsAndRoundNumbers(t *testing.T) {
	levels := EqualLevels([]float64{100.08, 200, 100, 100.05}, 0.1)
	if len(levels) != 1 {
		t.Fatalf("expected 1 equal level, got %v", levels)
	}
	if math.Abs(levels[0]-(100+100.05+100.08)/3) > 1e-9 {
		t.Fatalf("unexpected equal level average: %v", levels)
	}
	if got := EqualLevels([]float64{100}, 0.1); len(got) != 0 {
		t.Fatalf("single price must not form an equal level")
	}

	rounds := RoundNumbers(66200, 5)
	if len(rounds) != 7 || rounds[0] != 63000 || rounds[6] != 69000 {
		t.Fatalf("unexpected round numbers: %v", rounds)
	}
	if got := RoundNumbers(150, 5); len(got) != 1 || got[0] != 150 {
		t.Fatalf("expected only round number 150 near 150, got %v", got)
	}
}

func TestAggregateLiquidityPoolsNearest(t *testing.T) {
	candles := zigzag(bullishPivots, 4, time.Hour)
	swings := DetectSwings(candles)
	pools := AggregateLiquidityPools(candles, swings, 66200, DefaultParams())

	if pools.NearestAbove == nil || pools.NearestBelow == nil {
		t.Fatalf("expected nearest pools above and below: %+v", pools)
	}
	if pools.NearestAbove.Price <= 66200 || pools.NearestBelow.Price >= 66200 {
		t.Fatalf("nearest pools on wrong side: above=%v below=%v", pools.NearestAbove, pools.NearestBelow)
	}
	for i := 1; i < len(pools.AllAbove); i++ {
		if pools.AllAbove[i].Price < pools.AllAbove[i-1].Price {
			t.Fatalf("pools above should be ascending")
		}
	}
	for i := 1; i < len(pools.AllBelow); i++ {
		if pools.AllBelow[i].Price > pools.AllBelow[i-1].Price {
			t.Fatalf("pools below should be descending")
		}
	}
	if pools.NearestAbove.Price != pools.AllAbove[0].Price {
		t.Fatalf("nearest above should be first of AllAbove")
	}
}

func TestDetectBreaks(t *testing.T) {
	candles := zigzag([]float64{100, 90, 110, 95, 120}, 4, time.Hour)
	swings := DetectSwings(candles)

	breaks := DetectBreaks(candles, swings, BiasBullish)
	if len(breaks) != 1 || breaks[0].Kind != BreakOfStructure || breaks[0].Direction != BiasBullish {
		t.Fatalf("expected trend BOS, got %+v", breaks)
	}
	if breaks[0].Level != 110 {
		t.Fatalf("expected break level 110, got %.2f", breaks[0].Level)
	}

	choch := DetectBreaks(candles, swings, BiasBearish)
	if len(choch) != 1 || choch[0].Kind != ChangeOfCharacter {
		t.Fatalf("expected counter-trend CHOCH, got %+v", choch)
	}
}

func TestCheckAlignment(t *testing.T) {
	data := map[market.Interval][]market.Candle{
		market.Interval1d: zigzag(bullishPivots, 4, 24*time.Hour),
		market.Interval4h: zigzag(bullishPivots, 4, 4*time.Hour),
		market.Interval1h: zigzag(bullishPivots, 4, time.Hour),
		market.Interval1w: zigzag(bullishPivots, 4, 7*24*time.Hour),
	}

	al, err := CheckAlignment(data, DefaultRequired, DefaultOptional, DefaultParams())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !al.Aligned || al.Bias != BiasBullish {
		t.Fatalf("expected three timeframes aligned bullish: %+v", al)
	}
	if al.Confidence != 1 {
		t.Fatalf("confidence with bonus should cap at 1, got %.3f", al.Confidence)
	}
	if len(al.OptionalAgreeing) != 1 || al.OptionalAgreeing[0] != market.Interval1w {
		t.Fatalf("weekly should count as agreeing optional: %v", al.OptionalAgreeing)
	}

	delete(data, market.Interval4h)
	al, err = CheckAlignment(data, DefaultRequired, nil, DefaultParams())
	if err != nil {
		t.Fatalf("missing timeframe must not fail: %v", err)
	}
	if al.Aligned || al.Confidence != 0 {
		t.Fatalf("should not align without 4h: %+v", al)
	}
	if len(al.Conflicts) != 1 || al.Conflicts[0] != market.Interval4h {
		t.Fatalf("expected 4h conflict: %v", al.Conflicts)
	}
	for _, tb := range al.Timeframes {
		if tb.Interval == market.Interval4h && !tb.Insufficient {
			t.Fatalf("4h should be marked insufficient")
		}
	}

	data["2h"] = nil
	if _, err := CheckAlignment(data, DefaultRequired, nil, DefaultParams()); !errors.Is(err, market.ErrInvalidParameter) {
		t.Fatalf("expected ErrInvalidParameter for unknown interval, got %v", err)
	}
	delete(data, "2h")
	if _, err := CheckAlignment(data, []market.Interval{"3d"}, nil, DefaultParams()); !errors.Is(err, market.ErrInvalidParameter) {
		t.Fatalf("expected ErrInvalidParameter for unknown required timeframe, got %v", err)
	}
}

func TestAnalyzerAnalyze(t *testing.T) {
	data := map[market.Interval][]market.Candle{
		market.Interval1d: zigzag(bullishPivots, 4, 24*time.Hour),
		market.Interval4h: zigzag(bullishPivots, 4, 4*time.Hour),
		market.Interval1h: zigzag(bullishPivots, 4, time.Hour),
	}
	an := NewAnalyzer(DefaultParams(), nil)

	res, err := an.Analyze(data, 66200, Options{})
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if res.Entry != market.Interval1h {
		t.Fatalf("expected default entry 1h, got %s", res.Entry)
	}
	if !res.Alignment.Aligned || res.Range.Zone != ZoneDiscount {
		t.Fatalf("expected alignment in discount: %+v", res)
	}
	if res.Insufficient {
		t.Fatalf("sufficient data must not be flagged insufficient")
	}

	short := map[market.Interval][]market.Candle{market.Interval1h: data[market.Interval1h][:2]}
	res, err = an.Analyze(short, 0, Options{})
	if err != nil {
		t.Fatalf("insufficient candles must not fail: %v", err)
	}
	if !res.Insufficient || res.Range.Valid || res.Alignment.Aligned {
		t.Fatalf("expected neutral result with insufficient candles: %+v", res)
	}

	if _, err := an.Analyze(data, 0, Options{Entry: "2h"}); !errors.Is(err, market.ErrInvalidParameter) {
		t.Fatalf("expected error for unknown entry timeframe, got %v", err)
	}
}

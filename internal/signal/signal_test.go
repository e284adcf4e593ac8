package signal

import (
	"errors"
	"math"
	"testing"
	"time"

	"convergence-engine/internal/convergence"
	"convergence-engine/internal/market"
	"convergence-engine/internal/metrics"
	"convergence-engine/internal/structure"
)

func TestDecideAction(t *testing.T) {
	p := DefaultParams()
	cases := []struct {
		name            string
		score, bull, br int
		want            Action
	}{
		{"tie 2:2", 90, 2, 2, ActionSkip},
		{"tie 3:3", 90, 3, 3, ActionSkip},
		{"bullish majority", 75, 3, 1, ActionLong},
		{"bearish majority", 75, 0, 4, ActionShort},
		{"score below minimum", 69, 5, 0, ActionSkip},
		{"too few aligned", 95, 2, 0, ActionSkip},
	}
	for _, tc := range cases {
		if got := DecideAction(tc.score, tc.bull, tc.br, p); got != tc.want {
			t.Errorf("%s: want %s, got %s", tc.name, tc.want, got)
		}
	}
}

func TestComputeLevelsLong(t *testing.T) {
	lv := ComputeLevels(ActionLong, 66200, 0, nil, DefaultParams())
	if lv.Entry != 66200 || lv.Stop != 64876 || lv.Target != 67193 {
		t.Fatalf("unexpected levels: %+v", lv)
	}
	if lv.Risk != 1324 || lv.Reward != 993 || lv.RiskReward != 0.75 {
		t.Fatalf("unexpected risk/reward: %+v", lv)
	}

	withVWAP := ComputeLevels(ActionLong, 66200, 67000, nil, DefaultParams())
	if withVWAP.Target != 67670 {
		t.Fatalf("expected target 1%% above VWAP at 67670, got %.2f", withVWAP.Target)
	}
}

func TestComputeLevelsShort(t *testing.T) {
	lv := ComputeLevels(ActionShort, 66200, 65000, nil, DefaultParams())
	if lv.Stop != 67524 || lv.Target != 64350 {
		t.Fatalf("unexpected short levels: %+v", lv)
	}
	if lv.RiskReward != 1.4 {
		t.Fatalf("expected R:R 1.4, got %.2f", lv.RiskReward)
	}
}

func TestComputeLevelsSubDollarPrecision(t *testing.T) {
	lv := ComputeLevels(ActionLong, 0.1234, 0, nil, DefaultParams())
	if lv.Entry != 0.1234 {
		t.Fatalf("entry must keep sub-dollar precision, got %v", lv.Entry)
	}
	if math.Abs(lv.Stop-0.120932) > 1e-9 || math.Abs(lv.Target-0.125251) > 1e-9 {
		t.Fatalf("unexpected levels stop=%v target=%v", lv.Stop, lv.Target)
	}
	if lv.Risk <= 0 || lv.RiskReward != 0.75 {
		t.Fatalf("expected positive risk and R:R 0.75, got risk=%v rr=%v", lv.Risk, lv.RiskReward)
	}
	if _, err := PositionSize(1000, 1, lv.Entry, lv.Stop, 1); err != nil {
		t.Fatalf("sizing sub-dollar levels: %v", err)
	}
	if got := priceDecimals(0.00001234); got != 10 {
		t.Fatalf("expected 10 decimals for 1.234e-5, got %d", got)
	}
}

func TestComputeLevelsSkip(t *testing.T) {
	lv := ComputeLevels(ActionSkip, 66200.123, 0, nil, DefaultParams())
	if lv.Entry != 66200.12 || lv.Stop != 0 || lv.Target != 0 || lv.RiskReward != 0 {
		t.Fatalf("SKIP should keep only entry: %+v", lv)
	}
	if zero := ComputeLevels(ActionLong, 0, 0, nil, DefaultParams()); zero != (Levels{}) {
		t.Fatalf("expected empty levels for zero price")
	}
}

func TestComputeLevelsAnchored(t *testing.T) {
	p := DefaultParams()
	p.AnchorLevels = true
	analysis := &structure.Analysis{
		Range: structure.DealingRange{Low: 66000, High: 68000, Valid: true, Zone: structure.ZoneDiscount},
		Pools: structure.LiquidityPools{
			AllAbove: []structure.Level{
				{Price: 67000, Source: structure.SourceRoundNumber},
				{Price: 67500, Source: structure.SourcePriorDayHigh},
			},
		},
	}

	lv := ComputeLevels(ActionLong, 66200, 0, analysis, p)
	if !lv.Anchored {
		t.Fatalf("expected anchored levels")
	}
	if lv.Stop != 65934 {
		t.Fatalf("stop should sit below range low, got %.2f", lv.Stop)
	}
	if lv.Target != 67500 {
		t.Fatalf("target should be nearest pool beyond min target, got %.2f", lv.Target)
	}

	analysis.Pools.AllAbove = nil
	if got := ComputeLevels(ActionLong, 66200, 0, analysis, p); got.Target != 68000 {
		t.Fatalf("target should fall back to range high, got %.2f", got.Target)
	}
}

func TestPositionSize(t *testing.T) {
	s, err := PositionSize(10000, 1, 100, 98, 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.RiskAmount != 100 || s.RiskPerUnit != 2 || s.Size != 100 || s.Notional != 10000 {
		t.Fatalf("unexpected sizing: %+v", s)
	}

	if _, err := PositionSize(10000, 1, 100, 100, 1); !errors.Is(err, market.ErrInvalidParameter) {
		t.Fatalf("expected ErrInvalidParameter for zero stop distance, got %v", err)
	}
	if _, err := PositionSize(0, 1, 100, 98, 1); !errors.Is(err, market.ErrInvalidParameter) {
		t.Fatalf("expected ErrInvalidParameter for zero balance, got %v", err)
	}
}

func TestProduce(t *testing.T) {
	p := DefaultParams()
	p.AccountBalance = 10000
	producer := NewProducer(p, nil)
	ts := time.Date(2024, 3, 2, 4, 0, 0, 0, time.UTC)

	sig := producer.Produce(Input{
		Instrument: "BTCUSDT",
		Price:      66200,
		Convergence: convergence.Result{
			Score: 75, Bullish: 3, Bearish: 0,
			Breakdown:  map[string]int{convergence.SourceOrderBook: 15},
			Confidence: convergence.ConfidenceMedium,
		},
		Metrics: []metrics.Result{
			{Name: metrics.KindVWAPDeviation, Known: true, Metadata: map[string]any{"vwap": 66200.0}},
		},
		Timestamp: ts,
	})

	if sig.Action != ActionLong || sig.Entry != 66200 {
		t.Fatalf("expected LONG@66200: %+v", sig)
	}
	if !sig.Timestamp.Equal(ts) {
		t.Fatalf("timestamp should come from input")
	}
	if sig.Sizing == nil || math.Abs(sig.Sizing.RiskPerUnit-1324) > 1e-6 {
		t.Fatalf("expected sizing: %+v", sig.Sizing)
	}
	if sig.HTFBias != structure.BiasNeutral {
		t.Fatalf("bias should be neutral without structure")
	}
}

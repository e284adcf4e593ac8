package convergence

import (
	"errors"
	"testing"

	"convergence-engine/internal/market"
	"convergence-engine/internal/metrics"
	"convergence-engine/internal/structure"
)

func known(kind metrics.Kind, value float64, label string) metrics.Result {
	return metrics.Result{Name: kind, Value: value, Label: label, Known: true}
}

func TestScoreClampsToHundred(t *testing.T) {
	s := NewScorer(DefaultParams())
	res := s.Score([]metrics.Result{
		known(metrics.KindOrderBookImbalance, 0.7, metrics.LabelStrongBidPressure),
		known(metrics.KindTradeFlow, 0.6, metrics.LabelNetBuying),
		known(metrics.KindVWAPDeviation, -2.5, metrics.LabelZExtreme),
		known(metrics.KindFundingRate, 12, metrics.LabelBullish),
		known(metrics.KindOIDivergence, 5, metrics.LabelStrongBullish),
		known(metrics.KindBasisSpread, 0.5, metrics.LabelModeratePremium),
	}, nil)

	if res.RawScore != 135 {
		t.Fatalf("expected raw score 135, got %d (%v)", res.RawScore, res.Breakdown)
	}
	if res.Score != 100 {
		t.Fatalf("expected score clamped to 100, got %d", res.Score)
	}
	if res.Breakdown[SourceFundingBasis] != 15 {
		t.Fatalf("expected +15 for agreeing funding and basis, got %d", res.Breakdown[SourceFundingBasis])
	}
}

func TestClamp(t *testing.T) {
	cases := map[int]int{-20: 0, 0: 0, 55: 55, 100: 100, 135: 100}
	for raw, want := range cases {
		if got := Clamp(raw); got != want {
			t.Errorf("Clamp(%d)=%d, want %d", raw, got, want)
		}
	}
}

func TestFundingBasisConflictPenalty(t *testing.T) {
	s := NewScorer(DefaultParams())
	res := s.Score([]metrics.Result{
		known(metrics.KindFundingRate, 12, metrics.LabelBullish),
		known(metrics.KindBasisSpread, -0.5, metrics.LabelExtremeDiscount),
	}, nil)
	if res.Breakdown[SourceFundingBasis] != -20 {
		t.Fatalf("expected -20 for conflicting funding and basis, got %v", res.Breakdown)
	}
	if res.RawScore != 0 || res.Score != 0 {
		t.Fatalf("expected score 0, got raw=%d score=%d", res.RawScore, res.Score)
	}
}

func TestTiersUseStrictThresholds(t *testing.T) {
	s := NewScorer(DefaultParams())
	cases := []struct {
		kind  metrics.Kind
		value float64
		want  int
	}{
		{metrics.KindOrderBookImbalance, 0.4, 0},
		{metrics.KindOrderBookImbalance, 0.48, 15},
		{metrics.KindOrderBookImbalance, -0.61, 25},
		{metrics.KindTradeFlow, 0.31, 15},
		{metrics.KindVWAPDeviation, 1.6, 20},
		{metrics.KindVWAPDeviation, 2.0, 20},
		{metrics.KindFundingRate, 7.5, 10},
		{metrics.KindFundingRate, 10.95, 20},
	}
	for _, tc := range cases {
		res := s.Score([]metrics.Result{known(tc.kind, tc.value, "")}, nil)
		if res.RawScore != tc.want {
			t.Errorf("%s=%.2f: want %d points, got %d", tc.kind, tc.value, tc.want, res.RawScore)
		}
	}
}

func TestVotes(t *testing.T) {
	s := NewScorer(DefaultParams())
	res := s.Score([]metrics.Result{
		known(metrics.KindOrderBookImbalance, 0.5, ""),
		known(metrics.KindTradeFlow, -0.4, ""),
		known(metrics.KindVWAPDeviation, 1.8, ""),
		known(metrics.KindFundingRate, -12, ""),
		known(metrics.KindOIDivergence, -3, metrics.LabelWeakBearish),
	}, nil)

	want := map[string]Direction{
		SourceOrderBook: DirectionBullish,
		SourceTradeFlow: DirectionBearish,
		SourceVWAP:      DirectionBearish,
		SourceFunding:   DirectionBullish,
		SourceOI:        DirectionBullish,
	}
	for src, dir := range want {
		if res.Votes[src] != dir {
			t.Errorf("%s: want vote %s, got %s", src, dir, res.Votes[src])
		}
	}
	if res.Bullish != 3 || res.Bearish != 2 {
		t.Fatalf("expected 3:2 votes, got %d:%d", res.Bullish, res.Bearish)
	}
}

func TestFundingVoteModes(t *testing.T) {
	results := []metrics.Result{known(metrics.KindFundingRate, 10.95, metrics.LabelBullish)}

	contrarian := NewScorer(DefaultParams()).Score(results, nil)
	if contrarian.Votes[SourceFunding] != DirectionBearish {
		t.Fatalf("contrarian mode: positive funding should vote bearish, got %s", contrarian.Votes[SourceFunding])
	}

	p := DefaultParams()
	p.FundingVote = FundingAligned
	aligned := NewScorer(p).Score(results, nil)
	if aligned.Votes[SourceFunding] != DirectionBullish {
		t.Fatalf("aligned mode: positive funding should vote bullish, got %s", aligned.Votes[SourceFunding])
	}

	if _, err := ParseFundingVoteMode("sideways"); !errors.Is(err, market.ErrInvalidParameter) {
		t.Fatalf("expected ErrInvalidParameter for unknown mode, got %v", err)
	}
	if m, err := ParseFundingVoteMode(""); err != nil || m != FundingContrarian {
		t.Fatalf("empty mode should default to contrarian")
	}
}

func TestUnknownResultsIgnored(t *testing.T) {
	s := NewScorer(DefaultParams())
	res := s.Score([]metrics.Result{
		{Name: metrics.KindOrderBookImbalance, Value: 0.9, Known: false},
		{Name: metrics.KindFundingRate, Value: 50, Known: false},
	}, nil)
	if res.RawScore != 0 || len(res.Votes) != 0 {
		t.Fatalf("unknown metrics must not score or vote: %+v", res)
	}
	if res.Confidence != ConfidenceLow {
		t.Fatalf("expected LOW confidence")
	}
}

func TestStructureContribution(t *testing.T) {
	s := NewScorer(DefaultParams())
	analysis := &structure.Analysis{
		Alignment: structure.Alignment{Aligned: true, Bias: structure.BiasBullish},
		Range:     structure.DealingRange{Valid: true, Zone: structure.ZoneDiscount},
	}
	res := s.Score(nil, analysis)
	if res.Breakdown[SourceStructure] != 20 || res.Votes[SourceStructure] != DirectionBullish {
		t.Fatalf("bullish alignment in discount should score 20 and vote bullish: %+v", res)
	}

	analysis.Range.Zone = structure.ZonePremium
	if got := s.Score(nil, analysis).Breakdown[SourceStructure]; got != 10 {
		t.Fatalf("alignment alone should score 10, got %d", got)
	}

	analysis.Alignment.Aligned = false
	if got := s.Score(nil, analysis); len(got.Breakdown) != 0 || len(got.Votes) != 0 {
		t.Fatalf("unaligned structure must not contribute: %+v", got)
	}
}

func TestConfidenceTiers(t *testing.T) {
	s := NewScorer(DefaultParams())
	cases := []struct {
		score, aligned int
		want           Confidence
	}{
		{90, 4, ConfidenceHigh},
		{90, 3, ConfidenceMedium},
		{75, 3, ConfidenceMedium},
		{85, 2, ConfidenceLow},
		{60, 5, ConfidenceLow},
	}
	for _, tc := range cases {
		if got := s.confidence(tc.score, tc.aligned); got != tc.want {
			t.Errorf("score=%d aligned=%d: want %s, got %s", tc.score, tc.aligned, tc.want, got)
		}
	}
}

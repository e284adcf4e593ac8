package market

import (
	"errors"
	"math"
	"testing"
	"time"
)

func TestParseInterval(t *testing.T) {
	for _, raw := range []string{"1m", "5m", "15m", "1h", "4h", "1D"} {
		if _, err := ParseInterval(raw); err != nil {
			t.Errorf("ParseInterval(%q) returned error: %v", raw, err)
		}
	}

	if _, err := ParseInterval("2h"); !errors.Is(err, ErrInvalidParameter) {
		t.Fatalf("expected ErrInvalidParameter for 2h, got %v", err)
	}
}

func TestIntervalCandlesFor(t *testing.T) {
	if got := Interval1h.CandlesFor(24); got != 24 {
		t.Errorf("expected 24 hourly candles, got %d", got)
	}
	if got := Interval4h.CandlesFor(2); got != 1 {
		t.Errorf("expected at least one candle, got %d", got)
	}
	if got := Interval15m.CandlesFor(1); got != 4 {
		t.Errorf("expected 4 candles of 15m per hour, got %d", got)
	}
}

func TestSnapshotCurrentPriceFallsBackToFinestCandle(t *testing.T) {
	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	snap := Snapshot{
		Candles: map[Interval][]Candle{
			Interval1h: {{Timestamp: base, Close: 100}},
			Interval5m: {{Timestamp: base, Close: 101}},
		},
	}
	if got := snap.CurrentPrice(); got != 101 {
		t.Fatalf("expected 5m close 101, got %v", got)
	}

	snap.Price = 99.5
	if got := snap.CurrentPrice(); got != 99.5 {
		t.Fatalf("expected explicit price, got %v", got)
	}
}

func TestValidateCandles(t *testing.T) {
	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	good := []Candle{
		{Timestamp: base, Open: 1, High: 2, Low: 0.5, Close: 1.5, Volume: 10},
		{Timestamp: base.Add(time.Hour), Open: 1.5, High: 2, Low: 1, Close: 1.8, Volume: 0},
	}
	if err := ValidateCandles(good); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	cases := map[string][]Candle{
		"nan close":     {{Timestamp: base, Open: 1, High: 2, Low: 1, Close: math.NaN()}},
		"inverted":      {{Timestamp: base, Open: 1, High: 1, Low: 2, Close: 1}},
		"not ascending": {good[1], good[0]},
	}
	for name, candles := range cases {
		if err := ValidateCandles(candles); !errors.Is(err, ErrUpstreamData) {
			t.Errorf("%s: expected ErrUpstreamData, got %v", name, err)
		}
	}
}

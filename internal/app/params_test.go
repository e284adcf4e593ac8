package app

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"convergence-engine/internal/config"
	"convergence-engine/internal/convergence"
	"convergence-engine/internal/engine"
	"convergence-engine/internal/market"
)

func loadConfig(t *testing.T, body string) *config.Config {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	return cfg
}

func TestEngineParamsMatchDefaults(t *testing.T) {
	cfg := loadConfig(t, "app:\n  environment: test\n")

	params, err := engineParams(cfg)
	if err != nil {
		t.Fatalf("engine params: %v", err)
	}
	def := engine.DefaultParams()
	if !reflect.DeepEqual(params.Scoring, def.Scoring) {
		t.Errorf("scoring params differ from defaults:\n%+v\n%+v", params.Scoring, def.Scoring)
	}
	if !reflect.DeepEqual(params.Signal, def.Signal) {
		t.Errorf("signal params differ from defaults:\n%+v\n%+v", params.Signal, def.Signal)
	}
	if !reflect.DeepEqual(params.Structure, def.Structure) {
		t.Errorf("structure params differ from defaults")
	}
	if !reflect.DeepEqual(params.Metrics, def.Metrics) {
		t.Errorf("metrics params differ from defaults:\n%+v\n%+v", params.Metrics, def.Metrics)
	}
	if params.StructureTTL != def.StructureTTL {
		t.Errorf("unexpected structure TTL: %s", params.StructureTTL)
	}
}

func TestEngineParamsOverrides(t *testing.T) {
	cfg := loadConfig(t, `
app:
  environment: test
scoring:
  funding_vote_mode: aligned
  order_book:
    strong_points: 30
signal:
  min_score: 80
`)
	params, err := engineParams(cfg)
	if err != nil {
		t.Fatalf("engine params: %v", err)
	}
	if params.Scoring.FundingVote != convergence.FundingAligned {
		t.Errorf("expected aligned vote mode")
	}
	if params.Scoring.OrderBook.StrongPoints != 30 || params.Scoring.OrderBook.ModeratePoints != 15 {
		t.Errorf("order book tiers not overridden: %+v", params.Scoring.OrderBook)
	}
	if params.Signal.MinScore != 80 {
		t.Errorf("min_score not overridden")
	}
}

func TestSnapshotRequestCoversAllIntervals(t *testing.T) {
	cfg := loadConfig(t, `
app:
  environment: test
market_data:
  intervals: ["1m", "1h"]
structure:
  required: ["1d", "4h", "1h"]
  optional: ["1w"]
  entry: "15m"
`)
	opts, err := evaluateOptions(cfg)
	if err != nil {
		t.Fatalf("evaluate options: %v", err)
	}
	if opts.Entry != market.Interval15m || len(opts.Optional) != 1 {
		t.Fatalf("unexpected structure options: %+v", opts)
	}

	req, err := snapshotRequest(cfg, opts, market.Interval1m)
	if err != nil {
		t.Fatalf("snapshot request: %v", err)
	}
	want := []market.Interval{
		market.Interval1m, market.Interval1h, market.Interval1d,
		market.Interval4h, market.Interval1w, market.Interval15m,
	}
	if !reflect.DeepEqual(req.Intervals, want) {
		t.Fatalf("expected deduplicated intervals covering structure timeframes, got %v", req.Intervals)
	}

	opts.SkipStructure = true
	req, _ = snapshotRequest(cfg, opts, market.Interval5m)
	if !reflect.DeepEqual(req.Intervals, []market.Interval{market.Interval5m, market.Interval1m, market.Interval1h}) {
		t.Fatalf("structure timeframes fetched while structure disabled: %v", req.Intervals)
	}
}

func TestEvaluateOptionsEmptyOptional(t *testing.T) {
	cfg := loadConfig(t, "app:\n  environment: test\n")
	opts, err := evaluateOptions(cfg)
	if err != nil {
		t.Fatalf("evaluate options: %v", err)
	}
	if opts.Optional == nil || len(opts.Optional) != 0 {
		t.Fatalf("expected empty, non-nil optional timeframes")
	}
	if opts.SkipStructure {
		t.Fatalf("structure analysis should be enabled by default")
	}
}

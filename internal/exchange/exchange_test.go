package exchange

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	ccxt "github.com/ccxt/ccxt/go/v4"
	"go.uber.org/zap"

	"convergence-engine/internal/cache"
	"convergence-engine/internal/config"
	"convergence-engine/internal/market"
)

type fakeFetcher struct {
	mu        sync.Mutex
	calls     map[string]int
	bookErr   error
	fundErr   error
	oi        OpenInterest
	spotPrice float64
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		calls:     make(map[string]int),
		oi:        OpenInterest{Amount: 10},
		spotPrice: 66100,
	}
}

func (f *fakeFetcher) count(op string) {
	f.mu.Lock()
	f.calls[op]++
	f.mu.Unlock()
}

func (f *fakeFetcher) callsOf(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

func (f *fakeFetcher) FetchCandles(_ context.Context, _ string, interval market.Interval, limit int) ([]market.Candle, error) {
	f.count("candles_" + string(interval))
	start := time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)
	out := make([]market.Candle, limit)
	for i := range out {
		out[i] = market.Candle{
			Timestamp: start.Add(time.Duration(i) * interval.Duration()),
			Open:      66000, High: 66300, Low: 65900, Close: 66200, Volume: 1,
		}
	}
	return out, nil
}

func (f *fakeFetcher) FetchOrderBook(_ context.Context, symbol string, _ int) (market.OrderBookSnapshot, error) {
	f.count("book")
	if f.bookErr != nil {
		return market.OrderBookSnapshot{}, f.bookErr
	}
	return market.OrderBookSnapshot{
		Instrument: symbol,
		Bids:       []market.OrderBookLevel{{Price: 66190, Size: 3}},
		Asks:       []market.OrderBookLevel{{Price: 66210, Size: 1}},
	}, nil
}

func (f *fakeFetcher) FetchFundingRate(context.Context, string) (market.FundingSnapshot, error) {
	f.count("funding")
	if f.fundErr != nil {
		return market.FundingSnapshot{}, f.fundErr
	}
	return market.FundingSnapshot{Rate: 0.0001}, nil
}

func (f *fakeFetcher) FetchOpenInterest(context.Context, string) (OpenInterest, error) {
	f.count("oi")
	return f.oi, nil
}

func (f *fakeFetcher) FetchSpotPrice(context.Context, string) (float64, error) {
	f.count("spot")
	return f.spotPrice, nil
}

var btc = Instrument{Symbol: "BTCUSDT", Market: "BTC/USDT:USDT", SpotMarket: "BTC/USDT"}

func TestGetSnapshot(t *testing.T) {
	fetcher := newFakeFetcher()
	now := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)
	svc := NewMarketDataService(fetcher, nil, zap.NewNop(), WithClock(func() time.Time { return now }))

	req := SnapshotRequest{Intervals: []market.Interval{market.Interval1m, market.Interval1h}, CandleLimit: 5}
	snap, err := svc.GetSnapshot(context.Background(), btc, req)
	if err != nil {
		t.Fatalf("get snapshot: %v", err)
	}

	if snap.Instrument != "BTCUSDT" || snap.Price != 66200 || !snap.Timestamp.Equal(now) {
		t.Fatalf("unexpected snapshot fields: %+v", snap)
	}
	if len(snap.Candles[market.Interval1m]) != 5 || len(snap.Candles[market.Interval1h]) != 5 {
		t.Fatalf("unexpected candle count")
	}
	if snap.Funding == nil || snap.Funding.Rate != 0.0001 {
		t.Fatalf("missing funding")
	}
	if snap.OpenInterest == nil || snap.OpenInterest.Notional != 662000 || snap.OpenInterest.ReferencePrice != 66200 {
		t.Fatalf("open interest should be converted by price, got %+v", snap.OpenInterest)
	}
	if snap.SpotPrice != 66100 {
		t.Fatalf("unexpected spot price: %v", snap.SpotPrice)
	}
}

func TestGetSnapshotUsesCache(t *testing.T) {
	fetcher := newFakeFetcher()
	now := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)
	svc := NewMarketDataService(fetcher, map[cache.Class]time.Duration{cache.ClassOrderBook: time.Second}, nil,
		WithClock(func() time.Time { return now }))

	req := SnapshotRequest{Intervals: []market.Interval{market.Interval1h}, CandleLimit: 3}
	for i := 0; i < 2; i++ {
		if _, err := svc.GetSnapshot(context.Background(), btc, req); err != nil {
			t.Fatalf("get snapshot: %v", err)
		}
	}
	if got := fetcher.callsOf("candles_1h"); got != 1 {
		t.Fatalf("expected cache hits within TTL, got %d requests", got)
	}

	now = now.Add(2 * time.Second)
	if _, err := svc.GetSnapshot(context.Background(), btc, req); err != nil {
		t.Fatalf("get snapshot: %v", err)
	}
	if got := fetcher.callsOf("book"); got != 2 {
		t.Fatalf("order book should refetch after expiry, got %d requests", got)
	}
	if got := fetcher.callsOf("candles_1h"); got != 1 {
		t.Fatalf("candles still within TTL, got %d requests", got)
	}

	stats := svc.CacheStats()[cache.ClassCandles]
	if stats.Hits != 2 || stats.Misses != 1 {
		t.Fatalf("unexpected candle cache stats: %+v", stats)
	}

	now = now.Add(time.Hour)
	if removed := svc.CleanupExpired(); removed != 5 {
		t.Fatalf("expected 5 expired entries removed, got %d", removed)
	}
}

func TestGetSnapshotFailures(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.fundErr = errors.New("funding down")
	svc := NewMarketDataService(fetcher, nil, nil)

	snap, err := svc.GetSnapshot(context.Background(), btc, SnapshotRequest{CandleLimit: 3})
	if err != nil {
		t.Fatalf("optional data failure must not fail the snapshot: %v", err)
	}
	if snap.Funding != nil {
		t.Fatalf("funding should be nil after failure")
	}

	fetcher.bookErr = errors.New("book down")
	svc = NewMarketDataService(fetcher, nil, nil)
	if _, err = svc.GetSnapshot(context.Background(), btc, SnapshotRequest{CandleLimit: 3}); err == nil {
		t.Fatalf("order book failure should fail the snapshot")
	}

	_, err = svc.GetSnapshot(context.Background(), btc, SnapshotRequest{Intervals: []market.Interval{"7m"}})
	if !errors.Is(err, market.ErrInvalidParameter) {
		t.Fatalf("expected ErrInvalidParameter for unknown interval, got %v", err)
	}
}

func TestSkipOptional(t *testing.T) {
	fetcher := newFakeFetcher()
	svc := NewMarketDataService(fetcher, nil, nil)
	snap, err := svc.GetSnapshot(context.Background(), btc, SnapshotRequest{CandleLimit: 3, SkipOptional: true})
	if err != nil {
		t.Fatalf("get snapshot: %v", err)
	}
	if snap.Funding != nil || snap.OpenInterest != nil || snap.SpotPrice != 0 {
		t.Fatalf("optional data fetched with SkipOptional")
	}
	if fetcher.callsOf("funding")+fetcher.callsOf("oi")+fetcher.callsOf("spot") != 0 {
		t.Fatalf("optional data must not be requested")
	}
}

type countingObserver struct {
	ops  []string
	errs int
}

func (o *countingObserver) ObserveRequest(op string, err error) {
	o.ops = append(o.ops, op)
	if err != nil {
		o.errs++
	}
}

func retryClient(obs RequestObserver) *Client {
	return &Client{
		cfg: config.ExchangeConfig{Retry: config.RetryConfig{
			MaxAttempts: 3,
			MinDelay:    time.Millisecond,
			MaxDelay:    2 * time.Millisecond,
		}},
		logger:   zap.NewNop(),
		observer: obs,
	}
}

func TestCallWithRetry(t *testing.T) {
	obs := &countingObserver{}
	c := retryClient(obs)

	attempts := 0
	err := c.callWithRetry(context.Background(), "fetch_ticker", func() error {
		attempts++
		if attempts < 3 {
			return &ccxt.Error{Type: ccxt.NetworkErrorErrType, Message: "reset"}
		}
		return nil
	})
	if err != nil || attempts != 3 {
		t.Fatalf("expected success on 3rd attempt, attempts=%d err=%v", attempts, err)
	}
	if len(obs.ops) != 1 || obs.errs != 0 {
		t.Fatalf("observer should record a single success: %+v", obs)
	}

	attempts = 0
	err = c.callWithRetry(context.Background(), "fetch_ticker", func() error {
		attempts++
		return errors.New("bad symbol")
	})
	if err == nil || attempts != 1 {
		t.Fatalf("non-retryable error should return immediately, attempts=%d", attempts)
	}

	err = c.callWithRetry(context.Background(), "fetch_ticker", func() error {
		return &ccxt.Error{Type: ccxt.OnMaintenanceErrType}
	})
	if !errors.Is(err, ErrMaintenance) {
		t.Fatalf("expected ErrMaintenance, got %v", err)
	}
	if obs.errs != 2 {
		t.Fatalf("observer should record 2 failures, got %d", obs.errs)
	}
}

func TestCallWithRetryCancelled(t *testing.T) {
	c := retryClient(nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := c.callWithRetry(ctx, "fetch_ticker", func() error { return nil })
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("cancelled context should return immediately, got %v", err)
	}
}

func TestOpenInterestNotional(t *testing.T) {
	if got := (OpenInterest{Amount: 2, Value: 150000}).Notional(70000); got != 150000 {
		t.Fatalf("existing notional should be used, got %v", got)
	}
	if got := (OpenInterest{Amount: 2}).Notional(70000); got != 140000 {
		t.Fatalf("expected conversion by price, got %v", got)
	}
}

func TestClassifyError(t *testing.T) {
	cases := []struct {
		name        string
		err         error
		retry       bool
		maintenance bool
	}{
		{"nil", nil, false, false},
		{"network", &ccxt.Error{Type: ccxt.NetworkErrorErrType}, true, false},
		{"rate_limit", &ccxt.Error{Type: ccxt.RateLimitExceededErrType}, true, false},
		{"maintenance", &ccxt.Error{Type: ccxt.OnMaintenanceErrType, Message: " upgrade "}, false, true},
		{"net_timeout", &net.DNSError{Err: "timeout", IsTimeout: true}, true, false},
		{"canceled", context.Canceled, false, false},
		{"plain", errors.New("bad symbol"), false, false},
	}
	for _, tc := range cases {
		err, retry := classifyError(tc.err)
		if retry != tc.retry {
			t.Errorf("%s: retry=%v want %v", tc.name, retry, tc.retry)
		}
		if got := errors.Is(err, ErrMaintenance); got != tc.maintenance {
			t.Errorf("%s: maintenance=%v want %v (err=%v)", tc.name, got, tc.maintenance, err)
		}
	}
}

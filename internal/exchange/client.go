package exchange

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	ccxt "github.com/ccxt/ccxt/go/v4"
	"go.uber.org/zap"

	"convergence-engine/internal/config"
	"convergence-engine/internal/market"
)

// RequestObserver 接收每次交易所调用的最终结果。
type RequestObserver interface {
	ObserveRequest(operation string, err error)
}

// Client 负责与交易所交互并实现重试机制，合约行情走 Binance USDⓈ-M，现货参考价走 Binance 现货。
type Client struct {
	cfg      config.ExchangeConfig
	logger   *zap.Logger
	futures  *ccxt.Binanceusdm
	spot     *ccxt.Binance
	observer RequestObserver

	marketsMu     sync.Mutex
	marketsLoaded bool
}

// ClientOption 调整客户端行为。
type ClientOption func(*Client)

// WithObserver 设置请求观察者。
func WithObserver(obs RequestObserver) ClientOption {
	return func(c *Client) {
		c.observer = obs
	}
}

// NewClient 构造行情客户端。
func NewClient(cfg config.ExchangeConfig, logger *zap.Logger, opts ...ClientOption) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	futuresConfig := baseConfig(cfg, "future")
	futures := ccxt.NewBinanceusdm(futuresConfig)
	spot := ccxt.NewBinance(baseConfig(cfg, "spot"))
	if cfg.UseSandbox {
		futures.SetSandboxMode(true)
		spot.SetSandboxMode(true)
	}

	c := &Client{
		cfg:     cfg,
		logger:  logger,
		futures: futures,
		spot:    spot,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func baseConfig(cfg config.ExchangeConfig, defaultType string) map[string]interface{} {
	userConfig := map[string]interface{}{
		"enableRateLimit": true,
		"options": map[string]interface{}{
			"adjustForTimeDifference": true,
			"defaultType":             defaultType,
		},
	}
	if cfg.RequestTimeout > 0 {
		userConfig["timeout"] = cfg.RequestTimeout.Milliseconds()
	}
	if cfg.APIKey != "" {
		userConfig["apiKey"] = cfg.APIKey
	}
	if cfg.APISecret != "" {
		userConfig["secret"] = cfg.APISecret
	}
	return userConfig
}

// FetchCandles 获取指定周期的K线数据，未收盘的最后一根也会返回。
func (c *Client) FetchCandles(ctx context.Context, symbol string, interval market.Interval, limit int) ([]market.Candle, error) {
	if !interval.Valid() {
		return nil, fmt.Errorf("exchange: 周期 %q: %w", interval, market.ErrInvalidParameter)
	}
	if limit <= 0 {
		limit = 1
	}
	if limit > maxCandleLimit {
		limit = maxCandleLimit
	}

	var raw []ccxt.OHLCV
	err := c.callWithRetry(ctx, fmt.Sprintf("fetch_ohlcv_%s", interval), func() error {
		if err := c.ensureMarketsLoaded(ctx); err != nil {
			return err
		}

		result, err := c.futures.FetchOHLCV(
			symbol,
			ccxt.WithFetchOHLCVTimeframe(string(interval)),
			ccxt.WithFetchOHLCVLimit(int64(limit)),
		)
		if err != nil {
			return err
		}

		raw = result
		return nil
	})
	if err != nil {
		return nil, err
	}

	candles := make([]market.Candle, 0, len(raw))
	for _, item := range raw {
		candles = append(candles, market.Candle{
			Timestamp: time.UnixMilli(item.Timestamp).UTC(),
			Open:      item.Open,
			High:      item.High,
			Low:       item.Low,
			Close:     item.Close,
			Volume:    item.Volume,
		})
	}

	return candles, nil
}

// FetchOrderBook 获取订单簿快照。
func (c *Client) FetchOrderBook(ctx context.Context, symbol string, depth int) (market.OrderBookSnapshot, error) {
	if depth <= 0 {
		depth = 20
	}

	var raw ccxt.OrderBook
	err := c.callWithRetry(ctx, "fetch_order_book", func() error {
		if err := c.ensureMarketsLoaded(ctx); err != nil {
			return err
		}

		orderBook, err := c.futures.FetchOrderBook(
			symbol,
			ccxt.WithFetchOrderBookLimit(int64(depth)),
		)
		if err != nil {
			return err
		}

		raw = orderBook
		return nil
	})
	if err != nil {
		return market.OrderBookSnapshot{}, err
	}

	return convertOrderBook(symbol, raw), nil
}

// FetchFundingRate 获取当前资金费率（每8小时的小数费率）。
func (c *Client) FetchFundingRate(ctx context.Context, symbol string) (market.FundingSnapshot, error) {
	var raw ccxt.FundingRate
	err := c.callWithRetry(ctx, "fetch_funding_rate", func() error {
		if err := c.ensureMarketsLoaded(ctx); err != nil {
			return err
		}

		result, err := c.futures.FetchFundingRate(symbol)
		if err != nil {
			return err
		}

		raw = result
		return nil
	})
	if err != nil {
		return market.FundingSnapshot{}, err
	}

	if raw.FundingRate == nil {
		return market.FundingSnapshot{}, fmt.Errorf("exchange: %s 资金费率缺失: %w", symbol, market.ErrUpstreamData)
	}
	return market.FundingSnapshot{
		Rate:      *raw.FundingRate,
		Timestamp: millis(raw.Timestamp),
	}, nil
}

// FetchOpenInterest 获取当前持仓量。
func (c *Client) FetchOpenInterest(ctx context.Context, symbol string) (OpenInterest, error) {
	var raw ccxt.OpenInterest
	err := c.callWithRetry(ctx, "fetch_open_interest", func() error {
		if err := c.ensureMarketsLoaded(ctx); err != nil {
			return err
		}

		result, err := c.futures.FetchOpenInterest(symbol)
		if err != nil {
			return err
		}

		raw = result
		return nil
	})
	if err != nil {
		return OpenInterest{}, err
	}

	oi := OpenInterest{
		Amount:    deref(raw.OpenInterestAmount),
		Value:     deref(raw.OpenInterestValue),
		Timestamp: millis(raw.Timestamp),
	}
	if oi.Amount <= 0 && oi.Value <= 0 {
		return OpenInterest{}, fmt.Errorf("exchange: %s 持仓量缺失: %w", symbol, market.ErrUpstreamData)
	}
	return oi, nil
}

// FetchSpotPrice 获取现货最新成交价，用于基差计算。
func (c *Client) FetchSpotPrice(ctx context.Context, symbol string) (float64, error) {
	var raw ccxt.Ticker
	err := c.callWithRetry(ctx, "fetch_spot_ticker", func() error {
		result, err := c.spot.FetchTicker(symbol)
		if err != nil {
			return err
		}

		raw = result
		return nil
	})
	if err != nil {
		return 0, err
	}

	price := deref(raw.Last)
	if price <= 0 {
		price = deref(raw.Close)
	}
	if price <= 0 {
		return 0, fmt.Errorf("exchange: %s 现货价格缺失: %w", symbol, market.ErrUpstreamData)
	}
	return price, nil
}

func (c *Client) ensureMarketsLoaded(ctx context.Context) error {
	c.marketsMu.Lock()
	defer c.marketsMu.Unlock()

	if c.marketsLoaded {
		return nil
	}

	loadErr := c.callWithRetry(ctx, "load_markets", func() error {
		_, err := c.futures.LoadMarkets()
		return err
	})
	if loadErr != nil {
		return loadErr
	}

	c.marketsLoaded = true
	c.logger.Info("已完成市场元数据加载", zap.String("exchange", c.cfg.Name))
	return nil
}

func (c *Client) callWithRetry(ctx context.Context, operation string, fn func() error) (err error) {
	if c.observer != nil {
		defer func() { c.observer.ObserveRequest(operation, err) }()
	}

	attempt := 0
	delay := c.cfg.Retry.MinDelay
	if delay <= 0 {
		delay = 500 * time.Millisecond
	}
	maxDelay := c.cfg.Retry.MaxDelay
	if maxDelay <= 0 {
		maxDelay = 5 * time.Second
	}

	for {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		attempt++
		start := time.Now()
		callErr := fn()
		duration := time.Since(start)
		if callErr == nil {
			if attempt > 1 {
				c.logger.Info("交易所调用重试后成功",
					zap.String("operation", operation),
					zap.Int("attempts", attempt),
					zap.Duration("latency", duration),
				)
			}
			return nil
		}

		normalizedErr, retry := classifyError(callErr)

		if errors.Is(normalizedErr, ErrMaintenance) {
			c.logger.Warn("交易所维护中",
				zap.String("operation", operation),
				zap.Error(normalizedErr),
			)
			return normalizedErr
		}

		if !retry || attempt >= c.cfg.Retry.MaxAttempts {
			c.logger.Error("交易所调用失败",
				zap.String("operation", operation),
				zap.Int("attempts", attempt),
				zap.Duration("latency", duration),
				zap.Error(normalizedErr),
			)
			return normalizedErr
		}

		wait := delay
		if wait > maxDelay {
			wait = maxDelay
		}

		c.logger.Warn("交易所调用失败，等待重试",
			zap.String("operation", operation),
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.Error(normalizedErr),
		)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		delay *= 2
		if delay > maxDelay {
			delay = maxDelay
		}
	}
}

func convertOrderBook(symbol string, ob ccxt.OrderBook) market.OrderBookSnapshot {
	return market.OrderBookSnapshot{
		Instrument: symbol,
		Bids:       convertLevels(ob.Bids),
		Asks:       convertLevels(ob.Asks),
		Timestamp:  millis(ob.Timestamp),
	}
}

func convertLevels(raw [][]float64) []market.OrderBookLevel {
	levels := make([]market.OrderBookLevel, 0, len(raw))
	for _, level := range raw {
		if len(level) < 2 {
			continue
		}
		levels = append(levels, market.OrderBookLevel{
			Price: level[0],
			Size:  level[1],
		})
	}
	return levels
}

func deref(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}

func millis(ts *int64) time.Time {
	if ts == nil || *ts <= 0 {
		return time.Now().UTC()
	}
	return time.UnixMilli(*ts).UTC()
}

package exchange

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"convergence-engine/internal/cache"
	"convergence-engine/internal/market"
)

// MarketDataService 聚合K线、盘口、资金费率、持仓量与现货价格，并按数据类别缓存。
type MarketDataService struct {
	fetcher Fetcher
	logger  *zap.Logger
	ttls    map[cache.Class]time.Duration
	now     func() time.Time

	candles *cache.Cache[[]market.Candle]
	books   *cache.Cache[market.OrderBookSnapshot]
	funding *cache.Cache[market.FundingSnapshot]
	oi      *cache.Cache[OpenInterest]
	spot    *cache.Cache[float64]
}

// ServiceOption 调整快照服务。
type ServiceOption func(*MarketDataService)

// WithClock 替换时间源，同时作用于内部缓存。
func WithClock(now func() time.Time) ServiceOption {
	return func(s *MarketDataService) {
		if now != nil {
			s.now = now
		}
	}
}

// NewMarketDataService 创建市场数据服务，ttls 中缺失的类别使用默认值。
func NewMarketDataService(fetcher Fetcher, ttls map[cache.Class]time.Duration, logger *zap.Logger, opts ...ServiceOption) *MarketDataService {
	if logger == nil {
		logger = zap.NewNop()
	}
	merged := cache.DefaultTTLs()
	for class, ttl := range ttls {
		if ttl > 0 {
			merged[class] = ttl
		}
	}

	s := &MarketDataService{
		fetcher: fetcher,
		logger:  logger,
		ttls:    merged,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	clock := cache.WithClock(s.now)
	s.candles = cache.New[[]market.Candle](clock)
	s.books = cache.New[market.OrderBookSnapshot](clock)
	s.funding = cache.New[market.FundingSnapshot](clock)
	s.oi = cache.New[OpenInterest](clock)
	s.spot = cache.New[float64](clock)
	return s
}

// GetSnapshot 并发拉取一个合约的完整快照，缓存键包含K线数量与盘口深度。K线与盘口失败时整体失败，可选数据失败时置空。
func (s *MarketDataService) GetSnapshot(ctx context.Context, inst Instrument, req SnapshotRequest) (market.Snapshot, error) {
	defaultReq := DefaultSnapshotRequest()
	if len(req.Intervals) == 0 {
		req.Intervals = defaultReq.Intervals
	}
	if req.CandleLimit <= 0 {
		req.CandleLimit = defaultReq.CandleLimit
	}
	if req.OrderBookDepth <= 0 {
		req.OrderBookDepth = defaultReq.OrderBookDepth
	}
	for _, iv := range req.Intervals {
		if !iv.Valid() {
			return market.Snapshot{}, fmt.Errorf("exchange: 周期 %q: %w", iv, market.ErrInvalidParameter)
		}
	}

	var (
		mu        sync.Mutex
		candles   = make(map[market.Interval][]market.Candle, len(req.Intervals))
		orderBook market.OrderBookSnapshot
		funding   *market.FundingSnapshot
		oi        *OpenInterest
		spotPrice float64
	)

	group, groupCtx := errgroup.WithContext(ctx)

	for _, iv := range req.Intervals {
		iv := iv
		group.Go(func() error {
			key := cache.Key(cache.ClassCandles, inst.Symbol, string(iv), strconv.Itoa(req.CandleLimit))
			data, err := s.candles.GetOrLoad(key, s.ttls[cache.ClassCandles], func() ([]market.Candle, error) {
				return s.fetcher.FetchCandles(groupCtx, inst.Market, iv, req.CandleLimit)
			})
			if err != nil {
				return fmt.Errorf("exchange: 拉取 %s %s K线失败: %w", inst.Symbol, iv, err)
			}
			mu.Lock()
			candles[iv] = data
			mu.Unlock()
			return nil
		})
	}

	group.Go(func() error {
		key := cache.Key(cache.ClassOrderBook, inst.Symbol, strconv.Itoa(req.OrderBookDepth))
		book, err := s.books.GetOrLoad(key, s.ttls[cache.ClassOrderBook], func() (market.OrderBookSnapshot, error) {
			return s.fetcher.FetchOrderBook(groupCtx, inst.Market, req.OrderBookDepth)
		})
		if err != nil {
			return fmt.Errorf("exchange: 拉取 %s 订单簿失败: %w", inst.Symbol, err)
		}
		book.Instrument = inst.Symbol
		orderBook = book
		return nil
	})

	if !req.SkipOptional {
		group.Go(func() error {
			key := cache.Key(cache.ClassFunding, inst.Symbol)
			rate, err := s.funding.GetOrLoad(key, s.ttls[cache.ClassFunding], func() (market.FundingSnapshot, error) {
				return s.fetcher.FetchFundingRate(groupCtx, inst.Market)
			})
			if err != nil {
				s.optionalFailed("funding", inst, err)
				return nil
			}
			funding = &rate
			return nil
		})

		group.Go(func() error {
			key := cache.Key(cache.ClassOpenInterest, inst.Symbol)
			reading, err := s.oi.GetOrLoad(key, s.ttls[cache.ClassOpenInterest], func() (OpenInterest, error) {
				return s.fetcher.FetchOpenInterest(groupCtx, inst.Market)
			})
			if err != nil {
				s.optionalFailed("open_interest", inst, err)
				return nil
			}
			oi = &reading
			return nil
		})

		if inst.SpotMarket != "" {
			group.Go(func() error {
				key := cache.Key(cache.ClassBasis, inst.Symbol)
				price, err := s.spot.GetOrLoad(key, s.ttls[cache.ClassBasis], func() (float64, error) {
					return s.fetcher.FetchSpotPrice(groupCtx, inst.SpotMarket)
				})
				if err != nil {
					s.optionalFailed("spot", inst, err)
					return nil
				}
				spotPrice = price
				return nil
			})
		}
	}

	if err := group.Wait(); err != nil {
		return market.Snapshot{}, err
	}

	snapshot := market.Snapshot{
		Instrument: inst.Symbol,
		Candles:    candles,
		OrderBook:  orderBook,
		Funding:    funding,
		SpotPrice:  spotPrice,
		Timestamp:  s.now().UTC(),
	}
	snapshot.Price = snapshot.CurrentPrice()
	if oi != nil {
		snapshot.OpenInterest = &market.OISnapshot{
			Notional:       oi.Notional(snapshot.Price),
			ReferencePrice: snapshot.Price,
			Timestamp:      oi.Timestamp,
		}
	}

	s.logger.Debug("市场数据快照获取完成",
		zap.String("instrument", snapshot.Instrument),
		zap.Float64("price", snapshot.Price),
		zap.Int("intervals", len(snapshot.Candles)),
		zap.Int("order_book_bids", len(snapshot.OrderBook.Bids)),
		zap.Int("order_book_asks", len(snapshot.OrderBook.Asks)),
		zap.Bool("funding", snapshot.Funding != nil),
		zap.Bool("open_interest", snapshot.OpenInterest != nil),
	)

	return snapshot, nil
}

// CacheStats 返回各数据类别的缓存统计。
func (s *MarketDataService) CacheStats() map[cache.Class]cache.Stats {
	return map[cache.Class]cache.Stats{
		cache.ClassCandles:      s.candles.Stats(),
		cache.ClassOrderBook:    s.books.Stats(),
		cache.ClassFunding:      s.funding.Stats(),
		cache.ClassOpenInterest: s.oi.Stats(),
		cache.ClassBasis:        s.spot.Stats(),
	}
}

// CleanupExpired 清理所有过期条目，返回清理数量。
func (s *MarketDataService) CleanupExpired() int {
	return s.candles.CleanupExpired(s.ttls[cache.ClassCandles]) +
		s.books.CleanupExpired(s.ttls[cache.ClassOrderBook]) +
		s.funding.CleanupExpired(s.ttls[cache.ClassFunding]) +
		s.oi.CleanupExpired(s.ttls[cache.ClassOpenInterest]) +
		s.spot.CleanupExpired(s.ttls[cache.ClassBasis])
}

func (s *MarketDataService) optionalFailed(source string, inst Instrument, err error) {
	s.logger.Warn("可选行情获取失败，按缺失处理",
		zap.String("instrument", inst.Symbol),
		zap.String("source", source),
		zap.Error(err),
	)
}

package exchange

import (
	"context"
	"time"

	"convergence-engine/internal/market"
)

// OpenInterest 为交易所返回的持仓量读数，Value 为计价货币名义价值。
type OpenInterest struct {
	Amount    float64
	Value     float64
	Timestamp time.Time
}

// Notional 返回名义持仓量，缺少 Value 时以价格折算。
func (o OpenInterest) Notional(price float64) float64 {
	if o.Value > 0 {
		return o.Value
	}
	return o.Amount * price
}

// Fetcher 为快照服务依赖的行情读取接口，由 Client 实现。
type Fetcher interface {
	FetchCandles(ctx context.Context, symbol string, interval market.Interval, limit int) ([]market.Candle, error)
	FetchOrderBook(ctx context.Context, symbol string, depth int) (market.OrderBookSnapshot, error)
	FetchFundingRate(ctx context.Context, symbol string) (market.FundingSnapshot, error)
	FetchOpenInterest(ctx context.Context, symbol string) (OpenInterest, error)
	FetchSpotPrice(ctx context.Context, symbol string) (float64, error)
}

// Instrument 描述一个永续合约及其现货参考市场。
type Instrument struct {
	// Symbol 为对外标识，例如 BTCUSDT。
	Symbol string
	// Market 为 ccxt 永续合约符号，例如 BTC/USDT:USDT。
	Market string
	// SpotMarket 为 ccxt 现货符号，为空时不取基差。
	SpotMarket string
}

// SnapshotRequest 控制一次快照采集的参数。
type SnapshotRequest struct {
	Intervals      []market.Interval
	CandleLimit    int
	OrderBookDepth int
	// SkipOptional 为 true 时不拉取资金费率、持仓量与现货价格。
	SkipOptional bool
}

// DefaultSnapshotRequest 返回默认快照参数。
func DefaultSnapshotRequest() SnapshotRequest {
	return SnapshotRequest{
		Intervals: []market.Interval{
			market.Interval1m,
			market.Interval1h,
			market.Interval4h,
			market.Interval1d,
		},
		CandleLimit:    200,
		OrderBookDepth: 20,
	}
}

const maxCandleLimit = 1500

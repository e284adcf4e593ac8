package market

import (
	"fmt"
	"math"
	"time"
)

// Candle 代表单根K线。
type Candle struct {
	Timestamp time.Time `json:"timestamp"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
}

// OrderBookLevel 表示盘口档位。
type OrderBookLevel struct {
	Price float64 `json:"price"`
	Size  float64 `json:"size"`
}

// OrderBookSnapshot 为订单簿快照，买盘价格降序、卖盘价格升序。
type OrderBookSnapshot struct {
	Instrument string           `json:"instrument"`
	Bids       []OrderBookLevel `json:"bids"`
	Asks       []OrderBookLevel `json:"asks"`
	Timestamp  time.Time        `json:"timestamp"`
}

// FundingSnapshot 为单次资金费率读数（每8小时的小数费率）。
type FundingSnapshot struct {
	Rate      float64   `json:"rate"`
	Timestamp time.Time `json:"timestamp"`
}

// OISnapshot 为持仓量读数及对应参考价格。
type OISnapshot struct {
	Notional       float64   `json:"notional"`
	ReferencePrice float64   `json:"reference_price"`
	Timestamp      time.Time `json:"timestamp"`
}

// Snapshot 聚合单个合约在某一时刻的全部行情输入。
type Snapshot struct {
	Instrument   string                `json:"instrument"`
	Price        float64               `json:"price"`
	Candles      map[Interval][]Candle `json:"candles"`
	OrderBook    OrderBookSnapshot     `json:"order_book"`
	Funding      *FundingSnapshot      `json:"funding,omitempty"`
	OpenInterest *OISnapshot           `json:"open_interest,omitempty"`
	SpotPrice    float64               `json:"spot_price"`
	Timestamp    time.Time             `json:"timestamp"`
}

var priceFallbackOrder = []Interval{Interval1m, Interval5m, Interval15m, Interval1h, Interval4h, Interval1d}

// CurrentPrice 返回快照价格；未提供时取最细周期的最新收盘价。
func (s Snapshot) CurrentPrice() float64 {
	if s.Price > 0 && isFinite(s.Price) {
		return s.Price
	}
	for _, iv := range priceFallbackOrder {
		candles := s.Candles[iv]
		if len(candles) > 0 {
			return candles[len(candles)-1].Close
		}
	}
	return 0
}

// ValidateCandles 检查K线序列是否时间升序且数值有效。
func ValidateCandles(candles []Candle) error {
	for i, c := range candles {
		if !isFinite(c.Open) || !isFinite(c.High) || !isFinite(c.Low) || !isFinite(c.Close) || !isFinite(c.Volume) {
			return fmt.Errorf("market: 第 %d 根K线包含非法数值: %w", i, ErrUpstreamData)
		}
		if c.Volume < 0 || c.Low < 0 || c.High < c.Low {
			return fmt.Errorf("market: 第 %d 根K线价格或成交量异常: %w", i, ErrUpstreamData)
		}
		if i > 0 && !c.Timestamp.After(candles[i-1].Timestamp) {
			return fmt.Errorf("market: 第 %d 根K线时间未递增: %w", i, ErrUpstreamData)
		}
	}
	return nil
}

// ValidateOrderBook 检查盘口档位的价格与数量。
func ValidateOrderBook(book OrderBookSnapshot) error {
	for side, levels := range map[string][]OrderBookLevel{"bids": book.Bids, "asks": book.Asks} {
		for i, level := range levels {
			if !isFinite(level.Price) || !isFinite(level.Size) || level.Price <= 0 || level.Size < 0 {
				return fmt.Errorf("market: %s 第 %d 档数据异常: %w", side, i, ErrUpstreamData)
			}
		}
	}
	return nil
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

package metrics

import (
	"fmt"

	"convergence-engine/internal/history"
	"convergence-engine/internal/market"
)

// Func 为统一的指标计算签名，hist 可以为 nil。
type Func func(snapshot market.Snapshot, hist History) Result

// Registry 是启动时构建的不可变指标表。
type Registry struct {
	params Params
	funcs  map[Kind]Func
}

// NewRegistry 按参数构建全部指标。
func NewRegistry(params Params) *Registry {
	def := DefaultParams()
	if !params.Interval.Valid() {
		params.Interval = def.Interval
	}
	if params.OILookback <= 0 {
		params.OILookback = def.OILookback
	}
	if params.ImbalanceVelocitySamples <= 0 {
		params.ImbalanceVelocitySamples = def.ImbalanceVelocitySamples
	}

	r := &Registry{params: params}
	r.funcs = map[Kind]Func{
		KindOrderBookImbalance: r.orderBook,
		KindFundingRate:        r.funding,
		KindVWAPDeviation:      r.vwap,
		KindTradeFlow:          r.tradeFlow,
		KindOIDivergence:       r.openInterest,
		KindBasisSpread:        r.basis,
	}
	return r
}

// Params 返回生效参数。
func (r *Registry) Params() Params {
	return r.params
}

// Compute 按固定顺序计算所选指标；kinds 为空时计算全部。
// 单个指标数据不足时返回 Known=false 的结果而非错误。
func (r *Registry) Compute(snapshot market.Snapshot, hist History, kinds ...Kind) ([]Result, error) {
	selected, err := r.selection(kinds)
	if err != nil {
		return nil, err
	}

	results := make([]Result, 0, len(selected))
	for _, kind := range canonicalOrder {
		if !selected[kind] {
			continue
		}
		res := r.funcs[kind](snapshot, hist)
		res.Name = kind
		res.Timestamp = snapshot.Timestamp
		results = append(results, res)
	}
	return results, nil
}

func (r *Registry) selection(kinds []Kind) (map[Kind]bool, error) {
	selected := make(map[Kind]bool, len(canonicalOrder))
	if len(kinds) == 0 {
		for _, kind := range canonicalOrder {
			selected[kind] = true
		}
		return selected, nil
	}
	for _, kind := range kinds {
		if _, ok := r.funcs[kind]; !ok {
			return nil, fmt.Errorf("metrics: 未注册的指标 %q: %w", kind, market.ErrInvalidParameter)
		}
		selected[kind] = true
	}
	return selected, nil
}

func (r *Registry) orderBook(snap market.Snapshot, hist History) Result {
	if err := market.ValidateOrderBook(snap.OrderBook); err != nil {
		return unknown(KindOrderBookImbalance, err)
	}
	res := OrderBookImbalance(snap.OrderBook, r.params.OrderBookDepth)
	if res.Known && hist != nil {
		if v := hist.MeanStep(history.KindOrderBookImbalance, snap.Timestamp, r.params.ImbalanceVelocitySamples); v.Known {
			res.Metadata["velocity"] = v.Value
		}
	}
	return res
}

func (r *Registry) funding(snap market.Snapshot, hist History) Result {
	if snap.Funding == nil {
		return unknown(KindFundingRate, fmt.Errorf("metrics: 缺少资金费率: %w", market.ErrUpstreamData))
	}
	res := FundingAnnualized(snap.Funding.Rate, r.params.FundingExtreme)
	if res.Known && hist != nil {
		dyn := hist.FundingDynamics(snap.Timestamp)
		if dyn.Velocity4h.Known {
			res.Metadata["velocity_4h"] = dyn.Velocity4h.Value
		}
		if dyn.Velocity8h.Known {
			res.Metadata["velocity_8h"] = dyn.Velocity8h.Value
		}
		if dyn.Acceleration.Known {
			res.Metadata["acceleration"] = dyn.Acceleration.Value
		}
	}
	return res
}

func (r *Registry) candles(kind Kind, snap market.Snapshot) ([]market.Candle, *Result) {
	candles := snap.Candles[r.params.Interval]
	if err := market.ValidateCandles(candles); err != nil {
		res := unknown(kind, err)
		return nil, &res
	}
	return candles, nil
}

func (r *Registry) vwap(snap market.Snapshot, _ History) Result {
	candles, bad := r.candles(KindVWAPDeviation, snap)
	if bad != nil {
		return *bad
	}
	return VWAPDeviation(candles, r.params.VWAPLookback, snap.CurrentPrice())
}

func (r *Registry) tradeFlow(snap market.Snapshot, _ History) Result {
	candles, bad := r.candles(KindTradeFlow, snap)
	if bad != nil {
		return *bad
	}
	return TradeFlowImbalance(candles, r.params.FlowLookback, r.params.FlowVolumeWindow)
}

func (r *Registry) openInterest(snap market.Snapshot, hist History) Result {
	oi := snap.OpenInterest
	if oi == nil {
		return unknown(KindOIDivergence, fmt.Errorf("metrics: 缺少持仓量: %w", market.ErrUpstreamData))
	}
	if hist == nil {
		return insufficient(KindOIDivergence, "未提供历史状态")
	}

	at := oi.Timestamp
	if at.IsZero() {
		at = snap.Timestamp
	}
	past, ok := hist.ValueAt(history.KindOpenInterest, at, r.params.OILookback)
	if !ok {
		return insufficient(KindOIDivergence, "缺少 %s 前的持仓量锚点", r.params.OILookback)
	}

	price := oi.ReferencePrice
	if price <= 0 {
		price = snap.CurrentPrice()
	}

	res := OIDivergence(oi.Notional, past.Value, price, past.Price, r.params.OIThreshold)
	if res.Known {
		changes := hist.OIChanges(at)
		for key, reading := range map[string]history.Reading{
			"change_4h":  changes.Change4h,
			"change_24h": changes.Change24h,
			"change_7d":  changes.Change7d,
		} {
			if reading.Known {
				res.Metadata[key] = reading.Value
			}
		}
	}
	return res
}

func (r *Registry) basis(snap market.Snapshot, _ History) Result {
	return BasisSpread(snap.CurrentPrice(), snap.SpotPrice, r.params.BasisArbThreshold)
}

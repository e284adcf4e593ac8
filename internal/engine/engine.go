package engine

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"convergence-engine/internal/cache"
	"convergence-engine/internal/convergence"
	"convergence-engine/internal/history"
	"convergence-engine/internal/market"
	"convergence-engine/internal/metrics"
	"convergence-engine/internal/signal"
	"convergence-engine/internal/structure"
)

// Engine 将快照转换为交易信号。状态（缓存与历史）均由调用方注入。
type Engine struct {
	params   Params
	registry *metrics.Registry
	analyzer *structure.Analyzer
	scorer   *convergence.Scorer
	producer *signal.Producer

	structures *cache.Cache[structure.Analysis]
	history    *history.Store
	logger     *zap.Logger
}

// New 创建引擎。structures 与 hist 可以为 nil，此时不缓存结构分析、不读取历史。
func New(params Params, structures *cache.Cache[structure.Analysis], hist *history.Store, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if params.StructureTTL <= 0 {
		params.StructureTTL = cache.DefaultTTLs()[cache.ClassStructure]
	}

	return &Engine{
		params:     params,
		registry:   metrics.NewRegistry(params.Metrics),
		analyzer:   structure.NewAnalyzer(params.Structure, logger),
		scorer:     convergence.NewScorer(params.Scoring),
		producer:   signal.NewProducer(params.Signal, logger),
		structures: structures,
		history:    hist,
		logger:     logger,
	}
}

// Params 返回引擎参数。
func (e *Engine) Params() Params {
	return e.params
}

// Evaluate 对快照执行完整评估：指标、结构、汇聚评分、信号。
// 请求本身不合法（缺少合约、未知指标或周期）时返回 ErrInvalidParameter；
// 数据缺失或格式异常只会让对应来源变为未知。
func (e *Engine) Evaluate(snapshot market.Snapshot, opts Options) (signal.Signal, error) {
	if strings.TrimSpace(snapshot.Instrument) == "" {
		return signal.Signal{}, fmt.Errorf("engine: 合约不能为空: %w", market.ErrInvalidParameter)
	}

	if opts.RecordHistory {
		if err := e.Record(snapshot); err != nil {
			e.logger.Warn("写入历史状态失败", zap.String("instrument", snapshot.Instrument), zap.Error(err))
		}
	}

	results, err := e.registry.Compute(snapshot, e.view(snapshot.Instrument), opts.Metrics...)
	if err != nil {
		return signal.Signal{}, err
	}

	var analysis *structure.Analysis
	if !opts.SkipStructure {
		a, err := e.analyze(snapshot, opts)
		if err != nil {
			return signal.Signal{}, err
		}
		analysis = &a
	}

	conv := e.scorer.Score(results, analysis)
	sig := e.producer.Produce(signal.Input{
		Instrument:  snapshot.Instrument,
		Price:       snapshot.CurrentPrice(),
		Convergence: conv,
		Structure:   analysis,
		Metrics:     results,
		Timestamp:   snapshot.Timestamp,
	})

	e.logger.Debug("完成信号评估",
		zap.String("instrument", sig.Instrument),
		zap.String("action", string(sig.Action)),
		zap.Int("score", sig.Score),
		zap.Int("bullish", sig.Bullish),
		zap.Int("bearish", sig.Bearish),
		zap.String("confidence", string(sig.Confidence)),
	)
	return sig, nil
}

// GetMetrics 仅计算指标，用于诊断。
func (e *Engine) GetMetrics(snapshot market.Snapshot, kinds ...metrics.Kind) ([]metrics.Result, error) {
	return e.registry.Compute(snapshot, e.view(snapshot.Instrument), kinds...)
}

// Analyze 仅执行结构分析。
func (e *Engine) Analyze(snapshot market.Snapshot, opts Options) (structure.Analysis, error) {
	return e.analyze(snapshot, opts)
}

// Record 把快照中的持仓量、资金费率与盘口失衡写入历史，是历史状态的唯一写入方。
// 缺失的字段跳过，格式异常的字段汇总为错误返回。
func (e *Engine) Record(snapshot market.Snapshot) error {
	if e.history == nil {
		return nil
	}

	var errs error
	if oi := snapshot.OpenInterest; oi != nil {
		rec := *oi
		if rec.Timestamp.IsZero() {
			rec.Timestamp = snapshot.Timestamp
		}
		if rec.ReferencePrice <= 0 {
			rec.ReferencePrice = snapshot.CurrentPrice()
		}
		errs = multierr.Append(errs, e.history.RecordOpenInterest(snapshot.Instrument, rec))
	}
	if f := snapshot.Funding; f != nil {
		rec := *f
		if rec.Timestamp.IsZero() {
			rec.Timestamp = snapshot.Timestamp
		}
		errs = multierr.Append(errs, e.history.RecordFunding(snapshot.Instrument, rec))
	}
	if market.ValidateOrderBook(snapshot.OrderBook) == nil {
		res := metrics.OrderBookImbalance(snapshot.OrderBook, e.params.Metrics.OrderBookDepth)
		if res.Known {
			ts := snapshot.OrderBook.Timestamp
			if ts.IsZero() {
				ts = snapshot.Timestamp
			}
			errs = multierr.Append(errs, e.history.RecordImbalance(snapshot.Instrument, ts, res.Value))
		}
	}
	return errs
}

// StructureCacheStats 返回结构缓存统计，未启用缓存时返回零值。
func (e *Engine) StructureCacheStats() cache.Stats {
	if e.structures == nil {
		return cache.Stats{}
	}
	return e.structures.Stats()
}

// CleanupStructures 清理过期的结构分析缓存。
func (e *Engine) CleanupStructures() int {
	if e.structures == nil {
		return 0
	}
	return e.structures.CleanupExpired(e.params.StructureTTL)
}

func (e *Engine) view(instrument string) metrics.History {
	if e.history == nil {
		return nil
	}
	return e.history.View(instrument)
}

func (e *Engine) analyze(snapshot market.Snapshot, opts Options) (structure.Analysis, error) {
	frames := make(map[market.Interval][]market.Candle, len(snapshot.Candles))
	for tf, candles := range snapshot.Candles {
		if !tf.Valid() {
			return structure.Analysis{}, fmt.Errorf("engine: 未知周期 %q: %w", tf, market.ErrInvalidParameter)
		}
		frames[tf] = candles
	}

	price := snapshot.CurrentPrice()
	compute := func() (structure.Analysis, error) {
		return e.analyzer.Analyze(frames, price, structure.Options{
			Required: opts.Required,
			Optional: opts.Optional,
			Entry:    opts.Entry,
		})
	}
	if e.structures == nil {
		return compute()
	}

	key := structureKey(snapshot, price, opts)
	res, err := e.structures.GetOrLoad(key, e.params.StructureTTL, compute)
	if err != nil && !errors.Is(err, market.ErrInvalidParameter) {
		e.logger.Warn("结构分析失败", zap.String("instrument", snapshot.Instrument), zap.Error(err))
	}
	return res, err
}

// structureKey 由合约、周期选择、价格及每个周期的K线数量、最新时间与高低收指纹组成，
// 任意K线内容变化即失效。
func structureKey(snapshot market.Snapshot, price float64, opts Options) string {
	parts := []string{
		strings.ToUpper(snapshot.Instrument),
		string(opts.Entry),
		joinIntervals(opts.Required),
		joinIntervals(opts.Optional),
		strconv.FormatBool(opts.Optional == nil),
		strconv.FormatFloat(price, 'f', -1, 64),
	}
	for _, tf := range []market.Interval{
		market.Interval1m, market.Interval5m, market.Interval15m,
		market.Interval1h, market.Interval4h, market.Interval1d, market.Interval1w,
	} {
		candles, ok := snapshot.Candles[tf]
		if !ok {
			continue
		}
		last := int64(0)
		if n := len(candles); n > 0 {
			last = candles[n-1].Timestamp.UnixMilli()
		}
		parts = append(parts, fmt.Sprintf("%s=%d@%d#%016x", tf, len(candles), last, candleFingerprint(candles)))
	}
	return cache.Key(cache.ClassStructure, parts...)
}

func candleFingerprint(candles []market.Candle) uint64 {
	d := xxhash.New()
	buf := make([]byte, 0, 32)
	for _, c := range candles {
		buf = buf[:0]
		buf = binary.LittleEndian.AppendUint64(buf, uint64(c.Timestamp.UnixMilli()))
		buf = binary.LittleEndian.AppendUint64(buf, math.Float64bits(c.High))
		buf = binary.LittleEndian.AppendUint64(buf, math.Float64bits(c.Low))
		buf = binary.LittleEndian.AppendUint64(buf, math.Float64bits(c.Close))
		_, _ = d.Write(buf)
	}
	return d.Sum64()
}

func joinIntervals(ivs []market.Interval) string {
	out := make([]string, len(ivs))
	for i, iv := range ivs {
		out[i] = string(iv)
	}
	return strings.Join(out, ",")
}

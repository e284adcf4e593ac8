package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"convergence-engine/internal/cache"
	"convergence-engine/internal/engine"
	"convergence-engine/internal/exchange"
	"convergence-engine/internal/journal"
	"convergence-engine/internal/market"
	"convergence-engine/internal/narrator"
	"convergence-engine/internal/signal"
	"convergence-engine/internal/telemetry"
)

type snapshotSource interface {
	GetSnapshot(ctx context.Context, inst exchange.Instrument, req exchange.SnapshotRequest) (market.Snapshot, error)
	CacheStats() map[cache.Class]cache.Stats
	CleanupExpired() int
}

type signalNarrator interface {
	Narrate(ctx context.Context, sig signal.Signal) (narrator.Narrative, error)
}

// orchestrator 针对全部合约驱动评估、历史采样、信号跟踪与缓存清理。
type orchestrator struct {
	instruments []exchange.Instrument
	market      snapshotSource
	engine      *engine.Engine
	journal     *journal.Journal
	narrator    signalNarrator
	recorder    *telemetry.Recorder
	logger      *zap.Logger

	request     exchange.SnapshotRequest
	options     engine.Options
	concurrency int
	jobTimeout  time.Duration

	metricsInterval market.Interval
}

// EvaluateAll 并发评估全部合约，单个合约失败不影响其他合约，错误汇总返回。
func (o *orchestrator) EvaluateAll(ctx context.Context) error {
	return o.forEach(ctx, "evaluate", o.evaluate)
}

// SampleAll 采样持仓量、资金费率与盘口失衡写入历史。
func (o *orchestrator) SampleAll(ctx context.Context) error {
	return o.forEach(ctx, "sample", o.sample)
}

// ResolveAll 用最新价格更新活跃信号的状态。
func (o *orchestrator) ResolveAll(ctx context.Context) error {
	return o.forEach(ctx, "resolve", o.resolve)
}

// Cleanup 清理过期缓存并同步缓存指标。
func (o *orchestrator) Cleanup() {
	removed := o.market.CleanupExpired() + o.engine.CleanupStructures()

	for class, stats := range o.market.CacheStats() {
		o.recorder.ObserveCache(string(class), stats)
	}
	o.recorder.ObserveCache(string(cache.ClassStructure), o.engine.StructureCacheStats())

	if removed > 0 {
		o.logger.Debug("已清理过期缓存", zap.Int("removed", removed))
	}
}

func (o *orchestrator) forEach(ctx context.Context, stage string, fn func(context.Context, exchange.Instrument) error) error {
	if o.jobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.jobTimeout)
		defer cancel()
	}

	var (
		mu   sync.Mutex
		errs error
	)

	var group errgroup.Group
	if o.concurrency > 0 {
		group.SetLimit(o.concurrency)
	}
	for _, inst := range o.instruments {
		inst := inst
		group.Go(func() error {
			if err := fn(ctx, inst); err != nil {
				o.recorder.RecordError(inst.Symbol, stage)
				mu.Lock()
				errs = multierr.Append(errs, fmt.Errorf("%s %s: %w", stage, inst.Symbol, err))
				mu.Unlock()
			}
			return nil
		})
	}
	_ = group.Wait()
	return errs
}

func (o *orchestrator) evaluate(ctx context.Context, inst exchange.Instrument) error {
	start := time.Now()

	snapshot, err := o.market.GetSnapshot(ctx, inst, o.request)
	if err != nil {
		o.journal.RecordError(ctx, inst.Symbol, "拉取市场数据失败", err, map[string]interface{}{"market": inst.Market})
		return err
	}

	sig, err := o.engine.Evaluate(snapshot, o.options)
	if err != nil {
		o.journal.RecordError(ctx, inst.Symbol, "信号评估失败", err, nil)
		return err
	}

	o.recorder.ObserveEvaluation(sig.Instrument, string(sig.Action), sig.Score, time.Since(start))
	o.journal.RecordEvaluation(ctx, sig)

	o.logger.Info("完成合约评估",
		zap.String("instrument", sig.Instrument),
		zap.String("action", string(sig.Action)),
		zap.Int("score", sig.Score),
		zap.String("confidence", string(sig.Confidence)),
		zap.Float64("entry", sig.Entry),
		zap.Float64("stop", sig.Stop),
		zap.Float64("target", sig.Target),
	)

	if sig.Action == signal.ActionSkip {
		return nil
	}

	id, err := o.journal.AddSignal(ctx, sig)
	if err != nil {
		return err
	}
	o.narrate(ctx, id, sig)
	return nil
}

// narrate 为新信号生成解读，失败只记录不影响信号本身。
func (o *orchestrator) narrate(ctx context.Context, id string, sig signal.Signal) {
	if o.narrator == nil || id == "" {
		return
	}
	n, err := o.narrator.Narrate(ctx, sig)
	if err != nil {
		if !errors.Is(err, narrator.ErrNothingToNarrate) {
			o.journal.RecordError(ctx, sig.Instrument, "生成信号解读失败", err, map[string]interface{}{"signal_id": id})
		}
		return
	}
	if err := o.journal.SetNarrative(ctx, id, n.Text()); err != nil {
		o.logger.Warn("保存信号解读失败", zap.String("signal_id", id), zap.Error(err))
	}
}

func (o *orchestrator) sample(ctx context.Context, inst exchange.Instrument) error {
	snapshot, err := o.market.GetSnapshot(ctx, inst, exchange.SnapshotRequest{
		Intervals:      []market.Interval{o.metricsInterval},
		CandleLimit:    1,
		OrderBookDepth: o.request.OrderBookDepth,
	})
	if err != nil {
		return err
	}
	return o.engine.Record(snapshot)
}

func (o *orchestrator) resolve(ctx context.Context, inst exchange.Instrument) error {
	snapshot, err := o.market.GetSnapshot(ctx, inst, exchange.SnapshotRequest{
		Intervals:      []market.Interval{o.metricsInterval},
		CandleLimit:    1,
		OrderBookDepth: 1,
		SkipOptional:   true,
	})
	if err != nil {
		return err
	}
	price := snapshot.CurrentPrice()
	if price <= 0 {
		return fmt.Errorf("app: %s 无有效价格: %w", inst.Symbol, market.ErrDataInsufficient)
	}
	_, err = o.journal.Resolve(ctx, inst.Symbol, price, snapshot.Timestamp)
	return err
}

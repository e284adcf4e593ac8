package history

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"convergence-engine/internal/market"
)

// Store 按合约分区保存持仓量、资金费率及盘口失衡的滚动历史。
// 每个分区独立加锁，不同合约之间没有共享的可变状态。
type Store struct {
	opts   Options
	logger *zap.Logger

	mu         sync.RWMutex
	partitions map[string]*partition
}

type partition struct {
	mu     sync.RWMutex
	series map[Kind]*series
}

// NewStore 创建历史存储，未设置的选项使用默认值。
func NewStore(opts Options, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	def := DefaultOptions()
	if opts.OpenInterestRetention <= 0 {
		opts.OpenInterestRetention = def.OpenInterestRetention
	}
	if opts.FundingRetention <= 0 {
		opts.FundingRetention = def.FundingRetention
	}
	if opts.ImbalanceRetention <= 0 {
		opts.ImbalanceRetention = def.ImbalanceRetention
	}
	if opts.SampleInterval <= 0 {
		opts.SampleInterval = def.SampleInterval
	}
	if opts.Tolerance <= 0 {
		opts.Tolerance = def.Tolerance
	}

	return &Store{
		opts:       opts,
		logger:     logger,
		partitions: make(map[string]*partition),
	}
}

// Options 返回生效配置。
func (s *Store) Options() Options {
	return s.opts
}

// Append 向指定合约的序列写入一条读数。
func (s *Store) Append(instrument string, kind Kind, sample Sample) error {
	instrument = normalize(instrument)
	if instrument == "" {
		return fmt.Errorf("history: 合约不能为空: %w", market.ErrInvalidParameter)
	}
	retention := s.opts.retention(kind)
	if retention <= 0 {
		return fmt.Errorf("history: 未知序列类型 %q: %w", kind, market.ErrInvalidParameter)
	}
	if sample.Timestamp.IsZero() || math.IsNaN(sample.Value) || math.IsInf(sample.Value, 0) {
		return fmt.Errorf("history: %s 读数无效: %w", kind, market.ErrUpstreamData)
	}

	p := s.partition(instrument, true)
	p.mu.Lock()
	defer p.mu.Unlock()

	ser, ok := p.series[kind]
	if !ok {
		ser = newSeries(retention, s.opts.SampleInterval)
		p.series[kind] = ser
	}
	sample.Timestamp = sample.Timestamp.UTC()
	ser.insert(sample)

	s.logger.Debug("写入历史读数",
		zap.String("instrument", instrument),
		zap.String("kind", string(kind)),
		zap.Float64("value", sample.Value),
		zap.Int("count", len(ser.samples)),
	)
	return nil
}

// RecordOpenInterest 写入持仓量读数及参考价格。
func (s *Store) RecordOpenInterest(instrument string, oi market.OISnapshot) error {
	return s.Append(instrument, KindOpenInterest, Sample{
		Timestamp: oi.Timestamp,
		Value:     oi.Notional,
		Price:     oi.ReferencePrice,
	})
}

// RecordFunding 写入资金费率读数。
func (s *Store) RecordFunding(instrument string, f market.FundingSnapshot) error {
	return s.Append(instrument, KindFunding, Sample{Timestamp: f.Timestamp, Value: f.Rate})
}

// RecordImbalance 写入盘口失衡读数。
func (s *Store) RecordImbalance(instrument string, ts time.Time, value float64) error {
	return s.Append(instrument, KindOrderBookImbalance, Sample{Timestamp: ts, Value: value})
}

// Latest 返回最新读数。
func (s *Store) Latest(instrument string, kind Kind) (Sample, bool) {
	var out Sample
	var ok bool
	s.read(instrument, kind, func(ser *series) {
		out, ok = ser.latest()
	})
	return out, ok
}

// Samples 返回序列副本。
func (s *Store) Samples(instrument string, kind Kind) []Sample {
	var out []Sample
	s.read(instrument, kind, func(ser *series) {
		out = ser.snapshot()
	})
	return out
}

// ValueAt 返回 at-ago 时刻容差窗口内最近的读数。
func (s *Store) ValueAt(instrument string, kind Kind, at time.Time, ago time.Duration) (Sample, bool) {
	var out Sample
	var ok bool
	s.read(instrument, kind, func(ser *series) {
		out, ok = ser.nearest(at.Add(-ago), s.opts.Tolerance)
	})
	return out, ok
}

// Velocity 计算 current - value(window 之前)。
func (s *Store) Velocity(instrument string, kind Kind, at time.Time, window time.Duration) Reading {
	var r Reading
	s.read(instrument, kind, func(ser *series) {
		current, ok := ser.nearest(at, s.opts.Tolerance)
		if !ok {
			return
		}
		past, ok := ser.nearest(at.Add(-window), s.opts.Tolerance)
		if !ok {
			return
		}
		r = Known(current.Value - past.Value)
	})
	return r
}

// Acceleration 使用 now、now-short、now-long 三个锚点：
// (now - short) 段的速度减去 (short - long) 段的速度。
func (s *Store) Acceleration(instrument string, kind Kind, at time.Time, short, long time.Duration) Reading {
	var r Reading
	s.read(instrument, kind, func(ser *series) {
		now, ok := ser.nearest(at, s.opts.Tolerance)
		if !ok {
			return
		}
		mid, ok := ser.nearest(at.Add(-short), s.opts.Tolerance)
		if !ok {
			return
		}
		far, ok := ser.nearest(at.Add(-long), s.opts.Tolerance)
		if !ok {
			return
		}
		r = Known((now.Value - mid.Value) - (mid.Value - far.Value))
	})
	return r
}

// PercentChange 返回相对 window 之前读数的百分比变化，基数为0时未知。
func (s *Store) PercentChange(instrument string, kind Kind, at time.Time, window time.Duration) Reading {
	var r Reading
	s.read(instrument, kind, func(ser *series) {
		current, ok := ser.nearest(at, s.opts.Tolerance)
		if !ok {
			return
		}
		past, ok := ser.nearest(at.Add(-window), s.opts.Tolerance)
		if !ok || past.Value == 0 {
			return
		}
		r = Known((current.Value - past.Value) / past.Value * 100)
	})
	return r
}

// MeanStep 返回截至 at 的最近 n 条读数相邻差值的平均，用于盘口失衡速度。
// 只取 at 之前的读数，最新一条须在容差内且 n 条均落在保留窗口内，否则视为未知。
func (s *Store) MeanStep(instrument string, kind Kind, at time.Time, n int) Reading {
	var r Reading
	s.read(instrument, kind, func(ser *series) {
		if n < 2 {
			return
		}
		end := sort.Search(len(ser.samples), func(i int) bool {
			return ser.samples[i].Timestamp.After(at)
		})
		if end < n {
			return
		}
		recent := ser.samples[end-n : end]
		if at.Sub(recent[n-1].Timestamp) > s.opts.Tolerance {
			return
		}
		if recent[0].Timestamp.Before(at.Add(-ser.retention)) {
			return
		}
		var total float64
		for i := 1; i < len(recent); i++ {
			total += recent[i].Value - recent[i-1].Value
		}
		r = Known(total / float64(n-1))
	})
	return r
}

// FundingDynamics 返回资金费率当前值、4h/8h 速度与加速度。
func (s *Store) FundingDynamics(instrument string, at time.Time) FundingDynamics {
	current := Unknown()
	if sample, ok := s.ValueAt(instrument, KindFunding, at, 0); ok {
		current = Known(sample.Value)
	}
	return FundingDynamics{
		Current:      current,
		Velocity4h:   s.Velocity(instrument, KindFunding, at, 4*time.Hour),
		Velocity8h:   s.Velocity(instrument, KindFunding, at, 8*time.Hour),
		Acceleration: s.Acceleration(instrument, KindFunding, at, 4*time.Hour, 8*time.Hour),
	}
}

// OIChanges 返回持仓量 4h/24h/7d 变化百分比。
func (s *Store) OIChanges(instrument string, at time.Time) OIChanges {
	return OIChanges{
		Change4h:  s.PercentChange(instrument, KindOpenInterest, at, 4*time.Hour),
		Change24h: s.PercentChange(instrument, KindOpenInterest, at, 24*time.Hour),
		Change7d:  s.PercentChange(instrument, KindOpenInterest, at, 7*24*time.Hour),
	}
}

// Stats 返回合约下每条序列的统计。
func (s *Store) Stats(instrument string) []SeriesStats {
	p := s.partition(normalize(instrument), false)
	if p == nil {
		return nil
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]SeriesStats, 0, len(p.series))
	for kind, ser := range p.series {
		st := SeriesStats{Kind: kind, Count: len(ser.samples)}
		if len(ser.samples) > 0 {
			st.Oldest = ser.samples[0].Timestamp
			st.Newest = ser.samples[len(ser.samples)-1].Timestamp
		}
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Kind < out[j].Kind })
	return out
}

// Instruments 返回已有历史的合约列表。
func (s *Store) Instruments() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]string, 0, len(s.partitions))
	for name := range s.partitions {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// View 返回绑定到单个合约的只读视图。
func (s *Store) View(instrument string) View {
	return View{store: s, instrument: normalize(instrument)}
}

func (s *Store) read(instrument string, kind Kind, fn func(*series)) {
	p := s.partition(normalize(instrument), false)
	if p == nil {
		return
	}
	p.mu.RLock()
	defer p.mu.RUnlock()

	if ser, ok := p.series[kind]; ok {
		fn(ser)
	}
}

func (s *Store) partition(instrument string, create bool) *partition {
	s.mu.RLock()
	p, ok := s.partitions[instrument]
	s.mu.RUnlock()
	if ok || !create {
		return p
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok = s.partitions[instrument]; ok {
		return p
	}
	p = &partition{series: make(map[Kind]*series)}
	s.partitions[instrument] = p
	return p
}

func normalize(instrument string) string {
	return strings.ToUpper(strings.TrimSpace(instrument))
}

package engine

import (
	"time"

	"convergence-engine/internal/cache"
	"convergence-engine/internal/convergence"
	"convergence-engine/internal/market"
	"convergence-engine/internal/metrics"
	"convergence-engine/internal/signal"
	"convergence-engine/internal/structure"
)

// Params 汇总引擎各阶段参数。
type Params struct {
	Metrics   metrics.Params
	Structure structure.Params
	Scoring   convergence.Params
	Signal    signal.Params

	// StructureTTL 为结构分析结果的缓存时长。
	StructureTTL time.Duration
}

// DefaultParams 返回默认参数。
func DefaultParams() Params {
	return Params{
		Metrics:      metrics.DefaultParams(),
		Structure:    structure.DefaultParams(),
		Scoring:      convergence.DefaultParams(),
		Signal:       signal.DefaultParams(),
		StructureTTL: cache.DefaultTTLs()[cache.ClassStructure],
	}
}

// Options 控制单次评估。
type Options struct {
	// Metrics 为空时计算全部指标。
	Metrics []metrics.Kind
	// Required 为空时使用 1d/4h/1h。
	Required []market.Interval
	// Optional 为 nil 时使用 1w。
	Optional []market.Interval
	Entry    market.Interval
	// SkipStructure 为 true 时不做结构分析，结构不参与评分与投票。
	SkipStructure bool
	// RecordHistory 为 true 时先把快照中的持仓量、资金费率与盘口失衡写入历史。
	RecordHistory bool
}

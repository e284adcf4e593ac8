package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"convergence-engine/internal/cache"
)

const namespace = "convergence"

// Recorder 使用独立 registry 记录引擎运行指标。
type Recorder struct {
	registry *prometheus.Registry

	evaluations   *prometheus.CounterVec
	errorsTotal   *prometheus.CounterVec
	score         *prometheus.GaugeVec
	latency       *prometheus.HistogramVec
	upstream      *prometheus.CounterVec
	cacheHits     *prometheus.GaugeVec
	cacheMisses   *prometheus.GaugeVec
	cacheHitRatio *prometheus.GaugeVec
	cacheEntries  *prometheus.GaugeVec
}

// NewRecorder 创建指标记录器，并注册进程与Go运行时指标。
func NewRecorder() *Recorder {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Recorder{
		registry: reg,
		evaluations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "evaluations_total",
				Help:      "按合约与方向统计的评估次数",
			},
			[]string{"instrument", "action"},
		),
		errorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_total",
				Help:      "按阶段统计的错误次数",
			},
			[]string{"instrument", "stage"},
		),
		score: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "signal_score",
				Help:      "最近一次汇聚分数",
			},
			[]string{"instrument"},
		),
		latency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "evaluation_duration_seconds",
				Help:      "单次评估耗时（含行情拉取）",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"instrument"},
		),
		upstream: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "exchange",
				Name:      "requests_total",
				Help:      "交易所请求次数",
			},
			[]string{"operation", "status"},
		),
		cacheHits: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "cache",
				Name:      "hits",
				Help:      "缓存累计命中次数",
			},
			[]string{"cache"},
		),
		cacheMisses: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "cache",
				Name:      "misses",
				Help:      "缓存累计未命中次数",
			},
			[]string{"cache"},
		),
		cacheHitRatio: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "cache",
				Name:      "hit_ratio",
				Help:      "缓存命中率（0-1）",
			},
			[]string{"cache"},
		),
		cacheEntries: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "cache",
				Name:      "entries",
				Help:      "缓存当前条目数",
			},
			[]string{"cache"},
		),
	}
}

// ObserveEvaluation 记录一次成功评估。
func (r *Recorder) ObserveEvaluation(instrument, action string, score int, elapsed time.Duration) {
	if r == nil {
		return
	}
	r.evaluations.WithLabelValues(instrument, action).Inc()
	r.score.WithLabelValues(instrument).Set(float64(score))
	r.latency.WithLabelValues(instrument).Observe(elapsed.Seconds())
}

// RecordError 记录某一阶段的失败。
func (r *Recorder) RecordError(instrument, stage string) {
	if r == nil {
		return
	}
	r.errorsTotal.WithLabelValues(instrument, stage).Inc()
}

// ObserveRequest 记录交易所请求结果。
func (r *Recorder) ObserveRequest(operation string, err error) {
	if r == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	r.upstream.WithLabelValues(operation, status).Inc()
}

// ObserveCache 同步缓存统计快照。
func (r *Recorder) ObserveCache(name string, stats cache.Stats) {
	if r == nil {
		return
	}
	r.cacheHits.WithLabelValues(name).Set(float64(stats.Hits))
	r.cacheMisses.WithLabelValues(name).Set(float64(stats.Misses))
	r.cacheEntries.WithLabelValues(name).Set(float64(stats.Entries))
	r.cacheHitRatio.WithLabelValues(name).Set(stats.HitRatePct / 100)
}

// Registry 返回底层 registry。
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// Handler 返回 /metrics 处理器。
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

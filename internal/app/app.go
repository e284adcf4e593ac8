package app

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"convergence-engine/internal/cache"
	"convergence-engine/internal/config"
	"convergence-engine/internal/engine"
	"convergence-engine/internal/exchange"
	"convergence-engine/internal/history"
	"convergence-engine/internal/journal"
	"convergence-engine/internal/narrator"
	"convergence-engine/internal/store"
	"convergence-engine/internal/structure"
	"convergence-engine/internal/telemetry"
)

// App 聚合核心依赖并驱动系统生命周期。
type App struct {
	cfg    *config.Config
	logger *zap.Logger
	store  *store.Store
}

// New 创建 App 实例。
func New(cfg *config.Config, logger *zap.Logger, store *store.Store) *App {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &App{
		cfg:    cfg,
		logger: logger,
		store:  store,
	}
}

// Run 装配各组件、注册定时任务并阻塞到 ctx 结束。
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("信号汇聚引擎已初始化",
		zap.String("environment", a.cfg.App.Environment),
		zap.String("exchange", a.cfg.Exchange.Name),
		zap.Int("instruments", len(a.cfg.Instruments)),
		zap.Bool("structure", a.cfg.Structure.Enabled),
		zap.Bool("narrator", a.cfg.OpenAI.Enabled()),
	)

	recorder := telemetry.NewRecorder()

	orch, err := newOrchestrator(ctx, a.cfg, a.logger, a.store, recorder)
	if err != nil {
		return err
	}

	if a.cfg.Monitor.Enabled {
		if err = startMonitorServer(ctx, orch.journal, recorder, a.cfg.Monitor.Addr, a.logger); err != nil {
			return err
		}
	}

	sched := newScheduler(ctx, a.logger)
	if err = sched.registerAll(a.cfg.Scheduler, orch); err != nil {
		return err
	}

	if err = orch.SampleAll(ctx); err != nil {
		a.logger.Warn("首次历史采样失败", zap.Error(err))
	}
	if err = orch.EvaluateAll(ctx); err != nil {
		a.logger.Error("首次评估失败", zap.Error(err))
	}

	sched.start()
	<-ctx.Done()
	sched.stop()

	if err := ctx.Err(); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("系统异常退出: %w", err)
	}
	a.logger.Info("系统收到退出信号，正在停止")
	return nil
}

// RunOnce 执行一轮采样、评估与信号跟踪后返回，不启动调度器与监控服务。
func (a *App) RunOnce(ctx context.Context) error {
	orch, err := newOrchestrator(ctx, a.cfg, a.logger, a.store, telemetry.NewRecorder())
	if err != nil {
		return err
	}
	if err = orch.SampleAll(ctx); err != nil {
		a.logger.Warn("历史采样失败", zap.Error(err))
	}
	if err = orch.ResolveAll(ctx); err != nil {
		a.logger.Warn("信号跟踪失败", zap.Error(err))
	}
	return orch.EvaluateAll(ctx)
}

func newOrchestrator(ctx context.Context, cfg *config.Config, logger *zap.Logger, st *store.Store, recorder *telemetry.Recorder) (*orchestrator, error) {
	params, err := engineParams(cfg)
	if err != nil {
		return nil, err
	}
	opts, err := evaluateOptions(cfg)
	if err != nil {
		return nil, fmt.Errorf("解析结构周期失败: %w", err)
	}
	req, err := snapshotRequest(cfg, opts, params.Metrics.Interval)
	if err != nil {
		return nil, fmt.Errorf("解析行情周期失败: %w", err)
	}

	client, err := exchange.NewClient(cfg.Exchange, logger, exchange.WithObserver(recorder))
	if err != nil {
		return nil, fmt.Errorf("初始化行情客户端失败: %w", err)
	}
	marketSvc := exchange.NewMarketDataService(client, cacheTTLs(cfg.Cache), logger)

	hist := history.NewStore(historyOptions(cfg.History), logger)
	eng := engine.New(params, cache.New[structure.Analysis](), hist, logger)

	jrnl, err := journal.New(ctx, st, logger, journal.WithExpiry(cfg.Signal.Expiry))
	if err != nil {
		return nil, fmt.Errorf("初始化信号日志失败: %w", err)
	}

	var narr signalNarrator
	if cfg.OpenAI.Enabled() {
		nc, err := narrator.NewClient(cfg.OpenAI, logger)
		if err != nil {
			return nil, fmt.Errorf("初始化解读客户端失败: %w", err)
		}
		narr = nc
	}

	return &orchestrator{
		instruments:     instruments(cfg.Instruments),
		market:          marketSvc,
		engine:          eng,
		journal:         jrnl,
		narrator:        narr,
		recorder:        recorder,
		logger:          logger,
		request:         req,
		options:         opts,
		concurrency:     cfg.Scheduler.Concurrency,
		jobTimeout:      cfg.Scheduler.JobTimeout,
		metricsInterval: params.Metrics.Interval,
	}, nil
}

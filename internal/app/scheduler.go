package app

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"convergence-engine/internal/config"
)

// scheduler 以秒级 cron 表达式驱动各定时任务，同一任务不会重叠执行。
type scheduler struct {
	ctx    context.Context
	cron   *cron.Cron
	logger *zap.Logger
}

func newScheduler(ctx context.Context, logger *zap.Logger) *scheduler {
	cl := cronLogger{logger: logger.Sugar()}
	return &scheduler{
		ctx: ctx,
		cron: cron.New(
			cron.WithSeconds(),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		logger: logger,
	}
}

func (s *scheduler) registerAll(cfg config.SchedulerConfig, orch *orchestrator) error {
	jobs := []struct {
		name string
		spec string
		run  func(context.Context) error
	}{
		{"evaluate", cfg.EvaluateSpec, orch.EvaluateAll},
		{"sample", cfg.SampleSpec, orch.SampleAll},
		{"resolve", cfg.ResolveSpec, orch.ResolveAll},
		{"cleanup", cfg.CleanupSpec, func(context.Context) error {
			orch.Cleanup()
			return nil
		}},
	}

	for _, job := range jobs {
		if err := s.register(job.name, job.spec, job.run); err != nil {
			return err
		}
	}
	return nil
}

func (s *scheduler) register(name, spec string, run func(context.Context) error) error {
	if spec == "" {
		s.logger.Info("定时任务未配置，跳过", zap.String("job", name))
		return nil
	}
	_, err := s.cron.AddFunc(spec, func() {
		if err := run(s.ctx); err != nil {
			s.logger.Error("定时任务执行失败", zap.String("job", name), zap.Error(err))
		}
	})
	if err != nil {
		return fmt.Errorf("注册定时任务 %s 失败: %w", name, err)
	}
	s.logger.Info("已注册定时任务", zap.String("job", name), zap.String("spec", spec))
	return nil
}

func (s *scheduler) start() {
	s.cron.Start()
	s.logger.Info("调度器已启动", zap.Int("jobs", len(s.cron.Entries())))
}

// stop 等待正在执行的任务结束。
func (s *scheduler) stop() {
	<-s.cron.Stop().Done()
	s.logger.Info("调度器已停止")
}

// cronLogger 把 cron 的日志接口转接到 zap。
type cronLogger struct {
	logger *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Errorw(msg, append(keysAndValues, "error", err)...)
}

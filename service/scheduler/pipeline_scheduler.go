/**
 * @module PipelineScheduler
 * @description 流水线调度器，按Cron表达式定时运行分析流水线，并为手动触发提供同样的互斥保护
 * @architecture 基于 robfig/cron 的调度器模式，运行前获取分布式锁
 * @documentReference DESIGN.md
 * @stateFlow 定时触发/手动触发 -> 获取锁 -> 执行流水线 -> 释放锁
 * @rules 多实例部署时同一时刻只有一个实例在运行；锁被占用时定时任务直接跳过
 * @dependencies github.com/robfig/cron/v3, service/distributed_lock
 * @refs service/init.go, api/controllers/pipeline_controller.go
 */

package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"insight-service/service/distributed_lock"
	"insight-service/service/models"
	"insight-service/service/pipeline"

	"github.com/robfig/cron/v3"
)

const lockKey = "pipeline:run"

// Runner 流水线运行
type Runner interface {
	Run(ctx context.Context, trigger string) (*pipeline.Result, error)
}

// Options 调度选项
type Options struct {
	CronExpr        string        // 六段式（含秒），为空则不启用定时运行
	LockTTL         time.Duration // 锁过期时间
	RefreshInterval time.Duration // 锁续期间隔
	RunTimeout      time.Duration // 定时运行的超时时间
}

// PipelineScheduler 流水线调度器
type PipelineScheduler struct {
	runner   Runner
	executor *distributed_lock.LockExecutor
	opts     Options
	cron     *cron.Cron
	entryID  cron.EntryID
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// NewPipelineScheduler 创建调度器，lock 为 nil 时使用进程内锁
func NewPipelineScheduler(runner Runner, lock distributed_lock.DistributedLock, opts Options) (*PipelineScheduler, error) {
	if lock == nil {
		lock = distributed_lock.NewLocalLock()
	}
	if opts.LockTTL <= 0 {
		opts.LockTTL = 2 * time.Minute
	}
	if opts.RefreshInterval <= 0 || opts.RefreshInterval >= opts.LockTTL {
		opts.RefreshInterval = opts.LockTTL / 3
	}
	if opts.RunTimeout <= 0 {
		opts.RunTimeout = 30 * time.Minute
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &PipelineScheduler{
		runner:   runner,
		executor: distributed_lock.NewLockExecutor(lock),
		opts:     opts,
		cron:     cron.New(cron.WithSeconds()),
		ctx:      ctx,
		cancel:   cancel,
	}

	if opts.CronExpr != "" {
		id, err := s.cron.AddFunc(opts.CronExpr, s.runScheduled)
		if err != nil {
			cancel()
			return nil, fmt.Errorf("添加Cron任务失败: %w", err)
		}
		s.entryID = id
	}
	return s, nil
}

// Start 启动调度器
func (s *PipelineScheduler) Start() {
	if s.opts.CronExpr == "" {
		slog.Info("未配置流水线定时运行")
		return
	}
	s.cron.Start()
	slog.Info("流水线调度器启动完成", "cron", s.opts.CronExpr, "next_run", s.NextRun())
}

// Stop 停止调度器并等待正在执行的定时运行结束
func (s *PipelineScheduler) Stop() {
	s.cancel()
	<-s.cron.Stop().Done()
	s.wg.Wait()
	slog.Info("流水线调度器已停止")
}

// NextRun 下次定时运行时间，未启用时为零值
func (s *PipelineScheduler) NextRun() time.Time {
	if s.entryID == 0 {
		return time.Time{}
	}
	return s.cron.Entry(s.entryID).Next
}

// Trigger 在锁保护下运行一次流水线
// 锁被其他实例持有时返回 pipeline.ErrRunInProgress
func (s *PipelineScheduler) Trigger(ctx context.Context, trigger string) (*pipeline.Result, error) {
	var result *pipeline.Result
	err := s.executor.ExecuteWithLockAndRefresh(ctx, lockKey, s.opts.LockTTL, s.opts.RefreshInterval, func() error {
		var runErr error
		result, runErr = s.runner.Run(ctx, trigger)
		return runErr
	})
	if errors.Is(err, distributed_lock.ErrLockHeld) {
		return nil, pipeline.ErrRunInProgress
	}
	return result, err
}

func (s *PipelineScheduler) runScheduled() {
	s.wg.Add(1)
	defer s.wg.Done()

	ctx, cancel := context.WithTimeout(s.ctx, s.opts.RunTimeout)
	defer cancel()

	result, err := s.Trigger(ctx, models.TriggerCron)
	switch {
	case errors.Is(err, pipeline.ErrRunInProgress):
		slog.Info("已有流水线在运行，跳过本次定时运行")
	case err != nil:
		slog.Error("定时运行失败", "stage", pipeline.FailedStage(err), "error", err)
	default:
		slog.Info("定时运行完成", "run_id", result.Run.ID, "customers", result.Run.Customers)
	}
}

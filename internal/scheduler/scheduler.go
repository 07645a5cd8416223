// Package scheduler 定时任务调度
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/trifle-labs/clawdice-frontend-sub000/internal/metrics"
	"github.com/trifle-labs/clawdice-frontend-sub000/pkg/logger"
)

// Job 定时任务
type Job interface {
	Name() string
	Timeout() time.Duration
	Execute(ctx context.Context) error
}

// JobConfig 任务配置
type JobConfig struct {
	Cron    string
	Enabled bool
}

// FuncJob 函数适配为 Job
type FuncJob struct {
	JobName    string
	JobTimeout time.Duration
	Fn         func(ctx context.Context) error
}

func (j *FuncJob) Name() string { return j.JobName }

func (j *FuncJob) Timeout() time.Duration {
	if j.JobTimeout <= 0 {
		return time.Minute
	}
	return j.JobTimeout
}

func (j *FuncJob) Execute(ctx context.Context) error { return j.Fn(ctx) }

// Scheduler 任务调度器, 同名任务上一次未结束时跳过本次
type Scheduler struct {
	cron    *cron.Cron
	jobs    map[string]Job
	running map[string]bool
	mu      sync.Mutex
	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc
}

// New 创建调度器, 支持 "@every 5m" 与标准五段表达式
func New() *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron:    cron.New(),
		jobs:    make(map[string]Job),
		running: make(map[string]bool),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// RegisterJob 注册任务
func (s *Scheduler) RegisterJob(job Job, config JobConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[job.Name()]; exists {
		return fmt.Errorf("job %s already registered", job.Name())
	}
	s.jobs[job.Name()] = job

	if !config.Enabled {
		logger.Info("job registered but disabled", zap.String("job", job.Name()))
		return nil
	}
	if _, err := s.cron.AddFunc(config.Cron, func() { s.executeJob(job) }); err != nil {
		delete(s.jobs, job.Name())
		return fmt.Errorf("failed to add cron job: %w", err)
	}
	logger.Info("job registered", zap.String("job", job.Name()), zap.String("cron", config.Cron))
	return nil
}

// Start 启动调度器
func (s *Scheduler) Start() {
	s.cron.Start()
	logger.Info("scheduler started")
}

// Stop 停止调度并等待执行中的任务结束
func (s *Scheduler) Stop() {
	s.cancel()
	<-s.cron.Stop().Done()
	s.wg.Wait()
	logger.Info("scheduler stopped")
}

// TriggerJob 手动触发任务
func (s *Scheduler) TriggerJob(name string) error {
	s.mu.Lock()
	job, exists := s.jobs[name]
	s.mu.Unlock()
	if !exists {
		return fmt.Errorf("job %s not found", name)
	}
	go s.executeJob(job)
	return nil
}

func (s *Scheduler) executeJob(job Job) {
	name := job.Name()

	s.mu.Lock()
	if s.running[name] || s.ctx.Err() != nil {
		s.mu.Unlock()
		logger.Debug("job skipped", zap.String("job", name))
		metrics.RecordJob(name, "skipped", 0)
		return
	}
	s.running[name] = true
	s.wg.Add(1)
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.running, name)
		s.mu.Unlock()
		s.wg.Done()
	}()

	ctx, cancel := context.WithTimeout(s.ctx, job.Timeout())
	defer cancel()

	start := time.Now()
	err := job.Execute(ctx)
	elapsed := time.Since(start)

	if err != nil {
		metrics.RecordJob(name, "failed", elapsed.Seconds())
		logger.Warn("job failed", zap.String("job", name), zap.Duration("duration", elapsed), zap.Error(err))
		return
	}
	metrics.RecordJob(name, "success", elapsed.Seconds())
	logger.Debug("job completed", zap.String("job", name), zap.Duration("duration", elapsed))
}

// Package pool 管理按名称标识的后台任务。
package pool

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"expressmail/backend/internal/monitoring"
)

var (
	// ErrPoolFull 运行中的任务已达上限
	ErrPoolFull = errors.New("supervisor is at capacity")
	// ErrDuplicateTask 同名任务仍在运行
	ErrDuplicateTask = errors.New("task is already running")
	// ErrStopped 监督器已停止
	ErrStopped = errors.New("supervisor is stopped")
)

// Task 后台任务，ctx 在监督器停止时取消
type Task func(ctx context.Context)

// TaskInfo 运行中任务的快照
type TaskInfo struct {
	Name      string    `json:"name"`
	StartedAt time.Time `json:"startedAt"`
}

// Supervisor 有上限的任务集合
//
// 每个任务一个协程，名称唯一（邮箱地址），可查询当前运行的任务。
// 达到上限时 Spawn 立即失败，调用方据此施加背压。
type Supervisor struct {
	ctx    context.Context
	cancel context.CancelFunc
	sem    *semaphore.Weighted
	max    int

	mu      sync.Mutex
	tasks   map[string]time.Time
	stopped bool
	wg      sync.WaitGroup

	logger  *zap.Logger
	metrics *monitoring.Metrics
}

// NewSupervisor 创建监督器
//
// 参数:
//   - ctx: 父上下文，取消后所有任务收到取消信号
//   - maxActive: 同时运行的任务上限
func NewSupervisor(ctx context.Context, maxActive int, logger *zap.Logger, metrics *monitoring.Metrics) *Supervisor {
	if maxActive <= 0 {
		maxActive = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(ctx)
	return &Supervisor{
		ctx:     ctx,
		cancel:  cancel,
		sem:     semaphore.NewWeighted(int64(maxActive)),
		max:     maxActive,
		tasks:   make(map[string]time.Time),
		logger:  logger,
		metrics: metrics,
	}
}

// Spawn 启动一个命名任务
func (s *Supervisor) Spawn(name string, task Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped || s.ctx.Err() != nil {
		return ErrStopped
	}
	if _, ok := s.tasks[name]; ok {
		return ErrDuplicateTask
	}
	if !s.sem.TryAcquire(1) {
		s.metrics.RecordWatcherRejected()
		return ErrPoolFull
	}

	s.tasks[name] = time.Now()
	s.wg.Add(1)
	go s.run(name, task)
	return nil
}

func (s *Supervisor) run(name string, task Task) {
	defer func() {
		s.mu.Lock()
		delete(s.tasks, name)
		s.mu.Unlock()
		s.sem.Release(1)
		s.wg.Done()
	}()

	// 捕获 panic，单个任务失败不影响进程
	defer func() {
		if r := recover(); r != nil {
			s.metrics.RecordPanic()
			s.logger.Error("task panicked",
				zap.String("task", name),
				zap.Any("panic", r),
				zap.Stack("stack"),
			)
		}
	}()

	task(s.ctx)
}

// Active 返回运行中的任务数量
func (s *Supervisor) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

// Capacity 返回任务上限
func (s *Supervisor) Capacity() int {
	return s.max
}

// Running 检查命名任务是否在运行
func (s *Supervisor) Running(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.tasks[name]
	return ok
}

// Tasks 返回运行中任务的快照（按启动时间排序）
func (s *Supervisor) Tasks() []TaskInfo {
	s.mu.Lock()
	infos := make([]TaskInfo, 0, len(s.tasks))
	for name, started := range s.tasks {
		infos = append(infos, TaskInfo{Name: name, StartedAt: started})
	}
	s.mu.Unlock()

	sort.Slice(infos, func(i, j int) bool {
		if infos[i].StartedAt.Equal(infos[j].StartedAt) {
			return infos[i].Name < infos[j].Name
		}
		return infos[i].StartedAt.Before(infos[j].StartedAt)
	})
	return infos
}

// Wait 等待所有任务结束
func (s *Supervisor) Wait() {
	s.wg.Wait()
}

// Stop 拒绝新任务，取消运行中的任务并等待其返回
func (s *Supervisor) Stop() {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()
}

package health

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/heptiolabs/healthcheck"
	"go.uber.org/zap"
)

// Pinger 可探活的依赖（存储）
type Pinger interface {
	Ping(ctx context.Context) error
}

// WatcherPool 轮询任务池的容量视图
type WatcherPool interface {
	Active() int
	Capacity() int
}

// 探活超时
const checkTimeout = 2 * time.Second

// HealthChecker 健康检查器
type HealthChecker struct {
	health healthcheck.Handler
	store  Pinger
	pool   WatcherPool
	logger *zap.Logger
}

// NewHealthChecker 创建健康检查器
func NewHealthChecker(store Pinger, pool WatcherPool, logger *zap.Logger) *HealthChecker {
	if logger == nil {
		logger = zap.NewNop()
	}
	hc := &HealthChecker{
		health: healthcheck.NewHandler(),
		store:  store,
		pool:   pool,
		logger: logger,
	}

	// 添加健康检查
	hc.addChecks()

	return hc
}

// addChecks 添加健康检查
func (hc *HealthChecker) addChecks() {
	// 存储连接检查：存储不可用时服务不可用
	hc.health.AddReadinessCheck("store", StoreCheck(hc.store))

	// 进程内 goroutine 数量检查
	hc.health.AddLivenessCheck("goroutines", healthcheck.GoroutineCountCheck(10000))

	// 轮询任务池未满
	if hc.pool != nil {
		hc.health.AddReadinessCheck("watchers", PoolCheck(hc.pool))
	}
}

// Handler 返回健康检查处理器（/live 与 /ready）
func (hc *HealthChecker) Handler() http.Handler {
	return hc.health
}

// CheckHealth 执行健康检查，返回各项状态
func (hc *HealthChecker) CheckHealth() (map[string]string, bool) {
	results := make(map[string]string)
	healthy := true

	// 检查存储
	if err := StoreCheck(hc.store)(); err != nil {
		hc.logger.Warn("store health check failed", zap.Error(err))
		results["store"] = fmt.Sprintf("ERROR: %v", err)
		healthy = false
	} else {
		results["store"] = "OK"
	}

	// 检查轮询任务池
	if hc.pool != nil {
		results["watchers"] = fmt.Sprintf("%d/%d", hc.pool.Active(), hc.pool.Capacity())
	}

	results["timestamp"] = time.Now().UTC().Format(time.RFC3339)

	return results, healthy
}

// StoreCheck 存储探活检查
func StoreCheck(store Pinger) healthcheck.Check {
	return func() error {
		ctx, cancel := context.WithTimeout(context.Background(), checkTimeout)
		defer cancel()

		return store.Ping(ctx)
	}
}

// PoolCheck 轮询任务池容量检查
func PoolCheck(pool WatcherPool) healthcheck.Check {
	return func() error {
		if pool.Capacity() > 0 && pool.Active() >= pool.Capacity() {
			return fmt.Errorf("watcher pool saturated: %d/%d", pool.Active(), pool.Capacity())
		}
		return nil
	}
}

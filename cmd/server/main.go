package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"expressmail/backend/internal/bot"
	"expressmail/backend/internal/config"
	"expressmail/backend/internal/geo"
	"expressmail/backend/internal/health"
	"expressmail/backend/internal/logger"
	"expressmail/backend/internal/middleware"
	"expressmail/backend/internal/monitoring"
	"expressmail/backend/internal/notify"
	"expressmail/backend/internal/pool"
	"expressmail/backend/internal/provider"
	"expressmail/backend/internal/service"
	"expressmail/backend/internal/storage"
	"expressmail/backend/internal/storage/memory"
	redisstore "expressmail/backend/internal/storage/redis"
	httptransport "expressmail/backend/internal/transport/http"
	"expressmail/backend/internal/watcher"
)

// 服务版本
const version = "1.0.0"

// 后台维护任务间隔
const (
	statsInterval   = 15 * time.Second
	janitorInterval = time.Minute
	cleanupInterval = 10 * time.Minute
	shutdownTimeout = 10 * time.Second
)

// main 启动 HTTP API、Telegram webhook 与邮箱监视任务。
func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	// 设置 Gin 模式（基于开发环境标志）
	if !cfg.Log.Development {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	// 初始化日志系统
	log, err := logger.NewLogger(logger.FromConfig(cfg.Log))
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	defer func() { _ = log.Sync() }()

	log.Info("starting expressmail server",
		zap.String("version", version),
		zap.String("log_level", cfg.Log.Level),
		zap.Bool("development", cfg.Log.Development),
		zap.String("storage", cfg.Storage.Driver),
	)

	// 信号处理
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 初始化存储层
	kv, redisClient, err := initializeStorage(ctx, cfg, log)
	if err != nil {
		log.Fatal("failed to initialize storage", zap.Error(err))
	}
	defer func() {
		if err := kv.Close(); err != nil {
			log.Warn("storage close warning", zap.Error(err))
		}
	}()

	// 初始化监控系统
	metrics := monitoring.NewMetrics()

	// 上游与通知通道
	mailProvider := provider.New(cfg.Provider.BaseURL, cfg.Provider.Timeout)
	telegram := notify.NewTelegram(cfg.Telegram.APIBase, cfg.Telegram.BotToken, cfg.Provider.Timeout)
	if cfg.Telegram.BotToken == "" {
		log.Warn("telegram bot token is not set, notifications are disabled")
	}
	notifier := notify.NewNotifier(telegram, cfg.Telegram.AlertChatID, log, metrics)

	// 初始化服务层
	mailboxStore := storage.NewMailboxStore(kv)
	entitlements := service.NewEntitlementService(kv, cfg.Quota.FreeDailyLimit, log, metrics)
	supervisor := pool.NewSupervisor(ctx, cfg.Watcher.MaxActive, log, metrics)
	mailWatcher := watcher.New(mailProvider, mailboxStore, entitlements, notifier, watcher.Config{
		PollInterval: cfg.Watcher.PollInterval,
		Deadline:     cfg.Watcher.Deadline,
		DeleteAfter:  cfg.Notify.DeleteAfter,
	}, log, metrics)

	mailboxes := service.NewMailboxService(service.MailboxDeps{
		Provider:     mailProvider,
		Store:        mailboxStore,
		Entitlements: entitlements,
		Watcher:      mailWatcher,
		Spawner:      supervisor,
		Notifier:     notifier,
		TTL:          cfg.Mailbox.TTL,
		Logger:       log,
		Metrics:      metrics,
	})

	geoClient := geo.New(cfg.Geo.BaseURL, log)
	pricing := service.NewPricingService(kv, geoClient)
	payments := service.NewPaymentService(cfg.Payment.WebhookSecret, entitlements, log)
	dispatcher := bot.NewDispatcher(telegram, mailboxes, entitlements, pricing, log)

	// 初始化健康检查
	healthChecker := health.NewHealthChecker(kv, supervisor, log)
	createLimiter := middleware.NewIPRateLimiter(cfg.RateLimit.CreatePerMinute)

	// 创建 HTTP 服务器
	httpAddr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	router := httptransport.NewRouter(httptransport.RouterDependencies{
		Config:        cfg,
		Mailboxes:     mailboxes,
		Entitlements:  entitlements,
		Pricing:       pricing,
		PricingAdmin:  pricing,
		Payments:      payments,
		Updates:       dispatcher,
		Watchers:      supervisor,
		Alerter:       notifier,
		Health:        healthChecker,
		Metrics:       metrics,
		CreateLimiter: createLimiter,
		Logger:        log,
	})
	httpServer := httptransport.NewServer(httpAddr, router)

	group, groupCtx := errgroup.WithContext(ctx)

	// HTTP 服务器 goroutine
	group.Go(func() error {
		log.Info("starting HTTP server", zap.String("address", httpAddr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("HTTP server error", zap.Error(err))
			return err
		}
		return nil
	})

	// 缓存与限流器清理
	geoClient.StartCleanup(groupCtx)
	createLimiter.StartCleanup(groupCtx, cleanupInterval)

	// 系统指标 goroutine
	group.Go(func() error {
		started := time.Now()
		ticker := time.NewTicker(statsInterval)
		defer ticker.Stop()

		for {
			select {
			case <-groupCtx.Done():
				return nil
			case <-ticker.C:
				metrics.UpdateSystemUptime(time.Since(started))
				if redisClient != nil {
					stats := redisClient.PoolStats()
					metrics.UpdateRedisConnections(int(stats.TotalConns))
				}
			}
		}
	})

	// 优雅关闭 goroutine
	group.Go(func() error {
		<-groupCtx.Done()
		log.Info("shutdown signal received, gracefully shutting down...")

		// 关闭 HTTP 服务器
		if err := httptransport.Shutdown(httpServer, shutdownTimeout); err != nil {
			log.Error("HTTP server shutdown error", zap.Error(err))
		}

		// 停止监视任务：未完成的任务放弃执行，邮箱由 TTL 回收
		supervisor.Stop()
		notifier.Close()

		log.Info("servers stopped", zap.Int("watchers_left", supervisor.Active()))
		return nil
	})

	// 等待所有 goroutine 完成
	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatal("server error", zap.Error(err))
	}

	log.Info("server exited cleanly")
}

// initializeStorage 按配置创建共享状态存储
func initializeStorage(ctx context.Context, cfg *config.Config, log *zap.Logger) (storage.KV, *redisstore.Client, error) {
	if cfg.Storage.Driver == "memory" {
		store := memory.NewStore()
		store.StartJanitor(ctx, janitorInterval)
		log.Warn("using memory storage (development mode), state is lost on restart")
		return store, nil, nil
	}

	client, err := redisstore.New(ctx, cfg.Redis, log)
	if err != nil {
		return nil, nil, err
	}
	return client, client, nil
}

package httptransport

import (
	"context"
	"net/http"
	"time"

	gincors "github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"expressmail/backend/internal/config"
	"expressmail/backend/internal/health"
	"expressmail/backend/internal/middleware"
	"expressmail/backend/internal/monitoring"
)

// RouterDependencies 路由器依赖项
type RouterDependencies struct {
	Config        *config.Config
	Mailboxes     MailboxService
	Entitlements  EntitlementService
	Pricing       PricingService
	PricingAdmin  PricingAdmin
	Payments      PaymentService
	Updates       UpdateHandler
	Watchers      WatcherPool
	Alerter       Alerter
	Health        *health.HealthChecker
	Metrics       *monitoring.Metrics
	CreateLimiter *middleware.IPRateLimiter
	Logger        *zap.Logger
}

// NewRouter 创建并返回 Gin 路由实例。
func NewRouter(deps RouterDependencies) *gin.Engine {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()

	// 使用自定义中间件替代默认中间件
	monitor := middleware.NewMonitoringMiddleware(deps.Metrics, logger)
	router.Use(monitor.HTTPMetrics())
	router.Use(monitor.PanicRecovery())
	router.Use(middleware.RequestID())
	router.Use(middleware.RequestLogger(logger))
	router.Use(middleware.SecurityHeaders())

	// CORS 配置
	corsConfig := gincors.Config{
		AllowOrigins:  deps.Config.CORS.AllowedOrigins,
		AllowMethods:  []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", middleware.AdminKeyHeader, middleware.RequestIDHeader},
		ExposeHeaders: []string{"Content-Length", middleware.RequestIDHeader, "Retry-After"},
		MaxAge:        12 * time.Hour,
	}

	// 如果允许所有来源，则需清空凭证支持。
	corsConfig.AllowCredentials = true
	for _, origin := range corsConfig.AllowOrigins {
		if origin == "*" {
			corsConfig.AllowCredentials = false
			break
		}
	}
	router.Use(gincors.New(corsConfig))

	// 创建处理器
	mailboxHandler := NewMailboxHandler(deps.Mailboxes)
	pricingHandler := NewPricingHandler(deps.Pricing)
	webhookHandler := NewWebhookHandler(deps.Payments, deps.Updates, deps.Config.Telegram.WebhookSecret, logger)
	adminHandler := NewAdminHandler(deps.Entitlements, deps.PricingAdmin, deps.Watchers, deps.Alerter, logger)

	// 创建中间件
	limiter := deps.CreateLimiter
	if limiter == nil {
		limiter = middleware.NewIPRateLimiter(deps.Config.RateLimit.CreatePerMinute)
	}
	createRateLimit := middleware.RateLimitByIP(limiter)
	adminAuth := middleware.AdminKey(deps.Config.Admin.Key, logger)
	apiBodyLimit := middleware.BodySizeLimit(middleware.DefaultBodyLimit)
	webhookBodyLimit := middleware.BodySizeLimit(middleware.WebhookBodyLimit)

	// 健康检查
	router.GET("/health", healthSummary(deps.Health))
	if deps.Health != nil {
		probes := gin.WrapH(http.StripPrefix("/health", deps.Health.Handler()))
		router.GET("/health/live", probes)
		router.GET("/health/ready", probes)
	}

	// Prometheus 指标
	router.GET("/metrics", gin.WrapH(deps.Metrics.HTTPHandler()))

	// V1 API
	v1 := router.Group("/v1")
	{
		v1.GET("/domains", mailboxHandler.ListDomains)
		v1.GET("/pricing", pricingHandler.Get)

		// ========== Mailbox Routes ==========
		mailboxRoutes := v1.Group("/mailboxes", adminAuth, apiBodyLimit)
		{
			mailboxRoutes.POST("", createRateLimit, mailboxHandler.Create)
			mailboxRoutes.GET("/:address/messages", mailboxHandler.Inbox)
		}

		// ========== Session Routes ==========
		sessionRoutes := v1.Group("/sessions", adminAuth)
		{
			sessionRoutes.GET("/:identity", mailboxHandler.Current)
			sessionRoutes.POST("/:identity/extend", mailboxHandler.Extend)
			sessionRoutes.DELETE("/:identity", mailboxHandler.Burn)
		}

		// ========== Webhook Routes ==========
		v1.POST("/payments/binance/webhook", webhookBodyLimit, webhookHandler.Payment)
		v1.POST("/telegram/webhook", webhookBodyLimit, webhookHandler.Telegram)

		// ========== Admin Routes ==========
		adminRoutes := v1.Group("/admin", adminAuth, apiBodyLimit)
		{
			adminRoutes.POST("/premium/:identity", adminHandler.GrantPremium)
			adminRoutes.DELETE("/premium/:identity", adminHandler.RevokePremium)
			adminRoutes.GET("/entitlements/:identity", adminHandler.Entitlement)
			adminRoutes.POST("/pricing/:country", adminHandler.SetPricing)
			adminRoutes.GET("/watchers", adminHandler.Watchers)
		}

		// 运维告警
		v1.POST("/bot/alert", adminAuth, apiBodyLimit, adminHandler.Alert)
	}

	return router
}

// healthSummary 汇总健康状态，存储不可用时返回 503
func healthSummary(checker *health.HealthChecker) gin.HandlerFunc {
	return func(c *gin.Context) {
		if checker == nil {
			c.JSON(http.StatusOK, gin.H{"status": "ok"})
			return
		}

		results, healthy := checker.CheckHealth()
		status := http.StatusOK
		state := "ok"
		if !healthy {
			status = http.StatusServiceUnavailable
			state = "degraded"
		}
		c.JSON(status, gin.H{"status": state, "checks": results})
	}
}

// NewServer 创建 HTTP 服务器
func NewServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
}

// Shutdown 优雅关闭 HTTP 服务器
func Shutdown(srv *http.Server, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return srv.Shutdown(ctx)
}

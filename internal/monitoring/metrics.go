package monitoring

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// 轮询结果标签
const (
	PollEmpty = "empty"
	PollFound = "found"
	PollError = "error"
)

// Metrics 监控指标
//
// 所有 Record*/Update* 方法在 nil 接收者上是空操作，
// 组件可以在不接入监控的情况下运行。
type Metrics struct {
	gatherer prometheus.Gatherer

	// HTTP 请求指标
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// 邮箱指标
	MailboxesCreated   prometheus.Counter
	MailboxesDestroyed *prometheus.CounterVec
	MailboxesExtended  prometheus.Counter

	// 监视任务指标
	WatchersActive   prometheus.Gauge
	WatcherOutcomes  *prometheus.CounterVec
	WatcherRejected  prometheus.Counter
	PollsTotal       *prometheus.CounterVec
	DeliveryDuration prometheus.Histogram

	// 通知指标
	NotificationsTotal *prometheus.CounterVec

	// 额度指标
	QuotaDenied       prometheus.Counter
	EntitlementGrants *prometheus.CounterVec

	// 系统指标
	SystemUptime     prometheus.Gauge
	RedisConnections prometheus.Gauge

	// 错误指标
	ErrorsTotal *prometheus.CounterVec
	PanicsTotal prometheus.Counter

	// 限流指标
	RateLimitBlocks *prometheus.CounterVec
}

// NewMetrics 在默认注册表上创建监控指标
func NewMetrics() *Metrics {
	return NewMetricsWithRegistry(prometheus.DefaultRegisterer, prometheus.DefaultGatherer)
}

// NewMetricsWithRegistry 在指定注册表上创建监控指标（测试使用独立注册表）
func NewMetricsWithRegistry(reg prometheus.Registerer, gatherer prometheus.Gatherer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		gatherer: gatherer,

		// HTTP 请求指标
		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "expressmail_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "endpoint", "status_code"},
		),

		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "expressmail_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),

		// 邮箱指标
		MailboxesCreated: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "expressmail_mailboxes_created_total",
				Help: "Total number of disposable mailboxes created",
			},
		),

		MailboxesDestroyed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "expressmail_mailboxes_destroyed_total",
				Help: "Total number of mailboxes destroyed, by reason",
			},
			[]string{"reason"},
		),

		MailboxesExtended: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "expressmail_mailboxes_extended_total",
				Help: "Total number of mailbox TTL extensions",
			},
		),

		// 监视任务指标
		WatchersActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "expressmail_watchers_active",
				Help: "Number of running mailbox watchers",
			},
		),

		WatcherOutcomes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "expressmail_watcher_outcomes_total",
				Help: "Total number of finished watchers, by outcome",
			},
			[]string{"outcome"},
		),

		WatcherRejected: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "expressmail_watchers_rejected_total",
				Help: "Total number of watchers rejected because the supervisor was full",
			},
		),

		PollsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "expressmail_provider_polls_total",
				Help: "Total number of provider polls, by result",
			},
			[]string{"result"},
		),

		DeliveryDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "expressmail_delivery_latency_seconds",
				Help:    "Time from watcher start to first message delivered",
				Buckets: []float64{1, 3, 5, 10, 20, 30, 60, 120, 300},
			},
		),

		// 通知指标
		NotificationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "expressmail_notifications_total",
				Help: "Total number of chat notifications, by result",
			},
			[]string{"result"},
		),

		// 额度指标
		QuotaDenied: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "expressmail_quota_denied_total",
				Help: "Total number of mailbox creations denied by the daily quota",
			},
		),

		EntitlementGrants: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "expressmail_entitlement_changes_total",
				Help: "Total number of unlimited entitlement grants and revocations",
			},
			[]string{"action", "source"},
		),

		// 系统指标
		SystemUptime: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "expressmail_system_uptime_seconds",
				Help: "System uptime in seconds",
			},
		),

		RedisConnections: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "expressmail_redis_connections",
				Help: "Number of open Redis connections",
			},
		),

		// 错误指标
		ErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "expressmail_errors_total",
				Help: "Total number of errors",
			},
			[]string{"type", "component"},
		),

		PanicsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "expressmail_panics_total",
				Help: "Total number of recovered panics",
			},
		),

		// 限流指标
		RateLimitBlocks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "expressmail_rate_limit_blocks_total",
				Help: "Total number of requests blocked by rate limiting",
			},
			[]string{"endpoint"},
		),
	}
}

// RecordHTTPRequest 记录 HTTP 请求
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, duration time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// RecordMailboxCreated 记录邮箱创建
func (m *Metrics) RecordMailboxCreated() {
	if m == nil {
		return
	}
	m.MailboxesCreated.Inc()
}

// RecordMailboxDestroyed 记录邮箱销毁（delivered / burned / timeout）
func (m *Metrics) RecordMailboxDestroyed(reason string) {
	if m == nil {
		return
	}
	m.MailboxesDestroyed.WithLabelValues(reason).Inc()
}

// RecordMailboxExtended 记录邮箱续期
func (m *Metrics) RecordMailboxExtended() {
	if m == nil {
		return
	}
	m.MailboxesExtended.Inc()
}

// WatcherStarted 活跃监视任务 +1
func (m *Metrics) WatcherStarted() {
	if m == nil {
		return
	}
	m.WatchersActive.Inc()
}

// WatcherFinished 活跃监视任务 -1 并记录结果
func (m *Metrics) WatcherFinished(outcome string) {
	if m == nil {
		return
	}
	m.WatchersActive.Dec()
	m.WatcherOutcomes.WithLabelValues(outcome).Inc()
}

// RecordWatcherRejected 记录被拒绝的监视任务
func (m *Metrics) RecordWatcherRejected() {
	if m == nil {
		return
	}
	m.WatcherRejected.Inc()
}

// RecordPoll 记录一次上游轮询
func (m *Metrics) RecordPoll(result string) {
	if m == nil {
		return
	}
	m.PollsTotal.WithLabelValues(result).Inc()
}

// RecordDeliveryLatency 记录从开始监视到收到邮件的耗时
func (m *Metrics) RecordDeliveryLatency(d time.Duration) {
	if m == nil {
		return
	}
	m.DeliveryDuration.Observe(d.Seconds())
}

// RecordNotification 记录通知发送结果
func (m *Metrics) RecordNotification(sent bool) {
	if m == nil {
		return
	}
	result := "sent"
	if !sent {
		result = "failed"
	}
	m.NotificationsTotal.WithLabelValues(result).Inc()
}

// RecordQuotaDenied 记录额度拒绝
func (m *Metrics) RecordQuotaDenied() {
	if m == nil {
		return
	}
	m.QuotaDenied.Inc()
}

// RecordEntitlementChange 记录无限额度授予或撤销
func (m *Metrics) RecordEntitlementChange(action, source string) {
	if m == nil {
		return
	}
	m.EntitlementGrants.WithLabelValues(action, source).Inc()
}

// RecordError 记录错误
func (m *Metrics) RecordError(errorType, component string) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(errorType, component).Inc()
}

// RecordPanic 记录 panic
func (m *Metrics) RecordPanic() {
	if m == nil {
		return
	}
	m.PanicsTotal.Inc()
}

// RecordRateLimitBlock 记录限流阻止
func (m *Metrics) RecordRateLimitBlock(endpoint string) {
	if m == nil {
		return
	}
	m.RateLimitBlocks.WithLabelValues(endpoint).Inc()
}

// UpdateSystemUptime 更新系统运行时间
func (m *Metrics) UpdateSystemUptime(uptime time.Duration) {
	if m == nil {
		return
	}
	m.SystemUptime.Set(uptime.Seconds())
}

// UpdateRedisConnections 更新 Redis 连接数
func (m *Metrics) UpdateRedisConnections(count int) {
	if m == nil {
		return
	}
	m.RedisConnections.Set(float64(count))
}

// HTTPHandler 返回 Prometheus HTTP 处理器
func (m *Metrics) HTTPHandler() http.Handler {
	if m == nil || m.gatherer == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

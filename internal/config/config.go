package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// ServerConfig 定义 HTTP 服务器的监听配置参数
type ServerConfig struct {
	Host string // 监听地址，默认 "0.0.0.0"
	Port int    // 监听端口，默认 8080
}

// MailboxConfig 定义一次性邮箱的生命周期配置
type MailboxConfig struct {
	TTL time.Duration // 凭证与会话在存储中的生存时间，延期时同样使用该值
}

// WatcherConfig 定义新邮件轮询任务的配置
type WatcherConfig struct {
	PollInterval time.Duration // 两次轮询之间的固定间隔，默认 3 秒
	Deadline     time.Duration // 自任务启动起的总超时，默认 5 分钟
	MaxActive    int           // 同时运行的轮询任务上限
}

// QuotaConfig 定义免费额度
type QuotaConfig struct {
	FreeDailyLimit int // 免费用户每日可创建的邮箱数量
}

// ProviderConfig 定义上游临时邮箱服务（mail.tm 兼容）
type ProviderConfig struct {
	BaseURL string
	Timeout time.Duration
}

// TelegramConfig 定义聊天通知通道
type TelegramConfig struct {
	APIBase       string
	BotToken      string
	AlertChatID   string // 运维告警发送到的聊天，留空表示不发送
	WebhookSecret string // 与 setWebhook 的 secret_token 一致，留空表示不校验
}

// NotifyConfig 定义通知行为
type NotifyConfig struct {
	DeleteAfter time.Duration // 验证码通知发送后自动删除的延迟，0 表示不删除
}

// AdminConfig 定义管理接口的访问密钥
type AdminConfig struct {
	Key string
}

// PaymentConfig 定义支付回调签名密钥
type PaymentConfig struct {
	WebhookSecret string
}

// GeoConfig 定义 IP 归属地查询服务
type GeoConfig struct {
	BaseURL string
}

// CORSConfig 定义跨域资源共享 (CORS) 配置
type CORSConfig struct {
	AllowedOrigins []string // 允许的来源列表，"*" 表示允许所有来源
}

// RateLimitConfig 定义创建邮箱接口的限流
type RateLimitConfig struct {
	CreatePerMinute int // 单个 IP 每分钟可调用创建接口的次数
}

// LogConfig 定义日志系统配置
type LogConfig struct {
	Level       string // 日志级别: debug, info, warn, error
	Development bool   // 开发模式: 启用彩色输出和详细堆栈信息
	File        string // 日志文件路径，留空只输出到标准输出
}

// StorageConfig 定义共享状态存储
type StorageConfig struct {
	Driver string // redis（默认）或 memory，memory 仅适用于单实例开发环境
}

// RedisConfig 定义 Redis 服务配置
type RedisConfig struct {
	Address  string // Redis 服务地址，格式 "host:port"，默认 "localhost:6379"
	Password string // Redis 认证密码，留空表示无密码
	DB       int    // Redis 数据库编号，默认 0
}

// Config 是系统核心配置的根结构体，包含所有子系统的配置
type Config struct {
	Server    ServerConfig
	Mailbox   MailboxConfig
	Watcher   WatcherConfig
	Quota     QuotaConfig
	Provider  ProviderConfig
	Telegram  TelegramConfig
	Notify    NotifyConfig
	Admin     AdminConfig
	Payment   PaymentConfig
	Geo       GeoConfig
	CORS      CORSConfig
	RateLimit RateLimitConfig
	Log       LogConfig
	Storage   StorageConfig
	Redis     RedisConfig
}

// Load 从环境变量和 .env 文件加载系统配置
//
// 配置加载优先级（从高到低）：
//  1. 系统环境变量
//  2. .env 文件（如果存在）
//  3. 默认值
//
// 环境变量前缀: EXPRESSMAIL_
// 例如: EXPRESSMAIL_REDIS_ADDRESS, EXPRESSMAIL_ADMIN_KEY
func Load() (*Config, error) {
	loadEnvFile()

	v := viper.New()
	v.SetEnvPrefix("expressmail")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("mailbox.ttl", "1h")
	v.SetDefault("watcher.poll_interval", "3s")
	v.SetDefault("watcher.deadline", "5m")
	v.SetDefault("watcher.max_active", 256)
	v.SetDefault("quota.free_daily_limit", 3)
	v.SetDefault("provider.base_url", "https://api.mail.tm")
	v.SetDefault("provider.timeout", "10s")
	v.SetDefault("telegram.api_base", "https://api.telegram.org")
	v.SetDefault("telegram.bot_token", "")
	v.SetDefault("telegram.alert_chat_id", "")
	v.SetDefault("telegram.webhook_secret", "")
	v.SetDefault("notify.delete_after", "10m")
	v.SetDefault("admin.key", "")
	v.SetDefault("payment.webhook_secret", "")
	v.SetDefault("geo.base_url", "https://ipapi.co")
	v.SetDefault("cors.allowed_origins", "*")
	v.SetDefault("ratelimit.create_per_minute", 10)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)
	v.SetDefault("log.file", "")
	v.SetDefault("storage.driver", "redis")
	v.SetDefault("redis.address", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	mailboxTTL, err := time.ParseDuration(v.GetString("mailbox.ttl"))
	if err != nil || mailboxTTL <= 0 {
		return nil, fmt.Errorf("invalid mailbox.ttl: %q", v.GetString("mailbox.ttl"))
	}

	pollInterval, err := time.ParseDuration(v.GetString("watcher.poll_interval"))
	if err != nil || pollInterval <= 0 {
		return nil, fmt.Errorf("invalid watcher.poll_interval: %q", v.GetString("watcher.poll_interval"))
	}

	deadline, err := time.ParseDuration(v.GetString("watcher.deadline"))
	if err != nil || deadline < pollInterval {
		return nil, fmt.Errorf("invalid watcher.deadline: %q", v.GetString("watcher.deadline"))
	}

	maxActive := v.GetInt("watcher.max_active")
	if maxActive <= 0 {
		maxActive = 256
	}

	freeLimit := v.GetInt("quota.free_daily_limit")
	if freeLimit < 0 {
		return nil, fmt.Errorf("quota.free_daily_limit must not be negative")
	}

	providerTimeout, err := time.ParseDuration(v.GetString("provider.timeout"))
	if err != nil {
		providerTimeout = 10 * time.Second
	}

	deleteAfter, err := time.ParseDuration(v.GetString("notify.delete_after"))
	if err != nil {
		return nil, fmt.Errorf("invalid notify.delete_after: %w", err)
	}

	adminKey := v.GetString("admin.key")

	// 安全检查：管理密钥必须显式配置
	if adminKey == "" {
		return nil, fmt.Errorf("SECURITY ERROR: admin key is not set. Please set EXPRESSMAIL_ADMIN_KEY environment variable")
	}
	if len(adminKey) < 16 {
		return nil, fmt.Errorf("SECURITY ERROR: admin key must be at least 16 characters long")
	}

	corsOrigins := parseList(v.GetString("cors.allowed_origins"))
	if len(corsOrigins) == 0 {
		corsOrigins = []string{"*"}
	}

	driver := strings.ToLower(v.GetString("storage.driver"))
	if driver != "redis" && driver != "memory" {
		return nil, fmt.Errorf("invalid storage.driver: %q", driver)
	}

	createPerMinute := v.GetInt("ratelimit.create_per_minute")
	if createPerMinute <= 0 {
		createPerMinute = 10
	}

	cfg := &Config{
		Server: ServerConfig{
			Host: v.GetString("server.host"),
			Port: v.GetInt("server.port"),
		},
		Mailbox: MailboxConfig{
			TTL: mailboxTTL,
		},
		Watcher: WatcherConfig{
			PollInterval: pollInterval,
			Deadline:     deadline,
			MaxActive:    maxActive,
		},
		Quota: QuotaConfig{
			FreeDailyLimit: freeLimit,
		},
		Provider: ProviderConfig{
			BaseURL: strings.TrimRight(v.GetString("provider.base_url"), "/"),
			Timeout: providerTimeout,
		},
		Telegram: TelegramConfig{
			APIBase:       strings.TrimRight(v.GetString("telegram.api_base"), "/"),
			BotToken:      v.GetString("telegram.bot_token"),
			AlertChatID:   v.GetString("telegram.alert_chat_id"),
			WebhookSecret: v.GetString("telegram.webhook_secret"),
		},
		Notify: NotifyConfig{
			DeleteAfter: deleteAfter,
		},
		Admin: AdminConfig{
			Key: adminKey,
		},
		Payment: PaymentConfig{
			WebhookSecret: v.GetString("payment.webhook_secret"),
		},
		Geo: GeoConfig{
			BaseURL: strings.TrimRight(v.GetString("geo.base_url"), "/"),
		},
		CORS: CORSConfig{
			AllowedOrigins: corsOrigins,
		},
		RateLimit: RateLimitConfig{
			CreatePerMinute: createPerMinute,
		},
		Log: LogConfig{
			Level:       v.GetString("log.level"),
			Development: v.GetBool("log.development"),
			File:        v.GetString("log.file"),
		},
		Storage: StorageConfig{
			Driver: driver,
		},
		Redis: RedisConfig{
			Address:  v.GetString("redis.address"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
	}

	return cfg, nil
}

// parseList 将逗号分隔的字符串解析为字符串切片
//
// 参数:
//   - value: 逗号分隔的字符串，如 "item1,item2,item3"
//
// 返回值:
//   - []string: 解析后的字符串切片，已去除空白字符
func parseList(value string) []string {
	parts := strings.Split(value, ",")
	items := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			items = append(items, trimmed)
		}
	}
	return items
}

// loadEnvFile 尝试加载 .env 文件
//
// 加载顺序：
//  1. 当前目录的 .env
//  2. 父目录的 .env
//
// 文件不存在时静默跳过，已存在的环境变量不会被覆盖。
func loadEnvFile() {
	if err := godotenv.Load(".env"); err == nil {
		return
	}

	parentEnv := filepath.Join("..", ".env")
	if _, err := os.Stat(parentEnv); err == nil {
		_ = godotenv.Load(parentEnv)
	}
}

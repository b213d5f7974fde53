// Package geo 根据客户端 IP 识别国家（ipapi.co 兼容 API）。
package geo

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/netip"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"expressmail/backend/internal/cache"
	"expressmail/backend/internal/domain"
)

// DefaultBaseURL ipapi.co
const DefaultBaseURL = "https://ipapi.co"

const (
	cacheSize = 4096
	cacheTTL  = 6 * time.Hour
)

// Client 国家识别客户端，结果按 IP 缓存
type Client struct {
	baseURL    string
	httpClient *http.Client
	cache      *cache.LocalCache[string]
	logger     *zap.Logger
}

// New 创建客户端
func New(baseURL string, logger *zap.Logger) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout:   5 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		cache:  cache.NewLocalCache[string](cacheSize, cacheTTL),
		logger: logger,
	}
}

// SetHTTPClient 替换 HTTP 客户端
func (c *Client) SetHTTPClient(hc *http.Client) {
	c.httpClient = hc
}

// StartCleanup 启动缓存清理
func (c *Client) StartCleanup(ctx context.Context) {
	c.cache.StartCleanup(ctx, 10*time.Minute)
}

// Country 返回 IP 所在国家代码，任何失败都回退到 domain.DefaultCountry
func (c *Client) Country(ctx context.Context, ip string) string {
	addr, err := netip.ParseAddr(strings.TrimSpace(ip))
	if err != nil || !addr.IsGlobalUnicast() || addr.IsPrivate() {
		return domain.DefaultCountry
	}
	key := addr.String()

	if country, ok := c.cache.Get(key); ok {
		return country
	}

	country, err := c.lookup(ctx, key)
	if err != nil {
		c.logger.Debug("geo lookup failed", zap.String("ip", key), zap.Error(err))
		return domain.DefaultCountry
	}
	c.cache.Set(key, country, 0)
	return country
}

func (c *Client) lookup(ctx context.Context, ip string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/%s/json/", c.baseURL, ip), nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("geo lookup: status %d", resp.StatusCode)
	}

	var body struct {
		CountryCode string `json:"country_code"`
		Error       bool   `json:"error"`
		Reason      string `json:"reason"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("decode geo response: %w", err)
	}
	if body.Error {
		return "", fmt.Errorf("geo lookup: %s", body.Reason)
	}
	return domain.NormalizeCountry(body.CountryCode)
}

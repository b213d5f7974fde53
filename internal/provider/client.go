// Package provider 是上游临时邮箱服务（mail.tm 兼容 API）的客户端。
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"expressmail/backend/internal/domain"
)

// DefaultBaseURL mail.tm 公共 API
const DefaultBaseURL = "https://api.mail.tm"

// maxErrorBody 错误响应最多读取的字节数
const maxErrorBody = 4 << 10

// Client mail.tm 客户端
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// Option 配置客户端
type Option func(*Client)

// WithHTTPClient 替换 HTTP 客户端
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// New 创建客户端，出站请求经过 otelhttp 传输层
func New(baseURL string, timeout time.Duration, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Error 上游返回的非 2xx 响应
type Error struct {
	StatusCode int
	Message    string
}

func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("mail provider: %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("mail provider: %d", e.StatusCode)
}

// IsNotFound 判断错误是否为上游 404
func IsNotFound(err error) bool {
	var perr *Error
	return errors.As(err, &perr) && perr.StatusCode == http.StatusNotFound
}

// collection 是 hydra 分页集合
type collection[T any] struct {
	Members []T `json:"hydra:member"`
}

type wireDomain struct {
	Domain   string `json:"domain"`
	IsActive bool   `json:"isActive"`
}

type wireAddress struct {
	Address string `json:"address"`
	Name    string `json:"name"`
}

type wireMessageRef struct {
	ID        string      `json:"id"`
	From      wireAddress `json:"from"`
	Subject   string      `json:"subject"`
	CreatedAt time.Time   `json:"createdAt"`
}

type wireMessage struct {
	ID        string           `json:"id"`
	From      wireAddress      `json:"from"`
	Subject   string           `json:"subject"`
	Text      domain.Fragments `json:"text"`
	HTML      domain.Fragments `json:"html"`
	CreatedAt time.Time        `json:"createdAt"`
}

type credentials struct {
	Address  string `json:"address"`
	Password string `json:"password"`
}

// Domains 返回可用域名（保持上游顺序）
func (c *Client) Domains(ctx context.Context) ([]string, error) {
	var res collection[wireDomain]
	if err := c.do(ctx, http.MethodGet, "/domains", "", nil, &res); err != nil {
		return nil, err
	}
	domains := make([]string, 0, len(res.Members))
	for _, d := range res.Members {
		if d.Domain == "" {
			continue
		}
		domains = append(domains, d.Domain)
	}
	return domains, nil
}

// CreateAccount 在上游注册邮箱账户
func (c *Client) CreateAccount(ctx context.Context, address, password string) error {
	return c.do(ctx, http.MethodPost, "/accounts", "", credentials{Address: address, Password: password}, nil)
}

// Login 获取邮箱访问凭证
func (c *Client) Login(ctx context.Context, address, password string) (string, error) {
	var res struct {
		Token string `json:"token"`
	}
	if err := c.do(ctx, http.MethodPost, "/token", "", credentials{Address: address, Password: password}, &res); err != nil {
		return "", err
	}
	if res.Token == "" {
		return "", errors.New("mail provider: empty token")
	}
	return res.Token, nil
}

// ListMessages 列出邮箱中的邮件
func (c *Client) ListMessages(ctx context.Context, credential string) ([]domain.MessageRef, error) {
	var res collection[wireMessageRef]
	if err := c.do(ctx, http.MethodGet, "/messages", credential, nil, &res); err != nil {
		return nil, err
	}
	refs := make([]domain.MessageRef, 0, len(res.Members))
	for _, m := range res.Members {
		refs = append(refs, domain.MessageRef{
			ID:        m.ID,
			From:      m.From.Address,
			Subject:   m.Subject,
			CreatedAt: m.CreatedAt,
		})
	}
	return refs, nil
}

// GetMessage 获取完整邮件
func (c *Client) GetMessage(ctx context.Context, credential, id string) (*domain.Message, error) {
	var m wireMessage
	if err := c.do(ctx, http.MethodGet, "/messages/"+url.PathEscape(id), credential, nil, &m); err != nil {
		return nil, err
	}
	return &domain.Message{
		ID:        m.ID,
		From:      m.From.Address,
		Subject:   m.Subject,
		Text:      m.Text,
		HTML:      m.HTML,
		CreatedAt: m.CreatedAt,
	}, nil
}

func (c *Client) do(ctx context.Context, method, path, credential string, body, result any) error {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/ld+json, application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if credential != "" {
		req.Header.Set("Authorization", "Bearer "+credential)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &Error{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(msg))}
	}

	if result == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

package domain

import (
	"errors"
	"time"
)

var (
	// ErrSessionNotFound 邮箱会话不存在（已过期或已销毁，两者对调用方不可区分）
	ErrSessionNotFound = errors.New("session expired")
	// ErrQuotaExceeded 当日免费额度已用完
	ErrQuotaExceeded = errors.New("limit reached")
	// ErrProviderUnavailable 上游邮件服务不可用
	ErrProviderUnavailable = errors.New("mail provider unavailable")
	// ErrNoDomains 上游邮件服务没有可用域名
	ErrNoDomains = errors.New("no domains available")
	// ErrInvalidIdentity 请求方身份为空或格式无效
	ErrInvalidIdentity = errors.New("invalid identity")
)

// Session 表示一个一次性邮箱会话。
//
// 会话的存在与否完全由 KV 存储决定：凭证键过期或被删除后，
// 会话即视为销毁。
type Session struct {
	Address    string        `json:"address"`
	Credential string        `json:"-"`
	Owner      string        `json:"owner"`
	CreatedAt  time.Time     `json:"createdAt"`
	TTL        time.Duration `json:"ttl"`
}

// ExpiresAt 返回会话的自然过期时间
func (s *Session) ExpiresAt() time.Time {
	return s.CreatedAt.Add(s.TTL)
}

package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	"expressmail/backend/internal/domain"
)

// 逻辑键前缀
const (
	CredentialKeyPrefix = "mailtoken:"
	SessionKeyPrefix    = "user_session:"
)

// CredentialKey 邮箱地址 → 访问凭证
func CredentialKey(address string) string {
	return CredentialKeyPrefix + address
}

// SessionKey 身份 → 当前邮箱地址
func SessionKey(identity string) string {
	return SessionKeyPrefix + identity
}

// MailboxStore 管理邮箱凭证与身份会话两个键空间。
//
// 两类键都带 TTL，由存储负责过期。Delete 的返回值是
// "是否由本次调用销毁"的唯一依据。
type MailboxStore struct {
	kv KV
}

// NewMailboxStore 创建邮箱存储
func NewMailboxStore(kv KV) *MailboxStore {
	return &MailboxStore{kv: kv}
}

// Put 保存邮箱凭证
func (s *MailboxStore) Put(ctx context.Context, address, credential string, ttl time.Duration) error {
	return s.kv.SetWithTTL(ctx, CredentialKey(address), credential, ttl)
}

// Credential 读取邮箱凭证，不存在时返回 domain.ErrSessionNotFound
func (s *MailboxStore) Credential(ctx context.Context, address string) (string, error) {
	credential, err := s.kv.Get(ctx, CredentialKey(address))
	if errors.Is(err, ErrKeyNotFound) {
		return "", domain.ErrSessionNotFound
	}
	if err != nil {
		return "", err
	}
	return credential, nil
}

// Exists 检查邮箱凭证是否仍然存在
func (s *MailboxStore) Exists(ctx context.Context, address string) (bool, error) {
	return s.kv.Exists(ctx, CredentialKey(address))
}

// Refresh 刷新凭证 TTL，邮箱已不存在时返回 false
func (s *MailboxStore) Refresh(ctx context.Context, address string, ttl time.Duration) (bool, error) {
	return s.kv.Expire(ctx, CredentialKey(address), ttl)
}

// Delete 删除凭证，返回是否由本次调用删除
func (s *MailboxStore) Delete(ctx context.Context, address string) (bool, error) {
	n, err := s.kv.Delete(ctx, CredentialKey(address))
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// Remaining 返回凭证剩余的生存时间
func (s *MailboxStore) Remaining(ctx context.Context, address string) (time.Duration, error) {
	ttl, err := s.kv.TTL(ctx, CredentialKey(address))
	if err != nil {
		return 0, err
	}
	if ttl == TTLKeyMissing {
		return 0, domain.ErrSessionNotFound
	}
	return ttl, nil
}

// PutSession 记录身份当前使用的邮箱
func (s *MailboxStore) PutSession(ctx context.Context, identity, address string, ttl time.Duration) error {
	return s.kv.SetWithTTL(ctx, SessionKey(identity), address, ttl)
}

// Session 读取身份当前使用的邮箱地址
func (s *MailboxStore) Session(ctx context.Context, identity string) (string, error) {
	address, err := s.kv.Get(ctx, SessionKey(identity))
	if errors.Is(err, ErrKeyNotFound) {
		return "", domain.ErrSessionNotFound
	}
	if err != nil {
		return "", err
	}
	return address, nil
}

// RefreshSession 刷新会话 TTL
func (s *MailboxStore) RefreshSession(ctx context.Context, identity string, ttl time.Duration) (bool, error) {
	return s.kv.Expire(ctx, SessionKey(identity), ttl)
}

// DeleteSession 仅当会话仍指向 address 时删除，避免误删同一身份的新邮箱
func (s *MailboxStore) DeleteSession(ctx context.Context, identity, address string) (bool, error) {
	return s.kv.DeleteIfValue(ctx, SessionKey(identity), address)
}

// Destroy 删除凭证与会话，返回凭证是否由本次调用删除
func (s *MailboxStore) Destroy(ctx context.Context, identity, address string) (bool, error) {
	removed, err := s.Delete(ctx, address)
	if err != nil {
		return false, err
	}
	if _, err := s.DeleteSession(ctx, identity, address); err != nil {
		return removed, err
	}
	return removed, nil
}

// LiveAddresses 列出仍存在凭证的邮箱地址
func (s *MailboxStore) LiveAddresses(ctx context.Context) ([]string, error) {
	keys, err := s.kv.KeysByPrefix(ctx, CredentialKeyPrefix)
	if err != nil {
		return nil, err
	}
	addresses := make([]string, 0, len(keys))
	for _, key := range keys {
		addresses = append(addresses, strings.TrimPrefix(key, CredentialKeyPrefix))
	}
	return addresses, nil
}

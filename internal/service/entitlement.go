package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"expressmail/backend/internal/domain"
	"expressmail/backend/internal/monitoring"
	"expressmail/backend/internal/storage"
)

const (
	quotaKeyPrefix   = "free_count:"
	premiumKeyPrefix = "premium_user:"
	quotaWindow      = 24 * time.Hour
	dateLayout       = "2006-01-02"
)

// QuotaKey 每日免费计数键，按 UTC 日期隔离
func QuotaKey(identity string, day time.Time) string {
	return fmt.Sprintf("%s%s:%s", quotaKeyPrefix, identity, day.UTC().Format(dateLayout))
}

// PremiumKey 无限额度标记键
func PremiumKey(identity string) string {
	return premiumKeyPrefix + identity
}

// EntitlementService 跟踪每个身份的每日额度和无限额度标记。
//
// 状态全部存放在 KV 存储中，多实例部署时共享同一份计数。
type EntitlementService struct {
	kv      storage.KV
	limit   int
	now     func() time.Time
	logger  *zap.Logger
	metrics *monitoring.Metrics
}

// NewEntitlementService 创建额度服务
func NewEntitlementService(kv storage.KV, dailyLimit int, logger *zap.Logger, metrics *monitoring.Metrics) *EntitlementService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EntitlementService{
		kv:      kv,
		limit:   dailyLimit,
		now:     time.Now,
		logger:  logger,
		metrics: metrics,
	}
}

// SetClock 替换时钟（测试使用）
func (s *EntitlementService) SetClock(now func() time.Time) {
	s.now = now
}

// DailyLimit 返回每日免费额度
func (s *EntitlementService) DailyLimit() int {
	return s.limit
}

// Authorize 判断身份当前是否可以创建邮箱，不产生任何副作用
func (s *EntitlementService) Authorize(ctx context.Context, identity string) (bool, string, error) {
	unlimited, err := s.IsUnlimited(ctx, identity)
	if err != nil {
		return false, "", err
	}
	if unlimited {
		return true, "", nil
	}

	count, err := s.count(ctx, identity)
	if err != nil {
		return false, "", err
	}
	if count >= int64(s.limit) {
		s.metrics.RecordQuotaDenied()
		return false, domain.ErrQuotaExceeded.Error(), nil
	}
	return true, "", nil
}

// RecordUsage 计数一次并在首次计数时设置过期
func (s *EntitlementService) RecordUsage(ctx context.Context, identity string) (int64, error) {
	key := QuotaKey(identity, s.now())

	count, err := s.kv.Incr(ctx, key)
	if err != nil {
		return 0, fmt.Errorf("increment quota: %w", err)
	}
	if _, err := s.kv.ExpireNX(ctx, key, quotaWindow); err != nil {
		return count, fmt.Errorf("expire quota: %w", err)
	}
	return count, nil
}

// Reservation 一次已计数的额度占用，创建失败时通过 Release 退还
type Reservation struct {
	identity string
	key      string
}

// Reserve 原子占用一次额度。
//
// 先 INCR 再比较上限，超出时立即回退并返回 ErrQuotaExceeded，
// 并发请求不会越过每日上限。无限额度身份不计数，返回 nil。
func (s *EntitlementService) Reserve(ctx context.Context, identity string) (*Reservation, error) {
	unlimited, err := s.IsUnlimited(ctx, identity)
	if err != nil {
		return nil, err
	}
	if unlimited {
		return nil, nil
	}

	key := QuotaKey(identity, s.now())
	count, err := s.RecordUsage(ctx, identity)
	if err != nil {
		return nil, err
	}
	if count > int64(s.limit) {
		if _, derr := s.kv.Decr(ctx, key); derr != nil {
			s.logger.Error("roll back quota failed", zap.String("identity", identity), zap.Error(derr))
		}
		s.metrics.RecordQuotaDenied()
		return nil, domain.ErrQuotaExceeded
	}
	return &Reservation{identity: identity, key: key}, nil
}

// Release 退还一次占用，nil 占用直接忽略
func (s *EntitlementService) Release(ctx context.Context, r *Reservation) {
	if r == nil {
		return
	}
	if _, err := s.kv.Decr(ctx, r.key); err != nil {
		s.logger.Error("release quota failed", zap.String("identity", r.identity), zap.Error(err))
	}
}

// GrantUnlimited 授予无限额度（幂等）
func (s *EntitlementService) GrantUnlimited(ctx context.Context, identity, source string) error {
	if err := domain.ValidateIdentity(identity); err != nil {
		return err
	}
	if err := s.kv.Set(ctx, PremiumKey(identity), "1"); err != nil {
		return fmt.Errorf("grant unlimited: %w", err)
	}
	s.metrics.RecordEntitlementChange("grant", source)
	s.logger.Info("unlimited entitlement granted",
		zap.String("identity", identity),
		zap.String("source", source),
	)
	return nil
}

// RevokeUnlimited 撤销无限额度（幂等）
func (s *EntitlementService) RevokeUnlimited(ctx context.Context, identity, source string) error {
	if err := domain.ValidateIdentity(identity); err != nil {
		return err
	}
	if _, err := s.kv.Delete(ctx, PremiumKey(identity)); err != nil {
		return fmt.Errorf("revoke unlimited: %w", err)
	}
	s.metrics.RecordEntitlementChange("revoke", source)
	s.logger.Info("unlimited entitlement revoked",
		zap.String("identity", identity),
		zap.String("source", source),
	)
	return nil
}

// IsUnlimited 检查身份是否持有无限额度
func (s *EntitlementService) IsUnlimited(ctx context.Context, identity string) (bool, error) {
	ok, err := s.kv.Exists(ctx, PremiumKey(identity))
	if err != nil {
		return false, fmt.Errorf("check unlimited: %w", err)
	}
	return ok, nil
}

// Status 返回身份当天的额度快照
func (s *EntitlementService) Status(ctx context.Context, identity string) (*domain.Entitlement, error) {
	unlimited, err := s.IsUnlimited(ctx, identity)
	if err != nil {
		return nil, err
	}
	count, err := s.count(ctx, identity)
	if err != nil {
		return nil, err
	}
	return &domain.Entitlement{
		Identity:  identity,
		Date:      s.now().UTC().Format(dateLayout),
		Count:     count,
		Limit:     s.limit,
		Unlimited: unlimited,
	}, nil
}

func (s *EntitlementService) count(ctx context.Context, identity string) (int64, error) {
	raw, err := s.kv.Get(ctx, QuotaKey(identity, s.now()))
	if errors.Is(err, storage.ErrKeyNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read quota: %w", err)
	}
	count, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse quota %q: %w", raw, err)
	}
	return count, nil
}

package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"expressmail/backend/internal/domain"
	"expressmail/backend/internal/extract"
	"expressmail/backend/internal/monitoring"
	"expressmail/backend/internal/pool"
	"expressmail/backend/internal/storage"
	"expressmail/backend/internal/watcher"
)

// ErrTooManyWatchers 监视任务已满，暂时无法创建邮箱
var ErrTooManyWatchers = errors.New("too many active mailboxes, try again later")

// localPartLength 随机邮箱前缀长度
const localPartLength = 12

// Provider 上游邮件服务
type Provider interface {
	Domains(ctx context.Context) ([]string, error)
	CreateAccount(ctx context.Context, address, password string) error
	Login(ctx context.Context, address, password string) (string, error)
	ListMessages(ctx context.Context, credential string) ([]domain.MessageRef, error)
	GetMessage(ctx context.Context, credential, id string) (*domain.Message, error)
}

// Spawner 后台任务启动器
type Spawner interface {
	Spawn(name string, task pool.Task) error
}

// Notifier 通知发送
type Notifier interface {
	Notify(ctx context.Context, identity, text string) (int64, bool)
}

// MailboxService 封装一次性邮箱的生命周期操作。
type MailboxService struct {
	provider     Provider
	store        *storage.MailboxStore
	entitlements *EntitlementService
	watcher      *watcher.Watcher
	spawner      Spawner
	notifier     Notifier
	ttl          time.Duration
	logger       *zap.Logger
	metrics      *monitoring.Metrics
}

// MailboxDeps 邮箱服务的依赖
type MailboxDeps struct {
	Provider     Provider
	Store        *storage.MailboxStore
	Entitlements *EntitlementService
	Watcher      *watcher.Watcher
	Spawner      Spawner
	Notifier     Notifier
	TTL          time.Duration
	Logger       *zap.Logger
	Metrics      *monitoring.Metrics
}

// NewMailboxService 创建邮箱业务服务。
func NewMailboxService(deps MailboxDeps) *MailboxService {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MailboxService{
		provider:     deps.Provider,
		store:        deps.Store,
		entitlements: deps.Entitlements,
		watcher:      deps.Watcher,
		spawner:      deps.Spawner,
		notifier:     deps.Notifier,
		ttl:          deps.TTL,
		logger:       logger,
		metrics:      deps.Metrics,
	}
}

// Domains 返回上游可用域名
func (s *MailboxService) Domains(ctx context.Context) ([]string, error) {
	domains, err := s.provider.Domains(ctx)
	if err != nil {
		return nil, providerError("list domains", err)
	}
	return domains, nil
}

// Create 为身份创建新的一次性邮箱并启动监视任务。
//
// 额度在开始时原子占用，任何一步失败都会退还，只有监视任务启动成功的创建才计数。
func (s *MailboxService) Create(ctx context.Context, identity string) (session *domain.Session, err error) {
	if err := domain.ValidateIdentity(identity); err != nil {
		return nil, err
	}

	reservation, err := s.entitlements.Reserve(ctx, identity)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			s.entitlements.Release(context.WithoutCancel(ctx), reservation)
		}
	}()

	domains, err := s.Domains(ctx)
	if err != nil {
		return nil, err
	}
	if len(domains) == 0 {
		return nil, domain.ErrNoDomains
	}

	address := fmt.Sprintf("%s@%s", randomLocalPart(), domains[0])
	password := uuid.NewString()

	if err := s.provider.CreateAccount(ctx, address, password); err != nil {
		return nil, providerError("create account", err)
	}
	credential, err := s.provider.Login(ctx, address, password)
	if err != nil {
		return nil, providerError("login", err)
	}

	if err := s.store.Put(ctx, address, credential, s.ttl); err != nil {
		return nil, fmt.Errorf("save credential: %w", err)
	}
	if err := s.store.PutSession(ctx, identity, address, s.ttl); err != nil {
		return nil, fmt.Errorf("save session: %w", err)
	}

	if err := s.spawner.Spawn(address, func(ctx context.Context) {
		s.watcher.Watch(ctx, address, identity)
	}); err != nil {
		s.logger.Warn("watcher rejected, rolling back mailbox",
			zap.String("address", address),
			zap.Error(err),
		)
		if _, derr := s.store.Destroy(ctx, identity, address); derr != nil {
			s.logger.Error("rollback failed", zap.String("address", address), zap.Error(derr))
		}
		if errors.Is(err, pool.ErrPoolFull) {
			return nil, ErrTooManyWatchers
		}
		return nil, fmt.Errorf("start watcher: %w", err)
	}

	s.metrics.RecordMailboxCreated()
	s.logger.Info("mailbox created",
		zap.String("address", address),
		zap.String("identity", identity),
	)

	return &domain.Session{
		Address:    address,
		Credential: credential,
		Owner:      identity,
		CreatedAt:  time.Now().UTC(),
		TTL:        s.ttl,
	}, nil
}

// Inbox 列出邮箱中的全部邮件，并从完整正文逐封提取验证码
func (s *MailboxService) Inbox(ctx context.Context, address string) ([]domain.InboxMessage, error) {
	address, err := domain.NormalizeAddress(address)
	if err != nil {
		return nil, err
	}
	credential, err := s.store.Credential(ctx, address)
	if err != nil {
		return nil, err
	}

	refs, err := s.provider.ListMessages(ctx, credential)
	if err != nil {
		return nil, providerError("list messages", err)
	}

	messages := make([]domain.InboxMessage, 0, len(refs))
	for _, ref := range refs {
		item := domain.InboxMessage{From: ref.From, Subject: ref.Subject, Time: ref.CreatedAt}

		full, err := s.provider.GetMessage(ctx, credential, ref.ID)
		if err != nil {
			s.logger.Warn("fetch message failed",
				zap.String("address", address),
				zap.String("message_id", ref.ID),
				zap.Error(err),
			)
		} else {
			item.Code, _ = extract.ExtractCode(extract.FullText(full.Text, full.HTML))
		}
		messages = append(messages, item)
	}
	return messages, nil
}

// Current 返回身份当前的邮箱
func (s *MailboxService) Current(ctx context.Context, identity string) (*domain.Session, error) {
	address, err := s.store.Session(ctx, identity)
	if err != nil {
		return nil, err
	}
	remaining, err := s.store.Remaining(ctx, address)
	if err != nil {
		return nil, err
	}
	return &domain.Session{
		Address:   address,
		Owner:     identity,
		CreatedAt: time.Now().UTC(),
		TTL:       remaining,
	}, nil
}

// Extend 刷新身份当前邮箱的凭证与会话 TTL
func (s *MailboxService) Extend(ctx context.Context, identity string) (*domain.Session, error) {
	address, err := s.store.Session(ctx, identity)
	if err != nil {
		return nil, err
	}

	refreshed, err := s.store.Refresh(ctx, address, s.ttl)
	if err != nil {
		return nil, fmt.Errorf("refresh credential: %w", err)
	}
	if !refreshed {
		return nil, domain.ErrSessionNotFound
	}
	if _, err := s.store.RefreshSession(ctx, identity, s.ttl); err != nil {
		return nil, fmt.Errorf("refresh session: %w", err)
	}

	s.metrics.RecordMailboxExtended()
	return &domain.Session{
		Address:   address,
		Owner:     identity,
		CreatedAt: time.Now().UTC(),
		TTL:       s.ttl,
	}, nil
}

// Burn 立即销毁身份当前的邮箱。
//
// 只有真正删除了凭证的调用才发送销毁通知，与监视任务的投递路径互斥。
func (s *MailboxService) Burn(ctx context.Context, identity string) (string, error) {
	address, err := s.store.Session(ctx, identity)
	if err != nil {
		return "", err
	}

	removed, err := s.store.Destroy(ctx, identity, address)
	if err != nil {
		return "", fmt.Errorf("destroy mailbox: %w", err)
	}
	if !removed {
		return "", domain.ErrSessionNotFound
	}

	s.metrics.RecordMailboxDestroyed("burned")
	s.logger.Info("mailbox burned",
		zap.String("address", address),
		zap.String("identity", identity),
	)
	if s.notifier != nil {
		s.notifier.Notify(ctx, identity, watcher.FormatDestroyed(address))
	}
	return address, nil
}

// LiveAddresses 返回仍存在的邮箱地址
func (s *MailboxService) LiveAddresses(ctx context.Context) ([]string, error) {
	return s.store.LiveAddresses(ctx)
}

func randomLocalPart() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:localPartLength]
}

func providerError(op string, err error) error {
	if errors.Is(err, domain.ErrProviderUnavailable) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %v", op, domain.ErrProviderUnavailable, err)
}

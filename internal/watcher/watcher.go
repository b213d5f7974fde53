// Package watcher 轮询单个一次性邮箱，收到第一封邮件后通知所有者并执行销毁策略。
//
// 状态流转：POLLING → DELIVERED → DESTROYED，或 POLLING → TIMED_OUT → DESTROYED。
// 监视任务之间不共享进程内状态，只通过 KV 存储的原子删除协调：
// 只有真正删除了凭证的一方才发送销毁通知。
package watcher

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"expressmail/backend/internal/domain"
	"expressmail/backend/internal/monitoring"
)

// finishTimeout 终态阶段（删除与通知）的超时，与轮询截止时间无关
const finishTimeout = 15 * time.Second

// Outcome 监视任务的结束方式
type Outcome string

const (
	// OutcomeDelivered 已通知并销毁邮箱
	OutcomeDelivered Outcome = "delivered"
	// OutcomeDeliveredKept 已通知，无限额度用户保留邮箱
	OutcomeDeliveredKept Outcome = "delivered_kept"
	// OutcomeTimedOut 截止时间内没有邮件，已销毁
	OutcomeTimedOut Outcome = "timed_out"
	// OutcomeGone 邮箱已被其他方销毁或自然过期
	OutcomeGone Outcome = "gone"
	// OutcomeAborted 进程关闭，未做任何改动
	OutcomeAborted Outcome = "aborted"
)

// Provider 上游邮件服务
type Provider interface {
	ListMessages(ctx context.Context, credential string) ([]domain.MessageRef, error)
	GetMessage(ctx context.Context, credential, id string) (*domain.Message, error)
}

// Store 邮箱存储
type Store interface {
	Credential(ctx context.Context, address string) (string, error)
	Destroy(ctx context.Context, identity, address string) (bool, error)
}

// Entitlements 额度查询
type Entitlements interface {
	IsUnlimited(ctx context.Context, identity string) (bool, error)
}

// Notifier 通知发送
type Notifier interface {
	Notify(ctx context.Context, identity, text string) (int64, bool)
	ScheduleRemoval(identity string, messageID int64, after time.Duration)
}

// Config 监视任务配置
type Config struct {
	PollInterval time.Duration // 固定轮询间隔，不做退避
	Deadline     time.Duration // 自任务启动起计算
	DeleteAfter  time.Duration // 投递通知的自动删除延迟，0 表示不删除
}

// Watcher 创建并运行单个邮箱的监视任务
type Watcher struct {
	provider     Provider
	store        Store
	entitlements Entitlements
	notifier     Notifier
	cfg          Config
	logger       *zap.Logger
	metrics      *monitoring.Metrics
}

// New 创建监视器
func New(provider Provider, store Store, entitlements Entitlements, notifier Notifier, cfg Config, logger *zap.Logger, metrics *monitoring.Metrics) *Watcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Watcher{
		provider:     provider,
		store:        store,
		entitlements: entitlements,
		notifier:     notifier,
		cfg:          cfg,
		logger:       logger,
		metrics:      metrics,
	}
}

// Watch 监视 address 直到投递、超时、邮箱消失或 ctx 取消
func (w *Watcher) Watch(ctx context.Context, address, owner string) Outcome {
	log := w.logger.With(zap.String("address", address), zap.String("identity", owner))

	credential, err := w.store.Credential(ctx, address)
	if err != nil {
		if !errors.Is(err, domain.ErrSessionNotFound) {
			log.Warn("watcher could not read credential", zap.Error(err))
		}
		return OutcomeGone
	}

	w.metrics.WatcherStarted()
	started := time.Now()
	log.Debug("watcher started")

	outcome := w.loop(ctx, log, address, owner, credential, started)

	w.metrics.WatcherFinished(string(outcome))
	log.Info("watcher finished",
		zap.String("outcome", string(outcome)),
		zap.Duration("elapsed", time.Since(started)),
	)
	return outcome
}

func (w *Watcher) loop(ctx context.Context, log *zap.Logger, address, owner, credential string, started time.Time) Outcome {
	pollCtx, cancel := context.WithDeadline(ctx, started.Add(w.cfg.Deadline))
	defer cancel()

	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	for {
		// 邮箱已被销毁或过期时静默退出
		current, err := w.store.Credential(pollCtx, address)
		switch {
		case err == nil:
			credential = current
		case errors.Is(err, domain.ErrSessionNotFound):
			return OutcomeGone
		case ctx.Err() != nil:
			return OutcomeAborted
		case pollCtx.Err() != nil:
			return w.timeout(ctx, log, address, owner)
		default:
			log.Warn("credential check failed", zap.Error(err))
		}

		result := Poll(pollCtx, w.provider, credential)
		w.metrics.RecordPoll(result.Status.String())

		switch result.Status {
		case PollFound:
			if ctx.Err() != nil {
				return OutcomeAborted
			}
			w.metrics.RecordDeliveryLatency(time.Since(started))
			return w.deliver(ctx, log, address, owner, result.Message)
		case PollTransientError:
			if ctx.Err() == nil && pollCtx.Err() == nil {
				log.Warn("provider poll failed", zap.Error(result.Err))
			}
		}

		select {
		case <-ctx.Done():
			return OutcomeAborted
		case <-pollCtx.Done():
			if ctx.Err() != nil {
				return OutcomeAborted
			}
			return w.timeout(ctx, log, address, owner)
		case <-ticker.C:
		}
	}
}

// deliver 发送新邮件通知，并对非无限额度用户销毁邮箱
func (w *Watcher) deliver(ctx context.Context, log *zap.Logger, address, owner string, msg *domain.Message) Outcome {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finishTimeout)
	defer cancel()

	n := BuildNotification(msg)
	if id, ok := w.notifier.Notify(ctx, owner, FormatDelivery(address, n)); ok {
		w.notifier.ScheduleRemoval(owner, id, w.cfg.DeleteAfter)
	}
	log.Info("message delivered",
		zap.String("from", n.Sender),
		zap.Bool("code_found", n.Code != ""),
	)

	unlimited, err := w.entitlements.IsUnlimited(ctx, owner)
	if err != nil {
		// 无法确认额度时保留邮箱，交给 TTL 回收
		log.Warn("entitlement check failed, keeping mailbox", zap.Error(err))
		return OutcomeDeliveredKept
	}
	if unlimited {
		return OutcomeDeliveredKept
	}

	removed, err := w.store.Destroy(ctx, owner, address)
	if err != nil {
		log.Error("destroy after delivery failed", zap.Error(err))
		return OutcomeDelivered
	}
	if removed {
		w.metrics.RecordMailboxDestroyed("delivered")
		w.notifier.Notify(ctx, owner, FormatDestroyed(address))
	}
	return OutcomeDelivered
}

// timeout 截止时间到达，邮箱仍存在时销毁并通知
func (w *Watcher) timeout(ctx context.Context, log *zap.Logger, address, owner string) Outcome {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finishTimeout)
	defer cancel()

	removed, err := w.store.Destroy(ctx, owner, address)
	if err != nil {
		log.Error("destroy after timeout failed", zap.Error(err))
		return OutcomeTimedOut
	}
	if !removed {
		return OutcomeGone
	}

	w.metrics.RecordMailboxDestroyed("timeout")
	w.notifier.Notify(ctx, owner, FormatTimedOut(address))
	return OutcomeTimedOut
}

// Package notify 向聊天身份发送通知。
//
// 发送是尽力而为的：失败只记录日志，不会返回给调用方，
// 因此不会影响邮箱生命周期中已经提交的状态变化。
package notify

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"expressmail/backend/internal/monitoring"
)

// removalTimeout 延迟删除单次请求的超时
const removalTimeout = 10 * time.Second

// Transport 聊天消息通道
type Transport interface {
	SendMessage(ctx context.Context, chatID, text string) (int64, error)
	DeleteMessage(ctx context.Context, chatID string, messageID int64) error
}

// Notifier 尽力而为的通知发送器
type Notifier struct {
	transport   Transport
	alertChatID string
	logger      *zap.Logger
	metrics     *monitoring.Metrics

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewNotifier 创建通知发送器
func NewNotifier(transport Transport, alertChatID string, logger *zap.Logger, metrics *monitoring.Metrics) *Notifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Notifier{
		transport:   transport,
		alertChatID: alertChatID,
		logger:      logger,
		metrics:     metrics,
		done:        make(chan struct{}),
	}
}

// Notify 发送消息，返回消息 ID 与是否发送成功
func (n *Notifier) Notify(ctx context.Context, identity, text string) (int64, bool) {
	id, err := n.transport.SendMessage(ctx, identity, text)
	n.metrics.RecordNotification(err == nil)
	if err != nil {
		n.logger.Warn("notification failed",
			zap.String("identity", identity),
			zap.Error(err),
		)
		return 0, false
	}
	return id, true
}

// ScheduleRemoval 在 after 之后尽力删除已发送的消息，失败静默忽略。
// Close 之后到期的删除不再执行。
func (n *Notifier) ScheduleRemoval(identity string, messageID int64, after time.Duration) {
	if after <= 0 || messageID == 0 {
		return
	}

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()

		timer := time.NewTimer(after)
		defer timer.Stop()

		select {
		case <-n.done:
			return
		case <-timer.C:
		}

		ctx, cancel := context.WithTimeout(context.Background(), removalTimeout)
		defer cancel()
		if err := n.transport.DeleteMessage(ctx, identity, messageID); err != nil {
			n.logger.Debug("scheduled removal failed",
				zap.String("identity", identity),
				zap.Int64("message_id", messageID),
				zap.Error(err),
			)
		}
	}()
}

// Alert 向运维聊天发送告警，未配置时为空操作
func (n *Notifier) Alert(ctx context.Context, text string) bool {
	if n.alertChatID == "" {
		return false
	}
	_, ok := n.Notify(ctx, n.alertChatID, text)
	return ok
}

// Close 取消尚未到期的删除任务并等待执行中的任务结束
func (n *Notifier) Close() {
	n.closeOnce.Do(func() {
		close(n.done)
	})
	n.wg.Wait()
}

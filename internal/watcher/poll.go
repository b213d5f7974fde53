package watcher

import (
	"context"

	"expressmail/backend/internal/domain"
)

// PollStatus 单次轮询的结果
type PollStatus int

const (
	// PollEmpty 邮箱中还没有邮件
	PollEmpty PollStatus = iota
	// PollFound 收到邮件并取得完整内容
	PollFound
	// PollTransientError 上游暂时不可用，下一轮重试
	PollTransientError
)

func (s PollStatus) String() string {
	switch s {
	case PollEmpty:
		return "empty"
	case PollFound:
		return "found"
	case PollTransientError:
		return "error"
	default:
		return "unknown"
	}
}

// PollResult 单次轮询的结果与附带数据
type PollResult struct {
	Status  PollStatus
	Message *domain.Message
	Err     error
}

// Poll 查询一次邮件列表；非空时取列表中的第一封邮件的完整内容
func Poll(ctx context.Context, provider Provider, credential string) PollResult {
	refs, err := provider.ListMessages(ctx, credential)
	if err != nil {
		return PollResult{Status: PollTransientError, Err: err}
	}
	if len(refs) == 0 {
		return PollResult{Status: PollEmpty}
	}

	msg, err := provider.GetMessage(ctx, credential, refs[0].ID)
	if err != nil {
		return PollResult{Status: PollTransientError, Err: err}
	}
	if msg.From == "" {
		msg.From = refs[0].From
	}
	if msg.Subject == "" {
		msg.Subject = refs[0].Subject
	}
	return PollResult{Status: PollFound, Message: msg}
}

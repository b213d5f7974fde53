package watcher

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"expressmail/backend/internal/domain"
	"expressmail/backend/internal/extract"
)

const (
	// MaxMessageRunes Telegram 单条消息的字符上限
	MaxMessageRunes = 4096
	// maxHeaderFieldRunes 发件人和主题各自保留的最大字符数
	maxHeaderFieldRunes = 256
	ellipsis            = "…"
)

// BuildNotification 从邮件内容生成通知
//
// 验证码优先从正文摘要中提取，摘要中没有时再尝试主题。
func BuildNotification(msg *domain.Message) domain.Notification {
	summary := extract.Summarize(msg.Text, msg.HTML)
	code, ok := extract.ExtractCode(summary)
	if !ok {
		code, _ = extract.ExtractCode(msg.Subject)
	}
	return domain.Notification{
		Sender:      msg.From,
		Subject:     msg.Subject,
		BodySummary: summary,
		Code:        code,
	}
}

// FormatDelivery 新邮件通知文本
//
// 结果不超过 MaxMessageRunes 个字符：头部和验证码行完整保留，超出部分从摘要末尾截断并以省略号结尾。
func FormatDelivery(address string, n domain.Notification) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "📩 New email for %s\n", address)
	fmt.Fprintf(&sb, "From: %s\n", truncateRunes(n.Sender, maxHeaderFieldRunes))
	fmt.Fprintf(&sb, "Subject: %s\n", truncateRunes(n.Subject, maxHeaderFieldRunes))
	if n.Code != "" {
		fmt.Fprintf(&sb, "\n🔑 Code: %s\n", n.Code)
	}
	if n.BodySummary != "" {
		budget := MaxMessageRunes - utf8.RuneCountInString(sb.String()) - 1
		if budget > 0 {
			sb.WriteString("\n")
			sb.WriteString(truncateRunes(n.BodySummary, budget))
		}
	}
	return strings.TrimRight(sb.String(), "\n")
}

// truncateRunes 截断到最多 limit 个字符，截断时最后一个字符为省略号
func truncateRunes(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	if limit <= 0 {
		return ""
	}
	runes := []rune(s)
	return string(runes[:limit-1]) + ellipsis
}

// FormatDestroyed 投递后销毁的通知文本
func FormatDestroyed(address string) string {
	return fmt.Sprintf("🔥 Inbox %s has been destroyed.", address)
}

// FormatTimedOut 超时销毁的通知文本
func FormatTimedOut(address string) string {
	return fmt.Sprintf("⌛ No message received for %s. Inbox destroyed.", address)
}

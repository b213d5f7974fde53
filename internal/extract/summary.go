package extract

import (
	"strings"
	"unicode/utf8"

	"expressmail/backend/internal/domain"
)

const (
	// MaxSummaryLines 摘要最多保留的行数
	MaxSummaryLines = 40
	// minPlainTextLen 纯文本超过该字符数时优先使用纯文本
	minPlainTextLen = 20
)

// Summarize 生成邮件正文摘要
//
// 纯文本去首尾空白后字符数超过 20 时直接使用，否则把 HTML 渲染为纯文本。
// 然后逐行去空白，丢弃空行和以 http 开头的行，最多保留 40 行。
func Summarize(text, html domain.Fragments) string {
	source := text.Join()
	if utf8.RuneCountInString(strings.TrimSpace(source)) <= minPlainTextLen {
		source = HTMLToText(html.Join())
	}
	return CleanLines(source, MaxSummaryLines)
}

// FullText 拼接完整纯文本和渲染后的 HTML，不截断也不过滤行，用于收件箱列表的验证码提取
func FullText(text, html domain.Fragments) string {
	return text.Join() + "\n" + HTMLToText(html.Join())
}

// CleanLines 逐行清理文本并限制行数
func CleanLines(source string, limit int) string {
	lines := make([]string, 0, limit)
	for _, line := range strings.Split(source, "\n") {
		if len(lines) >= limit {
			break
		}
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(strings.ToLower(line), "http") {
			continue
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

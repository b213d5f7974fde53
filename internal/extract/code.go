// Package extract 从邮件内容中提取验证码并生成可读摘要。
// 所有函数均为纯函数，不做任何 I/O。
package extract

import "regexp"

// codeRules 按优先级排列，第一条有匹配的规则胜出。
// RE2 的 \b 与 \d 只认 ASCII：西里尔等非 ASCII 字母视为非单词字符，
// 因此 "код4821" 会命中 4821，而 "code4821" 不会。
var codeRules = []*regexp.Regexp{
	regexp.MustCompile(`\b\d{4,8}\b`),
	regexp.MustCompile(`\b[A-Z0-9]{4,8}\b`),
	regexp.MustCompile(`\b[A-Z]{3}-[A-Z]{3}\b`),
}

// ExtractCode 返回文本中的验证码。
//
// 规则依次尝试，命中的规则返回其最左匹配；后面的规则不再考虑。
func ExtractCode(text string) (string, bool) {
	for _, rule := range codeRules {
		if code := rule.FindString(text); code != "" {
			return code, true
		}
	}
	return "", false
}

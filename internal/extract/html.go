package extract

import (
	"strings"

	"golang.org/x/net/html"
)

// skipElements 内容直接丢弃的元素
var skipElements = map[string]bool{
	"script":   true,
	"style":    true,
	"noscript": true,
	"head":     true,
	"title":    true,
}

// breakElements 前后需要换行的元素
var breakElements = map[string]bool{
	"p": true, "div": true, "br": true, "hr": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"li": true, "ul": true, "ol": true, "blockquote": true, "pre": true,
	"table": true, "tr": true, "td": true, "th": true,
	"section": true, "article": true, "header": true, "footer": true,
	"center": true, "address": true,
}

// HTMLToText 去掉标记，块级元素边界转为换行
func HTMLToText(markup string) string {
	if markup == "" {
		return ""
	}

	var sb strings.Builder
	z := html.NewTokenizer(strings.NewReader(markup))
	skipDepth := 0

	newline := func() {
		if sb.Len() > 0 && !strings.HasSuffix(sb.String(), "\n") {
			sb.WriteByte('\n')
		}
	}

	for {
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			return strings.TrimSpace(sb.String())

		case html.StartTagToken, html.SelfClosingTagToken:
			name, _ := z.TagName()
			tag := string(name)
			if skipElements[tag] {
				// 自闭合形式不会有结束标签
				if tt == html.StartTagToken {
					skipDepth++
				}
				continue
			}
			if breakElements[tag] {
				newline()
			}

		case html.EndTagToken:
			name, _ := z.TagName()
			tag := string(name)
			if skipElements[tag] {
				if skipDepth > 0 {
					skipDepth--
				}
				continue
			}
			if breakElements[tag] {
				newline()
			}

		case html.TextToken:
			if skipDepth > 0 {
				continue
			}
			sb.Write(z.Text())
		}
	}
}

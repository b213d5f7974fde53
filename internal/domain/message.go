package domain

import (
	"encoding/json"
	"strings"
	"time"
)

// Fragments 表示上游返回的正文片段。
//
// 上游有时返回单个字符串，有时返回字符串数组（例如 HTML 正文），
// 两种形式都解码为切片。
type Fragments []string

// UnmarshalJSON 同时接受字符串、字符串数组和 null
func (f *Fragments) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*f = nil
		return nil
	}
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		*f = Fragments{single}
		return nil
	}
	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return err
	}
	*f = many
	return nil
}

// Join 使用换行符拼接全部片段
func (f Fragments) Join() string {
	return strings.Join(f, "\n")
}

// MessageRef 是邮件列表中的一条摘要记录。
type MessageRef struct {
	ID        string    `json:"id"`
	From      string    `json:"from"`
	Subject   string    `json:"subject"`
	CreatedAt time.Time `json:"createdAt"`
}

// Message 是从上游获取的完整邮件内容。
type Message struct {
	ID        string    `json:"id"`
	From      string    `json:"from"`
	Subject   string    `json:"subject"`
	Text      Fragments `json:"text"`
	HTML      Fragments `json:"html"`
	CreatedAt time.Time `json:"createdAt"`
}

// Notification 是发送给聊天身份的新邮件通知，不做持久化。
type Notification struct {
	Sender      string
	Subject     string
	BodySummary string
	Code        string // 未识别到验证码时为空
}

// InboxMessage 是收件箱查询接口返回的单条邮件。
type InboxMessage struct {
	From    string    `json:"from"`
	Subject string    `json:"subject"`
	Code    string    `json:"otp,omitempty"`
	Time    time.Time `json:"time"`
}

package bot

// Update Telegram webhook 推送的更新（只解析用到的字段）
type Update struct {
	UpdateID      int64          `json:"update_id"`
	Message       *Message       `json:"message,omitempty"`
	CallbackQuery *CallbackQuery `json:"callback_query,omitempty"`
}

// Message 聊天消息
type Message struct {
	MessageID int64  `json:"message_id"`
	Chat      Chat   `json:"chat"`
	From      *User  `json:"from,omitempty"`
	Text      string `json:"text"`
}

// Chat 会话
type Chat struct {
	ID   int64  `json:"id"`
	Type string `json:"type"`
}

// User 用户
type User struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
}

// CallbackQuery 内联按钮回调
type CallbackQuery struct {
	ID      string   `json:"id"`
	From    User     `json:"from"`
	Message *Message `json:"message,omitempty"`
	Data    string   `json:"data"`
}

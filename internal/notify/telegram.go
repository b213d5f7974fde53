package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// DefaultAPIBase Telegram Bot API 地址
const DefaultAPIBase = "https://api.telegram.org"

// ErrNotConfigured 未配置 bot token
var ErrNotConfigured = errors.New("telegram bot token is not configured")

// InlineButton 内联键盘按钮
type InlineButton struct {
	Text         string `json:"text"`
	CallbackData string `json:"callback_data,omitempty"`
	URL          string `json:"url,omitempty"`
}

// InlineKeyboard 内联键盘
type InlineKeyboard struct {
	Rows [][]InlineButton `json:"inline_keyboard"`
}

// Telegram Bot API 客户端
type Telegram struct {
	apiBase    string
	token      string
	httpClient *http.Client
}

// NewTelegram 创建 Telegram 客户端
func NewTelegram(apiBase, token string, timeout time.Duration) *Telegram {
	if apiBase == "" {
		apiBase = DefaultAPIBase
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Telegram{
		apiBase: strings.TrimRight(apiBase, "/"),
		token:   token,
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

// SetHTTPClient 替换 HTTP 客户端
func (t *Telegram) SetHTTPClient(hc *http.Client) {
	t.httpClient = hc
}

type sendMessageRequest struct {
	ChatID      string          `json:"chat_id"`
	Text        string          `json:"text"`
	ReplyMarkup *InlineKeyboard `json:"reply_markup,omitempty"`
}

type deleteMessageRequest struct {
	ChatID    string `json:"chat_id"`
	MessageID int64  `json:"message_id"`
}

type answerCallbackRequest struct {
	CallbackQueryID string `json:"callback_query_id"`
	Text            string `json:"text,omitempty"`
}

type apiResponse struct {
	OK          bool            `json:"ok"`
	Description string          `json:"description"`
	Result      json.RawMessage `json:"result"`
}

// SendMessage 发送文本消息，返回消息 ID
func (t *Telegram) SendMessage(ctx context.Context, chatID, text string) (int64, error) {
	return t.SendMessageWithMarkup(ctx, chatID, text, nil)
}

// SendMessageWithMarkup 发送带内联键盘的消息
func (t *Telegram) SendMessageWithMarkup(ctx context.Context, chatID, text string, markup *InlineKeyboard) (int64, error) {
	var result struct {
		MessageID int64 `json:"message_id"`
	}
	req := sendMessageRequest{ChatID: chatID, Text: text, ReplyMarkup: markup}
	if err := t.call(ctx, "sendMessage", req, &result); err != nil {
		return 0, err
	}
	return result.MessageID, nil
}

// DeleteMessage 删除已发送的消息
func (t *Telegram) DeleteMessage(ctx context.Context, chatID string, messageID int64) error {
	return t.call(ctx, "deleteMessage", deleteMessageRequest{ChatID: chatID, MessageID: messageID}, nil)
}

// AnswerCallback 应答按钮回调，消除客户端加载状态
func (t *Telegram) AnswerCallback(ctx context.Context, callbackID, text string) error {
	return t.call(ctx, "answerCallbackQuery", answerCallbackRequest{CallbackQueryID: callbackID, Text: text}, nil)
}

func (t *Telegram) call(ctx context.Context, method string, payload, result any) error {
	if t.token == "" {
		return ErrNotConfigured
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", method, err)
	}

	endpoint := fmt.Sprintf("%s/bot%s/%s", t.apiBase, t.token, method)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("create %s request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("telegram %s: %w", method, redact(err, t.token))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read %s response: %w", method, err)
	}

	var res apiResponse
	if err := json.Unmarshal(body, &res); err != nil {
		return fmt.Errorf("telegram %s: status %d", method, resp.StatusCode)
	}
	if !res.OK {
		return fmt.Errorf("telegram %s: %s", method, res.Description)
	}
	if result != nil && len(res.Result) > 0 {
		if err := json.Unmarshal(res.Result, result); err != nil {
			return fmt.Errorf("decode %s result: %w", method, err)
		}
	}
	return nil
}

// redact 从错误信息中去掉 bot token（url.Error 会带上完整地址）
func redact(err error, token string) error {
	if token == "" {
		return err
	}
	return errors.New(strings.ReplaceAll(err.Error(), token, "<token>"))
}

package httptransport

import (
	"context"
	"crypto/subtle"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"expressmail/backend/internal/bot"
)

// 回调请求头
const (
	PaymentSignatureHeader = "X-Signature"
	TelegramSecretHeader   = "X-Telegram-Bot-Api-Secret-Token"
)

// PaymentService 支付回调处理
type PaymentService interface {
	Handle(ctx context.Context, body []byte, signature string) (bool, error)
}

// UpdateHandler Telegram 更新处理
type UpdateHandler interface {
	Handle(ctx context.Context, update *bot.Update)
}

// WebhookHandler 外部回调接口
type WebhookHandler struct {
	payments       PaymentService
	updates        UpdateHandler
	telegramSecret string
	logger         *zap.Logger
}

// NewWebhookHandler 创建回调处理器
func NewWebhookHandler(payments PaymentService, updates UpdateHandler, telegramSecret string, logger *zap.Logger) *WebhookHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WebhookHandler{
		payments:       payments,
		updates:        updates,
		telegramSecret: telegramSecret,
		logger:         logger,
	}
}

// Payment 处理支付平台回调，签名基于原始请求体
func (h *WebhookHandler) Payment(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		Error(c, http.StatusRequestEntityTooLarge, MsgInvalidRequest)
		return
	}
	if len(body) == 0 {
		BadRequest(c, MsgRequestBodyEmpty)
		return
	}

	granted, err := h.payments.Handle(c.Request.Context(), body, c.GetHeader(PaymentSignatureHeader))
	if err != nil {
		h.logger.Warn("payment webhook rejected",
			zap.String("ip", c.ClientIP()),
			zap.Error(err),
		)
		RespondError(c, err, MsgWebhookFailed)
		return
	}

	Success(c, gin.H{"granted": granted})
}

// Telegram 处理机器人 webhook 更新
//
// 更新被接受后总是返回 200，避免 Telegram 重复投递。
func (h *WebhookHandler) Telegram(c *gin.Context) {
	if h.telegramSecret != "" {
		provided := c.GetHeader(TelegramSecretHeader)
		if subtle.ConstantTimeCompare([]byte(provided), []byte(h.telegramSecret)) != 1 {
			Unauthorized(c, "回调密钥无效")
			return
		}
	}

	var update bot.Update
	if err := c.ShouldBindJSON(&update); err != nil {
		BadRequest(c, MsgInvalidJSON)
		return
	}

	h.updates.Handle(c.Request.Context(), &update)
	Success(c, nil)
}

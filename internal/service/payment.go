package service

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"strings"

	"go.uber.org/zap"
)

var (
	// ErrPaymentDisabled 未配置回调签名密钥
	ErrPaymentDisabled = errors.New("payment webhook is not configured")
	// ErrInvalidSignature 回调签名不匹配
	ErrInvalidSignature = errors.New("invalid signature")
	// ErrInvalidPayload 回调内容无法解析
	ErrInvalidPayload = errors.New("invalid payment payload")
)

// PaidStatus 支付完成状态
const PaidStatus = "PAID"

// PaymentEvent 支付回调内容
type PaymentEvent struct {
	MerchantOrderID string `json:"merchantOrderId"`
	Status          string `json:"status"`
}

// PaymentService 处理支付回调，支付完成后授予无限额度
type PaymentService struct {
	secret       []byte
	entitlements *EntitlementService
	logger       *zap.Logger
}

// NewPaymentService 创建支付服务
func NewPaymentService(secret string, entitlements *EntitlementService, logger *zap.Logger) *PaymentService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PaymentService{
		secret:       []byte(secret),
		entitlements: entitlements,
		logger:       logger,
	}
}

// Sign 计算请求体的 HMAC-SHA256（十六进制）
func (s *PaymentService) Sign(body []byte) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify 校验签名（常量时间比较）
func (s *PaymentService) Verify(body []byte, signature string) bool {
	if len(s.secret) == 0 {
		return false
	}
	expected := s.Sign(body)
	return hmac.Equal([]byte(expected), []byte(strings.ToLower(strings.TrimSpace(signature))))
}

// Handle 处理回调，返回是否授予了无限额度
func (s *PaymentService) Handle(ctx context.Context, body []byte, signature string) (bool, error) {
	if len(s.secret) == 0 {
		return false, ErrPaymentDisabled
	}
	if !s.Verify(body, signature) {
		return false, ErrInvalidSignature
	}

	var event PaymentEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return false, ErrInvalidPayload
	}
	if event.MerchantOrderID == "" {
		return false, ErrInvalidPayload
	}

	if !strings.EqualFold(event.Status, PaidStatus) {
		s.logger.Info("payment event ignored",
			zap.String("order", event.MerchantOrderID),
			zap.String("status", event.Status),
		)
		return false, nil
	}

	if err := s.entitlements.GrantUnlimited(ctx, event.MerchantOrderID, "payment"); err != nil {
		return false, err
	}
	return true, nil
}

package httptransport

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"expressmail/backend/internal/domain"
	"expressmail/backend/internal/service"
)

// errorMapping 业务错误 -> HTTP 状态码与中文消息
type errorMapping struct {
	status int
	msg    string
}

// 错误消息映射表，按顺序使用 errors.Is 匹配
var errorMappings = []struct {
	err error
	errorMapping
}{
	// 会话与额度
	{domain.ErrSessionNotFound, errorMapping{http.StatusNotFound, "邮箱会话已过期"}},
	{domain.ErrQuotaExceeded, errorMapping{http.StatusTooManyRequests, "今日免费额度已用完"}},
	{service.ErrTooManyWatchers, errorMapping{http.StatusServiceUnavailable, "当前活跃邮箱过多，请稍后再试"}},

	// 上游服务
	{domain.ErrNoDomains, errorMapping{http.StatusBadGateway, "上游邮件服务没有可用域名"}},
	{domain.ErrProviderUnavailable, errorMapping{http.StatusBadGateway, "上游邮件服务不可用"}},

	// 参数校验
	{domain.ErrInvalidIdentity, errorMapping{http.StatusBadRequest, "用户标识无效"}},
	{domain.ErrInvalidEmail, errorMapping{http.StatusBadRequest, "邮箱地址格式无效"}},
	{domain.ErrEmailTooLong, errorMapping{http.StatusBadRequest, "邮箱地址过长"}},
	{domain.ErrInvalidCountry, errorMapping{http.StatusBadRequest, "国家代码无效"}},
	{service.ErrInvalidPlan, errorMapping{http.StatusBadRequest, "价格字段无效"}},

	// 支付回调
	{service.ErrPaymentDisabled, errorMapping{http.StatusServiceUnavailable, "支付回调未启用"}},
	{service.ErrInvalidSignature, errorMapping{http.StatusUnauthorized, "签名校验失败"}},
	{service.ErrInvalidPayload, errorMapping{http.StatusBadRequest, "回调内容格式错误"}},
}

// GetErrorMessage 获取错误的中文消息
func GetErrorMessage(err error) string {
	if m, ok := lookupError(err); ok {
		return m.msg
	}
	return err.Error()
}

// RespondError 按业务错误类型返回响应，未知错误统一为 500
func RespondError(c *gin.Context, err error, fallback string) {
	_ = c.Error(err)
	if m, ok := lookupError(err); ok {
		Error(c, m.status, m.msg)
		return
	}
	InternalError(c, fallback)
}

func lookupError(err error) (errorMapping, bool) {
	for _, entry := range errorMappings {
		if errors.Is(err, entry.err) {
			return entry.errorMapping, true
		}
	}
	return errorMapping{}, false
}

// 通用错误消息
const (
	// 请求相关
	MsgInvalidRequest   = "请求参数格式错误"
	MsgInvalidJSON      = "JSON格式错误"
	MsgRequestBodyEmpty = "请求体不能为空"

	// 邮箱相关
	MsgDomainsFailed       = "获取可用域名失败"
	MsgMailboxCreateFailed = "创建邮箱失败"
	MsgInboxFailed         = "获取收件箱失败"
	MsgExtendFailed        = "邮箱续期失败"
	MsgBurnFailed          = "销毁邮箱失败"

	// 额度与价格
	MsgEntitlementFailed = "更新额度失败"
	MsgPricingFailed     = "获取价格失败"

	// 回调与告警
	MsgWebhookFailed = "处理回调失败"
	MsgAlertFailed   = "告警发送失败"
)

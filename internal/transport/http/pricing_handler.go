package httptransport

import (
	"context"

	"github.com/gin-gonic/gin"

	"expressmail/backend/internal/domain"
)

// PricingService 价格查询
type PricingService interface {
	Get(ctx context.Context, override, clientIP string) (*domain.Pricing, error)
}

// PricingHandler 价格接口
type PricingHandler struct {
	pricing PricingService
}

// NewPricingHandler 创建价格处理器
func NewPricingHandler(pricing PricingService) *PricingHandler {
	return &PricingHandler{pricing: pricing}
}

// Get 返回调用方所在国家的价格，?country= 优先
func (h *PricingHandler) Get(c *gin.Context) {
	pricing, err := h.pricing.Get(c.Request.Context(), c.Query("country"), c.ClientIP())
	if err != nil {
		RespondError(c, err, MsgPricingFailed)
		return
	}
	Success(c, pricing)
}

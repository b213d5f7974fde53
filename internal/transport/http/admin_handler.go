package httptransport

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"expressmail/backend/internal/domain"
	"expressmail/backend/internal/pool"
)

// 管理操作的授予来源
const adminSource = "admin"

// EntitlementService 额度管理
type EntitlementService interface {
	GrantUnlimited(ctx context.Context, identity, source string) error
	RevokeUnlimited(ctx context.Context, identity, source string) error
	Status(ctx context.Context, identity string) (*domain.Entitlement, error)
}

// PricingAdmin 价格配置
type PricingAdmin interface {
	Set(ctx context.Context, country string, values map[string]string) (string, error)
}

// WatcherPool 监视任务池
type WatcherPool interface {
	Active() int
	Capacity() int
	Tasks() []pool.TaskInfo
}

// Alerter 运维告警
type Alerter interface {
	Alert(ctx context.Context, text string) bool
}

// AdminHandler 管理接口
type AdminHandler struct {
	entitlements EntitlementService
	pricing      PricingAdmin
	watchers     WatcherPool
	alerter      Alerter
	logger       *zap.Logger
}

// NewAdminHandler 创建管理处理器
func NewAdminHandler(entitlements EntitlementService, pricing PricingAdmin, watchers WatcherPool, alerter Alerter, logger *zap.Logger) *AdminHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AdminHandler{
		entitlements: entitlements,
		pricing:      pricing,
		watchers:     watchers,
		alerter:      alerter,
		logger:       logger,
	}
}

type watcherResponse struct {
	Address   string    `json:"address"`
	StartedAt time.Time `json:"startedAt"`
}

type alertRequest struct {
	Text string `json:"text" binding:"required"`
}

// GrantPremium 授予无限额度
func (h *AdminHandler) GrantPremium(c *gin.Context) {
	identity := c.Param("identity")
	if err := h.entitlements.GrantUnlimited(c.Request.Context(), identity, adminSource); err != nil {
		RespondError(c, err, MsgEntitlementFailed)
		return
	}
	SuccessWithMsg(c, "已授予无限额度", gin.H{"identity": identity, "unlimited": true})
}

// RevokePremium 撤销无限额度
func (h *AdminHandler) RevokePremium(c *gin.Context) {
	identity := c.Param("identity")
	if err := h.entitlements.RevokeUnlimited(c.Request.Context(), identity, adminSource); err != nil {
		RespondError(c, err, MsgEntitlementFailed)
		return
	}
	SuccessWithMsg(c, "已撤销无限额度", gin.H{"identity": identity, "unlimited": false})
}

// Entitlement 查询身份的额度状态
func (h *AdminHandler) Entitlement(c *gin.Context) {
	status, err := h.entitlements.Status(c.Request.Context(), c.Param("identity"))
	if err != nil {
		RespondError(c, err, MsgEntitlementFailed)
		return
	}
	Success(c, gin.H{
		"entitlement": status,
		"remaining":   status.Remaining(),
	})
}

// SetPricing 更新某个国家的价格
func (h *AdminHandler) SetPricing(c *gin.Context) {
	var values map[string]string
	if err := c.ShouldBindJSON(&values); err != nil {
		BadRequest(c, MsgInvalidJSON)
		return
	}

	country, err := h.pricing.Set(c.Request.Context(), c.Param("country"), values)
	if err != nil {
		RespondError(c, err, MsgPricingFailed)
		return
	}
	h.logger.Info("pricing updated", zap.String("country", country), zap.Int("fields", len(values)))
	SuccessWithMsg(c, "价格已更新", gin.H{"country": country})
}

// Watchers 列出运行中的监视任务
func (h *AdminHandler) Watchers(c *gin.Context) {
	tasks := h.watchers.Tasks()
	items := make([]watcherResponse, 0, len(tasks))
	for _, task := range tasks {
		items = append(items, watcherResponse{Address: task.Name, StartedAt: task.StartedAt})
	}
	Success(c, gin.H{
		"active":   h.watchers.Active(),
		"capacity": h.watchers.Capacity(),
		"items":    items,
	})
}

// Alert 向运维聊天发送告警
func (h *AdminHandler) Alert(c *gin.Context) {
	var req alertRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, MsgInvalidRequest)
		return
	}
	if !h.alerter.Alert(c.Request.Context(), req.Text) {
		Error(c, CodeBadGateway, MsgAlertFailed)
		return
	}
	SuccessWithMsg(c, "告警已发送", nil)
}

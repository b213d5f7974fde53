package httptransport

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"

	"expressmail/backend/internal/domain"
)

// MailboxService 邮箱生命周期操作
type MailboxService interface {
	Domains(ctx context.Context) ([]string, error)
	Create(ctx context.Context, identity string) (*domain.Session, error)
	Inbox(ctx context.Context, address string) ([]domain.InboxMessage, error)
	Current(ctx context.Context, identity string) (*domain.Session, error)
	Extend(ctx context.Context, identity string) (*domain.Session, error)
	Burn(ctx context.Context, identity string) (string, error)
}

// MailboxHandler 邮箱相关接口
type MailboxHandler struct {
	mailboxes MailboxService
}

// NewMailboxHandler 创建邮箱处理器
func NewMailboxHandler(mailboxes MailboxService) *MailboxHandler {
	return &MailboxHandler{mailboxes: mailboxes}
}

type createMailboxRequest struct {
	Identity string `json:"identity" binding:"required"`
}

type sessionResponse struct {
	Address    string    `json:"address"`
	Owner      string    `json:"owner"`
	TTLSeconds int64     `json:"ttlSeconds"`
	ExpiresAt  time.Time `json:"expiresAt"`
}

type inboxResponse struct {
	Address  string                `json:"address"`
	Messages []domain.InboxMessage `json:"messages"`
	Count    int                   `json:"count"`
}

func toSessionResponse(s *domain.Session) sessionResponse {
	return sessionResponse{
		Address:    s.Address,
		Owner:      s.Owner,
		TTLSeconds: int64(s.TTL / time.Second),
		ExpiresAt:  s.ExpiresAt(),
	}
}

// ListDomains 返回上游可用域名
func (h *MailboxHandler) ListDomains(c *gin.Context) {
	domains, err := h.mailboxes.Domains(c.Request.Context())
	if err != nil {
		RespondError(c, err, MsgDomainsFailed)
		return
	}
	Success(c, gin.H{"domains": domains})
}

// Create 为身份创建一次性邮箱
func (h *MailboxHandler) Create(c *gin.Context) {
	var req createMailboxRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, MsgInvalidRequest)
		return
	}

	session, err := h.mailboxes.Create(c.Request.Context(), req.Identity)
	if err != nil {
		RespondError(c, err, MsgMailboxCreateFailed)
		return
	}
	Created(c, toSessionResponse(session))
}

// Inbox 列出邮箱中的邮件和验证码
func (h *MailboxHandler) Inbox(c *gin.Context) {
	address := c.Param("address")
	messages, err := h.mailboxes.Inbox(c.Request.Context(), address)
	if err != nil {
		RespondError(c, err, MsgInboxFailed)
		return
	}
	Success(c, inboxResponse{Address: address, Messages: messages, Count: len(messages)})
}

// Current 返回身份当前的邮箱
func (h *MailboxHandler) Current(c *gin.Context) {
	session, err := h.mailboxes.Current(c.Request.Context(), c.Param("identity"))
	if err != nil {
		RespondError(c, err, MsgInboxFailed)
		return
	}
	Success(c, toSessionResponse(session))
}

// Extend 延长身份当前邮箱的生存时间
func (h *MailboxHandler) Extend(c *gin.Context) {
	session, err := h.mailboxes.Extend(c.Request.Context(), c.Param("identity"))
	if err != nil {
		RespondError(c, err, MsgExtendFailed)
		return
	}
	SuccessWithMsg(c, "邮箱已续期", toSessionResponse(session))
}

// Burn 立即销毁身份当前的邮箱
func (h *MailboxHandler) Burn(c *gin.Context) {
	address, err := h.mailboxes.Burn(c.Request.Context(), c.Param("identity"))
	if err != nil {
		RespondError(c, err, MsgBurnFailed)
		return
	}
	SuccessWithMsg(c, "邮箱已销毁", gin.H{"address": address})
}

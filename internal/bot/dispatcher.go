// Package bot 处理 Telegram webhook 更新：命令与内联按钮回调。
package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"expressmail/backend/internal/domain"
	"expressmail/backend/internal/notify"
	"expressmail/backend/internal/service"
)

// Sender 聊天消息发送
type Sender interface {
	SendMessageWithMarkup(ctx context.Context, chatID, text string, markup *notify.InlineKeyboard) (int64, error)
	AnswerCallback(ctx context.Context, callbackID, text string) error
}

// Mailboxes 邮箱操作
type Mailboxes interface {
	Create(ctx context.Context, identity string) (*domain.Session, error)
	Inbox(ctx context.Context, address string) ([]domain.InboxMessage, error)
	Current(ctx context.Context, identity string) (*domain.Session, error)
	Extend(ctx context.Context, identity string) (*domain.Session, error)
	Burn(ctx context.Context, identity string) (string, error)
}

// Entitlements 额度查询
type Entitlements interface {
	Status(ctx context.Context, identity string) (*domain.Entitlement, error)
}

// Pricing 价格查询
type Pricing interface {
	Get(ctx context.Context, override, clientIP string) (*domain.Pricing, error)
}

// 回调数据
const (
	CallbackNewEmail  = "newemail"
	CallbackInbox     = "inbox"
	CallbackExtend    = "extend"
	CallbackBurn      = "burn"
	CallbackBuy       = "buy"
	CallbackDashboard = "dashboard"
)

// MainMenu 主菜单键盘
var MainMenu = &notify.InlineKeyboard{
	Rows: [][]notify.InlineButton{
		{{Text: "📧 New Email", CallbackData: CallbackNewEmail}, {Text: "📥 Inbox", CallbackData: CallbackInbox}},
		{{Text: "⏳ Extend", CallbackData: CallbackExtend}, {Text: "🔥 Burn", CallbackData: CallbackBurn}},
		{{Text: "💎 Buy Premium", CallbackData: CallbackBuy}, {Text: "📊 Dashboard", CallbackData: CallbackDashboard}},
	},
}

const helpText = `📌 Express Mail commands:
/new - Create a disposable inbox
/inbox - Show messages in your inbox
/extend - Extend your inbox lifetime
/burn - Destroy your inbox now
/dashboard - Show your usage today
/pricing [country] - Show premium prices
/status - Check service status
/help - Show commands`

// Dispatcher 把更新分发到对应的处理函数
type Dispatcher struct {
	sender       Sender
	mailboxes    Mailboxes
	entitlements Entitlements
	pricing      Pricing
	logger       *zap.Logger
}

// NewDispatcher 创建分发器
func NewDispatcher(sender Sender, mailboxes Mailboxes, entitlements Entitlements, pricing Pricing, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		sender:       sender,
		mailboxes:    mailboxes,
		entitlements: entitlements,
		pricing:      pricing,
		logger:       logger,
	}
}

// Handle 处理一个更新；无法识别的更新直接忽略
func (d *Dispatcher) Handle(ctx context.Context, update *Update) {
	switch {
	case update.CallbackQuery != nil:
		d.handleCallback(ctx, update.CallbackQuery)
	case update.Message != nil && update.Message.Text != "" && update.Message.Chat.ID != 0:
		d.handleMessage(ctx, update.Message)
	}
}

func (d *Dispatcher) handleMessage(ctx context.Context, msg *Message) {
	identity := strconv.FormatInt(msg.Chat.ID, 10)
	command, args := parseCommand(msg.Text)

	switch command {
	case "/start":
		d.reply(ctx, identity, "👋 Welcome to Express Mail! Get a disposable inbox and receive your codes right here.", MainMenu)
	case "/help":
		d.reply(ctx, identity, helpText, nil)
	case "/new":
		d.newEmail(ctx, identity)
	case "/inbox":
		d.inbox(ctx, identity)
	case "/extend":
		d.extend(ctx, identity)
	case "/burn":
		d.burn(ctx, identity)
	case "/dashboard":
		d.dashboard(ctx, identity)
	case "/pricing":
		d.showPricing(ctx, identity, args)
	case "/status", "/health":
		d.reply(ctx, identity, "✅ Express Mail backend is running.", nil)
	default:
		d.reply(ctx, identity, "❓ Unknown command. Type /help", nil)
	}
}

func (d *Dispatcher) handleCallback(ctx context.Context, cb *CallbackQuery) {
	chatID := cb.From.ID
	if cb.Message != nil && cb.Message.Chat.ID != 0 {
		chatID = cb.Message.Chat.ID
	}
	identity := strconv.FormatInt(chatID, 10)

	if err := d.sender.AnswerCallback(ctx, cb.ID, ""); err != nil {
		d.logger.Debug("answer callback failed", zap.Error(err))
	}

	switch cb.Data {
	case CallbackNewEmail:
		d.newEmail(ctx, identity)
	case CallbackInbox:
		d.inbox(ctx, identity)
	case CallbackExtend:
		d.extend(ctx, identity)
	case CallbackBurn:
		d.burn(ctx, identity)
	case CallbackDashboard:
		d.dashboard(ctx, identity)
	case CallbackBuy:
		d.showPricing(ctx, identity, "")
	default:
		d.logger.Debug("unknown callback", zap.String("data", cb.Data))
	}
}

func (d *Dispatcher) newEmail(ctx context.Context, identity string) {
	session, err := d.mailboxes.Create(ctx, identity)
	if err != nil {
		d.replyError(ctx, identity, err)
		return
	}
	d.reply(ctx, identity, fmt.Sprintf(
		"📧 Your inbox: %s\n⏳ Valid for %s. I'll send you the code as soon as a message arrives.",
		session.Address, humanDuration(session.TTL),
	), MainMenu)
}

func (d *Dispatcher) inbox(ctx context.Context, identity string) {
	session, err := d.mailboxes.Current(ctx, identity)
	if err != nil {
		d.replyError(ctx, identity, err)
		return
	}
	messages, err := d.mailboxes.Inbox(ctx, session.Address)
	if err != nil {
		d.replyError(ctx, identity, err)
		return
	}
	if len(messages) == 0 {
		d.reply(ctx, identity, fmt.Sprintf("📭 No messages yet for %s", session.Address), nil)
		return
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "📥 %s\n", session.Address)
	for _, m := range messages {
		fmt.Fprintf(&sb, "\n• %s: %s", m.From, m.Subject)
		if m.Code != "" {
			fmt.Fprintf(&sb, "\n  🔑 %s", m.Code)
		}
	}
	d.reply(ctx, identity, sb.String(), nil)
}

func (d *Dispatcher) extend(ctx context.Context, identity string) {
	session, err := d.mailboxes.Extend(ctx, identity)
	if err != nil {
		d.replyError(ctx, identity, err)
		return
	}
	d.reply(ctx, identity, fmt.Sprintf("⏳ %s extended by %s.", session.Address, humanDuration(session.TTL)), nil)
}

// burn 成功时由邮箱服务发送销毁通知，这里只回复错误
func (d *Dispatcher) burn(ctx context.Context, identity string) {
	if _, err := d.mailboxes.Burn(ctx, identity); err != nil {
		d.replyError(ctx, identity, err)
	}
}

func (d *Dispatcher) dashboard(ctx context.Context, identity string) {
	status, err := d.entitlements.Status(ctx, identity)
	if err != nil {
		d.replyError(ctx, identity, err)
		return
	}

	var sb strings.Builder
	sb.WriteString("📊 Dashboard\n")
	if status.Unlimited {
		sb.WriteString("Plan: 💎 Premium (unlimited)\n")
	} else {
		fmt.Fprintf(&sb, "Plan: Free\nUsed today: %d/%d\n", status.Count, status.Limit)
	}
	if session, err := d.mailboxes.Current(ctx, identity); err == nil {
		fmt.Fprintf(&sb, "Inbox: %s (%s left)", session.Address, humanDuration(session.TTL))
	} else {
		sb.WriteString("Inbox: none")
	}
	d.reply(ctx, identity, strings.TrimRight(sb.String(), "\n"), MainMenu)
}

func (d *Dispatcher) showPricing(ctx context.Context, identity, country string) {
	p, err := d.pricing.Get(ctx, country, "")
	if err != nil {
		d.replyError(ctx, identity, err)
		return
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "💰 Premium pricing (%s, %s)", p.Country, p.Currency)
	for _, plan := range domain.PlanNames {
		if price := p.Plans[plan]; price != "" {
			fmt.Fprintf(&sb, "\n%s: %s", plan, price)
		}
	}
	d.reply(ctx, identity, sb.String(), nil)
}

func (d *Dispatcher) replyError(ctx context.Context, identity string, err error) {
	var text string
	switch {
	case errors.Is(err, domain.ErrQuotaExceeded):
		text = "🚫 Daily free limit reached. Upgrade to premium for unlimited inboxes."
	case errors.Is(err, domain.ErrSessionNotFound):
		text = "⌛ Session expired. Create a new inbox with /new"
	case errors.Is(err, service.ErrTooManyWatchers):
		text = "🕐 We're busy right now, please try again in a minute."
	case errors.Is(err, domain.ErrProviderUnavailable), errors.Is(err, domain.ErrNoDomains):
		text = "⚠️ Mail service is unavailable, please try again later."
	default:
		d.logger.Error("bot command failed", zap.String("identity", identity), zap.Error(err))
		text = "⚠️ Something went wrong, please try again."
	}
	d.reply(ctx, identity, text, nil)
}

func (d *Dispatcher) reply(ctx context.Context, identity, text string, markup *notify.InlineKeyboard) {
	if _, err := d.sender.SendMessageWithMarkup(ctx, identity, text, markup); err != nil {
		d.logger.Warn("bot reply failed", zap.String("identity", identity), zap.Error(err))
	}
}

// parseCommand 拆分命令与参数，去掉 /cmd@botname 中的机器人名
func parseCommand(text string) (string, string) {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return "", ""
	}
	command := strings.ToLower(fields[0])
	if at := strings.IndexByte(command, '@'); at > 0 {
		command = command[:at]
	}
	return command, strings.Join(fields[1:], " ")
}

func humanDuration(d time.Duration) string {
	d = d.Round(time.Minute)
	if d < time.Minute {
		return "less than a minute"
	}
	if d%time.Hour == 0 {
		return fmt.Sprintf("%dh", int(d.Hours()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm", int(d.Minutes()))
	}
	return fmt.Sprintf("%dh%dm", int(d.Hours()), int(d.Minutes())%60)
}

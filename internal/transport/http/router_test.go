package httptransport

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"expressmail/backend/internal/bot"
	"expressmail/backend/internal/config"
	"expressmail/backend/internal/domain"
	"expressmail/backend/internal/health"
	"expressmail/backend/internal/middleware"
	"expressmail/backend/internal/pool"
	"expressmail/backend/internal/service"
	"expressmail/backend/internal/storage/memory"
)

const testAdminKey = "test-admin-key-0123456789"

func init() {
	gin.SetMode(gin.TestMode)
}

// MockMailboxes 模拟邮箱服务
type MockMailboxes struct {
	mock.Mock
}

func (m *MockMailboxes) Domains(ctx context.Context) ([]string, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

func (m *MockMailboxes) Create(ctx context.Context, identity string) (*domain.Session, error) {
	args := m.Called(ctx, identity)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Session), args.Error(1)
}

func (m *MockMailboxes) Inbox(ctx context.Context, address string) ([]domain.InboxMessage, error) {
	args := m.Called(ctx, address)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.InboxMessage), args.Error(1)
}

func (m *MockMailboxes) Current(ctx context.Context, identity string) (*domain.Session, error) {
	args := m.Called(ctx, identity)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Session), args.Error(1)
}

func (m *MockMailboxes) Extend(ctx context.Context, identity string) (*domain.Session, error) {
	args := m.Called(ctx, identity)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Session), args.Error(1)
}

func (m *MockMailboxes) Burn(ctx context.Context, identity string) (string, error) {
	args := m.Called(ctx, identity)
	return args.String(0), args.Error(1)
}

// MockUpdates 模拟 Telegram 更新处理
type MockUpdates struct {
	mock.Mock
}

func (m *MockUpdates) Handle(ctx context.Context, update *bot.Update) {
	m.Called(ctx, update)
}

type stubPool struct{ tasks []pool.TaskInfo }

func (p stubPool) Active() int { return len(p.tasks) }

func (p stubPool) Capacity() int { return 8 }

func (p stubPool) Tasks() []pool.TaskInfo { return p.tasks }

type stubAlerter struct{ ok bool }

func (a stubAlerter) Alert(context.Context, string) bool { return a.ok }

type testEnv struct {
	router    *gin.Engine
	mailboxes *MockMailboxes
	updates   *MockUpdates
	payments  *service.PaymentService
	ent       *service.EntitlementService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	cfg := &config.Config{
		Admin:     config.AdminConfig{Key: testAdminKey},
		CORS:      config.CORSConfig{AllowedOrigins: []string{"*"}},
		RateLimit: config.RateLimitConfig{CreatePerMinute: 2},
		Telegram:  config.TelegramConfig{WebhookSecret: "tg-secret"},
	}

	kv := memory.NewStore()
	ent := service.NewEntitlementService(kv, 3, nil, nil)
	pricing := service.NewPricingService(kv, nil)
	payments := service.NewPaymentService("pay-secret", ent, nil)
	mailboxes := new(MockMailboxes)
	updates := new(MockUpdates)
	watchers := stubPool{tasks: []pool.TaskInfo{{Name: "a@mail.tm", StartedAt: time.Now()}}}

	router := NewRouter(RouterDependencies{
		Config:        cfg,
		Mailboxes:     mailboxes,
		Entitlements:  ent,
		Pricing:       pricing,
		PricingAdmin:  pricing,
		Payments:      payments,
		Updates:       updates,
		Watchers:      watchers,
		Alerter:       stubAlerter{ok: true},
		Health:        health.NewHealthChecker(kv, watchers, nil),
		CreateLimiter: middleware.NewIPRateLimiter(2),
	})

	return &testEnv{router: router, mailboxes: mailboxes, updates: updates, payments: payments, ent: ent}
}

func (e *testEnv) do(method, path string, body []byte, headers map[string]string) (*httptest.ResponseRecorder, Response) {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	req.RemoteAddr = "203.0.113.9:4000"
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)

	var resp Response
	_ = json.Unmarshal(rec.Body.Bytes(), &resp)
	return rec, resp
}

var clientHeaders = map[string]string{middleware.AdminKeyHeader: testAdminKey}

func TestRouter_CreateMailbox(t *testing.T) {
	env := newTestEnv(t)
	env.mailboxes.On("Create", mock.Anything, "42").Return(&domain.Session{
		Address:   "abc@mail.tm",
		Owner:     "42",
		CreatedAt: time.Now(),
		TTL:       time.Hour,
	}, nil).Once()
	env.mailboxes.On("Create", mock.Anything, "43").Return(nil, domain.ErrQuotaExceeded).Once()

	rec, resp := env.do(http.MethodPost, "/v1/mailboxes", []byte(`{"identity":"42"}`), clientHeaders)
	require.Equal(t, http.StatusCreated, rec.Code)
	data := resp.Data.(map[string]interface{})
	assert.Equal(t, "abc@mail.tm", data["address"])
	assert.EqualValues(t, 3600, data["ttlSeconds"])

	rec, resp = env.do(http.MethodPost, "/v1/mailboxes", []byte(`{"identity":"43"}`), clientHeaders)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "今日免费额度已用完", resp.Msg)

	// 第三次请求被 IP 限流
	rec, _ = env.do(http.MethodPost, "/v1/mailboxes", []byte(`{"identity":"44"}`), clientHeaders)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	env.mailboxes.AssertExpectations(t)
}

func TestRouter_CreateMailbox_InvalidBody(t *testing.T) {
	env := newTestEnv(t)

	rec, resp := env.do(http.MethodPost, "/v1/mailboxes", []byte(`{}`), clientHeaders)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, MsgInvalidRequest, resp.Msg)
	env.mailboxes.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

func TestRouter_SessionOperations(t *testing.T) {
	env := newTestEnv(t)
	env.mailboxes.On("Inbox", mock.Anything, "gone@mail.tm").Return(nil, domain.ErrSessionNotFound)
	env.mailboxes.On("Inbox", mock.Anything, "abc@mail.tm").Return([]domain.InboxMessage{
		{From: "noreply@x.com", Subject: "Your code", Code: "482913"},
	}, nil)
	env.mailboxes.On("Extend", mock.Anything, "42").Return(&domain.Session{Address: "abc@mail.tm", Owner: "42", TTL: time.Hour}, nil)
	env.mailboxes.On("Burn", mock.Anything, "42").Return("abc@mail.tm", nil)
	env.mailboxes.On("Burn", mock.Anything, "7").Return("", domain.ErrSessionNotFound)
	env.mailboxes.On("Domains", mock.Anything).Return(nil, domain.ErrProviderUnavailable)

	rec, resp := env.do(http.MethodGet, "/v1/mailboxes/gone@mail.tm/messages", nil, clientHeaders)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "邮箱会话已过期", resp.Msg)

	rec, resp = env.do(http.MethodGet, "/v1/mailboxes/abc@mail.tm/messages", nil, clientHeaders)
	require.Equal(t, http.StatusOK, rec.Code)
	data := resp.Data.(map[string]interface{})
	assert.EqualValues(t, 1, data["count"])

	rec, _ = env.do(http.MethodPost, "/v1/sessions/42/extend", nil, clientHeaders)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, resp = env.do(http.MethodDelete, "/v1/sessions/42", nil, clientHeaders)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "邮箱已销毁", resp.Msg)

	rec, _ = env.do(http.MethodDelete, "/v1/sessions/7", nil, clientHeaders)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, _ = env.do(http.MethodGet, "/v1/domains", nil, nil)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestRouter_MailboxRoutesRequireKey(t *testing.T) {
	env := newTestEnv(t)

	routes := []struct {
		method string
		path   string
		body   []byte
	}{
		{http.MethodPost, "/v1/mailboxes", []byte(`{"identity":"42"}`)},
		{http.MethodGet, "/v1/mailboxes/abc@mail.tm/messages", nil},
		{http.MethodGet, "/v1/sessions/42", nil},
		{http.MethodPost, "/v1/sessions/42/extend", nil},
		{http.MethodDelete, "/v1/sessions/42", nil},
	}
	for _, r := range routes {
		rec, _ := env.do(r.method, r.path, r.body, nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, "%s %s", r.method, r.path)

		rec, _ = env.do(r.method, r.path, r.body, map[string]string{middleware.AdminKeyHeader: "guess"})
		assert.Equal(t, http.StatusForbidden, rec.Code, "%s %s", r.method, r.path)
	}

	env.mailboxes.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
	env.mailboxes.AssertNotCalled(t, "Inbox", mock.Anything, mock.Anything)
	env.mailboxes.AssertNotCalled(t, "Current", mock.Anything, mock.Anything)
	env.mailboxes.AssertNotCalled(t, "Extend", mock.Anything, mock.Anything)
	env.mailboxes.AssertNotCalled(t, "Burn", mock.Anything, mock.Anything)

	env.mailboxes.On("Domains", mock.Anything).Return([]string{"mail.tm"}, nil)
	rec, _ := env.do(http.MethodGet, "/v1/domains", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code, "域名列表保持公开")
}

func TestRouter_AdminRequiresKey(t *testing.T) {
	env := newTestEnv(t)

	rec, _ := env.do(http.MethodPost, "/v1/admin/premium/42", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, _ = env.do(http.MethodPost, "/v1/admin/premium/42", nil, map[string]string{middleware.AdminKeyHeader: "nope"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	admin := map[string]string{middleware.AdminKeyHeader: testAdminKey}

	rec, _ = env.do(http.MethodPost, "/v1/admin/premium/42", nil, admin)
	require.Equal(t, http.StatusOK, rec.Code)

	unlimited, err := env.ent.IsUnlimited(context.Background(), "42")
	require.NoError(t, err)
	assert.True(t, unlimited)

	rec, resp := env.do(http.MethodGet, "/v1/admin/entitlements/42", nil, admin)
	require.Equal(t, http.StatusOK, rec.Code)
	data := resp.Data.(map[string]interface{})
	assert.EqualValues(t, -1, data["remaining"])

	rec, _ = env.do(http.MethodDelete, "/v1/admin/premium/42", nil, admin)
	require.Equal(t, http.StatusOK, rec.Code)

	rec, resp = env.do(http.MethodGet, "/v1/admin/watchers", nil, admin)
	require.Equal(t, http.StatusOK, rec.Code)
	data = resp.Data.(map[string]interface{})
	assert.EqualValues(t, 1, data["active"])

	rec, _ = env.do(http.MethodPost, "/v1/bot/alert", []byte(`{"text":"disk full"}`), admin)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRouter_Pricing(t *testing.T) {
	env := newTestEnv(t)
	admin := map[string]string{middleware.AdminKeyHeader: testAdminKey}

	rec, _ := env.do(http.MethodPost, "/v1/admin/pricing/in", []byte(`{"week":"49","currency":"INR"}`), admin)
	require.Equal(t, http.StatusOK, rec.Code)

	rec, _ = env.do(http.MethodPost, "/v1/admin/pricing/in", []byte(`{"lifetime":"999"}`), admin)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, resp := env.do(http.MethodGet, "/v1/pricing?country=IN", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	data := resp.Data.(map[string]interface{})
	assert.Equal(t, "IN", data["country"])
	assert.Equal(t, "INR", data["currency"])
	assert.Equal(t, "49", data["plans"].(map[string]interface{})["week"])
}

func TestRouter_PaymentWebhook(t *testing.T) {
	env := newTestEnv(t)
	body := []byte(`{"merchantOrderId":"42","status":"PAID"}`)

	rec, _ := env.do(http.MethodPost, "/v1/payments/binance/webhook", body, map[string]string{PaymentSignatureHeader: "deadbeef"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, resp := env.do(http.MethodPost, "/v1/payments/binance/webhook", body, map[string]string{PaymentSignatureHeader: env.payments.Sign(body)})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, resp.Data.(map[string]interface{})["granted"])

	unlimited, err := env.ent.IsUnlimited(context.Background(), "42")
	require.NoError(t, err)
	assert.True(t, unlimited)
}

func TestRouter_TelegramWebhook(t *testing.T) {
	env := newTestEnv(t)
	env.updates.On("Handle", mock.Anything, mock.MatchedBy(func(u *bot.Update) bool {
		return u.Message != nil && u.Message.Text == "/start"
	})).Return().Once()

	body := []byte(`{"update_id":1,"message":{"message_id":5,"text":"/start","chat":{"id":42}}}`)

	rec, _ := env.do(http.MethodPost, "/v1/telegram/webhook", body, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, _ = env.do(http.MethodPost, "/v1/telegram/webhook", body, map[string]string{TelegramSecretHeader: "tg-secret"})
	assert.Equal(t, http.StatusOK, rec.Code)

	env.updates.AssertExpectations(t)
}

func TestRouter_Health(t *testing.T) {
	env := newTestEnv(t)

	rec, _ := env.do(http.MethodGet, "/health", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"store":"OK"`)

	rec, _ = env.do(http.MethodGet, "/health/ready", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, _ = env.do(http.MethodGet, "/health/live", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

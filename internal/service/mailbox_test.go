package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"expressmail/backend/internal/domain"
	"expressmail/backend/internal/pool"
	"expressmail/backend/internal/storage"
	"expressmail/backend/internal/storage/memory"
	"expressmail/backend/internal/watcher"
)

// MockProvider 模拟上游邮件服务
type MockProvider struct {
	mock.Mock
}

func (m *MockProvider) Domains(ctx context.Context) ([]string, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

func (m *MockProvider) CreateAccount(ctx context.Context, address, password string) error {
	args := m.Called(ctx, address, password)
	return args.Error(0)
}

func (m *MockProvider) Login(ctx context.Context, address, password string) (string, error) {
	args := m.Called(ctx, address, password)
	return args.String(0), args.Error(1)
}

func (m *MockProvider) ListMessages(ctx context.Context, credential string) ([]domain.MessageRef, error) {
	args := m.Called(ctx, credential)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.MessageRef), args.Error(1)
}

func (m *MockProvider) GetMessage(ctx context.Context, credential, id string) (*domain.Message, error) {
	args := m.Called(ctx, credential, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Message), args.Error(1)
}

// MockSpawner 模拟任务启动器
type MockSpawner struct {
	mock.Mock
}

func (m *MockSpawner) Spawn(name string, task pool.Task) error {
	args := m.Called(name, task)
	return args.Error(0)
}

// MockNotifier 模拟通知发送
type MockNotifier struct {
	mock.Mock
}

func (m *MockNotifier) Notify(ctx context.Context, identity, text string) (int64, bool) {
	args := m.Called(ctx, identity, text)
	return args.Get(0).(int64), args.Bool(1)
}

func (m *MockNotifier) ScheduleRemoval(identity string, messageID int64, after time.Duration) {
	m.Called(identity, messageID, after)
}

type mailboxFixture struct {
	svc          *MailboxService
	provider     *MockProvider
	spawner      *MockSpawner
	notifier     *MockNotifier
	store        *storage.MailboxStore
	entitlements *EntitlementService
}

func newMailboxFixture(t *testing.T) *mailboxFixture {
	t.Helper()

	kv := memory.NewStore()
	store := storage.NewMailboxStore(kv)
	entitlements := NewEntitlementService(kv, 2, nil, nil)
	provider := new(MockProvider)
	spawner := new(MockSpawner)
	notifier := new(MockNotifier)

	w := watcher.New(provider, store, entitlements, notifier, watcher.Config{
		PollInterval: time.Millisecond,
		Deadline:     time.Second,
	}, nil, nil)

	svc := NewMailboxService(MailboxDeps{
		Provider:     provider,
		Store:        store,
		Entitlements: entitlements,
		Watcher:      w,
		Spawner:      spawner,
		Notifier:     notifier,
		TTL:          time.Hour,
	})

	return &mailboxFixture{
		svc:          svc,
		provider:     provider,
		spawner:      spawner,
		notifier:     notifier,
		store:        store,
		entitlements: entitlements,
	}
}

func (f *mailboxFixture) expectCreate() {
	f.provider.On("Domains", mock.Anything).Return([]string{"mail.tm", "other.tm"}, nil)
	f.provider.On("CreateAccount", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	f.provider.On("Login", mock.Anything, mock.Anything, mock.Anything).Return("jwt-token", nil)
}

func TestMailboxService_Create(t *testing.T) {
	ctx := context.Background()
	f := newMailboxFixture(t)
	f.expectCreate()
	f.spawner.On("Spawn", mock.Anything, mock.Anything).Return(nil)

	session, err := f.svc.Create(ctx, "42")
	require.NoError(t, err)

	assert.True(t, strings.HasSuffix(session.Address, "@mail.tm"), "使用第一个域名")
	assert.Len(t, strings.Split(session.Address, "@")[0], localPartLength)
	assert.Equal(t, "42", session.Owner)
	assert.Equal(t, time.Hour, session.TTL)

	credential, err := f.store.Credential(ctx, session.Address)
	require.NoError(t, err)
	assert.Equal(t, "jwt-token", credential)

	address, err := f.store.Session(ctx, "42")
	require.NoError(t, err)
	assert.Equal(t, session.Address, address)

	status, err := f.entitlements.Status(ctx, "42")
	require.NoError(t, err)
	assert.Equal(t, int64(1), status.Count)

	f.spawner.AssertCalled(t, "Spawn", session.Address, mock.Anything)
}

func TestMailboxService_CreateQuota(t *testing.T) {
	ctx := context.Background()
	f := newMailboxFixture(t)
	f.expectCreate()
	f.spawner.On("Spawn", mock.Anything, mock.Anything).Return(nil)

	for i := 0; i < 2; i++ {
		_, err := f.svc.Create(ctx, "42")
		require.NoError(t, err)
	}

	_, err := f.svc.Create(ctx, "42")
	assert.ErrorIs(t, err, domain.ErrQuotaExceeded)
	f.provider.AssertNumberOfCalls(t, "CreateAccount", 2)

	require.NoError(t, f.entitlements.GrantUnlimited(ctx, "42", "admin"))
	_, err = f.svc.Create(ctx, "42")
	assert.NoError(t, err)
}

func TestMailboxService_CreateFailuresDoNotChargeQuota(t *testing.T) {
	ctx := context.Background()

	t.Run("上游失败", func(t *testing.T) {
		f := newMailboxFixture(t)
		f.provider.On("Domains", mock.Anything).Return([]string{"mail.tm"}, nil)
		f.provider.On("CreateAccount", mock.Anything, mock.Anything, mock.Anything).Return(errors.New("422"))

		_, err := f.svc.Create(ctx, "42")
		assert.ErrorIs(t, err, domain.ErrProviderUnavailable)

		status, err := f.entitlements.Status(ctx, "42")
		require.NoError(t, err)
		assert.Zero(t, status.Count)
	})

	t.Run("没有域名", func(t *testing.T) {
		f := newMailboxFixture(t)
		f.provider.On("Domains", mock.Anything).Return([]string{}, nil)

		_, err := f.svc.Create(ctx, "42")
		assert.ErrorIs(t, err, domain.ErrNoDomains)
	})

	t.Run("监视任务已满时回滚", func(t *testing.T) {
		f := newMailboxFixture(t)
		f.expectCreate()
		f.spawner.On("Spawn", mock.Anything, mock.Anything).Return(pool.ErrPoolFull)

		_, err := f.svc.Create(ctx, "42")
		assert.ErrorIs(t, err, ErrTooManyWatchers)

		_, err = f.store.Session(ctx, "42")
		assert.ErrorIs(t, err, domain.ErrSessionNotFound)

		addresses, err := f.store.LiveAddresses(ctx)
		require.NoError(t, err)
		assert.Empty(t, addresses)

		status, err := f.entitlements.Status(ctx, "42")
		require.NoError(t, err)
		assert.Zero(t, status.Count)
	})

	t.Run("失败退还的额度可以再次使用", func(t *testing.T) {
		f := newMailboxFixture(t)
		f.provider.On("Domains", mock.Anything).Return([]string{"mail.tm"}, nil)
		f.provider.On("CreateAccount", mock.Anything, mock.Anything, mock.Anything).Return(nil)
		f.provider.On("Login", mock.Anything, mock.Anything, mock.Anything).Return("", errors.New("401")).Times(3)
		f.provider.On("Login", mock.Anything, mock.Anything, mock.Anything).Return("jwt-token", nil)
		f.spawner.On("Spawn", mock.Anything, mock.Anything).Return(nil)

		for i := 0; i < 3; i++ {
			_, err := f.svc.Create(ctx, "42")
			assert.ErrorIs(t, err, domain.ErrProviderUnavailable)
		}

		for i := 0; i < 2; i++ {
			_, err := f.svc.Create(ctx, "42")
			require.NoError(t, err)
		}
		_, err := f.svc.Create(ctx, "42")
		assert.ErrorIs(t, err, domain.ErrQuotaExceeded)

		status, err := f.entitlements.Status(ctx, "42")
		require.NoError(t, err)
		assert.Equal(t, int64(2), status.Count)
	})

	t.Run("无效身份", func(t *testing.T) {
		f := newMailboxFixture(t)
		_, err := f.svc.Create(ctx, "")
		assert.ErrorIs(t, err, domain.ErrInvalidIdentity)
	})
}

func TestMailboxService_ExtendAndBurn(t *testing.T) {
	ctx := context.Background()
	f := newMailboxFixture(t)

	_, err := f.svc.Extend(ctx, "42")
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
	_, err = f.svc.Burn(ctx, "42")
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)

	require.NoError(t, f.store.Put(ctx, "a@mail.tm", "jwt", time.Minute))
	require.NoError(t, f.store.PutSession(ctx, "42", "a@mail.tm", time.Minute))

	session, err := f.svc.Extend(ctx, "42")
	require.NoError(t, err)
	assert.Equal(t, "a@mail.tm", session.Address)

	remaining, err := f.store.Remaining(ctx, "a@mail.tm")
	require.NoError(t, err)
	assert.Greater(t, remaining, 59*time.Minute)

	current, err := f.svc.Current(ctx, "42")
	require.NoError(t, err)
	assert.Equal(t, "a@mail.tm", current.Address)

	f.notifier.On("Notify", mock.Anything, "42", mock.MatchedBy(func(text string) bool {
		return strings.Contains(text, "a@mail.tm") && strings.Contains(text, "destroyed")
	})).Return(int64(1), true).Once()

	address, err := f.svc.Burn(ctx, "42")
	require.NoError(t, err)
	assert.Equal(t, "a@mail.tm", address)

	_, err = f.svc.Burn(ctx, "42")
	assert.ErrorIs(t, err, domain.ErrSessionNotFound, "重复 burn 为空操作")
	f.notifier.AssertExpectations(t)
}

func TestMailboxService_Inbox(t *testing.T) {
	ctx := context.Background()
	f := newMailboxFixture(t)

	_, err := f.svc.Inbox(ctx, "a@mail.tm")
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)

	_, err = f.svc.Inbox(ctx, "not-an-address")
	assert.ErrorIs(t, err, domain.ErrInvalidEmail)

	require.NoError(t, f.store.Put(ctx, "a@mail.tm", "jwt", time.Minute))
	f.provider.On("ListMessages", mock.Anything, "jwt").Return([]domain.MessageRef{
		{ID: "m1", From: "x@svc.com", Subject: "Code"},
		{ID: "m2", From: "y@svc.com", Subject: "Hello"},
	}, nil)
	f.provider.On("GetMessage", mock.Anything, "jwt", "m1").Return(&domain.Message{
		Text: domain.Fragments{"Your login code is 905112, enjoy"},
	}, nil)
	f.provider.On("GetMessage", mock.Anything, "jwt", "m2").Return(nil, errors.New("timeout"))

	messages, err := f.svc.Inbox(ctx, "A@Mail.tm")
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Equal(t, "905112", messages[0].Code)
	assert.Equal(t, "x@svc.com", messages[0].From)
	assert.Empty(t, messages[1].Code)
}

func TestMailboxService_InboxUsesFullBody(t *testing.T) {
	ctx := context.Background()
	f := newMailboxFixture(t)
	require.NoError(t, f.store.Put(ctx, "a@mail.tm", "jwt", time.Minute))

	filler := make([]string, 45)
	for i := range filler {
		filler[i] = fmt.Sprintf("paragraph %d of the newsletter", i)
	}

	f.provider.On("ListMessages", mock.Anything, "jwt").Return([]domain.MessageRef{
		{ID: "long", Subject: "Digest"},
		{ID: "html", Subject: "Welcome"},
	}, nil)
	f.provider.On("GetMessage", mock.Anything, "jwt", "long").Return(&domain.Message{
		Text: domain.Fragments{strings.Join(filler, "\n") + "\nYour code: 482913"},
	}, nil)
	f.provider.On("GetMessage", mock.Anything, "jwt", "html").Return(&domain.Message{
		Text: domain.Fragments{"Welcome aboard, thanks for joining us"},
		HTML: domain.Fragments{"<p>Confirm with <b>7731</b></p>"},
	}, nil)

	messages, err := f.svc.Inbox(ctx, "a@mail.tm")
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Equal(t, "482913", messages[0].Code, "第四十行之后的验证码")
	assert.Equal(t, "7731", messages[1].Code, "纯文本足够长时仍检查 HTML")
}

func TestMailboxService_EndToEnd(t *testing.T) {
	ctx := context.Background()
	kv := memory.NewStore()
	store := storage.NewMailboxStore(kv)
	entitlements := NewEntitlementService(kv, 3, nil, nil)

	provider := new(MockProvider)
	provider.On("Domains", mock.Anything).Return([]string{"mail.tm"}, nil)
	provider.On("CreateAccount", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	provider.On("Login", mock.Anything, mock.Anything, mock.Anything).Return("jwt", nil)
	provider.On("ListMessages", mock.Anything, "jwt").Return([]domain.MessageRef{{ID: "m1"}}, nil)
	provider.On("GetMessage", mock.Anything, "jwt", "m1").Return(&domain.Message{
		From:    "noreply@svc.com",
		Subject: "Verify",
		Text:    domain.Fragments{"Your verification code is 48213, expires soon"},
	}, nil)

	notifier := new(MockNotifier)
	notifier.On("Notify", mock.Anything, "42", mock.Anything).Return(int64(9), true).Twice()
	notifier.On("ScheduleRemoval", "42", int64(9), time.Minute).Once()

	supervisor := pool.NewSupervisor(ctx, 4, nil, nil)
	w := watcher.New(provider, store, entitlements, notifier, watcher.Config{
		PollInterval: time.Millisecond,
		Deadline:     time.Second,
		DeleteAfter:  time.Minute,
	}, nil, nil)
	svc := NewMailboxService(MailboxDeps{
		Provider:     provider,
		Store:        store,
		Entitlements: entitlements,
		Watcher:      w,
		Spawner:      supervisor,
		Notifier:     notifier,
		TTL:          time.Hour,
	})

	session, err := svc.Create(ctx, "42")
	require.NoError(t, err)
	supervisor.Wait()

	_, err = store.Credential(ctx, session.Address)
	assert.ErrorIs(t, err, domain.ErrSessionNotFound, "免费用户投递后邮箱被销毁")
	notifier.AssertExpectations(t)
	notifier.AssertNumberOfCalls(t, "Notify", 2)
}

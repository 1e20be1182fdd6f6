package usecase_test

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"jobchat/internal/adapter/repository/memory"
	"jobchat/internal/domain/entity"
	"jobchat/internal/usecase"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

type fixture struct {
	store         *memory.Store
	settings      usecase.Settings
	alerts        *recordingAlerts
	files         *MockFileService
	presence      *usecase.PresenceUseCase
	notifications *usecase.NotificationUseCase
	conversations *usecase.ConversationUseCase
	directory     *usecase.DirectoryUseCase
}

func newFixture(t *testing.T, tweak ...func(*usecase.Settings)) *fixture {
	t.Helper()

	settings := usecase.DefaultSettings()
	settings.HeartbeatInterval = 20 * time.Millisecond
	settings.TypingTimeout = 150 * time.Millisecond
	for _, fn := range tweak {
		fn(&settings)
	}

	store := memory.NewStore()
	alerts := newRecordingAlerts()
	files := new(MockFileService)

	f := &fixture{
		store:    store,
		settings: settings,
		alerts:   alerts,
		files:    files,
	}
	f.presence = usecase.NewPresenceUseCase(store.Presence(), settings)
	f.notifications = usecase.NewNotificationUseCase(store.Notifications(), alerts, settings)
	f.conversations = usecase.NewConversationUseCase(store.Chats(), store.Messages(), f.notifications, files, settings)
	f.directory = usecase.NewDirectoryUseCase(store.Chats(), f.conversations, settings)
	return f
}

func (f *fixture) deps() usecase.SessionDeps {
	return usecase.SessionDeps{
		Presence:      f.presence,
		Directory:     f.directory,
		Conversations: f.conversations,
		Notifications: f.notifications,
		Settings:      f.settings,
	}
}

func (f *fixture) chat(t *testing.T, a, b string) *entity.Chat {
	t.Helper()
	chat, err := f.directory.CreateOrGetChat(context.Background(), a, usecase.CreateChatInput{OtherUserID: b})
	require.NoError(t, err)
	return chat
}

func (f *fixture) send(t *testing.T, chatID, sender, content string) *entity.Message {
	t.Helper()
	msg, err := f.conversations.SendMessage(context.Background(), sender, usecase.SendMessageInput{
		ChatID:  chatID,
		Content: content,
	})
	require.NoError(t, err)
	return msg
}

type alert struct {
	userID       string
	notification *entity.Notification
}

type recordingAlerts struct {
	mu     sync.Mutex
	online map[string]bool
	raised []alert
}

func newRecordingAlerts() *recordingAlerts {
	return &recordingAlerts{online: make(map[string]bool)}
}

func (a *recordingAlerts) setOnline(userID string) {
	a.mu.Lock()
	a.online[userID] = true
	a.mu.Unlock()
}

func (a *recordingAlerts) Alert(userID string, n *entity.Notification) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.online[userID] {
		return false
	}
	a.raised = append(a.raised, alert{userID: userID, notification: n})
	return true
}

func (a *recordingAlerts) all() []alert {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]alert(nil), a.raised...)
}

type MockFileService struct {
	mock.Mock
}

func (m *MockFileService) UploadFile(ctx context.Context, file io.Reader, fileType, folder string) (string, error) {
	args := m.Called(ctx, file, fileType, folder)
	return args.String(0), args.Error(1)
}

func (m *MockFileService) DeleteFile(ctx context.Context, fileURL string) error {
	args := m.Called(ctx, fileURL)
	return args.Error(0)
}

func (m *MockFileService) Close() error {
	return nil
}

type typingEvent struct {
	chatID   string
	userID   string
	isTyping bool
}

// recordingHooks captures session callbacks for assertions.
type recordingHooks struct {
	mu            sync.Mutex
	chatLists     [][]*entity.Chat
	messages      map[string][][]*entity.Message
	typing        []typingEvent
	notifications []*entity.Notification
	presence      []usecase.PresenceStatus
	errors        map[string]error
}

func newRecordingHooks() *recordingHooks {
	return &recordingHooks{
		messages: make(map[string][][]*entity.Message),
		errors:   make(map[string]error),
	}
}

func (h *recordingHooks) OnChatListChanged(chats []*entity.Chat) {
	h.mu.Lock()
	h.chatLists = append(h.chatLists, chats)
	h.mu.Unlock()
}

func (h *recordingHooks) OnMessagesChanged(chatID string, messages []*entity.Message) {
	h.mu.Lock()
	h.messages[chatID] = append(h.messages[chatID], messages)
	h.mu.Unlock()
}

func (h *recordingHooks) OnTypingChanged(chatID, userID string, isTyping bool) {
	h.mu.Lock()
	h.typing = append(h.typing, typingEvent{chatID: chatID, userID: userID, isTyping: isTyping})
	h.mu.Unlock()
}

func (h *recordingHooks) OnNotification(n *entity.Notification) {
	h.mu.Lock()
	h.notifications = append(h.notifications, n)
	h.mu.Unlock()
}

func (h *recordingHooks) OnPresenceChanged(status usecase.PresenceStatus) {
	h.mu.Lock()
	h.presence = append(h.presence, status)
	h.mu.Unlock()
}

func (h *recordingHooks) OnSubscriptionError(kind string, err error) {
	h.mu.Lock()
	h.errors[kind] = err
	h.mu.Unlock()
}

func (h *recordingHooks) lastChatList() []*entity.Chat {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.chatLists) == 0 {
		return nil
	}
	return h.chatLists[len(h.chatLists)-1]
}

func (h *recordingHooks) lastMessages(chatID string) []*entity.Message {
	h.mu.Lock()
	defer h.mu.Unlock()
	snapshots := h.messages[chatID]
	if len(snapshots) == 0 {
		return nil
	}
	return snapshots[len(snapshots)-1]
}

func (h *recordingHooks) typingEvents() []typingEvent {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]typingEvent(nil), h.typing...)
}

func (h *recordingHooks) notificationCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.notifications)
}

func (h *recordingHooks) lastPresence() (usecase.PresenceStatus, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.presence) == 0 {
		return usecase.PresenceStatus{}, false
	}
	return h.presence[len(h.presence)-1], true
}

func (h *recordingHooks) subscriptionError(kind string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.errors[kind]
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"jobchat/internal/adapter/api"
	"jobchat/internal/adapter/api/handler"
	apimiddleware "jobchat/internal/adapter/api/middleware"
	"jobchat/internal/adapter/api/router"
	"jobchat/internal/adapter/repository/memory"
	"jobchat/internal/domain/service"
	"jobchat/internal/infrastructure/firebase"
	"jobchat/internal/infrastructure/ratelimit"
	ws "jobchat/internal/infrastructure/websocket"
	"jobchat/internal/usecase"
	"jobchat/pkg/response"
)

type testServer struct {
	e        *echo.Echo
	store    *memory.Store
	manager  *ws.Manager
	sessions *handler.WebSocketHandler
	shutdown context.CancelFunc
}

type serverOption func(*serverOptions)

type serverOptions struct {
	files service.FileUploadService
	rules map[string]ratelimit.Rule
}

func withFiles(files service.FileUploadService) serverOption {
	return func(o *serverOptions) { o.files = files }
}

func withRule(action string, rule ratelimit.Rule) serverOption {
	return func(o *serverOptions) { o.rules[action] = rule }
}

func newTestServer(t *testing.T, opts ...serverOption) *testServer {
	t.Helper()
	o := serverOptions{rules: map[string]ratelimit.Rule{
		ratelimit.ActionSendMessage: ratelimit.PerMinute(1000),
		ratelimit.ActionCreateChat:  ratelimit.PerMinute(1000),
		ratelimit.ActionTyping:      ratelimit.PerMinute(1000),
		ratelimit.ActionReaction:    ratelimit.PerMinute(1000),
		ratelimit.ActionHTTP:        ratelimit.PerMinute(1000),
	}}
	for _, opt := range opts {
		opt(&o)
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	store := memory.NewStore()
	settings := usecase.DefaultSettings()
	limiter := ratelimit.NewRateLimiter(o.rules)

	manager := ws.NewManager()
	manager.Start(ctx)

	presence := usecase.NewPresenceUseCase(store.Presence(), settings)
	notifications := usecase.NewNotificationUseCase(store.Notifications(), manager, settings)
	conversations := usecase.NewConversationUseCase(store.Chats(), store.Messages(), notifications, o.files, settings)
	directory := usecase.NewDirectoryUseCase(store.Chats(), conversations, settings)

	handler.Setup(directory, conversations, notifications, presence, o.files, limiter)
	handler.SetupHealthHandler("memory")
	wsHandler := handler.NewWebSocketHandler(manager, usecase.SessionDeps{
		Presence:      presence,
		Directory:     directory,
		Conversations: conversations,
		Notifications: notifications,
		Settings:      settings,
	}, limiter)

	e := echo.New()
	e.Validator = api.NewValidator()
	e.Use(apimiddleware.RateLimit(limiter))
	router.Setup(e, apimiddleware.NewAuthMiddleware(firebase.NewDevIdentityProvider()), wsHandler)

	return &testServer{e: e, store: store, manager: manager, sessions: wsHandler, shutdown: cancel}
}

type envelope struct {
	Success bool                `json:"success"`
	Data    json.RawMessage     `json:"data"`
	Error   *response.ErrorInfo `json:"error"`
}

type listData struct {
	Items json.RawMessage `json:"items"`
	Total int             `json:"total"`
}

func (s *testServer) do(t *testing.T, method, path, uid string, body interface{}) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	return s.serve(t, req, uid)
}

func (s *testServer) serve(t *testing.T, req *http.Request, uid string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	if uid != "" {
		req.Header.Set("Authorization", "Bearer "+firebase.DevToken(uid))
	}
	rec := httptest.NewRecorder()
	s.e.ServeHTTP(rec, req)

	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	return rec, env
}

func decode(t *testing.T, raw json.RawMessage, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(raw, v), string(raw))
}

func decodeList(t *testing.T, env envelope, items interface{}) int {
	t.Helper()
	var list listData
	decode(t, env.Data, &list)
	decode(t, list.Items, items)
	return list.Total
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

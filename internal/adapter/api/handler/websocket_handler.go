package handler

import (
	"context"
	"net/http"
	"sync"

	gorillaws "github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"jobchat/internal/infrastructure/ratelimit"
	ws "jobchat/internal/infrastructure/websocket"
	"jobchat/internal/usecase"
	"jobchat/pkg/logger"
	"jobchat/pkg/response"
)

type WebSocketHandler struct {
	wsManager *ws.Manager
	deps      usecase.SessionDeps
	limiter   *ratelimit.RateLimiter

	sessions sync.WaitGroup
}

var upgrader = gorillaws.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

func NewWebSocketHandler(wsManager *ws.Manager, deps usecase.SessionDeps, limiter *ratelimit.RateLimiter) *WebSocketHandler {
	return &WebSocketHandler{
		wsManager: wsManager,
		deps:      deps,
		limiter:   limiter,
	}
}

// HandleWebSocket upgrades the request and serves one session until the
// connection ends. The session is stopped on every exit path, which
// releases its presence lease and subscriptions.
func (h *WebSocketHandler) HandleWebSocket(c echo.Context) error {
	userID, err := currentUser(c)
	if err != nil {
		return response.Error(c, err)
	}

	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		logger.Warn("WebSocket: upgrade failed for %s: %v", userID, err)
		return nil
	}

	client := ws.NewClient(userID, conn)
	if !h.wsManager.Add(client) {
		logger.Warn("WebSocket: rejecting %s, server is shutting down", userID)
		conn.Close()
		return nil
	}
	h.sessions.Add(1)
	defer h.sessions.Done()

	ctx, cancel := context.WithCancel(context.WithoutCancel(c.Request().Context()))
	defer cancel()

	wc := newWSConnection(ctx, client, h.deps.Conversations, h.limiter)
	session := usecase.NewSession(userID, h.deps, wc)
	wc.session = session
	defer session.Stop()

	go client.WritePump()

	if err := session.Start(ctx); err != nil {
		logger.LogSessionError(userID, "start session", err)
		wc.sendError("", err)
		client.Close()
	}

	client.ReadPump(h.wsManager, wc.dispatch)
	return nil
}

// Drain waits for every running session to finish its teardown writes.
// Call it after the manager has closed the connections and before the
// store is closed.
func (h *WebSocketHandler) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		h.sessions.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

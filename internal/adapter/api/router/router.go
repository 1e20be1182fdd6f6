package router

import (
	"github.com/labstack/echo/v4"

	"jobchat/internal/adapter/api/handler"
	"jobchat/internal/adapter/api/middleware"
)

func Setup(e *echo.Echo, authMiddleware *middleware.AuthMiddleware, wsHandler *handler.WebSocketHandler) {
	SetupChatRouter(e, handler.GetChatHandler(), handler.GetFileHandler(), authMiddleware)
	SetupNotificationRouter(e, handler.GetNotificationHandler(), handler.GetPresenceHandler(), authMiddleware)
	SetupWebSocketRouter(e, wsHandler, authMiddleware)
	SetupHealthRouter(e)
}

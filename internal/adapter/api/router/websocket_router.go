package router

import (
	"github.com/labstack/echo/v4"

	"jobchat/internal/adapter/api/handler"
	"jobchat/internal/adapter/api/middleware"
)

// SetupWebSocketRouter sets up the session endpoint. Browsers pass the
// token as ?token= since they cannot set headers on the upgrade.
func SetupWebSocketRouter(e *echo.Echo, wsHandler *handler.WebSocketHandler, authMiddleware *middleware.AuthMiddleware) {
	e.GET("/ws", wsHandler.HandleWebSocket, authMiddleware.AuthenticateWebSocket)
}

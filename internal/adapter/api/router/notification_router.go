package router

import (
	"github.com/labstack/echo/v4"

	"jobchat/internal/adapter/api/handler"
	"jobchat/internal/adapter/api/middleware"
)

func SetupNotificationRouter(e *echo.Echo, notificationHandler *handler.NotificationHandler, presenceHandler *handler.PresenceHandler, authMiddleware *middleware.AuthMiddleware) {
	notificationGroup := e.Group("/v1/notifications")
	notificationGroup.Use(authMiddleware.Authenticate)
	notificationGroup.GET("", notificationHandler.GetNotifications)
	notificationGroup.PUT("/:id/read", notificationHandler.MarkAsRead)

	presenceGroup := e.Group("/v1/presence")
	presenceGroup.Use(authMiddleware.Authenticate)
	presenceGroup.GET("/:userId", presenceHandler.GetPresence)
}

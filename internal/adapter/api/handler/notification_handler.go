package handler

import (
	"github.com/labstack/echo/v4"

	"jobchat/internal/usecase"
	"jobchat/pkg/response"
	"jobchat/pkg/utils"
)

type NotificationHandler struct {
	notificationUseCase *usecase.NotificationUseCase
}

func NewNotificationHandler(notificationUseCase *usecase.NotificationUseCase) *NotificationHandler {
	return &NotificationHandler{
		notificationUseCase: notificationUseCase,
	}
}

// GetNotifications lists the newest notifications of the caller.
func (h *NotificationHandler) GetNotifications(c echo.Context) error {
	userID, err := currentUser(c)
	if err != nil {
		return response.Error(c, err)
	}

	limit := utils.GetLimit(c, 20, 50)
	notifications, err := h.notificationUseCase.List(c.Request().Context(), userID, limit)
	if err != nil {
		return response.Error(c, err)
	}

	return response.List(c, notifications, len(notifications))
}

func (h *NotificationHandler) MarkAsRead(c echo.Context) error {
	userID, err := currentUser(c)
	if err != nil {
		return response.Error(c, err)
	}

	if err := h.notificationUseCase.MarkRead(c.Request().Context(), userID, c.Param("id")); err != nil {
		return response.Error(c, err)
	}

	return response.Success(c, map[string]string{"message": "Notification marked as read"})
}

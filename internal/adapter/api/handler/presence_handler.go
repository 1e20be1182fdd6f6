package handler

import (
	"github.com/labstack/echo/v4"

	"jobchat/internal/usecase"
	"jobchat/pkg/errors"
	"jobchat/pkg/response"
)

type PresenceHandler struct {
	presenceUseCase *usecase.PresenceUseCase
}

func NewPresenceHandler(presenceUseCase *usecase.PresenceUseCase) *PresenceHandler {
	return &PresenceHandler{
		presenceUseCase: presenceUseCase,
	}
}

func (h *PresenceHandler) GetPresence(c echo.Context) error {
	if _, err := currentUser(c); err != nil {
		return response.Error(c, err)
	}

	userID := c.Param("userId")
	if userID == "" {
		return response.Error(c, errors.BadRequest("User ID is required", nil))
	}

	status, err := h.presenceUseCase.Status(c.Request().Context(), userID)
	if err != nil {
		return response.Error(c, err)
	}

	return response.Success(c, status)
}

package handler

import (
	"fmt"
	"math"

	"github.com/labstack/echo/v4"

	"jobchat/internal/domain/service"
	"jobchat/internal/infrastructure/ratelimit"
	"jobchat/internal/usecase"
	"jobchat/pkg/errors"
)

var (
	chatHandler         *ChatHandler
	fileHandler         *FileHandler
	notificationHandler *NotificationHandler
	presenceHandler     *PresenceHandler
)

func Setup(
	directoryUseCase *usecase.DirectoryUseCase,
	conversationUseCase *usecase.ConversationUseCase,
	notificationUseCase *usecase.NotificationUseCase,
	presenceUseCase *usecase.PresenceUseCase,
	fileService service.FileUploadService,
	limiter *ratelimit.RateLimiter,
) {
	chatHandler = NewChatHandler(directoryUseCase, conversationUseCase, limiter)
	fileHandler = NewFileHandler(fileService, directoryUseCase)
	notificationHandler = NewNotificationHandler(notificationUseCase)
	presenceHandler = NewPresenceHandler(presenceUseCase)
}

func GetChatHandler() *ChatHandler {
	return chatHandler
}

func GetFileHandler() *FileHandler {
	return fileHandler
}

func GetNotificationHandler() *NotificationHandler {
	return notificationHandler
}

func GetPresenceHandler() *PresenceHandler {
	return presenceHandler
}

// currentUser returns the uid set by the auth middleware.
func currentUser(c echo.Context) (string, error) {
	userID, ok := c.Get("uid").(string)
	if !ok || userID == "" {
		return "", errors.Unauthenticated("Authentication required")
	}
	return userID, nil
}

// allow charges one unit of action to userID. A nil limiter allows all.
func allow(limiter *ratelimit.RateLimiter, userID, action string) (int, error) {
	if limiter == nil {
		return 0, nil
	}
	ok, wait := limiter.Allow(userID, action)
	if ok {
		return 0, nil
	}
	retryAfter := int(math.Ceil(wait.Seconds()))
	if retryAfter < 1 {
		retryAfter = 1
	}
	return retryAfter, errors.TooManyRequests(fmt.Sprintf("Too many %s requests, retry in %ds", action, retryAfter))
}

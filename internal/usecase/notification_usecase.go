package usecase

import (
	"context"
	"unicode/utf8"

	"github.com/google/uuid"

	"jobchat/internal/domain/entity"
	"jobchat/internal/domain/repository"
	"jobchat/pkg/errors"
	"jobchat/pkg/logger"
)

const notificationBodyMaxRunes = 100

type NotificationUseCase struct {
	notificationRepo repository.NotificationRepository
	alerts           AlertSink
	settings         Settings
}

func NewNotificationUseCase(notificationRepo repository.NotificationRepository, alerts AlertSink, settings Settings) *NotificationUseCase {
	return &NotificationUseCase{
		notificationRepo: notificationRepo,
		alerts:           alerts,
		settings:         settings,
	}
}

// SetAlertSink attaches the live-session alert target once the transport
// is up.
func (uc *NotificationUseCase) SetAlertSink(alerts AlertSink) {
	uc.alerts = alerts
}

// Prepare builds a new-message notification without persisting it, so the
// caller can commit it together with the message.
func (uc *NotificationUseCase) Prepare(recipientID, chatID, senderID, body string) *entity.Notification {
	if utf8.RuneCountInString(body) > notificationBodyMaxRunes {
		body = string([]rune(body)[:notificationBodyMaxRunes]) + "…"
	}
	return &entity.Notification{
		ID:          uuid.New().String(),
		RecipientID: recipientID,
		Type:        entity.NotificationTypeMessage,
		Title:       "New message",
		Body:        body,
		ChatID:      chatID,
		SenderID:    senderID,
		IsRead:      false,
		CreatedAt:   uc.settings.now(),
	}
}

// Alert raises the immediate alert for an already committed notification.
func (uc *NotificationUseCase) Alert(notification *entity.Notification) {
	if uc.alerts == nil || notification == nil {
		return
	}
	if !uc.alerts.Alert(notification.RecipientID, notification) {
		logger.Debug("No live alert target for user %s", notification.RecipientID)
	}
}

// Notify persists a standalone notification and alerts the recipient.
// Failures are logged and never reach the caller.
func (uc *NotificationUseCase) Notify(ctx context.Context, recipientID, chatID, senderID, body string) {
	if recipientID == "" {
		return
	}
	n := uc.Prepare(recipientID, chatID, senderID, body)
	if err := uc.notificationRepo.Create(ctx, n); err != nil {
		logger.Warn("Failed to record notification for %s: %v", recipientID, err)
		return
	}
	uc.Alert(n)
}

func (uc *NotificationUseCase) List(ctx context.Context, userID string, limit int) ([]*entity.Notification, error) {
	if userID == "" {
		return nil, errors.Unauthenticated("Notifications require an authenticated user")
	}
	if limit <= 0 {
		limit = uc.settings.NotificationWindow
	}
	return uc.notificationRepo.ListByRecipient(ctx, userID, limit)
}

func (uc *NotificationUseCase) MarkRead(ctx context.Context, userID, notificationID string) error {
	if userID == "" {
		return errors.Unauthenticated("Notifications require an authenticated user")
	}
	return uc.notificationRepo.MarkRead(ctx, userID, notificationID)
}

func (uc *NotificationUseCase) Subscribe(ctx context.Context, userID string, onChange func([]*entity.Notification), onError repository.ErrorHandler) (repository.Subscription, error) {
	if userID == "" {
		return nil, errors.Unauthenticated("Notifications require an authenticated user")
	}
	return uc.notificationRepo.SubscribeByRecipient(ctx, userID, uc.settings.NotificationWindow, onChange, onError)
}

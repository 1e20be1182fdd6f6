package repository

import (
	"context"

	"jobchat/internal/domain/entity"
)

type PresenceRepository interface {
	Upsert(ctx context.Context, record *entity.PresenceRecord) error
	// Get returns a NOT_FOUND error if the user never started a session.
	Get(ctx context.Context, userID string) (*entity.PresenceRecord, error)
	Subscribe(ctx context.Context, userID string, onChange func(*entity.PresenceRecord), onError ErrorHandler) (Subscription, error)
}

type NotificationRepository interface {
	Create(ctx context.Context, notification *entity.Notification) error
	ListByRecipient(ctx context.Context, recipientID string, limit int) ([]*entity.Notification, error)
	MarkRead(ctx context.Context, recipientID, notificationID string) error
	SubscribeByRecipient(ctx context.Context, recipientID string, limit int, onChange func([]*entity.Notification), onError ErrorHandler) (Subscription, error)
}

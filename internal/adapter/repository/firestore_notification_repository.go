package repository

import (
	"context"
	"log"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/google/uuid"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"jobchat/internal/domain/entity"
	"jobchat/internal/domain/repository"
	"jobchat/pkg/errors"
)

type firestoreNotificationRepository struct {
	client *firestore.Client
}

func NewFirestoreNotificationRepository(client *firestore.Client) repository.NotificationRepository {
	return &firestoreNotificationRepository{
		client: client,
	}
}

func (r *firestoreNotificationRepository) Create(ctx context.Context, notification *entity.Notification) error {
	if notification.ID == "" {
		notification.ID = uuid.New().String()
	}
	if notification.CreatedAt.IsZero() {
		notification.CreatedAt = time.Now()
	}

	_, err := r.client.Collection(notificationsCollection).Doc(notification.ID).Set(ctx, notification)
	if err != nil {
		return storeError("Failed to create notification", err)
	}
	return nil
}

func (r *firestoreNotificationRepository) recipientQuery(recipientID string, limit int) firestore.Query {
	query := r.client.Collection(notificationsCollection).
		Where("recipientId", "==", recipientID).
		OrderBy("createdAt", firestore.Desc)
	if limit > 0 {
		query = query.Limit(limit)
	}
	return query
}

func (r *firestoreNotificationRepository) ListByRecipient(ctx context.Context, recipientID string, limit int) ([]*entity.Notification, error) {
	docs, err := r.recipientQuery(recipientID, limit).Documents(ctx).GetAll()
	if err != nil {
		return nil, storeError("Failed to list notifications", err)
	}
	return decodeNotifications(docs), nil
}

func (r *firestoreNotificationRepository) MarkRead(ctx context.Context, recipientID, notificationID string) error {
	ref := r.client.Collection(notificationsCollection).Doc(notificationID)
	err := r.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		doc, err := tx.Get(ref)
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return errors.NotFound("Notification", nil)
			}
			return err
		}

		var n entity.Notification
		if err := doc.DataTo(&n); err != nil {
			return errors.Internal("Failed to parse notification data", err)
		}
		if n.RecipientID != recipientID {
			return errors.NotFound("Notification", nil)
		}
		if n.IsRead {
			return nil
		}
		return tx.Update(ref, []firestore.Update{{Path: "isRead", Value: true}})
	})
	if err != nil {
		return storeError("Failed to mark notification as read", err)
	}
	return nil
}

func (r *firestoreNotificationRepository) SubscribeByRecipient(ctx context.Context, recipientID string, limit int, onChange func([]*entity.Notification), onError repository.ErrorHandler) (repository.Subscription, error) {
	sub := watchQuery(ctx, "notifications:"+recipientID, r.recipientQuery(recipientID, limit), func(docs []*firestore.DocumentSnapshot) {
		onChange(decodeNotifications(docs))
	}, onError)
	return sub, nil
}

func decodeNotifications(docs []*firestore.DocumentSnapshot) []*entity.Notification {
	list := make([]*entity.Notification, 0, len(docs))
	for _, doc := range docs {
		var n entity.Notification
		if err := doc.DataTo(&n); err != nil {
			log.Printf("Error parsing notification %s: %v", doc.Ref.ID, err)
			continue
		}
		n.ID = doc.Ref.ID
		list = append(list, &n)
	}
	return list
}

package memory

import (
	"context"
	"sort"

	"jobchat/internal/domain/entity"
	"jobchat/internal/domain/repository"
	"jobchat/pkg/errors"
)

type notificationRepository struct {
	s *Store
}

func (r *notificationRepository) Create(ctx context.Context, notification *entity.Notification) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkLocked(); err != nil {
		return err
	}

	if notification.CreatedAt.IsZero() {
		notification.CreatedAt = s.now()
	}
	stored := *notification
	s.notifications[stored.ID] = &stored
	s.publishLocked(notificationTopic(stored.RecipientID))
	return nil
}

func (r *notificationRepository) ListByRecipient(ctx context.Context, recipientID string, limit int) ([]*entity.Notification, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkLocked(); err != nil {
		return nil, err
	}
	return s.notificationsLocked(recipientID, limit), nil
}

func (r *notificationRepository) MarkRead(ctx context.Context, recipientID, notificationID string) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkLocked(); err != nil {
		return err
	}

	n, ok := s.notifications[notificationID]
	if !ok || n.RecipientID != recipientID {
		return errors.NotFound("Notification", nil)
	}
	if n.IsRead {
		return nil
	}
	n.IsRead = true
	s.publishLocked(notificationTopic(recipientID))
	return nil
}

func (r *notificationRepository) SubscribeByRecipient(ctx context.Context, recipientID string, limit int, onChange func([]*entity.Notification), onError repository.ErrorHandler) (repository.Subscription, error) {
	s := r.s
	return s.watch(notificationTopic(recipientID), func() func() {
		list := s.notificationsLocked(recipientID, limit)
		return func() { onChange(list) }
	}, onError)
}

// notificationsLocked returns newest first.
func (s *Store) notificationsLocked(recipientID string, limit int) []*entity.Notification {
	list := make([]*entity.Notification, 0)
	for _, n := range s.notifications {
		if n.RecipientID == recipientID {
			copied := *n
			list = append(list, &copied)
		}
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].CreatedAt.Equal(list[j].CreatedAt) {
			return list[i].ID > list[j].ID
		}
		return list[i].CreatedAt.After(list[j].CreatedAt)
	})
	if limit > 0 && len(list) > limit {
		list = list[:limit]
	}
	return list
}

package memory

import (
	"context"

	"jobchat/internal/domain/entity"
	"jobchat/internal/domain/repository"
	"jobchat/pkg/errors"
)

type presenceRepository struct {
	s *Store
}

func (r *presenceRepository) Upsert(ctx context.Context, record *entity.PresenceRecord) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkLocked(); err != nil {
		return err
	}

	stored := *record
	s.presence[record.UserID] = &stored
	s.publishLocked(presenceTopic(record.UserID))
	return nil
}

func (r *presenceRepository) Get(ctx context.Context, userID string) (*entity.PresenceRecord, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkLocked(); err != nil {
		return nil, err
	}

	record, ok := s.presence[userID]
	if !ok {
		return nil, errors.NotFound("Presence", nil)
	}
	out := *record
	return &out, nil
}

func (r *presenceRepository) Subscribe(ctx context.Context, userID string, onChange func(*entity.PresenceRecord), onError repository.ErrorHandler) (repository.Subscription, error) {
	s := r.s
	return s.watch(presenceTopic(userID), func() func() {
		var record *entity.PresenceRecord
		if stored, ok := s.presence[userID]; ok {
			copied := *stored
			record = &copied
		}
		return func() { onChange(record) }
	}, onError)
}

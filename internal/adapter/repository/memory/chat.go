package memory

import (
	"context"
	"sort"
	"time"

	"jobchat/internal/domain/entity"
	"jobchat/internal/domain/repository"
	"jobchat/pkg/errors"
)

type chatRepository struct {
	s *Store
}

func (r *chatRepository) CreateIfAbsent(ctx context.Context, chat *entity.Chat) (*entity.Chat, bool, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkLocked(); err != nil {
		return nil, false, err
	}

	if existing, ok := s.chats[chat.ID]; ok {
		return existing.Clone(), false, nil
	}

	stored := chat.Clone()
	if stored.UnreadCount == nil {
		stored.UnreadCount = make(map[string]int)
	}
	s.chats[stored.ID] = stored
	s.publishLocked(chatTopics(stored)...)
	return stored.Clone(), true, nil
}

func (r *chatRepository) GetByID(ctx context.Context, id string) (*entity.Chat, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkLocked(); err != nil {
		return nil, err
	}

	chat, ok := s.chats[id]
	if !ok {
		return nil, errors.NotFound("Chat", nil)
	}
	return chat.Clone(), nil
}

func (r *chatRepository) ListByParticipant(ctx context.Context, userID string) ([]*entity.Chat, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkLocked(); err != nil {
		return nil, err
	}
	return s.activeChatsLocked(userID), nil
}

func (r *chatRepository) SetActive(ctx context.Context, id string, active bool) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkLocked(); err != nil {
		return err
	}

	chat, ok := s.chats[id]
	if !ok {
		return errors.NotFound("Chat", nil)
	}
	chat.IsActive = active
	chat.UpdatedAt = s.now()
	s.publishLocked(chatTopics(chat)...)
	return nil
}

func (r *chatRepository) SetTyping(ctx context.Context, chatID, userID string, at *time.Time) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkLocked(); err != nil {
		return err
	}

	chat, ok := s.chats[chatID]
	if !ok {
		return errors.NotFound("Chat", nil)
	}
	if at == nil {
		if _, marked := chat.Typing[userID]; !marked {
			return nil
		}
		delete(chat.Typing, userID)
	} else {
		if chat.Typing == nil {
			chat.Typing = make(map[string]time.Time)
		}
		chat.Typing[userID] = *at
	}
	s.publishLocked(chatTopics(chat)...)
	return nil
}

func (r *chatRepository) SubscribeByParticipant(ctx context.Context, userID string, onChange func([]*entity.Chat), onError repository.ErrorHandler) (repository.Subscription, error) {
	s := r.s
	return s.watch(chatTopic(userID), func() func() {
		chats := s.activeChatsLocked(userID)
		return func() { onChange(chats) }
	}, onError)
}

// activeChatsLocked must be called with s.mu held.
func (s *Store) activeChatsLocked(userID string) []*entity.Chat {
	chats := make([]*entity.Chat, 0)
	for _, chat := range s.chats {
		if chat.IsActive && chat.HasParticipant(userID) {
			chats = append(chats, chat.Clone())
		}
	}
	sort.Slice(chats, func(i, j int) bool {
		if chats[i].LastActivityAt.Equal(chats[j].LastActivityAt) {
			return chats[i].ID < chats[j].ID
		}
		return chats[i].LastActivityAt.After(chats[j].LastActivityAt)
	})
	return chats
}

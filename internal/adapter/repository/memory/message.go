package memory

import (
	"context"
	"time"

	"jobchat/internal/domain/entity"
	"jobchat/internal/domain/repository"
	"jobchat/pkg/errors"
)

type messageRepository struct {
	s *Store
}

func (r *messageRepository) Append(ctx context.Context, message *entity.Message, recipientID string, notification *entity.Notification) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkLocked(); err != nil {
		return err
	}

	chat, ok := s.chats[message.ChatID]
	if !ok {
		return errors.NotFound("Chat", nil)
	}

	candidate := message.CreatedAt
	if candidate.IsZero() {
		candidate = s.now()
	}
	message.Seq = chat.MessageSeq + 1
	message.CreatedAt = entity.NextMessageTime(chat.LastMessageAt, candidate)

	if s.messages[chat.ID] == nil {
		s.messages[chat.ID] = make(map[string]*messageEntry)
	}
	s.messages[chat.ID][message.ID] = &messageEntry{message: message.Clone(), version: 1}

	chat.MessageSeq = message.Seq
	chat.LastMessage = entity.Summarize(message)
	chat.LastMessageAt = message.CreatedAt
	chat.LastActivityAt = message.CreatedAt
	chat.UpdatedAt = s.now()
	if chat.UnreadCount == nil {
		chat.UnreadCount = make(map[string]int)
	}
	if recipientID != "" {
		chat.UnreadCount[recipientID]++
	}

	topics := append(chatTopics(chat), messageTopic(chat.ID))
	if notification != nil {
		notification.CreatedAt = message.CreatedAt
		stored := *notification
		s.notifications[stored.ID] = &stored
		topics = append(topics, notificationTopic(stored.RecipientID))
	}

	s.publishLocked(topics...)
	return nil
}

func (r *messageRepository) GetByID(ctx context.Context, chatID, messageID string) (*entity.Message, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkLocked(); err != nil {
		return nil, err
	}

	entry, ok := s.messages[chatID][messageID]
	if !ok {
		return nil, errors.NotFound("Message", nil)
	}
	return entry.message.Clone(), nil
}

func (r *messageRepository) ListByChat(ctx context.Context, chatID string, limit int) ([]*entity.Message, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkLocked(); err != nil {
		return nil, err
	}
	return s.messagesLocked(chatID, limit), nil
}

func (r *messageRepository) MarkRead(ctx context.Context, chatID, readerID string, at time.Time) (int, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkLocked(); err != nil {
		return 0, err
	}

	chat, ok := s.chats[chatID]
	if !ok {
		return 0, errors.NotFound("Chat", nil)
	}

	flipped := 0
	for _, entry := range s.messages[chatID] {
		m := entry.message
		if m.SenderID == readerID || m.IsRead {
			continue
		}
		readAt := at
		m.IsRead = true
		m.ReadAt = &readAt
		if m.DeliveredAt == nil {
			m.DeliveredAt = &readAt
		}
		entry.version++
		flipped++
	}

	reset := chat.UnreadCount[readerID] != 0
	if reset {
		chat.UnreadCount[readerID] = 0
		chat.UpdatedAt = s.now()
	}

	var topics []string
	if flipped > 0 {
		topics = append(topics, messageTopic(chatID))
	}
	if reset {
		topics = append(topics, chatTopics(chat)...)
	}
	s.publishLocked(topics...)
	return flipped, nil
}

func (r *messageRepository) MarkDelivered(ctx context.Context, chatID, recipientID string, at time.Time) (int, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkLocked(); err != nil {
		return 0, err
	}

	stamped := 0
	for _, entry := range s.messages[chatID] {
		m := entry.message
		if m.SenderID == recipientID || m.DeliveredAt != nil {
			continue
		}
		deliveredAt := at
		m.DeliveredAt = &deliveredAt
		entry.version++
		stamped++
	}
	if stamped > 0 {
		s.publishLocked(messageTopic(chatID))
	}
	return stamped, nil
}

// Modify reads the message, releases the lock while fn runs and only
// commits if nobody else wrote the message in between.
func (r *messageRepository) Modify(ctx context.Context, chatID, messageID string, fn func(*entity.Message) error) (*entity.Message, error) {
	s := r.s
	s.mu.Lock()
	if err := s.checkLocked(); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	entry, ok := s.messages[chatID][messageID]
	if !ok {
		s.mu.Unlock()
		return nil, errors.NotFound("Message", nil)
	}
	working := entry.message.Clone()
	version := entry.version
	s.mu.Unlock()

	if err := fn(working); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.messages[chatID][messageID]
	if !ok {
		return nil, errors.NotFound("Message", nil)
	}
	if current.version != version {
		return nil, errors.Conflict("Message was modified concurrently", nil)
	}
	current.message = working.Clone()
	current.version++
	s.publishLocked(messageTopic(chatID))
	return working, nil
}

func (r *messageRepository) Edit(ctx context.Context, chatID, messageID, content string, at time.Time) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkLocked(); err != nil {
		return err
	}

	entry, ok := s.messages[chatID][messageID]
	if !ok {
		return errors.NotFound("Message", nil)
	}
	editedAt := at
	entry.message.Content = content
	entry.message.Edited = true
	entry.message.EditedAt = &editedAt
	entry.version++
	s.publishLocked(messageTopic(chatID))
	return nil
}

func (r *messageRepository) Delete(ctx context.Context, chatID, messageID string) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkLocked(); err != nil {
		return err
	}

	if _, ok := s.messages[chatID][messageID]; !ok {
		return errors.NotFound("Message", nil)
	}
	delete(s.messages[chatID], messageID)
	s.publishLocked(messageTopic(chatID))
	return nil
}

func (r *messageRepository) SubscribeByChat(ctx context.Context, chatID string, limit int, onChange func([]*entity.Message), onError repository.ErrorHandler) (repository.Subscription, error) {
	s := r.s
	return s.watch(messageTopic(chatID), func() func() {
		messages := s.messagesLocked(chatID, limit)
		return func() { onChange(messages) }
	}, onError)
}

// messagesLocked returns the newest limit messages in ascending order.
func (s *Store) messagesLocked(chatID string, limit int) []*entity.Message {
	messages := make([]*entity.Message, 0, len(s.messages[chatID]))
	for _, entry := range s.messages[chatID] {
		messages = append(messages, entry.message.Clone())
	}
	entity.SortMessages(messages)
	if limit > 0 && len(messages) > limit {
		messages = messages[len(messages)-limit:]
	}
	return messages
}

package repository

import (
	"context"
	"time"

	"jobchat/internal/domain/entity"
)

// Subscription is the handle of a standing query. Stop is idempotent; no
// new callback starts after it returns.
type Subscription interface {
	Stop()
}

// ErrorHandler receives the error that terminated a subscription.
type ErrorHandler func(err error)

type ChatRepository interface {
	// CreateIfAbsent writes chat only if no document with its ID exists.
	// It reports whether this call created it; either way the stored
	// chat is returned.
	CreateIfAbsent(ctx context.Context, chat *entity.Chat) (*entity.Chat, bool, error)
	GetByID(ctx context.Context, id string) (*entity.Chat, error)
	ListByParticipant(ctx context.Context, userID string) ([]*entity.Chat, error)
	SetActive(ctx context.Context, id string, active bool) error

	// SetTyping stores a typing mark for userID, or removes it when at is nil.
	SetTyping(ctx context.Context, chatID, userID string, at *time.Time) error

	// SubscribeByParticipant streams the active chats of userID, most
	// recent activity first, on every change.
	SubscribeByParticipant(ctx context.Context, userID string, onChange func([]*entity.Chat), onError ErrorHandler) (Subscription, error)
}

type MessageRepository interface {
	// Append commits the message, the chat summary, the recipient's unread
	// increment and the notification as one atomic write. It assigns
	// message.Seq and a CreatedAt strictly after the chat's previous message.
	Append(ctx context.Context, message *entity.Message, recipientID string, notification *entity.Notification) error
	GetByID(ctx context.Context, chatID, messageID string) (*entity.Message, error)
	ListByChat(ctx context.Context, chatID string, limit int) ([]*entity.Message, error)

	// MarkRead flips every unread message not sent by readerID and zeroes
	// the reader's unread counter. It returns the number of messages flipped.
	MarkRead(ctx context.Context, chatID, readerID string, at time.Time) (int, error)
	// MarkDelivered stamps deliveredAt on the peer messages that lack it.
	MarkDelivered(ctx context.Context, chatID, recipientID string, at time.Time) (int, error)

	// Modify performs one optimistic read-modify-write of a message.
	// A concurrent write to the same message yields a CONFLICT error.
	Modify(ctx context.Context, chatID, messageID string, fn func(*entity.Message) error) (*entity.Message, error)
	// Edit replaces the content in place and marks the message edited.
	Edit(ctx context.Context, chatID, messageID, content string, at time.Time) error
	Delete(ctx context.Context, chatID, messageID string) error

	// SubscribeByChat streams the ordered message list of a chat.
	SubscribeByChat(ctx context.Context, chatID string, limit int, onChange func([]*entity.Message), onError ErrorHandler) (Subscription, error)
}

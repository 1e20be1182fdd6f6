package usecase

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"jobchat/internal/domain/entity"
	"jobchat/internal/domain/repository"
	"jobchat/internal/domain/service"
	"jobchat/pkg/errors"
	"jobchat/pkg/logger"
)

const (
	maxContentRunes = 4000
	maxEmojiRunes   = 8
)

type SendMessageInput struct {
	ChatID      string              `json:"chat_id"`
	Content     string              `json:"content" validate:"max=4000"`
	Type        string              `json:"type" validate:"omitempty,oneof=text image file voice system"`
	Attachments []entity.Attachment `json:"attachments" validate:"omitempty,max=10,dive"`
	ReplyTo     string              `json:"reply_to"`
}

type ConversationUseCase struct {
	chatRepo     repository.ChatRepository
	messageRepo  repository.MessageRepository
	notification *NotificationUseCase
	files        service.FileUploadService
	settings     Settings
}

func NewConversationUseCase(
	chatRepo repository.ChatRepository,
	messageRepo repository.MessageRepository,
	notification *NotificationUseCase,
	files service.FileUploadService,
	settings Settings,
) *ConversationUseCase {
	return &ConversationUseCase{
		chatRepo:     chatRepo,
		messageRepo:  messageRepo,
		notification: notification,
		files:        files,
		settings:     settings,
	}
}

// memberChat loads the chat and checks that userID takes part in it.
func (uc *ConversationUseCase) memberChat(ctx context.Context, chatID, userID string) (*entity.Chat, error) {
	if userID == "" {
		return nil, errors.Unauthenticated("Chat access requires an authenticated user")
	}
	chat, err := uc.chatRepo.GetByID(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if !chat.HasParticipant(userID) {
		return nil, errors.Forbidden("You are not a participant in this chat", nil)
	}
	return chat, nil
}

func validateMessage(input *SendMessageInput) error {
	if input.Type == "" {
		input.Type = entity.MessageTypeText
	}
	if !entity.ValidMessageType(input.Type) {
		return errors.BadRequest("Unsupported message type: "+input.Type, nil)
	}

	input.Content = strings.TrimSpace(input.Content)
	if utf8.RuneCountInString(input.Content) > maxContentRunes {
		return errors.BadRequest("Message content is too long", nil)
	}

	switch input.Type {
	case entity.MessageTypeText, entity.MessageTypeSystem:
		if input.Content == "" {
			return errors.BadRequest("Message content cannot be empty", nil)
		}
	default:
		if len(input.Attachments) == 0 {
			return errors.BadRequest(input.Type+" messages require an attachment", nil)
		}
	}

	for _, a := range input.Attachments {
		if a.URL == "" {
			return errors.BadRequest("Attachment URL is required", nil)
		}
	}
	return nil
}

// SendMessage stores the message, refreshes the chat summary, bumps the
// recipient's unread counter and records the notification in one commit.
// The live alert is raised only after that commit succeeded.
func (uc *ConversationUseCase) SendMessage(ctx context.Context, senderID string, input SendMessageInput) (*entity.Message, error) {
	if err := validateMessage(&input); err != nil {
		return nil, err
	}

	chat, err := uc.memberChat(ctx, input.ChatID, senderID)
	if err != nil {
		return nil, err
	}
	if !chat.IsActive {
		return nil, errors.Forbidden("Chat is no longer active", nil)
	}

	if input.ReplyTo != "" {
		if _, err := uc.messageRepo.GetByID(ctx, chat.ID, input.ReplyTo); err != nil {
			if errors.Is(err, errors.CodeNotFound) {
				return nil, errors.BadRequest("Replied-to message does not exist", nil)
			}
			return nil, err
		}
	}

	message := &entity.Message{
		ID:          uuid.New().String(),
		ChatID:      chat.ID,
		SenderID:    senderID,
		Content:     input.Content,
		Type:        input.Type,
		Attachments: input.Attachments,
		ReplyTo:     input.ReplyTo,
		IsRead:      false,
		CreatedAt:   uc.settings.now(),
	}

	recipientID := chat.Peer(senderID)
	var notification *entity.Notification
	if recipientID != "" && uc.notification != nil {
		notification = uc.notification.Prepare(recipientID, chat.ID, senderID, entity.Summarize(message).Text)
	}

	if err := uc.messageRepo.Append(ctx, message, recipientID, notification); err != nil {
		logger.Error("Failed to send message in chat %s: %v", chat.ID, err)
		return nil, err
	}

	if notification != nil {
		uc.notification.Alert(notification)
	}

	logger.Debug("Message %s sent in chat %s (seq %d)", message.ID, chat.ID, message.Seq)
	return message, nil
}

// ListMessages returns the newest limit messages in display order and
// acknowledges delivery of the peer's messages to userID.
func (uc *ConversationUseCase) ListMessages(ctx context.Context, userID, chatID string, limit int) ([]*entity.Message, error) {
	if _, err := uc.memberChat(ctx, chatID, userID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = uc.settings.MessageWindow
	}

	messages, err := uc.messageRepo.ListByChat(ctx, chatID, limit)
	if err != nil {
		return nil, err
	}

	if hasUndelivered(messages, userID) {
		at := uc.settings.now()
		if _, err := uc.messageRepo.MarkDelivered(ctx, chatID, userID, at); err != nil {
			logger.Warn("Failed to acknowledge delivery in chat %s for %s: %v", chatID, userID, err)
		} else {
			for _, m := range messages {
				if m.SenderID != userID && m.DeliveredAt == nil {
					delivered := at
					m.DeliveredAt = &delivered
				}
			}
		}
	}
	return messages, nil
}

func hasUndelivered(messages []*entity.Message, userID string) bool {
	for _, m := range messages {
		if m.SenderID != userID && m.DeliveredAt == nil {
			return true
		}
	}
	return false
}

// SubscribeMessages streams the ordered message window of a chat.
func (uc *ConversationUseCase) SubscribeMessages(ctx context.Context, chatID string, onChange func([]*entity.Message), onError repository.ErrorHandler) (repository.Subscription, error) {
	return uc.messageRepo.SubscribeByChat(ctx, chatID, uc.settings.MessageWindow, onChange, onError)
}

// MarkRead flips the reader's unread messages and zeroes their counter.
// Running it again with nothing unread changes nothing.
func (uc *ConversationUseCase) MarkRead(ctx context.Context, chatID, readerID string) (int, error) {
	if _, err := uc.memberChat(ctx, chatID, readerID); err != nil {
		return 0, err
	}

	flipped, err := uc.messageRepo.MarkRead(ctx, chatID, readerID, uc.settings.now())
	if err != nil {
		logger.Error("Failed to mark chat %s read for %s: %v", chatID, readerID, err)
		return flipped, err
	}
	return flipped, nil
}

func (uc *ConversationUseCase) MarkDelivered(ctx context.Context, chatID, recipientID string) (int, error) {
	if recipientID == "" {
		return 0, errors.Unauthenticated("Chat access requires an authenticated user")
	}
	return uc.messageRepo.MarkDelivered(ctx, chatID, recipientID, uc.settings.now())
}

func (uc *ConversationUseCase) reactionBackOff(ctx context.Context) backoff.BackOff {
	b := &backoff.ExponentialBackOff{
		InitialInterval:     10 * time.Millisecond,
		RandomizationFactor: 0.5,
		Multiplier:          2,
		MaxInterval:         250 * time.Millisecond,
		MaxElapsedTime:      0,
		Stop:                backoff.Stop,
		Clock:               backoff.SystemClock,
	}
	b.Reset()

	attempts := uc.settings.ReactionMaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(attempts-1)), ctx)
}

// ToggleReaction adds userID to the emoji's reactor set, or removes it if
// present. Conflicting concurrent writes are retried a bounded number of
// times; concurrent toggles by different users all survive.
func (uc *ConversationUseCase) ToggleReaction(ctx context.Context, chatID, messageID, emoji, userID string) (*entity.Message, error) {
	emoji = strings.TrimSpace(emoji)
	if emoji == "" || utf8.RuneCountInString(emoji) > maxEmojiRunes {
		return nil, errors.BadRequest("Invalid reaction", nil)
	}
	if _, err := uc.memberChat(ctx, chatID, userID); err != nil {
		return nil, err
	}

	var result *entity.Message
	attempt := 0
	operation := func() error {
		attempt++
		message, err := uc.messageRepo.Modify(ctx, chatID, messageID, func(m *entity.Message) error {
			m.ToggleReaction(emoji, userID)
			return nil
		})
		if err != nil {
			if errors.Is(err, errors.CodeConflict) {
				logger.Debug("Reaction on %s conflicted (attempt %d)", messageID, attempt)
				return err
			}
			return backoff.Permanent(err)
		}
		result = message
		return nil
	}

	if err := backoff.Retry(operation, uc.reactionBackOff(ctx)); err != nil {
		if errors.Is(err, errors.CodeConflict) {
			logger.Warn("Reaction on message %s gave up after %d attempts", messageID, attempt)
			return nil, errors.ConflictExhausted("Reaction could not be applied, please retry", err)
		}
		return nil, err
	}
	return result, nil
}

// RequireSender returns the message if userID sent it.
func (uc *ConversationUseCase) RequireSender(ctx context.Context, chatID, messageID, userID string) (*entity.Message, error) {
	if _, err := uc.memberChat(ctx, chatID, userID); err != nil {
		return nil, err
	}
	message, err := uc.messageRepo.GetByID(ctx, chatID, messageID)
	if err != nil {
		return nil, err
	}
	if message.SenderID != userID {
		return nil, errors.Forbidden("Only the sender can change this message", nil)
	}
	return message, nil
}

// EditMessage replaces the content in place. Callers check ownership with
// RequireSender first.
func (uc *ConversationUseCase) EditMessage(ctx context.Context, chatID, messageID, content string) (*entity.Message, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, errors.BadRequest("Message content cannot be empty", nil)
	}
	if utf8.RuneCountInString(content) > maxContentRunes {
		return nil, errors.BadRequest("Message content is too long", nil)
	}

	if err := uc.messageRepo.Edit(ctx, chatID, messageID, content, uc.settings.now()); err != nil {
		return nil, err
	}
	return uc.messageRepo.GetByID(ctx, chatID, messageID)
}

// DeleteMessage removes the message and, best effort, its stored files.
func (uc *ConversationUseCase) DeleteMessage(ctx context.Context, chatID, messageID string) error {
	message, err := uc.messageRepo.GetByID(ctx, chatID, messageID)
	if err != nil {
		return err
	}
	if err := uc.messageRepo.Delete(ctx, chatID, messageID); err != nil {
		return err
	}

	if uc.files != nil {
		for _, a := range message.Attachments {
			if err := uc.files.DeleteFile(ctx, a.URL); err != nil {
				logger.Warn("Failed to delete attachment %s of message %s: %v", a.URL, messageID, err)
			}
		}
	}
	logger.Info("Message %s deleted from chat %s", messageID, chatID)
	return nil
}

// SignalTyping marks userID as typing now. The mark is best effort and
// readers ignore it once it is older than the typing timeout.
func (uc *ConversationUseCase) SignalTyping(ctx context.Context, chatID, userID string) error {
	if userID == "" {
		return errors.Unauthenticated("Typing requires an authenticated user")
	}
	now := uc.settings.now()
	return uc.chatRepo.SetTyping(ctx, chatID, userID, &now)
}

func (uc *ConversationUseCase) ClearTyping(ctx context.Context, chatID, userID string) error {
	if userID == "" {
		return errors.Unauthenticated("Typing requires an authenticated user")
	}
	return uc.chatRepo.SetTyping(ctx, chatID, userID, nil)
}

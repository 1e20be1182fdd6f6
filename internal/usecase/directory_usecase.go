package usecase

import (
	"context"
	"strings"

	"jobchat/internal/domain/entity"
	"jobchat/internal/domain/repository"
	"jobchat/internal/domain/service"
	"jobchat/pkg/errors"
	"jobchat/pkg/logger"
)

type CreateChatInput struct {
	OtherUserID    string `json:"other_user_id" validate:"required"`
	JobID          string `json:"job_id"`
	InitialMessage string `json:"initial_message" validate:"max=4000"`
}

type DirectoryUseCase struct {
	chatRepo repository.ChatRepository
	sender   MessageSender
	settings Settings
}

func NewDirectoryUseCase(chatRepo repository.ChatRepository, sender MessageSender, settings Settings) *DirectoryUseCase {
	return &DirectoryUseCase{
		chatRepo: chatRepo,
		sender:   sender,
		settings: settings,
	}
}

// CreateOrGetChat returns the one chat between userID and the other user,
// creating it if needed. Concurrent callers for the same pair all get the
// same chat. A deactivated chat is reactivated.
func (uc *DirectoryUseCase) CreateOrGetChat(ctx context.Context, userID string, input CreateChatInput) (*entity.Chat, error) {
	if userID == "" {
		return nil, errors.Unauthenticated("Creating a chat requires an authenticated user")
	}

	chatID, err := service.ResolveChatID(userID, input.OtherUserID)
	if err != nil {
		return nil, err
	}

	now := uc.settings.now()
	participants := service.SortedParticipants(userID, input.OtherUserID)
	candidate := &entity.Chat{
		ID:           chatID,
		Participants: participants,
		JobID:        input.JobID,
		UnreadCount: map[string]int{
			participants[0]: 0,
			participants[1]: 0,
		},
		IsActive:       true,
		LastActivityAt: now,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	chat, created, err := uc.chatRepo.CreateIfAbsent(ctx, candidate)
	if err != nil {
		logger.Error("Failed to create chat %s: %v", chatID, err)
		return nil, err
	}

	if created {
		logger.Info("Chat %s created by %s", chatID, userID)
	} else if !chat.IsActive {
		if err := uc.chatRepo.SetActive(ctx, chatID, true); err != nil {
			return nil, err
		}
		chat.IsActive = true
		logger.Info("Chat %s reactivated by %s", chatID, userID)
	}

	if strings.TrimSpace(input.InitialMessage) != "" && uc.sender != nil {
		if _, err := uc.sender.SendMessage(ctx, userID, SendMessageInput{
			ChatID:  chatID,
			Content: input.InitialMessage,
			Type:    entity.MessageTypeText,
		}); err != nil {
			return nil, err
		}
		return uc.chatRepo.GetByID(ctx, chatID)
	}

	return chat, nil
}

// Subscribe streams the active chats of userID, most recent first.
func (uc *DirectoryUseCase) Subscribe(ctx context.Context, userID string, onChange func([]*entity.Chat), onError repository.ErrorHandler) (repository.Subscription, error) {
	if userID == "" {
		return nil, errors.Unauthenticated("Chat list requires an authenticated user")
	}
	return uc.chatRepo.SubscribeByParticipant(ctx, userID, onChange, onError)
}

func (uc *DirectoryUseCase) List(ctx context.Context, userID string) ([]*entity.Chat, error) {
	if userID == "" {
		return nil, errors.Unauthenticated("Chat list requires an authenticated user")
	}
	return uc.chatRepo.ListByParticipant(ctx, userID)
}

func (uc *DirectoryUseCase) Get(ctx context.Context, userID, chatID string) (*entity.Chat, error) {
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

// Deactivate hides the chat from both participants' lists. Messages are
// kept and the chat comes back on the next CreateOrGetChat.
func (uc *DirectoryUseCase) Deactivate(ctx context.Context, userID, chatID string) error {
	chat, err := uc.Get(ctx, userID, chatID)
	if err != nil {
		return err
	}
	if !chat.IsActive {
		return nil
	}
	if err := uc.chatRepo.SetActive(ctx, chatID, false); err != nil {
		return err
	}
	logger.Info("Chat %s deactivated by %s", chatID, userID)
	return nil
}

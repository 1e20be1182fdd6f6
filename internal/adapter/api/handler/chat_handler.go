package handler

import (
	"strconv"

	"github.com/labstack/echo/v4"

	"jobchat/internal/domain/entity"
	"jobchat/internal/infrastructure/ratelimit"
	ws "jobchat/internal/infrastructure/websocket"
	"jobchat/internal/usecase"
	"jobchat/pkg/response"
	"jobchat/pkg/utils"
)

const (
	defaultMessageLimit = 50
	maxMessageLimit     = 200
)

type ChatHandler struct {
	directoryUseCase    *usecase.DirectoryUseCase
	conversationUseCase *usecase.ConversationUseCase
	limiter             *ratelimit.RateLimiter
}

func NewChatHandler(directoryUseCase *usecase.DirectoryUseCase, conversationUseCase *usecase.ConversationUseCase, limiter *ratelimit.RateLimiter) *ChatHandler {
	return &ChatHandler{
		directoryUseCase:    directoryUseCase,
		conversationUseCase: conversationUseCase,
		limiter:             limiter,
	}
}

type createChatRequest struct {
	OtherUserID    string `json:"other_user_id" validate:"required"`
	JobID          string `json:"job_id"`
	InitialMessage string `json:"initial_message" validate:"max=4000"`
}

type sendMessageRequest struct {
	Content     string              `json:"content" validate:"max=4000"`
	Type        string              `json:"type" validate:"omitempty,oneof=text image file voice system"`
	Attachments []entity.Attachment `json:"attachments" validate:"max=10,dive"`
	ReplyTo     string              `json:"reply_to"`
}

type editMessageRequest struct {
	Content string `json:"content" validate:"required,max=4000"`
}

type reactionRequest struct {
	Emoji string `json:"emoji" validate:"required,max=32"`
}

type markReadResponse struct {
	ChatID string `json:"chat_id"`
	Marked int    `json:"marked"`
}

func (h *ChatHandler) rateLimit(c echo.Context, userID, action string) error {
	retryAfter, err := allow(h.limiter, userID, action)
	if err != nil {
		c.Response().Header().Set("Retry-After", strconv.Itoa(retryAfter))
		return err
	}
	return nil
}

func (h *ChatHandler) CreateChat(c echo.Context) error {
	var req createChatRequest
	if err := c.Bind(&req); err != nil {
		return response.Error(c, err)
	}

	if err := c.Validate(&req); err != nil {
		return response.Error(c, err)
	}

	userID, err := currentUser(c)
	if err != nil {
		return response.Error(c, err)
	}

	if err := h.rateLimit(c, userID, ratelimit.ActionCreateChat); err != nil {
		return response.Error(c, err)
	}

	chat, err := h.directoryUseCase.CreateOrGetChat(c.Request().Context(), userID, usecase.CreateChatInput{
		OtherUserID:    req.OtherUserID,
		JobID:          req.JobID,
		InitialMessage: req.InitialMessage,
	})
	if err != nil {
		return response.Error(c, err)
	}

	return response.Created(c, chat)
}

func (h *ChatHandler) GetUserChats(c echo.Context) error {
	userID, err := currentUser(c)
	if err != nil {
		return response.Error(c, err)
	}

	chats, err := h.directoryUseCase.List(c.Request().Context(), userID)
	if err != nil {
		return response.Error(c, err)
	}

	return response.List(c, chats, len(chats))
}

func (h *ChatHandler) GetChatByID(c echo.Context) error {
	userID, err := currentUser(c)
	if err != nil {
		return response.Error(c, err)
	}

	chat, err := h.directoryUseCase.Get(c.Request().Context(), userID, c.Param("id"))
	if err != nil {
		return response.Error(c, err)
	}

	return response.Success(c, chat)
}

func (h *ChatHandler) DeactivateChat(c echo.Context) error {
	userID, err := currentUser(c)
	if err != nil {
		return response.Error(c, err)
	}

	if err := h.directoryUseCase.Deactivate(c.Request().Context(), userID, c.Param("id")); err != nil {
		return response.Error(c, err)
	}

	return response.Success(c, map[string]string{"message": "Chat deactivated"})
}

func (h *ChatHandler) SendMessage(c echo.Context) error {
	var req sendMessageRequest
	if err := c.Bind(&req); err != nil {
		return response.Error(c, err)
	}

	if err := c.Validate(&req); err != nil {
		return response.Error(c, err)
	}

	userID, err := currentUser(c)
	if err != nil {
		return response.Error(c, err)
	}

	if err := h.rateLimit(c, userID, ratelimit.ActionSendMessage); err != nil {
		return response.Error(c, err)
	}

	message, err := h.conversationUseCase.SendMessage(c.Request().Context(), userID, usecase.SendMessageInput{
		ChatID:      c.Param("id"),
		Content:     req.Content,
		Type:        req.Type,
		Attachments: req.Attachments,
		ReplyTo:     req.ReplyTo,
	})
	if err != nil {
		return response.Error(c, err)
	}

	return response.Created(c, ws.MessageView{Message: message, Status: message.Status()})
}

func (h *ChatHandler) GetChatMessages(c echo.Context) error {
	userID, err := currentUser(c)
	if err != nil {
		return response.Error(c, err)
	}

	limit := utils.GetLimit(c, defaultMessageLimit, maxMessageLimit)
	messages, err := h.conversationUseCase.ListMessages(c.Request().Context(), userID, c.Param("id"), limit)
	if err != nil {
		return response.Error(c, err)
	}

	return response.List(c, ws.NewMessageViews(messages), len(messages))
}

func (h *ChatHandler) MarkChatAsRead(c echo.Context) error {
	userID, err := currentUser(c)
	if err != nil {
		return response.Error(c, err)
	}

	chatID := c.Param("id")
	marked, err := h.conversationUseCase.MarkRead(c.Request().Context(), chatID, userID)
	if err != nil {
		return response.Error(c, err)
	}

	return response.Success(c, markReadResponse{ChatID: chatID, Marked: marked})
}

func (h *ChatHandler) EditMessage(c echo.Context) error {
	var req editMessageRequest
	if err := c.Bind(&req); err != nil {
		return response.Error(c, err)
	}

	if err := c.Validate(&req); err != nil {
		return response.Error(c, err)
	}

	userID, err := currentUser(c)
	if err != nil {
		return response.Error(c, err)
	}

	ctx := c.Request().Context()
	chatID, messageID := c.Param("id"), c.Param("messageId")
	if _, err := h.conversationUseCase.RequireSender(ctx, chatID, messageID, userID); err != nil {
		return response.Error(c, err)
	}

	message, err := h.conversationUseCase.EditMessage(ctx, chatID, messageID, req.Content)
	if err != nil {
		return response.Error(c, err)
	}

	return response.Success(c, ws.MessageView{Message: message, Status: message.Status()})
}

func (h *ChatHandler) DeleteMessage(c echo.Context) error {
	userID, err := currentUser(c)
	if err != nil {
		return response.Error(c, err)
	}

	ctx := c.Request().Context()
	chatID, messageID := c.Param("id"), c.Param("messageId")
	if _, err := h.conversationUseCase.RequireSender(ctx, chatID, messageID, userID); err != nil {
		return response.Error(c, err)
	}

	if err := h.conversationUseCase.DeleteMessage(ctx, chatID, messageID); err != nil {
		return response.Error(c, err)
	}

	return response.Success(c, map[string]string{"message": "Message deleted"})
}

func (h *ChatHandler) ToggleReaction(c echo.Context) error {
	var req reactionRequest
	if err := c.Bind(&req); err != nil {
		return response.Error(c, err)
	}

	if err := c.Validate(&req); err != nil {
		return response.Error(c, err)
	}

	userID, err := currentUser(c)
	if err != nil {
		return response.Error(c, err)
	}

	if err := h.rateLimit(c, userID, ratelimit.ActionReaction); err != nil {
		return response.Error(c, err)
	}

	message, err := h.conversationUseCase.ToggleReaction(c.Request().Context(), c.Param("id"), c.Param("messageId"), req.Emoji, userID)
	if err != nil {
		return response.Error(c, err)
	}

	return response.Success(c, ws.MessageView{Message: message, Status: message.Status()})
}

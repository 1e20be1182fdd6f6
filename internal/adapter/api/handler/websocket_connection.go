package handler

import (
	"context"
	stderrors "errors"

	"jobchat/internal/domain/entity"
	"jobchat/internal/infrastructure/ratelimit"
	ws "jobchat/internal/infrastructure/websocket"
	"jobchat/internal/usecase"
	"jobchat/pkg/errors"
	"jobchat/pkg/logger"
)

// wsConnection binds one session to one client. It renders session
// callbacks as frames and dispatches inbound frames to the session and
// the conversation engine.
type wsConnection struct {
	ctx           context.Context
	client        *ws.Client
	session       *usecase.Session
	conversations *usecase.ConversationUseCase
	limiter       *ratelimit.RateLimiter
}

func newWSConnection(ctx context.Context, client *ws.Client, conversations *usecase.ConversationUseCase, limiter *ratelimit.RateLimiter) *wsConnection {
	return &wsConnection{
		ctx:           ctx,
		client:        client,
		conversations: conversations,
		limiter:       limiter,
	}
}

func (wc *wsConnection) send(msgType, chatID string, data interface{}) {
	msg, err := ws.NewMessage(msgType, chatID, data)
	if err != nil {
		logger.Error("WebSocket: failed to build %s for %s: %v", msgType, wc.client.UserID, err)
		return
	}
	frame, err := msg.Encode()
	if err != nil {
		logger.Error("WebSocket: failed to encode %s for %s: %v", msgType, wc.client.UserID, err)
		return
	}
	wc.client.Enqueue(frame)
}

func (wc *wsConnection) sendError(requestType string, err error) {
	wc.sendErrorData(errorData(requestType, err))
}

func (wc *wsConnection) sendErrorData(data ws.ErrorData) {
	wc.send(ws.MessageTypeError, "", data)
}

func errorData(requestType string, err error) ws.ErrorData {
	var appErr *errors.AppError
	if stderrors.As(err, &appErr) {
		return ws.ErrorData{Code: appErr.Code, Message: appErr.Message, RequestType: requestType}
	}
	return ws.ErrorData{Code: errors.CodeInternal, Message: "An unexpected error occurred", RequestType: requestType}
}

func (wc *wsConnection) OnChatListChanged(chats []*entity.Chat) {
	wc.send(ws.MessageTypeChatListChanged, "", ws.ChatListData{Chats: chats})
}

func (wc *wsConnection) OnMessagesChanged(chatID string, messages []*entity.Message) {
	wc.send(ws.MessageTypeMessagesChanged, chatID, ws.MessagesData{Messages: ws.NewMessageViews(messages)})
}

func (wc *wsConnection) OnTypingChanged(chatID, userID string, isTyping bool) {
	wc.send(ws.MessageTypeTypingChanged, chatID, ws.TypingData{UserID: userID, IsTyping: isTyping})
}

func (wc *wsConnection) OnNotification(notification *entity.Notification) {
	wc.send(ws.MessageTypeNotification, notification.ChatID, notification)
}

func (wc *wsConnection) OnPresenceChanged(status usecase.PresenceStatus) {
	wc.send(ws.MessageTypePresenceChanged, "", status)
}

// OnSubscriptionError reports the ended stream. Losing the chat list or
// the notification stream leaves the session useless, so the connection
// is closed and the client reconnects.
func (wc *wsConnection) OnSubscriptionError(kind string, err error) {
	wc.sendError(kind, err)
	if kind == usecase.SubscriptionChats || kind == usecase.SubscriptionNotifications {
		wc.client.Close()
	}
}

// throttle reports whether the frame may proceed and answers with an
// error frame when it may not.
func (wc *wsConnection) throttle(requestType, action string) bool {
	retryAfter, err := allow(wc.limiter, wc.client.UserID, action)
	if err == nil {
		return true
	}
	data := errorData(requestType, err)
	data.RetryAfter = retryAfter
	wc.sendErrorData(data)
	return false
}

func (wc *wsConnection) dispatch(frame []byte) {
	msg, err := ws.Decode(frame)
	if err != nil {
		wc.sendError("", errors.BadRequest("Malformed frame", err))
		return
	}

	if err := wc.handle(msg); err != nil {
		logger.Debug("WebSocket: %s from %s failed: %v", msg.Type, wc.client.UserID, err)
		wc.sendError(msg.Type, err)
	}
}

func (wc *wsConnection) handle(msg ws.WSMessage) error {
	userID := wc.client.UserID

	switch msg.Type {
	case ws.MessageTypePing:
		wc.send(ws.MessageTypePong, "", nil)
		return nil

	case ws.MessageTypeOpenChat:
		return wc.session.OpenConversation(msg.ChatID)

	case ws.MessageTypeCloseChat:
		wc.session.CloseConversation(msg.ChatID)
		return nil

	case ws.MessageTypeTyping:
		if !wc.throttle(msg.Type, ratelimit.ActionTyping) {
			return nil
		}
		return wc.session.Typing(msg.ChatID)

	case ws.MessageTypeMarkRead:
		_, err := wc.conversations.MarkRead(wc.ctx, msg.ChatID, userID)
		return err

	case ws.MessageTypeSendMessage:
		var data ws.SendMessageData
		if err := msg.DecodeData(&data); err != nil {
			return errors.BadRequest("Invalid send_message payload", err)
		}
		if !wc.throttle(msg.Type, ratelimit.ActionSendMessage) {
			return nil
		}
		message, err := wc.conversations.SendMessage(wc.ctx, userID, usecase.SendMessageInput{
			ChatID:      msg.ChatID,
			Content:     data.Content,
			Type:        data.Type,
			Attachments: data.Attachments,
			ReplyTo:     data.ReplyTo,
		})
		if err != nil {
			return err
		}
		wc.session.StopTyping(msg.ChatID)
		wc.send(ws.MessageTypeMessageSent, msg.ChatID, ws.MessageSentData{TempID: data.TempID, Message: message})
		return nil

	case ws.MessageTypeToggleReaction:
		var data ws.ReactionData
		if err := msg.DecodeData(&data); err != nil {
			return errors.BadRequest("Invalid toggle_reaction payload", err)
		}
		if !wc.throttle(msg.Type, ratelimit.ActionReaction) {
			return nil
		}
		_, err := wc.conversations.ToggleReaction(wc.ctx, msg.ChatID, data.MessageID, data.Emoji, userID)
		return err

	case ws.MessageTypeWatchPresence:
		var data ws.WatchPresenceData
		if err := msg.DecodeData(&data); err != nil || data.UserID == "" {
			return errors.BadRequest("Invalid watch_presence payload", err)
		}
		return wc.session.WatchPresence(data.UserID)

	case ws.MessageTypeUnwatchPresence:
		var data ws.WatchPresenceData
		if err := msg.DecodeData(&data); err != nil || data.UserID == "" {
			return errors.BadRequest("Invalid unwatch_presence payload", err)
		}
		wc.session.UnwatchPresence(data.UserID)
		return nil

	case ws.MessageTypeSetAlerts:
		var data ws.SetAlertsData
		if err := msg.DecodeData(&data); err != nil {
			return errors.BadRequest("Invalid set_alerts payload", err)
		}
		wc.client.SetAlerts(data.Enabled)
		return nil

	default:
		return errors.BadRequest("Unknown message type: "+msg.Type, nil)
	}
}

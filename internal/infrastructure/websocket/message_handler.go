package websocket

import (
	"encoding/json"
	"time"

	"jobchat/internal/domain/entity"
)

// Client to server.
const (
	MessageTypePing            = "ping"
	MessageTypeOpenChat        = "open_chat"
	MessageTypeCloseChat       = "close_chat"
	MessageTypeTyping          = "typing"
	MessageTypeMarkRead        = "mark_read"
	MessageTypeSendMessage     = "send_message"
	MessageTypeToggleReaction  = "toggle_reaction"
	MessageTypeWatchPresence   = "watch_presence"
	MessageTypeUnwatchPresence = "unwatch_presence"
	MessageTypeSetAlerts       = "set_alerts"
)

// Server to client.
const (
	MessageTypePong              = "pong"
	MessageTypeChatListChanged   = "chat_list_changed"
	MessageTypeMessagesChanged   = "messages_changed"
	MessageTypeMessageSent       = "message_sent"
	MessageTypeTypingChanged     = "typing_changed"
	MessageTypeNotification      = "notification"
	MessageTypeNotificationAlert = "notification_alert"
	MessageTypePresenceChanged   = "presence_changed"
	MessageTypeError             = "error"
)

// WSMessage is the envelope of every frame in both directions.
type WSMessage struct {
	Type      string          `json:"type"`
	ChatID    string          `json:"chat_id,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp string          `json:"timestamp,omitempty"`
}

func NewMessage(msgType, chatID string, data interface{}) (WSMessage, error) {
	msg := WSMessage{
		Type:      msgType,
		ChatID:    chatID,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
	}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return WSMessage{}, err
		}
		msg.Data = raw
	}
	return msg, nil
}

func (m WSMessage) Encode() ([]byte, error) {
	return json.Marshal(m)
}

func Decode(frame []byte) (WSMessage, error) {
	var msg WSMessage
	err := json.Unmarshal(frame, &msg)
	return msg, err
}

// DecodeData unmarshals the payload into v. A missing payload leaves v
// untouched.
func (m WSMessage) DecodeData(v interface{}) error {
	if len(m.Data) == 0 {
		return nil
	}
	return json.Unmarshal(m.Data, v)
}

type SendMessageData struct {
	TempID      string              `json:"temp_id"`
	Content     string              `json:"content"`
	Type        string              `json:"type"`
	Attachments []entity.Attachment `json:"attachments"`
	ReplyTo     string              `json:"reply_to"`
}

type MessageSentData struct {
	TempID  string          `json:"temp_id,omitempty"`
	Message *entity.Message `json:"message"`
}

type ReactionData struct {
	MessageID string `json:"message_id"`
	Emoji     string `json:"emoji"`
}

type WatchPresenceData struct {
	UserID string `json:"user_id"`
}

type SetAlertsData struct {
	Enabled bool `json:"enabled"`
}

type ChatListData struct {
	Chats []*entity.Chat `json:"chats"`
}

type MessagesData struct {
	Messages []*MessageView `json:"messages"`
}

// MessageView adds the derived delivery status to a stored message.
type MessageView struct {
	*entity.Message
	Status string `json:"status"`
}

func NewMessageViews(messages []*entity.Message) []*MessageView {
	views := make([]*MessageView, 0, len(messages))
	for _, m := range messages {
		views = append(views, &MessageView{Message: m, Status: m.Status()})
	}
	return views
}

type TypingData struct {
	UserID   string `json:"user_id"`
	IsTyping bool   `json:"is_typing"`
}

type ErrorData struct {
	Code        string `json:"code"`
	Message     string `json:"message"`
	RequestType string `json:"request_type,omitempty"`
	RetryAfter  int    `json:"retry_after,omitempty"`
}

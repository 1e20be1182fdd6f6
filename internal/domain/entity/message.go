package entity

import (
	"sort"
	"time"
)

const (
	MessageTypeText   = "text"
	MessageTypeImage  = "image"
	MessageTypeFile   = "file"
	MessageTypeVoice  = "voice"
	MessageTypeSystem = "system"
)

const (
	StatusSent      = "sent"
	StatusDelivered = "delivered"
	StatusRead      = "read"
)

func ValidMessageType(t string) bool {
	switch t {
	case MessageTypeText, MessageTypeImage, MessageTypeFile, MessageTypeVoice, MessageTypeSystem:
		return true
	}
	return false
}

type Attachment struct {
	URL         string `json:"url" firestore:"url"`
	Name        string `json:"name,omitempty" firestore:"name,omitempty"`
	ContentType string `json:"content_type,omitempty" firestore:"contentType,omitempty"`
	Size        int64  `json:"size,omitempty" firestore:"size,omitempty"`
}

type Message struct {
	ID          string              `json:"id" firestore:"id"`
	ChatID      string              `json:"chat_id" firestore:"chatId"`
	SenderID    string              `json:"sender_id" firestore:"senderId"`
	Content     string              `json:"content" firestore:"content"`
	Type        string              `json:"type" firestore:"type"`
	Seq         int64               `json:"seq" firestore:"seq"`
	Attachments []Attachment        `json:"attachments,omitempty" firestore:"attachments,omitempty"`
	ReplyTo     string              `json:"reply_to,omitempty" firestore:"replyTo,omitempty"`
	Reactions   map[string][]string `json:"reactions,omitempty" firestore:"reactions,omitempty"`
	IsRead      bool                `json:"is_read" firestore:"isRead"`
	ReadAt      *time.Time          `json:"read_at,omitempty" firestore:"readAt,omitempty"`
	DeliveredAt *time.Time          `json:"delivered_at,omitempty" firestore:"deliveredAt,omitempty"`
	Edited      bool                `json:"edited" firestore:"edited"`
	EditedAt    *time.Time          `json:"edited_at,omitempty" firestore:"editedAt,omitempty"`
	CreatedAt   time.Time           `json:"created_at" firestore:"createdAt"`
}

// Status derives the lifecycle state from explicit acknowledgments only.
func (m *Message) Status() string {
	switch {
	case m.IsRead:
		return StatusRead
	case m.DeliveredAt != nil:
		return StatusDelivered
	default:
		return StatusSent
	}
}

// ToggleReaction adds userID to the emoji's set, or removes it if present.
// Empty sets are dropped. It reports whether the user now reacts.
func (m *Message) ToggleReaction(emoji, userID string) bool {
	if m.Reactions == nil {
		m.Reactions = make(map[string][]string)
	}
	users := m.Reactions[emoji]
	for i, u := range users {
		if u == userID {
			users = append(users[:i:i], users[i+1:]...)
			if len(users) == 0 {
				delete(m.Reactions, emoji)
			} else {
				m.Reactions[emoji] = users
			}
			return false
		}
	}
	users = append(append([]string(nil), users...), userID)
	sort.Strings(users)
	m.Reactions[emoji] = users
	return true
}

func (m *Message) Clone() *Message {
	out := *m
	out.Attachments = append([]Attachment(nil), m.Attachments...)
	if m.Reactions != nil {
		out.Reactions = make(map[string][]string, len(m.Reactions))
		for k, v := range m.Reactions {
			out.Reactions[k] = append([]string(nil), v...)
		}
	}
	return &out
}

// SortMessages orders messages by creation time, then sequence.
func SortMessages(messages []*Message) {
	sort.SliceStable(messages, func(i, j int) bool {
		if messages[i].CreatedAt.Equal(messages[j].CreatedAt) {
			return messages[i].Seq < messages[j].Seq
		}
		return messages[i].CreatedAt.Before(messages[j].CreatedAt)
	})
}

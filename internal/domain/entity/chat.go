package entity

import (
	"time"
	"unicode/utf8"
)

const summaryMaxRunes = 100

// MessageSummary is the denormalized last message shown in chat listings.
type MessageSummary struct {
	Text     string    `json:"text" firestore:"text"`
	SenderID string    `json:"sender_id" firestore:"senderId"`
	Type     string    `json:"type" firestore:"type"`
	SentAt   time.Time `json:"sent_at" firestore:"sentAt"`
}

type Chat struct {
	ID             string               `json:"id" firestore:"id"`
	Participants   []string             `json:"participants" firestore:"participants"`
	JobID          string               `json:"job_id,omitempty" firestore:"jobId,omitempty"`
	LastMessage    *MessageSummary      `json:"last_message,omitempty" firestore:"lastMessage,omitempty"`
	LastMessageAt  time.Time            `json:"last_message_at" firestore:"lastMessageAt"`
	LastActivityAt time.Time            `json:"last_activity_at" firestore:"lastActivityAt"`
	MessageSeq     int64                `json:"message_seq" firestore:"messageSeq"`
	UnreadCount    map[string]int       `json:"unread_count" firestore:"unreadCount"`
	Typing         map[string]time.Time `json:"typing,omitempty" firestore:"typing,omitempty"`
	IsActive       bool                 `json:"is_active" firestore:"isActive"`
	CreatedAt      time.Time            `json:"created_at" firestore:"createdAt"`
	UpdatedAt      time.Time            `json:"updated_at" firestore:"updatedAt"`
}

func (c *Chat) HasParticipant(userID string) bool {
	for _, p := range c.Participants {
		if p == userID {
			return true
		}
	}
	return false
}

// Peer returns the other participant, or "" if userID is not in the chat.
func (c *Chat) Peer(userID string) string {
	if !c.HasParticipant(userID) {
		return ""
	}
	for _, p := range c.Participants {
		if p != userID {
			return p
		}
	}
	return ""
}

// IsTyping reports whether userID has a typing mark younger than timeout.
func (c *Chat) IsTyping(userID string, now time.Time, timeout time.Duration) bool {
	at, ok := c.Typing[userID]
	if !ok || at.IsZero() {
		return false
	}
	return now.Sub(at) < timeout
}

func (c *Chat) Clone() *Chat {
	out := *c
	out.Participants = append([]string(nil), c.Participants...)
	if c.LastMessage != nil {
		summary := *c.LastMessage
		out.LastMessage = &summary
	}
	out.UnreadCount = make(map[string]int, len(c.UnreadCount))
	for k, v := range c.UnreadCount {
		out.UnreadCount[k] = v
	}
	if c.Typing != nil {
		out.Typing = make(map[string]time.Time, len(c.Typing))
		for k, v := range c.Typing {
			out.Typing[k] = v
		}
	}
	return &out
}

// Summarize truncates the message content for the chat listing.
func Summarize(m *Message) *MessageSummary {
	text := m.Content
	if utf8.RuneCountInString(text) > summaryMaxRunes {
		runes := []rune(text)
		text = string(runes[:summaryMaxRunes]) + "…"
	}
	if text == "" && len(m.Attachments) > 0 {
		text = "[" + m.Type + "]"
	}
	return &MessageSummary{
		Text:     text,
		SenderID: m.SenderID,
		Type:     m.Type,
		SentAt:   m.CreatedAt,
	}
}

// NextMessageTime returns a creation time strictly after last, so messages
// within one chat keep a total order even when clocks tie.
func NextMessageTime(last, now time.Time) time.Time {
	if !now.After(last) {
		return last.Add(time.Microsecond)
	}
	return now
}

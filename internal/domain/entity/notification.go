package entity

import "time"

const NotificationTypeMessage = "new_message"

type Notification struct {
	ID          string    `json:"id" firestore:"id"`
	RecipientID string    `json:"recipient_id" firestore:"recipientId"`
	Type        string    `json:"type" firestore:"type"`
	Title       string    `json:"title" firestore:"title"`
	Body        string    `json:"body" firestore:"body"`
	ChatID      string    `json:"chat_id" firestore:"chatId"`
	SenderID    string    `json:"sender_id" firestore:"senderId"`
	IsRead      bool      `json:"is_read" firestore:"isRead"`
	CreatedAt   time.Time `json:"created_at" firestore:"createdAt"`
}

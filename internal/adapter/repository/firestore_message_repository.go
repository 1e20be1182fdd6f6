package repository

import (
	"context"
	"log"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"jobchat/internal/domain/entity"
	"jobchat/internal/domain/repository"
	"jobchat/pkg/errors"
)

type firestoreMessageRepository struct {
	client *firestore.Client
}

func NewFirestoreMessageRepository(client *firestore.Client) repository.MessageRepository {
	return &firestoreMessageRepository{
		client: client,
	}
}

func (r *firestoreMessageRepository) chatRef(chatID string) *firestore.DocumentRef {
	return r.client.Collection(chatsCollection).Doc(chatID)
}

func (r *firestoreMessageRepository) messages(chatID string) *firestore.CollectionRef {
	return r.chatRef(chatID).Collection(messagesCollection)
}

// Append commits every side effect of a send in one transaction. Reading
// the chat inside it serializes concurrent senders, which is what makes
// seq and createdAt strictly increasing within a chat.
func (r *firestoreMessageRepository) Append(ctx context.Context, message *entity.Message, recipientID string, notification *entity.Notification) error {
	chatRef := r.chatRef(message.ChatID)
	msgRef := r.messages(message.ChatID).Doc(message.ID)
	candidate := message.CreatedAt
	if candidate.IsZero() {
		candidate = time.Now()
	}

	var committed entity.Message
	var committedNotification *entity.Notification
	err := r.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		doc, err := tx.Get(chatRef)
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return errors.NotFound("Chat", nil)
			}
			return err
		}

		var chat entity.Chat
		if err := doc.DataTo(&chat); err != nil {
			return errors.Internal("Failed to parse chat data", err)
		}

		msg := *message
		msg.Seq = chat.MessageSeq + 1
		msg.CreatedAt = entity.NextMessageTime(chat.LastMessageAt, candidate)
		if err := tx.Create(msgRef, &msg); err != nil {
			return err
		}

		updates := []firestore.Update{
			{Path: "messageSeq", Value: msg.Seq},
			{Path: "lastMessage", Value: entity.Summarize(&msg)},
			{Path: "lastMessageAt", Value: msg.CreatedAt},
			{Path: "lastActivityAt", Value: msg.CreatedAt},
			{Path: "updatedAt", Value: time.Now()},
		}
		if recipientID != "" {
			updates = append(updates, firestore.Update{
				FieldPath: firestore.FieldPath{"unreadCount", recipientID},
				Value:     firestore.Increment(1),
			})
		}
		if err := tx.Update(chatRef, updates); err != nil {
			return err
		}

		committedNotification = nil
		if notification != nil {
			n := *notification
			n.CreatedAt = msg.CreatedAt
			notifRef := r.client.Collection(notificationsCollection).Doc(n.ID)
			if err := tx.Create(notifRef, &n); err != nil {
				return err
			}
			committedNotification = &n
		}

		committed = msg
		return nil
	})
	if err != nil {
		return storeError("Failed to send message", err)
	}

	*message = committed
	if committedNotification != nil {
		*notification = *committedNotification
	}
	return nil
}

func (r *firestoreMessageRepository) GetByID(ctx context.Context, chatID, messageID string) (*entity.Message, error) {
	doc, err := r.messages(chatID).Doc(messageID).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, errors.NotFound("Message", nil)
		}
		return nil, storeError("Failed to get message", err)
	}

	var message entity.Message
	if err := doc.DataTo(&message); err != nil {
		return nil, errors.Internal("Failed to parse message data", err)
	}
	message.ID = doc.Ref.ID
	return &message, nil
}

// newestQuery selects the newest limit messages; decodeMessages restores display order.
func (r *firestoreMessageRepository) newestQuery(chatID string, limit int) firestore.Query {
	query := r.messages(chatID).OrderBy("createdAt", firestore.Desc)
	if limit > 0 {
		query = query.Limit(limit)
	}
	return query
}

func (r *firestoreMessageRepository) ListByChat(ctx context.Context, chatID string, limit int) ([]*entity.Message, error) {
	docs, err := r.newestQuery(chatID, limit).Documents(ctx).GetAll()
	if err != nil {
		log.Printf("Firestore error while listing messages for chat %s: %v", chatID, err)
		return nil, storeError("Failed to list messages", err)
	}
	return decodeMessages(docs, chatID), nil
}

// MarkRead flips unread peer messages in chunks that fit one commit. The
// unread counter is zeroed together with the last chunk.
func (r *firestoreMessageRepository) MarkRead(ctx context.Context, chatID, readerID string, at time.Time) (int, error) {
	chatRef := r.chatRef(chatID)
	unread := r.messages(chatID).Where("isRead", "==", false)

	total := 0
	for {
		flipped := 0
		more := false
		err := r.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
			flipped, more = 0, false

			chatDoc, err := tx.Get(chatRef)
			if err != nil {
				if status.Code(err) == codes.NotFound {
					return errors.NotFound("Chat", nil)
				}
				return err
			}
			var chat entity.Chat
			if err := chatDoc.DataTo(&chat); err != nil {
				return errors.Internal("Failed to parse chat data", err)
			}

			docs, err := tx.Documents(unread).GetAll()
			if err != nil {
				return err
			}

			for _, doc := range docs {
				var m entity.Message
				if err := doc.DataTo(&m); err != nil {
					log.Printf("MarkRead: skipping unparsable message %s in chat %s: %v", doc.Ref.ID, chatID, err)
					continue
				}
				if m.SenderID == readerID {
					continue
				}
				if flipped == maxTransactionWrites {
					more = true
					break
				}

				updates := []firestore.Update{
					{Path: "isRead", Value: true},
					{Path: "readAt", Value: at},
				}
				if m.DeliveredAt == nil {
					updates = append(updates, firestore.Update{Path: "deliveredAt", Value: at})
				}
				if err := tx.Update(doc.Ref, updates); err != nil {
					return err
				}
				flipped++
			}

			if !more && chat.UnreadCount[readerID] != 0 {
				return tx.Update(chatRef, []firestore.Update{
					{FieldPath: firestore.FieldPath{"unreadCount", readerID}, Value: 0},
					{Path: "updatedAt", Value: time.Now()},
				})
			}
			return nil
		})
		if err != nil {
			return total, storeError("Failed to mark messages as read", err)
		}

		total += flipped
		if !more {
			return total, nil
		}
	}
}

func (r *firestoreMessageRepository) MarkDelivered(ctx context.Context, chatID, recipientID string, at time.Time) (int, error) {
	// Read messages are always delivered, so unread ones are the only candidates.
	docs, err := r.messages(chatID).Where("isRead", "==", false).Documents(ctx).GetAll()
	if err != nil {
		return 0, storeError("Failed to query undelivered messages", err)
	}

	var pending []*firestore.DocumentRef
	for _, doc := range docs {
		var m entity.Message
		if err := doc.DataTo(&m); err != nil {
			continue
		}
		if m.SenderID != recipientID && m.DeliveredAt == nil {
			pending = append(pending, doc.Ref)
		}
	}

	stamped := 0
	for start := 0; start < len(pending); start += maxTransactionWrites {
		end := start + maxTransactionWrites
		if end > len(pending) {
			end = len(pending)
		}
		chunk := pending[start:end]

		err := r.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
			for _, ref := range chunk {
				if err := tx.Update(ref, []firestore.Update{{Path: "deliveredAt", Value: at}}); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return stamped, storeError("Failed to mark messages as delivered", err)
		}
		stamped += len(chunk)
	}
	return stamped, nil
}

// Modify runs a single-attempt transaction. Firestore aborts it when a
// concurrent commit touched the message, which surfaces as CONFLICT so the
// caller can apply its own bounded retry.
func (r *firestoreMessageRepository) Modify(ctx context.Context, chatID, messageID string, fn func(*entity.Message) error) (*entity.Message, error) {
	ref := r.messages(chatID).Doc(messageID)

	var result *entity.Message
	err := r.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		doc, err := tx.Get(ref)
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return errors.NotFound("Message", nil)
			}
			return err
		}

		var message entity.Message
		if err := doc.DataTo(&message); err != nil {
			return errors.Internal("Failed to parse message data", err)
		}
		message.ID = doc.Ref.ID

		if err := fn(&message); err != nil {
			return err
		}
		result = &message
		return tx.Set(ref, &message)
	}, firestore.MaxAttempts(1))
	if err != nil {
		return nil, storeError("Failed to update message", err)
	}
	return result, nil
}

func (r *firestoreMessageRepository) Edit(ctx context.Context, chatID, messageID, content string, at time.Time) error {
	_, err := r.messages(chatID).Doc(messageID).Update(ctx, []firestore.Update{
		{Path: "content", Value: content},
		{Path: "edited", Value: true},
		{Path: "editedAt", Value: at},
	})
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return errors.NotFound("Message", nil)
		}
		return storeError("Failed to edit message", err)
	}
	return nil
}

func (r *firestoreMessageRepository) Delete(ctx context.Context, chatID, messageID string) error {
	_, err := r.messages(chatID).Doc(messageID).Delete(ctx, firestore.Exists)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return errors.NotFound("Message", nil)
		}
		return storeError("Failed to delete message", err)
	}
	return nil
}

func (r *firestoreMessageRepository) SubscribeByChat(ctx context.Context, chatID string, limit int, onChange func([]*entity.Message), onError repository.ErrorHandler) (repository.Subscription, error) {
	sub := watchQuery(ctx, "messages:"+chatID, r.newestQuery(chatID, limit), func(docs []*firestore.DocumentSnapshot) {
		onChange(decodeMessages(docs, chatID))
	}, onError)
	return sub, nil
}

// decodeMessages converts newest-first documents into display order.
func decodeMessages(docs []*firestore.DocumentSnapshot, chatID string) []*entity.Message {
	messages := make([]*entity.Message, 0, len(docs))
	for _, doc := range docs {
		var message entity.Message
		if err := doc.DataTo(&message); err != nil {
			log.Printf("Error parsing message data for chat %s: %v", chatID, err)
			continue
		}
		message.ID = doc.Ref.ID
		messages = append(messages, &message)
	}
	entity.SortMessages(messages)
	return messages
}

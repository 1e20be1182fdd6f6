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

type firestoreChatRepository struct {
	client *firestore.Client
}

func NewFirestoreChatRepository(client *firestore.Client) repository.ChatRepository {
	return &firestoreChatRepository{
		client: client,
	}
}

// CreateIfAbsent relies on Create failing with AlreadyExists, so two
// participants opening the same pair concurrently converge on one document.
func (r *firestoreChatRepository) CreateIfAbsent(ctx context.Context, chat *entity.Chat) (*entity.Chat, bool, error) {
	if chat.UnreadCount == nil {
		chat.UnreadCount = make(map[string]int)
	}

	_, err := r.client.Collection(chatsCollection).Doc(chat.ID).Create(ctx, chat)
	if err == nil {
		return chat, true, nil
	}
	if status.Code(err) != codes.AlreadyExists {
		return nil, false, storeError("Failed to create chat", err)
	}

	existing, err := r.GetByID(ctx, chat.ID)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

func (r *firestoreChatRepository) GetByID(ctx context.Context, id string) (*entity.Chat, error) {
	doc, err := r.client.Collection(chatsCollection).Doc(id).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, errors.NotFound("Chat", nil)
		}
		return nil, storeError("Failed to get chat", err)
	}

	var chat entity.Chat
	if err := doc.DataTo(&chat); err != nil {
		return nil, errors.Internal("Failed to parse chat data", err)
	}
	chat.ID = doc.Ref.ID

	return &chat, nil
}

func (r *firestoreChatRepository) participantQuery(userID string) firestore.Query {
	return r.client.Collection(chatsCollection).
		Where("participants", "array-contains", userID).
		Where("isActive", "==", true).
		OrderBy("lastActivityAt", firestore.Desc)
}

func (r *firestoreChatRepository) ListByParticipant(ctx context.Context, userID string) ([]*entity.Chat, error) {
	docs, err := r.participantQuery(userID).Documents(ctx).GetAll()
	if err != nil {
		log.Printf("Firestore error while fetching chats for user %s: %v", userID, err)
		return nil, storeError("Failed to fetch chats", err)
	}
	return decodeChats(docs, userID), nil
}

func (r *firestoreChatRepository) SetActive(ctx context.Context, id string, active bool) error {
	_, err := r.client.Collection(chatsCollection).Doc(id).Update(ctx, []firestore.Update{
		{Path: "isActive", Value: active},
		{Path: "updatedAt", Value: time.Now()},
	})
	if err != nil {
		return storeError("Failed to update chat", err)
	}
	return nil
}

func (r *firestoreChatRepository) SetTyping(ctx context.Context, chatID, userID string, at *time.Time) error {
	var value interface{} = firestore.Delete
	if at != nil {
		value = *at
	}

	_, err := r.client.Collection(chatsCollection).Doc(chatID).Update(ctx, []firestore.Update{
		{FieldPath: firestore.FieldPath{"typing", userID}, Value: value},
	})
	if err != nil {
		return storeError("Failed to update typing state", err)
	}
	return nil
}

func (r *firestoreChatRepository) SubscribeByParticipant(ctx context.Context, userID string, onChange func([]*entity.Chat), onError repository.ErrorHandler) (repository.Subscription, error) {
	sub := watchQuery(ctx, "chats:"+userID, r.participantQuery(userID), func(docs []*firestore.DocumentSnapshot) {
		onChange(decodeChats(docs, userID))
	}, onError)
	return sub, nil
}

func decodeChats(docs []*firestore.DocumentSnapshot, userID string) []*entity.Chat {
	chats := make([]*entity.Chat, 0, len(docs))
	for _, doc := range docs {
		var chat entity.Chat
		if err := doc.DataTo(&chat); err != nil {
			log.Printf("Error parsing chat data for user %s: %v", userID, err)
			continue // Skip bad data instead of failing
		}
		chat.ID = doc.Ref.ID
		chats = append(chats, &chat)
	}
	return chats
}

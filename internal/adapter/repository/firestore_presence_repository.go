package repository

import (
	"context"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"jobchat/internal/domain/entity"
	"jobchat/internal/domain/repository"
	"jobchat/pkg/errors"
)

type firestorePresenceRepository struct {
	client *firestore.Client
}

func NewFirestorePresenceRepository(client *firestore.Client) repository.PresenceRepository {
	return &firestorePresenceRepository{
		client: client,
	}
}

func (r *firestorePresenceRepository) Upsert(ctx context.Context, record *entity.PresenceRecord) error {
	_, err := r.client.Collection(presenceCollection).Doc(record.UserID).Set(ctx, record)
	if err != nil {
		return storeError("Failed to write presence", err)
	}
	return nil
}

func (r *firestorePresenceRepository) Get(ctx context.Context, userID string) (*entity.PresenceRecord, error) {
	doc, err := r.client.Collection(presenceCollection).Doc(userID).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, errors.NotFound("Presence", nil)
		}
		return nil, storeError("Failed to read presence", err)
	}

	var record entity.PresenceRecord
	if err := doc.DataTo(&record); err != nil {
		return nil, errors.Internal("Failed to parse presence data", err)
	}
	return &record, nil
}

func (r *firestorePresenceRepository) Subscribe(ctx context.Context, userID string, onChange func(*entity.PresenceRecord), onError repository.ErrorHandler) (repository.Subscription, error) {
	ref := r.client.Collection(presenceCollection).Doc(userID)
	sub := watchDocument(ctx, "presence:"+userID, ref, func(doc *firestore.DocumentSnapshot) {
		if !doc.Exists() {
			onChange(nil)
			return
		}
		var record entity.PresenceRecord
		if err := doc.DataTo(&record); err != nil {
			onChange(nil)
			return
		}
		onChange(&record)
	}, onError)
	return sub, nil
}

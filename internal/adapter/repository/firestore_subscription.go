package repository

import (
	"context"
	stderrors "errors"
	"sync"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"jobchat/internal/domain/repository"
	"jobchat/pkg/errors"
	"jobchat/pkg/logger"
)

const (
	chatsCollection         = "chats"
	messagesCollection      = "messages"
	presenceCollection      = "presence"
	notificationsCollection = "notifications"

	// Firestore caps a commit at 500 writes; leave room for the chat update.
	maxTransactionWrites = 400
)

// storeError maps a Firestore failure onto the application error taxonomy.
// Errors already classified by a transaction body pass through unchanged.
func storeError(message string, err error) error {
	var appErr *errors.AppError
	if stderrors.As(err, &appErr) {
		return err
	}
	switch status.Code(err) {
	case codes.NotFound:
		return errors.NotFound(message, err)
	case codes.Aborted:
		return errors.Conflict(message, err)
	}
	return errors.StoreUnavailable(message, err)
}

type snapshotSubscription struct {
	cancel context.CancelFunc
	once   sync.Once
}

func (s *snapshotSubscription) Stop() {
	s.once.Do(s.cancel)
}

// watchQuery runs a standing query until the subscription is stopped or
// the listener fails. A failure is reported once and ends the subscription.
func watchQuery(ctx context.Context, name string, query firestore.Query, onDocs func([]*firestore.DocumentSnapshot), onError repository.ErrorHandler) repository.Subscription {
	ctx, cancel := context.WithCancel(ctx)
	iter := query.Snapshots(ctx)

	go func() {
		defer iter.Stop()
		for {
			snap, err := iter.Next()
			if ctx.Err() != nil {
				return
			}
			if err != nil {
				logger.Warn("Subscription %s terminated: %v", name, err)
				if onError != nil {
					onError(storeError("Subscription "+name+" terminated", err))
				}
				cancel()
				return
			}

			docs, err := snap.Documents.GetAll()
			if err != nil {
				logger.Warn("Subscription %s failed to read snapshot: %v", name, err)
				if onError != nil {
					onError(storeError("Subscription "+name+" terminated", err))
				}
				cancel()
				return
			}
			onDocs(docs)
		}
	}()

	return &snapshotSubscription{cancel: cancel}
}

func watchDocument(ctx context.Context, name string, ref *firestore.DocumentRef, onDoc func(*firestore.DocumentSnapshot), onError repository.ErrorHandler) repository.Subscription {
	ctx, cancel := context.WithCancel(ctx)
	iter := ref.Snapshots(ctx)

	go func() {
		defer iter.Stop()
		for {
			snap, err := iter.Next()
			if ctx.Err() != nil {
				return
			}
			if err != nil {
				logger.Warn("Subscription %s terminated: %v", name, err)
				if onError != nil {
					onError(storeError("Subscription "+name+" terminated", err))
				}
				cancel()
				return
			}
			onDoc(snap)
		}
	}()

	return &snapshotSubscription{cancel: cancel}
}

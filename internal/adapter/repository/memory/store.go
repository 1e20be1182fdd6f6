// Package memory is a process-local document store with the same
// semantics as the Firestore repositories: create-if-absent, atomic
// multi-document commits, optimistic message writes and standing
// subscriptions. It backs STORE_DRIVER=memory and the usecase tests.
package memory

import (
	"sync"
	"time"

	"jobchat/internal/domain/entity"
	"jobchat/internal/domain/repository"
	"jobchat/pkg/errors"
)

type messageEntry struct {
	message *entity.Message
	version int64
}

type watcher struct {
	id       int64
	topic    string
	snapshot func() func() // called with Store.mu held
	onError  repository.ErrorHandler
	feed     *feed
}

type Store struct {
	mu            sync.Mutex
	chats         map[string]*entity.Chat
	messages      map[string]map[string]*messageEntry
	presence      map[string]*entity.PresenceRecord
	notifications map[string]*entity.Notification

	watchers  map[int64]*watcher
	nextWatch int64
	failure   error

	now func() time.Time
}

func NewStore() *Store {
	return &Store{
		chats:         make(map[string]*entity.Chat),
		messages:      make(map[string]map[string]*messageEntry),
		presence:      make(map[string]*entity.PresenceRecord),
		notifications: make(map[string]*entity.Notification),
		watchers:      make(map[int64]*watcher),
		now:           time.Now,
	}
}

// SetClock overrides the time source used for bookkeeping timestamps.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	s.now = now
	s.mu.Unlock()
}

// FailWith makes every subsequent call fail as if the store rejected it,
// until called again with nil.
func (s *Store) FailWith(err error) {
	s.mu.Lock()
	s.failure = err
	s.mu.Unlock()
}

// TerminateSubscriptions ends every standing subscription with err, as
// the remote store does when permissions are revoked.
func (s *Store) TerminateSubscriptions(err error) {
	s.mu.Lock()
	watchers := make([]*watcher, 0, len(s.watchers))
	for id, w := range s.watchers {
		watchers = append(watchers, w)
		delete(s.watchers, id)
	}
	s.mu.Unlock()

	for _, w := range watchers {
		w := w
		w.feed.push(func() {
			if w.onError != nil {
				w.onError(err)
			}
		})
		w.feed.push(w.feed.stop)
	}
}

func (s *Store) Chats() repository.ChatRepository { return &chatRepository{s} }

func (s *Store) Messages() repository.MessageRepository { return &messageRepository{s} }

func (s *Store) Presence() repository.PresenceRepository { return &presenceRepository{s} }

func (s *Store) Notifications() repository.NotificationRepository {
	return &notificationRepository{s}
}

// checkLocked must be called with s.mu held.
func (s *Store) checkLocked() error {
	if s.failure != nil {
		return errors.StoreUnavailable("Store rejected the request", s.failure)
	}
	return nil
}

// watch registers a subscription and queues its initial snapshot.
func (s *Store) watch(topic string, snapshot func() func(), onError repository.ErrorHandler) (repository.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkLocked(); err != nil {
		return nil, err
	}

	s.nextWatch++
	w := &watcher{
		id:       s.nextWatch,
		topic:    topic,
		snapshot: snapshot,
		onError:  onError,
		feed:     newFeed(),
	}
	s.watchers[w.id] = w
	w.feed.push(snapshot())

	return &subscription{store: s, id: w.id, feed: w.feed}, nil
}

// publishLocked queues a fresh snapshot for every watcher of the topics.
func (s *Store) publishLocked(topics ...string) {
	for _, w := range s.watchers {
		for _, topic := range topics {
			if w.topic == topic {
				w.feed.push(w.snapshot())
				break
			}
		}
	}
}

type subscription struct {
	store *Store
	id    int64
	feed  *feed
}

func (sub *subscription) Stop() {
	sub.store.mu.Lock()
	delete(sub.store.watchers, sub.id)
	sub.store.mu.Unlock()
	sub.feed.stop()
}

func chatTopic(userID string) string         { return "chats:" + userID }
func messageTopic(chatID string) string      { return "messages:" + chatID }
func presenceTopic(userID string) string     { return "presence:" + userID }
func notificationTopic(userID string) string { return "notifications:" + userID }

func chatTopics(chat *entity.Chat) []string {
	topics := make([]string, 0, len(chat.Participants))
	for _, p := range chat.Participants {
		topics = append(topics, chatTopic(p))
	}
	return topics
}

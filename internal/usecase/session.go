package usecase

import (
	"context"
	"sync"
	"time"

	"jobchat/internal/domain/entity"
	"jobchat/internal/domain/repository"
	"jobchat/pkg/errors"
	"jobchat/pkg/logger"
)

type SessionDeps struct {
	Presence      *PresenceUseCase
	Directory     *DirectoryUseCase
	Conversations *ConversationUseCase
	Notifications *NotificationUseCase
	Settings      Settings
}

type sessionState int

const (
	sessionIdle sessionState = iota
	sessionRunning
	sessionStopped
)

// Standing subscriptions every running session holds.
const (
	SubscriptionChats         = "chats"
	SubscriptionNotifications = "notifications"
)

func messagesKind(chatID string) string { return "messages:" + chatID }

func presenceKind(userID string) string { return "presence:" + userID }

type peerTyping struct {
	userID   string
	isTyping bool
}

// typingMark is the debounce timer for the user's own typing mark in one chat.
type typingMark struct {
	timer *time.Timer
}

type typingChange struct {
	chatID   string
	userID   string
	isTyping bool
}

// Session is one signed-in user's live connection to the chat system. It
// owns every subscription, typing timer and the presence lease it opens,
// and Stop releases all of them on any exit path.
type Session struct {
	userID string
	deps   SessionDeps
	hooks  SessionHooks

	mu       sync.Mutex
	state    sessionState
	ctx      context.Context
	cancel   context.CancelFunc
	lease    *PresenceLease
	subs     map[string]repository.Subscription
	typing   map[string]*typingMark
	rechecks map[string]*time.Timer
	peers    map[string]peerTyping
	chats    map[string]*entity.Chat
	seen     map[string]struct{}
}

func NewSession(userID string, deps SessionDeps, hooks SessionHooks) *Session {
	return &Session{
		userID:   userID,
		deps:     deps,
		hooks:    hooks,
		subs:     make(map[string]repository.Subscription),
		typing:   make(map[string]*typingMark),
		rechecks: make(map[string]*time.Timer),
		peers:    make(map[string]peerTyping),
		chats:    make(map[string]*entity.Chat),
		seen:     make(map[string]struct{}),
	}
}

func (s *Session) UserID() string {
	return s.userID
}

func errSessionClosed() error {
	return errors.Unauthenticated("Session is closed")
}

// Start marks the user online and opens the chat list and notification
// subscriptions. A failed Start leaves nothing running.
func (s *Session) Start(ctx context.Context) error {
	if s.userID == "" {
		return errors.Unauthenticated("Session requires an authenticated user")
	}

	s.mu.Lock()
	if s.state != sessionIdle {
		s.mu.Unlock()
		return errors.Conflict("Session already started", nil)
	}
	s.state = sessionRunning
	s.ctx, s.cancel = context.WithCancel(ctx)
	sessionCtx := s.ctx
	s.mu.Unlock()

	lease, err := s.deps.Presence.Start(sessionCtx, s.userID)
	if err != nil {
		s.Stop()
		return err
	}
	s.mu.Lock()
	if s.state != sessionRunning {
		s.mu.Unlock()
		lease.Stop()
		return errSessionClosed()
	}
	s.lease = lease
	s.mu.Unlock()

	err = s.subscribe(SubscriptionChats, func(ctx context.Context) (repository.Subscription, error) {
		return s.deps.Directory.Subscribe(ctx, s.userID, s.handleChats, s.subscriptionError(SubscriptionChats))
	})
	if err != nil {
		s.Stop()
		return err
	}

	err = s.subscribe(SubscriptionNotifications, func(ctx context.Context) (repository.Subscription, error) {
		return s.deps.Notifications.Subscribe(ctx, s.userID, s.handleNotifications, s.subscriptionError(SubscriptionNotifications))
	})
	if err != nil {
		s.Stop()
		return err
	}

	logger.Info("Session started for user %s", s.userID)
	return nil
}

// Stop releases everything the session holds. It is idempotent and the
// presence lease is released even if a subscription fails to stop.
func (s *Session) Stop() {
	s.mu.Lock()
	if s.state == sessionStopped {
		s.mu.Unlock()
		return
	}
	wasRunning := s.state == sessionRunning
	s.state = sessionStopped

	subs := s.subs
	typing := s.typing
	rechecks := s.rechecks
	lease := s.lease
	cancel := s.cancel
	s.subs = make(map[string]repository.Subscription)
	s.typing = make(map[string]*typingMark)
	s.rechecks = make(map[string]*time.Timer)
	s.lease = nil
	s.mu.Unlock()

	if lease != nil {
		defer lease.Stop()
	}
	if cancel != nil {
		defer cancel()
	}

	for _, sub := range subs {
		sub.Stop()
	}
	for _, t := range rechecks {
		t.Stop()
	}
	for chatID, mark := range typing {
		mark.timer.Stop()
		s.clearTyping(chatID)
	}

	if wasRunning {
		logger.Info("Session stopped for user %s", s.userID)
	}
}

func (s *Session) context() (context.Context, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != sessionRunning {
		return nil, errSessionClosed()
	}
	return s.ctx, nil
}

// subscribe opens kind once; a second call for an open kind is a no-op.
func (s *Session) subscribe(kind string, open func(ctx context.Context) (repository.Subscription, error)) error {
	s.mu.Lock()
	if s.state != sessionRunning {
		s.mu.Unlock()
		return errSessionClosed()
	}
	if _, ok := s.subs[kind]; ok {
		s.mu.Unlock()
		return nil
	}
	ctx := s.ctx
	s.mu.Unlock()

	sub, err := open(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	_, duplicate := s.subs[kind]
	if s.state != sessionRunning || duplicate {
		s.mu.Unlock()
		sub.Stop()
		if duplicate {
			return nil
		}
		return errSessionClosed()
	}
	s.subs[kind] = sub
	s.mu.Unlock()
	return nil
}

func (s *Session) unsubscribe(kind string) {
	s.mu.Lock()
	sub := s.subs[kind]
	delete(s.subs, kind)
	s.mu.Unlock()

	if sub != nil {
		sub.Stop()
	}
}

// subscriptionError drops the terminated subscription and reports it.
// Reopening is left to the owner of the session.
func (s *Session) subscriptionError(kind string) repository.ErrorHandler {
	return func(err error) {
		s.mu.Lock()
		sub := s.subs[kind]
		delete(s.subs, kind)
		running := s.state == sessionRunning
		s.mu.Unlock()

		if sub != nil {
			sub.Stop()
		}
		if !running {
			return
		}
		logger.LogSessionError(s.userID, "subscription "+kind, err)
		s.hooks.OnSubscriptionError(kind, err)
	}
}

func (s *Session) handleChats(chats []*entity.Chat) {
	now := s.deps.Settings.now()

	s.mu.Lock()
	if s.state != sessionRunning {
		s.mu.Unlock()
		return
	}
	s.chats = make(map[string]*entity.Chat, len(chats))
	var changes []typingChange
	for _, chat := range chats {
		s.chats[chat.ID] = chat
		if change, ok := s.evaluateTypingLocked(chat, now); ok {
			changes = append(changes, change)
		}
	}
	for chatID, peer := range s.peers {
		if _, ok := s.chats[chatID]; ok {
			continue
		}
		delete(s.peers, chatID)
		if t := s.rechecks[chatID]; t != nil {
			t.Stop()
			delete(s.rechecks, chatID)
		}
		if peer.isTyping {
			changes = append(changes, typingChange{chatID: chatID, userID: peer.userID, isTyping: false})
		}
	}
	s.mu.Unlock()

	s.hooks.OnChatListChanged(chats)
	for _, c := range changes {
		s.hooks.OnTypingChanged(c.chatID, c.userID, c.isTyping)
	}
}

// evaluateTypingLocked derives the peer's typing state and schedules a
// re-check for the moment a live mark turns stale, since an abandoned
// mark produces no further snapshot.
func (s *Session) evaluateTypingLocked(chat *entity.Chat, now time.Time) (typingChange, bool) {
	peer := chat.Peer(s.userID)
	if peer == "" {
		return typingChange{}, false
	}

	timeout := s.deps.Settings.TypingTimeout
	isTyping := chat.IsTyping(peer, now, timeout)

	if t := s.rechecks[chat.ID]; t != nil {
		t.Stop()
		delete(s.rechecks, chat.ID)
	}
	if isTyping {
		chatID := chat.ID
		wait := chat.Typing[peer].Add(timeout).Sub(now)
		s.rechecks[chatID] = time.AfterFunc(wait, func() { s.recheckTyping(chatID) })
	}

	prev := s.peers[chat.ID]
	if prev.isTyping == isTyping {
		return typingChange{}, false
	}
	s.peers[chat.ID] = peerTyping{userID: peer, isTyping: isTyping}
	return typingChange{chatID: chat.ID, userID: peer, isTyping: isTyping}, true
}

func (s *Session) recheckTyping(chatID string) {
	s.mu.Lock()
	chat := s.chats[chatID]
	if s.state != sessionRunning || chat == nil {
		s.mu.Unlock()
		return
	}
	change, ok := s.evaluateTypingLocked(chat, s.deps.Settings.now())
	s.mu.Unlock()

	if ok {
		s.hooks.OnTypingChanged(change.chatID, change.userID, change.isTyping)
	}
}

// handleNotifications reports each unread notification once, oldest first.
func (s *Session) handleNotifications(list []*entity.Notification) {
	s.mu.Lock()
	if s.state != sessionRunning {
		s.mu.Unlock()
		return
	}
	var fresh []*entity.Notification
	for _, n := range list {
		if n.IsRead {
			continue
		}
		if _, ok := s.seen[n.ID]; ok {
			continue
		}
		s.seen[n.ID] = struct{}{}
		fresh = append(fresh, n)
	}
	s.mu.Unlock()

	for i := len(fresh) - 1; i >= 0; i-- {
		s.hooks.OnNotification(fresh[i])
	}
}

// OpenConversation streams the messages of a chat the user takes part in.
// Peer messages seen through it are acknowledged as delivered.
func (s *Session) OpenConversation(chatID string) error {
	ctx, err := s.context()
	if err != nil {
		return err
	}
	if _, err := s.deps.Directory.Get(ctx, s.userID, chatID); err != nil {
		return err
	}

	kind := messagesKind(chatID)
	return s.subscribe(kind, func(ctx context.Context) (repository.Subscription, error) {
		return s.deps.Conversations.SubscribeMessages(ctx, chatID, func(messages []*entity.Message) {
			s.handleMessages(chatID, messages)
		}, s.subscriptionError(kind))
	})
}

func (s *Session) CloseConversation(chatID string) {
	s.unsubscribe(messagesKind(chatID))
	s.StopTyping(chatID)
}

func (s *Session) handleMessages(chatID string, messages []*entity.Message) {
	s.hooks.OnMessagesChanged(chatID, messages)

	if !hasUndelivered(messages, s.userID) {
		return
	}
	ctx, err := s.context()
	if err != nil {
		return
	}
	if _, err := s.deps.Conversations.MarkDelivered(ctx, chatID, s.userID); err != nil {
		logger.Warn("Session %s: failed to acknowledge delivery in %s: %v", s.userID, chatID, err)
	}
}

func (s *Session) knowsChat(chatID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.chats[chatID]
	return ok
}

// Typing records a keystroke. The mark is cleared after the typing
// timeout unless another keystroke arrives first.
func (s *Session) Typing(chatID string) error {
	ctx, err := s.context()
	if err != nil {
		return err
	}
	if !s.knowsChat(chatID) {
		if _, err := s.deps.Directory.Get(ctx, s.userID, chatID); err != nil {
			return err
		}
	}
	if err := s.deps.Conversations.SignalTyping(ctx, chatID, s.userID); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != sessionRunning {
		return errSessionClosed()
	}
	if mark := s.typing[chatID]; mark != nil {
		mark.timer.Stop()
	}
	// The callback may run before AfterFunc returns, so it matches on the
	// mark and never reads the timer.
	mark := &typingMark{}
	mark.timer = time.AfterFunc(s.deps.Settings.TypingTimeout, func() {
		s.expireTyping(chatID, mark)
	})
	s.typing[chatID] = mark
	return nil
}

func (s *Session) expireTyping(chatID string, mark *typingMark) {
	s.mu.Lock()
	if s.state != sessionRunning || s.typing[chatID] != mark {
		s.mu.Unlock()
		return
	}
	delete(s.typing, chatID)
	s.mu.Unlock()

	s.clearTyping(chatID)
}

// StopTyping clears the user's typing mark right away, e.g. after a send.
func (s *Session) StopTyping(chatID string) {
	s.mu.Lock()
	mark, ok := s.typing[chatID]
	if ok {
		mark.timer.Stop()
		delete(s.typing, chatID)
	}
	s.mu.Unlock()

	if ok {
		s.clearTyping(chatID)
	}
}

func (s *Session) clearTyping(chatID string) {
	ctx, cancel := context.WithTimeout(context.Background(), offlineWriteTimeout)
	defer cancel()
	if err := s.deps.Conversations.ClearTyping(ctx, chatID, s.userID); err != nil {
		logger.Warn("Session %s: failed to clear typing in %s: %v", s.userID, chatID, err)
	}
}

// WatchPresence streams the online state of another user.
func (s *Session) WatchPresence(userID string) error {
	kind := presenceKind(userID)
	return s.subscribe(kind, func(ctx context.Context) (repository.Subscription, error) {
		return s.deps.Presence.Watch(ctx, userID, s.hooks.OnPresenceChanged, s.subscriptionError(kind))
	})
}

func (s *Session) UnwatchPresence(userID string) {
	s.unsubscribe(presenceKind(userID))
}

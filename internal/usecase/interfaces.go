package usecase

import (
	"context"
	"time"

	"jobchat/internal/domain/entity"
	"jobchat/pkg/config"
)

// IdentityProvider resolves an authenticated session token to a user id.
type IdentityProvider interface {
	VerifyToken(ctx context.Context, token string) (string, error)
}

// AlertSink raises an immediate alert on the recipient's own live
// session. It reports whether an alert was raised; a recipient without a
// session, or without alert permission, gets none.
type AlertSink interface {
	Alert(userID string, notification *entity.Notification) bool
}

// MessageSender is the slice of the conversation engine the directory
// needs to deliver an initial message.
type MessageSender interface {
	SendMessage(ctx context.Context, senderID string, input SendMessageInput) (*entity.Message, error)
}

// SessionHooks receives the callbacks of one session. Implementations
// must not block for long: they run on subscription goroutines.
type SessionHooks interface {
	OnChatListChanged(chats []*entity.Chat)
	OnMessagesChanged(chatID string, messages []*entity.Message)
	OnTypingChanged(chatID, userID string, isTyping bool)
	OnNotification(notification *entity.Notification)
	OnPresenceChanged(status PresenceStatus)
	// OnSubscriptionError reports a standing subscription that ended. It
	// is not reopened; kind names it ("chats", "messages:<chatID>", ...).
	OnSubscriptionError(kind string, err error)
}

type Settings struct {
	HeartbeatInterval   time.Duration
	StaleAfter          time.Duration
	TypingTimeout       time.Duration
	ReactionMaxAttempts int
	MessageWindow       int
	NotificationWindow  int

	// Now defaults to time.Now.
	Now func() time.Time
}

func DefaultSettings() Settings {
	return Settings{
		HeartbeatInterval:   30 * time.Second,
		StaleAfter:          60 * time.Second,
		TypingTimeout:       3 * time.Second,
		ReactionMaxAttempts: 5,
		MessageWindow:       200,
		NotificationWindow:  50,
		Now:                 time.Now,
	}
}

func SettingsFromConfig(cfg *config.Config) Settings {
	s := DefaultSettings()
	if cfg.PresenceHeartbeat > 0 {
		s.HeartbeatInterval = cfg.PresenceHeartbeat
	}
	if cfg.PresenceStaleAfter > 0 {
		s.StaleAfter = cfg.PresenceStaleAfter
	}
	if cfg.TypingTimeout > 0 {
		s.TypingTimeout = cfg.TypingTimeout
	}
	if cfg.ReactionMaxAttempts > 0 {
		s.ReactionMaxAttempts = cfg.ReactionMaxAttempts
	}
	return s
}

func (s Settings) now() time.Time {
	if s.Now == nil {
		return time.Now()
	}
	return s.Now()
}

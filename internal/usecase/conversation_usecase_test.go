package usecase_test

import (
	"context"
	stderrors "errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"jobchat/internal/domain/entity"
	"jobchat/internal/domain/repository"
	"jobchat/internal/usecase"
	"jobchat/pkg/errors"
)

func TestSendMessage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	chat := f.chat(t, "alice", "bob")

	t.Run("UpdatesSummaryUnreadAndNotification", func(t *testing.T) {
		msg := f.send(t, chat.ID, "alice", "Hi Bob")
		assert.Equal(t, int64(1), msg.Seq)
		assert.Equal(t, entity.StatusSent, msg.Status())

		stored, err := f.directory.Get(ctx, "bob", chat.ID)
		require.NoError(t, err)
		require.NotNil(t, stored.LastMessage)
		assert.Equal(t, "Hi Bob", stored.LastMessage.Text)
		assert.Equal(t, "alice", stored.LastMessage.SenderID)
		assert.Equal(t, 1, stored.UnreadCount["bob"])
		assert.Equal(t, 0, stored.UnreadCount["alice"])

		list, err := f.notifications.List(ctx, "bob", 0)
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.Equal(t, chat.ID, list[0].ChatID)
		assert.Equal(t, "alice", list[0].SenderID)
		assert.Equal(t, entity.NotificationTypeMessage, list[0].Type)
		assert.False(t, list[0].IsRead)
	})

	t.Run("AlertsOnlyLiveRecipients", func(t *testing.T) {
		before := len(f.alerts.all())
		f.send(t, chat.ID, "bob", "offline alice gets no alert")
		assert.Len(t, f.alerts.all(), before)

		f.alerts.setOnline("bob")
		f.send(t, chat.ID, "alice", "bob is here")
		alerts := f.alerts.all()
		require.Len(t, alerts, before+1)
		assert.Equal(t, "bob", alerts[len(alerts)-1].userID)
	})

	t.Run("Validation", func(t *testing.T) {
		cases := []struct {
			name   string
			sender string
			input  usecase.SendMessageInput
			code   string
		}{
			{"EmptyText", "alice", usecase.SendMessageInput{ChatID: chat.ID, Content: "   "}, errors.CodeBadRequest},
			{"UnknownType", "alice", usecase.SendMessageInput{ChatID: chat.ID, Content: "x", Type: "sticker"}, errors.CodeBadRequest},
			{"ImageWithoutAttachment", "alice", usecase.SendMessageInput{ChatID: chat.ID, Type: entity.MessageTypeImage}, errors.CodeBadRequest},
			{"TooLong", "alice", usecase.SendMessageInput{ChatID: chat.ID, Content: strings.Repeat("a", 4001)}, errors.CodeBadRequest},
			{"MissingReply", "alice", usecase.SendMessageInput{ChatID: chat.ID, Content: "re", ReplyTo: "missing"}, errors.CodeBadRequest},
			{"Outsider", "mallory", usecase.SendMessageInput{ChatID: chat.ID, Content: "hi"}, errors.CodeForbidden},
			{"UnknownChat", "alice", usecase.SendMessageInput{ChatID: "alice_zed", Content: "hi"}, errors.CodeNotFound},
			{"NoSender", "", usecase.SendMessageInput{ChatID: chat.ID, Content: "hi"}, errors.CodeUnauthenticated},
		}
		for _, tc := range cases {
			t.Run(tc.name, func(t *testing.T) {
				msg, err := f.conversations.SendMessage(ctx, tc.sender, tc.input)
				assert.Nil(t, msg)
				assert.True(t, errors.Is(err, tc.code), "got %v", err)
			})
		}
	})

	t.Run("AttachmentOnly", func(t *testing.T) {
		msg, err := f.conversations.SendMessage(ctx, "alice", usecase.SendMessageInput{
			ChatID:      chat.ID,
			Type:        entity.MessageTypeImage,
			Attachments: []entity.Attachment{{URL: "https://cdn.example/cat.png", ContentType: "image/png"}},
		})
		require.NoError(t, err)

		stored, err := f.directory.Get(ctx, "alice", chat.ID)
		require.NoError(t, err)
		assert.Equal(t, "[image]", stored.LastMessage.Text)
		assert.Equal(t, msg.Seq, stored.MessageSeq)
	})

	t.Run("Reply", func(t *testing.T) {
		original := f.send(t, chat.ID, "bob", "question?")
		reply, err := f.conversations.SendMessage(ctx, "alice", usecase.SendMessageInput{
			ChatID:  chat.ID,
			Content: "answer",
			ReplyTo: original.ID,
		})
		require.NoError(t, err)
		assert.Equal(t, original.ID, reply.ReplyTo)
	})
}

func TestMessagesKeepTotalOrderWithFrozenClock(t *testing.T) {
	clock := newTestClock()
	f := newFixture(t, func(s *usecase.Settings) { s.Now = clock.Now })
	f.store.SetClock(clock.Now)
	ctx := context.Background()
	chat := f.chat(t, "alice", "bob")

	for i := 0; i < 5; i++ {
		sender := "alice"
		if i%2 == 1 {
			sender = "bob"
		}
		f.send(t, chat.ID, sender, "tick")
	}

	messages, err := f.conversations.ListMessages(ctx, "alice", chat.ID, 0)
	require.NoError(t, err)
	require.Len(t, messages, 5)
	for i := 1; i < len(messages); i++ {
		assert.True(t, messages[i].CreatedAt.After(messages[i-1].CreatedAt))
		assert.Equal(t, messages[i-1].Seq+1, messages[i].Seq)
	}
}

func TestMessageStatusLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	chat := f.chat(t, "alice", "bob")
	sent := f.send(t, chat.ID, "alice", "hello")
	assert.Equal(t, entity.StatusSent, sent.Status())

	// The sender's own fetch acknowledges nothing.
	messages, err := f.conversations.ListMessages(ctx, "alice", chat.ID, 0)
	require.NoError(t, err)
	assert.Equal(t, entity.StatusSent, messages[0].Status())

	messages, err = f.conversations.ListMessages(ctx, "bob", chat.ID, 0)
	require.NoError(t, err)
	assert.Equal(t, entity.StatusDelivered, messages[0].Status())

	messages, err = f.conversations.ListMessages(ctx, "alice", chat.ID, 0)
	require.NoError(t, err)
	assert.Equal(t, entity.StatusDelivered, messages[0].Status())

	flipped, err := f.conversations.MarkRead(ctx, chat.ID, "bob")
	require.NoError(t, err)
	assert.Equal(t, 1, flipped)

	messages, err = f.conversations.ListMessages(ctx, "alice", chat.ID, 0)
	require.NoError(t, err)
	assert.Equal(t, entity.StatusRead, messages[0].Status())
	assert.NotNil(t, messages[0].ReadAt)
}

func TestMarkReadIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	chat := f.chat(t, "alice", "bob")
	f.send(t, chat.ID, "alice", "one")
	f.send(t, chat.ID, "alice", "two")
	f.send(t, chat.ID, "bob", "mine")

	flipped, err := f.conversations.MarkRead(ctx, chat.ID, "bob")
	require.NoError(t, err)
	assert.Equal(t, 2, flipped)

	stored, err := f.directory.Get(ctx, "bob", chat.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, stored.UnreadCount["bob"])
	assert.Equal(t, 1, stored.UnreadCount["alice"])

	flipped, err = f.conversations.MarkRead(ctx, chat.ID, "bob")
	require.NoError(t, err)
	assert.Zero(t, flipped)

	again, err := f.directory.Get(ctx, "bob", chat.ID)
	require.NoError(t, err)
	assert.Equal(t, stored.UpdatedAt, again.UpdatedAt)

	_, err = f.conversations.MarkRead(ctx, chat.ID, "mallory")
	assert.True(t, errors.Is(err, errors.CodeForbidden))
}

func TestToggleReaction(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	chat := f.chat(t, "alice", "bob")
	msg := f.send(t, chat.ID, "alice", "nice")

	updated, err := f.conversations.ToggleReaction(ctx, chat.ID, msg.ID, "👍", "bob")
	require.NoError(t, err)
	assert.Equal(t, []string{"bob"}, updated.Reactions["👍"])

	updated, err = f.conversations.ToggleReaction(ctx, chat.ID, msg.ID, "👍", "bob")
	require.NoError(t, err)
	assert.NotContains(t, updated.Reactions, "👍")

	_, err = f.conversations.ToggleReaction(ctx, chat.ID, msg.ID, "", "bob")
	assert.True(t, errors.Is(err, errors.CodeBadRequest))

	_, err = f.conversations.ToggleReaction(ctx, chat.ID, "missing", "👍", "bob")
	assert.True(t, errors.Is(err, errors.CodeNotFound))
}

func TestConcurrentReactionsKeepEveryUser(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	chat := f.chat(t, "alice", "bob")
	msg := f.send(t, chat.ID, "alice", "react to me")

	var wg sync.WaitGroup
	for _, user := range []string{"alice", "bob"} {
		wg.Add(1)
		go func(user string) {
			defer wg.Done()
			_, err := f.conversations.ToggleReaction(ctx, chat.ID, msg.ID, "🔥", user)
			assert.NoError(t, err)
		}(user)
	}
	wg.Wait()

	messages, err := f.conversations.ListMessages(ctx, "alice", chat.ID, 0)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"alice", "bob"}, messages[0].Reactions["🔥"])
}

// conflictingMessages loses every optimistic write.
type conflictingMessages struct {
	repository.MessageRepository
	attempts atomic.Int32
}

func (c *conflictingMessages) Modify(ctx context.Context, chatID, messageID string, fn func(*entity.Message) error) (*entity.Message, error) {
	c.attempts.Add(1)
	return nil, errors.Conflict("Message was modified concurrently", nil)
}

func TestToggleReactionGivesUpAfterBoundedRetries(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	chat := f.chat(t, "alice", "bob")
	msg := f.send(t, chat.ID, "alice", "contended")

	messages := &conflictingMessages{MessageRepository: f.store.Messages()}
	conversations := usecase.NewConversationUseCase(f.store.Chats(), messages, f.notifications, nil, f.settings)

	_, err := conversations.ToggleReaction(ctx, chat.ID, msg.ID, "👀", "bob")
	assert.True(t, errors.Is(err, errors.CodeConflictExhausted), "got %v", err)
	assert.Equal(t, int32(f.settings.ReactionMaxAttempts), messages.attempts.Load())
}

func TestEditMessage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	chat := f.chat(t, "alice", "bob")
	msg := f.send(t, chat.ID, "alice", "Hello wrld")

	_, err := f.conversations.RequireSender(ctx, chat.ID, msg.ID, "bob")
	assert.True(t, errors.Is(err, errors.CodeForbidden))

	_, err = f.conversations.RequireSender(ctx, chat.ID, msg.ID, "alice")
	require.NoError(t, err)

	edited, err := f.conversations.EditMessage(ctx, chat.ID, msg.ID, "Hello world")
	require.NoError(t, err)
	assert.Equal(t, "Hello world", edited.Content)
	assert.True(t, edited.Edited)
	assert.NotNil(t, edited.EditedAt)
	assert.Equal(t, msg.Seq, edited.Seq)
	assert.Equal(t, msg.CreatedAt, edited.CreatedAt)

	_, err = f.conversations.EditMessage(ctx, chat.ID, msg.ID, " ")
	assert.True(t, errors.Is(err, errors.CodeBadRequest))
}

func TestDeleteMessageRemovesAttachments(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	chat := f.chat(t, "alice", "bob")

	msg, err := f.conversations.SendMessage(ctx, "alice", usecase.SendMessageInput{
		ChatID: chat.ID,
		Type:   entity.MessageTypeFile,
		Attachments: []entity.Attachment{
			{URL: "https://storage.googleapis.com/bucket/chats/a.pdf"},
			{URL: "https://storage.googleapis.com/bucket/chats/b.pdf"},
		},
	})
	require.NoError(t, err)

	f.files.On("DeleteFile", mock.Anything, "https://storage.googleapis.com/bucket/chats/a.pdf").Return(nil)
	f.files.On("DeleteFile", mock.Anything, "https://storage.googleapis.com/bucket/chats/b.pdf").Return(stderrors.New("gone"))

	require.NoError(t, f.conversations.DeleteMessage(ctx, chat.ID, msg.ID))
	f.files.AssertExpectations(t)

	_, err = f.conversations.RequireSender(ctx, chat.ID, msg.ID, "alice")
	assert.True(t, errors.Is(err, errors.CodeNotFound))

	err = f.conversations.DeleteMessage(ctx, chat.ID, msg.ID)
	assert.True(t, errors.Is(err, errors.CodeNotFound))
}

func TestTypingMarks(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	chat := f.chat(t, "alice", "bob")

	require.NoError(t, f.conversations.SignalTyping(ctx, chat.ID, "alice"))
	stored, err := f.directory.Get(ctx, "bob", chat.ID)
	require.NoError(t, err)
	assert.True(t, stored.IsTyping("alice", f.settings.Now(), f.settings.TypingTimeout))

	require.NoError(t, f.conversations.ClearTyping(ctx, chat.ID, "alice"))
	stored, err = f.directory.Get(ctx, "bob", chat.ID)
	require.NoError(t, err)
	assert.NotContains(t, stored.Typing, "alice")
}

func TestStoreUnavailablePropagates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	chat := f.chat(t, "alice", "bob")

	f.store.FailWith(stderrors.New("permission revoked"))
	_, err := f.conversations.SendMessage(ctx, "alice", usecase.SendMessageInput{ChatID: chat.ID, Content: "hi"})
	assert.True(t, errors.Is(err, errors.CodeStoreUnavailable))

	_, err = f.conversations.ListMessages(ctx, "alice", chat.ID, 0)
	assert.True(t, errors.Is(err, errors.CodeStoreUnavailable))

	f.store.FailWith(nil)
	messages, err := f.conversations.ListMessages(ctx, "alice", chat.ID, 0)
	require.NoError(t, err)
	assert.Empty(t, messages)
}

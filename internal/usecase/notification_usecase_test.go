package usecase_test

import (
	"context"
	stderrors "errors"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jobchat/pkg/errors"
)

func TestNotify(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.notifications.Notify(ctx, "bob", "alice_bob", "alice", "offline")
	assert.Empty(t, f.alerts.all())

	f.alerts.setOnline("bob")
	f.notifications.Notify(ctx, "bob", "alice_bob", "alice", "online")
	alerts := f.alerts.all()
	require.Len(t, alerts, 1)
	assert.Equal(t, "online", alerts[0].notification.Body)

	list, err := f.notifications.List(ctx, "bob", 0)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "online", list[0].Body)

	t.Run("FailureIsSwallowed", func(t *testing.T) {
		f.store.FailWith(stderrors.New("quota"))
		defer f.store.FailWith(nil)

		assert.NotPanics(t, func() {
			f.notifications.Notify(ctx, "bob", "alice_bob", "alice", "lost")
		})
		assert.Len(t, f.alerts.all(), 1)
	})
}

func TestPrepareTruncatesBody(t *testing.T) {
	f := newFixture(t)
	n := f.notifications.Prepare("bob", "alice_bob", "alice", strings.Repeat("é", 150))
	assert.NotEmpty(t, n.ID)
	assert.Equal(t, 101, utf8.RuneCountInString(n.Body))
	assert.True(t, strings.HasSuffix(n.Body, "…"))
	assert.False(t, n.IsRead)
}

func TestMarkNotificationRead(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	chat := f.chat(t, "alice", "bob")
	f.send(t, chat.ID, "alice", "hi")

	list, err := f.notifications.List(ctx, "bob", 0)
	require.NoError(t, err)
	require.Len(t, list, 1)

	err = f.notifications.MarkRead(ctx, "alice", list[0].ID)
	assert.True(t, errors.Is(err, errors.CodeNotFound))

	require.NoError(t, f.notifications.MarkRead(ctx, "bob", list[0].ID))
	require.NoError(t, f.notifications.MarkRead(ctx, "bob", list[0].ID))

	list, err = f.notifications.List(ctx, "bob", 0)
	require.NoError(t, err)
	assert.True(t, list[0].IsRead)
}

package handler_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	gorillaws "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jobchat/internal/infrastructure/firebase"
	ws "jobchat/internal/infrastructure/websocket"
	"jobchat/internal/usecase"
	"jobchat/pkg/errors"
)

const frameWait = 2 * time.Second

func dial(t *testing.T, s *testServer, uid string) *gorillaws.Conn {
	t.Helper()
	srv := httptest.NewServer(s.e)
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?token=" + firebase.DevToken(uid)
	conn, _, err := gorillaws.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func write(t *testing.T, conn *gorillaws.Conn, msgType, chatID string, data interface{}) {
	t.Helper()
	msg, err := ws.NewMessage(msgType, chatID, data)
	require.NoError(t, err)
	frame, err := msg.Encode()
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(gorillaws.TextMessage, frame))
}

// readUntil skips frames until one of msgType arrives.
func readUntil(t *testing.T, conn *gorillaws.Conn, msgType string) ws.WSMessage {
	t.Helper()
	deadline := time.Now().Add(frameWait)
	for {
		require.NoError(t, conn.SetReadDeadline(deadline))
		_, frame, err := conn.ReadMessage()
		require.NoError(t, err, "waiting for %s", msgType)
		msg, err := ws.Decode(frame)
		require.NoError(t, err)
		if msg.Type == msgType {
			return msg
		}
	}
}

// readAll collects the first frame of each type, in any arrival order.
func readAll(t *testing.T, conn *gorillaws.Conn, types ...string) map[string]ws.WSMessage {
	t.Helper()
	want := make(map[string]bool, len(types))
	for _, typ := range types {
		want[typ] = true
	}
	got := make(map[string]ws.WSMessage, len(types))
	deadline := time.Now().Add(frameWait)
	for len(got) < len(want) {
		require.NoError(t, conn.SetReadDeadline(deadline))
		_, frame, err := conn.ReadMessage()
		require.NoError(t, err, "waiting for %v", types)
		msg, err := ws.Decode(frame)
		require.NoError(t, err)
		if _, seen := got[msg.Type]; want[msg.Type] && !seen {
			got[msg.Type] = msg
		}
	}
	return got
}

// roundTrip round-trips a ping so every earlier frame has been handled.
func roundTrip(t *testing.T, conn *gorillaws.Conn) {
	t.Helper()
	write(t, conn, ws.MessageTypePing, "", nil)
	readUntil(t, conn, ws.MessageTypePong)
}

func TestWebSocketRequiresToken(t *testing.T) {
	s := newTestServer(t)
	srv := httptest.NewServer(s.e)
	defer srv.Close()

	_, resp, err := gorillaws.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestWebSocketSessionLifecycle(t *testing.T) {
	s := newTestServer(t)
	chat := createChat(t, s, "alice", "bob")
	conn := dial(t, s, "alice")

	var list ws.ChatListData
	require.NoError(t, readUntil(t, conn, ws.MessageTypeChatListChanged).DecodeData(&list))
	require.Len(t, list.Chats, 1)
	assert.Equal(t, chat.ID, list.Chats[0].ID)

	assert.Eventually(t, func() bool {
		online, err := usecase.NewPresenceUseCase(s.store.Presence(), usecase.DefaultSettings()).IsOnline(context.Background(), "alice")
		return err == nil && online
	}, frameWait, 10*time.Millisecond)

	write(t, conn, ws.MessageTypeOpenChat, chat.ID, nil)
	write(t, conn, ws.MessageTypeSendMessage, chat.ID, ws.SendMessageData{TempID: "tmp-1", Content: "hello bob"})

	var sent ws.MessageSentData
	require.NoError(t, readUntil(t, conn, ws.MessageTypeMessageSent).DecodeData(&sent))
	assert.Equal(t, "tmp-1", sent.TempID)
	require.NotNil(t, sent.Message)
	assert.Equal(t, "hello bob", sent.Message.Content)

	var window ws.MessagesData
	require.NoError(t, readUntil(t, conn, ws.MessageTypeMessagesChanged).DecodeData(&window))

	conn.Close()
	assert.Eventually(t, func() bool {
		online, err := usecase.NewPresenceUseCase(s.store.Presence(), usecase.DefaultSettings()).IsOnline(context.Background(), "alice")
		return err == nil && !online && !s.manager.IsConnected("alice")
	}, frameWait, 10*time.Millisecond)
}

func TestWebSocketSecondConnectionKeepsUserOnline(t *testing.T) {
	s := newTestServer(t)
	presence := usecase.NewPresenceUseCase(s.store.Presence(), usecase.DefaultSettings())
	isOnline := func() bool {
		online, err := presence.IsOnline(context.Background(), "alice")
		return err == nil && online
	}

	phone := dial(t, s, "alice")
	readUntil(t, phone, ws.MessageTypeChatListChanged)
	laptop := dial(t, s, "alice")
	readUntil(t, laptop, ws.MessageTypeChatListChanged)

	phone.Close()
	// the laptop session still answers after the phone session is torn down
	roundTrip(t, laptop)
	assert.Never(t, func() bool { return !isOnline() }, 200*time.Millisecond, 10*time.Millisecond)

	laptop.Close()
	assert.Eventually(t, func() bool { return !isOnline() }, frameWait, 10*time.Millisecond)
}

func TestWebSocketReportsRequestErrors(t *testing.T) {
	s := newTestServer(t)
	createChat(t, s, "alice", "bob")
	conn := dial(t, s, "mallory")

	write(t, conn, ws.MessageTypeSendMessage, "alice_bob", ws.SendMessageData{Content: "let me in"})
	var data ws.ErrorData
	require.NoError(t, readUntil(t, conn, ws.MessageTypeError).DecodeData(&data))
	assert.Equal(t, errors.CodeForbidden, data.Code)
	assert.Equal(t, ws.MessageTypeSendMessage, data.RequestType)

	require.NoError(t, conn.WriteMessage(gorillaws.TextMessage, []byte("{not json")))
	require.NoError(t, readUntil(t, conn, ws.MessageTypeError).DecodeData(&data))
	assert.Equal(t, errors.CodeBadRequest, data.Code)

	write(t, conn, "teleport", "", nil)
	require.NoError(t, readUntil(t, conn, ws.MessageTypeError).DecodeData(&data))
	assert.Equal(t, errors.CodeBadRequest, data.Code)
	assert.Equal(t, "teleport", data.RequestType)

	// the connection survives request errors
	roundTrip(t, conn)
}

func TestWebSocketNotificationsAndAlerts(t *testing.T) {
	s := newTestServer(t)
	chat := createChat(t, s, "alice", "bob")
	bob := dial(t, s, "bob")
	readUntil(t, bob, ws.MessageTypeChatListChanged)

	write(t, bob, ws.MessageTypeSetAlerts, "", ws.SetAlertsData{Enabled: true})
	roundTrip(t, bob)

	sendMessage(t, s, "alice", chat.ID, "are you free tomorrow?")

	frames := readAll(t, bob, ws.MessageTypeNotificationAlert, ws.MessageTypeNotification)
	assert.Equal(t, chat.ID, frames[ws.MessageTypeNotificationAlert].ChatID)

	var n struct {
		Body   string `json:"body"`
		ChatID string `json:"chat_id"`
	}
	require.NoError(t, frames[ws.MessageTypeNotification].DecodeData(&n))
	assert.Equal(t, "are you free tomorrow?", n.Body)
	assert.Equal(t, chat.ID, n.ChatID)
}

func TestWebSocketTypingReachesPeer(t *testing.T) {
	s := newTestServer(t)
	chat := createChat(t, s, "alice", "bob")
	alice := dial(t, s, "alice")
	bob := dial(t, s, "bob")
	readUntil(t, alice, ws.MessageTypeChatListChanged)
	readUntil(t, bob, ws.MessageTypeChatListChanged)

	write(t, alice, ws.MessageTypeTyping, chat.ID, nil)

	var typing ws.TypingData
	msg := readUntil(t, bob, ws.MessageTypeTypingChanged)
	require.NoError(t, msg.DecodeData(&typing))
	assert.Equal(t, chat.ID, msg.ChatID)
	assert.Equal(t, "alice", typing.UserID)
	assert.True(t, typing.IsTyping)
}

func TestWebSocketWatchPresence(t *testing.T) {
	s := newTestServer(t)
	alice := dial(t, s, "alice")
	readUntil(t, alice, ws.MessageTypeChatListChanged)

	write(t, alice, ws.MessageTypeWatchPresence, "", ws.WatchPresenceData{UserID: "bob"})

	bob := dial(t, s, "bob")
	readUntil(t, bob, ws.MessageTypeChatListChanged)

	deadline := time.Now().Add(frameWait)
	for time.Now().Before(deadline) {
		var status usecase.PresenceStatus
		require.NoError(t, readUntil(t, alice, ws.MessageTypePresenceChanged).DecodeData(&status))
		if status.UserID == "bob" && status.IsOnline {
			return
		}
	}
	t.Fatal("bob never showed as online")
}

func TestWebSocketUnwatchPresence(t *testing.T) {
	s := newTestServer(t)
	alice := dial(t, s, "alice")
	readUntil(t, alice, ws.MessageTypeChatListChanged)

	write(t, alice, ws.MessageTypeWatchPresence, "", ws.WatchPresenceData{UserID: "bob"})
	readUntil(t, alice, ws.MessageTypePresenceChanged)

	write(t, alice, ws.MessageTypeUnwatchPresence, "", ws.WatchPresenceData{})
	var data ws.ErrorData
	require.NoError(t, readUntil(t, alice, ws.MessageTypeError).DecodeData(&data))
	assert.Equal(t, errors.CodeBadRequest, data.Code)

	write(t, alice, ws.MessageTypeUnwatchPresence, "", ws.WatchPresenceData{UserID: "bob"})
	roundTrip(t, alice)

	bob := dial(t, s, "bob")
	readUntil(t, bob, ws.MessageTypeChatListChanged)

	// only the pong for this ping may arrive; a presence frame would come first
	write(t, alice, ws.MessageTypePing, "", nil)
	require.NoError(t, alice.SetReadDeadline(time.Now().Add(frameWait)))
	_, frame, err := alice.ReadMessage()
	require.NoError(t, err)
	msg, err := ws.Decode(frame)
	require.NoError(t, err)
	assert.Equal(t, ws.MessageTypePong, msg.Type)
}

func TestWebSocketDrainWaitsForSessionTeardown(t *testing.T) {
	s := newTestServer(t)
	chat := createChat(t, s, "alice", "bob")
	alice := dial(t, s, "alice")
	readUntil(t, alice, ws.MessageTypeChatListChanged)
	write(t, alice, ws.MessageTypeTyping, chat.ID, nil)
	roundTrip(t, alice)

	s.shutdown()

	ctx, cancel := context.WithTimeout(context.Background(), frameWait)
	defer cancel()
	require.NoError(t, s.sessions.Drain(ctx))

	online, err := usecase.NewPresenceUseCase(s.store.Presence(), usecase.DefaultSettings()).IsOnline(context.Background(), "alice")
	require.NoError(t, err)
	assert.False(t, online)

	stored, err := s.store.Chats().GetByID(context.Background(), chat.ID)
	require.NoError(t, err)
	assert.NotContains(t, stored.Typing, "alice")
}

package websocket

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"jobchat/internal/domain/entity"
	"jobchat/pkg/logger"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	sendBuffer     = 256
)

// Client is one WebSocket connection of a user. A user may hold several.
type Client struct {
	UserID string
	Conn   *websocket.Conn
	Send   chan []byte

	alerts    atomic.Bool
	closeOnce sync.Once
	closed    chan struct{}
}

func NewClient(userID string, conn *websocket.Conn) *Client {
	return &Client{
		UserID: userID,
		Conn:   conn,
		Send:   make(chan []byte, sendBuffer),
		closed: make(chan struct{}),
	}
}

// SetAlerts records whether the user granted immediate alerts on this
// connection.
func (c *Client) SetAlerts(enabled bool) {
	c.alerts.Store(enabled)
}

func (c *Client) AlertsEnabled() bool {
	return c.alerts.Load()
}

// Close ends the write pump, which closes the connection.
func (c *Client) Close() {
	c.closeOnce.Do(func() { close(c.closed) })
}

// Enqueue queues an encoded frame. A client whose buffer is full is too
// slow to keep up and gets disconnected.
func (c *Client) Enqueue(frame []byte) bool {
	select {
	case <-c.closed:
		return false
	default:
	}

	select {
	case c.Send <- frame:
		return true
	default:
		logger.Warn("WebSocket: client %s send buffer full, closing connection", c.UserID)
		c.Close()
		return false
	}
}

// Manager tracks the live connections of every user.
type Manager struct {
	clients    map[string]map[*Client]struct{}
	Register   chan *Client
	Unregister chan *Client
	done       chan struct{}
	mutex      sync.RWMutex
}

func NewManager() *Manager {
	return &Manager{
		clients:    make(map[string]map[*Client]struct{}),
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
		done:       make(chan struct{}),
	}
}

// Start runs the registration loop until ctx is done.
func (m *Manager) Start(ctx context.Context) {
	go func() {
		for {
			select {
			case client := <-m.Register:
				m.mutex.Lock()
				if m.clients[client.UserID] == nil {
					m.clients[client.UserID] = make(map[*Client]struct{})
				}
				m.clients[client.UserID][client] = struct{}{}
				m.mutex.Unlock()
				logger.Info("WebSocket: client registered for %s", client.UserID)

			case client := <-m.Unregister:
				m.mutex.Lock()
				if conns, ok := m.clients[client.UserID]; ok {
					delete(conns, client)
					if len(conns) == 0 {
						delete(m.clients, client.UserID)
					}
				}
				m.mutex.Unlock()
				client.Close()
				logger.Info("WebSocket: client unregistered for %s", client.UserID)

			case <-ctx.Done():
				close(m.done)
				m.mutex.Lock()
				for _, conns := range m.clients {
					for client := range conns {
						client.Close()
					}
				}
				m.clients = make(map[string]map[*Client]struct{})
				m.mutex.Unlock()
				return
			}
		}
	}()
}

// Add registers the client unless the manager already shut down.
func (m *Manager) Add(client *Client) bool {
	select {
	case m.Register <- client:
		return true
	case <-m.done:
		return false
	}
}

func (m *Manager) Remove(client *Client) {
	select {
	case m.Unregister <- client:
	case <-m.done:
		client.Close()
	}
}

func (m *Manager) snapshot(userID string) []*Client {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	conns := m.clients[userID]
	out := make([]*Client, 0, len(conns))
	for c := range conns {
		out = append(out, c)
	}
	return out
}

func (m *Manager) IsConnected(userID string) bool {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return len(m.clients[userID]) > 0
}

// SendToUser delivers msg to every connection of userID and reports how
// many accepted it.
func (m *Manager) SendToUser(userID string, msg WSMessage) int {
	frame, err := msg.Encode()
	if err != nil {
		logger.Error("WebSocket: failed to encode %s for %s: %v", msg.Type, userID, err)
		return 0
	}

	sent := 0
	for _, c := range m.snapshot(userID) {
		if c.Enqueue(frame) {
			sent++
		}
	}
	return sent
}

// Alert raises a notification alert on the connections of userID that
// enabled alerts. It reports whether any did.
func (m *Manager) Alert(userID string, notification *entity.Notification) bool {
	msg, err := NewMessage(MessageTypeNotificationAlert, notification.ChatID, notification)
	if err != nil {
		logger.Error("WebSocket: failed to build alert for %s: %v", userID, err)
		return false
	}
	frame, err := msg.Encode()
	if err != nil {
		logger.Error("WebSocket: failed to encode alert for %s: %v", userID, err)
		return false
	}

	raised := false
	for _, c := range m.snapshot(userID) {
		if c.AlertsEnabled() && c.Enqueue(frame) {
			raised = true
		}
	}
	return raised
}

// ReadPump hands every inbound frame to onMessage until the connection
// fails or closes, then unregisters the client.
func (c *Client) ReadPump(m *Manager, onMessage func(raw []byte)) {
	defer func() {
		m.Remove(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(maxMessageSize)
	_ = c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		return c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Warn("WebSocket: read error for %s: %v", c.UserID, err)
			}
			return
		}
		onMessage(message)
	}
}

// WritePump owns all writes to the connection, including keepalive pings.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message := <-c.Send:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				logger.Warn("WebSocket: write error for %s: %v", c.UserID, err)
				return
			}

		case <-ticker.C:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.closed:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.Conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

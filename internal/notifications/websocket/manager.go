package websocket

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/igdrones/ig-docs-backend/internal/apperrors"
	"github.com/igdrones/ig-docs-backend/internal/auth"
	"github.com/igdrones/ig-docs-backend/internal/notifications"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
	sendBuffer = 64
)

var ErrUserNotConnected = errors.New("user not connected")

// Manager tracks the live subscriptions of authenticated users and pushes
// document events to them.
type Manager struct {
	connections map[string]*Connection
	mu          sync.RWMutex
	hub         *Hub
	upgrader    websocket.Upgrader
	logger      *zap.Logger
}

// Connection is one browser tab subscribed for a user.
type Connection struct {
	ID          string
	UserID      uuid.UUID
	Conn        *websocket.Conn
	Send        chan notifications.WebSocketMessage
	ConnectedAt time.Time
}

// Hub owns the connection set. All mutation happens on its goroutine.
type Hub struct {
	connections map[*Connection]bool
	register    chan *Connection
	unregister  chan *Connection
	stop        chan struct{}
	logger      *zap.Logger
}

// NewManager starts the hub. An empty allowedOrigins accepts any origin.
func NewManager(logger *zap.Logger, allowedOrigins []string) *Manager {
	hub := &Hub{
		connections: make(map[*Connection]bool),
		register:    make(chan *Connection),
		unregister:  make(chan *Connection),
		stop:        make(chan struct{}),
		logger:      logger,
	}

	go hub.run()

	return &Manager{
		connections: make(map[string]*Connection),
		hub:         hub,
		logger:      logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(allowedOrigins),
		},
	}
}

func originChecker(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 {
		return func(r *http.Request) bool { return true }
	}
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		set[o] = struct{}{}
	}
	return func(r *http.Request) bool {
		_, ok := set[r.Header.Get("Origin")]
		return ok
	}
}

// Name identifies the manager as a notification channel.
func (m *Manager) Name() string { return "websocket" }

// Deliver pushes ev to every connected recipient. Offline users are skipped.
func (m *Manager) Deliver(ctx context.Context, ev notifications.Event) (string, error) {
	delivered := 0
	for _, userID := range ev.Recipients {
		msg, err := notifications.NewEventMessage(ev, userID.String())
		if err != nil {
			return "", err
		}
		if err := m.SendToUser(userID, msg); err == nil {
			delivered++
		}
	}
	if delivered == 0 {
		return "", notifications.ErrNoRecipients
	}
	return fmt.Sprintf("%d", delivered), nil
}

// ServeWS upgrades an authenticated request into a subscription for the caller.
func (m *Manager) ServeWS(c *gin.Context) {
	principal, ok := auth.PrincipalFrom(c)
	if !ok {
		apperrors.Respond(c, m.logger, auth.ErrMissingPrincipal)
		return
	}
	if _, err := m.HandleConnection(c.Writer, c.Request, principal.UserID); err != nil {
		m.logger.Warn("WebSocket upgrade failed", zap.Error(err))
	}
}

// HandleConnection upgrades the request and subscribes it for userID.
func (m *Manager) HandleConnection(w http.ResponseWriter, r *http.Request, userID uuid.UUID) (*Connection, error) {
	conn, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to upgrade connection: %w", err)
	}

	connection := &Connection{
		ID:          uuid.New().String(),
		UserID:      userID,
		Conn:        conn,
		Send:        make(chan notifications.WebSocketMessage, sendBuffer),
		ConnectedAt: time.Now(),
	}
	connection.Send <- notifications.WebSocketMessage{
		Type:      notifications.WSMessageTypeStatus,
		Data:      []byte(fmt.Sprintf(`{"status":"connected","connection_id":%q}`, connection.ID)),
		Timestamp: connection.ConnectedAt,
		Target:    userID.String(),
	}

	m.hub.register <- connection

	m.mu.Lock()
	m.connections[connection.ID] = connection
	m.mu.Unlock()

	go m.readPump(connection)
	go m.writePump(connection)

	m.logger.Debug("WebSocket subscribed",
		zap.String("connection_id", connection.ID),
		zap.String("user_id", userID.String()))
	return connection, nil
}

// readPump drains client frames so control messages are processed
func (m *Manager) readPump(conn *Connection) {
	defer func() {
		m.mu.Lock()
		delete(m.connections, conn.ID)
		m.mu.Unlock()
		select {
		case m.hub.unregister <- conn:
		case <-m.hub.stop:
		}
		conn.Conn.Close()
	}()

	conn.Conn.SetReadLimit(512)
	conn.Conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.Conn.SetPongHandler(func(string) error {
		return conn.Conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := conn.Conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				m.logger.Debug("WebSocket closed unexpectedly", zap.String("connection_id", conn.ID), zap.Error(err))
			}
			return
		}
	}
}

// writePump is the only writer of conn. It exits when Send is closed.
func (m *Manager) writePump(conn *Connection) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-conn.Send:
			conn.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				conn.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.Conn.WriteJSON(message); err != nil {
				return
			}

		case <-ticker.C:
			conn.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *Hub) run() {
	for {
		select {
		case conn := <-h.register:
			h.connections[conn] = true

		case conn := <-h.unregister:
			if _, ok := h.connections[conn]; ok {
				delete(h.connections, conn)
				close(conn.Send)
			}

		case <-h.stop:
			for conn := range h.connections {
				close(conn.Send)
				delete(h.connections, conn)
			}
			return
		}
	}
}

// SendToUser queues message on every connection of userID. Full buffers
// drop the message for that connection.
func (m *Manager) SendToUser(userID uuid.UUID, message notifications.WebSocketMessage) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sent := 0
	for _, conn := range m.connections {
		if conn.UserID != userID {
			continue
		}
		select {
		case conn.Send <- message:
			sent++
		default:
		}
	}
	if sent == 0 {
		return ErrUserNotConnected
	}
	return nil
}

func (m *Manager) GetConnectionCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.connections)
}

// Close drops every subscription and stops the hub.
func (m *Manager) Close() {
	m.mu.Lock()
	for _, conn := range m.connections {
		conn.Conn.Close()
	}
	m.connections = make(map[string]*Connection)
	m.mu.Unlock()

	close(m.hub.stop)
}

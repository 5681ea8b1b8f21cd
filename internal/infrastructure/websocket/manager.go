package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"marketchat/internal/domain/entity"
	"marketchat/internal/infrastructure/events"
	"marketchat/internal/usecase"
	"marketchat/pkg/logger"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 8 * 1024
	sendBuffer     = 64
)

// RoomGate decides whether an actor may watch a room.
type RoomGate interface {
	GetRoom(ctx context.Context, roomID string, actor entity.Actor) (*usecase.RoomSummary, error)
}

// ReadMarker clears a reader's unread counter.
type ReadMarker interface {
	MarkAsRead(ctx context.Context, roomID string, reader entity.Actor) (int, error)
}

// Client represents a WebSocket connection client
type Client struct {
	Actor entity.Actor
	Conn  *websocket.Conn
	Send  chan []byte

	// rooms is guarded by Manager.mutex.
	rooms map[string]struct{}
}

func NewClient(actor entity.Actor, conn *websocket.Conn) *Client {
	return &Client{
		Actor: actor,
		Conn:  conn,
		Send:  make(chan []byte, sendBuffer),
		rooms: make(map[string]struct{}),
	}
}

// Manager tracks live connections per user and room subscriptions per room.
// A user may hold several connections.
type Manager struct {
	clients    map[string]map[*Client]struct{}
	rooms      map[string]map[*Client]struct{}
	Register   chan *Client
	Unregister chan *Client
	mutex      sync.RWMutex
	done       chan struct{}

	gate  RoomGate
	reads ReadMarker
}

func NewManager(gate RoomGate, reads ReadMarker) *Manager {
	return &Manager{
		clients:    make(map[string]map[*Client]struct{}),
		rooms:      make(map[string]map[*Client]struct{}),
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
		done:       make(chan struct{}),
		gate:       gate,
		reads:      reads,
	}
}

// Start runs the manager's main loop in a goroutine
func (m *Manager) Start(ctx context.Context) {
	go func() {
		defer close(m.done)
		for {
			select {
			case client := <-m.Register:
				m.add(client)
			case client := <-m.Unregister:
				m.remove(client)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Connect hands client to the main loop. It returns false once the manager
// has stopped.
func (m *Manager) Connect(client *Client) bool {
	select {
	case m.Register <- client:
		return true
	case <-m.done:
		return false
	}
}

// disconnect removes client directly when the main loop is gone.
func (m *Manager) disconnect(client *Client) {
	select {
	case m.Unregister <- client:
	case <-m.done:
		m.remove(client)
	}
}

func (m *Manager) add(client *Client) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	conns, ok := m.clients[client.Actor.UserID]
	if !ok {
		conns = make(map[*Client]struct{})
		m.clients[client.Actor.UserID] = conns
	}
	conns[client] = struct{}{}
	logger.L().Debug().Str(logger.FieldUserID, client.Actor.UserID).Msg("websocket client registered")
}

func (m *Manager) remove(client *Client) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	conns, ok := m.clients[client.Actor.UserID]
	if !ok {
		return
	}
	if _, ok := conns[client]; !ok {
		return
	}
	delete(conns, client)
	if len(conns) == 0 {
		delete(m.clients, client.Actor.UserID)
	}
	for roomID := range client.rooms {
		m.leaveLocked(client, roomID)
	}
	close(client.Send)
	logger.L().Debug().Str(logger.FieldUserID, client.Actor.UserID).Msg("websocket client unregistered")
}

func (m *Manager) join(client *Client, roomID string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	subs, ok := m.rooms[roomID]
	if !ok {
		subs = make(map[*Client]struct{})
		m.rooms[roomID] = subs
	}
	subs[client] = struct{}{}
	client.rooms[roomID] = struct{}{}
}

func (m *Manager) leave(client *Client, roomID string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.leaveLocked(client, roomID)
}

func (m *Manager) leaveLocked(client *Client, roomID string) {
	delete(client.rooms, roomID)
	if subs, ok := m.rooms[roomID]; ok {
		delete(subs, client)
		if len(subs) == 0 {
			delete(m.rooms, roomID)
		}
	}
}

// offer drops the frame when a client's buffer is full rather than blocking
// every other delivery behind it.
func offer(client *Client, frame []byte) {
	select {
	case client.Send <- frame:
	default:
		logger.L().Warn().Str(logger.FieldUserID, client.Actor.UserID).Msg("websocket send buffer full, dropping frame")
	}
}

// SendToUser sends a message to every connection of a user
func (m *Manager) SendToUser(userID string, msg WSMessage) {
	frame, err := json.Marshal(msg)
	if err != nil {
		return
	}

	m.mutex.RLock()
	defer m.mutex.RUnlock()
	for client := range m.clients[userID] {
		offer(client, frame)
	}
}

// BroadcastToRoom sends msg to every subscriber of roomID except skip.
func (m *Manager) BroadcastToRoom(roomID string, msg WSMessage, skip *Client) {
	frame, err := json.Marshal(msg)
	if err != nil {
		return
	}

	m.mutex.RLock()
	defer m.mutex.RUnlock()
	for client := range m.rooms[roomID] {
		if client != skip {
			offer(client, frame)
		}
	}
}

// Deliver routes an event to its audience on this instance.
func (m *Manager) Deliver(env *events.Envelope) {
	msg := WSMessage{
		Type:      env.Type,
		ChatID:    env.RoomID,
		Data:      env.Payload,
		Timestamp: env.Timestamp.Format(time.RFC3339),
	}
	if env.UserID != "" {
		m.SendToUser(env.UserID, msg)
		return
	}
	m.BroadcastToRoom(env.RoomID, msg, nil)
}

func (m *Manager) deliver(ctx context.Context, env *events.Envelope, err error) {
	if err != nil {
		logger.Ctx(ctx).Error().Err(err).Msg("failed to build websocket event")
		return
	}
	m.Deliver(env)
}

func (m *Manager) OnNewMessage(ctx context.Context, roomID string, msg *entity.ChatMessage) {
	env, err := events.NewMessageEvent(roomID, msg)
	m.deliver(ctx, env, err)
}

func (m *Manager) OnUnreadCountChanged(ctx context.Context, userID, roomID string, count int) {
	env, err := events.NewUnreadEvent(userID, roomID, count)
	m.deliver(ctx, env, err)
}

func (m *Manager) OnOfferStateChanged(ctx context.Context, offerID, roomID string, status entity.OfferStatus) {
	env, err := events.NewOfferEvent(offerID, roomID, status)
	m.deliver(ctx, env, err)
}

var _ usecase.EventNotifier = (*Manager)(nil)

// ReadPump reads messages from the WebSocket connection
func (c *Client) ReadPump(m *Manager) {
	defer func() {
		m.disconnect(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(maxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		return c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.L().Warn().Err(err).Str(logger.FieldUserID, c.Actor.UserID).Msg("websocket read error")
			}
			break
		}
		m.HandleClientMessage(c, message)
	}
}

// WritePump sends messages to the WebSocket connection
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				logger.L().Debug().Err(err).Str(logger.FieldUserID, c.Actor.UserID).Msg("websocket write error")
				return
			}
		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

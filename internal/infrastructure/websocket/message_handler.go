package websocket

import (
	"context"
	"encoding/json"
	"time"

	"marketchat/pkg/logger"
)

// WebSocket Message Types
const (
	MessageTypePing          = "ping"
	MessageTypePong          = "pong"
	MessageTypeJoinChatRoom  = "join_chat_room"
	MessageTypeLeaveChatRoom = "leave_chat_room"
	MessageTypeMarkRead      = "mark_read"
	MessageTypeTypingStart   = "typing_start"
	MessageTypeTypingStop    = "typing_stop"
	MessageTypeTyping        = "typing"
	MessageTypeJoined        = "joined"
	MessageTypeLeft          = "left"
	MessageTypeReadReceipt   = "read_receipt"
	MessageTypeError         = "error"
)

const handlerTimeout = 5 * time.Second

// WebSocket Message Structure
type WSMessage struct {
	Type      string      `json:"type"`
	ChatID    string      `json:"chat_id,omitempty"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp string      `json:"timestamp"`
}

type TypingData struct {
	ChatID string `json:"chat_id"`
	UserID string `json:"user_id"`
	Typing bool   `json:"typing"`
}

type ReadReceiptData struct {
	ChatID   string `json:"chat_id"`
	ReaderID string `json:"reader_id"`
	Marked   int    `json:"marked"`
}

func newMessage(msgType, chatID string, data interface{}) WSMessage {
	return WSMessage{
		Type:      msgType,
		ChatID:    chatID,
		Data:      data,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
}

// HandleClientMessage processes incoming WebSocket messages
func (m *Manager) HandleClientMessage(client *Client, messageBytes []byte) {
	var wsMessage WSMessage
	if err := json.Unmarshal(messageBytes, &wsMessage); err != nil {
		m.sendErrorToClient(client, "", "Invalid message format")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
	defer cancel()

	switch wsMessage.Type {
	case MessageTypePing:
		m.sendToClient(client, newMessage(MessageTypePong, "", map[string]string{"status": "alive"}))

	case MessageTypeJoinChatRoom:
		m.handleJoinChatRoom(ctx, client, wsMessage.ChatID)

	case MessageTypeLeaveChatRoom:
		m.leave(client, wsMessage.ChatID)
		m.sendToClient(client, newMessage(MessageTypeLeft, wsMessage.ChatID, nil))

	case MessageTypeMarkRead:
		m.handleMarkRead(ctx, client, wsMessage.ChatID)

	case MessageTypeTypingStart, MessageTypeTypingStop:
		m.handleTyping(client, wsMessage.ChatID, wsMessage.Type == MessageTypeTypingStart)

	default:
		logger.L().Debug().Str("type", wsMessage.Type).Str(logger.FieldUserID, client.Actor.UserID).Msg("unknown websocket message type")
		m.sendErrorToClient(client, wsMessage.ChatID, "Unknown message type")
	}
}

// handleJoinChatRoom subscribes the client after checking it may read the room.
func (m *Manager) handleJoinChatRoom(ctx context.Context, client *Client, chatID string) {
	if chatID == "" {
		m.sendErrorToClient(client, "", "chat_id is required")
		return
	}
	if _, err := m.gate.GetRoom(ctx, chatID, client.Actor); err != nil {
		logger.L().Debug().Err(err).Str(logger.FieldRoomID, chatID).Str(logger.FieldUserID, client.Actor.UserID).Msg("websocket join refused")
		m.sendErrorToClient(client, chatID, "Cannot join chat room")
		return
	}

	m.join(client, chatID)
	m.sendToClient(client, newMessage(MessageTypeJoined, chatID, nil))
}

func (m *Manager) handleMarkRead(ctx context.Context, client *Client, chatID string) {
	if m.reads == nil {
		m.sendErrorToClient(client, chatID, "Read marking unavailable")
		return
	}
	marked, err := m.reads.MarkAsRead(ctx, chatID, client.Actor)
	if err != nil {
		m.sendErrorToClient(client, chatID, "Failed to mark messages read")
		return
	}

	receipt := newMessage(MessageTypeReadReceipt, chatID, ReadReceiptData{
		ChatID:   chatID,
		ReaderID: client.Actor.UserID,
		Marked:   marked,
	})
	m.BroadcastToRoom(chatID, receipt, client)
}

func (m *Manager) handleTyping(client *Client, chatID string, typing bool) {
	if !m.subscribed(client, chatID) {
		m.sendErrorToClient(client, chatID, "Join the chat room first")
		return
	}
	m.BroadcastToRoom(chatID, newMessage(MessageTypeTyping, chatID, TypingData{
		ChatID: chatID,
		UserID: client.Actor.UserID,
		Typing: typing,
	}), client)
}

func (m *Manager) subscribed(client *Client, chatID string) bool {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	_, ok := client.rooms[chatID]
	return ok
}

func (m *Manager) sendToClient(client *Client, message WSMessage) {
	frame, err := json.Marshal(message)
	if err != nil {
		return
	}

	m.mutex.RLock()
	defer m.mutex.RUnlock()
	if _, ok := m.clients[client.Actor.UserID][client]; ok {
		offer(client, frame)
	}
}

func (m *Manager) sendErrorToClient(client *Client, chatID, errorMsg string) {
	m.sendToClient(client, newMessage(MessageTypeError, chatID, map[string]string{"error": errorMsg}))
}

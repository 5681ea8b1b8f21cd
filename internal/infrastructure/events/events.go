// Package events carries chat events between the usecases, other API
// instances and connected websocket clients.
package events

import (
	"encoding/json"
	"time"

	"marketchat/internal/domain/entity"
)

const (
	TypeNewMessage         = "new_message"
	TypeUnreadCountChanged = "unread_count_changed"
	TypeOfferStateChanged  = "offer_state_changed"
)

const (
	roomChannelPrefix = "chat:room:"
	userChannelPrefix = "chat:user:"
)

// Envelope is the wire form of an event. When UserID is set the event is
// addressed to that user alone, otherwise to everyone watching RoomID.
type Envelope struct {
	Type      string          `json:"type"`
	RoomID    string          `json:"chat_id,omitempty"`
	UserID    string          `json:"user_id,omitempty"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
}

// Channel is the pub/sub channel the envelope is published on.
func (e *Envelope) Channel() string {
	if e.UserID != "" {
		return userChannelPrefix + e.UserID
	}
	return roomChannelPrefix + e.RoomID
}

func (e *Envelope) UnmarshalPayload(v interface{}) error {
	return json.Unmarshal(e.Payload, v)
}

type UnreadPayload struct {
	ChatID      string `json:"chat_id"`
	UnreadCount int    `json:"unread_count"`
}

type OfferPayload struct {
	OfferID string             `json:"offer_id"`
	ChatID  string             `json:"chat_id"`
	Status  entity.OfferStatus `json:"status"`
}

func newEnvelope(eventType, roomID, userID string, payload interface{}) (*Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &Envelope{
		Type:      eventType,
		RoomID:    roomID,
		UserID:    userID,
		Payload:   data,
		Timestamp: time.Now().UTC(),
	}, nil
}

func NewMessageEvent(roomID string, msg *entity.ChatMessage) (*Envelope, error) {
	return newEnvelope(TypeNewMessage, roomID, "", msg)
}

func NewUnreadEvent(userID, roomID string, count int) (*Envelope, error) {
	return newEnvelope(TypeUnreadCountChanged, roomID, userID, UnreadPayload{ChatID: roomID, UnreadCount: count})
}

func NewOfferEvent(offerID, roomID string, status entity.OfferStatus) (*Envelope, error) {
	return newEnvelope(TypeOfferStateChanged, roomID, "", OfferPayload{OfferID: offerID, ChatID: roomID, Status: status})
}

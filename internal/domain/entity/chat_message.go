package entity

import "time"

type MessageType string

const (
	MessageTypeText     MessageType = "text"
	MessageTypeImage    MessageType = "image"
	MessageTypeLocation MessageType = "location"
	MessageTypeSystem   MessageType = "system"
)

// System message actions.
const (
	ActionContactShared    = "contact_shared"
	ActionContactRequested = "contact_requested"
	ActionChatBlocked      = "chat_blocked"
	ActionChatUnblocked    = "chat_unblocked"
	ActionOfferCreated     = "offer_created"
	ActionOfferCountered   = "offer_countered"
	ActionOfferAccepted    = "offer_accepted"
	ActionOfferRejected    = "offer_rejected"
	ActionOfferWithdrawn   = "offer_withdrawn"
	ActionOfferExpired     = "offer_expired"
)

type Location struct {
	Lat     float64 `json:"lat" firestore:"lat"`
	Lng     float64 `json:"lng" firestore:"lng"`
	Address string  `json:"address,omitempty" firestore:"address,omitempty"`
}

func (l Location) Valid() bool {
	return l.Lat >= -90 && l.Lat <= 90 && l.Lng >= -180 && l.Lng <= 180
}

type SystemEvent struct {
	Action string                 `json:"action" firestore:"action"`
	Data   map[string]interface{} `json:"data,omitempty" firestore:"data,omitempty"`
}

// Media is the stored-image handle produced by the media storage collaborator.
type Media struct {
	URL          string `json:"url" firestore:"url"`
	ThumbnailURL string `json:"thumbnail_url,omitempty" firestore:"thumbnailUrl,omitempty"`
	MimeType     string `json:"mime_type" firestore:"mimeType"`
	Width        int    `json:"width,omitempty" firestore:"width,omitempty"`
	Height       int    `json:"height,omitempty" firestore:"height,omitempty"`
	SizeBytes    int64  `json:"size_bytes" firestore:"sizeBytes"`
	StorageType  string `json:"storage_type" firestore:"storageType"`
}

// ChatMessage carries exactly one kind-specific payload: Location for
// location messages, System for system messages, Media for images.
type ChatMessage struct {
	ID         string  `json:"id" firestore:"id"`
	ChatRoomID string  `json:"chat_room_id" firestore:"chatRoomId"`
	SenderID   *string `json:"sender_id" firestore:"senderId"`
	Seq        int64   `json:"seq" firestore:"seq"`

	Type     MessageType  `json:"message_type" firestore:"messageType"`
	Text     string       `json:"message_text,omitempty" firestore:"messageText,omitempty"`
	Location *Location    `json:"location,omitempty" firestore:"location,omitempty"`
	System   *SystemEvent `json:"system,omitempty" firestore:"system,omitempty"`
	Media    *Media       `json:"media,omitempty" firestore:"media,omitempty"`

	ReplyToMessageID *string `json:"reply_to_message_id,omitempty" firestore:"replyToMessageId,omitempty"`

	IsRead    bool       `json:"is_read" firestore:"isRead"`
	ReadAt    *time.Time `json:"read_at,omitempty" firestore:"readAt,omitempty"`
	EditedAt  *time.Time `json:"edited_at,omitempty" firestore:"editedAt,omitempty"`
	DeletedAt *time.Time `json:"deleted_at,omitempty" firestore:"deletedAt,omitempty"`
	CreatedAt time.Time  `json:"created_at" firestore:"createdAt"`
}

func (m *ChatMessage) IsSystem() bool {
	return m.SenderID == nil
}

func (m *ChatMessage) IsDeleted() bool {
	return m.DeletedAt != nil
}

func (m *ChatMessage) SentBy(userID string) bool {
	return m.SenderID != nil && *m.SenderID == userID
}

// Before orders messages by creation time, then by sequence.
func (m *ChatMessage) Before(o *ChatMessage) bool {
	if !m.CreatedAt.Equal(o.CreatedAt) {
		return m.CreatedAt.Before(o.CreatedAt)
	}
	return m.Seq < o.Seq
}

// Redacted returns a copy with the content of a soft-deleted message removed.
func (m *ChatMessage) Redacted() *ChatMessage {
	c := *m
	c.Text = ""
	c.Location = nil
	c.Media = nil
	c.System = nil
	return &c
}

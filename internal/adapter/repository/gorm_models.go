package repository

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"marketchat/internal/domain/entity"
)

// ChatRoomModel is the GORM model for the chat_rooms table.
type ChatRoomModel struct {
	ID        string `gorm:"type:varchar(36);primaryKey"`
	ListingID string `gorm:"type:varchar(64);not null;uniqueIndex:idx_chat_rooms_listing_buyer"`
	BuyerID   string `gorm:"type:varchar(64);not null;uniqueIndex:idx_chat_rooms_listing_buyer;index"`
	SellerID  string `gorm:"type:varchar(64);not null;index"`

	IsActive      bool `gorm:"not null"`
	LastMessageAt *time.Time

	UnreadCountBuyer  int  `gorm:"not null;default:0"`
	UnreadCountSeller int  `gorm:"not null;default:0"`
	IsImportantBuyer  bool `gorm:"not null;default:false"`
	IsImportantSeller bool `gorm:"not null;default:false"`

	BlockedByBuyer  bool `gorm:"not null;default:false"`
	BlockedBySeller bool `gorm:"not null;default:false"`
	BlockMetadata   datatypes.JSON

	ReportedByBuyer  bool `gorm:"not null;default:false"`
	ReportedBySeller bool `gorm:"not null;default:false"`
	ReportMetadata   datatypes.JSON

	BuyerRequestedContact bool `gorm:"not null;default:false"`
	SellerSharedContact   bool `gorm:"not null;default:false"`

	BuyerTier  string `gorm:"type:varchar(32)"`
	SellerTier string `gorm:"type:varchar(32)"`

	LastSeq int64 `gorm:"not null;default:0"`
	Version int64 `gorm:"not null;default:0"`

	CreatedAt time.Time `gorm:"autoCreateTime:false"`
	UpdatedAt time.Time `gorm:"autoUpdateTime:false;index"`
}

func (ChatRoomModel) TableName() string {
	return "chat_rooms"
}

func (m *ChatRoomModel) ToDomain() (*entity.ChatRoom, error) {
	room := &entity.ChatRoom{
		ID:                    m.ID,
		ListingID:             m.ListingID,
		BuyerID:               m.BuyerID,
		SellerID:              m.SellerID,
		IsActive:              m.IsActive,
		LastMessageAt:         m.LastMessageAt,
		UnreadCountBuyer:      m.UnreadCountBuyer,
		UnreadCountSeller:     m.UnreadCountSeller,
		IsImportantBuyer:      m.IsImportantBuyer,
		IsImportantSeller:     m.IsImportantSeller,
		BlockedByBuyer:        m.BlockedByBuyer,
		BlockedBySeller:       m.BlockedBySeller,
		ReportedByBuyer:       m.ReportedByBuyer,
		ReportedBySeller:      m.ReportedBySeller,
		BuyerRequestedContact: m.BuyerRequestedContact,
		SellerSharedContact:   m.SellerSharedContact,
		BuyerTier:             m.BuyerTier,
		SellerTier:            m.SellerTier,
		LastSeq:               m.LastSeq,
		CreatedAt:             m.CreatedAt,
		UpdatedAt:             m.UpdatedAt,
	}
	if len(m.BlockMetadata) > 0 {
		if err := json.Unmarshal(m.BlockMetadata, &room.BlockMetadata); err != nil {
			return nil, err
		}
	}
	if len(m.ReportMetadata) > 0 {
		if err := json.Unmarshal(m.ReportMetadata, &room.ReportMetadata); err != nil {
			return nil, err
		}
	}
	return room, nil
}

func ChatRoomToModel(r *entity.ChatRoom) (*ChatRoomModel, error) {
	m := &ChatRoomModel{
		ID:                    r.ID,
		ListingID:             r.ListingID,
		BuyerID:               r.BuyerID,
		SellerID:              r.SellerID,
		IsActive:              r.IsActive,
		LastMessageAt:         utcPtr(r.LastMessageAt),
		UnreadCountBuyer:      r.UnreadCountBuyer,
		UnreadCountSeller:     r.UnreadCountSeller,
		IsImportantBuyer:      r.IsImportantBuyer,
		IsImportantSeller:     r.IsImportantSeller,
		BlockedByBuyer:        r.BlockedByBuyer,
		BlockedBySeller:       r.BlockedBySeller,
		ReportedByBuyer:       r.ReportedByBuyer,
		ReportedBySeller:      r.ReportedBySeller,
		BuyerRequestedContact: r.BuyerRequestedContact,
		SellerSharedContact:   r.SellerSharedContact,
		BuyerTier:             r.BuyerTier,
		SellerTier:            r.SellerTier,
		LastSeq:               r.LastSeq,
		CreatedAt:             r.CreatedAt.UTC(),
		UpdatedAt:             r.UpdatedAt.UTC(),
	}
	var err error
	if len(r.BlockMetadata) > 0 {
		if m.BlockMetadata, err = json.Marshal(r.BlockMetadata); err != nil {
			return nil, err
		}
	}
	if len(r.ReportMetadata) > 0 {
		if m.ReportMetadata, err = json.Marshal(r.ReportMetadata); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// ChatMessageModel is the GORM model for the chat_messages table. Location
// and system payloads share the message_metadata JSON column.
type ChatMessageModel struct {
	ID         string  `gorm:"type:varchar(36);primaryKey"`
	ChatRoomID string  `gorm:"type:varchar(36);not null;index:idx_chat_messages_room_created,priority:1"`
	SenderID   *string `gorm:"type:varchar(64)"`
	Seq        int64   `gorm:"not null;index:idx_chat_messages_room_created,priority:3"`

	MessageType     string `gorm:"type:varchar(16);not null"`
	MessageText     string `gorm:"type:text"`
	MessageMetadata datatypes.JSON

	MediaURL     string `gorm:"type:text"`
	ThumbnailURL string `gorm:"type:text"`
	MimeType     string `gorm:"type:varchar(64)"`
	Width        int
	Height       int
	SizeBytes    int64
	StorageType  string `gorm:"type:varchar(32)"`

	ReplyToMessageID *string `gorm:"type:varchar(36);index"`

	IsRead    bool `gorm:"not null;default:false"`
	ReadAt    *time.Time
	EditedAt  *time.Time
	DeletedAt *time.Time
	CreatedAt time.Time `gorm:"autoCreateTime:false;index:idx_chat_messages_room_created,priority:2"`
}

func (ChatMessageModel) TableName() string {
	return "chat_messages"
}

func (m *ChatMessageModel) ToDomain() (*entity.ChatMessage, error) {
	msg := &entity.ChatMessage{
		ID:               m.ID,
		ChatRoomID:       m.ChatRoomID,
		SenderID:         m.SenderID,
		Seq:              m.Seq,
		Type:             entity.MessageType(m.MessageType),
		Text:             m.MessageText,
		ReplyToMessageID: m.ReplyToMessageID,
		IsRead:           m.IsRead,
		ReadAt:           m.ReadAt,
		EditedAt:         m.EditedAt,
		DeletedAt:        m.DeletedAt,
		CreatedAt:        m.CreatedAt,
	}

	switch msg.Type {
	case entity.MessageTypeLocation:
		if len(m.MessageMetadata) > 0 {
			msg.Location = &entity.Location{}
			if err := json.Unmarshal(m.MessageMetadata, msg.Location); err != nil {
				return nil, err
			}
		}
	case entity.MessageTypeSystem:
		if len(m.MessageMetadata) > 0 {
			msg.System = &entity.SystemEvent{}
			if err := json.Unmarshal(m.MessageMetadata, msg.System); err != nil {
				return nil, err
			}
		}
	case entity.MessageTypeImage:
		if m.MediaURL != "" {
			msg.Media = &entity.Media{
				URL:          m.MediaURL,
				ThumbnailURL: m.ThumbnailURL,
				MimeType:     m.MimeType,
				Width:        m.Width,
				Height:       m.Height,
				SizeBytes:    m.SizeBytes,
				StorageType:  m.StorageType,
			}
		}
	}
	return msg, nil
}

func ChatMessageToModel(msg *entity.ChatMessage) (*ChatMessageModel, error) {
	m := &ChatMessageModel{
		ID:               msg.ID,
		ChatRoomID:       msg.ChatRoomID,
		SenderID:         msg.SenderID,
		Seq:              msg.Seq,
		MessageType:      string(msg.Type),
		MessageText:      msg.Text,
		ReplyToMessageID: msg.ReplyToMessageID,
		IsRead:           msg.IsRead,
		ReadAt:           utcPtr(msg.ReadAt),
		EditedAt:         utcPtr(msg.EditedAt),
		DeletedAt:        utcPtr(msg.DeletedAt),
		CreatedAt:        msg.CreatedAt.UTC(),
	}

	var payload interface{}
	switch {
	case msg.Location != nil:
		payload = msg.Location
	case msg.System != nil:
		payload = msg.System
	}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		m.MessageMetadata = raw
	}

	if msg.Media != nil {
		m.MediaURL = msg.Media.URL
		m.ThumbnailURL = msg.Media.ThumbnailURL
		m.MimeType = msg.Media.MimeType
		m.Width = msg.Media.Width
		m.Height = msg.Media.Height
		m.SizeBytes = msg.Media.SizeBytes
		m.StorageType = msg.Media.StorageType
	}
	return m, nil
}

// ListingOfferModel is the GORM model for the listing_offers table.
type ListingOfferModel struct {
	ID            string  `gorm:"type:varchar(36);primaryKey"`
	ListingID     string  `gorm:"type:varchar(64);not null;index"`
	ChatRoomID    string  `gorm:"type:varchar(36);not null;index:idx_listing_offers_room_status"`
	BuyerID       string  `gorm:"type:varchar(64);not null"`
	SellerID      string  `gorm:"type:varchar(64);not null"`
	CreatedBy     string  `gorm:"type:varchar(64);not null"`
	ParentOfferID *string `gorm:"type:varchar(36);index"`
	Seq           int64   `gorm:"not null"`

	OfferedAmount      float64 `gorm:"not null"`
	ListingPriceAtTime float64 `gorm:"not null"`
	DiscountPercentage float64 `gorm:"not null"`
	Notes              string  `gorm:"type:text"`
	ExpiresAt          *time.Time `gorm:"index"`

	Status          string `gorm:"type:varchar(16);not null;index:idx_listing_offers_room_status"`
	ViewedAt        *time.Time
	RespondedAt     *time.Time
	RejectionReason string `gorm:"type:text"`
	AutoRejected    bool   `gorm:"not null;default:false"`

	CreatedAt time.Time `gorm:"autoCreateTime:false"`
	UpdatedAt time.Time `gorm:"autoUpdateTime:false"`
}

func (ListingOfferModel) TableName() string {
	return "listing_offers"
}

func (m *ListingOfferModel) ToDomain() *entity.ListingOffer {
	return &entity.ListingOffer{
		ID:                 m.ID,
		ListingID:          m.ListingID,
		ChatRoomID:         m.ChatRoomID,
		BuyerID:            m.BuyerID,
		SellerID:           m.SellerID,
		CreatedBy:          m.CreatedBy,
		ParentOfferID:      m.ParentOfferID,
		Seq:                m.Seq,
		OfferedAmount:      m.OfferedAmount,
		ListingPriceAtTime: m.ListingPriceAtTime,
		DiscountPercentage: m.DiscountPercentage,
		Notes:              m.Notes,
		ExpiresAt:          m.ExpiresAt,
		Status:             entity.OfferStatus(m.Status),
		ViewedAt:           m.ViewedAt,
		RespondedAt:        m.RespondedAt,
		RejectionReason:    m.RejectionReason,
		AutoRejected:       m.AutoRejected,
		CreatedAt:          m.CreatedAt,
		UpdatedAt:          m.UpdatedAt,
	}
}

func ListingOfferToModel(o *entity.ListingOffer) *ListingOfferModel {
	return &ListingOfferModel{
		ID:                 o.ID,
		ListingID:          o.ListingID,
		ChatRoomID:         o.ChatRoomID,
		BuyerID:            o.BuyerID,
		SellerID:           o.SellerID,
		CreatedBy:          o.CreatedBy,
		ParentOfferID:      o.ParentOfferID,
		Seq:                o.Seq,
		OfferedAmount:      o.OfferedAmount,
		ListingPriceAtTime: o.ListingPriceAtTime,
		DiscountPercentage: o.DiscountPercentage,
		Notes:              o.Notes,
		ExpiresAt:          utcPtr(o.ExpiresAt),
		Status:             string(o.Status),
		ViewedAt:           utcPtr(o.ViewedAt),
		RespondedAt:        utcPtr(o.RespondedAt),
		RejectionReason:    o.RejectionReason,
		AutoRejected:       o.AutoRejected,
		CreatedAt:          o.CreatedAt.UTC(),
		UpdatedAt:          o.UpdatedAt.UTC(),
	}
}

// ListingModel mirrors the marketplace listings table. The chat core only
// reads it.
type ListingModel struct {
	ID        string  `gorm:"type:varchar(64);primaryKey"`
	OwnerID   string  `gorm:"type:varchar(64);not null;index"`
	Title     string  `gorm:"type:varchar(200)"`
	Price     float64 `gorm:"not null"`
	Status    string  `gorm:"type:varchar(20);not null;index"`
	UpdatedAt time.Time
}

func (ListingModel) TableName() string {
	return "listings"
}

// UserModel mirrors the display columns of the users table.
type UserModel struct {
	ID               string `gorm:"type:varchar(64);primaryKey"`
	FullName         string `gorm:"type:varchar(100)"`
	IsVerified       bool
	AvatarURL        string `gorm:"type:text"`
	SubscriptionTier string `gorm:"type:varchar(32)"`
}

func (UserModel) TableName() string {
	return "users"
}

// AutoMigrate creates or updates the chat tables. withDirectory also creates
// the listings and users tables, for deployments where this service owns a
// standalone database.
func AutoMigrate(db *gorm.DB, withDirectory bool) error {
	models := []interface{}{&ChatRoomModel{}, &ChatMessageModel{}, &ListingOfferModel{}}
	if withDirectory {
		models = append(models, &ListingModel{}, &UserModel{})
	}
	return db.AutoMigrate(models...)
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

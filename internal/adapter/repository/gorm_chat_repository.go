package repository

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"marketchat/internal/domain/entity"
	"marketchat/internal/domain/repository"
	"marketchat/pkg/errors"
	"marketchat/pkg/logger"
)

type gormChatRepository struct {
	db *gorm.DB
}

func NewGormChatRepository(db *gorm.DB) repository.ChatRepository {
	return &gormChatRepository{db: db}
}

func (r *gormChatRepository) CreateRoom(ctx context.Context, room *entity.ChatRoom) (*entity.ChatRoom, bool, error) {
	l := logger.Ctx(ctx)

	if room.ID == "" {
		room.ID = uuid.New().String()
	}
	m, err := ChatRoomToModel(room)
	if err != nil {
		return nil, false, errors.StorageError("Failed to encode chat room", err)
	}

	result := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(m)
	if result.Error != nil {
		l.Error().Err(result.Error).Str(logger.FieldRoomID, room.ID).Msg("failed to create chat room")
		return nil, false, errors.StorageError("Failed to create chat room", result.Error)
	}
	if result.RowsAffected == 1 {
		return room, true, nil
	}

	var existing ChatRoomModel
	if err := r.db.WithContext(ctx).
		Where("listing_id = ? AND buyer_id = ?", room.ListingID, room.BuyerID).
		First(&existing).Error; err != nil {
		return nil, false, errors.StorageError("Failed to get chat room", err)
	}
	stored, err := existing.ToDomain()
	if err != nil {
		return nil, false, errors.StorageError("Failed to decode chat room", err)
	}
	return stored, false, nil
}

func (r *gormChatRepository) GetRoom(ctx context.Context, id string) (*entity.ChatRoom, error) {
	return loadRoom(r.db.WithContext(ctx), id)
}

func loadRoom(db *gorm.DB, id string) (*entity.ChatRoom, error) {
	var m ChatRoomModel
	if err := db.Where("id = ?", id).First(&m).Error; err != nil {
		if stderrors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.NotFound("Chat room", nil).With("room_id", id)
		}
		return nil, errors.StorageError("Failed to get chat room", err)
	}
	room, err := m.ToDomain()
	if err != nil {
		return nil, errors.StorageError("Failed to decode chat room", err)
	}
	return room, nil
}

func (r *gormChatRepository) ListRoomsByUser(ctx context.Context, userID string, limit, offset int) ([]*entity.ChatRoom, int64, error) {
	var models []ChatRoomModel
	var total int64

	query := r.db.WithContext(ctx).Model(&ChatRoomModel{}).
		Where("buyer_id = ? OR seller_id = ?", userID, userID)

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, errors.StorageError("Failed to count chat rooms", err)
	}

	query = query.Order("updated_at DESC").Order("id ASC").Offset(offset)
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&models).Error; err != nil {
		return nil, 0, errors.StorageError("Failed to list chat rooms", err)
	}

	rooms := make([]*entity.ChatRoom, 0, len(models))
	for i := range models {
		room, err := models[i].ToDomain()
		if err != nil {
			return nil, 0, errors.StorageError("Failed to decode chat room", err)
		}
		rooms = append(rooms, room)
	}
	return rooms, total, nil
}

func (r *gormChatRepository) DeleteRoom(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("chat_room_id = ?", id).Delete(&ChatMessageModel{}).Error; err != nil {
			return errors.StorageError("Failed to delete messages", err)
		}
		if err := tx.Where("chat_room_id = ?", id).Delete(&ListingOfferModel{}).Error; err != nil {
			return errors.StorageError("Failed to delete offers", err)
		}
		result := tx.Where("id = ?", id).Delete(&ChatRoomModel{})
		if result.Error != nil {
			return errors.StorageError("Failed to delete chat room", result.Error)
		}
		if result.RowsAffected == 0 {
			return errors.NotFound("Chat room", nil).With("room_id", id)
		}
		return nil
	})
}

func (r *gormChatRepository) GetMessage(ctx context.Context, id string) (*entity.ChatMessage, error) {
	return loadMessage(r.db.WithContext(ctx).Where("id = ?", id), id)
}

func loadMessage(query *gorm.DB, id string) (*entity.ChatMessage, error) {
	var m ChatMessageModel
	if err := query.First(&m).Error; err != nil {
		if stderrors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.NotFound("Message", nil).With("message_id", id)
		}
		return nil, errors.StorageError("Failed to get message", err)
	}
	msg, err := m.ToDomain()
	if err != nil {
		return nil, errors.StorageError("Failed to decode message", err)
	}
	return msg, nil
}

func (r *gormChatRepository) ListMessages(ctx context.Context, roomID string, limit, offset int) ([]*entity.ChatMessage, int64, error) {
	var models []ChatMessageModel
	var total int64

	query := r.db.WithContext(ctx).Model(&ChatMessageModel{}).Where("chat_room_id = ?", roomID)
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, errors.StorageError("Failed to count messages", err)
	}

	query = query.Order("created_at DESC").Order("seq DESC").Offset(offset)
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&models).Error; err != nil {
		return nil, 0, errors.StorageError("Failed to list messages", err)
	}

	messages := make([]*entity.ChatMessage, 0, len(models))
	for i := range models {
		msg, err := models[i].ToDomain()
		if err != nil {
			return nil, 0, errors.StorageError("Failed to decode message", err)
		}
		messages = append(messages, msg)
	}
	return messages, total, nil
}

func (r *gormChatRepository) HardDeleteMessage(ctx context.Context, id string) error {
	result := r.db.WithContext(ctx).Where("id = ?", id).Delete(&ChatMessageModel{})
	if result.Error != nil {
		return errors.StorageError("Failed to delete message", result.Error)
	}
	if result.RowsAffected == 0 {
		return errors.NotFound("Message", nil).With("message_id", id)
	}
	return nil
}

func (r *gormChatRepository) GetOffer(ctx context.Context, id string) (*entity.ListingOffer, error) {
	return loadOffer(r.db.WithContext(ctx).Where("id = ?", id), id)
}

func loadOffer(query *gorm.DB, id string) (*entity.ListingOffer, error) {
	var m ListingOfferModel
	if err := query.First(&m).Error; err != nil {
		if stderrors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.NotFound("Offer", nil).With("offer_id", id)
		}
		return nil, errors.StorageError("Failed to get offer", err)
	}
	return m.ToDomain(), nil
}

func (r *gormChatRepository) ListOffersByRoom(ctx context.Context, roomID string) ([]*entity.ListingOffer, error) {
	var models []ListingOfferModel
	if err := r.db.WithContext(ctx).
		Where("chat_room_id = ?", roomID).
		Order("seq ASC").
		Find(&models).Error; err != nil {
		return nil, errors.StorageError("Failed to list offers", err)
	}
	return offersToDomain(models), nil
}

func (r *gormChatRepository) ListDueOffers(ctx context.Context, now time.Time, limit int) ([]*entity.ListingOffer, error) {
	var models []ListingOfferModel
	query := r.db.WithContext(ctx).
		Where("status = ? AND expires_at IS NOT NULL AND expires_at <= ?", string(entity.OfferStatusPending), now.UTC()).
		Order("expires_at ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&models).Error; err != nil {
		return nil, errors.StorageError("Failed to list due offers", err)
	}
	return offersToDomain(models), nil
}

func offersToDomain(models []ListingOfferModel) []*entity.ListingOffer {
	offers := make([]*entity.ListingOffer, 0, len(models))
	for i := range models {
		offers = append(offers, models[i].ToDomain())
	}
	return offers
}

// RunInRoom bumps the room version first so the row lock is held for the
// whole transaction, then hands fn a view bound to the same transaction.
func (r *gormChatRepository) RunInRoom(ctx context.Context, roomID string, fn func(tx repository.RoomTx) error) error {
	err := r.db.WithContext(ctx).Transaction(func(db *gorm.DB) error {
		result := db.Model(&ChatRoomModel{}).
			Where("id = ?", roomID).
			UpdateColumn("version", gorm.Expr("version + 1"))
		if result.Error != nil {
			return errors.StorageError("Failed to lock chat room", result.Error)
		}
		if result.RowsAffected == 0 {
			return errors.NotFound("Chat room", nil).With("room_id", roomID)
		}

		room, err := loadRoom(db, roomID)
		if err != nil {
			return err
		}

		tx := &gormRoomTx{db: db, room: room}
		if err := fn(tx); err != nil {
			return err
		}

		m, err := ChatRoomToModel(tx.room)
		if err != nil {
			return errors.StorageError("Failed to encode chat room", err)
		}
		if err := db.Model(&ChatRoomModel{ID: roomID}).
			Select("*").
			Omit("id", "listing_id", "buyer_id", "version", "created_at").
			Updates(m).Error; err != nil {
			return errors.StorageError("Failed to save chat room", err)
		}
		return nil
	})
	if err != nil {
		logger.Ctx(ctx).Debug().Err(err).Str(logger.FieldRoomID, roomID).Msg("room transaction aborted")
	}
	return errors.WrapStorage(err, "Room transaction failed")
}

func (r *gormChatRepository) Ping(ctx context.Context) error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return errors.StorageError("Failed to get database handle", err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return errors.StorageError("Database unreachable", err)
	}
	return nil
}

type gormRoomTx struct {
	db   *gorm.DB
	room *entity.ChatRoom
}

func (tx *gormRoomTx) Room() *entity.ChatRoom {
	return tx.room
}

func (tx *gormRoomTx) GetMessage(id string) (*entity.ChatMessage, error) {
	return loadMessage(tx.db.Where("id = ? AND chat_room_id = ?", id, tx.room.ID), id)
}

func (tx *gormRoomTx) CountReplies(messageID string) (int, error) {
	var n int64
	if err := tx.db.Model(&ChatMessageModel{}).
		Where("chat_room_id = ? AND reply_to_message_id = ?", tx.room.ID, messageID).
		Count(&n).Error; err != nil {
		return 0, errors.StorageError("Failed to count replies", err)
	}
	return int(n), nil
}

func (tx *gormRoomTx) GetOffer(id string) (*entity.ListingOffer, error) {
	return loadOffer(tx.db.Where("id = ? AND chat_room_id = ?", id, tx.room.ID), id)
}

func (tx *gormRoomTx) PendingOffer() (*entity.ListingOffer, error) {
	offer, err := loadOffer(tx.db.
		Where("chat_room_id = ? AND status = ?", tx.room.ID, string(entity.OfferStatusPending)).
		Order("seq DESC"), "")
	if errors.Is(err, errors.CodeNotFound) {
		return nil, nil
	}
	return offer, err
}

func (tx *gormRoomTx) HasAcceptedOffer() (bool, error) {
	var n int64
	if err := tx.db.Model(&ListingOfferModel{}).
		Where("chat_room_id = ? AND status = ?", tx.room.ID, string(entity.OfferStatusAccepted)).
		Count(&n).Error; err != nil {
		return false, errors.StorageError("Failed to count offers", err)
	}
	return n > 0, nil
}

func (tx *gormRoomTx) CreateMessage(msg *entity.ChatMessage) error {
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	msg.ChatRoomID = tx.room.ID
	msg.Seq = tx.room.NextSeq()

	m, err := ChatMessageToModel(msg)
	if err != nil {
		return errors.StorageError("Failed to encode message", err)
	}
	if err := tx.db.Create(m).Error; err != nil {
		return errors.StorageError("Failed to create message", err)
	}
	return nil
}

func (tx *gormRoomTx) UpdateMessage(msg *entity.ChatMessage) error {
	m, err := ChatMessageToModel(msg)
	if err != nil {
		return errors.StorageError("Failed to encode message", err)
	}
	result := tx.db.Model(&ChatMessageModel{}).
		Where("id = ? AND chat_room_id = ?", msg.ID, tx.room.ID).
		Select("*").
		Omit("id", "chat_room_id", "sender_id", "seq", "created_at").
		Updates(m)
	if result.Error != nil {
		return errors.StorageError("Failed to update message", result.Error)
	}
	if result.RowsAffected == 0 {
		return errors.NotFound("Message", nil).With("message_id", msg.ID)
	}
	return nil
}

func (tx *gormRoomTx) MarkMessagesRead(readerID string, at time.Time) (int, error) {
	result := tx.db.Model(&ChatMessageModel{}).
		Where("chat_room_id = ? AND is_read = ? AND (sender_id IS NULL OR sender_id <> ?)", tx.room.ID, false, readerID).
		Updates(map[string]interface{}{
			"is_read": true,
			"read_at": at.UTC(),
		})
	if result.Error != nil {
		return 0, errors.StorageError("Failed to mark messages read", result.Error)
	}
	return int(result.RowsAffected), nil
}

func (tx *gormRoomTx) CreateOffer(offer *entity.ListingOffer) error {
	if offer.ID == "" {
		offer.ID = uuid.New().String()
	}
	offer.ChatRoomID = tx.room.ID
	offer.Seq = tx.room.NextSeq()

	if err := tx.db.Create(ListingOfferToModel(offer)).Error; err != nil {
		return errors.StorageError("Failed to create offer", err)
	}
	return nil
}

// TransitionOffer is a conditional update on the current status. When no row
// matches, the offer is read back to tell a missing offer from a lost race.
func (tx *gormRoomTx) TransitionOffer(id string, t entity.OfferTransition) error {
	var applied entity.ListingOffer
	t.Apply(&applied)

	updates := map[string]interface{}{
		"status":       string(applied.Status),
		"responded_at": applied.RespondedAt.UTC(),
		"updated_at":   applied.UpdatedAt.UTC(),
	}
	if applied.RejectionReason != "" {
		updates["rejection_reason"] = applied.RejectionReason
	}
	if applied.AutoRejected {
		updates["auto_rejected"] = true
	}

	result := tx.db.Model(&ListingOfferModel{}).
		Where("id = ? AND chat_room_id = ? AND status = ?", id, tx.room.ID, string(t.From)).
		Updates(updates)
	if result.Error != nil {
		return errors.StorageError("Failed to update offer", result.Error)
	}
	if result.RowsAffected == 1 {
		return nil
	}

	current, err := tx.GetOffer(id)
	if err != nil {
		return err
	}
	return errors.StateConflict(errors.ReasonOfferNotPending, "Offer is no longer "+string(t.From)).
		With("offer_id", id).
		With("status", string(current.Status))
}

func (tx *gormRoomTx) MarkOfferViewed(id string, at time.Time) error {
	result := tx.db.Model(&ListingOfferModel{}).
		Where("id = ? AND chat_room_id = ? AND viewed_at IS NULL", id, tx.room.ID).
		Update("viewed_at", at.UTC())
	if result.Error != nil {
		return errors.StorageError("Failed to mark offer viewed", result.Error)
	}
	if result.RowsAffected == 0 {
		_, err := tx.GetOffer(id)
		return err
	}
	return nil
}

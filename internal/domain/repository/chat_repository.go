package repository

import (
	"context"
	"time"

	"marketchat/internal/domain/entity"
)

// ChatRepository stores rooms together with the messages and offers they own.
// Errors are *errors.AppError values: NotFound for unknown ids, StorageError
// for backend failures.
type ChatRepository interface {
	// CreateRoom inserts room unless one already exists for its
	// (ListingID, BuyerID) pair. It returns the stored room and whether it
	// was created by this call.
	CreateRoom(ctx context.Context, room *entity.ChatRoom) (*entity.ChatRoom, bool, error)
	GetRoom(ctx context.Context, id string) (*entity.ChatRoom, error)
	// ListRoomsByUser returns rooms where userID is buyer or seller, most
	// recently active first.
	ListRoomsByUser(ctx context.Context, userID string, limit, offset int) ([]*entity.ChatRoom, int64, error)
	// DeleteRoom removes the room with all of its messages and offers.
	DeleteRoom(ctx context.Context, id string) error

	GetMessage(ctx context.Context, id string) (*entity.ChatMessage, error)
	// ListMessages pages a room's messages newest first.
	ListMessages(ctx context.Context, roomID string, limit, offset int) ([]*entity.ChatMessage, int64, error)
	HardDeleteMessage(ctx context.Context, id string) error

	GetOffer(ctx context.Context, id string) (*entity.ListingOffer, error)
	// ListOffersByRoom returns every offer node of a room in creation order.
	ListOffersByRoom(ctx context.Context, roomID string) ([]*entity.ListingOffer, error)
	// ListDueOffers returns pending offers whose expiry is at or before now.
	ListDueOffers(ctx context.Context, now time.Time, limit int) ([]*entity.ListingOffer, error)

	// RunInRoom runs fn in a transaction serialized against every other
	// RunInRoom on the same room. The room returned by tx.Room() is saved
	// when fn returns nil; nothing is applied when fn returns an error.
	// Implementations may retry fn, so it must not have side effects
	// outside tx.
	RunInRoom(ctx context.Context, roomID string, fn func(tx RoomTx) error) error

	Ping(ctx context.Context) error
}

// RoomTx is the view of one room inside RunInRoom. All reads must be issued
// before the first write.
type RoomTx interface {
	Room() *entity.ChatRoom

	// GetMessage returns NotFound when id does not name a message in this room.
	GetMessage(id string) (*entity.ChatMessage, error)
	CountReplies(messageID string) (int, error)
	GetOffer(id string) (*entity.ListingOffer, error)
	// PendingOffer returns the room's pending offer, or nil.
	PendingOffer() (*entity.ListingOffer, error)
	HasAcceptedOffer() (bool, error)

	// CreateMessage assigns an id when empty and the next room sequence.
	CreateMessage(msg *entity.ChatMessage) error
	UpdateMessage(msg *entity.ChatMessage) error
	// MarkMessagesRead flags every unread message not sent by readerID and
	// returns how many changed.
	MarkMessagesRead(readerID string, at time.Time) (int, error)
	CreateOffer(offer *entity.ListingOffer) error
	// TransitionOffer applies t only if the offer is still in t.From;
	// otherwise it fails with a StateConflict carrying OFFER_NOT_PENDING.
	TransitionOffer(id string, t entity.OfferTransition) error
	MarkOfferViewed(id string, at time.Time) error
}

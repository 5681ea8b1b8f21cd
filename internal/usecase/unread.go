package usecase

import (
	"context"

	"marketchat/internal/domain/entity"
	"marketchat/internal/domain/repository"
)

type unreadChange struct {
	userID string
	roomID string
	count  int
}

type offerChange struct {
	offerID string
	roomID  string
	status  entity.OfferStatus
}

// outbox collects events produced inside a room transaction so they can be
// emitted once the transaction commits.
type outbox struct {
	messages []*entity.ChatMessage
	unread   []unreadChange
	offers   []offerChange
}

func (o *outbox) reset() {
	o.messages = nil
	o.unread = nil
	o.offers = nil
}

func (o *outbox) offerChanged(offer *entity.ListingOffer) {
	o.offers = append(o.offers, offerChange{offerID: offer.ID, roomID: offer.ChatRoomID, status: offer.Status})
}

func (o *outbox) flush(ctx context.Context, n EventNotifier) {
	for _, msg := range o.messages {
		n.OnNewMessage(ctx, msg.ChatRoomID, msg)
	}
	for _, u := range o.unread {
		n.OnUnreadCountChanged(ctx, u.userID, u.roomID, u.count)
	}
	for _, c := range o.offers {
		n.OnOfferStateChanged(ctx, c.offerID, c.roomID, c.status)
	}
}

// unreadRecipients returns the sides whose counter a message bumps. A
// message with no initiating side (an expiry notice) counts for both.
func unreadRecipients(initiator entity.Role) []entity.Role {
	if initiator == "" {
		return []entity.Role{entity.RoleBuyer, entity.RoleSeller}
	}
	return []entity.Role{initiator.Counterpart()}
}

// appendMessage writes msg into the room and applies its delivery effects:
// lastMessageAt moves forward and each recipient's unread counter grows by one.
func appendMessage(tx repository.RoomTx, msg *entity.ChatMessage, initiator entity.Role, box *outbox) error {
	if err := tx.CreateMessage(msg); err != nil {
		return err
	}

	room := tx.Room()
	room.Touch(msg.CreatedAt)
	box.messages = append(box.messages, msg)

	for _, role := range unreadRecipients(initiator) {
		count := room.IncrementUnread(role)
		box.unread = append(box.unread, unreadChange{
			userID: room.ParticipantID(role),
			roomID: room.ID,
			count:  count,
		})
	}
	return nil
}

// resetUnread zeroes one side's counter and records the change.
func resetUnread(room *entity.ChatRoom, role entity.Role, box *outbox) {
	if room.UnreadFor(role) == 0 {
		return
	}
	room.SetUnread(role, 0)
	box.unread = append(box.unread, unreadChange{
		userID: room.ParticipantID(role),
		roomID: room.ID,
		count:  0,
	})
}

package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"marketchat/internal/domain/entity"
	"marketchat/internal/domain/repository"
	"marketchat/pkg/errors"
)

// memoryChatRepository keeps everything in process. Writes made inside
// RunInRoom are staged and applied only when the callback succeeds.
type memoryChatRepository struct {
	mu       sync.RWMutex
	rooms    map[string]*entity.ChatRoom
	roomKeys map[string]string
	messages map[string]*entity.ChatMessage
	offers   map[string]*entity.ListingOffer

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

func NewMemoryChatRepository() repository.ChatRepository {
	return &memoryChatRepository{
		rooms:    make(map[string]*entity.ChatRoom),
		roomKeys: make(map[string]string),
		messages: make(map[string]*entity.ChatMessage),
		offers:   make(map[string]*entity.ListingOffer),
		locks:    make(map[string]*sync.Mutex),
	}
}

func roomKey(listingID, buyerID string) string {
	return listingID + "/" + buyerID
}

func (r *memoryChatRepository) roomLock(roomID string) *sync.Mutex {
	r.locksMu.Lock()
	defer r.locksMu.Unlock()

	l, ok := r.locks[roomID]
	if !ok {
		l = &sync.Mutex{}
		r.locks[roomID] = l
	}
	return l
}

// dropLock forgets roomID's lock if it is still l. Callers hold l.
func (r *memoryChatRepository) dropLock(roomID string, l *sync.Mutex) {
	r.locksMu.Lock()
	defer r.locksMu.Unlock()

	if r.locks[roomID] == l {
		delete(r.locks, roomID)
	}
}

func (r *memoryChatRepository) CreateRoom(ctx context.Context, room *entity.ChatRoom) (*entity.ChatRoom, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if id, ok := r.roomKeys[roomKey(room.ListingID, room.BuyerID)]; ok {
		return cloneRoom(r.rooms[id]), false, nil
	}

	if room.ID == "" {
		room.ID = uuid.New().String()
	}
	r.rooms[room.ID] = cloneRoom(room)
	r.roomKeys[roomKey(room.ListingID, room.BuyerID)] = room.ID
	return cloneRoom(room), true, nil
}

func (r *memoryChatRepository) GetRoom(ctx context.Context, id string) (*entity.ChatRoom, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	room, ok := r.rooms[id]
	if !ok {
		return nil, errors.NotFound("Chat room", nil).With("room_id", id)
	}
	return cloneRoom(room), nil
}

func (r *memoryChatRepository) ListRoomsByUser(ctx context.Context, userID string, limit, offset int) ([]*entity.ChatRoom, int64, error) {
	r.mu.RLock()
	var rooms []*entity.ChatRoom
	for _, room := range r.rooms {
		if room.BuyerID == userID || room.SellerID == userID {
			rooms = append(rooms, cloneRoom(room))
		}
	}
	r.mu.RUnlock()

	sort.Slice(rooms, func(i, j int) bool {
		if !rooms[i].UpdatedAt.Equal(rooms[j].UpdatedAt) {
			return rooms[i].UpdatedAt.After(rooms[j].UpdatedAt)
		}
		return rooms[i].ID < rooms[j].ID
	})

	total := int64(len(rooms))
	return paginate(rooms, limit, offset), total, nil
}

func (r *memoryChatRepository) DeleteRoom(ctx context.Context, id string) error {
	l := r.roomLock(id)
	l.Lock()
	defer l.Unlock()
	defer r.dropLock(id, l)

	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.rooms[id]
	if !ok {
		return errors.NotFound("Chat room", nil).With("room_id", id)
	}
	for msgID, msg := range r.messages {
		if msg.ChatRoomID == id {
			delete(r.messages, msgID)
		}
	}
	for offerID, offer := range r.offers {
		if offer.ChatRoomID == id {
			delete(r.offers, offerID)
		}
	}
	delete(r.roomKeys, roomKey(room.ListingID, room.BuyerID))
	delete(r.rooms, id)
	return nil
}

func (r *memoryChatRepository) GetMessage(ctx context.Context, id string) (*entity.ChatMessage, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	msg, ok := r.messages[id]
	if !ok {
		return nil, errors.NotFound("Message", nil).With("message_id", id)
	}
	return cloneMessage(msg), nil
}

func (r *memoryChatRepository) ListMessages(ctx context.Context, roomID string, limit, offset int) ([]*entity.ChatMessage, int64, error) {
	r.mu.RLock()
	var messages []*entity.ChatMessage
	for _, msg := range r.messages {
		if msg.ChatRoomID == roomID {
			messages = append(messages, cloneMessage(msg))
		}
	}
	r.mu.RUnlock()

	sort.Slice(messages, func(i, j int) bool {
		return messages[j].Before(messages[i])
	})

	total := int64(len(messages))
	return paginate(messages, limit, offset), total, nil
}

func (r *memoryChatRepository) HardDeleteMessage(ctx context.Context, id string) error {
	msg, err := r.GetMessage(ctx, id)
	if err != nil {
		return err
	}

	l := r.roomLock(msg.ChatRoomID)
	l.Lock()
	defer l.Unlock()

	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.messages, id)
	return nil
}

func (r *memoryChatRepository) GetOffer(ctx context.Context, id string) (*entity.ListingOffer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	offer, ok := r.offers[id]
	if !ok {
		return nil, errors.NotFound("Offer", nil).With("offer_id", id)
	}
	return cloneOffer(offer), nil
}

func (r *memoryChatRepository) ListOffersByRoom(ctx context.Context, roomID string) ([]*entity.ListingOffer, error) {
	r.mu.RLock()
	var offers []*entity.ListingOffer
	for _, offer := range r.offers {
		if offer.ChatRoomID == roomID {
			offers = append(offers, cloneOffer(offer))
		}
	}
	r.mu.RUnlock()

	sort.Slice(offers, func(i, j int) bool {
		return offers[i].Seq < offers[j].Seq
	})
	return offers, nil
}

func (r *memoryChatRepository) ListDueOffers(ctx context.Context, now time.Time, limit int) ([]*entity.ListingOffer, error) {
	r.mu.RLock()
	var due []*entity.ListingOffer
	for _, offer := range r.offers {
		if offer.IsDueAt(now) {
			due = append(due, cloneOffer(offer))
		}
	}
	r.mu.RUnlock()

	sort.Slice(due, func(i, j int) bool {
		return due[i].ExpiresAt.Before(*due[j].ExpiresAt)
	})
	return paginate(due, limit, 0), nil
}

func (r *memoryChatRepository) RunInRoom(ctx context.Context, roomID string, fn func(tx repository.RoomTx) error) error {
	l := r.roomLock(roomID)
	l.Lock()
	defer l.Unlock()

	room, err := r.GetRoom(ctx, roomID)
	if err != nil {
		if errors.Is(err, errors.CodeNotFound) {
			r.dropLock(roomID, l)
		}
		return err
	}

	tx := &memoryRoomTx{
		repo:     r,
		room:     room,
		messages: make(map[string]*entity.ChatMessage),
		offers:   make(map[string]*entity.ListingOffer),
	}
	if err := fn(tx); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.rooms[roomID]; !ok {
		return errors.NotFound("Chat room", nil).With("room_id", roomID)
	}
	r.rooms[roomID] = cloneRoom(tx.room)
	for id, msg := range tx.messages {
		r.messages[id] = msg
	}
	for id, offer := range tx.offers {
		r.offers[id] = offer
	}
	return nil
}

func (r *memoryChatRepository) Ping(ctx context.Context) error {
	return nil
}

type memoryRoomTx struct {
	repo     *memoryChatRepository
	room     *entity.ChatRoom
	messages map[string]*entity.ChatMessage
	offers   map[string]*entity.ListingOffer
}

func (tx *memoryRoomTx) Room() *entity.ChatRoom {
	return tx.room
}

// roomMessages merges committed and staged messages of the room.
func (tx *memoryRoomTx) roomMessages() map[string]*entity.ChatMessage {
	out := make(map[string]*entity.ChatMessage)
	tx.repo.mu.RLock()
	for id, msg := range tx.repo.messages {
		if msg.ChatRoomID == tx.room.ID {
			out[id] = msg
		}
	}
	tx.repo.mu.RUnlock()
	for id, msg := range tx.messages {
		out[id] = msg
	}
	return out
}

func (tx *memoryRoomTx) roomOffers() map[string]*entity.ListingOffer {
	out := make(map[string]*entity.ListingOffer)
	tx.repo.mu.RLock()
	for id, offer := range tx.repo.offers {
		if offer.ChatRoomID == tx.room.ID {
			out[id] = offer
		}
	}
	tx.repo.mu.RUnlock()
	for id, offer := range tx.offers {
		out[id] = offer
	}
	return out
}

func (tx *memoryRoomTx) GetMessage(id string) (*entity.ChatMessage, error) {
	msg, ok := tx.roomMessages()[id]
	if !ok {
		return nil, errors.NotFound("Message", nil).With("message_id", id)
	}
	return cloneMessage(msg), nil
}

func (tx *memoryRoomTx) CountReplies(messageID string) (int, error) {
	n := 0
	for _, msg := range tx.roomMessages() {
		if msg.ReplyToMessageID != nil && *msg.ReplyToMessageID == messageID {
			n++
		}
	}
	return n, nil
}

func (tx *memoryRoomTx) GetOffer(id string) (*entity.ListingOffer, error) {
	offer, ok := tx.roomOffers()[id]
	if !ok {
		return nil, errors.NotFound("Offer", nil).With("offer_id", id)
	}
	return cloneOffer(offer), nil
}

func (tx *memoryRoomTx) PendingOffer() (*entity.ListingOffer, error) {
	for _, offer := range tx.roomOffers() {
		if offer.IsPending() {
			return cloneOffer(offer), nil
		}
	}
	return nil, nil
}

func (tx *memoryRoomTx) HasAcceptedOffer() (bool, error) {
	for _, offer := range tx.roomOffers() {
		if offer.Status == entity.OfferStatusAccepted {
			return true, nil
		}
	}
	return false, nil
}

func (tx *memoryRoomTx) CreateMessage(msg *entity.ChatMessage) error {
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	msg.ChatRoomID = tx.room.ID
	msg.Seq = tx.room.NextSeq()
	tx.messages[msg.ID] = cloneMessage(msg)
	return nil
}

func (tx *memoryRoomTx) UpdateMessage(msg *entity.ChatMessage) error {
	if _, err := tx.GetMessage(msg.ID); err != nil {
		return err
	}
	tx.messages[msg.ID] = cloneMessage(msg)
	return nil
}

func (tx *memoryRoomTx) MarkMessagesRead(readerID string, at time.Time) (int, error) {
	n := 0
	for id, msg := range tx.roomMessages() {
		if msg.IsRead || msg.SentBy(readerID) {
			continue
		}
		updated := cloneMessage(msg)
		readAt := at
		updated.IsRead = true
		updated.ReadAt = &readAt
		tx.messages[id] = updated
		n++
	}
	return n, nil
}

func (tx *memoryRoomTx) CreateOffer(offer *entity.ListingOffer) error {
	if offer.ID == "" {
		offer.ID = uuid.New().String()
	}
	offer.ChatRoomID = tx.room.ID
	offer.Seq = tx.room.NextSeq()
	tx.offers[offer.ID] = cloneOffer(offer)
	return nil
}

func (tx *memoryRoomTx) TransitionOffer(id string, t entity.OfferTransition) error {
	offer, err := tx.GetOffer(id)
	if err != nil {
		return err
	}
	if offer.Status != t.From {
		return errors.StateConflict(errors.ReasonOfferNotPending, "Offer is no longer "+string(t.From)).
			With("offer_id", id).
			With("status", string(offer.Status))
	}
	t.Apply(offer)
	tx.offers[id] = offer
	return nil
}

func (tx *memoryRoomTx) MarkOfferViewed(id string, at time.Time) error {
	offer, err := tx.GetOffer(id)
	if err != nil {
		return err
	}
	if offer.ViewedAt != nil {
		return nil
	}
	viewedAt := at
	offer.ViewedAt = &viewedAt
	tx.offers[id] = offer
	return nil
}

func cloneRoom(room *entity.ChatRoom) *entity.ChatRoom {
	c := *room
	if room.BlockMetadata != nil {
		c.BlockMetadata = make(map[string]entity.BlockRecord, len(room.BlockMetadata))
		for k, v := range room.BlockMetadata {
			c.BlockMetadata[k] = v
		}
	}
	if room.ReportMetadata != nil {
		c.ReportMetadata = append([]entity.ReportRecord(nil), room.ReportMetadata...)
	}
	return &c
}

func cloneMessage(msg *entity.ChatMessage) *entity.ChatMessage {
	c := *msg
	return &c
}

func cloneOffer(offer *entity.ListingOffer) *entity.ListingOffer {
	c := *offer
	return &c
}

func paginate[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return []T{}
	}
	if offset < 0 {
		offset = 0
	}
	end := len(items)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return items[offset:end]
}

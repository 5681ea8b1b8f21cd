package repository

import (
	"context"
	"sort"
	"time"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/firestore/apiv1/firestorepb"
	"github.com/google/uuid"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"marketchat/internal/domain/entity"
	"marketchat/internal/domain/repository"
	"marketchat/pkg/errors"
	"marketchat/pkg/logger"
)

const (
	roomsCollection    = "chat_rooms"
	messagesCollection = "messages"
	offersCollection   = "listing_offers"
)

// roomNamespace derives room document ids from (listing, buyer) so that
// concurrent creates collide on the same document.
var roomNamespace = uuid.MustParse("6f1f3c2e-8b1a-4d55-9a43-1d2c6b7e9f10")

// roomDocument adds the participants array used by array-contains queries.
type roomDocument struct {
	entity.ChatRoom
	Participants []string `firestore:"participants"`
}

func newRoomDocument(room *entity.ChatRoom) *roomDocument {
	return &roomDocument{ChatRoom: *room, Participants: []string{room.BuyerID, room.SellerID}}
}

type firestoreChatRepository struct {
	client *firestore.Client
}

func NewFirestoreChatRepository(client *firestore.Client) repository.ChatRepository {
	return &firestoreChatRepository{
		client: client,
	}
}

func (r *firestoreChatRepository) rooms() *firestore.CollectionRef {
	return r.client.Collection(roomsCollection)
}

func (r *firestoreChatRepository) messages(roomID string) *firestore.CollectionRef {
	return r.rooms().Doc(roomID).Collection(messagesCollection)
}

func (r *firestoreChatRepository) offers() *firestore.CollectionRef {
	return r.client.Collection(offersCollection)
}

func RoomIDFor(listingID, buyerID string) string {
	return uuid.NewSHA1(roomNamespace, []byte(listingID+"/"+buyerID)).String()
}

func (r *firestoreChatRepository) CreateRoom(ctx context.Context, room *entity.ChatRoom) (*entity.ChatRoom, bool, error) {
	room.ID = RoomIDFor(room.ListingID, room.BuyerID)

	_, err := r.rooms().Doc(room.ID).Create(ctx, newRoomDocument(room))
	if err == nil {
		return room, true, nil
	}
	if status.Code(err) != codes.AlreadyExists {
		logger.Ctx(ctx).Error().Err(err).Str(logger.FieldRoomID, room.ID).Msg("failed to create chat room")
		return nil, false, errors.StorageError("Failed to create chat room", err)
	}

	existing, err := r.GetRoom(ctx, room.ID)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

func decodeRoom(snap *firestore.DocumentSnapshot) (*entity.ChatRoom, error) {
	var doc roomDocument
	if err := snap.DataTo(&doc); err != nil {
		return nil, errors.StorageError("Failed to parse chat room data", err)
	}
	room := doc.ChatRoom
	room.ID = snap.Ref.ID
	return &room, nil
}

func (r *firestoreChatRepository) GetRoom(ctx context.Context, id string) (*entity.ChatRoom, error) {
	snap, err := r.rooms().Doc(id).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, errors.NotFound("Chat room", nil).With("room_id", id)
		}
		return nil, errors.StorageError("Failed to get chat room", err)
	}
	return decodeRoom(snap)
}

func (r *firestoreChatRepository) ListRoomsByUser(ctx context.Context, userID string, limit, offset int) ([]*entity.ChatRoom, int64, error) {
	query := r.rooms().Where("participants", "array-contains", userID).OrderBy("updatedAt", firestore.Desc)

	allDocs, err := query.Documents(ctx).GetAll()
	if err != nil {
		logger.Ctx(ctx).Error().Err(err).Str(logger.FieldUserID, userID).Msg("failed to fetch chat rooms")
		return nil, 0, errors.StorageError("Failed to fetch chat rooms", err)
	}

	rooms := make([]*entity.ChatRoom, 0, len(allDocs))
	for _, snap := range allDocs {
		room, err := decodeRoom(snap)
		if err != nil {
			logger.Ctx(ctx).Warn().Err(err).Str(logger.FieldRoomID, snap.Ref.ID).Msg("skipping unreadable chat room")
			continue
		}
		rooms = append(rooms, room)
	}

	// Pagination is applied in memory; a user's room count is small.
	total := int64(len(rooms))
	return paginate(rooms, limit, offset), total, nil
}

func (r *firestoreChatRepository) DeleteRoom(ctx context.Context, id string) error {
	roomRef := r.rooms().Doc(id)
	if _, err := r.GetRoom(ctx, id); err != nil {
		return err
	}

	msgRefs, err := r.messages(id).DocumentRefs(ctx).GetAll()
	if err != nil {
		return errors.StorageError("Failed to list messages", err)
	}
	offerDocs, err := r.offers().Where("chatRoomId", "==", id).Documents(ctx).GetAll()
	if err != nil {
		return errors.StorageError("Failed to list offers", err)
	}

	bw := r.client.BulkWriter(ctx)
	var jobs []*firestore.BulkWriterJob
	enqueue := func(ref *firestore.DocumentRef) error {
		job, err := bw.Delete(ref)
		if err != nil {
			return errors.StorageError("Failed to enqueue delete", err)
		}
		jobs = append(jobs, job)
		return nil
	}
	for _, ref := range msgRefs {
		if err := enqueue(ref); err != nil {
			return err
		}
	}
	for _, snap := range offerDocs {
		if err := enqueue(snap.Ref); err != nil {
			return err
		}
	}
	if err := enqueue(roomRef); err != nil {
		return err
	}
	bw.End()

	for _, job := range jobs {
		if _, err := job.Results(); err != nil {
			logger.Ctx(ctx).Error().Err(err).Str(logger.FieldRoomID, id).Msg("failed to delete chat room document")
			return errors.StorageError("Failed to delete chat room", err)
		}
	}
	return nil
}

func (r *firestoreChatRepository) findMessage(ctx context.Context, id string) (*firestore.DocumentSnapshot, error) {
	snap, err := r.client.CollectionGroup(messagesCollection).Where("id", "==", id).Limit(1).Documents(ctx).Next()
	if err == iterator.Done {
		return nil, errors.NotFound("Message", nil).With("message_id", id)
	}
	if err != nil {
		return nil, errors.StorageError("Failed to get message", err)
	}
	return snap, nil
}

func decodeMessage(snap *firestore.DocumentSnapshot) (*entity.ChatMessage, error) {
	var msg entity.ChatMessage
	if err := snap.DataTo(&msg); err != nil {
		return nil, errors.StorageError("Failed to parse message data", err)
	}
	return &msg, nil
}

func (r *firestoreChatRepository) GetMessage(ctx context.Context, id string) (*entity.ChatMessage, error) {
	snap, err := r.findMessage(ctx, id)
	if err != nil {
		return nil, err
	}
	return decodeMessage(snap)
}

func (r *firestoreChatRepository) ListMessages(ctx context.Context, roomID string, limit, offset int) ([]*entity.ChatMessage, int64, error) {
	base := r.messages(roomID)

	res, err := base.NewAggregationQuery().WithCount("all").Get(ctx)
	if err != nil {
		return nil, 0, errors.StorageError("Failed to count messages", err)
	}
	var total int64
	if v, ok := res["all"].(*firestorepb.Value); ok {
		total = v.GetIntegerValue()
	}

	query := base.OrderBy("createdAt", firestore.Desc).OrderBy("seq", firestore.Desc)
	if offset > 0 {
		query = query.Offset(offset)
	}
	if limit > 0 {
		query = query.Limit(limit)
	}

	iter := query.Documents(ctx)
	defer iter.Stop()

	var messages []*entity.ChatMessage
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			logger.Ctx(ctx).Error().Err(err).Str(logger.FieldRoomID, roomID).Msg("failed to iterate messages")
			return nil, 0, errors.StorageError("Failed to iterate messages", err)
		}
		msg, err := decodeMessage(snap)
		if err != nil {
			return nil, 0, err
		}
		messages = append(messages, msg)
	}
	return messages, total, nil
}

func (r *firestoreChatRepository) HardDeleteMessage(ctx context.Context, id string) error {
	snap, err := r.findMessage(ctx, id)
	if err != nil {
		return err
	}
	if _, err := snap.Ref.Delete(ctx); err != nil {
		return errors.StorageError("Failed to delete message", err)
	}
	return nil
}

func decodeOffer(snap *firestore.DocumentSnapshot) (*entity.ListingOffer, error) {
	var offer entity.ListingOffer
	if err := snap.DataTo(&offer); err != nil {
		return nil, errors.StorageError("Failed to parse offer data", err)
	}
	offer.ID = snap.Ref.ID
	return &offer, nil
}

func decodeOffers(snaps []*firestore.DocumentSnapshot) ([]*entity.ListingOffer, error) {
	offers := make([]*entity.ListingOffer, 0, len(snaps))
	for _, snap := range snaps {
		offer, err := decodeOffer(snap)
		if err != nil {
			return nil, err
		}
		offers = append(offers, offer)
	}
	return offers, nil
}

func (r *firestoreChatRepository) GetOffer(ctx context.Context, id string) (*entity.ListingOffer, error) {
	snap, err := r.offers().Doc(id).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, errors.NotFound("Offer", nil).With("offer_id", id)
		}
		return nil, errors.StorageError("Failed to get offer", err)
	}
	return decodeOffer(snap)
}

func (r *firestoreChatRepository) ListOffersByRoom(ctx context.Context, roomID string) ([]*entity.ListingOffer, error) {
	snaps, err := r.offers().Where("chatRoomId", "==", roomID).Documents(ctx).GetAll()
	if err != nil {
		return nil, errors.StorageError("Failed to list offers", err)
	}
	offers, err := decodeOffers(snaps)
	if err != nil {
		return nil, err
	}
	sort.Slice(offers, func(i, j int) bool {
		return offers[i].Seq < offers[j].Seq
	})
	return offers, nil
}

func (r *firestoreChatRepository) ListDueOffers(ctx context.Context, now time.Time, limit int) ([]*entity.ListingOffer, error) {
	query := r.offers().
		Where("status", "==", string(entity.OfferStatusPending)).
		Where("expiresAt", "<=", now).
		OrderBy("expiresAt", firestore.Asc)
	if limit > 0 {
		query = query.Limit(limit)
	}
	snaps, err := query.Documents(ctx).GetAll()
	if err != nil {
		return nil, errors.StorageError("Failed to list due offers", err)
	}
	return decodeOffers(snaps)
}

// RunInRoom reads the room document first, so two transactions touching the
// same room conflict and Firestore retries one of them.
func (r *firestoreChatRepository) RunInRoom(ctx context.Context, roomID string, fn func(tx repository.RoomTx) error) error {
	roomRef := r.rooms().Doc(roomID)

	err := r.client.RunTransaction(ctx, func(ctx context.Context, ftx *firestore.Transaction) error {
		snap, err := ftx.Get(roomRef)
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return errors.NotFound("Chat room", nil).With("room_id", roomID)
			}
			return errors.StorageError("Failed to get chat room", err)
		}
		room, err := decodeRoom(snap)
		if err != nil {
			return err
		}

		tx := &firestoreRoomTx{
			repo:     r,
			ftx:      ftx,
			room:     room,
			messages: make(map[string]*entity.ChatMessage),
			offers:   make(map[string]*entity.ListingOffer),
		}
		if err := fn(tx); err != nil {
			return err
		}
		return ftx.Set(roomRef, newRoomDocument(tx.room))
	})
	return errors.WrapStorage(err, "Room transaction failed")
}

func (r *firestoreChatRepository) Ping(ctx context.Context) error {
	iter := r.rooms().Limit(1).Documents(ctx)
	defer iter.Stop()
	if _, err := iter.Next(); err != nil && err != iterator.Done {
		return errors.StorageError("Firestore unreachable", err)
	}
	return nil
}

// firestoreRoomTx keeps what it has read so later writes can check
// preconditions without a read after the first write.
type firestoreRoomTx struct {
	repo     *firestoreChatRepository
	ftx      *firestore.Transaction
	room     *entity.ChatRoom
	messages map[string]*entity.ChatMessage
	offers   map[string]*entity.ListingOffer
}

func (tx *firestoreRoomTx) Room() *entity.ChatRoom {
	return tx.room
}

func (tx *firestoreRoomTx) GetMessage(id string) (*entity.ChatMessage, error) {
	if msg, ok := tx.messages[id]; ok {
		return cloneMessage(msg), nil
	}
	snap, err := tx.ftx.Get(tx.repo.messages(tx.room.ID).Doc(id))
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, errors.NotFound("Message", nil).With("message_id", id)
		}
		return nil, errors.StorageError("Failed to get message", err)
	}
	msg, err := decodeMessage(snap)
	if err != nil {
		return nil, err
	}
	tx.messages[id] = msg
	return cloneMessage(msg), nil
}

func (tx *firestoreRoomTx) CountReplies(messageID string) (int, error) {
	query := tx.repo.messages(tx.room.ID).Where("replyToMessageId", "==", messageID)
	refs, err := tx.ftx.Documents(query).GetAll()
	if err != nil {
		return 0, errors.StorageError("Failed to count replies", err)
	}
	return len(refs), nil
}

func (tx *firestoreRoomTx) GetOffer(id string) (*entity.ListingOffer, error) {
	if offer, ok := tx.offers[id]; ok {
		return cloneOffer(offer), nil
	}
	snap, err := tx.ftx.Get(tx.repo.offers().Doc(id))
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, errors.NotFound("Offer", nil).With("offer_id", id)
		}
		return nil, errors.StorageError("Failed to get offer", err)
	}
	offer, err := decodeOffer(snap)
	if err != nil {
		return nil, err
	}
	if offer.ChatRoomID != tx.room.ID {
		return nil, errors.NotFound("Offer", nil).With("offer_id", id)
	}
	tx.offers[id] = offer
	return cloneOffer(offer), nil
}

func (tx *firestoreRoomTx) queryOffers(status entity.OfferStatus) ([]*entity.ListingOffer, error) {
	query := tx.repo.offers().
		Where("chatRoomId", "==", tx.room.ID).
		Where("status", "==", string(status))
	snaps, err := tx.ftx.Documents(query).GetAll()
	if err != nil {
		return nil, errors.StorageError("Failed to query offers", err)
	}
	offers, err := decodeOffers(snaps)
	if err != nil {
		return nil, err
	}
	for _, offer := range offers {
		tx.offers[offer.ID] = offer
	}
	return offers, nil
}

func (tx *firestoreRoomTx) PendingOffer() (*entity.ListingOffer, error) {
	offers, err := tx.queryOffers(entity.OfferStatusPending)
	if err != nil || len(offers) == 0 {
		return nil, err
	}
	return cloneOffer(offers[0]), nil
}

func (tx *firestoreRoomTx) HasAcceptedOffer() (bool, error) {
	offers, err := tx.queryOffers(entity.OfferStatusAccepted)
	if err != nil {
		return false, err
	}
	return len(offers) > 0, nil
}

func (tx *firestoreRoomTx) CreateMessage(msg *entity.ChatMessage) error {
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	msg.ChatRoomID = tx.room.ID
	msg.Seq = tx.room.NextSeq()

	if err := tx.ftx.Create(tx.repo.messages(tx.room.ID).Doc(msg.ID), msg); err != nil {
		return errors.StorageError("Failed to create message", err)
	}
	return nil
}

func (tx *firestoreRoomTx) UpdateMessage(msg *entity.ChatMessage) error {
	if _, err := tx.GetMessage(msg.ID); err != nil {
		return err
	}
	if err := tx.ftx.Set(tx.repo.messages(tx.room.ID).Doc(msg.ID), msg); err != nil {
		return errors.StorageError("Failed to update message", err)
	}
	tx.messages[msg.ID] = cloneMessage(msg)
	return nil
}

func (tx *firestoreRoomTx) MarkMessagesRead(readerID string, at time.Time) (int, error) {
	query := tx.repo.messages(tx.room.ID).Where("isRead", "==", false)
	snaps, err := tx.ftx.Documents(query).GetAll()
	if err != nil {
		return 0, errors.StorageError("Failed to query unread messages", err)
	}

	n := 0
	for _, snap := range snaps {
		msg, err := decodeMessage(snap)
		if err != nil {
			return 0, err
		}
		if msg.SentBy(readerID) {
			continue
		}
		if err := tx.ftx.Update(snap.Ref, []firestore.Update{
			{Path: "isRead", Value: true},
			{Path: "readAt", Value: at},
		}); err != nil {
			return 0, errors.StorageError("Failed to mark message read", err)
		}
		n++
	}
	return n, nil
}

func (tx *firestoreRoomTx) CreateOffer(offer *entity.ListingOffer) error {
	if offer.ID == "" {
		offer.ID = uuid.New().String()
	}
	offer.ChatRoomID = tx.room.ID
	offer.Seq = tx.room.NextSeq()

	if err := tx.ftx.Create(tx.repo.offers().Doc(offer.ID), offer); err != nil {
		return errors.StorageError("Failed to create offer", err)
	}
	tx.offers[offer.ID] = cloneOffer(offer)
	return nil
}

func (tx *firestoreRoomTx) TransitionOffer(id string, t entity.OfferTransition) error {
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
	if err := tx.ftx.Set(tx.repo.offers().Doc(id), offer); err != nil {
		return errors.StorageError("Failed to update offer", err)
	}
	tx.offers[id] = offer
	return nil
}

func (tx *firestoreRoomTx) MarkOfferViewed(id string, at time.Time) error {
	offer, err := tx.GetOffer(id)
	if err != nil {
		return err
	}
	if offer.ViewedAt != nil {
		return nil
	}
	if err := tx.ftx.Update(tx.repo.offers().Doc(id), []firestore.Update{{Path: "viewedAt", Value: at}}); err != nil {
		return errors.StorageError("Failed to mark offer viewed", err)
	}
	viewedAt := at
	offer.ViewedAt = &viewedAt
	tx.offers[id] = offer
	return nil
}

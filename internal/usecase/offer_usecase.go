package usecase

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"marketchat/internal/domain/entity"
	"marketchat/internal/domain/repository"
	"marketchat/internal/infrastructure/ratelimit"
	"marketchat/pkg/errors"
	"marketchat/pkg/logger"
)

const expiryBatchSize = 100

// OfferUseCase runs price negotiation inside a room. A room holds at most
// one pending offer; counters form a chain through ParentOfferID.
type OfferUseCase struct {
	chatRepo    repository.ChatRepository
	listingRepo repository.ListingRepository
	notifier    EventNotifier
	rateLimiter *ratelimit.RateLimiter
	opts        Options
}

func NewOfferUseCase(
	chatRepo repository.ChatRepository,
	listingRepo repository.ListingRepository,
	notifier EventNotifier,
	rateLimiter *ratelimit.RateLimiter,
	opts Options,
) *OfferUseCase {
	if notifier == nil {
		notifier = noopNotifier{}
	}
	return &OfferUseCase{
		chatRepo:    chatRepo,
		listingRepo: listingRepo,
		notifier:    notifier,
		rateLimiter: rateLimiter,
		opts:        opts.withDefaults(),
	}
}

type OfferInput struct {
	Amount    float64
	Notes     string
	ExpiresAt *time.Time
}

func (uc *OfferUseCase) validateInput(input OfferInput, now time.Time) (*time.Time, error) {
	if input.Amount <= 0 {
		return nil, errors.InvalidInput(errors.ReasonInvalidAmount, "Offer amount must be greater than zero").
			With("amount", formatAmount(input.Amount))
	}
	if input.ExpiresAt != nil {
		if !input.ExpiresAt.After(now) {
			return nil, errors.InvalidInput(errors.ReasonInvalidExpiry, "Offer expiry must be in the future")
		}
		at := *input.ExpiresAt
		return &at, nil
	}
	if uc.opts.OfferDefaultTTL > 0 {
		at := now.Add(uc.opts.OfferDefaultTTL)
		return &at, nil
	}
	return nil, nil
}

func (uc *OfferUseCase) checkRate(userID string) error {
	if uc.rateLimiter == nil {
		return nil
	}
	if allowed, wait := uc.rateLimiter.Allow(userID, ratelimit.ActionCreateOffer); !allowed {
		return errors.TooManyRequests("Too many offers, slow down", wait.Round(time.Second))
	}
	return nil
}

// CreateOffer opens a negotiation chain. Only the buyer may open one, and
// only while no offer in the room is pending.
func (uc *OfferUseCase) CreateOffer(ctx context.Context, roomID string, buyer entity.Actor, input OfferInput) (*entity.ListingOffer, error) {
	log := logger.Ctx(ctx).With().Str(logger.FieldRoomID, roomID).Str(logger.FieldUserID, buyer.UserID).Logger()

	now := uc.opts.Now()
	expiresAt, err := uc.validateInput(input, now)
	if err != nil {
		return nil, err
	}
	if err := uc.checkRate(buyer.UserID); err != nil {
		return nil, err
	}

	room, err := uc.chatRepo.GetRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}
	listing, err := uc.listingRepo.GetByID(ctx, room.ListingID)
	if err != nil {
		log.Error().Err(err).Str("listing_id", room.ListingID).Msg("CreateOffer: listing lookup failed")
		return nil, err
	}

	box := &outbox{}
	var created *entity.ListingOffer
	err = uc.chatRepo.RunInRoom(ctx, roomID, func(tx repository.RoomTx) error {
		box.reset()
		room := tx.Room()
		role, err := requireParticipant(room, buyer)
		if err != nil {
			return err
		}
		if role != entity.RoleBuyer {
			return errors.Forbidden("Only the buyer can open an offer", nil).With("room_id", roomID)
		}
		if err := requireWritable(room); err != nil {
			return err
		}

		pending, err := tx.PendingOffer()
		if err != nil {
			return err
		}
		closed, err := tx.HasAcceptedOffer()
		if err != nil {
			return err
		}
		if pending != nil {
			if !pending.IsDueAt(now) {
				return errors.StateConflict(errors.ReasonOfferChainActive, "An offer is already pending in this chat room").
					With("room_id", roomID).
					With("offer_id", pending.ID)
			}
			// the sweep has not reached it yet
			if err := uc.applyExpiry(tx, pending, now, box); err != nil {
				return err
			}
		}
		if closed {
			return errors.StateConflict(errors.ReasonNegotiationClosed, "An offer was already accepted in this chat room").
				With("room_id", roomID)
		}

		offer := &entity.ListingOffer{
			ListingID:          room.ListingID,
			BuyerID:            room.BuyerID,
			SellerID:           room.SellerID,
			CreatedBy:          buyer.UserID,
			OfferedAmount:      input.Amount,
			ListingPriceAtTime: listing.Price,
			DiscountPercentage: entity.DiscountPercentage(listing.Price, input.Amount),
			Notes:              strings.TrimSpace(input.Notes),
			ExpiresAt:          expiresAt,
			Status:             entity.OfferStatusPending,
			CreatedAt:          now,
			UpdatedAt:          now,
		}
		if err := tx.CreateOffer(offer); err != nil {
			return err
		}
		box.offerChanged(offer)

		msg := offerMessage(entity.ActionOfferCreated, offer, "Buyer offered "+formatAmount(offer.OfferedAmount), now)
		if err := appendMessage(tx, msg, role, box); err != nil {
			return err
		}
		created = offer
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Info().Str(logger.FieldOfferID, created.ID).Float64("amount", created.OfferedAmount).Msg("offer created")
	box.flush(ctx, uc.notifier)
	return created, nil
}

// CounterOffer answers the pending offer parentOfferID with a new amount.
// The parent becomes countered and the child is created pending in the same
// transaction.
func (uc *OfferUseCase) CounterOffer(ctx context.Context, parentOfferID string, actor entity.Actor, input OfferInput) (*entity.ListingOffer, error) {
	now := uc.opts.Now()
	expiresAt, err := uc.validateInput(input, now)
	if err != nil {
		return nil, err
	}
	if err := uc.checkRate(actor.UserID); err != nil {
		return nil, err
	}

	located, err := uc.chatRepo.GetOffer(ctx, parentOfferID)
	if err != nil {
		return nil, err
	}

	box := &outbox{}
	var created *entity.ListingOffer
	err = uc.chatRepo.RunInRoom(ctx, located.ChatRoomID, func(tx repository.RoomTx) error {
		box.reset()
		room := tx.Room()
		role, err := requireParticipant(room, actor)
		if err != nil {
			return err
		}
		if err := requireWritable(room); err != nil {
			return err
		}
		parent, err := tx.GetOffer(parentOfferID)
		if err != nil {
			return err
		}
		if err := requireLive(parent, now); err != nil {
			return err
		}
		if parent.CreatedBy == actor.UserID {
			return errors.Forbidden("Cannot counter your own offer", nil).With("offer_id", parentOfferID)
		}

		countered := entity.OfferTransition{
			From: entity.OfferStatusPending,
			To:   entity.OfferStatusCountered,
			At:   now,
		}
		if err := tx.TransitionOffer(parent.ID, countered); err != nil {
			return err
		}
		countered.Apply(parent)
		box.offerChanged(parent)

		child := &entity.ListingOffer{
			ListingID:          parent.ListingID,
			BuyerID:            parent.BuyerID,
			SellerID:           parent.SellerID,
			CreatedBy:          actor.UserID,
			ParentOfferID:      strPtr(parent.ID),
			OfferedAmount:      input.Amount,
			ListingPriceAtTime: parent.ListingPriceAtTime,
			DiscountPercentage: entity.DiscountPercentage(parent.ListingPriceAtTime, input.Amount),
			Notes:              strings.TrimSpace(input.Notes),
			ExpiresAt:          expiresAt,
			Status:             entity.OfferStatusPending,
			CreatedAt:          now,
			UpdatedAt:          now,
		}
		if err := tx.CreateOffer(child); err != nil {
			return err
		}
		box.offerChanged(child)

		text := fmt.Sprintf("%s countered with %s", capitalize(string(role)), formatAmount(child.OfferedAmount))
		msg := offerMessage(entity.ActionOfferCountered, child, text, now)
		msg.System.Data["parent_offer_id"] = parent.ID
		if err := appendMessage(tx, msg, role, box); err != nil {
			return err
		}
		created = child
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.Ctx(ctx).Info().
		Str(logger.FieldOfferID, created.ID).
		Str("parent_offer_id", parentOfferID).
		Float64("amount", created.OfferedAmount).
		Msg("offer countered")
	box.flush(ctx, uc.notifier)
	return created, nil
}

// AcceptOffer closes the negotiation. Only the counterpart of the offer's
// creator may accept.
func (uc *OfferUseCase) AcceptOffer(ctx context.Context, offerID string, actor entity.Actor) (*entity.ListingOffer, error) {
	return uc.respond(ctx, offerID, actor, entity.OfferTransition{
		From: entity.OfferStatusPending,
		To:   entity.OfferStatusAccepted,
	})
}

// RejectOffer is the symmetric counterpart of AcceptOffer.
func (uc *OfferUseCase) RejectOffer(ctx context.Context, offerID string, actor entity.Actor, reason string) (*entity.ListingOffer, error) {
	return uc.respond(ctx, offerID, actor, entity.OfferTransition{
		From:            entity.OfferStatusPending,
		To:              entity.OfferStatusRejected,
		RejectionReason: strings.TrimSpace(reason),
	})
}

// WithdrawOffer retracts a pending offer. Only its creator may withdraw it.
func (uc *OfferUseCase) WithdrawOffer(ctx context.Context, offerID string, actor entity.Actor) (*entity.ListingOffer, error) {
	return uc.respond(ctx, offerID, actor, entity.OfferTransition{
		From: entity.OfferStatusPending,
		To:   entity.OfferStatusWithdrawn,
	})
}

func (uc *OfferUseCase) respond(ctx context.Context, offerID string, actor entity.Actor, t entity.OfferTransition) (*entity.ListingOffer, error) {
	located, err := uc.chatRepo.GetOffer(ctx, offerID)
	if err != nil {
		return nil, err
	}

	box := &outbox{}
	var updated *entity.ListingOffer
	err = uc.chatRepo.RunInRoom(ctx, located.ChatRoomID, func(tx repository.RoomTx) error {
		box.reset()
		room := tx.Room()
		role, err := requireParticipant(room, actor)
		if err != nil {
			return err
		}
		offer, err := tx.GetOffer(offerID)
		if err != nil {
			return err
		}

		now := uc.opts.Now()
		if err := requireLive(offer, now); err != nil {
			return err
		}
		isCreator := offer.CreatedBy == actor.UserID
		if t.To == entity.OfferStatusWithdrawn && !isCreator {
			return errors.Forbidden("Only the creator can withdraw this offer", nil).With("offer_id", offerID)
		}
		if t.To != entity.OfferStatusWithdrawn && isCreator {
			return errors.Forbidden("Cannot respond to your own offer", nil).With("offer_id", offerID)
		}

		t.At = now
		if err := tx.TransitionOffer(offerID, t); err != nil {
			return err
		}
		t.Apply(offer)
		box.offerChanged(offer)

		action, text := responseMessage(offer, role)
		msg := offerMessage(action, offer, text, now)
		if offer.RejectionReason != "" {
			msg.System.Data["reason"] = offer.RejectionReason
		}
		if err := appendMessage(tx, msg, role, box); err != nil {
			return err
		}
		updated = offer
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.Ctx(ctx).Info().
		Str(logger.FieldOfferID, offerID).
		Str(logger.FieldUserID, actor.UserID).
		Str("status", string(updated.Status)).
		Msg("offer updated")
	box.flush(ctx, uc.notifier)
	return updated, nil
}

func responseMessage(offer *entity.ListingOffer, role entity.Role) (string, string) {
	who := capitalize(string(role))
	amount := formatAmount(offer.OfferedAmount)
	switch offer.Status {
	case entity.OfferStatusAccepted:
		return entity.ActionOfferAccepted, who + " accepted the offer of " + amount
	case entity.OfferStatusRejected:
		return entity.ActionOfferRejected, who + " rejected the offer of " + amount
	default:
		return entity.ActionOfferWithdrawn, who + " withdrew the offer of " + amount
	}
}

// requireLive fails unless the offer is pending and not past its expiry.
func requireLive(offer *entity.ListingOffer, now time.Time) error {
	if offer.IsPending() && !offer.IsDueAt(now) {
		return nil
	}
	status := string(offer.Status)
	if offer.IsPending() {
		status = "due_for_expiry"
	}
	return errors.StateConflict(errors.ReasonOfferNotPending, "Offer is no longer pending").
		With("offer_id", offer.ID).
		With("status", status)
}

// ExpireDueOffers moves every pending offer past its expiry to expired. It
// is safe to run concurrently and repeatedly: an offer that is no longer
// pending is left alone. It returns how many offers this call expired.
func (uc *OfferUseCase) ExpireDueOffers(ctx context.Context) (int, error) {
	now := uc.opts.Now()
	log := logger.Ctx(ctx)

	expired := 0
	var firstErr error
	for {
		due, err := uc.chatRepo.ListDueOffers(ctx, now, expiryBatchSize)
		if err != nil {
			log.Error().Err(err).Msg("ExpireDueOffers: failed to list due offers")
			return expired, err
		}

		progressed := 0
		for _, offer := range due {
			ok, err := uc.expireOffer(ctx, offer.ChatRoomID, offer.ID, now)
			if err != nil {
				log.Error().Err(err).Str(logger.FieldOfferID, offer.ID).Msg("ExpireDueOffers: failed to expire offer")
				if firstErr == nil {
					firstErr = err
				}
				continue
			}
			progressed++
			if ok {
				expired++
			}
		}

		if len(due) < expiryBatchSize || progressed == 0 {
			break
		}
	}

	if expired > 0 {
		log.Info().Int("expired", expired).Msg("offers expired")
	}
	return expired, firstErr
}

// expireRoom expires the room's pending offer if it is due.
func (uc *OfferUseCase) expireRoom(ctx context.Context, roomID string, now time.Time) error {
	box := &outbox{}
	err := uc.chatRepo.RunInRoom(ctx, roomID, func(tx repository.RoomTx) error {
		box.reset()
		pending, err := tx.PendingOffer()
		if err != nil || pending == nil || !pending.IsDueAt(now) {
			return err
		}
		return uc.applyExpiry(tx, pending, now, box)
	})
	if err != nil {
		return err
	}
	box.flush(ctx, uc.notifier)
	return nil
}

func (uc *OfferUseCase) expireOffer(ctx context.Context, roomID, offerID string, now time.Time) (bool, error) {
	box := &outbox{}
	done := false
	err := uc.chatRepo.RunInRoom(ctx, roomID, func(tx repository.RoomTx) error {
		box.reset()
		done = false
		offer, err := tx.GetOffer(offerID)
		if err != nil {
			return err
		}
		if !offer.IsDueAt(now) {
			return nil
		}
		if err := uc.applyExpiry(tx, offer, now, box); err != nil {
			return err
		}
		done = true
		return nil
	})
	if err != nil {
		return false, err
	}
	box.flush(ctx, uc.notifier)
	return done, nil
}

func (uc *OfferUseCase) applyExpiry(tx repository.RoomTx, offer *entity.ListingOffer, now time.Time, box *outbox) error {
	t := entity.OfferTransition{
		From:         entity.OfferStatusPending,
		To:           entity.OfferStatusExpired,
		At:           now,
		AutoRejected: true,
	}
	if err := tx.TransitionOffer(offer.ID, t); err != nil {
		return err
	}
	t.Apply(offer)
	box.offerChanged(offer)

	msg := offerMessage(entity.ActionOfferExpired, offer, "Offer of "+formatAmount(offer.OfferedAmount)+" expired", now)
	return appendMessage(tx, msg, "", box)
}

// GetOffers returns the room's offers in creation order. Due offers are
// expired first, and pending offers from the other side are marked viewed.
func (uc *OfferUseCase) GetOffers(ctx context.Context, roomID string, actor entity.Actor) ([]*entity.ListingOffer, error) {
	room, err := uc.chatRepo.GetRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}
	role, err := requireReader(room, actor)
	if err != nil {
		return nil, err
	}

	now := uc.opts.Now()
	if err := uc.expireRoom(ctx, roomID, now); err != nil {
		logger.Ctx(ctx).Warn().Err(err).Str(logger.FieldRoomID, roomID).Msg("GetOffers: lazy expiry failed")
	}

	offers, err := uc.chatRepo.ListOffersByRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}

	if role == "" {
		return offers, nil
	}
	for _, offer := range offers {
		if !offer.IsPending() || offer.ViewedAt != nil || offer.CreatorRole() == role {
			continue
		}
		id := offer.ID
		err := uc.chatRepo.RunInRoom(ctx, roomID, func(tx repository.RoomTx) error {
			if _, err := tx.GetOffer(id); err != nil {
				return err
			}
			return tx.MarkOfferViewed(id, now)
		})
		if err != nil {
			logger.Ctx(ctx).Warn().Err(err).Str(logger.FieldOfferID, id).Msg("GetOffers: failed to mark offer viewed")
			continue
		}
		viewedAt := now
		offer.ViewedAt = &viewedAt
	}
	return offers, nil
}

func offerMessage(action string, offer *entity.ListingOffer, text string, at time.Time) *entity.ChatMessage {
	return systemMessage(action, text, map[string]interface{}{
		"offer_id": offer.ID,
		"amount":   offer.OfferedAmount,
		"status":   string(offer.Status),
	}, at)
}

func formatAmount(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

package usecase

import (
	"context"
	"strings"

	"github.com/go-playground/validator/v10"
	"golang.org/x/sync/errgroup"

	"marketchat/internal/domain/entity"
	"marketchat/internal/domain/repository"
	"marketchat/pkg/errors"
	"marketchat/pkg/logger"
)

// RoomUseCase is the room registry: it creates rooms, gates access to them
// and owns their moderation flags.
type RoomUseCase struct {
	chatRepo    repository.ChatRepository
	listingRepo repository.ListingRepository
	userRepo    repository.UserRepository
	notifier    EventNotifier
	validate    *validator.Validate
	opts        Options
}

func NewRoomUseCase(
	chatRepo repository.ChatRepository,
	listingRepo repository.ListingRepository,
	userRepo repository.UserRepository,
	notifier EventNotifier,
	opts Options,
) *RoomUseCase {
	if notifier == nil {
		notifier = noopNotifier{}
	}
	return &RoomUseCase{
		chatRepo:    chatRepo,
		listingRepo: listingRepo,
		userRepo:    userRepo,
		notifier:    notifier,
		validate:    validator.New(),
		opts:        opts.withDefaults(),
	}
}

type Participation struct {
	Role entity.Role `json:"role"`
}

// RoomSummary is a room as seen by one reader.
type RoomSummary struct {
	Room         *entity.ChatRoom    `json:"room"`
	Role         entity.Role         `json:"role,omitempty"`
	UnreadCount  int                 `json:"unread_count"`
	IsImportant  bool                `json:"is_important"`
	Counterparty *entity.UserDisplay `json:"counterparty,omitempty"`
}

type ContactInfo struct {
	Phone string `json:"phone,omitempty"`
	Email string `json:"email,omitempty"`
}

// CreateOrGet returns the buyer's room for a listing, creating it on first
// contact.
func (uc *RoomUseCase) CreateOrGet(ctx context.Context, listingID string, buyer entity.Actor) (*entity.ChatRoom, bool, error) {
	log := logger.Ctx(ctx).With().Str("listing_id", listingID).Str(logger.FieldUserID, buyer.UserID).Logger()

	listing, err := uc.listingRepo.GetByID(ctx, listingID)
	if err != nil && !errors.Is(err, errors.CodeNotFound) {
		log.Error().Err(err).Msg("CreateOrGet: listing lookup failed")
		return nil, false, errors.WrapStorage(err, "Failed to load listing")
	}
	if listing == nil || !listing.IsChattable() {
		appErr := errors.NotFound("Listing", err).With("listing_id", listingID)
		appErr.Reason = errors.ReasonListingNotFound
		return nil, false, appErr
	}
	if listing.OwnerID == buyer.UserID {
		return nil, false, errors.StateConflict(errors.ReasonSelfChatNotAllowed, "Cannot start a chat on your own listing").
			With("listing_id", listingID)
	}

	now := uc.opts.Now()
	room := &entity.ChatRoom{
		ListingID: listingID,
		BuyerID:   buyer.UserID,
		SellerID:  listing.OwnerID,
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	room.BuyerTier, room.SellerTier = uc.tiers(ctx, buyer.UserID, listing.OwnerID)

	stored, created, err := uc.chatRepo.CreateRoom(ctx, room)
	if err != nil {
		log.Error().Err(err).Msg("CreateOrGet: failed to create room")
		return nil, false, err
	}
	if created {
		log.Info().Str(logger.FieldRoomID, stored.ID).Msg("chat room created")
	}
	return stored, created, nil
}

// tiers snapshots both sides' subscription tiers. Lookup failures leave the
// tier empty.
func (uc *RoomUseCase) tiers(ctx context.Context, buyerID, sellerID string) (string, string) {
	var buyerTier, sellerTier string
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if u, err := uc.userRepo.GetDisplayInfo(gctx, buyerID); err == nil {
			buyerTier = u.SubscriptionTier
		}
		return nil
	})
	g.Go(func() error {
		if u, err := uc.userRepo.GetDisplayInfo(gctx, sellerID); err == nil {
			sellerTier = u.SubscriptionTier
		}
		return nil
	})
	_ = g.Wait()
	return buyerTier, sellerTier
}

// GetParticipation returns the user's side in the room, or nil when the user
// is not a participant.
func (uc *RoomUseCase) GetParticipation(ctx context.Context, roomID, userID string) (*Participation, error) {
	room, err := uc.chatRepo.GetRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}
	role, ok := room.RoleOf(userID)
	if !ok {
		return nil, nil
	}
	return &Participation{Role: role}, nil
}

func (uc *RoomUseCase) GetRoom(ctx context.Context, roomID string, actor entity.Actor) (*RoomSummary, error) {
	room, err := uc.chatRepo.GetRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}
	role, err := requireReader(room, actor)
	if err != nil {
		return nil, err
	}
	summary := summarize(room, role)
	if role != "" {
		if u, err := uc.userRepo.GetDisplayInfo(ctx, room.ParticipantID(role.Counterpart())); err == nil {
			summary.Counterparty = u
		}
	}
	return summary, nil
}

// ListRooms pages userID's rooms. Only the user or an admin may list them.
func (uc *RoomUseCase) ListRooms(ctx context.Context, actor entity.Actor, userID string, limit, offset int) ([]*RoomSummary, int64, error) {
	if userID == "" {
		userID = actor.UserID
	}
	if userID != actor.UserID && !actor.Admin {
		return nil, 0, errors.AccessDenied("Cannot list another user's chat rooms")
	}

	rooms, total, err := uc.chatRepo.ListRoomsByUser(ctx, userID, limit, offset)
	if err != nil {
		logger.Ctx(ctx).Error().Err(err).Str(logger.FieldUserID, userID).Msg("ListRooms: failed to list rooms")
		return nil, 0, err
	}

	summaries := make([]*RoomSummary, len(rooms))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for i, room := range rooms {
		role, _ := room.RoleOf(userID)
		summaries[i] = summarize(room, role)
		i, otherID := i, room.ParticipantID(role.Counterpart())
		g.Go(func() error {
			if u, err := uc.userRepo.GetDisplayInfo(gctx, otherID); err == nil {
				summaries[i].Counterparty = u
			}
			return nil
		})
	}
	_ = g.Wait()

	return summaries, total, nil
}

func summarize(room *entity.ChatRoom, role entity.Role) *RoomSummary {
	s := &RoomSummary{Room: room, Role: role}
	if role != "" {
		s.UnreadCount = room.UnreadFor(role)
		s.IsImportant = room.IsImportantFor(role)
	}
	return s
}

func (uc *RoomUseCase) ToggleImportant(ctx context.Context, roomID string, actor entity.Actor, important bool) (*entity.ChatRoom, error) {
	var out *entity.ChatRoom
	err := uc.chatRepo.RunInRoom(ctx, roomID, func(tx repository.RoomTx) error {
		room := tx.Room()
		role, err := requireParticipant(room, actor)
		if err != nil {
			return err
		}
		room.SetImportant(role, important)
		room.UpdatedAt = uc.opts.Now()
		out = room
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// BlockUser sets or clears the caller's block flag. While either side's flag
// is set the room refuses new messages and offers from both sides.
func (uc *RoomUseCase) BlockUser(ctx context.Context, roomID string, actor entity.Actor, blocked bool, reason string) (*entity.ChatRoom, error) {
	var out *entity.ChatRoom
	box := &outbox{}
	err := uc.chatRepo.RunInRoom(ctx, roomID, func(tx repository.RoomTx) error {
		box.reset()
		room := tx.Room()
		role, err := requireParticipant(room, actor)
		if err != nil {
			return err
		}

		now := uc.opts.Now()
		wasBlocked := role == entity.RoleBuyer && room.BlockedByBuyer || role == entity.RoleSeller && room.BlockedBySeller
		room.SetBlocked(role, entity.BlockRecord{Blocked: blocked, Reason: reason, BlockedAt: now})
		room.UpdatedAt = now
		out = room

		if wasBlocked == blocked {
			return nil
		}
		action, text := entity.ActionChatBlocked, "Chat was blocked by the "+string(role)
		if !blocked {
			action, text = entity.ActionChatUnblocked, "Chat was unblocked by the "+string(role)
		}
		msg := systemMessage(action, text, map[string]interface{}{"by": string(role)}, now)
		return appendMessage(tx, msg, role, box)
	})
	if err != nil {
		return nil, err
	}

	logger.Ctx(ctx).Info().Str(logger.FieldRoomID, roomID).Str(logger.FieldUserID, actor.UserID).Bool("blocked", blocked).Msg("room block updated")
	box.flush(ctx, uc.notifier)
	return out, nil
}

func (uc *RoomUseCase) ReportUser(ctx context.Context, roomID string, actor entity.Actor, reportType, reason string) (*entity.ChatRoom, error) {
	reportType = strings.ToLower(strings.TrimSpace(reportType))
	if !entity.ReportTypes[reportType] {
		return nil, errors.InvalidInput(errors.ReasonInvalidReport, "Unknown report type").With("report_type", reportType)
	}

	var out *entity.ChatRoom
	err := uc.chatRepo.RunInRoom(ctx, roomID, func(tx repository.RoomTx) error {
		room := tx.Room()
		role, err := requireParticipant(room, actor)
		if err != nil {
			return err
		}
		now := uc.opts.Now()
		room.AddReport(role, entity.ReportRecord{
			ReportedBy:   actor.UserID,
			ReportedUser: room.ParticipantID(role.Counterpart()),
			Type:         reportType,
			Reason:       reason,
			ReportedAt:   now,
			Status:       "pending",
		})
		room.UpdatedAt = now
		out = room
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.Ctx(ctx).Warn().Str(logger.FieldRoomID, roomID).Str(logger.FieldUserID, actor.UserID).Str("report_type", reportType).Msg("user reported")
	return out, nil
}

// RequestContact lets the buyer ask for the seller's contact details.
func (uc *RoomUseCase) RequestContact(ctx context.Context, roomID string, actor entity.Actor) (*entity.ChatRoom, error) {
	var out *entity.ChatRoom
	box := &outbox{}
	err := uc.chatRepo.RunInRoom(ctx, roomID, func(tx repository.RoomTx) error {
		box.reset()
		room := tx.Room()
		role, err := requireParticipant(room, actor)
		if err != nil {
			return err
		}
		if role != entity.RoleBuyer {
			return errors.Forbidden("Only the buyer can request contact details", nil).With("room_id", roomID)
		}
		out = room
		if room.BuyerRequestedContact {
			return nil
		}

		now := uc.opts.Now()
		room.BuyerRequestedContact = true
		msg := systemMessage(entity.ActionContactRequested, "Buyer requested contact details", nil, now)
		return appendMessage(tx, msg, role, box)
	})
	if err != nil {
		return nil, err
	}
	box.flush(ctx, uc.notifier)
	return out, nil
}

// ShareContact records the seller's contact details as a system message.
func (uc *RoomUseCase) ShareContact(ctx context.Context, roomID string, actor entity.Actor, contact ContactInfo) (*entity.ChatRoom, error) {
	contact.Phone = strings.TrimSpace(contact.Phone)
	contact.Email = strings.TrimSpace(contact.Email)
	if contact.Phone == "" && contact.Email == "" {
		return nil, errors.InvalidInput(errors.ReasonInvalidContact, "Phone or email is required")
	}
	if err := uc.validate.Var(contact.Email, "omitempty,email"); err != nil {
		return nil, errors.InvalidInput(errors.ReasonInvalidContact, "Invalid email address")
	}
	if err := uc.validate.Var(contact.Phone, "omitempty,min=6,max=20"); err != nil {
		return nil, errors.InvalidInput(errors.ReasonInvalidContact, "Invalid phone number")
	}

	var out *entity.ChatRoom
	box := &outbox{}
	err := uc.chatRepo.RunInRoom(ctx, roomID, func(tx repository.RoomTx) error {
		box.reset()
		room := tx.Room()
		role, err := requireParticipant(room, actor)
		if err != nil {
			return err
		}
		if role != entity.RoleSeller {
			return errors.Forbidden("Only the seller can share contact details", nil).With("room_id", roomID)
		}

		data := map[string]interface{}{}
		if contact.Phone != "" {
			data["phone"] = contact.Phone
		}
		if contact.Email != "" {
			data["email"] = contact.Email
		}
		room.SellerSharedContact = true
		out = room
		msg := systemMessage(entity.ActionContactShared, "Seller shared contact details", data, uc.opts.Now())
		return appendMessage(tx, msg, role, box)
	})
	if err != nil {
		return nil, err
	}
	box.flush(ctx, uc.notifier)
	return out, nil
}

// DeleteRoom destroys a room with its messages and offers. Admin only.
func (uc *RoomUseCase) DeleteRoom(ctx context.Context, roomID string, actor entity.Actor) error {
	if !actor.Admin {
		return errors.Forbidden("Only administrators can delete chat rooms", nil).With("room_id", roomID)
	}
	if err := uc.chatRepo.DeleteRoom(ctx, roomID); err != nil {
		logger.Ctx(ctx).Error().Err(err).Str(logger.FieldRoomID, roomID).Msg("DeleteRoom: failed")
		return err
	}
	logger.Ctx(ctx).Warn().Str(logger.FieldRoomID, roomID).Str(logger.FieldUserID, actor.UserID).Msg("chat room deleted by admin")
	return nil
}

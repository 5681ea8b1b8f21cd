package usecase

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"

	"marketchat/internal/domain/entity"
	"marketchat/internal/domain/repository"
	"marketchat/internal/infrastructure/ratelimit"
	"marketchat/pkg/errors"
	"marketchat/pkg/logger"
)

const replySnippetLength = 100

// MessageUseCase is the per-room message log.
type MessageUseCase struct {
	chatRepo    repository.ChatRepository
	userRepo    repository.UserRepository
	media       MediaStorage
	notifier    EventNotifier
	rateLimiter *ratelimit.RateLimiter
	opts        Options
}

func NewMessageUseCase(
	chatRepo repository.ChatRepository,
	userRepo repository.UserRepository,
	media MediaStorage,
	notifier EventNotifier,
	rateLimiter *ratelimit.RateLimiter,
	opts Options,
) *MessageUseCase {
	if notifier == nil {
		notifier = noopNotifier{}
	}
	return &MessageUseCase{
		chatRepo:    chatRepo,
		userRepo:    userRepo,
		media:       media,
		notifier:    notifier,
		rateLimiter: rateLimiter,
		opts:        opts.withDefaults(),
	}
}

type SendTextInput struct {
	Text             string
	ReplyToMessageID string
}

// SendLocationInput leaves Lat and Lng nil when the client omitted them.
type SendLocationInput struct {
	Lat              *float64
	Lng              *float64
	Address          string
	Caption          string
	ReplyToMessageID string
}

type SendImageInput struct {
	Media            *entity.Media
	Caption          string
	ReplyToMessageID string
}

// ReplySummary describes the message a reply points at.
type ReplySummary struct {
	ID       string             `json:"id"`
	Snippet  string             `json:"snippet"`
	Type     entity.MessageType `json:"message_type"`
	SenderID *string            `json:"sender_id"`
}

type MessageView struct {
	*entity.ChatMessage
	Sender  *entity.UserDisplay `json:"sender,omitempty"`
	ReplyTo *ReplySummary       `json:"reply_to,omitempty"`
}

func (uc *MessageUseCase) SendText(ctx context.Context, roomID string, sender entity.Actor, input SendTextInput) (*entity.ChatMessage, error) {
	text := strings.TrimSpace(input.Text)
	if text == "" {
		return nil, errors.InvalidInput(errors.ReasonEmptyMessage, "Message text cannot be empty")
	}
	return uc.send(ctx, roomID, sender, input.ReplyToMessageID, &entity.ChatMessage{
		Type: entity.MessageTypeText,
		Text: text,
	})
}

func (uc *MessageUseCase) SendLocation(ctx context.Context, roomID string, sender entity.Actor, input SendLocationInput) (*entity.ChatMessage, error) {
	if input.Lat == nil || input.Lng == nil {
		return nil, errors.InvalidInput(errors.ReasonInvalidLocation, "Latitude and longitude are required")
	}
	loc := entity.Location{Lat: *input.Lat, Lng: *input.Lng, Address: strings.TrimSpace(input.Address)}
	if !loc.Valid() {
		return nil, errors.InvalidInput(errors.ReasonInvalidLocation, "Latitude must be within -90..90 and longitude within -180..180").
			With("lat", fmt.Sprint(loc.Lat)).
			With("lng", fmt.Sprint(loc.Lng))
	}
	return uc.send(ctx, roomID, sender, input.ReplyToMessageID, &entity.ChatMessage{
		Type:     entity.MessageTypeLocation,
		Text:     strings.TrimSpace(input.Caption),
		Location: &loc,
	})
}

// SendImage posts an image already placed in media storage.
func (uc *MessageUseCase) SendImage(ctx context.Context, roomID string, sender entity.Actor, input SendImageInput) (*entity.ChatMessage, error) {
	if input.Media == nil || input.Media.URL == "" {
		return nil, errors.BadRequest("Image reference is required", nil)
	}
	media := *input.Media
	return uc.send(ctx, roomID, sender, input.ReplyToMessageID, &entity.ChatMessage{
		Type:  entity.MessageTypeImage,
		Text:  strings.TrimSpace(input.Caption),
		Media: &media,
	})
}

// UploadImage checks that the sender may post to the room, stores the file
// and sends it as an image message.
func (uc *MessageUseCase) UploadImage(ctx context.Context, roomID string, sender entity.Actor, file ImageUpload, caption string) (*entity.ChatMessage, error) {
	if uc.media == nil {
		return nil, errors.Internal("Media storage is not configured", nil)
	}
	room, err := uc.chatRepo.GetRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if _, err := requireParticipant(room, sender); err != nil {
		return nil, err
	}
	if err := requireWritable(room); err != nil {
		return nil, err
	}

	media, err := uc.media.StoreImage(ctx, roomID, file)
	if err != nil {
		logger.Ctx(ctx).Error().Err(err).Str(logger.FieldRoomID, roomID).Msg("UploadImage: failed to store image")
		return nil, err
	}
	return uc.SendImage(ctx, roomID, sender, SendImageInput{Media: media, Caption: caption})
}

func (uc *MessageUseCase) send(ctx context.Context, roomID string, sender entity.Actor, replyTo string, msg *entity.ChatMessage) (*entity.ChatMessage, error) {
	log := logger.Ctx(ctx).With().Str(logger.FieldRoomID, roomID).Str(logger.FieldUserID, sender.UserID).Logger()

	if uc.rateLimiter != nil {
		if allowed, wait := uc.rateLimiter.Allow(sender.UserID, ratelimit.ActionSendMessage); !allowed {
			log.Warn().Dur("retry_after", wait).Msg("send rate limited")
			return nil, errors.TooManyRequests("Too many messages, slow down", wait.Round(time.Second))
		}
	}

	box := &outbox{}
	var created *entity.ChatMessage
	err := uc.chatRepo.RunInRoom(ctx, roomID, func(tx repository.RoomTx) error {
		box.reset()
		room := tx.Room()
		role, err := requireParticipant(room, sender)
		if err != nil {
			return err
		}
		if err := requireWritable(room); err != nil {
			return err
		}

		m := *msg
		if replyTo != "" {
			if _, err := tx.GetMessage(replyTo); err != nil {
				if errors.Is(err, errors.CodeNotFound) {
					return errors.StateConflict(errors.ReasonInvalidReply, "Reply target is not a message in this room").
						With("reply_to_message_id", replyTo)
				}
				return err
			}
			m.ReplyToMessageID = strPtr(replyTo)
		}
		m.SenderID = strPtr(sender.UserID)
		m.CreatedAt = uc.opts.Now()

		if err := appendMessage(tx, &m, role, box); err != nil {
			return err
		}
		created = &m
		return nil
	})
	if err != nil {
		if errors.Is(err, errors.CodeStorage) {
			log.Error().Err(err).Msg("send: failed to persist message")
		}
		return nil, err
	}

	box.flush(ctx, uc.notifier)
	return created, nil
}

// SendSystemMessage records a state transition. It skips the block check so
// the transition that caused a block can itself be documented. initiatorID
// names the participant whose action is recorded; when empty or unknown both
// sides count the message as unread.
func (uc *MessageUseCase) SendSystemMessage(ctx context.Context, roomID, initiatorID, action string, data map[string]interface{}) (*entity.ChatMessage, error) {
	box := &outbox{}
	var created *entity.ChatMessage
	err := uc.chatRepo.RunInRoom(ctx, roomID, func(tx repository.RoomTx) error {
		box.reset()
		initiator, _ := tx.Room().RoleOf(initiatorID)
		msg := systemMessage(action, "", data, uc.opts.Now())
		if err := appendMessage(tx, msg, initiator, box); err != nil {
			return err
		}
		created = msg
		return nil
	})
	if err != nil {
		return nil, err
	}
	box.flush(ctx, uc.notifier)
	return created, nil
}

// GetMessages returns one page of the room's history, oldest first. The page
// is cut from the newest end: offset 0 holds the latest messages.
func (uc *MessageUseCase) GetMessages(ctx context.Context, roomID string, reader entity.Actor, limit, offset int) ([]*MessageView, int64, error) {
	room, err := uc.chatRepo.GetRoom(ctx, roomID)
	if err != nil {
		return nil, 0, err
	}
	if _, err := requireReader(room, reader); err != nil {
		return nil, 0, err
	}

	messages, total, err := uc.chatRepo.ListMessages(ctx, roomID, limit, offset)
	if err != nil {
		logger.Ctx(ctx).Error().Err(err).Str(logger.FieldRoomID, roomID).Msg("GetMessages: failed to list messages")
		return nil, 0, err
	}

	views := make([]*MessageView, len(messages))
	for i, msg := range messages {
		// newest-first page, displayed oldest-first
		if msg.IsDeleted() && !reader.Admin {
			msg = msg.Redacted()
		}
		views[len(messages)-1-i] = &MessageView{ChatMessage: msg}
	}

	if err := uc.decorate(ctx, views, reader.Admin); err != nil {
		return nil, 0, err
	}
	return views, total, nil
}

// decorate attaches sender display info and reply summaries.
func (uc *MessageUseCase) decorate(ctx context.Context, views []*MessageView, admin bool) error {
	senders := make(map[string]*entity.UserDisplay)
	replies := make(map[string]*ReplySummary)
	for _, v := range views {
		if v.SenderID != nil {
			senders[*v.SenderID] = nil
		}
		if v.ReplyToMessageID != nil {
			replies[*v.ReplyToMessageID] = nil
		}
	}

	type senderResult struct {
		id string
		u  *entity.UserDisplay
	}
	type replyResult struct {
		id string
		s  *ReplySummary
	}
	senderCh := make(chan senderResult, len(senders))
	replyCh := make(chan replyResult, len(replies))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for id := range senders {
		id := id
		g.Go(func() error {
			if u, err := uc.userRepo.GetDisplayInfo(gctx, id); err == nil {
				senderCh <- senderResult{id: id, u: u}
			}
			return nil
		})
	}
	for id := range replies {
		id := id
		g.Go(func() error {
			target, err := uc.chatRepo.GetMessage(gctx, id)
			if err != nil {
				if errors.Is(err, errors.CodeNotFound) {
					return nil
				}
				return err
			}
			replyCh <- replyResult{id: id, s: summarizeReply(target, admin)}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	close(senderCh)
	close(replyCh)

	for r := range senderCh {
		senders[r.id] = r.u
	}
	for r := range replyCh {
		replies[r.id] = r.s
	}
	for _, v := range views {
		if v.SenderID != nil {
			v.Sender = senders[*v.SenderID]
		}
		if v.ReplyToMessageID != nil {
			v.ReplyTo = replies[*v.ReplyToMessageID]
		}
	}
	return nil
}

func summarizeReply(target *entity.ChatMessage, admin bool) *ReplySummary {
	snippet := target.Text
	if target.IsDeleted() && !admin {
		snippet = ""
	}
	if utf8.RuneCountInString(snippet) > replySnippetLength {
		snippet = string([]rune(snippet)[:replySnippetLength])
	}
	return &ReplySummary{
		ID:       target.ID,
		Snippet:  snippet,
		Type:     target.Type,
		SenderID: target.SenderID,
	}
}

// EditMessage replaces a text message's body. Eligibility is checked on
// every call: the editor must be the sender, the message must be a live
// user message with no replies, and it must be at most EditWindow old.
func (uc *MessageUseCase) EditMessage(ctx context.Context, roomID, messageID string, editor entity.Actor, text string) (*entity.ChatMessage, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, errors.InvalidInput(errors.ReasonEmptyMessage, "Message text cannot be empty")
	}

	var edited *entity.ChatMessage
	err := uc.chatRepo.RunInRoom(ctx, roomID, func(tx repository.RoomTx) error {
		room := tx.Room()
		if _, err := requireParticipant(room, editor); err != nil {
			return err
		}
		msg, err := tx.GetMessage(messageID)
		if err != nil {
			return err
		}
		replies, err := tx.CountReplies(messageID)
		if err != nil {
			return err
		}

		now := uc.opts.Now()
		if reason := uc.editBlocker(msg, editor, replies, now); reason != "" {
			return errors.StateConflict(errors.ReasonEditNotAllowed, "Message cannot be edited").
				With("message_id", messageID).
				With("precondition", reason)
		}

		msg.Text = text
		msg.EditedAt = &now
		if err := tx.UpdateMessage(msg); err != nil {
			return err
		}
		edited = msg
		return nil
	})
	if err != nil {
		return nil, err
	}
	return edited, nil
}

// editBlocker names the first failed edit precondition, or returns "".
func (uc *MessageUseCase) editBlocker(msg *entity.ChatMessage, editor entity.Actor, replies int, now time.Time) string {
	switch {
	case msg.IsSystem():
		return "system_message"
	case !msg.SentBy(editor.UserID):
		return "not_sender"
	case msg.IsDeleted():
		return "deleted"
	case replies > 0:
		return "has_replies"
	case now.Sub(msg.CreatedAt) > uc.opts.EditWindow:
		return "window_elapsed"
	}
	return ""
}

// DeleteMessage soft-deletes a message. End users may only delete their own
// messages; admins may delete any non-system message.
func (uc *MessageUseCase) DeleteMessage(ctx context.Context, messageID string, actor entity.Actor) (*entity.ChatMessage, error) {
	found, err := uc.chatRepo.GetMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}

	var deleted *entity.ChatMessage
	err = uc.chatRepo.RunInRoom(ctx, found.ChatRoomID, func(tx repository.RoomTx) error {
		room := tx.Room()
		if _, err := requireReader(room, actor); err != nil {
			return err
		}
		msg, err := tx.GetMessage(messageID)
		if err != nil {
			return err
		}
		if msg.IsSystem() {
			return errors.Forbidden("System messages cannot be deleted", nil).With("message_id", messageID)
		}
		if !msg.SentBy(actor.UserID) && !actor.Admin {
			return errors.Forbidden("Only the sender can delete this message", nil).With("message_id", messageID)
		}
		if msg.IsDeleted() {
			deleted = msg
			return nil
		}

		now := uc.opts.Now()
		msg.DeletedAt = &now
		if err := tx.UpdateMessage(msg); err != nil {
			return err
		}
		deleted = msg
		return nil
	})
	if err != nil {
		return nil, err
	}
	logger.Ctx(ctx).Info().Str(logger.FieldMsgID, messageID).Str(logger.FieldUserID, actor.UserID).Msg("message deleted")
	return deleted, nil
}

// HardDeleteMessage irreversibly removes a message. Admin only.
func (uc *MessageUseCase) HardDeleteMessage(ctx context.Context, messageID string, actor entity.Actor) error {
	if !actor.Admin {
		return errors.Forbidden("Only administrators can permanently delete messages", nil).With("message_id", messageID)
	}
	if err := uc.chatRepo.HardDeleteMessage(ctx, messageID); err != nil {
		return err
	}
	logger.Ctx(ctx).Warn().Str(logger.FieldMsgID, messageID).Str(logger.FieldUserID, actor.UserID).Msg("message hard-deleted by admin")
	return nil
}

// MarkAsRead flags every message from the other side as read and zeroes the
// reader's unread counter in one transaction. Messages that land after the
// transaction started may stay unread.
func (uc *MessageUseCase) MarkAsRead(ctx context.Context, roomID string, reader entity.Actor) (int, error) {
	box := &outbox{}
	marked := 0
	err := uc.chatRepo.RunInRoom(ctx, roomID, func(tx repository.RoomTx) error {
		box.reset()
		room := tx.Room()
		role, err := requireParticipant(room, reader)
		if err != nil {
			return err
		}
		n, err := tx.MarkMessagesRead(reader.UserID, uc.opts.Now())
		if err != nil {
			return err
		}
		marked = n
		resetUnread(room, role, box)
		return nil
	})
	if err != nil {
		return 0, err
	}
	box.flush(ctx, uc.notifier)
	return marked, nil
}

package events

import (
	"context"
	"sync"

	"marketchat/internal/domain/entity"
	"marketchat/internal/usecase"
	"marketchat/pkg/logger"
)

// Relay forwards to a notifier bound after construction. Events raised
// before Bind are dropped.
type Relay struct {
	mu     sync.RWMutex
	target usecase.EventNotifier
}

func (r *Relay) Bind(n usecase.EventNotifier) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.target = n
}

func (r *Relay) current() usecase.EventNotifier {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.target
}

func (r *Relay) OnNewMessage(ctx context.Context, roomID string, msg *entity.ChatMessage) {
	if t := r.current(); t != nil {
		t.OnNewMessage(ctx, roomID, msg)
	}
}

func (r *Relay) OnUnreadCountChanged(ctx context.Context, userID, roomID string, count int) {
	if t := r.current(); t != nil {
		t.OnUnreadCountChanged(ctx, userID, roomID, count)
	}
}

func (r *Relay) OnOfferStateChanged(ctx context.Context, offerID, roomID string, status entity.OfferStatus) {
	if t := r.current(); t != nil {
		t.OnOfferStateChanged(ctx, offerID, roomID, status)
	}
}

// LogNotifier writes every event to the debug log.
type LogNotifier struct{}

func (LogNotifier) OnNewMessage(ctx context.Context, roomID string, msg *entity.ChatMessage) {
	logger.Ctx(ctx).Debug().Str("event", TypeNewMessage).Str(logger.FieldRoomID, roomID).Str(logger.FieldMsgID, msg.ID).Int64("seq", msg.Seq).Msg("chat event")
}

func (LogNotifier) OnUnreadCountChanged(ctx context.Context, userID, roomID string, count int) {
	logger.Ctx(ctx).Debug().Str("event", TypeUnreadCountChanged).Str(logger.FieldRoomID, roomID).Str(logger.FieldUserID, userID).Int("unread_count", count).Msg("chat event")
}

func (LogNotifier) OnOfferStateChanged(ctx context.Context, offerID, roomID string, status entity.OfferStatus) {
	logger.Ctx(ctx).Debug().Str("event", TypeOfferStateChanged).Str(logger.FieldRoomID, roomID).Str(logger.FieldOfferID, offerID).Str("status", string(status)).Msg("chat event")
}

var (
	_ usecase.EventNotifier = (*Relay)(nil)
	_ usecase.EventNotifier = LogNotifier{}
)

package usecase

import (
	"context"
	"io"
	"time"

	"marketchat/internal/domain/entity"
)

// EventNotifier receives chat events after the change that produced them
// has been committed. Delivery is fire-and-forget.
type EventNotifier interface {
	OnNewMessage(ctx context.Context, roomID string, msg *entity.ChatMessage)
	OnUnreadCountChanged(ctx context.Context, userID, roomID string, count int)
	OnOfferStateChanged(ctx context.Context, offerID, roomID string, status entity.OfferStatus)
}

// ImageUpload is a raw image handed to MediaStorage.
type ImageUpload struct {
	Filename    string
	ContentType string
	Size        int64
	Body        io.Reader
}

type MediaStorage interface {
	StoreImage(ctx context.Context, roomID string, file ImageUpload) (*entity.Media, error)
}

// Options tunes the chat usecases. Zero values fall back to defaults.
type Options struct {
	Now             func() time.Time
	EditWindow      time.Duration
	OfferDefaultTTL time.Duration
	// DisableOfferTTL leaves offers without expiry when the caller gives none.
	DisableOfferTTL bool
}

const (
	DefaultEditWindow = 15 * time.Minute
	DefaultOfferTTL   = 72 * time.Hour
)

func (o Options) withDefaults() Options {
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.EditWindow <= 0 {
		o.EditWindow = DefaultEditWindow
	}
	if o.OfferDefaultTTL <= 0 && !o.DisableOfferTTL {
		o.OfferDefaultTTL = DefaultOfferTTL
	}
	return o
}

type noopNotifier struct{}

func (noopNotifier) OnNewMessage(context.Context, string, *entity.ChatMessage) {}
func (noopNotifier) OnUnreadCountChanged(context.Context, string, string, int) {}
func (noopNotifier) OnOfferStateChanged(context.Context, string, string, entity.OfferStatus) {}

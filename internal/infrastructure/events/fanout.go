package events

import (
	"context"

	"golang.org/x/sync/errgroup"

	"marketchat/internal/domain/entity"
	"marketchat/internal/usecase"
)

// Fanout forwards every event to each notifier concurrently and waits for
// all of them.
type Fanout []usecase.EventNotifier

func (f Fanout) each(ctx context.Context, call func(n usecase.EventNotifier)) {
	var g errgroup.Group
	for _, n := range f {
		n := n
		g.Go(func() error {
			call(n)
			return nil
		})
	}
	_ = g.Wait()
}

func (f Fanout) OnNewMessage(ctx context.Context, roomID string, msg *entity.ChatMessage) {
	f.each(ctx, func(n usecase.EventNotifier) { n.OnNewMessage(ctx, roomID, msg) })
}

func (f Fanout) OnUnreadCountChanged(ctx context.Context, userID, roomID string, count int) {
	f.each(ctx, func(n usecase.EventNotifier) { n.OnUnreadCountChanged(ctx, userID, roomID, count) })
}

func (f Fanout) OnOfferStateChanged(ctx context.Context, offerID, roomID string, status entity.OfferStatus) {
	f.each(ctx, func(n usecase.EventNotifier) { n.OnOfferStateChanged(ctx, offerID, roomID, status) })
}

var (
	_ usecase.EventNotifier = Fanout(nil)
	_ usecase.EventNotifier = (*RedisBus)(nil)
)

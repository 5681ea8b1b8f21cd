package usecase

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketchat/internal/domain/entity"
	"marketchat/pkg/errors"
)

func TestFullNegotiation(t *testing.T) {
	f := newFixture(t)
	room := f.room(t)

	opening, err := f.offers.CreateOffer(f.ctx, room.ID, buyer, OfferInput{Amount: 80000, Notes: "cash"})
	require.NoError(t, err)
	assert.Equal(t, 20.0, opening.DiscountPercentage)
	assert.Equal(t, 100000.0, opening.ListingPriceAtTime)
	assert.Nil(t, opening.ParentOfferID)
	assert.Equal(t, entity.OfferStatusPending, opening.Status)

	counter, err := f.offers.CounterOffer(f.ctx, opening.ID, seller, OfferInput{Amount: 90000})
	require.NoError(t, err)
	assert.Equal(t, 10.0, counter.DiscountPercentage)
	assert.Equal(t, entity.OfferStatusPending, counter.Status)
	require.NotNil(t, counter.ParentOfferID)
	assert.Equal(t, opening.ID, *counter.ParentOfferID)

	parent, err := f.repo.GetOffer(f.ctx, opening.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.OfferStatusCountered, parent.Status)
	assert.NotNil(t, parent.RespondedAt)
	assert.Equal(t, parent.ChatRoomID, counter.ChatRoomID)

	accepted, err := f.offers.AcceptOffer(f.ctx, counter.ID, buyer)
	require.NoError(t, err)
	assert.Equal(t, entity.OfferStatusAccepted, accepted.Status)
	assert.NotNil(t, accepted.RespondedAt)

	_, err = f.offers.CounterOffer(f.ctx, counter.ID, buyer, OfferInput{Amount: 85000})
	assert.True(t, errors.HasReason(err, errors.ReasonOfferNotPending))

	_, err = f.offers.CreateOffer(f.ctx, room.ID, buyer, OfferInput{Amount: 70000})
	assert.True(t, errors.HasReason(err, errors.ReasonNegotiationClosed))

	offers, err := f.offers.GetOffers(f.ctx, room.ID, seller)
	require.NoError(t, err)
	require.Len(t, offers, 2)
	assert.Equal(t, opening.ID, offers[0].ID)
	assert.Equal(t, counter.ID, offers[1].ID)

	msgs, _, err := f.messages.GetMessages(f.ctx, room.ID, buyer, 20, 0)
	require.NoError(t, err)
	var actions []string
	for _, m := range msgs {
		actions = append(actions, m.System.Action)
	}
	assert.Equal(t, []string{entity.ActionOfferCreated, entity.ActionOfferCountered, entity.ActionOfferAccepted}, actions)

	var statuses []entity.OfferStatus
	for _, e := range f.notifier.offers {
		statuses = append(statuses, e.Status)
	}
	assert.Equal(t, []entity.OfferStatus{
		entity.OfferStatusPending,
		entity.OfferStatusCountered,
		entity.OfferStatusPending,
		entity.OfferStatusAccepted,
	}, statuses)
}

func TestSingleLiveOfferPerRoom(t *testing.T) {
	f := newFixture(t)
	room := f.room(t)

	_, err := f.offers.CreateOffer(f.ctx, room.ID, seller, OfferInput{Amount: 80000})
	assert.True(t, errors.Is(err, errors.CodeForbidden))

	first, err := f.offers.CreateOffer(f.ctx, room.ID, buyer, OfferInput{Amount: 80000})
	require.NoError(t, err)

	_, err = f.offers.CreateOffer(f.ctx, room.ID, buyer, OfferInput{Amount: 85000})
	assert.True(t, errors.HasReason(err, errors.ReasonOfferChainActive))
	assert.Equal(t, 1, f.countPending(t, room.ID))

	_, err = f.offers.CounterOffer(f.ctx, first.ID, seller, OfferInput{Amount: 95000})
	require.NoError(t, err)
	assert.Equal(t, 1, f.countPending(t, room.ID))

	// a pending counter also keeps the chain live
	_, err = f.offers.CreateOffer(f.ctx, room.ID, buyer, OfferInput{Amount: 85000})
	assert.True(t, errors.HasReason(err, errors.ReasonOfferChainActive))
}

func TestOfferInputValidation(t *testing.T) {
	f := newFixture(t)
	room := f.room(t)

	_, err := f.offers.CreateOffer(f.ctx, room.ID, buyer, OfferInput{Amount: 0})
	assert.True(t, errors.HasReason(err, errors.ReasonInvalidAmount))

	past := f.clock.Now().Add(-time.Minute)
	_, err = f.offers.CreateOffer(f.ctx, room.ID, buyer, OfferInput{Amount: 10, ExpiresAt: &past})
	assert.True(t, errors.HasReason(err, errors.ReasonInvalidExpiry))

	offer, err := f.offers.CreateOffer(f.ctx, room.ID, buyer, OfferInput{Amount: 10})
	require.NoError(t, err)
	require.NotNil(t, offer.ExpiresAt)
	assert.True(t, offer.ExpiresAt.Equal(f.clock.Now().Add(DefaultOfferTTL)))
}

func TestCounterAndRespondPermissions(t *testing.T) {
	f := newFixture(t)
	room := f.room(t)

	offer, err := f.offers.CreateOffer(f.ctx, room.ID, buyer, OfferInput{Amount: 80000})
	require.NoError(t, err)

	_, err = f.offers.CounterOffer(f.ctx, offer.ID, buyer, OfferInput{Amount: 81000})
	assert.True(t, errors.Is(err, errors.CodeForbidden), "cannot counter own offer")

	_, err = f.offers.AcceptOffer(f.ctx, offer.ID, buyer)
	assert.True(t, errors.Is(err, errors.CodeForbidden), "cannot accept own offer")

	_, err = f.offers.WithdrawOffer(f.ctx, offer.ID, seller)
	assert.True(t, errors.Is(err, errors.CodeForbidden), "only the creator withdraws")

	_, err = f.offers.AcceptOffer(f.ctx, offer.ID, stranger)
	assert.True(t, errors.Is(err, errors.CodeAccessDenied))

	rejected, err := f.offers.RejectOffer(f.ctx, offer.ID, seller, "too low")
	require.NoError(t, err)
	assert.Equal(t, entity.OfferStatusRejected, rejected.Status)
	assert.Equal(t, "too low", rejected.RejectionReason)

	_, err = f.offers.WithdrawOffer(f.ctx, offer.ID, buyer)
	assert.True(t, errors.HasReason(err, errors.ReasonOfferNotPending))

	// a rejected chain lets the buyer open a new one
	second, err := f.offers.CreateOffer(f.ctx, room.ID, buyer, OfferInput{Amount: 85000})
	require.NoError(t, err)
	withdrawn, err := f.offers.WithdrawOffer(f.ctx, second.ID, buyer)
	require.NoError(t, err)
	assert.Equal(t, entity.OfferStatusWithdrawn, withdrawn.Status)
	assert.Equal(t, 0, f.countPending(t, room.ID))
}

func TestConcurrentCountersOnlyOneWins(t *testing.T) {
	f := newFixture(t)
	room := f.room(t)

	offer, err := f.offers.CreateOffer(f.ctx, room.ID, buyer, OfferInput{Amount: 80000})
	require.NoError(t, err)

	var wins, conflicts int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := f.offers.CounterOffer(f.ctx, offer.ID, seller, OfferInput{Amount: float64(90000 + i)})
			switch {
			case err == nil:
				atomic.AddInt32(&wins, 1)
			case errors.HasReason(err, errors.ReasonOfferNotPending):
				atomic.AddInt32(&conflicts, 1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	assert.EqualValues(t, 1, wins)
	assert.EqualValues(t, 9, conflicts)
	assert.Equal(t, 1, f.countPending(t, room.ID))

	offers, err := f.repo.ListOffersByRoom(f.ctx, room.ID)
	require.NoError(t, err)
	assert.Len(t, offers, 2)
}

func TestChainIntegrity(t *testing.T) {
	f := newFixture(t)
	room := f.room(t)

	offer, err := f.offers.CreateOffer(f.ctx, room.ID, buyer, OfferInput{Amount: 70000})
	require.NoError(t, err)
	actors := []entity.Actor{seller, buyer, seller}
	for i, actor := range actors {
		offer, err = f.offers.CounterOffer(f.ctx, offer.ID, actor, OfferInput{Amount: float64(95000 - i*5000)})
		require.NoError(t, err)
	}

	offers, err := f.repo.ListOffersByRoom(f.ctx, room.ID)
	require.NoError(t, err)
	require.Len(t, offers, 4)

	byID := map[string]*entity.ListingOffer{}
	for _, o := range offers {
		byID[o.ID] = o
	}
	for _, o := range offers {
		if o.ParentOfferID == nil {
			continue
		}
		parent, ok := byID[*o.ParentOfferID]
		require.True(t, ok)
		assert.Equal(t, o.ChatRoomID, parent.ChatRoomID)
		assert.Equal(t, entity.OfferStatusCountered, parent.Status)
	}
	assert.Equal(t, 1, f.countPending(t, room.ID))
}

func TestExpireDueOffersIsIdempotent(t *testing.T) {
	f := newFixture(t)
	room := f.room(t)

	expiresAt := f.clock.Now().Add(time.Second)
	offer, err := f.offers.CreateOffer(f.ctx, room.ID, buyer, OfferInput{Amount: 80000, ExpiresAt: &expiresAt})
	require.NoError(t, err)

	n, err := f.offers.ExpireDueOffers(f.ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	f.clock.Advance(2 * time.Second)
	n, err = f.offers.ExpireDueOffers(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	expired, err := f.repo.GetOffer(f.ctx, offer.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.OfferStatusExpired, expired.Status)
	assert.True(t, expired.AutoRejected)
	before := f.reload(t, room.ID)

	n, err = f.offers.ExpireDueOffers(f.ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	again, err := f.repo.GetOffer(f.ctx, offer.ID)
	require.NoError(t, err)
	assert.Equal(t, expired, again)
	assert.Equal(t, before.UnreadCountSeller, f.reload(t, room.ID).UnreadCountSeller)
}

func TestConcurrentSweepsExpireOnce(t *testing.T) {
	f := newFixture(t)
	room := f.room(t)

	expiresAt := f.clock.Now().Add(time.Second)
	_, err := f.offers.CreateOffer(f.ctx, room.ID, buyer, OfferInput{Amount: 80000, ExpiresAt: &expiresAt})
	require.NoError(t, err)
	f.clock.Advance(time.Minute)

	var total int32
	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			n, err := f.offers.ExpireDueOffers(f.ctx)
			assert.NoError(t, err)
			atomic.AddInt32(&total, int32(n))
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 1, total)
	msgs, _, err := f.messages.GetMessages(f.ctx, room.ID, buyer, 20, 0)
	require.NoError(t, err)
	expiredNotices := 0
	for _, m := range msgs {
		if m.System != nil && m.System.Action == entity.ActionOfferExpired {
			expiredNotices++
		}
	}
	assert.Equal(t, 1, expiredNotices)
}

func TestDueOfferCannotBeAcceptedAndIsExpiredOnRead(t *testing.T) {
	f := newFixture(t)
	room := f.room(t)

	expiresAt := f.clock.Now().Add(time.Hour)
	offer, err := f.offers.CreateOffer(f.ctx, room.ID, buyer, OfferInput{Amount: 80000, ExpiresAt: &expiresAt})
	require.NoError(t, err)
	f.clock.Advance(2 * time.Hour)

	_, err = f.offers.AcceptOffer(f.ctx, offer.ID, seller)
	assert.True(t, errors.HasReason(err, errors.ReasonOfferNotPending))

	offers, err := f.offers.GetOffers(f.ctx, room.ID, buyer)
	require.NoError(t, err)
	require.Len(t, offers, 1)
	assert.Equal(t, entity.OfferStatusExpired, offers[0].Status)

	// both sides are notified of an expiry
	stored := f.reload(t, room.ID)
	assert.Equal(t, 1, stored.UnreadCountBuyer)
	assert.Equal(t, 2, stored.UnreadCountSeller)
}

func TestOverdueOfferDoesNotBlockNewOffer(t *testing.T) {
	f := newFixture(t)
	room := f.room(t)

	expiresAt := f.clock.Now().Add(time.Hour)
	stale, err := f.offers.CreateOffer(f.ctx, room.ID, buyer, OfferInput{Amount: 80000, ExpiresAt: &expiresAt})
	require.NoError(t, err)
	f.clock.Advance(2 * time.Hour)

	fresh, err := f.offers.CreateOffer(f.ctx, room.ID, buyer, OfferInput{Amount: 85000})
	require.NoError(t, err)
	assert.Equal(t, entity.OfferStatusPending, fresh.Status)

	old, err := f.repo.GetOffer(f.ctx, stale.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.OfferStatusExpired, old.Status)
	assert.True(t, old.AutoRejected)

	msgs, _, err := f.messages.GetMessages(f.ctx, room.ID, seller, 20, 0)
	require.NoError(t, err)
	var actions []string
	for _, m := range msgs {
		actions = append(actions, m.System.Action)
	}
	assert.Equal(t, []string{entity.ActionOfferCreated, entity.ActionOfferExpired, entity.ActionOfferCreated}, actions)

	// a sweep afterwards has nothing left to do
	n, err := f.offers.ExpireDueOffers(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestGetOffersMarksCounterpartOffersViewed(t *testing.T) {
	f := newFixture(t)
	room := f.room(t)

	offer, err := f.offers.CreateOffer(f.ctx, room.ID, buyer, OfferInput{Amount: 80000})
	require.NoError(t, err)

	offers, err := f.offers.GetOffers(f.ctx, room.ID, buyer)
	require.NoError(t, err)
	assert.Nil(t, offers[0].ViewedAt, "creator viewing does not count")

	_, err = f.offers.GetOffers(f.ctx, room.ID, stranger)
	assert.True(t, errors.Is(err, errors.CodeAccessDenied))

	f.clock.Advance(time.Minute)
	offers, err = f.offers.GetOffers(f.ctx, room.ID, seller)
	require.NoError(t, err)
	require.NotNil(t, offers[0].ViewedAt)

	stored, err := f.repo.GetOffer(f.ctx, offer.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.ViewedAt)
	assert.True(t, stored.ViewedAt.Equal(f.clock.Now()))
}

type countingExpirer struct {
	calls int32
}

func (c *countingExpirer) ExpireDueOffers(ctx context.Context) (int, error) {
	atomic.AddInt32(&c.calls, 1)
	return 0, nil
}

func TestOfferExpiryJobTicksUntilCancelled(t *testing.T) {
	expirer := &countingExpirer{}
	job := &OfferExpiryJob{offers: expirer, interval: 5 * time.Millisecond}

	ctx, cancel := context.WithCancel(context.Background())
	job.Start(ctx)

	assert.Eventually(t, func() bool {
		return atomic.LoadInt32(&expirer.calls) >= 2
	}, time.Second, 5*time.Millisecond)
	cancel()
}

package usecase

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	memrepo "marketchat/internal/adapter/repository"
	"marketchat/internal/domain/entity"
	"marketchat/internal/domain/repository"
	"marketchat/pkg/errors"
)

const (
	testListingID = "listing-1"
	testSellerID  = "seller-1"
	testBuyerID   = "buyer-1"
)

var (
	buyer    = entity.UserActor(testBuyerID)
	seller   = entity.UserActor(testSellerID)
	stranger = entity.UserActor("stranger-1")
	admin    = entity.AdminActor("admin-1")
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fakeListings struct {
	mu       sync.Mutex
	listings map[string]*entity.Listing
}

func (f *fakeListings) GetByID(ctx context.Context, id string) (*entity.Listing, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	l, ok := f.listings[id]
	if !ok {
		return nil, errors.NotFound("Listing", nil)
	}
	c := *l
	return &c, nil
}

func (f *fakeListings) put(l *entity.Listing) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listings[l.ID] = l
}

type fakeUsers struct{}

func (fakeUsers) GetDisplayInfo(ctx context.Context, userID string) (*entity.UserDisplay, error) {
	tier := "free"
	if userID == testSellerID {
		tier = "premium"
	}
	return &entity.UserDisplay{ID: userID, FullName: "User " + userID, SubscriptionTier: tier}, nil
}

type unreadEvent struct {
	UserID string
	RoomID string
	Count  int
}

type offerEvent struct {
	OfferID string
	Status  entity.OfferStatus
}

type recordingNotifier struct {
	mu       sync.Mutex
	messages []*entity.ChatMessage
	unread   []unreadEvent
	offers   []offerEvent
}

func (n *recordingNotifier) OnNewMessage(ctx context.Context, roomID string, msg *entity.ChatMessage) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.messages = append(n.messages, msg)
}

func (n *recordingNotifier) OnUnreadCountChanged(ctx context.Context, userID, roomID string, count int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.unread = append(n.unread, unreadEvent{UserID: userID, RoomID: roomID, Count: count})
}

func (n *recordingNotifier) OnOfferStateChanged(ctx context.Context, offerID, roomID string, status entity.OfferStatus) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.offers = append(n.offers, offerEvent{OfferID: offerID, Status: status})
}

func (n *recordingNotifier) lastUnread(userID string) (int, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for i := len(n.unread) - 1; i >= 0; i-- {
		if n.unread[i].UserID == userID {
			return n.unread[i].Count, true
		}
	}
	return 0, false
}

type fixture struct {
	ctx      context.Context
	clock    *fakeClock
	repo     repository.ChatRepository
	listings *fakeListings
	notifier *recordingNotifier
	rooms    *RoomUseCase
	messages *MessageUseCase
	offers   *OfferUseCase
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	clock := newFakeClock()
	listings := &fakeListings{listings: map[string]*entity.Listing{
		testListingID: {ID: testListingID, OwnerID: testSellerID, Title: "Sedan 2019", Price: 100000, Status: entity.ListingStatusActive},
	}}
	repo := memrepo.NewMemoryChatRepository()
	notifier := &recordingNotifier{}
	opts := Options{Now: clock.Now}

	return &fixture{
		ctx:      context.Background(),
		clock:    clock,
		repo:     repo,
		listings: listings,
		notifier: notifier,
		rooms:    NewRoomUseCase(repo, listings, fakeUsers{}, notifier, opts),
		messages: NewMessageUseCase(repo, fakeUsers{}, nil, notifier, nil, opts),
		offers:   NewOfferUseCase(repo, listings, notifier, nil, opts),
	}
}

func (f *fixture) room(t *testing.T) *entity.ChatRoom {
	t.Helper()
	room, _, err := f.rooms.CreateOrGet(f.ctx, testListingID, buyer)
	require.NoError(t, err)
	return room
}

func (f *fixture) reload(t *testing.T, roomID string) *entity.ChatRoom {
	t.Helper()
	room, err := f.repo.GetRoom(f.ctx, roomID)
	require.NoError(t, err)
	return room
}

func (f *fixture) countPending(t *testing.T, roomID string) int {
	t.Helper()
	offers, err := f.repo.ListOffersByRoom(f.ctx, roomID)
	require.NoError(t, err)
	n := 0
	for _, o := range offers {
		if o.IsPending() {
			n++
		}
	}
	return n
}

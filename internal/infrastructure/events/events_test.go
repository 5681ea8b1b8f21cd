package events

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketchat/internal/domain/entity"
)

func TestEnvelopeChannels(t *testing.T) {
	sender := "buyer-1"
	msg, err := NewMessageEvent("room-1", &entity.ChatMessage{ID: "m-1", SenderID: &sender, Type: entity.MessageTypeText, Text: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "chat:room:room-1", msg.Channel())
	assert.Equal(t, TypeNewMessage, msg.Type)

	var decoded entity.ChatMessage
	require.NoError(t, msg.UnmarshalPayload(&decoded))
	assert.Equal(t, "hi", decoded.Text)

	unread, err := NewUnreadEvent("seller-1", "room-1", 3)
	require.NoError(t, err)
	assert.Equal(t, "chat:user:seller-1", unread.Channel())

	var payload UnreadPayload
	require.NoError(t, unread.UnmarshalPayload(&payload))
	assert.Equal(t, UnreadPayload{ChatID: "room-1", UnreadCount: 3}, payload)

	offer, err := NewOfferEvent("o-1", "room-1", entity.OfferStatusAccepted)
	require.NoError(t, err)
	assert.Equal(t, "chat:room:room-1", offer.Channel())
}

type countingNotifier struct {
	mu     sync.Mutex
	counts map[string]int
}

func (c *countingNotifier) inc(kind string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.counts == nil {
		c.counts = make(map[string]int)
	}
	c.counts[kind]++
}

func (c *countingNotifier) OnNewMessage(context.Context, string, *entity.ChatMessage) {
	c.inc(TypeNewMessage)
}

func (c *countingNotifier) OnUnreadCountChanged(context.Context, string, string, int) {
	c.inc(TypeUnreadCountChanged)
}

func (c *countingNotifier) OnOfferStateChanged(context.Context, string, string, entity.OfferStatus) {
	c.inc(TypeOfferStateChanged)
}

func TestFanoutReachesEveryNotifier(t *testing.T) {
	a, b := &countingNotifier{}, &countingNotifier{}
	f := Fanout{a, b}
	ctx := context.Background()

	f.OnNewMessage(ctx, "room-1", &entity.ChatMessage{})
	f.OnUnreadCountChanged(ctx, "u", "room-1", 1)
	f.OnOfferStateChanged(ctx, "o", "room-1", entity.OfferStatusPending)

	for _, n := range []*countingNotifier{a, b} {
		assert.Equal(t, 1, n.counts[TypeNewMessage])
		assert.Equal(t, 1, n.counts[TypeUnreadCountChanged])
		assert.Equal(t, 1, n.counts[TypeOfferStateChanged])
	}
}

// Needs a live Redis; set REDIS_TEST_ADDR to run.
func TestRedisBusRoundTrip(t *testing.T) {
	addr := os.Getenv("REDIS_TEST_ADDR")
	if addr == "" {
		t.Skip("REDIS_TEST_ADDR not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	bus, err := NewRedisBus(ctx, RedisConfig{Address: addr})
	require.NoError(t, err)
	defer bus.Close()

	got := make(chan *Envelope, 1)
	go bus.Run(ctx, func(env *Envelope) { got <- env })

	// Give the subscription time to register before publishing.
	time.Sleep(200 * time.Millisecond)
	bus.OnUnreadCountChanged(ctx, "seller-1", "room-1", 2)

	select {
	case env := <-got:
		assert.Equal(t, TypeUnreadCountChanged, env.Type)
		assert.Equal(t, "seller-1", env.UserID)
	case <-ctx.Done():
		t.Fatal("no event received")
	}
}

func TestRelayDropsUntilBound(t *testing.T) {
	r := &Relay{}
	target := &countingNotifier{}
	ctx := context.Background()

	r.OnNewMessage(ctx, "room-1", &entity.ChatMessage{})
	r.Bind(Fanout{target, LogNotifier{}})
	r.OnNewMessage(ctx, "room-1", &entity.ChatMessage{})
	r.OnOfferStateChanged(ctx, "o", "room-1", entity.OfferStatusExpired)

	assert.Equal(t, 1, target.counts[TypeNewMessage])
	assert.Equal(t, 1, target.counts[TypeOfferStateChanged])
	assert.Equal(t, 0, target.counts[TypeUnreadCountChanged])
}

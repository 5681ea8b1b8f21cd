package websocket

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketchat/internal/domain/entity"
	"marketchat/internal/usecase"
	"marketchat/pkg/errors"
)

type stubGate struct {
	allowed map[string]bool
}

func (g stubGate) GetRoom(ctx context.Context, roomID string, actor entity.Actor) (*usecase.RoomSummary, error) {
	if g.allowed[roomID+"/"+actor.UserID] {
		return &usecase.RoomSummary{Room: &entity.ChatRoom{ID: roomID}}, nil
	}
	return nil, errors.AccessDenied("not a participant")
}

type stubReads struct {
	calls int
}

func (r *stubReads) MarkAsRead(ctx context.Context, roomID string, reader entity.Actor) (int, error) {
	r.calls++
	return 2, nil
}

func newTestManager() (*Manager, *stubReads) {
	reads := &stubReads{}
	gate := stubGate{allowed: map[string]bool{
		"room-1/buyer-1":  true,
		"room-1/seller-1": true,
	}}
	return NewManager(gate, reads), reads
}

func connect(m *Manager, userID string) *Client {
	c := NewClient(entity.UserActor(userID), nil)
	m.add(c)
	return c
}

func send(t *testing.T, m *Manager, c *Client, msg WSMessage) {
	t.Helper()
	raw, err := json.Marshal(msg)
	require.NoError(t, err)
	m.HandleClientMessage(c, raw)
}

func next(t *testing.T, c *Client) WSMessage {
	t.Helper()
	select {
	case frame := <-c.Send:
		var msg WSMessage
		require.NoError(t, json.Unmarshal(frame, &msg))
		return msg
	default:
		t.Fatal("expected a frame")
		return WSMessage{}
	}
}

func assertSilent(t *testing.T, c *Client) {
	t.Helper()
	select {
	case frame := <-c.Send:
		t.Fatalf("unexpected frame: %s", frame)
	default:
	}
}

func TestJoinRequiresParticipation(t *testing.T) {
	m, _ := newTestManager()
	buyer := connect(m, "buyer-1")
	stranger := connect(m, "stranger-1")

	send(t, m, buyer, WSMessage{Type: MessageTypeJoinChatRoom, ChatID: "room-1"})
	assert.Equal(t, MessageTypeJoined, next(t, buyer).Type)

	send(t, m, stranger, WSMessage{Type: MessageTypeJoinChatRoom, ChatID: "room-1"})
	assert.Equal(t, MessageTypeError, next(t, stranger).Type)

	m.OnNewMessage(context.Background(), "room-1", &entity.ChatMessage{ID: "m-1", Type: entity.MessageTypeText, Text: "hi"})
	got := next(t, buyer)
	assert.Equal(t, "new_message", got.Type)
	assert.Equal(t, "room-1", got.ChatID)
	assertSilent(t, stranger)
}

func TestUnreadEventsGoToEveryConnectionOfTheUser(t *testing.T) {
	m, _ := newTestManager()
	phone := connect(m, "seller-1")
	laptop := connect(m, "seller-1")
	other := connect(m, "buyer-1")

	m.OnUnreadCountChanged(context.Background(), "seller-1", "room-1", 4)

	for _, c := range []*Client{phone, laptop} {
		msg := next(t, c)
		assert.Equal(t, "unread_count_changed", msg.Type)
		data, ok := msg.Data.(map[string]interface{})
		require.True(t, ok)
		assert.EqualValues(t, 4, data["unread_count"])
	}
	assertSilent(t, other)
}

func TestTypingAndReadReceiptsSkipSender(t *testing.T) {
	m, reads := newTestManager()
	buyer := connect(m, "buyer-1")
	seller := connect(m, "seller-1")

	send(t, m, buyer, WSMessage{Type: MessageTypeTypingStart, ChatID: "room-1"})
	assert.Equal(t, MessageTypeError, next(t, buyer).Type)

	for _, c := range []*Client{buyer, seller} {
		send(t, m, c, WSMessage{Type: MessageTypeJoinChatRoom, ChatID: "room-1"})
		next(t, c)
	}

	send(t, m, buyer, WSMessage{Type: MessageTypeTypingStart, ChatID: "room-1"})
	assert.Equal(t, MessageTypeTyping, next(t, seller).Type)
	assertSilent(t, buyer)

	send(t, m, seller, WSMessage{Type: MessageTypeMarkRead, ChatID: "room-1"})
	assert.Equal(t, 1, reads.calls)
	assert.Equal(t, MessageTypeReadReceipt, next(t, buyer).Type)
	assertSilent(t, seller)
}

func TestRemoveClosesSendAndDropsSubscriptions(t *testing.T) {
	m, _ := newTestManager()
	buyer := connect(m, "buyer-1")
	send(t, m, buyer, WSMessage{Type: MessageTypeJoinChatRoom, ChatID: "room-1"})
	next(t, buyer)

	m.remove(buyer)
	_, open := <-buyer.Send
	assert.False(t, open)

	m.mutex.RLock()
	defer m.mutex.RUnlock()
	assert.Empty(t, m.rooms)
	assert.Empty(t, m.clients)
}

func TestUnknownAndMalformedMessages(t *testing.T) {
	m, _ := newTestManager()
	c := connect(m, "buyer-1")

	m.HandleClientMessage(c, []byte("{not json"))
	assert.Equal(t, MessageTypeError, next(t, c).Type)

	send(t, m, c, WSMessage{Type: "dance"})
	assert.Equal(t, MessageTypeError, next(t, c).Type)

	send(t, m, c, WSMessage{Type: MessageTypePing})
	assert.Equal(t, MessageTypePong, next(t, c).Type)
}

func TestDisconnectAfterStopDoesNotBlock(t *testing.T) {
	m, _ := newTestManager()
	ctx, cancel := context.WithCancel(context.Background())
	m.Start(ctx)

	c := NewClient(entity.UserActor("buyer-1"), nil)
	require.True(t, m.Connect(c))

	cancel()
	select {
	case <-m.done:
	case <-time.After(time.Second):
		t.Fatal("manager did not stop")
	}

	finished := make(chan struct{})
	go func() {
		m.disconnect(c)
		close(finished)
	}()
	select {
	case <-finished:
	case <-time.After(time.Second):
		t.Fatal("disconnect blocked after shutdown")
	}

	m.mutex.RLock()
	assert.Empty(t, m.clients)
	m.mutex.RUnlock()
	_, open := <-c.Send
	assert.False(t, open)

	assert.False(t, m.Connect(NewClient(entity.UserActor("seller-1"), nil)))
}

package usecase

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketchat/internal/domain/entity"
	"marketchat/internal/infrastructure/ratelimit"
	"marketchat/pkg/errors"
)

func TestSendTextUpdatesRecipientCounterOnly(t *testing.T) {
	f := newFixture(t)
	room := f.room(t)

	msg, err := f.messages.SendText(f.ctx, room.ID, buyer, SendTextInput{Text: "  is this still available?  "})
	require.NoError(t, err)
	assert.Equal(t, "is this still available?", msg.Text)
	assert.Equal(t, testBuyerID, *msg.SenderID)

	stored := f.reload(t, room.ID)
	assert.Equal(t, 1, stored.UnreadCountSeller)
	assert.Equal(t, 0, stored.UnreadCountBuyer)
	require.NotNil(t, stored.LastMessageAt)
	assert.True(t, stored.LastMessageAt.Equal(f.clock.Now()))

	count, ok := f.notifier.lastUnread(testSellerID)
	assert.True(t, ok)
	assert.Equal(t, 1, count)
	assert.Len(t, f.notifier.messages, 1)
}

func TestUnreadResetsOnReadAndCountsAgain(t *testing.T) {
	f := newFixture(t)
	room := f.room(t)

	for _, text := range []string{"one", "two", "three"} {
		_, err := f.messages.SendText(f.ctx, room.ID, buyer, SendTextInput{Text: text})
		require.NoError(t, err)
	}
	_, err := f.messages.SendText(f.ctx, room.ID, seller, SendTextInput{Text: "reply"})
	require.NoError(t, err)
	assert.Equal(t, 3, f.reload(t, room.ID).UnreadCountSeller)

	marked, err := f.messages.MarkAsRead(f.ctx, room.ID, seller)
	require.NoError(t, err)
	assert.Equal(t, 3, marked)

	stored := f.reload(t, room.ID)
	assert.Equal(t, 0, stored.UnreadCountSeller)
	assert.Equal(t, 1, stored.UnreadCountBuyer)

	msgs, _, err := f.messages.GetMessages(f.ctx, room.ID, seller, 20, 0)
	require.NoError(t, err)
	for _, m := range msgs {
		if m.SentBy(testSellerID) {
			assert.False(t, m.IsRead, "own messages stay unread for the other side")
		} else {
			assert.True(t, m.IsRead)
			assert.NotNil(t, m.ReadAt)
		}
	}

	// stays at zero until the other side sends again
	_, err = f.messages.MarkAsRead(f.ctx, room.ID, seller)
	require.NoError(t, err)
	assert.Equal(t, 0, f.reload(t, room.ID).UnreadCountSeller)

	_, err = f.messages.SendText(f.ctx, room.ID, buyer, SendTextInput{Text: "four"})
	require.NoError(t, err)
	assert.Equal(t, 1, f.reload(t, room.ID).UnreadCountSeller)
}

func TestSendValidation(t *testing.T) {
	f := newFixture(t)
	room := f.room(t)

	_, err := f.messages.SendText(f.ctx, room.ID, buyer, SendTextInput{Text: "   "})
	assert.True(t, errors.HasReason(err, errors.ReasonEmptyMessage))

	lat, lng, outOfRange := -6.2, 106.8, 181.0
	_, err = f.messages.SendLocation(f.ctx, room.ID, buyer, SendLocationInput{Lat: &outOfRange, Lng: &lng})
	assert.True(t, errors.HasReason(err, errors.ReasonInvalidLocation))

	_, err = f.messages.SendLocation(f.ctx, room.ID, buyer, SendLocationInput{Lat: &lat, Lng: &outOfRange})
	assert.True(t, errors.HasReason(err, errors.ReasonInvalidLocation))

	// a missing coordinate is not (0, 0)
	_, err = f.messages.SendLocation(f.ctx, room.ID, buyer, SendLocationInput{Lng: &lng, Address: "somewhere"})
	assert.True(t, errors.HasReason(err, errors.ReasonInvalidLocation))

	_, err = f.messages.SendLocation(f.ctx, room.ID, buyer, SendLocationInput{Lat: &lat, Address: "somewhere"})
	assert.True(t, errors.HasReason(err, errors.ReasonInvalidLocation))

	_, total, err := f.repo.ListMessages(f.ctx, room.ID, 10, 0)
	require.NoError(t, err)
	assert.Zero(t, total)

	msg, err := f.messages.SendLocation(f.ctx, room.ID, buyer, SendLocationInput{
		Lat:     &lat,
		Lng:     &lng,
		Address: "Jakarta",
		Caption: "meet here",
	})
	require.NoError(t, err)
	assert.Equal(t, entity.MessageTypeLocation, msg.Type)
	assert.Equal(t, "Jakarta", msg.Location.Address)

	_, err = f.messages.SendImage(f.ctx, room.ID, buyer, SendImageInput{})
	assert.True(t, errors.Is(err, errors.CodeInvalidInput))
}

func TestSendImageKeepsMediaMetadata(t *testing.T) {
	f := newFixture(t)
	room := f.room(t)

	msg, err := f.messages.SendImage(f.ctx, room.ID, seller, SendImageInput{
		Media: &entity.Media{
			URL:         "https://cdn.example.com/a.jpg",
			MimeType:    "image/jpeg",
			Width:       800,
			Height:      600,
			SizeBytes:   2048,
			StorageType: "gcs",
		},
		Caption: "front view",
	})
	require.NoError(t, err)
	assert.Equal(t, entity.MessageTypeImage, msg.Type)
	assert.Equal(t, "front view", msg.Text)
	assert.Equal(t, 800, msg.Media.Width)
	assert.Equal(t, 1, f.reload(t, room.ID).UnreadCountBuyer)
}

type stubMedia struct {
	stored int
}

func (s *stubMedia) StoreImage(ctx context.Context, roomID string, file ImageUpload) (*entity.Media, error) {
	s.stored++
	return &entity.Media{URL: "https://cdn.example.com/" + roomID + "/" + file.Filename, MimeType: file.ContentType, SizeBytes: file.Size, StorageType: "gcs"}, nil
}

func TestUploadImageChecksRoomBeforeStoring(t *testing.T) {
	f := newFixture(t)
	media := &stubMedia{}
	f.messages = NewMessageUseCase(f.repo, fakeUsers{}, media, f.notifier, nil, Options{Now: f.clock.Now})
	room := f.room(t)

	upload := ImageUpload{Filename: "car.png", ContentType: "image/png", Size: 4, Body: strings.NewReader("data")}

	_, err := f.messages.UploadImage(f.ctx, room.ID, stranger, upload, "")
	assert.True(t, errors.Is(err, errors.CodeAccessDenied))
	assert.Zero(t, media.stored)

	msg, err := f.messages.UploadImage(f.ctx, room.ID, buyer, upload, "side")
	require.NoError(t, err)
	assert.Equal(t, 1, media.stored)
	assert.Contains(t, msg.Media.URL, "car.png")
}

func TestMessagesDisplayOldestFirstWithStableTieBreak(t *testing.T) {
	f := newFixture(t)
	room := f.room(t)

	// the clock is frozen, so every message shares a timestamp
	for _, text := range []string{"a", "b", "c", "d"} {
		_, err := f.messages.SendText(f.ctx, room.ID, buyer, SendTextInput{Text: text})
		require.NoError(t, err)
	}

	msgs, total, err := f.messages.GetMessages(f.ctx, room.ID, seller, 20, 0)
	require.NoError(t, err)
	assert.EqualValues(t, 4, total)
	var texts []string
	for _, m := range msgs {
		texts = append(texts, m.Text)
	}
	assert.Equal(t, []string{"a", "b", "c", "d"}, texts)

	// offset counts from the newest message
	page, _, err := f.messages.GetMessages(f.ctx, room.ID, seller, 2, 0)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "c", page[0].Text)
	assert.Equal(t, "d", page[1].Text)
	assert.Equal(t, "User "+testBuyerID, page[0].Sender.FullName)
}

func TestEditWindowBoundaries(t *testing.T) {
	cases := []struct {
		name  string
		after time.Duration
		ok    bool
	}{
		{"at 14:59", 14*time.Minute + 59*time.Second, true},
		{"at exactly 15:00", 15 * time.Minute, true},
		{"at 15:01", 15*time.Minute + time.Second, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			room := f.room(t)

			msg, err := f.messages.SendText(f.ctx, room.ID, buyer, SendTextInput{Text: "original"})
			require.NoError(t, err)

			f.clock.Advance(tc.after)
			edited, err := f.messages.EditMessage(f.ctx, room.ID, msg.ID, buyer, "changed")
			if tc.ok {
				require.NoError(t, err)
				assert.Equal(t, "changed", edited.Text)
				require.NotNil(t, edited.EditedAt)
				return
			}
			assert.True(t, errors.HasReason(err, errors.ReasonEditNotAllowed))
		})
	}
}

func TestEditRules(t *testing.T) {
	f := newFixture(t)
	room := f.room(t)

	msg, err := f.messages.SendText(f.ctx, room.ID, buyer, SendTextInput{Text: "original"})
	require.NoError(t, err)

	_, err = f.messages.EditMessage(f.ctx, room.ID, msg.ID, seller, "hijack")
	assert.True(t, errors.HasReason(err, errors.ReasonEditNotAllowed))

	// a previous edit does not block further edits
	_, err = f.messages.EditMessage(f.ctx, room.ID, msg.ID, buyer, "first edit")
	require.NoError(t, err)
	_, err = f.messages.EditMessage(f.ctx, room.ID, msg.ID, buyer, "second edit")
	require.NoError(t, err)

	_, err = f.messages.SendText(f.ctx, room.ID, seller, SendTextInput{Text: "got it", ReplyToMessageID: msg.ID})
	require.NoError(t, err)
	_, err = f.messages.EditMessage(f.ctx, room.ID, msg.ID, buyer, "third edit")
	assert.True(t, errors.HasReason(err, errors.ReasonEditNotAllowed))

	system, err := f.messages.SendSystemMessage(f.ctx, room.ID, "", "listing_updated", nil)
	require.NoError(t, err)
	_, err = f.messages.EditMessage(f.ctx, room.ID, system.ID, buyer, "nope")
	assert.True(t, errors.HasReason(err, errors.ReasonEditNotAllowed))
	_, err = f.messages.DeleteMessage(f.ctx, system.ID, admin)
	assert.True(t, errors.Is(err, errors.CodeForbidden))
}

func TestReplyIntegrity(t *testing.T) {
	f := newFixture(t)
	room := f.room(t)

	target, err := f.messages.SendText(f.ctx, room.ID, seller, SendTextInput{Text: "Price is negotiable"})
	require.NoError(t, err)
	_, err = f.messages.SendText(f.ctx, room.ID, buyer, SendTextInput{Text: "How low?", ReplyToMessageID: target.ID})
	require.NoError(t, err)

	msgs, _, err := f.messages.GetMessages(f.ctx, room.ID, buyer, 20, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	reply := msgs[1]
	require.NotNil(t, reply.ReplyTo)
	assert.Equal(t, target.ID, reply.ReplyTo.ID)
	assert.Equal(t, "Price is negotiable", reply.ReplyTo.Snippet)
	assert.Equal(t, entity.MessageTypeText, reply.ReplyTo.Type)
	assert.Equal(t, testSellerID, *reply.ReplyTo.SenderID)

	// a message from another room is not a valid reply target
	f.listings.put(&entity.Listing{ID: "listing-2", OwnerID: testSellerID, Price: 5, Status: entity.ListingStatusActive})
	other, _, err := f.rooms.CreateOrGet(f.ctx, "listing-2", buyer)
	require.NoError(t, err)
	foreign, err := f.messages.SendText(f.ctx, other.ID, buyer, SendTextInput{Text: "elsewhere"})
	require.NoError(t, err)

	_, err = f.messages.SendText(f.ctx, room.ID, buyer, SendTextInput{Text: "x", ReplyToMessageID: foreign.ID})
	assert.True(t, errors.HasReason(err, errors.ReasonInvalidReply))
	_, err = f.messages.SendText(f.ctx, room.ID, buyer, SendTextInput{Text: "x", ReplyToMessageID: "missing"})
	assert.True(t, errors.HasReason(err, errors.ReasonInvalidReply))
}

func TestDeleteMessage(t *testing.T) {
	f := newFixture(t)
	room := f.room(t)

	msg, err := f.messages.SendText(f.ctx, room.ID, buyer, SendTextInput{Text: "my phone is 0811"})
	require.NoError(t, err)

	_, err = f.messages.DeleteMessage(f.ctx, msg.ID, seller)
	assert.True(t, errors.Is(err, errors.CodeForbidden))

	deleted, err := f.messages.DeleteMessage(f.ctx, msg.ID, buyer)
	require.NoError(t, err)
	assert.NotNil(t, deleted.DeletedAt)

	_, err = f.messages.EditMessage(f.ctx, room.ID, msg.ID, buyer, "edit after delete")
	assert.True(t, errors.HasReason(err, errors.ReasonEditNotAllowed))

	msgs, _, err := f.messages.GetMessages(f.ctx, room.ID, seller, 20, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Empty(t, msgs[0].Text)
	assert.NotNil(t, msgs[0].DeletedAt)

	msgs, _, err = f.messages.GetMessages(f.ctx, room.ID, admin, 20, 0)
	require.NoError(t, err)
	assert.Equal(t, "my phone is 0811", msgs[0].Text)

	err = f.messages.HardDeleteMessage(f.ctx, msg.ID, buyer)
	assert.True(t, errors.Is(err, errors.CodeForbidden))
	require.NoError(t, f.messages.HardDeleteMessage(f.ctx, msg.ID, admin))
	_, err = f.repo.GetMessage(f.ctx, msg.ID)
	assert.True(t, errors.Is(err, errors.CodeNotFound))
}

func TestSystemMessageWithoutInitiatorCountsForBothSides(t *testing.T) {
	f := newFixture(t)
	room := f.room(t)

	msg, err := f.messages.SendSystemMessage(f.ctx, room.ID, "", "listing_price_changed", map[string]interface{}{"price": 95000})
	require.NoError(t, err)
	assert.Nil(t, msg.SenderID)

	stored := f.reload(t, room.ID)
	assert.Equal(t, 1, stored.UnreadCountBuyer)
	assert.Equal(t, 1, stored.UnreadCountSeller)

	_, err = f.messages.SendSystemMessage(f.ctx, room.ID, testSellerID, "listing_price_changed", nil)
	require.NoError(t, err)
	stored = f.reload(t, room.ID)
	assert.Equal(t, 2, stored.UnreadCountBuyer)
	assert.Equal(t, 1, stored.UnreadCountSeller)
}

func TestSendIsRateLimited(t *testing.T) {
	f := newFixture(t)
	limiter := ratelimit.NewRateLimiter(map[string]ratelimit.Limit{ratelimit.ActionSendMessage: ratelimit.PerMinute(2)}).
		WithClock(f.clock.Now)
	f.messages = NewMessageUseCase(f.repo, fakeUsers{}, nil, f.notifier, limiter, Options{Now: f.clock.Now})
	room := f.room(t)

	for i := 0; i < 2; i++ {
		_, err := f.messages.SendText(f.ctx, room.ID, buyer, SendTextInput{Text: "spam"})
		require.NoError(t, err)
	}
	_, err := f.messages.SendText(f.ctx, room.ID, buyer, SendTextInput{Text: "spam"})
	assert.True(t, errors.Is(err, errors.CodeTooManyRequests))

	_, err = f.messages.SendText(f.ctx, room.ID, seller, SendTextInput{Text: "not me"})
	assert.NoError(t, err)
}

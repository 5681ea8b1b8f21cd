package errors

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStateConflictCarriesReasonAndDetails(t *testing.T) {
	err := StateConflict(ReasonOfferNotPending, "Offer is not pending").With("offer_id", "o-1")

	assert.Equal(t, http.StatusConflict, err.Status)
	assert.True(t, Is(err, CodeStateConflict))
	assert.True(t, HasReason(err, ReasonOfferNotPending))
	assert.Equal(t, "o-1", err.Details["offer_id"])
	assert.Contains(t, err.Error(), "OFFER_NOT_PENDING")
}

func TestIsUnwrapsWrappedAppError(t *testing.T) {
	wrapped := fmt.Errorf("sending: %w", RoomBlocked("r-1"))

	assert.True(t, Is(wrapped, CodeRoomBlocked))
	assert.False(t, Is(wrapped, CodeNotFound))
	assert.False(t, HasReason(wrapped, ReasonEmptyMessage))
}

func TestStorageErrorUnwrapsCause(t *testing.T) {
	cause := fmt.Errorf("connection reset")
	err := StorageError("Failed to save room", cause)

	assert.ErrorIs(t, err, cause)
	assert.Equal(t, http.StatusInternalServerError, err.Status)
}

func TestWrapStorageKeepsAppErrors(t *testing.T) {
	assert.Nil(t, WrapStorage(nil, "ignored"))

	notFound := NotFound("Chat room", nil)
	assert.Same(t, notFound, WrapStorage(notFound, "ignored"))

	wrapped := WrapStorage(fmt.Errorf("disk full"), "Failed to save room")
	assert.True(t, Is(wrapped, CodeStorage))
}

package usecase

import (
	"time"

	"marketchat/internal/domain/entity"
	"marketchat/pkg/errors"
)

// requireParticipant resolves the actor's side. Admins without a side are
// still denied: they may read and moderate, never speak for a side.
func requireParticipant(room *entity.ChatRoom, actor entity.Actor) (entity.Role, error) {
	role, ok := room.RoleOf(actor.UserID)
	if !ok {
		return "", errors.AccessDenied("User is not a participant in this chat room").
			With("room_id", room.ID).
			With("user_id", actor.UserID)
	}
	return role, nil
}

// requireReader admits participants and admins. The returned role is empty
// for a non-participant admin.
func requireReader(room *entity.ChatRoom, actor entity.Actor) (entity.Role, error) {
	if role, ok := room.RoleOf(actor.UserID); ok {
		return role, nil
	}
	if actor.Admin {
		return "", nil
	}
	return requireParticipant(room, actor)
}

// requireWritable fails when new messages or offers are not allowed.
func requireWritable(room *entity.ChatRoom) error {
	if room.IsBlocked() {
		return errors.RoomBlocked(room.ID)
	}
	if !room.IsActive {
		return errors.StateConflict(errors.ReasonRoomInactive, "Chat room is inactive").With("room_id", room.ID)
	}
	return nil
}

func systemMessage(action, text string, data map[string]interface{}, at time.Time) *entity.ChatMessage {
	return &entity.ChatMessage{
		Type:      entity.MessageTypeSystem,
		Text:      text,
		System:    &entity.SystemEvent{Action: action, Data: data},
		CreatedAt: at,
	}
}

func strPtr(s string) *string {
	return &s
}

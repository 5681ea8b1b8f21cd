package repository

import (
	"context"

	"marketchat/internal/domain/entity"
)

// UserRepository resolves display info for message and room decoration.
type UserRepository interface {
	GetDisplayInfo(ctx context.Context, userID string) (*entity.UserDisplay, error)
}

package repository

import (
	"context"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"marketchat/internal/domain/entity"
	"marketchat/internal/domain/repository"
	"marketchat/pkg/errors"
)

type firestoreUserRepository struct {
	client *firestore.Client
}

func NewFirestoreUserRepository(client *firestore.Client) repository.UserRepository {
	return &firestoreUserRepository{
		client: client,
	}
}

// GetDisplayInfo reads only the display fields of a users document.
func (r *firestoreUserRepository) GetDisplayInfo(ctx context.Context, userID string) (*entity.UserDisplay, error) {
	doc, err := r.client.Collection("users").Doc(userID).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, errors.NotFound("User", nil).With("user_id", userID)
		}
		return nil, errors.StorageError("Failed to get user", err)
	}

	var user entity.UserDisplay
	if err := doc.DataTo(&user); err != nil {
		return nil, errors.StorageError("Failed to parse user data", err)
	}
	user.ID = doc.Ref.ID
	return &user, nil
}

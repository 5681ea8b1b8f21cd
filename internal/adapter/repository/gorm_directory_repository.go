package repository

import (
	"context"
	stderrors "errors"

	"gorm.io/gorm"

	"marketchat/internal/domain/entity"
	"marketchat/internal/domain/repository"
	"marketchat/pkg/errors"
)

type gormListingRepository struct {
	db *gorm.DB
}

func NewGormListingRepository(db *gorm.DB) repository.ListingRepository {
	return &gormListingRepository{db: db}
}

func (r *gormListingRepository) GetByID(ctx context.Context, id string) (*entity.Listing, error) {
	var m ListingModel
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&m).Error; err != nil {
		if stderrors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.NotFound("Listing", nil).With("listing_id", id)
		}
		return nil, errors.StorageError("Failed to get listing", err)
	}
	return &entity.Listing{
		ID:        m.ID,
		OwnerID:   m.OwnerID,
		Title:     m.Title,
		Price:     m.Price,
		Status:    m.Status,
		UpdatedAt: m.UpdatedAt,
	}, nil
}

type gormUserRepository struct {
	db *gorm.DB
}

func NewGormUserRepository(db *gorm.DB) repository.UserRepository {
	return &gormUserRepository{db: db}
}

func (r *gormUserRepository) GetDisplayInfo(ctx context.Context, userID string) (*entity.UserDisplay, error) {
	var m UserModel
	if err := r.db.WithContext(ctx).Where("id = ?", userID).First(&m).Error; err != nil {
		if stderrors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.NotFound("User", nil).With("user_id", userID)
		}
		return nil, errors.StorageError("Failed to get user", err)
	}
	return &entity.UserDisplay{
		ID:               m.ID,
		FullName:         m.FullName,
		IsVerified:       m.IsVerified,
		AvatarURL:        m.AvatarURL,
		SubscriptionTier: m.SubscriptionTier,
	}, nil
}

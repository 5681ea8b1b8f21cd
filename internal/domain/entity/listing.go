package entity

import "time"

const ListingStatusActive = "active"

// Listing is the slice of a marketplace listing the chat core needs.
type Listing struct {
	ID        string    `json:"id" firestore:"id"`
	OwnerID   string    `json:"owner_id" firestore:"ownerId"`
	Title     string    `json:"title" firestore:"title"`
	Price     float64   `json:"price" firestore:"price"`
	Status    string    `json:"status" firestore:"status"`
	UpdatedAt time.Time `json:"updated_at" firestore:"updatedAt"`
}

func (l *Listing) IsChattable() bool {
	return l.Status == ListingStatusActive
}

// UserDisplay decorates responses; it never gates logic.
type UserDisplay struct {
	ID               string `json:"id" firestore:"id"`
	FullName         string `json:"full_name" firestore:"fullName"`
	IsVerified       bool   `json:"is_verified" firestore:"isVerified"`
	AvatarURL        string `json:"avatar_url,omitempty" firestore:"avatarURL,omitempty"`
	SubscriptionTier string `json:"subscription_tier,omitempty" firestore:"subscriptionTier,omitempty"`
}

// Actor is the authenticated caller. Admin grants the moderation override.
type Actor struct {
	UserID string
	Admin  bool
}

func UserActor(userID string) Actor {
	return Actor{UserID: userID}
}

func AdminActor(userID string) Actor {
	return Actor{UserID: userID, Admin: true}
}

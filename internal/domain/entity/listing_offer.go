package entity

import (
	"math"
	"time"
)

type OfferStatus string

const (
	OfferStatusPending   OfferStatus = "pending"
	OfferStatusAccepted  OfferStatus = "accepted"
	OfferStatusRejected  OfferStatus = "rejected"
	OfferStatusWithdrawn OfferStatus = "withdrawn"
	OfferStatusExpired   OfferStatus = "expired"
	OfferStatusCountered OfferStatus = "countered"
)

// ListingOffer is one node of a negotiation chain. ParentOfferID is nil
// for the buyer's opening offer and set on every counter-offer.
type ListingOffer struct {
	ID            string  `json:"id" firestore:"id"`
	ListingID     string  `json:"listing_id" firestore:"listingId"`
	ChatRoomID    string  `json:"chat_room_id" firestore:"chatRoomId"`
	BuyerID       string  `json:"buyer_id" firestore:"buyerId"`
	SellerID      string  `json:"seller_id" firestore:"sellerId"`
	CreatedBy     string  `json:"created_by" firestore:"createdBy"`
	ParentOfferID *string `json:"parent_offer_id,omitempty" firestore:"parentOfferId,omitempty"`
	Seq           int64   `json:"-" firestore:"seq"`

	OfferedAmount      float64    `json:"offered_amount" firestore:"offeredAmount"`
	ListingPriceAtTime float64    `json:"listing_price_at_time" firestore:"listingPriceAtTime"`
	DiscountPercentage float64    `json:"discount_percentage" firestore:"discountPercentage"`
	Notes              string     `json:"notes,omitempty" firestore:"notes,omitempty"`
	ExpiresAt          *time.Time `json:"expires_at,omitempty" firestore:"expiresAt,omitempty"`

	Status          OfferStatus `json:"status" firestore:"status"`
	ViewedAt        *time.Time  `json:"viewed_at,omitempty" firestore:"viewedAt,omitempty"`
	RespondedAt     *time.Time  `json:"responded_at,omitempty" firestore:"respondedAt,omitempty"`
	RejectionReason string      `json:"rejection_reason,omitempty" firestore:"rejectionReason,omitempty"`
	AutoRejected    bool        `json:"auto_rejected" firestore:"autoRejected"`

	CreatedAt time.Time `json:"created_at" firestore:"createdAt"`
	UpdatedAt time.Time `json:"updated_at" firestore:"updatedAt"`
}

func (o *ListingOffer) IsPending() bool {
	return o.Status == OfferStatusPending
}

// IsDueAt reports whether a pending offer's expiry has passed at now.
func (o *ListingOffer) IsDueAt(now time.Time) bool {
	return o.IsPending() && o.ExpiresAt != nil && !o.ExpiresAt.After(now)
}

// CreatorRole is the room side that created this node.
func (o *ListingOffer) CreatorRole() Role {
	if o.CreatedBy == o.SellerID {
		return RoleSeller
	}
	return RoleBuyer
}

// DiscountPercentage is (price - amount) / price * 100, rounded to two
// decimals. A zero price yields zero.
func DiscountPercentage(listingPrice, amount float64) float64 {
	if listingPrice <= 0 {
		return 0
	}
	d := (listingPrice - amount) / listingPrice * 100
	return math.Round(d*100) / 100
}

// OfferTransition describes a status change applied with compare-and-swap
// on the current status.
type OfferTransition struct {
	From            OfferStatus
	To              OfferStatus
	At              time.Time
	RejectionReason string
	AutoRejected    bool
}

// Apply mutates o as the transition describes.
func (t OfferTransition) Apply(o *ListingOffer) {
	at := t.At
	o.Status = t.To
	o.RespondedAt = &at
	o.UpdatedAt = at
	if t.RejectionReason != "" {
		o.RejectionReason = t.RejectionReason
	}
	if t.AutoRejected {
		o.AutoRejected = true
	}
}

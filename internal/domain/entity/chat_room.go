package entity

import "time"

type Role string

const (
	RoleBuyer  Role = "buyer"
	RoleSeller Role = "seller"
)

// Counterpart returns the other side of a room.
func (r Role) Counterpart() Role {
	if r == RoleBuyer {
		return RoleSeller
	}
	return RoleBuyer
}

type BlockRecord struct {
	Blocked   bool      `json:"blocked" firestore:"blocked"`
	Reason    string    `json:"reason,omitempty" firestore:"reason,omitempty"`
	BlockedAt time.Time `json:"blocked_at" firestore:"blockedAt"`
}

type ReportRecord struct {
	ReportedBy   string    `json:"reported_by" firestore:"reportedBy"`
	ReportedUser string    `json:"reported_user" firestore:"reportedUser"`
	Type         string    `json:"type" firestore:"type"`
	Reason       string    `json:"reason,omitempty" firestore:"reason,omitempty"`
	ReportedAt   time.Time `json:"reported_at" firestore:"reportedAt"`
	Status       string    `json:"status" firestore:"status"`
}

// Report types accepted by reportUser.
var ReportTypes = map[string]bool{
	"spam":          true,
	"fraud":         true,
	"harassment":    true,
	"inappropriate": true,
	"other":         true,
}

type ChatRoom struct {
	ID        string `json:"id" firestore:"id"`
	ListingID string `json:"listing_id" firestore:"listingId"`
	BuyerID   string `json:"buyer_id" firestore:"buyerId"`
	SellerID  string `json:"seller_id" firestore:"sellerId"`

	IsActive      bool       `json:"is_active" firestore:"isActive"`
	LastMessageAt *time.Time `json:"last_message_at,omitempty" firestore:"lastMessageAt,omitempty"`

	UnreadCountBuyer  int `json:"unread_count_buyer" firestore:"unreadCountBuyer"`
	UnreadCountSeller int `json:"unread_count_seller" firestore:"unreadCountSeller"`

	IsImportantBuyer  bool `json:"is_important_buyer" firestore:"isImportantBuyer"`
	IsImportantSeller bool `json:"is_important_seller" firestore:"isImportantSeller"`

	BlockedByBuyer  bool                   `json:"blocked_by_buyer" firestore:"blockedByBuyer"`
	BlockedBySeller bool                   `json:"blocked_by_seller" firestore:"blockedBySeller"`
	BlockMetadata   map[string]BlockRecord `json:"block_metadata,omitempty" firestore:"blockMetadata,omitempty"`

	ReportedByBuyer  bool           `json:"reported_by_buyer" firestore:"reportedByBuyer"`
	ReportedBySeller bool           `json:"reported_by_seller" firestore:"reportedBySeller"`
	ReportMetadata   []ReportRecord `json:"report_metadata,omitempty" firestore:"reportMetadata,omitempty"`

	BuyerRequestedContact bool `json:"buyer_requested_contact" firestore:"buyerRequestedContact"`
	SellerSharedContact   bool `json:"seller_shared_contact" firestore:"sellerSharedContact"`

	// Subscription tiers snapshotted from the user directory for list sorting.
	BuyerTier  string `json:"buyer_tier,omitempty" firestore:"buyerTier,omitempty"`
	SellerTier string `json:"seller_tier,omitempty" firestore:"sellerTier,omitempty"`

	// LastSeq is the last sequence number handed to a message or offer in
	// this room.
	LastSeq int64 `json:"-" firestore:"lastSeq"`

	CreatedAt time.Time `json:"created_at" firestore:"createdAt"`
	UpdatedAt time.Time `json:"updated_at" firestore:"updatedAt"`
}

// RoleOf resolves a user's side in the room.
func (r *ChatRoom) RoleOf(userID string) (Role, bool) {
	switch userID {
	case "":
		return "", false
	case r.BuyerID:
		return RoleBuyer, true
	case r.SellerID:
		return RoleSeller, true
	}
	return "", false
}

func (r *ChatRoom) ParticipantID(role Role) string {
	if role == RoleBuyer {
		return r.BuyerID
	}
	return r.SellerID
}

func (r *ChatRoom) IsBlocked() bool {
	return r.BlockedByBuyer || r.BlockedBySeller
}

func (r *ChatRoom) UnreadFor(role Role) int {
	if role == RoleBuyer {
		return r.UnreadCountBuyer
	}
	return r.UnreadCountSeller
}

// SetUnread stores a side's counter, flooring at zero.
func (r *ChatRoom) SetUnread(role Role, n int) {
	if n < 0 {
		n = 0
	}
	if role == RoleBuyer {
		r.UnreadCountBuyer = n
	} else {
		r.UnreadCountSeller = n
	}
}

func (r *ChatRoom) IncrementUnread(role Role) int {
	r.SetUnread(role, r.UnreadFor(role)+1)
	return r.UnreadFor(role)
}

func (r *ChatRoom) SetImportant(role Role, v bool) {
	if role == RoleBuyer {
		r.IsImportantBuyer = v
	} else {
		r.IsImportantSeller = v
	}
}

func (r *ChatRoom) IsImportantFor(role Role) bool {
	if role == RoleBuyer {
		return r.IsImportantBuyer
	}
	return r.IsImportantSeller
}

func (r *ChatRoom) SetBlocked(role Role, record BlockRecord) {
	if role == RoleBuyer {
		r.BlockedByBuyer = record.Blocked
	} else {
		r.BlockedBySeller = record.Blocked
	}
	if r.BlockMetadata == nil {
		r.BlockMetadata = make(map[string]BlockRecord)
	}
	r.BlockMetadata[string(role)] = record
}

func (r *ChatRoom) AddReport(role Role, record ReportRecord) {
	if role == RoleBuyer {
		r.ReportedByBuyer = true
	} else {
		r.ReportedBySeller = true
	}
	r.ReportMetadata = append(r.ReportMetadata, record)
}

// NextSeq advances and returns the room sequence.
func (r *ChatRoom) NextSeq() int64 {
	r.LastSeq++
	return r.LastSeq
}

// Touch records message activity on the room.
func (r *ChatRoom) Touch(at time.Time) {
	t := at
	r.LastMessageAt = &t
	r.UpdatedAt = at
}

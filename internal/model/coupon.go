package model

import (
	"time"

	"github.com/google/uuid"
)

// CouponStatus is the lifecycle state of an individual coupon.
type CouponStatus string

const (
	StatusAvailable CouponStatus = "AVAILABLE"
	StatusAssigned  CouponStatus = "ASSIGNED"
	StatusLocked    CouponStatus = "LOCKED"
	StatusRedeemed  CouponStatus = "REDEEMED"
	StatusExpired   CouponStatus = "EXPIRED"
)

// Coupon is an individual code belonging to a book. Codes are unique
// across all books so user-facing operations can look them up bare.
// Version is bumped on every mutation and backs the compare-and-set
// used by redemption.
type Coupon struct {
	ID        uuid.UUID    `json:"id"`
	BookID    uuid.UUID    `json:"coupon_book_id"`
	Code      string       `json:"code"`
	Status    CouponStatus `json:"status"`
	Version   int          `json:"-"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}

// AssignRandomRequest is the DTO for POST /coupons/assign/random.
type AssignRandomRequest struct {
	BookID string `json:"coupon_book_id" validate:"required,uuid4"`
}

// LockRequest is the DTO for POST /coupons/:code/lock. Duration is in
// seconds; zero means the configured default.
type LockRequest struct {
	Duration int `json:"duration" validate:"omitempty,gte=30,lte=600"`
}

// RedeemRequest is the DTO for POST /coupons/:code/redeem.
type RedeemRequest struct {
	Metadata map[string]any `json:"metadata"`
}

// AssignmentResponse reports a fresh binding of a coupon to a user.
type AssignmentResponse struct {
	Code       string    `json:"code"`
	BookID     uuid.UUID `json:"coupon_book_id"`
	UserID     string    `json:"user_id"`
	AssignedAt time.Time `json:"assigned_at"`
}

// LockResponse reports a successful checkout reservation.
type LockResponse struct {
	Code          string    `json:"code"`
	LockedAt      time.Time `json:"locked_at"`
	LockExpiresAt time.Time `json:"lock_expires_at"`
}

// RedeemResponse reports the outcome of a redemption.
type RedeemResponse struct {
	Code            string    `json:"code"`
	RedeemedAt      time.Time `json:"redeemed_at"`
	RedemptionCount int       `json:"redemption_count"`
	Remaining       *int      `json:"remaining,omitempty"`
	FullyRedeemed   bool      `json:"fully_redeemed"`
}

// CouponStatusResponse is the read-only projection for GET /coupons/:code/status.
type CouponStatusResponse struct {
	Code            string       `json:"code"`
	Status          CouponStatus `json:"status"`
	Owned           bool         `json:"owned"`
	Locked          bool         `json:"locked"`
	LockExpiresAt   *time.Time   `json:"lock_expires_at,omitempty"`
	RedemptionCount int          `json:"redemption_count"`
	MaxRedemptions  *int         `json:"max_redemptions,omitempty"`
	ValidUntil      time.Time    `json:"valid_until"`
}

// UserCoupon is one entry of a user's coupon listing.
type UserCoupon struct {
	Code            string       `json:"code"`
	Status          CouponStatus `json:"status"`
	BookName        string       `json:"book_name"`
	AssignedAt      time.Time    `json:"assigned_at"`
	RedeemedAt      *time.Time   `json:"redeemed_at,omitempty"`
	RedemptionCount int          `json:"redemption_count"`
}

// UserCouponsResponse is the DTO for GET /coupons/my-coupons.
type UserCouponsResponse struct {
	Items      []UserCoupon `json:"items"`
	Pagination Pagination   `json:"pagination"`
}

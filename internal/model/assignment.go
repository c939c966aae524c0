package model

import (
	"time"

	"github.com/google/uuid"
)

// CouponAssignment binds a coupon to a user and carries the redemption
// counters and checkout lock state. At most one row exists per
// (coupon, user); rows are never deleted, so counting them caps
// historical as well as current bindings.
type CouponAssignment struct {
	ID              uuid.UUID      `json:"id"`
	CouponID        uuid.UUID      `json:"coupon_id"`
	UserID          string         `json:"user_id"`
	AssignedAt      time.Time      `json:"assigned_at"`
	LockedAt        *time.Time     `json:"locked_at,omitempty"`
	LockExpiresAt   *time.Time     `json:"lock_expires_at,omitempty"`
	RedeemedAt      *time.Time     `json:"redeemed_at,omitempty"`
	RedemptionCount int            `json:"redemption_count"`
	Metadata        map[string]any `json:"metadata,omitempty"`
}

// LockActive reports whether the checkout reservation is still live.
func (a *CouponAssignment) LockActive(now time.Time) bool {
	return a.LockExpiresAt != nil && a.LockExpiresAt.After(now)
}

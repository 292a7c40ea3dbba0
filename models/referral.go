package models

import "time"

// ReferralStatus is the lifecycle state of a referral relationship.
// Transitions are forward-only: pending → completed → rewarded.
type ReferralStatus string

const (
	ReferralStatusPending   ReferralStatus = "pending"
	ReferralStatusCompleted ReferralStatus = "completed"
	ReferralStatusRewarded  ReferralStatus = "rewarded"
)

// Referral tracks one referral relationship and its reward state.
// The record's own ID doubles as the ledger dedup key for the referrer's
// reward grant, so the reward can fire at most once per referral.
type Referral struct {
	ID             string         `gorm:"primaryKey;size:36" json:"id"`
	ReferralCode   string         `gorm:"uniqueIndex;not null" json:"referral_code"`
	ReferrerUserID string         `gorm:"index;not null" json:"referrer_user_id"`
	RefereeUserID  *string        `gorm:"index" json:"referee_user_id,omitempty"` // set once the referee registers
	Status         ReferralStatus `gorm:"not null;default:'pending'" json:"status"`
	CompletedAt    *time.Time     `json:"completed_at,omitempty"`
	RewardedAt     *time.Time     `json:"rewarded_at,omitempty"`

	Timestamps
}

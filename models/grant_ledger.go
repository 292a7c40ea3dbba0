package models

import "time"

// GrantChannel is the acquisition method behind a grant.
type GrantChannel string

const (
	ChannelPayment  GrantChannel = "payment"
	ChannelAdWatch  GrantChannel = "ad_watch"
	ChannelReferral GrantChannel = "referral"
	ChannelAdmin    GrantChannel = "admin"
)

// Valid reports whether ch is a known grant channel.
func (ch GrantChannel) Valid() bool {
	switch ch {
	case ChannelPayment, ChannelAdWatch, ChannelReferral, ChannelAdmin:
		return true
	default:
		return false
	}
}

// GrantLedgerEntry is the append-only audit record of one applied grant.
// Rows are created once and never updated or deleted. The unique DedupKey
// is what makes grant application idempotent under at-least-once delivery:
// a second insert with the same key is rejected by the store.
type GrantLedgerEntry struct {
	ID                string       `gorm:"primaryKey;size:36" json:"id"`
	DedupKey          string       `gorm:"uniqueIndex;not null" json:"dedup_key"` // ad impression id, payment session id, referral id, admin action id
	UserID            string       `gorm:"index;not null" json:"user_id"`
	Channel           GrantChannel `gorm:"not null" json:"channel"`
	DurationSecs      int64        `gorm:"not null" json:"duration_secs"` // 0 for admin revoke
	PlanLabel         string       `json:"plan_label,omitempty"`
	PreviousExpiresAt *time.Time   `json:"previous_expires_at,omitempty"`
	NewExpiresAt      time.Time    `gorm:"not null" json:"new_expires_at"`
	GrantedAt         time.Time    `gorm:"not null;index" json:"granted_at"`
}

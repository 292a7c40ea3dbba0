package models

import (
	"time"

	"gorm.io/gorm"
)

// AcquisitionSource reflects the channel of the most recent grant that
// touched a user's entitlement.
type AcquisitionSource string

const (
	SourcePayment  AcquisitionSource = "payment"
	SourceAdWatch  AcquisitionSource = "ad_watch"
	SourceReferral AcquisitionSource = "referral"
	SourceAdmin    AcquisitionSource = "admin"
	SourceNone     AcquisitionSource = "none"
)

// UserEntitlement is the single authoritative VIP record per user.
// Whether VIP is active is always derived from VipExpiresAt against the
// current time — there is deliberately no stored "is_vip" boolean.
type UserEntitlement struct {
	ID                string            `gorm:"primaryKey;size:36" json:"id"`
	UserID            string            `gorm:"uniqueIndex;not null" json:"user_id"` // owned by the account system
	VipExpiresAt      *time.Time        `json:"vip_expires_at,omitempty"`
	AcquisitionSource AcquisitionSource `gorm:"not null;default:'none'" json:"acquisition_source"`
	PlanLabel         string            `json:"plan_label,omitempty"` // payment grants only, e.g. "monthly"
	NotifiedExpiring  bool              `gorm:"default:false" json:"-"`

	// Version guards concurrent read-modify-write cycles on the record.
	Version int64 `gorm:"not null;default:0" json:"-"`

	Timestamps
}

// Timestamps adds GORM auto-times
type Timestamps struct {
	CreatedAt time.Time      `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time      `json:"updated_at" gorm:"autoUpdateTime"`
	DeletedAt gorm.DeletedAt `json:"deleted_at,omitempty" gorm:"index"`
}

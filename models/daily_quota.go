package models

// DailyQuotaCounter counts channel-scoped events (e.g. rewarded ads watched)
// within one UTC day. A fresh row is created per (user, channel, day bucket)
// so counts can never leak across days. Once RewardIssued flips true the
// bucket never issues again, no matter how many more events arrive.
type DailyQuotaCounter struct {
	ID                 string       `gorm:"primaryKey;size:36" json:"id"`
	UserID             string       `gorm:"not null;uniqueIndex:idx_quota_bucket" json:"user_id"`
	Channel            GrantChannel `gorm:"not null;uniqueIndex:idx_quota_bucket" json:"channel"`
	DayBucket          string       `gorm:"not null;uniqueIndex:idx_quota_bucket" json:"day_bucket"` // UTC date, "2006-01-02"
	CountSoFar         int          `gorm:"not null;default:0" json:"count_so_far"`
	RequiredCount      int          `gorm:"not null" json:"required_count"`
	RewardDurationSecs int64        `gorm:"not null" json:"reward_duration_secs"`
	RewardIssued       bool         `gorm:"not null;default:false" json:"reward_issued"`

	Timestamps
}

// QuotaEvent records a single qualifying event (one ad impression) inside a
// day bucket. The unique index is the store-level guard against replaying
// the same callback to inflate the count.
type QuotaEvent struct {
	ID        string       `gorm:"primaryKey;size:36" json:"id"`
	UserID    string       `gorm:"not null;uniqueIndex:idx_quota_event" json:"user_id"`
	Channel   GrantChannel `gorm:"not null;uniqueIndex:idx_quota_event" json:"channel"`
	DayBucket string       `gorm:"not null;uniqueIndex:idx_quota_event" json:"day_bucket"`
	EventID   string       `gorm:"not null;uniqueIndex:idx_quota_event" json:"event_id"`

	Timestamps
}

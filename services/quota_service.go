package services

import (
	"errors"
	"fmt"
	"time"

	"vip-entitlement-service/logger"
	"vip-entitlement-service/models"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// QuotaResult is what one recorded event did to the day's counter.
// DayBucket is the bucket the event was counted in; the grant dedup key must
// be built from it, never from a fresh clock read, or a callback processed
// across UTC midnight lands its reward under the wrong day.
type QuotaResult struct {
	CountSoFar    int    `json:"count_so_far"`
	RequiredCount int    `json:"required_count"`
	DayBucket     string `json:"day_bucket"`
	JustCompleted bool   `json:"just_completed"` // true exactly once per day bucket
	RewardIssued  bool   `json:"reward_issued"`  // bucket has completed (this event or earlier)
	Duplicate     bool   `json:"duplicate"`
}

type QuotaService struct {
	DB    *gorm.DB
	Clock clockwork.Clock

	RequiredCount  int           // qualifying events needed per UTC day
	RewardDuration time.Duration // VIP granted when the quota completes
}

func NewQuotaService(db *gorm.DB, clock clockwork.Clock, required int, reward time.Duration) *QuotaService {
	return &QuotaService{DB: db, Clock: clock, RequiredCount: required, RewardDuration: reward}
}

// DayBucket returns the UTC calendar date scoping a quota counter.
func DayBucket(now time.Time) string {
	return now.UTC().Format("2006-01-02")
}

// RecordEvent counts one qualifying event (an ad impression) against the
// user's daily quota. The event id is deduplicated at the store layer, so a
// replayed callback from a second browser tab cannot inflate the count, and
// the increment plus counter creation happen in one transaction.
func (s *QuotaService) RecordEvent(userID string, channel models.GrantChannel, eventID string) (*QuotaResult, error) {
	if userID == "" || eventID == "" {
		return nil, fmt.Errorf("%w: user id and event id are required", ErrInvalidRequest)
	}
	if !channel.Valid() {
		return nil, fmt.Errorf("%w: unknown channel %q", ErrInvalidRequest, channel)
	}

	bucket := DayBucket(s.Clock.Now())

	var result QuotaResult
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		event := models.QuotaEvent{
			ID:        uuid.NewString(),
			UserID:    userID,
			Channel:   channel,
			DayBucket: bucket,
			EventID:   eventID,
		}
		ins := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&event)
		if ins.Error != nil {
			return ins.Error
		}

		counter, err := s.ensureCounter(tx, userID, channel, bucket)
		if err != nil {
			return err
		}

		if ins.RowsAffected == 0 {
			// replayed event id: report the current state, change nothing
			result = QuotaResult{
				CountSoFar:    counter.CountSoFar,
				RequiredCount: counter.RequiredCount,
				DayBucket:     bucket,
				RewardIssued:  counter.RewardIssued,
				Duplicate:     true,
			}
			return nil
		}

		// increment in the store, not read-then-write, so two distinct events
		// racing through concurrent transactions cannot lose a count
		if err := tx.Model(&models.DailyQuotaCounter{}).
			Where("id = ?", counter.ID).
			UpdateColumn("count_so_far", gorm.Expr("count_so_far + ?", 1)).Error; err != nil {
			return err
		}
		if err := tx.First(counter, "id = ?", counter.ID).Error; err != nil {
			return err
		}

		justCompleted := false
		if counter.CountSoFar >= counter.RequiredCount && !counter.RewardIssued {
			res := tx.Model(&models.DailyQuotaCounter{}).
				Where("id = ? AND reward_issued = ?", counter.ID, false).
				Update("reward_issued", true)
			if res.Error != nil {
				return res.Error
			}
			justCompleted = res.RowsAffected > 0
			counter.RewardIssued = true
		}

		result = QuotaResult{
			CountSoFar:    counter.CountSoFar,
			RequiredCount: counter.RequiredCount,
			DayBucket:     bucket,
			JustCompleted: justCompleted,
			RewardIssued:  counter.RewardIssued,
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	if result.JustCompleted {
		logger.Info("daily quota completed",
			zap.String("user_id", userID),
			zap.String("channel", string(channel)),
			zap.String("day_bucket", bucket),
		)
	}
	return &result, nil
}

// Remaining reports how many qualifying events the user still needs today.
func (s *QuotaService) Remaining(userID string, channel models.GrantChannel) (*QuotaResult, error) {
	bucket := DayBucket(s.Clock.Now())

	var counter models.DailyQuotaCounter
	err := s.DB.Where("user_id = ? AND channel = ? AND day_bucket = ?", userID, channel, bucket).
		First(&counter).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &QuotaResult{CountSoFar: 0, RequiredCount: s.RequiredCount, DayBucket: bucket}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return &QuotaResult{
		CountSoFar:    counter.CountSoFar,
		RequiredCount: counter.RequiredCount,
		DayBucket:     bucket,
		RewardIssued:  counter.RewardIssued,
	}, nil
}

func (s *QuotaService) ensureCounter(tx *gorm.DB, userID string, channel models.GrantChannel, bucket string) (*models.DailyQuotaCounter, error) {
	var counter models.DailyQuotaCounter
	err := tx.Where("user_id = ? AND channel = ? AND day_bucket = ?", userID, channel, bucket).
		First(&counter).Error
	if err == nil {
		return &counter, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	counter = models.DailyQuotaCounter{
		ID:                 uuid.NewString(),
		UserID:             userID,
		Channel:            channel,
		DayBucket:          bucket,
		RequiredCount:      s.RequiredCount,
		RewardDurationSecs: int64(s.RewardDuration / time.Second),
	}
	res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&counter)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		if err := tx.Where("user_id = ? AND channel = ? AND day_bucket = ?", userID, channel, bucket).
			First(&counter).Error; err != nil {
			return nil, err
		}
	}
	return &counter, nil
}

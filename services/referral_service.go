package services

import (
	"errors"
	"fmt"
	"strings"

	"vip-entitlement-service/logger"
	"vip-entitlement-service/models"

	"github.com/google/uuid"
	"github.com/gosimple/slug"
	"github.com/gosimple/unidecode"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ReferralStats summarizes a referrer's activity.
type ReferralStats struct {
	Total     int64 `json:"total"`
	Completed int64 `json:"completed"`
	Rewarded  int64 `json:"rewarded"`
}

type ReferralService struct {
	DB    *gorm.DB
	Clock clockwork.Clock
}

func NewReferralService(db *gorm.DB, clock clockwork.Clock) *ReferralService {
	return &ReferralService{DB: db, Clock: clock}
}

// NormalizeCode maps user-entered codes onto the stored form: transliterated
// to ASCII, lowercased, surrounding whitespace dropped.
func NormalizeCode(code string) string {
	return strings.ToLower(strings.TrimSpace(unidecode.Unidecode(code)))
}

// GetOrCreateCode returns the referrer's open referral code, issuing a new
// pending record when none exists. The code stays stable until a referee
// completes it; a fresh one is issued for the next referral after that.
func (s *ReferralService) GetOrCreateCode(userID, displayName string) (*models.Referral, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrInvalidRequest)
	}

	var ref models.Referral
	err := s.DB.Where("referrer_user_id = ? AND status = ?", userID, models.ReferralStatusPending).
		Order("created_at ASC").
		First(&ref).Error
	if err == nil {
		return &ref, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	ref = models.Referral{
		ID:             uuid.NewString(),
		ReferralCode:   newReferralCode(displayName),
		ReferrerUserID: userID,
		Status:         models.ReferralStatusPending,
	}
	if err := s.DB.Create(&ref).Error; err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	logger.Info("referral code issued",
		zap.String("user_id", userID),
		zap.String("code", ref.ReferralCode),
	)
	return &ref, nil
}

// MarkCompleted flags a referral completed exactly once. A second delivery of
// the same registration event returns the existing record with
// alreadyCompleted=true and changes nothing; callers inspect the returned
// status to decide whether the referrer's reward still needs driving.
func (s *ReferralService) MarkCompleted(code, refereeUserID string) (*models.Referral, bool, error) {
	if refereeUserID == "" {
		return nil, false, fmt.Errorf("%w: referee user id is required", ErrInvalidRequest)
	}
	code = NormalizeCode(code)
	if code == "" {
		return nil, false, fmt.Errorf("%w: referral code is required", ErrInvalidRequest)
	}

	now := s.Clock.Now().UTC()

	var ref models.Referral
	var alreadyCompleted bool
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("referral_code = ?", code).First(&ref).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}
		if ref.ReferrerUserID == refereeUserID {
			// self-referral: treat as an unknown code
			return ErrNotFound
		}
		if ref.RefereeUserID != nil && *ref.RefereeUserID != refereeUserID {
			return ErrNotFound
		}

		if ref.Status != models.ReferralStatusPending {
			alreadyCompleted = true
			return nil
		}

		ref.Status = models.ReferralStatusCompleted
		ref.RefereeUserID = &refereeUserID
		ref.CompletedAt = &now
		return tx.Save(&ref).Error
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, false, ErrNotFound
		}
		return nil, false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	if !alreadyCompleted {
		logger.Info("referral completed",
			zap.String("referral_id", ref.ID),
			zap.String("referrer_user_id", ref.ReferrerUserID),
			zap.String("referee_user_id", refereeUserID),
		)
	}
	return &ref, alreadyCompleted, nil
}

// MarkRewarded advances completed → rewarded after the referrer's grant has
// been applied. Forward-only: any other starting state is left untouched.
func (s *ReferralService) MarkRewarded(referralID string) error {
	now := s.Clock.Now().UTC()
	res := s.DB.Model(&models.Referral{}).
		Where("id = ? AND status = ?", referralID, models.ReferralStatusCompleted).
		Updates(map[string]interface{}{
			"status":      models.ReferralStatusRewarded,
			"rewarded_at": now,
		})
	if res.Error != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, res.Error)
	}
	return nil
}

// StatsFor counts a referrer's referral records by state.
func (s *ReferralService) StatsFor(userID string) (*ReferralStats, error) {
	var stats ReferralStats
	base := s.DB.Model(&models.Referral{}).Where("referrer_user_id = ?", userID)

	if err := base.Session(&gorm.Session{}).Count(&stats.Total).Error; err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if err := base.Session(&gorm.Session{}).
		Where("status IN ?", []models.ReferralStatus{models.ReferralStatusCompleted, models.ReferralStatusRewarded}).
		Count(&stats.Completed).Error; err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if err := base.Session(&gorm.Session{}).
		Where("status = ?", models.ReferralStatusRewarded).
		Count(&stats.Rewarded).Error; err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return &stats, nil
}

// newReferralCode builds a readable, collision-proof code like "jane-d4f81c".
func newReferralCode(displayName string) string {
	base := slug.Make(displayName)
	if base == "" {
		base = "ref"
	}
	if len(base) > 16 {
		base = base[:16]
	}
	return fmt.Sprintf("%s-%s", base, uuid.NewString()[:6])
}

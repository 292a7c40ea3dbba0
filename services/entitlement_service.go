package services

import (
	"errors"
	"fmt"
	"math"
	"time"

	"vip-entitlement-service/logger"
	"vip-entitlement-service/models"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GrantRequest is one application of additional VIP duration to a user,
// originating from a single channel. DedupKey must identify the physical
// event behind the grant (payment session id, referral record id, ad-quota
// day bucket, admin action id).
type GrantRequest struct {
	UserID    string
	Channel   models.GrantChannel
	DedupKey  string
	Duration  time.Duration
	PlanLabel string // payment channel only
}

// EntitlementStatus is the user-facing view of the VIP window.
type EntitlementStatus struct {
	Active        bool                     `json:"active"`
	ExpiresAt     *time.Time               `json:"expires_at,omitempty"`
	DaysRemaining int                      `json:"days_remaining"`
	Source        models.AcquisitionSource `json:"source"`
	PlanLabel     string                   `json:"plan_label,omitempty"`
}

// errDuplicateDelivery signals that a concurrent request with the same dedup
// key won the ledger insert race. Internal to Grant; never escapes.
var errDuplicateDelivery = errors.New("duplicate delivery")

type EntitlementService struct {
	DB    *gorm.DB
	Clock clockwork.Clock
}

func NewEntitlementService(db *gorm.DB, clock clockwork.Clock) *EntitlementService {
	return &EntitlementService{DB: db, Clock: clock}
}

// Grant validates, dedups and applies one grant, returning the resulting
// status. Calling it again with the same dedup key returns the status of the
// original application without touching the expiry — duplicate webhook
// deliveries and double-clicked ad callbacks never double-credit a user.
func (s *EntitlementService) Grant(req GrantRequest) (*EntitlementStatus, error) {
	if req.UserID == "" || req.DedupKey == "" {
		return nil, fmt.Errorf("%w: user id and dedup key are required", ErrInvalidRequest)
	}
	if !req.Channel.Valid() {
		return nil, fmt.Errorf("%w: unknown channel %q", ErrInvalidRequest, req.Channel)
	}
	if req.Duration <= 0 {
		return nil, fmt.Errorf("%w: duration must be positive", ErrInvalidRequest)
	}

	now := s.Clock.Now().UTC()

	// Fast path: a retried delivery hits the ledger before any write.
	if entry, err := s.findLedgerEntry(req.DedupKey); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	} else if entry != nil {
		return s.statusFromEntry(entry, now), nil
	}

	planLabel := ""
	if req.Channel == models.ChannelPayment {
		planLabel = req.PlanLabel
	}

	var status *EntitlementStatus
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		ent, err := ensureEntitlement(tx, req.UserID)
		if err != nil {
			return err
		}

		newExpiry := ResolveExpiry(ent.VipExpiresAt, req.Duration, now)

		res := tx.Model(&models.UserEntitlement{}).
			Where("id = ? AND version = ?", ent.ID, ent.Version).
			Updates(map[string]interface{}{
				"vip_expires_at":     newExpiry,
				"acquisition_source": models.AcquisitionSource(req.Channel),
				"plan_label":         planLabel,
				"notified_expiring":  false,
				"version":            ent.Version + 1,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrConflict
		}

		entry := models.GrantLedgerEntry{
			ID:                uuid.NewString(),
			DedupKey:          req.DedupKey,
			UserID:            req.UserID,
			Channel:           req.Channel,
			DurationSecs:      int64(req.Duration / time.Second),
			PlanLabel:         planLabel,
			PreviousExpiresAt: ent.VipExpiresAt,
			NewExpiresAt:      newExpiry,
			GrantedAt:         now,
		}
		ins := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&entry)
		if ins.Error != nil {
			return ins.Error
		}
		if ins.RowsAffected == 0 {
			// A concurrent request with the same dedup key committed first.
			// Roll back our expiry update and replay theirs.
			return errDuplicateDelivery
		}

		status = &EntitlementStatus{
			Active:        newExpiry.After(now),
			ExpiresAt:     &newExpiry,
			DaysRemaining: daysRemaining(newExpiry, now),
			Source:        models.AcquisitionSource(req.Channel),
			PlanLabel:     planLabel,
		}
		return nil
	})

	switch {
	case err == nil:
		logger.Info("vip grant applied",
			zap.String("user_id", req.UserID),
			zap.String("channel", string(req.Channel)),
			zap.String("dedup_key", req.DedupKey),
			zap.Duration("duration", req.Duration),
			zap.Timep("expires_at", status.ExpiresAt),
		)
		return status, nil
	case errors.Is(err, errDuplicateDelivery):
		entry, lookupErr := s.findLedgerEntry(req.DedupKey)
		if lookupErr != nil || entry == nil {
			return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, lookupErr)
		}
		return s.statusFromEntry(entry, now), nil
	case errors.Is(err, ErrConflict):
		return nil, ErrConflict
	default:
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
}

// GetStatus derives the current entitlement from the stored expiry. Active is
// always recomputed against now; a stale cached flag can never drift.
func (s *EntitlementService) GetStatus(userID string, now time.Time) (*EntitlementStatus, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrInvalidRequest)
	}
	var ent models.UserEntitlement
	err := s.DB.Where("user_id = ?", userID).First(&ent).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &EntitlementStatus{Active: false, Source: models.SourceNone}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	status := &EntitlementStatus{
		Active:    ent.VipExpiresAt != nil && ent.VipExpiresAt.After(now),
		ExpiresAt: ent.VipExpiresAt,
		Source:    ent.AcquisitionSource,
		PlanLabel: ent.PlanLabel,
	}
	if ent.VipExpiresAt != nil {
		status.DaysRemaining = daysRemaining(*ent.VipExpiresAt, now)
	}
	return status, nil
}

// Revoke is the one operation allowed to move VipExpiresAt backwards: it ends
// the entitlement at now. Not a grant — it bypasses the resolver entirely —
// but it is still audited and idempotent via the admin action id.
func (s *EntitlementService) Revoke(userID, adminActionID string) (*EntitlementStatus, error) {
	if userID == "" || adminActionID == "" {
		return nil, fmt.Errorf("%w: user id and action id are required", ErrInvalidRequest)
	}

	now := s.Clock.Now().UTC()

	if entry, err := s.findLedgerEntry(adminActionID); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	} else if entry != nil {
		return s.statusFromEntry(entry, now), nil
	}

	err := s.DB.Transaction(func(tx *gorm.DB) error {
		ent, err := ensureEntitlement(tx, userID)
		if err != nil {
			return err
		}

		res := tx.Model(&models.UserEntitlement{}).
			Where("id = ? AND version = ?", ent.ID, ent.Version).
			Updates(map[string]interface{}{
				"vip_expires_at":     now,
				"acquisition_source": models.SourceAdmin,
				"plan_label":         "",
				"version":            ent.Version + 1,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrConflict
		}

		entry := models.GrantLedgerEntry{
			ID:                uuid.NewString(),
			DedupKey:          adminActionID,
			UserID:            userID,
			Channel:           models.ChannelAdmin,
			DurationSecs:      0,
			PreviousExpiresAt: ent.VipExpiresAt,
			NewExpiresAt:      now,
			GrantedAt:         now,
		}
		ins := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&entry)
		if ins.Error != nil {
			return ins.Error
		}
		if ins.RowsAffected == 0 {
			return errDuplicateDelivery
		}
		return nil
	})

	switch {
	case err == nil, errors.Is(err, errDuplicateDelivery):
		logger.Info("vip revoked",
			zap.String("user_id", userID),
			zap.String("action_id", adminActionID),
		)
		return &EntitlementStatus{Active: false, ExpiresAt: &now, Source: models.SourceAdmin}, nil
	case errors.Is(err, ErrConflict):
		return nil, ErrConflict
	default:
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
}

// LedgerForUser returns the newest ledger entries for one user (audit view).
func (s *EntitlementService) LedgerForUser(userID string, limit int) ([]models.GrantLedgerEntry, error) {
	if limit < 1 || limit > 200 {
		limit = 50
	}
	var entries []models.GrantLedgerEntry
	err := s.DB.Where("user_id = ?", userID).
		Order("granted_at DESC").
		Limit(limit).
		Find(&entries).Error
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return entries, nil
}

func (s *EntitlementService) findLedgerEntry(dedupKey string) (*models.GrantLedgerEntry, error) {
	var entry models.GrantLedgerEntry
	err := s.DB.Where("dedup_key = ?", dedupKey).First(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

func (s *EntitlementService) statusFromEntry(entry *models.GrantLedgerEntry, now time.Time) *EntitlementStatus {
	expiresAt := entry.NewExpiresAt
	return &EntitlementStatus{
		Active:        expiresAt.After(now),
		ExpiresAt:     &expiresAt,
		DaysRemaining: daysRemaining(expiresAt, now),
		Source:        models.AcquisitionSource(entry.Channel),
		PlanLabel:     entry.PlanLabel,
	}
}

// ensureEntitlement loads the user's entitlement row, creating an empty one
// on first contact (idempotent under concurrent callers).
func ensureEntitlement(tx *gorm.DB, userID string) (*models.UserEntitlement, error) {
	var ent models.UserEntitlement
	err := tx.Where("user_id = ?", userID).First(&ent).Error
	if err == nil {
		return &ent, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	ent = models.UserEntitlement{
		ID:                uuid.NewString(),
		UserID:            userID,
		AcquisitionSource: models.SourceNone,
	}
	res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&ent)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		// lost the creation race, read the winner
		if err := tx.Where("user_id = ?", userID).First(&ent).Error; err != nil {
			return nil, err
		}
	}
	return &ent, nil
}

func daysRemaining(expiresAt, now time.Time) int {
	if !expiresAt.After(now) {
		return 0
	}
	return int(math.Ceil(expiresAt.Sub(now).Hours() / 24))
}

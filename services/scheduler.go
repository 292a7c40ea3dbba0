package services

import (
	"time"

	"vip-entitlement-service/logger"
	"vip-entitlement-service/models"

	"github.com/go-co-op/gocron/v2"
	"go.uber.org/zap"
)

// StartExpirySweep runs SweepExpiring hourly on the service's clock.
func (s *EntitlementService) StartExpirySweep(notifyBefore time.Duration) {
	sched, err := gocron.NewScheduler(gocron.WithClock(s.Clock))
	if err != nil {
		logger.Error("expiry sweep scheduler init failed", zap.Error(err))
		return
	}
	sched.Start()

	_, err = sched.NewJob(
		gocron.DurationJob(1*time.Hour),
		gocron.NewTask(func() {
			s.SweepExpiring(notifyBefore)
		}),
	)
	if err != nil {
		logger.Error("expiry sweep job registration failed", zap.Error(err))
	}
}

// SweepExpiring flags VIPs expiring within notifyBefore of now. The flag keeps
// the sweep one-shot per grant; any new grant clears it again. Actual delivery
// of the notification is an external concern; the sweep only marks and logs.
// Returns how many entitlements were newly flagged.
func (s *EntitlementService) SweepExpiring(notifyBefore time.Duration) int {
	now := s.Clock.Now().UTC()
	soon := now.Add(notifyBefore)

	var expiring []models.UserEntitlement
	err := s.DB.Where(
		"vip_expires_at IS NOT NULL AND vip_expires_at > ? AND vip_expires_at <= ? AND notified_expiring = ?",
		now, soon, false,
	).Find(&expiring).Error
	if err != nil {
		logger.Error("expiry sweep query failed", zap.Error(err))
		return 0
	}

	flagged := 0
	for _, ent := range expiring {
		res := s.DB.Model(&models.UserEntitlement{}).
			Where("id = ? AND notified_expiring = ?", ent.ID, false).
			Update("notified_expiring", true)
		if res.Error != nil {
			logger.Error("expiry sweep flag update failed",
				zap.String("user_id", ent.UserID), zap.Error(res.Error))
			continue
		}
		if res.RowsAffected > 0 {
			flagged++
			logger.Info("vip expiring soon",
				zap.String("user_id", ent.UserID),
				zap.Timep("expires_at", ent.VipExpiresAt),
			)
		}
	}
	return flagged
}

// handlers/referral_routes.go
package handlers

import (
	"time"

	"vip-entitlement-service/logger"
	"vip-entitlement-service/middleware"
	"vip-entitlement-service/models"
	"vip-entitlement-service/services"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// SetupReferralRoutes wires code issuing, stats and the registration-completed
// callback. referralReward is the VIP duration the referrer earns per
// completed referral.
func SetupReferralRoutes(app *fiber.App, refSvc *services.ReferralService, entSvc *services.EntitlementService, referralReward time.Duration) {
	secured := app.Group("/s", middleware.UserContextMiddleware())

	secured.Get("/user/referral/code", func(c *fiber.Ctx) error {
		userID := c.Locals("user_id").(string)
		displayName := c.Get("X-User-Name", userID)

		ref, err := refSvc.GetOrCreateCode(userID, displayName)
		if err != nil {
			return httpError(c, err)
		}
		return c.JSON(fiber.Map{"referral_code": ref.ReferralCode})
	})

	secured.Get("/user/referral/stats", func(c *fiber.Ctx) error {
		userID := c.Locals("user_id").(string)

		stats, err := refSvc.StatsFor(userID)
		if err != nil {
			return httpError(c, err)
		}
		return c.JSON(stats)
	})

	// Called once the referee finishes registration. Repeated deliveries are
	// absorbed by MarkCompleted; the reward grant is keyed on the referral
	// record id so it fires at most once per referral.
	secured.Post("/user/referral/complete", func(c *fiber.Ctx) error {
		refereeUserID := c.Locals("user_id").(string)

		var req struct {
			Code string `json:"code"`
		}
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
		}

		ref, alreadyCompleted, err := refSvc.MarkCompleted(req.Code, refereeUserID)
		if err != nil {
			return httpError(c, err)
		}

		// A referral that is completed but not yet rewarded still owes the
		// referrer a grant: if a previous attempt failed after MarkCompleted,
		// the retried callback must re-drive it. The referral id as dedup key
		// keeps the reward single-fire no matter how often this runs.
		if !alreadyCompleted || ref.Status == models.ReferralStatusCompleted {
			if _, err := entSvc.Grant(services.GrantRequest{
				UserID:   ref.ReferrerUserID,
				Channel:  models.ChannelReferral,
				DedupKey: ref.ID,
				Duration: referralReward,
			}); err != nil {
				logger.Error("referral reward grant failed",
					zap.String("referral_id", ref.ID), zap.Error(err))
				return httpError(c, err)
			}
			if err := refSvc.MarkRewarded(ref.ID); err != nil {
				logger.Error("referral reward state update failed",
					zap.String("referral_id", ref.ID), zap.Error(err))
			}
		}

		return c.JSON(fiber.Map{
			"status":            "completed",
			"already_completed": alreadyCompleted,
		})
	})
}

// handlers/entitlement_routes.go
package handlers

import (
	"errors"
	"fmt"

	"vip-entitlement-service/middleware"
	"vip-entitlement-service/models"
	"vip-entitlement-service/services"

	"github.com/gofiber/fiber/v2"
)

// httpError maps the service error taxonomy onto HTTP. Internal detail stays
// in the logs; the client always gets a generic, retriable-or-not answer.
func httpError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, services.ErrInvalidRequest):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request"})
	case errors.Is(err, services.ErrNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not found"})
	case errors.Is(err, services.ErrConflict):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "please retry"})
	default:
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "could not apply reward, please try again"})
	}
}

// SetupEntitlementRoutes wires the VIP status query and the ad-watch callback.
func SetupEntitlementRoutes(app *fiber.App, entSvc *services.EntitlementService, quotaSvc *services.QuotaService) {
	secured := app.Group("/s", middleware.UserContextMiddleware())

	secured.Get("/user/vip/status", func(c *fiber.Ctx) error {
		userID := c.Locals("user_id").(string)

		status, err := entSvc.GetStatus(userID, entSvc.Clock.Now().UTC())
		if err != nil {
			return httpError(c, err)
		}
		return c.JSON(status)
	})

	// Ad-watch callback: one request per finished rewarded ad. The client may
	// fire this more than once per impression; event_id dedup absorbs that.
	secured.Post("/user/vip/ad-watch", func(c *fiber.Ctx) error {
		userID := c.Locals("user_id").(string)

		var req struct {
			EventID string `json:"event_id"`
		}
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
		}

		result, err := quotaSvc.RecordEvent(userID, models.ChannelAdWatch, req.EventID)
		if err != nil {
			return httpError(c, err)
		}

		resp := fiber.Map{
			"count_so_far":   result.CountSoFar,
			"required_count": result.RequiredCount,
			"reward_granted": false,
		}

		if result.RewardIssued {
			// The dedup key comes from the bucket the quota completed in, not
			// a fresh clock read: a callback straddling UTC midnight must not
			// land its reward under the next day's key. Granting on every
			// completed-bucket event (not only the completing one) lets a
			// replayed callback re-drive a grant that failed mid-flight; the
			// ledger key keeps the reward single-fire.
			dedupKey := fmt.Sprintf("adwatch:%s:%s", result.DayBucket, userID)
			status, err := entSvc.Grant(services.GrantRequest{
				UserID:   userID,
				Channel:  models.ChannelAdWatch,
				DedupKey: dedupKey,
				Duration: quotaSvc.RewardDuration,
			})
			if err != nil {
				return httpError(c, err)
			}
			resp["reward_granted"] = true
			resp["vip"] = status
		}

		return c.JSON(resp)
	})

	secured.Get("/user/vip/ad-watch/remaining", func(c *fiber.Ctx) error {
		userID := c.Locals("user_id").(string)

		result, err := quotaSvc.Remaining(userID, models.ChannelAdWatch)
		if err != nil {
			return httpError(c, err)
		}
		return c.JSON(result)
	})
}

// handlers/admin_routes.go
package handlers

import (
	"time"

	"vip-entitlement-service/logger"
	"vip-entitlement-service/middleware"
	"vip-entitlement-service/models"
	"vip-entitlement-service/services"

	"github.com/gofiber/fiber/v2"
)

// SetupAdminRoutes wires operator grant, revoke and ledger inspection.
func SetupAdminRoutes(app *fiber.App, entSvc *services.EntitlementService) {
	admin := app.Group("/s/admin", middleware.UserContextMiddleware(), middleware.RequireAdmin())

	admin.Post("/vip/grant", func(c *fiber.Ctx) error {
		adminID := c.Locals("user_id").(string)

		var req struct {
			UserID   string `json:"user_id"`
			Hours    int    `json:"hours"`
			ActionID string `json:"action_id"`
		}
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
		}

		status, err := entSvc.Grant(services.GrantRequest{
			UserID:   req.UserID,
			Channel:  models.ChannelAdmin,
			DedupKey: req.ActionID,
			Duration: time.Duration(req.Hours) * time.Hour,
		})
		if err != nil {
			return httpError(c, err)
		}

		logger.AdminAction(adminID, "vip_grant", req.UserID, req.ActionID)
		return c.JSON(status)
	})

	admin.Post("/vip/revoke", func(c *fiber.Ctx) error {
		adminID := c.Locals("user_id").(string)

		var req struct {
			UserID   string `json:"user_id"`
			ActionID string `json:"action_id"`
		}
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
		}

		status, err := entSvc.Revoke(req.UserID, req.ActionID)
		if err != nil {
			return httpError(c, err)
		}

		logger.AdminAction(adminID, "vip_revoke", req.UserID, req.ActionID)
		return c.JSON(status)
	})

	admin.Get("/vip/ledger", func(c *fiber.Ctx) error {
		userID := c.Query("user_id")
		if userID == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "user_id query parameter required"})
		}
		limit := c.QueryInt("limit", 50)

		entries, err := entSvc.LedgerForUser(userID, limit)
		if err != nil {
			return httpError(c, err)
		}
		return c.JSON(entries)
	})
}

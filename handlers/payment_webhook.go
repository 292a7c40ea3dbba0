// handlers/payment_webhook.go
package handlers

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
	"time"

	"vip-entitlement-service/logger"
	"vip-entitlement-service/models"
	"vip-entitlement-service/services"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// PlanDurations maps a confirmed plan to the VIP duration it buys. Prices
// live with the payment provider; the engine only cares about time.
var PlanDurations = map[string]time.Duration{
	"monthly":   30 * 24 * time.Hour,
	"quarterly": 90 * 24 * time.Hour,
	"yearly":    365 * 24 * time.Hour,
}

var planTitle = cases.Title(language.English)

// checkWebhookSignature verifies the provider's HMAC-SHA256 over the raw
// body. The signature arrives either in Authorization ("HMAC <hex>" /
// "HMAC-SHA256 <hex>") or in X-Payment-Signature.
func checkWebhookSignature(secret string, body []byte, authHeader, sigHeader string) bool {
	var signatures []string
	if authHeader != "" {
		if strings.HasPrefix(authHeader, "HMAC ") || strings.HasPrefix(authHeader, "HMAC-SHA256 ") {
			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) == 2 {
				signatures = append(signatures, parts[1])
			}
		}
	}
	if sigHeader != "" {
		signatures = append(signatures, sigHeader)
	}
	if len(signatures) == 0 {
		return false
	}
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(body)
	calc := hex.EncodeToString(h.Sum(nil))
	for _, sig := range signatures {
		if hmac.Equal([]byte(sig), []byte(calc)) {
			return true
		}
	}
	return false
}

// paymentEvent is the slice of the provider notification the engine needs.
type paymentEvent struct {
	Object struct {
		ID       string `json:"id"`
		Status   string `json:"status"`
		Metadata struct {
			UserID string `json:"user_id"`
			Plan   string `json:"plan"`
		} `json:"metadata"`
	} `json:"object"`
}

// SetupPaymentWebhook wires the provider's server-side confirmation callback.
// The provider delivers at-least-once; Grant keyed on the session id makes
// the effect exactly-once.
func SetupPaymentWebhook(app *fiber.App, entSvc *services.EntitlementService, secret string) {
	app.Post("/webhooks/payment", func(c *fiber.Ctx) error {
		body := c.Body()

		if !checkWebhookSignature(secret, body, c.Get("Authorization"), c.Get("X-Payment-Signature")) {
			logger.Warn("payment webhook signature rejected")
			return c.Status(fiber.StatusUnauthorized).SendString("invalid signature")
		}

		var event paymentEvent
		if err := json.Unmarshal(body, &event); err != nil {
			logger.Warn("payment webhook body unparsable", zap.Error(err))
			return c.SendStatus(fiber.StatusBadRequest)
		}

		if event.Object.Status != "succeeded" {
			// only successful payments grant anything; ack so the provider
			// stops redelivering
			return c.SendStatus(fiber.StatusOK)
		}

		plan := strings.ToLower(event.Object.Metadata.Plan)
		duration, ok := PlanDurations[plan]
		if !ok {
			logger.Error("payment webhook with unknown plan",
				zap.String("session_id", event.Object.ID),
				zap.String("plan", event.Object.Metadata.Plan),
			)
			return c.SendStatus(fiber.StatusBadRequest)
		}

		status, err := entSvc.Grant(services.GrantRequest{
			UserID:    event.Object.Metadata.UserID,
			Channel:   models.ChannelPayment,
			DedupKey:  event.Object.ID,
			Duration:  duration,
			PlanLabel: plan,
		})
		if err != nil {
			logger.Error("payment grant failed",
				zap.String("session_id", event.Object.ID), zap.Error(err))
			return httpError(c, err)
		}

		return c.JSON(fiber.Map{
			"vip":          status,
			"plan_display": planTitle.String(plan),
		})
	})
}

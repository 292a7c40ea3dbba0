package handlers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"vip-entitlement-service/models"
	"vip-entitlement-service/services"

	"github.com/glebarez/sqlite"
	"github.com/gofiber/fiber/v2"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func newAdWatchApp(t *testing.T) (*fiber.App, *services.EntitlementService, *services.QuotaService, *clockwork.FakeClock) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&models.UserEntitlement{},
		&models.GrantLedgerEntry{},
		&models.DailyQuotaCounter{},
		&models.QuotaEvent{},
	))

	clock := clockwork.NewFakeClockAt(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	entSvc := services.NewEntitlementService(db, clock)
	quotaSvc := services.NewQuotaService(db, clock, 3, 24*time.Hour)

	app := fiber.New()
	SetupEntitlementRoutes(app, entSvc, quotaSvc)
	return app, entSvc, quotaSvc, clock
}

func adWatchRequest(userID, eventID string) *http.Request {
	body, _ := json.Marshal(map[string]string{"event_id": eventID})
	req := httptest.NewRequest(http.MethodPost, "/s/user/vip/ad-watch", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-User-ID", userID)
	return req
}

func ledgerKeys(t *testing.T, db *gorm.DB, userID string) []string {
	t.Helper()
	var keys []string
	require.NoError(t, db.Model(&models.GrantLedgerEntry{}).
		Where("user_id = ?", userID).
		Order("granted_at ASC").
		Pluck("dedup_key", &keys).Error)
	return keys
}

func TestAdWatchRewardKeyedByCompletionDay(t *testing.T) {
	app, entSvc, _, clock := newAdWatchApp(t)

	for i := 1; i <= 3; i++ {
		resp, err := app.Test(adWatchRequest("u1", fmt.Sprintf("day1-%d", i)))
		require.NoError(t, err)
		require.Equal(t, http.StatusOK, resp.StatusCode)
	}
	assert.Equal(t, []string{"adwatch:2025-06-01:u1"}, ledgerKeys(t, entSvc.DB, "u1"))

	// the next day's completion lands under its own key, so both rewards
	// survive in the ledger
	clock.Advance(24 * time.Hour)
	for i := 1; i <= 3; i++ {
		resp, err := app.Test(adWatchRequest("u1", fmt.Sprintf("day2-%d", i)))
		require.NoError(t, err)
		require.Equal(t, http.StatusOK, resp.StatusCode)
	}
	assert.Equal(t,
		[]string{"adwatch:2025-06-01:u1", "adwatch:2025-06-02:u1"},
		ledgerKeys(t, entSvc.DB, "u1"))

	status, err := entSvc.GetStatus("u1", clock.Now().UTC())
	require.NoError(t, err)
	assert.True(t, status.Active)
	assert.True(t, status.ExpiresAt.Equal(clock.Now().UTC().Add(24*time.Hour)))
}

func TestAdWatchReplayRedrivesUnlandedReward(t *testing.T) {
	app, entSvc, quotaSvc, _ := newAdWatchApp(t)

	// the quota completed but the process died before the reward grant
	// reached the ledger
	for i := 1; i <= 3; i++ {
		_, err := quotaSvc.RecordEvent("u1", models.ChannelAdWatch, fmt.Sprintf("imp-%d", i))
		require.NoError(t, err)
	}
	require.Empty(t, ledgerKeys(t, entSvc.DB, "u1"))

	// the client retries the last callback; the completed bucket still
	// drives the grant, under the completion day's key
	resp, err := app.Test(adWatchRequest("u1", "imp-3"))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var parsed map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&parsed))
	assert.Equal(t, true, parsed["reward_granted"])
	assert.Equal(t, []string{"adwatch:2025-06-01:u1"}, ledgerKeys(t, entSvc.DB, "u1"))

	// further retries replay the same grant, the ledger does not grow
	resp, err = app.Test(adWatchRequest("u1", "imp-3"))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []string{"adwatch:2025-06-01:u1"}, ledgerKeys(t, entSvc.DB, "u1"))
}

package services

import (
	"testing"
	"time"

	"vip-entitlement-service/models"

	"github.com/glebarez/sqlite"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&models.UserEntitlement{},
		&models.GrantLedgerEntry{},
		&models.DailyQuotaCounter{},
		&models.QuotaEvent{},
		&models.Referral{},
	))
	return db
}

var testStart = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func newTestEngine(t *testing.T) (*EntitlementService, *clockwork.FakeClock) {
	t.Helper()
	clock := clockwork.NewFakeClockAt(testStart)
	return NewEntitlementService(newTestDB(t), clock), clock
}

func TestGrantFirstTime(t *testing.T) {
	svc, clock := newTestEngine(t)

	status, err := svc.Grant(GrantRequest{
		UserID:   "u1",
		Channel:  models.ChannelAdWatch,
		DedupKey: "adwatch:2025-06-01:u1",
		Duration: 24 * time.Hour,
	})
	require.NoError(t, err)

	assert.True(t, status.Active)
	assert.True(t, status.ExpiresAt.Equal(clock.Now().UTC().Add(24*time.Hour)))
	assert.Equal(t, 1, status.DaysRemaining)
	assert.Equal(t, models.SourceAdWatch, status.Source)
}

func TestGrantValidation(t *testing.T) {
	svc, _ := newTestEngine(t)

	cases := []GrantRequest{
		{UserID: "", Channel: models.ChannelAdmin, DedupKey: "k", Duration: time.Hour},
		{UserID: "u1", Channel: models.ChannelAdmin, DedupKey: "", Duration: time.Hour},
		{UserID: "u1", Channel: "sweepstakes", DedupKey: "k", Duration: time.Hour},
		{UserID: "u1", Channel: models.ChannelAdmin, DedupKey: "k", Duration: 0},
		{UserID: "u1", Channel: models.ChannelAdmin, DedupKey: "k", Duration: -time.Hour},
	}
	for _, req := range cases {
		_, err := svc.Grant(req)
		assert.ErrorIs(t, err, ErrInvalidRequest)
	}
}

func TestGrantIdempotentReplay(t *testing.T) {
	svc, _ := newTestEngine(t)

	req := GrantRequest{
		UserID:    "u1",
		Channel:   models.ChannelPayment,
		DedupKey:  "sess_123",
		Duration:  30 * 24 * time.Hour,
		PlanLabel: "monthly",
	}

	first, err := svc.Grant(req)
	require.NoError(t, err)

	// duplicate webhook delivery
	second, err := svc.Grant(req)
	require.NoError(t, err)

	assert.True(t, first.ExpiresAt.Equal(*second.ExpiresAt), "replay changed the expiry")
	assert.Equal(t, first.Source, second.Source)

	var count int64
	require.NoError(t, svc.DB.Model(&models.GrantLedgerEntry{}).
		Where("dedup_key = ?", "sess_123").Count(&count).Error)
	assert.EqualValues(t, 1, count, "expected exactly one ledger row")
}

func TestGrantMonotonicExtension(t *testing.T) {
	svc, _ := newTestEngine(t)

	var last *time.Time
	durations := []time.Duration{time.Hour, 24 * time.Hour, 30 * time.Minute, 7 * 24 * time.Hour}
	for i, d := range durations {
		status, err := svc.Grant(GrantRequest{
			UserID:   "u1",
			Channel:  models.ChannelAdmin,
			DedupKey: "action-" + string(rune('a'+i)),
			Duration: d,
		})
		require.NoError(t, err)
		if last != nil {
			assert.False(t, status.ExpiresAt.Before(*last), "expiry decreased after grant %d", i)
		}
		last = status.ExpiresAt
	}
}

func TestStackedAdThenPayment(t *testing.T) {
	svc, clock := newTestEngine(t)
	now := clock.Now().UTC()

	// daily ad quota completed → 24h
	adStatus, err := svc.Grant(GrantRequest{
		UserID:   "u1",
		Channel:  models.ChannelAdWatch,
		DedupKey: "adwatch:2025-06-01:u1",
		Duration: 24 * time.Hour,
	})
	require.NoError(t, err)
	assert.True(t, adStatus.ExpiresAt.Equal(now.Add(24*time.Hour)))

	// immediate monthly purchase stacks, never restarts
	payStatus, err := svc.Grant(GrantRequest{
		UserID:    "u1",
		Channel:   models.ChannelPayment,
		DedupKey:  "sess_456",
		Duration:  30 * 24 * time.Hour,
		PlanLabel: "monthly",
	})
	require.NoError(t, err)
	assert.True(t, payStatus.ExpiresAt.Equal(now.Add(24*time.Hour+30*24*time.Hour)))
	assert.Equal(t, models.SourcePayment, payStatus.Source)
	assert.Equal(t, "monthly", payStatus.PlanLabel)
}

func TestGetStatusDerivesActiveFromNow(t *testing.T) {
	svc, clock := newTestEngine(t)

	_, err := svc.Grant(GrantRequest{
		UserID:   "u1",
		Channel:  models.ChannelAdWatch,
		DedupKey: "adwatch:2025-06-01:u1",
		Duration: 24 * time.Hour,
	})
	require.NoError(t, err)

	status, err := svc.GetStatus("u1", clock.Now().UTC())
	require.NoError(t, err)
	assert.True(t, status.Active)
	assert.Equal(t, 1, status.DaysRemaining)

	// a day and a minute later the same stored record reads as expired
	clock.Advance(24*time.Hour + time.Minute)
	status, err = svc.GetStatus("u1", clock.Now().UTC())
	require.NoError(t, err)
	assert.False(t, status.Active)
	assert.Equal(t, 0, status.DaysRemaining)
}

func TestGetStatusUnknownUser(t *testing.T) {
	svc, clock := newTestEngine(t)

	status, err := svc.GetStatus("nobody", clock.Now().UTC())
	require.NoError(t, err)
	assert.False(t, status.Active)
	assert.Nil(t, status.ExpiresAt)
	assert.Equal(t, models.SourceNone, status.Source)
}

func TestPlanLabelOnlyForPayments(t *testing.T) {
	svc, _ := newTestEngine(t)

	status, err := svc.Grant(GrantRequest{
		UserID:    "u1",
		Channel:   models.ChannelReferral,
		DedupKey:  "ref-1",
		Duration:  72 * time.Hour,
		PlanLabel: "monthly", // must be ignored off the payment channel
	})
	require.NoError(t, err)
	assert.Empty(t, status.PlanLabel)
}

func TestRevokeEndsEntitlementNow(t *testing.T) {
	svc, clock := newTestEngine(t)

	_, err := svc.Grant(GrantRequest{
		UserID:   "u1",
		Channel:  models.ChannelPayment,
		DedupKey: "sess_789",
		Duration: 30 * 24 * time.Hour,
	})
	require.NoError(t, err)

	status, err := svc.Revoke("u1", "admin-act-1")
	require.NoError(t, err)
	assert.False(t, status.Active)

	after, err := svc.GetStatus("u1", clock.Now().UTC())
	require.NoError(t, err)
	assert.False(t, after.Active)
	assert.Equal(t, models.SourceAdmin, after.Source)

	// replaying the same admin action changes nothing and grants nothing
	_, err = svc.Revoke("u1", "admin-act-1")
	require.NoError(t, err)

	var count int64
	require.NoError(t, svc.DB.Model(&models.GrantLedgerEntry{}).
		Where("dedup_key = ?", "admin-act-1").Count(&count).Error)
	assert.EqualValues(t, 1, count)
}

func TestGrantAfterRevokeRestarts(t *testing.T) {
	svc, clock := newTestEngine(t)

	_, err := svc.Grant(GrantRequest{
		UserID:   "u1",
		Channel:  models.ChannelPayment,
		DedupKey: "sess_1",
		Duration: 30 * 24 * time.Hour,
	})
	require.NoError(t, err)

	_, err = svc.Revoke("u1", "admin-act-1")
	require.NoError(t, err)

	clock.Advance(time.Hour)
	status, err := svc.Grant(GrantRequest{
		UserID:   "u1",
		Channel:  models.ChannelAdmin,
		DedupKey: "admin-act-2",
		Duration: 24 * time.Hour,
	})
	require.NoError(t, err)
	assert.True(t, status.ExpiresAt.Equal(clock.Now().UTC().Add(24*time.Hour)),
		"revoked entitlement must restart from now, not the old expiry")
}

func TestLedgerForUser(t *testing.T) {
	svc, clock := newTestEngine(t)

	for _, key := range []string{"a", "b", "c"} {
		_, err := svc.Grant(GrantRequest{
			UserID:   "u1",
			Channel:  models.ChannelAdmin,
			DedupKey: key,
			Duration: time.Hour,
		})
		require.NoError(t, err)
		clock.Advance(time.Minute)
	}

	entries, err := svc.LedgerForUser("u1", 2)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "c", entries[0].DedupKey, "newest entry first")
}

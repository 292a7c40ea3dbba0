package workers

import (
	"strings"
	"testing"
	"time"

	"vip-entitlement-service/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderCSV(t *testing.T) {
	grantedAt := time.Date(2025, 6, 1, 9, 30, 0, 0, time.UTC)
	prev := grantedAt.Add(-24 * time.Hour)

	entries := []models.GrantLedgerEntry{
		{
			DedupKey:          "sess_123",
			UserID:            "u1",
			Channel:           models.ChannelPayment,
			DurationSecs:      2592000,
			PlanLabel:         "monthly",
			PreviousExpiresAt: &prev,
			NewExpiresAt:      grantedAt.Add(30 * 24 * time.Hour),
			GrantedAt:         grantedAt,
		},
		{
			DedupKey:     "adwatch:2025-06-01:u2",
			UserID:       "u2",
			Channel:      models.ChannelAdWatch,
			DurationSecs: 86400,
			NewExpiresAt: grantedAt.Add(24 * time.Hour),
			GrantedAt:    grantedAt,
		},
	}

	data, err := renderCSV(entries)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 3, "header plus one line per entry")
	assert.Equal(t, "granted_at,user_id,channel,dedup_key,duration_secs,plan_label,previous_expires_at,new_expires_at", lines[0])
	assert.Contains(t, lines[1], "sess_123")
	assert.Contains(t, lines[1], "2592000")
	assert.Contains(t, lines[2], "ad_watch")
	// no prior entitlement: previous_expires_at stays empty
	assert.Contains(t, lines[2], ",,")
}

func TestRenderCSVEmptyDay(t *testing.T) {
	data, err := renderCSV(nil)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	assert.Len(t, lines, 1, "header only")
}

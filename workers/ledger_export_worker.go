package workers

import (
	"context"
	"encoding/csv"
	"fmt"
	"strconv"
	"strings"
	"time"

	"vip-entitlement-service/logger"
	"vip-entitlement-service/models"
	"vip-entitlement-service/utils"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// LedgerExportWorker periodically ships the previous UTC day's grant ledger
// to R2 as CSV for offline audit and reporting. The ledger itself is
// append-only, so re-running an export for the same day is harmless: the
// object is simply overwritten with identical content.
type LedgerExportWorker struct {
	DB    *gorm.DB
	Clock clockwork.Clock

	lastExportedDay string
}

func NewLedgerExportWorker(db *gorm.DB, clock clockwork.Clock) *LedgerExportWorker {
	return &LedgerExportWorker{DB: db, Clock: clock}
}

// Start polls until ctx is cancelled, exporting once per UTC day.
func (w *LedgerExportWorker) Start(ctx context.Context, interval time.Duration) {
	ticker := w.Clock.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("ledger export worker stopped")
			return
		case <-ticker.Chan():
			day := w.Clock.Now().UTC().AddDate(0, 0, -1).Format("2006-01-02")
			if day == w.lastExportedDay {
				continue
			}
			if err := w.ExportDay(ctx, day); err != nil {
				logger.Error("ledger export failed", zap.String("day", day), zap.Error(err))
				continue
			}
			w.lastExportedDay = day
		}
	}
}

// ExportDay uploads all ledger entries granted on the given UTC day.
func (w *LedgerExportWorker) ExportDay(ctx context.Context, day string) error {
	from, err := time.Parse("2006-01-02", day)
	if err != nil {
		return fmt.Errorf("bad day %q: %w", day, err)
	}
	to := from.AddDate(0, 0, 1)

	var entries []models.GrantLedgerEntry
	if err := w.DB.WithContext(ctx).
		Where("granted_at >= ? AND granted_at < ?", from, to).
		Order("granted_at ASC").
		Find(&entries).Error; err != nil {
		return fmt.Errorf("ledger query: %w", err)
	}

	data, err := renderCSV(entries)
	if err != nil {
		return err
	}

	key := fmt.Sprintf("ledger-exports/%s.csv", day)
	if err := utils.UploadBytesToR2(ctx, key, "text/csv", data); err != nil {
		return err
	}

	logger.Info("ledger day exported",
		zap.String("day", day),
		zap.Int("entries", len(entries)),
		zap.String("key", key),
	)
	return nil
}

func renderCSV(entries []models.GrantLedgerEntry) ([]byte, error) {
	var buf strings.Builder
	cw := csv.NewWriter(&buf)

	header := []string{"granted_at", "user_id", "channel", "dedup_key", "duration_secs", "plan_label", "previous_expires_at", "new_expires_at"}
	if err := cw.Write(header); err != nil {
		return nil, err
	}
	for _, e := range entries {
		prev := ""
		if e.PreviousExpiresAt != nil {
			prev = e.PreviousExpiresAt.UTC().Format(time.RFC3339)
		}
		row := []string{
			e.GrantedAt.UTC().Format(time.RFC3339),
			e.UserID,
			string(e.Channel),
			e.DedupKey,
			strconv.FormatInt(e.DurationSecs, 10),
			e.PlanLabel,
			prev,
			e.NewExpiresAt.UTC().Format(time.RFC3339),
		}
		if err := cw.Write(row); err != nil {
			return nil, err
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return nil, err
	}
	return []byte(buf.String()), nil
}

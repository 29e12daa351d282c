package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/ignite/jobmail/internal/config"
	"github.com/ignite/jobmail/internal/pkg/logger"
)

// Cleaner deletes aged batch data after a successful run. Deletes go in
// bounded batches to keep lock times and WAL volume flat.
type Cleaner struct {
	db  *sql.DB
	cfg config.RetentionConfig
}

// NewCleaner creates a retention cleaner.
func NewCleaner(db *sql.DB, cfg config.RetentionConfig) *Cleaner {
	if cfg.DeleteBatch <= 0 {
		cfg.DeleteBatch = 10000
	}
	return &Cleaner{db: db, cfg: cfg}
}

// Run applies every retention rule. Failures here never fail the batch;
// callers log and continue.
func (c *Cleaner) Run(ctx context.Context, now time.Time) error {
	rules := []struct {
		table, column string
		days          int
	}{
		{"user_job_mappings", "batch_date", c.cfg.MappingDays},
		{"daily_job_picks", "pick_date", c.cfg.PickDays},
		{"daily_email_queue", "scheduled_date", c.cfg.QueueDays},
	}

	for _, rule := range rules {
		if rule.days <= 0 {
			continue
		}
		cutoff := now.AddDate(0, 0, -rule.days)
		deleted, err := c.purge(ctx, rule.table, rule.column, cutoff)
		if err != nil {
			return fmt.Errorf("retention %s: %w", rule.table, err)
		}
		if deleted > 0 {
			logger.Info("retention purge", "table", rule.table,
				"deleted", deleted, "cutoff", cutoff.Format("2006-01-02"))
		}
	}
	return nil
}

// purge deletes in DeleteBatch-sized slices until the table is clean.
func (c *Cleaner) purge(ctx context.Context, table, column string, cutoff time.Time) (int64, error) {
	stmt := fmt.Sprintf(`
		DELETE FROM %s
		WHERE ctid IN (SELECT ctid FROM %s WHERE %s < $1 LIMIT $2)
	`, table, table, column)

	var total int64
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		res, err := c.db.ExecContext(ctx, stmt, cutoff, c.cfg.DeleteBatch)
		if err != nil {
			return total, err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return total, err
		}
		total += n
		if n < int64(c.cfg.DeleteBatch) {
			return total, nil
		}
	}
}

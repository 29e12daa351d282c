package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/ignite/jobmail/internal/pkg/logger"
)

// Partitioner creates the partitions a batch writes into before any stage
// touches them: the batch-date partitions of the mapping and pick tables
// and the current plus next monthly partition of user_actions.
type Partitioner struct{ db *sql.DB }

// NewPartitioner creates a partition maintainer.
func NewPartitioner(db *sql.DB) *Partitioner { return &Partitioner{db: db} }

// EnsureBatch creates today's write partitions. Idempotent.
func (p *Partitioner) EnsureBatch(ctx context.Context, batchDate time.Time) error {
	day := batchDate.Truncate(24 * time.Hour)
	next := day.AddDate(0, 0, 1)

	daily := []struct{ parent, column string }{
		{"user_job_mappings", "batch_date"},
		{"daily_job_picks", "pick_date"},
	}
	for _, t := range daily {
		name := fmt.Sprintf("%s_%s", t.parent, day.Format("20060102"))
		stmt := fmt.Sprintf(
			`CREATE TABLE IF NOT EXISTS %s PARTITION OF %s FOR VALUES FROM ('%s') TO ('%s')`,
			name, t.parent, day.Format("2006-01-02"), next.Format("2006-01-02"),
		)
		if _, err := p.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure partition %s: %w", name, err)
		}
	}

	// Action history partitions are monthly; keep one month of headroom so
	// the writers feeding the table never race partition creation.
	for _, m := range []time.Time{monthStart(day), monthStart(day).AddDate(0, 1, 0)} {
		name := fmt.Sprintf("user_actions_%s", m.Format("200601"))
		stmt := fmt.Sprintf(
			`CREATE TABLE IF NOT EXISTS %s PARTITION OF user_actions FOR VALUES FROM ('%s') TO ('%s')`,
			name, m.Format("2006-01-02"), m.AddDate(0, 1, 0).Format("2006-01-02"),
		)
		if _, err := p.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure partition %s: %w", name, err)
		}
	}

	logger.Debug("partitions ensured", "batch_date", day.Format("2006-01-02"))
	return nil
}

func monthStart(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location())
}

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/lib/pq"

	"github.com/ignite/jobmail/internal/domain"
)

// QueueRepo persists delivery queue rows. It implements queue.Store.
type QueueRepo struct{ db *sql.DB }

// NewQueueRepo creates a Postgres-backed queue repository.
func NewQueueRepo(db *sql.DB) *QueueRepo { return &QueueRepo{db: db} }

// UpsertRows writes one flush of queue rows. The (user_id, scheduled_date)
// key makes re-runs idempotent: a second run of the same batch replaces the
// row and resets its delivery state.
func (r *QueueRepo) UpsertRows(ctx context.Context, rows []*domain.QueueRow) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin queue upsert: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO daily_email_queue (
			id, user_id, scheduled_date, subject_template, recipient,
			pick_job_ids, pick_count, generator_meta, status,
			retry_count, low_inventory, generated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, 0, $10, $11)
		ON CONFLICT (user_id, scheduled_date) DO UPDATE SET
			subject_template = EXCLUDED.subject_template,
			recipient = EXCLUDED.recipient,
			pick_job_ids = EXCLUDED.pick_job_ids,
			pick_count = EXCLUDED.pick_count,
			generator_meta = EXCLUDED.generator_meta,
			status = EXCLUDED.status,
			retry_count = 0,
			low_inventory = EXCLUDED.low_inventory,
			generated_at = EXCLUDED.generated_at
	`)
	if err != nil {
		return 0, fmt.Errorf("prepare queue upsert: %w", err)
	}
	defer stmt.Close()

	written := 0
	for _, q := range rows {
		meta, err := json.Marshal(q.GeneratorMeta)
		if err != nil {
			return written, fmt.Errorf("marshal queue meta for user %d: %w", q.UserID, err)
		}
		if _, err := stmt.ExecContext(ctx, q.ID, q.UserID, q.ScheduledDate,
			q.SubjectTemplate, q.Recipient, pq.Array(q.PickJobIDs), q.PickCount,
			meta, string(q.Status), q.LowInventory, q.GeneratedAt); err != nil {
			return written, fmt.Errorf("upsert queue row user %d: %w", q.UserID, err)
		}
		written++
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit queue upsert: %w", err)
	}
	return written, nil
}

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// BatchRepo keeps the import_batches ledger: one row per pipeline run, from
// start to final status, for operations and re-run audits.
type BatchRepo struct{ db *sql.DB }

// NewBatchRepo creates a Postgres-backed batch ledger.
func NewBatchRepo(db *sql.DB) *BatchRepo { return &BatchRepo{db: db} }

// BatchSummary is the terminal accounting of one run.
type BatchSummary struct {
	UsersProcessed    int   `json:"users_processed"`
	JobsRead          int64 `json:"jobs_read"`
	JobsAccepted      int64 `json:"jobs_accepted"`
	JobsRejected      int64 `json:"jobs_rejected"`
	JobsScored        int   `json:"jobs_scored"`
	PicksWritten      int   `json:"picks_written"`
	QueueRows         int   `json:"queue_rows"`
	LowInventoryUsers int   `json:"low_inventory_users"`
	SkippedUsers      int   `json:"skipped_users"`
}

// Start records the run as running. A batch_date conflict means an earlier
// run of the same date; the ledger keeps one row per date, latest attempt
// wins.
func (r *BatchRepo) Start(ctx context.Context, batchID string, batchDate time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO import_batches (batch_id, batch_date, status, started_at)
		VALUES ($1, $2, 'running', NOW())
		ON CONFLICT (batch_date) DO UPDATE SET
			batch_id = EXCLUDED.batch_id,
			status = 'running',
			started_at = NOW(),
			finished_at = NULL,
			error_detail = NULL
	`, batchID, batchDate)
	if err != nil {
		return fmt.Errorf("start batch %s: %w", batchID, err)
	}
	return nil
}

// Finish closes the ledger row with the terminal status and summary.
func (r *BatchRepo) Finish(ctx context.Context, batchID, status string, summary BatchSummary, runErr error) error {
	data, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("marshal batch summary: %w", err)
	}

	var detail sql.NullString
	if runErr != nil {
		detail = sql.NullString{String: runErr.Error(), Valid: true}
	}

	_, err = r.db.ExecContext(ctx, `
		UPDATE import_batches
		SET status = $2, summary = $3, error_detail = $4, finished_at = NOW()
		WHERE batch_id = $1
	`, batchID, status, data, detail)
	if err != nil {
		return fmt.Errorf("finish batch %s: %w", batchID, err)
	}
	return nil
}

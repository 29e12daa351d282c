package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/ignite/jobmail/internal/domain"
)

// MappingRepo bulk-writes the per-user scoring matrix and the section
// picks, both partitioned by batch date. COPY is the only write path fast
// enough for 10K users x 200 candidates.
type MappingRepo struct{ db *sql.DB }

// NewMappingRepo creates a Postgres-backed mapping repository.
func NewMappingRepo(db *sql.DB) *MappingRepo { return &MappingRepo{db: db} }

// ClearBatch removes any rows from an earlier run of the same batch date so
// a re-run replaces rather than duplicates.
func (r *MappingRepo) ClearBatch(ctx context.Context, batchDate time.Time) error {
	if _, err := r.db.ExecContext(ctx,
		`DELETE FROM user_job_mappings WHERE batch_date = $1`, batchDate); err != nil {
		return fmt.Errorf("clear mappings for %s: %w", batchDate.Format("2006-01-02"), err)
	}
	if _, err := r.db.ExecContext(ctx,
		`DELETE FROM daily_job_picks WHERE pick_date = $1`, batchDate); err != nil {
		return fmt.Errorf("clear picks for %s: %w", batchDate.Format("2006-01-02"), err)
	}
	return nil
}

// InsertMappings COPYs one flush of top-K rows.
func (r *MappingRepo) InsertMappings(ctx context.Context, rows []domain.UserJobMapping) error {
	if len(rows) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin mapping copy: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, pq.CopyIn("user_job_mappings",
		"user_id", "job_id", "batch_date", "score", "affinity_score",
		"rank", "recent_employer",
	))
	if err != nil {
		return fmt.Errorf("prepare mapping copy: %w", err)
	}

	for _, m := range rows {
		if _, err := stmt.ExecContext(ctx, m.UserID, m.JobID, m.BatchDate,
			m.Score, m.AffinityScore, m.Rank, m.RecentEmployer); err != nil {
			stmt.Close()
			return fmt.Errorf("copy mapping user %d job %d: %w", m.UserID, m.JobID, err)
		}
	}
	if _, err := stmt.ExecContext(ctx); err != nil {
		stmt.Close()
		return fmt.Errorf("flush mapping copy: %w", err)
	}
	if err := stmt.Close(); err != nil {
		return fmt.Errorf("close mapping copy: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit mapping copy: %w", err)
	}
	return nil
}

// InsertPicks COPYs one flush of section picks.
func (r *MappingRepo) InsertPicks(ctx context.Context, rows []domain.JobPick) error {
	if len(rows) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin pick copy: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, pq.CopyIn("daily_job_picks",
		"user_id", "job_id", "pick_date", "section", "section_rank",
		"composite_score", "pick_reason",
	))
	if err != nil {
		return fmt.Errorf("prepare pick copy: %w", err)
	}

	for _, p := range rows {
		if _, err := stmt.ExecContext(ctx, p.UserID, p.JobID, p.PickDate,
			string(p.Section), p.SectionRank, p.CompositeScore, p.PickReason); err != nil {
			stmt.Close()
			return fmt.Errorf("copy pick user %d job %d: %w", p.UserID, p.JobID, err)
		}
	}
	if _, err := stmt.ExecContext(ctx); err != nil {
		stmt.Close()
		return fmt.Errorf("flush pick copy: %w", err)
	}
	if err := stmt.Close(); err != nil {
		return fmt.Errorf("close pick copy: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit pick copy: %w", err)
	}
	return nil
}

package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/ignite/jobmail/internal/domain"
)

// PopularityRepo backs the popularity aggregator: one grouped scan over the
// action window and an upsert of the resulting aggregates.
type PopularityRepo struct{ db *sql.DB }

// NewPopularityRepo creates a Postgres-backed popularity repository.
func NewPopularityRepo(db *sql.DB) *PopularityRepo { return &PopularityRepo{db: db} }

// EmployerEngagement groups the action history by employer with 7-day,
// 30-day and full-window buckets in a single pass.
func (r *PopularityRepo) EmployerEngagement(ctx context.Context, since, now time.Time) ([]domain.EmployerPopularity, error) {
	d7 := now.AddDate(0, 0, -7)
	d30 := now.AddDate(0, 0, -30)

	rows, err := r.db.QueryContext(ctx, `
		SELECT endcl_cd,
			COUNT(*) FILTER (WHERE action_type = 'view'),
			COUNT(*) FILTER (WHERE action_type IN ('click', 'email_click')),
			COUNT(*) FILTER (WHERE action_type IN ('apply', 'application')),
			COUNT(*) FILTER (WHERE action_type = 'view' AND action_at >= $3),
			COUNT(*) FILTER (WHERE action_type IN ('click', 'email_click') AND action_at >= $3),
			COUNT(*) FILTER (WHERE action_type IN ('apply', 'application') AND action_at >= $3),
			COUNT(*) FILTER (WHERE action_type = 'view' AND action_at >= $4),
			COUNT(*) FILTER (WHERE action_type IN ('click', 'email_click') AND action_at >= $4),
			COUNT(*) FILTER (WHERE action_type IN ('apply', 'application') AND action_at >= $4)
		FROM user_actions
		WHERE endcl_cd <> '' AND action_at >= $1 AND action_at < $2
		GROUP BY endcl_cd
	`, since, now, d30, d7)
	if err != nil {
		return nil, fmt.Errorf("employer engagement scan: %w", err)
	}
	defer rows.Close()

	var out []domain.EmployerPopularity
	for rows.Next() {
		var p domain.EmployerPopularity
		if err := rows.Scan(&p.EndclCd,
			&p.Views360d, &p.Clicks360d, &p.Applications360d,
			&p.Views30d, &p.Clicks30d, &p.Applications30d,
			&p.Views7d, &p.Clicks7d, &p.Applications7d); err != nil {
			return nil, fmt.Errorf("scan employer engagement: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// UpsertEmployerPopularity writes the computed aggregates, one row per
// employer, in a single transaction.
func (r *PopularityRepo) UpsertEmployerPopularity(ctx context.Context, rows []domain.EmployerPopularity) error {
	if len(rows) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin popularity upsert: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO employer_popularity (
			endcl_cd, views_360d, clicks_360d, applications_360d,
			views_30d, clicks_30d, applications_30d,
			views_7d, clicks_7d, applications_7d,
			application_rate, popularity_score, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, NOW())
		ON CONFLICT (endcl_cd) DO UPDATE SET
			views_360d = EXCLUDED.views_360d,
			clicks_360d = EXCLUDED.clicks_360d,
			applications_360d = EXCLUDED.applications_360d,
			views_30d = EXCLUDED.views_30d,
			clicks_30d = EXCLUDED.clicks_30d,
			applications_30d = EXCLUDED.applications_30d,
			views_7d = EXCLUDED.views_7d,
			clicks_7d = EXCLUDED.clicks_7d,
			applications_7d = EXCLUDED.applications_7d,
			application_rate = EXCLUDED.application_rate,
			popularity_score = EXCLUDED.popularity_score,
			updated_at = NOW()
	`)
	if err != nil {
		return fmt.Errorf("prepare popularity upsert: %w", err)
	}
	defer stmt.Close()

	for _, p := range rows {
		if _, err := stmt.ExecContext(ctx, p.EndclCd,
			p.Views360d, p.Clicks360d, p.Applications360d,
			p.Views30d, p.Clicks30d, p.Applications30d,
			p.Views7d, p.Clicks7d, p.Applications7d,
			p.ApplicationRate, p.PopularityScore); err != nil {
			return fmt.Errorf("upsert popularity %s: %w", p.EndclCd, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit popularity upsert: %w", err)
	}
	return nil
}

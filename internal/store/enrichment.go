package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"github.com/ignite/jobmail/internal/domain"
	"github.com/ignite/jobmail/internal/scorer"
)

// EnrichmentRepo persists the per-job scoring output. The whole table is
// regenerated every run, so writes go through COPY into a temp staging
// table and land with one upsert. It implements scorer.Sink.
type EnrichmentRepo struct{ db *sql.DB }

// NewEnrichmentRepo creates a Postgres-backed enrichment repository.
func NewEnrichmentRepo(db *sql.DB) *EnrichmentRepo { return &EnrichmentRepo{db: db} }

// SaveEnrichments bulk-writes the enrichment rows. COPY into staging keeps
// the 100K-row write inside the stage deadline.
func (r *EnrichmentRepo) SaveEnrichments(ctx context.Context, rows []domain.JobEnrichment) error {
	if len(rows) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin enrichment write: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		CREATE TEMP TABLE _enrichment_stage
		(LIKE job_enrichment INCLUDING DEFAULTS)
		ON COMMIT DROP
	`); err != nil {
		return fmt.Errorf("create enrichment staging: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, pq.CopyIn("_enrichment_stage",
		"job_id", "basic_score", "seo_score", "personalized_score_base",
		"composite_score", "needs_categories",
		"views_30d", "clicks_30d", "applications_30d", "calculated_at",
	))
	if err != nil {
		return fmt.Errorf("prepare enrichment copy: %w", err)
	}

	for _, e := range rows {
		cats := make([]string, len(e.NeedsCategories))
		for i, c := range e.NeedsCategories {
			cats[i] = string(c)
		}
		if _, err := stmt.ExecContext(ctx,
			e.JobID, e.BasicScore, e.SEOScore, e.PersonalizedBase,
			e.CompositeScore, pq.Array(cats),
			e.Views30d, e.Clicks30d, e.Applications30d, e.CalculatedAt,
		); err != nil {
			stmt.Close()
			return fmt.Errorf("copy enrichment %d: %w", e.JobID, err)
		}
	}
	if _, err := stmt.ExecContext(ctx); err != nil {
		stmt.Close()
		return fmt.Errorf("flush enrichment copy: %w", err)
	}
	if err := stmt.Close(); err != nil {
		return fmt.Errorf("close enrichment copy: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO job_enrichment (
			job_id, basic_score, seo_score, personalized_score_base,
			composite_score, needs_categories,
			views_30d, clicks_30d, applications_30d, calculated_at
		)
		SELECT job_id, basic_score, seo_score, personalized_score_base,
			composite_score, needs_categories,
			views_30d, clicks_30d, applications_30d, calculated_at
		FROM _enrichment_stage
		ON CONFLICT (job_id) DO UPDATE SET
			basic_score = EXCLUDED.basic_score,
			seo_score = EXCLUDED.seo_score,
			personalized_score_base = EXCLUDED.personalized_score_base,
			composite_score = EXCLUDED.composite_score,
			needs_categories = EXCLUDED.needs_categories,
			views_30d = EXCLUDED.views_30d,
			clicks_30d = EXCLUDED.clicks_30d,
			applications_30d = EXCLUDED.applications_30d,
			calculated_at = EXCLUDED.calculated_at
	`); err != nil {
		return fmt.Errorf("merge enrichment staging: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit enrichment write: %w", err)
	}
	return nil
}

// SaveAreaStats upserts the area salary table: one row per city, per
// prefecture and one national rollup (empty codes).
func (r *EnrichmentRepo) SaveAreaStats(ctx context.Context, rows []scorer.AreaSalary) error {
	if len(rows) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin area stats upsert: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO area_salary_stats (
			pref_cd, city_cd, min_salary, max_salary, avg_salary, job_count, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, NOW())
		ON CONFLICT (pref_cd, city_cd) DO UPDATE SET
			min_salary = EXCLUDED.min_salary,
			max_salary = EXCLUDED.max_salary,
			avg_salary = EXCLUDED.avg_salary,
			job_count = EXCLUDED.job_count,
			updated_at = NOW()
	`)
	if err != nil {
		return fmt.Errorf("prepare area stats upsert: %w", err)
	}
	defer stmt.Close()

	for i := range rows {
		a := &rows[i]
		if _, err := stmt.ExecContext(ctx, a.PrefCd, a.CityCd,
			a.Min, a.Max, a.Avg(), a.Count); err != nil {
			return fmt.Errorf("upsert area stats %s/%s: %w", a.PrefCd, a.CityCd, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit area stats upsert: %w", err)
	}
	return nil
}

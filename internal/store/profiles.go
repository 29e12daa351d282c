package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/lib/pq"

	"github.com/ignite/jobmail/internal/domain"
)

// ProfileRepo persists derived user profiles. Frequency maps and salary
// stats travel as JSONB; the recent-employer set as a text array.
type ProfileRepo struct{ db *sql.DB }

// NewProfileRepo creates a Postgres-backed profile repository.
func NewProfileRepo(db *sql.DB) *ProfileRepo { return &ProfileRepo{db: db} }

// SaveProfiles upserts the whole batch in one transaction.
func (r *ProfileRepo) SaveProfiles(ctx context.Context, profiles []*domain.UserProfile) error {
	if len(profiles) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin profile upsert: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO user_profiles (
			user_id, pref_freq, city_freq, occupation_freq,
			employment_freq, employer_freq, salary_stats,
			application_count, click_count, view_count,
			last_application_date, recent_employers, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, NOW())
		ON CONFLICT (user_id) DO UPDATE SET
			pref_freq = EXCLUDED.pref_freq,
			city_freq = EXCLUDED.city_freq,
			occupation_freq = EXCLUDED.occupation_freq,
			employment_freq = EXCLUDED.employment_freq,
			employer_freq = EXCLUDED.employer_freq,
			salary_stats = EXCLUDED.salary_stats,
			application_count = EXCLUDED.application_count,
			click_count = EXCLUDED.click_count,
			view_count = EXCLUDED.view_count,
			last_application_date = EXCLUDED.last_application_date,
			recent_employers = EXCLUDED.recent_employers,
			updated_at = NOW()
	`)
	if err != nil {
		return fmt.Errorf("prepare profile upsert: %w", err)
	}
	defer stmt.Close()

	for _, p := range profiles {
		prefJSON, _ := json.Marshal(p.PrefFreq)
		cityJSON, _ := json.Marshal(p.CityFreq)
		occJSON, _ := json.Marshal(p.OccupationFreq)
		empJSON, _ := json.Marshal(p.EmploymentFreq)
		emplrJSON, _ := json.Marshal(p.EmployerFreq)

		var salaryJSON interface{}
		if p.Salary != nil {
			b, _ := json.Marshal(p.Salary)
			salaryJSON = b
		}

		recent := make([]string, 0, len(p.RecentEmployers))
		for cd := range p.RecentEmployers {
			recent = append(recent, cd)
		}

		if _, err := stmt.ExecContext(ctx, p.UserID,
			prefJSON, cityJSON, occJSON, empJSON, emplrJSON, salaryJSON,
			p.ApplicationCount, p.ClickCount, p.ViewCount,
			p.LastApplication, pq.Array(recent)); err != nil {
			return fmt.Errorf("upsert profile %d: %w", p.UserID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit profile upsert: %w", err)
	}
	return nil
}

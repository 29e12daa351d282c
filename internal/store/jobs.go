package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/ignite/jobmail/internal/domain"
)

// JobRepo persists the job corpus. It implements ingest.JobStore and feeds
// the matcher's eligible-corpus load.
type JobRepo struct{ db *sql.DB }

// NewJobRepo creates a Postgres-backed job repository.
func NewJobRepo(db *sql.DB) *JobRepo { return &JobRepo{db: db} }

// UpsertJobs writes one ingest chunk in a single transaction. Re-seen jobs
// keep their original posting_date so the "new" section reflects first
// appearance, not re-feeds.
func (r *JobRepo) UpsertJobs(ctx context.Context, jobs []*domain.Job, batchDate time.Time) error {
	if len(jobs) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin job upsert: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO jobs (
			job_id, endcl_cd, company_name, application_name,
			pref_cd, city_cd, station_name_eki, latitude, longitude,
			min_salary, max_salary, salary_type, fee, hours, work_days,
			description, benefits, occupation_cd1, occupation_cd2,
			employment_type_cd, feature_codes, posting_date, end_at,
			has_daily_payment, has_weekly_payment, has_no_experience,
			has_student_welcome, has_remote_work, has_transportation,
			has_high_income, is_active, last_seen_date, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14,
			$15, $16, $17, $18, $19, $20, $21, $22, $23, $24, $25, $26,
			$27, $28, $29, $30, true, $31, NOW()
		)
		ON CONFLICT (job_id) DO UPDATE SET
			endcl_cd = EXCLUDED.endcl_cd,
			company_name = EXCLUDED.company_name,
			application_name = EXCLUDED.application_name,
			pref_cd = EXCLUDED.pref_cd,
			city_cd = EXCLUDED.city_cd,
			station_name_eki = EXCLUDED.station_name_eki,
			latitude = EXCLUDED.latitude,
			longitude = EXCLUDED.longitude,
			min_salary = EXCLUDED.min_salary,
			max_salary = EXCLUDED.max_salary,
			salary_type = EXCLUDED.salary_type,
			fee = EXCLUDED.fee,
			hours = EXCLUDED.hours,
			work_days = EXCLUDED.work_days,
			description = EXCLUDED.description,
			benefits = EXCLUDED.benefits,
			occupation_cd1 = EXCLUDED.occupation_cd1,
			occupation_cd2 = EXCLUDED.occupation_cd2,
			employment_type_cd = EXCLUDED.employment_type_cd,
			feature_codes = EXCLUDED.feature_codes,
			end_at = EXCLUDED.end_at,
			has_daily_payment = EXCLUDED.has_daily_payment,
			has_weekly_payment = EXCLUDED.has_weekly_payment,
			has_no_experience = EXCLUDED.has_no_experience,
			has_student_welcome = EXCLUDED.has_student_welcome,
			has_remote_work = EXCLUDED.has_remote_work,
			has_transportation = EXCLUDED.has_transportation,
			has_high_income = EXCLUDED.has_high_income,
			is_active = true,
			last_seen_date = EXCLUDED.last_seen_date,
			updated_at = NOW()
	`)
	if err != nil {
		return fmt.Errorf("prepare job upsert: %w", err)
	}
	defer stmt.Close()

	for _, j := range jobs {
		_, err := stmt.ExecContext(ctx,
			j.JobID, j.EndclCd, j.CompanyName, j.ApplicationName,
			j.PrefCd, j.CityCd, j.StationName, j.Latitude, j.Longitude,
			j.MinSalary, j.MaxSalary, string(j.SalaryType), j.Fee, j.Hours, j.WorkDays,
			j.Description, j.Benefits, j.OccupationCd1, j.OccupationCd2,
			j.EmploymentType, pq.Array(j.FeatureCodes), j.PostingDate, j.EndAt,
			j.HasDailyPayment, j.HasWeeklyPayment, j.HasNoExperience,
			j.HasStudentWelcome, j.HasRemoteWork, j.HasTransportation,
			j.HasHighIncome, batchDate,
		)
		if err != nil {
			return fmt.Errorf("upsert job %d: %w", j.JobID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit job upsert: %w", err)
	}
	return nil
}

// DeactivateStale flips jobs absent from the feed past the grace window to
// inactive. They stay in the table for history joins.
func (r *JobRepo) DeactivateStale(ctx context.Context, batchDate time.Time, graceDays int) (int64, error) {
	cutoff := batchDate.AddDate(0, 0, -graceDays)
	res, err := r.db.ExecContext(ctx, `
		UPDATE jobs
		SET is_active = false, updated_at = NOW()
		WHERE is_active = true AND last_seen_date < $1
	`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("deactivate stale jobs: %w", err)
	}
	return res.RowsAffected()
}

// LoadEligible returns the active, matchable corpus: valid employment type,
// fee above the floor, not expired.
func (r *JobRepo) LoadEligible(ctx context.Context, now time.Time, feeMin int, validTypes []int) ([]*domain.Job, error) {
	types := make([]int64, len(validTypes))
	for i, t := range validTypes {
		types[i] = int64(t)
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT job_id, endcl_cd, company_name, application_name,
			pref_cd, city_cd, station_name_eki, latitude, longitude,
			min_salary, max_salary, salary_type, fee, hours, work_days,
			description, benefits, occupation_cd1, occupation_cd2,
			employment_type_cd, feature_codes, posting_date, end_at,
			has_daily_payment, has_weekly_payment, has_no_experience,
			has_student_welcome, has_remote_work, has_transportation,
			has_high_income, is_active
		FROM jobs
		WHERE is_active = true
		  AND employment_type_cd = ANY($1)
		  AND fee > $2
		  AND (end_at IS NULL OR end_at > $3)
		ORDER BY job_id
	`, pq.Array(types), feeMin, now)
	if err != nil {
		return nil, fmt.Errorf("load eligible jobs: %w", err)
	}
	defer rows.Close()

	var out []*domain.Job
	for rows.Next() {
		var (
			j          domain.Job
			salaryType string
			features   pq.StringArray
		)
		if err := rows.Scan(
			&j.JobID, &j.EndclCd, &j.CompanyName, &j.ApplicationName,
			&j.PrefCd, &j.CityCd, &j.StationName, &j.Latitude, &j.Longitude,
			&j.MinSalary, &j.MaxSalary, &salaryType, &j.Fee, &j.Hours, &j.WorkDays,
			&j.Description, &j.Benefits, &j.OccupationCd1, &j.OccupationCd2,
			&j.EmploymentType, &features, &j.PostingDate, &j.EndAt,
			&j.HasDailyPayment, &j.HasWeeklyPayment, &j.HasNoExperience,
			&j.HasStudentWelcome, &j.HasRemoteWork, &j.HasTransportation,
			&j.HasHighIncome, &j.IsActive,
		); err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		j.SalaryType = domain.SalaryType(salaryType)
		j.FeatureCodes = features
		out = append(out, &j)
	}
	return out, rows.Err()
}

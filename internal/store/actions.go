package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/ignite/jobmail/internal/domain"
	"github.com/ignite/jobmail/internal/profile"
	"github.com/ignite/jobmail/internal/scorer"
)

// ActionRepo reads the partitioned action history. It implements
// profile.Source and scorer.EngagementSource.
type ActionRepo struct{ db *sql.DB }

// NewActionRepo creates a Postgres-backed action repository.
func NewActionRepo(db *sql.DB) *ActionRepo { return &ActionRepo{db: db} }

// ActiveSubscribedUsers lists the recipients of today's batch.
func (r *ActionRepo) ActiveSubscribedUsers(ctx context.Context) ([]domain.User, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT user_id, contact_ref, pref_cd, city_cd, is_active, is_subscribed, created_at
		FROM users
		WHERE is_active = true AND is_subscribed = true
		ORDER BY user_id
	`)
	if err != nil {
		return nil, fmt.Errorf("list active users: %w", err)
	}
	defer rows.Close()

	var out []domain.User
	for rows.Next() {
		var u domain.User
		if err := rows.Scan(&u.UserID, &u.ContactRef, &u.PrefCd, &u.CityCd,
			&u.IsActive, &u.IsSubscribed, &u.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// ActionsForUsers returns the action history of a user batch joined with
// the job attributes the profile builder counts. Actions without a job
// still come back with empty job fields.
func (r *ActionRepo) ActionsForUsers(ctx context.Context, userIDs []int32, since time.Time) ([]profile.ActionDetail, error) {
	ids := make([]int64, len(userIDs))
	for i, id := range userIDs {
		ids[i] = int64(id)
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT a.user_id, a.action_type, a.action_at,
			COALESCE(a.endcl_cd, ''),
			COALESCE(j.pref_cd, ''), COALESCE(j.city_cd, ''),
			COALESCE(j.occupation_cd1, ''), COALESCE(j.employment_type_cd, 0),
			j.min_salary, j.max_salary
		FROM user_actions a
		LEFT JOIN jobs j ON j.job_id = a.job_id
		WHERE a.user_id = ANY($1) AND a.action_at >= $2
		ORDER BY a.user_id, a.action_at
	`, pq.Array(ids), since)
	if err != nil {
		return nil, fmt.Errorf("actions for users: %w", err)
	}
	defer rows.Close()

	var out []profile.ActionDetail
	for rows.Next() {
		var (
			d          profile.ActionDetail
			actionType string
		)
		if err := rows.Scan(&d.UserID, &actionType, &d.ActionAt,
			&d.EndclCd, &d.PrefCd, &d.CityCd,
			&d.OccupationCd1, &d.EmploymentType,
			&d.MinSalary, &d.MaxSalary); err != nil {
			return nil, fmt.Errorf("scan action: %w", err)
		}
		d.ActionType = domain.ActionType(actionType)
		out = append(out, d)
	}
	return out, rows.Err()
}

// JobEngagement30d returns per-job view/click/application counters over the
// window in one grouped scan.
func (r *ActionRepo) JobEngagement30d(ctx context.Context, since, now time.Time) (map[int64]scorer.Engagement, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT job_id,
			COUNT(*) FILTER (WHERE action_type = 'view'),
			COUNT(*) FILTER (WHERE action_type IN ('click', 'email_click')),
			COUNT(*) FILTER (WHERE action_type IN ('apply', 'application'))
		FROM user_actions
		WHERE job_id IS NOT NULL AND action_at >= $1 AND action_at < $2
		GROUP BY job_id
	`, since, now)
	if err != nil {
		return nil, fmt.Errorf("job engagement scan: %w", err)
	}
	defer rows.Close()

	out := make(map[int64]scorer.Engagement)
	for rows.Next() {
		var (
			jobID int64
			e     scorer.Engagement
		)
		if err := rows.Scan(&jobID, &e.Views, &e.Clicks, &e.Applications); err != nil {
			return nil, fmt.Errorf("scan job engagement: %w", err)
		}
		out[jobID] = e
	}
	return out, rows.Err()
}

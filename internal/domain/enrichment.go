package domain

import "time"

// Composite blend weights. These are the published contract of the scoring
// stage; consumers may verify stored composites against them.
const (
	CompositeWeightBasic        = 0.3
	CompositeWeightSEO          = 0.2
	CompositeWeightPersonalized = 0.5
)

// NeedsCategory tags a job with the audience need it serves.
type NeedsCategory string

const (
	NeedsDailyPayment  NeedsCategory = "daily_payment"
	NeedsWeeklyPayment NeedsCategory = "weekly_payment"
	NeedsHighIncome    NeedsCategory = "high_income"
	NeedsNoExperience  NeedsCategory = "no_experience"
	NeedsStudent       NeedsCategory = "student_welcome"
	NeedsRemote        NeedsCategory = "remote"
	NeedsTransport     NeedsCategory = "transport_supported"
)

// JobEnrichment is the per-job scoring result, regenerated each run. All
// scores live in [0, 100].
type JobEnrichment struct {
	JobID                int64           `json:"job_id" db:"job_id"`
	BasicScore           float64         `json:"basic_score" db:"basic_score"`
	SEOScore             float64         `json:"seo_score" db:"seo_score"`
	PersonalizedBase     float64         `json:"personalized_score_base" db:"personalized_score_base"`
	CompositeScore       float64         `json:"composite_score" db:"composite_score"`
	NeedsCategories      []NeedsCategory `json:"needs_categories"`
	Views30d             int             `json:"views_30d" db:"views_30d"`
	Clicks30d            int             `json:"clicks_30d" db:"clicks_30d"`
	Applications30d      int             `json:"applications_30d" db:"applications_30d"`
	NeedsRecalculation   bool            `json:"needs_recalculation" db:"needs_recalculation"`
	CalculatedAt         time.Time       `json:"calculated_at" db:"calculated_at"`
}

// Composite returns the weighted blend of the three component scores.
func Composite(basic, seo, personalizedBase float64) float64 {
	return CompositeWeightBasic*basic +
		CompositeWeightSEO*seo +
		CompositeWeightPersonalized*personalizedBase
}

// EmployerPopularity aggregates engagement per employer over the rolling
// popularity window (default 360 days).
type EmployerPopularity struct {
	EndclCd         string  `json:"endcl_cd" db:"endcl_cd"`
	Views360d       int     `json:"views_360d" db:"views_360d"`
	Clicks360d      int     `json:"clicks_360d" db:"clicks_360d"`
	Applications360d int    `json:"applications_360d" db:"applications_360d"`
	Views30d        int     `json:"views_30d" db:"views_30d"`
	Clicks30d       int     `json:"clicks_30d" db:"clicks_30d"`
	Applications30d int     `json:"applications_30d" db:"applications_30d"`
	Views7d         int     `json:"views_7d" db:"views_7d"`
	Clicks7d        int     `json:"clicks_7d" db:"clicks_7d"`
	Applications7d  int     `json:"applications_7d" db:"applications_7d"`
	ApplicationRate float64 `json:"application_rate" db:"application_rate"`
	PopularityScore float64 `json:"popularity_score" db:"popularity_score"`
}

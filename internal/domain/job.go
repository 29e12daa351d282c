package domain

import "time"

// SalaryType enumerates how a job's salary bounds are denominated.
type SalaryType string

const (
	SalaryHourly  SalaryType = "hourly"
	SalaryDaily   SalaryType = "daily"
	SalaryMonthly SalaryType = "monthly"
)

// High-income thresholds by salary type. A job qualifies when its minimum
// salary clears the bar for its denomination.
const (
	HighIncomeHourlyMin = 1500
	HighIncomeDailyMin  = 12000
)

// Feature codes recognized at ingest. Semantics are master-defined; these
// are the ones that materialize into derived flags.
const (
	FeatureDailyPayment   = "D01"
	FeatureWeeklyPayment  = "D02"
	FeatureNoExperience   = "E01"
	FeatureStudentWelcome = "S01"
	FeatureRemoteWork     = "R01"
	FeatureTransportation = "T01"
)

// Job is one posting from the daily feed, after validation and flag
// derivation. EndclCd identifies the employer (end client).
type Job struct {
	JobID           int64      `json:"job_id" db:"job_id"`
	EndclCd         string     `json:"endcl_cd" db:"endcl_cd"`
	CompanyName     string     `json:"company_name" db:"company_name"`
	ApplicationName string     `json:"application_name" db:"application_name"`
	PrefCd          string     `json:"pref_cd" db:"pref_cd"`
	CityCd          string     `json:"city_cd" db:"city_cd"`
	StationName     string     `json:"station_name_eki" db:"station_name_eki"`
	Latitude        *float64   `json:"latitude,omitempty" db:"latitude"`
	Longitude       *float64   `json:"longitude,omitempty" db:"longitude"`
	MinSalary       *int       `json:"min_salary,omitempty" db:"min_salary"`
	MaxSalary       *int       `json:"max_salary,omitempty" db:"max_salary"`
	SalaryType      SalaryType `json:"salary_type" db:"salary_type"`
	Fee             int        `json:"fee" db:"fee"`
	Hours           string     `json:"hours" db:"hours"`
	WorkDays        string     `json:"work_days" db:"work_days"`
	Description     string     `json:"description" db:"description"`
	Benefits        string     `json:"benefits" db:"benefits"`
	OccupationCd1   string     `json:"occupation_cd1" db:"occupation_cd1"`
	OccupationCd2   string     `json:"occupation_cd2" db:"occupation_cd2"`
	EmploymentType  int        `json:"employment_type_cd" db:"employment_type_cd"`
	FeatureCodes    []string   `json:"feature_codes" db:"feature_codes"`
	PostingDate     time.Time  `json:"posting_date" db:"posting_date"`
	EndAt           *time.Time `json:"end_at,omitempty" db:"end_at"`
	IsActive        bool       `json:"is_active" db:"is_active"`

	// Derived at ingest from feature codes and salary fields.
	HasDailyPayment   bool `json:"has_daily_payment" db:"has_daily_payment"`
	HasWeeklyPayment  bool `json:"has_weekly_payment" db:"has_weekly_payment"`
	HasNoExperience   bool `json:"has_no_experience" db:"has_no_experience"`
	HasStudentWelcome bool `json:"has_student_welcome" db:"has_student_welcome"`
	HasRemoteWork     bool `json:"has_remote_work" db:"has_remote_work"`
	HasTransportation bool `json:"has_transportation" db:"has_transportation"`
	HasHighIncome     bool `json:"has_high_income" db:"has_high_income"`
}

// AvgSalary returns the midpoint of the salary bounds, or 0 and false when
// the job carries no salary information.
func (j *Job) AvgSalary() (float64, bool) {
	if j.MinSalary == nil || j.MaxSalary == nil {
		return 0, false
	}
	return float64(*j.MinSalary+*j.MaxSalary) / 2, true
}

// DeriveHighIncome reports whether the salary fields clear the high-income
// bar: hourly >= 1500 or daily >= 12000, measured on min_salary.
func DeriveHighIncome(salaryType SalaryType, minSalary *int) bool {
	if minSalary == nil {
		return false
	}
	switch salaryType {
	case SalaryHourly:
		return *minSalary >= HighIncomeHourlyMin
	case SalaryDaily:
		return *minSalary >= HighIncomeDailyMin
	}
	return false
}

// Eligible reports whether the job may enter matching at the given instant:
// active, a matchable employment type, fee above the monetization floor and
// not expired.
func (j *Job) Eligible(now time.Time, feeMin int, validTypes map[int]bool) bool {
	if !j.IsActive {
		return false
	}
	if !validTypes[j.EmploymentType] {
		return false
	}
	if j.Fee <= feeMin {
		return false
	}
	if j.EndAt != nil && !j.EndAt.After(now) {
		return false
	}
	return true
}

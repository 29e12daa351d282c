package domain

import "time"

// FreqMap counts weighted occurrences per code (prefecture, city,
// occupation major, employment type or employer). Profiles carry these as
// typed maps; the serialized "code:count" shape never leaves the store.
type FreqMap map[string]int

// Max returns the largest count in the map, 0 when empty.
func (f FreqMap) Max() int {
	max := 0
	for _, c := range f {
		if c > max {
			max = c
		}
	}
	return max
}

// SalaryStats aggregates the salary midpoints of the jobs a user applied to.
type SalaryStats struct {
	Avg float64 `json:"avg"`
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// UserProfile is the per-user derived state the Matcher consumes. Frozen
// once the profile stage commits; matching never mutates it.
type UserProfile struct {
	UserID          int32       `json:"user_id" db:"user_id"`
	PrefFreq        FreqMap     `json:"pref_freq"`
	CityFreq        FreqMap     `json:"city_freq"`
	OccupationFreq  FreqMap     `json:"occupation_freq"`
	EmploymentFreq  FreqMap     `json:"employment_freq"`
	EmployerFreq    FreqMap     `json:"employer_freq"`
	Salary          *SalaryStats `json:"salary,omitempty"`
	ApplicationCount int        `json:"application_count" db:"application_count"`
	ClickCount       int        `json:"click_count" db:"click_count"`
	ViewCount        int        `json:"view_count" db:"view_count"`
	LastApplication  *time.Time `json:"last_application,omitempty" db:"last_application_date"`

	// Employers the user applied to within the recent window (default 14
	// days). Jobs from these employers take the repeat-contact penalty.
	RecentEmployers map[string]bool `json:"recent_employers"`
}

// IsEmpty reports whether the profile carries no preference signal at all,
// in which case the Matcher substitutes the neutral affinity.
func (p *UserProfile) IsEmpty() bool {
	return len(p.PrefFreq) == 0 && len(p.CityFreq) == 0 &&
		len(p.OccupationFreq) == 0 && len(p.EmploymentFreq) == 0 &&
		len(p.EmployerFreq) == 0 && p.Salary == nil
}

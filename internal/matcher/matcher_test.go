package matcher

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/jobmail/internal/domain"
	"github.com/ignite/jobmail/internal/masters"
)

var now = time.Date(2026, 8, 26, 6, 0, 0, 0, time.UTC)

func testCache() *masters.Cache {
	return masters.NewStatic(
		[]masters.Prefecture{
			{Code: "13", Region: "関東"},
			{Code: "14", Region: "関東"},
		},
		[]masters.City{
			{Code: "13101", PrefCd: "13", AdjacentCityCodes: []string{"13102"}},
			{Code: "13102", PrefCd: "13", AdjacentCityCodes: []string{"13101"}},
			{Code: "14101", PrefCd: "14"},
		},
		[]masters.Occupation{{Code: "100"}, {Code: "200"}},
		[]masters.EmploymentType{{Code: 1}, {Code: 3}},
		[]masters.Feature{{Code: "D01"}},
		nil,
	)
}

func job(id int64, endcl, pref, city, occ string, minSal int) *domain.Job {
	maxSal := minSal + 200
	return &domain.Job{
		JobID: id, EndclCd: endcl, PrefCd: pref, CityCd: city,
		OccupationCd1: occ, EmploymentType: 1,
		MinSalary: &minSal, MaxSalary: &maxSal, SalaryType: domain.SalaryHourly,
		Fee: 2000, PostingDate: now.AddDate(0, 0, -3), IsActive: true,
	}
}

func enrichment(id int64, composite float64) domain.JobEnrichment {
	return domain.JobEnrichment{JobID: id, CompositeScore: composite}
}

func appliedProfile() *domain.UserProfile {
	return &domain.UserProfile{
		UserID:          1,
		PrefFreq:        domain.FreqMap{"13": 3},
		CityFreq:        domain.FreqMap{"13101": 3},
		OccupationFreq:  domain.FreqMap{"100": 3},
		EmploymentFreq:  domain.FreqMap{"1": 3},
		EmployerFreq:    domain.FreqMap{"E2": 3},
		Salary:          &domain.SalaryStats{Avg: 1400, Min: 1300, Max: 1500},
		RecentEmployers: map[string]bool{},
	}
}

func emptyProfile() *domain.UserProfile {
	return &domain.UserProfile{
		UserID: 2,
		PrefFreq: domain.FreqMap{}, CityFreq: domain.FreqMap{},
		OccupationFreq: domain.FreqMap{}, EmploymentFreq: domain.FreqMap{},
		EmployerFreq:    domain.FreqMap{},
		RecentEmployers: map[string]bool{},
	}
}

func TestNeutralAffinityForNewUser(t *testing.T) {
	calc := newAffinityCalc(emptyProfile(), testCache())
	j := job(1, "E1", "13", "13101", "100", 1400)
	assert.InDelta(t, 50, calc.score(j), 1e-9)
}

func TestAffinityPrefersMatchingJob(t *testing.T) {
	calc := newAffinityCalc(appliedProfile(), testCache())

	match := job(1, "E2", "13", "13101", "100", 1400)
	miss := job(2, "E9", "14", "14101", "200", 2500)
	miss.EmploymentType = 3

	sMatch := calc.score(match)
	sMiss := calc.score(miss)
	assert.Greater(t, sMatch, 90.0, "full match across every component")
	assert.Less(t, sMiss, 10.0)
}

func TestCityAdjacencyHalfCredit(t *testing.T) {
	calc := newAffinityCalc(appliedProfile(), testCache())

	direct := calc.cityComponent("13101")
	adjacent := calc.cityComponent("13102")
	elsewhere := calc.cityComponent("14101")

	assert.InDelta(t, 100, direct, 1e-9)
	assert.InDelta(t, 50, adjacent, 1e-9, "adjacent city earns half credit")
	assert.Zero(t, elsewhere)
}

func TestSalaryGaussian(t *testing.T) {
	calc := newAffinityCalc(appliedProfile(), testCache())

	// sigma = max(200, 1400*0.15) = 210
	assert.InDelta(t, 100, calc.salaryComponent(1400), 1e-9)
	oneSigma := calc.salaryComponent(1400 + 210)
	assert.InDelta(t, 100*0.36787944117, oneSigma, 1e-6)
	assert.Less(t, calc.salaryComponent(3000), 1.0)
}

func TestMissingJobFieldsRenormalize(t *testing.T) {
	calc := newAffinityCalc(appliedProfile(), testCache())

	full := job(1, "E2", "13", "13101", "100", 1400)
	noSalary := job(2, "E2", "13", "13101", "100", 1400)
	noSalary.MinSalary, noSalary.MaxSalary = nil, nil

	// Every present component is at its maximum, so dropping the salary
	// slot must not change the renormalized average.
	assert.InDelta(t, calc.score(full), calc.score(noSalary), 1e-6)
}

func TestTopKRankingAndPenalty(t *testing.T) {
	corpus := []*domain.Job{
		job(1, "E1", "13", "13101", "100", 1400),
		job(2, "E2", "13", "13102", "100", 1200),
		job(3, "E3", "14", "14101", "200", 1300),
	}
	enr := map[int64]domain.JobEnrichment{
		1: enrichment(1, 80),
		2: enrichment(2, 70),
		3: enrichment(3, 60),
	}
	engine := NewEngine(corpus, enr, testCache(), Options{})

	// Scenario: user in 13101 with history at E2, outside the 14-day
	// window. J1 wins on composite + location affinity.
	profile := appliedProfile()
	got := engine.TopK(profile)
	require.Len(t, got, 3)
	assert.Equal(t, int64(1), got[0].Job.JobID)
	for _, c := range got {
		assert.False(t, c.RecentEmployer)
	}

	// Same user applies to E2 three days ago: J2's score collapses by 10x
	// but the job still surfaces at the bottom.
	profile.RecentEmployers["E2"] = true
	withPenalty := engine.TopK(profile)
	require.Len(t, withPenalty, 3)
	assert.Equal(t, int64(1), withPenalty[0].Job.JobID)
	assert.Equal(t, int64(2), withPenalty[2].Job.JobID, "penalized job sinks to the bottom")
	assert.True(t, withPenalty[2].RecentEmployer)

	var unpenalized float64
	for _, c := range got {
		if c.Job.JobID == 2 {
			unpenalized = c.Score
		}
	}
	assert.InDelta(t, unpenalized*0.1, withPenalty[2].Score, 1e-9)
}

func TestTopKTruncates(t *testing.T) {
	var corpus []*domain.Job
	enr := map[int64]domain.JobEnrichment{}
	for i := int64(1); i <= 50; i++ {
		corpus = append(corpus, job(i, fmt.Sprintf("E%d", i), "13", "13101", "100", 1200))
		enr[i] = enrichment(i, float64(i))
	}
	engine := NewEngine(corpus, enr, testCache(), Options{TopK: 10})

	got := engine.TopK(emptyProfile())
	require.Len(t, got, 10)
	// Neutral affinity everywhere: order follows composite desc.
	assert.Equal(t, int64(50), got[0].Job.JobID)
	assert.Equal(t, int64(41), got[9].Job.JobID)
}

func TestTieBreakDeterminism(t *testing.T) {
	early := now.AddDate(0, 0, -10)
	late := now.AddDate(0, 0, -1)

	a := job(10, "EA", "13", "13101", "100", 1200)
	a.PostingDate = early
	b := job(5, "EB", "13", "13101", "100", 1200)
	b.PostingDate = late
	c := job(2, "EC", "13", "13101", "100", 1200)
	c.PostingDate = late

	enr := map[int64]domain.JobEnrichment{
		10: enrichment(10, 60), 5: enrichment(5, 60), 2: enrichment(2, 60),
	}
	engine := NewEngine([]*domain.Job{a, b, c}, enr, testCache(), Options{})

	got := engine.TopK(emptyProfile())
	require.Len(t, got, 3)
	// Equal score and composite: newer posting first, then lower job ID.
	assert.Equal(t, int64(2), got[0].Job.JobID)
	assert.Equal(t, int64(5), got[1].Job.JobID)
	assert.Equal(t, int64(10), got[2].Job.JobID)
}

func TestMappings(t *testing.T) {
	corpus := []*domain.Job{job(1, "E1", "13", "13101", "100", 1400)}
	enr := map[int64]domain.JobEnrichment{1: enrichment(1, 80)}
	engine := NewEngine(corpus, enr, testCache(), Options{})

	cands := engine.TopK(emptyProfile())
	rows := Mappings(7, cands, now)
	require.Len(t, rows, 1)
	assert.Equal(t, int32(7), rows[0].UserID)
	assert.Equal(t, int64(1), rows[0].JobID)
	assert.Equal(t, 1, rows[0].Rank)
	assert.InDelta(t, 0.55*80+0.45*50, rows[0].Score, 1e-9)
}

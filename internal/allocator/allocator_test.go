package allocator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/jobmail/internal/domain"
	"github.com/ignite/jobmail/internal/masters"
	"github.com/ignite/jobmail/internal/matcher"
)

var now = time.Date(2026, 8, 26, 6, 0, 0, 0, time.UTC)

func testCache() *masters.Cache {
	return masters.NewStatic(
		[]masters.Prefecture{
			{Code: "13", Region: "関東"},
			{Code: "14", Region: "関東"},
			{Code: "27", Region: "近畿"},
		},
		[]masters.City{
			{Code: "13101", PrefCd: "13", AdjacentCityCodes: []string{"13102"}},
			{Code: "13102", PrefCd: "13", AdjacentCityCodes: []string{"13101"}},
			{Code: "13103", PrefCd: "13"},
			{Code: "14101", PrefCd: "14"},
			{Code: "27101", PrefCd: "27"},
		},
		[]masters.Occupation{{Code: "100"}},
		[]masters.EmploymentType{{Code: 1}},
		[]masters.Feature{{Code: "D01"}},
		nil,
	)
}

type jobSpec struct {
	id         int64
	endcl      string
	pref, city string
	fee        int
	apps30     int
	highIncome bool
	daily      bool
	postedDays int // days before now
	score      float64
}

func buildCandidates(specs []jobSpec) []matcher.Candidate {
	out := make([]matcher.Candidate, 0, len(specs))
	for _, s := range specs {
		min, max := 1200, 1400
		j := &domain.Job{
			JobID: s.id, EndclCd: s.endcl, PrefCd: s.pref, CityCd: s.city,
			Fee: s.fee, EmploymentType: 1, IsActive: true,
			MinSalary: &min, MaxSalary: &max, SalaryType: domain.SalaryHourly,
			PostingDate:     now.AddDate(0, 0, -s.postedDays),
			HasHighIncome:   s.highIncome,
			HasDailyPayment: s.daily,
		}
		out = append(out, matcher.Candidate{
			Job:        j,
			Enrichment: domain.JobEnrichment{JobID: s.id, Applications30d: s.apps30, CompositeScore: s.score},
			Affinity:   50,
			Score:      s.score,
		})
	}
	matcher.SortCandidates(out)
	return out
}

// richCorpus produces 60 varied jobs so every section can fill from its
// own predicate.
func richCorpus() []matcher.Candidate {
	var specs []jobSpec
	for i := int64(1); i <= 60; i++ {
		s := jobSpec{
			id:    i,
			endcl: "E" + string(rune('A'+i%8)),
			pref:  "13", city: "13101",
			fee:        1000 + int(i)*30,
			apps30:     int(i % 5),
			postedDays: int(i % 20),
			score:      100 - float64(i),
		}
		switch {
		case i%4 == 1:
			s.city = "13102"
		case i%4 == 2:
			s.city = "13103"
		case i%4 == 3:
			s.pref, s.city = "14", "14101"
		}
		if i%3 == 0 {
			s.highIncome = true
		}
		if i%5 == 0 {
			s.daily = true
		}
		specs = append(specs, s)
	}
	return buildCandidates(specs)
}

func defaultOptions() Options {
	return Options{
		Quotas: Quotas{Editorial: 5, Top5: 5, Regional: 10, Nearby: 8, HighIncome: 7, New: 5},
	}
}

func testUser() *domain.User {
	return &domain.User{UserID: 1, PrefCd: "13", CityCd: "13101", IsActive: true, IsSubscribed: true}
}

func testProfile() *domain.UserProfile {
	return &domain.UserProfile{UserID: 1, RecentEmployers: map[string]bool{}}
}

func TestAllocateFortyDistinctPicks(t *testing.T) {
	all := richCorpus()
	a := New(testCache(), nil, defaultOptions())

	res := a.Allocate(testUser(), testProfile(), all[:50], all, now, now)
	require.Len(t, res.Picks, 40)
	assert.False(t, res.LowInventory)

	seen := map[int64]bool{}
	perSection := map[domain.Section]int{}
	for _, p := range res.Picks {
		assert.False(t, seen[p.JobID], "job %d picked twice", p.JobID)
		seen[p.JobID] = true
		perSection[p.Section]++
	}
	assert.Equal(t, 5, perSection[domain.SectionEditorial])
	assert.Equal(t, 5, perSection[domain.SectionTop5])
	assert.Equal(t, 10, perSection[domain.SectionRegional])
	assert.Equal(t, 8, perSection[domain.SectionNearby])
	assert.Equal(t, 7, perSection[domain.SectionHighIncome])
	assert.Equal(t, 5, perSection[domain.SectionNew])
}

func TestSectionRankIsOneBasedAndOrdered(t *testing.T) {
	all := richCorpus()
	a := New(testCache(), nil, defaultOptions())

	res := a.Allocate(testUser(), testProfile(), all, all, now, now)

	ranks := map[domain.Section][]int{}
	for _, p := range res.Picks {
		ranks[p.Section] = append(ranks[p.Section], p.SectionRank)
	}
	for section, rs := range ranks {
		for i, r := range rs {
			assert.Equal(t, i+1, r, "section %s rank order", section)
		}
	}
}

func TestPredicates(t *testing.T) {
	all := richCorpus()
	a := New(testCache(), nil, defaultOptions())

	res := a.Allocate(testUser(), testProfile(), all, all, now, now)

	byID := map[int64]matcher.Candidate{}
	for _, c := range all {
		byID[c.Job.JobID] = c
	}

	// Widened picks still satisfy a superset of the predicate; borrowed
	// fallbacks satisfy none, so they are skipped here.
	newCutoff := now.AddDate(0, 0, -14)
	for _, p := range res.Picks {
		if p.PickReason == domain.PickReasonFallback {
			continue
		}
		c := byID[p.JobID]
		switch p.Section {
		case domain.SectionRegional:
			assert.Equal(t, "関東", testCache().Region(c.Job.PrefCd))
		case domain.SectionNearby:
			assert.Equal(t, "13", c.Job.PrefCd)
		case domain.SectionNew:
			assert.False(t, c.Job.PostingDate.Before(newCutoff))
		case domain.SectionEditorial:
			assert.Greater(t, c.Job.Fee*c.Enrichment.Applications30d, 0)
		}
	}
}

func TestNewSectionSortsByPostingDate(t *testing.T) {
	all := richCorpus()
	a := New(testCache(), nil, defaultOptions())

	res := a.Allocate(testUser(), testProfile(), all, all, now, now)

	var prev *time.Time
	byID := map[int64]matcher.Candidate{}
	for _, c := range all {
		byID[c.Job.JobID] = c
	}
	for _, p := range res.Picks {
		if p.Section != domain.SectionNew || p.PickReason != "" {
			continue
		}
		posted := byID[p.JobID].Job.PostingDate
		if prev != nil {
			assert.False(t, posted.After(*prev), "new section must be newest first")
		}
		prev = &posted
	}
}

func TestEditorialExcludesRecentEmployers(t *testing.T) {
	all := buildCandidates([]jobSpec{
		{id: 1, endcl: "FRESH", pref: "13", city: "13101", fee: 3000, apps30: 10, score: 90},
		{id: 2, endcl: "RECENT", pref: "13", city: "13101", fee: 4000, apps30: 20, score: 95},
		{id: 3, endcl: "FRESH", pref: "13", city: "13101", fee: 2000, apps30: 5, score: 80},
	})
	opts := Options{Quotas: Quotas{Editorial: 2, Top5: 1}}
	a := New(testCache(), nil, opts)

	profile := testProfile()
	profile.RecentEmployers["RECENT"] = true

	res := a.Allocate(testUser(), profile, all, all, now, now)

	editorial := map[int64]bool{}
	for _, p := range res.Picks {
		if p.Section == domain.SectionEditorial {
			editorial[p.JobID] = true
		}
	}
	assert.True(t, editorial[1])
	assert.True(t, editorial[3])
	assert.False(t, editorial[2], "recently applied employer cannot be editorial")
}

func TestEditorialSortsByBidTimesConversionTimesProximity(t *testing.T) {
	// Same fee·apps product except proximity differs.
	all := buildCandidates([]jobSpec{
		{id: 1, endcl: "A", pref: "13", city: "13103", fee: 1000, apps30: 10, score: 50}, // same pref: 0.5
		{id: 2, endcl: "B", pref: "13", city: "13101", fee: 1000, apps30: 10, score: 40}, // same city: 1.0
		{id: 3, endcl: "C", pref: "13", city: "13102", fee: 1000, apps30: 10, score: 60}, // adjacent: 0.7
	})
	opts := Options{Quotas: Quotas{Editorial: 3}}
	a := New(testCache(), nil, opts)

	res := a.Allocate(testUser(), testProfile(), all, all, now, now)
	require.Len(t, res.Picks, 3)
	assert.Equal(t, int64(2), res.Picks[0].JobID)
	assert.Equal(t, int64(3), res.Picks[1].JobID)
	assert.Equal(t, int64(1), res.Picks[2].JobID)
}

func TestLowInventory(t *testing.T) {
	// 25 eligible jobs for a 40-pick layout.
	var specs []jobSpec
	for i := int64(1); i <= 25; i++ {
		specs = append(specs, jobSpec{
			id: i, endcl: "E1", pref: "13", city: "13101",
			fee: 2000, apps30: 1, postedDays: 3, score: float64(i),
		})
	}
	all := buildCandidates(specs)
	a := New(testCache(), nil, defaultOptions())

	res := a.Allocate(testUser(), testProfile(), all, all, now, now)
	assert.Len(t, res.Picks, 25, "picks equal the corpus when inventory is short")
	assert.True(t, res.LowInventory)

	seen := map[int64]bool{}
	for _, p := range res.Picks {
		assert.False(t, seen[p.JobID])
		seen[p.JobID] = true
	}
}

func TestFallbackBorrowTagsReason(t *testing.T) {
	// Nothing is high income or daily payment and nothing is fresh, but
	// inventory is plentiful: those sections must borrow and tag.
	var specs []jobSpec
	for i := int64(1); i <= 50; i++ {
		specs = append(specs, jobSpec{
			id: i, endcl: "E1", pref: "13", city: "13101",
			fee: 2000, apps30: 1, postedDays: 30, score: float64(i),
		})
	}
	all := buildCandidates(specs)
	a := New(testCache(), nil, defaultOptions())

	res := a.Allocate(testUser(), testProfile(), all, all, now, now)
	require.Len(t, res.Picks, 40)
	assert.True(t, res.UsedFallback)

	fallbacks := 0
	for _, p := range res.Picks {
		if p.Section == domain.SectionHighIncome {
			assert.Equal(t, domain.PickReasonFallback, p.PickReason)
			fallbacks++
		}
	}
	assert.Equal(t, 7, fallbacks)
}

func TestBorrowTakesHighestScoreFirst(t *testing.T) {
	// No candidate has recent applications, so editorial starves and must
	// borrow. Borrowing ignores the editorial sort key and takes the
	// best-scored candidates instead.
	all := buildCandidates([]jobSpec{
		{id: 1, endcl: "A", pref: "13", city: "13101", fee: 2000, apps30: 0, score: 10},
		{id: 2, endcl: "B", pref: "13", city: "13101", fee: 2000, apps30: 0, score: 50},
		{id: 3, endcl: "C", pref: "13", city: "13101", fee: 2000, apps30: 0, score: 90},
	})
	a := New(testCache(), nil, Options{Quotas: Quotas{Editorial: 2}})

	res := a.Allocate(testUser(), testProfile(), all, all, now, now)
	require.Len(t, res.Picks, 2)
	assert.True(t, res.UsedFallback)

	assert.Equal(t, int64(3), res.Picks[0].JobID)
	assert.Equal(t, int64(2), res.Picks[1].JobID)
	for _, p := range res.Picks {
		assert.Equal(t, domain.PickReasonFallback, p.PickReason)
	}
}

func TestNewSectionWidensToTwoWeeks(t *testing.T) {
	// Three jobs inside 7 days, the rest 10 days old: the new section
	// relaxes to 14 days before borrowing.
	var specs []jobSpec
	for i := int64(1); i <= 10; i++ {
		days := 10
		if i <= 3 {
			days = 2
		}
		specs = append(specs, jobSpec{
			id: i, endcl: "E1", pref: "13", city: "13101",
			fee: 2000, apps30: 1, postedDays: days, score: float64(i),
		})
	}
	all := buildCandidates(specs)
	a := New(testCache(), nil, Options{Quotas: Quotas{New: 5}})

	res := a.Allocate(testUser(), testProfile(), all, all, now, now)
	require.Len(t, res.Picks, 5)
	for _, p := range res.Picks {
		assert.Empty(t, p.PickReason, "widened picks are not fallback borrows")
	}
}

func TestUserWithoutLocation(t *testing.T) {
	all := richCorpus()
	a := New(testCache(), nil, defaultOptions())

	user := &domain.User{UserID: 9}
	res := a.Allocate(user, testProfile(), all, all, now, now)
	assert.Len(t, res.Picks, 40, "regional and nearby borrow when location is unknown")
	assert.True(t, res.UsedFallback)
}

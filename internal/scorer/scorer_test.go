package scorer

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/jobmail/internal/domain"
	"github.com/ignite/jobmail/internal/masters"
)

var now = time.Date(2026, 8, 26, 6, 0, 0, 0, time.UTC)

type fakeEngagement struct {
	data map[int64]Engagement
}

func (f *fakeEngagement) JobEngagement30d(_ context.Context, _, _ time.Time) (map[int64]Engagement, error) {
	return f.data, nil
}

type fakeSink struct {
	enrichments []domain.JobEnrichment
	areaRows    []AreaSalary
}

func (f *fakeSink) SaveEnrichments(_ context.Context, rows []domain.JobEnrichment) error {
	f.enrichments = rows
	return nil
}

func (f *fakeSink) SaveAreaStats(_ context.Context, rows []AreaSalary) error {
	f.areaRows = rows
	return nil
}

func TestFeeComponent(t *testing.T) {
	assert.Equal(t, 0.0, feeComponent(500))
	assert.Equal(t, 0.0, feeComponent(100))
	assert.Equal(t, 100.0, feeComponent(5000))
	assert.Equal(t, 100.0, feeComponent(9000))
	assert.InDelta(t, 50, feeComponent(2750), 1e-9)
}

func TestPersonalizedBase(t *testing.T) {
	s := New(seoCache(), nil, nil, Options{})

	assert.Zero(t, s.PersonalizedBase(Engagement{}))
	// (25 + 0.2*50)/50 = 0.7
	assert.InDelta(t, 70, s.PersonalizedBase(Engagement{Applications: 25, Clicks: 50}), 1e-9)
	// Saturates at k applications.
	assert.Equal(t, 100.0, s.PersonalizedBase(Engagement{Applications: 50}))
	assert.Equal(t, 100.0, s.PersonalizedBase(Engagement{Applications: 500, Clicks: 1000}))
}

func TestBasicScoreUsesDefaultPopularity(t *testing.T) {
	s := New(seoCache(), nil, nil, Options{})
	job := salariedJob(1, "13", "13101", 1200, 1400)
	job.Fee = 500
	area := BuildAreaStats([]*domain.Job{job}, 1)

	// Single job: wage spread is zero → neutral 50. Fee at floor → 0.
	// Unknown employer → default popularity 30.
	got := s.BasicScore(job, area, map[string]domain.EmployerPopularity{})
	assert.InDelta(t, 0.4*50+0.3*0+0.3*30, got, 1e-9)

	// Known employer swaps in its popularity score.
	job.EndclCd = "E1"
	got = s.BasicScore(job, area, map[string]domain.EmployerPopularity{
		"E1": {EndclCd: "E1", PopularityScore: 80},
	})
	assert.InDelta(t, 0.4*50+0.3*0+0.3*80, got, 1e-9)
}

func TestWageComponentPositioning(t *testing.T) {
	s := New(seoCache(), nil, nil, Options{})
	corpus := []*domain.Job{
		salariedJob(1, "13", "13101", 1000, 1000), // mid 1000
		salariedJob(2, "13", "13101", 2000, 2000), // mid 2000
	}
	area := BuildAreaStats(corpus, 1)

	assert.InDelta(t, 0, s.wageComponent(corpus[0], area), 1e-9)
	assert.InDelta(t, 100, s.wageComponent(corpus[1], area), 1e-9)

	midJob := salariedJob(3, "13", "13101", 1500, 1500)
	assert.InDelta(t, 50, s.wageComponent(midJob, area), 1e-9)

	noSalary := &domain.Job{JobID: 4, PrefCd: "13", CityCd: "13101"}
	assert.InDelta(t, 50, s.wageComponent(noSalary, area), 1e-9)
}

func TestNeedsCategories(t *testing.T) {
	job := &domain.Job{
		HasDailyPayment:   true,
		HasHighIncome:     true,
		HasStudentWelcome: true,
	}
	got := NeedsCategories(job)
	assert.ElementsMatch(t, []domain.NeedsCategory{
		domain.NeedsDailyPayment, domain.NeedsHighIncome, domain.NeedsStudent,
	}, got)

	assert.Empty(t, NeedsCategories(&domain.Job{}))
}

func TestRunProducesBoundedDeterministicScores(t *testing.T) {
	var jobs []*domain.Job
	for i := int64(1); i <= 50; i++ {
		j := salariedJob(i, "13", "13101", 1000+int(i)*20, 1200+int(i)*20)
		j.EndclCd = "E1"
		j.Fee = 1000 + int(i)*50
		j.ApplicationName = "カフェスタッフ"
		if i%2 == 0 {
			j.HasDailyPayment = true
		}
		jobs = append(jobs, j)
	}
	pop := map[string]domain.EmployerPopularity{"E1": {EndclCd: "E1", PopularityScore: 65}}
	eng := &fakeEngagement{data: map[int64]Engagement{1: {Applications: 10, Clicks: 30}}}

	var runs []map[int64]domain.JobEnrichment
	for i := 0; i < 2; i++ {
		sink := &fakeSink{}
		s := New(seoCache(masters.Keyword{Keyword: "カフェ", SearchVolume: 12000}), eng, sink, Options{Workers: 4})
		got, err := s.Run(context.Background(), jobs, pop, now)
		require.NoError(t, err)
		require.Len(t, got, 50)
		require.Len(t, sink.enrichments, 50)
		require.NotEmpty(t, sink.areaRows)
		runs = append(runs, got)
	}

	for id, e := range runs[0] {
		assert.GreaterOrEqual(t, e.BasicScore, 0.0)
		assert.LessOrEqual(t, e.BasicScore, 100.0)
		assert.GreaterOrEqual(t, e.SEOScore, 0.0)
		assert.LessOrEqual(t, e.SEOScore, 100.0)
		assert.GreaterOrEqual(t, e.PersonalizedBase, 0.0)
		assert.LessOrEqual(t, e.PersonalizedBase, 100.0)
		assert.InDelta(t,
			0.3*e.BasicScore+0.2*e.SEOScore+0.5*e.PersonalizedBase,
			e.CompositeScore, 1e-6)

		// Determinism across runs.
		assert.Equal(t, runs[1][id], e)
	}

	// The one engaged job carries a positive personalized base.
	assert.InDelta(t, 100*(10+0.2*30)/50.0, runs[0][1].PersonalizedBase, 1e-9)
	assert.Zero(t, runs[0][2].PersonalizedBase)
}

// Package scorer produces the per-job enrichment: basic, SEO and
// personalized-base scores plus needs categories. Everything it reads is
// frozen before it runs; workers share no mutable state.
package scorer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ignite/jobmail/internal/domain"
	"github.com/ignite/jobmail/internal/masters"
	"github.com/ignite/jobmail/internal/pkg/logger"
)

// Basic score component weights: wage, employer bid, employer popularity.
const (
	basicWeightWage       = 0.40
	basicWeightFee        = 0.30
	basicWeightPopularity = 0.30
)

// Fee component anchors: 0 points at the eligibility floor, 100 at the cap.
const (
	feeFloor = 500
	feeCap   = 5000
)

// Engagement carries a job's rolling 30-day counters.
type Engagement struct {
	Views        int
	Clicks       int
	Applications int
}

// EngagementSource supplies per-job 30-day counters from action history.
type EngagementSource interface {
	JobEngagement30d(ctx context.Context, since, now time.Time) (map[int64]Engagement, error)
}

// Sink persists enrichments and the area salary table.
type Sink interface {
	SaveEnrichments(ctx context.Context, rows []domain.JobEnrichment) error
	SaveAreaStats(ctx context.Context, rows []AreaSalary) error
}

// Options are the scorer tunables.
type Options struct {
	Workers           int     // shard count, default 8
	AreaMinJobs       int     // city-tier trust threshold, default 20
	DefaultPopularity float64 // employer score when unknown, default 30
	PersonalizedK     float64 // conversion saturation constant, default 50
	SEOKeywordLimit   int     // matched keyword cap, default 7
}

// Scorer computes enrichment rows for the eligible corpus.
type Scorer struct {
	cache      *masters.Cache
	engagement EngagementSource
	sink       Sink
	opts       Options
}

// New creates a scorer with defaults filled in.
func New(cache *masters.Cache, engagement EngagementSource, sink Sink, opts Options) *Scorer {
	if opts.Workers <= 0 {
		opts.Workers = 8
	}
	if opts.AreaMinJobs <= 0 {
		opts.AreaMinJobs = 20
	}
	if opts.DefaultPopularity <= 0 {
		opts.DefaultPopularity = 30
	}
	if opts.PersonalizedK <= 0 {
		opts.PersonalizedK = 50
	}
	return &Scorer{cache: cache, engagement: engagement, sink: sink, opts: opts}
}

// Run scores every job and persists the enrichment table, returning the
// rows keyed by job ID for the matcher. Deterministic: unchanged inputs
// produce identical scores.
func (s *Scorer) Run(ctx context.Context, jobs []*domain.Job,
	popularity map[string]domain.EmployerPopularity, now time.Time) (map[int64]domain.JobEnrichment, error) {

	started := time.Now()

	since := now.AddDate(0, 0, -30)
	engagement, err := s.engagement.JobEngagement30d(ctx, since, now)
	if err != nil {
		return nil, fmt.Errorf("job engagement scan: %w", err)
	}

	area := BuildAreaStats(jobs, s.opts.AreaMinJobs)
	if err := s.sink.SaveAreaStats(ctx, area.All()); err != nil {
		return nil, fmt.Errorf("persist area stats: %w", err)
	}

	seo := NewSEOScorer(s.cache, s.opts.SEOKeywordLimit)

	shards := make([][]*domain.Job, s.opts.Workers)
	for _, j := range jobs {
		w := int(uint64(j.JobID)) % s.opts.Workers
		shards[w] = append(shards[w], j)
	}

	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		out = make(map[int64]domain.JobEnrichment, len(jobs))
	)
	for w := 0; w < s.opts.Workers; w++ {
		if len(shards[w]) == 0 {
			continue
		}
		wg.Add(1)
		go func(shard []*domain.Job) {
			defer wg.Done()
			local := make([]domain.JobEnrichment, 0, len(shard))
			for _, j := range shard {
				if ctx.Err() != nil {
					return
				}
				local = append(local, s.scoreJob(j, area, seo, popularity, engagement[j.JobID], now))
			}
			mu.Lock()
			for _, e := range local {
				out[e.JobID] = e
			}
			mu.Unlock()
		}(shards[w])
	}
	wg.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	rows := make([]domain.JobEnrichment, 0, len(out))
	for _, e := range out {
		rows = append(rows, e)
	}
	if err := s.sink.SaveEnrichments(ctx, rows); err != nil {
		return nil, fmt.Errorf("persist enrichments: %w", err)
	}

	logger.Stage("scorer", started, time.Now(), len(jobs), len(rows))
	return out, nil
}

func (s *Scorer) scoreJob(j *domain.Job, area *AreaStats, seo *SEOScorer,
	popularity map[string]domain.EmployerPopularity, eng Engagement, now time.Time) domain.JobEnrichment {

	basic := s.BasicScore(j, area, popularity)
	seoScore := seo.Score(j)
	base := s.PersonalizedBase(eng)

	return domain.JobEnrichment{
		JobID:            j.JobID,
		BasicScore:       basic,
		SEOScore:         seoScore,
		PersonalizedBase: base,
		CompositeScore:   domain.Composite(basic, seoScore, base),
		NeedsCategories:  NeedsCategories(j),
		Views30d:         eng.Views,
		Clicks30d:        eng.Clicks,
		Applications30d:  eng.Applications,
		CalculatedAt:     now,
	}
}

// BasicScore blends wage position, employer bid and employer popularity
// into [0, 100].
func (s *Scorer) BasicScore(j *domain.Job, area *AreaStats,
	popularity map[string]domain.EmployerPopularity) float64 {

	wage := s.wageComponent(j, area)
	fee := feeComponent(j.Fee)

	pop := s.opts.DefaultPopularity
	if p, ok := popularity[j.EndclCd]; ok {
		pop = p.PopularityScore
	}

	return clamp(basicWeightWage*wage + basicWeightFee*fee + basicWeightPopularity*pop)
}

// wageComponent positions the job's salary midpoint within its area's
// spread. Jobs without salary sit at the neutral 50: missing data should
// neither punish nor reward.
func (s *Scorer) wageComponent(j *domain.Job, area *AreaStats) float64 {
	mid, ok := j.AvgSalary()
	if !ok {
		return 50
	}
	e := area.Resolve(j.PrefCd, j.CityCd)
	spread := e.Max - e.Min
	if e.Count == 0 || spread <= 0 {
		return 50
	}
	return clamp(100 * (mid - e.Min) / spread)
}

// feeComponent is piecewise linear: 0 at fee <= 500, 100 at fee >= 5000.
func feeComponent(fee int) float64 {
	if fee <= feeFloor {
		return 0
	}
	if fee >= feeCap {
		return 100
	}
	return 100 * float64(fee-feeFloor) / float64(feeCap-feeFloor)
}

// PersonalizedBase is the population-level conversion signal: does anyone
// actually apply from this posting, independent of the viewer.
func (s *Scorer) PersonalizedBase(eng Engagement) float64 {
	v := (float64(eng.Applications) + 0.2*float64(eng.Clicks)) / s.opts.PersonalizedK
	if v > 1 {
		v = 1
	}
	return 100 * v
}

// NeedsCategories tags the job with every audience need it serves.
func NeedsCategories(j *domain.Job) []domain.NeedsCategory {
	var out []domain.NeedsCategory
	if j.HasDailyPayment {
		out = append(out, domain.NeedsDailyPayment)
	}
	if j.HasWeeklyPayment {
		out = append(out, domain.NeedsWeeklyPayment)
	}
	if j.HasHighIncome {
		out = append(out, domain.NeedsHighIncome)
	}
	if j.HasNoExperience {
		out = append(out, domain.NeedsNoExperience)
	}
	if j.HasStudentWelcome {
		out = append(out, domain.NeedsStudent)
	}
	if j.HasRemoteWork {
		out = append(out, domain.NeedsRemote)
	}
	if j.HasTransportation {
		out = append(out, domain.NeedsTransport)
	}
	return out
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

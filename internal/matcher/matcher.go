// Package matcher ranks the eligible corpus per user: it blends the shared
// job composite with user affinity, applies the recent-employer penalty and
// keeps the top K candidates for section allocation.
package matcher

import (
	"sort"
	"time"

	"github.com/ignite/jobmail/internal/domain"
	"github.com/ignite/jobmail/internal/masters"
)

// Candidate is one scored (user, job) pair.
type Candidate struct {
	Job            *domain.Job
	Enrichment     domain.JobEnrichment
	Affinity       float64
	Score          float64
	RecentEmployer bool
}

// Options are the matcher tunables.
type Options struct {
	TopK           int     // candidates kept per user, default 200
	JobWeight      float64 // weight on the shared job composite, default 0.55
	AffinityWeight float64 // weight on per-user affinity, default 0.45
	RecentPenalty  float64 // multiplier for recent employers, default 0.1
}

// Engine scores users against a frozen corpus. Safe for concurrent use:
// all shared state is read-only after construction.
type Engine struct {
	corpus      []*domain.Job
	enrichments map[int64]domain.JobEnrichment
	cache       *masters.Cache
	opts        Options
}

// NewEngine builds a matching engine over the eligible corpus and its
// enrichments.
func NewEngine(corpus []*domain.Job, enrichments map[int64]domain.JobEnrichment,
	cache *masters.Cache, opts Options) *Engine {

	if opts.TopK <= 0 {
		opts.TopK = 200
	}
	if opts.JobWeight == 0 && opts.AffinityWeight == 0 {
		opts.JobWeight, opts.AffinityWeight = 0.55, 0.45
	}
	if opts.RecentPenalty <= 0 {
		opts.RecentPenalty = 0.1
	}
	return &Engine{corpus: corpus, enrichments: enrichments, cache: cache, opts: opts}
}

// Corpus exposes the frozen eligible corpus for widening passes downstream.
func (e *Engine) Corpus() []*domain.Job { return e.corpus }

// TopK scores every eligible job for the user and returns the best K,
// sorted. The recent-employer penalty multiplies the score rather than
// filtering: when nothing else exists a penalized job may still surface.
func (e *Engine) TopK(profile *domain.UserProfile) []Candidate {
	candidates := e.ScoreAll(profile)
	if len(candidates) > e.opts.TopK {
		candidates = candidates[:e.opts.TopK]
	}
	return candidates
}

// ScoreAll scores the whole corpus for the user, sorted best first. The
// section allocator widens into it when a themed section starves.
func (e *Engine) ScoreAll(profile *domain.UserProfile) []Candidate {
	calc := newAffinityCalc(profile, e.cache)

	candidates := make([]Candidate, 0, len(e.corpus))
	for _, j := range e.corpus {
		enr, ok := e.enrichments[j.JobID]
		if !ok {
			continue
		}
		affinity := calc.score(j)
		score := e.opts.JobWeight*enr.CompositeScore + e.opts.AffinityWeight*affinity

		recent := profile.RecentEmployers[j.EndclCd]
		if recent {
			score *= e.opts.RecentPenalty
		}

		candidates = append(candidates, Candidate{
			Job:            j,
			Enrichment:     enr,
			Affinity:       affinity,
			Score:          score,
			RecentEmployer: recent,
		})
	}

	SortCandidates(candidates)
	return candidates
}

// Mappings converts a user's candidate list into persistable rows, rank
// 1-based in score order.
func Mappings(userID int32, candidates []Candidate, batchDate time.Time) []domain.UserJobMapping {
	rows := make([]domain.UserJobMapping, len(candidates))
	for i, c := range candidates {
		rows[i] = domain.UserJobMapping{
			UserID:         userID,
			JobID:          c.Job.JobID,
			BatchDate:      batchDate,
			Score:          c.Score,
			AffinityScore:  c.Affinity,
			Rank:           i + 1,
			RecentEmployer: c.RecentEmployer,
		}
	}
	return rows
}

// SortCandidates orders by score descending with deterministic tiebreaks:
// job composite desc, posting date desc, job ID asc.
func SortCandidates(cs []Candidate) {
	sort.Slice(cs, func(a, b int) bool {
		x, y := cs[a], cs[b]
		if x.Score != y.Score {
			return x.Score > y.Score
		}
		if x.Enrichment.CompositeScore != y.Enrichment.CompositeScore {
			return x.Enrichment.CompositeScore > y.Enrichment.CompositeScore
		}
		if !x.Job.PostingDate.Equal(y.Job.PostingDate) {
			return x.Job.PostingDate.After(y.Job.PostingDate)
		}
		return x.Job.JobID < y.Job.JobID
	})
}

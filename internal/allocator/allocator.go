// Package allocator distributes a user's ranked candidates into the six
// themed mail sections under fixed quotas, with global per-user dedup and a
// widening ladder for starved sections.
package allocator

import (
	"sort"
	"time"

	"github.com/ignite/jobmail/internal/domain"
	"github.com/ignite/jobmail/internal/masters"
	"github.com/ignite/jobmail/internal/matcher"
)

// Quotas are the per-section pick counts, fixed per run.
type Quotas struct {
	Editorial  int
	Top5       int
	Regional   int
	Nearby     int
	HighIncome int
	New        int
}

// Total returns the pick count per user the quotas imply.
func (q Quotas) Total() int {
	return q.Editorial + q.Top5 + q.Regional + q.Nearby + q.HighIncome + q.New
}

func (q Quotas) of(s domain.Section) int {
	switch s {
	case domain.SectionEditorial:
		return q.Editorial
	case domain.SectionTop5:
		return q.Top5
	case domain.SectionRegional:
		return q.Regional
	case domain.SectionNearby:
		return q.Nearby
	case domain.SectionHighIncome:
		return q.HighIncome
	case domain.SectionNew:
		return q.New
	}
	return 0
}

// LocWeights are the geographic proximity multipliers for editorial
// ranking.
type LocWeights struct {
	SameCity float64
	Adjacent float64
	SamePref float64
	Other    float64
}

// Options configure the allocator.
type Options struct {
	Quotas        Quotas
	Loc           LocWeights
	NewWindowDays int // freshness window for the new section, default 7
}

// AreaQuartile resolves the top-quartile salary threshold for a user's
// area; the scorer's area stats implement it.
type AreaQuartile interface {
	TopQuartileSalary(prefCd, cityCd string) float64
}

// Result is the allocation outcome for one user.
type Result struct {
	Picks        []domain.JobPick
	LowInventory bool
	UsedFallback bool
}

// Allocator assigns picks for one batch. Stateless across users; safe for
// concurrent use.
type Allocator struct {
	cache *masters.Cache
	area  AreaQuartile
	opts  Options
}

// New creates an allocator.
func New(cache *masters.Cache, area AreaQuartile, opts Options) *Allocator {
	if opts.NewWindowDays <= 0 {
		opts.NewWindowDays = 7
	}
	if opts.Loc == (LocWeights{}) {
		opts.Loc = LocWeights{SameCity: 1.0, Adjacent: 0.7, SamePref: 0.5, Other: 0.3}
	}
	return &Allocator{cache: cache, area: area, opts: opts}
}

// Allocate fills the sections in priority order from the user's top-K,
// widening per section when the predicate starves it. topK and all must be
// sorted by score descending; all is the full scored corpus for widening.
func (a *Allocator) Allocate(user *domain.User, profile *domain.UserProfile,
	topK, all []matcher.Candidate, now time.Time, pickDate time.Time) Result {

	st := &allocation{
		alloc:    a,
		user:     user,
		profile:  profile,
		topK:     topK,
		all:      all,
		now:      now,
		pickDate: pickDate,
		selected: make(map[int64]bool),
		adjacent: a.cache.Adjacency(user.CityCd),
	}

	var res Result
	for _, section := range domain.SectionOrder {
		picks, fallback := st.fill(section, a.opts.Quotas.of(section))
		res.Picks = append(res.Picks, picks...)
		res.UsedFallback = res.UsedFallback || fallback
	}

	if len(res.Picks) < a.opts.Quotas.Total() {
		res.LowInventory = true
	}
	return res
}

type allocation struct {
	alloc    *Allocator
	user     *domain.User
	profile  *domain.UserProfile
	topK     []matcher.Candidate
	all      []matcher.Candidate
	now      time.Time
	pickDate time.Time
	selected map[int64]bool
	adjacent map[string]bool
}

// fill produces up to quota picks for one section, walking the widening
// ladder: top-K → full corpus → relaxed predicate → borrow by score.
func (st *allocation) fill(section domain.Section, quota int) ([]domain.JobPick, bool) {
	pred := st.predicate(section)

	chosen := st.take(st.topK, pred, section, quota, nil)

	if len(chosen) < quota {
		chosen = st.take(st.all, pred, section, quota, chosen)
	}
	if len(chosen) < quota {
		if relaxed := st.relaxedPredicate(section); relaxed != nil {
			chosen = st.take(st.all, relaxed, section, quota, chosen)
		}
	}
	usedFallback := false
	if len(chosen) < quota {
		before := len(chosen)
		chosen = st.borrow(st.all, quota, chosen)
		usedFallback = len(chosen) > before
	}

	picks := make([]domain.JobPick, len(chosen))
	for i, c := range chosen {
		picks[i] = domain.JobPick{
			UserID:         st.user.UserID,
			JobID:          c.cand.Job.JobID,
			PickDate:       st.pickDate,
			Section:        section,
			SectionRank:    i + 1,
			CompositeScore: c.cand.Score,
			PickReason:     c.reason,
		}
	}
	return picks, usedFallback
}

type chosenCand struct {
	cand   matcher.Candidate
	reason string
}

// take extends chosen up to quota from pool, honoring the predicate, the
// global dedup set and the section's sort key.
func (st *allocation) take(pool []matcher.Candidate, pred func(matcher.Candidate) bool,
	section domain.Section, quota int, chosen []chosenCand) []chosenCand {

	var eligible []matcher.Candidate
	for _, c := range pool {
		if st.selected[c.Job.JobID] || !pred(c) {
			continue
		}
		eligible = append(eligible, c)
	}
	st.sortForSection(eligible, section)

	for _, c := range eligible {
		if len(chosen) >= quota {
			break
		}
		st.selected[c.Job.JobID] = true
		chosen = append(chosen, chosenCand{cand: c})
	}
	return chosen
}

// borrow extends chosen with the highest-scored unselected candidates,
// ignoring the section's predicate and sort key. The pool arrives sorted
// by score descending, so walking it in order is selection by score.
// Borrowed picks carry the fallback reason.
func (st *allocation) borrow(pool []matcher.Candidate, quota int, chosen []chosenCand) []chosenCand {
	for _, c := range pool {
		if len(chosen) >= quota {
			break
		}
		if st.selected[c.Job.JobID] {
			continue
		}
		st.selected[c.Job.JobID] = true
		chosen = append(chosen, chosenCand{cand: c, reason: domain.PickReasonFallback})
	}
	return chosen
}

// predicate returns the section's membership test over the user's context.
func (st *allocation) predicate(section domain.Section) func(matcher.Candidate) bool {
	switch section {
	case domain.SectionEditorial:
		return func(c matcher.Candidate) bool {
			if st.profile.RecentEmployers[c.Job.EndclCd] {
				return false
			}
			return c.Job.Fee*c.Enrichment.Applications30d > 0
		}
	case domain.SectionTop5:
		return func(matcher.Candidate) bool { return true }
	case domain.SectionRegional:
		return func(c matcher.Candidate) bool {
			return st.user.PrefCd != "" && c.Job.PrefCd == st.user.PrefCd
		}
	case domain.SectionNearby:
		return func(c matcher.Candidate) bool {
			if st.user.CityCd == "" {
				return false
			}
			return c.Job.CityCd == st.user.CityCd || st.adjacent[c.Job.CityCd]
		}
	case domain.SectionHighIncome:
		return func(c matcher.Candidate) bool {
			return c.Job.HasHighIncome || c.Job.HasDailyPayment
		}
	case domain.SectionNew:
		cutoff := st.now.AddDate(0, 0, -st.alloc.opts.NewWindowDays)
		return func(c matcher.Candidate) bool {
			return !c.Job.PostingDate.Before(cutoff)
		}
	}
	return func(matcher.Candidate) bool { return false }
}

// relaxedPredicate is the one-step widening of each section's predicate,
// nil when the section has no meaningful relaxation.
func (st *allocation) relaxedPredicate(section domain.Section) func(matcher.Candidate) bool {
	switch section {
	case domain.SectionRegional:
		// Same region instead of same prefecture.
		region := st.alloc.cache.Region(st.user.PrefCd)
		if region == "" {
			return nil
		}
		return func(c matcher.Candidate) bool {
			return st.alloc.cache.Region(c.Job.PrefCd) == region
		}
	case domain.SectionNearby:
		// Same prefecture instead of adjacent city.
		if st.user.PrefCd == "" {
			return nil
		}
		return func(c matcher.Candidate) bool {
			return c.Job.PrefCd == st.user.PrefCd
		}
	case domain.SectionHighIncome:
		// Top-quartile salary for the user's area.
		if st.alloc.area == nil {
			return nil
		}
		threshold := st.alloc.area.TopQuartileSalary(st.user.PrefCd, st.user.CityCd)
		if threshold <= 0 {
			return nil
		}
		return func(c matcher.Candidate) bool {
			mid, ok := c.Job.AvgSalary()
			return ok && mid >= threshold
		}
	case domain.SectionNew:
		// Two weeks instead of one.
		cutoff := st.now.AddDate(0, 0, -2*st.alloc.opts.NewWindowDays)
		return func(c matcher.Candidate) bool {
			return !c.Job.PostingDate.Before(cutoff)
		}
	}
	return nil
}

// sortForSection orders a section's pool by its sort key. Pools arrive
// score-sorted already; only editorial and new re-rank.
func (st *allocation) sortForSection(pool []matcher.Candidate, section domain.Section) {
	switch section {
	case domain.SectionEditorial:
		sort.SliceStable(pool, func(a, b int) bool {
			ka, kb := st.editorialKey(pool[a]), st.editorialKey(pool[b])
			if ka != kb {
				return ka > kb
			}
			return pool[a].Job.JobID < pool[b].Job.JobID
		})
	case domain.SectionNew:
		sort.SliceStable(pool, func(a, b int) bool {
			pa, pb := pool[a].Job.PostingDate, pool[b].Job.PostingDate
			if !pa.Equal(pb) {
				return pa.After(pb)
			}
			if pool[a].Score != pool[b].Score {
				return pool[a].Score > pool[b].Score
			}
			return pool[a].Job.JobID < pool[b].Job.JobID
		})
	}
}

// editorialKey is bid × recent conversion × geographic proximity.
func (st *allocation) editorialKey(c matcher.Candidate) float64 {
	return float64(c.Job.Fee) * float64(c.Enrichment.Applications30d) * st.locWeight(c.Job)
}

func (st *allocation) locWeight(j *domain.Job) float64 {
	loc := st.alloc.opts.Loc
	switch {
	case st.user.CityCd != "" && j.CityCd == st.user.CityCd:
		return loc.SameCity
	case st.adjacent[j.CityCd]:
		return loc.Adjacent
	case st.user.PrefCd != "" && j.PrefCd == st.user.PrefCd:
		return loc.SamePref
	default:
		return loc.Other
	}
}

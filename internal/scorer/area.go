package scorer

import (
	"github.com/ignite/jobmail/internal/domain"
)

// AreaSalary is the salary distribution of one (pref, city) area, with
// rollups per prefecture and nationally for thin areas.
type AreaSalary struct {
	PrefCd string
	CityCd string // empty for the prefecture and national rollups
	Min    float64
	Max    float64
	Sum    float64
	Count  int
}

// Avg returns the mean salary midpoint of the area.
func (a *AreaSalary) Avg() float64 {
	if a.Count == 0 {
		return 0
	}
	return a.Sum / float64(a.Count)
}

// AreaStats resolves the salary context for the wage component: city first,
// falling back to prefecture and then national when an area is too thin to
// trust.
type AreaStats struct {
	byCity   map[string]*AreaSalary // key city_cd
	byPref   map[string]*AreaSalary // key pref_cd
	national *AreaSalary
	minJobs  int
}

// BuildAreaStats folds the salaried jobs of the corpus into per-area
// distributions. minJobs is the trust threshold for the city tier
// (default 20).
func BuildAreaStats(jobs []*domain.Job, minJobs int) *AreaStats {
	if minJobs <= 0 {
		minJobs = 20
	}
	s := &AreaStats{
		byCity:   make(map[string]*AreaSalary),
		byPref:   make(map[string]*AreaSalary),
		national: &AreaSalary{},
		minJobs:  minJobs,
	}
	for _, j := range jobs {
		mid, ok := j.AvgSalary()
		if !ok {
			continue
		}
		fold(s.cityEntry(j.PrefCd, j.CityCd), mid)
		fold(s.prefEntry(j.PrefCd), mid)
		fold(s.national, mid)
	}
	return s
}

func (s *AreaStats) cityEntry(prefCd, cityCd string) *AreaSalary {
	e, ok := s.byCity[cityCd]
	if !ok {
		e = &AreaSalary{PrefCd: prefCd, CityCd: cityCd}
		s.byCity[cityCd] = e
	}
	return e
}

func (s *AreaStats) prefEntry(prefCd string) *AreaSalary {
	e, ok := s.byPref[prefCd]
	if !ok {
		e = &AreaSalary{PrefCd: prefCd}
		s.byPref[prefCd] = e
	}
	return e
}

func fold(e *AreaSalary, mid float64) {
	if e.Count == 0 || mid < e.Min {
		e.Min = mid
	}
	if e.Count == 0 || mid > e.Max {
		e.Max = mid
	}
	e.Sum += mid
	e.Count++
}

// Resolve returns the salary context for a job's area, walking the
// city → prefecture → national fallback chain.
func (s *AreaStats) Resolve(prefCd, cityCd string) *AreaSalary {
	if e, ok := s.byCity[cityCd]; ok && e.Count >= s.minJobs {
		return e
	}
	if e, ok := s.byPref[prefCd]; ok && e.Count >= s.minJobs {
		return e
	}
	return s.national
}

// All returns every tier's rows for persistence: cities, prefectures, and
// the national rollup.
func (s *AreaStats) All() []AreaSalary {
	out := make([]AreaSalary, 0, len(s.byCity)+len(s.byPref)+1)
	for _, e := range s.byCity {
		out = append(out, *e)
	}
	for _, e := range s.byPref {
		out = append(out, *e)
	}
	if s.national.Count > 0 {
		out = append(out, *s.national)
	}
	return out
}

// TopQuartileSalary returns the threshold above which a job's salary
// midpoint counts as top-quartile for its area. With only min/max/avg
// tracked, the midpoint of avg and max approximates the 75th percentile.
func (s *AreaStats) TopQuartileSalary(prefCd, cityCd string) float64 {
	e := s.Resolve(prefCd, cityCd)
	if e.Count == 0 {
		return 0
	}
	return (e.Avg() + e.Max) / 2
}

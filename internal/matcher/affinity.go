package matcher

import (
	"math"
	"strconv"

	"github.com/ignite/jobmail/internal/domain"
	"github.com/ignite/jobmail/internal/masters"
)

// Affinity component weights. They sum to 1; components a job cannot
// express (no salary, no city) are skipped and the rest renormalized.
const (
	affWeightPref       = 0.20
	affWeightCity       = 0.15
	affWeightOccupation = 0.20
	affWeightEmployment = 0.15
	affWeightSalary     = 0.15
	affWeightEmployer   = 0.15
)

// neutralAffinity is the score for users with no history: nothing known,
// nothing penalized.
const neutralAffinity = 50.0

// affinityCalc precomputes the per-user state reused across the whole
// corpus: frequency maxima and the adjacency of the user's applied cities.
type affinityCalc struct {
	profile *domain.UserProfile
	cache   *masters.Cache

	maxPref       int
	maxCity       int
	maxOccupation int
	maxEmployment int
	maxEmployer   int

	// adjacentApplied maps a city code to the applied neighbor with the
	// highest frequency, for the half-credit rule.
	adjacentApplied map[string]int
	sigma           float64
}

func newAffinityCalc(profile *domain.UserProfile, cache *masters.Cache) *affinityCalc {
	c := &affinityCalc{
		profile:         profile,
		cache:           cache,
		maxPref:         profile.PrefFreq.Max(),
		maxCity:         profile.CityFreq.Max(),
		maxOccupation:   profile.OccupationFreq.Max(),
		maxEmployment:   profile.EmploymentFreq.Max(),
		maxEmployer:     profile.EmployerFreq.Max(),
		adjacentApplied: make(map[string]int),
	}
	for applied, freq := range profile.CityFreq {
		for neighbor := range cache.Adjacency(applied) {
			if freq > c.adjacentApplied[neighbor] {
				c.adjacentApplied[neighbor] = freq
			}
		}
	}
	if profile.Salary != nil {
		c.sigma = math.Max(200, profile.Salary.Avg*0.15)
	}
	return c
}

// score returns A(user, job) in [0, 100]. Profile slots with no history
// contribute the neutral 50; job attributes that are absent drop their
// component and the remaining weights renormalize.
func (c *affinityCalc) score(j *domain.Job) float64 {
	if c.profile.IsEmpty() {
		return neutralAffinity
	}

	total, weightSum := 0.0, 0.0
	add := func(w, v float64) {
		total += w * v
		weightSum += w
	}

	add(affWeightPref, c.freqComponent(c.profile.PrefFreq, c.maxPref, j.PrefCd))
	if j.CityCd != "" {
		add(affWeightCity, c.cityComponent(j.CityCd))
	}
	add(affWeightOccupation, c.freqComponent(c.profile.OccupationFreq, c.maxOccupation, j.OccupationCd1))
	add(affWeightEmployment, c.freqComponent(c.profile.EmploymentFreq, c.maxEmployment, strconv.Itoa(j.EmploymentType)))
	if mid, ok := j.AvgSalary(); ok {
		add(affWeightSalary, c.salaryComponent(mid))
	}
	add(affWeightEmployer, c.freqComponent(c.profile.EmployerFreq, c.maxEmployer, j.EndclCd))

	if weightSum == 0 {
		return neutralAffinity
	}
	return total / weightSum
}

func (c *affinityCalc) freqComponent(freq domain.FreqMap, max int, code string) float64 {
	if max == 0 {
		return neutralAffinity
	}
	return 100 * float64(freq[code]) / float64(max)
}

// cityComponent gives full credit for an applied city and half credit for a
// city adjacent to any applied city, scaled by that neighbor's frequency.
func (c *affinityCalc) cityComponent(cityCd string) float64 {
	if c.maxCity == 0 {
		return neutralAffinity
	}
	if f := c.profile.CityFreq[cityCd]; f > 0 {
		return 100 * float64(f) / float64(c.maxCity)
	}
	if f := c.adjacentApplied[cityCd]; f > 0 {
		return 50 * float64(f) / float64(c.maxCity)
	}
	return 0
}

// salaryComponent is a Gaussian around the user's applied-salary average
// with sigma = max(200, 15% of the average).
func (c *affinityCalc) salaryComponent(jobAvg float64) float64 {
	if c.profile.Salary == nil {
		return neutralAffinity
	}
	d := (jobAvg - c.profile.Salary.Avg) / c.sigma
	return 100 * math.Exp(-d*d)
}
